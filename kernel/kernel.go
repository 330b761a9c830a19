// Package kernel is the process and thread core: the process table,
// parent/child bookkeeping, thread handles with join/detach, and the
// syscall surface user tasks call through Sys.
package kernel

import (
	"fmt"

	"github.com/npapoutsakis/tinyos3/config"
	db "github.com/npapoutsakis/tinyos3/debug"
	"github.com/npapoutsakis/tinyos3/fcb"
	"github.com/npapoutsakis/tinyos3/sched"
	"github.com/npapoutsakis/tinyos3/serr"
	"github.com/npapoutsakis/tinyos3/socket"
	"github.com/npapoutsakis/tinyos3/util/freelist"
)

type Tpid int

const (
	NOPROC   Tpid = -1
	IDLE_PID Tpid = 0
	INIT_PID Tpid = 1
)

// Task is the body of a process's main thread or of a thread. Its
// return value is the exit status.
type Task func(sys *Sys, args []byte) int

type Kernel struct {
	cfg     *config.Config
	lock    *sched.Lock
	pt      []*pcb
	free    *freelist.FreeList[Tpid]
	nproc   int
	files   *fcb.Pool
	broker  *socket.Broker
	lasttid Ttid
	mets    *Metrics
	booted  bool
	halt    chan int
}

func NewKernel(cfg *config.Config) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db.SetLabels(cfg.Debug)
	sched.Configure(cfg.DeadlockDetect, cfg.DeadlockTimeout)

	k := &Kernel{
		cfg:   cfg,
		lock:  sched.NewLock(),
		pt:    make([]*pcb, cfg.MaxProc),
		free:  freelist.NewFreeList[Tpid](cfg.MaxProc),
		files: fcb.NewPool(cfg.MaxFiles),
		mets:  NewMetrics("tinyos"),
		halt:  make(chan int, 1),
	}
	for i := range k.pt {
		k.pt[i] = newPCB(k, Tpid(i))
	}
	k.broker = socket.NewBroker(k.lock, cfg.MaxPort, cfg.PipeBufferSize)
	db.DPrintf(db.KERNEL, "NewKernel %v", cfg)
	return k, nil
}

func (k *Kernel) Config() *config.Config {
	return k.cfg
}

func (k *Kernel) Metrics() *Metrics {
	return k.mets
}

// Boot creates the idle process in slot 0 and the init process in
// slot 1 running task, and blocks until init exits. It returns init's
// exit status.
func (k *Kernel) Boot(task Task, args []byte) (int, error) {
	if task == nil {
		return 0, serr.NewErr(serr.TErrInvalid, "nil init task")
	}
	k.lock.Lock()
	if k.booted {
		k.lock.Unlock()
		return 0, serr.NewErr(serr.TErrIllegalState, "already booted")
	}
	k.booted = true
	if pid, _ := k.execL(nil, nil, nil); pid != IDLE_PID {
		db.DFatalf("The scheduler process does not have pid==0 (%v)", pid)
	}
	if pid, err := k.execL(nil, task, args); pid != INIT_PID {
		k.lock.Unlock()
		return 0, fmt.Errorf("init process pid %v: %w", pid, err)
	}
	db.DPrintf(db.BOOT, "Boot: init running")
	k.lock.Unlock()

	status := <-k.halt
	db.DPrintf(db.BOOT, "Boot: init exited %d", status)
	return status, nil
}

// Idle returns a channel that is closed once every thread has exited.
func (k *Kernel) Idle() <-chan struct{} {
	return k.lock.Idle()
}

// ProcessCount returns the number of non-free process slots.
func (k *Kernel) ProcessCount() int {
	k.lock.Lock()
	defer k.lock.Unlock()
	return k.nproc
}

// OpenFiles returns the number of open files system-wide.
func (k *Kernel) OpenFiles() int {
	k.lock.Lock()
	defer k.lock.Unlock()
	return k.files.Len()
}
