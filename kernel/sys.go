package kernel

import (
	"fmt"
	"time"

	db "github.com/npapoutsakis/tinyos3/debug"
	"github.com/npapoutsakis/tinyos3/fcb"
	"github.com/npapoutsakis/tinyos3/pipe"
	"github.com/npapoutsakis/tinyos3/serr"
	"github.com/npapoutsakis/tinyos3/socket"
)

// Sys is the syscall surface of one thread. Each call enters the
// kernel by taking the kernel lock.
type Sys struct {
	k *Kernel
	t *ptcb
}

// Pipe_t holds the two descriptors of a new pipe.
type Pipe_t struct {
	Read  fcb.Tfid
	Write fcb.Tfid
}

func (sys *Sys) String() string {
	return fmt.Sprintf("{sys tid %d pid %d}", sys.t.tid, sys.t.proc.pid)
}

func (sys *Sys) cur() *pcb {
	return sys.t.proc
}

// Exec starts a child process running task with a private copy of
// args. The child inherits the caller's descriptors.
func (sys *Sys) Exec(task Task, args []byte) (Tpid, error) {
	sys.k.lock.Lock()
	defer sys.k.lock.Unlock()
	return sys.k.execL(sys.cur(), task, args)
}

func (sys *Sys) GetPid() Tpid {
	sys.k.lock.Lock()
	defer sys.k.lock.Unlock()
	return sys.cur().pid
}

func (sys *Sys) GetPPid() Tpid {
	sys.k.lock.Lock()
	defer sys.k.lock.Unlock()
	return sys.cur().parent
}

// WaitChild reaps child cpid, or any child if cpid is NOPROC, blocking
// until it has exited. It returns the reaped pid and its exit status.
func (sys *Sys) WaitChild(cpid Tpid) (Tpid, int, error) {
	sys.k.lock.Lock()
	defer sys.k.lock.Unlock()
	if cpid == NOPROC {
		return sys.k.waitAnyChildL(sys.cur())
	}
	return sys.k.waitSpecificChildL(sys.cur(), cpid)
}

// Exit sets the process exit status and ends the calling thread. Init
// first reaps all of its children. Exit does not return.
func (sys *Sys) Exit(status int) {
	sys.k.lock.Lock()
	p := sys.cur()
	p.exitval = status
	if p.pid == INIT_PID {
		sys.k.drainChildrenL(p)
	}
	sys.k.threadExitL(sys.t, status)
}

func (sys *Sys) CreateThread(task Task, args []byte) (Ttid, error) {
	sys.k.lock.Lock()
	defer sys.k.lock.Unlock()
	return sys.k.createThreadL(sys.cur(), task, args)
}

func (sys *Sys) ThreadSelf() Ttid {
	return sys.t.tid
}

// ThreadJoin waits for thread tid of the caller's process to exit and
// returns its status.
func (sys *Sys) ThreadJoin(tid Ttid) (int, error) {
	sys.k.lock.Lock()
	defer sys.k.lock.Unlock()
	return sys.k.threadJoinL(sys.t, tid)
}

func (sys *Sys) ThreadDetach(tid Ttid) error {
	sys.k.lock.Lock()
	defer sys.k.lock.Unlock()
	return sys.k.threadDetachL(sys.t, tid)
}

// ThreadExit ends the calling thread. It does not return.
func (sys *Sys) ThreadExit(status int) {
	sys.k.lock.Lock()
	sys.k.threadExitL(sys.t, status)
}

// Pipe makes a pipe and returns its read and write descriptors.
func (sys *Sys) Pipe() (Pipe_t, error) {
	sys.k.lock.Lock()
	defer sys.k.lock.Unlock()
	fids, fcbs, err := sys.cur().fidt.Reserve(2)
	if err != nil {
		db.DPrintf(db.PIPE_ERR, "Pipe: %v", err)
		return Pipe_t{fcb.NOFILE, fcb.NOFILE}, err
	}
	p := pipe.New(sys.k.lock, sys.k.cfg.PipeBufferSize)
	fcbs[0].SetStream(p.ReadEnd())
	fcbs[1].SetStream(p.WriteEnd())
	sys.k.mets.pipes.Inc()
	db.DPrintf(db.PIPE, "Pipe %v: r %d w %d", p, fids[0], fids[1])
	return Pipe_t{Read: fids[0], Write: fids[1]}, nil
}

func (sys *Sys) Socket(port socket.Tport) (fcb.Tfid, error) {
	sys.k.lock.Lock()
	defer sys.k.lock.Unlock()
	return sys.k.broker.Socket(sys.cur().fidt, port)
}

func (sys *Sys) Listen(fid fcb.Tfid) error {
	sys.k.lock.Lock()
	defer sys.k.lock.Unlock()
	return sys.k.broker.Listen(sys.cur().fidt, fid)
}

func (sys *Sys) Accept(lfid fcb.Tfid) (fcb.Tfid, error) {
	sys.k.lock.Lock()
	defer sys.k.lock.Unlock()
	fid, err := sys.k.broker.Accept(sys.cur().fidt, lfid)
	if err == nil {
		sys.k.mets.conns.Inc()
	}
	return fid, err
}

// Connect connects socket fid to the listener on port. A timeout of
// socket.NO_TIMEOUT waits until the request is accepted or dropped.
func (sys *Sys) Connect(fid fcb.Tfid, port socket.Tport, timeout time.Duration) error {
	sys.k.lock.Lock()
	defer sys.k.lock.Unlock()
	err := sys.k.broker.Connect(sys.cur().fidt, fid, port, timeout)
	if serr.IsErrCode(err, serr.TErrTimeout) {
		sys.k.mets.timeouts.Inc()
	}
	return err
}

func (sys *Sys) ShutDown(fid fcb.Tfid, how socket.Tshutdown) error {
	sys.k.lock.Lock()
	defer sys.k.lock.Unlock()
	return sys.k.broker.ShutDown(sys.cur().fidt, fid, how)
}

// Read reads from descriptor fid into buf. It returns the byte count,
// 0 at end of stream, or -1.
func (sys *Sys) Read(fid fcb.Tfid, buf []byte) int {
	sys.k.lock.Lock()
	defer sys.k.lock.Unlock()
	f := sys.cur().fidt.Get(fid)
	if f == nil || f.Stream() == nil {
		db.DPrintf(db.FCB_ERR, "Read: bad fid %d", fid)
		return -1
	}
	// Hold the FCB open across a blocking read.
	f.Incref()
	defer f.Decref()
	return f.Stream().Read(buf)
}

// Write writes buf to descriptor fid and returns the byte count or -1.
func (sys *Sys) Write(fid fcb.Tfid, buf []byte) int {
	sys.k.lock.Lock()
	defer sys.k.lock.Unlock()
	f := sys.cur().fidt.Get(fid)
	if f == nil || f.Stream() == nil {
		db.DPrintf(db.FCB_ERR, "Write: bad fid %d", fid)
		return -1
	}
	f.Incref()
	defer f.Decref()
	return f.Stream().Write(buf)
}

func (sys *Sys) Close(fid fcb.Tfid) error {
	sys.k.lock.Lock()
	defer sys.k.lock.Unlock()
	return sys.cur().fidt.Release(fid)
}

// OpenInfo opens a read-only stream listing the process table.
func (sys *Sys) OpenInfo() (fcb.Tfid, error) {
	sys.k.lock.Lock()
	defer sys.k.lock.Unlock()
	fids, fcbs, err := sys.cur().fidt.Reserve(1)
	if err != nil {
		return fcb.NOFILE, err
	}
	fcbs[0].SetStream(newProcInfo(sys.k))
	return fids[0], nil
}
