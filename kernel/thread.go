package kernel

import (
	"fmt"
	"runtime"

	"golang.org/x/exp/slices"

	db "github.com/npapoutsakis/tinyos3/debug"
	"github.com/npapoutsakis/tinyos3/sched"
	"github.com/npapoutsakis/tinyos3/serr"
)

type Ttid uint64

const NOTHREAD Ttid = 0

// Process thread control block. A ptcb stays linked into its process
// until it has exited and no joiner still holds it, or it was detached.
type ptcb struct {
	tid      Ttid
	proc     *pcb
	task     Task
	args     []byte
	exitval  int
	exited   bool
	detached bool
	refcount int // joiners waiting on exitCv
	exitCv   *sched.Cond
	sys      *Sys
}

func (t *ptcb) String() string {
	return fmt.Sprintf("{tid %d pid %d exited %v detached %v ref %d}",
		t.tid, t.proc.pid, t.exited, t.detached, t.refcount)
}

// newThreadL links a fresh thread into p. args must already be owned
// by the kernel.
func (k *Kernel) newThreadL(p *pcb, task Task, args []byte) *ptcb {
	k.lasttid += 1
	t := &ptcb{
		tid:    k.lasttid,
		proc:   p,
		task:   task,
		args:   args,
		exitCv: k.lock.NewCond(),
	}
	t.sys = &Sys{k: k, t: t}
	p.threads = append(p.threads, t)
	p.nthread += 1
	k.mets.threads.Inc()
	db.DPrintf(db.THREAD, "new thread %v", t)
	return t
}

func (k *Kernel) startThread(t *ptcb) {
	exitval := t.task(t.sys, t.args)
	t.sys.ThreadExit(exitval)
}

func (p *pcb) findThread(tid Ttid) *ptcb {
	i := slices.IndexFunc(p.threads, func(t *ptcb) bool { return t.tid == tid })
	if i < 0 {
		return nil
	}
	return p.threads[i]
}

func (p *pcb) unlinkThread(t *ptcb) {
	if i := slices.Index(p.threads, t); i >= 0 {
		p.threads = slices.Delete(p.threads, i, i+1)
	}
}

func (k *Kernel) createThreadL(p *pcb, task Task, args []byte) (Ttid, error) {
	if task == nil {
		return NOTHREAD, serr.NewErr(serr.TErrInvalid, "nil task")
	}
	if args != nil {
		args = append([]byte(nil), args...)
	}
	t := k.newThreadL(p, task, args)
	k.lock.Spawn(func() { k.startThread(t) })
	return t.tid, nil
}

func (k *Kernel) threadJoinL(cur *ptcb, tid Ttid) (int, error) {
	p := cur.proc
	t := p.findThread(tid)
	if t == nil {
		db.DPrintf(db.THREAD_ERR, "Join %d: no such thread in %d", tid, p.pid)
		return 0, serr.NewErr(serr.TErrNoThread, fmt.Sprintf("tid %d", tid))
	}
	if t == cur {
		return 0, serr.NewErr(serr.TErrIllegalState, "join self")
	}
	if t.detached {
		return 0, serr.NewErr(serr.TErrIllegalState, fmt.Sprintf("tid %d detached", tid))
	}
	t.refcount += 1
	for !t.exited && !t.detached {
		t.exitCv.Wait(sched.SCHED_USER)
	}
	t.refcount -= 1
	if t.detached {
		db.DPrintf(db.THREAD_ERR, "Join %d: detached while waiting", tid)
		return 0, serr.NewErr(serr.TErrIllegalState, fmt.Sprintf("tid %d detached", tid))
	}
	exitval := t.exitval
	if t.refcount == 0 {
		p.unlinkThread(t)
	}
	return exitval, nil
}

func (k *Kernel) threadDetachL(cur *ptcb, tid Ttid) error {
	t := cur.proc.findThread(tid)
	if t == nil {
		return serr.NewErr(serr.TErrNoThread, fmt.Sprintf("tid %d", tid))
	}
	if t.exited {
		return serr.NewErr(serr.TErrIllegalState, fmt.Sprintf("tid %d exited", tid))
	}
	t.detached = true
	t.exitCv.Broadcast()
	return nil
}

// threadExitL ends the calling thread; the last thread out ends the
// process. It releases the kernel lock and does not return.
func (k *Kernel) threadExitL(t *ptcb, exitval int) {
	p := t.proc
	t.exitval = exitval
	t.exited = true
	t.exitCv.Broadcast()
	p.nthread -= 1
	db.DPrintf(db.THREAD, "exit %v status %d nthread %d", t, exitval, p.nthread)
	if t.detached {
		p.unlinkThread(t)
	}
	if p.nthread == 0 {
		// Init never leaves children behind, however its last
		// thread ends.
		if p.pid == INIT_PID {
			k.drainChildrenL(p)
		}
		k.exitProcessL(p)
	}
	k.lock.Unlock()
	runtime.Goexit()
}
