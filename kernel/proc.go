package kernel

import (
	"fmt"

	"golang.org/x/exp/slices"

	db "github.com/npapoutsakis/tinyos3/debug"
	"github.com/npapoutsakis/tinyos3/fcb"
	"github.com/npapoutsakis/tinyos3/sched"
	"github.com/npapoutsakis/tinyos3/serr"
)

type Tpstate int

const (
	FREE Tpstate = iota
	ALIVE
	ZOMBIE
)

func (st Tpstate) String() string {
	switch st {
	case FREE:
		return "FREE"
	case ALIVE:
		return "ALIVE"
	case ZOMBIE:
		return "ZOMBIE"
	default:
		return fmt.Sprintf("Tpstate(%d)", int(st))
	}
}

// Process control block. Parent, children, and zombies are pids, not
// pointers; all fields are under the kernel lock.
type pcb struct {
	pid       Tpid
	state     Tpstate
	parent    Tpid
	children  []Tpid // includes zombies
	exited    []Tpid // zombies not yet reaped, oldest first
	fidt      *fcb.Table
	nthread   int
	threads   []*ptcb
	main      *ptcb
	task      Task
	args      []byte
	exitval   int
	childExit *sched.Cond
}

func newPCB(k *Kernel, pid Tpid) *pcb {
	return &pcb{
		pid:       pid,
		state:     FREE,
		parent:    NOPROC,
		childExit: k.lock.NewCond(),
	}
}

func (p *pcb) String() string {
	return fmt.Sprintf("{pid %d %v ppid %d nthread %d children %v exited %v}",
		p.pid, p.state, p.parent, p.nthread, p.children, p.exited)
}

func (p *pcb) reset() {
	p.state = FREE
	p.parent = NOPROC
	p.children = nil
	p.exited = nil
	p.fidt = nil
	p.nthread = 0
	p.threads = nil
	p.main = nil
	p.task = nil
	p.args = nil
	p.exitval = 0
}

func remove(pids []Tpid, pid Tpid) []Tpid {
	if i := slices.Index(pids, pid); i >= 0 {
		return slices.Delete(pids, i, i+1)
	}
	return pids
}

// getPCB returns the live or zombie process pid, or nil.
func (k *Kernel) getPCB(pid Tpid) *pcb {
	if pid < 0 || int(pid) >= len(k.pt) || k.pt[pid].state == FREE {
		return nil
	}
	return k.pt[pid]
}

func (k *Kernel) acquirePCBL() *pcb {
	pid, ok := k.free.Alloc()
	if !ok {
		return nil
	}
	p := k.pt[pid]
	p.state = ALIVE
	p.fidt = k.files.NewTable(k.cfg.MaxFileID)
	k.nproc += 1
	k.mets.live.Set(float64(k.nproc))
	return p
}

func (k *Kernel) releasePCBL(p *pcb) {
	db.DPrintf(db.PROC, "release %v", p)
	p.reset()
	if !k.free.Free(p.pid) {
		db.DFatalf("release of free pcb %d", p.pid)
	}
	k.nproc -= 1
	k.mets.live.Set(float64(k.nproc))
}

// execL creates a process running task as the child of cur. Slots 0
// and 1 are the parentless idle and init processes. Caller holds the
// kernel lock.
func (k *Kernel) execL(cur *pcb, task Task, args []byte) (Tpid, error) {
	p := k.acquirePCBL()
	if p == nil {
		db.DPrintf(db.PROC_ERR, "Exec: process table full (%d)", k.nproc)
		return NOPROC, serr.NewErr(serr.TErrNoProc, "process table")
	}
	if p.pid <= INIT_PID || cur == nil {
		p.parent = NOPROC
	} else {
		p.parent = cur.pid
		cur.children = append(cur.children, p.pid)
		p.fidt.Inherit(cur.fidt)
	}
	p.task = task
	if args != nil {
		p.args = append([]byte(nil), args...)
	}
	k.mets.procs.Inc()
	db.DPrintf(db.PROC, "Exec %v", p)

	// Start the main thread last; it may run as soon as it is spawned.
	if task != nil {
		t := k.newThreadL(p, task, p.args)
		p.main = t
		k.lock.Spawn(func() { k.startMainThread(t) })
	}
	return p.pid, nil
}

func (k *Kernel) startMainThread(t *ptcb) {
	exitval := t.task(t.sys, t.args)
	t.sys.Exit(exitval)
}

// cleanupZombieL reaps zombie child c and returns its exit status.
func (k *Kernel) cleanupZombieL(parent, c *pcb) int {
	status := c.exitval
	parent.children = remove(parent.children, c.pid)
	parent.exited = remove(parent.exited, c.pid)
	k.releasePCBL(c)
	k.mets.reaped.Inc()
	return status
}

func (k *Kernel) waitSpecificChildL(parent *pcb, cpid Tpid) (Tpid, int, error) {
	if cpid < 0 || int(cpid) >= len(k.pt) {
		return NOPROC, 0, serr.NewErr(serr.TErrInvalid, fmt.Sprintf("pid %d", cpid))
	}
	for {
		// The slot may have been reaped by a sibling thread, or
		// reused, while we slept.
		c := k.getPCB(cpid)
		if c == nil || c.parent != parent.pid {
			return NOPROC, 0, serr.NewErr(serr.TErrNotChild, fmt.Sprintf("pid %d", cpid))
		}
		if c.state == ZOMBIE {
			return cpid, k.cleanupZombieL(parent, c), nil
		}
		parent.childExit.Wait(sched.SCHED_USER)
	}
}

func (k *Kernel) waitAnyChildL(parent *pcb) (Tpid, int, error) {
	for {
		if len(parent.children) == 0 {
			return NOPROC, 0, serr.NewErr(serr.TErrNotChild, "no children")
		}
		if len(parent.exited) > 0 {
			c := k.pt[parent.exited[0]]
			if c.state != ZOMBIE {
				db.DFatalf("exited child %v not a zombie", c)
			}
			return c.pid, k.cleanupZombieL(parent, c), nil
		}
		parent.childExit.Wait(sched.SCHED_USER)
	}
}

// drainChildrenL reaps every child of p, waiting for the live ones.
func (k *Kernel) drainChildrenL(p *pcb) {
	for {
		cpid, _, err := k.waitAnyChildL(p)
		if err != nil {
			return
		}
		db.DPrintf(db.PROC, "%d reaped %d", p.pid, cpid)
	}
}

// exitProcessL tears down p once its last thread has exited: orphans
// and zombies move to init, p becomes a zombie of its parent, and its
// descriptors are released.
func (k *Kernel) exitProcessL(p *pcb) {
	initp := k.pt[INIT_PID]
	adopt := p.pid != INIT_PID && initp.state == ALIVE
	for _, cpid := range p.children {
		c := k.pt[cpid]
		if adopt {
			c.parent = INIT_PID
			initp.children = append(initp.children, cpid)
		} else {
			c.parent = NOPROC
			if c.state == ZOMBIE {
				k.releasePCBL(c)
			}
		}
	}
	if adopt && len(p.exited) > 0 {
		initp.exited = append(initp.exited, p.exited...)
		initp.childExit.Broadcast()
	}
	p.children = nil
	p.exited = nil

	if p.parent != NOPROC {
		pp := k.pt[p.parent]
		pp.exited = append(pp.exited, p.pid)
		pp.childExit.Broadcast()
	}

	p.args = nil
	p.fidt.ReleaseAll()
	p.main = nil
	p.threads = nil
	p.state = ZOMBIE
	db.DPrintf(db.PROC, "exit %v status %d", p, p.exitval)

	if p.parent == NOPROC {
		if p.pid == INIT_PID {
			select {
			case k.halt <- p.exitval:
			default:
			}
		}
		k.releasePCBL(p)
	}
}
