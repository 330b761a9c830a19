// Package sched provides the scheduling primitives the kernel core is
// built on: one global kernel lock that serializes kernel entry,
// condition variables that release it while a unit sleeps, and unit
// spawn. Schedulable units are goroutines.
package sched

import (
	"fmt"
	"sync"
	"time"

	"github.com/sasha-s/go-deadlock"

	db "github.com/npapoutsakis/tinyos3/debug"
)

// Scheduling class a unit blocks under.
type Tsched int

const (
	SCHED_QUANTUM Tsched = iota
	SCHED_IO
	SCHED_MUTEX
	SCHED_PIPE
	SCHED_POLL
	SCHED_IDLE
	SCHED_USER
	NSCHED
)

func (cls Tsched) String() string {
	switch cls {
	case SCHED_QUANTUM:
		return "quantum"
	case SCHED_IO:
		return "io"
	case SCHED_MUTEX:
		return "mutex"
	case SCHED_PIPE:
		return "pipe"
	case SCHED_POLL:
		return "poll"
	case SCHED_IDLE:
		return "idle"
	case SCHED_USER:
		return "user"
	default:
		return fmt.Sprintf("sched(%d)", int(cls))
	}
}

// Configure sets up lock-order and hold-time checking for all kernel
// locks.
func Configure(detect bool, timeout time.Duration) {
	deadlock.Opts.Disable = !detect
	if timeout > 0 {
		deadlock.Opts.DeadlockTimeout = timeout
	}
}

// Lock is the kernel lock. Kernel state is only read or mutated with
// it held.
type Lock struct {
	deadlock.Mutex
	nunit  int           // live units, under Lock
	nblock [NSCHED]int   // blocked units per class, under Lock
	done   chan struct{} // closed when nunit drops to 0
}

func NewLock() *Lock {
	return &Lock{done: make(chan struct{})}
}

// Spawn starts a new unit running fn. Caller holds the lock; fn runs
// without it.
func (l *Lock) Spawn(fn func()) {
	l.nunit += 1
	db.DPrintf(db.SCHED, "spawn unit nunit %d", l.nunit)
	go func() {
		defer l.exit()
		fn()
	}()
}

// fn may end with runtime.Goexit, so exit runs deferred.
func (l *Lock) exit() {
	l.Lock()
	defer l.Unlock()

	l.nunit -= 1
	db.DPrintf(db.SCHED, "unit exit nunit %d", l.nunit)
	if l.nunit == 0 {
		select {
		case <-l.done:
		default:
			close(l.done)
		}
	}
}

// Blocked returns the number of units sleeping in class cls. Caller
// holds the lock.
func (l *Lock) Blocked(cls Tsched) int {
	return l.nblock[cls]
}

// Idle returns a channel that is closed once every spawned unit has
// exited.
func (l *Lock) Idle() <-chan struct{} {
	return l.done
}

// Cond is a condition variable protected by the kernel lock. All
// wakeups are broadcasts; sleepers must recheck their predicate.
type Cond struct {
	l *Lock
	c *sync.Cond
}

func (l *Lock) NewCond() *Cond {
	return &Cond{l: l, c: sync.NewCond(&l.Mutex)}
}

// Wait releases the kernel lock, sleeps until the next Broadcast, and
// reacquires the lock. Caller holds the lock.
func (c *Cond) Wait(cls Tsched) {
	c.l.nblock[cls] += 1
	c.c.Wait()
	c.l.nblock[cls] -= 1
}

// TimedWait is Wait bounded by timeout. It returns false if the
// timeout fired before a Broadcast woke the caller.
func (c *Cond) TimedWait(cls Tsched, timeout time.Duration) bool {
	if timeout <= 0 {
		return false
	}
	expired := false
	t := time.AfterFunc(timeout, func() {
		c.l.Lock()
		defer c.l.Unlock()
		expired = true
		c.c.Broadcast()
	})
	c.Wait(cls)
	t.Stop()
	return !expired
}

// Broadcast wakes all sleepers. Caller holds the lock.
func (c *Cond) Broadcast() {
	c.c.Broadcast()
}
