package kernel

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/npapoutsakis/tinyos3/config"
	db "github.com/npapoutsakis/tinyos3/debug"
	"github.com/npapoutsakis/tinyos3/fcb"
	"github.com/npapoutsakis/tinyos3/sched"
	"github.com/npapoutsakis/tinyos3/serr"
)

const (
	WAIT = 5 * time.Second
	TICK = time.Millisecond
)

type Tstate struct {
	t *testing.T
	k *Kernel
}

func newTstate(t *testing.T, mods ...func(*config.Config)) *Tstate {
	cfg := config.Default()
	for _, m := range mods {
		m(cfg)
	}
	k, err := NewKernel(cfg)
	assert.Nil(t, err, "NewKernel %v", err)
	return &Tstate{t: t, k: k}
}

func (ts *Tstate) boot(task Task) int {
	status, err := ts.k.Boot(task, nil)
	assert.Nil(ts.t, err, "Boot %v", err)
	return status
}

func (ts *Tstate) state(pid Tpid) Tpstate {
	ts.k.lock.Lock()
	defer ts.k.lock.Unlock()
	return ts.k.pt[pid].state
}

func (ts *Tstate) nthread(pid Tpid) int {
	ts.k.lock.Lock()
	defer ts.k.lock.Unlock()
	return ts.k.pt[pid].nthread
}

func (ts *Tstate) blocked(cls sched.Tsched) int {
	ts.k.lock.Lock()
	defer ts.k.lock.Unlock()
	return ts.k.lock.Blocked(cls)
}

// threadExited reports whether thread tid of pid has exited; linked is
// false once its handle has been unlinked.
func (ts *Tstate) threadExited(pid Tpid, tid Ttid) (exited bool, linked bool) {
	ts.k.lock.Lock()
	defer ts.k.lock.Unlock()
	t := ts.k.pt[pid].findThread(tid)
	if t == nil {
		return false, false
	}
	return t.exited, true
}

func (ts *Tstate) waitZombie(pid Tpid) {
	assert.Eventually(ts.t, func() bool { return ts.state(pid) == ZOMBIE }, WAIT, TICK)
}

func (ts *Tstate) waitBlocked(cls sched.Tsched, n int) {
	assert.Eventually(ts.t, func() bool { return ts.blocked(cls) >= n }, WAIT, TICK)
}

// gate returns a task that blocks until one byte arrives on fid and
// then returns status.
func gate(fid fcb.Tfid, status int) Task {
	return func(sys *Sys, args []byte) int {
		b := make([]byte, 1)
		sys.Read(fid, b)
		return status
	}
}

func TestBoot(t *testing.T) {
	ts := newTstate(t)
	status := ts.boot(func(sys *Sys, args []byte) int {
		assert.Equal(t, INIT_PID, sys.GetPid())
		assert.Equal(t, NOPROC, sys.GetPPid())
		return 42
	})
	assert.Equal(t, 42, status)
	assert.Equal(t, 1, ts.k.ProcessCount(), "only idle remains")
	assert.Equal(t, FREE, ts.state(INIT_PID))
	assert.Equal(t, ALIVE, ts.state(IDLE_PID))

	_, err := ts.k.Boot(func(sys *Sys, args []byte) int { return 0 }, nil)
	assert.True(t, serr.IsErrCode(err, serr.TErrIllegalState))
	<-ts.k.Idle()
}

func TestBootNilTask(t *testing.T) {
	ts := newTstate(t)
	_, err := ts.k.Boot(nil, nil)
	assert.True(t, serr.IsErrCode(err, serr.TErrInvalid))
}

func TestBadConfig(t *testing.T) {
	cfg := config.Default()
	cfg.MaxProc = 1
	_, err := NewKernel(cfg)
	assert.True(t, serr.IsErrCode(err, serr.TErrBadConfig))
}

func TestWaitNoChildren(t *testing.T) {
	ts := newTstate(t)
	ts.boot(func(sys *Sys, args []byte) int {
		start := time.Now()
		pid, _, err := sys.WaitChild(NOPROC)
		assert.Equal(t, NOPROC, pid)
		assert.True(t, serr.IsErrCode(err, serr.TErrNotChild), "err %v", err)
		assert.Less(t, time.Since(start), time.Second)
		return 0
	})
}

func TestWaitSpecific(t *testing.T) {
	ts := newTstate(t)
	ts.boot(func(sys *Sys, args []byte) int {
		cpid, err := sys.Exec(func(sys *Sys, args []byte) int {
			assert.Equal(t, INIT_PID, sys.GetPPid())
			return 7
		}, nil)
		assert.Nil(t, err)
		pid, status, err := sys.WaitChild(cpid)
		assert.Nil(t, err)
		assert.Equal(t, cpid, pid)
		assert.Equal(t, 7, status)

		_, _, err = sys.WaitChild(cpid)
		assert.True(t, serr.IsErrCode(err, serr.TErrNotChild), "err %v", err)
		return 0
	})
}

func TestWaitNotChild(t *testing.T) {
	ts := newTstate(t)
	ts.boot(func(sys *Sys, args []byte) int {
		_, _, err := sys.WaitChild(IDLE_PID)
		assert.True(t, serr.IsErrCode(err, serr.TErrNotChild), "err %v", err)
		_, _, err = sys.WaitChild(INIT_PID)
		assert.True(t, serr.IsErrCode(err, serr.TErrNotChild), "err %v", err)
		_, _, err = sys.WaitChild(Tpid(ts.k.cfg.MaxProc))
		assert.True(t, serr.IsErrCode(err, serr.TErrInvalid), "err %v", err)
		_, _, err = sys.WaitChild(-5)
		assert.True(t, serr.IsErrCode(err, serr.TErrInvalid), "err %v", err)
		return 0
	})
}

func TestExecArgsCopied(t *testing.T) {
	ts := newTstate(t)
	ts.boot(func(sys *Sys, args []byte) int {
		p, err := sys.Pipe()
		assert.Nil(t, err)
		buf := []byte("abc")
		cpid, err := sys.Exec(func(sys *Sys, args []byte) int {
			b := make([]byte, 1)
			sys.Read(p.Read, b)
			if string(args) != "abc" {
				return 1
			}
			return 0
		}, buf)
		assert.Nil(t, err)
		buf[0] = 'X'
		assert.Equal(t, 1, sys.Write(p.Write, []byte("g")))
		_, status, err := sys.WaitChild(cpid)
		assert.Nil(t, err)
		assert.Equal(t, 0, status)
		return 0
	})
}

func TestProcessTableFull(t *testing.T) {
	ts := newTstate(t, func(cfg *config.Config) { cfg.MaxProc = 3 })
	ts.boot(func(sys *Sys, args []byte) int {
		p, err := sys.Pipe()
		assert.Nil(t, err)
		cpid, err := sys.Exec(gate(p.Read, 0), nil)
		assert.Nil(t, err)
		assert.Equal(t, Tpid(2), cpid)

		pid, err := sys.Exec(gate(p.Read, 0), nil)
		assert.Equal(t, NOPROC, pid)
		assert.True(t, serr.IsErrCode(err, serr.TErrNoProc), "err %v", err)

		sys.Write(p.Write, []byte("g"))
		_, _, err = sys.WaitChild(cpid)
		assert.Nil(t, err)

		// The reaped slot is reusable.
		cpid, err = sys.Exec(func(sys *Sys, args []byte) int { return 0 }, nil)
		assert.Nil(t, err)
		assert.Equal(t, Tpid(2), cpid)
		return 0
	})
}

func TestInheritDescriptors(t *testing.T) {
	ts := newTstate(t)
	ts.boot(func(sys *Sys, args []byte) int {
		p, err := sys.Pipe()
		assert.Nil(t, err)
		cpid, err := sys.Exec(func(sys *Sys, args []byte) int {
			return sys.Write(p.Write, []byte("hi"))
		}, nil)
		assert.Nil(t, err)
		assert.Nil(t, sys.Close(p.Write))

		// EOF arrives once the child's exit releases its copy of the
		// write end.
		b := make([]byte, 10)
		assert.Equal(t, 2, sys.Read(p.Read, b))
		assert.Equal(t, "hi", string(b[:2]))
		assert.Equal(t, 0, sys.Read(p.Read, b))

		_, status, err := sys.WaitChild(cpid)
		assert.Nil(t, err)
		assert.Equal(t, 2, status)
		return 0
	})
	assert.Equal(t, 0, ts.k.OpenFiles())
}

func TestZombieFIFO(t *testing.T) {
	ts := newTstate(t)
	ts.boot(func(sys *Sys, args []byte) int {
		var pids [3]Tpid
		var gates [3]fcb.Tfid
		for i := range pids {
			p, err := sys.Pipe()
			assert.Nil(t, err)
			gates[i] = p.Write
			pids[i], err = sys.Exec(gate(p.Read, 10+i), nil)
			assert.Nil(t, err)
		}
		assert.Equal(t, [3]Tpid{2, 3, 4}, pids)

		// Exit order C, A, B.
		for _, i := range []int{2, 0, 1} {
			sys.Write(gates[i], []byte("g"))
			ts.waitZombie(pids[i])
		}
		var got []Tpid
		var statuses []int
		for range pids {
			pid, status, err := sys.WaitChild(NOPROC)
			assert.Nil(t, err)
			got = append(got, pid)
			statuses = append(statuses, status)
		}
		assert.Equal(t, []Tpid{4, 2, 3}, got)
		assert.Equal(t, []int{12, 10, 11}, statuses)

		pid, _, err := sys.WaitChild(NOPROC)
		assert.Equal(t, NOPROC, pid)
		assert.NotNil(t, err)
		return 0
	})
}

func TestReparentToInit(t *testing.T) {
	ts := newTstate(t)
	ts.boot(func(sys *Sys, args []byte) int {
		p, err := sys.Pipe()
		assert.Nil(t, err)
		var q, r Tpid
		ppid, err := sys.Exec(func(sys *Sys, args []byte) int {
			var err error
			q, err = sys.Exec(func(sys *Sys, args []byte) int {
				b := make([]byte, 1)
				sys.Read(p.Read, b)
				return int(sys.GetPPid())
			}, nil)
			assert.Nil(t, err)
			r, err = sys.Exec(func(sys *Sys, args []byte) int { return 9 }, nil)
			assert.Nil(t, err)
			ts.waitZombie(r)
			return 0
		}, nil)
		assert.Nil(t, err)

		pid, _, err := sys.WaitChild(ppid)
		assert.Nil(t, err)
		assert.Equal(t, ppid, pid)

		// r was a zombie of ppid and moves to init unreaped.
		pid, status, err := sys.WaitChild(r)
		assert.Nil(t, err)
		assert.Equal(t, r, pid)
		assert.Equal(t, 9, status)

		sys.Write(p.Write, []byte("g"))
		pid, status, err = sys.WaitChild(NOPROC)
		assert.Nil(t, err)
		assert.Equal(t, q, pid)
		assert.Equal(t, int(INIT_PID), status)
		return 0
	})
}

func TestInitDrainsChildren(t *testing.T) {
	ts := newTstate(t)
	ts.boot(func(sys *Sys, args []byte) int {
		p, err := sys.Pipe()
		assert.Nil(t, err)
		for i := 0; i < 3; i++ {
			_, err := sys.Exec(gate(p.Read, 0), nil)
			assert.Nil(t, err)
		}
		_, err = sys.CreateThread(func(sys *Sys, args []byte) int {
			// Main thread is draining in Exit.
			ts.waitBlocked(sched.SCHED_USER, 1)
			sys.Write(p.Write, []byte("ggg"))
			return 0
		}, nil)
		assert.Nil(t, err)
		return 5
	})
	assert.Equal(t, 1, ts.k.ProcessCount())
	<-ts.k.Idle()
	assert.Equal(t, 0, ts.k.OpenFiles())
}

func TestProcInfo(t *testing.T) {
	ts := newTstate(t)
	ts.boot(func(sys *Sys, args []byte) int {
		p, err := sys.Pipe()
		assert.Nil(t, err)
		cpid, err := sys.Exec(gate(p.Read, 0), []byte("hello"))
		assert.Nil(t, err)

		fid, err := sys.OpenInfo()
		assert.Nil(t, err)
		assert.Equal(t, -1, sys.Read(fid, make([]byte, PROCINFO_SIZE-1)))
		assert.Equal(t, -1, sys.Write(fid, []byte("x")))

		var recs []*ProcInfo
		b := make([]byte, PROCINFO_SIZE)
		for {
			n := sys.Read(fid, b)
			if n == 0 {
				break
			}
			assert.Equal(t, PROCINFO_SIZE, n)
			pi, err := DecodeProcInfo(b)
			assert.Nil(t, err)
			recs = append(recs, pi)
		}
		assert.Nil(t, sys.Close(fid))

		if assert.Equal(t, 3, len(recs)) {
			assert.Equal(t, int32(IDLE_PID), recs[0].Pid)
			assert.Equal(t, int32(NOPROC), recs[0].Ppid)
			assert.Equal(t, uint32(0), recs[0].ThreadCount)
			assert.Equal(t, int32(INIT_PID), recs[1].Pid)
			assert.Equal(t, uint32(1), recs[1].ThreadCount)
			assert.Equal(t, int32(cpid), recs[2].Pid)
			assert.Equal(t, int32(INIT_PID), recs[2].Ppid)
			assert.Equal(t, uint8(1), recs[2].Alive)
			assert.Equal(t, "hello", string(recs[2].ArgsBytes()))
		}
		_, err = DecodeProcInfo(b[:10])
		assert.NotNil(t, err)

		sys.Write(p.Write, []byte("g"))
		sys.WaitChild(cpid)
		return 0
	})
}

func TestMetrics(t *testing.T) {
	ts := newTstate(t)
	ts.boot(func(sys *Sys, args []byte) int {
		_, err := sys.Pipe()
		assert.Nil(t, err)
		cpid, err := sys.Exec(func(sys *Sys, args []byte) int { return 0 }, nil)
		assert.Nil(t, err)
		sys.WaitChild(cpid)
		return 0
	})
	m := ts.k.Metrics()
	assert.Equal(t, 3.0, testutil.ToFloat64(m.procs))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reaped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.live))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.threads))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pipes))

	n, err := testutil.GatherAndCount(m.Registry())
	assert.Nil(t, err)
	assert.Equal(t, 7, n)
	db.DPrintf(db.TEST, "metrics %d families", n)
}

func TestBadDescriptors(t *testing.T) {
	ts := newTstate(t)
	ts.boot(func(sys *Sys, args []byte) int {
		b := make([]byte, 4)
		assert.Equal(t, -1, sys.Read(3, b))
		assert.Equal(t, -1, sys.Write(-1, b))
		assert.Equal(t, -1, sys.Read(fcb.Tfid(ts.k.cfg.MaxFileID), b))
		assert.True(t, serr.IsErrCode(sys.Close(3), serr.TErrInvalid))
		return 0
	})
}

func TestDescriptorTableFull(t *testing.T) {
	ts := newTstate(t, func(cfg *config.Config) { cfg.MaxFileID = 3 })
	ts.boot(func(sys *Sys, args []byte) int {
		p, err := sys.Pipe()
		assert.Nil(t, err)
		// One free descriptor left; a pipe needs two.
		p1, err := sys.Pipe()
		assert.True(t, serr.IsErrCode(err, serr.TErrNoFile), "err %v", err)
		assert.Equal(t, fcb.NOFILE, p1.Read)
		assert.Equal(t, 2, ts.k.OpenFiles())

		assert.Nil(t, sys.Close(p.Read))
		assert.Nil(t, sys.Close(p.Write))
		_, err = sys.Pipe()
		assert.Nil(t, err)
		return 0
	})
}

func TestInitThreadExitDrainsChildren(t *testing.T) {
	ts := newTstate(t)
	var cpid Tpid
	ts.boot(func(sys *Sys, args []byte) int {
		p, err := sys.Pipe()
		assert.Nil(t, err)
		cpid, err = sys.Exec(gate(p.Read, 0), nil)
		assert.Nil(t, err)
		_, err = sys.CreateThread(func(sys *Sys, args []byte) int {
			// Wait for the main thread to leave, then let the child
			// go; this thread is the last one of init.
			assert.Eventually(t, func() bool { return ts.nthread(INIT_PID) == 1 }, WAIT, TICK)
			sys.Write(p.Write, []byte("g"))
			return 0
		}, nil)
		assert.Nil(t, err)
		sys.ThreadExit(0)
		return -1
	})
	assert.Equal(t, 1.0, testutil.ToFloat64(ts.k.Metrics().reaped), "child reaped by init")
	assert.Equal(t, FREE, ts.state(cpid))
	assert.Equal(t, 1, ts.k.ProcessCount())
}
