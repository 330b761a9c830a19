// Package pipe implements a bounded byte channel with one reader end
// and one writer end. A Pipe has no lock of its own: the caller holds
// the kernel lock, which the pipe's conds release while a reader or
// writer sleeps.
package pipe

import (
	"fmt"

	db "github.com/npapoutsakis/tinyos3/debug"
	"github.com/npapoutsakis/tinyos3/fcb"
	"github.com/npapoutsakis/tinyos3/sched"
)

// The buffer keeps one slot unused, so r == w means empty and
// w+1 == r means full.
type Pipe struct {
	buf      []byte
	r        int
	w        int
	ropen    bool
	wopen    bool
	hasData  *sched.Cond
	hasSpace *sched.Cond
}

// New makes a pipe that holds up to sz-1 bytes.
func New(l *sched.Lock, sz int) *Pipe {
	if sz < 2 {
		sz = 2
	}
	p := &Pipe{
		buf:      make([]byte, sz),
		ropen:    true,
		wopen:    true,
		hasData:  l.NewCond(),
		hasSpace: l.NewCond(),
	}
	return p
}

func (p *Pipe) String() string {
	return fmt.Sprintf("{pipe r %d w %d len %d ropen %v wopen %v}", p.r, p.w, p.Len(), p.ropen, p.wopen)
}

func (p *Pipe) next(i int) int {
	return (i + 1) % len(p.buf)
}

func (p *Pipe) empty() bool {
	return p.r == p.w
}

func (p *Pipe) full() bool {
	return p.next(p.w) == p.r
}

// Len returns the number of buffered bytes.
func (p *Pipe) Len() int {
	if p.buf == nil {
		return 0
	}
	return (p.w - p.r + len(p.buf)) % len(p.buf)
}

// Freed reports whether both ends have closed.
func (p *Pipe) Freed() bool {
	return !p.ropen && !p.wopen
}

// Read fills buf, blocking while the pipe is empty and the writer is
// open. It returns the number of bytes read, 0 at end of stream, and -1
// if the reader end is closed.
func (p *Pipe) Read(buf []byte) int {
	if !p.ropen {
		db.DPrintf(db.PIPE_ERR, "Read %v: reader closed", p)
		return -1
	}
	n := 0
	for n < len(buf) {
		for p.empty() && p.wopen && p.ropen {
			p.hasSpace.Broadcast()
			p.hasData.Wait(sched.SCHED_PIPE)
		}
		if p.empty() || !p.ropen {
			break
		}
		buf[n] = p.buf[p.r]
		p.r = p.next(p.r)
		n++
	}
	p.hasSpace.Broadcast()
	db.DPrintf(db.PIPE, "Read %d/%d %v", n, len(buf), p)
	return n
}

// Write copies buf into the pipe, blocking while it is full and the
// reader is open. If the reader closes mid-write, Write returns the
// bytes stored before it noticed. Writing when either end is already
// closed returns -1.
func (p *Pipe) Write(buf []byte) int {
	if !p.wopen || !p.ropen {
		db.DPrintf(db.PIPE_ERR, "Write %v: closed", p)
		return -1
	}
	n := 0
	for n < len(buf) {
		for p.full() && p.ropen && p.wopen {
			p.hasData.Broadcast()
			p.hasSpace.Wait(sched.SCHED_PIPE)
		}
		if !p.ropen || !p.wopen {
			break
		}
		p.buf[p.w] = buf[n]
		p.w = p.next(p.w)
		n++
	}
	p.hasData.Broadcast()
	db.DPrintf(db.PIPE, "Write %d/%d %v", n, len(buf), p)
	return n
}

func (p *Pipe) CloseReader() int {
	if !p.ropen {
		return -1
	}
	p.ropen = false
	if !p.wopen {
		p.free()
	} else {
		p.hasSpace.Broadcast()
	}
	return 0
}

func (p *Pipe) CloseWriter() int {
	if !p.wopen {
		return -1
	}
	p.wopen = false
	if !p.ropen {
		p.free()
	} else {
		p.hasData.Broadcast()
	}
	return 0
}

func (p *Pipe) free() {
	db.DPrintf(db.PIPE, "free %v", p)
	p.buf = nil
	p.r = 0
	p.w = 0
}

type reader struct {
	p *Pipe
}

func (r *reader) Read(buf []byte) int  { return r.p.Read(buf) }
func (r *reader) Write(buf []byte) int { return -1 }
func (r *reader) Close() int           { return r.p.CloseReader() }

type writer struct {
	p *Pipe
}

func (w *writer) Read(buf []byte) int  { return -1 }
func (w *writer) Write(buf []byte) int { return w.p.Write(buf) }
func (w *writer) Close() int           { return w.p.CloseWriter() }

// ReadEnd returns the stream a reader descriptor is bound to.
func (p *Pipe) ReadEnd() fcb.Stream {
	return &reader{p}
}

// WriteEnd returns the stream a writer descriptor is bound to.
func (p *Pipe) WriteEnd() fcb.Stream {
	return &writer{p}
}
