// Package fcb is the generic descriptor layer: file control blocks
// shared by reference count, the stream vtable objects plug into, and
// the per-process descriptor table. The caller holds the kernel lock
// for every operation.
package fcb

import (
	"fmt"

	db "github.com/npapoutsakis/tinyos3/debug"
	"github.com/npapoutsakis/tinyos3/serr"
)

type Tfid int

const NOFILE Tfid = -1

// Stream is the operations vtable of an open file. Read and Write
// return a byte count or -1; Close returns 0 or -1.
type Stream interface {
	Read(buf []byte) int
	Write(buf []byte) int
	Close() int
}

type FCB struct {
	pool     *Pool
	refcount int
	obj      Stream
}

func (f *FCB) String() string {
	return fmt.Sprintf("{fcb ref %d obj %T}", f.refcount, f.obj)
}

func (f *FCB) Stream() Stream {
	return f.obj
}

func (f *FCB) SetStream(s Stream) {
	f.obj = s
}

func (f *FCB) Incref() {
	f.refcount += 1
}

// Decref drops one reference; the last one closes the stream and
// returns the FCB to its pool.
func (f *FCB) Decref() int {
	f.refcount -= 1
	if f.refcount > 0 {
		return 0
	}
	r := 0
	if f.obj != nil {
		r = f.obj.Close()
	}
	db.DPrintf(db.FCB, "close %v r %d", f, r)
	f.obj = nil
	f.pool.n -= 1
	return r
}

// Pool bounds the number of FCBs open system-wide.
type Pool struct {
	max int
	n   int
}

func NewPool(max int) *Pool {
	return &Pool{max: max}
}

func (p *Pool) Len() int {
	return p.n
}

func (p *Pool) NewTable(n int) *Table {
	return &Table{pool: p, fcbs: make([]*FCB, n)}
}

// Table is a process's descriptor table.
type Table struct {
	pool *Pool
	fcbs []*FCB
}

func (t *Table) Len() int {
	return len(t.fcbs)
}

func (t *Table) Get(fid Tfid) *FCB {
	if fid < 0 || int(fid) >= len(t.fcbs) {
		return nil
	}
	return t.fcbs[fid]
}

// Reserve allocates n fresh descriptor/FCB pairs, or none at all.
// The FCBs have no stream until the caller sets one.
func (t *Table) Reserve(n int) ([]Tfid, []*FCB, error) {
	if t.pool.n+n > t.pool.max {
		db.DPrintf(db.FCB_ERR, "Reserve %d: file table full %d/%d", n, t.pool.n, t.pool.max)
		return nil, nil, serr.NewErr(serr.TErrNoFile, "file table")
	}
	fids := make([]Tfid, 0, n)
	for i := 0; i < len(t.fcbs) && len(fids) < n; i++ {
		if t.fcbs[i] == nil {
			fids = append(fids, Tfid(i))
		}
	}
	if len(fids) < n {
		db.DPrintf(db.FCB_ERR, "Reserve %d: descriptor table full", n)
		return nil, nil, serr.NewErr(serr.TErrNoFile, "descriptor table")
	}
	fcbs := make([]*FCB, n)
	for i, fid := range fids {
		fcbs[i] = &FCB{pool: t.pool, refcount: 1}
		t.fcbs[fid] = fcbs[i]
	}
	t.pool.n += n
	return fids, fcbs, nil
}

// Release closes descriptor fid.
func (t *Table) Release(fid Tfid) error {
	f := t.Get(fid)
	if f == nil {
		return serr.NewErr(serr.TErrInvalid, fmt.Sprintf("fid %d", fid))
	}
	t.fcbs[fid] = nil
	f.Decref()
	return nil
}

// Inherit copies parent's open descriptors into t, sharing their FCBs.
func (t *Table) Inherit(parent *Table) {
	for i, f := range parent.fcbs {
		if i >= len(t.fcbs) {
			break
		}
		if f != nil {
			f.Incref()
			t.fcbs[i] = f
		}
	}
}

func (t *Table) ReleaseAll() {
	for i, f := range t.fcbs {
		if f != nil {
			t.fcbs[i] = nil
			f.Decref()
		}
	}
}

func (t *Table) NOpen() int {
	n := 0
	for _, f := range t.fcbs {
		if f != nil {
			n++
		}
	}
	return n
}
