package fcb

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/npapoutsakis/tinyos3/serr"
)

type tstream struct {
	nclose int
}

func (s *tstream) Read(buf []byte) int  { return 0 }
func (s *tstream) Write(buf []byte) int { return len(buf) }
func (s *tstream) Close() int           { s.nclose++; return 0 }

func TestReserveAllOrNothing(t *testing.T) {
	p := NewPool(10)
	tab := p.NewTable(3)

	fids, fcbs, err := tab.Reserve(2)
	assert.Nil(t, err)
	assert.Equal(t, []Tfid{0, 1}, fids)
	assert.Equal(t, 2, len(fcbs))
	assert.Equal(t, 2, p.Len())

	_, _, err = tab.Reserve(2)
	assert.True(t, serr.IsErrCode(err, serr.TErrNoFile))
	assert.Equal(t, 2, tab.NOpen())
	assert.Equal(t, 2, p.Len())

	for _, fid := range fids {
		assert.Nil(t, tab.Release(fid))
	}
	assert.Equal(t, 0, tab.NOpen())
	assert.Equal(t, 0, p.Len())
}

func TestPoolLimit(t *testing.T) {
	p := NewPool(1)
	t1 := p.NewTable(4)
	t2 := p.NewTable(4)
	_, _, err := t1.Reserve(1)
	assert.Nil(t, err)
	_, _, err = t2.Reserve(1)
	assert.True(t, serr.IsErrCode(err, serr.TErrNoFile))
}

func TestInheritAndRelease(t *testing.T) {
	p := NewPool(10)
	parent := p.NewTable(4)
	fids, fcbs, err := parent.Reserve(1)
	assert.Nil(t, err)
	s := &tstream{}
	fcbs[0].SetStream(s)

	child := p.NewTable(4)
	child.Inherit(parent)
	assert.Equal(t, 2, fcbs[0].refcount)
	assert.Equal(t, fcbs[0], child.Get(fids[0]))

	err = parent.Release(fids[0])
	assert.Nil(t, err)
	assert.Equal(t, 0, s.nclose)
	assert.Nil(t, parent.Get(fids[0]))

	err = parent.Release(fids[0])
	assert.True(t, serr.IsErrCode(err, serr.TErrInvalid))

	child.ReleaseAll()
	assert.Equal(t, 1, s.nclose)
	assert.Equal(t, 0, p.Len())
}

func TestGetBounds(t *testing.T) {
	tab := NewPool(1).NewTable(2)
	assert.Nil(t, tab.Get(NOFILE))
	assert.Nil(t, tab.Get(2))
}
