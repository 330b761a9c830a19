package socket

import (
	"fmt"

	db "github.com/npapoutsakis/tinyos3/debug"
	"github.com/npapoutsakis/tinyos3/pipe"
	"github.com/npapoutsakis/tinyos3/sched"
)

// A socket's state is one of *unbound, *listener, or *peer. It only
// moves from unbound to one of the other two.
type state interface {
	String() string
}

type unbound struct {
	req *request // pending connect, if any
}

func (u *unbound) String() string { return "unbound" }

type listener struct {
	queue        []*request
	reqAvailable *sched.Cond
}

func (l *listener) String() string { return fmt.Sprintf("listener q %d", len(l.queue)) }

// dropAbandoned pops requests whose connector gave up.
func (l *listener) dropAbandoned() {
	for len(l.queue) > 0 && l.queue[0].abandoned {
		db.DPrintf(db.SOCKET, "drop %v", l.queue[0])
		l.queue = l.queue[1:]
	}
}

type peer struct {
	other *Socket
	rpipe *pipe.Pipe // nil once shut down for reading
	wpipe *pipe.Pipe // nil once shut down for writing
}

func (p *peer) String() string { return fmt.Sprintf("peer of port %d", p.other.port) }

func (p *peer) shutRead() {
	if p.rpipe != nil {
		p.rpipe.CloseReader()
		p.rpipe = nil
	}
}

func (p *peer) shutWrite() {
	if p.wpipe != nil {
		p.wpipe.CloseWriter()
		p.wpipe = nil
	}
}

// Socket is the stream object behind a socket descriptor.
type Socket struct {
	br       *Broker
	port     Tport
	refcount int
	closed   bool
	st       state
}

func newSocket(b *Broker, port Tport) *Socket {
	return &Socket{br: b, port: port, refcount: 1, st: &unbound{}}
}

func (s *Socket) String() string {
	return fmt.Sprintf("{sock port %d %v ref %d}", s.port, s.st, s.refcount)
}

func (s *Socket) Port() Tport {
	return s.port
}

func (s *Socket) IsListener() bool {
	_, ok := s.st.(*listener)
	return ok
}

func (s *Socket) IsPeer() bool {
	_, ok := s.st.(*peer)
	return ok
}

func (s *Socket) incref() {
	s.refcount += 1
}

func (s *Socket) decref() {
	s.refcount -= 1
	if s.refcount == 0 {
		db.DPrintf(db.SOCKET, "free %v", s)
		s.st = nil
	}
}

func (s *Socket) Read(buf []byte) int {
	p, ok := s.st.(*peer)
	if !ok || p.rpipe == nil {
		return -1
	}
	return p.rpipe.Read(buf)
}

func (s *Socket) Write(buf []byte) int {
	p, ok := s.st.(*peer)
	if !ok || p.wpipe == nil {
		return -1
	}
	return p.wpipe.Write(buf)
}

// Close runs when the last descriptor for s is released.
func (s *Socket) Close() int {
	if s.closed {
		return -1
	}
	s.closed = true
	switch st := s.st.(type) {
	case *listener:
		if s.br.ports[s.port] == s {
			s.br.ports[s.port] = nil
		}
		for _, req := range st.queue {
			req.abandon()
		}
		st.queue = nil
		st.reqAvailable.Broadcast()
	case *peer:
		st.shutRead()
		st.shutWrite()
	case *unbound:
		if st.req != nil {
			st.req.abandon()
			st.req = nil
		}
	}
	db.DPrintf(db.SOCKET, "Close %v", s)
	s.decref()
	return 0
}
