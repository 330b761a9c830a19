// Package socket brokers connection-oriented sockets. A listener is
// registered on a port; connect queues a request on it, and accept
// admits the oldest request by wiring the two sockets together with a
// pipe per direction. The caller holds the kernel lock.
package socket

import (
	"fmt"
	"time"

	db "github.com/npapoutsakis/tinyos3/debug"
	"github.com/npapoutsakis/tinyos3/fcb"
	"github.com/npapoutsakis/tinyos3/pipe"
	"github.com/npapoutsakis/tinyos3/sched"
	"github.com/npapoutsakis/tinyos3/serr"
)

type Tport int

const NOPORT Tport = 0

// NO_TIMEOUT makes Connect wait for admission indefinitely.
const NO_TIMEOUT time.Duration = -1

type Tshutdown int

const (
	SHUTDOWN_READ Tshutdown = iota + 1
	SHUTDOWN_WRITE
	SHUTDOWN_BOTH
)

func (how Tshutdown) String() string {
	switch how {
	case SHUTDOWN_READ:
		return "read"
	case SHUTDOWN_WRITE:
		return "write"
	case SHUTDOWN_BOTH:
		return "both"
	default:
		return fmt.Sprintf("shutdown(%d)", int(how))
	}
}

// A connect request, queued on a listener until an accept admits it or
// its connector gives up.
type request struct {
	admitted  bool
	abandoned bool
	sock      *Socket
	fid       fcb.Tfid
	connected *sched.Cond
}

func (req *request) String() string {
	return fmt.Sprintf("{req fid %d admitted %v abandoned %v}", req.fid, req.admitted, req.abandoned)
}

func (req *request) abandon() {
	req.abandoned = true
	req.connected.Broadcast()
}

type Broker struct {
	lock   *sched.Lock
	ports  []*Socket // listener per port
	pipesz int
}

func NewBroker(l *sched.Lock, maxport, pipesz int) *Broker {
	return &Broker{
		lock:   l,
		ports:  make([]*Socket, maxport+1),
		pipesz: pipesz,
	}
}

func (b *Broker) MaxPort() Tport {
	return Tport(len(b.ports) - 1)
}

// Listener returns the socket listening on port, if any.
func (b *Broker) Listener(port Tport) *Socket {
	if !b.validPort(port) {
		return nil
	}
	return b.ports[port]
}

func (b *Broker) validPort(port Tport) bool {
	return port >= 0 && int(port) < len(b.ports)
}

// lookup returns the socket behind descriptor fid of t.
func (b *Broker) lookup(t *fcb.Table, fid fcb.Tfid) (*Socket, error) {
	f := t.Get(fid)
	if f == nil {
		return nil, serr.NewErr(serr.TErrInvalid, fmt.Sprintf("fid %d", fid))
	}
	s, ok := f.Stream().(*Socket)
	if !ok || s.closed {
		return nil, serr.NewErr(serr.TErrInvalid, fmt.Sprintf("fid %d not a socket", fid))
	}
	return s, nil
}

// Socket makes an unbound socket on port in descriptor table t. port
// may be NOPORT for a socket that will only connect.
func (b *Broker) Socket(t *fcb.Table, port Tport) (fcb.Tfid, error) {
	if !b.validPort(port) {
		db.DPrintf(db.SOCKET_ERR, "Socket: bad port %d", port)
		return fcb.NOFILE, serr.NewErr(serr.TErrNoPort, port)
	}
	fids, fcbs, err := t.Reserve(1)
	if err != nil {
		return fcb.NOFILE, err
	}
	s := newSocket(b, port)
	fcbs[0].SetStream(s)
	db.DPrintf(db.SOCKET, "Socket fid %d %v", fids[0], s)
	return fids[0], nil
}

func (b *Broker) Listen(t *fcb.Table, fid fcb.Tfid) error {
	s, err := b.lookup(t, fid)
	if err != nil {
		return err
	}
	// A socket with a connect in flight is committed to becoming a peer.
	if u, ok := s.st.(*unbound); !ok || u.req != nil {
		return serr.NewErr(serr.TErrIllegalState, fmt.Sprintf("listen on %v", s))
	}
	if s.port == NOPORT {
		return serr.NewErr(serr.TErrNoPort, "listen on NOPORT")
	}
	if b.ports[s.port] != nil {
		return serr.NewErr(serr.TErrPortInUse, s.port)
	}
	s.st = &listener{reqAvailable: b.lock.NewCond()}
	b.ports[s.port] = s
	db.DPrintf(db.SOCKET, "Listen fid %d %v", fid, s)
	return nil
}

// Accept blocks until a connect request is queued on listener lfid and
// returns a new descriptor for this side of the connection.
func (b *Broker) Accept(t *fcb.Table, lfid fcb.Tfid) (fcb.Tfid, error) {
	s, err := b.lookup(t, lfid)
	if err != nil {
		return fcb.NOFILE, err
	}
	l, ok := s.st.(*listener)
	if !ok || b.ports[s.port] != s {
		return fcb.NOFILE, serr.NewErr(serr.TErrIllegalState, fmt.Sprintf("accept on %v", s))
	}
	s.incref()
	defer s.decref()

	for {
		l.dropAbandoned()
		if b.ports[s.port] != s {
			db.DPrintf(db.SOCKET_ERR, "Accept %v: listener closed", s)
			return fcb.NOFILE, serr.NewErr(serr.TErrClosed, fmt.Sprintf("port %d", s.port))
		}
		if len(l.queue) > 0 {
			break
		}
		l.reqAvailable.Wait(sched.SCHED_IO)
	}

	fid, err := b.Socket(t, s.port)
	if err != nil {
		return fcb.NOFILE, err
	}
	local, _ := b.lookup(t, fid)

	req := l.queue[0]
	l.queue = l.queue[1:]
	req.admitted = true

	// c2s carries what the connector writes; s2c what the acceptor writes.
	c2s := pipe.New(b.lock, b.pipesz)
	s2c := pipe.New(b.lock, b.pipesz)
	local.st = &peer{other: req.sock, rpipe: c2s, wpipe: s2c}
	req.sock.st = &peer{other: local, rpipe: s2c, wpipe: c2s}
	req.connected.Broadcast()

	db.DPrintf(db.SOCKET, "Accept %v: fid %d peer of %v", s, fid, req)
	return fid, nil
}

// Connect asks the listener on port to admit socket fid, waiting at
// most timeout for an accept.
func (b *Broker) Connect(t *fcb.Table, fid fcb.Tfid, port Tport, timeout time.Duration) error {
	s, err := b.lookup(t, fid)
	if err != nil {
		return err
	}
	u, ok := s.st.(*unbound)
	if !ok || u.req != nil {
		return serr.NewErr(serr.TErrIllegalState, fmt.Sprintf("connect from %v", s))
	}
	if !b.validPort(port) {
		return serr.NewErr(serr.TErrNoPort, port)
	}
	lsock := b.ports[port]
	if lsock == nil {
		db.DPrintf(db.SOCKET_ERR, "Connect fid %d: no listener on %d", fid, port)
		return serr.NewErr(serr.TErrInvalid, fmt.Sprintf("no listener on port %d", port))
	}
	l, ok := lsock.st.(*listener)
	if !ok {
		db.DPrintf(db.SOCKET_ERR, "Connect fid %d: port %d holds %v", fid, port, lsock)
		return serr.NewErr(serr.TErrInvalid, fmt.Sprintf("no listener on port %d", port))
	}

	req := &request{sock: s, fid: fid, connected: b.lock.NewCond()}
	u.req = req
	l.queue = append(l.queue, req)
	l.reqAvailable.Broadcast()

	deadline := time.Now().Add(timeout)
	for !req.admitted && !req.abandoned {
		if timeout == NO_TIMEOUT {
			req.connected.Wait(sched.SCHED_IO)
			continue
		}
		left := time.Until(deadline)
		if left <= 0 {
			break
		}
		req.connected.TimedWait(sched.SCHED_IO, left)
	}
	if req.admitted {
		db.DPrintf(db.SOCKET, "Connect fid %d: admitted on %d", fid, port)
		return nil
	}
	// Give up; a later accept skips the request.
	if u.req == req {
		u.req = nil
	}
	if req.abandoned {
		if s.closed {
			db.DPrintf(db.SOCKET_ERR, "Connect fid %d: socket closed while connecting to %d", fid, port)
			return serr.NewErr(serr.TErrClosed, fmt.Sprintf("fid %d closed", fid))
		}
		db.DPrintf(db.SOCKET_ERR, "Connect fid %d: listener on %d closed", fid, port)
		return serr.NewErr(serr.TErrClosed, fmt.Sprintf("listener on port %d closed", port))
	}
	req.abandoned = true
	db.DPrintf(db.SOCKET_ERR, "Connect fid %d: timeout %v on %d", fid, timeout, port)
	return serr.NewErr(serr.TErrTimeout, fmt.Sprintf("port %d", port))
}

func (b *Broker) ShutDown(t *fcb.Table, fid fcb.Tfid, how Tshutdown) error {
	s, err := b.lookup(t, fid)
	if err != nil {
		return err
	}
	p, ok := s.st.(*peer)
	if !ok {
		return serr.NewErr(serr.TErrIllegalState, fmt.Sprintf("shutdown %v", s))
	}
	switch how {
	case SHUTDOWN_READ:
		p.shutRead()
	case SHUTDOWN_WRITE:
		p.shutWrite()
	case SHUTDOWN_BOTH:
		p.shutRead()
		p.shutWrite()
	default:
		return serr.NewErr(serr.TErrInvalid, how)
	}
	db.DPrintf(db.SOCKET, "ShutDown fid %d %v: %v", fid, how, s)
	return nil
}
