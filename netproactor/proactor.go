// Package netproactor is the production-facing Proactor: it drives real
// net.Conn/net.PacketConn/net.Listener sockets instead of simnet's
// in-process simulation, for the same asio.Proactor/asio.ProactorListener
// contract.
//
// Grounded directly on smux's per-session sendLoop/recvLoop pair: one
// goroutine owns reads, one owns writes, exactly as smux's Session
// dedicates a goroutine to each direction instead of sharing one across
// both. The write side keeps smux's scatter-gather idiom — when
// sendLoop's underlying conn supports vectorised writes, smux batches the
// frame header and payload into a single writev via
// github.com/sagernet/sing/common/bufio; this package batches whatever
// queued payloads have accumulated since the last drain into the same
// vectorised call when the conn supports it.
package netproactor

import (
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sagernet/asio"
	"github.com/sagernet/asio/dispatch"
)

// Proactor adapts real OS sockets to the asio.Proactor contract.
type Proactor struct {
	mu        sync.Mutex
	sockets   map[asio.Handle]asio.ProactorSocket
	listeners map[asio.Handle]asio.ProactorListener
	conns     map[asio.Handle]*socketConn
	listens   map[asio.Handle]net.Listener

	nextHandle atomic.Int64
	maxThreads int
}

// New constructs an idle Proactor. Unlike simnet, there is no background
// stepping loop to start: each socketConn runs its own read/write
// goroutines once attached.
func New() *Proactor {
	p := &Proactor{
		sockets:   make(map[asio.Handle]asio.ProactorSocket),
		listeners: make(map[asio.Handle]asio.ProactorListener),
		conns:     make(map[asio.Handle]*socketConn),
		listens:   make(map[asio.Handle]net.Listener),

		maxThreads: 4,
	}
	p.nextHandle.Store(int64(asio.HandleBase))
	return p
}

// AllocateHandle implements asio.Proactor. Real sockets never need the
// gap-reusing free list simnet uses for deterministic tests; a monotonic
// counter is sufficient since OS descriptors are already unique.
func (p *Proactor) AllocateHandle(asio.Transport) asio.Handle {
	return asio.Handle(p.nextHandle.Add(1))
}

// Bind implements asio.Proactor for datagram sockets by opening a real UDP
// socket on endpoint (or an ephemeral port, when endpoint.Port == 0) and
// reporting back whatever address the kernel actually assigned.
func (p *Proactor) Bind(h asio.Handle, endpoint asio.Endpoint, opts asio.BindOptions) (asio.Endpoint, error) {
	pc, err := net.ListenPacket("udp", endpoint.String())
	if err != nil {
		return asio.Endpoint{}, asio.NewError(asio.KindTransport, err)
	}
	host, portStr, err := net.SplitHostPort(pc.LocalAddr().String())
	if err != nil {
		pc.Close()
		return asio.Endpoint{}, asio.NewError(asio.KindTransport, err)
	}
	bound := asio.Endpoint{Kind: endpoint.Kind, Host: host}
	if port, err := strconv.ParseUint(portStr, 10, 16); err == nil {
		bound.Port = uint16(port)
	}
	sc := newSocketConn(asio.TransportDatagram, nil, pc)
	p.mu.Lock()
	p.conns[h] = sc
	p.mu.Unlock()
	// AttachSocket (called by the engine before Bind, per DatagramSocket.
	// Bind's openLocked-then-Bind ordering) already ran with no socketConn
	// to start yet, so Bind must start this one itself.
	sc.start(p, h)
	return bound, nil
}

// AttachSocket implements asio.Proactor.
func (p *Proactor) AttachSocket(s asio.ProactorSocket) error {
	p.mu.Lock()
	p.sockets[s.Handle()] = s
	sc := p.conns[s.Handle()]
	p.mu.Unlock()
	if sc != nil {
		sc.start(p, s.Handle())
	}
	return nil
}

// DetachSocket implements asio.Proactor.
func (p *Proactor) DetachSocket(s asio.ProactorSocket) error {
	h := s.Handle()
	p.mu.Lock()
	delete(p.sockets, h)
	sc := p.conns[h]
	delete(p.conns, h)
	p.mu.Unlock()
	if sc != nil {
		sc.close()
	}
	s.ProcessSocketDetached()
	return nil
}

// Send implements asio.Proactor by enqueuing data on the socket's write
// loop.
func (p *Proactor) Send(h asio.Handle, data []byte, opts asio.SendOptions) error {
	p.mu.Lock()
	sc := p.conns[h]
	p.mu.Unlock()
	if sc == nil {
		return asio.NewError(asio.KindInvalid, nil)
	}
	return sc.submitWrite(data, opts.Destination, func(result asio.SendResult) {
		p.mu.Lock()
		s := p.sockets[h]
		p.mu.Unlock()
		if s != nil {
			s.ProcessSocketSent(result)
		}
	})
}

// Receive implements asio.Proactor by arming the next read on the socket's
// read loop.
func (p *Proactor) Receive(h asio.Handle, opts asio.ReceiveOptions) error {
	p.mu.Lock()
	sc := p.conns[h]
	p.mu.Unlock()
	if sc == nil {
		return asio.NewError(asio.KindInvalid, nil)
	}
	return sc.submitRead(opts, func(result asio.ReceiveResult) {
		p.mu.Lock()
		s := p.sockets[h]
		p.mu.Unlock()
		if s != nil {
			s.ProcessSocketReceived(result)
		}
	})
}

// Connect implements asio.Proactor by dialing endpoint and wiring the
// resulting net.Conn into a socketConn before reporting completion.
func (p *Proactor) Connect(h asio.Handle, endpoint asio.Endpoint, opts asio.ConnectOptions) error {
	go func() {
		conn, err := net.DialTimeout("tcp", endpoint.String(), dialTimeout(opts))
		p.mu.Lock()
		s := p.sockets[h]
		if err == nil {
			p.conns[h] = newSocketConn(asio.TransportStream, conn, nil)
		}
		p.mu.Unlock()
		if err == nil {
			p.conns[h].start(p, h)
		}
		if s != nil {
			if err != nil {
				s.ProcessSocketConnected(asio.NewError(asio.KindTransport, err))
				return
			}
			s.ProcessSocketConnected(nil)
		}
	}()
	return nil
}

func dialTimeout(opts asio.ConnectOptions) time.Duration {
	if opts.HasDeadline {
		if d := time.Until(opts.Deadline); d > 0 {
			return d
		}
	}
	return 30 * time.Second
}

// Cancel implements asio.Proactor.
func (p *Proactor) Cancel(h asio.Handle) error {
	p.mu.Lock()
	sc := p.conns[h]
	p.mu.Unlock()
	if sc != nil {
		sc.cancelPending()
	}
	return nil
}

// CreateStrand implements asio.Proactor.
func (p *Proactor) CreateStrand() dispatch.Strand {
	return dispatch.NewGoroutineStrand(64)
}

type realTimer struct{ t *time.Timer }

func (r *realTimer) Cancel() { r.t.Stop() }

// CreateTimer implements asio.Proactor.
func (p *Proactor) CreateTimer(d time.Duration, fn func()) asio.Timer {
	return &realTimer{t: time.AfterFunc(d, fn)}
}

// Execute implements asio.Proactor.
func (p *Proactor) Execute(fn func()) { go fn() }

// MaxThreads implements asio.Proactor.
func (p *Proactor) MaxThreads() int { return p.maxThreads }

// AttachListener implements asio.Proactor by opening a real net.Listener on
// endpoint and starting its accept loop.
func (p *Proactor) AttachListener(l asio.ProactorListener, endpoint asio.Endpoint, opts asio.ListenOptions) error {
	ln, err := net.Listen("tcp", endpoint.String())
	if err != nil {
		return asio.NewError(asio.KindTransport, err)
	}
	h := l.Handle()
	p.mu.Lock()
	p.listeners[h] = l
	p.listens[h] = ln
	p.mu.Unlock()
	go p.acceptLoop(h, ln)
	return nil
}

func (p *Proactor) acceptLoop(h asio.Handle, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		p.mu.Lock()
		l := p.listeners[h]
		p.mu.Unlock()
		if l == nil {
			if conn != nil {
				conn.Close()
			}
			return
		}
		if err != nil {
			l.ProcessListenerError(asio.NewError(asio.KindTransport, err))
			return
		}
		accepted := p.AllocateHandle(asio.TransportStream)
		sc := newSocketConn(asio.TransportStream, conn, nil)
		p.mu.Lock()
		p.conns[accepted] = sc
		p.mu.Unlock()
		sc.start(p, accepted)
		l.ProcessListenerAccepted(accepted, remoteEndpoint(conn), nil)
	}
}

// remoteEndpoint converts conn's remote address into an asio.Endpoint,
// defaulting to EndpointIPv4 when the address isn't parseable as IPv6.
func remoteEndpoint(conn net.Conn) asio.Endpoint {
	host, portStr, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return asio.Endpoint{}
	}
	port, _ := strconv.ParseUint(portStr, 10, 16)
	kind := asio.EndpointIPv4
	if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
		kind = asio.EndpointIPv6
	}
	return asio.Endpoint{Kind: kind, Host: host, Port: uint16(port)}
}

// DetachListener implements asio.Proactor.
func (p *Proactor) DetachListener(l asio.ProactorListener) error {
	h := l.Handle()
	p.mu.Lock()
	delete(p.listeners, h)
	ln := p.listens[h]
	delete(p.listens, h)
	p.mu.Unlock()
	if ln != nil {
		ln.Close()
	}
	l.ProcessListenerDetached()
	return nil
}

// AcceptNext implements asio.Proactor. The accept loop started by
// AttachListener already re-arms itself after every connection, so this is
// a no-op kept only to satisfy the shared Proactor contract.
func (p *Proactor) AcceptNext(asio.Handle) error { return nil }

var _ asio.Proactor = (*Proactor)(nil)
