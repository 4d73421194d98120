package simnet

import (
	"sync"
	"time"

	"github.com/sagernet/asio"
	"github.com/sagernet/asio/dispatch"
)

// Proactor adapts a Machine to the asio.Proactor/asio.ProactorListener
// contract, turning the Machine's synchronous send/receive/connect/accept
// primitives into the asynchronous completion-callback model the root
// engine expects. It is the direct stand-in for a real OS-backed proactor
// in tests.
type Proactor struct {
	machine *Machine

	mu        sync.Mutex
	sockets   map[asio.Handle]asio.ProactorSocket
	listeners map[asio.Handle]asio.ProactorListener

	maxThreads int
}

// NewProactor constructs a Proactor over machine and starts the machine's
// background stepping loop so submitted async operations eventually
// complete. Call Close to stop it.
func NewProactor(machine *Machine) *Proactor {
	p := &Proactor{
		machine:    machine,
		sockets:    make(map[asio.Handle]asio.ProactorSocket),
		listeners:  make(map[asio.Handle]asio.ProactorListener),
		maxThreads: 4,
	}
	machine.Run()
	return p
}

// Close stops the underlying machine's background stepping loop.
func (p *Proactor) Close() { p.machine.Stop() }

// AllocateHandle implements asio.Proactor.
func (p *Proactor) AllocateHandle(transport asio.Transport) asio.Handle {
	return p.machine.CreateSession(transport)
}

// Bind implements asio.Proactor.
func (p *Proactor) Bind(h asio.Handle, endpoint asio.Endpoint, opts asio.BindOptions) (asio.Endpoint, error) {
	return p.machine.Bind(h, endpoint, opts.ReuseAddress)
}

// AttachSocket implements asio.Proactor.
func (p *Proactor) AttachSocket(s asio.ProactorSocket) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sockets[s.Handle()] = s
	return nil
}

// DetachSocket implements asio.Proactor.
func (p *Proactor) DetachSocket(s asio.ProactorSocket) error {
	h := s.Handle()
	p.mu.Lock()
	delete(p.sockets, h)
	p.mu.Unlock()
	p.machine.cancelAll(h)
	_ = p.machine.Close(h)
	s.ProcessSocketDetached()
	return nil
}

// Send implements asio.Proactor.
func (p *Proactor) Send(h asio.Handle, data []byte, opts asio.SendOptions) error {
	p.machine.enqueueSend(h, data, opts.Destination, func(result asio.SendResult) {
		p.mu.Lock()
		s := p.sockets[h]
		p.mu.Unlock()
		if s != nil {
			s.ProcessSocketSent(result)
		}
	})
	return nil
}

// Receive implements asio.Proactor.
func (p *Proactor) Receive(h asio.Handle, opts asio.ReceiveOptions) error {
	p.machine.enqueueReceive(h, opts, func(result asio.ReceiveResult) {
		p.mu.Lock()
		s := p.sockets[h]
		p.mu.Unlock()
		if s != nil {
			s.ProcessSocketReceived(result)
		}
	})
	return nil
}

// Connect implements asio.Proactor.
func (p *Proactor) Connect(h asio.Handle, endpoint asio.Endpoint, opts asio.ConnectOptions) error {
	p.machine.enqueueConnect(h, endpoint, func(err error) {
		p.mu.Lock()
		s := p.sockets[h]
		p.mu.Unlock()
		if s != nil {
			s.ProcessSocketConnected(err)
		}
	})
	return nil
}

// Cancel implements asio.Proactor.
func (p *Proactor) Cancel(h asio.Handle) error {
	p.machine.cancelAll(h)
	return nil
}

// CreateStrand implements asio.Proactor with a goroutine-backed strand of
// queue depth 64.
func (p *Proactor) CreateStrand() dispatch.Strand {
	return dispatch.NewGoroutineStrand(64)
}

// simTimer is the Timer implementation returned by CreateTimer.
type simTimer struct {
	t *time.Timer
}

func (s *simTimer) Cancel() { s.t.Stop() }

// CreateTimer implements asio.Proactor with a real time.Timer; the
// simulated machine models network determinism, not wall-clock scheduling.
func (p *Proactor) CreateTimer(d time.Duration, fn func()) asio.Timer {
	t := time.AfterFunc(d, fn)
	return &simTimer{t: t}
}

// Execute implements asio.Proactor.
func (p *Proactor) Execute(fn func()) { go fn() }

// MaxThreads implements asio.Proactor.
func (p *Proactor) MaxThreads() int { return p.maxThreads }

// AttachListener implements asio.Proactor, binding l's handle to endpoint
// via the underlying Machine before registering l to receive accepts.
func (p *Proactor) AttachListener(l asio.ProactorListener, endpoint asio.Endpoint, opts asio.ListenOptions) error {
	if err := p.machine.Listen(l.Handle(), endpoint, opts.Backlog); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners[l.Handle()] = l
	return nil
}

// DetachListener implements asio.Proactor.
func (p *Proactor) DetachListener(l asio.ProactorListener) error {
	h := l.Handle()
	p.mu.Lock()
	delete(p.listeners, h)
	p.mu.Unlock()
	_ = p.machine.Close(h)
	l.ProcessListenerDetached()
	return nil
}

// AcceptNext implements asio.Proactor.
func (p *Proactor) AcceptNext(h asio.Handle) error {
	p.machine.enqueueAccept(h, func(accepted asio.Handle, remote asio.Endpoint, err error) {
		p.mu.Lock()
		l := p.listeners[h]
		p.mu.Unlock()
		if l != nil {
			l.ProcessListenerAccepted(accepted, remote, err)
		}
	})
	return nil
}

var _ asio.Proactor = (*Proactor)(nil)
