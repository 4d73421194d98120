package asio

import (
	"sync"

	"github.com/sagernet/asio/detachstate"
)

// ListenerSocket accepts incoming stream connections. It generalizes the
// teacher's AcceptStream/chAccepts backlog
// channel from "next multiplexed stream over an existing conn" to "next
// physically accepted connection," handing each one to the caller as an
// already-`connected` *StreamSocket built with the listener's own Config
// (and therefore its Manager and Session).
type ListenerSocket struct {
	mu sync.Mutex

	config   *Config
	proactor Proactor

	handle Handle
	opened bool

	local *Endpoint

	detach *detachstate.State

	pending []acceptedConn
	waiters []func(*StreamSocket, error)

	closeCallbacks []func()
}

type acceptedConn struct {
	handle Handle
	remote Endpoint
	err    error
}

// NewListenerSocket constructs an unopened listener using config for each
// accepted StreamSocket's collaborators.
func NewListenerSocket(config *Config, proactor Proactor) *ListenerSocket {
	return &ListenerSocket{
		config:   config,
		proactor: proactor,
		detach:   detachstate.New(),
	}
}

// Handle implements ProactorListener.
func (l *ListenerSocket) Handle() Handle { return l.handle }

// Listen binds the listener to endpoint and begins accepting connections.
func (l *ListenerSocket) Listen(endpoint Endpoint, opts ListenOptions) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.opened {
		return newErr(KindInvalid, nil)
	}
	if opts.Backlog <= 0 {
		opts.Backlog = 1
	}
	l.handle = l.proactor.AllocateHandle(TransportStream)
	if err := l.proactor.AttachListener(l, endpoint, opts); err != nil {
		return newErr(KindTransport, err)
	}
	l.opened = true
	l.local = &endpoint
	if l.config.Manager != nil {
		l.config.Manager.ProcessSocketEstablished(l.handle)
	}
	for i := 0; i < opts.Backlog; i++ {
		if err := l.proactor.AcceptNext(l.handle); err != nil {
			return newErr(KindTransport, err)
		}
	}
	return nil
}

// Accept delivers the next accepted connection to cb, either immediately
// (if one is already buffered) or once ProcessListenerAccepted next fires.
func (l *ListenerSocket) Accept(cb func(*StreamSocket, error)) error {
	l.mu.Lock()
	if len(l.pending) > 0 {
		next := l.pending[0]
		l.pending = l.pending[1:]
		l.mu.Unlock()
		l.completeAccept(next, cb)
		return nil
	}
	l.waiters = append(l.waiters, cb)
	l.mu.Unlock()
	return nil
}

func (l *ListenerSocket) completeAccept(a acceptedConn, cb func(*StreamSocket, error)) {
	if a.err != nil {
		cb(nil, newErr(KindTransport, a.err))
		return
	}
	s, err := newAcceptedStreamSocket(l.config, l.proactor, a.handle, a.remote)
	if err != nil {
		cb(nil, err)
		return
	}
	cb(s, nil)
}

// ProcessListenerAccepted implements ProactorListener: one new connection
// arrived, or the accept failed. Either way a replacement AcceptNext is
// submitted to keep the backlog full, matching smux's "always leave a
// slot armed" accept-loop idiom.
func (l *ListenerSocket) ProcessListenerAccepted(accepted Handle, remote Endpoint, err error) {
	l.mu.Lock()
	a := acceptedConn{handle: accepted, remote: remote, err: err}
	var cb func(*StreamSocket, error)
	if len(l.waiters) > 0 {
		cb = l.waiters[0]
		l.waiters = l.waiters[1:]
	} else {
		l.pending = append(l.pending, a)
	}
	h := l.handle
	l.mu.Unlock()

	if cb != nil {
		l.completeAccept(a, cb)
	}
	_ = l.proactor.AcceptNext(h)
}

// ProcessListenerError implements ProactorListener.
func (l *ListenerSocket) ProcessListenerError(err error) {
	l.mu.Lock()
	session := l.config.Session
	h := l.handle
	l.mu.Unlock()
	if session != nil {
		session.ProcessError(h, newErr(KindTransport, err))
	}
}

// ProcessListenerDetached implements ProactorListener.
func (l *ListenerSocket) ProcessListenerDetached() {
	l.mu.Lock()
	l.detach.Acknowledge()
	callbacks := l.closeCallbacks
	l.closeCallbacks = nil
	if l.config.Manager != nil {
		l.config.Manager.ProcessSocketClosed(l.handle)
	}
	l.mu.Unlock()
	for _, cb := range callbacks {
		cb()
	}
}

// Close stops accepting and detaches the listener.
func (l *ListenerSocket) Close(cb func()) error {
	l.mu.Lock()
	if !l.opened {
		l.mu.Unlock()
		if cb != nil {
			cb()
		}
		return nil
	}
	if !l.detach.Initiate(detachstate.GoalClose) {
		if cb != nil {
			l.closeCallbacks = append(l.closeCallbacks, cb)
		}
		l.mu.Unlock()
		return nil
	}
	if cb != nil {
		l.closeCallbacks = append(l.closeCallbacks, cb)
	}
	l.opened = false
	l.mu.Unlock()
	return l.proactor.DetachListener(l)
}

// LocalEndpoint returns the endpoint passed to Listen, if any. A zero port
// is reported as given, not as the port the Proactor assigned.
func (l *ListenerSocket) LocalEndpoint() (Endpoint, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.local == nil {
		return Endpoint{}, false
	}
	return *l.local, true
}

var _ ProactorListener = (*ListenerSocket)(nil)
