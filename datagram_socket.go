package asio

import (
	"sync"
	"time"

	"github.com/sagernet/asio/detachstate"
	"github.com/sagernet/asio/dispatch"
	"github.com/sagernet/asio/flowctl"
	"github.com/sagernet/asio/queue"
	"github.com/sagernet/asio/resolver"
	"github.com/sagernet/asio/shutdownstate"
	"github.com/sagernet/asio/zcomp"
)

// DatagramSocket is the state machine for a connectionless socket. It
// mediates user send/receive/bind/connect/shutdown requests against a
// Proactor collaborator, tracking flow control, shutdown progress, and
// dispatcher detachment exactly as smux's Session mediates
// OpenStream/AcceptStream/Close against its underlying conn, generalized
// from "one multiplexed connection" to "one socket of a kernel (real or
// simulated) the caller does not otherwise touch directly."
type DatagramSocket struct {
	mu sync.Mutex

	config   *Config
	proactor Proactor

	handle    Handle
	transport Transport
	opened    bool

	local  *Endpoint
	remote *Endpoint

	flow     *flowctl.State
	shutdown *shutdownstate.State
	detach   *detachstate.State

	sendQ         *queue.Queue[*SendEntry]
	recvQ         *queue.Queue[*ReceiveEntry]
	recvCallbacks *queue.CallbackQueue[ReceiveResult]

	strand dispatch.Strand

	retain   retainGuard
	deferred deferredQueue

	closeCallbacks []func()
}

// NewDatagramSocket constructs an unopened datagram socket bound to config
// and proactor.
func NewDatagramSocket(config *Config, proactor Proactor) *DatagramSocket {
	return &DatagramSocket{
		config:        config,
		proactor:      proactor,
		transport:     TransportDatagram,
		flow:          flowctl.New(),
		shutdown:      shutdownstate.New(),
		detach:        detachstate.New(),
		sendQ:         queue.New[*SendEntry](config.WriteWatermarks),
		recvQ:         queue.New[*ReceiveEntry](config.ReadWatermarks),
		recvCallbacks: queue.NewCallbackQueue[ReceiveResult](),
	}
}

// Handle implements ProactorSocket.
func (s *DatagramSocket) Handle() Handle { return s.handle }

func (s *DatagramSocket) dispatchOpts(defer_ bool) dispatch.Options {
	return dispatch.Options{
		Destination: s.strand,
		Source:      s.strand,
		Executor:    proactorExecutor{s.proactor},
		Defer:       defer_,
		Mutex:       &s.mu,
	}
}

type proactorExecutor struct{ p Proactor }

func (e proactorExecutor) Execute(fn func()) { e.p.Execute(fn) }

// Open acquires a socket of the given transport from the proactor, binds to
// any configured source endpoint, and attaches to the dispatcher. Fails if
// already open with a different transport.
func (s *DatagramSocket) Open(transport Transport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openLocked(transport, 0, false)
}

// OpenWithHandle adopts an existing handle (e.g. one returned by a prior
// Release) instead of acquiring a new one.
func (s *DatagramSocket) OpenWithHandle(transport Transport, h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openLocked(transport, h, true)
}

func (s *DatagramSocket) openLocked(transport Transport, h Handle, adopt bool) error {
	if s.opened {
		if s.transport != transport {
			return newErr(KindInvalid, nil)
		}
		return nil
	}
	s.transport = transport
	if adopt {
		s.handle = h
	} else {
		s.handle = s.proactor.AllocateHandle(transport)
	}
	s.strand = s.proactor.CreateStrand()
	if err := s.proactor.AttachSocket(s); err != nil {
		return newErr(KindTransport, err)
	}
	s.opened = true
	if !adopt && s.config.Manager != nil {
		s.config.Manager.ProcessSocketEstablished(s.handle)
	}
	return nil
}

// Bind binds the socket to endpoint, opening it implicitly if needed.
func (s *DatagramSocket) Bind(endpoint Endpoint, opts BindOptions, cb func(error)) error {
	s.mu.Lock()
	if !s.opened {
		if err := s.openLocked(s.transport, 0, false); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	h := s.handle
	s.mu.Unlock()
	bound, err := s.proactor.Bind(h, endpoint, opts)
	if err != nil {
		if cb != nil {
			cb(newErr(KindTransport, err))
		}
		return newErr(KindTransport, err)
	}
	s.mu.Lock()
	s.local = &bound
	s.mu.Unlock()
	if cb != nil {
		cb(nil)
	}
	return nil
}

// BindName resolves name via the configured Resolver, then binds.
func (s *DatagramSocket) BindName(name string, opts BindOptions, cb func(error)) error {
	if s.config.Resolver == nil {
		return newErr(KindNotImplemented, nil)
	}
	return s.config.Resolver.GetEndpoint(name, resolver.Options{}, func(endpoint string, _ resolver.Context, err error) {
		if err != nil {
			if cb != nil {
				cb(newErr(KindTransport, err))
			}
			return
		}
		ep, parseErr := parseEndpoint(endpoint)
		if parseErr != nil {
			if cb != nil {
				cb(newErr(KindInvalid, parseErr))
			}
			return
		}
		cb(s.Bind(ep, opts, nil))
	})
}

// Connect sets the socket's default remote endpoint (datagram "connect" does
// not establish anything on the wire), opening and binding implicitly if
// needed. Fails if endpoint is any-address or port zero.
func (s *DatagramSocket) Connect(endpoint Endpoint, opts ConnectOptions, cb func(error)) error {
	if endpoint.IsAnyAddress() || (endpoint.Kind != EndpointLocal && endpoint.Port == 0) {
		return newErr(KindInvalid, nil)
	}
	s.mu.Lock()
	if !s.opened {
		if err := s.openLocked(s.transport, 0, false); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.remote = &endpoint
	s.mu.Unlock()
	if cb != nil {
		cb(nil)
	}
	return nil
}

// ConnectName resolves name, then Connects.
func (s *DatagramSocket) ConnectName(name string, opts ConnectOptions, cb func(error)) error {
	if s.config.Resolver == nil {
		return newErr(KindNotImplemented, nil)
	}
	return s.config.Resolver.GetEndpoint(name, resolver.Options{}, func(endpoint string, _ resolver.Context, err error) {
		if err != nil {
			if cb != nil {
				cb(newErr(KindTransport, err))
			}
			return
		}
		ep, parseErr := parseEndpoint(endpoint)
		if parseErr != nil {
			if cb != nil {
				cb(newErr(KindInvalid, parseErr))
			}
			return
		}
		cb(s.Connect(ep, opts, nil))
	})
}

// Send enqueues payload for transmission.
func (s *DatagramSocket) Send(payload []byte, opts SendOptions, cb SendCallback) error {
	s.mu.Lock()

	if len(payload) > s.config.MaxDatagramSize {
		s.mu.Unlock()
		return newErr(KindInvalid, nil)
	}
	if opts.Destination == nil && s.remote == nil {
		s.mu.Unlock()
		return newErr(KindInvalid, nil)
	}
	if s.shutdown.SendInitiated() {
		s.mu.Unlock()
		return newErr(KindInvalid, nil)
	}

	high := opts.HighWatermark
	if high == 0 {
		high = s.sendQ.Context().High
	}
	if s.sendQ.Bytes()+len(payload) > high {
		if s.sendQ.AuthorizeHighWatermarkEvent() {
			s.announceWriteHigh()
		}
		s.mu.Unlock()
		return newErr(KindWouldBlock, nil)
	}

	out := payload
	if opts.Compress && s.config.Compressor != nil {
		buf, _, err := zcomp.DeflateBytes(s.config.Compressor, payload, zcomp.Options{Type: zcomp.Type(opts.CompressType)})
		if err != nil {
			s.mu.Unlock()
			return newErr(KindInvalid, err)
		}
		out = buf
	}

	entry := &SendEntry{
		ID:          allocID(),
		Token:       opts.Token,
		HasToken:    opts.HasToken,
		Destination: opts.Destination,
		Payload:     out,
		EnqueuedAt:  time.Now(),
		Callback:    cb,
	}
	if opts.HasDeadline {
		entry.HasDeadline = true
		entry.Deadline = opts.Deadline
		dl := opts.Deadline
		entry.Timer = s.proactor.CreateTimer(time.Until(dl), func() {
			s.handleSendDeadline(entry.ID)
		})
	}

	becameNonEmpty := s.sendQ.Push(entry)
	s.flow.Relax(flowctl.Send, false)
	if becameNonEmpty {
		s.pumpSendLocked(entry)
	}
	s.mu.Unlock()
	return nil
}

// pumpSendLocked dispatches entry to the proactor unless the configured
// RateLimiterSend reports that submitting it right now would exceed
// bandwidth. In that case send flow control is locked and a timer is armed
// for the limiter's own reported timeToSubmit; on fire, flow control relaxes
// and the same entry is retried. Must be called with mu held.
func (s *DatagramSocket) pumpSendLocked(entry *SendEntry) {
	if s.config.RateLimiterSend != nil {
		now := time.Now()
		if s.config.RateLimiterSend.WouldExceedBandwidth(now, len(entry.Payload)) {
			s.flow.Apply(flowctl.Send, true)
			wait := s.config.RateLimiterSend.TimeToSubmit(now, len(entry.Payload))
			s.proactor.CreateTimer(wait, func() { s.handleSendAdmission() })
			return
		}
	}
	dest := entry.Destination
	if dest == nil {
		dest = s.remote
	}
	s.retain.enter()
	_ = s.proactor.Send(s.handle, entry.Payload, SendOptions{Destination: dest})
}

func (s *DatagramSocket) handleSendAdmission() {
	s.mu.Lock()
	s.flow.Relax(flowctl.Send, true)
	entry, ok := s.sendQ.Front()
	if !ok {
		s.mu.Unlock()
		return
	}
	s.pumpSendLocked(entry)
	s.mu.Unlock()
}

// Receive matches an already-buffered entry immediately, or enqueues the
// callback.
func (s *DatagramSocket) Receive(opts ReceiveOptions, cb ReceiveCallback) error {
	s.mu.Lock()

	if entry, ok := s.recvQ.Pop(); ok {
		s.maybeAnnounceReadLow()
		s.mu.Unlock()
		cb(ReceiveResult{Source: entry.Source, Data: entry.Payload})
		return nil
	}

	if s.shutdown.ReceiveComplete() {
		s.mu.Unlock()
		cb(ReceiveResult{Err: newErr(KindEOF, nil)})
		return nil
	}

	callback := queue.Callback[ReceiveResult]{
		ID:    allocID(),
		Token: opts.Token,
		Has:   opts.HasToken,
		Fn: func(r ReceiveResult, err error) {
			if err != nil && r.Err == nil {
				r.Err = err
			}
			cb(r)
		},
	}
	s.recvCallbacks.PushCallback(callback)
	s.flow.Relax(flowctl.Receive, false)
	s.pumpReceiveLocked(opts)

	if opts.HasDeadline {
		dl := opts.Deadline
		s.proactor.CreateTimer(time.Until(dl), func() {
			s.handleReceiveDeadline(callback.ID)
		})
	}
	s.mu.Unlock()
	return nil
}

// pumpReceiveLocked arms the next Receive on the proactor unless the
// configured RateLimiterReceive reports that a full-size receive right now
// would exceed bandwidth, using MaxDatagramSize as the worst-case estimate
// since the actual arrival size is unknown until it happens. Must be called
// with mu held.
func (s *DatagramSocket) pumpReceiveLocked(opts ReceiveOptions) {
	if s.config.RateLimiterReceive != nil {
		now := time.Now()
		estimate := s.config.MaxDatagramSize
		if s.config.RateLimiterReceive.WouldExceedBandwidth(now, estimate) {
			s.flow.Apply(flowctl.Receive, true)
			wait := s.config.RateLimiterReceive.TimeToSubmit(now, estimate)
			s.proactor.CreateTimer(wait, func() { s.handleReceiveAdmission(opts) })
			return
		}
	}
	s.retain.enter()
	_ = s.proactor.Receive(s.handle, opts)
}

func (s *DatagramSocket) handleReceiveAdmission(opts ReceiveOptions) {
	s.mu.Lock()
	s.flow.Relax(flowctl.Receive, true)
	s.pumpReceiveLocked(opts)
	s.mu.Unlock()
}

// Shutdown initiates shutdown in the given direction(s). Graceful mode on a
// nonempty send queue enqueues a sentinel instead of transitioning
// immediately; immediate mode transitions at once.
func (s *DatagramSocket) Shutdown(dir ShutdownDirection, mode ShutdownMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dir == ShutdownSendDirection || dir == ShutdownBothDirections {
		if mode == ShutdownGraceful && s.sendQ.Len() > 0 {
			s.sendQ.Push(newShutdownMarker())
		} else {
			s.transitionShutdownSend()
		}
	}
	if dir == ShutdownReceiveDirection || dir == ShutdownBothDirections {
		s.transitionShutdownReceive()
	}
	return nil
}

func (s *DatagramSocket) transitionShutdownSend() {
	ctx, changed := s.shutdown.TryShutdownSend(shutdownstate.OriginLocal, s.config.KeepHalfOpen)
	if !changed {
		return
	}
	s.announceShutdown(ctx)
}

func (s *DatagramSocket) transitionShutdownReceive() {
	ctx, changed := s.shutdown.TryShutdownReceive(shutdownstate.OriginLocal, s.config.KeepHalfOpen)
	if !changed {
		return
	}
	s.announceShutdown(ctx)
	if ctx.ReceiveInitiated {
		s.shutdown.CompleteReceive()
		for _, cb := range s.recvCallbacks.PopAllCallbacks() {
			fn := cb.Fn
			dispatch.Announce(s.dispatchOpts(true), func() { fn(ReceiveResult{}, newErr(KindEOF, nil)) })
		}
	}
}

// announceShutdown notifies the Session collaborator of whichever
// directions just transitioned. Half-open shutdown announcements are always
// deferred.
func (s *DatagramSocket) announceShutdown(ctx *shutdownstate.Context) {
	if ctx == nil {
		return
	}
	session := s.config.Session
	if session == nil {
		return
	}
	h := s.handle
	if ctx.SendInitiated {
		dispatch.Announce(s.dispatchOpts(true), func() { session.ProcessShutdownInitiated(h, ShutdownSendDirection) })
	}
	if ctx.ReceiveInitiated {
		dispatch.Announce(s.dispatchOpts(true), func() { session.ProcessShutdownInitiated(h, ShutdownReceiveDirection) })
	}
}

// Release detaches the socket from the engine; the caller receives the
// handle back. Release and Close both go through Proactor.DetachSocket, and
// the simnet and netproactor implementations close the underlying session
// or connection there, so with those Proactors the returned handle no
// longer refers to an open socket.
func (s *DatagramSocket) Release(cb func(Handle, error)) error {
	s.mu.Lock()
	h := s.handle
	if !s.detach.Initiate(detachstate.GoalExport) {
		s.mu.Unlock()
		cb(h, newErr(KindInvalid, nil))
		return nil
	}
	s.deferred.push(func() { cb(h, nil) })
	s.mu.Unlock()
	return s.proactor.DetachSocket(s)
}

// Close fully shuts down both directions and releases the socket.
func (s *DatagramSocket) Close(cb func(error)) error {
	s.mu.Lock()
	if !s.opened {
		s.mu.Unlock()
		if cb != nil {
			cb(nil)
		}
		return nil
	}
	s.transitionShutdownSend()
	s.transitionShutdownReceive()
	s.flow.Close()

	if !s.detach.Initiate(detachstate.GoalClose) {
		// a detach (e.g. from a prior Release) is already in flight: queue
		// behind it so the caller never observes a closed socket the
		// dispatcher still holds.
		if cb != nil {
			s.deferred.push(func() { cb(nil) })
		}
		s.mu.Unlock()
		return nil
	}
	if cb != nil {
		s.closeCallbacks = append(s.closeCallbacks, cb)
	}
	s.opened = false
	s.mu.Unlock()
	return s.proactor.DetachSocket(s)
}

// ProcessSocketDetached implements ProactorSocket: the dispatcher has
// confirmed this socket is no longer in its observation set, so deferred
// close/release callbacks may now run.
func (s *DatagramSocket) ProcessSocketDetached() {
	s.mu.Lock()
	s.detach.Acknowledge()
	closeCallbacks := s.closeCallbacks
	s.closeCallbacks = nil
	if s.config.Manager != nil {
		s.config.Manager.ProcessSocketClosed(s.handle)
	}
	s.mu.Unlock()

	for _, cb := range closeCallbacks {
		cb(nil)
	}
	s.mu.Lock()
	s.deferred.flush()
	s.mu.Unlock()
}

// ProcessSocketSent implements ProactorSocket: a previously-submitted send
// has completed (or failed).
func (s *DatagramSocket) ProcessSocketSent(result SendResult) {
	s.retain.leave()
	s.mu.Lock()
	entry, ok := s.sendQ.Pop()
	if !ok {
		s.mu.Unlock()
		return
	}
	if entry.Timer != nil {
		entry.Timer.Cancel()
	}

	if result.Err == nil && s.config.RateLimiterSend != nil {
		s.config.RateLimiterSend.Submit(time.Now(), result.Bytes)
	}

	s.maybeAnnounceWriteLow()

	isMarker := entry.isShutdownMarker
	if isMarker {
		s.transitionShutdownSend()
	}

	if next, ok := s.sendQ.Front(); ok {
		s.pumpSendLocked(next)
	}
	s.mu.Unlock()

	if entry.Callback != nil && !isMarker {
		entry.Callback(result)
	}

	if result.Err != nil && KindOf(result.Err) != KindCancelled && KindOf(result.Err) != KindWouldBlock {
		s.announceTransportErrorAndShutdown(result.Err)
	}
}

// ProcessSocketReceived implements ProactorSocket.
func (s *DatagramSocket) ProcessSocketReceived(result ReceiveResult) {
	s.retain.leave()
	s.mu.Lock()

	if result.Err != nil {
		if KindOf(result.Err) == KindCancelled {
			if s.flow.ReceiveEnabled() {
				s.pumpReceiveLocked(ReceiveOptions{})
			}
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		s.announceTransportErrorAndShutdown(result.Err)
		return
	}

	if s.config.RateLimiterReceive != nil {
		s.config.RateLimiterReceive.Submit(time.Now(), len(result.Data))
	}

	data := result.Data
	if s.config.Compressor != nil {
		if decoded, _, err := zcomp.InflateBytes(s.config.Compressor, data, zcomp.Options{}); err == nil {
			data = decoded
		}
	}

	if cb, ok := s.recvCallbacks.PopCallback(); ok {
		s.mu.Unlock()
		cb.Fn(ReceiveResult{Source: result.Source, Data: data}, nil)
		return
	}

	s.recvQ.Push(newReceiveEntry(result.Source, data))
	if s.sendAuthorizeHigh() {
		s.announceReadHigh()
	}
	s.mu.Unlock()
}

// ProcessSocketConnected implements ProactorSocket. Datagram sockets never
// issue an asynchronous Connect (Connect is a purely local endpoint
// assignment), so this is never invoked in practice.
func (s *DatagramSocket) ProcessSocketConnected(error) {}

// ProcessSocketError implements ProactorSocket.
func (s *DatagramSocket) ProcessSocketError(err error) {
	s.announceTransportErrorAndShutdown(err)
}

func (s *DatagramSocket) announceTransportErrorAndShutdown(err error) {
	s.mu.Lock()
	session := s.config.Session
	h := s.handle
	s.mu.Unlock()
	if session != nil {
		session.ProcessError(h, newErr(KindTransport, err))
	}
	s.Shutdown(ShutdownBothDirections, ShutdownImmediate)
}

func (s *DatagramSocket) handleSendDeadline(id uint64) {
	s.mu.Lock()
	entry, removed, _ := s.sendQ.RemoveByID(id)
	s.mu.Unlock()
	if removed && entry.Callback != nil {
		entry.Callback(SendResult{ID: id, Err: newErr(KindTimeout, nil)})
	}
}

func (s *DatagramSocket) handleReceiveDeadline(id uint64) {
	// A receive deadline has no effect: CallbackQueue offers no removal by
	// ID, so the callback registered under id stays queued until data,
	// shutdown or a token cancellation resolves it, and it is never
	// completed with a timeout. The timer itself is not kept and is not
	// cancelled when the receive completes.
	_ = id
}

func (s *DatagramSocket) maybeAnnounceWriteLow() {
	if s.sendQ.AuthorizeLowWatermarkEvent() {
		session := s.config.Session
		h := s.handle
		if session != nil {
			dispatch.Announce(s.dispatchOpts(false), func() { session.ProcessWriteQueueLowWatermark(h) })
		}
	}
}

func (s *DatagramSocket) maybeAnnounceReadLow() {
	if s.recvQ.AuthorizeLowWatermarkEvent() {
		session := s.config.Session
		h := s.handle
		if session != nil {
			dispatch.Announce(s.dispatchOpts(false), func() { session.ProcessReadQueueLowWatermark(h) })
		}
	}
}

func (s *DatagramSocket) sendAuthorizeHigh() bool {
	return s.recvQ.AuthorizeHighWatermarkEvent()
}

func (s *DatagramSocket) announceReadHigh() {
	session := s.config.Session
	h := s.handle
	if session != nil {
		dispatch.Announce(s.dispatchOpts(false), func() { session.ProcessReadQueueHighWatermark(h) })
	}
}

func (s *DatagramSocket) announceWriteHigh() {
	session := s.config.Session
	h := s.handle
	if session != nil {
		dispatch.Announce(s.dispatchOpts(false), func() { session.ProcessWriteQueueHighWatermark(h) })
	}
}

// LocalEndpoint returns the socket's bound source endpoint, if any.
func (s *DatagramSocket) LocalEndpoint() (Endpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.local == nil {
		return Endpoint{}, false
	}
	return *s.local, true
}

// RemoteEndpoint returns the socket's default remote endpoint, if any.
func (s *DatagramSocket) RemoteEndpoint() (Endpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remote == nil {
		return Endpoint{}, false
	}
	return *s.remote, true
}

// SetReadWatermarks updates the receive queue's watermarks.
func (s *DatagramSocket) SetReadWatermarks(low, high int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recvQ.SetWatermarks(queue.Watermarks{Low: low, High: high})
}

// SetWriteWatermarks updates the send queue's watermarks.
func (s *DatagramSocket) SetWriteWatermarks(low, high int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendQ.SetWatermarks(queue.Watermarks{Low: low, High: high})
}

var _ ProactorSocket = (*DatagramSocket)(nil)
