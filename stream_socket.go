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
)

// connectionPhase is the stream socket's connection state machine: closed →
// connecting → connected → shuttingDown{Send,Receive} → closed, with
// upgrading/downgrading tracked as parallel bools on StreamSocket (a stream
// socket is never mid-handshake and mid-connect at once, so two flags
// suffice rather than a second enum dimension).
type connectionPhase int

const (
	phaseClosed connectionPhase = iota
	phaseConnecting
	phaseConnected
	phaseShuttingDownSend
	phaseShuttingDownReceive
)

// defaultStreamReceiveMax bounds a single ProcessSocketReceived->callback
// hand-off when the caller leaves ReceiveOptions.MaxBytes unset.
const defaultStreamReceiveMax = 1 << 16

// StreamSocket is the state machine for a connection-oriented socket. It
// generalizes smux's Session/Stream pair (one multiplexed logical stream
// over one physical conn) down to one physical connection:
// connect-with-retry replaces smux's single Dial, AcceptStream's backlog
// channel becomes ListenerSocket, and the optional TLS upgrade/downgrade has
// no smux analogue and is modeled directly around a pre-encryption
// buffering queue.
type StreamSocket struct {
	mu sync.Mutex

	config   *Config
	proactor Proactor

	handle Handle
	opened bool
	phase  connectionPhase

	local  *Endpoint
	remote *Endpoint

	flow     *flowctl.State
	shutdown *shutdownstate.State
	detach   *detachstate.State

	sendQ         *queue.Queue[*SendEntry]
	recvCallbacks *queue.CallbackQueue[ReceiveResult]
	recvBuf       []byte
	minReceive    int
	maxReceive    int

	strand dispatch.Strand

	retain   retainGuard
	deferred deferredQueue

	// Optional TLS upgrade/downgrade state and the pre-encryption buffering
	// queue it uses while a handshake is in flight.
	tls             TLSCapability
	upgrading       bool
	downgrading     bool
	downgradeCalled bool
	encode      func(plain []byte) (cipher []byte, err error)
	decode      func(cipher []byte) (plain []byte, err error)
	preEncryptQ []preEncryptedSend

	connect *connectAttemptState

	closeCallbacks []func(error)
}

// preEncryptedSend is one Send buffered while a TLS upgrade handshake is in
// flight, carrying the caller's callback through to the post-handshake
// SendEntry so it still fires exactly once, against the real outcome.
type preEncryptedSend struct {
	payload []byte
	cb      SendCallback
}

// connectAttemptState tracks one in-progress connect-with-retry sequence.
type connectAttemptState struct {
	endpoint  Endpoint
	opts      ConnectOptions
	policy    *RetryPolicy
	attempt   int
	attempts  []ConnectAttempt
	cb        func(error)
	ttlTimer  Timer
	backoffT  Timer
}

// NewStreamSocket constructs an unopened, unconnected stream socket.
func NewStreamSocket(config *Config, proactor Proactor) *StreamSocket {
	return &StreamSocket{
		config:        config,
		proactor:      proactor,
		phase:         phaseClosed,
		flow:          flowctl.New(),
		shutdown:      shutdownstate.New(),
		detach:        detachstate.New(),
		sendQ:         queue.New[*SendEntry](config.WriteWatermarks),
		recvCallbacks: queue.NewCallbackQueue[ReceiveResult](),
		minReceive:    1,
		maxReceive:    defaultStreamReceiveMax,
	}
}

// newAcceptedStreamSocket wraps a handle already connected by a
// ListenerSocket's accept flow, skipping the connect-with-retry path
// entirely.
func newAcceptedStreamSocket(config *Config, proactor Proactor, h Handle, remote Endpoint) (*StreamSocket, error) {
	s := NewStreamSocket(config, proactor)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handle = h
	s.remote = &remote
	s.strand = proactor.CreateStrand()
	if err := proactor.AttachSocket(s); err != nil {
		return nil, newErr(KindTransport, err)
	}
	s.opened = true
	s.phase = phaseConnected
	if s.config.Manager != nil {
		s.config.Manager.ProcessSocketEstablished(s.handle)
	}
	return s, nil
}

// Handle implements ProactorSocket.
func (s *StreamSocket) Handle() Handle { return s.handle }

func (s *StreamSocket) dispatchOpts(defer_ bool) dispatch.Options {
	return dispatch.Options{
		Destination: s.strand,
		Source:      s.strand,
		Executor:    proactorExecutor{s.proactor},
		Defer:       defer_,
		Mutex:       &s.mu,
	}
}

// Connect begins a connect-with-retry sequence against endpoint. Each
// attempt re-opens the underlying handle (a failed connect commonly leaves
// the descriptor unusable) and runs under its own per-attempt deadline,
// taken from the RetryPolicy's PerAttemptTTL (none when it is zero).
func (s *StreamSocket) Connect(endpoint Endpoint, opts ConnectOptions, cb func(error)) error {
	s.mu.Lock()
	if s.phase != phaseClosed {
		s.mu.Unlock()
		return newErr(KindInvalid, nil)
	}
	policy := opts.RetryPolicy
	if policy == nil {
		policy = DefaultRetryPolicy(1, 0, 0)
	}
	s.connect = &connectAttemptState{endpoint: endpoint, opts: opts, policy: policy, cb: cb}
	s.phase = phaseConnecting
	s.mu.Unlock()
	return s.beginConnectAttempt()
}

// ConnectName resolves name, then Connects.
func (s *StreamSocket) ConnectName(name string, opts ConnectOptions, cb func(error)) error {
	if s.config.Resolver == nil {
		return newErr(KindNotImplemented, nil)
	}
	return s.config.Resolver.GetEndpoint(name, resolver.Options{}, func(endpoint string, _ resolver.Context, err error) {
		if err != nil {
			cb(newErr(KindTransport, err))
			return
		}
		ep, parseErr := parseEndpoint(endpoint)
		if parseErr != nil {
			cb(newErr(KindInvalid, parseErr))
			return
		}
		// Connect is asynchronous: its own cb delivers the real outcome via
		// ProcessSocketConnected/recordConnectFailure. Its synchronous return
		// value only ever carries the "already connecting" rejection, which
		// never invokes cb itself, so that value must not be handed to cb a
		// second time here.
		if err := s.Connect(ep, opts, cb); err != nil {
			cb(err)
		}
	})
}

func (s *StreamSocket) beginConnectAttempt() error {
	s.mu.Lock()
	if s.opened {
		s.opened = false
		// DetachSocket reports back through ProcessSocketDetached, which
		// takes mu itself.
		s.mu.Unlock()
		_ = s.proactor.DetachSocket(s)
		s.mu.Lock()
	}
	s.handle = s.proactor.AllocateHandle(TransportStream)
	s.strand = s.proactor.CreateStrand()
	if err := s.proactor.AttachSocket(s); err != nil {
		c := s.connect
		s.connect = nil
		s.phase = phaseClosed
		s.mu.Unlock()
		// The failure is delivered exclusively through cb, matching every
		// other connect-attempt outcome: callers must never also see it on
		// this function's synchronous return path.
		if c != nil && c.cb != nil {
			c.cb(newErr(KindTransport, err))
		}
		return nil
	}
	s.opened = true

	c := s.connect
	started := time.Now()
	ttl := c.policy.PerAttemptTTL
	if ttl > 0 {
		c.ttlTimer = s.proactor.CreateTimer(ttl, func() { s.handleConnectAttemptTimeout() })
	}
	s.mu.Unlock()

	err := s.proactor.Connect(s.handle, c.endpoint, c.opts)
	if err != nil {
		s.recordConnectFailure(newErr(KindTransport, err), started)
	}
	return nil
}

func (s *StreamSocket) handleConnectAttemptTimeout() {
	s.mu.Lock()
	c := s.connect
	if c == nil || s.phase != phaseConnecting {
		s.mu.Unlock()
		return
	}
	h := s.handle
	s.mu.Unlock()
	_ = s.proactor.Cancel(h)
}

// ProcessSocketConnected implements ProactorSocket: delivers the outcome of
// one connect attempt.
func (s *StreamSocket) ProcessSocketConnected(err error) {
	s.mu.Lock()
	c := s.connect
	if c == nil {
		s.mu.Unlock()
		return
	}
	if c.ttlTimer != nil {
		c.ttlTimer.Cancel()
		c.ttlTimer = nil
	}
	if err == nil {
		s.phase = phaseConnected
		s.remote = &c.endpoint
		cb := c.cb
		s.connect = nil
		s.mu.Unlock()
		if cb != nil {
			cb(nil)
		}
		return
	}
	s.mu.Unlock()
	s.recordConnectFailure(newErr(KindTransport, err), time.Now())
}

func (s *StreamSocket) recordConnectFailure(failure error, startedAt time.Time) {
	s.mu.Lock()
	c := s.connect
	if c == nil {
		s.mu.Unlock()
		return
	}
	c.attempts = append(c.attempts, ConnectAttempt{Endpoint: c.endpoint, StartedAt: startedAt, Err: failure})
	c.attempt++
	if c.attempt >= c.policy.MaxAttempts {
		s.phase = phaseClosed
		cb := c.cb
		s.connect = nil
		s.mu.Unlock()
		if s.config.Manager != nil {
			s.config.Manager.ProcessSocketLimit(s.handle)
		}
		if cb != nil {
			cb(failure)
		}
		return
	}
	delay := time.Duration(0)
	if c.policy.NextDelay != nil {
		delay = c.policy.NextDelay(c.attempt - 1)
	}
	s.mu.Unlock()
	if delay <= 0 {
		_ = s.beginConnectAttempt()
		return
	}
	s.mu.Lock()
	c.backoffT = s.proactor.CreateTimer(delay, func() { _ = s.beginConnectAttempt() })
	s.mu.Unlock()
}

// Send enqueues payload for transmission over the connected stream.
// Encrypts first if a TLS upgrade is active; buffers in the pre-encryption
// queue while an upgrade handshake is in flight.
func (s *StreamSocket) Send(payload []byte, opts SendOptions, cb SendCallback) error {
	s.mu.Lock()
	if s.phase != phaseConnected {
		s.mu.Unlock()
		return newErr(KindInvalid, nil)
	}
	if s.shutdown.SendInitiated() {
		s.mu.Unlock()
		return newErr(KindInvalid, nil)
	}

	out := payload
	if s.upgrading {
		buf := make([]byte, len(payload))
		copy(buf, payload)
		s.preEncryptQ = append(s.preEncryptQ, preEncryptedSend{payload: buf, cb: cb})
		s.mu.Unlock()
		return nil
	}
	if s.encode != nil {
		enc, err := s.encode(payload)
		if err != nil {
			s.mu.Unlock()
			return newErr(KindTransport, err)
		}
		out = enc
	}

	entry := &SendEntry{ID: allocID(), Token: opts.Token, HasToken: opts.HasToken, Payload: out, EnqueuedAt: time.Now(), Callback: cb}
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
func (s *StreamSocket) pumpSendLocked(entry *SendEntry) {
	if s.config.RateLimiterSend != nil {
		now := time.Now()
		if s.config.RateLimiterSend.WouldExceedBandwidth(now, len(entry.Payload)) {
			s.flow.Apply(flowctl.Send, true)
			wait := s.config.RateLimiterSend.TimeToSubmit(now, len(entry.Payload))
			s.proactor.CreateTimer(wait, func() { s.handleSendAdmission() })
			return
		}
	}
	s.retain.enter()
	_ = s.proactor.Send(s.handle, entry.Payload, SendOptions{})
}

func (s *StreamSocket) handleSendAdmission() {
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

// Receive requests the next in-order chunk of stream data, honoring the
// socket's configured (or per-call) min/max byte-stream framing bounds.
func (s *StreamSocket) Receive(opts ReceiveOptions, cb ReceiveCallback) error {
	s.mu.Lock()

	min := opts.MinBytes
	if min <= 0 {
		min = s.minReceive
	}
	max := opts.MaxBytes
	if max <= 0 {
		max = s.maxReceive
	}

	if len(s.recvBuf) >= min {
		n := max
		if n > len(s.recvBuf) {
			n = len(s.recvBuf)
		}
		data := s.recvBuf[:n]
		s.recvBuf = s.recvBuf[n:]
		s.mu.Unlock()
		cb(ReceiveResult{Data: data})
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
	s.mu.Unlock()
	return nil
}

// pumpReceiveLocked arms the next Receive on the proactor unless the
// configured RateLimiterReceive reports that a full-size receive right now
// would exceed bandwidth, using the socket's configured max receive size as
// the worst-case estimate since the actual arrival size is unknown until it
// happens. Must be called with mu held.
func (s *StreamSocket) pumpReceiveLocked(opts ReceiveOptions) {
	if s.config.RateLimiterReceive != nil {
		now := time.Now()
		estimate := s.maxReceive
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

func (s *StreamSocket) handleReceiveAdmission(opts ReceiveOptions) {
	s.mu.Lock()
	s.flow.Relax(flowctl.Receive, true)
	s.pumpReceiveLocked(opts)
	s.mu.Unlock()
}

// Shutdown initiates shutdown in the given direction(s).
func (s *StreamSocket) Shutdown(dir ShutdownDirection, mode ShutdownMode) error {
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

func (s *StreamSocket) transitionShutdownSend() {
	ctx, changed := s.shutdown.TryShutdownSend(shutdownstate.OriginLocal, s.config.KeepHalfOpen)
	if !changed {
		return
	}
	s.phase = phaseShuttingDownSend
	s.announceShutdown(ctx)
}

func (s *StreamSocket) transitionShutdownReceive() {
	ctx, changed := s.shutdown.TryShutdownReceive(shutdownstate.OriginLocal, s.config.KeepHalfOpen)
	if !changed {
		return
	}
	s.phase = phaseShuttingDownReceive
	s.announceShutdown(ctx)
	if ctx.ReceiveInitiated {
		for _, cb := range s.recvCallbacks.PopAllCallbacks() {
			fn := cb.Fn
			dispatch.Announce(s.dispatchOpts(true), func() { fn(ReceiveResult{}, newErr(KindEOF, nil)) })
		}
	}
}

func (s *StreamSocket) announceShutdown(ctx *shutdownstate.Context) {
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

// Upgrade begins a TLS handshake through cap, buffering subsequent Sends in
// the pre-encryption queue until the handshake completes.
func (s *StreamSocket) Upgrade(cap TLSCapability) error {
	s.mu.Lock()
	if s.phase != phaseConnected || s.upgrading || s.tls != nil {
		s.mu.Unlock()
		return newErr(KindInvalid, nil)
	}
	s.tls = cap
	s.upgrading = true
	s.mu.Unlock()

	encode, decode := cap.Upgrade(func(err error) { s.handleUpgradeDone(err) })
	s.mu.Lock()
	s.encode, s.decode = encode, decode
	s.mu.Unlock()
	return nil
}

func (s *StreamSocket) handleUpgradeDone(err error) {
	s.mu.Lock()
	s.upgrading = false
	pending := s.preEncryptQ
	s.preEncryptQ = nil
	encode := s.encode
	s.mu.Unlock()

	if err != nil {
		for _, p := range pending {
			if p.cb != nil {
				p.cb(SendResult{Err: newErr(KindTransport, err)})
			}
		}
		return
	}
	for _, p := range pending {
		if encode == nil {
			if p.cb != nil {
				p.cb(SendResult{Bytes: len(p.payload)})
			}
			continue
		}
		cipher, encErr := encode(p.payload)
		if encErr != nil {
			if p.cb != nil {
				p.cb(SendResult{Err: newErr(KindTransport, encErr)})
			}
			continue
		}
		s.mu.Lock()
		entry := &SendEntry{ID: allocID(), Payload: cipher, EnqueuedAt: time.Now(), Callback: p.cb}
		becameNonEmpty := s.sendQ.Push(entry)
		if becameNonEmpty {
			s.retain.enter()
			_ = s.proactor.Send(s.handle, entry.Payload, SendOptions{})
		}
		s.mu.Unlock()
	}
}

// Downgrade reverses an active upgrade once outstanding encrypted data still
// sitting in the send queue has drained. If the queue is already empty the
// handshake teardown begins immediately; otherwise it begins the moment
// ProcessSocketSent observes the queue go empty.
func (s *StreamSocket) Downgrade() error {
	s.mu.Lock()
	if s.tls == nil || s.downgrading {
		s.mu.Unlock()
		return newErr(KindInvalid, nil)
	}
	s.downgrading = true
	s.downgradeCalled = s.sendQ.Len() == 0
	tls := s.tls
	start := s.downgradeCalled
	s.mu.Unlock()

	if start {
		s.beginDowngrade(tls)
	}
	return nil
}

func (s *StreamSocket) beginDowngrade(tls TLSCapability) {
	tls.Downgrade(func(err error) {
		s.mu.Lock()
		s.downgrading = false
		s.downgradeCalled = false
		s.tls = nil
		s.encode = nil
		s.decode = nil
		s.mu.Unlock()
	})
}

// Release detaches the socket from the engine; the caller receives the
// handle back. As with DatagramSocket.Release, the simnet and netproactor
// DetachSocket implementations close the underlying session or connection.
func (s *StreamSocket) Release(cb func(Handle, error)) error {
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
func (s *StreamSocket) Close(cb func(error)) error {
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
	s.phase = phaseClosed
	s.mu.Unlock()
	return s.proactor.DetachSocket(s)
}

// ProcessSocketDetached implements ProactorSocket.
func (s *StreamSocket) ProcessSocketDetached() {
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

// ProcessSocketSent implements ProactorSocket.
func (s *StreamSocket) ProcessSocketSent(result SendResult) {
	s.retain.leave()
	s.mu.Lock()
	entry, ok := s.sendQ.Pop()
	if !ok {
		s.mu.Unlock()
		return
	}

	if result.Err == nil && s.config.RateLimiterSend != nil {
		s.config.RateLimiterSend.Submit(time.Now(), result.Bytes)
	}

	isMarker := entry.isShutdownMarker
	if isMarker {
		s.transitionShutdownSend()
	}

	if next, ok := s.sendQ.Front(); ok {
		s.pumpSendLocked(next)
	}

	var startDowngrade TLSCapability
	if s.downgrading && !s.downgradeCalled && s.sendQ.Len() == 0 {
		s.downgradeCalled = true
		startDowngrade = s.tls
	}
	s.mu.Unlock()

	if startDowngrade != nil {
		s.beginDowngrade(startDowngrade)
	}

	if entry.Callback != nil && !isMarker {
		entry.Callback(result)
	}

	if result.Err != nil && KindOf(result.Err) != KindCancelled && KindOf(result.Err) != KindWouldBlock {
		s.announceTransportErrorAndShutdown(result.Err)
	}
}

// ProcessSocketReceived implements ProactorSocket: appends newly-arrived
// bytes (decrypting first if a TLS session is active) to the reassembly
// buffer, then matches a pending Receive if the min/max framing bound is
// satisfied.
func (s *StreamSocket) ProcessSocketReceived(result ReceiveResult) {
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
	if s.decode != nil {
		if plain, err := s.decode(data); err == nil {
			data = plain
		}
	}
	s.recvBuf = append(s.recvBuf, data...)

	for {
		cb, ok := s.recvCallbacks.PopCallback()
		if !ok {
			break
		}
		min := s.minReceive
		if len(s.recvBuf) < min {
			s.recvCallbacks.PushCallback(cb)
			break
		}
		n := s.maxReceive
		if n > len(s.recvBuf) {
			n = len(s.recvBuf)
		}
		chunk := s.recvBuf[:n]
		s.recvBuf = s.recvBuf[n:]
		fn := cb.Fn
		s.mu.Unlock()
		fn(ReceiveResult{Data: chunk}, nil)
		s.mu.Lock()
	}
	s.mu.Unlock()
}

// ProcessSocketError implements ProactorSocket.
func (s *StreamSocket) ProcessSocketError(err error) {
	s.announceTransportErrorAndShutdown(err)
}

func (s *StreamSocket) announceTransportErrorAndShutdown(err error) {
	s.mu.Lock()
	session := s.config.Session
	h := s.handle
	s.mu.Unlock()
	if session != nil {
		session.ProcessError(h, newErr(KindTransport, err))
	}
	s.Shutdown(ShutdownBothDirections, ShutdownImmediate)
}

// SetMinMaxReceiveSize configures the byte-stream framing bounds used by
// Receive calls that leave ReceiveOptions.MinBytes/MaxBytes unset.
func (s *StreamSocket) SetMinMaxReceiveSize(min, max int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if min > 0 {
		s.minReceive = min
	}
	if max > 0 {
		s.maxReceive = max
	}
}

// LocalEndpoint returns the socket's bound source endpoint, if any.
func (s *StreamSocket) LocalEndpoint() (Endpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.local == nil {
		return Endpoint{}, false
	}
	return *s.local, true
}

// RemoteEndpoint returns the socket's connected peer endpoint, if any.
func (s *StreamSocket) RemoteEndpoint() (Endpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remote == nil {
		return Endpoint{}, false
	}
	return *s.remote, true
}

var _ ProactorSocket = (*StreamSocket)(nil)
