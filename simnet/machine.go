// Package simnet implements an in-process simulated network: a
// deterministic substitute for the OS kernel used by tests (and by
// fault-injection scenarios) in place of a real socket layer.
//
// Grounded on smux's Session, generalized from "one physical conn
// multiplexing many streams" to "many independent simulated sessions," and
// on aistore's mock transport harness for the gap-reusing free-list idiom
// (deterministic handle/port reuse is what lets tests assert exact handle
// values across open/close cycles).
package simnet

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sagernet/asio"
	"golang.org/x/sync/errgroup"
)

// Direction selects which half of a session Shutdown affects, matching
// asio.ShutdownDirection without importing the root package's full surface
// into the hot path.
type Direction = asio.ShutdownDirection

type pendingSend struct {
	h    asio.Handle
	data []byte
	dest *asio.Endpoint
	done func(asio.SendResult)
}

type pendingReceive struct {
	h    asio.Handle
	opts asio.ReceiveOptions
	done func(asio.ReceiveResult)
}

type pendingConnect struct {
	h        asio.Handle
	endpoint asio.Endpoint
	done     func(error)
}

type pendingAccept struct {
	listener asio.Handle
	done     func(accepted asio.Handle, remote asio.Endpoint, err error)
}

// Machine is the simulated network. A single internal mutex guards the
// handle/port tables; each session additionally has its own mutex for its
// buffers.
type Machine struct {
	mu sync.Mutex

	sessions map[asio.Handle]*session

	freeHandles []asio.Handle
	nextHandle  asio.Handle

	usedPorts     map[string]map[uint16]bool
	freePorts     map[string][]uint16
	nextEphemeral map[string]uint16

	listeners map[string]asio.Handle

	pendingSends    []*pendingSend
	pendingReceives []*pendingReceive
	pendingConnects []*pendingConnect
	pendingAccepts  []*pendingAccept

	fault *faultState

	group  *errgroup.Group
	cancel context.CancelFunc
}

// NewMachine constructs an empty simulated network with handle allocation
// starting at asio.HandleBase.
func NewMachine() *Machine {
	return &Machine{
		sessions:      make(map[asio.Handle]*session),
		nextHandle:    asio.HandleBase,
		usedPorts:     make(map[string]map[uint16]bool),
		freePorts:     make(map[string][]uint16),
		nextEphemeral: make(map[string]uint16),
		listeners:     make(map[string]asio.Handle),
		fault:         newFaultState(),
	}
}

// CreateSession yields a handle from the gap-reusing free list.
func (m *Machine) CreateSession(transport asio.Transport) asio.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.allocHandleLocked()
	m.sessions[h] = newSession(h, transport)
	return h
}

func (m *Machine) allocHandleLocked() asio.Handle {
	if len(m.freeHandles) > 0 {
		sort.Slice(m.freeHandles, func(i, j int) bool { return m.freeHandles[i] < m.freeHandles[j] })
		h := m.freeHandles[0]
		m.freeHandles = m.freeHandles[1:]
		return h
	}
	h := m.nextHandle
	m.nextHandle++
	return h
}

func (m *Machine) freeHandleLocked(h asio.Handle) {
	m.freeHandles = append(m.freeHandles, h)
}

func endpointHostKey(e asio.Endpoint) string {
	if e.Kind == asio.EndpointLocal {
		return "local"
	}
	return e.Host
}

func endpointKey(e asio.Endpoint) string {
	if e.Kind == asio.EndpointLocal {
		return "local:" + e.Path
	}
	return e.String()
}

// Bind allocates an ephemeral port (gap-reused) if endpoint.Port is zero;
// otherwise verifies availability.
func (m *Machine) Bind(h asio.Handle, endpoint asio.Endpoint, reuseAddress bool) (asio.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[h]
	if !ok {
		return asio.Endpoint{}, asio.NewError(asio.KindInvalid, nil)
	}

	host := endpointHostKey(endpoint)
	if endpoint.Kind != asio.EndpointLocal && endpoint.Port == 0 {
		endpoint.Port = m.allocEphemeralPortLocked(host)
	} else if !reuseAddress {
		if m.usedPorts[host] != nil && m.usedPorts[host][endpoint.Port] {
			return asio.Endpoint{}, asio.NewError(asio.KindInvalid, nil)
		}
	}
	if m.usedPorts[host] == nil {
		m.usedPorts[host] = make(map[uint16]bool)
	}
	m.usedPorts[host][endpoint.Port] = true

	s.mu.Lock()
	s.source = &endpoint
	s.mu.Unlock()
	return endpoint, nil
}

func (m *Machine) allocEphemeralPortLocked(host string) uint16 {
	if free := m.freePorts[host]; len(free) > 0 {
		sort.Slice(free, func(i, j int) bool { return free[i] < free[j] })
		p := free[0]
		m.freePorts[host] = free[1:]
		return p
	}
	next := m.nextEphemeral[host]
	if next == 0 {
		next = asio.EphemeralPortBase
	}
	m.nextEphemeral[host] = next + 1
	return next
}

func (m *Machine) releasePortLocked(endpoint *asio.Endpoint) {
	if endpoint == nil || endpoint.Kind == asio.EndpointLocal {
		return
	}
	host := endpointHostKey(*endpoint)
	delete(m.usedPorts[host], endpoint.Port)
	m.freePorts[host] = append(m.freePorts[host], endpoint.Port)
}

// Listen marks h as a listening session for endpoint.
func (m *Machine) Listen(h asio.Handle, endpoint asio.Endpoint, backlog int) error {
	bound, err := m.Bind(h, endpoint, true)
	if err != nil {
		return err
	}
	m.mu.Lock()
	s := m.sessions[h]
	m.listeners[endpointKey(bound)] = h
	m.mu.Unlock()
	s.mu.Lock()
	s.listening = true
	s.mu.Unlock()
	return nil
}

// Connect implements connection establishment: for datagrams, sets the
// session's default remote endpoint; for streams, locates the listening
// session, allocates a new server-side session, and links the pair.
func (m *Machine) Connect(h asio.Handle, endpoint asio.Endpoint) error {
	m.mu.Lock()
	s, ok := m.sessions[h]
	if !ok {
		m.mu.Unlock()
		return asio.NewError(asio.KindInvalid, nil)
	}

	if s.transport == asio.TransportDatagram {
		m.mu.Unlock()
		s.mu.Lock()
		s.remote = &endpoint
		s.mu.Unlock()
		return nil
	}

	listenerHandle, found := m.listeners[endpointKey(endpoint)]
	if !found {
		m.mu.Unlock()
		return asio.NewError(asio.KindTransport, nil)
	}
	listener := m.sessions[listenerHandle]
	serverHandle := m.allocHandleLocked()
	server := newSession(serverHandle, asio.TransportStream)
	server.remote = clientSourceOrNil(s)
	server.peer = h
	m.sessions[serverHandle] = server
	m.mu.Unlock()

	s.mu.Lock()
	s.peer = serverHandle
	s.remote = &endpoint
	s.mu.Unlock()

	listener.mu.Lock()
	listener.backlog = append(listener.backlog, serverHandle)
	listener.mu.Unlock()
	return nil
}

func clientSourceOrNil(s *session) *asio.Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

// SetBufferSizes configures the simulated send/receive buffer sizes. Only
// the receive size acts as backpressure (see trySend); the send size is
// stored but not consulted.
func (m *Machine) SetBufferSizes(h asio.Handle, recvSize, sendSize int) {
	m.mu.Lock()
	s := m.sessions[h]
	m.mu.Unlock()
	if s == nil {
		return
	}
	s.mu.Lock()
	if recvSize > 0 {
		s.recvBufSize = recvSize
	}
	if sendSize > 0 {
		s.sendBufSize = sendSize
	}
	s.mu.Unlock()
}

// trySend attempts to deliver data to h's peer/destination immediately,
// using the receiving session's receive-buffer size as backpressure:
// would-block for stream, drop (reported as success, matching UDP loss
// semantics) for datagram. The sending session's send-buffer size is not
// consulted.
func (m *Machine) trySend(h asio.Handle, data []byte, dest *asio.Endpoint) (int, error) {
	if kind, ok := m.fault.takeForcedError(h); ok {
		return 0, asio.NewError(kind, nil)
	}

	m.mu.Lock()
	s, ok := m.sessions[h]
	if !ok {
		m.mu.Unlock()
		return 0, asio.NewError(asio.KindInvalid, nil)
	}
	if m.fault.takeDrop(h) {
		m.mu.Unlock()
		return len(data), nil
	}

	if s.transport == asio.TransportStream {
		peerHandle := s.peer
		m.mu.Unlock()
		if peerHandle == 0 {
			return 0, asio.NewError(asio.KindInvalid, nil)
		}
		m.mu.Lock()
		peer := m.sessions[peerHandle]
		m.mu.Unlock()
		if peer == nil {
			return 0, asio.NewError(asio.KindTransport, nil)
		}
		source := clientSourceOrNil(s)
		var src asio.Endpoint
		if source != nil {
			src = *source
		}
		if !peer.enqueue(Packet{Source: src, Payload: data}) {
			return 0, asio.NewError(asio.KindWouldBlock, nil)
		}
		return len(data), nil
	}

	// datagram
	target := dest
	if target == nil {
		s.mu.Lock()
		target = s.remote
		s.mu.Unlock()
	}
	if target == nil {
		m.mu.Unlock()
		return 0, asio.NewError(asio.KindInvalid, nil)
	}
	peerSession, found := m.findBoundSessionLocked(*target)
	m.mu.Unlock()
	if !found {
		// no listener at that endpoint: datagrams are fire-and-forget.
		return len(data), nil
	}
	source := clientSourceOrNil(s)
	var src asio.Endpoint
	if source != nil {
		src = *source
	}
	_ = peerSession.enqueue(Packet{Source: src, Payload: data}) // buffer full: silently dropped, per UDP loss semantics
	return len(data), nil
}

func (m *Machine) findBoundSessionLocked(endpoint asio.Endpoint) (*session, bool) {
	key := endpointKey(endpoint)
	for _, s := range m.sessions {
		s.mu.Lock()
		match := s.source != nil && endpointKey(*s.source) == key
		s.mu.Unlock()
		if match {
			return s, true
		}
	}
	return nil, false
}

// tryReceive attempts to dequeue data for h: one packet for datagrams, up
// to opts.MaxBytes for streams. Returns (result, true) if satisfied, or
// (zero, false) if the caller should keep waiting (would-block).
func (m *Machine) tryReceive(h asio.Handle, opts asio.ReceiveOptions) (asio.ReceiveResult, bool) {
	m.mu.Lock()
	s, ok := m.sessions[h]
	m.mu.Unlock()
	if !ok {
		return asio.ReceiveResult{Err: asio.NewError(asio.KindInvalid, nil)}, true
	}

	if s.transport == asio.TransportDatagram {
		if pkt, got := s.dequeueDatagram(); got {
			return asio.ReceiveResult{Source: pkt.Source, Data: pkt.Payload}, true
		}
	} else {
		if data, got := s.dequeueStream(opts.MaxBytes); got {
			return asio.ReceiveResult{Data: data}, true
		}
	}

	if s.isReceiveComplete() {
		return asio.ReceiveResult{Err: asio.NewError(asio.KindEOF, nil)}, true
	}
	return asio.ReceiveResult{}, false
}

// Shutdown toggles direction flags on h; stream peers observe end-of-file
// at the next read once the peer has shut send.
func (m *Machine) Shutdown(h asio.Handle, dir Direction) error {
	m.mu.Lock()
	s, ok := m.sessions[h]
	m.mu.Unlock()
	if !ok {
		return asio.NewError(asio.KindInvalid, nil)
	}
	s.mu.Lock()
	if dir == asio.ShutdownSendDirection || dir == asio.ShutdownBothDirections {
		s.shutdownSend = true
	}
	peerHandle := s.peer
	if dir == asio.ShutdownReceiveDirection || dir == asio.ShutdownBothDirections {
		s.shutdownReceive = true
	}
	s.mu.Unlock()

	if (dir == asio.ShutdownSendDirection || dir == asio.ShutdownBothDirections) && peerHandle != 0 {
		m.mu.Lock()
		peer := m.sessions[peerHandle]
		m.mu.Unlock()
		if peer != nil {
			peer.mu.Lock()
			peer.shutdownReceive = true
			peer.mu.Unlock()
		}
	}
	return nil
}

// Close always succeeds, and returns the handle and any bound port to
// their respective free lists.
func (m *Machine) Close(h asio.Handle) error {
	m.mu.Lock()
	s, ok := m.sessions[h]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.sessions, h)
	m.freeHandleLocked(h)
	m.mu.Unlock()

	s.mu.Lock()
	source := s.source
	s.closed = true
	s.mu.Unlock()

	m.mu.Lock()
	m.releasePortLocked(source)
	m.mu.Unlock()
	return nil
}

// Step advances the simulation by one round of deliveries: every
// registered pending async send/receive/connect/accept is retried, and
// those now satisfiable invoke their completion. Returns whether any work
// was completed. If block is true and nothing was ready, Step waits briefly
// before returning so a Run loop does not spin.
func (m *Machine) Step(block bool) bool {
	progressed := m.stepOnce()
	if !progressed && block {
		time.Sleep(time.Millisecond)
	}
	return progressed
}

func (m *Machine) stepOnce() bool {
	progressed := false

	m.mu.Lock()
	sends := m.pendingSends
	m.pendingSends = nil
	m.mu.Unlock()
	var retrySends []*pendingSend
	for _, p := range sends {
		n, err := m.trySend(p.h, p.data, p.dest)
		if err != nil && asio.KindOf(err) == asio.KindWouldBlock {
			retrySends = append(retrySends, p)
			continue
		}
		progressed = true
		p.done(asio.SendResult{Bytes: n, Err: err})
	}
	if len(retrySends) > 0 {
		m.mu.Lock()
		m.pendingSends = append(m.pendingSends, retrySends...)
		m.mu.Unlock()
	}

	m.mu.Lock()
	receives := m.pendingReceives
	m.pendingReceives = nil
	m.mu.Unlock()
	var retryReceives []*pendingReceive
	for _, p := range receives {
		if result, ok := m.tryReceive(p.h, p.opts); ok {
			progressed = true
			p.done(result)
		} else {
			retryReceives = append(retryReceives, p)
		}
	}
	if len(retryReceives) > 0 {
		m.mu.Lock()
		m.pendingReceives = append(m.pendingReceives, retryReceives...)
		m.mu.Unlock()
	}

	m.mu.Lock()
	connects := m.pendingConnects
	m.pendingConnects = nil
	m.mu.Unlock()
	for _, p := range connects {
		err := m.Connect(p.h, p.endpoint)
		progressed = true
		p.done(err)
	}

	m.mu.Lock()
	accepts := m.pendingAccepts
	m.pendingAccepts = nil
	m.mu.Unlock()
	var retryAccepts []*pendingAccept
	for _, p := range accepts {
		m.mu.Lock()
		listener := m.sessions[p.listener]
		m.mu.Unlock()
		if listener == nil {
			progressed = true
			p.done(0, asio.Endpoint{}, asio.NewError(asio.KindInvalid, nil))
			continue
		}
		listener.mu.Lock()
		var accepted asio.Handle
		if len(listener.backlog) > 0 {
			accepted = listener.backlog[0]
			listener.backlog = listener.backlog[1:]
		}
		listener.mu.Unlock()
		if accepted == 0 {
			retryAccepts = append(retryAccepts, p)
			continue
		}
		m.mu.Lock()
		server := m.sessions[accepted]
		m.mu.Unlock()
		var remote asio.Endpoint
		if server != nil {
			server.mu.Lock()
			if server.remote != nil {
				remote = *server.remote
			}
			server.mu.Unlock()
		}
		progressed = true
		p.done(accepted, remote, nil)
	}
	if len(retryAccepts) > 0 {
		m.mu.Lock()
		m.pendingAccepts = append(m.pendingAccepts, retryAccepts...)
		m.mu.Unlock()
	}

	return progressed
}

// Run starts a background goroutine that calls Step(true) until Stop,
// implementing a run()/stop() pair. The goroutine's lifecycle is managed
// through an errgroup.Group so Stop can wait for a clean exit instead of
// merely signalling one.
func (m *Machine) Run() {
	m.mu.Lock()
	if m.group != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)
	m.group = group
	m.cancel = cancel
	m.mu.Unlock()

	group.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			default:
				m.Step(true)
			}
		}
	})
}

// Stop halts the background stepping goroutine started by Run and waits
// for it to exit.
func (m *Machine) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	group := m.group
	m.group = nil
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	_ = group.Wait()
}

// enqueueSend/enqueueReceive/enqueueConnect/enqueueAccept are the async
// submission points used by the Proactor adapter (proactor.go).
func (m *Machine) enqueueSend(h asio.Handle, data []byte, dest *asio.Endpoint, done func(asio.SendResult)) {
	m.mu.Lock()
	m.pendingSends = append(m.pendingSends, &pendingSend{h: h, data: data, dest: dest, done: done})
	m.mu.Unlock()
}

func (m *Machine) enqueueReceive(h asio.Handle, opts asio.ReceiveOptions, done func(asio.ReceiveResult)) {
	m.mu.Lock()
	m.pendingReceives = append(m.pendingReceives, &pendingReceive{h: h, opts: opts, done: done})
	m.mu.Unlock()
}

func (m *Machine) enqueueConnect(h asio.Handle, endpoint asio.Endpoint, done func(error)) {
	m.mu.Lock()
	m.pendingConnects = append(m.pendingConnects, &pendingConnect{h: h, endpoint: endpoint, done: done})
	m.mu.Unlock()
}

func (m *Machine) enqueueAccept(listener asio.Handle, done func(asio.Handle, asio.Endpoint, error)) {
	m.mu.Lock()
	m.pendingAccepts = append(m.pendingAccepts, &pendingAccept{listener: listener, done: done})
	m.mu.Unlock()
}

// cancelAll completes every pending async send and receive registered for h
// with a cancelled error, used by the Proactor adapter's Cancel.
func (m *Machine) cancelAll(h asio.Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sends []*pendingSend
	for _, p := range m.pendingSends {
		if p.h == h {
			p.done(asio.SendResult{Err: asio.NewError(asio.KindCancelled, nil)})
			continue
		}
		sends = append(sends, p)
	}
	m.pendingSends = sends

	var receives []*pendingReceive
	for _, p := range m.pendingReceives {
		if p.h == h {
			p.done(asio.ReceiveResult{Err: asio.NewError(asio.KindCancelled, nil)})
			continue
		}
		receives = append(receives, p)
	}
	m.pendingReceives = receives
}
