package simnet

import (
	"sync"

	"github.com/sagernet/asio"
)

// Packet is the simulated machine's wire unit: a source endpoint plus
// payload.
type Packet struct {
	Source  asio.Endpoint
	Payload []byte
}

// session is the simulated machine's per-handle state: handle, transport,
// blocking flag, source/remote endpoint, buffer sizes, inbound packet
// queue, shutdown flags, and (for stream sessions) the connected peer
// handle.
type session struct {
	mu sync.Mutex

	handle    asio.Handle
	transport asio.Transport
	blocking  bool

	source *asio.Endpoint
	remote *asio.Endpoint

	recvBufSize int
	sendBufSize int

	inbound      []Packet
	inboundBytes int
	sendBytes    int // not updated by trySend; backpressure uses the peer's recvBufSize

	shutdownSend    bool
	shutdownReceive bool

	peer asio.Handle // 0 == unconnected

	listening bool
	backlog   []asio.Handle

	closed bool
}

func newSession(h asio.Handle, transport asio.Transport) *session {
	return &session{
		handle:      h,
		transport:   transport,
		recvBufSize: 1 << 16,
		sendBufSize: 1 << 16,
	}
}

// enqueue appends pkt to the session's inbound queue, respecting
// recvBufSize as backpressure. Returns false if the queue is full.
func (s *session) enqueue(pkt Packet) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inboundBytes+len(pkt.Payload) > s.recvBufSize {
		return false
	}
	s.inbound = append(s.inbound, pkt)
	s.inboundBytes += len(pkt.Payload)
	return true
}

// dequeueDatagram pops the oldest buffered packet. dequeueStream below
// returns up to maxBytes taken from the oldest packet only; it does not join
// bytes across packets.
func (s *session) dequeueDatagram() (Packet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.inbound) == 0 {
		return Packet{}, false
	}
	pkt := s.inbound[0]
	s.inbound = s.inbound[1:]
	s.inboundBytes -= len(pkt.Payload)
	return pkt, true
}

func (s *session) dequeueStream(maxBytes int) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.inbound) == 0 {
		return nil, false
	}
	pkt := s.inbound[0]
	if maxBytes <= 0 || maxBytes >= len(pkt.Payload) {
		s.inbound = s.inbound[1:]
		s.inboundBytes -= len(pkt.Payload)
		return pkt.Payload, true
	}
	head, tail := pkt.Payload[:maxBytes], pkt.Payload[maxBytes:]
	s.inbound[0] = Packet{Source: pkt.Source, Payload: tail}
	s.inboundBytes -= maxBytes
	return head, true
}

func (s *session) hasData() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inbound) > 0
}

func (s *session) isReceiveComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdownReceive && len(s.inbound) == 0
}
