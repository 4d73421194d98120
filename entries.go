package asio

import (
	"time"

	"github.com/sagernet/asio/zcomp"
)

// SendEntry is a pending outbound payload: a monotonically-increasing id,
// optional user token, optional destination endpoint, payload, length,
// enqueue timestamp, optional deadline+timer, an optional completion
// callback, and send-side compression metadata. An entry whose
// isShutdownMarker flag is set is a shutdown sentinel, not user data.
type SendEntry struct {
	ID          uint64
	Token       any
	HasToken    bool
	Destination *Endpoint
	Payload     []byte
	EnqueuedAt  time.Time
	Deadline    time.Time
	HasDeadline bool
	Timer       Timer
	Callback    SendCallback
	Compress    zcomp.Options

	isShutdownMarker bool
}

// QueueID implements queue.Identifiable.
func (e *SendEntry) QueueID() uint64 { return e.ID }

// QueueToken implements queue.Identifiable.
func (e *SendEntry) QueueToken() (any, bool) { return e.Token, e.HasToken }

// QueueSize implements queue.Identifiable.
func (e *SendEntry) QueueSize() int { return len(e.Payload) }

// newShutdownMarker builds the sentinel entry the graceful shutdown path
// enqueues in place of transitioning immediately.
func newShutdownMarker() *SendEntry {
	return &SendEntry{ID: allocID(), EnqueuedAt: time.Now(), isShutdownMarker: true}
}

// ReceiveEntry is a buffered inbound payload: timestamp, source endpoint,
// payload, length.
type ReceiveEntry struct {
	id        uint64
	Timestamp time.Time
	Source    Endpoint
	Payload   []byte
}

// QueueID implements queue.Identifiable.
func (e *ReceiveEntry) QueueID() uint64 { return e.id }

// QueueToken implements queue.Identifiable; receive data entries carry no
// user token.
func (e *ReceiveEntry) QueueToken() (any, bool) { return nil, false }

// QueueSize implements queue.Identifiable.
func (e *ReceiveEntry) QueueSize() int { return len(e.Payload) }

func newReceiveEntry(source Endpoint, payload []byte) *ReceiveEntry {
	return &ReceiveEntry{id: allocID(), Timestamp: time.Now(), Source: source, Payload: payload}
}
