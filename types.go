// Package asio implements the core of an asynchronous network I/O toolkit:
// the socket execution engine that drives datagram and stream sockets
// through an event-demultiplexing dispatcher (a proactor), together with
// the per-socket state machines that mediate user I/O requests against the
// kernel.
//
// The architectural model throughout is smux's single multiplexed
// Session/Stream pair, generalized: where smux moves frames of one
// multiplexed connection through a shaper/writes channel pipeline guarded by
// one mutex and a handful of once-guarded signal channels, this package
// moves send/receive requests for many independent sockets through the same
// shape of pipeline, with the routing policy of that pipeline factored out
// into the dispatch package.
package asio

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Handle is an opaque per-machine socket identifier. Valid range starts at
// HandleBase; handles are reused immediately upon close.
type Handle int

// HandleBase is the well-known starting value for handle allocation.
const HandleBase Handle = 3

// Transport distinguishes connectionless from connection-oriented sockets.
type Transport int

const (
	TransportDatagram Transport = iota
	TransportStream
)

func (t Transport) String() string {
	if t == TransportStream {
		return "stream"
	}
	return "datagram"
}

// EndpointKind selects the address family or local-path form of an
// Endpoint.
type EndpointKind int

const (
	EndpointIPv4 EndpointKind = iota
	EndpointIPv6
	EndpointLocal
)

// Endpoint is one of { IPv4 host+port, IPv6 host+port, local-path }.
type Endpoint struct {
	Kind EndpointKind
	Host string
	Port uint16
	Path string // valid only when Kind == EndpointLocal
}

func (e Endpoint) String() string {
	if e.Kind == EndpointLocal {
		return "local:" + e.Path
	}
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// IsAnyAddress reports whether the endpoint's host is the IPv4/IPv6 any
// address (0.0.0.0 or ::) or is empty, used to reject connect() targets naming a
// wildcard address rather than a specific peer.
func (e Endpoint) IsAnyAddress() bool {
	return e.Host == "0.0.0.0" || e.Host == "::" || e.Host == ""
}

// EphemeralPortBase is the configurable starting point for ephemeral port
// allocation when Bind is called with a zero port.
const EphemeralPortBase = 49152

// ShutdownDirection selects which half of a socket a Shutdown call affects.
type ShutdownDirection int

const (
	ShutdownSendDirection ShutdownDirection = iota
	ShutdownReceiveDirection
	ShutdownBothDirections
)

// ShutdownMode distinguishes an immediate transition from a graceful one
// that waits for the send queue to drain.
type ShutdownMode int

const (
	ShutdownGraceful ShutdownMode = iota
	ShutdownImmediate
)

// DetachGoal selects what Release/Close wants once the dispatcher confirms
// detachment.
type DetachGoal int

const (
	DetachGoalExport DetachGoal = iota
	DetachGoalClose
)

// nextID is a process-wide monotonic counter for send/receive queue entry
// ids: every entry gets a unique, monotonically increasing id.
var nextID atomic.Uint64

func allocID() uint64 { return nextID.Add(1) }

// SendOptions configures one Send call.
type SendOptions struct {
	Token          any
	HasToken       bool
	Destination    *Endpoint
	Deadline       time.Time
	HasDeadline    bool
	HighWatermark  int // overrides the queue's configured high watermark, if nonzero
	Compress       bool
	CompressType   int // zcomp.Type, kept as int to avoid importing zcomp in the hot path type
}

// ReceiveOptions configures one Receive call.
type ReceiveOptions struct {
	Token       any
	HasToken    bool
	Deadline    time.Time
	HasDeadline bool
	MinBytes    int // stream sockets only: minimum bytes to accumulate before completing
	MaxBytes    int // stream sockets only
}

// SendResult is delivered to a send completion callback.
type SendResult struct {
	ID    uint64
	Bytes int
	Err   error
}

// ReceiveResult is delivered to a receive completion callback.
type ReceiveResult struct {
	Source Endpoint
	Data   []byte
	Err    error
}

// SendCallback is invoked exactly once per accepted Send.
type SendCallback func(SendResult)

// ReceiveCallback is invoked exactly once per accepted Receive.
type ReceiveCallback func(ReceiveResult)

// BindOptions configures Bind.
type BindOptions struct {
	ReuseAddress bool
}

// ConnectOptions configures Connect.
type ConnectOptions struct {
	Deadline    time.Time
	HasDeadline bool
	RetryPolicy *RetryPolicy // stream sockets only
}

// ListenOptions configures a ListenerSocket's Listen call.
type ListenOptions struct {
	Backlog      int
	ReuseAddress bool
}

// ConnectAttempt records one candidate endpoint tried during a stream
// socket's connect-with-retry sequence. The records are accumulated only
// within the sequence: they are not passed to the Manager or to the connect
// callback, which receives the last attempt's error alone.
type ConnectAttempt struct {
	Endpoint  Endpoint
	StartedAt time.Time
	Err       error
}
