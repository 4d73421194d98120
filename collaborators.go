package asio

import (
	"time"

	"github.com/sagernet/asio/dispatch"
)

// Timer is a single-shot deferred callback handle returned by a Proactor.
type Timer interface {
	Cancel()
}

// Proactor is the dispatcher collaborator. It accepts I/O requests and
// delivers completions back through a ProactorSocket.
type Proactor interface {
	// AllocateHandle yields a fresh handle for a socket of the given
	// transport, from whatever gap-reusing free list the Proactor
	// implementation maintains (handle reuse on close applies equally here).
	AllocateHandle(transport Transport) Handle
	AttachSocket(s ProactorSocket) error
	DetachSocket(s ProactorSocket) error
	// Bind assigns h's local address, resolving an unspecified port to
	// whatever ephemeral port the Proactor's transport picks (ephemeral-port
	// allocation lives here, not in the socket engine).
	Bind(h Handle, endpoint Endpoint, opts BindOptions) (Endpoint, error)
	Send(h Handle, data []byte, opts SendOptions) error
	Receive(h Handle, opts ReceiveOptions) error
	// Connect begins an asynchronous connection attempt for a stream socket;
	// completion is delivered through ProcessSocketConnected. Datagram
	// sockets never call this — their Connect is a local-only endpoint
	// binding.
	Connect(h Handle, endpoint Endpoint, opts ConnectOptions) error
	Cancel(h Handle) error
	CreateStrand() dispatch.Strand
	CreateTimer(d time.Duration, fn func()) Timer
	Execute(fn func())
	MaxThreads() int

	// AttachListener/DetachListener/AcceptNext mirror AttachSocket/
	// DetachSocket/Receive but for the accept side of a ListenerSocket,
	// which has no send/receive queues of its own. AttachListener also
	// binds l's handle to endpoint — the Proactor, not the ListenerSocket,
	// owns the underlying transport's address table.
	AttachListener(l ProactorListener, endpoint Endpoint, opts ListenOptions) error
	DetachListener(l ProactorListener) error
	AcceptNext(h Handle) error
}

// ProactorSocket is the set of completion handlers a Proactor delivers
// events to.
type ProactorSocket interface {
	Handle() Handle
	ProcessSocketSent(result SendResult)
	ProcessSocketReceived(result ReceiveResult)
	ProcessSocketConnected(err error)
	ProcessSocketError(err error)
	ProcessSocketDetached()
}

// ProactorListener is the completion-handler set for a ListenerSocket: one
// new connected handle per successful accept.
type ProactorListener interface {
	Handle() Handle
	ProcessListenerAccepted(accepted Handle, remote Endpoint, err error)
	ProcessListenerError(err error)
	ProcessListenerDetached()
}

// Manager is the per-socket-kind collaborator.
type Manager interface {
	ProcessSocketEstablished(h Handle)
	ProcessSocketClosed(h Handle)
	ProcessSocketLimit(h Handle) // stream sockets: every connect attempt failed
}

// Session is the per-socket event-handler collaborator, covering every
// watermark, shutdown, and error event a socket engine can raise.
type Session interface {
	ProcessReadQueueLowWatermark(h Handle)
	ProcessReadQueueHighWatermark(h Handle)
	ProcessWriteQueueLowWatermark(h Handle)
	ProcessWriteQueueHighWatermark(h Handle)
	ProcessShutdownInitiated(h Handle, dir ShutdownDirection)
	ProcessShutdownComplete(h Handle, dir ShutdownDirection)
	ProcessError(h Handle, err error)
}

// NopSession is a Session implementation whose handlers all do nothing,
// useful as a default for sockets the caller does not want to observe.
type NopSession struct{}

func (NopSession) ProcessReadQueueLowWatermark(Handle)             {}
func (NopSession) ProcessReadQueueHighWatermark(Handle)            {}
func (NopSession) ProcessWriteQueueLowWatermark(Handle)            {}
func (NopSession) ProcessWriteQueueHighWatermark(Handle)           {}
func (NopSession) ProcessShutdownInitiated(Handle, ShutdownDirection)  {}
func (NopSession) ProcessShutdownComplete(Handle, ShutdownDirection) {}
func (NopSession) ProcessError(Handle, error)                       {}

var _ Session = NopSession{}

// TLSCapability mediates the optional TLS upgrade/downgrade of a stream
// socket. It is consumed, never implemented, by the core; callers supply
// a concrete TLSCapability implementation since handshake logic is out of
// scope for this package.
type TLSCapability interface {
	// Upgrade begins a handshake over the raw bytes the engine hands it,
	// invoking done once the handshake completes (or fails). While
	// upgrading, the engine buffers Sends in its pre-encryption queue and
	// passes them through the returned encode func once done reports success.
	Upgrade(done func(err error)) (encode func(plain []byte) (cipher []byte, err error), decode func(cipher []byte) (plain []byte, err error))
	// Downgrade reverses an active upgrade once in-flight encrypted data
	// has drained.
	Downgrade(done func(err error))
}

// RetryPolicy governs the connect-with-retry sequence a stream socket runs
// when a connect attempt fails.
type RetryPolicy struct {
	MaxAttempts   int
	PerAttemptTTL time.Duration
	// NextDelay returns how long to wait before the (attempt+1)th attempt,
	// attempt being zero-based for the attempt that just failed. Backed by
	// github.com/jpillora/backoff in the default construction helper
	// DefaultRetryPolicy.
	NextDelay func(attempt int) time.Duration
}
