package asio

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestListenerAcceptAndStreamRoundTrip(t *testing.T) {
	proactor, closeProactor := newTestProactor(t)
	defer closeProactor()
	config := newTestConfig()

	listener := NewListenerSocket(config, proactor)
	endpoint := Endpoint{Kind: EndpointIPv4, Host: "127.0.0.1", Port: 9001}
	require.NoError(t, listener.Listen(endpoint, ListenOptions{Backlog: 1}))

	accepted := make(chan *StreamSocket, 1)
	require.NoError(t, listener.Accept(func(s *StreamSocket, err error) {
		require.NoError(t, err)
		accepted <- s
	}))

	client := NewStreamSocket(config, proactor)
	connectDone := make(chan error, 1)
	require.NoError(t, client.Connect(endpoint, ConnectOptions{}, func(err error) {
		connectDone <- err
	}))

	require.NoError(t, <-connectDone)

	var server *StreamSocket
	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the listener to accept the connection")
	}
	require.NotNil(t, server)

	done := make(chan struct{})
	var result ReceiveResult
	require.NoError(t, server.Receive(ReceiveOptions{MinBytes: 1}, func(r ReceiveResult) {
		result = r
		close(done)
	}))

	require.NoError(t, client.Send([]byte("ping"), SendOptions{}, nil))
	mustAwait(t, done)
	require.NoError(t, result.Err)
	require.Equal(t, "ping", string(result.Data))
}

func TestStreamSocketSendBeforeConnectedFails(t *testing.T) {
	proactor, closeProactor := newTestProactor(t)
	defer closeProactor()

	s := NewStreamSocket(newTestConfig(), proactor)
	err := s.Send([]byte("x"), SendOptions{}, nil)
	require.Error(t, err)
	require.Equal(t, KindInvalid, KindOf(err))
}

func TestStreamSocketConnectFailsWithoutListenerExhaustsRetries(t *testing.T) {
	proactor, closeProactor := newTestProactor(t)
	defer closeProactor()

	s := NewStreamSocket(newTestConfig(), proactor)
	done := make(chan error, 1)
	err := s.Connect(Endpoint{Kind: EndpointIPv4, Host: "127.0.0.1", Port: 1}, ConnectOptions{
		RetryPolicy: DefaultRetryPolicy(1, 0, 0),
	}, func(err error) { done <- err })
	require.NoError(t, err)

	connectErr := <-done
	require.Error(t, connectErr)
}

func TestStreamSocketReceiveHonorsMinBytesFraming(t *testing.T) {
	proactor, closeProactor := newTestProactor(t)
	defer closeProactor()
	config := newTestConfig()

	listener := NewListenerSocket(config, proactor)
	endpoint := Endpoint{Kind: EndpointIPv4, Host: "127.0.0.1", Port: 9002}
	require.NoError(t, listener.Listen(endpoint, ListenOptions{Backlog: 1}))

	accepted := make(chan *StreamSocket, 1)
	require.NoError(t, listener.Accept(func(s *StreamSocket, err error) {
		require.NoError(t, err)
		accepted <- s
	}))

	client := NewStreamSocket(config, proactor)
	connectDone := make(chan error, 1)
	require.NoError(t, client.Connect(endpoint, ConnectOptions{}, func(err error) { connectDone <- err }))
	require.NoError(t, <-connectDone)

	var server *StreamSocket
	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the listener to accept the connection")
	}

	done := make(chan struct{})
	var result ReceiveResult
	require.NoError(t, server.Receive(ReceiveOptions{MinBytes: 8}, func(r ReceiveResult) {
		result = r
		close(done)
	}))

	require.NoError(t, client.Send([]byte("ab"), SendOptions{}, nil))
	require.NoError(t, client.Send([]byte("cdefgh"), SendOptions{}, nil))
	mustAwait(t, done)
	require.NoError(t, result.Err)
	require.Equal(t, "abcdefgh", string(result.Data), "Receive must not complete until MinBytes has accumulated across both sends")
}

// xorTLSCapability is a fake TLSCapability for tests: it "encrypts" by
// XORing every byte against a fixed key, which is its own inverse, so the
// same instance serves as both the client's and server's encode/decode.
// Upgrade/Downgrade do not complete until the test explicitly calls
// finishUpgrade/finishDowngrade, so tests can deterministically exercise
// the window while a handshake is still in flight.
type xorTLSCapability struct {
	key byte

	mu        sync.Mutex
	upgradeCb func(error)
}

func xorBytes(key byte, in []byte) []byte {
	out := make([]byte, len(in))
	for i, b := range in {
		out[i] = b ^ key
	}
	return out
}

func (x *xorTLSCapability) Upgrade(done func(err error)) (
	encode func(plain []byte) (cipher []byte, err error),
	decode func(cipher []byte) (plain []byte, err error),
) {
	x.mu.Lock()
	x.upgradeCb = done
	x.mu.Unlock()
	return func(plain []byte) ([]byte, error) { return xorBytes(x.key, plain), nil },
		func(cipher []byte) ([]byte, error) { return xorBytes(x.key, cipher), nil }
}

func (x *xorTLSCapability) finishUpgrade() {
	x.mu.Lock()
	cb := x.upgradeCb
	x.mu.Unlock()
	cb(nil)
}

func (x *xorTLSCapability) Downgrade(done func(err error)) {
	go done(nil)
}

func TestStreamSocketUpgradeBuffersSendsThenDrainsInOrder(t *testing.T) {
	proactor, closeProactor := newTestProactor(t)
	defer closeProactor()
	config := newTestConfig()

	listener := NewListenerSocket(config, proactor)
	endpoint := Endpoint{Kind: EndpointIPv4, Host: "127.0.0.1", Port: 9004}
	require.NoError(t, listener.Listen(endpoint, ListenOptions{Backlog: 1}))

	accepted := make(chan *StreamSocket, 1)
	require.NoError(t, listener.Accept(func(s *StreamSocket, err error) {
		require.NoError(t, err)
		accepted <- s
	}))

	client := NewStreamSocket(config, proactor)
	connectDone := make(chan error, 1)
	require.NoError(t, client.Connect(endpoint, ConnectOptions{}, func(err error) { connectDone <- err }))
	require.NoError(t, <-connectDone)

	var server *StreamSocket
	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the listener to accept the connection")
	}

	// Begin the handshake on both ends with a shared key so the client's
	// encode matches the server's decode (and vice versa). The handshake
	// stays open until the test explicitly completes it below, so every Send
	// issued in between must be buffered in the pre-encryption queue rather
	// than lost or sent in the clear.
	clientTLS := &xorTLSCapability{key: 0x5a}
	serverTLS := &xorTLSCapability{key: 0x5a}
	require.NoError(t, server.Upgrade(serverTLS))
	require.NoError(t, client.Upgrade(clientTLS))

	const want = "onetwothree"
	received := make(chan string, 1)
	require.NoError(t, server.Receive(ReceiveOptions{MinBytes: len(want)}, func(r ReceiveResult) {
		require.NoError(t, r.Err)
		received <- string(r.Data)
	}))

	var sendResults [3]chan error
	for i := range sendResults {
		sendResults[i] = make(chan error, 1)
	}
	// Issued while the handshake is still open: each must be queued in order
	// and flushed, still in order, only once the handshake completes.
	require.NoError(t, client.Send([]byte("one"), SendOptions{}, func(r SendResult) { sendResults[0] <- r.Err }))
	require.NoError(t, client.Send([]byte("two"), SendOptions{}, func(r SendResult) { sendResults[1] <- r.Err }))
	require.NoError(t, client.Send([]byte("three"), SendOptions{}, func(r SendResult) { sendResults[2] <- r.Err }))

	// The handshake is still in flight: all three sends above must have
	// landed in the pre-encryption queue, not on the wire. Completing it now
	// is what should flush them, in order.
	clientTLS.finishUpgrade()

	for i, ch := range sendResults {
		select {
		case err := <-ch:
			require.NoError(t, err, "buffered send %d must complete against the real post-handshake outcome", i)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for buffered send %d to complete", i)
		}
	}

	select {
	case got := <-received:
		require.Equal(t, want, got, "pre-encryption buffered sends must drain, encrypted, in the order they were issued")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the decoded, reassembled stream")
	}
}

func TestListenerCloseDetaches(t *testing.T) {
	proactor, closeProactor := newTestProactor(t)
	defer closeProactor()

	listener := NewListenerSocket(newTestConfig(), proactor)
	require.NoError(t, listener.Listen(Endpoint{Kind: EndpointIPv4, Host: "127.0.0.1", Port: 9003}, ListenOptions{}))

	done := make(chan struct{})
	require.NoError(t, listener.Close(func() { close(done) }))
	mustAwait(t, done)
}
