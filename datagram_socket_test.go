package asio

import (
	"testing"
	"time"

	"github.com/sagernet/asio/ratectl"
	"github.com/sagernet/asio/simnet"
	"github.com/stretchr/testify/require"
)

func newTestConfig() *Config {
	c := DefaultConfig()
	c.MaxDatagramSize = 1 << 16
	return c
}

func newTestProactor(t *testing.T) (*simnet.Proactor, func()) {
	t.Helper()
	p := simnet.NewProactor(simnet.NewMachine())
	return p, p.Close
}

func mustAwait(t *testing.T, done chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callback")
	}
}

func TestDatagramSocketSendReceiveRoundTrip(t *testing.T) {
	proactor, closeProactor := newTestProactor(t)
	defer closeProactor()
	config := newTestConfig()

	a := NewDatagramSocket(config, proactor)
	b := NewDatagramSocket(config, proactor)

	require.NoError(t, a.Bind(Endpoint{Kind: EndpointIPv4, Host: "127.0.0.1", Port: 0}, BindOptions{}, nil))
	require.NoError(t, b.Bind(Endpoint{Kind: EndpointIPv4, Host: "127.0.0.1", Port: 0}, BindOptions{}, nil))

	aLocal, ok := a.LocalEndpoint()
	require.True(t, ok)
	require.NotZero(t, aLocal.Port, "Bind with port 0 must allocate an ephemeral port")

	bLocal, ok := b.LocalEndpoint()
	require.True(t, ok)

	done := make(chan struct{})
	var received ReceiveResult
	require.NoError(t, a.Receive(ReceiveOptions{}, func(r ReceiveResult) {
		received = r
		close(done)
	}))

	require.NoError(t, b.Send([]byte("hello"), SendOptions{Destination: &aLocal}, nil))
	mustAwait(t, done)

	require.NoError(t, received.Err)
	require.Equal(t, "hello", string(received.Data))
	require.Equal(t, bLocal.Port, received.Source.Port)
}

func TestDatagramSocketSendRejectsOversizedPayload(t *testing.T) {
	proactor, closeProactor := newTestProactor(t)
	defer closeProactor()
	config := newTestConfig()
	config.MaxDatagramSize = 4

	s := NewDatagramSocket(config, proactor)
	require.NoError(t, s.Open(TransportDatagram))

	err := s.Send([]byte("too long"), SendOptions{Destination: &Endpoint{Kind: EndpointIPv4, Host: "127.0.0.1", Port: 1}}, nil)
	require.Error(t, err)
	require.Equal(t, KindInvalid, KindOf(err))
}

func TestDatagramSocketSendWithoutDestinationOrConnectFails(t *testing.T) {
	proactor, closeProactor := newTestProactor(t)
	defer closeProactor()

	s := NewDatagramSocket(newTestConfig(), proactor)
	require.NoError(t, s.Open(TransportDatagram))

	err := s.Send([]byte("x"), SendOptions{}, nil)
	require.Error(t, err)
	require.Equal(t, KindInvalid, KindOf(err))
}

func TestDatagramSocketReceiveAfterShutdownReturnsEOF(t *testing.T) {
	proactor, closeProactor := newTestProactor(t)
	defer closeProactor()

	s := NewDatagramSocket(newTestConfig(), proactor)
	require.NoError(t, s.Open(TransportDatagram))
	require.NoError(t, s.Shutdown(ShutdownReceiveDirection, ShutdownImmediate))

	done := make(chan struct{})
	var result ReceiveResult
	require.NoError(t, s.Receive(ReceiveOptions{}, func(r ReceiveResult) {
		result = r
		close(done)
	}))
	mustAwait(t, done)
	require.Equal(t, KindEOF, KindOf(result.Err))
}

func TestDatagramSocketConnectRejectsAnyAddress(t *testing.T) {
	proactor, closeProactor := newTestProactor(t)
	defer closeProactor()

	s := NewDatagramSocket(newTestConfig(), proactor)
	err := s.Connect(Endpoint{Kind: EndpointIPv4, Host: "0.0.0.0", Port: 5}, ConnectOptions{}, nil)
	require.Error(t, err)
	require.Equal(t, KindInvalid, KindOf(err))
}

func TestDatagramSocketCloseDetachesAndInvokesCallback(t *testing.T) {
	proactor, closeProactor := newTestProactor(t)
	defer closeProactor()

	s := NewDatagramSocket(newTestConfig(), proactor)
	require.NoError(t, s.Open(TransportDatagram))

	done := make(chan struct{})
	require.NoError(t, s.Close(func(err error) {
		require.NoError(t, err)
		close(done)
	}))
	mustAwait(t, done)
}

func TestDatagramSocketSendDefersUntilRateLimiterAdmits(t *testing.T) {
	proactor, closeProactor := newTestProactor(t)
	defer closeProactor()
	config := newTestConfig()
	limiter := ratectl.NewTokenBucket(1000, 2)
	limiter.Submit(time.Now(), 2) // drain the burst so the first send must wait on refill
	config.RateLimiterSend = limiter

	a := NewDatagramSocket(config, proactor)
	b := NewDatagramSocket(config, proactor)
	require.NoError(t, a.Bind(Endpoint{Kind: EndpointIPv4, Host: "127.0.0.1", Port: 0}, BindOptions{}, nil))
	require.NoError(t, b.Bind(Endpoint{Kind: EndpointIPv4, Host: "127.0.0.1", Port: 0}, BindOptions{}, nil))
	bLocal, ok := b.LocalEndpoint()
	require.True(t, ok)

	received := make(chan struct{})
	require.NoError(t, b.Receive(ReceiveOptions{}, func(r ReceiveResult) {
		require.NoError(t, r.Err)
		require.Equal(t, "hi", string(r.Data))
		close(received)
	}))

	sendDone := make(chan struct{})
	start := time.Now()
	require.NoError(t, a.Send([]byte("hi"), SendOptions{Destination: &bLocal}, func(r SendResult) {
		require.NoError(t, r.Err)
		close(sendDone)
	}))
	mustAwait(t, sendDone)
	mustAwait(t, received)
	require.GreaterOrEqual(t, time.Since(start), time.Millisecond, "a starved bucket must delay the send rather than dispatch immediately")
}
