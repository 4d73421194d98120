package netproactor

import (
	"testing"
	"time"

	"github.com/sagernet/asio"
	"github.com/stretchr/testify/require"
)

// fakeSocket implements asio.ProactorSocket, capturing completions on
// buffered channels so tests can await them without a real DatagramSocket
// or StreamSocket in the loop.
type fakeSocket struct {
	h         asio.Handle
	sent      chan asio.SendResult
	received  chan asio.ReceiveResult
	connected chan error
}

func newFakeSocket(h asio.Handle) *fakeSocket {
	return &fakeSocket{
		h:         h,
		sent:      make(chan asio.SendResult, 8),
		received:  make(chan asio.ReceiveResult, 8),
		connected: make(chan error, 1),
	}
}

func (f *fakeSocket) Handle() asio.Handle                       { return f.h }
func (f *fakeSocket) ProcessSocketSent(r asio.SendResult)        { f.sent <- r }
func (f *fakeSocket) ProcessSocketReceived(r asio.ReceiveResult) { f.received <- r }
func (f *fakeSocket) ProcessSocketConnected(err error)           { f.connected <- err }
func (f *fakeSocket) ProcessSocketError(error)                   {}
func (f *fakeSocket) ProcessSocketDetached()                     {}

type acceptedInfo struct {
	handle asio.Handle
	remote asio.Endpoint
	err    error
}

type fakeListener struct {
	h        asio.Handle
	accepted chan acceptedInfo
}

func newFakeListener(h asio.Handle) *fakeListener {
	return &fakeListener{h: h, accepted: make(chan acceptedInfo, 8)}
}

func (f *fakeListener) Handle() asio.Handle { return f.h }
func (f *fakeListener) ProcessListenerAccepted(accepted asio.Handle, remote asio.Endpoint, err error) {
	f.accepted <- acceptedInfo{handle: accepted, remote: remote, err: err}
}
func (f *fakeListener) ProcessListenerError(error) {}
func (f *fakeListener) ProcessListenerDetached()   {}

func await[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting on channel")
	}
	panic("unreachable")
}

func TestAllocateHandleIsMonotonic(t *testing.T) {
	p := New()
	a := p.AllocateHandle(asio.TransportStream)
	b := p.AllocateHandle(asio.TransportStream)
	require.Greater(t, int(b), int(a))
}

func TestDatagramBindSendReceiveRoundTrip(t *testing.T) {
	p := New()

	ha := p.AllocateHandle(asio.TransportDatagram)
	boundA, err := p.Bind(ha, asio.Endpoint{Kind: asio.EndpointIPv4, Host: "127.0.0.1", Port: 0}, asio.BindOptions{})
	require.NoError(t, err)
	require.NotZero(t, boundA.Port)
	sockA := newFakeSocket(ha)
	require.NoError(t, p.AttachSocket(sockA))

	hb := p.AllocateHandle(asio.TransportDatagram)
	boundB, err := p.Bind(hb, asio.Endpoint{Kind: asio.EndpointIPv4, Host: "127.0.0.1", Port: 0}, asio.BindOptions{})
	require.NoError(t, err)
	sockB := newFakeSocket(hb)
	require.NoError(t, p.AttachSocket(sockB))

	require.NoError(t, p.Receive(ha, asio.ReceiveOptions{}))
	require.NoError(t, p.Send(hb, []byte("hi"), asio.SendOptions{Destination: &boundA}))

	sendResult := await(t, sockB.sent)
	require.NoError(t, sendResult.Err)
	require.Equal(t, 2, sendResult.Bytes)

	recvResult := await(t, sockA.received)
	require.NoError(t, recvResult.Err)
	require.Equal(t, "hi", string(recvResult.Data))
	require.Equal(t, boundB.Port, recvResult.Source.Port)
}

func TestStreamListenConnectSendReceiveRoundTrip(t *testing.T) {
	p := New()

	lh := p.AllocateHandle(asio.TransportStream)
	listener := newFakeListener(lh)
	endpoint := asio.Endpoint{Kind: asio.EndpointIPv4, Host: "127.0.0.1", Port: 18391}
	require.NoError(t, p.AttachListener(listener, endpoint, asio.ListenOptions{}))
	defer p.DetachListener(listener)

	ch := p.AllocateHandle(asio.TransportStream)
	client := newFakeSocket(ch)
	require.NoError(t, p.AttachSocket(client))
	require.NoError(t, p.Connect(ch, endpoint, asio.ConnectOptions{}))

	connErr := await(t, client.connected)
	require.NoError(t, connErr)

	accept := await(t, listener.accepted)
	require.NoError(t, accept.err)
	server := newFakeSocket(accept.handle)
	require.NoError(t, p.AttachSocket(server))

	require.NoError(t, p.Receive(accept.handle, asio.ReceiveOptions{MinBytes: 1}))
	require.NoError(t, p.Send(ch, []byte("ping"), asio.SendOptions{}))

	sendResult := await(t, client.sent)
	require.NoError(t, sendResult.Err)

	recvResult := await(t, server.received)
	require.NoError(t, recvResult.Err)
	require.Equal(t, "ping", string(recvResult.Data))
}
