package shutdownstate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTryShutdownSendIsOneShot(t *testing.T) {
	s := New()
	ctx, ok := s.TryShutdownSend(OriginLocal, true)
	require.True(t, ok)
	require.True(t, ctx.SendInitiated)
	require.False(t, ctx.ReceiveInitiated)

	_, ok = s.TryShutdownSend(OriginLocal, true)
	require.False(t, ok, "a second shutdown-send call is a no-op")
}

func TestKeepHalfOpenFalseClosesBothDirections(t *testing.T) {
	s := New()
	ctx, ok := s.TryShutdownSend(OriginRemote, false)
	require.True(t, ok)
	require.True(t, ctx.SendInitiated)
	require.True(t, ctx.ReceiveInitiated, "keepHalfOpen=false initiates the other direction too")
	require.Equal(t, OriginRemote, ctx.Origin)
}

func TestKeepHalfOpenTruePreservesReceive(t *testing.T) {
	s := New()
	ctx, ok := s.TryShutdownSend(OriginLocal, true)
	require.True(t, ok)
	require.False(t, ctx.ReceiveInitiated)
	require.False(t, s.ReceiveInitiated())
}

func TestCompleteTracksBothDirections(t *testing.T) {
	s := New()
	s.TryShutdownSend(OriginLocal, false)
	require.False(t, s.Complete())

	require.False(t, s.CompleteSend())
	require.True(t, s.CompleteReceive())
}

func TestTryShutdownReceiveThenSendAlreadyInitiatedKeepsOrigin(t *testing.T) {
	s := New()
	s.TryShutdownReceive(OriginRemote, true)
	ctx, ok := s.TryShutdownSend(OriginLocal, true)
	require.True(t, ok)
	require.Equal(t, OriginLocal, ctx.Origin, "each direction keeps its own origin when both are closed independently")
}
