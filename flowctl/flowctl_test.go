package flowctl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewStateStartsEnabled(t *testing.T) {
	s := New()
	require.True(t, s.SendEnabled())
	require.True(t, s.ReceiveEnabled())
}

func TestApplyThenUnlockedRelax(t *testing.T) {
	s := New()
	ctx, changed := s.Apply(Send, false)
	require.True(t, changed)
	require.False(t, ctx.SendEnabled)

	ctx, changed = s.Relax(Send, false)
	require.True(t, changed)
	require.True(t, ctx.SendEnabled)
}

func TestLockedApplyResistsUnguardedRelax(t *testing.T) {
	s := New()
	s.Apply(Receive, true)

	ctx, changed := s.Relax(Receive, false)
	require.False(t, changed, "a locked direction must not relax without unlock=true")
	require.False(t, ctx.ReceiveEnabled)

	ctx, changed = s.Relax(Receive, true)
	require.True(t, changed)
	require.True(t, ctx.ReceiveEnabled)
}

func TestCloseIsPermanent(t *testing.T) {
	s := New()
	ctx := s.Close()
	require.False(t, ctx.SendEnabled)
	require.False(t, ctx.ReceiveEnabled)

	_, changed := s.Relax(Send, true)
	require.False(t, changed, "a closed State ignores further transitions")
	require.False(t, s.SendEnabled())
}
