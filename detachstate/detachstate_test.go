package detachstate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitiateLatchesGoalAndIsOneShot(t *testing.T) {
	s := New()
	require.True(t, s.IsIdle())

	ok := s.Initiate(GoalClose)
	require.True(t, ok)
	require.Equal(t, GoalClose, s.Goal())
	require.False(t, s.IsIdle())

	ok = s.Initiate(GoalExport)
	require.False(t, ok, "a second Initiate while one is in flight must fail")
	require.Equal(t, GoalClose, s.Goal(), "the original goal is unchanged")
}

func TestAcknowledgeReturnsToIdle(t *testing.T) {
	s := New()
	require.False(t, s.Acknowledge(), "acknowledging with nothing in flight fails")

	s.Initiate(GoalExport)
	require.True(t, s.Acknowledge())
	require.True(t, s.IsIdle())

	require.True(t, s.Initiate(GoalClose), "idle again after acknowledge, so Initiate succeeds")
}
