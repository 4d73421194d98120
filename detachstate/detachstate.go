// Package detachstate coordinates dispatcher detachment with shutdown: a
// detach operation is initiated once and latches until the dispatcher
// confirms.
package detachstate

import "sync/atomic"

// Goal describes what should happen once detachment from the dispatcher is
// acknowledged.
type Goal int32

const (
	// GoalNone means no detach has been requested yet.
	GoalNone Goal = iota
	// GoalClose means the socket should be fully released once detached.
	GoalClose
	// GoalExport means the underlying descriptor should be handed back to
	// the caller, detached from the engine and removed from the
	// dispatcher's observation set, without a Close.
	GoalExport
)

// Mode reports whether a detach is currently in flight.
type Mode int32

const (
	ModeIdle Mode = iota
	ModeInitiated
)

// State is the detach state of a single socket.
type State struct {
	goal atomic.Int32
	mode atomic.Int32
}

// New returns an idle detach state.
func New() *State { return &State{} }

// Goal returns the current detach goal.
func (s *State) Goal() Goal { return Goal(s.goal.Load()) }

// Mode returns whether detachment is idle or in flight.
func (s *State) Mode() Mode { return Mode(s.mode.Load()) }

// IsIdle reports whether no detach is currently outstanding.
func (s *State) IsIdle() bool { return s.Mode() == ModeIdle }

// Initiate latches the detach goal and transitions to initiated. Returns
// false if a detach was already in flight (the operation is one-shot).
func (s *State) Initiate(goal Goal) bool {
	if !s.mode.CompareAndSwap(int32(ModeIdle), int32(ModeInitiated)) {
		return false
	}
	s.goal.Store(int32(goal))
	return true
}

// Acknowledge returns the state to idle once the dispatcher has confirmed
// the socket has been removed from its observation set. Returns false if no
// detach was in flight.
func (s *State) Acknowledge() bool {
	return s.mode.CompareAndSwap(int32(ModeInitiated), int32(ModeIdle))
}
