// Package shutdownstate tracks half-close progress per direction and
// origin.
package shutdownstate

// Origin identifies which side initiated a shutdown transition.
type Origin int

const (
	OriginNone Origin = iota
	OriginLocal
	OriginRemote
)

// half is private: shutdownstate only ever reasons about send/receive
// together, exposed through the two Try* entry points below (TryShutdownSend
// / TryShutdownReceive) rather than a generic parameterized one.
type half struct {
	canProceed bool
	initiated  bool
	completed  bool
	origin     Origin
}

func newHalf() half { return half{canProceed: true} }

// State is the shutdown state of a single socket.
type State struct {
	send    half
	receive half
}

// New returns a State with both directions open.
func New() *State {
	return &State{send: newHalf(), receive: newHalf()}
}

// Context reports the outcome of a Try* call: which directions just
// transitioned to initiated, their origins, and whether the socket is now
// fully shut down.
type Context struct {
	SendInitiated    bool
	ReceiveInitiated bool
	Origin           Origin
	Complete         bool
}

// SendInitiated reports whether shutdown-send has been initiated (by either
// side).
func (s *State) SendInitiated() bool { return s.send.initiated }

// ReceiveInitiated reports whether shutdown-receive has been initiated.
func (s *State) ReceiveInitiated() bool { return s.receive.initiated }

// SendComplete reports whether shutdown-send has fully completed.
func (s *State) SendComplete() bool { return s.send.completed }

// ReceiveComplete reports whether shutdown-receive has fully completed.
func (s *State) ReceiveComplete() bool { return s.receive.completed }

// Complete reports whether both directions have completed.
func (s *State) Complete() bool { return s.send.completed && s.receive.completed }

// TryShutdownSend marks shutdown-send as initiated, if it has not already
// transitioned (the transition from canProceed=true is one-shot). When
// keepHalfOpen is false, or receive has already completed, receive is also
// marked initiated. Returns nil if send shutdown had already been initiated
// (idempotent — only the first call produces events).
func (s *State) TryShutdownSend(origin Origin, keepHalfOpen bool) (*Context, bool) {
	if !s.send.canProceed {
		return nil, false
	}
	s.send.canProceed = false
	s.send.initiated = true
	s.send.origin = origin

	ctx := &Context{SendInitiated: true, Origin: origin}
	if !keepHalfOpen || s.receive.completed {
		if s.receive.canProceed {
			s.receive.canProceed = false
			s.receive.initiated = true
			if s.receive.origin == OriginNone {
				s.receive.origin = origin
			}
			ctx.ReceiveInitiated = true
		}
	}
	ctx.Complete = s.Complete()
	return ctx, true
}

// TryShutdownReceive is the symmetric operation for the receive direction.
func (s *State) TryShutdownReceive(origin Origin, keepHalfOpen bool) (*Context, bool) {
	if !s.receive.canProceed {
		return nil, false
	}
	s.receive.canProceed = false
	s.receive.initiated = true
	s.receive.origin = origin

	ctx := &Context{ReceiveInitiated: true, Origin: origin}
	if !keepHalfOpen || s.send.completed {
		if s.send.canProceed {
			s.send.canProceed = false
			s.send.initiated = true
			if s.send.origin == OriginNone {
				s.send.origin = origin
			}
			ctx.SendInitiated = true
		}
	}
	ctx.Complete = s.Complete()
	return ctx, true
}

// CompleteSend marks shutdown-send as fully completed (e.g. the dispatcher
// has confirmed the socket's write half has closed). Returns whether the
// socket is now shut down in both directions.
func (s *State) CompleteSend() bool {
	s.send.completed = true
	return s.Complete()
}

// CompleteReceive marks shutdown-receive as fully completed.
func (s *State) CompleteReceive() bool {
	s.receive.completed = true
	return s.Complete()
}
