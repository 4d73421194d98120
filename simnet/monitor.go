package simnet

import "github.com/sagernet/asio"

// Event selects a readiness kind a Monitor watch can be shown/hidden for.
type Event int

const (
	EventReadable Event = iota
	EventWritable
)

// ReadyEvent is one readiness notification returned by Monitor.Dequeue.
type ReadyEvent struct {
	Handle   asio.Handle
	Readable bool
	Writable bool
}

type watch struct {
	showRead  bool
	showWrite bool
}

// Monitor mirrors a readiness-based reactor over the simulated machine as a
// companion to Proactor: Add/Remove register interest in a session,
// Show/Hide toggle which readiness kinds are reported, and Dequeue returns
// readable/writable events consistent with current buffer state.
type Monitor struct {
	machine *Machine
	watched map[asio.Handle]*watch
}

// NewMonitor constructs a Monitor observing machine's sessions.
func NewMonitor(machine *Machine) *Monitor {
	return &Monitor{machine: machine, watched: make(map[asio.Handle]*watch)}
}

// Add registers h for monitoring, with no readiness kinds shown yet.
func (mon *Monitor) Add(h asio.Handle) {
	if _, ok := mon.watched[h]; ok {
		return
	}
	mon.watched[h] = &watch{}
}

// Remove unregisters h.
func (mon *Monitor) Remove(h asio.Handle) {
	delete(mon.watched, h)
}

// Show arms event for h so it appears in future Dequeue results.
func (mon *Monitor) Show(h asio.Handle, event Event) {
	w, ok := mon.watched[h]
	if !ok {
		return
	}
	switch event {
	case EventReadable:
		w.showRead = true
	case EventWritable:
		w.showWrite = true
	}
}

// Hide disarms event for h.
func (mon *Monitor) Hide(h asio.Handle, event Event) {
	w, ok := mon.watched[h]
	if !ok {
		return
	}
	switch event {
	case EventReadable:
		w.showRead = false
	case EventWritable:
		w.showWrite = false
	}
}

// Dequeue returns one ReadyEvent per watched handle whose shown readiness
// kinds are currently satisfied, consistent with the underlying session's
// buffer state.
func (mon *Monitor) Dequeue() []ReadyEvent {
	var out []ReadyEvent
	for h, w := range mon.watched {
		if !w.showRead && !w.showWrite {
			continue
		}
		mon.machine.mu.Lock()
		s := mon.machine.sessions[h]
		mon.machine.mu.Unlock()
		if s == nil {
			continue
		}
		readable := w.showRead && (s.hasData() || s.isReceiveComplete())
		writable := w.showWrite && mon.machine.isWritable(s)
		if readable || writable {
			out = append(out, ReadyEvent{Handle: h, Readable: readable, Writable: writable})
		}
	}
	return out
}

// isWritable reports whether s's outbound path currently has room, used by
// Monitor.Dequeue's writable check.
func (m *Machine) isWritable(s *session) bool {
	if s.transport == asio.TransportDatagram {
		return true
	}
	s.mu.Lock()
	peerHandle := s.peer
	s.mu.Unlock()
	if peerHandle == 0 {
		return false
	}
	m.mu.Lock()
	peer := m.sessions[peerHandle]
	m.mu.Unlock()
	if peer == nil {
		return false
	}
	peer.mu.Lock()
	defer peer.mu.Unlock()
	return peer.inboundBytes < peer.recvBufSize
}
