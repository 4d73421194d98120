// Package queue implements the bounded send/receive sequences that sit
// between a socket engine and its dispatcher: FIFO-ordered entries plus
// byte-size watermark tracking with single-shot crossing events.
package queue

import "container/list"

// Watermarks describes the low/high thresholds that govern backpressure
// signalling for a queue.
type Watermarks struct {
	Low  int
	High int
}

// Context is a snapshot of a queue's size and watermark configuration,
// returned to callers that need to decide whether to announce an event.
type Context struct {
	Size int
	Watermarks
}

// LowSatisfied reports whether the queue's current size has dropped to or
// below the low watermark.
func (c Context) LowSatisfied() bool { return c.Size <= c.Low }

// HighViolated reports whether the queue's current size exceeds the high
// watermark.
func (c Context) HighViolated() bool { return c.Size > c.High }

// Identifiable is the minimal shape a queue entry must provide so it can be
// located again by RemoveByID/RemoveByToken.
type Identifiable interface {
	QueueID() uint64
	QueueToken() (token any, ok bool)
	QueueSize() int
}

// Queue is a generic FIFO of entries satisfying Identifiable, tracking
// aggregate byte size and single-shot watermark-crossing latches.
//
// A Queue is not internally synchronized: the owning socket's mutex protects
// it, matching smux's convention of guarding its maps and slices with the
// session's own lock rather than an embedded one.
type Queue[T Identifiable] struct {
	entries *list.List // of T
	size    int
	marks   Watermarks

	lowArmed  bool // true once size has exceeded low, so a future drop-to-low can fire
	highArmed bool // true once a high-watermark event has been announced since last satisfaction
}

// New creates an empty queue with the given watermarks.
func New[T Identifiable](marks Watermarks) *Queue[T] {
	return &Queue[T]{entries: list.New(), marks: marks, lowArmed: false}
}

// SetWatermarks updates the low/high thresholds used by future crossing
// checks.
func (q *Queue[T]) SetWatermarks(marks Watermarks) { q.marks = marks }

// Len returns the number of entries currently queued.
func (q *Queue[T]) Len() int { return q.entries.Len() }

// Bytes returns the aggregate size, in bytes, of all queued entries.
func (q *Queue[T]) Bytes() int { return q.size }

// Context returns a snapshot usable for watermark decisions.
func (q *Queue[T]) Context() Context {
	return Context{Size: q.size, Watermarks: q.marks}
}

// Push appends entry to the tail of the queue and reports whether the queue
// was empty beforehand (becameNonEmpty).
func (q *Queue[T]) Push(entry T) (becameNonEmpty bool) {
	becameNonEmpty = q.entries.Len() == 0
	q.entries.PushBack(entry)
	q.size += entry.QueueSize()
	if q.size > q.marks.Low {
		q.lowArmed = true
	}
	return becameNonEmpty
}

// Front returns the head entry without removing it.
func (q *Queue[T]) Front() (entry T, ok bool) {
	e := q.entries.Front()
	if e == nil {
		return entry, false
	}
	return e.Value.(T), true
}

// Pop removes and returns the head entry.
func (q *Queue[T]) Pop() (entry T, ok bool) {
	e := q.entries.Front()
	if e == nil {
		return entry, false
	}
	q.entries.Remove(e)
	entry = e.Value.(T)
	q.size -= entry.QueueSize()
	if q.size < 0 {
		q.size = 0
	}
	return entry, true
}

// RemoveByID removes the entry with the given id, if present, reporting the
// removed entry and whether the queue is now empty.
func (q *Queue[T]) RemoveByID(id uint64) (entry T, removed bool, empty bool) {
	for e := q.entries.Front(); e != nil; e = e.Next() {
		v := e.Value.(T)
		if v.QueueID() == id {
			q.entries.Remove(e)
			q.size -= v.QueueSize()
			if q.size < 0 {
				q.size = 0
			}
			return v, true, q.entries.Len() == 0
		}
	}
	return entry, false, q.entries.Len() == 0
}

// RemoveByToken removes the entry carrying the given user token, if present.
func (q *Queue[T]) RemoveByToken(token any) (entry T, removed bool, empty bool) {
	for e := q.entries.Front(); e != nil; e = e.Next() {
		v := e.Value.(T)
		if tok, ok := v.QueueToken(); ok && tok == token {
			q.entries.Remove(e)
			q.size -= v.QueueSize()
			if q.size < 0 {
				q.size = 0
			}
			return v, true, q.entries.Len() == 0
		}
	}
	return entry, false, q.entries.Len() == 0
}

// AuthorizeLowWatermarkEvent returns true the first time the queue's size has
// dropped at or below the low watermark since it last exceeded it. It is a
// single-shot latch: a second call without the size having exceeded the low
// watermark again in between returns false.
func (q *Queue[T]) AuthorizeLowWatermarkEvent() bool {
	if q.lowArmed && q.Context().LowSatisfied() {
		q.lowArmed = false
		return true
	}
	return false
}

// AuthorizeHighWatermarkEvent returns true the first time the queue's size
// has exceeded the high watermark since the last time it was satisfied down
// to the low mark.
func (q *Queue[T]) AuthorizeHighWatermarkEvent() bool {
	if !q.highArmed && q.Context().HighViolated() {
		q.highArmed = true
		return true
	}
	if q.Context().LowSatisfied() {
		q.highArmed = false
	}
	return false
}
