// Package dispatch implements a single event-routing rule: every
// announcement either runs inline (dropping and retaking the caller's
// mutex), is enqueued on a destination strand, or is handed to an executor
// to run off the dispatcher's thread.
//
// This generalizes the family of ntcs::Dispatch::announce* functions: one
// routing rule, reused for every event kind, rather than one function per
// event.
package dispatch

import "sync"

// Strand is a serial executor: functors submitted to one Strand run
// sequentially and never overlap.
type Strand interface {
	// Execute submits fn to run on this strand.
	Execute(fn func())
	// RunsInlineWith reports whether code currently executing on candidate
	// is permitted to invoke this strand's work directly, without a trip
	// through Execute. The strands in this package answer true only when
	// candidate is the strand itself; a nil Destination ("any thread is
	// acceptable") is handled by Announce, not by this method.
	RunsInlineWith(candidate Strand) bool
}

// Executor runs functors asynchronously, off the calling thread.
type Executor interface {
	Execute(fn func())
}

// Locker is the minimal mutex shape Dispatch needs: a lock it may drop and
// retake around an inline invocation.
type Locker interface {
	Lock()
	Unlock()
}

// Options configures one dispatch call.
type Options struct {
	// Destination is the strand the announcement must run on, or nil if any
	// thread is acceptable.
	Destination Strand
	// Source is the strand the caller is currently executing on, or nil if
	// unknown.
	Source Strand
	// Executor runs the announcement when Destination is nil and inline
	// execution is not permitted.
	Executor Executor
	// Defer forces enqueueing even when inline execution would otherwise be
	// permitted. Half-open shutdown announcements set this to guarantee
	// user-observable ordering.
	Defer bool
	// Mutex is the caller's lock. Dispatch may unlock/relock it around an
	// inline invocation; this is the only place permitted to do so. May be
	// nil if the caller holds no lock (e.g. a top-level test harness).
	Mutex Locker
}

// canRunInline holds when destination is either nil (any thread acceptable)
// or permits the source strand to invoke it directly.
func canRunInline(destination, source Strand) bool {
	if destination == nil {
		return true
	}
	return destination.RunsInlineWith(source)
}

// Announce routes fn according to the rule:
//
//	if !opts.Defer && canRunInline(opts.Destination, opts.Source):
//	    unlock opts.Mutex; fn(); relock opts.Mutex
//	else if opts.Destination != nil:
//	    opts.Destination.Execute(fn)
//	else:
//	    opts.Executor.Execute(fn)
func Announce(opts Options, fn func()) {
	if !opts.Defer && canRunInline(opts.Destination, opts.Source) {
		if opts.Mutex != nil {
			opts.Mutex.Unlock()
			defer opts.Mutex.Lock()
		}
		fn()
		return
	}
	if opts.Destination != nil {
		opts.Destination.Execute(fn)
		return
	}
	opts.Executor.Execute(fn)
}

// InlineStrand is a Strand that considers itself runnable inline only from
// itself and simply invokes fn synchronously (under its own mutex) from
// Execute. Useful for
// sockets that have no strand of their own but still need a non-nil handle
// to compare against (e.g. a listener's accepted sockets sharing its
// strand).
type InlineStrand struct{ mu sync.Mutex }

func (s *InlineStrand) Execute(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

func (s *InlineStrand) RunsInlineWith(candidate Strand) bool {
	return candidate == Strand(s)
}
