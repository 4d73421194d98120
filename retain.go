package asio

import "sync/atomic"

// retainGuard implements a "retain while in flight" pattern: rather than a
// weak/strong reference cycle, an explicit count of outstanding
// asynchronous operations keeps the engine's bookkeeping alive until every
// scheduled completion has run.
type retainGuard struct {
	count atomic.Int64
}

// enter records that one more asynchronous operation has been scheduled.
func (r *retainGuard) enter() { r.count.Add(1) }

// leave records that one asynchronous operation has completed, returning
// the number of operations still outstanding.
func (r *retainGuard) leave() int64 { return r.count.Add(-1) }

// outstanding reports how many asynchronous operations are currently in
// flight.
func (r *retainGuard) outstanding() int64 { return r.count.Load() }
