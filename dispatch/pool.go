package dispatch

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// acquireCtx is used for semaphore acquisition only; PoolExecutor never
// cancels an in-flight acquire, so a background context is sufficient.
var acquireCtx = context.Background()

// PoolExecutor runs submitted functors on a bounded pool of goroutines,
// modeled after the bounded-fan-out idiom golang.org/x/sync/errgroup's
// semaphore companion package provides, generalized here from "bounded
// concurrent tasks with error collection" to "bounded concurrent fire-and-
// forget dispatch."
//
// The teacher spins one dedicated goroutine per concern (shaperLoop,
// recvLoop, sendLoop); PoolExecutor generalizes that to an arbitrary number
// of concerns sharing a capped worker budget, matching the proactor's
// maxThreads() collaborator contract.
type PoolExecutor struct {
	sem *semaphore.Weighted
}

// NewPoolExecutor returns an Executor that runs at most maxConcurrent
// functors at a time; additional submissions queue until a slot frees up.
func NewPoolExecutor(maxConcurrent int64) *PoolExecutor {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &PoolExecutor{sem: semaphore.NewWeighted(maxConcurrent)}
}

// Execute runs fn on a goroutine, blocking the submitter only long enough to
// acquire a slot in the pool.
func (p *PoolExecutor) Execute(fn func()) {
	_ = p.sem.Acquire(acquireCtx, 1)
	go func() {
		defer p.sem.Release(1)
		fn()
	}()
}
