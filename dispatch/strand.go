package dispatch

// GoroutineStrand is a Strand backed by a single worker goroutine draining a
// functor channel, in the same spirit as smux's dedicated
// sendLoop/recvLoop/shaperLoop goroutines: one goroutine, one serial stream
// of work.
type GoroutineStrand struct {
	work chan func()
	done chan struct{}
}

// NewGoroutineStrand starts the worker goroutine and returns the strand.
// Close must be called to stop it.
func NewGoroutineStrand(queueDepth int) *GoroutineStrand {
	if queueDepth < 1 {
		queueDepth = 1
	}
	s := &GoroutineStrand{
		work: make(chan func(), queueDepth),
		done: make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *GoroutineStrand) loop() {
	for {
		select {
		case fn := <-s.work:
			fn()
		case <-s.done:
			return
		}
	}
}

// Execute enqueues fn to run on the strand's worker goroutine.
func (s *GoroutineStrand) Execute(fn func()) {
	select {
	case s.work <- fn:
	case <-s.done:
	}
}

// RunsInlineWith reports whether candidate is this same strand — the only
// case in which a caller already executing on this strand may invoke its
// work directly rather than round-tripping through Execute.
func (s *GoroutineStrand) RunsInlineWith(candidate Strand) bool {
	return candidate == Strand(s)
}

// Close stops the worker goroutine. Pending work is discarded.
func (s *GoroutineStrand) Close() {
	close(s.done)
}
