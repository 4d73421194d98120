package dispatch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeLocker struct {
	mu        sync.Mutex
	unlocks   int
	relocks   int
	callOrder []string
}

func (f *fakeLocker) Lock() {
	f.mu.Lock()
	f.relocks++
	f.callOrder = append(f.callOrder, "lock")
}

func (f *fakeLocker) Unlock() {
	f.unlocks++
	f.callOrder = append(f.callOrder, "unlock")
	f.mu.Unlock()
}

func TestAnnounceRunsInlineWhenPermitted(t *testing.T) {
	locker := &fakeLocker{}
	locker.Lock()

	ran := false
	Announce(Options{Mutex: locker}, func() { ran = true })

	require.True(t, ran)
	require.Equal(t, 1, locker.unlocks)
	require.Equal(t, 2, locker.relocks, "Lock was called once by the test, once by Announce's defer")
}

func TestAnnounceDefersToExecutorWhenDestinationNil(t *testing.T) {
	var executed []func()
	exec := executorFunc(func(fn func()) { executed = append(executed, fn) })

	ran := false
	Announce(Options{Defer: true, Executor: exec}, func() { ran = true })

	require.False(t, ran, "Defer forces enqueueing even with no destination strand")
	require.Len(t, executed, 1)
	executed[0]()
	require.True(t, ran)
}

func TestAnnounceRoutesToDestinationStrandWhenNotInline(t *testing.T) {
	other := &stubStrand{inline: false}
	strand := NewGoroutineStrand(4)
	defer strand.Close()

	done := make(chan struct{})
	Announce(Options{Destination: strand, Source: other}, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Announce to route through the destination strand")
	}
}

func TestGoroutineStrandRunsInlineOnlyWithItself(t *testing.T) {
	a := NewGoroutineStrand(1)
	defer a.Close()
	b := NewGoroutineStrand(1)
	defer b.Close()

	require.True(t, a.RunsInlineWith(a))
	require.False(t, a.RunsInlineWith(b))
}

func TestInlineStrandSerializesExecute(t *testing.T) {
	s := &InlineStrand{}
	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			s.Execute(func() {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
			})
		}()
	}
	wg.Wait()
	require.Len(t, order, 10)
}

type executorFunc func(fn func())

func (f executorFunc) Execute(fn func()) { f(fn) }

type stubStrand struct{ inline bool }

func (s *stubStrand) Execute(fn func())                  { fn() }
func (s *stubStrand) RunsInlineWith(candidate Strand) bool { return s.inline }
