package simnet

import (
	"sync"

	"github.com/sagernet/asio"
)

// faultState implements a deterministic fault-injection hook
// (Machine.DropNext / Machine.ForceNextError): drop the next N packets sent
// on a session, or force the next send on a session to fail with a given
// error kind. The simulated machine exists to
// be used by tests and to drive fault injection.
type faultState struct {
	mu sync.Mutex

	dropCount   map[asio.Handle]int
	forcedError map[asio.Handle]asio.ErrorKind
}

func newFaultState() *faultState {
	return &faultState{
		dropCount:   make(map[asio.Handle]int),
		forcedError: make(map[asio.Handle]asio.ErrorKind),
	}
}

// DropNext arranges for the next n sends on h to be silently dropped (as if
// lost in transit) rather than delivered.
func (m *Machine) DropNext(h asio.Handle, n int) {
	m.fault.mu.Lock()
	defer m.fault.mu.Unlock()
	m.fault.dropCount[h] = n
}

// ForceNextError arranges for the next send on h to fail immediately with
// kind, without being attempted against the network.
func (m *Machine) ForceNextError(h asio.Handle, kind asio.ErrorKind) {
	m.fault.mu.Lock()
	defer m.fault.mu.Unlock()
	m.fault.forcedError[h] = kind
}

func (f *faultState) takeDrop(h asio.Handle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.dropCount[h]
	if !ok || n <= 0 {
		return false
	}
	n--
	if n == 0 {
		delete(f.dropCount, h)
	} else {
		f.dropCount[h] = n
	}
	return true
}

func (f *faultState) takeForcedError(h asio.Handle) (asio.ErrorKind, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kind, ok := f.forcedError[h]
	if ok {
		delete(f.forcedError, h)
	}
	return kind, ok
}
