// Package spawner specializes a protocol client endpoint for the spawner
// host: it mirrors the spawner's service and signal state, issues
// service.* directives against it, and resolves the kill-script runner's
// and action executor's reap waits from the spawner's event stream.
package spawner

import (
	"sort"
	"sync"

	"github.com/axondata/desd"
)

// Mirror is the reconciler's read model of the spawner's world: one
// desd.ObservedState per service name, plus the set of signals the
// spawner has reported as pending. It is safe for concurrent use since
// events arrive on the endpoint's read goroutine while the reconciler
// loop reads it from its own.
type Mirror struct {
	mu       sync.Mutex
	services map[string]*desd.ObservedState
	pending  map[string]struct{}
}

// NewMirror returns an empty Mirror.
func NewMirror() *Mirror {
	return &Mirror{
		services: make(map[string]*desd.ObservedState),
		pending:  make(map[string]struct{}),
	}
}

// Reset clears all mirrored state, per spec.md §4.6's startup/reload path
// ("Reset the mirrored spawner state") preceding a fresh statedump.
func (m *Mirror) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services = make(map[string]*desd.ObservedState)
	m.pending = make(map[string]struct{})
}

// Get returns the observed state for name, or the zero value if the
// spawner has never reported it.
func (m *Mirror) Get(name string) (desd.ObservedState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.services[name]
	if !ok {
		return desd.ObservedState{}, false
	}
	return *st, true
}

// Names returns every service name the mirror currently holds state for,
// sorted for deterministic reconciliation fan-out.
func (m *Mirror) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.services))
	for name := range m.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Mirror) entry(name string) *desd.ObservedState {
	st, ok := m.services[name]
	if !ok {
		st = &desd.ObservedState{}
		m.services[name] = st
	}
	return st
}

// SetState records a service.state event: running flag and PID. A zero PID
// leaves the previously observed PID untouched, since the kill-script
// runner and reap-matching logic key off the last nonzero PID reported for
// a service even once it has gone down.
func (m *Mirror) SetState(name string, running bool, pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.entry(name)
	st.Running = running
	if pid != 0 {
		st.PID = pid
	}
	if running {
		st.Since = nowFunc()
	}
}

// SetExit records a service.exit event's reason and value.
func (m *Mirror) SetExit(name string, reason desd.ExitReason, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.entry(name)
	st.Last = desd.LastExit{Reason: reason, Value: value}
}

// CurrentPID returns the service's last-reported PID and whether it is
// currently running, per the killscript.Spawner contract used to detect a
// new invocation starting mid-script.
func (m *Mirror) CurrentPID(name string) (pid int, running bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.services[name]
	if !ok {
		return 0, false
	}
	return st.PID, st.Running
}

// LastExit returns the wire form of the service's most recently recorded
// exit, for the kill-script runner's abort-on-pid-change path.
func (m *Mirror) LastExit(name string) (reason, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.services[name]
	if !ok {
		return "", ""
	}
	return st.Last.Reason.String(), st.Last.Value
}

// MarkSignal records that the spawner has reported signal name as pending.
func (m *Mirror) MarkSignal(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[name] = struct{}{}
}

// ClearSignal clears name's pending mark, per spec.md §4.6
// reconcile_signal's first step.
func (m *Mirror) ClearSignal(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, name)
}

// PendingSignals returns every signal name currently marked pending,
// sorted for deterministic fan-out.
func (m *Mirror) PendingSignals() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.pending))
	for name := range m.pending {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// nowFunc is overridden in tests that need deterministic timestamps.
var nowFunc = defaultNow
