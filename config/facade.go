package config

import "sync/atomic"

// Facade exposes the current Snapshot to the reconciler and friends via an
// atomic pointer, so a reload's Build-then-Swap is a single atomic
// operation from the single-threaded loop's perspective, per spec.md
// §4.8: "a pointer-swap on reload is atomic from the single-threaded
// loop's perspective."
type Facade struct {
	ptr atomic.Pointer[Snapshot]
}

// NewFacade builds a Facade holding initial.
func NewFacade(initial *Snapshot) *Facade {
	f := &Facade{}
	f.ptr.Store(initial)
	return f
}

// Load returns the currently active Snapshot.
func (f *Facade) Load() *Snapshot {
	return f.ptr.Load()
}

// Swap installs next as the active Snapshot and returns the one it
// replaced.
func (f *Facade) Swap(next *Snapshot) *Snapshot {
	return f.ptr.Swap(next)
}
