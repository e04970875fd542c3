// Package logging wires a verbosity level (the CLI's --verbose/--quiet and
// the runtime SIGUSR1/SIGUSR2 adjustment from spec.md §4.6) to a
// log/slog.Logger used throughout the core.
package logging

import (
	"log/slog"
	"os"
	"sync/atomic"
)

// Level mirrors the handful of verbosity steps the reconciler's signal
// handlers step through; it maps onto slog.Level at the extremes and
// degrades gracefully past them.
type Level int32

// New builds a slog.Logger writing text-formatted records to stderr at the
// given starting verbosity. Negative values quiet the logger below warn;
// positive values enable info and debug output.
func New(verbosity int) *slog.Logger {
	lvl := &slog.LevelVar{}
	lvl.Set(levelFor(verbosity))

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}

func levelFor(verbosity int) slog.Level {
	switch {
	case verbosity <= -1:
		return slog.LevelError
	case verbosity == 0:
		return slog.LevelWarn
	case verbosity == 1:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// Adjustable wraps a *slog.LevelVar and an atomic verbosity counter so the
// reconciler's SIGUSR1/SIGUSR2 handlers (spec.md §4.6) can step verbosity
// up or down at runtime without reconstructing the logger.
type Adjustable struct {
	lvl       *slog.LevelVar
	verbosity atomic.Int32
	Logger    *slog.Logger
}

// NewAdjustable builds a Logger whose level can be stepped at runtime via
// Inc/Dec.
func NewAdjustable(verbosity int) *Adjustable {
	lvl := &slog.LevelVar{}
	lvl.Set(levelFor(verbosity))

	a := &Adjustable{lvl: lvl}
	a.verbosity.Store(int32(verbosity))
	a.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	return a
}

// Inc raises verbosity by one step (SIGUSR1).
func (a *Adjustable) Inc() {
	v := a.verbosity.Add(1)
	a.lvl.Set(levelFor(int(v)))
}

// Dec lowers verbosity by one step (SIGUSR2).
func (a *Adjustable) Dec() {
	v := a.verbosity.Add(-1)
	a.lvl.Set(levelFor(int(v)))
}
