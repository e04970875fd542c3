package config

import (
	"sort"

	"github.com/axondata/desd"
)

// ReloadPlan reports, for a pair of snapshots, which services were added,
// removed, or had their run spec / IO list change. Nothing in the daemon
// calls Diff; the reconciler decides whether to re-send
// service.args/service.fds by comparing against what it last pushed.
type ReloadPlan struct {
	Added     []string
	Removed   []string
	Changed   []string
	Unchanged []string
}

// Diff compares old and next, both of which may be nil (an empty/absent
// configuration).
func Diff(old, next *Snapshot) ReloadPlan {
	var plan ReloadPlan

	oldServices := map[string]*desd.Service{}
	if old != nil {
		oldServices = old.Services
	}
	nextServices := map[string]*desd.Service{}
	if next != nil {
		nextServices = next.Services
	}

	for name, ns := range nextServices {
		os, existed := oldServices[name]
		switch {
		case !existed:
			plan.Added = append(plan.Added, name)
		case serviceDispatchChanged(os, ns):
			plan.Changed = append(plan.Changed, name)
		default:
			plan.Unchanged = append(plan.Unchanged, name)
		}
	}
	for name := range oldServices {
		if _, stillPresent := nextServices[name]; !stillPresent {
			plan.Removed = append(plan.Removed, name)
		}
	}

	sort.Strings(plan.Added)
	sort.Strings(plan.Removed)
	sort.Strings(plan.Changed)
	sort.Strings(plan.Unchanged)
	return plan
}

// serviceDispatchChanged compares exactly the two fields the spawner
// directives service.args/service.fds are derived from: the start action's
// run spec (argv) and the service's IO handle list.
func serviceDispatchChanged(old, next *desd.Service) bool {
	if !stringSliceEqual(old.IO, next.IO) {
		return true
	}
	oldStart, oldOK := old.Action("start")
	nextStart, nextOK := next.Action("start")
	if oldOK != nextOK {
		return true
	}
	if oldOK && !runSpecEqual(oldStart.Run, nextStart.Run) {
		return true
	}
	return false
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func runSpecEqual(a, b desd.RunSpec) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case desd.RunSpecInternal:
		if a.Method != b.Method || len(a.Args) != len(b.Args) {
			return false
		}
		for i := range a.Args {
			if a.Args[i] != b.Args[i] {
				return false
			}
		}
		return true
	case desd.RunSpecExec:
		if len(a.Argv) != len(b.Argv) {
			return false
		}
		for i := range a.Argv {
			if a.Argv[i] != b.Argv[i] {
				return false
			}
		}
		if (a.Argv0 == nil) != (b.Argv0 == nil) {
			return false
		}
		if a.Argv0 != nil && *a.Argv0 != *b.Argv0 {
			return false
		}
		return true
	default:
		return true
	}
}
