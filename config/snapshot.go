// Package config holds the read-only, reload-safe view of declared
// services the reconciler drives against: a frozen Snapshot built from an
// already-decoded configuration value (the YAML parser itself is an
// external collaborator, out of scope per spec.md §1/§6), a Facade that
// makes the current Snapshot available via an atomic pointer-swap, and a
// Diff operation supporting reload's added/removed/changed comparison.
package config

import (
	"fmt"
	"sort"

	"github.com/axondata/desd"
)

// RawAction is an action declaration as decoded from configuration, before
// built-in defaults are overlaid.
type RawAction struct {
	Name        string
	Run         *desd.RunSpec
	Env         map[string]*string
	Goal        desd.Goal
	Parallelism desd.Parallelism
	Tokens      []string
}

// RawService is a service declaration as decoded from configuration.
type RawService struct {
	Name    string
	Env     map[string]*string
	IO      []string
	Goal    desd.Goal
	Actions []RawAction
}

// RawConfig is the fully decoded configuration value the facade builds a
// Snapshot from.
type RawConfig struct {
	Services []RawService
	Handles  []desd.Handle
}

// Snapshot is an immutable, fully resolved view of configuration: every
// service's action table has its built-in defaults overlaid with any
// user-declared overrides, and every enumeration has been validated.
// Once built, a Snapshot is never mutated; reload builds a new one and
// swaps it in atomically via Facade.
type Snapshot struct {
	Services map[string]*desd.Service
	Handles  map[string]desd.Handle
}

// Service looks up a service by name.
func (s *Snapshot) Service(name string) (*desd.Service, bool) {
	if s == nil {
		return nil, false
	}
	svc, ok := s.Services[name]
	return svc, ok
}

// ServiceNames returns every declared service name, sorted for
// deterministic iteration (e.g. at startup reconciliation fan-out).
func (s *Snapshot) ServiceNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Services))
	for name := range s.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var builtinActionNames = []string{"start", "stop", "restart", "check"}

// Build resolves raw into an immutable Snapshot: built-in action defaults
// (start/stop/restart/check, per spec.md §3) are constructed first, then
// overlaid with the service's user-declared actions by name.
func Build(raw RawConfig) (*Snapshot, error) {
	handles := make(map[string]desd.Handle, len(raw.Handles))
	for _, h := range raw.Handles {
		if !desd.ValidHandleName(h.Name) {
			return nil, fmt.Errorf("config: invalid handle name %q", h.Name)
		}
		handles[h.Name] = h
	}

	services := make(map[string]*desd.Service, len(raw.Services))
	for _, rs := range raw.Services {
		if !desd.ValidName(rs.Name) {
			return nil, fmt.Errorf("config: invalid service name %q", rs.Name)
		}
		if _, dup := services[rs.Name]; dup {
			return nil, fmt.Errorf("config: duplicate service %q", rs.Name)
		}

		actions := make(map[string]*desd.Action, len(builtinActionNames)+len(rs.Actions))
		for _, name := range builtinActionNames {
			spec, _ := desd.DefaultRunSpec(name)
			goal, _ := desd.DefaultGoal(name)
			actions[name] = &desd.Action{
				Name:        name,
				Run:         spec,
				Goal:        goal,
				Parallelism: desd.DefaultParallelism(name),
			}
		}

		for _, ra := range rs.Actions {
			if !desd.ValidName(ra.Name) {
				return nil, fmt.Errorf("config: invalid action name %q on service %q", ra.Name, rs.Name)
			}
			a := &desd.Action{
				Name:        ra.Name,
				Env:         ra.Env,
				Goal:        ra.Goal,
				Parallelism: ra.Parallelism,
			}
			if ra.Run != nil {
				a.Run = *ra.Run
			} else if defRun, ok := desd.DefaultRunSpec(ra.Name); ok {
				a.Run = defRun
			} else {
				return nil, fmt.Errorf("config: action %q on service %q has no run spec", ra.Name, rs.Name)
			}
			if len(ra.Tokens) > 0 {
				a.Tokens = make(map[string]struct{}, len(ra.Tokens))
				for _, tok := range ra.Tokens {
					a.Tokens[tok] = struct{}{}
				}
			}
			actions[ra.Name] = a
		}

		goal := rs.Goal
		if goal == desd.GoalUnknown {
			goal = desd.GoalUp
		}

		services[rs.Name] = &desd.Service{
			Name:    rs.Name,
			Env:     rs.Env,
			IO:      rs.IO,
			Goal:    goal,
			Actions: actions,
		}
	}

	return &Snapshot{Services: services, Handles: handles}, nil
}
