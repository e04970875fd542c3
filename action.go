package desd

// Parallelism describes the set of other action names with which an action
// may run concurrently on the same service. The zero value permits no
// concurrency; All() reports true for any other action.
type Parallelism struct {
	all   bool
	names map[string]struct{}
}

// AllParallel returns a Parallelism descriptor that permits concurrency
// with every other action ("*" on the wire/config side).
func AllParallel() Parallelism {
	return Parallelism{all: true}
}

// WithParallel returns a Parallelism descriptor permitting concurrency with
// exactly the named actions.
func WithParallel(names ...string) Parallelism {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return Parallelism{names: set}
}

// Allows reports whether this action may run concurrently with other.
func (p Parallelism) Allows(other string) bool {
	if p.all {
		return true
	}
	_, ok := p.names[other]
	return ok
}

// Action is a named operation on a service: start, stop, restart, check, or
// a user-declared custom action. Exactly one RunSpec governs what running
// the action does.
type Action struct {
	Name string

	Run RunSpec

	// Env overlays the service's declared environment for the duration of
	// this action's dispatch. A nil value unsets the variable, mirroring
	// Service.Env's semantics.
	Env map[string]*string

	// Goal, if non-zero, is applied to the owning service before Run is
	// dispatched.
	Goal Goal

	Parallelism Parallelism

	// Tokens is the set of access tokens a caller must hold at least one
	// of to invoke this action via service_action. Authorization itself is
	// an opaque predicate (assert_permission); Tokens documents the
	// extension point's expected shape.
	Tokens map[string]struct{}
}

// RequiresToken reports whether invoking this action requires holding the
// given token among the caller's session tokens.
func (a *Action) RequiresToken(token string) bool {
	_, ok := a.Tokens[token]
	return ok
}

// ResolveEnv merges the service's declared environment with this action's
// overlay, applying nil-valued entries as deletions.
func ResolveEnv(base map[string]*string, overlay map[string]*string) map[string]string {
	merged := make(map[string]*string, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}

	resolved := make(map[string]string, len(merged))
	for k, v := range merged {
		if v != nil {
			resolved[k] = *v
		}
	}
	return resolved
}
