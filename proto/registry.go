package proto

import (
	"fmt"
	"regexp"
)

// MessageNamePattern is the validation pattern for a registered message
// name. Dots are allowed alongside the usual lower_snake_case: the
// spawner-facing commands in spec.md §6 are dotted (service.args,
// service.auto_up, ...).
var MessageNamePattern = regexp.MustCompile(`^[a-z0-9_]+(\.[a-z0-9_]+)*$`)

// Validator inspects an inbound message's argument fields (the frame minus
// id and verb) and reports whether they are well-formed for this message.
type Validator func(args []string) bool

// Handler processes a validated inbound message and produces either a
// terminal reply (a Reply built by Terminal) or an awaiting step (a Reply
// built by Await, wrapping a Continuation), per the endpoint's handler
// lifecycle.
type Handler func(ctx *Context, args []string) (Reply, error)

// Entry is one message registration: its argument validator and handler.
type Entry struct {
	Name     string
	Validate Validator
	Handle   Handler
}

// Registry is a static, immutable map from message name to its Entry.
// Registries are built once at program start and never mutated; extension
// is done by constructing a new, overlaid Registry from an existing one.
type Registry struct {
	entries map[string]Entry
}

// NewRegistry builds a Registry from the given entries. It panics if two
// entries share a name or if a name fails MessageNamePattern, since this is
// a programming error caught at startup, not a runtime condition.
func NewRegistry(entries ...Entry) Registry {
	m := make(map[string]Entry, len(entries))
	for _, e := range entries {
		if !MessageNamePattern.MatchString(e.Name) {
			panic(fmt.Sprintf("proto: invalid message name %q", e.Name))
		}
		if _, dup := m[e.Name]; dup {
			panic(fmt.Sprintf("proto: duplicate message name %q", e.Name))
		}
		m[e.Name] = e
	}
	return Registry{entries: m}
}

// Overlay returns a new Registry containing this registry's entries plus
// more, with entries in more replacing same-named entries from the
// receiver. Neither the receiver nor more is mutated.
func (r Registry) Overlay(more ...Entry) Registry {
	merged := make(map[string]Entry, len(r.entries)+len(more))
	for name, e := range r.entries {
		merged[name] = e
	}
	for _, e := range more {
		if !MessageNamePattern.MatchString(e.Name) {
			panic(fmt.Sprintf("proto: invalid message name %q", e.Name))
		}
		merged[e.Name] = e
	}
	return Registry{entries: merged}
}

// Lookup returns the most-derived entry registered for name.
func (r Registry) Lookup(name string) (Entry, bool) {
	e, ok := r.entries[name]
	return e, ok
}
