package proto

// Continuation is invoked once the Future an awaiting Reply named has
// resolved. It receives the future's settled value and error and itself
// returns either a terminal Reply or another awaiting step. The endpoint
// drives a chain of continuations iteratively, so continuation depth never
// grows the goroutine's call stack.
type Continuation func(val any, err error) (Reply, error)

// Reply is what a Handler (or a Continuation) returns: either a terminal
// set of reply fields, or a promise to await plus the continuation to run
// once it settles.
type Reply struct {
	terminal bool
	fields   []string

	future *Future
	next   Continuation
}

// Terminal builds a Reply that completes the command immediately with the
// given fields (e.g. "ok", "complete").
func Terminal(fields ...string) Reply {
	return Reply{terminal: true, fields: fields}
}

// Await builds a Reply that suspends the command until future resolves,
// then invokes next with its result.
func Await(future *Future, next Continuation) Reply {
	return Reply{future: future, next: next}
}

// IsTerminal reports whether the reply is a terminal reply.
func (r Reply) IsTerminal() bool { return r.terminal }
