package proto

// Context is passed to a Handler (and, transitively, is available to the
// Continuation chain it starts) so it can reach the bound application
// state and, if it needs to, send additional frames on the same
// connection (e.g. an event) outside the terminal reply.
type Context struct {
	// Endpoint is the server endpoint the command arrived on.
	Endpoint *ServerEndpoint
	// App is the application handle bound at construction (the desd core,
	// or a narrower facade of it). Handlers type-assert it to the concrete
	// type they expect.
	App any
	// ID is the command's correlation id, as received on the wire.
	ID string
}
