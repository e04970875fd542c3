package desd

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by core operations. Callers should use
// errors.Is against these rather than comparing *OpError directly.
var (
	// ErrNotRunning indicates an operation that requires a running service
	// found none.
	ErrNotRunning = errors.New("desd: service not running")

	// ErrCanceled indicates a pending command or awaitable was canceled,
	// typically because its owning endpoint or action was torn down.
	ErrCanceled = errors.New("desd: canceled")

	// ErrUnknownService indicates a reference to a service absent from the
	// current configuration snapshot.
	ErrUnknownService = errors.New("desd: unknown service")

	// ErrUnknownAction indicates a reference to an action not declared on
	// its service.
	ErrUnknownAction = errors.New("desd: unknown action")

	// ErrDenied indicates an authorization check rejected the request.
	ErrDenied = errors.New("desd: access denied")

	// ErrStillRunning indicates a kill-script ran to exhaustion without the
	// service being reaped.
	ErrStillRunning = errors.New("desd: still running")
)

// Op identifies the kind of operation an OpError occurred in, for
// diagnostic formatting.
type Op string

// Known operation kinds.
const (
	OpDispatch   Op = "dispatch"
	OpReconcile  Op = "reconcile"
	OpKillScript Op = "killscript"
	OpSend       Op = "send"
	OpRecv       Op = "recv"
	OpConfig     Op = "config"
)

// OpError wraps an error with the operation and target it occurred against,
// giving callers and logs a consistent, greppable shape.
type OpError struct {
	// Op is the operation that failed.
	Op Op
	// Target is the service, action, or connection the operation concerned.
	Target string
	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message.
func (e *OpError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("desd %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("desd %s %q: %v", e.Op, e.Target, e.Err)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *OpError) Unwrap() error {
	return e.Err
}

// MultiError aggregates multiple errors from a fan-out operation, such as a
// reload diff touching several services at once.
type MultiError struct {
	// Errors contains all accumulated errors.
	Errors []error
}

// Error returns a summary of the accumulated errors.
func (m *MultiError) Error() string {
	switch len(m.Errors) {
	case 0:
		return "no errors"
	case 1:
		return m.Errors[0].Error()
	default:
		return fmt.Sprintf("%d errors occurred", len(m.Errors))
	}
}

// Add appends an error to the collection if it's not nil.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// Err returns nil if no errors occurred, otherwise returns the MultiError
// itself.
func (m *MultiError) Err() error {
	if len(m.Errors) == 0 {
		return nil
	}
	return m
}
