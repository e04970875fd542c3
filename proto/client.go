package proto

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"

	"vawter.tech/stopper"
)

// Result is what a client-issued command resolves to: the verb ("ok" or
// "error") and the fields that followed it.
type Result struct {
	Verb string
	Rest []string
}

// Err returns a *CommandError if Verb is "error", else nil.
func (r Result) Err() error {
	if r.Verb != "error" {
		return nil
	}
	return &CommandError{Fields: r.Rest}
}

type pendingCommand struct {
	id     uint64
	msg    []string
	future *Future
}

// ClientEndpoint is the client role composed onto Endpoint: it allocates
// correlation ids, correlates inbound ok/error replies with outstanding
// commands, and delivers non-terminal inbound frames (events) to an
// optional callback.
type ClientEndpoint struct {
	*Endpoint

	registry Registry
	sctx     *stopper.Context

	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]*pendingCommand
	reading bool
	eventCB func(Frame)
	eventMu sync.Mutex
}

// NewClientEndpoint constructs a client-role endpoint bound to registry
// (used to validate outbound messages before they're sent).
func NewClientEndpoint(ctx context.Context, rw io.ReadWriteCloser, registry Registry) *ClientEndpoint {
	c := &ClientEndpoint{
		Endpoint: newEndpoint(rw),
		registry: registry,
		sctx:     stopper.WithContext(ctx),
		pending:  make(map[uint64]*pendingCommand),
	}
	c.sctx.Defer(func() { _ = c.Endpoint.Close() })
	return c
}

// SetEventCallback installs cb to receive inbound frames that are not
// terminal replies to a known pending command (i.e. unsolicited events).
// It is safe to call concurrently with an active read loop.
func (c *ClientEndpoint) SetEventCallback(cb func(Frame)) {
	c.eventMu.Lock()
	defer c.eventMu.Unlock()
	c.eventCB = cb
}

func (c *ClientEndpoint) validate(msg []string) error {
	if len(msg) == 0 {
		return fmt.Errorf("proto: empty message")
	}
	entry, ok := c.registry.Lookup(msg[0])
	if !ok {
		return fmt.Errorf("proto: unknown message %s", msg[0])
	}
	if entry.Validate != nil && !entry.Validate(msg[1:]) {
		return fmt.Errorf("proto: invalid arguments for %s", msg[0])
	}
	return nil
}

// SendMsg validates msg, sends it synchronously with correlation id 0, and
// blocks until the matching terminal ok/error reply for id 0 arrives,
// skipping over any events observed on the way (forwarded to the event
// callback if one is set).
func (c *ClientEndpoint) SendMsg(msg ...string) ([]string, error) {
	if err := c.validate(msg); err != nil {
		return nil, err
	}
	if err := c.Send(append([]string{"0"}, msg...)...); err != nil {
		return nil, err
	}

	for {
		frame, err := c.Recv()
		if err != nil {
			return nil, err
		}
		if frame.ID() != "0" {
			c.deliverOrDrop(frame)
			continue
		}
		verb := frame.Verb()
		if verb == "ok" {
			return frame.Rest(), nil
		}
		if verb == "error" {
			return frame.Rest(), &CommandError{Fields: frame.Rest()}
		}
		c.notifyEvent(frame)
	}
}

// AsyncSendMsg validates and sends msg under a freshly allocated
// correlation id, returning a Future that resolves to the command's
// terminal Result once the matching reply line arrives. It starts the
// background read loop if it isn't already running.
func (c *ClientEndpoint) AsyncSendMsg(msg ...string) (*Future, error) {
	if err := c.validate(msg); err != nil {
		return nil, err
	}

	id := c.nextID.Add(1)
	future := NewFuture()

	c.mu.Lock()
	c.pending[id] = &pendingCommand{id: id, msg: msg, future: future}
	needsReader := !c.reading
	if needsReader {
		c.reading = true
	}
	c.mu.Unlock()

	fields := append([]string{strconv.FormatUint(id, 10)}, msg...)
	if err := c.Send(fields...); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, err
	}

	if needsReader {
		c.sctx.Go(c.readLoop)
	}
	return future, nil
}

// readLoop delivers inbound frames to their matching pending command, or
// to the event callback, until no commands remain pending, at which point
// it self-suspends; a subsequent AsyncSendMsg restarts it.
func (c *ClientEndpoint) readLoop(sctx *stopper.Context) error {
	for {
		frame, err := c.Recv()
		if err != nil {
			c.failAllPending(err)
			return nil
		}

		c.deliverOrDrop(frame)

		c.mu.Lock()
		empty := len(c.pending) == 0
		if empty {
			c.reading = false
		}
		c.mu.Unlock()
		if empty {
			return nil
		}

		if sctx.IsStopping() {
			return nil
		}
	}
}

func (c *ClientEndpoint) deliverOrDrop(frame Frame) {
	verb := frame.Verb()
	if verb != "ok" && verb != "error" {
		c.notifyEvent(frame)
		return
	}

	id, err := strconv.ParseUint(frame.ID(), 10, 64)
	if err != nil {
		c.notifyEvent(frame)
		return
	}

	c.mu.Lock()
	cmd, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		c.notifyEvent(frame)
		return
	}
	cmd.future.Resolve(Result{Verb: verb, Rest: frame.Rest()}, nil)
}

func (c *ClientEndpoint) notifyEvent(frame Frame) {
	c.eventMu.Lock()
	cb := c.eventCB
	c.eventMu.Unlock()
	if cb != nil {
		cb(frame)
	}
}

func (c *ClientEndpoint) failAllPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[uint64]*pendingCommand)
	c.reading = false
	c.mu.Unlock()

	for _, cmd := range pending {
		cmd.future.Resolve(nil, ErrCommandCanceled)
	}
}

// Shutdown tears the connection down and fails every pending command's
// future with ErrCommandCanceled.
func (c *ClientEndpoint) Shutdown() error {
	c.failAllPending(ErrCommandCanceled)
	c.sctx.Stop(0)
	return c.sctx.Wait()
}
