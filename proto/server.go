package proto

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"vawter.tech/stopper"
)

// commandState tracks one in-flight server-side command: its original
// message, when it started, and — while it is suspended awaiting a
// Future — the disarm callback that cancels that suspension without
// sending a further reply.
type commandState struct {
	msg       []string
	startedAt time.Time

	mu     sync.Mutex
	cancel func()
}

func (s *commandState) arm(cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancel = cancel
}

// disarm clears and returns any armed cancel callback, so it runs at most
// once and a concurrent cancellation race can't double-invoke it.
func (s *commandState) disarm() func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.cancel
	s.cancel = nil
	return c
}

// ServerEndpoint binds an application handle and a message Registry to a
// connection, dispatching each inbound command to its registered handler
// and driving any awaiting continuation chain to a terminal reply.
type ServerEndpoint struct {
	*Endpoint

	registry Registry
	app      any
	log      *slog.Logger

	sctx *stopper.Context

	mu       sync.Mutex
	commands map[string]*commandState

	nextEventID atomic.Uint64
}

// NextEventID returns a fresh decimal correlation id for a server-pushed,
// unsolicited frame (e.g. a watch_service update). The framing layer only
// carries decimal ids, so the value may coincide with an id a client
// allocates for its own commands; a client still never takes the pushed
// frame for a reply, since it correlates only "ok"/"error" frames with its
// pending commands and hands every other verb to its event callback.
func (s *ServerEndpoint) NextEventID() string {
	return strconv.FormatUint(s.nextEventID.Add(1), 10)
}

// NewServerEndpoint constructs a server-role endpoint. ctx governs the
// lifetime of the endpoint's background work (the read loop and any
// suspended continuation watchers); canceling it, or calling Shutdown,
// tears the connection down.
func NewServerEndpoint(ctx context.Context, rw io.ReadWriteCloser, registry Registry, app any, log *slog.Logger) *ServerEndpoint {
	if log == nil {
		log = slog.Default()
	}
	s := &ServerEndpoint{
		Endpoint: newEndpoint(rw),
		registry: registry,
		app:      app,
		log:      log,
		sctx:     stopper.WithContext(ctx),
		commands: make(map[string]*commandState),
	}
	s.sctx.Defer(func() { _ = s.Endpoint.Close() })
	return s
}

// Serve reads and dispatches frames until the connection closes, a read
// error other than a framing error occurs, or the endpoint's context is
// canceled. A malformed line is answered with "error invalid protocol
// formatting" on id 0 and reading continues. It returns nil on orderly
// peer close (io.EOF).
func (s *ServerEndpoint) Serve() error {
	for {
		if s.sctx.IsStopping() {
			return nil
		}

		frame, err := s.Recv()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if err == ErrFraming {
				_ = s.Send("0", "error", "invalid", "protocol formatting")
				continue
			}
			return err
		}

		s.dispatch(frame)
	}
}

// Shutdown stops accepting new work, disarms every in-flight command's
// continuation so no late reply races the teardown, and waits up to grace
// for the read loop to notice before forcing the connection closed.
func (s *ServerEndpoint) Shutdown(grace time.Duration) error {
	s.mu.Lock()
	for id, st := range s.commands {
		if cancel := st.disarm(); cancel != nil {
			cancel()
		}
		delete(s.commands, id)
	}
	s.mu.Unlock()

	s.sctx.Stop(grace)
	return s.sctx.Wait()
}

func (s *ServerEndpoint) dispatch(frame Frame) {
	id := frame.ID()
	verb := frame.Verb()
	args := frame.Rest()

	entry, ok := s.registry.Lookup(verb)
	if !ok {
		_ = s.Send(id, "error", "invalid", fmtUnknownMessage(verb))
		return
	}
	if entry.Validate != nil && !entry.Validate(args) {
		_ = s.Send(id, "error", "invalid")
		return
	}

	s.mu.Lock()
	if prev, exists := s.commands[id]; exists {
		if cancel := prev.disarm(); cancel != nil {
			cancel()
		}
		s.log.Warn("proto: superseding in-flight command", "id", id, "previous", prev.msg[0])
	}
	state := &commandState{msg: frame, startedAt: time.Now()}
	s.commands[id] = state
	s.mu.Unlock()

	ctx := &Context{Endpoint: s, App: s.app, ID: id}
	reply, err := s.invoke(entry.Handle, ctx, args)
	s.advance(id, state, reply, err)
}

// invoke calls a Handler, converting a panic into a "failed" error so one
// misbehaving handler can't take down the connection's read loop.
func (s *ServerEndpoint) invoke(h Handler, ctx *Context, args []string) (reply Reply, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx, args)
}

// advance drives one command's state machine one step: a terminal reply or
// error finishes it; an awaiting reply schedules its continuation to run
// once the future resolves, then returns — the chain never recurses on the
// calling goroutine's stack, regardless of how many steps it takes.
func (s *ServerEndpoint) advance(id string, state *commandState, reply Reply, err error) {
	if err != nil {
		s.finish(id, mapHandlerError(err))
		return
	}
	if reply.terminal {
		s.finish(id, reply.fields)
		return
	}

	future, next := reply.future, reply.next
	canceled := make(chan struct{})
	state.arm(func() { close(canceled) })

	s.sctx.Go(func(sctx *stopper.Context) error {
		select {
		case <-future.Done():
			val, ferr := future.Result()
			nr, nerr := next(val, ferr)
			s.advance(id, state, nr, nerr)
		case <-canceled:
		case <-sctx.Stopping():
		}
		return nil
	})
}

func (s *ServerEndpoint) finish(id string, fields []string) {
	s.mu.Lock()
	delete(s.commands, id)
	s.mu.Unlock()

	out := append([]string{id}, fields...)
	_ = s.Send(out...)
}

// mapHandlerError classifies an unhandled handler error by substring, per
// the documented mapping: "denied" anywhere in the error text yields
// "error denied"; anything else yields "error failed".
func mapHandlerError(err error) []string {
	if strings.Contains(err.Error(), "denied") {
		return []string{"error", "denied"}
	}
	return []string{"error", "failed"}
}
