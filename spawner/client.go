package spawner

import (
	"context"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/axondata/desd"
	"github.com/axondata/desd/proto"
)

// EventHandler receives notification that mirrored state changed so a
// reconciler can enqueue the affected work item, per spec.md §4.6
// ("Per-event. The spawner-client's event callback enqueues a
// reconciliation for the affected service or signal.").
type EventHandler interface {
	ServiceChanged(name string)
	SignalRaised(name string)
}

type reapWaiter struct {
	pid int
	ch  chan reapResult
}

type reapResult struct {
	reason string
	value  string
}

// Client specializes proto.ClientEndpoint for the spawner connection: it
// keeps Mirror in sync with inbound service.state/service.exit/signal
// events, exposes one method per outbound directive from spec.md §6, and
// resolves kill-script/action-executor reap waits.
type Client struct {
	ep     *proto.ClientEndpoint
	Mirror *Mirror

	handler EventHandler

	reapMu      sync.Mutex
	reapWaiters map[string][]reapWaiter

	watchMu  sync.Mutex
	watchers map[string][]chan desd.ObservedState
}

// NewClient wraps rw as a spawner connection.
func NewClient(ctx context.Context, rw io.ReadWriteCloser) *Client {
	c := &Client{
		Mirror:      NewMirror(),
		reapWaiters: make(map[string][]reapWaiter),
		watchers:    make(map[string][]chan desd.ObservedState),
	}
	c.ep = proto.NewClientEndpoint(ctx, rw, Registry())
	c.ep.SetEventCallback(c.handleEvent)
	return c
}

// SetHandler installs the reconciler's event handler. Must be called
// before the connection starts receiving events (i.e. before any command
// is sent) to avoid missing early notifications.
func (c *Client) SetHandler(h EventHandler) {
	c.handler = h
}

// Close tears down the underlying connection and fails every pending
// directive. WaitForReap calls still waiting are not released; they return
// only when their own context is done.
func (c *Client) Close() error {
	return c.ep.Shutdown()
}

func (c *Client) call(ctx context.Context, msg ...string) ([]string, error) {
	future, err := c.ep.AsyncSendMsg(msg...)
	if err != nil {
		return nil, err
	}
	select {
	case <-future.Done():
		val, err := future.Result()
		if err != nil {
			return nil, err
		}
		res := val.(proto.Result)
		if e := res.Err(); e != nil {
			return nil, e
		}
		return res.Rest, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Statedump asks the spawner to emit its full known state as a stream of
// service.state/service.exit events.
func (c *Client) Statedump(ctx context.Context) error {
	_, err := c.call(ctx, "statedump")
	return err
}

// Barrier sends "echo statedump_complete" and waits for its reply. Per
// spec.md §5's total-ordering guarantee, every event the statedump
// produced has already been delivered to EventHandler by the time this
// returns, giving the reconciler a synchronization point without a
// dedicated statedump_complete event.
func (c *Client) Barrier(ctx context.Context) error {
	_, err := c.call(ctx, "echo", "statedump_complete")
	return err
}

// SetArgs issues service.args NAME ARGV....
func (c *Client) SetArgs(ctx context.Context, name string, argv []string) error {
	_, err := c.call(ctx, append([]string{"service.args", name}, argv...)...)
	return err
}

// SetFDs issues service.fds NAME HANDLE....
func (c *Client) SetFDs(ctx context.Context, name string, handles []string) error {
	_, err := c.call(ctx, append([]string{"service.fds", name}, handles...)...)
	return err
}

// SetAutoUp issues service.auto_up NAME 0|1 SCOPE.
func (c *Client) SetAutoUp(ctx context.Context, name string, on bool, scope string) error {
	flag := "0"
	if on {
		flag = "1"
	}
	_, err := c.call(ctx, "service.auto_up", name, flag, scope)
	return err
}

// StartService issues service.start NAME.
func (c *Client) StartService(ctx context.Context, name string) error {
	_, err := c.call(ctx, "service.start", name)
	return err
}

// Signal issues service.signal NAME SIGNAME. It satisfies
// killscript.Spawner.
func (c *Client) Signal(ctx context.Context, service, signal string) error {
	_, err := c.call(ctx, "service.signal", service, signal)
	return err
}

// DeleteService issues service.delete NAME.
func (c *Client) DeleteService(ctx context.Context, name string) error {
	_, err := c.call(ctx, "service.delete", name)
	return err
}

// Tag issues service.tag NAME KEY VALUE, used by the reconciler to set the
// spawner's "want" tag to match a service's declared goal.
func (c *Client) Tag(ctx context.Context, name, key, value string) error {
	_, err := c.call(ctx, "service.tag", name, key, value)
	return err
}

// CurrentPID satisfies killscript.Spawner, delegating to Mirror.
func (c *Client) CurrentPID(service string) (pid int, running bool) {
	return c.Mirror.CurrentPID(service)
}

// LastExit satisfies killscript.Spawner, delegating to Mirror.
func (c *Client) LastExit(service string) (reason, value string) {
	return c.Mirror.LastExit(service)
}

// Uptime returns how long service's current invocation has been running,
// and false if it isn't running.
func (c *Client) Uptime(service string) (time.Duration, bool) {
	st, ok := c.Mirror.Get(service)
	if !ok || !st.Running {
		return 0, false
	}
	return st.Uptime(), true
}

// WaitForReap blocks until service's invocation at pid is reported reaped
// via a service.exit event, or ctx is done.
func (c *Client) WaitForReap(ctx context.Context, service string, pid int) (reason, value string, err error) {
	ch := make(chan reapResult, 1)
	c.reapMu.Lock()
	c.reapWaiters[service] = append(c.reapWaiters[service], reapWaiter{pid: pid, ch: ch})
	c.reapMu.Unlock()

	select {
	case res := <-ch:
		return res.reason, res.value, nil
	case <-ctx.Done():
		c.removeWaiter(service, ch)
		return "", "", ctx.Err()
	}
}

func (c *Client) removeWaiter(service string, ch chan reapResult) {
	c.reapMu.Lock()
	defer c.reapMu.Unlock()
	list := c.reapWaiters[service]
	for i, w := range list {
		if w.ch == ch {
			c.reapWaiters[service] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Watch subscribes to observed-state changes on service, supplementing the
// documented protocol commands per SPEC_FULL.md's "Watch" feature: a
// control client can react to state transitions without polling
// service_status. The returned stop function unsubscribes and closes the
// channel.
func (c *Client) Watch(service string) (<-chan desd.ObservedState, func() error) {
	ch := make(chan desd.ObservedState, 8)
	c.watchMu.Lock()
	c.watchers[service] = append(c.watchers[service], ch)
	c.watchMu.Unlock()

	stop := func() error {
		c.watchMu.Lock()
		defer c.watchMu.Unlock()
		list := c.watchers[service]
		for i, w := range list {
			if w == ch {
				c.watchers[service] = append(list[:i], list[i+1:]...)
				close(ch)
				break
			}
		}
		return nil
	}
	return ch, stop
}

func (c *Client) notifyWatchers(service string) {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	if len(c.watchers[service]) == 0 {
		return
	}
	st, _ := c.Mirror.Get(service)
	for _, ch := range c.watchers[service] {
		select {
		case ch <- st:
		default:
		}
	}
}

// handleEvent is the ClientEndpoint's event callback: it updates Mirror
// from inbound service.state/service.exit/signal frames, fulfills reap
// waiters, and notifies the reconciler's EventHandler.
func (c *Client) handleEvent(frame proto.Frame) {
	switch frame.Verb() {
	case "service.state":
		args := frame.Rest()
		if len(args) != 3 {
			return
		}
		name, status, pidStr := args[0], args[1], args[2]
		pid, _ := strconv.Atoi(pidStr)
		c.Mirror.SetState(name, status == "UP", pid)
		c.notifyWatchers(name)
		if c.handler != nil {
			c.handler.ServiceChanged(name)
		}

	case "service.exit":
		args := frame.Rest()
		if len(args) != 3 {
			return
		}
		name, reasonStr, value := args[0], args[1], args[2]
		reason, _ := desd.ParseExitReason(reasonStr)
		c.Mirror.SetExit(name, reason, value)
		c.fulfillReap(name, reasonStr, value)
		c.notifyWatchers(name)
		if c.handler != nil {
			c.handler.ServiceChanged(name)
		}

	case "signal":
		args := frame.Rest()
		if len(args) != 1 {
			return
		}
		name := args[0]
		c.Mirror.MarkSignal(name)
		if c.handler != nil {
			c.handler.SignalRaised(name)
		}

	case "statedump_complete":
		// Tolerated as an unsolicited event in addition to the
		// echo-based barrier in Barrier; carries no state of its own.

	default:
		// Unknown event types are a forward-compatible extension point
		// (registry overlays); ignore rather than fail the connection.
	}
}

func (c *Client) fulfillReap(service, reason, value string) {
	pid, _ := c.Mirror.CurrentPID(service)

	c.reapMu.Lock()
	list := c.reapWaiters[service]
	if len(list) == 0 {
		c.reapMu.Unlock()
		return
	}
	var remaining []reapWaiter
	var matched []reapWaiter
	for _, w := range list {
		if w.pid == pid || w.pid == 0 {
			matched = append(matched, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	c.reapWaiters[service] = remaining
	c.reapMu.Unlock()

	for _, w := range matched {
		w.ch <- reapResult{reason: reason, value: value}
	}
}
