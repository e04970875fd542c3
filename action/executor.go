// Package action implements the per-service action executor from spec.md
// §4.7: a FIFO queue plus an active set enforcing the parallelism rules
// that gate concurrent actions on one service, and the resolution of a
// RunSpec to either an internal routine or a spawner-hosted exec.
package action

import (
	"context"
	"log/slog"
	"sync"

	"github.com/axondata/desd"
	"github.com/axondata/desd/config"
	"github.com/axondata/desd/killscript"
)

// Result is what one action invocation resolves to.
type Result struct {
	// Success reports whether the action achieved its purpose: for an Exec
	// RunSpec, exit reason == exit and code == 0 (spec.md §4.7); for an
	// Internal method, the method's own definition of success (killscript
	// not exhausting its steps counts as success even on "not_running").
	Success bool
	// Fields carries the wire-facing detail of internal methods that
	// have one (killscript's reaped/not_running/still_running variants);
	// nil for methods and Exec dispatches with no further detail.
	Fields []string
	// Err is set when the action failed to complete for a reason beyond a
	// plain unsuccessful outcome (spawner communication failure, canceled
	// context).
	Err error
}

type activeAction struct {
	name        string
	parallelism desd.Parallelism
	waiters     []chan Result
}

type queuedAction struct {
	name   string
	result chan Result
}

type serviceState struct {
	active map[string]*activeAction
	queue  []*queuedAction
}

func newServiceState() *serviceState {
	return &serviceState{active: make(map[string]*activeAction)}
}

// Executor serializes and dispatches actions per service, per spec.md
// §4.7. One Executor is shared by the reconciler (dispatching start/stop)
// and the server endpoint's service_action handler (dispatching arbitrary
// declared actions).
type Executor struct {
	ctx      context.Context
	config   *config.Facade
	spawner  SpawnerPort
	runner   *killscript.Runner
	marker   *Marker
	log      *slog.Logger
	onFinish func(service string)

	mu       sync.Mutex
	services map[string]*serviceState
}

// New builds an Executor whose dispatched actions run under ctx: canceling
// ctx (process shutdown) cancels every in-flight action's context, per
// spec.md §5 ("canceling an action cancels its currently-awaited step").
// marker may be nil to disable the crash-recovery marker file. onFinish,
// if non-nil, is called (outside the executor's own lock) after every
// action terminates, letting the reconciler enqueue a re-reconciliation of
// the affected service per spec.md §4.6 "Per-action-completion."
func New(ctx context.Context, cfg *config.Facade, sp SpawnerPort, runner *killscript.Runner, marker *Marker, log *slog.Logger, onFinish func(service string)) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		ctx:      ctx,
		config:   cfg,
		spawner:  sp,
		runner:   runner,
		marker:   marker,
		log:      log,
		onFinish: onFinish,
		services: make(map[string]*serviceState),
	}
}

func (e *Executor) state(name string) *serviceState {
	st, ok := e.services[name]
	if !ok {
		st = newServiceState()
		e.services[name] = st
	}
	return st
}

// Enqueue implements the three-way admit/attach/queue decision from
// spec.md §4.7: if actionName is already active on service, the returned
// channel resolves when that in-flight invocation does; otherwise the
// action is admitted immediately if it may run concurrently with every
// currently active action (and vice versa), or queued to run once the
// active set drains enough to admit it.
func (e *Executor) Enqueue(ctx context.Context, service, actionName string) (<-chan Result, error) {
	svc, act, err := e.lookup(service, actionName)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	st := e.state(service)

	if running, ok := st.active[actionName]; ok {
		ch := make(chan Result, 1)
		running.waiters = append(running.waiters, ch)
		e.mu.Unlock()
		return ch, nil
	}

	ch := make(chan Result, 1)
	if canAdmit(st, actionName, act.Parallelism) {
		e.admit(st, service, svc, act, ch)
		e.mu.Unlock()
		return ch, nil
	}

	st.queue = append(st.queue, &queuedAction{name: actionName, result: ch})
	e.mu.Unlock()
	return ch, nil
}

func (e *Executor) lookup(service, actionName string) (*desd.Service, *desd.Action, error) {
	snap := e.config.Load()
	svc, ok := snap.Service(service)
	if !ok {
		return nil, nil, &desd.OpError{Op: desd.OpDispatch, Target: service, Err: desd.ErrUnknownService}
	}
	act, ok := svc.Action(actionName)
	if !ok {
		return nil, nil, &desd.OpError{Op: desd.OpDispatch, Target: actionName, Err: desd.ErrUnknownAction}
	}
	return svc, act, nil
}

// canAdmit reports whether actionName (with parallelism p) may start
// immediately given st's currently active actions, per spec.md §4.7: every
// active action must permit concurrency with the requested one, and the
// requested one must permit concurrency with every active action.
func canAdmit(st *serviceState, actionName string, p desd.Parallelism) bool {
	for name, running := range st.active {
		if name == actionName {
			continue
		}
		if !running.parallelism.Allows(actionName) || !p.Allows(name) {
			return false
		}
	}
	return true
}

// admit must be called with e.mu held. It records actionName as active and
// starts its dispatch on a new goroutine.
func (e *Executor) admit(st *serviceState, service string, svc *desd.Service, act *desd.Action, first chan Result) {
	running := &activeAction{name: act.Name, parallelism: act.Parallelism, waiters: []chan Result{first}}
	st.active[act.Name] = running

	if act.Goal != desd.GoalUnknown {
		// spec.md §3 invariant: "the goal is updated before the action's
		// run specification is dispatched."
		svc.Goal = act.Goal
	}

	if e.marker != nil {
		e.marker.Mark(service, act.Name)
	}

	go e.run(service, svc, act, running)
}

func (e *Executor) run(service string, svc *desd.Service, act *desd.Action, running *activeAction) {
	result := e.dispatch(e.ctx, svc, act)

	if e.marker != nil {
		e.marker.Clear(service)
	}

	e.mu.Lock()
	st := e.state(service)
	delete(st.active, act.Name)
	waiters := running.waiters
	e.drain(st, service)
	e.mu.Unlock()

	for _, ch := range waiters {
		ch <- result
	}

	if e.onFinish != nil {
		e.onFinish(service)
	}
}

// drain must be called with e.mu held. It admits every queued action whose
// turn has come, in FIFO order, stopping at the first one the current
// active set still can't accommodate.
func (e *Executor) drain(st *serviceState, service string) {
	snap := e.config.Load()
	svc, ok := snap.Service(service)
	if !ok {
		return
	}

	for len(st.queue) > 0 {
		head := st.queue[0]
		act, ok := svc.Action(head.name)
		if !ok {
			st.queue = st.queue[1:]
			head.result <- Result{Err: desd.ErrUnknownAction}
			continue
		}
		if running, ok := st.active[head.name]; ok {
			st.queue = st.queue[1:]
			running.waiters = append(running.waiters, head.result)
			continue
		}
		if !canAdmit(st, head.name, act.Parallelism) {
			return
		}
		st.queue = st.queue[1:]
		e.admit(st, service, svc, act, head.result)
	}
}

// Active reports the name of an action currently active on service, or ""
// if none is active. When several parallel actions are active, which one
// is returned is not defined. It is not consulted by admission logic.
func (e *Executor) Active(service string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.services[service]
	if !ok {
		return ""
	}
	for name := range st.active {
		return name
	}
	return ""
}
