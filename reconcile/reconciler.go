// Package reconcile implements the single-threaded convergence loop from
// spec.md §4.6: for each dirty (signal, service) entry it computes and
// applies the next step toward that entry's declared goal, driving the
// action executor and the spawner client to do so.
package reconcile

import (
	"context"
	"log/slog"
	"sync"

	"github.com/axondata/desd"
	"github.com/axondata/desd/action"
	"github.com/axondata/desd/config"
	"github.com/axondata/desd/logging"
	"github.com/axondata/desd/spawner"
	"vawter.tech/stopper"
)

type workKind int

const (
	workService workKind = iota
	workSignal
)

type workItem struct {
	kind workKind
	name string
}

type pushedSpec struct {
	argv []string
	io   []string
}

// SpawnerControl is the slice of *spawner.Client the reconciler issues
// directives against. spawner.Mirror is passed separately since it is a
// plain read-model rather than a control surface worth faking, so tests
// can drive a real Mirror directly via SetState/SetExit/MarkSignal.
type SpawnerControl interface {
	SetHandler(h spawner.EventHandler)
	Statedump(ctx context.Context) error
	Barrier(ctx context.Context) error
	SetArgs(ctx context.Context, name string, argv []string) error
	SetFDs(ctx context.Context, name string, handles []string) error
	SetAutoUp(ctx context.Context, name string, on bool, scope string) error
	DeleteService(ctx context.Context, name string) error
	Tag(ctx context.Context, name, key, value string) error
}

// SignalHooks lets the CLI wire the config-reload, state-reload, and
// shutdown behaviors spec.md §4.6's default signal table names, without
// this package depending on the config loader or process lifecycle
// directly (both are external collaborators per spec.md §1/§6).
type SignalHooks struct {
	ReloadConfig func()
	Shutdown     func(graceful bool)
}

// Reconciler owns the work queue and drives reconcileService/
// reconcileSignal against a config facade, a spawner client, and an
// action executor.
type Reconciler struct {
	sctx   *stopper.Context
	config *config.Facade
	ctrl   SpawnerControl
	mirror *spawner.Mirror
	exec   *action.Executor
	log    *slog.Logger
	verb   *logging.Adjustable
	hooks  SignalHooks

	queue chan workItem

	mu     sync.Mutex
	queued map[workItem]struct{}
	pushed map[string]pushedSpec
}

// New builds a Reconciler. It does not start the loop; call Start.
func New(ctx context.Context, cfg *config.Facade, ctrl SpawnerControl, mirror *spawner.Mirror, exec *action.Executor, verb *logging.Adjustable, hooks SignalHooks, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	r := &Reconciler{
		sctx:   stopper.WithContext(ctx),
		config: cfg,
		ctrl:   ctrl,
		mirror: mirror,
		exec:   exec,
		log:    log,
		verb:   verb,
		hooks:  hooks,
		queue:  make(chan workItem, 1024),
		queued: make(map[workItem]struct{}),
		pushed: make(map[string]pushedSpec),
	}
	ctrl.SetHandler(r)
	return r
}

// Start resets the spawner mirror, requests a fresh statedump, and once
// the barrier echo returns, enqueues one reconcileService item per name in
// (config ∪ mirror) and one reconcileSignal item per already-pending
// signal, per spec.md §4.6 "Startup / reload". It then starts the drain
// loop.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mirror.Reset()

	if err := r.ctrl.Statedump(ctx); err != nil {
		return &desd.OpError{Op: desd.OpReconcile, Target: "statedump", Err: err}
	}
	if err := r.ctrl.Barrier(ctx); err != nil {
		return &desd.OpError{Op: desd.OpReconcile, Target: "statedump_complete", Err: err}
	}

	for _, name := range r.unionNames() {
		r.enqueue(workItem{kind: workService, name: name})
	}
	for _, name := range r.mirror.PendingSignals() {
		r.enqueue(workItem{kind: workSignal, name: name})
	}

	r.sctx.Go(r.loop)
	return nil
}

// Shutdown stops the drain loop and waits for it to exit.
func (r *Reconciler) Shutdown() error {
	r.sctx.Stop(0)
	return r.sctx.Wait()
}

func (r *Reconciler) unionNames() []string {
	seen := make(map[string]struct{})
	var names []string
	for _, n := range r.config.Load().ServiceNames() {
		if _, ok := seen[n]; !ok {
			seen[n] = struct{}{}
			names = append(names, n)
		}
	}
	for _, n := range r.mirror.Names() {
		if _, ok := seen[n]; !ok {
			seen[n] = struct{}{}
			names = append(names, n)
		}
	}
	return names
}

// ServiceChanged implements spawner.EventHandler.
func (r *Reconciler) ServiceChanged(name string) {
	r.enqueue(workItem{kind: workService, name: name})
}

// SignalRaised implements spawner.EventHandler.
func (r *Reconciler) SignalRaised(name string) {
	r.enqueue(workItem{kind: workSignal, name: name})
}

// NotifySignal marks name pending on the mirror and enqueues its
// reconciliation, for a process-level signal handler (SIGHUP, SIGINT, ...)
// that isn't reported by the spawner itself but should drive the same
// default signal table from spec.md §4.6.
func (r *Reconciler) NotifySignal(name string) {
	r.mirror.MarkSignal(name)
	r.enqueue(workItem{kind: workSignal, name: name})
}

// EnqueueAll enqueues one reconcileService item per name in (config ∪
// mirror), for a config reload: the reload itself only swaps the facade's
// pointer, so the caller must ask the loop to revisit every service in
// case the new configuration changed a goal, argv, or io list.
func (r *Reconciler) EnqueueAll() {
	for _, name := range r.unionNames() {
		r.enqueue(workItem{kind: workService, name: name})
	}
}

// enqueueService lets other components (the action executor's
// per-completion callback, via OnActionFinished) request a
// re-reconciliation without importing workItem.
func (r *Reconciler) enqueueService(name string) {
	r.enqueue(workItem{kind: workService, name: name})
}

// OnActionFinished is passed to action.New as its onFinish callback, per
// spec.md §4.6 "Per-action-completion."
func (r *Reconciler) OnActionFinished(name string) {
	r.enqueueService(name)
}

func (r *Reconciler) enqueue(item workItem) {
	r.mu.Lock()
	if _, dup := r.queued[item]; dup {
		r.mu.Unlock()
		return
	}
	r.queued[item] = struct{}{}
	r.mu.Unlock()

	select {
	case r.queue <- item:
	case <-r.sctx.Stopping():
	}
}

// loop drains the work queue one item per iteration, per spec.md §4.6
// "Fairness": the loop returns to select between items so newly arrived
// events and signals get a turn rather than starving behind a long queue.
func (r *Reconciler) loop(sctx *stopper.Context) error {
	for {
		select {
		case <-sctx.Stopping():
			return nil
		case item := <-r.queue:
			r.mu.Lock()
			delete(r.queued, item)
			r.mu.Unlock()

			switch item.kind {
			case workService:
				r.reconcileService(sctx, item.name)
			case workSignal:
				r.reconcileSignal(sctx, item.name)
			}
		}
	}
}
