package reconcile

import (
	"context"

	"github.com/axondata/desd"
	"vawter.tech/stopper"
)

// desiredArgv extracts the argv the spawner should be told to exec for
// svc's "start" action, per config/diff.go's convention that a service's
// run argv/environment lives on its start action's Exec RunSpec. A start
// action with an Internal RunSpec (the InternalExecUnlessRunning built-in,
// or a custom internal start routine) has no argv of its own to push.
func desiredArgv(svc *desd.Service) ([]string, bool) {
	start, ok := svc.Action("start")
	if !ok || start.Run.Kind != desd.RunSpecExec {
		return nil, false
	}
	env := desd.ResolveEnv(svc.Env, start.Env)
	argv := make([]string, len(start.Run.Argv))
	for i, tok := range start.Run.Argv {
		argv[i] = tok.Resolve(env)
	}
	return argv, true
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// reconcileService implements the eight numbered steps of spec.md §4.6:
// bring the spawner's view of one service (its argv/io, its "want" tag,
// and whether it's running) in line with configuration and the service's
// declared goal, given no action already in flight for it.
func (r *Reconciler) reconcileService(sctx *stopper.Context, name string) {
	ctx := context.Background()
	snap := r.config.Load()
	svc, hasCfg := snap.Service(name)
	obs, hasObs := r.mirror.Get(name)

	if !hasCfg && hasObs {
		// step 8: unconfigured and not running -> forget it. A still-running
		// unconfigured service is left alone; its exit will re-trigger this.
		if !obs.Running {
			if err := r.ctrl.DeleteService(ctx, name); err != nil {
				r.log.Warn("delete unconfigured service failed", "service", name, "err", err)
			}
			delete(r.pushed, name)
		}
		return
	}
	if !hasCfg {
		return
	}

	argv, hasArgv := desiredArgv(svc)
	prev, wasPushed := r.pushed[name]
	changed := !wasPushed || !stringsEqual(prev.argv, argv) || !stringsEqual(prev.io, svc.IO)

	if !hasObs {
		// step 2: configured, spawner doesn't know it yet.
		if hasArgv {
			if err := r.ctrl.SetArgs(ctx, name, argv); err != nil {
				r.log.Warn("set args failed", "service", name, "err", err)
				return
			}
		}
		if err := r.ctrl.SetFDs(ctx, name, svc.IO); err != nil {
			r.log.Warn("set fds failed", "service", name, "err", err)
			return
		}
		r.pushed[name] = pushedSpec{argv: argv, io: svc.IO}
	} else if changed {
		// step 3: configured and present, but run spec or io changed.
		if svc.Goal == desd.GoalDown {
			if err := r.ctrl.SetAutoUp(ctx, name, false, "self"); err != nil {
				r.log.Warn("clear auto_up failed", "service", name, "err", err)
			}
		}
		if hasArgv {
			if err := r.ctrl.SetArgs(ctx, name, argv); err != nil {
				r.log.Warn("set args failed", "service", name, "err", err)
				return
			}
		}
		if err := r.ctrl.SetFDs(ctx, name, svc.IO); err != nil {
			r.log.Warn("set fds failed", "service", name, "err", err)
			return
		}
		r.pushed[name] = pushedSpec{argv: argv, io: svc.IO}
	}

	// step 4: keep the spawner's "want" tag in sync with the declared goal,
	// for external introspection (spawnersh, statedump consumers).
	if err := r.ctrl.Tag(ctx, name, "want", svc.Goal.String()); err != nil {
		r.log.Warn("set want tag failed", "service", name, "err", err)
	}

	if r.exec.Active(name) != "" {
		// An action is already in flight; its completion callback will
		// re-enqueue this service, so there's nothing more to do this tick.
		return
	}

	obsNow, _ := r.mirror.Get(name)
	switch svc.Goal {
	case desd.GoalUp:
		// step 5: goal up and not running -> start it.
		if !obsNow.Running {
			if _, err := r.exec.Enqueue(ctx, name, "start"); err != nil {
				r.log.Warn("dispatch start failed", "service", name, "err", err)
			}
		}
	case desd.GoalOnce:
		// step 5: goal once and not running -> start it, unless the mirror
		// already shows a recorded exit for it, in which case it has already
		// run to completion and must not be restarted. A service the mirror
		// does not know yet has the zero ObservedState, whose exit reason is
		// ExitReasonNone.
		if !obsNow.Running && obsNow.Last.Reason == desd.ExitReasonNone {
			if _, err := r.exec.Enqueue(ctx, name, "start"); err != nil {
				r.log.Warn("dispatch start failed", "service", name, "err", err)
			}
		}
	case desd.GoalDown:
		// step 6: goal down and running -> stop it.
		if obsNow.Running {
			if _, err := r.exec.Enqueue(ctx, name, "stop"); err != nil {
				r.log.Warn("dispatch stop failed", "service", name, "err", err)
			}
		}
	case desd.GoalCycle:
		// step 7: goal cycle bounces the service. Stop it if running; the
		// action-completion callback re-enqueues this service once the stop
		// finishes, and the next pass finds it stopped and starts it again.
		// This never mutates svc.Goal — the config snapshot is shared and
		// read concurrently by other connections (e.g. service_status).
		if obsNow.Running {
			if _, err := r.exec.Enqueue(ctx, name, "stop"); err != nil {
				r.log.Warn("dispatch stop failed", "service", name, "err", err)
			}
		} else {
			if _, err := r.exec.Enqueue(ctx, name, "start"); err != nil {
				r.log.Warn("dispatch start failed", "service", name, "err", err)
			}
		}
	}
}

// signalHandlers maps the default signal table from spec.md §4.6 to the
// reconciler action it triggers.
var signalHandlers map[string]func(r *Reconciler)

func init() {
	signalHandlers = map[string]func(r *Reconciler){
		"SIGHUP": func(r *Reconciler) {
			if r.hooks.ReloadConfig != nil {
				r.hooks.ReloadConfig()
			}
		},
		"SIGINT": func(r *Reconciler) {
			if err := r.Start(context.Background()); err != nil {
				r.log.Warn("state reload failed", "err", err)
			}
		},
		"SIGTERM": func(r *Reconciler) {
			if r.hooks.Shutdown != nil {
				r.hooks.Shutdown(true)
			}
		},
		"SIGQUIT": func(r *Reconciler) {
			if r.hooks.Shutdown != nil {
				r.hooks.Shutdown(false)
			}
		},
		"SIGUSR1": func(r *Reconciler) {
			if r.verb != nil {
				r.verb.Inc()
			}
		},
		"SIGUSR2": func(r *Reconciler) {
			if r.verb != nil {
				r.verb.Dec()
			}
		},
	}
}

// reconcileSignal implements spec.md §4.6's per-signal handling: clear the
// pending mark, then dispatch to the default signal table.
func (r *Reconciler) reconcileSignal(sctx *stopper.Context, name string) {
	r.mirror.ClearSignal(name)

	handler, ok := signalHandlers[name]
	if !ok {
		r.log.Warn("no handler for signal", "signal", name)
		return
	}
	handler(r)
}
