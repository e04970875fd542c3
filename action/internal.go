package action

import (
	"context"
	"time"

	"github.com/axondata/desd"
	"github.com/axondata/desd/killscript"
	"vawter.tech/stopper"
)

// waitForUptimeGrace bounds how long wait_for_uptime polls past its
// requested duration before giving up on a service that never came up.
const waitForUptimeGrace = 5 * time.Second

const pollInterval = 50 * time.Millisecond

// dispatch resolves act's RunSpec and runs it to completion, applying the
// action's environment overlay and dispatching either to one of the four
// internal methods or to a spawner-hosted exec.
func (e *Executor) dispatch(ctx context.Context, svc *desd.Service, act *desd.Action) Result {
	switch act.Run.Kind {
	case desd.RunSpecInternal:
		return e.dispatchInternal(ctx, svc, act.Run)
	case desd.RunSpecExec:
		env := desd.ResolveEnv(svc.Env, act.Env)
		return e.dispatchExec(ctx, svc, act.Run, env)
	default:
		return Result{Err: desd.ErrUnknownAction}
	}
}

func (e *Executor) dispatchInternal(ctx context.Context, svc *desd.Service, run desd.RunSpec) Result {
	switch run.Method {
	case desd.InternalKillScript:
		return e.internalKillScript(ctx, svc, run.Args)
	case desd.InternalExecUnlessRunning:
		return e.internalExecUnlessRunning(ctx, svc)
	case desd.InternalStopStart:
		return e.internalStopStart(ctx, svc)
	case desd.InternalWaitForUptime:
		return e.internalWaitForUptime(ctx, svc, run.Args)
	default:
		return Result{Err: desd.ErrUnknownAction}
	}
}

func (e *Executor) internalKillScript(ctx context.Context, svc *desd.Service, args []string) Result {
	if len(args) != 1 {
		return Result{Err: desd.ErrUnknownAction}
	}
	script, err := killscript.Parse(args[0])
	if err != nil {
		return Result{Err: err}
	}

	pid, running := e.spawner.CurrentPID(svc.Name)
	if !running {
		return Result{Success: true, Fields: []string{"not_running"}}
	}

	outcome, err := e.runner.Run(ctx, e.spawner, svc.Name, pid, script)
	if err != nil {
		return Result{Err: err}
	}

	switch outcome.Kind {
	case killscript.OutcomeReaped:
		return Result{Success: true, Fields: []string{"reaped", outcome.Reason, outcome.Value}}
	case killscript.OutcomeNotRunning:
		return Result{Success: true, Fields: []string{"not_running"}}
	default:
		return Result{Success: false, Fields: []string{"still_running"}, Err: desd.ErrStillRunning}
	}
}

func (e *Executor) internalExecUnlessRunning(ctx context.Context, svc *desd.Service) Result {
	if _, running := e.spawner.CurrentPID(svc.Name); running {
		return Result{Success: true}
	}
	if err := e.spawner.StartService(ctx, svc.Name); err != nil {
		return Result{Err: err}
	}
	return Result{Success: true}
}

func (e *Executor) internalStopStart(ctx context.Context, svc *desd.Service) Result {
	stopAction, ok := svc.Action("stop")
	if !ok {
		return Result{Err: desd.ErrUnknownAction}
	}
	if res := e.dispatch(ctx, svc, stopAction); res.Err != nil {
		return res
	}

	startAction, ok := svc.Action("start")
	if !ok {
		return Result{Err: desd.ErrUnknownAction}
	}
	return e.dispatch(ctx, svc, startAction)
}

func (e *Executor) internalWaitForUptime(ctx context.Context, svc *desd.Service, args []string) Result {
	if len(args) != 1 {
		return Result{Err: desd.ErrUnknownAction}
	}
	seconds, err := time.ParseDuration(args[0] + "s")
	if err != nil {
		return Result{Err: err}
	}

	sctx := stopper.WithContext(ctx)
	deadline := time.Now().Add(seconds + waitForUptimeGrace)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		uptime, running := e.spawner.Uptime(svc.Name)
		if running && uptime >= seconds {
			return Result{Success: true}
		}
		if time.Now().After(deadline) {
			return Result{Success: false, Err: desd.ErrNotRunning}
		}
		select {
		case <-sctx.Stopping():
			return Result{Err: context.Canceled}
		case <-ticker.C:
		}
	}
}

// dispatchExec resolves argv against the action's overlaid environment,
// sends it and the service's IO list to the spawner, starts the service,
// and awaits its reap. The environment itself is not sent to the spawner;
// it is only used to resolve argv (and argv0) tokens. Success is exit
// reason == exit and code == 0, per spec.md §4.7.
func (e *Executor) dispatchExec(ctx context.Context, svc *desd.Service, run desd.RunSpec, env map[string]string) Result {
	argv := make([]string, len(run.Argv))
	for i, tok := range run.Argv {
		argv[i] = tok.Resolve(env)
	}
	name := svc.Name
	if run.Argv0 != nil {
		name = run.Argv0.Resolve(env)
	}

	if err := e.spawner.SetArgs(ctx, svc.Name, argv); err != nil {
		return Result{Err: err}
	}
	if err := e.spawner.SetFDs(ctx, svc.Name, svc.IO); err != nil {
		return Result{Err: err}
	}
	if err := e.spawner.StartService(ctx, name); err != nil {
		return Result{Err: err}
	}

	pid, running := e.spawner.CurrentPID(svc.Name)
	if !running {
		return Result{Err: desd.ErrNotRunning}
	}

	reason, value, err := e.spawner.WaitForReap(ctx, svc.Name, pid)
	if err != nil {
		return Result{Err: err}
	}

	success := reason == desd.ExitReasonExit.String() && value == "0"
	return Result{Success: success, Fields: []string{reason, value}}
}
