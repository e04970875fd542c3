package main

import (
	"context"
	"strconv"

	"github.com/axondata/desd"
	"github.com/axondata/desd/action"
	"github.com/axondata/desd/killscript"
	"github.com/axondata/desd/proto"
)

// buildRegistry assembles the client-facing message registry from
// spec.md §4.4 plus the supplemented service_status/watch_service reads.
func buildRegistry(app *App) proto.Registry {
	return proto.NewRegistry(
		proto.EchoEntry(),
		serviceActionEntry(app),
		killscriptEntry(app),
		serviceStatusEntry(app),
		watchServiceEntry(app),
		bulkActionEntry(app),
	)
}

func validServiceAction(args []string) bool {
	return len(args) == 2 && desd.ValidName(args[0]) && desd.ValidName(args[1])
}

// serviceActionEntry implements spec.md §4.4's `service_action
// SERVICE_NAME ACTION_NAME`.
func serviceActionEntry(app *App) proto.Entry {
	return proto.Entry{
		Name:     "service_action",
		Validate: validServiceAction,
		Handle: func(ctx *proto.Context, args []string) (proto.Reply, error) {
			service, actionName := args[0], args[1]

			snap := app.config.Load()
			svc, ok := snap.Service(service)
			if !ok {
				return proto.Terminal("error", "invalid"), nil
			}
			act, ok := svc.Action(actionName)
			if !ok {
				return proto.Terminal("error", "invalid"), nil
			}
			if !app.authorizeAction(act) {
				return proto.Terminal("error", "denied"), nil
			}

			ch, err := app.exec.Enqueue(context.Background(), service, actionName)
			if err != nil {
				return proto.Terminal("error", "invalid"), nil
			}

			future := proto.NewFuture()
			go func() {
				res := <-ch
				future.Resolve(res, nil)
			}()

			return proto.Await(future, func(val any, ferr error) (proto.Reply, error) {
				if ferr != nil {
					return proto.Reply{}, ferr
				}
				res := val.(action.Result)
				if res.Err != nil {
					return proto.Reply{}, res.Err
				}
				return proto.Terminal("ok", "complete"), nil
			}), nil
		},
	}
}

func validKillscript(args []string) bool {
	if len(args) != 2 || !desd.ValidName(args[0]) {
		return false
	}
	return killscript.FieldPattern.MatchString(args[1])
}

// killscriptEntry implements spec.md §4.4's `killscript SERVICE_NAME
// SCRIPT`.
func killscriptEntry(app *App) proto.Entry {
	return proto.Entry{
		Name:     "killscript",
		Validate: validKillscript,
		Handle: func(ctx *proto.Context, args []string) (proto.Reply, error) {
			service, field := args[0], args[1]

			if !app.authorizeToken("kill_service:" + service) {
				return proto.Terminal("error", "denied"), nil
			}
			script, err := killscript.Parse(field)
			if err != nil {
				return proto.Terminal("error", "invalid"), nil
			}

			pid, _ := app.sp.CurrentPID(service)

			future := proto.NewFuture()
			go func() {
				outcome, err := app.runner.Run(context.Background(), app.sp, service, pid, script)
				future.Resolve(outcome, err)
			}()

			return proto.Await(future, func(val any, ferr error) (proto.Reply, error) {
				if ferr != nil {
					return proto.Reply{}, ferr
				}
				outcome := val.(killscript.Outcome)
				switch outcome.Kind {
				case killscript.OutcomeReaped:
					return proto.Terminal("ok", "reaped", outcome.Reason, outcome.Value), nil
				case killscript.OutcomeNotRunning:
					return proto.Terminal("ok", "not_running"), nil
				default:
					return proto.Terminal("error", "still_running"), nil
				}
			}), nil
		},
	}
}

func validServiceName(args []string) bool {
	return len(args) == 1 && desd.ValidName(args[0])
}

// serviceStatusEntry implements the supplemented `service_status
// SERVICE_NAME` read, replying `ok goal STATE PID UPTIME`.
func serviceStatusEntry(app *App) proto.Entry {
	return proto.Entry{
		Name:     "service_status",
		Validate: validServiceName,
		Handle: func(ctx *proto.Context, args []string) (proto.Reply, error) {
			service := args[0]
			snap := app.config.Load()
			svc, ok := snap.Service(service)
			if !ok {
				return proto.Terminal("error", "invalid"), nil
			}
			obs, _ := app.mirror.Get(service)
			return proto.Terminal("ok", svc.Goal.String(), stateWord(obs.Running),
				strconv.Itoa(obs.PID), uptimeSeconds(obs.Uptime())), nil
		},
	}
}

// watchServiceEntry implements the supplemented `watch_service
// SERVICE_NAME` subscription: it replies immediately, then pushes an
// unsolicited `event service_state ...` frame for every subsequent
// service.state change until the connection closes.
func watchServiceEntry(app *App) proto.Entry {
	return proto.Entry{
		Name:     "watch_service",
		Validate: validServiceName,
		Handle: func(ctx *proto.Context, args []string) (proto.Reply, error) {
			service := args[0]
			updates, cancel := app.sp.Watch(service)
			eventID := ctx.Endpoint.NextEventID()

			go func() {
				defer func() { _ = cancel() }()
				for {
					select {
					case st, ok := <-updates:
						if !ok {
							return
						}
						_ = ctx.Endpoint.AsyncSend(eventID, "event", "service_state", service,
							stateWord(st.Running), strconv.Itoa(st.PID), uptimeSeconds(st.Uptime()))
					case <-ctx.Endpoint.Closed():
						return
					}
				}
			}()

			return proto.Terminal("ok", "watching"), nil
		},
	}
}

// bulkConcurrency bounds how many services bulk_action dispatches to at
// once, per action.BulkDispatch's semaphore.
const bulkConcurrency = 8

func validBulkAction(args []string) bool {
	if len(args) < 2 || !desd.ValidName(args[0]) {
		return false
	}
	for _, service := range args[1:] {
		if !desd.ValidName(service) {
			return false
		}
	}
	return true
}

// bulkActionEntry implements the supplemented `bulk_action ACTION_NAME
// SERVICE_NAME...` command: it fans actionName out across every named
// service concurrently via action.BulkDispatch, replying once every
// service's dispatch has completed.
func bulkActionEntry(app *App) proto.Entry {
	return proto.Entry{
		Name:     "bulk_action",
		Validate: validBulkAction,
		Handle: func(ctx *proto.Context, args []string) (proto.Reply, error) {
			actionName, services := args[0], args[1:]

			snap := app.config.Load()
			for _, service := range services {
				svc, ok := snap.Service(service)
				if !ok {
					return proto.Terminal("error", "invalid"), nil
				}
				act, ok := svc.Action(actionName)
				if !ok {
					return proto.Terminal("error", "invalid"), nil
				}
				if !app.authorizeAction(act) {
					return proto.Terminal("error", "denied"), nil
				}
			}

			future := proto.NewFuture()
			go func() {
				err := action.BulkDispatch(context.Background(), app.exec, services, actionName, bulkConcurrency)
				future.Resolve(nil, err)
			}()

			return proto.Await(future, func(_ any, ferr error) (proto.Reply, error) {
				if ferr != nil {
					return proto.Reply{}, ferr
				}
				return proto.Terminal("ok", "complete"), nil
			}), nil
		},
	}
}
