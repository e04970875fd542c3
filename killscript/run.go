package killscript

import (
	"context"
	"errors"
	"sync"
	"time"

	"vawter.tech/stopper"
)

// Spawner is the slice of the spawner client a Runner needs: sending a
// signal to a service's current process, learning when that process has
// been reaped, and inspecting the mirrored current/last-exit state used to
// detect a new invocation starting mid-script. It is satisfied by
// *spawner.Client; the narrow interface keeps this package testable
// without a live spawner connection.
type Spawner interface {
	Signal(ctx context.Context, service, signal string) error
	WaitForReap(ctx context.Context, service string, pid int) (reason string, value string, err error)
	CurrentPID(service string) (pid int, running bool)
	LastExit(service string) (reason, value string)
}

// OutcomeKind classifies how a kill-script run ended.
type OutcomeKind int

const (
	// OutcomeReaped means a wait step observed the service exit.
	OutcomeReaped OutcomeKind = iota
	// OutcomeNotRunning means the service was already down when Run started.
	OutcomeNotRunning
	// OutcomeStillRunning means every step ran without a reap being observed.
	OutcomeStillRunning
)

// Outcome is the terminal result of a kill-script run.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
	Value  string
}

var errTimeout = errors.New("killscript: step timed out")

// Runner drives kill scripts against a Spawner, deduplicating concurrent
// runs against the same service per spec.md §4.5 ("two concurrent
// killscript invocations on the same service are not permitted; the later
// request attaches to the in-flight one").
type Runner struct {
	mu       sync.Mutex
	inflight map[string]*handle
}

// NewRunner returns a ready-to-use Runner.
func NewRunner() *Runner {
	return &Runner{inflight: make(map[string]*handle)}
}

type handle struct {
	sctx    *stopper.Context
	done    chan struct{}
	outcome Outcome
	err     error
}

func (h *handle) wait() (Outcome, error) {
	<-h.done
	return h.outcome, h.err
}

// Run executes script against service, starting from pid as its current
// process. If a run is already in flight for service, Run attaches to it
// and ignores script/pid (they are assumed identical, per the dedup
// contract above) rather than starting a second one.
func (r *Runner) Run(ctx context.Context, sp Spawner, service string, pid int, script Script) (Outcome, error) {
	r.mu.Lock()
	if h, ok := r.inflight[service]; ok {
		r.mu.Unlock()
		return h.wait()
	}

	h := &handle{
		sctx: stopper.WithContext(ctx),
		done: make(chan struct{}),
	}
	r.inflight[service] = h
	r.mu.Unlock()

	h.sctx.Go(func(sctx *stopper.Context) error {
		h.outcome, h.err = run(sctx, sp, service, pid, script)
		close(h.done)
		return nil
	})

	outcome, err := h.wait()

	r.mu.Lock()
	if r.inflight[service] == h {
		delete(r.inflight, service)
	}
	r.mu.Unlock()

	return outcome, err
}

// Cancel aborts an in-flight run for service, if any. The waiting step's
// timer and reap-wait goroutine are released promptly; Run then returns
// whatever outcome the cancellation produced.
func (r *Runner) Cancel(service string) {
	r.mu.Lock()
	h, ok := r.inflight[service]
	r.mu.Unlock()
	if ok {
		h.sctx.Stop(0)
	}
}

func run(sctx *stopper.Context, sp Spawner, service string, pid int, script Script) (Outcome, error) {
	if curPID, running := sp.CurrentPID(service); !running || curPID != pid {
		return Outcome{Kind: OutcomeNotRunning}, nil
	}

	for _, step := range script {
		if sctx.IsStopping() {
			return Outcome{}, context.Canceled
		}

		if curPID, running := sp.CurrentPID(service); !running || curPID != pid {
			// The invocation this script targeted is gone: either it was
			// reaped between steps without our wait step observing it (a
			// concurrent statedump or missed event), or a new invocation
			// has already started. Either way spec.md §4.5 says to abort
			// using the prior invocation's final exit.
			reason, value := sp.LastExit(service)
			return Outcome{Kind: OutcomeReaped, Reason: reason, Value: value}, nil
		}

		switch step.Kind {
		case StepSend:
			if err := sp.Signal(sctx, service, step.Signal); err != nil {
				return Outcome{}, err
			}
		case StepWait:
			reaped, reason, value, err := waitStep(sctx, sp, service, pid, step.Duration)
			if err != nil {
				return Outcome{}, err
			}
			if reaped {
				return Outcome{Kind: OutcomeReaped, Reason: reason, Value: value}, nil
			}
		}
	}
	return Outcome{Kind: OutcomeStillRunning}, nil
}

// waitStep races step's duration against sp.WaitForReap, cancelable via
// sctx. Both the timer and the WaitForReap goroutine are torn down before
// it returns.
func waitStep(sctx *stopper.Context, sp Spawner, service string, pid int, d time.Duration) (bool, string, string, error) {
	stepCtx, cancel := context.WithCancel(sctx)
	defer cancel()

	type result struct {
		reason, value string
		err           error
	}
	resCh := make(chan result, 1)
	go func() {
		reason, value, err := sp.WaitForReap(stepCtx, service, pid)
		resCh <- result{reason, value, err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case res := <-resCh:
		if res.err != nil {
			if errors.Is(res.err, context.Canceled) {
				return false, "", "", nil
			}
			return false, "", "", res.err
		}
		return true, res.reason, res.value, nil
	case <-timer.C:
		return false, "", "", nil
	case <-sctx.Stopping():
		return false, "", "", context.Canceled
	}
}
