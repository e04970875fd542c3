package action

import (
	"context"
	"testing"
	"time"

	"github.com/axondata/desd"
	"github.com/axondata/desd/config"
	"github.com/axondata/desd/killscript"
)

type fakeSpawner struct {
	running map[string]int
	started map[string]int
	uptime  time.Duration
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{running: map[string]int{}, started: map[string]int{}, uptime: time.Hour}
}

func (f *fakeSpawner) Signal(ctx context.Context, service, signal string) error { return nil }
func (f *fakeSpawner) WaitForReap(ctx context.Context, service string, pid int) (string, string, error) {
	<-ctx.Done()
	return "", "", ctx.Err()
}
func (f *fakeSpawner) CurrentPID(service string) (int, bool) {
	pid, ok := f.running[service]
	return pid, ok
}
func (f *fakeSpawner) LastExit(service string) (string, string) { return "exit", "0" }
func (f *fakeSpawner) StartService(ctx context.Context, name string) error {
	f.started[name]++
	f.running[name] = 100 + f.started[name]
	return nil
}
func (f *fakeSpawner) SetArgs(ctx context.Context, name string, argv []string) error { return nil }
func (f *fakeSpawner) SetFDs(ctx context.Context, name string, handles []string) error {
	return nil
}
func (f *fakeSpawner) Uptime(service string) (time.Duration, bool) {
	if _, ok := f.running[service]; ok {
		return f.uptime, true
	}
	return 0, false
}

func buildFacade(t *testing.T, actions ...config.RawAction) *config.Facade {
	t.Helper()
	snap, err := config.Build(config.RawConfig{
		Services: []config.RawService{{Name: "web", Goal: desd.GoalUp, Actions: actions}},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return config.NewFacade(snap)
}

func TestEnqueueStartsExecUnlessRunning(t *testing.T) {
	facade := buildFacade(t)
	sp := newFakeSpawner()
	exec := New(context.Background(), facade, sp, killscript.NewRunner(), nil, nil, nil)

	ch, err := exec.Enqueue(context.Background(), "web", "start")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case res := <-ch:
		if !res.Success {
			t.Fatalf("expected success, got %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatal("start action never completed")
	}
	if sp.started["web"] != 1 {
		t.Errorf("started[web] = %d, want 1", sp.started["web"])
	}
}

func TestEnqueueAttachesToInFlightSameAction(t *testing.T) {
	facade := buildFacade(t, config.RawAction{
		Name: "slow",
		Run:  ptrRunSpec(desd.InternalSpec(desd.InternalWaitForUptime, "36000")),
	})
	sp := newFakeSpawner()
	sp.running["web"] = 42
	exec := New(context.Background(), facade, sp, killscript.NewRunner(), nil, nil, nil)

	ch1, err := exec.Enqueue(context.Background(), "web", "slow")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	ch2, err := exec.Enqueue(context.Background(), "web", "slow")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if exec.Active("web") != "slow" {
		t.Errorf("Active = %q, want slow", exec.Active("web"))
	}

	select {
	case <-ch1:
		t.Fatal("slow action resolved too soon")
	case <-time.After(50 * time.Millisecond):
	}
	_ = ch2
}

func TestEnqueueQueuesNonParallelAction(t *testing.T) {
	facade := buildFacade(t, config.RawAction{
		Name: "slow",
		Run:  ptrRunSpec(desd.InternalSpec(desd.InternalWaitForUptime, "36000")),
	})
	sp := newFakeSpawner()
	sp.running["web"] = 42
	exec := New(context.Background(), facade, sp, killscript.NewRunner(), nil, nil, nil)

	if _, err := exec.Enqueue(context.Background(), "web", "slow"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	startCh, err := exec.Enqueue(context.Background(), "web", "start")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case <-startCh:
		t.Fatal("start action should be queued behind slow, not admitted immediately")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEnqueueAdmitsParallelCheckAlongsideHold(t *testing.T) {
	facade := buildFacade(t, config.RawAction{
		Name:        "hold",
		Run:         ptrRunSpec(desd.InternalSpec(desd.InternalWaitForUptime, "36000")),
		Parallelism: desd.AllParallel(),
	})
	sp := newFakeSpawner()
	sp.running["web"] = 7
	exec := New(context.Background(), facade, sp, killscript.NewRunner(), nil, nil, nil)

	if _, err := exec.Enqueue(context.Background(), "web", "hold"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	checkCh, err := exec.Enqueue(context.Background(), "web", "check")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case res := <-checkCh:
		if !res.Success {
			t.Fatalf("expected check to succeed, got %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatal("check action (parallelism *) should admit alongside hold")
	}
}

func TestEnqueueUnknownServiceOrAction(t *testing.T) {
	facade := buildFacade(t)
	sp := newFakeSpawner()
	exec := New(context.Background(), facade, sp, killscript.NewRunner(), nil, nil, nil)

	if _, err := exec.Enqueue(context.Background(), "missing", "start"); err == nil {
		t.Fatal("expected error for unknown service")
	}
	if _, err := exec.Enqueue(context.Background(), "web", "missing"); err == nil {
		t.Fatal("expected error for unknown action")
	}
}

func ptrRunSpec(r desd.RunSpec) *desd.RunSpec { return &r }
