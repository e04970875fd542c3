package killscript

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeSpawner struct {
	mu      sync.Mutex
	pid     int
	running bool
	reason  string
	value   string

	signals []string
	reapCh  chan struct{}
}

func newFakeSpawner(pid int) *fakeSpawner {
	return &fakeSpawner{pid: pid, running: true, reapCh: make(chan struct{})}
}

func (f *fakeSpawner) Signal(ctx context.Context, service, signal string) error {
	f.mu.Lock()
	f.signals = append(f.signals, signal)
	f.mu.Unlock()
	return nil
}

func (f *fakeSpawner) WaitForReap(ctx context.Context, service string, pid int) (string, string, error) {
	select {
	case <-f.reapCh:
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.reason, f.value, nil
	case <-ctx.Done():
		return "", "", ctx.Err()
	}
}

func (f *fakeSpawner) CurrentPID(service string) (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pid, f.running
}

func (f *fakeSpawner) LastExit(service string) (string, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reason, f.value
}

func (f *fakeSpawner) reap(reason, value string) {
	f.mu.Lock()
	f.running = false
	f.reason = reason
	f.value = value
	f.mu.Unlock()
	close(f.reapCh)
}

func TestRunNotRunning(t *testing.T) {
	sp := newFakeSpawner(0)
	sp.running = false

	r := NewRunner()
	script, _ := Parse("SIGTERM 30")
	outcome, err := r.Run(context.Background(), sp, "web", 100, script)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Kind != OutcomeNotRunning {
		t.Errorf("outcome = %+v, want OutcomeNotRunning", outcome)
	}
}

func TestRunReapsDuringWait(t *testing.T) {
	sp := newFakeSpawner(100)
	r := NewRunner()
	script, _ := Parse("SIGTERM 30")

	done := make(chan struct{})
	var outcome Outcome
	go func() {
		outcome, _ = r.Run(context.Background(), sp, "web", 100, script)
		close(done)
	}()

	// let Run send SIGTERM and enter the wait step before reaping.
	time.Sleep(20 * time.Millisecond)
	sp.reap("signal", "SIGTERM")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after reap")
	}

	if outcome.Kind != OutcomeReaped {
		t.Errorf("outcome = %+v, want OutcomeReaped", outcome)
	}
	if outcome.Reason != "signal" || outcome.Value != "SIGTERM" {
		t.Errorf("outcome = %+v, want reason=signal value=SIGTERM", outcome)
	}
}

func TestRunStillRunningAfterScriptExhausted(t *testing.T) {
	sp := newFakeSpawner(100)
	r := NewRunner()
	script, _ := Parse("SIGTERM 0.01")

	outcome, err := r.Run(context.Background(), sp, "web", 100, script)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Kind != OutcomeStillRunning {
		t.Errorf("outcome = %+v, want OutcomeStillRunning", outcome)
	}
}

func TestRunDedupesConcurrentInvocations(t *testing.T) {
	sp := newFakeSpawner(100)
	r := NewRunner()
	script, _ := Parse("SIGTERM 30")

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], _ = r.Run(context.Background(), sp, "web", 100, script)
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	sp.reap("signal", "SIGTERM")
	wg.Wait()

	for i, o := range outcomes {
		if o.Kind != OutcomeReaped {
			t.Errorf("outcome[%d] = %+v, want OutcomeReaped", i, o)
		}
	}
	sp.mu.Lock()
	n := len(sp.signals)
	sp.mu.Unlock()
	if n != 1 {
		t.Errorf("SIGTERM sent %d times, want exactly 1 (dedup should attach, not re-run)", n)
	}
}

func TestRunAbortsOnPIDChangeMidScript(t *testing.T) {
	sp := newFakeSpawner(100)
	r := NewRunner()
	script, _ := Parse("SIGTERM 0.05 SIGKILL 30")

	go func() {
		time.Sleep(15 * time.Millisecond)
		sp.mu.Lock()
		sp.pid = 200
		sp.running = true
		sp.reason = "exit"
		sp.value = "0"
		sp.mu.Unlock()
	}()

	outcome, err := r.Run(context.Background(), sp, "web", 100, script)
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Kind != OutcomeReaped {
		t.Errorf("outcome = %+v, want OutcomeReaped (pid changed mid-script)", outcome)
	}
}

func TestRunCancel(t *testing.T) {
	sp := newFakeSpawner(100)
	r := NewRunner()
	script, _ := Parse("SIGTERM 30")

	done := make(chan struct{})
	var err error
	go func() {
		_, err = r.Run(context.Background(), sp, "web", 100, script)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	r.Cancel("web")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Cancel")
	}
	if err == nil {
		t.Error("expected an error after cancellation")
	}
}
