package spawner

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"
)

// peer wraps one end of a net.Pipe as a line-oriented tab-framed fake
// spawner, letting tests script inbound events and command replies without
// a live daemonproxy.
type peer struct {
	conn net.Conn
	r    *bufio.Reader
}

func newPeer(conn net.Conn) *peer {
	return &peer{conn: conn, r: bufio.NewReader(conn)}
}

func (p *peer) readFrame(t *testing.T) []string {
	t.Helper()
	line, err := p.r.ReadString('\n')
	if err != nil {
		t.Fatalf("peer read: %v", err)
	}
	return strings.Split(strings.TrimRight(line, "\n"), "\t")
}

func (p *peer) send(fields ...string) {
	_, _ = p.conn.Write([]byte(strings.Join(fields, "\t") + "\n"))
}

type fakeHandler struct {
	changed chan string
	signals chan string
}

func newFakeHandler() *fakeHandler {
	return &fakeHandler{changed: make(chan string, 8), signals: make(chan string, 8)}
}

func (h *fakeHandler) ServiceChanged(name string) { h.changed <- name }
func (h *fakeHandler) SignalRaised(name string)   { h.signals <- name }

func newTestClient(t *testing.T) (*Client, *peer) {
	t.Helper()
	clientConn, spawnerConn := net.Pipe()
	t.Cleanup(func() { _ = clientConn.Close(); _ = spawnerConn.Close() })

	c := NewClient(context.Background(), clientConn)
	return c, newPeer(spawnerConn)
}

func TestClientSetArgsRoundTrip(t *testing.T) {
	c, p := newTestClient(t)

	done := make(chan error, 1)
	go func() {
		done <- c.SetArgs(context.Background(), "web", []string{"/bin/web", "--port", "8080"})
	}()

	frame := p.readFrame(t)
	if frame[1] != "service.args" || frame[2] != "web" {
		t.Fatalf("frame = %v, want service.args web ...", frame)
	}
	p.send(frame[0], "ok")

	if err := <-done; err != nil {
		t.Fatalf("SetArgs: %v", err)
	}
}

func TestClientEventUpdatesMirrorAndNotifiesHandler(t *testing.T) {
	c, p := newTestClient(t)
	h := newFakeHandler()
	c.SetHandler(h)

	// Trigger the read loop by issuing a command; the handler must also see
	// events delivered on unrelated ids.
	go func() { _, _ = c.ep.SendMsg("statedump") }()

	cmdFrame := p.readFrame(t)
	p.send("0", "service.state", "web", "UP", "4242")
	p.send(cmdFrame[0], "ok")

	select {
	case name := <-h.changed:
		if name != "web" {
			t.Errorf("ServiceChanged(%q), want web", name)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ServiceChanged")
	}

	st, ok := c.Mirror.Get("web")
	if !ok || !st.Running || st.PID != 4242 {
		t.Errorf("Mirror.Get(web) = %+v, %v, want running pid 4242", st, ok)
	}
}

func TestClientSignalEventNotifiesHandler(t *testing.T) {
	c, p := newTestClient(t)
	h := newFakeHandler()
	c.SetHandler(h)

	go func() { _, _ = c.ep.SendMsg("statedump") }()

	cmdFrame := p.readFrame(t)
	p.send("0", "signal", "SIGHUP")
	p.send(cmdFrame[0], "ok")

	select {
	case name := <-h.signals:
		if name != "SIGHUP" {
			t.Errorf("SignalRaised(%q), want SIGHUP", name)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for SignalRaised")
	}

	pending := c.Mirror.PendingSignals()
	if len(pending) != 1 || pending[0] != "SIGHUP" {
		t.Errorf("PendingSignals() = %v, want [SIGHUP]", pending)
	}
}

func TestClientWaitForReapFulfilledByExitEvent(t *testing.T) {
	c, p := newTestClient(t)
	c.Mirror.SetState("web", true, 100)

	resultCh := make(chan struct{ reason, value string })
	go func() {
		reason, value, err := c.WaitForReap(context.Background(), "web", 100)
		if err != nil {
			t.Errorf("WaitForReap: %v", err)
		}
		resultCh <- struct{ reason, value string }{reason, value}
	}()

	// The exit event only reaches waiters that are already registered.
	deadline := time.Now().Add(time.Second)
	for {
		c.reapMu.Lock()
		n := len(c.reapWaiters["web"])
		c.reapMu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for WaitForReap to register")
		}
		time.Sleep(time.Millisecond)
	}

	go func() { _, _ = c.ep.SendMsg("statedump") }()
	cmdFrame := p.readFrame(t)
	p.send("0", "service.exit", "web", "exit", "0")
	p.send(cmdFrame[0], "ok")

	select {
	case res := <-resultCh:
		if res.reason != "exit" || res.value != "0" {
			t.Errorf("reap result = %+v, want exit/0", res)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for WaitForReap")
	}
}

func TestClientWatchReceivesStateChanges(t *testing.T) {
	c, p := newTestClient(t)
	updates, stop := c.Watch("web")
	defer func() { _ = stop() }()

	go func() { _, _ = c.ep.SendMsg("statedump") }()
	cmdFrame := p.readFrame(t)
	p.send("0", "service.state", "web", "UP", "77")
	p.send(cmdFrame[0], "ok")

	select {
	case st := <-updates:
		if !st.Running || st.PID != 77 {
			t.Errorf("watch update = %+v, want running pid 77", st)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for watch update")
	}
}
