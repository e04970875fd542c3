package proto

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newPipeEndpoints(t *testing.T, reg Registry, app any) (*ClientEndpoint, *ServerEndpoint) {
	t.Helper()
	clientConn, serverConn := net.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	client := NewClientEndpoint(ctx, clientConn, reg)
	server := NewServerEndpoint(ctx, serverConn, reg, app, nil)

	go func() { _ = server.Serve() }()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})

	return client, server
}

func TestEchoRoundTrip(t *testing.T) {
	reg := NewRegistry(EchoEntry())
	client, _ := newPipeEndpoints(t, reg, nil)

	rest, err := client.SendMsg("echo", "hello", "world")
	require.NoError(t, err)
	require.Equal(t, []string{"hello", "world"}, rest)
}

func TestUnknownCommandYieldsInvalid(t *testing.T) {
	reg := NewRegistry(EchoEntry())
	client, _ := newPipeEndpoints(t, reg, nil)

	// Bypass client-side validation to exercise the server's unknown
	// message path directly.
	require.NoError(t, client.Send("7", "frobnicate", "x"))

	frame, err := client.Recv()
	require.NoError(t, err)
	require.Equal(t, "7", frame.ID())
	require.Equal(t, "error", frame.Verb())
	require.Equal(t, []string{"invalid", "unknown message frobnicate"}, frame.Rest())
}

func TestAsyncCommandsResolveIndependently(t *testing.T) {
	slow := NewFuture()
	reg := NewRegistry(
		Entry{
			Name:     "slow",
			Validate: func(args []string) bool { return true },
			Handle: func(ctx *Context, args []string) (Reply, error) {
				return Await(slow, func(val any, err error) (Reply, error) {
					return Terminal("ok", "slow-done"), nil
				}), nil
			},
		},
		Entry{
			Name:     "fast",
			Validate: func(args []string) bool { return true },
			Handle: func(ctx *Context, args []string) (Reply, error) {
				return Terminal("ok", "fast-done"), nil
			},
		},
	)

	client, _ := newPipeEndpoints(t, reg, nil)

	slowFuture, err := client.AsyncSendMsg("slow")
	require.NoError(t, err)
	fastFuture, err := client.AsyncSendMsg("fast")
	require.NoError(t, err)

	select {
	case <-fastFuture.Done():
		val, err := fastFuture.Result()
		require.NoError(t, err)
		require.Equal(t, Result{Verb: "ok", Rest: []string{"fast-done"}}, val)
	case <-time.After(time.Second):
		t.Fatal("fast command never resolved")
	}

	select {
	case <-slowFuture.Done():
		t.Fatal("slow command resolved before its future settled")
	default:
	}

	slow.Resolve(nil, nil)

	select {
	case <-slowFuture.Done():
		val, err := slowFuture.Result()
		require.NoError(t, err)
		require.Equal(t, Result{Verb: "ok", Rest: []string{"slow-done"}}, val)
	case <-time.After(time.Second):
		t.Fatal("slow command never resolved")
	}
}

func TestServerShutdownDisarmsPendingContinuations(t *testing.T) {
	never := NewFuture()
	called := make(chan struct{}, 1)
	reg := NewRegistry(Entry{
		Name:     "hang",
		Validate: func(args []string) bool { return true },
		Handle: func(ctx *Context, args []string) (Reply, error) {
			return Await(never, func(val any, err error) (Reply, error) {
				called <- struct{}{}
				return Terminal("ok"), nil
			}), nil
		},
	})

	client, server := newPipeEndpoints(t, reg, nil)

	future, err := client.AsyncSendMsg("hang")
	require.NoError(t, err)

	require.NoError(t, server.Shutdown(10*time.Millisecond))

	// Disarming must not invoke the continuation.
	select {
	case <-called:
		t.Fatal("continuation ran after shutdown disarmed it")
	case <-time.After(50 * time.Millisecond):
	}

	select {
	case <-future.Done():
	default:
	}
	_ = future
}

func TestSendMsgSurfacesCommandError(t *testing.T) {
	reg := NewRegistry(Entry{
		Name:     "boom",
		Validate: func(args []string) bool { return true },
		Handle: func(ctx *Context, args []string) (Reply, error) {
			return Reply{}, errDenied{}
		},
	})
	client, _ := newPipeEndpoints(t, reg, nil)

	_, err := client.SendMsg("boom")
	require.Error(t, err)
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	require.True(t, cmdErr.IsDenied())
}

type errDenied struct{}

func (errDenied) Error() string { return "access denied" }
