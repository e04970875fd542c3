// Command desd is the service supervisor daemon: it speaks the framed
// tab-delimited protocol from desd/proto to a daemonproxy-style spawner
// over --socket, reconciles configured services against their declared
// goals, and accepts client connections on --control that issue
// service_action/killscript/service_status/watch_service commands.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/axondata/desd/action"
	"github.com/axondata/desd/config"
	"github.com/axondata/desd/killscript"
	"github.com/axondata/desd/logging"
	"github.com/axondata/desd/proto"
	"github.com/axondata/desd/reconcile"
	"github.com/axondata/desd/spawner"
)

// version is set by the release build; "dev" outside a tagged build.
var version = "dev"

type flags struct {
	baseDir         string
	configPath      string
	socketPath      string
	desdPath        string
	daemonproxyPath string
	control         string
	verbose         int
	quiet           bool
	printVersion    bool
}

func parseFlags(args []string) *flags {
	fs := flag.NewFlagSet("desd", flag.ExitOnError)
	f := &flags{}
	fs.StringVar(&f.baseDir, "base-dir", ".", "working directory to chdir into before startup")
	fs.StringVar(&f.configPath, "config", "", "path to the decoded service configuration")
	fs.StringVar(&f.socketPath, "socket", "", "path to the spawner's control socket")
	fs.StringVar(&f.desdPath, "desd-path", "", "path to this binary, for the spawner's records")
	fs.StringVar(&f.daemonproxyPath, "daemonproxy-path", "", "path to the daemonproxy binary")
	fs.StringVar(&f.control, "control", "", "control socket: a filesystem PATH or an inherited file descriptor number")
	fs.IntVar(&f.verbose, "verbose", 0, "log verbosity level: 0 warn, 1 info, 2 or more debug")
	fs.BoolVar(&f.quiet, "quiet", false, "decrease log verbosity")
	fs.BoolVar(&f.printVersion, "version", false, "print the version and exit")
	_ = fs.Parse(args)
	return f
}

func main() {
	f := parseFlags(os.Args[1:])

	if f.printVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	verbosity := f.verbose
	if f.quiet {
		verbosity--
	}
	adj := logging.NewAdjustable(verbosity)
	log := adj.Logger

	if err := run(f, adj); err != nil {
		log.Error("desd: fatal", "err", err)
		os.Exit(1)
	}
}

func run(f *flags, adj *logging.Adjustable) error {
	log := adj.Logger

	if f.baseDir != "" && f.baseDir != "." {
		if err := os.Chdir(f.baseDir); err != nil {
			return fmt.Errorf("chdir %s: %w", f.baseDir, err)
		}
	}

	raw, err := loadConfig(f.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	snap, err := config.Build(raw)
	if err != nil {
		return fmt.Errorf("build config: %w", err)
	}
	facade := config.NewFacade(snap)

	conn, err := net.Dial("unix", f.socketPath)
	if err != nil {
		return fmt.Errorf("dial spawner %s: %w", f.socketPath, err)
	}

	ctx := context.Background()
	spClient := spawner.NewClient(ctx, conn)
	defer spClient.Close()

	runner := killscript.NewRunner()
	markerDir := filepath.Join(f.baseDir, "run", "markers")
	_ = os.MkdirAll(markerDir, 0o755)
	marker := action.NewMarker(markerDir)

	var recon *reconcile.Reconciler
	exec := action.New(ctx, facade, spClient, runner, marker, log, func(service string) {
		if recon != nil {
			recon.OnActionFinished(service)
		}
	})

	hooks := reconcile.SignalHooks{
		ReloadConfig: func() {
			if reloadConfig(f.configPath, facade, log) {
				recon.EnqueueAll()
			}
		},
		Shutdown: func(graceful bool) {
			log.Info("desd: shutting down", "graceful", graceful)
			os.Exit(0)
		},
	}
	recon = reconcile.New(ctx, facade, spClient, spClient.Mirror, exec, adj, hooks, log)

	if err := recon.Start(ctx); err != nil {
		return fmt.Errorf("reconciler start: %w", err)
	}

	notifyOSSignals(recon)

	if f.configPath != "" {
		stopWatch, err := config.WatchFile(ctx, f.configPath, 200*time.Millisecond, func() {
			if reloadConfig(f.configPath, facade, log) {
				recon.EnqueueAll()
			}
		})
		if err != nil {
			log.Warn("desd: config watch disabled", "err", err)
		} else {
			defer func() { _ = stopWatch() }()
		}
	}

	app := &App{
		config: facade,
		exec:   exec,
		mirror: spClient.Mirror,
		sp:     spClient,
		runner: runner,
		tokens: map[string]struct{}{"admin": {}},
	}
	registry := buildRegistry(app)

	listener, err := controlListener(f.control)
	if err != nil {
		return fmt.Errorf("control listener: %w", err)
	}
	log.Info("desd: listening", "control", f.control, "version", version)

	return serveControl(ctx, listener, registry, app, log)
}

func serveControl(ctx context.Context, listener net.Listener, registry proto.Registry, app *App, log *slog.Logger) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			return err
		}
		go func() {
			ep := proto.NewServerEndpoint(ctx, conn, registry, app, log)
			if err := ep.Serve(); err != nil {
				log.Warn("desd: connection ended", "err", err)
			}
		}()
	}
}

// controlListener builds the control listener from --control: a plain
// decimal string is an inherited file descriptor number (per spec.md §6's
// "--control FD|PATH"); anything else is a filesystem path for a fresh
// Unix socket.
func controlListener(control string) (net.Listener, error) {
	if control == "" {
		return nil, fmt.Errorf("--control is required")
	}
	if fd, err := strconv.Atoi(control); err == nil {
		f := os.NewFile(uintptr(fd), "control")
		return net.FileListener(f)
	}
	_ = os.Remove(control)
	return net.Listen("unix", control)
}

func reloadConfig(path string, facade *config.Facade, log *slog.Logger) bool {
	raw, err := loadConfig(path)
	if err != nil {
		log.Warn("desd: config reload failed", "err", err)
		return false
	}
	next, err := config.Build(raw)
	if err != nil {
		log.Warn("desd: config reload failed", "err", err)
		return false
	}
	facade.Swap(next)
	return true
}

func notifyOSSignals(recon *reconcile.Reconciler) {
	ch := make(chan os.Signal, 8)
	signal.Notify(ch, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGUSR1, syscall.SIGUSR2)
	go func() {
		for sig := range ch {
			if name, ok := signalName(sig); ok {
				recon.NotifySignal(name)
			}
		}
	}()
}

func signalName(sig os.Signal) (string, bool) {
	switch sig {
	case syscall.SIGHUP:
		return "SIGHUP", true
	case syscall.SIGINT:
		return "SIGINT", true
	case syscall.SIGTERM:
		return "SIGTERM", true
	case syscall.SIGQUIT:
		return "SIGQUIT", true
	case syscall.SIGUSR1:
		return "SIGUSR1", true
	case syscall.SIGUSR2:
		return "SIGUSR2", true
	default:
		return "", false
	}
}

