package action

import (
	"context"
	"time"
)

// SpawnerPort is the slice of *spawner.Client the executor's internal
// methods and Exec dispatch need. It declares killscript.Spawner's four
// methods plus the directive/query calls internal.go issues directly,
// so *spawner.Client satisfies it with no adapter and tests can supply a
// narrow fake without a live spawner connection.
type SpawnerPort interface {
	Signal(ctx context.Context, service, signal string) error
	WaitForReap(ctx context.Context, service string, pid int) (reason, value string, err error)
	CurrentPID(service string) (pid int, running bool)
	LastExit(service string) (reason, value string)

	StartService(ctx context.Context, name string) error
	SetArgs(ctx context.Context, name string, argv []string) error
	SetFDs(ctx context.Context, name string, handles []string) error
	Uptime(service string) (time.Duration, bool)
}
