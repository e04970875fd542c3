package spawner

import "github.com/axondata/desd/proto"

// Registry returns the message registry a Client validates its outbound
// directives against, per spec.md §6's "Commands emitted toward the
// spawner" list. Client roles never dispatch to a Handler (only servers
// do), so every entry leaves Handle nil; only Validate is consulted, by
// ClientEndpoint.SendMsg/AsyncSendMsg.
func Registry() proto.Registry {
	return proto.NewRegistry(
		proto.Entry{Name: "statedump", Validate: anyArgs},
		proto.Entry{Name: "echo", Validate: anyArgs},
		proto.Entry{Name: "service.args", Validate: atLeast(1)},
		proto.Entry{Name: "service.fds", Validate: atLeast(1)},
		proto.Entry{Name: "service.auto_up", Validate: exactly(3)},
		proto.Entry{Name: "service.start", Validate: exactly(1)},
		proto.Entry{Name: "service.signal", Validate: exactly(2)},
		proto.Entry{Name: "service.delete", Validate: exactly(1)},
		proto.Entry{Name: "service.tag", Validate: exactly(3)},
	)
}

func anyArgs([]string) bool { return true }

func atLeast(n int) func([]string) bool {
	return func(args []string) bool { return len(args) >= n }
}

func exactly(n int) func([]string) bool {
	return func(args []string) bool { return len(args) == n }
}
