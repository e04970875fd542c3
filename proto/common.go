package proto

// EchoEntry returns the registry entry for the "echo" liveness probe:
// ok F1 F2 ... Fn for any echo F1 F2 ... Fn, with the same arity and field
// values. It accepts zero or more arguments and is shared by every
// endpoint in this module (client-facing and spawner-facing alike).
func EchoEntry() Entry {
	return Entry{
		Name: "echo",
		Validate: func(args []string) bool {
			return true
		},
		Handle: func(ctx *Context, args []string) (Reply, error) {
			return Terminal(append([]string{"ok"}, args...)...), nil
		},
	}
}
