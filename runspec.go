package desd

// InternalName enumerates the closed set of built-in operations an Action
// may dispatch to in-process rather than through the spawner.
type InternalName int

const (
	// InternalUnknown is the zero value and never a valid internal method.
	InternalUnknown InternalName = iota
	// InternalKillScript drives a kill-script runner against the service.
	InternalKillScript
	// InternalExecUnlessRunning starts the service unless it is already
	// running.
	InternalExecUnlessRunning
	// InternalStopStart stops the service then starts it again.
	InternalStopStart
	// InternalWaitForUptime waits until the service has been running
	// continuously for at least its argument's worth of seconds.
	InternalWaitForUptime
)

const (
	internalUnknownStr           = "unknown"
	internalKillScriptStr        = "killscript"
	internalExecUnlessRunningStr = "exec_unless_running"
	internalStopStartStr         = "stop_start"
	internalWaitForUptimeStr     = "wait_for_uptime"
)

// String returns the configuration-facing name of the internal method.
func (n InternalName) String() string {
	switch n {
	case InternalKillScript:
		return internalKillScriptStr
	case InternalExecUnlessRunning:
		return internalExecUnlessRunningStr
	case InternalStopStart:
		return internalStopStartStr
	case InternalWaitForUptime:
		return internalWaitForUptimeStr
	default:
		return internalUnknownStr
	}
}

// ParseInternalName parses the configuration-facing name of an internal
// method.
func ParseInternalName(s string) (InternalName, bool) {
	switch s {
	case internalKillScriptStr:
		return InternalKillScript, true
	case internalExecUnlessRunningStr:
		return InternalExecUnlessRunning, true
	case internalStopStartStr:
		return InternalStopStart, true
	case internalWaitForUptimeStr:
		return InternalWaitForUptime, true
	default:
		return InternalUnknown, false
	}
}

// ArgTokenKind distinguishes a literal exec argument from one that is
// resolved against the service's environment at dispatch time.
type ArgTokenKind int

const (
	// ArgLiteral is a plain, already-resolved string.
	ArgLiteral ArgTokenKind = iota
	// ArgEnvRef names an environment variable to substitute at dispatch
	// time.
	ArgEnvRef
)

// ArgToken is one element of an Exec argv, either a literal string or a
// late-bound reference into the action's resolved environment.
type ArgToken struct {
	Kind  ArgTokenKind
	Value string
}

// Literal builds a literal ArgToken.
func Literal(s string) ArgToken { return ArgToken{Kind: ArgLiteral, Value: s} }

// EnvRef builds an ArgToken that resolves to the named environment
// variable's value at dispatch time.
func EnvRef(name string) ArgToken { return ArgToken{Kind: ArgEnvRef, Value: name} }

// Resolve returns the token's value, looking it up in env when it is an
// environment reference.
func (t ArgToken) Resolve(env map[string]string) string {
	if t.Kind == ArgLiteral {
		return t.Value
	}
	return env[t.Value]
}

// RunSpecKind distinguishes the two RunSpec variants.
type RunSpecKind int

const (
	// RunSpecInternal dispatches to an in-process method.
	RunSpecInternal RunSpecKind = iota
	// RunSpecExec dispatches to a spawner-hosted child process.
	RunSpecExec
)

// RunSpec is a tagged variant: either an internal method invocation or an
// exec-style argv, per the service's action table.
type RunSpec struct {
	Kind RunSpecKind

	// Internal fields, valid when Kind == RunSpecInternal.
	Method InternalName
	Args   []string

	// Exec fields, valid when Kind == RunSpecExec.
	Argv  []ArgToken
	Argv0 *ArgToken
}

// InternalSpec builds an Internal RunSpec.
func InternalSpec(method InternalName, args ...string) RunSpec {
	return RunSpec{Kind: RunSpecInternal, Method: method, Args: args}
}

// ExecSpec builds an Exec RunSpec.
func ExecSpec(argv0 *ArgToken, argv ...ArgToken) RunSpec {
	return RunSpec{Kind: RunSpecExec, Argv: argv, Argv0: argv0}
}

// DefaultKillScript is the stop action's default signal/wait sequence, per
// the configuration facade's built-in overlay.
const DefaultKillScript = "SIGTERM SIGCONT 30 SIGTERM 20 SIGQUIT 5 SIGKILL 20"

// DefaultRunSpec returns the built-in RunSpec for one of the four
// well-known action names, and reports whether name names a built-in.
func DefaultRunSpec(name string) (RunSpec, bool) {
	switch name {
	case "start":
		return InternalSpec(InternalExecUnlessRunning), true
	case "stop":
		return InternalSpec(InternalKillScript, DefaultKillScript), true
	case "restart":
		return InternalSpec(InternalStopStart), true
	case "check":
		return InternalSpec(InternalWaitForUptime, "3"), true
	default:
		return RunSpec{}, false
	}
}

// DefaultGoal returns the goal transition a built-in action applies before
// dispatch, if any.
func DefaultGoal(name string) (Goal, bool) {
	switch name {
	case "restart":
		return GoalCycle, true
	default:
		return GoalUnknown, false
	}
}

// DefaultParallelism returns the built-in parallelism descriptor for a
// well-known action name.
func DefaultParallelism(name string) Parallelism {
	if name == "check" {
		return AllParallel()
	}
	return Parallelism{}
}
