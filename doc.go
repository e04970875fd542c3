// Package desd implements the core of a service supervisor that sits behind
// an external process-spawning host ("daemonproxy"). Desd does not fork,
// exec, or wait on children itself; it mirrors a spawner's observed state,
// reduces it toward declared goals, and exposes a control protocol for
// clients to drive imperative actions on supervised services.
//
// The package is organized the way the reconciliation engine is organized:
//
//   - proto implements the framed, tab-delimited wire protocol shared by
//     control clients and the spawner connection.
//   - spawner specializes a protocol endpoint to mirror a spawner's service
//     and signal state and to issue directives against it.
//   - killscript parses and drives interruptible signal/wait sequences used
//     to stop a service.
//   - action serializes per-service operations and resolves them to either
//     an internal routine or an external spawner-driven exec.
//   - reconcile runs the single-threaded convergence loop tying the above
//     together.
//   - config holds the read-only, reload-safe snapshot of declared services.
//
// This root package holds the data model shared across all of them:
// Service, Action, RunSpec, Handle, and Goal.
package desd
