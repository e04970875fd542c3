package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/axondata/desd"
	"github.com/axondata/desd/config"
)

// fileConfig is the on-disk shape loadConfig decodes. It stands in for the
// already-decoded configuration value spec.md §1/§6 says desd receives
// from an external loader; this module never parses YAML; encoding/json
// is used here only as a concrete, buildable substitute for that external
// boundary.
type fileConfig struct {
	Handles  []fileHandle  `json:"handles,omitempty"`
	Services []fileService `json:"services"`
}

type fileHandle struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

type fileService struct {
	Name    string             `json:"name"`
	Env     map[string]*string `json:"env,omitempty"`
	IO      []string           `json:"io,omitempty"`
	Goal    string             `json:"goal"`
	Actions []fileAction       `json:"actions,omitempty"`
}

type fileAction struct {
	Name        string             `json:"name"`
	Run         *fileRunSpec       `json:"run,omitempty"`
	Env         map[string]*string `json:"env,omitempty"`
	Goal        string             `json:"goal,omitempty"`
	Parallelism []string           `json:"parallelism,omitempty"`
	Tokens      []string           `json:"tokens,omitempty"`
}

// fileRunSpec carries either Internal (a built-in method name plus its
// args) or Argv/Argv0 (an exec-style command line). An Argv element
// prefixed with "$" resolves to an environment variable at dispatch time,
// per desd.EnvRef; anything else is a literal.
type fileRunSpec struct {
	Internal string   `json:"internal,omitempty"`
	Args     []string `json:"args,omitempty"`
	Argv0    string   `json:"argv0,omitempty"`
	Argv     []string `json:"argv,omitempty"`
}

func loadConfig(path string) (config.RawConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return config.RawConfig{}, err
	}
	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return config.RawConfig{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return fc.toRaw()
}

func (fc fileConfig) toRaw() (config.RawConfig, error) {
	var raw config.RawConfig
	for _, h := range fc.Handles {
		kind, ok := parseHandleKind(h.Kind)
		if !ok {
			return config.RawConfig{}, fmt.Errorf("config: handle %q: unknown kind %q", h.Name, h.Kind)
		}
		raw.Handles = append(raw.Handles, desd.Handle{Name: h.Name, Kind: kind})
	}
	for _, s := range fc.Services {
		rs, err := s.toRaw()
		if err != nil {
			return config.RawConfig{}, err
		}
		raw.Services = append(raw.Services, rs)
	}
	return raw, nil
}

func (s fileService) toRaw() (config.RawService, error) {
	goal, ok := desd.ParseGoal(s.Goal)
	if !ok {
		return config.RawService{}, fmt.Errorf("config: service %q: unknown goal %q", s.Name, s.Goal)
	}
	rs := config.RawService{Name: s.Name, Env: s.Env, IO: s.IO, Goal: goal}
	for _, a := range s.Actions {
		ra, err := a.toRaw()
		if err != nil {
			return config.RawService{}, fmt.Errorf("config: service %q: %w", s.Name, err)
		}
		rs.Actions = append(rs.Actions, ra)
	}
	return rs, nil
}

func (a fileAction) toRaw() (config.RawAction, error) {
	ra := config.RawAction{Name: a.Name, Env: a.Env, Tokens: a.Tokens}

	if a.Goal != "" {
		goal, ok := desd.ParseGoal(a.Goal)
		if !ok {
			return config.RawAction{}, fmt.Errorf("action %q: unknown goal %q", a.Name, a.Goal)
		}
		ra.Goal = goal
	}

	switch {
	case len(a.Parallelism) == 1 && a.Parallelism[0] == "*":
		ra.Parallelism = desd.AllParallel()
	case len(a.Parallelism) > 0:
		ra.Parallelism = desd.WithParallel(a.Parallelism...)
	}

	if a.Run != nil {
		run, err := a.Run.toRaw()
		if err != nil {
			return config.RawAction{}, fmt.Errorf("action %q: %w", a.Name, err)
		}
		ra.Run = &run
	}
	return ra, nil
}

func (r fileRunSpec) toRaw() (desd.RunSpec, error) {
	if r.Internal != "" {
		method, ok := desd.ParseInternalName(r.Internal)
		if !ok {
			return desd.RunSpec{}, fmt.Errorf("unknown internal method %q", r.Internal)
		}
		return desd.InternalSpec(method, r.Args...), nil
	}

	argv := make([]desd.ArgToken, len(r.Argv))
	for i, tok := range r.Argv {
		argv[i] = parseArgToken(tok)
	}
	var argv0 *desd.ArgToken
	if r.Argv0 != "" {
		tok := parseArgToken(r.Argv0)
		argv0 = &tok
	}
	return desd.ExecSpec(argv0, argv...), nil
}

func parseArgToken(s string) desd.ArgToken {
	if strings.HasPrefix(s, "$") {
		return desd.EnvRef(strings.TrimPrefix(s, "$"))
	}
	return desd.Literal(s)
}

func parseHandleKind(s string) (desd.HandleKind, bool) {
	switch s {
	case "null":
		return desd.HandleNull, true
	case "log":
		return desd.HandleLog, true
	case "pipe":
		return desd.HandlePipeEndpoint, true
	case "tcp-listener":
		return desd.HandleTCPListener, true
	case "udp-socket":
		return desd.HandleUDPSocket, true
	case "file":
		return desd.HandleFileOpen, true
	case "inherited-fd":
		return desd.HandleInheritedFD, true
	default:
		return desd.HandleUnknown, false
	}
}
