// Package killscript parses and drives the kill-script runner described in
// spec.md §4.5: an interruptible sequence of "send this signal" and "wait
// this long" steps used to stop one service.
package killscript

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// FieldPattern is the wire grammar for an entire KillScript field: one or
// more tokens separated by single spaces, each either a SIG-prefixed signal
// name or an (optionally fractional) decimal duration; the pattern admits a
// zero duration, which Parse then rejects as not positive. Note that this
// grammar does not itself enforce alternation between signal and duration
// tokens — spec.md's default stop script ("SIGTERM SIGCONT 30 ...") sends
// two signals back to back before its first wait, so Parse treats each
// token independently rather than assuming strict alternation.
var FieldPattern = regexp.MustCompile(`^(SIG\w+|\d+(\.\d+)?)( (SIG\w+|\d+(\.\d+)?))*$`)

var tokenPattern = regexp.MustCompile(`^(SIG[A-Z0-9]+|\d+(\.\d+)?)$`)

// StepKind distinguishes a signal-send step from a wait step.
type StepKind int

const (
	// StepSend sends a signal to the service's current PID.
	StepSend StepKind = iota
	// StepWait arms a timer racing the spawner's reap notification.
	StepWait
)

// Step is one element of a parsed Script.
type Step struct {
	Kind     StepKind
	Signal   string
	Duration time.Duration

	// raw preserves the original token text so String can round-trip
	// byte-for-byte (spec.md §8: parse(serialize(s)) == s) without
	// reformatting a duration like "30" into "30s" or "30.0".
	raw string
}

// Script is a parsed, ordered sequence of kill-script steps.
type Script []Step

// String renders the script back to its wire form.
func (s Script) String() string {
	raws := make([]string, len(s))
	for i, step := range s {
		raws[i] = step.raw
	}
	return strings.Join(raws, " ")
}

// Parse validates field against FieldPattern and decodes it into a Script.
func Parse(field string) (Script, error) {
	if !FieldPattern.MatchString(field) {
		return nil, fmt.Errorf("killscript: invalid script %q", field)
	}

	tokens := strings.Fields(field)
	script := make(Script, 0, len(tokens))
	for _, tok := range tokens {
		if !tokenPattern.MatchString(tok) {
			return nil, fmt.Errorf("killscript: invalid token %q", tok)
		}
		if strings.HasPrefix(tok, "SIG") {
			script = append(script, Step{Kind: StepSend, Signal: tok, raw: tok})
			continue
		}
		seconds, err := strconv.ParseFloat(tok, 64)
		if err != nil || seconds <= 0 {
			return nil, fmt.Errorf("killscript: invalid duration %q", tok)
		}
		script = append(script, Step{
			Kind:     StepWait,
			Duration: time.Duration(seconds * float64(time.Second)),
			raw:      tok,
		})
	}
	return script, nil
}
