package action

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
)

// Marker writes a diagnostic, atomically-replaced record of which action
// is currently active on each service, so a desd restart can log what was
// interrupted mid-run. It is purely informational: the reconciler never
// reads it back, per spec.md §1's Non-goal that Desd does not persist
// reconciliation state across restarts (this is diagnostic data about the
// action executor, not reconciliation state).
//
// Grounded on the teacher's atomic status-file writes (manager_test.go,
// integration_crash_test.go) via renameio.WriteFile, adapted from "write a
// service's supervise/status file" to "record the active action per
// service".
type Marker struct {
	dir string
}

// NewMarker returns a Marker writing under dir. It does not create dir;
// callers should ensure it exists (e.g. the run directory the CLI already
// creates for the control socket).
func NewMarker(dir string) *Marker {
	return &Marker{dir: dir}
}

func (m *Marker) path(service string) string {
	return filepath.Join(m.dir, service+".active")
}

// Mark records that action is now active on service.
func (m *Marker) Mark(service, action string) {
	if m == nil || m.dir == "" {
		return
	}
	line := fmt.Sprintf("%s\t%s\t%s\n", service, action, time.Now().UTC().Format(time.RFC3339))
	_ = renameio.WriteFile(m.path(service), []byte(line), 0o644)
}

// Clear removes service's marker once its active action terminates.
func (m *Marker) Clear(service string) {
	if m == nil || m.dir == "" {
		return
	}
	_ = os.Remove(m.path(service))
}
