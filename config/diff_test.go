package config

import (
	"testing"

	"github.com/axondata/desd"
)

func buildOne(t *testing.T, name string, io []string) *Snapshot {
	t.Helper()
	snap, err := Build(RawConfig{Services: []RawService{{Name: name, IO: io}}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return snap
}

func TestDiffAddedRemoved(t *testing.T) {
	old := buildOne(t, "web", nil)
	next, err := Build(RawConfig{Services: []RawService{{Name: "db"}}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	plan := Diff(old, next)
	if len(plan.Added) != 1 || plan.Added[0] != "db" {
		t.Errorf("Added = %v", plan.Added)
	}
	if len(plan.Removed) != 1 || plan.Removed[0] != "web" {
		t.Errorf("Removed = %v", plan.Removed)
	}
}

func TestDiffUnchangedWhenRunAndIOIdentical(t *testing.T) {
	old := buildOne(t, "web", []string{"stdout-log"})
	next := buildOne(t, "web", []string{"stdout-log"})

	plan := Diff(old, next)
	if len(plan.Changed) != 0 {
		t.Errorf("Changed = %v, want none", plan.Changed)
	}
	if len(plan.Unchanged) != 1 || plan.Unchanged[0] != "web" {
		t.Errorf("Unchanged = %v", plan.Unchanged)
	}
}

func TestDiffChangedWhenIODiffers(t *testing.T) {
	old := buildOne(t, "web", []string{"stdout-log"})
	next := buildOne(t, "web", []string{"stderr-log"})

	plan := Diff(old, next)
	if len(plan.Changed) != 1 || plan.Changed[0] != "web" {
		t.Errorf("Changed = %v", plan.Changed)
	}
}

func TestDiffChangedWhenStartRunSpecDiffers(t *testing.T) {
	argv0 := desd.Literal("/bin/true")
	old := buildOne(t, "web", nil)
	next, err := Build(RawConfig{Services: []RawService{
		{
			Name: "web",
			Actions: []RawAction{
				{Name: "start", Run: ptrRunSpec(desd.ExecSpec(&argv0))},
			},
		},
	}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	plan := Diff(old, next)
	if len(plan.Changed) != 1 || plan.Changed[0] != "web" {
		t.Errorf("Changed = %v", plan.Changed)
	}
}

func TestDiffNilSnapshots(t *testing.T) {
	plan := Diff(nil, nil)
	if len(plan.Added)+len(plan.Removed)+len(plan.Changed)+len(plan.Unchanged) != 0 {
		t.Errorf("expected empty plan, got %+v", plan)
	}
}
