package config

import (
	"testing"

	"github.com/axondata/desd"
)

func TestBuildOverlaysBuiltinDefaults(t *testing.T) {
	raw := RawConfig{
		Services: []RawService{
			{Name: "web", Goal: desd.GoalUp},
		},
	}

	snap, err := Build(raw)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	svc, ok := snap.Service("web")
	if !ok {
		t.Fatal("expected web service")
	}

	start, ok := svc.Action("start")
	if !ok {
		t.Fatal("expected built-in start action")
	}
	if start.Run.Kind != desd.RunSpecInternal || start.Run.Method != desd.InternalExecUnlessRunning {
		t.Errorf("start.Run = %+v", start.Run)
	}

	stop, ok := svc.Action("stop")
	if !ok {
		t.Fatal("expected built-in stop action")
	}
	if stop.Run.Method != desd.InternalKillScript || len(stop.Run.Args) != 1 || stop.Run.Args[0] != desd.DefaultKillScript {
		t.Errorf("stop.Run = %+v", stop.Run)
	}

	restart, _ := svc.Action("restart")
	if restart.Goal != desd.GoalCycle {
		t.Errorf("restart.Goal = %v, want GoalCycle", restart.Goal)
	}

	check, _ := svc.Action("check")
	if !check.Parallelism.Allows("anything") {
		t.Error("check action should permit all parallelism")
	}
}

func TestBuildUserActionOverridesDefault(t *testing.T) {
	argv0 := desd.Literal("/bin/true")
	raw := RawConfig{
		Services: []RawService{
			{
				Name: "web",
				Actions: []RawAction{
					{Name: "start", Run: ptrRunSpec(desd.ExecSpec(&argv0))},
				},
			},
		},
	}

	snap, err := Build(raw)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	svc, _ := snap.Service("web")
	start, _ := svc.Action("start")
	if start.Run.Kind != desd.RunSpecExec {
		t.Errorf("expected overridden exec run spec, got %+v", start.Run)
	}
}

func TestBuildRejectsInvalidServiceName(t *testing.T) {
	raw := RawConfig{Services: []RawService{{Name: "bad name"}}}
	if _, err := Build(raw); err == nil {
		t.Fatal("expected error for invalid service name")
	}
}

func TestBuildRejectsDuplicateService(t *testing.T) {
	raw := RawConfig{Services: []RawService{{Name: "web"}, {Name: "web"}}}
	if _, err := Build(raw); err == nil {
		t.Fatal("expected error for duplicate service")
	}
}

func TestBuildDefaultsGoalToUp(t *testing.T) {
	raw := RawConfig{Services: []RawService{{Name: "web"}}}
	snap, err := Build(raw)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	svc, _ := snap.Service("web")
	if svc.Goal != desd.GoalUp {
		t.Errorf("Goal = %v, want GoalUp", svc.Goal)
	}
}

func ptrRunSpec(r desd.RunSpec) *desd.RunSpec { return &r }
