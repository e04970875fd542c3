package proto

import "testing"

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry(EchoEntry())

	entry, ok := reg.Lookup("echo")
	if !ok {
		t.Fatal("expected echo to be registered")
	}
	if entry.Name != "echo" {
		t.Errorf("Name = %q", entry.Name)
	}

	if _, ok := reg.Lookup("frobnicate"); ok {
		t.Error("expected frobnicate to be unregistered")
	}
}

func TestRegistryOverlayPrefersMostDerived(t *testing.T) {
	base := NewRegistry(Entry{
		Name:     "killscript",
		Validate: func(args []string) bool { return true },
		Handle: func(ctx *Context, args []string) (Reply, error) {
			return Terminal("ok", "base"), nil
		},
	})

	overlay := base.Overlay(Entry{
		Name:     "killscript",
		Validate: func(args []string) bool { return true },
		Handle: func(ctx *Context, args []string) (Reply, error) {
			return Terminal("ok", "overlay"), nil
		},
	})

	entry, ok := overlay.Lookup("killscript")
	if !ok {
		t.Fatal("expected killscript registered")
	}
	reply, _ := entry.Handle(nil, nil)
	if reply.fields[1] != "overlay" {
		t.Errorf("overlay did not win: %v", reply.fields)
	}

	// The base registry itself must be unmodified.
	baseEntry, _ := base.Lookup("killscript")
	baseReply, _ := baseEntry.Handle(nil, nil)
	if baseReply.fields[1] != "base" {
		t.Errorf("base registry mutated: %v", baseReply.fields)
	}
}

func TestNewRegistryPanicsOnDuplicate(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate entry")
		}
	}()
	NewRegistry(EchoEntry(), EchoEntry())
}

func TestNewRegistryPanicsOnInvalidName(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on invalid message name")
		}
	}()
	NewRegistry(Entry{Name: "Not-Valid!"})
}
