package core

import (
	"context"
	"errors"
	"testing"

	"gopkg.in/yaml.v3"
)

// lifecycleModule records Start/Stop ordering for App tests.
type lifecycleModule struct {
	id       ModuleID
	events   *[]string
	startErr error
}

func (m *lifecycleModule) ModuleInfo() ModuleInfo {
	id := m.id
	return ModuleInfo{
		ID:  id,
		New: func() Module { return &lifecycleModule{id: id, events: m.events, startErr: m.startErr} },
	}
}

func (m *lifecycleModule) Start() error {
	if m.startErr != nil {
		return m.startErr
	}
	*m.events = append(*m.events, "start:"+string(m.id))
	return nil
}

func (m *lifecycleModule) Stop(_ context.Context) error {
	*m.events = append(*m.events, "stop:"+string(m.id))
	return nil
}

func TestApp_StartStopOrder(t *testing.T) {
	t.Cleanup(resetRegistry)

	var events []string
	RegisterModule(&lifecycleModule{id: "test.first", events: &events})
	RegisterModule(&lifecycleModule{id: "test.second", events: &events})

	app := NewApp(NewAppContext(nil, t.TempDir()))
	order := []ModuleID{"test.first", "test.second"}
	if err := app.LoadModules(order, map[ModuleID]*yaml.Node{}); err != nil {
		t.Fatalf("LoadModules: %v", err)
	}
	if err := app.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	app.Stop()

	want := []string{"start:test.first", "start:test.second", "stop:test.second", "stop:test.first"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("events[%d] = %s, want %s", i, events[i], want[i])
		}
	}
}

func TestApp_StartFailureStopsStarted(t *testing.T) {
	t.Cleanup(resetRegistry)

	var events []string
	RegisterModule(&lifecycleModule{id: "test.ok", events: &events})
	RegisterModule(&lifecycleModule{id: "test.bad", events: &events, startErr: errors.New("start boom")})

	app := NewApp(NewAppContext(nil, t.TempDir()))
	order := []ModuleID{"test.ok", "test.bad"}
	if err := app.LoadModules(order, map[ModuleID]*yaml.Node{}); err != nil {
		t.Fatalf("LoadModules: %v", err)
	}
	err := app.Start()
	if err == nil {
		t.Fatal("expected Start to fail")
	}

	want := []string{"start:test.ok", "stop:test.ok"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
}

func TestApp_Module(t *testing.T) {
	t.Cleanup(resetRegistry)

	var events []string
	RegisterModule(&lifecycleModule{id: "test.lookup", events: &events})

	app := NewApp(NewAppContext(nil, t.TempDir()))
	if err := app.LoadModules([]ModuleID{"test.lookup"}, nil); err != nil {
		t.Fatalf("LoadModules: %v", err)
	}
	if app.Module("test.lookup") == nil {
		t.Error("expected loaded module to be retrievable")
	}
	if app.Module("test.missing") != nil {
		t.Error("expected nil for unknown module")
	}
}

func TestApp_LoadModules_UnknownModule(t *testing.T) {
	t.Cleanup(resetRegistry)

	app := NewApp(NewAppContext(nil, t.TempDir()))
	err := app.LoadModules([]ModuleID{"test.unknown"}, nil)
	if err == nil {
		t.Fatal("expected error for unknown module")
	}
}
