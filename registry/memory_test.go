package registry

import (
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"sync"
	"testing"
	"time"
)

// --- Unit Tests ---

func TestAgent_Satisfies(t *testing.T) {
	tests := []struct {
		name     string
		caps     []string
		required []string
		want     bool
	}{
		{"empty caps accept anything", nil, []string{"sql"}, true},
		{"no requirement", []string{"sql"}, nil, true},
		{"superset", []string{"llm", "sql"}, []string{"sql"}, true},
		{"exact", []string{"llm", "sql"}, []string{"llm", "sql"}, true},
		{"missing one", []string{"sql"}, []string{"llm", "sql"}, false},
		{"disjoint", []string{"llm"}, []string{"sql"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Agent{ID: "a", Capabilities: normalizeCapabilities(tt.caps)}
			if got := a.Satisfies(tt.required); got != tt.want {
				t.Errorf("Satisfies(%v) = %v, want %v", tt.required, got, tt.want)
			}
		})
	}
}

func TestValidateRegistration(t *testing.T) {
	if _, err := ValidateRegistration(Registration{}); !errors.Is(err, ErrInvalidID) {
		t.Errorf("empty ID: got %v, want ErrInvalidID", err)
	}

	caps, err := ValidateRegistration(Registration{ID: "a", Capabilities: []string{"sql", "", "llm", "sql"}})
	if err != nil {
		t.Fatalf("ValidateRegistration error: %v", err)
	}
	if want := []string{"llm", "sql"}; !reflect.DeepEqual(caps, want) {
		t.Errorf("capabilities = %v, want %v", caps, want)
	}
}

func TestState_Routable(t *testing.T) {
	for _, s := range []State{StateIdle, StateBusy} {
		if !s.Routable() {
			t.Errorf("%s should be routable", s)
		}
	}
	for _, s := range []State{StateDraining, StateOffline} {
		if s.Routable() {
			t.Errorf("%s should not be routable", s)
		}
	}
	if State("weird").Valid() {
		t.Error("unknown state should be invalid")
	}
}

// --- Registry Tests ---

func TestMemoryRegistry_RegisterDuplicate(t *testing.T) {
	reg := NewMemoryRegistry()
	defer reg.Close()

	if err := reg.Register(Registration{ID: "a1"}); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	err := reg.Register(Registration{ID: "a1"})
	if !errors.Is(err, ErrDuplicateAgent) {
		t.Errorf("second Register: got %v, want ErrDuplicateAgent", err)
	}

	agent, err := reg.Get("a1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if agent.State != StateIdle || agent.Load != 0 {
		t.Errorf("new agent = %+v, want idle with zero load", agent)
	}
}

func TestMemoryRegistry_UnregisterIdempotent(t *testing.T) {
	reg := NewMemoryRegistry()
	defer reg.Close()

	reg.Register(Registration{ID: "a1"})
	reg.Register(Registration{ID: "a2"})

	if err := reg.Unregister("a1"); err != nil {
		t.Fatalf("Unregister error: %v", err)
	}
	once := reg.Snapshot()

	if err := reg.Unregister("a1"); err != nil {
		t.Fatalf("second Unregister error: %v", err)
	}
	twice := reg.Snapshot()

	if !reflect.DeepEqual(once.Agents, twice.Agents) {
		t.Errorf("state differs after second unregister: %v vs %v", once.Agents, twice.Agents)
	}
	if err := reg.Unregister("never-existed"); err != nil {
		t.Errorf("Unregister of unknown id: %v", err)
	}
}

func TestMemoryRegistry_NeverReportsUnregistered(t *testing.T) {
	reg := NewMemoryRegistry()
	defer reg.Close()

	rng := rand.New(rand.NewSource(7))
	lastOp := make(map[string]string)

	for i := 0; i < 500; i++ {
		id := fmt.Sprintf("a%d", rng.Intn(10))
		if rng.Intn(2) == 0 {
			if err := reg.Register(Registration{ID: id}); err == nil || errors.Is(err, ErrDuplicateAgent) {
				lastOp[id] = "register"
			}
		} else {
			reg.Unregister(id)
			lastOp[id] = "unregister"
		}

		for _, a := range reg.Snapshot().Agents {
			if lastOp[a.ID] == "unregister" {
				t.Fatalf("step %d: snapshot reports %s after unregister", i, a.ID)
			}
		}
		for id, op := range lastOp {
			if op == "unregister" && reg.Contains(id) {
				t.Fatalf("step %d: Contains(%s) after unregister", i, id)
			}
		}
	}
}

func TestMemoryRegistry_UpdateLoad(t *testing.T) {
	reg := NewMemoryRegistry()
	defer reg.Close()

	if err := reg.UpdateLoad("ghost", 1); !errors.Is(err, ErrUnknownAgent) {
		t.Errorf("UpdateLoad unknown: got %v, want ErrUnknownAgent", err)
	}

	reg.Register(Registration{ID: "a1"})

	reg.UpdateLoad("a1", 1)
	a, _ := reg.Get("a1")
	if a.Load != 1 || a.State != StateBusy {
		t.Errorf("after +1: %+v, want load 1 busy", a)
	}

	reg.UpdateLoad("a1", -1)
	a, _ = reg.Get("a1")
	if a.Load != 0 || a.State != StateIdle {
		t.Errorf("after -1: %+v, want load 0 idle", a)
	}

	if err := reg.UpdateLoad("a1", -1); err == nil {
		t.Error("negative load should be rejected")
	}
}

func TestMemoryRegistry_StateNotOverriddenByLoad(t *testing.T) {
	reg := NewMemoryRegistry()
	defer reg.Close()

	reg.Register(Registration{ID: "a1"})
	reg.SetState("a1", StateDraining)
	reg.UpdateLoad("a1", 1)

	a, _ := reg.Get("a1")
	if a.State != StateDraining {
		t.Errorf("state = %s, want draining", a.State)
	}

	// Re-activating normalizes against load
	reg.SetState("a1", StateIdle)
	a, _ = reg.Get("a1")
	if a.State != StateBusy {
		t.Errorf("state = %s, want busy (load 1)", a.State)
	}

	if err := reg.SetState("a1", State("bogus")); err == nil {
		t.Error("invalid state should be rejected")
	}
}

func TestMemoryRegistry_SnapshotIsolation(t *testing.T) {
	reg := NewMemoryRegistry()
	defer reg.Close()

	reg.Register(Registration{ID: "b", Capabilities: []string{"x"}})
	reg.Register(Registration{ID: "a"})

	snap := reg.Snapshot()
	if snap.Len() != 2 || snap.Agents[0].ID != "a" || snap.Agents[1].ID != "b" {
		t.Fatalf("snapshot not sorted by id: %+v", snap.Agents)
	}

	snap.Agents[1].Capabilities[0] = "mutated"
	reg.UpdateLoad("a", 3)

	if snap.Agents[0].Load != 0 {
		t.Error("snapshot should not observe later mutation")
	}
	b, _ := reg.Get("b")
	if b.Capabilities[0] != "x" {
		t.Error("mutating a snapshot should not affect the registry")
	}
	if got, ok := snap.Get("b"); !ok || got.ID != "b" {
		t.Error("Snapshot.Get should find b")
	}
	if _, ok := snap.Get("zzz"); ok {
		t.Error("Snapshot.Get should miss unknown id")
	}
}

func TestMemoryRegistry_Touch(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	reg := NewMemoryRegistry(WithClock(func() time.Time { return base }))
	defer reg.Close()

	reg.Register(Registration{ID: "a1"})
	reg.Touch("a1", base.Add(time.Minute))
	reg.Touch("a1", base.Add(time.Second)) // older beats are ignored

	a, _ := reg.Get("a1")
	if !a.LastHeartbeat.Equal(base.Add(time.Minute)) {
		t.Errorf("LastHeartbeat = %v", a.LastHeartbeat)
	}
	if err := reg.Touch("ghost", base); !errors.Is(err, ErrUnknownAgent) {
		t.Errorf("Touch unknown: %v", err)
	}
}

func TestMemoryRegistry_Watch(t *testing.T) {
	reg := NewMemoryRegistry()

	events, err := reg.Watch()
	if err != nil {
		t.Fatalf("Watch error: %v", err)
	}

	reg.Register(Registration{ID: "a1"})
	reg.UpdateLoad("a1", 1)
	reg.Unregister("a1")

	want := []EventType{EventAdded, EventUpdated, EventRemoved}
	for _, w := range want {
		select {
		case ev := <-events:
			if ev.Type != w || ev.Agent.ID != "a1" {
				t.Errorf("event = %+v, want %s for a1", ev, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %s", w)
		}
	}

	reg.Close()
	if _, ok := <-events; ok {
		t.Error("watch channel should close on Close")
	}
	if err := reg.Register(Registration{ID: "a2"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Register after Close: %v", err)
	}
}

func TestMemoryRegistry_ConcurrentLoad(t *testing.T) {
	reg := NewMemoryRegistry()
	defer reg.Close()
	reg.Register(Registration{ID: "a1"})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reg.UpdateLoad("a1", 1)
			reg.Snapshot()
			reg.UpdateLoad("a1", -1)
		}()
	}
	wg.Wait()

	a, _ := reg.Get("a1")
	if a.Load != 0 {
		t.Errorf("load = %d, want 0", a.Load)
	}
}
