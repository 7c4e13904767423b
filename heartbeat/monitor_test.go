package heartbeat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vinayprograms/agentcoord/bus"
	cerrors "github.com/vinayprograms/agentcoord/errors"
	"github.com/vinayprograms/agentcoord/logging"
	"github.com/vinayprograms/agentcoord/registry"
)

// fakeTarget records liveness decisions.
type fakeTarget struct {
	mu      sync.Mutex
	known   map[string]bool
	beats   []string
	offline []string
	removed []string
	reasons []string
}

func newFakeTarget(ids ...string) *fakeTarget {
	f := &fakeTarget{known: make(map[string]bool)}
	for _, id := range ids {
		f.known[id] = true
	}
	return f
}

func (f *fakeTarget) Heartbeat(agentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.known[agentID] {
		return cerrors.UnknownAgent(agentID)
	}
	f.beats = append(f.beats, agentID)
	return nil
}

func (f *fakeTarget) MarkOffline(agentID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = append(f.offline, agentID)
	f.reasons = append(f.reasons, reason)
	return nil
}

func (f *fakeTarget) Unregister(agentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.known, agentID)
	f.removed = append(f.removed, agentID)
	return nil
}

func (f *fakeTarget) snapshot() (beats, offline, removed []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.beats...),
		append([]string(nil), f.offline...),
		append([]string(nil), f.removed...)
}

// manualClock is a settable clock.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

func newTestMonitor(t *testing.T, target Target, cfg MonitorConfig) (*Monitor, *manualClock) {
	t.Helper()
	clock := &manualClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	m, err := NewMonitor(target, cfg, WithClock(clock.Now), WithLogger(logging.Discard()))
	if err != nil {
		t.Fatalf("NewMonitor error: %v", err)
	}
	return m, clock
}

// --- Config Tests ---

func TestMonitorConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     MonitorConfig
		wantErr bool
	}{
		{"defaults", DefaultMonitorConfig(), false},
		{"zero value", MonitorConfig{}, false},
		{"removal disabled", MonitorConfig{Interval: time.Second, OfflineAfterMisses: 3}, false},
		{"negative interval", MonitorConfig{Interval: -time.Second}, true},
		{"negative misses", MonitorConfig{OfflineAfterMisses: -1}, true},
		{"remove before offline", MonitorConfig{OfflineAfterMisses: 5, RemoveAfterMisses: 2}, true},
		{"remove with offline", MonitorConfig{OfflineAfterMisses: 3, RemoveAfterMisses: 3}, true},
		{"remove within default offline", MonitorConfig{RemoveAfterMisses: 3}, true},
		{"remove after offline", MonitorConfig{OfflineAfterMisses: 3, RemoveAfterMisses: 4}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewMonitor_NilTarget(t *testing.T) {
	if _, err := NewMonitor(nil, DefaultMonitorConfig()); err != ErrInvalidConfig {
		t.Errorf("NewMonitor(nil) error = %v, want ErrInvalidConfig", err)
	}
}

// --- Threshold Tests ---

func TestMonitor_MissThresholds(t *testing.T) {
	target := newFakeTarget("a1")
	m, clock := newTestMonitor(t, target, MonitorConfig{
		Interval:           time.Second,
		OfflineAfterMisses: 3,
		RemoveAfterMisses:  6,
	})

	if err := m.Beat(&Heartbeat{AgentID: "a1"}); err != nil {
		t.Fatalf("Beat error: %v", err)
	}

	m.Check(clock.Advance(2 * time.Second))
	if _, offline, _ := target.snapshot(); len(offline) != 0 {
		t.Errorf("offline after 2 misses: %v", offline)
	}
	if got := m.Misses("a1"); got != 2 {
		t.Errorf("Misses = %d, want 2", got)
	}

	m.Check(clock.Advance(time.Second))
	_, offline, _ := target.snapshot()
	if len(offline) != 1 || offline[0] != "a1" {
		t.Fatalf("offline after 3 misses = %v, want [a1]", offline)
	}
	if target.reasons[0] != ReasonMissed {
		t.Errorf("reason = %q, want %q", target.reasons[0], ReasonMissed)
	}
	if m.IsAlive("a1") {
		t.Error("agent should not be alive past the offline threshold")
	}

	// Reported once per outage.
	m.Check(clock.Advance(time.Second))
	if _, offline, _ := target.snapshot(); len(offline) != 1 {
		t.Errorf("offline reported %d times, want 1", len(offline))
	}

	m.Check(clock.Advance(2 * time.Second))
	_, _, removed := target.snapshot()
	if len(removed) != 1 || removed[0] != "a1" {
		t.Errorf("removed after 6 misses = %v, want [a1]", removed)
	}
	if m.LastHeartbeat("a1") != nil {
		t.Error("removed agent should no longer be tracked")
	}
}

func TestMonitor_BeatRecoversOfflineAgent(t *testing.T) {
	target := newFakeTarget("a1")
	m, clock := newTestMonitor(t, target, MonitorConfig{Interval: time.Second, OfflineAfterMisses: 2})

	m.Track("a1")
	m.Check(clock.Advance(2 * time.Second))
	if m.IsAlive("a1") {
		t.Fatal("tracked agent that never beat should go offline")
	}

	if err := m.Beat(&Heartbeat{AgentID: "a1", Load: 2}); err != nil {
		t.Fatalf("Beat error: %v", err)
	}
	if !m.IsAlive("a1") {
		t.Error("beat should bring the agent back")
	}
	if got := m.Misses("a1"); got != 0 {
		t.Errorf("Misses after beat = %d, want 0", got)
	}
	if hb := m.LastHeartbeat("a1"); hb == nil || hb.Load != 2 {
		t.Errorf("LastHeartbeat = %+v", hb)
	}

	// A second outage is reported again.
	m.Check(clock.Advance(2 * time.Second))
	if _, offline, _ := target.snapshot(); len(offline) != 2 {
		t.Errorf("offline reports = %v, want 2", offline)
	}
}

func TestMonitor_RemovalDisabled(t *testing.T) {
	target := newFakeTarget("a1")
	m, clock := newTestMonitor(t, target, MonitorConfig{Interval: time.Second, OfflineAfterMisses: 1})

	m.Track("a1")
	m.Check(clock.Advance(time.Hour))
	if _, _, removed := target.snapshot(); len(removed) != 0 {
		t.Errorf("removed = %v with removal disabled", removed)
	}
}

func TestMonitor_UnknownAgentBeatRejected(t *testing.T) {
	target := newFakeTarget()
	m, _ := newTestMonitor(t, target, DefaultMonitorConfig())

	err := m.Beat(&Heartbeat{AgentID: "ghost"})
	if !cerrors.Is(err, cerrors.ErrCodeUnknownAgent) {
		t.Errorf("Beat(ghost) error = %v, want UNKNOWN_AGENT", err)
	}
	if m.IsAlive("ghost") {
		t.Error("rejected agent should not be tracked")
	}
}

func TestMonitor_Callbacks(t *testing.T) {
	target := newFakeTarget("a1", "a2")
	m, clock := newTestMonitor(t, target, MonitorConfig{
		Interval:           time.Second,
		OfflineAfterMisses: 1,
		RemoveAfterMisses:  2,
	})

	var offline, removed []string
	m.OnOffline(func(id string) { offline = append(offline, id) })
	m.OnRemoved(func(id string) { removed = append(removed, id) })

	m.Track("a2")
	m.Track("a1")
	m.Check(clock.Advance(time.Second))
	if len(offline) != 2 || offline[0] != "a1" || offline[1] != "a2" {
		t.Errorf("offline callbacks = %v, want [a1 a2]", offline)
	}

	m.Check(clock.Advance(time.Second))
	if len(removed) != 2 {
		t.Errorf("removed callbacks = %v, want 2", removed)
	}
}

// --- Run Tests ---

func TestMonitor_RunConsumesBusAndRegistry(t *testing.T) {
	msgBus := bus.NewMemoryBus(bus.DefaultConfig())
	defer msgBus.Close()

	reg := registry.NewMemoryRegistry()
	defer reg.Close()
	if err := reg.Register(registry.Registration{ID: "a1"}); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	target := newFakeTarget("a1", "a2")
	m, err := NewMonitor(target, MonitorConfig{
		Interval:           time.Hour,
		OfflineAfterMisses: 3,
	}, WithLogger(logging.Discard()))
	if err != nil {
		t.Fatalf("NewMonitor error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, msgBus, reg) }()

	waitFor(t, func() bool { return m.IsAlive("a1") })

	if err := reg.Register(registry.Registration{ID: "a2"}); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	waitFor(t, func() bool { return m.IsAlive("a2") })

	// AgentID missing from the payload is taken from the subject.
	msgBus.Publish(Subject("a2"), []byte(`{"load":4}`))
	waitFor(t, func() bool {
		hb := m.LastHeartbeat("a2")
		return hb != nil && hb.Load == 4
	})

	if err := reg.Unregister("a2"); err != nil {
		t.Fatalf("Unregister error: %v", err)
	}
	waitFor(t, func() bool { return !m.IsAlive("a2") })

	if err := m.Run(ctx, nil, nil); err != ErrAlreadyStarted {
		t.Errorf("second Run error = %v, want ErrAlreadyStarted", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	beats, _, _ := target.snapshot()
	if len(beats) != 1 || beats[0] != "a2" {
		t.Errorf("target beats = %v, want [a2]", beats)
	}
}

func TestMonitor_RunChecksOnTicker(t *testing.T) {
	target := newFakeTarget("a1")
	m, err := NewMonitor(target, MonitorConfig{
		Interval:           10 * time.Millisecond,
		OfflineAfterMisses: 2,
		CheckInterval:      5 * time.Millisecond,
	}, WithLogger(logging.Discard()))
	if err != nil {
		t.Fatalf("NewMonitor error: %v", err)
	}
	m.Track("a1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx, nil, nil)

	waitFor(t, func() bool {
		_, offline, _ := target.snapshot()
		return len(offline) == 1
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}
