package heartbeat

import (
	"context"
	"testing"
	"time"

	"github.com/vinayprograms/agentcoord/bus"
)

// --- Heartbeat Tests ---

func TestHeartbeat_Marshal(t *testing.T) {
	hb := &Heartbeat{
		AgentID:   "agent-1",
		Timestamp: time.Now(),
		Status:    "busy",
		Load:      3,
		Metadata:  map[string]string{"version": "1.0.0"},
	}

	data, err := hb.Marshal()
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	parsed, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	if parsed.AgentID != hb.AgentID {
		t.Errorf("AgentID = %q, want %q", parsed.AgentID, hb.AgentID)
	}
	if parsed.Load != hb.Load {
		t.Errorf("Load = %d, want %d", parsed.Load, hb.Load)
	}
	if parsed.Metadata["version"] != "1.0.0" {
		t.Errorf("Metadata[version] = %q, want %q", parsed.Metadata["version"], "1.0.0")
	}
}

func TestHeartbeat_Subject(t *testing.T) {
	hb := &Heartbeat{AgentID: "agent-1"}
	if hb.Subject() != "coord.heartbeat.agent-1" {
		t.Errorf("Subject = %q, want %q", hb.Subject(), "coord.heartbeat.agent-1")
	}
	if got := agentFromSubject(hb.Subject()); got != "agent-1" {
		t.Errorf("agentFromSubject = %q, want agent-1", got)
	}
	if got := agentFromSubject("other.agent-1"); got != "" {
		t.Errorf("agentFromSubject(foreign) = %q, want empty", got)
	}
}

func TestUnmarshal_Invalid(t *testing.T) {
	if _, err := Unmarshal([]byte("not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

// --- Sender Tests ---

func TestSenderConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     SenderConfig
		wantErr bool
	}{
		{"valid", SenderConfig{Bus: bus.NewMemoryBus(bus.DefaultConfig()), AgentID: "agent-1"}, false},
		{"missing bus", SenderConfig{AgentID: "agent-1"}, true},
		{"missing agent id", SenderConfig{Bus: bus.NewMemoryBus(bus.DefaultConfig())}, true},
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

func TestBusSender_SendsImmediatelyAndPeriodically(t *testing.T) {
	msgBus := bus.NewMemoryBus(bus.DefaultConfig())
	defer msgBus.Close()

	sub, err := msgBus.Subscribe(SubjectAll)
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	defer sub.Unsubscribe()

	sender, err := NewBusSender(SenderConfig{
		Bus:      msgBus,
		AgentID:  "agent-1",
		Interval: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewBusSender error: %v", err)
	}
	sender.SetStatus("busy")
	sender.SetLoad(-4)
	sender.SetMetadata("zone", "eu")

	if err := sender.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if err := sender.Start(context.Background()); err != ErrAlreadyStarted {
		t.Errorf("second Start error = %v, want ErrAlreadyStarted", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case msg := <-sub.Messages():
			if msg.Subject != Subject("agent-1") {
				t.Errorf("subject = %q", msg.Subject)
			}
			hb, err := Unmarshal(msg.Data)
			if err != nil {
				t.Fatalf("Unmarshal error: %v", err)
			}
			if hb.Status != "busy" || hb.Load != 0 || hb.Metadata["zone"] != "eu" {
				t.Errorf("heartbeat = %+v", hb)
			}
		case <-time.After(time.Second):
			t.Fatalf("heartbeat %d not received", i)
		}
	}

	if err := sender.Stop(); err != nil {
		t.Errorf("Stop error: %v", err)
	}
	if n := sender.Sent(); n < 2 {
		t.Errorf("Sent = %d, want at least 2", n)
	}
	if err := sender.Stop(); err != ErrNotStarted {
		t.Errorf("second Stop error = %v, want ErrNotStarted", err)
	}
}

func TestBusSender_DrivesMonitor(t *testing.T) {
	msgBus := bus.NewMemoryBus(bus.DefaultConfig())
	defer msgBus.Close()

	target := newFakeTarget("agent-1")
	mon, err := NewMonitor(target, DefaultMonitorConfig())
	if err != nil {
		t.Fatalf("NewMonitor error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mon.Run(ctx, msgBus, nil)

	sender, _ := NewBusSender(SenderConfig{Bus: msgBus, AgentID: "agent-1", Interval: 10 * time.Millisecond})
	sender.SetLoad(5)
	if err := sender.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer sender.Stop()

	waitFor(t, func() bool {
		hb := mon.LastHeartbeat("agent-1")
		return hb != nil && hb.Load == 5
	})
	if !mon.IsAlive("agent-1") {
		t.Error("beating agent should be alive")
	}
}
