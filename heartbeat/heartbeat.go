package heartbeat

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/vinayprograms/agentcoord/bus"
	cerrors "github.com/vinayprograms/agentcoord/errors"
	"github.com/vinayprograms/agentcoord/logging"
)

// Common errors.
var (
	ErrAlreadyStarted = cerrors.InvalidInput("heartbeat already started")
	ErrNotStarted     = cerrors.InvalidInput("heartbeat not started")
	ErrInvalidConfig  = cerrors.InvalidInput("invalid heartbeat configuration")
)

// Subject returns the subject an agent publishes heartbeats on.
func Subject(agentID string) string {
	return bus.SubjectHeartbeat + "." + agentID
}

// SubjectAll matches every agent's heartbeat subject.
const SubjectAll = bus.SubjectHeartbeat + ".>"

// Heartbeat is a single liveness signal from an agent.
type Heartbeat struct {
	AgentID   string    `json:"agent_id"`
	Timestamp time.Time `json:"timestamp"`

	// Status is the agent's own view, e.g. "idle" or "busy". Advisory only;
	// the coordinator's registry stays authoritative.
	Status string `json:"status,omitempty"`

	// Load is the number of tasks the agent believes it is running.
	Load int `json:"load"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// Marshal serializes a heartbeat to JSON.
func (h *Heartbeat) Marshal() ([]byte, error) {
	return json.Marshal(h)
}

// Unmarshal deserializes a heartbeat from JSON.
func Unmarshal(data []byte) (*Heartbeat, error) {
	var h Heartbeat
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, cerrors.Wrap(err, "decode heartbeat")
	}
	return &h, nil
}

// Subject returns the subject for this heartbeat.
func (h *Heartbeat) Subject() string {
	return Subject(h.AgentID)
}

// agentFromSubject extracts the agent ID from a heartbeat subject.
func agentFromSubject(subject string) string {
	prefix := bus.SubjectHeartbeat + "."
	if !strings.HasPrefix(subject, prefix) {
		return ""
	}
	return strings.TrimPrefix(subject, prefix)
}

// SenderConfig configures a heartbeat sender.
type SenderConfig struct {
	// Bus is the message bus for publishing heartbeats.
	Bus bus.MessageBus

	// AgentID is the unique identifier for this agent.
	AgentID string

	// Interval between heartbeats.
	// Default: 5 seconds
	Interval time.Duration

	// InitialStatus is the starting status.
	// Default: "idle"
	InitialStatus string

	// Logger receives publish failures. Nil discards them.
	Logger *logging.Logger
}

// Validate checks the configuration.
func (c *SenderConfig) Validate() error {
	if c.Bus == nil || c.AgentID == "" {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultSenderConfig returns configuration with sensible defaults.
func DefaultSenderConfig() SenderConfig {
	return SenderConfig{
		Interval:      5 * time.Second,
		InitialStatus: "idle",
	}
}

// MonitorConfig configures a miss-threshold monitor.
type MonitorConfig struct {
	// Interval is the expected time between heartbeats.
	// Default: 5 seconds
	Interval time.Duration

	// OfflineAfterMisses consecutive missed intervals take the agent offline.
	// Default: 3
	OfflineAfterMisses int

	// RemoveAfterMisses consecutive missed intervals unregister the agent.
	// Zero disables removal.
	// Default: 12
	RemoveAfterMisses int

	// CheckInterval is how often Run evaluates misses.
	// Default: Interval
	CheckInterval time.Duration
}

// Validate checks the configuration. Removal, when enabled, must come
// strictly after the agent was taken offline, using the default offline
// threshold when OfflineAfterMisses is zero.
func (c *MonitorConfig) Validate() error {
	switch {
	case c.Interval < 0 || c.CheckInterval < 0:
		return ErrInvalidConfig
	case c.OfflineAfterMisses < 0 || c.RemoveAfterMisses < 0:
		return ErrInvalidConfig
	}

	offline := c.OfflineAfterMisses
	if offline == 0 {
		offline = DefaultMonitorConfig().OfflineAfterMisses
	}
	if c.RemoveAfterMisses > 0 && c.RemoveAfterMisses <= offline {
		return cerrors.InvalidInput("remove_after_misses must exceed offline_after_misses")
	}
	return nil
}

// DefaultMonitorConfig returns configuration with sensible defaults.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:           5 * time.Second,
		OfflineAfterMisses: 3,
		RemoveAfterMisses:  12,
	}
}
