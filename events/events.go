package events

import (
	"encoding/json"
	"time"
)

// Type identifies an event.
type Type string

const (
	AssignmentMade    Type = "assignment_made"
	TaskCompleted     Type = "task_completed"
	TaskFailed        Type = "task_failed"
	TaskCancelled     Type = "task_cancelled"
	AgentOffline      Type = "agent_offline"
	CoordinationFatal Type = "coordination_fatal"
)

// Event is a single observability record.
type Event struct {
	Type      Type
	Timestamp time.Time

	TaskID  string
	AgentID string
	Attempt int

	// Err is set on failures and fatal events.
	Err error

	// Retrying is set on TaskFailed when another attempt will follow.
	Retrying bool

	// Duration of the attempt for TaskCompleted and TaskFailed.
	Duration time.Duration

	// TaskIDs lists affected tasks for AgentOffline and CoordinationFatal.
	TaskIDs []string

	// Reason explains AgentOffline.
	Reason string
}

// wireEvent is the JSON form published on the bus and exported.
type wireEvent struct {
	Type       Type      `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	TaskID     string    `json:"task_id,omitempty"`
	AgentID    string    `json:"agent_id,omitempty"`
	Attempt    int       `json:"attempt,omitempty"`
	Error      string    `json:"error,omitempty"`
	Retrying   bool      `json:"retrying,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	TaskIDs    []string  `json:"task_ids,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

func (e Event) wire() wireEvent {
	w := wireEvent{
		Type:       e.Type,
		Timestamp:  e.Timestamp,
		TaskID:     e.TaskID,
		AgentID:    e.AgentID,
		Attempt:    e.Attempt,
		Retrying:   e.Retrying,
		DurationMS: e.Duration.Milliseconds(),
		TaskIDs:    e.TaskIDs,
		Reason:     e.Reason,
	}
	if e.Err != nil {
		w.Error = e.Err.Error()
	}
	return w
}

// MarshalJSON renders the error as a string.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.wire())
}

// Fields returns the event as a flat map for exporters.
func (e Event) Fields() map[string]interface{} {
	f := map[string]interface{}{}
	if e.TaskID != "" {
		f["task_id"] = e.TaskID
	}
	if e.AgentID != "" {
		f["agent_id"] = e.AgentID
	}
	if e.Attempt > 0 {
		f["attempt"] = e.Attempt
	}
	if e.Err != nil {
		f["error"] = e.Err.Error()
	}
	if e.Type == TaskFailed {
		f["retrying"] = e.Retrying
	}
	if e.Duration > 0 {
		f["duration_ms"] = e.Duration.Milliseconds()
	}
	if len(e.TaskIDs) > 0 {
		f["task_ids"] = e.TaskIDs
	}
	if e.Reason != "" {
		f["reason"] = e.Reason
	}
	return f
}
