package tasks

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the current state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAssigned  Status = "assigned"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// IsActive returns true if the task is bound to an agent.
func (s Status) IsActive() bool {
	return s == StatusAssigned || s == StatusRunning
}

// Spec describes a task to be submitted.
type Spec struct {
	// Payload is opaque to the coordination core.
	Payload any

	// Priority orders work; higher is more urgent.
	Priority int

	// RequiredCapabilities must all be served by the chosen agent.
	RequiredCapabilities []string

	// Timeout overrides the executor's default per-task timeout.
	Timeout time.Duration

	// ReplyTo names an agent whose mailbox receives the final result.
	ReplyTo string

	// Metadata contains additional key-value pairs.
	Metadata map[string]string
}

// Task represents a unit of work.
type Task struct {
	ID                   string
	Payload              any
	Priority             int
	RequiredCapabilities []string
	Timeout              time.Duration
	ReplyTo              string
	Metadata             map[string]string

	Status   Status
	Attempts int

	// AgentID is the agent of the current or last attempt.
	AgentID string

	Result any
	Err    error

	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// New creates a pending task from a spec with a fresh ID.
func New(spec Spec) *Task {
	t := &Task{
		ID:                   uuid.NewString(),
		Payload:              spec.Payload,
		Priority:             spec.Priority,
		RequiredCapabilities: append([]string(nil), spec.RequiredCapabilities...),
		Timeout:              spec.Timeout,
		ReplyTo:              spec.ReplyTo,
		Status:               StatusPending,
		CreatedAt:            time.Now(),
	}
	if spec.Metadata != nil {
		t.Metadata = make(map[string]string, len(spec.Metadata))
		for k, v := range spec.Metadata {
			t.Metadata[k] = v
		}
	}
	return t
}

// Spec returns the spec the task was created from. Used to derive sibling
// tasks from a template.
func (t *Task) Spec() Spec {
	return Spec{
		Payload:              t.Payload,
		Priority:             t.Priority,
		RequiredCapabilities: append([]string(nil), t.RequiredCapabilities...),
		Timeout:              t.Timeout,
		ReplyTo:              t.ReplyTo,
		Metadata:             t.Metadata,
	}
}

// Clone creates a copy of the task. Payload and Result are shared since the
// core never interprets them.
func (t *Task) Clone() *Task {
	clone := *t
	if t.RequiredCapabilities != nil {
		clone.RequiredCapabilities = append([]string(nil), t.RequiredCapabilities...)
	}
	if t.Metadata != nil {
		clone.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

// Duration returns how long the last attempt ran, or zero if it never started.
func (t *Task) Duration() time.Duration {
	if t.StartedAt.IsZero() || t.FinishedAt.IsZero() {
		return 0
	}
	return t.FinishedAt.Sub(t.StartedAt)
}
