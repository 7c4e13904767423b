package registry

import (
	"sort"
	"time"

	cerrors "github.com/vinayprograms/agentcoord/errors"
)

// Common errors.
var (
	ErrDuplicateAgent = cerrors.FromCode(cerrors.ErrCodeDuplicateAgent)
	ErrUnknownAgent   = cerrors.FromCode(cerrors.ErrCodeUnknownAgent)
	ErrInvalidID      = cerrors.InvalidInput("invalid agent ID")
	ErrClosed         = cerrors.FromCode(cerrors.ErrCodeClosed)
)

// State represents an agent's operational state.
type State string

const (
	StateIdle     State = "idle"
	StateBusy     State = "busy"
	StateDraining State = "draining"
	StateOffline  State = "offline"
)

// Valid returns true if the state is a known value.
func (s State) Valid() bool {
	switch s {
	case StateIdle, StateBusy, StateDraining, StateOffline:
		return true
	default:
		return false
	}
}

// Routable reports whether work may still be routed to an agent in this state
// by capability-aware strategies.
func (s State) Routable() bool {
	return s == StateIdle || s == StateBusy
}

// Registration is what an external agent presents to join the registry.
type Registration struct {
	// ID uniquely identifies the agent.
	ID string

	// Capabilities lists the tags the agent can serve. Empty accepts anything.
	Capabilities []string

	// Metadata contains additional key-value pairs.
	Metadata map[string]string
}

// Agent is the registry's view of a registered worker.
type Agent struct {
	ID           string
	Capabilities []string // sorted, de-duplicated
	Load         int
	State        State
	Metadata     map[string]string

	RegisteredAt  time.Time
	LastHeartbeat time.Time
}

// Satisfies reports whether the agent can serve a task requiring the given
// capabilities.
func (a Agent) Satisfies(required []string) bool {
	if len(a.Capabilities) == 0 || len(required) == 0 {
		return true
	}
	for _, req := range required {
		i := sort.SearchStrings(a.Capabilities, req)
		if i >= len(a.Capabilities) || a.Capabilities[i] != req {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the agent.
func (a Agent) Clone() Agent {
	clone := a
	if a.Capabilities != nil {
		clone.Capabilities = append([]string(nil), a.Capabilities...)
	}
	if a.Metadata != nil {
		clone.Metadata = make(map[string]string, len(a.Metadata))
		for k, v := range a.Metadata {
			clone.Metadata[k] = v
		}
	}
	return clone
}

// Snapshot is a point-in-time copy of the registry. It is not updated by
// later mutations.
type Snapshot struct {
	// Agents sorted by ID.
	Agents []Agent

	TakenAt time.Time
}

// Len returns the number of agents in the snapshot.
func (s Snapshot) Len() int {
	return len(s.Agents)
}

// Get returns the agent with the given ID.
func (s Snapshot) Get(id string) (Agent, bool) {
	i := sort.Search(len(s.Agents), func(i int) bool { return s.Agents[i].ID >= id })
	if i < len(s.Agents) && s.Agents[i].ID == id {
		return s.Agents[i], true
	}
	return Agent{}, false
}

// Filter returns a snapshot containing only agents for which keep returns true.
// Ordering is preserved.
func (s Snapshot) Filter(keep func(Agent) bool) Snapshot {
	out := Snapshot{TakenAt: s.TakenAt}
	for _, a := range s.Agents {
		if keep(a) {
			out.Agents = append(out.Agents, a)
		}
	}
	return out
}

// TotalLoad sums the load of all agents.
func (s Snapshot) TotalLoad() int {
	total := 0
	for _, a := range s.Agents {
		total += a.Load
	}
	return total
}

// EventType represents the type of registry event.
type EventType string

const (
	EventAdded   EventType = "added"
	EventUpdated EventType = "updated"
	EventRemoved EventType = "removed"
)

// Event represents a change in the registry.
type Event struct {
	Type EventType

	// Agent is the state after the change; for removals the last known state.
	Agent Agent
}

// Registry holds the set of known agents.
type Registry interface {
	// Register adds an agent. Returns ErrDuplicateAgent if the ID exists.
	Register(reg Registration) error

	// Unregister removes an agent. Absent IDs are a no-op.
	Unregister(id string) error

	// Get retrieves a specific agent by ID.
	Get(id string) (Agent, error)

	// Contains reports whether the agent is registered.
	Contains(id string) bool

	// IDs returns the registered agent IDs in sorted order.
	IDs() []string

	// Snapshot returns a consistent copy of all agents.
	Snapshot() Snapshot

	// UpdateLoad adjusts an agent's load by delta.
	// Returns ErrUnknownAgent if the agent is absent.
	UpdateLoad(id string, delta int) error

	// SetState changes an agent's operational state.
	SetState(id string, state State) error

	// Touch records a heartbeat for the agent.
	Touch(id string, at time.Time) error

	// Watch returns a channel of registry events, closed on Close.
	Watch() (<-chan Event, error)

	// Close shuts down the registry.
	Close() error
}

// ValidateRegistration checks a registration and returns its normalized
// capability list.
func ValidateRegistration(reg Registration) ([]string, error) {
	if reg.ID == "" {
		return nil, ErrInvalidID
	}
	return normalizeCapabilities(reg.Capabilities), nil
}

func normalizeCapabilities(caps []string) []string {
	if len(caps) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(caps))
	out := make([]string, 0, len(caps))
	for _, c := range caps {
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
