package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	cerrors "github.com/vinayprograms/agentcoord/errors"
)

// MemoryRegistry is the in-process implementation of Registry.
// All operations are short critical sections under a single RWMutex.
type MemoryRegistry struct {
	mu       sync.RWMutex
	agents   map[string]*Agent
	watchers []chan Event
	closed   bool
	now      func() time.Time
}

// MemoryOption configures a MemoryRegistry.
type MemoryOption func(*MemoryRegistry)

// WithClock overrides the time source used for RegisteredAt and snapshots.
func WithClock(now func() time.Time) MemoryOption {
	return func(r *MemoryRegistry) {
		r.now = now
	}
}

// NewMemoryRegistry creates a new in-memory registry.
func NewMemoryRegistry(opts ...MemoryOption) *MemoryRegistry {
	r := &MemoryRegistry{
		agents: make(map[string]*Agent),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds an agent in the idle state.
func (r *MemoryRegistry) Register(reg Registration) error {
	caps, err := ValidateRegistration(reg)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	if _, exists := r.agents[reg.ID]; exists {
		return cerrors.DuplicateAgent(reg.ID)
	}

	now := r.now()
	agent := &Agent{
		ID:            reg.ID,
		Capabilities:  caps,
		State:         StateIdle,
		RegisteredAt:  now,
		LastHeartbeat: now,
	}
	if reg.Metadata != nil {
		agent.Metadata = make(map[string]string, len(reg.Metadata))
		for k, v := range reg.Metadata {
			agent.Metadata[k] = v
		}
	}
	r.agents[reg.ID] = agent
	r.notifyWatchers(Event{Type: EventAdded, Agent: agent.Clone()})

	return nil
}

// Unregister removes an agent. Unknown IDs are ignored.
func (r *MemoryRegistry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	agent, exists := r.agents[id]
	if !exists {
		return nil
	}
	delete(r.agents, id)
	r.notifyWatchers(Event{Type: EventRemoved, Agent: agent.Clone()})

	return nil
}

// Get retrieves a specific agent by ID.
func (r *MemoryRegistry) Get(id string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return Agent{}, ErrClosed
	}
	agent, exists := r.agents[id]
	if !exists {
		return Agent{}, cerrors.UnknownAgent(id)
	}
	return agent.Clone(), nil
}

// Contains reports whether the agent is registered.
func (r *MemoryRegistry) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[id]
	return ok
}

// IDs returns the registered agent IDs in sorted order.
func (r *MemoryRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns a consistent copy of all agents sorted by ID.
func (r *MemoryRegistry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{
		Agents:  make([]Agent, 0, len(r.agents)),
		TakenAt: r.now(),
	}
	for _, agent := range r.agents {
		snap.Agents = append(snap.Agents, agent.Clone())
	}
	sort.Slice(snap.Agents, func(i, j int) bool {
		return snap.Agents[i].ID < snap.Agents[j].ID
	})
	return snap
}

// UpdateLoad adjusts an agent's load by delta and flips idle/busy accordingly.
// Load never goes negative; an attempt to do so is reported as an assertion.
func (r *MemoryRegistry) UpdateLoad(id string, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	agent, exists := r.agents[id]
	if !exists {
		return cerrors.UnknownAgent(id)
	}

	next := agent.Load + delta
	if next < 0 {
		return cerrors.Assertion(fmt.Sprintf("load of %s would become %d", id, next), cerrors.WithAgentID(id))
	}
	agent.Load = next

	switch {
	case agent.State == StateIdle && agent.Load > 0:
		agent.State = StateBusy
	case agent.State == StateBusy && agent.Load == 0:
		agent.State = StateIdle
	}

	r.notifyWatchers(Event{Type: EventUpdated, Agent: agent.Clone()})
	return nil
}

// SetState changes an agent's operational state. Setting idle or busy is
// normalized against the current load.
func (r *MemoryRegistry) SetState(id string, state State) error {
	if !state.Valid() {
		return cerrors.InvalidInput(fmt.Sprintf("invalid agent state %q", state))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	agent, exists := r.agents[id]
	if !exists {
		return cerrors.UnknownAgent(id)
	}

	if state.Routable() {
		state = StateIdle
		if agent.Load > 0 {
			state = StateBusy
		}
	}
	if agent.State == state {
		return nil
	}
	agent.State = state
	r.notifyWatchers(Event{Type: EventUpdated, Agent: agent.Clone()})
	return nil
}

// Touch records a heartbeat for the agent.
func (r *MemoryRegistry) Touch(id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	agent, exists := r.agents[id]
	if !exists {
		return cerrors.UnknownAgent(id)
	}
	if at.After(agent.LastHeartbeat) {
		agent.LastHeartbeat = at
	}
	return nil
}

// Watch returns a channel of registry events.
func (r *MemoryRegistry) Watch() (<-chan Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}

	ch := make(chan Event, 64)
	r.watchers = append(r.watchers, ch)
	return ch, nil
}

// Close shuts down the registry and closes all watcher channels.
func (r *MemoryRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	for _, ch := range r.watchers {
		close(ch)
	}
	r.watchers = nil
	return nil
}

// notifyWatchers sends an event to all watchers.
// Must be called with lock held.
func (r *MemoryRegistry) notifyWatchers(event Event) {
	for _, ch := range r.watchers {
		select {
		case ch <- event:
		default:
			// Watcher is behind, drop
		}
	}
}
