package strategy

import (
	"fmt"
	"sync/atomic"

	cerrors "github.com/vinayprograms/agentcoord/errors"
	"github.com/vinayprograms/agentcoord/registry"
	"github.com/vinayprograms/agentcoord/tasks"
)

// Common errors.
var (
	ErrNoAgentsAvailable = cerrors.FromCode(cerrors.ErrCodeNoAgentsAvailable)
	ErrNoCapableAgent    = cerrors.FromCode(cerrors.ErrCodeNoCapableAgent)
	ErrUnknownStrategy   = cerrors.InvalidInput("unknown assignment strategy")
)

// Strategy names as they appear in configuration.
const (
	NameRoundRobin      = "round_robin"
	NameLeastLoaded     = "least_loaded"
	NameCapabilityAware = "capability_aware"
)

// Strategy selects an agent for a task.
type Strategy interface {
	// Select returns the ID of the chosen agent. The snapshot is sorted by ID.
	Select(task *tasks.Task, snap registry.Snapshot) (string, error)

	// Name returns the configuration name of the strategy.
	Name() string
}

// New creates a strategy from its configuration name.
func New(name string) (Strategy, error) {
	switch name {
	case NameRoundRobin:
		return NewRoundRobin(), nil
	case NameLeastLoaded:
		return LeastLoaded{}, nil
	case NameCapabilityAware:
		return CapabilityAware{}, nil
	default:
		return nil, cerrors.InvalidInput(fmt.Sprintf("unknown assignment strategy %q", name),
			cerrors.WithCause(ErrUnknownStrategy))
	}
}

// Names lists the known strategy names.
func Names() []string {
	return []string{NameRoundRobin, NameLeastLoaded, NameCapabilityAware}
}

func noAgents(task *tasks.Task) error {
	return cerrors.New(cerrors.ErrCodeNoAgentsAvailable, "no agents registered", cerrors.WithTaskID(task.ID))
}

func noCapable(task *tasks.Task) error {
	return cerrors.New(cerrors.ErrCodeNoCapableAgent,
		fmt.Sprintf("no agent satisfies %v", task.RequiredCapabilities), cerrors.WithTaskID(task.ID))
}

// RoundRobin cycles through agents in ID order, ignoring load.
type RoundRobin struct {
	cursor atomic.Uint64
}

// NewRoundRobin creates a round-robin strategy starting at the first agent.
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

// Name implements Strategy.
func (r *RoundRobin) Name() string { return NameRoundRobin }

// Select implements Strategy. Each call claims a distinct cursor position.
// If the agent at that position cannot serve the task's capabilities the
// search continues forward from it without claiming further positions.
func (r *RoundRobin) Select(task *tasks.Task, snap registry.Snapshot) (string, error) {
	n := len(snap.Agents)
	if n == 0 {
		return "", noAgents(task)
	}

	pos := r.cursor.Add(1) - 1
	start := int(pos % uint64(n))
	for i := 0; i < n; i++ {
		agent := snap.Agents[(start+i)%n]
		if agent.Satisfies(task.RequiredCapabilities) {
			return agent.ID, nil
		}
	}
	return "", noCapable(task)
}

// LeastLoaded picks the capable agent with the smallest load. Ties go to the
// lowest ID.
type LeastLoaded struct{}

// Name implements Strategy.
func (LeastLoaded) Name() string { return NameLeastLoaded }

// Select implements Strategy.
func (LeastLoaded) Select(task *tasks.Task, snap registry.Snapshot) (string, error) {
	return leastLoaded(task, snap, func(registry.Agent) bool { return true })
}

// CapabilityAware is LeastLoaded restricted to agents that are neither
// draining nor offline.
type CapabilityAware struct{}

// Name implements Strategy.
func (CapabilityAware) Name() string { return NameCapabilityAware }

// Select implements Strategy.
func (CapabilityAware) Select(task *tasks.Task, snap registry.Snapshot) (string, error) {
	return leastLoaded(task, snap, func(a registry.Agent) bool { return a.State.Routable() })
}

func leastLoaded(task *tasks.Task, snap registry.Snapshot, eligible func(registry.Agent) bool) (string, error) {
	best := -1
	for i, agent := range snap.Agents {
		if !eligible(agent) || !agent.Satisfies(task.RequiredCapabilities) {
			continue
		}
		// Agents are sorted by ID, so strict < keeps the lowest ID on ties
		if best < 0 || agent.Load < snap.Agents[best].Load {
			best = i
		}
	}
	if best < 0 {
		return "", noCapable(task)
	}
	return snap.Agents[best].ID, nil
}
