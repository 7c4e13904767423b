// Package registry tracks the agents known to the coordination core.
//
// # Overview
//
// Each agent is registered with an ID and an optional capability set. The
// registry keeps its live load (tasks assigned or running on it) and its
// operational state. Assignment strategies read consistent snapshots;
// only the coordinator mutates load and state.
//
// # Basic Usage
//
//	reg := registry.NewMemoryRegistry()
//	err := reg.Register(registry.Registration{
//	    ID:           "agent-1",
//	    Capabilities: []string{"sql", "postgres"},
//	})
//
//	snap := reg.Snapshot()
//	for _, a := range snap.Agents {
//	    fmt.Println(a.ID, a.Load, a.State)
//	}
//
// # Capabilities
//
// An agent with an empty capability set accepts any task. Otherwise the
// agent satisfies a task when its capabilities are a superset of the task's
// required capabilities.
//
// # States
//
//	idle ⇄ busy       load drops to zero / rises above zero
//	draining          takes no new work under capability-aware routing
//	offline           declared dead; never routed to
//
// # Watching
//
// Watch returns a channel of added/updated/removed events. Slow watchers
// lose events rather than blocking registry mutation.
package registry
