// Package coordinator binds tasks to agents and owns their lifecycle.
//
// # Overview
//
// The Coordinator is the only component that mutates agent load and appends
// to the assignment log. One mutex covers both, so the log order is a total
// order consistent with the order in which assign calls complete and no
// strategy ever sees a half-updated registry.
//
//	caller ──Submit──▶ Coordinator ──Select──▶ Strategy
//	                       │
//	                       ├──Append──▶ tasks.Log
//	                       ├──UpdateLoad──▶ Registry
//	                       └──Submit──▶ Executor ──result──▶ Complete
//
// # Usage
//
//	coord, err := coordinator.New(coordinator.DefaultConfig(),
//	    coordinator.WithExecutor(exec),
//	    coordinator.WithEmitter(emitter),
//	)
//	coord.Register(registry.Registration{ID: "a1"})
//
//	id, err := coord.Submit(ctx, tasks.Spec{Payload: req}, work)
//	task, err := coord.Wait(ctx, id)
//
// Callers that run work themselves use Assign, Start and Complete directly.
//
// # Retries
//
// Complete is the only retry path. A failed attempt releases its agent and
// goes back to pending while failed attempts stay below MaxRetries; the
// next Assign happens after an exponential backoff capped at
// RetryBackoffMax. Outcomes reported for an attempt that is no longer
// current are ignored.
//
// # Agent Loss
//
// AgentFailed takes an agent offline and moves its live tasks to the
// remaining agents. Those moves do not count against the retry budget. A
// task that cannot be moved fails with NO_AGENTS_AVAILABLE and is reported
// through a coordination_fatal event; other tasks are unaffected.
package coordinator
