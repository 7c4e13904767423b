// Package tasks defines the unit of dispatchable work and the append-only
// assignment log that binds task attempts to agents.
//
// # Task Lifecycle
//
//	pending → assigned → running → succeeded
//	    ↑         │          │
//	    └─────────┴──────────┴──→ failed / cancelled
//
// A failed attempt goes back to pending when the coordinator decides to
// retry it; otherwise failed is terminal. Every attempt gets its own
// Assignment record with an incremented attempt number.
//
// # Assignment Log
//
// Assignments are never edited. Releasing an attempt, and a later attempt
// superseding it, are recorded as separate facts next to the original:
//
//	log := tasks.NewLog()
//	log.Append(tasks.Assignment{TaskID: id, AgentID: "a1", Attempt: 1})
//	log.Release(id, tasks.ReleaseFailed)
//	log.Append(tasks.Assignment{TaskID: id, AgentID: "a2", Attempt: 2})
//	for _, r := range log.ForTask(id) {
//	    fmt.Println(r.Attempt, r.Superseded())
//	}
//
// Live records (not yet released) are exactly the tasks currently assigned
// or running, which makes LoadByAgent the reference for agent load.
package tasks
