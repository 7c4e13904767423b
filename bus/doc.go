// Package bus carries coordination traffic between processes: observability
// events, agent heartbeats and mailbox mirrors.
//
// # Overview
//
// The coordination core itself is in-process. The bus is how agents and
// external collaborators living elsewhere observe it or report liveness
// into it. Nothing on the bus gates control flow.
//
// # Available Implementations
//
//   - NATSBus: publishes over a NATS connection
//   - MemoryBus: in-process fan-out for tests and single-binary setups
//
// # Subjects
//
// Subjects are dot-separated tokens. Subscriptions accept NATS wildcards
// on both implementations:
//
//	coord.events.<type>      observability events (see package events)
//	coord.heartbeat          heartbeats from remote agents
//	coord.mailbox.<agent>    copies of mailbox deliveries
//
//	sub, _ := b.Subscribe("coord.events.>")
//	for msg := range sub.Messages() {
//	    // Handle message
//	}
package bus
