// Package strategy implements the pluggable policies that pick an agent
// for a task from a registry snapshot.
//
// Strategies only select. They never mutate the registry or record
// assignments; the coordinator does both after Select returns.
//
//	s, err := strategy.New("least_loaded")
//	id, err := s.Select(task, reg.Snapshot())
//
// RoundRobin carries a cursor and is safe for concurrent callers. The
// load-based strategies are pure functions of their inputs.
package strategy
