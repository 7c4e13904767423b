// Package shutdown stops the coordination service in dependency order.
//
// # Overview
//
// Components register handlers in numbered phases. On Shutdown, or on
// SIGTERM/SIGINT after HandleSignals, the Sequencer runs phases from lowest
// to highest. Handlers sharing a phase run concurrently. When the context
// ends, remaining phases are skipped and Shutdown returns a TIMEOUT error.
//
//	intake(10) → monitor(20) → coordinator(30) → executor(40) → transport(50)
//
// # Usage
//
//	seq, _ := shutdown.New(shutdown.DefaultConfig(), shutdown.WithLogger(logger))
//	seq.RegisterFunc("coordinator", shutdown.PhaseCoordinator, func(ctx context.Context) error {
//	    return coord.Close()
//	})
//	seq.RegisterFunc("executor", shutdown.PhaseExecutor, exec.Shutdown)
//	seq.Register("bus", shutdown.Closer(b.Close))
//	seq.HandleSignals()
//	<-seq.Done()
//
// Stopping the monitor before the coordinator keeps agents that go quiet
// during teardown from being evicted and their tasks moved for nothing.
package shutdown
