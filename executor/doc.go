// Package executor runs task work under a global concurrency ceiling.
//
// # Overview
//
// Submit reserves one of MaxWorkers slots and starts the work in its own
// goroutine. If no slot frees up within the admission timeout, Submit
// fails with EXECUTOR_SATURATED instead of queueing; callers that want a
// queue keep their own and resubmit.
//
//	ex, _ := executor.New(executor.DefaultConfig())
//	run, err := ex.Submit(ctx, executor.Job{TaskID: id, Payload: p, Work: work})
//	<-run.Done()
//	res := run.Result()
//
// # Timeouts and Cancellation
//
// Every execution gets a deadline (the job's own, or Config.TaskTimeout).
// When it passes, the result is TIMEOUT and the slot is released at once.
// The work function's context is cancelled too, but nothing forces the
// function to return: a callable that ignores its context keeps running in
// the background after its slot has been handed to someone else.
// Execution.Cancel has the same best-effort semantics and yields CANCELED.
//
// Errors returned by the work become WORK_ERROR. Panics are recovered and
// reported the same way.
package executor
