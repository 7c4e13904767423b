package executor

import (
	"context"
	"time"
)

// Result is the outcome of one execution.
type Result struct {
	TaskID string
	Value  any

	// Err is nil on success, otherwise TIMEOUT, WORK_ERROR or CANCELED.
	Err error

	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns how long the execution held its slot.
func (r Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Execution is a handle to a running job.
type Execution struct {
	job     Job
	timeout time.Duration
	cancel  context.CancelCauseFunc

	done   chan struct{}
	result Result
}

// TaskID returns the ID of the task being executed.
func (x *Execution) TaskID() string {
	return x.job.TaskID
}

// Done is closed once the result is available.
func (x *Execution) Done() <-chan struct{} {
	return x.done
}

// Result returns the outcome. It blocks until Done is closed.
func (x *Execution) Result() Result {
	<-x.done
	return x.result
}

// Wait blocks until the execution finishes or ctx ends.
func (x *Execution) Wait(ctx context.Context) (Result, error) {
	select {
	case <-x.done:
		return x.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Cancel signals the work to stop. The execution resolves as CANCELED
// without waiting for the work function to return.
func (x *Execution) Cancel() {
	x.cancel(errCancelRequested)
}

func (x *Execution) finish(res Result) {
	x.result = res
	close(x.done)
}
