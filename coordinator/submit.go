package coordinator

import (
	"context"

	cerrors "github.com/vinayprograms/agentcoord/errors"
	"github.com/vinayprograms/agentcoord/executor"
	"github.com/vinayprograms/agentcoord/tasks"
)

// pendingJob is an attempt ready to be handed to the executor.
type pendingJob struct {
	entry *entry
	job   executor.Job
}

func (c *Coordinator) jobLocked(e *entry) pendingJob {
	t := e.task
	return pendingJob{
		entry: e,
		job: executor.Job{
			TaskID:  t.ID,
			AgentID: t.AgentID,
			Attempt: t.Attempts,
			Payload: t.Payload,
			Work:    e.work,
			Timeout: t.Timeout,
		},
	}
}

// Submit creates a task from spec, assigns it and hands work to the
// executor. It blocks only while the executor admits the job. Assignment
// errors are returned without tracking the task. EXECUTOR_SATURATED fails
// the task and is returned together with its ID.
func (c *Coordinator) Submit(ctx context.Context, spec tasks.Spec, work executor.Work) (string, error) {
	if c.exec == nil {
		return "", ErrNoExecutor
	}
	if work == nil {
		return "", executor.ErrNoWork
	}

	t := tasks.New(spec)
	e := newEntry(t, work)

	c.mu.Lock()
	if c.closed {
		c.unlock()
		return "", ErrClosed
	}
	if err := c.assignLocked(e); err != nil {
		c.unlock()
		return "", err
	}
	c.tasks[t.ID] = e
	p := c.jobLocked(e)
	c.unlock()

	return t.ID, c.dispatch(ctx, p, false)
}

// dispatch submits an attempt to the executor. A rejected first attempt
// fails the task; a rejected retry counts as a failed attempt.
func (c *Coordinator) dispatch(ctx context.Context, p pendingJob, retrying bool) error {
	exec, err := c.exec.Submit(ctx, p.job)
	if err != nil {
		c.mu.Lock()
		defer c.unlock()
		if p.entry.task.Attempts != p.job.Attempt || !p.entry.task.Status.IsActive() {
			return err
		}
		if retrying {
			c.completeLocked(p.entry, Outcome{Attempt: p.job.Attempt, Err: err})
			return err
		}
		c.releaseLocked(p.entry, tasks.ReleaseFailed)
		c.failLocked(p.entry, err)
		return err
	}

	c.mu.Lock()
	t := p.entry.task
	if t.Attempts != p.job.Attempt || !t.Status.IsActive() {
		// Superseded or cancelled while the executor was admitting it.
		c.unlock()
		exec.Cancel()
		return nil
	}
	p.entry.execution = exec
	t.Status = tasks.StatusRunning
	t.StartedAt = c.now()
	c.wg.Add(1)
	c.unlock()

	go c.watch(p.entry, p.job.Attempt, exec)
	return nil
}

func (c *Coordinator) dispatchAll(jobs []pendingJob) {
	for _, p := range jobs {
		if err := c.dispatch(context.Background(), p, true); err != nil {
			c.logger.Warn("reassigned task not dispatched", map[string]interface{}{
				"task":  p.job.TaskID,
				"agent": p.job.AgentID,
				"error": err.Error(),
			})
		}
	}
}

// watch reports an execution's result as the outcome of its attempt.
func (c *Coordinator) watch(e *entry, attempt int, exec *executor.Execution) {
	defer c.wg.Done()

	res := exec.Result()

	c.mu.Lock()
	defer c.unlock()
	if e.execution == exec {
		e.execution = nil
	}
	// Stale results are dropped by completeLocked.
	c.completeLocked(e, Outcome{Attempt: attempt, Value: res.Value, Err: res.Err})
}

// Cancel stops a task. A running execution receives a best-effort
// cancellation signal; its agent is released immediately. Cancelling a
// terminal task is a no-op.
func (c *Coordinator) Cancel(taskID string) error {
	c.mu.Lock()
	defer c.unlock()

	e, ok := c.tasks[taskID]
	if !ok {
		return unknownTask(taskID)
	}
	if e.task.Status.IsTerminal() {
		return nil
	}
	c.cancelLocked(e, cerrors.Canceled("task cancelled", cerrors.WithTaskID(taskID)))
	return nil
}
