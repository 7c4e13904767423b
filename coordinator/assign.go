package coordinator

import (
	"context"
	"fmt"
	"time"

	cerrors "github.com/vinayprograms/agentcoord/errors"
	"github.com/vinayprograms/agentcoord/events"
	"github.com/vinayprograms/agentcoord/mailbox"
	"github.com/vinayprograms/agentcoord/registry"
	"github.com/vinayprograms/agentcoord/tasks"
	"github.com/vinayprograms/agentcoord/telemetry"
)

// errStale marks an outcome for an attempt that is no longer current.
var errStale = cerrors.InvalidInput("outcome for a superseded attempt")

// Assign binds a pending task to an agent chosen by the strategy and returns
// the agent ID. The coordinator takes ownership of the task; read it back
// with Task. Strategy errors are returned as is and the task is not tracked.
func (c *Coordinator) Assign(task *tasks.Task) (string, error) {
	if task == nil || task.ID == "" {
		return "", cerrors.InvalidInput("task must have an ID")
	}

	c.mu.Lock()
	defer c.unlock()

	if c.closed {
		return "", ErrClosed
	}

	e, tracked := c.tasks[task.ID]
	if tracked {
		if e.task.Status != tasks.StatusPending {
			return "", cerrors.InvalidInput(fmt.Sprintf("task %s is %s", task.ID, e.task.Status),
				cerrors.WithTaskID(task.ID))
		}
		if e.retry != nil {
			e.retry.Stop()
			e.retry = nil
		}
	} else {
		if task.Status != tasks.StatusPending {
			return "", cerrors.InvalidInput(fmt.Sprintf("task %s is %s", task.ID, task.Status),
				cerrors.WithTaskID(task.ID))
		}
		e = newEntry(task, nil)
	}

	if err := c.assignLocked(e); err != nil {
		return "", err
	}
	c.tasks[task.ID] = e
	return e.task.AgentID, nil
}

// Start marks an assigned task as running.
func (c *Coordinator) Start(taskID string) error {
	c.mu.Lock()
	defer c.unlock()

	e, ok := c.tasks[taskID]
	if !ok {
		return unknownTask(taskID)
	}
	if e.task.Status != tasks.StatusAssigned {
		return cerrors.InvalidInput(fmt.Sprintf("task %s is %s", taskID, e.task.Status),
			cerrors.WithTaskID(taskID))
	}
	e.task.Status = tasks.StatusRunning
	e.task.StartedAt = c.now()
	return nil
}

// Complete reports the outcome of the task's current attempt. A failure is
// retried while the task has failed fewer than MaxRetries times; otherwise
// the task becomes terminal. A CANCELED failure is never retried.
func (c *Coordinator) Complete(taskID string, outcome Outcome) error {
	c.mu.Lock()
	defer c.unlock()

	e, ok := c.tasks[taskID]
	if !ok {
		return unknownTask(taskID)
	}
	return c.completeLocked(e, outcome)
}

// assignLocked selects an agent for the entry's task and records the new
// attempt. Offline agents are never offered to the strategy.
func (c *Coordinator) assignLocked(e *entry) error {
	t := e.task
	attempt := t.Attempts + 1

	_, span := c.tracer.StartAssignSpan(context.Background(), t.ID)
	snap := c.registry.Snapshot().Filter(func(a registry.Agent) bool {
		return a.State != registry.StateOffline
	})
	agentID, err := c.strategy.Select(t, snap)
	if err == nil {
		err = c.registry.UpdateLoad(agentID, 1)
	}
	c.tracer.EndAssignSpan(span, telemetry.AssignSpanOptions{
		AgentID:  agentID,
		Strategy: c.strategy.Name(),
		Attempt:  attempt,
	}, err)
	if err != nil {
		return err
	}

	now := c.now()
	c.log.Append(tasks.Assignment{
		TaskID:     t.ID,
		AgentID:    agentID,
		AssignedAt: now,
		Attempt:    attempt,
	})
	t.Attempts = attempt
	t.AgentID = agentID
	t.Status = tasks.StatusAssigned
	t.StartedAt = now

	c.emit(events.Event{
		Type:    events.AssignmentMade,
		TaskID:  t.ID,
		AgentID: agentID,
		Attempt: attempt,
	})
	return nil
}

func (c *Coordinator) completeLocked(e *entry, o Outcome) error {
	t := e.task
	if o.Attempt != 0 && o.Attempt != t.Attempts {
		return errStale
	}
	if !t.Status.IsActive() {
		return cerrors.InvalidInput(fmt.Sprintf("task %s is %s", t.ID, t.Status),
			cerrors.WithTaskID(t.ID))
	}

	t.FinishedAt = c.now()
	ev := events.Event{
		TaskID:   t.ID,
		AgentID:  t.AgentID,
		Attempt:  t.Attempts,
		Duration: t.Duration(),
	}

	switch {
	case o.Err == nil:
		c.releaseLocked(e, tasks.ReleaseFinished)
		t.Status = tasks.StatusSucceeded
		t.Result = o.Value
		t.Err = nil
		ev.Type = events.TaskCompleted
		c.emit(ev)
		c.finishLocked(e)

	case cerrors.Is(o.Err, cerrors.ErrCodeCanceled):
		c.releaseLocked(e, tasks.ReleaseCancelled)
		t.Status = tasks.StatusCancelled
		t.Err = o.Err
		ev.Type = events.TaskCancelled
		ev.Err = o.Err
		c.emit(ev)
		c.finishLocked(e)

	default:
		c.releaseLocked(e, tasks.ReleaseFailed)
		t.Err = o.Err
		ev.Type = events.TaskFailed
		ev.Err = o.Err
		if e.failures() < c.cfg.MaxRetries && !c.closed {
			t.Status = tasks.StatusPending
			ev.Retrying = true
			c.emit(ev)
			c.scheduleRetryLocked(e)
			return nil
		}
		t.Status = tasks.StatusFailed
		c.emit(ev)
		c.finishLocked(e)
	}
	return nil
}

// releaseLocked ends the task's live assignment and cancels its execution.
func (c *Coordinator) releaseLocked(e *entry, reason tasks.ReleaseReason) {
	if e.execution != nil {
		e.execution.Cancel()
		e.execution = nil
	}
	a, ok := c.log.Release(e.task.ID, reason)
	if !ok {
		return
	}
	if err := c.registry.UpdateLoad(a.AgentID, -1); err != nil {
		c.logger.Error("load release failed", map[string]interface{}{
			"task":  a.TaskID,
			"agent": a.AgentID,
			"error": err.Error(),
		})
	}
}

// failLocked makes an unassigned task terminally failed.
func (c *Coordinator) failLocked(e *entry, err error) {
	t := e.task
	t.Status = tasks.StatusFailed
	t.Err = err
	t.FinishedAt = c.now()
	c.emit(events.Event{
		Type:    events.TaskFailed,
		TaskID:  t.ID,
		AgentID: t.AgentID,
		Attempt: t.Attempts,
		Err:     err,
	})
	c.finishLocked(e)
}

// cancelLocked makes a non-terminal task cancelled.
func (c *Coordinator) cancelLocked(e *entry, err error) {
	t := e.task
	if t.Status.IsActive() {
		c.releaseLocked(e, tasks.ReleaseCancelled)
	}
	t.Status = tasks.StatusCancelled
	t.Err = err
	t.FinishedAt = c.now()
	c.emit(events.Event{
		Type:    events.TaskCancelled,
		TaskID:  t.ID,
		AgentID: t.AgentID,
		Attempt: t.Attempts,
		Err:     err,
	})
	c.finishLocked(e)
}

// finishLocked wakes waiters and queues the ReplyTo agent's notification.
func (c *Coordinator) finishLocked(e *entry) {
	if e.retry != nil {
		e.retry.Stop()
		e.retry = nil
	}
	close(e.done)

	t := e.task
	if t.ReplyTo == "" || c.mailbox == nil {
		return
	}
	res := mailbox.TaskResult{
		TaskID:  t.ID,
		AgentID: t.AgentID,
		Status:  t.Status.String(),
		Result:  t.Result,
	}
	if t.Err != nil {
		res.Error = t.Err.Error()
	}
	c.outbox = append(c.outbox, mailbox.Message{
		Sender:   Sender,
		Receiver: t.ReplyTo,
		Type:     mailbox.TypeTaskResult,
		Payload:  res,
	})
}

func (c *Coordinator) scheduleRetryLocked(e *entry) {
	id := e.task.ID
	e.retry = time.AfterFunc(c.cfg.backoff(e.failures()), func() {
		c.retry(id)
	})
}

// retry assigns a pending task again once its backoff has elapsed.
func (c *Coordinator) retry(taskID string) {
	c.mu.Lock()
	e, ok := c.tasks[taskID]
	if !ok || c.closed || e.task.Status != tasks.StatusPending {
		c.unlock()
		return
	}
	e.retry = nil

	if err := c.assignLocked(e); err != nil {
		c.failLocked(e, err)
		c.unlock()
		return
	}
	if e.work == nil {
		c.unlock()
		return
	}
	job := c.jobLocked(e)
	c.unlock()

	c.dispatch(context.Background(), job, true)
}

func unknownTask(taskID string) error {
	return cerrors.New(cerrors.ErrCodeNotFound, fmt.Sprintf("unknown task %s", taskID),
		cerrors.WithTaskID(taskID))
}
