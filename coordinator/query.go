package coordinator

import (
	"context"
	"time"

	cerrors "github.com/vinayprograms/agentcoord/errors"
	"github.com/vinayprograms/agentcoord/tasks"
)

// Task returns a copy of the task's current state.
func (c *Coordinator) Task(taskID string) (*tasks.Task, error) {
	c.mu.Lock()
	defer c.unlock()

	e, ok := c.tasks[taskID]
	if !ok {
		return nil, unknownTask(taskID)
	}
	return e.task.Clone(), nil
}

// Done returns a channel closed when the task reaches a terminal state.
func (c *Coordinator) Done(taskID string) (<-chan struct{}, error) {
	c.mu.Lock()
	defer c.unlock()

	e, ok := c.tasks[taskID]
	if !ok {
		return nil, unknownTask(taskID)
	}
	return e.done, nil
}

// Wait blocks until the task is terminal and returns its final state.
// The task becomes eligible for Sweep once observed.
func (c *Coordinator) Wait(ctx context.Context, taskID string) (*tasks.Task, error) {
	done, err := c.Done(taskID)
	if err != nil {
		return nil, err
	}

	select {
	case <-done:
	case <-ctx.Done():
		return nil, cerrors.Wrap(ctx.Err(), "wait for task "+taskID, cerrors.WithTaskID(taskID))
	}

	c.mu.Lock()
	defer c.unlock()
	e, ok := c.tasks[taskID]
	if !ok {
		return nil, unknownTask(taskID)
	}
	e.observed = true
	return e.task.Clone(), nil
}

// Assignments returns the assignment records of a task in append order.
func (c *Coordinator) Assignments(taskID string) []tasks.Record {
	return c.log.ForTask(taskID)
}

// Counts returns the number of tracked tasks per status.
func (c *Coordinator) Counts() map[tasks.Status]int {
	c.mu.Lock()
	defer c.unlock()

	counts := make(map[tasks.Status]int)
	for _, e := range c.tasks {
		counts[e.task.Status]++
	}
	return counts
}

// Sweep forgets terminal tasks that a waiter has observed or that finished
// more than TaskRetention before now. Returns the number removed.
func (c *Coordinator) Sweep(now time.Time) int {
	c.mu.Lock()
	var gone []string
	for id, e := range c.tasks {
		t := e.task
		if !t.Status.IsTerminal() {
			continue
		}
		expired := c.cfg.TaskRetention > 0 && now.Sub(t.FinishedAt) >= c.cfg.TaskRetention
		if e.observed || expired {
			delete(c.tasks, id)
			gone = append(gone, id)
		}
	}
	c.unlock()

	if len(gone) > 0 {
		c.log.Forget(gone...)
		c.logger.Debug("swept tasks", map[string]interface{}{"count": len(gone)})
	}
	return len(gone)
}

// RunJanitor calls Sweep every interval until ctx ends.
func (c *Coordinator) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep(c.now())
		}
	}
}
