package coordinator

import (
	"fmt"
	"strings"
	"sync"
	"time"

	cerrors "github.com/vinayprograms/agentcoord/errors"
	"github.com/vinayprograms/agentcoord/events"
	"github.com/vinayprograms/agentcoord/executor"
	"github.com/vinayprograms/agentcoord/logging"
	"github.com/vinayprograms/agentcoord/mailbox"
	"github.com/vinayprograms/agentcoord/registry"
	"github.com/vinayprograms/agentcoord/strategy"
	"github.com/vinayprograms/agentcoord/tasks"
	"github.com/vinayprograms/agentcoord/telemetry"
)

// Sender is the mailbox sender of task_result notifications.
const Sender = "coordinator"

// Common errors.
var (
	ErrUnknownTask = cerrors.FromCode(cerrors.ErrCodeNotFound)
	ErrClosed      = cerrors.FromCode(cerrors.ErrCodeClosed)
	ErrNoExecutor  = cerrors.InvalidInput("coordinator has no executor")
)

// Outcome is the result of one task attempt.
type Outcome struct {
	// Attempt the outcome belongs to. Zero means the current attempt.
	Attempt int

	Value any
	Err   error
}

// Success returns a successful outcome for the current attempt.
func Success(value any) Outcome {
	return Outcome{Value: value}
}

// Failure returns a failed outcome for the current attempt.
func Failure(err error) Outcome {
	return Outcome{Err: err}
}

// entry is the coordinator's bookkeeping for one task.
type entry struct {
	task       *tasks.Task
	work       executor.Work
	execution  *executor.Execution
	retry      *time.Timer
	reassigned int
	observed   bool
	done       chan struct{}
}

func newEntry(t *tasks.Task, work executor.Work) *entry {
	return &entry{task: t, work: work, done: make(chan struct{})}
}

// failures counts attempts that ended in failure, excluding moves caused by
// agent loss.
func (e *entry) failures() int {
	return e.task.Attempts - e.reassigned
}

// Coordinator assigns tasks to agents and tracks them to a terminal state.
type Coordinator struct {
	cfg      Config
	strategy strategy.Strategy
	registry registry.Registry
	log      *tasks.Log
	mailbox  *mailbox.Mailbox
	exec     *executor.Executor
	emitter  *events.Emitter
	logger   *logging.Logger
	tracer   *telemetry.Tracer
	now      func() time.Time

	ownsEmitter  bool
	ownsRegistry bool

	// mu serializes registry mutation with log appends.
	mu     sync.Mutex
	tasks  map[string]*entry
	closed bool

	// outbox holds task_result messages queued under mu. unlock sends them.
	outbox []mailbox.Message

	wg sync.WaitGroup
}

// New creates a coordinator.
func New(cfg Config, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Coordinator{
		cfg:    cfg,
		log:    tasks.NewLog(),
		logger: logging.New().WithComponent("coordinator"),
		tracer: telemetry.NoopTracer(),
		now:    time.Now,
		tasks:  make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.strategy == nil {
		s, err := strategy.New(cfg.Strategy)
		if err != nil {
			return nil, err
		}
		c.strategy = s
	}
	if c.registry == nil {
		c.registry = registry.NewMemoryRegistry(registry.WithClock(c.now))
		c.ownsRegistry = true
	}
	if c.emitter == nil {
		c.emitter = events.NewEmitter()
		c.ownsEmitter = true
	}
	return c, nil
}

// Registry returns the agent registry. Callers must not mutate load or
// state through it.
func (c *Coordinator) Registry() registry.Registry {
	return c.registry
}

// Log returns the assignment log.
func (c *Coordinator) Log() *tasks.Log {
	return c.log
}

// Emitter returns the event emitter.
func (c *Coordinator) Emitter() *events.Emitter {
	return c.emitter
}

// Strategy returns the assignment strategy.
func (c *Coordinator) Strategy() strategy.Strategy {
	return c.strategy
}

// --- Agent lifecycle ---

// Register adds an agent.
func (c *Coordinator) Register(reg registry.Registration) error {
	c.mu.Lock()
	defer c.unlock()

	if c.closed {
		return ErrClosed
	}
	if err := c.registry.Register(reg); err != nil {
		return err
	}
	c.logger.Info("agent_registered", map[string]interface{}{
		"agent":        reg.ID,
		"capabilities": strings.Join(reg.Capabilities, ","),
	})
	return nil
}

// Unregister removes an agent. Its live tasks are moved to other agents
// first and its mailbox is dropped. Absent IDs are a no-op.
func (c *Coordinator) Unregister(agentID string) error {
	c.mu.Lock()
	if !c.registry.Contains(agentID) {
		c.unlock()
		return nil
	}
	moved, err := c.evacuateLocked(agentID, "unregistered")
	dropped := 0
	if err == nil {
		err = c.registry.Unregister(agentID)
		// Dropped before unlocking so a re-registration under the same ID
		// starts with an empty mailbox.
		if err == nil && c.mailbox != nil {
			dropped = c.mailbox.Drop(agentID)
		}
	}
	c.unlock()

	if dropped > 0 {
		c.logger.Warn("dropped undelivered messages", map[string]interface{}{
			"agent":    agentID,
			"messages": dropped,
		})
	}
	c.dispatchAll(moved)
	return err
}

// Heartbeat records that the agent is alive. An offline agent that beats
// again becomes routable.
func (c *Coordinator) Heartbeat(agentID string) error {
	c.mu.Lock()
	defer c.unlock()

	if err := c.registry.Touch(agentID, c.now()); err != nil {
		return err
	}
	a, err := c.registry.Get(agentID)
	if err != nil {
		return err
	}
	if a.State == registry.StateOffline {
		c.logger.Info("agent_recovered", map[string]interface{}{"agent": agentID})
		return c.registry.SetState(agentID, registry.StateIdle)
	}
	return nil
}

// Drain stops routing new work to the agent under capability-aware
// assignment. Running work is unaffected.
func (c *Coordinator) Drain(agentID string) error {
	c.mu.Lock()
	defer c.unlock()
	return c.registry.SetState(agentID, registry.StateDraining)
}

// Resume makes a draining agent routable again.
func (c *Coordinator) Resume(agentID string) error {
	c.mu.Lock()
	defer c.unlock()
	return c.registry.SetState(agentID, registry.StateIdle)
}

// AgentFailed takes the agent offline and moves its live tasks to the
// remaining agents.
func (c *Coordinator) AgentFailed(agentID string) error {
	return c.MarkOffline(agentID, "agent_failed")
}

// MarkOffline is AgentFailed with an explicit reason for observers.
func (c *Coordinator) MarkOffline(agentID, reason string) error {
	c.mu.Lock()
	if !c.registry.Contains(agentID) {
		c.unlock()
		return cerrors.UnknownAgent(agentID)
	}
	moved, err := c.evacuateLocked(agentID, reason)
	c.unlock()

	c.dispatchAll(moved)
	return err
}

// evacuateLocked sets the agent offline and reassigns its live tasks.
// Returns the jobs that must be handed to the executor after unlocking.
func (c *Coordinator) evacuateLocked(agentID, reason string) ([]pendingJob, error) {
	if err := c.registry.SetState(agentID, registry.StateOffline); err != nil {
		return nil, err
	}

	ids := c.log.LiveForAgent(agentID)
	var (
		moved   []pendingJob
		lost    []string
		lastErr error
	)
	for _, id := range ids {
		e, ok := c.tasks[id]
		if !ok {
			c.releaseUntracked(id)
			continue
		}
		c.releaseLocked(e, tasks.ReleaseReassigned)
		e.reassigned++

		if err := c.assignLocked(e); err != nil {
			lastErr = cerrors.New(cerrors.ErrCodeNoAgentsAvailable,
				fmt.Sprintf("task %s could not be moved off agent %s", id, agentID),
				cerrors.WithTaskID(id), cerrors.WithAgentID(agentID), cerrors.WithCause(err))
			c.failLocked(e, lastErr)
			lost = append(lost, id)
			continue
		}
		if e.work != nil {
			moved = append(moved, c.jobLocked(e))
		}
	}

	c.emit(events.Event{
		Type:    events.AgentOffline,
		AgentID: agentID,
		TaskIDs: ids,
		Reason:  reason,
	})
	if len(lost) > 0 {
		c.emit(events.Event{
			Type:    events.CoordinationFatal,
			AgentID: agentID,
			TaskIDs: lost,
			Err:     lastErr,
		})
	}
	return moved, nil
}

// releaseUntracked drops a live assignment whose task is no longer tracked.
func (c *Coordinator) releaseUntracked(taskID string) {
	a, ok := c.log.Release(taskID, tasks.ReleaseReassigned)
	if !ok {
		return
	}
	if err := c.registry.UpdateLoad(a.AgentID, -1); err != nil {
		c.logger.Error("load release failed", map[string]interface{}{
			"task":  taskID,
			"agent": a.AgentID,
			"error": err.Error(),
		})
	}
}

// VerifyLoads checks that every agent's load equals its live assignments.
func (c *Coordinator) VerifyLoads() error {
	c.mu.Lock()
	defer c.unlock()

	want := c.log.LoadByAgent()
	for _, a := range c.registry.Snapshot().Agents {
		if a.Load != want[a.ID] {
			return cerrors.Assertion(
				fmt.Sprintf("agent %s has load %d but %d live assignments", a.ID, a.Load, want[a.ID]),
				cerrors.WithAgentID(a.ID))
		}
		delete(want, a.ID)
	}
	for id, n := range want {
		if n > 0 {
			return cerrors.Assertion(
				fmt.Sprintf("%d live assignments on unregistered agent %s", n, id),
				cerrors.WithAgentID(id))
		}
	}
	return nil
}

// Close cancels every non-terminal task and waits for in-flight executions
// to resolve. The registry and emitter are closed if the coordinator
// created them.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.unlock()
		return nil
	}
	c.closed = true
	for _, e := range c.tasks {
		if !e.task.Status.IsTerminal() {
			c.cancelLocked(e, cerrors.Canceled("coordinator closed", cerrors.WithTaskID(e.task.ID)))
		}
	}
	c.unlock()

	c.wg.Wait()
	if c.ownsEmitter {
		c.emitter.Close()
	}
	if c.ownsRegistry {
		return c.registry.Close()
	}
	return nil
}

// unlock releases mu and then delivers the task_result messages queued
// while it was held, so mailbox and bus I/O never run inside the lock.
func (c *Coordinator) unlock() {
	out := c.outbox
	c.outbox = nil
	c.mu.Unlock()

	for _, msg := range out {
		if _, err := c.mailbox.Send(msg); err != nil {
			res, _ := msg.Payload.(mailbox.TaskResult)
			c.logger.Warn("task result not delivered", map[string]interface{}{
				"task":     res.TaskID,
				"reply_to": msg.Receiver,
				"error":    err.Error(),
			})
		}
	}
}

func (c *Coordinator) emit(ev events.Event) {
	ev.Timestamp = c.now()
	c.emitter.Emit(ev)
}
