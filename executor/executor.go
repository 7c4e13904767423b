package executor

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	cerrors "github.com/vinayprograms/agentcoord/errors"
	"github.com/vinayprograms/agentcoord/logging"
	"github.com/vinayprograms/agentcoord/telemetry"
)

// Common errors.
var (
	ErrSaturated = cerrors.FromCode(cerrors.ErrCodeExecutorSaturated)
	ErrTimeout   = cerrors.FromCode(cerrors.ErrCodeTimeout)
	ErrWork      = cerrors.FromCode(cerrors.ErrCodeWorkError)
	ErrCancelled = cerrors.FromCode(cerrors.ErrCodeCanceled)
	ErrClosed    = cerrors.FromCode(cerrors.ErrCodeClosed)
	ErrNoWork    = cerrors.InvalidInput("job has no work function")
)

// errCancelRequested is the cancel cause set by Execution.Cancel.
var errCancelRequested = cerrors.Canceled("execution cancelled")

// errShutdown is the cancel cause set when Shutdown runs out of time.
var errShutdown = cerrors.Canceled("executor shut down")

// Work is the opaque callable bound to a task. It should return promptly
// once ctx is done.
type Work func(ctx context.Context, payload any) (any, error)

// Job is one unit handed to the executor.
type Job struct {
	TaskID  string
	AgentID string
	Attempt int
	Payload any
	Work    Work

	// Timeout overrides Config.TaskTimeout when positive.
	Timeout time.Duration
}

// Config configures an Executor.
type Config struct {
	// MaxWorkers is the number of simultaneous executions.
	MaxWorkers int

	// AdmissionTimeout bounds how long Submit waits for a slot.
	// Zero means fail immediately when all slots are busy.
	AdmissionTimeout time.Duration

	// TaskTimeout is the default per-execution deadline. Zero disables it.
	TaskTimeout time.Duration
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:       runtime.NumCPU(),
		AdmissionTimeout: 50 * time.Millisecond,
		TaskTimeout:      5 * time.Minute,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxWorkers < 1 {
		return cerrors.InvalidInput(fmt.Sprintf("max_workers must be at least 1, got %d", c.MaxWorkers))
	}
	if c.AdmissionTimeout < 0 {
		return cerrors.InvalidInput("admission_timeout must not be negative")
	}
	if c.TaskTimeout < 0 {
		return cerrors.InvalidInput("task_timeout must not be negative")
	}
	return nil
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Executor) {
		e.logger = l.WithComponent("executor")
	}
}

// WithTracer sets the tracer used for execution spans.
func WithTracer(t *telemetry.Tracer) Option {
	return func(e *Executor) {
		e.tracer = t
	}
}

// Executor is a bounded pool of execution slots.
type Executor struct {
	cfg    Config
	slots  *semaphore.Weighted
	logger *logging.Logger
	tracer *telemetry.Tracer

	// base parents every execution so Shutdown can cancel stragglers.
	base     context.Context
	stopBase context.CancelCauseFunc

	inFlight atomic.Int64
	wg       sync.WaitGroup
	closed   atomic.Bool
}

// New creates an executor.
func New(cfg Config, opts ...Option) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base, stop := context.WithCancelCause(context.Background())
	e := &Executor{
		cfg:      cfg,
		slots:    semaphore.NewWeighted(int64(cfg.MaxWorkers)),
		logger:   logging.Discard(),
		tracer:   telemetry.NoopTracer(),
		base:     base,
		stopBase: stop,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the executor configuration.
func (e *Executor) Config() Config {
	return e.cfg
}

// InFlight returns the number of occupied slots.
func (e *Executor) InFlight() int {
	return int(e.inFlight.Load())
}

// Submit reserves a slot and starts the job. ctx bounds only the wait for a
// slot; the execution itself is independent of it.
func (e *Executor) Submit(ctx context.Context, job Job) (*Execution, error) {
	if job.Work == nil {
		return nil, ErrNoWork
	}
	if e.closed.Load() {
		return nil, ErrClosed
	}

	if err := e.admit(ctx, job); err != nil {
		return nil, err
	}

	// Shutdown may have started while we waited
	if e.closed.Load() {
		e.slots.Release(1)
		return nil, ErrClosed
	}

	e.inFlight.Add(1)
	e.wg.Add(1)

	timeout := e.cfg.TaskTimeout
	if job.Timeout > 0 {
		timeout = job.Timeout
	}

	runCtx, cancel := context.WithCancelCause(e.base)
	exec := &Execution{
		job:     job,
		timeout: timeout,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	go e.run(runCtx, exec)
	return exec, nil
}

func (e *Executor) admit(ctx context.Context, job Job) error {
	if e.slots.TryAcquire(1) {
		return nil
	}
	if e.cfg.AdmissionTimeout <= 0 {
		return e.saturated(job)
	}

	actx, cancel := context.WithTimeout(ctx, e.cfg.AdmissionTimeout)
	defer cancel()

	if err := e.slots.Acquire(actx, 1); err != nil {
		if ctx.Err() != nil {
			return cerrors.Canceled("submit cancelled while waiting for a slot",
				cerrors.WithTaskID(job.TaskID), cerrors.WithCause(ctx.Err()))
		}
		return e.saturated(job)
	}
	return nil
}

func (e *Executor) saturated(job Job) error {
	e.logger.Warn("executor saturated", map[string]interface{}{
		"task_id":     job.TaskID,
		"max_workers": e.cfg.MaxWorkers,
		"waited":      e.cfg.AdmissionTimeout.String(),
	})
	return cerrors.New(cerrors.ErrCodeExecutorSaturated,
		fmt.Sprintf("no free slot for task %s within %s", job.TaskID, e.cfg.AdmissionTimeout),
		cerrors.WithTaskID(job.TaskID),
		cerrors.WithMetadata("max_workers", fmt.Sprint(e.cfg.MaxWorkers)))
}

type outcome struct {
	value any
	err   error
}

func (e *Executor) run(runCtx context.Context, exec *Execution) {
	job := exec.job
	defer e.wg.Done()

	ctx := runCtx
	if exec.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(runCtx, exec.timeout)
		defer cancel()
	}
	ctx, span := e.tracer.StartExecuteSpan(ctx, job.TaskID)

	started := time.Now()
	results := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				results <- outcome{err: cerrors.RecoverPanic(r)}
			}
		}()
		v, err := job.Work(ctx, job.Payload)
		results <- outcome{value: v, err: err}
	}()

	var res Result
	select {
	case o := <-results:
		res = e.settle(ctx, job, exec.timeout, o)
	case <-ctx.Done():
		// A result that raced the deadline wins
		select {
		case o := <-results:
			res = e.settle(ctx, job, exec.timeout, o)
		default:
			res = Result{Err: e.interruption(ctx, job, exec.timeout)}
			if cerrors.Is(res.Err, cerrors.ErrCodeTimeout) {
				e.logger.Warn("execution timed out; work may still be running", map[string]interface{}{
					"task_id": job.TaskID,
					"timeout": exec.timeout.String(),
				})
			}
		}
	}
	res.TaskID = job.TaskID
	res.StartedAt = started
	res.FinishedAt = time.Now()

	e.tracer.EndExecuteSpan(span, telemetry.ExecuteSpanOptions{
		AgentID:  job.AgentID,
		Attempt:  job.Attempt,
		Duration: res.Duration(),
	}, res.Err)

	e.slots.Release(1)
	e.inFlight.Add(-1)
	exec.cancel(nil)
	exec.finish(res)
}

// settle classifies a value or error returned by the work itself.
func (e *Executor) settle(ctx context.Context, job Job, timeout time.Duration, o outcome) Result {
	if o.err == nil {
		return Result{Value: o.value}
	}
	if ctx.Err() != nil {
		return Result{Value: o.value, Err: e.interruption(ctx, job, timeout)}
	}
	return Result{Value: o.value, Err: cerrors.WorkError(job.TaskID, o.err)}
}

// interruption explains why ctx ended.
func (e *Executor) interruption(ctx context.Context, job Job, timeout time.Duration) error {
	switch cause := context.Cause(ctx); {
	case cause == errCancelRequested:
		return cerrors.Canceled("execution cancelled", cerrors.WithTaskID(job.TaskID))
	case cause == errShutdown:
		return cerrors.Canceled("executor shut down", cerrors.WithTaskID(job.TaskID))
	default:
		return cerrors.Timeout(job.TaskID, timeout)
	}
}

// Shutdown stops admitting work and waits for in-flight executions. If ctx
// ends first, the remaining executions are cancelled and ctx's error is
// returned.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.closed.Store(true)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.stopBase(errShutdown)
		return nil
	case <-ctx.Done():
		e.stopBase(errShutdown)
		<-done
		return ctx.Err()
	}
}
