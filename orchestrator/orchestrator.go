package orchestrator

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	cerrors "github.com/vinayprograms/agentcoord/errors"
	"github.com/vinayprograms/agentcoord/executor"
	"github.com/vinayprograms/agentcoord/logging"
	"github.com/vinayprograms/agentcoord/tasks"
	"github.com/vinayprograms/agentcoord/telemetry"
)

// Metadata keys stamped on every sub-task.
const (
	MetaDistribution = "distribution"
	MetaShard        = "shard"
)

// Dispatcher submits and tracks tasks. The coordinator satisfies it.
type Dispatcher interface {
	Submit(ctx context.Context, spec tasks.Spec, work executor.Work) (string, error)
	Done(taskID string) (<-chan struct{}, error)
	Wait(ctx context.Context, taskID string) (*tasks.Task, error)
	Cancel(taskID string) error
}

// Config configures an Orchestrator.
type Config struct {
	// Deadline bounds how long a distribution waits for its sub-tasks.
	// Zero means wait until every sub-task is terminal.
	Deadline time.Duration

	// Policy, if set, fills Report.Err.
	Policy Policy
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{Deadline: 30 * time.Second}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l.WithComponent("orchestrator")
	}
}

// WithTracer sets the tracer for distribution spans.
func WithTracer(t *telemetry.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = t
	}
}

// Orchestrator distributes work across agents through a Dispatcher.
type Orchestrator struct {
	dispatcher Dispatcher
	cfg        Config
	logger     *logging.Logger
	tracer     *telemetry.Tracer
}

// New creates an orchestrator.
func New(d Dispatcher, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		dispatcher: d,
		cfg:        cfg,
		logger:     logging.New().WithComponent("orchestrator"),
		tracer:     telemetry.NoopTracer(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Distribute submits n copies of template and returns a handle to their
// collective outcome.
func (o *Orchestrator) Distribute(ctx context.Context, template tasks.Spec, work executor.Work, n int) (*Handle, error) {
	if n <= 0 {
		return nil, cerrors.InvalidInput("distribution needs at least one sub-task")
	}
	specs := make([]tasks.Spec, n)
	for i := range specs {
		specs[i] = template
	}
	return o.Fan(ctx, specs, work)
}

// Fan submits one sub-task per spec and returns a handle to their
// collective outcome. Sub-tasks that cannot be submitted are reported as
// failed outcomes rather than aborting the others. The deadline starts when
// Fan is called; cancelling ctx resolves the handle early.
func (o *Orchestrator) Fan(ctx context.Context, specs []tasks.Spec, work executor.Work) (*Handle, error) {
	if len(specs) == 0 {
		return nil, cerrors.InvalidInput("distribution needs at least one sub-task")
	}
	if work == nil {
		return nil, executor.ErrNoWork
	}

	h := &Handle{
		id:       uuid.NewString(),
		ids:      make([]string, len(specs)),
		outcomes: make([]Outcome, len(specs)),
		started:  time.Now(),
		done:     make(chan struct{}),
	}

	var (
		waitCtx context.Context
		cancel  context.CancelFunc
	)
	if o.cfg.Deadline > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, o.cfg.Deadline)
	} else {
		waitCtx, cancel = context.WithCancel(ctx)
	}
	h.abort = cancel

	spanCtx, span := o.tracer.StartDistributeSpan(ctx, len(specs))

	for i, spec := range specs {
		spec.Metadata = withShard(spec.Metadata, h.id, i)
		id, err := o.dispatcher.Submit(spanCtx, spec, work)
		h.ids[i] = id
		h.outcomes[i] = Outcome{Index: i, TaskID: id}
		if err != nil && id == "" {
			// Never tracked, so nothing to wait for.
			h.outcomes[i].Status = tasks.StatusFailed
			h.outcomes[i].Err = err
		}
	}

	o.logger.Debug("distribution started", map[string]interface{}{
		"distribution": h.id,
		"count":        len(specs),
		"deadline":     o.cfg.Deadline.String(),
	})

	go func() {
		defer cancel()
		o.collect(waitCtx, h)

		report := h.report
		opts := telemetry.DistributeSpanOptions{
			Succeeded:  len(report.Succeeded()),
			Failed:     len(report.Failed()),
			Incomplete: len(report.Incomplete),
			Accepted:   report.Err == nil,
		}
		o.tracer.EndDistributeSpan(span, opts, report.Err)
		o.logger.Info("distribution resolved", map[string]interface{}{
			"distribution":      h.id,
			"succeeded":         opts.Succeeded,
			"failed":            opts.Failed,
			"incomplete":        opts.Incomplete,
			"deadline_exceeded": report.DeadlineExceeded,
			"elapsed":           report.Elapsed.String(),
		})
	}()
	return h, nil
}

// collect waits for every sub-task, cancels the stragglers when ctx ends and
// publishes the report.
func (o *Orchestrator) collect(ctx context.Context, h *Handle) {
	defer close(h.done)

	expired := false
	lost := make(map[int]bool)
	for i, id := range h.ids {
		if id == "" {
			continue
		}
		done, err := o.dispatcher.Done(id)
		if err != nil {
			h.outcomes[i].Status = tasks.StatusFailed
			h.outcomes[i].Err = err
			lost[i] = true
			continue
		}
		select {
		case <-done:
		case <-ctx.Done():
			expired = true
		}
		if expired {
			break
		}
	}

	report := Report{ID: h.id, DeadlineExceeded: expired}
	for i, id := range h.ids {
		if id == "" || lost[i] {
			continue
		}
		if expired {
			if done, err := o.dispatcher.Done(id); err == nil && !closed(done) {
				o.dispatcher.Cancel(id)
				h.outcomes[i].Incomplete = true
				report.Incomplete = append(report.Incomplete, id)
			}
		}
		// Every sub-task is terminal here, so this does not block.
		t, err := o.dispatcher.Wait(context.Background(), id)
		if err != nil {
			h.outcomes[i].Status = tasks.StatusFailed
			h.outcomes[i].Err = err
			continue
		}
		h.outcomes[i].AgentID = t.AgentID
		h.outcomes[i].Status = t.Status
		h.outcomes[i].Attempts = t.Attempts
		h.outcomes[i].Result = t.Result
		h.outcomes[i].Err = t.Err
	}

	report.Outcomes = h.outcomes
	report.Elapsed = time.Since(h.started)
	if o.cfg.Policy != nil {
		report.Err = o.cfg.Policy(report)
	}

	h.mu.Lock()
	h.report = report
	h.mu.Unlock()
}

// Handle is a pending distribution.
type Handle struct {
	id       string
	ids      []string
	outcomes []Outcome
	started  time.Time
	abort    context.CancelFunc

	mu     sync.Mutex
	report Report
	done   chan struct{}
}

// ID returns the distribution ID stamped on every sub-task.
func (h *Handle) ID() string {
	return h.id
}

// TaskIDs returns the sub-task IDs in index order. Unsubmitted sub-tasks
// have an empty ID.
func (h *Handle) TaskIDs() []string {
	return append([]string(nil), h.ids...)
}

// Done is closed once the report is available.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Abort resolves the distribution now, cancelling unfinished sub-tasks.
func (h *Handle) Abort() {
	h.abort()
}

// Wait blocks until the distribution resolves. If ctx ends first the
// distribution keeps running and Wait returns a CANCELED or TIMEOUT error.
func (h *Handle) Wait(ctx context.Context) (Report, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.report, nil
	case <-ctx.Done():
		return Report{}, cerrors.Wrap(ctx.Err(), "wait for distribution "+h.id)
	}
}

func withShard(meta map[string]string, distribution string, shard int) map[string]string {
	out := make(map[string]string, len(meta)+2)
	for k, v := range meta {
		out[k] = v
	}
	out[MetaDistribution] = distribution
	out[MetaShard] = strconv.Itoa(shard)
	return out
}

func closed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
