package coordinator

import (
	"math"
	"time"

	cerrors "github.com/vinayprograms/agentcoord/errors"
	"github.com/vinayprograms/agentcoord/events"
	"github.com/vinayprograms/agentcoord/executor"
	"github.com/vinayprograms/agentcoord/logging"
	"github.com/vinayprograms/agentcoord/mailbox"
	"github.com/vinayprograms/agentcoord/registry"
	"github.com/vinayprograms/agentcoord/strategy"
	"github.com/vinayprograms/agentcoord/telemetry"
)

// Config tunes assignment, retries and retention.
type Config struct {
	// Strategy is the assignment strategy name. Ignored when WithStrategy is used.
	Strategy string

	// MaxRetries bounds the number of failed attempts per task.
	MaxRetries int

	// RetryBackoff is the delay before the first retry. It doubles per
	// failed attempt up to RetryBackoffMax.
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration

	// TaskRetention is how long unobserved terminal tasks are kept.
	// Zero keeps them until a waiter observes them.
	TaskRetention time.Duration
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		Strategy:        strategy.NameLeastLoaded,
		MaxRetries:      3,
		RetryBackoff:    100 * time.Millisecond,
		RetryBackoffMax: 5 * time.Second,
		TaskRetention:   10 * time.Minute,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.MaxRetries < 1:
		return cerrors.InvalidInput("max_retries must be at least 1")
	case c.RetryBackoff < 0 || c.RetryBackoffMax < 0:
		return cerrors.InvalidInput("retry backoff must not be negative")
	case c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax:
		return cerrors.InvalidInput("retry_backoff exceeds retry_backoff_max")
	case c.TaskRetention < 0:
		return cerrors.InvalidInput("task_retention must not be negative")
	}
	return nil
}

// backoff returns the delay before the retry that follows the given number
// of failed attempts.
func (c Config) backoff(failures int) time.Duration {
	if c.RetryBackoff <= 0 {
		return 0
	}
	d := c.RetryBackoff
	for i := 1; i < failures; i++ {
		if d > math.MaxInt64/2 {
			// Uncapped doubling saturates instead of wrapping negative.
			d = math.MaxInt64
			break
		}
		d *= 2
		if c.RetryBackoffMax > 0 && d >= c.RetryBackoffMax {
			return c.RetryBackoffMax
		}
	}
	return d
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRegistry sets the agent registry. Defaults to an in-memory registry.
func WithRegistry(r registry.Registry) Option {
	return func(c *Coordinator) {
		c.registry = r
	}
}

// WithStrategy sets the assignment strategy, overriding Config.Strategy.
func WithStrategy(s strategy.Strategy) Option {
	return func(c *Coordinator) {
		c.strategy = s
	}
}

// WithExecutor sets the executor used by Submit.
func WithExecutor(e *executor.Executor) Option {
	return func(c *Coordinator) {
		c.exec = e
	}
}

// WithMailbox enables task_result notifications to ReplyTo agents and
// drops the mailbox of unregistered agents.
func WithMailbox(m *mailbox.Mailbox) Option {
	return func(c *Coordinator) {
		c.mailbox = m
	}
}

// WithEmitter sets the event emitter. The caller keeps ownership.
func WithEmitter(e *events.Emitter) Option {
	return func(c *Coordinator) {
		c.emitter = e
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l.WithComponent("coordinator")
	}
}

// WithTracer sets the tracer for assignment spans.
func WithTracer(t *telemetry.Tracer) Option {
	return func(c *Coordinator) {
		c.tracer = t
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}
