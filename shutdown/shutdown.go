package shutdown

import (
	"context"
	"time"

	cerrors "github.com/vinayprograms/agentcoord/errors"
)

// Common errors.
var (
	// ErrAlreadyShutdown is returned to callers that race an in-flight shutdown.
	ErrAlreadyShutdown = cerrors.New(cerrors.ErrCodeClosed, "shutdown already initiated")

	// ErrTimeout is returned when phases remained when the context ended.
	ErrTimeout = cerrors.FromCode(cerrors.ErrCodeTimeout)

	// ErrHandlerFailed is returned when one or more handlers failed.
	ErrHandlerFailed = cerrors.CoordinationFailure("one or more shutdown handlers failed")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = cerrors.InvalidInput("invalid shutdown configuration")
)

// Phases used by the coordination service. Lower phases stop first.
const (
	// PhaseIntake stops accepting new distributions and submissions.
	PhaseIntake = 10

	// PhaseMonitor stops liveness checks so draining agents are not evicted.
	PhaseMonitor = 20

	// PhaseCoordinator cancels outstanding tasks and releases agent load.
	PhaseCoordinator = 30

	// PhaseExecutor waits for workers to exit.
	PhaseExecutor = 40

	// PhaseTransport closes buses, sinks and exporters.
	PhaseTransport = 50
)

// Handler is implemented by components that need graceful shutdown.
type Handler interface {
	// OnShutdown is called when shutdown reaches the handler's phase.
	// ctx ends when the overall shutdown deadline is reached.
	OnShutdown(ctx context.Context) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context) error

// OnShutdown implements Handler.
func (f HandlerFunc) OnShutdown(ctx context.Context) error {
	return f(ctx)
}

// Closer adapts an io.Closer style Close method to Handler.
func Closer(close func() error) Handler {
	return HandlerFunc(func(context.Context) error { return close() })
}

// HandlerResult is the outcome of a single handler.
type HandlerResult struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

// Result is the outcome of a complete shutdown.
type Result struct {
	TotalDuration time.Duration
	Results       []HandlerResult

	// Err is nil if every handler succeeded.
	Err error
}

// Failed reports whether any handler failed or the shutdown timed out.
func (r *Result) Failed() bool {
	return r.Err != nil
}

// FailedHandlers returns the names of handlers that failed.
func (r *Result) FailedHandlers() []string {
	var failed []string
	for _, hr := range r.Results {
		if hr.Err != nil {
			failed = append(failed, hr.Name)
		}
	}
	return failed
}

// Config configures the shutdown sequencer.
type Config struct {
	// Timeout bounds shutdowns started by a signal or ShutdownWithTimeout(0).
	// Default: 30 seconds
	Timeout time.Duration

	// DefaultPhase is assigned by Register.
	// Default: PhaseTransport
	DefaultPhase int

	// ContinueOnError runs later phases after a handler fails.
	// Default: true
	ContinueOnError bool

	// OnProgress is called as each handler completes.
	OnProgress func(result HandlerResult)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Timeout < 0 || c.DefaultPhase < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:         30 * time.Second,
		DefaultPhase:    PhaseTransport,
		ContinueOnError: true,
	}
}

type registration struct {
	name    string
	handler Handler
	phase   int
}
