package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vinayprograms/agentcoord/logging"
)

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Sequencer) {
		s.logger = l.WithComponent("shutdown")
	}
}

// Sequencer runs registered handlers phase by phase. Handlers sharing a
// phase run concurrently.
type Sequencer struct {
	config Config
	logger *logging.Logger

	mu       sync.Mutex
	handlers []registration
	started  bool
	result   *Result
	done     chan struct{}

	signals chan os.Signal
	stopSig chan struct{}
	sigOnce sync.Once
}

// New creates a sequencer.
func New(config Config, opts ...Option) (*Sequencer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.DefaultPhase == 0 {
		config.DefaultPhase = DefaultConfig().DefaultPhase
	}

	s := &Sequencer{
		config:  config,
		logger:  logging.New().WithComponent("shutdown"),
		done:    make(chan struct{}),
		signals: make(chan os.Signal, 1),
		stopSig: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Register adds a handler in the default phase.
func (s *Sequencer) Register(name string, h Handler) {
	s.RegisterWithPhase(name, h, s.config.DefaultPhase)
}

// RegisterWithPhase adds a handler in the given phase.
func (s *Sequencer) RegisterWithPhase(name string, h Handler, phase int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, registration{name: name, handler: h, phase: phase})
}

// RegisterFunc registers fn in the given phase.
func (s *Sequencer) RegisterFunc(name string, phase int, fn func(ctx context.Context) error) {
	s.RegisterWithPhase(name, HandlerFunc(fn), phase)
}

// Shutdown runs every phase in order. Only the first call runs the
// handlers; later calls wait for it and return ErrAlreadyShutdown.
func (s *Sequencer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		select {
		case <-s.done:
		case <-ctx.Done():
		}
		return ErrAlreadyShutdown
	}
	s.started = true
	handlers := append([]registration(nil), s.handlers...)
	s.mu.Unlock()

	s.stopSignals()

	result := s.run(ctx, handlers)

	s.mu.Lock()
	s.result = result
	s.mu.Unlock()
	close(s.done)

	fields := map[string]interface{}{
		"handlers": len(result.Results),
		"duration": result.TotalDuration.String(),
	}
	if result.Err != nil {
		fields["failed"] = result.FailedHandlers()
		fields["error"] = result.Err.Error()
		s.logger.Error("shutdown incomplete", fields)
	} else {
		s.logger.Info("shutdown complete", fields)
	}
	return result.Err
}

// ShutdownWithTimeout runs Shutdown bounded by timeout, or by the
// configured Timeout when timeout is zero.
func (s *Sequencer) ShutdownWithTimeout(timeout time.Duration) error {
	if timeout == 0 {
		timeout = s.config.Timeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Shutdown(ctx)
}

// HandleSignals starts shutdown on SIGTERM or SIGINT.
func (s *Sequencer) HandleSignals() {
	signal.Notify(s.signals, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		select {
		case sig := <-s.signals:
			s.logger.Info("signal received", map[string]interface{}{"signal": sig.String()})
			s.ShutdownWithTimeout(0)
		case <-s.stopSig:
		}
	}()
}

// Trigger starts shutdown as if a signal had arrived. It requires
// HandleSignals.
func (s *Sequencer) Trigger() {
	select {
	case s.signals <- syscall.SIGTERM:
	default:
	}
}

func (s *Sequencer) stopSignals() {
	s.sigOnce.Do(func() {
		signal.Stop(s.signals)
		close(s.stopSig)
	})
}

// Done is closed once every phase has run.
func (s *Sequencer) Done() <-chan struct{} {
	return s.done
}

// Result returns the shutdown result, or nil before Done is closed.
func (s *Sequencer) Result() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Err returns the shutdown error, or nil before Done is closed.
func (s *Sequencer) Err() error {
	if r := s.Result(); r != nil {
		return r.Err
	}
	return nil
}

func (s *Sequencer) run(ctx context.Context, handlers []registration) *Result {
	start := time.Now()
	sort.SliceStable(handlers, func(i, j int) bool {
		return handlers[i].phase < handlers[j].phase
	})

	result := &Result{Results: make([]HandlerResult, 0, len(handlers))}
	finish := func(err error) *Result {
		result.Err = err
		result.TotalDuration = time.Since(start)
		return result
	}

	var failed error
	for _, group := range groupByPhase(handlers) {
		if ctx.Err() != nil {
			s.logger.Warn("shutdown deadline reached", map[string]interface{}{"next_phase": group[0].phase})
			return finish(ErrTimeout)
		}

		phase := s.runPhase(ctx, group)
		result.Results = append(result.Results, phase...)

		for _, hr := range phase {
			if hr.Err == nil {
				continue
			}
			failed = ErrHandlerFailed
			if !s.config.ContinueOnError {
				return finish(failed)
			}
		}
	}
	return finish(failed)
}

func (s *Sequencer) runPhase(ctx context.Context, group []registration) []HandlerResult {
	results := make([]HandlerResult, len(group))

	var g errgroup.Group
	for i, r := range group {
		g.Go(func() error {
			start := time.Now()
			err := r.handler.OnShutdown(ctx)
			hr := HandlerResult{
				Name:     r.name,
				Phase:    r.phase,
				Duration: time.Since(start),
				Err:      err,
			}
			results[i] = hr

			fields := map[string]interface{}{
				"handler":  hr.Name,
				"phase":    hr.Phase,
				"duration": hr.Duration.String(),
			}
			if err != nil {
				fields["error"] = err.Error()
				s.logger.Warn("shutdown handler failed", fields)
			} else {
				s.logger.Debug("shutdown handler done", fields)
			}
			if s.config.OnProgress != nil {
				s.config.OnProgress(hr)
			}
			return nil
		})
	}
	g.Wait()
	return results
}

// groupByPhase splits handlers sorted by phase into per-phase groups.
func groupByPhase(handlers []registration) [][]registration {
	var groups [][]registration
	for i := 0; i < len(handlers); {
		j := i
		for j < len(handlers) && handlers[j].phase == handlers[i].phase {
			j++
		}
		groups = append(groups, handlers[i:j])
		i = j
	}
	return groups
}
