package heartbeat

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/agentcoord/bus"
	"github.com/vinayprograms/agentcoord/logging"
)

// senderState is what an agent reports about itself in each beat.
type senderState struct {
	status   string
	load     int
	metadata map[string]string
}

// BusSender publishes an agent's heartbeats on Subject(agentID).
type BusSender struct {
	bus      bus.MessageBus
	agentID  string
	interval time.Duration
	logger   *logging.Logger

	mu    sync.Mutex
	state senderState
	stop  context.CancelFunc
	done  chan struct{}

	sent atomic.Int64
}

// NewBusSender creates a sender. Nothing is published until Start or Send.
func NewBusSender(cfg SenderConfig) (*BusSender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	defaults := DefaultSenderConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.InitialStatus == "" {
		cfg.InitialStatus = defaults.InitialStatus
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	return &BusSender{
		bus:      cfg.Bus,
		agentID:  cfg.AgentID,
		interval: cfg.Interval,
		logger:   logger.WithComponent("heartbeat"),
		state: senderState{
			status:   cfg.InitialStatus,
			metadata: make(map[string]string),
		},
	}, nil
}

// Start beats once right away and then every interval until ctx ends or
// Stop is called.
func (s *BusSender) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return ErrAlreadyStarted
	}

	ctx, s.stop = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	return nil
}

func (s *BusSender) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.Send(); err != nil {
			s.logger.Warn("heartbeat not published", map[string]interface{}{
				"agent": s.agentID,
				"error": err.Error(),
			})
		}
		select {
		case <-ctx.Done():
			s.mu.Lock()
			if s.done == done {
				s.stop, s.done = nil, nil
			}
			s.mu.Unlock()
			return
		case <-ticker.C:
		}
	}
}

// Send publishes one heartbeat carrying the current status, load and
// metadata.
func (s *BusSender) Send() error {
	hb := s.snapshot()
	data, err := hb.Marshal()
	if err != nil {
		return err
	}
	if err := s.bus.Publish(hb.Subject(), data); err != nil {
		return err
	}
	s.sent.Add(1)
	return nil
}

func (s *BusSender) snapshot() *Heartbeat {
	s.mu.Lock()
	defer s.mu.Unlock()

	hb := &Heartbeat{
		AgentID:   s.agentID,
		Timestamp: time.Now(),
		Status:    s.state.status,
		Load:      s.state.load,
	}
	if n := len(s.state.metadata); n > 0 {
		hb.Metadata = make(map[string]string, n)
		for k, v := range s.state.metadata {
			hb.Metadata[k] = v
		}
	}
	return hb
}

// SetStatus changes the status reported from the next beat on.
func (s *BusSender) SetStatus(status string) {
	s.mu.Lock()
	s.state.status = status
	s.mu.Unlock()
}

// SetLoad changes the reported task count. Negative values report 0.
func (s *BusSender) SetLoad(load int) {
	s.mu.Lock()
	s.state.load = max(load, 0)
	s.mu.Unlock()
}

// SetMetadata sets one metadata entry.
func (s *BusSender) SetMetadata(key, value string) {
	s.mu.Lock()
	s.state.metadata[key] = value
	s.mu.Unlock()
}

// Stop ends the beat loop and waits for it to exit.
func (s *BusSender) Stop() error {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop == nil {
		return ErrNotStarted
	}
	stop()
	<-done
	return nil
}

// Sent returns how many heartbeats were published.
func (s *BusSender) Sent() int64 {
	return s.sent.Load()
}

// AgentID returns the agent the sender beats for.
func (s *BusSender) AgentID() string {
	return s.agentID
}
