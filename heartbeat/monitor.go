package heartbeat

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/agentcoord/bus"
	"github.com/vinayprograms/agentcoord/logging"
	"github.com/vinayprograms/agentcoord/registry"
)

// ReasonMissed is the offline reason reported for silent agents.
const ReasonMissed = "heartbeat_missed"

// Target receives liveness decisions. The coordinator satisfies it.
type Target interface {
	Heartbeat(agentID string) error
	MarkOffline(agentID, reason string) error
	Unregister(agentID string) error
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Monitor) {
		m.logger = l.WithComponent("heartbeat")
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		m.now = now
	}
}

type agentState struct {
	lastSeen time.Time
	offline  bool
	last     *Heartbeat
}

// Monitor counts missed heartbeat intervals per agent and reports agents
// that cross the offline and removal thresholds to its Target.
type Monitor struct {
	cfg    MonitorConfig
	target Target
	logger *logging.Logger
	now    func() time.Time

	mu         sync.Mutex
	agents     map[string]*agentState
	offlineCBs []func(string)
	removedCBs []func(string)

	running atomic.Bool
}

// NewMonitor creates a monitor reporting to target.
func NewMonitor(target Target, cfg MonitorConfig, opts ...Option) (*Monitor, error) {
	if target == nil {
		return nil, ErrInvalidConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	def := DefaultMonitorConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.OfflineAfterMisses <= 0 {
		cfg.OfflineAfterMisses = def.OfflineAfterMisses
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = cfg.Interval
	}

	m := &Monitor{
		cfg:    cfg,
		target: target,
		logger: logging.New().WithComponent("heartbeat"),
		now:    time.Now,
		agents: make(map[string]*agentState),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Track starts the miss clock for an agent that has not beaten yet.
// Tracking an already tracked agent is a no-op.
func (m *Monitor) Track(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[agentID]; !ok {
		m.agents[agentID] = &agentState{lastSeen: m.now()}
	}
}

// Forget stops tracking an agent.
func (m *Monitor) Forget(agentID string) {
	m.mu.Lock()
	delete(m.agents, agentID)
	m.mu.Unlock()
}

// Beat records a heartbeat. The agent's miss count resets and the target
// is told it is alive. Heartbeats from unknown agents are rejected.
func (m *Monitor) Beat(hb *Heartbeat) error {
	if err := m.target.Heartbeat(hb.AgentID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.agents[hb.AgentID]
	if !ok {
		st = &agentState{}
		m.agents[hb.AgentID] = st
	}
	// Sender clocks may drift, so misses are measured on the local clock.
	st.lastSeen = m.now()
	st.offline = false
	st.last = hb
	return nil
}

// Misses returns the number of whole intervals since the agent's last beat.
func (m *Monitor) Misses(agentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.agents[agentID]
	if !ok {
		return 0
	}
	return m.misses(st, m.now())
}

func (m *Monitor) misses(st *agentState, now time.Time) int {
	return int(now.Sub(st.lastSeen) / m.cfg.Interval)
}

// IsAlive reports whether the agent is tracked and not offline.
func (m *Monitor) IsAlive(agentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.agents[agentID]
	return ok && !st.offline
}

// LastHeartbeat returns the last heartbeat from an agent, if any.
func (m *Monitor) LastHeartbeat(agentID string) *Heartbeat {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.agents[agentID]; ok {
		return st.last
	}
	return nil
}

// OnOffline registers a callback for agents crossing the offline threshold.
func (m *Monitor) OnOffline(callback func(agentID string)) {
	m.mu.Lock()
	m.offlineCBs = append(m.offlineCBs, callback)
	m.mu.Unlock()
}

// OnRemoved registers a callback for agents crossing the removal threshold.
func (m *Monitor) OnRemoved(callback func(agentID string)) {
	m.mu.Lock()
	m.removedCBs = append(m.removedCBs, callback)
	m.mu.Unlock()
}

// Check evaluates every tracked agent at now. Each threshold is reported
// once until the agent beats again.
func (m *Monitor) Check(now time.Time) {
	var offline, removed []string

	m.mu.Lock()
	for id, st := range m.agents {
		misses := m.misses(st, now)
		switch {
		case m.cfg.RemoveAfterMisses > 0 && misses >= m.cfg.RemoveAfterMisses:
			removed = append(removed, id)
			delete(m.agents, id)
		case misses >= m.cfg.OfflineAfterMisses && !st.offline:
			offline = append(offline, id)
			st.offline = true
		}
	}
	offlineCBs := append([]func(string){}, m.offlineCBs...)
	removedCBs := append([]func(string){}, m.removedCBs...)
	m.mu.Unlock()

	sort.Strings(offline)
	sort.Strings(removed)

	for _, id := range offline {
		if err := m.target.MarkOffline(id, ReasonMissed); err != nil {
			m.logger.Warn("mark offline failed", map[string]interface{}{"agent": id, "error": err.Error()})
		}
		for _, cb := range offlineCBs {
			cb(id)
		}
	}
	for _, id := range removed {
		m.logger.Warn("removing silent agent", map[string]interface{}{"agent": id})
		if err := m.target.Unregister(id); err != nil {
			m.logger.Warn("unregister failed", map[string]interface{}{"agent": id, "error": err.Error()})
		}
		for _, cb := range removedCBs {
			cb(id)
		}
	}
}

// Run checks thresholds every CheckInterval until ctx ends. With a bus it
// also consumes heartbeats published on SubjectAll. With a registry it
// tracks agents as they are added and forgets them when removed; the
// registry watch lasts until the registry is closed.
func (m *Monitor) Run(ctx context.Context, b bus.MessageBus, reg registry.Registry) error {
	if m.running.Swap(true) {
		return ErrAlreadyStarted
	}
	defer m.running.Store(false)

	var msgs <-chan *bus.Message
	if b != nil {
		sub, err := b.Subscribe(SubjectAll)
		if err != nil {
			return err
		}
		defer sub.Unsubscribe()
		msgs = sub.Messages()
	}

	var changes <-chan registry.Event
	if reg != nil {
		ch, err := reg.Watch()
		if err != nil {
			return err
		}
		changes = ch
		for _, id := range reg.IDs() {
			m.Track(id)
		}
	}

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			m.handleMessage(msg)
		case ev, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			switch ev.Type {
			case registry.EventAdded:
				m.Track(ev.Agent.ID)
			case registry.EventRemoved:
				m.Forget(ev.Agent.ID)
			}
		case <-ticker.C:
			m.Check(m.now())
		}
	}
}

func (m *Monitor) handleMessage(msg *bus.Message) {
	hb, err := Unmarshal(msg.Data)
	if err != nil {
		m.logger.Debug("bad heartbeat", map[string]interface{}{"subject": msg.Subject, "error": err.Error()})
		return
	}
	if hb.AgentID == "" {
		hb.AgentID = agentFromSubject(msg.Subject)
	}
	if err := m.Beat(hb); err != nil {
		m.logger.Debug("heartbeat rejected", map[string]interface{}{"agent": hb.AgentID, "error": err.Error()})
	}
}
