package mailbox

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/agentcoord/bus"
	cerrors "github.com/vinayprograms/agentcoord/errors"
	"github.com/vinayprograms/agentcoord/logging"
)

// Common errors.
var (
	ErrUnknownRecipient = cerrors.FromCode(cerrors.ErrCodeUnknownRecipient)
	ErrClosed           = cerrors.FromCode(cerrors.ErrCodeClosed)
	ErrCancelled        = cerrors.FromCode(cerrors.ErrCodeCanceled)
)

// Directory answers which agents exist. The registry satisfies it.
type Directory interface {
	Contains(id string) bool
	IDs() []string
}

// Option configures a Mailbox.
type Option func(*Mailbox)

// WithBus mirrors every enqueued message onto the bus as JSON under
// bus.MailboxSubject(receiver). Mirroring failures are logged and never
// affect local delivery.
func WithBus(b bus.MessageBus) Option {
	return func(m *Mailbox) {
		m.bus = b
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Mailbox) {
		m.logger = l.WithComponent("mailbox")
	}
}

// Mailbox routes messages to per-agent queues.
type Mailbox struct {
	dir    Directory
	bus    bus.MessageBus
	logger *logging.Logger
	now    func() time.Time

	mu     sync.Mutex
	queues map[string]*queue

	closed atomic.Bool
	done   chan struct{}
}

// New creates a mailbox service that validates recipients against dir.
func New(dir Directory, opts ...Option) *Mailbox {
	m := &Mailbox{
		dir:    dir,
		logger: logging.New().WithComponent("mailbox"),
		now:    time.Now,
		queues: make(map[string]*queue),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Send enqueues a message for its receiver and returns it with ID and
// Timestamp filled in. Sending to Broadcast fans out to every registered
// agent except the sender; individual outcomes are available via Broadcast.
func (m *Mailbox) Send(msg Message) (Message, error) {
	if m.closed.Load() {
		return Message{}, ErrClosed
	}
	if msg.IsBroadcast() {
		m.Broadcast(msg.Sender, msg.Type, msg.Payload, nil)
		return m.stamp(msg), nil
	}
	msg = m.stamp(msg)
	if err := m.enqueue(msg); err != nil {
		return Message{}, err
	}
	m.mirror(msg)
	return msg, nil
}

// enqueue checks the receiver and pushes under one hold of mu, so a message
// never lands in a queue that Drop has already discarded.
func (m *Mailbox) enqueue(msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.dir.Contains(msg.Receiver) {
		return cerrors.UnknownRecipient(msg.Receiver)
	}
	m.queueLocked(msg.Receiver).push(msg)
	return nil
}

// Broadcast sends an independent copy of the payload to each recipient.
// With no recipients, every registered agent except the sender receives one.
// An unknown recipient fails only its own delivery.
func (m *Mailbox) Broadcast(sender string, typ MessageType, payload any, recipients []string) []Delivery {
	if recipients == nil {
		for _, id := range m.dir.IDs() {
			if id != sender {
				recipients = append(recipients, id)
			}
		}
	}

	deliveries := make([]Delivery, 0, len(recipients))
	for _, to := range recipients {
		d := Delivery{Recipient: to}
		if to == Broadcast {
			d.Err = cerrors.InvalidInput("broadcast recipient inside recipient list")
			deliveries = append(deliveries, d)
			continue
		}
		sent, err := m.Send(Message{Sender: sender, Receiver: to, Type: typ, Payload: payload})
		d.MessageID = sent.ID
		d.Err = err
		deliveries = append(deliveries, d)
	}
	return deliveries
}

// Receive pops the oldest message for the agent, blocking until one arrives.
// Returns a CANCELED error when ctx ends, ErrClosed once the service is
// closed and an UNKNOWN_AGENT error if the agent's mailbox is dropped.
// Messages that arrive after cancellation stay queued.
func (m *Mailbox) Receive(ctx context.Context, agentID string) (Message, error) {
	q, err := m.readerQueue(agentID)
	if err != nil {
		return Message{}, err
	}

	for {
		if q.isDropped() {
			return Message{}, cerrors.UnknownAgent(agentID)
		}
		if msg, ok := q.pop(); ok {
			return msg, nil
		}
		select {
		case <-q.signal:
		case <-q.dropped:
		case <-ctx.Done():
			return Message{}, cerrors.Canceled("receive cancelled",
				cerrors.WithAgentID(agentID), cerrors.WithCause(ctx.Err()))
		case <-m.done:
			return Message{}, ErrClosed
		}
	}
}

// TryReceive pops the oldest message without blocking.
func (m *Mailbox) TryReceive(agentID string) (Message, bool, error) {
	q, err := m.readerQueue(agentID)
	if err != nil {
		return Message{}, false, err
	}
	if q.isDropped() {
		return Message{}, false, cerrors.UnknownAgent(agentID)
	}
	msg, ok := q.pop()
	return msg, ok, nil
}

// Pending returns the number of queued messages for an agent.
func (m *Mailbox) Pending(agentID string) int {
	m.mu.Lock()
	q, ok := m.queues[agentID]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	return q.size()
}

// Drop discards an agent's mailbox and returns how many messages it held.
// Readers blocked in Receive for the agent return an UNKNOWN_AGENT error.
// Call it after the agent has left the directory; a later registration
// under the same ID starts with an empty mailbox.
func (m *Mailbox) Drop(agentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[agentID]
	if !ok {
		return 0
	}
	delete(m.queues, agentID)
	return q.drop()
}

// Close wakes all blocked readers with ErrClosed and rejects further sends.
func (m *Mailbox) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	close(m.done)
	return nil
}

func (m *Mailbox) stamp(msg Message) Message {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = m.now()
	}
	return msg
}

func (m *Mailbox) readerQueue(agentID string) (*queue, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if q, ok := m.queues[agentID]; ok {
		return q, nil
	}
	if !m.dir.Contains(agentID) {
		return nil, cerrors.UnknownAgent(agentID)
	}
	return m.queueLocked(agentID), nil
}

// queueLocked returns the agent's queue, creating it. Callers hold mu.
func (m *Mailbox) queueLocked(agentID string) *queue {
	q, ok := m.queues[agentID]
	if !ok {
		q = newQueue()
		m.queues[agentID] = q
	}
	return q
}

func (m *Mailbox) mirror(msg Message) {
	if m.bus == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err == nil {
		err = m.bus.Publish(bus.MailboxSubject(msg.Receiver), data)
	}
	if err != nil {
		m.logger.Warn("mailbox mirror failed", map[string]interface{}{
			"message_id": msg.ID,
			"receiver":   msg.Receiver,
			"error":      err.Error(),
		})
	}
}
