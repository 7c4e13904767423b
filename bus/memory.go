package bus

import (
	"sync"
	"sync/atomic"
)

// MemoryBus is an in-process MessageBus. Delivery never blocks the
// publisher: a subscriber with a full buffer misses the message.
type MemoryBus struct {
	bufferSize int

	// mu guards subs and closed. Publish holds it for reading while it
	// sends so no subscription channel is closed mid-send.
	mu     sync.RWMutex
	subs   map[*memorySub]struct{}
	closed bool

	dropped atomic.Int64
}

type memorySub struct {
	bus     *MemoryBus
	pattern string
	ch      chan *Message
}

// NewMemoryBus creates an in-memory bus.
func NewMemoryBus(cfg Config) *MemoryBus {
	size := cfg.BufferSize
	if size <= 0 {
		size = DefaultConfig().BufferSize
	}
	return &MemoryBus{
		bufferSize: size,
		subs:       make(map[*memorySub]struct{}),
	}
}

// Publish delivers a copy of data to every subscription whose pattern
// matches subject.
func (b *MemoryBus) Publish(subject string, data []byte) error {
	if err := validatePublishSubject(subject); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	for sub := range b.subs {
		if !MatchSubject(sub.pattern, subject) {
			continue
		}
		msg := &Message{Subject: subject, Data: append([]byte(nil), data...)}
		select {
		case sub.ch <- msg:
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers a subscription for a subject pattern.
func (b *MemoryBus) Subscribe(subject string) (Subscription, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	sub := &memorySub{
		bus:     b,
		pattern: subject,
		ch:      make(chan *Message, b.bufferSize),
	}
	b.subs[sub] = struct{}{}
	return sub, nil
}

// Dropped returns how many deliveries were skipped because a subscriber's
// buffer was full.
func (b *MemoryBus) Dropped() int64 {
	return b.dropped.Load()
}

// Close ends every subscription. Later calls are no-ops.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	for sub := range b.subs {
		close(sub.ch)
	}
	b.subs = nil
	return nil
}

// Messages returns the delivery channel. It is closed on Unsubscribe or
// when the bus closes.
func (s *memorySub) Messages() <-chan *Message {
	return s.ch
}

// Unsubscribe removes the subscription. Repeated calls are no-ops.
func (s *memorySub) Unsubscribe() error {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[s]; !ok {
		return nil
	}
	delete(b.subs, s)
	close(s.ch)
	return nil
}
