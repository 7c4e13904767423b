package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuffer is the per-subscriber buffer used by Attach.
const DefaultBuffer = 256

// Sink consumes events on its own goroutine.
type Sink interface {
	Handle(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Handle implements Sink.
func (f SinkFunc) Handle(ev Event) { f(ev) }

type subscriber struct {
	ch     chan Event
	closed bool
}

// Emitter fans events out to subscribers without blocking the emitter.
type Emitter struct {
	mu     sync.RWMutex
	subs   []*subscriber
	closed bool

	dropped atomic.Uint64
	sinks   sync.WaitGroup
	now     func() time.Time
}

// NewEmitter creates an emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{now: time.Now}
}

// Emit stamps and delivers an event to every subscriber with room for it.
func (e *Emitter) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.now()
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return
	}
	for _, s := range e.subs {
		select {
		case s.ch <- ev:
		default:
			e.dropped.Add(1)
		}
	}
}

// Subscribe returns a channel of events and a function that ends the
// subscription and closes the channel.
func (e *Emitter) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	s := &subscriber{ch: make(chan Event, buffer)}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		close(s.ch)
		return s.ch, func() {}
	}
	e.subs = append(e.subs, s)
	e.mu.Unlock()

	return s.ch, func() { e.unsubscribe(s) }
}

// Attach runs sink on its own goroutine until the emitter is closed.
func (e *Emitter) Attach(sink Sink) {
	ch, _ := e.Subscribe(DefaultBuffer)
	e.sinks.Add(1)
	go func() {
		defer e.sinks.Done()
		for ev := range ch {
			sink.Handle(ev)
		}
	}()
}

// Dropped returns how many deliveries were skipped because a subscriber
// was full.
func (e *Emitter) Dropped() uint64 {
	return e.dropped.Load()
}

// Close ends every subscription and waits for attached sinks to drain.
func (e *Emitter) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for _, s := range e.subs {
		if !s.closed {
			s.closed = true
			close(s.ch)
		}
	}
	e.subs = nil
	e.mu.Unlock()

	e.sinks.Wait()
}

func (e *Emitter) unsubscribe(target *subscriber) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, s := range e.subs {
		if s == target {
			e.subs = append(e.subs[:i], e.subs[i+1:]...)
			break
		}
	}
	if !target.closed {
		target.closed = true
		close(target.ch)
	}
}
