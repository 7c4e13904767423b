package bus

import (
	"sync"

	"github.com/nats-io/nats.go"
)

// natsSubscription adapts a callback subscription to a channel.
type natsSubscription struct {
	sub *nats.Subscription

	mu   sync.Mutex
	ch   chan *Message
	done bool
}

// Messages returns the message channel.
func (s *natsSubscription) Messages() <-chan *Message {
	return s.ch
}

// Unsubscribe cancels the subscription and closes the channel.
func (s *natsSubscription) Unsubscribe() error {
	err := s.sub.Unsubscribe()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.done {
		s.done = true
		close(s.ch)
	}
	return err
}
