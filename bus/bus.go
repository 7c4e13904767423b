package bus

import (
	"strings"

	cerrors "github.com/vinayprograms/agentcoord/errors"
)

// Common errors.
var (
	ErrClosed         = cerrors.FromCode(cerrors.ErrCodeClosed)
	ErrInvalidSubject = cerrors.InvalidInput("invalid subject")
)

// Subject roots used by the coordination core.
const (
	SubjectEvents    = "coord.events"
	SubjectHeartbeat = "coord.heartbeat"
	SubjectMailbox   = "coord.mailbox"
)

// EventSubject returns the subject an event type is published on.
func EventSubject(eventType string) string {
	return SubjectEvents + "." + eventType
}

// MailboxSubject returns the subject mirroring an agent's mailbox.
func MailboxSubject(agentID string) string {
	return SubjectMailbox + "." + agentID
}

// Message represents a message received from the bus.
type Message struct {
	// Subject the message was published to.
	Subject string

	// Data is the message payload.
	Data []byte
}

// MessageBus provides publish/subscribe messaging.
type MessageBus interface {
	// Publish sends a message to all subscribers of a subject.
	Publish(subject string, data []byte) error

	// Subscribe creates a subscription. The subject may contain wildcards.
	Subscribe(subject string) (Subscription, error)

	// Close shuts down the bus and ends all subscriptions.
	Close() error
}

// Subscription represents an active subscription.
type Subscription interface {
	// Messages returns the channel for incoming messages.
	// Channel is closed when subscription ends.
	Messages() <-chan *Message

	// Unsubscribe cancels the subscription.
	Unsubscribe() error
}

// Config holds common bus configuration.
type Config struct {
	// BufferSize for subscription channels. Messages are dropped for a
	// subscriber whose buffer is full.
	// Default: 256
	BufferSize int
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize: 256,
	}
}

// ValidateSubject checks that a subject has no empty tokens or whitespace.
// Wildcards are allowed; Publish rejects them separately.
func ValidateSubject(subject string) error {
	if subject == "" || strings.ContainsAny(subject, " \t\r\n") {
		return ErrInvalidSubject
	}
	tokens := strings.Split(subject, ".")
	for i, tok := range tokens {
		if tok == "" {
			return ErrInvalidSubject
		}
		if tok == ">" && i != len(tokens)-1 {
			return ErrInvalidSubject
		}
	}
	return nil
}

func validatePublishSubject(subject string) error {
	if err := ValidateSubject(subject); err != nil {
		return err
	}
	for _, tok := range strings.Split(subject, ".") {
		if tok == "*" || tok == ">" {
			return ErrInvalidSubject
		}
	}
	return nil
}

// MatchSubject reports whether subject matches pattern. "*" matches one
// token and a trailing ">" matches one or more.
func MatchSubject(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")

	for i, p := range pt {
		if p == ">" {
			return len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if p != "*" && p != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}
