package mailbox

import "time"

// MessageType identifies the kind of message.
type MessageType string

const (
	// TypeNotice is a free-form message between agents.
	TypeNotice MessageType = "notice"

	// TypeTaskResult carries the final outcome of a task to its ReplyTo agent.
	TypeTaskResult MessageType = "task_result"

	// TypeShutdown asks agents to finish their work and stop.
	TypeShutdown MessageType = "shutdown"
)

// Broadcast is the receiver value for messages intended for every agent.
const Broadcast = "*"

// Message is an addressed payload.
type Message struct {
	ID        string      `json:"id"`
	Sender    string      `json:"sender"`
	Receiver  string      `json:"receiver"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// IsBroadcast returns true if the message is addressed to all agents.
func (m Message) IsBroadcast() bool {
	return m.Receiver == Broadcast
}

// Delivery is the outcome of delivering one broadcast copy.
type Delivery struct {
	Recipient string
	MessageID string
	Err       error
}

// OK reports whether the copy was enqueued.
func (d Delivery) OK() bool {
	return d.Err == nil
}

// TaskResult is the payload of a TypeTaskResult message.
type TaskResult struct {
	TaskID  string `json:"task_id"`
	AgentID string `json:"agent_id"`
	Status  string `json:"status"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}
