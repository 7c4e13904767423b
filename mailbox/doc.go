// Package mailbox delivers addressed and broadcast messages between agents.
//
// Each registered agent owns one FIFO mailbox. Any component may send; only
// the owning agent's reader receives. A message sent to the broadcast
// recipient "*" is cloned once per registered agent other than the sender,
// and each clone gets its own ID.
//
//	mb := mailbox.New(reg)
//	mb.Send(mailbox.Message{Sender: "a1", Receiver: "a2", Type: mailbox.TypeNotice, Payload: "hi"})
//	msg, err := mb.Receive(ctx, "a2")
//
// Receive blocks until a message arrives, the context ends, or the mailbox
// service is closed. Ordering is FIFO per recipient, which implies FIFO per
// sender and recipient pair.
package mailbox
