package mailbox

import "sync"

// queue is one agent's FIFO. signal holds at most one pending wake-up.
// dropped is closed once the queue leaves the mailbox.
type queue struct {
	mu      sync.Mutex
	items   []Message
	signal  chan struct{}
	dropped chan struct{}
}

func newQueue() *queue {
	return &queue{
		signal:  make(chan struct{}, 1),
		dropped: make(chan struct{}),
	}
}

func (q *queue) push(msg Message) {
	q.mu.Lock()
	q.items = append(q.items, msg)
	q.mu.Unlock()
	q.wake()
}

func (q *queue) pop() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Message{}, false
	}
	msg := q.items[0]
	q.items[0] = Message{}
	q.items = q.items[1:]
	if len(q.items) > 0 {
		// Pass the wake-up on so a second reader is not stranded
		q.wake()
	}
	return msg, true
}

func (q *queue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// drop discards the queued messages and returns how many there were.
// Callers hold the mailbox lock, so drop runs once per queue.
func (q *queue) drop() int {
	q.mu.Lock()
	n := len(q.items)
	q.items = nil
	q.mu.Unlock()
	close(q.dropped)
	return n
}

func (q *queue) isDropped() bool {
	select {
	case <-q.dropped:
		return true
	default:
		return false
	}
}

func (q *queue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
