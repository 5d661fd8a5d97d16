package actor

import (
	"context"
	"sync"
)

// mailbox is an unbounded FIFO queue with a single consumer. push never
// blocks; pop blocks until a message arrives, the mailbox is closed or the
// context ends.
type mailbox[M any] struct {
	mu     sync.Mutex
	queue  []M
	closed bool
	// ready holds at most one wakeup for the consumer.
	ready chan struct{}
}

func newMailbox[M any]() *mailbox[M] {
	return &mailbox[M]{ready: make(chan struct{}, 1)}
}

func (m *mailbox[M]) push(msg M) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, msg)
	m.mu.Unlock()
	m.wake()
	return true
}

func (m *mailbox[M]) wake() {
	select {
	case m.ready <- struct{}{}:
	default:
	}
}

// pop returns the oldest message. ok is false once the context is done, or
// once the mailbox is closed and drained.
func (m *mailbox[M]) pop(ctx context.Context) (msg M, ok bool) {
	for {
		if ctx.Err() != nil {
			return msg, false
		}
		m.mu.Lock()
		if len(m.queue) > 0 {
			msg = m.queue[0]
			var zero M
			m.queue[0] = zero
			m.queue = m.queue[1:]
			m.mu.Unlock()
			return msg, true
		}
		closed := m.closed
		m.mu.Unlock()
		if closed {
			return msg, false
		}
		select {
		case <-m.ready:
		case <-ctx.Done():
			return msg, false
		}
	}
}

func (m *mailbox[M]) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.wake()
}

func (m *mailbox[M]) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}
