package relay

import (
	"sync"

	"github.com/nearsend/nearsend/internal/protocol"
)

// Outbox accepts messages for one connection. Send must not block.
type Outbox interface {
	Send(msg protocol.Message)
}

// queue is the FIFO outbound queue of a websocket connection, drained by
// the connection's single writer goroutine.
type queue struct {
	mu     sync.Mutex
	items  []protocol.Message
	closed bool
	notify chan struct{}
}

func newQueue() *queue {
	return &queue{notify: make(chan struct{}, 1)}
}

func (q *queue) Send(msg protocol.Message) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, msg)
	q.mu.Unlock()
	q.wake()
}

func (q *queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// drain takes everything queued so far. closed reports that nothing more
// will arrive once the returned batch is written.
func (q *queue) drain() (batch []protocol.Message, closed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	batch, q.items = q.items, nil
	return batch, q.closed
}

func (q *queue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}
