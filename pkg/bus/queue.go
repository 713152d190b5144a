package bus

import (
	"context"
	"sync"
)

const defaultQueueSize = 100

// OutboundQueue carries asynchronous outbound messages (turn deadlines,
// duel fanout) toward the dispatch loop's retrying sender. Both ends are
// context- and close-aware so neither side can wedge on shutdown.
type OutboundQueue struct {
	messages chan OutboundMessage

	done      chan struct{}
	closeOnce sync.Once
}

// NewOutboundQueue creates a queue with the given buffer, falling back
// to a sane default for non-positive sizes.
func NewOutboundQueue(size int) *OutboundQueue {
	if size <= 0 {
		size = defaultQueueSize
	}

	return &OutboundQueue{
		messages: make(chan OutboundMessage, size),
		done:     make(chan struct{}),
	}
}

// Publish enqueues a message. It reports false when the queue is closed
// or the context is done before the message is accepted.
func (q *OutboundQueue) Publish(ctx context.Context, msg OutboundMessage) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return false
	case <-q.done:
		return false
	default:
	}

	select {
	case <-ctx.Done():
		return false
	case <-q.done:
		return false
	case q.messages <- msg:
		return true
	}
}

// Consume blocks until a message is available, the context is done, or
// the queue is closed.
func (q *OutboundQueue) Consume(ctx context.Context) (OutboundMessage, bool) {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return OutboundMessage{}, false
	case <-q.done:
		return OutboundMessage{}, false
	case msg := <-q.messages:
		return msg, true
	}
}

// Close releases both ends. Safe to call more than once.
func (q *OutboundQueue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}
