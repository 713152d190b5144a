package bus

import (
	"context"
	"testing"
	"time"
)

func TestQueueRoundTrip(t *testing.T) {
	q := NewOutboundQueue(10)
	t.Cleanup(q.Close)

	in := Reply(42, "hello")
	if ok := q.Publish(context.Background(), in); !ok {
		t.Fatal("expected publish to succeed")
	}

	out, ok := q.Consume(context.Background())
	if !ok {
		t.Fatal("expected consume to succeed")
	}
	if out.ChatID != 42 || out.Text != "hello" {
		t.Fatalf("consumed %+v, want chat 42 text hello", out)
	}
}

func TestQueueCloseStopsOperations(t *testing.T) {
	q := NewOutboundQueue(10)
	q.Close()

	if ok := q.Publish(context.Background(), Reply(1, "x")); ok {
		t.Fatal("expected publish to fail after close")
	}
	if _, ok := q.Consume(context.Background()); ok {
		t.Fatal("expected consume to fail after close")
	}
}

func TestQueueContextCancellation(t *testing.T) {
	q := NewOutboundQueue(10)
	t.Cleanup(q.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if ok := q.Publish(ctx, Reply(1, "x")); ok {
		t.Fatal("expected publish to fail on canceled context")
	}
	if _, ok := q.Consume(ctx); ok {
		t.Fatal("expected consume to fail on canceled context")
	}
}

func TestQueueConsumeUnblocksOnClose(t *testing.T) {
	q := NewOutboundQueue(10)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = q.Consume(context.Background())
	}()

	q.Close()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("consume did not unblock after close")
	}
}

func TestCallbackAnswerShape(t *testing.T) {
	msg := CallbackAnswer("cb-1", "done")
	if msg.Kind != KindCallbackAnswer {
		t.Fatalf("kind = %q, want %q", msg.Kind, KindCallbackAnswer)
	}
	if msg.CallbackID != "cb-1" || msg.Text != "done" {
		t.Fatalf("unexpected message %+v", msg)
	}
}
