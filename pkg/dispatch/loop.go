package dispatch

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"cityduel/pkg/bus"
)

const (
	defaultMaxSendAttempts = 4
	defaultBaseDelay       = 500 * time.Millisecond
	defaultMaxDelay        = 30 * time.Second
)

// Transport is the platform-facing side of the dispatch loop.
type Transport interface {
	// Poll blocks until at least one event is available or the
	// transport's long-poll timeout elapses, preserving platform
	// delivery order.
	Poll(ctx context.Context) ([]bus.InboundEvent, error)

	// Send delivers one outbound message. A single attempt; the loop
	// owns retries.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// Ack marks an event's sequence id as consumed so the platform
	// never redelivers it.
	Ack(seq int64)
}

// Options tune the loop; zero values fall back to defaults.
type Options struct {
	// Notifications carries asynchronous outbound messages produced
	// outside the handler chain (turn deadlines, duel fanout).
	Notifications *bus.OutboundQueue

	MaxSendAttempts int
	BaseDelay       time.Duration
	MaxDelay        time.Duration

	Logger *slog.Logger
}

// Loop pulls inbound events from the transport and routes each to its
// handler: Idle -> Polling -> Dispatching -> Idle until the context is
// canceled. One event's full handler chain completes before the next
// poll, so handler ordering follows platform delivery order.
type Loop struct {
	transport Transport
	registry  *Registry
	notify    *bus.OutboundQueue
	log       *slog.Logger

	maxSendAttempts int
	baseDelay       time.Duration
	maxDelay        time.Duration

	// sleep is swapped out in tests to observe backoff delays.
	sleep func(ctx context.Context, d time.Duration) bool

	running atomic.Bool
}

// NewLoop wires a transport and an immutable registry into a loop.
func NewLoop(transport Transport, registry *Registry, opts Options) *Loop {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	maxAttempts := opts.MaxSendAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxSendAttempts
	}

	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}

	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}

	return &Loop{
		transport:       transport,
		registry:        registry,
		notify:          opts.Notifications,
		log:             log.With("component", "dispatch.loop"),
		maxSendAttempts: maxAttempts,
		baseDelay:       baseDelay,
		maxDelay:        maxDelay,
		sleep:           sleepCtx,
	}
}

// Running reports whether the loop is currently polling. Used by the
// readiness endpoint.
func (l *Loop) Running() bool {
	return l.running.Load()
}

// Run polls and dispatches until ctx is canceled. An in-flight handler
// chain always completes before Run returns nil.
func (l *Loop) Run(ctx context.Context) error {
	l.running.Store(true)
	defer l.running.Store(false)

	if l.notify != nil {
		go l.drainNotifications(ctx)
	}

	pollFailures := 0

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		events, err := l.transport.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			pollFailures++
			delay := l.backoff(pollFailures)
			l.log.Warn("Poll failed, backing off", "error", err, "failures", pollFailures, "delay", delay)
			if !l.sleep(ctx, delay) {
				return nil
			}
			continue
		}
		pollFailures = 0

		for _, event := range events {
			l.dispatch(ctx, event)
		}
	}
}

// dispatch routes one event. The event is acknowledged exactly once,
// whether the handler succeeds or fails; redelivery storms are worse
// than a lost reply.
func (l *Loop) dispatch(ctx context.Context, event bus.InboundEvent) {
	handler := l.registry.Resolve(event)

	replies, err := handler(ctx, event)
	l.transport.Ack(event.Seq)

	if err != nil {
		l.log.Error("Handler failed",
			"error", HandlerError("handle event", err),
			"seq", event.Seq,
			"chat_id", event.ChatID,
			"command", event.Command)
	}

	for _, msg := range replies {
		_ = l.Send(ctx, msg)
	}
}

// Send delivers one outbound message with bounded exponential backoff.
// Only the final attempt's outcome is logged at a visible level; the
// failure is surfaced to the caller but never stops the loop. Safe for
// concurrent use.
func (l *Loop) Send(ctx context.Context, msg bus.OutboundMessage) error {
	var lastErr error

	for attempt := 1; attempt <= l.maxSendAttempts; attempt++ {
		lastErr = l.transport.Send(ctx, msg)
		if lastErr == nil {
			if attempt > 1 {
				l.log.Info("Send recovered after retries", "chat_id", msg.ChatID, "attempts", attempt)
			}
			return nil
		}

		if ctx.Err() != nil {
			break
		}

		if attempt < l.maxSendAttempts {
			delay := l.backoff(attempt)
			l.log.Debug("Send attempt failed, retrying", "error", lastErr, "attempt", attempt, "delay", delay)
			if !l.sleep(ctx, delay) {
				break
			}
		}
	}

	err := TransportError("send message", lastErr)
	l.log.Error("Send failed after retries", "error", err, "chat_id", msg.ChatID, "attempts", l.maxSendAttempts)
	return err
}

// drainNotifications forwards queued asynchronous messages through the
// same retrying sender as handler replies.
func (l *Loop) drainNotifications(ctx context.Context) {
	for {
		msg, ok := l.notify.Consume(ctx)
		if !ok {
			return
		}
		_ = l.Send(ctx, msg)
	}
}

// backoff returns the delay before retry n (n starts at 1), doubling
// from the base and capped at the maximum.
func (l *Loop) backoff(n int) time.Duration {
	delay := l.baseDelay
	for i := 1; i < n; i++ {
		delay *= 2
		if delay >= l.maxDelay {
			return l.maxDelay
		}
	}
	if delay > l.maxDelay {
		return l.maxDelay
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
