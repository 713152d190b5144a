package service

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cityduel/pkg/bus"
	"cityduel/pkg/config"
	"cityduel/pkg/dispatch"
)

// scriptedTransport feeds pre-planned event batches to the loop and
// records everything the service pushes back out.
type scriptedTransport struct {
	mu      sync.Mutex
	batches [][]bus.InboundEvent
	sent    []bus.OutboundMessage
	acks    []int64
}

func (t *scriptedTransport) Poll(ctx context.Context) ([]bus.InboundEvent, error) {
	t.mu.Lock()
	if len(t.batches) > 0 {
		batch := t.batches[0]
		t.batches = t.batches[1:]
		t.mu.Unlock()
		return batch, nil
	}
	t.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Millisecond):
		return nil, nil
	}
}

func (t *scriptedTransport) Send(_ context.Context, msg bus.OutboundMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, msg)
	return nil
}

func (t *scriptedTransport) Ack(seq int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.acks = append(t.acks, seq)
}

func (t *scriptedTransport) snapshot() ([]bus.OutboundMessage, []int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]bus.OutboundMessage(nil), t.sent...), append([]int64(nil), t.acks...)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()
	words := filepath.Join(dir, "cities.txt")
	require.NoError(t, os.WriteFile(words, []byte("москва\nастрахань\n"), 0o644))

	cfg := config.Defaults()
	cfg.Token = "test-token"
	cfg.WordsFile = words
	cfg.DBPath = filepath.Join(dir, "duel.db")
	cfg.Web.Host = "127.0.0.1"
	cfg.Web.Port = 0
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewRequiresWordList(t *testing.T) {
	cfg := testConfig(t)
	cfg.WordsFile = filepath.Join(t.TempDir(), "missing.txt")

	_, err := New(cfg, &scriptedTransport{}, discardLogger())
	require.Error(t, err)
	require.Equal(t, dispatch.CategoryConfig, dispatch.Category(err))
}

func TestNewRequiresTransport(t *testing.T) {
	_, err := New(testConfig(t), nil, discardLogger())
	require.Error(t, err)
}

func TestServiceDispatchesAndAcks(t *testing.T) {
	transport := &scriptedTransport{
		batches: [][]bus.InboundEvent{{
			{
				Seq:        10,
				Kind:       bus.KindMessage,
				ChatID:     1,
				SenderID:   1,
				SenderName: "alice",
				Command:    "play",
			},
		}},
	}

	svc, err := New(testConfig(t), transport, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		sent, acks := transport.snapshot()
		return len(sent) == 1 && len(acks) == 1
	}, 2*time.Second, 10*time.Millisecond)

	sent, acks := transport.snapshot()
	require.Equal(t, []int64{10}, acks)
	require.Equal(t, int64(1), sent[0].ChatID)
	require.Contains(t, sent[0].Text, "queue")

	cancel()
	require.NoError(t, <-done)
}

func TestServiceBecomesReady(t *testing.T) {
	svc, err := New(testConfig(t), &scriptedTransport{}, discardLogger())
	require.NoError(t, err)
	require.False(t, svc.Ready())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, svc.Ready, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestUnknownCommandReply(t *testing.T) {
	transport := &scriptedTransport{
		batches: [][]bus.InboundEvent{{
			{
				Seq:      11,
				Kind:     bus.KindMessage,
				ChatID:   2,
				SenderID: 2,
				Command:  "frobnicate",
			},
		}},
	}

	svc, err := New(testConfig(t), transport, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		sent, _ := transport.snapshot()
		return len(sent) == 1
	}, 2*time.Second, 10*time.Millisecond)

	sent, _ := transport.snapshot()
	require.True(t, strings.Contains(sent[0].Text, "Unknown command"))

	cancel()
	require.NoError(t, <-done)
}
