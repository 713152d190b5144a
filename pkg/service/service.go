package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cityduel/pkg/bot"
	"cityduel/pkg/bus"
	"cityduel/pkg/config"
	"cityduel/pkg/dispatch"
	"cityduel/pkg/game"
	"cityduel/pkg/store"
	"cityduel/pkg/web"
)

const notifyQueueSize = 256

// Service assembles the duel engine, the dispatch loop and the web
// server into one runnable unit.
type Service struct {
	cfg   *config.Config
	log   *slog.Logger
	store *store.Store
	queue *bus.OutboundQueue

	engine *game.Engine
	loop   *dispatch.Loop
	web    *web.Server
}

// New wires all components around the given transport. The caller owns
// transport construction so tests can script one.
func New(cfg *config.Config, transport dispatch.Transport, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if transport == nil {
		return nil, errors.New("transport is required")
	}
	if log == nil {
		log = slog.Default()
	}

	words, err := game.LoadWords(cfg.WordsFile)
	if err != nil {
		return nil, dispatch.ConfigError("load word list", err)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	queue := bus.NewOutboundQueue(notifyQueueSize)

	// The engine and the handlers reference each other: the engine
	// reports results through the handlers, the handlers drive the
	// engine. The late-bound pointer breaks the cycle.
	var handlers *bot.Handlers
	engine := game.NewEngine(game.Config{
		Words:       words,
		TurnTimeout: time.Duration(cfg.RoundSeconds) * time.Second,
		Notify: func(msg bus.OutboundMessage) {
			queue.Publish(context.Background(), msg)
		},
		OnResult: func(result game.Result) {
			handlers.RecordResult(result)
		},
		Logger: log,
	})
	handlers = bot.New(engine, st, log)

	loop := dispatch.NewLoop(transport, dispatch.NewRegistry(handlers.Routes()), dispatch.Options{
		Notifications:   queue,
		MaxSendAttempts: cfg.SendMaxAttempts,
		Logger:          log,
	})

	return &Service{
		cfg:    cfg,
		log:    log.With("component", "service"),
		store:  st,
		queue:  queue,
		engine: engine,
		loop:   loop,
		web:    web.New(cfg.Web, st, loop.Running, log),
	}, nil
}

// Ready reports whether the dispatch loop is polling. The web server's
// readiness endpoint uses this.
func (s *Service) Ready() bool {
	return s.loop.Running()
}

// Run blocks until ctx is canceled or a component fails, then tears
// everything down.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.shutdown()

	errCh := make(chan error, 2)

	go func() {
		if err := s.web.Run(runCtx); err != nil {
			errCh <- fmt.Errorf("run web server: %w", err)
		}
	}()

	go func() {
		if err := s.loop.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("run dispatch loop: %w", err)
		}
	}()

	s.log.Info("Service started",
		"round_seconds", s.cfg.RoundSeconds,
		"web_port", s.cfg.Web.Port)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Service) shutdown() {
	s.engine.Stop()
	s.queue.Close()
	if err := s.store.Close(); err != nil {
		s.log.Warn("Failed to close store", "error", err)
	}
	s.log.Info("Service stopped")
}
