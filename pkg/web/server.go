package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"cityduel/pkg/config"
	"cityduel/pkg/store"
)

const topLimit = 50

// Leaderboard is the slice of the store the web layer needs.
type Leaderboard interface {
	Top(ctx context.Context, limit int) ([]store.Player, error)
}

// Server exposes the leaderboard page, the JSON API and the health
// endpoints over one HTTP listener.
type Server struct {
	cfg        config.WebConfig
	board      Leaderboard
	ready      func() bool
	log        *slog.Logger
	router     chi.Router
	httpServer *http.Server
}

// New builds the server. ready reports whether the bot side of the
// process is up; nil means always ready.
func New(cfg config.WebConfig, board Leaderboard, ready func() bool, log *slog.Logger) *Server {
	if ready == nil {
		ready = func() bool { return true }
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		cfg:   cfg,
		board: board,
		ready: ready,
		log:   log.With("component", "web.server"),
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	corsOpts := cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods: []string{"GET", "HEAD", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}
	if s.cfg.AllowAll {
		corsOpts.AllowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(corsOpts))

	r.Get("/", s.handleIndex)
	r.Get("/api/top", s.handleTop)

	// Uptime pingers probe with any of these verbs.
	r.Get("/ping", s.handlePing)
	r.Head("/ping", s.handlePing)
	r.Post("/ping", s.handlePing)

	r.Get("/healthz", s.handleHealth)
	r.Head("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	return r
}

// Router returns the HTTP handler, used directly by tests.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	page, err := os.ReadFile(s.cfg.IndexFile)
	if err != nil {
		s.log.Warn("Index page unavailable", "path", s.cfg.IndexFile, "error", err)
		http.Error(w, "leaderboard page unavailable", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}

func (s *Server) handleTop(w http.ResponseWriter, r *http.Request) {
	top, err := s.board.Top(r.Context(), topLimit)
	if err != nil {
		s.log.Error("Failed to load leaderboard", "error", err)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "leaderboard unavailable"})
		return
	}

	if top == nil {
		top = []store.Player{}
	}
	s.respondJSON(w, http.StatusOK, top)
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.ready() {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write response", "error", err)
	}
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info("Web server started", "address", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve web: %w", err)
	}
	return nil
}
