package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"cityduel/pkg/bus"
	"cityduel/pkg/dispatch"
	"cityduel/pkg/game"
	"cityduel/pkg/store"
)

const topLimit = 50

const statsTimeout = 5 * time.Second

// Handlers binds the command catalog to the duel engine and the
// leaderboard store.
type Handlers struct {
	engine *game.Engine
	store  *store.Store
	log    *slog.Logger
}

// New builds the handler set.
func New(engine *game.Engine, st *store.Store, log *slog.Logger) *Handlers {
	if log == nil {
		log = slog.Default()
	}

	return &Handlers{
		engine: engine,
		store:  st,
		log:    log.With("component", "bot.handlers"),
	}
}

// Routes returns the full routing table for the dispatch registry.
func (h *Handlers) Routes() dispatch.Routes {
	return dispatch.Routes{
		Commands: map[string]bus.Handler{
			"start":          h.Start,
			"help":           h.Start,
			"play":           h.Play,
			"leave":          h.Leave,
			"surrender":      h.Surrender,
			"top":            h.Top,
			"myrank":         h.MyRank,
			"profile":        h.Profile,
			"country":        h.Country,
			"cancel_rematch": h.CancelRematch,
		},
		Text: h.Move,
		Callbacks: map[string]bus.Handler{
			"rematch": h.Rematch,
		},
	}
}

// RecordResult persists a finished duel's outcome. Wired as the
// engine's result callback, so it runs outside any handler chain.
func (h *Handlers) RecordResult(result game.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
	defer cancel()

	if result.Draw {
		for _, player := range []int64{result.Winner, result.Loser} {
			if player == 0 {
				continue
			}
			if err := h.store.ResetStreak(ctx, player); err != nil {
				h.log.Error("Failed to reset streak", "error", err, "user_id", player)
			}
		}
		return
	}

	if err := h.store.RecordWin(ctx, result.Winner); err != nil {
		h.log.Error("Failed to record win", "error", err, "user_id", result.Winner)
	}
	if err := h.store.ResetStreak(ctx, result.Loser); err != nil {
		h.log.Error("Failed to reset streak", "error", err, "user_id", result.Loser)
	}
}

// Start greets the player and lists the commands. Also serves /help.
func (h *Handlers) Start(ctx context.Context, event bus.InboundEvent) ([]bus.OutboundMessage, error) {
	if err := h.store.Upsert(ctx, event.SenderID, event.SenderName); err != nil {
		h.log.Warn("Failed to upsert player", "error", err, "user_id", event.SenderID)
	}

	return []bus.OutboundMessage{bus.Reply(event.ChatID, helpText)}, nil
}

// Play queues the player for a duel.
func (h *Handlers) Play(ctx context.Context, event bus.InboundEvent) ([]bus.OutboundMessage, error) {
	if err := h.store.Upsert(ctx, event.SenderID, event.SenderName); err != nil {
		h.log.Warn("Failed to upsert player", "error", err, "user_id", event.SenderID)
	}

	return h.engine.Join(event.SenderID), nil
}

// Leave exits the matchmaking queue.
func (h *Handlers) Leave(_ context.Context, event bus.InboundEvent) ([]bus.OutboundMessage, error) {
	return h.engine.Leave(event.SenderID), nil
}

// Surrender concedes the active duel.
func (h *Handlers) Surrender(_ context.Context, event bus.InboundEvent) ([]bus.OutboundMessage, error) {
	return h.engine.Surrender(event.SenderID), nil
}

// Move applies free text as a duel move. Text from players without an
// active duel is ignored, matching how the bot behaves in chats.
func (h *Handlers) Move(_ context.Context, event bus.InboundEvent) ([]bus.OutboundMessage, error) {
	return h.engine.Move(event.SenderID, event.Text), nil
}

// Top renders the leaderboard.
func (h *Handlers) Top(ctx context.Context, event bus.InboundEvent) ([]bus.OutboundMessage, error) {
	top, err := h.store.Top(ctx, topLimit)
	if err != nil {
		return []bus.OutboundMessage{bus.Reply(event.ChatID, somethingWrongText)}, err
	}

	if len(top) == 0 {
		return []bus.OutboundMessage{bus.Reply(event.ChatID,
			"No wins yet — the board is empty. Be the first!")}, nil
	}

	lines := make([]string, 0, len(top)+1)
	lines = append(lines, fmt.Sprintf("Top %d by wins and best streak:", topLimit))
	for _, p := range top {
		if p.Country != "" {
			lines = append(lines, fmt.Sprintf("%d. %s (%s) — %d wins — best streak: %d",
				p.Rank, p.Username, p.Country, p.Wins, p.MaxStreak))
		} else {
			lines = append(lines, fmt.Sprintf("%d. %s — %d wins — best streak: %d",
				p.Rank, p.Username, p.Wins, p.MaxStreak))
		}
	}

	return []bus.OutboundMessage{bus.Reply(event.ChatID, strings.Join(lines, "\n"))}, nil
}

// MyRank shows the player's leaderboard position.
func (h *Handlers) MyRank(ctx context.Context, event bus.InboundEvent) ([]bus.OutboundMessage, error) {
	rank, wins, err := h.store.Rank(ctx, event.SenderID)
	if errors.Is(err, store.ErrNotFound) {
		return []bus.OutboundMessage{bus.Reply(event.ChatID,
			"Looks like you have no wins yet. Start playing and you'll appear on the board!")}, nil
	}
	if err != nil {
		return []bus.OutboundMessage{bus.Reply(event.ChatID, somethingWrongText)}, err
	}

	return []bus.OutboundMessage{bus.Reply(event.ChatID, fmt.Sprintf(
		"Your rank: %d\nWins: %d\nTo set your country — /country <name>", rank, wins))}, nil
}

// Profile shows the player's full record.
func (h *Handlers) Profile(ctx context.Context, event bus.InboundEvent) ([]bus.OutboundMessage, error) {
	profile, err := h.store.Profile(ctx, event.SenderID)
	if errors.Is(err, store.ErrNotFound) {
		return []bus.OutboundMessage{bus.Reply(event.ChatID,
			"No profile yet — start a duel (/play) and I'll track your stats.")}, nil
	}
	if err != nil {
		return []bus.OutboundMessage{bus.Reply(event.ChatID, somethingWrongText)}, err
	}

	text := fmt.Sprintf(
		"Profile: %s\nRank: %d\nWins: %d\nCurrent streak: %d\nBest streak: %d",
		profile.Username, profile.Rank, profile.Wins, profile.CurrentStreak, profile.MaxStreak)
	if profile.Country != "" {
		text += "\nCountry: " + profile.Country
	}

	return []bus.OutboundMessage{bus.Reply(event.ChatID, text)}, nil
}

// Country stores the player's country for the leaderboard.
func (h *Handlers) Country(ctx context.Context, event bus.InboundEvent) ([]bus.OutboundMessage, error) {
	if len(event.Args) == 0 {
		return []bus.OutboundMessage{bus.Reply(event.ChatID, "Name a country: /country Russia")}, nil
	}

	country := strings.Join(event.Args, " ")
	if err := h.store.Upsert(ctx, event.SenderID, event.SenderName); err != nil {
		h.log.Warn("Failed to upsert player", "error", err, "user_id", event.SenderID)
	}
	if err := h.store.SetCountry(ctx, event.SenderID, country); err != nil {
		return []bus.OutboundMessage{bus.Reply(event.ChatID, somethingWrongText)}, err
	}

	return []bus.OutboundMessage{bus.Reply(event.ChatID, fmt.Sprintf(
		"Saved: %s. It'll be shown if you make the top %d.", country, topLimit))}, nil
}

// CancelRematch withdraws the player's pending rematch offers.
func (h *Handlers) CancelRematch(_ context.Context, event bus.InboundEvent) ([]bus.OutboundMessage, error) {
	return h.engine.CancelRematch(event.SenderID), nil
}

// Rematch handles a press of the inline rematch button. The callback
// data carries both player ids: "rematch:<p1>:<p2>".
func (h *Handlers) Rematch(_ context.Context, event bus.InboundEvent) ([]bus.OutboundMessage, error) {
	p1, p2, err := parseRematchData(event.CallbackData)
	if err != nil {
		return []bus.OutboundMessage{bus.CallbackAnswer(event.CallbackID, "Malformed request.")}, nil
	}

	answer, messages := h.engine.RematchTap(event.SenderID, p1, p2)
	return append([]bus.OutboundMessage{bus.CallbackAnswer(event.CallbackID, answer)}, messages...), nil
}

func parseRematchData(data string) (int64, int64, error) {
	parts := strings.Split(data, ":")
	if len(parts) != 3 {
		return 0, 0, fmt.Errorf("malformed rematch data %q", data)
	}

	p1, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed rematch data %q: %w", data, err)
	}
	p2, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed rematch data %q: %w", data, err)
	}

	return p1, p2, nil
}
