package game

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"cityduel/pkg/bus"
)

// Result describes a finished duel. Loser is zero for draws.
type Result struct {
	Winner int64
	Loser  int64
	Draw   bool
	Reason string
}

// Config wires the engine's collaborators.
type Config struct {
	Words       *Words
	TurnTimeout time.Duration

	// Notify carries messages produced outside a handler chain, such
	// as turn-deadline expiries. Must be non-blocking-safe.
	Notify func(bus.OutboundMessage)

	// OnResult records win/loss/draw statistics.
	OnResult func(Result)

	Logger *slog.Logger
}

type pairKey struct {
	low, high int64
}

func newPairKey(a, b int64) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{low: a, high: b}
}

type duel struct {
	id         string
	players    [2]int64
	turn       int64
	lastLetter rune
	used       map[string]struct{}
	moves      int
	lastMover  int64
	lastCity   string
	startedAt  time.Time

	timer *time.Timer
	// moveSeq guards against stale deadline timers firing after a
	// move already passed the turn.
	moveSeq int
}

func (d *duel) opponentOf(userID int64) int64 {
	if d.players[0] == userID {
		return d.players[1]
	}
	return d.players[0]
}

// Engine holds all live duels, the matchmaking queue and rematch
// offers. The dispatch loop is single-threaded, but deadline timers
// fire on their own goroutines, so every entry point takes the mutex.
type Engine struct {
	mu sync.Mutex

	words       *Words
	turnTimeout time.Duration
	notify      func(bus.OutboundMessage)
	onResult    func(Result)
	log         *slog.Logger

	duels     map[string]*duel
	playersIn map[int64]string
	waiting   int64
	rematch   map[pairKey]map[int64]struct{}
}

// NewEngine builds an empty engine.
func NewEngine(cfg Config) *Engine {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	notify := cfg.Notify
	if notify == nil {
		notify = func(bus.OutboundMessage) {}
	}

	timeout := cfg.TurnTimeout
	if timeout <= 0 {
		timeout = 25 * time.Second
	}

	return &Engine{
		words:       cfg.Words,
		turnTimeout: timeout,
		notify:      notify,
		onResult:    cfg.OnResult,
		log:         log.With("component", "game.engine"),
		duels:       make(map[string]*duel),
		playersIn:   make(map[int64]string),
		rematch:     make(map[pairKey]map[int64]struct{}),
	}
}

func duelID(a, b int64) string {
	key := newPairKey(a, b)
	return fmt.Sprintf("duel_%d_%d", key.low, key.high)
}

// InDuel reports whether the player has an active duel.
func (e *Engine) InDuel(userID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.playersIn[userID]
	return ok
}

// Join puts the player into the matchmaking queue, or starts a duel
// when an opponent is already waiting.
func (e *Engine) Join(userID int64) []bus.OutboundMessage {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, busy := e.playersIn[userID]; busy {
		return []bus.OutboundMessage{bus.Reply(userID,
			"You're already in a duel. Finish it first (/surrender) or wait for it to end.")}
	}

	if e.waiting == userID {
		return []bus.OutboundMessage{bus.Reply(userID,
			"You're already queued. Hold on for an opponent, or send /leave to step out.")}
	}

	if e.waiting == 0 {
		e.waiting = userID
		return []bus.OutboundMessage{bus.Reply(userID,
			"You're in the queue. I'll match you with an opponent — send /leave if you change your mind.")}
	}

	opponent := e.waiting
	e.waiting = 0
	return e.startDuelLocked(opponent, userID, opponent)
}

// Leave removes the player from the matchmaking queue.
func (e *Engine) Leave(userID int64) []bus.OutboundMessage {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.waiting == userID {
		e.waiting = 0
		return []bus.OutboundMessage{bus.Reply(userID,
			"Okay, you left the queue. Come back whenever you want to play!")}
	}

	return []bus.OutboundMessage{bus.Reply(userID,
		"You're not in the queue. Send /play to join it.")}
}

// Surrender concedes the player's active duel.
func (e *Engine) Surrender(userID int64) []bus.OutboundMessage {
	e.mu.Lock()
	defer e.mu.Unlock()

	id, ok := e.playersIn[userID]
	if !ok {
		return []bus.OutboundMessage{bus.Reply(userID, "You're not in a duel right now.")}
	}

	d, ok := e.duels[id]
	if !ok {
		delete(e.playersIn, userID)
		return []bus.OutboundMessage{bus.Reply(userID, "Couldn't find your duel — try again later.")}
	}

	return e.endDuelLocked(d, d.opponentOf(userID), false, "surrender")
}

// Move applies one word from the player whose turn it is.
func (e *Engine) Move(userID int64, text string) []bus.OutboundMessage {
	e.mu.Lock()
	defer e.mu.Unlock()

	id, ok := e.playersIn[userID]
	if !ok {
		return nil
	}
	d, ok := e.duels[id]
	if !ok {
		return nil
	}

	if d.turn != userID {
		return []bus.OutboundMessage{bus.Reply(userID,
			"It's not your turn. Please wait for your opponent's move.")}
	}

	city := Normalize(text)
	if city == "" {
		return []bus.OutboundMessage{bus.Reply(userID,
			"I couldn't read a city name there. Send just the name as text.")}
	}

	if !e.words.Contains(city) {
		return []bus.OutboundMessage{bus.Reply(userID,
			"That city isn't in my list. Check the spelling and try again.")}
	}

	if _, used := d.used[city]; used {
		return []bus.OutboundMessage{bus.Reply(userID,
			"That city was already played in this duel — pick another one.")}
	}

	if d.lastLetter != 0 {
		first := []rune(city)[0]
		if first != d.lastLetter {
			return []bus.OutboundMessage{bus.Reply(userID, fmt.Sprintf(
				"You need a city starting with %s. Try again.", letterDisplay(d.lastLetter)))}
		}
	}

	d.used[city] = struct{}{}
	d.moves++
	d.moveSeq++
	d.lastLetter = LastLetter(city)
	d.lastMover = userID
	d.lastCity = city

	opponent := d.opponentOf(userID)
	d.turn = opponent
	e.armTimerLocked(d)

	return []bus.OutboundMessage{
		bus.Reply(userID, fmt.Sprintf("Accepted: %s. The turn passes to your opponent.", city)),
		bus.Reply(opponent, fmt.Sprintf(
			"Your opponent played: %s\nYour move — answer with a city starting with %s. You have %s. Good luck!",
			city, letterDisplay(d.lastLetter), e.turnTimeout)),
	}
}

// RematchTap processes one press of the inline rematch button for the
// pair (p1, p2). The first return value answers the callback query.
func (e *Engine) RematchTap(userID, p1, p2 int64) (string, []bus.OutboundMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if userID != p1 && userID != p2 {
		return "This rematch offer is not yours.", nil
	}

	key := newPairKey(p1, p2)
	offers, ok := e.rematch[key]
	if !ok {
		offers = make(map[int64]struct{})
		e.rematch[key] = offers
	}

	other := p1
	if userID == p1 {
		other = p2
	}

	if _, accepted := offers[userID]; accepted {
		delete(offers, userID)
		if len(offers) == 0 {
			delete(e.rematch, key)
		}
		return "You withdrew your rematch offer.",
			[]bus.OutboundMessage{bus.Reply(other, "Your opponent withdrew their rematch offer.")}
	}

	offers[userID] = struct{}{}
	if len(offers) < 2 {
		return "Rematch accepted. Waiting for the other player...",
			[]bus.OutboundMessage{bus.Reply(other, "Your opponent wants a rematch — tap the button to accept.")}
	}

	delete(e.rematch, key)

	if _, busy := e.playersIn[p1]; busy {
		return "Rematch canceled.", bothReply(p1, p2, "One of you is already in another duel — rematch canceled.")
	}
	if _, busy := e.playersIn[p2]; busy {
		return "Rematch canceled.", bothReply(p1, p2, "One of you is already in another duel — rematch canceled.")
	}

	return "Rematch! Starting a new duel.", e.startDuelLocked(p1, p2, p1)
}

// CancelRematch withdraws every pending rematch offer by the player.
func (e *Engine) CancelRematch(userID int64) []bus.OutboundMessage {
	e.mu.Lock()
	defer e.mu.Unlock()

	var messages []bus.OutboundMessage
	for key, offers := range e.rematch {
		if _, ok := offers[userID]; !ok {
			continue
		}
		delete(offers, userID)
		if len(offers) == 0 {
			delete(e.rematch, key)
		}

		other := key.low
		if userID == key.low {
			other = key.high
		}
		messages = append(messages, bus.Reply(other, "Your opponent canceled their rematch offer."))
	}

	if messages == nil {
		return []bus.OutboundMessage{bus.Reply(userID, "You have no pending rematch offers.")}
	}

	return append([]bus.OutboundMessage{bus.Reply(userID, "Okay — your rematch offer is canceled.")}, messages...)
}

// Stop cancels all deadline timers; live duels are abandoned. Called
// on shutdown only.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, d := range e.duels {
		if d.timer != nil {
			d.timer.Stop()
		}
	}
}

func bothReply(a, b int64, text string) []bus.OutboundMessage {
	return []bus.OutboundMessage{bus.Reply(a, text), bus.Reply(b, text)}
}

func letterDisplay(letter rune) string {
	if letter == 0 {
		return "?"
	}
	return strings.ToUpper(string(letter))
}

// startDuelLocked creates the duel and returns the kickoff messages.
// Caller holds the mutex.
func (e *Engine) startDuelLocked(p1, p2, first int64) []bus.OutboundMessage {
	id := duelID(p1, p2)
	if _, exists := e.duels[id]; exists {
		return nil
	}

	d := &duel{
		id:        id,
		players:   [2]int64{p1, p2},
		turn:      first,
		used:      make(map[string]struct{}),
		startedAt: time.Now(),
	}
	e.duels[id] = d
	e.playersIn[p1] = id
	e.playersIn[p2] = id

	second := d.opponentOf(first)
	e.armTimerLocked(d)

	e.log.Info("Duel started", "duel", id, "first", first, "second", second)

	return []bus.OutboundMessage{
		bus.Reply(first, fmt.Sprintf(
			"Opponent found! The duel is on — you move first.\nName any city from the list. You have %s per turn. Good luck!",
			e.turnTimeout)),
		bus.Reply(second, "Opponent found! The duel is on — waiting for your opponent's first move."),
	}
}

// armTimerLocked schedules the deadline for the current turn holder,
// replacing any previous timer. Caller holds the mutex.
func (e *Engine) armTimerLocked(d *duel) {
	if d.timer != nil {
		d.timer.Stop()
	}

	duelID := d.id
	player := d.turn
	seq := d.moveSeq
	d.timer = time.AfterFunc(e.turnTimeout, func() {
		e.expireTurn(duelID, player, seq)
	})
}

// expireTurn fires when a turn deadline passes without a move.
func (e *Engine) expireTurn(duelID string, player int64, seq int) {
	e.mu.Lock()
	d, ok := e.duels[duelID]
	if !ok || d.turn != player || d.moveSeq != seq {
		e.mu.Unlock()
		return
	}

	messages := e.endDuelLocked(d, d.opponentOf(player), false,
		fmt.Sprintf("turn time expired (%s per turn)", e.turnTimeout))
	e.mu.Unlock()

	for _, msg := range messages {
		e.notify(msg)
	}
}

// endDuelLocked finishes a duel, reports the result and returns the
// closing messages including rematch offers. Caller holds the mutex.
func (e *Engine) endDuelLocked(d *duel, winner int64, draw bool, reason string) []bus.OutboundMessage {
	if d.timer != nil {
		d.timer.Stop()
	}

	p1, p2 := d.players[0], d.players[1]
	delete(e.duels, d.id)
	delete(e.playersIn, p1)
	delete(e.playersIn, p2)

	var messages []bus.OutboundMessage
	result := Result{Draw: draw, Reason: reason}

	if draw {
		messages = bothReply(p1, p2, fmt.Sprintf("It's a draw — %s.", reason))
	} else {
		loser := d.opponentOf(winner)
		result.Winner = winner
		result.Loser = loser
		messages = []bus.OutboundMessage{
			bus.Reply(winner, fmt.Sprintf("You won! Reason: %s.", reason)),
			bus.Reply(loser, fmt.Sprintf("You lost — your opponent takes the duel. Reason: %s.", reason)),
		}
	}

	e.log.Info("Duel finished", "duel", d.id, "winner", result.Winner, "draw", draw, "reason", reason, "moves", d.moves)

	if e.onResult != nil {
		e.onResult(result)
	}

	button := bus.Button{Text: "↻ Rematch", Data: fmt.Sprintf("rematch:%d:%d", p1, p2)}
	for _, player := range []int64{p1, p2} {
		offer := bus.Reply(player, "Tap the button to offer or accept a rematch.")
		offer.Buttons = []bus.Button{button}
		messages = append(messages, offer)
	}

	return messages
}
