package game

import (
	"strings"
	"sync"
	"testing"
	"time"

	"cityduel/pkg/bus"
)

// Chain fixture: москва -> а, астрахань -> н (ь skipped), новгород -> д.
func testWords() *Words {
	return NewWords("москва", "астрахань", "новгород", "дмитров", "волгоград")
}

type capture struct {
	mu       sync.Mutex
	notified []bus.OutboundMessage
	results  []Result
}

func (c *capture) notify(msg bus.OutboundMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notified = append(c.notified, msg)
}

func (c *capture) onResult(r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
}

func (c *capture) snapshot() ([]bus.OutboundMessage, []Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	notified := make([]bus.OutboundMessage, len(c.notified))
	copy(notified, c.notified)
	results := make([]Result, len(c.results))
	copy(results, c.results)
	return notified, results
}

func newTestEngine(t *testing.T, timeout time.Duration) (*Engine, *capture) {
	t.Helper()
	cap := &capture{}
	engine := NewEngine(Config{
		Words:       testWords(),
		TurnTimeout: timeout,
		Notify:      cap.notify,
		OnResult:    cap.onResult,
	})
	t.Cleanup(engine.Stop)
	return engine, cap
}

func startDuel(t *testing.T, engine *Engine) (p1, p2 int64) {
	t.Helper()
	p1, p2 = int64(100), int64(200)

	if msgs := engine.Join(p1); len(msgs) != 1 {
		t.Fatalf("first join produced %d messages, want 1", len(msgs))
	}
	msgs := engine.Join(p2)
	if len(msgs) != 2 {
		t.Fatalf("second join produced %d messages, want 2 kickoff messages", len(msgs))
	}
	if msgs[0].ChatID != p1 {
		t.Fatalf("first mover message went to %d, want %d", msgs[0].ChatID, p1)
	}
	return p1, p2
}

func TestMatchmaking(t *testing.T) {
	engine, _ := newTestEngine(t, time.Minute)
	p1, p2 := startDuel(t, engine)

	if !engine.InDuel(p1) || !engine.InDuel(p2) {
		t.Fatal("both players should be in the duel")
	}

	msgs := engine.Join(p1)
	if len(msgs) != 1 || !strings.Contains(msgs[0].Text, "already in a duel") {
		t.Fatalf("join while dueling = %+v", msgs)
	}
}

func TestQueueJoinLeave(t *testing.T) {
	engine, _ := newTestEngine(t, time.Minute)

	engine.Join(1)
	msgs := engine.Join(1)
	if len(msgs) != 1 || !strings.Contains(msgs[0].Text, "already queued") {
		t.Fatalf("double join = %+v", msgs)
	}

	msgs = engine.Leave(1)
	if len(msgs) != 1 || !strings.Contains(msgs[0].Text, "left the queue") {
		t.Fatalf("leave = %+v", msgs)
	}

	msgs = engine.Leave(1)
	if len(msgs) != 1 || !strings.Contains(msgs[0].Text, "not in the queue") {
		t.Fatalf("leave when absent = %+v", msgs)
	}
}

func TestMoveValidation(t *testing.T) {
	engine, _ := newTestEngine(t, time.Minute)
	p1, p2 := startDuel(t, engine)

	msgs := engine.Move(p2, "москва")
	if len(msgs) != 1 || !strings.Contains(msgs[0].Text, "not your turn") {
		t.Fatalf("out-of-turn move = %+v", msgs)
	}

	msgs = engine.Move(p1, "атлантида")
	if len(msgs) != 1 || !strings.Contains(msgs[0].Text, "isn't in my list") {
		t.Fatalf("unknown city = %+v", msgs)
	}

	msgs = engine.Move(p1, "Москва")
	if len(msgs) != 2 || !strings.Contains(msgs[0].Text, "Accepted") {
		t.Fatalf("valid move = %+v", msgs)
	}
	if msgs[1].ChatID != p2 {
		t.Fatalf("turn handoff went to %d, want %d", msgs[1].ChatID, p2)
	}

	// москва ends with а; новгород starts with н.
	msgs = engine.Move(p2, "новгород")
	if len(msgs) != 1 || !strings.Contains(msgs[0].Text, "starting with А") {
		t.Fatalf("wrong-letter move = %+v", msgs)
	}

	msgs = engine.Move(p2, "москва")
	if len(msgs) != 1 || !strings.Contains(msgs[0].Text, "already played") {
		t.Fatalf("reused city = %+v", msgs)
	}

	msgs = engine.Move(p2, "Астрахань")
	if len(msgs) != 2 {
		t.Fatalf("chained move = %+v", msgs)
	}
	// астрахань ends ь, so the chain continues from н.
	if !strings.Contains(msgs[1].Text, "starting with Н") {
		t.Fatalf("next-letter prompt = %q, want letter Н", msgs[1].Text)
	}
}

func TestSurrenderEndsDuelAndOffersRematch(t *testing.T) {
	engine, cap := newTestEngine(t, time.Minute)
	p1, p2 := startDuel(t, engine)

	msgs := engine.Surrender(p1)
	if len(msgs) != 4 {
		t.Fatalf("surrender produced %d messages, want win+loss+2 rematch offers", len(msgs))
	}
	if msgs[0].ChatID != p2 || !strings.Contains(msgs[0].Text, "You won") {
		t.Fatalf("winner message = %+v", msgs[0])
	}
	if msgs[1].ChatID != p1 || !strings.Contains(msgs[1].Text, "You lost") {
		t.Fatalf("loser message = %+v", msgs[1])
	}

	offers := msgs[2:]
	for _, offer := range offers {
		if len(offer.Buttons) != 1 {
			t.Fatalf("rematch offer without button: %+v", offer)
		}
		if offer.Buttons[0].Data != "rematch:100:200" {
			t.Fatalf("button data = %q", offer.Buttons[0].Data)
		}
	}

	_, results := cap.snapshot()
	if len(results) != 1 || results[0].Winner != p2 || results[0].Loser != p1 {
		t.Fatalf("results = %+v", results)
	}

	if engine.InDuel(p1) || engine.InDuel(p2) {
		t.Fatal("players should be free after the duel ends")
	}
}

func TestTurnDeadlineLosesDuel(t *testing.T) {
	engine, cap := newTestEngine(t, 30*time.Millisecond)
	p1, p2 := startDuel(t, engine)

	deadline := time.After(2 * time.Second)
	for {
		notified, results := cap.snapshot()
		if len(results) == 1 {
			if results[0].Winner != p2 || results[0].Loser != p1 {
				t.Fatalf("timeout result = %+v", results[0])
			}
			if len(notified) == 0 {
				t.Fatal("expected timeout messages through notify")
			}
			return
		}

		select {
		case <-deadline:
			t.Fatal("turn deadline never fired")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestTimerDoesNotFireAfterMove(t *testing.T) {
	engine, cap := newTestEngine(t, 50*time.Millisecond)
	p1, _ := startDuel(t, engine)

	engine.Move(p1, "москва")
	time.Sleep(70 * time.Millisecond)

	_, results := cap.snapshot()
	for _, r := range results {
		if r.Loser == p1 {
			t.Fatalf("stale timer ended the duel against the mover: %+v", r)
		}
	}
}

func TestRematchFlow(t *testing.T) {
	engine, _ := newTestEngine(t, time.Minute)
	p1, p2 := startDuel(t, engine)
	engine.Surrender(p1)

	answer, msgs := engine.RematchTap(p1, p1, p2)
	if !strings.Contains(answer, "Waiting") {
		t.Fatalf("first tap answer = %q", answer)
	}
	if len(msgs) != 1 || msgs[0].ChatID != p2 {
		t.Fatalf("first tap messages = %+v", msgs)
	}

	answer, msgs = engine.RematchTap(p2, p1, p2)
	if !strings.Contains(answer, "Rematch!") {
		t.Fatalf("second tap answer = %q", answer)
	}
	if len(msgs) != 2 {
		t.Fatalf("rematch start messages = %+v", msgs)
	}
	if !engine.InDuel(p1) || !engine.InDuel(p2) {
		t.Fatal("rematch should start a new duel")
	}
}

func TestRematchTapWithdraws(t *testing.T) {
	engine, _ := newTestEngine(t, time.Minute)
	p1, p2 := startDuel(t, engine)
	engine.Surrender(p1)

	engine.RematchTap(p1, p1, p2)
	answer, msgs := engine.RematchTap(p1, p1, p2)
	if !strings.Contains(answer, "withdrew") {
		t.Fatalf("withdraw answer = %q", answer)
	}
	if len(msgs) != 1 || msgs[0].ChatID != p2 {
		t.Fatalf("withdraw messages = %+v", msgs)
	}
}

func TestRematchStrangerRejected(t *testing.T) {
	engine, _ := newTestEngine(t, time.Minute)
	p1, p2 := startDuel(t, engine)
	engine.Surrender(p1)

	answer, msgs := engine.RematchTap(999, p1, p2)
	if !strings.Contains(answer, "not yours") {
		t.Fatalf("stranger answer = %q", answer)
	}
	if msgs != nil {
		t.Fatalf("stranger messages = %+v", msgs)
	}
}

func TestCancelRematch(t *testing.T) {
	engine, _ := newTestEngine(t, time.Minute)
	p1, p2 := startDuel(t, engine)
	engine.Surrender(p1)

	msgs := engine.CancelRematch(p1)
	if len(msgs) != 1 || !strings.Contains(msgs[0].Text, "no pending") {
		t.Fatalf("cancel without offers = %+v", msgs)
	}

	engine.RematchTap(p1, p1, p2)
	msgs = engine.CancelRematch(p1)
	if len(msgs) != 2 {
		t.Fatalf("cancel with one offer = %+v", msgs)
	}
	if msgs[0].ChatID != p1 || msgs[1].ChatID != p2 {
		t.Fatalf("cancel recipients = %+v", msgs)
	}
}
