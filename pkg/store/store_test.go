package store

import (
	"context"
	"errors"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertRefreshesUsername(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Upsert(ctx, 1, "alice"); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}
	if err := s.Upsert(ctx, 1, "alice_v2"); err != nil {
		t.Fatalf("Upsert error: %v", err)
	}

	p, err := s.Profile(ctx, 1)
	if err != nil {
		t.Fatalf("Profile error: %v", err)
	}
	if p.Username != "alice_v2" {
		t.Fatalf("Username = %q, want alice_v2", p.Username)
	}
}

func TestRecordWinTracksStreaks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.RecordWin(ctx, 1); err != nil {
			t.Fatalf("RecordWin error: %v", err)
		}
	}

	p, err := s.Profile(ctx, 1)
	if err != nil {
		t.Fatalf("Profile error: %v", err)
	}
	if p.Wins != 3 || p.CurrentStreak != 3 || p.MaxStreak != 3 {
		t.Fatalf("after 3 wins: %+v", p)
	}

	if err := s.ResetStreak(ctx, 1); err != nil {
		t.Fatalf("ResetStreak error: %v", err)
	}
	if err := s.RecordWin(ctx, 1); err != nil {
		t.Fatalf("RecordWin error: %v", err)
	}

	p, err = s.Profile(ctx, 1)
	if err != nil {
		t.Fatalf("Profile error: %v", err)
	}
	if p.Wins != 4 || p.CurrentStreak != 1 || p.MaxStreak != 3 {
		t.Fatalf("after reset and one win: %+v", p)
	}
}

func TestTopOrderingAndRanks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Upsert(ctx, 1, "carol")
	s.Upsert(ctx, 2, "bob")
	s.Upsert(ctx, 3, "dave")

	for i := 0; i < 5; i++ {
		s.RecordWin(ctx, 2)
	}
	for i := 0; i < 5; i++ {
		s.RecordWin(ctx, 1)
	}
	s.RecordWin(ctx, 3)

	top, err := s.Top(ctx, 50)
	if err != nil {
		t.Fatalf("Top error: %v", err)
	}
	if len(top) != 3 {
		t.Fatalf("Top len = %d, want 3", len(top))
	}

	// Equal wins break ties by username.
	if top[0].Username != "bob" || top[1].Username != "carol" || top[2].Username != "dave" {
		t.Fatalf("Top order = %s, %s, %s", top[0].Username, top[1].Username, top[2].Username)
	}
	for i, p := range top {
		if p.Rank != i+1 {
			t.Fatalf("rank[%d] = %d, want %d", i, p.Rank, i+1)
		}
	}

	top, err = s.Top(ctx, 2)
	if err != nil {
		t.Fatalf("Top error: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("limited Top len = %d, want 2", len(top))
	}
}

func TestRank(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.RecordWin(ctx, 1)
	s.RecordWin(ctx, 1)
	s.RecordWin(ctx, 2)

	rank, wins, err := s.Rank(ctx, 2)
	if err != nil {
		t.Fatalf("Rank error: %v", err)
	}
	if rank != 2 || wins != 1 {
		t.Fatalf("Rank = (%d, %d), want (2, 1)", rank, wins)
	}

	if _, _, err := s.Rank(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Rank for missing player: %v, want ErrNotFound", err)
	}
}

func TestProfileNotFound(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Profile(context.Background(), 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Profile for missing player: %v, want ErrNotFound", err)
	}
}

func TestSetCountry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SetCountry(ctx, 1, "Russia"); err != nil {
		t.Fatalf("SetCountry error: %v", err)
	}

	p, err := s.Profile(ctx, 1)
	if err != nil {
		t.Fatalf("Profile error: %v", err)
	}
	if p.Country != "Russia" {
		t.Fatalf("Country = %q, want Russia", p.Country)
	}
}
