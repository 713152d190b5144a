package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned for lookups of players that never played.
var ErrNotFound = errors.New("player not found")

// Store persists player statistics in SQLite.
type Store struct {
	db *sql.DB
}

// Player is one leaderboard row.
type Player struct {
	UserID        int64  `json:"user_id"`
	Username      string `json:"username"`
	Country       string `json:"country,omitempty"`
	Wins          int    `json:"wins"`
	CurrentStreak int    `json:"current_streak"`
	MaxStreak     int    `json:"max_streak"`
	Rank          int    `json:"rank,omitempty"`
}

const schema = `
CREATE TABLE IF NOT EXISTS players (
    user_id        INTEGER PRIMARY KEY,
    username       TEXT NOT NULL DEFAULT 'Player',
    country        TEXT NOT NULL DEFAULT '',
    wins           INTEGER NOT NULL DEFAULT 0,
    current_streak INTEGER NOT NULL DEFAULT 0,
    max_streak     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_players_wins ON players(wins DESC, username ASC);
`

// Open creates or opens the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return s, nil
}

// OpenMemory opens an in-memory database, used by tests.
func OpenMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open in-memory database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert ensures the player exists, refreshing the display name when
// one is provided.
func (s *Store) Upsert(ctx context.Context, userID int64, username string) error {
	var err error
	if username == "" {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO players (user_id) VALUES (?)
			ON CONFLICT(user_id) DO NOTHING`, userID)
	} else {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO players (user_id, username) VALUES (?, ?)
			ON CONFLICT(user_id) DO UPDATE SET username = excluded.username`,
			userID, username)
	}
	if err != nil {
		return fmt.Errorf("upsert player %d: %w", userID, err)
	}
	return nil
}

// SetCountry updates the country shown next to the player in the top.
func (s *Store) SetCountry(ctx context.Context, userID int64, country string) error {
	if err := s.Upsert(ctx, userID, ""); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE players SET country = ? WHERE user_id = ?`, country, userID)
	if err != nil {
		return fmt.Errorf("set country for %d: %w", userID, err)
	}
	return nil
}

// RecordWin increments wins and the current streak, raising the best
// streak when passed.
func (s *Store) RecordWin(ctx context.Context, userID int64) error {
	if err := s.Upsert(ctx, userID, ""); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record win for %d: %w", userID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE players SET wins = wins + 1, current_streak = current_streak + 1
		WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("record win for %d: %w", userID, err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE players SET max_streak = current_streak
		WHERE user_id = ? AND current_streak > max_streak`, userID); err != nil {
		return fmt.Errorf("update streak for %d: %w", userID, err)
	}

	return tx.Commit()
}

// ResetStreak zeroes the player's current win streak.
func (s *Store) ResetStreak(ctx context.Context, userID int64) error {
	if err := s.Upsert(ctx, userID, ""); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`UPDATE players SET current_streak = 0 WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("reset streak for %d: %w", userID, err)
	}
	return nil
}

// Top returns up to limit players ordered by wins, then username, with
// positions filled in.
func (s *Store) Top(ctx context.Context, limit int) ([]Player, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, username, country, wins, max_streak
		FROM players ORDER BY wins DESC, username ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query top: %w", err)
	}
	defer rows.Close()

	var top []Player
	rank := 1
	for rows.Next() {
		var p Player
		if err := rows.Scan(&p.UserID, &p.Username, &p.Country, &p.Wins, &p.MaxStreak); err != nil {
			return nil, fmt.Errorf("scan top row: %w", err)
		}
		p.Rank = rank
		rank++
		top = append(top, p)
	}

	return top, rows.Err()
}

// Rank returns the player's leaderboard position and win count.
func (s *Store) Rank(ctx context.Context, userID int64) (int, int, error) {
	var wins int
	err := s.db.QueryRowContext(ctx,
		`SELECT wins FROM players WHERE user_id = ?`, userID).Scan(&wins)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, ErrNotFound
	}
	if err != nil {
		return 0, 0, fmt.Errorf("query wins for %d: %w", userID, err)
	}

	var higher int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM players WHERE wins > ?`, wins).Scan(&higher); err != nil {
		return 0, 0, fmt.Errorf("query rank for %d: %w", userID, err)
	}

	return higher + 1, wins, nil
}

// Profile returns the player's full record including rank.
func (s *Store) Profile(ctx context.Context, userID int64) (Player, error) {
	var p Player
	p.UserID = userID

	err := s.db.QueryRowContext(ctx, `
		SELECT username, country, wins, current_streak, max_streak
		FROM players WHERE user_id = ?`, userID).
		Scan(&p.Username, &p.Country, &p.Wins, &p.CurrentStreak, &p.MaxStreak)
	if errors.Is(err, sql.ErrNoRows) {
		return Player{}, ErrNotFound
	}
	if err != nil {
		return Player{}, fmt.Errorf("query profile for %d: %w", userID, err)
	}

	var higher int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM players WHERE wins > ?`, p.Wins).Scan(&higher); err != nil {
		return Player{}, fmt.Errorf("query rank for %d: %w", userID, err)
	}
	p.Rank = higher + 1

	return p, nil
}
