// Package journal persists result commits that could not be settled so an
// operator can finish them. It is an alert queue, not match history: rows are
// written only when a settlement is stuck and marked resolved once retried.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	apperrors "github.com/Freakkio/Sector7/internal/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS unresolved (
    match_id    TEXT PRIMARY KEY,
    winner      TEXT NOT NULL,
    player1     TEXT NOT NULL,
    player2     TEXT NOT NULL,
    stake       TEXT NOT NULL,
    escrow_tx   TEXT NOT NULL DEFAULT '',
    reason      TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    resolved_at TIMESTAMP,
    result_tx   TEXT NOT NULL DEFAULT ''
);
`

// Entry is one stuck settlement.
type Entry struct {
	MatchID    string
	Winner     string // player address or the draw sentinel
	Players    [2]string
	Stake      string
	EscrowTx   string
	Reason     string
	CreatedAt  time.Time
	ResolvedAt *time.Time
	ResultTx   string
}

// Store is a SQLite-backed journal.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the journal at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open database: %w", err)
	}
	// SQLite has a single writer.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("journal: %s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// RecordUnresolved stores e. Recording the same match again refreshes the
// reason and reopens it.
func (s *Store) RecordUnresolved(ctx context.Context, e Entry) error {
	if e.MatchID == "" || e.Winner == "" {
		return apperrors.New(apperrors.CodeInvalidRequest, "journal: entry needs match id and winner")
	}
	const q = `
		INSERT INTO unresolved (match_id, winner, player1, player2, stake, escrow_tx, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(match_id) DO UPDATE SET
			reason = excluded.reason, resolved_at = NULL, result_tx = ''`
	if _, err := s.db.ExecContext(ctx, q, e.MatchID, e.Winner, e.Players[0], e.Players[1], e.Stake, e.EscrowTx, e.Reason); err != nil {
		return fmt.Errorf("journal: record %s: %w", e.MatchID, err)
	}
	return nil
}

// ListUnresolved returns open entries, oldest first.
func (s *Store) ListUnresolved(ctx context.Context) ([]Entry, error) {
	const q = `
		SELECT match_id, winner, player1, player2, stake, escrow_tx, reason, created_at
		FROM unresolved WHERE resolved_at IS NULL ORDER BY created_at, match_id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.MatchID, &e.Winner, &e.Players[0], &e.Players[1], &e.Stake, &e.EscrowTx, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Get loads one entry, resolved or not.
func (s *Store) Get(ctx context.Context, matchID string) (Entry, error) {
	const q = `
		SELECT match_id, winner, player1, player2, stake, escrow_tx, reason, created_at, resolved_at, result_tx
		FROM unresolved WHERE match_id = ?`
	var (
		e        Entry
		resolved sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, q, matchID).Scan(&e.MatchID, &e.Winner, &e.Players[0], &e.Players[1],
		&e.Stake, &e.EscrowTx, &e.Reason, &e.CreatedAt, &resolved, &e.ResultTx)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, apperrors.Newf(apperrors.CodeNotFound, "journal: no entry for %s", matchID)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("journal: get %s: %w", matchID, err)
	}
	if resolved.Valid {
		e.ResolvedAt = &resolved.Time
	}
	return e, nil
}

// MarkResolved closes an open entry with the commit transaction.
func (s *Store) MarkResolved(ctx context.Context, matchID, resultTx string) error {
	const q = `UPDATE unresolved SET resolved_at = CURRENT_TIMESTAMP, result_tx = ? WHERE match_id = ? AND resolved_at IS NULL`
	res, err := s.db.ExecContext(ctx, q, resultTx, matchID)
	if err != nil {
		return fmt.Errorf("journal: resolve %s: %w", matchID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("journal: resolve %s: %w", matchID, err)
	}
	if n == 0 {
		return apperrors.Newf(apperrors.CodeNotFound, "journal: no open entry for %s", matchID)
	}
	return nil
}
