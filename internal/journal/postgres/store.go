// Package postgres persists the booking event journal.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/urbanserve/dispatch-core/internal/journal"
)

type Store struct {
	pool *pgxpool.Pool
}

var _ journal.Journal = (*Store)(nil)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool and verifies connectivity.
func Connect(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Record(ctx context.Context, e journal.Event) error {
	at := e.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO booking_events (
			event_id, session_id, event_type, attempt_id, booking_id, reason, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, uuid.NewString(), e.SessionID, string(e.Type), nullIfEmpty(e.AttemptID), nullIfZero(e.BookingID), nullIfEmpty(e.Reason), at)
	if err != nil {
		return fmt.Errorf("insert booking event: %w", err)
	}
	return nil
}

// ListBySession returns a session's events oldest first.
func (s *Store) ListBySession(ctx context.Context, sessionID string) ([]journal.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT session_id, event_type, COALESCE(attempt_id, ''), COALESCE(booking_id, 0), COALESCE(reason, ''), created_at
		FROM booking_events
		WHERE session_id = $1
		ORDER BY created_at ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query booking events: %w", err)
	}
	defer rows.Close()

	var out []journal.Event
	for rows.Next() {
		var e journal.Event
		var typ string
		if err := rows.Scan(&e.SessionID, &typ, &e.AttemptID, &e.BookingID, &e.Reason, &e.At); err != nil {
			return nil, fmt.Errorf("scan booking event: %w", err)
		}
		e.Type = journal.EventType(typ)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate booking events: %w", err)
	}
	return out, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(n int64) any {
	if n == 0 {
		return nil
	}
	return n
}
