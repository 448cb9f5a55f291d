package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore is the Postgres-backed durable presence store.
type PGStore struct {
	db DBTX
}

// NewPGStore creates a PGStore.
func NewPGStore(db DBTX) *PGStore {
	return &PGStore{db: db}
}

const upsertOnlineSQL = `
INSERT INTO user_presence (user_id, is_online, active_connections, last_seen_at, updated_at)
VALUES ($1, TRUE, 1, $2, $2)
ON CONFLICT (user_id) DO UPDATE
SET is_online = TRUE, active_connections = 1, last_seen_at = $2, updated_at = $2`

// UpsertOnline records the first device of a user.
func (s *PGStore) UpsertOnline(ctx context.Context, userID string, at time.Time) error {
	if _, err := s.db.Exec(ctx, upsertOnlineSQL, userID, at); err != nil {
		return fmt.Errorf("upsert online %s: %w", userID, err)
	}
	return nil
}

const incrementSQL = `
INSERT INTO user_presence (user_id, is_online, active_connections, last_seen_at, updated_at)
VALUES ($1, TRUE, 1, $2, $2)
ON CONFLICT (user_id) DO UPDATE
SET is_online = TRUE,
    active_connections = user_presence.active_connections + 1,
    last_seen_at = $2,
    updated_at = $2`

// IncrementConnections adds a device to an already-online user.
func (s *PGStore) IncrementConnections(ctx context.Context, userID string, at time.Time) error {
	if _, err := s.db.Exec(ctx, incrementSQL, userID, at); err != nil {
		return fmt.Errorf("increment connections %s: %w", userID, err)
	}
	return nil
}

const decrementSQL = `
UPDATE user_presence
SET active_connections = GREATEST(active_connections - 1, 0), last_seen_at = $2, updated_at = $2
WHERE user_id = $1`

// DecrementConnections removes a device; the counter never goes below zero.
func (s *PGStore) DecrementConnections(ctx context.Context, userID string, at time.Time) error {
	if _, err := s.db.Exec(ctx, decrementSQL, userID, at); err != nil {
		return fmt.Errorf("decrement connections %s: %w", userID, err)
	}
	return nil
}

const markOfflineSQL = `
UPDATE user_presence
SET is_online = FALSE, active_connections = 0, last_seen_at = $2, updated_at = $2
WHERE user_id = $1`

// MarkOffline records the last-device disconnect.
func (s *PGStore) MarkOffline(ctx context.Context, userID string, at time.Time) error {
	if _, err := s.db.Exec(ctx, markOfflineSQL, userID, at); err != nil {
		return fmt.Errorf("mark offline %s: %w", userID, err)
	}
	return nil
}

const setAppearOfflineSQL = `
INSERT INTO user_presence (user_id, appear_offline)
VALUES ($1, $2)
ON CONFLICT (user_id) DO UPDATE
SET appear_offline = $2, updated_at = now()`

// SetAppearOffline persists the visibility override.
func (s *PGStore) SetAppearOffline(ctx context.Context, userID string, flag bool) error {
	if _, err := s.db.Exec(ctx, setAppearOfflineSQL, userID, flag); err != nil {
		return fmt.Errorf("set appear offline %s: %w", userID, err)
	}
	return nil
}

// LastSeen returns the durable last-seen time.
func (s *PGStore) LastSeen(ctx context.Context, userID string) (time.Time, bool, error) {
	var t time.Time
	err := s.db.QueryRow(ctx, `SELECT last_seen_at FROM user_presence WHERE user_id = $1`, userID).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last seen %s: %w", userID, err)
	}
	return t, true, nil
}

// OnlineUserIDs lists users the durable store believes are online.
func (s *PGStore) OnlineUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT user_id FROM user_presence WHERE is_online`)
	if err != nil {
		return nil, fmt.Errorf("list online users: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan online users: %w", err)
	}
	return ids, nil
}

// Get loads the full durable record. It returns nil when absent.
func (s *PGStore) Get(ctx context.Context, userID string) (*Record, error) {
	rec := &Record{UserID: userID}
	err := s.db.QueryRow(ctx, `
SELECT is_online, active_connections, last_seen_at, appear_offline
FROM user_presence WHERE user_id = $1`, userID).
		Scan(&rec.IsOnline, &rec.ActiveConnections, &rec.LastSeenAt, &rec.AppearOffline)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get presence %s: %w", userID, err)
	}
	return rec, nil
}
