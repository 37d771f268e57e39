// Package snapshot persists the active message set per channel so a client
// restart can reconstruct in-flight messages. The snapshot is a cache, not a
// source of truth: losing it loses only ephemeral state, and a corrupt or
// missing record is treated as empty.
package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a channel has no stored snapshot.
var ErrNotFound = errors.New("snapshot not found")

// Store is a sqlite-backed snapshot store keyed by channel id.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the snapshot database at path. Use ":memory:"
// for an ephemeral store.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open snapshot database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect snapshot database: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	const stmt = `CREATE TABLE IF NOT EXISTS channel_snapshots (
		channel_id TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		updated_at TEXT NOT NULL
	)`
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("initialize snapshot schema: %w", err)
	}
	return nil
}

// Save upserts the snapshot payload for a channel and stamps it.
func (s *Store) Save(ctx context.Context, channelID string, payload []byte) error {
	const stmt = `INSERT INTO channel_snapshots (channel_id, payload, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(channel_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`

	updatedAt := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx, stmt, channelID, payload, updatedAt); err != nil {
		return fmt.Errorf("save snapshot for %s: %w", channelID, err)
	}
	return nil
}

// Load returns the stored payload and its update stamp for a channel.
func (s *Store) Load(ctx context.Context, channelID string) ([]byte, time.Time, error) {
	const query = `SELECT payload, updated_at FROM channel_snapshots WHERE channel_id = ?`

	var payload []byte
	var stamp string
	err := s.db.QueryRowContext(ctx, query, channelID).Scan(&payload, &stamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, ErrNotFound
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("load snapshot for %s: %w", channelID, err)
	}

	updatedAt, err := time.Parse(time.RFC3339Nano, stamp)
	if err != nil {
		// A bad stamp does not invalidate the payload.
		updatedAt = time.Time{}
	}
	return payload, updatedAt, nil
}

// Delete removes the snapshot for a channel. Deleting a missing snapshot
// is a no-op.
func (s *Store) Delete(ctx context.Context, channelID string) error {
	const stmt = `DELETE FROM channel_snapshots WHERE channel_id = ?`
	if _, err := s.db.ExecContext(ctx, stmt, channelID); err != nil {
		return fmt.Errorf("delete snapshot for %s: %w", channelID, err)
	}
	return nil
}
