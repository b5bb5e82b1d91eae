// Package fallback keeps the last successful payload of each cache key in a
// local SQLite file. It is an opportunistic cold-start cache, never a system
// of record.
package fallback

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	key        TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	fetched_at INTEGER NOT NULL,
	saved_at   INTEGER NOT NULL
)`

// Store is a SQLite-backed snapshot table.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path with WAL journaling.
// ":memory:" gives a private in-memory database.
func Open(path string) (*Store, error) {
	dsn := "file::memory:?_pragma=journal_mode(WAL)"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, err
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" coherent and serializes writers.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("fallback schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save upserts the payload for key.
func (s *Store) Save(ctx context.Context, key string, payload []byte, fetchedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (key, payload, fetched_at, saved_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, fetched_at = excluded.fetched_at, saved_at = excluded.saved_at`,
		key, payload, fetchedAt.UnixMilli(), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("fallback save %q: %w", key, err)
	}
	return nil
}

// Load returns the payload for key. ok is false when nothing is stored.
func (s *Store) Load(ctx context.Context, key string) ([]byte, time.Time, bool, error) {
	var (
		payload []byte
		at      int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT payload, fetched_at FROM snapshots WHERE key = ?`, key).Scan(&payload, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("fallback load %q: %w", key, err)
	}
	return payload, time.UnixMilli(at), true, nil
}

// Prune deletes snapshots saved before cutoff and reports how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE saved_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("fallback prune: %w", err)
	}
	return res.RowsAffected()
}
