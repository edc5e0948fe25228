package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/palmkit/throttle/pkg/logger"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS ratelimit_records (
    key        TEXT PRIMARY KEY,
    data       BLOB NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ratelimit_records_updated_at ON ratelimit_records(updated_at);
`

// SQLiteBackend stores records in an embedded SQLite database.
type SQLiteBackend struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteBackend opens (or creates) the database file at path and
// ensures the schema exists.
func NewSQLiteBackend(ctx context.Context, path string, log *logger.Logger) (*SQLiteBackend, error) {
	if log == nil {
		log = logger.Discard()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer at a time; a single connection serializes
	// access instead of surfacing "database is locked".
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		log.Warn("failed to enable WAL mode", "error", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		log.Warn("failed to set busy timeout", "error", err)
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteBackend{db: db, now: time.Now}, nil
}

// Get reads the record for key.
func (b *SQLiteBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := b.db.QueryRowContext(ctx,
		`SELECT data FROM ratelimit_records WHERE key = ?`, SanitizeKey(key)).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("sqlite get failed: %w", err)
	}
	return data, nil
}

// Set upserts the record for key.
func (b *SQLiteBackend) Set(ctx context.Context, key string, value []byte) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO ratelimit_records (key, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		SanitizeKey(key), value, b.now().UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite set failed: %w", err)
	}
	return nil
}

// Delete removes the record for key.
func (b *SQLiteBackend) Delete(ctx context.Context, key string) error {
	if _, err := b.db.ExecContext(ctx,
		`DELETE FROM ratelimit_records WHERE key = ?`, SanitizeKey(key)); err != nil {
		return fmt.Errorf("sqlite delete failed: %w", err)
	}
	return nil
}

// Cleanup deletes rows not written within maxAge.
func (b *SQLiteBackend) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := b.now().Add(-maxAge).UnixNano()
	res, err := b.db.ExecContext(ctx,
		`DELETE FROM ratelimit_records WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sqlite cleanup failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite cleanup failed: %w", err)
	}
	return int(n), nil
}

// Ping checks the database connection.
func (b *SQLiteBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// Close closes the database.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

var _ Backend = (*SQLiteBackend)(nil)
