package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/palmkit/throttle/internal/config"
	"github.com/palmkit/throttle/internal/database"
)

// PostgresBackend stores records in the ratelimit_records table.
type PostgresBackend struct {
	pool *database.Pool
	now  func() time.Time
}

// NewPostgresBackend connects to PostgreSQL and applies pending migrations.
func NewPostgresBackend(ctx context.Context, cfg *config.DatabaseConfig) (*PostgresBackend, error) {
	pool, err := database.NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return NewPostgresBackendWithPool(pool), nil
}

// NewPostgresBackendWithPool wraps an existing, already migrated pool.
func NewPostgresBackendWithPool(pool *database.Pool) *PostgresBackend {
	return &PostgresBackend{pool: pool, now: time.Now}
}

// Get reads the record for key.
func (b *PostgresBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := b.pool.QueryRow(ctx,
		`SELECT data FROM ratelimit_records WHERE key = $1`, SanitizeKey(key)).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("postgres get failed: %w", err)
	}
	return data, nil
}

// Set upserts the record for key.
func (b *PostgresBackend) Set(ctx context.Context, key string, value []byte) error {
	_, err := b.pool.Exec(ctx, `
		INSERT INTO ratelimit_records (key, data, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		SanitizeKey(key), value, b.now())
	if err != nil {
		return fmt.Errorf("postgres set failed: %w", err)
	}
	return nil
}

// Delete removes the record for key.
func (b *PostgresBackend) Delete(ctx context.Context, key string) error {
	if _, err := b.pool.Exec(ctx,
		`DELETE FROM ratelimit_records WHERE key = $1`, SanitizeKey(key)); err != nil {
		return fmt.Errorf("postgres delete failed: %w", err)
	}
	return nil
}

// Cleanup deletes rows not written within maxAge.
func (b *PostgresBackend) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	tag, err := b.pool.Exec(ctx,
		`DELETE FROM ratelimit_records WHERE updated_at < $1`, b.now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("postgres cleanup failed: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Ping checks the database connection.
func (b *PostgresBackend) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

// Close closes the pool.
func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}

// Pool returns the underlying connection pool.
func (b *PostgresBackend) Pool() *database.Pool {
	return b.pool
}

var _ Backend = (*PostgresBackend)(nil)
