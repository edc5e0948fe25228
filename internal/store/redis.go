package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/palmkit/throttle/internal/config"
)

// cleanupScanCount is the SCAN batch hint used during cleanup.
const cleanupScanCount = 500

// RedisBackend stores records as plain Redis strings under a key prefix.
// Redis SET replaces values atomically, so readers never see partial data.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// errEmptyPrefix refuses to treat the whole database as records.
var errEmptyPrefix = errors.New("redis backend needs a key prefix")

// NewRedisBackend connects to Redis and verifies connectivity.
func NewRedisBackend(ctx context.Context, cfg *config.RedisConfig, prefix string) (*RedisBackend, error) {
	if prefix == "" {
		return nil, errEmptyPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisBackendWithClient(client, prefix), nil
}

// NewRedisBackendWithClient wraps an existing client.
func NewRedisBackendWithClient(client *redis.Client, prefix string) *RedisBackend {
	return &RedisBackend{client: client, prefix: prefix}
}

// Get retrieves a value from Redis.
func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := b.client.Get(ctx, b.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return val, nil
}

// Set stores a value without expiry; stale keys are removed by Cleanup.
func (b *RedisBackend) Set(ctx context.Context, key string, value []byte) error {
	if err := b.client.Set(ctx, b.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Delete removes a value from Redis.
func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, b.key(key)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// Cleanup scans the prefix and deletes keys idle for longer than maxAge.
// Idle time is reset by reads as well as writes, so a record that is
// still being checked is never swept.
func (b *RedisBackend) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	if b.prefix == "" {
		return 0, errEmptyPrefix
	}

	removed := 0
	iter := b.client.Scan(ctx, 0, b.prefix+"*", cleanupScanCount).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		idle, err := b.client.ObjectIdleTime(ctx, key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return removed, fmt.Errorf("redis idle time failed: %w", err)
		}
		if idle <= maxAge {
			continue
		}

		n, err := b.client.Del(ctx, key).Result()
		if err != nil {
			return removed, fmt.Errorf("redis delete failed: %w", err)
		}
		removed += int(n)
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis scan failed: %w", err)
	}
	return removed, nil
}

// Ping checks if Redis is reachable.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

// Client returns the underlying Redis client.
func (b *RedisBackend) Client() *redis.Client {
	return b.client
}

func (b *RedisBackend) key(key string) string {
	return b.prefix + SanitizeKey(key)
}

var _ Backend = (*RedisBackend)(nil)
