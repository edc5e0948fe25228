package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palmkit/throttle/internal/config"
)

func skipIfNoRedis(t *testing.T) {
	t.Helper()
	if os.Getenv("TEST_REDIS") != "true" {
		t.Skip("Skipping: TEST_REDIS not set. Run with docker-compose up -d")
	}
}

func testRedisConfig() *config.RedisConfig {
	host := os.Getenv("REDIS_HOST")
	if host == "" {
		host = "localhost"
	}
	return &config.RedisConfig{Host: host, Port: 6379, PoolSize: 5}
}

func newTestRedisBackend(t *testing.T) *RedisBackend {
	t.Helper()
	skipIfNoRedis(t)

	prefix := "throttle-test:" + t.Name() + ":"
	b, err := NewRedisBackend(context.Background(), testRedisConfig(), prefix)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := b.Client().Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			_ = b.Client().Del(ctx, keys...).Err()
		}
		_ = b.Close()
	})
	return b
}

func TestRedisBackend_EmptyPrefix(t *testing.T) {
	_, err := NewRedisBackend(context.Background(), testRedisConfig(), "")
	assert.ErrorIs(t, err, errEmptyPrefix)

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer client.Close()
	b := NewRedisBackendWithClient(client, "")

	removed, err := b.Cleanup(context.Background(), time.Hour)
	assert.ErrorIs(t, err, errEmptyPrefix)
	assert.Equal(t, 0, removed)
}

func TestRedisBackend_Contract(t *testing.T) {
	testBackendContract(t, newTestRedisBackend(t))
}

func TestRedisBackend_Prefix(t *testing.T) {
	b := newTestRedisBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "login_a@b", []byte("v")))

	exists, err := b.Client().Exists(ctx, b.prefix+"login_a_b").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)
}

func TestRedisBackend_CleanupKeepsRecent(t *testing.T) {
	b := newTestRedisBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "k", []byte("v")))

	removed, err := b.Cleanup(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestNewRedisBackend_Unreachable(t *testing.T) {
	cfg := &config.RedisConfig{Host: "127.0.0.1", Port: 1}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewRedisBackend(ctx, cfg, "x:")
	assert.Error(t, err)
}
