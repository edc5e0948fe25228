package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/palmkit/throttle/internal/store"
)

func TestJanitor_SweepOnce(t *testing.T) {
	backend, err := store.NewFileBackend(t.TempDir(), nil)
	require.NoError(t, err)
	env := newTestEnvWithBackend(backend)
	ctx := context.Background()

	require.True(t, env.store.Write(ctx, "login", "old", &WindowRecord{}))
	require.True(t, env.store.Write(ctx, "login", "new", &WindowRecord{}))
	require.NoError(t, chtimes(backend.Path(env.store.recordKey("login", "old")), time.Now().Add(-2*time.Hour)))

	j := NewJanitor(env.store, time.Minute, time.Hour)
	n, err := j.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = j.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestJanitor_SweepOnceBackendFailure(t *testing.T) {
	env := newTestEnvWithBackend(failingBackend{})
	j := NewJanitor(env.store, time.Minute, time.Hour)

	n, err := j.SweepOnce(context.Background())
	assert.ErrorIs(t, err, errBackendDown)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, env.observer.storeErrorCount("cleanup"))
}

func TestJanitor_RunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	env := newTestEnv()
	j := NewJanitor(env.store, 5*time.Millisecond, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}

func TestJanitor_RunSweeps(t *testing.T) {
	defer goleak.VerifyNone(t)

	backend := &countingCleanupBackend{Backend: store.NewMemoryBackend(), swept: make(chan struct{}, 8)}
	ws := NewWindowStore(backend, WithObserver(NopObserver{}))
	j := NewJanitor(ws, 5*time.Millisecond, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()

	select {
	case <-backend.swept:
	case <-time.After(time.Second):
		t.Fatal("janitor never swept")
	}
	cancel()
	require.NoError(t, <-done)
}

func TestJanitor_Disabled(t *testing.T) {
	defer goleak.VerifyNone(t)

	env := newTestEnv()
	j := NewJanitor(env.store, 0, time.Hour)

	assert.NoError(t, j.Run(context.Background()))
}

type countingCleanupBackend struct {
	store.Backend
	swept chan struct{}
}

func (b *countingCleanupBackend) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	select {
	case b.swept <- struct{}{}:
	default:
	}
	return b.Backend.Cleanup(ctx, maxAge)
}
