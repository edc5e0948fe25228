package store

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value   []byte
	written time.Time
}

// MemoryBackend keeps values in process memory. It backs tests and
// single-process deployments that do not need records to survive restarts.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get returns a copy of the stored value.
func (b *MemoryBackend) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	e, ok := b.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

// Set stores a copy of value.
func (b *MemoryBackend) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[key] = memoryEntry{
		value:   append([]byte(nil), value...),
		written: b.now(),
	}
	return nil
}

// Delete removes key.
func (b *MemoryBackend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.entries, key)
	return nil
}

// Cleanup removes entries written more than maxAge ago.
func (b *MemoryBackend) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := b.now().Add(-maxAge)
	removed := 0
	for key, e := range b.entries {
		if e.written.Before(cutoff) {
			delete(b.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored entries.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Ping always succeeds.
func (b *MemoryBackend) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (b *MemoryBackend) Close() error {
	return nil
}

var _ Backend = (*MemoryBackend)(nil)
