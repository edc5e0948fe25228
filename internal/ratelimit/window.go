package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/palmkit/throttle/internal/store"
	"github.com/palmkit/throttle/pkg/logger"
)

// WindowRecord is the persisted state of one (type, key) pair.
type WindowRecord struct {
	// Requests holds admitted request times as fractional unix seconds,
	// oldest first.
	Requests []float64 `json:"requests"`

	// Violations counts denials since the last admitted request.
	Violations int `json:"violations"`
}

// normalize makes a decoded record safe to use.
func (r *WindowRecord) normalize() {
	if r.Violations < 0 {
		r.Violations = 0
	}
	if r.Requests == nil {
		r.Requests = []float64{}
	}
}

// Storage key prefixes. Every key a WindowStore produces starts with one of
// them, optionally behind a namespace, so windows and quotas never share a
// key whatever the caller passes as type or key.
const (
	windowKeyPrefix = "window."
	quotaKeyPrefix  = "quota."
)

func namespacedKey(namespace, key string) string {
	if namespace != "" {
		key = namespace + "." + key
	}
	return store.SanitizeKey(key)
}

// WindowStore persists window records on a store.Backend.
type WindowStore struct {
	backend   store.Backend
	namespace string
	log       *logger.Logger
	observer  Observer
}

// NewWindowStore creates a WindowStore on backend.
func NewWindowStore(backend store.Backend, opts ...Option) *WindowStore {
	o := buildOptions(opts)
	return &WindowStore{
		backend:   backend,
		namespace: o.namespace,
		log:       o.log.Named("window_store"),
		observer:  o.observer,
	}
}

func (s *WindowStore) recordKey(limiterType, key string) string {
	return namespacedKey(s.namespace, windowKeyPrefix+limiterType+"_"+key)
}

func (s *WindowStore) quotaKey(key string, period Period) string {
	return namespacedKey(s.namespace, quotaKeyPrefix+string(period)+"_"+key)
}

// Backend returns the underlying storage backend.
func (s *WindowStore) Backend() store.Backend {
	return s.backend
}

// Read loads the record for (limiterType, key). It returns nil when the
// record is missing, unreadable or corrupt.
func (s *WindowStore) Read(ctx context.Context, limiterType, key string) *WindowRecord {
	var rec WindowRecord
	if !s.readJSON(ctx, s.recordKey(limiterType, key), &rec) {
		return nil
	}
	rec.normalize()
	return &rec
}

// Write persists rec for (limiterType, key) and reports success.
func (s *WindowStore) Write(ctx context.Context, limiterType, key string, rec *WindowRecord) bool {
	return s.writeJSON(ctx, s.recordKey(limiterType, key), rec)
}

// Delete removes the record for (limiterType, key).
func (s *WindowStore) Delete(ctx context.Context, limiterType, key string) error {
	return s.delete(ctx, s.recordKey(limiterType, key))
}

// Cleanup removes records not written for longer than maxAge from the whole
// backend and returns how many were removed, including those removed before
// a failure.
func (s *WindowStore) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	start := time.Now()
	n, err := s.backend.Cleanup(ctx, maxAge)
	s.observer.StoreOp("cleanup", time.Since(start))
	s.observer.Cleaned(n)
	if err != nil {
		s.observer.StoreError("cleanup")
		return n, fmt.Errorf("cleanup: %w", err)
	}
	return n, nil
}

func (s *WindowStore) readJSON(ctx context.Context, storageKey string, v interface{}) bool {
	start := time.Now()
	data, err := s.backend.Get(ctx, storageKey)
	s.observer.StoreOp("read", time.Since(start))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.observer.StoreError("read")
			s.log.Warn("record read failed", "key", storageKey, "error", err)
		}
		return false
	}

	if err := json.Unmarshal(data, v); err != nil {
		s.observer.StoreError("decode")
		s.log.Warn("discarding corrupt record", "key", storageKey, "error", err)
		return false
	}
	return true
}

func (s *WindowStore) writeJSON(ctx context.Context, storageKey string, v interface{}) bool {
	data, err := json.Marshal(v)
	if err != nil {
		s.observer.StoreError("encode")
		s.log.Warn("record encode failed", "key", storageKey, "error", err)
		return false
	}

	start := time.Now()
	err = s.backend.Set(ctx, storageKey, data)
	s.observer.StoreOp("write", time.Since(start))
	if err != nil {
		s.observer.StoreError("write")
		s.log.Warn("record write failed", "key", storageKey, "error", err)
		return false
	}
	return true
}

func (s *WindowStore) delete(ctx context.Context, storageKey string) error {
	start := time.Now()
	err := s.backend.Delete(ctx, storageKey)
	s.observer.StoreOp("delete", time.Since(start))
	if err != nil {
		s.observer.StoreError("delete")
		return err
	}
	return nil
}
