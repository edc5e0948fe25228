package ratelimit

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const (
	// MaxPenalty caps the penalty multiplier.
	MaxPenalty = 16

	penaltyShards = 16
)

type penaltyShard struct {
	mu          sync.Mutex
	multipliers map[string]int
}

// PenaltyTracker holds penalty multipliers in process memory. Entries are
// never persisted, so a restart clears every penalty.
type PenaltyTracker struct {
	shards [penaltyShards]*penaltyShard
}

// NewPenaltyTracker creates an empty tracker.
func NewPenaltyTracker() *PenaltyTracker {
	t := &PenaltyTracker{}
	for i := range t.shards {
		t.shards[i] = &penaltyShard{multipliers: make(map[string]int)}
	}
	return t
}

func penaltyKey(limiterType, key string) string {
	return limiterType + "\x00" + key
}

func (t *PenaltyTracker) shard(k string) *penaltyShard {
	return t.shards[xxhash.Sum64String(k)%penaltyShards]
}

// MultiplierFor returns the multiplier for (limiterType, key), 1 if none.
func (t *PenaltyTracker) MultiplierFor(limiterType, key string) int {
	k := penaltyKey(limiterType, key)
	s := t.shard(k)
	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.multipliers[k]; ok {
		return m
	}
	return 1
}

// Apply doubles the multiplier for (limiterType, key), capped at
// MaxPenalty, and returns the new value.
func (t *PenaltyTracker) Apply(limiterType, key string) int {
	k := penaltyKey(limiterType, key)
	s := t.shard(k)
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.multipliers[k]
	if !ok {
		m = 1
	}
	m *= 2
	if m > MaxPenalty {
		m = MaxPenalty
	}
	s.multipliers[k] = m
	return m
}

// Reset removes the entry for (limiterType, key).
func (t *PenaltyTracker) Reset(limiterType, key string) {
	k := penaltyKey(limiterType, key)
	s := t.shard(k)
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.multipliers, k)
}

// Len returns the number of penalized keys.
func (t *PenaltyTracker) Len() int {
	n := 0
	for _, s := range t.shards {
		s.mu.Lock()
		n += len(s.multipliers)
		s.mu.Unlock()
	}
	return n
}
