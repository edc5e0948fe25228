package ratelimit

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/palmkit/throttle/internal/store"
)

// testEpoch is not aligned to any window used in the tests.
var testEpoch = time.Unix(1_700_002_837, 0)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: testEpoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingObserver struct {
	mu          sync.Mutex
	allowed     map[string]int
	denied      map[string]int
	penalties   map[string]int
	quota       map[string]int
	storeErrors map[string]int
	cleaned     int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		allowed:     make(map[string]int),
		denied:      make(map[string]int),
		penalties:   make(map[string]int),
		quota:       make(map[string]int),
		storeErrors: make(map[string]int),
	}
}

func (o *recordingObserver) Check(limiterType string, allowed bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if allowed {
		o.allowed[limiterType]++
	} else {
		o.denied[limiterType]++
	}
}

func (o *recordingObserver) Penalty(limiterType string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.penalties[limiterType]++
}

func (o *recordingObserver) Quota(period string, allowed bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if allowed {
		o.quota[period+":allowed"]++
	} else {
		o.quota[period+":denied"]++
	}
}

func (o *recordingObserver) StoreError(op string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.storeErrors[op]++
}

func (o *recordingObserver) StoreOp(string, time.Duration) {}

func (o *recordingObserver) Cleaned(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cleaned += n
}

func (o *recordingObserver) storeErrorCount(op string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.storeErrors[op]
}

var errBackendDown = errors.New("backend down")

// failingBackend fails every operation.
type failingBackend struct{}

func (failingBackend) Get(context.Context, string) ([]byte, error) { return nil, errBackendDown }
func (failingBackend) Set(context.Context, string, []byte) error   { return errBackendDown }
func (failingBackend) Delete(context.Context, string) error        { return errBackendDown }
func (failingBackend) Cleanup(context.Context, time.Duration) (int, error) {
	return 0, errBackendDown
}
func (failingBackend) Ping(context.Context) error { return errBackendDown }
func (failingBackend) Close() error               { return nil }

// countingBackend counts calls reaching the wrapped backend.
type countingBackend struct {
	store.Backend
	calls atomic.Int64
}

func (b *countingBackend) Get(ctx context.Context, key string) ([]byte, error) {
	b.calls.Add(1)
	return b.Backend.Get(ctx, key)
}

func (b *countingBackend) Set(ctx context.Context, key string, value []byte) error {
	b.calls.Add(1)
	return b.Backend.Set(ctx, key, value)
}

type testEnv struct {
	clock    *fakeClock
	backend  store.Backend
	store    *WindowStore
	limiter  *SlidingWindowLimiter
	observer *recordingObserver
}

func newTestEnvWithBackend(backend store.Backend) *testEnv {
	clock := newFakeClock()
	obs := newRecordingObserver()
	ws := NewWindowStore(backend, WithObserver(obs))
	return &testEnv{
		clock:    clock,
		backend:  backend,
		store:    ws,
		limiter:  NewSlidingWindowLimiter(ws, WithClock(clock.Now), WithObserver(obs)),
		observer: obs,
	}
}

func newTestEnv() *testEnv {
	return newTestEnvWithBackend(store.NewMemoryBackend())
}

func chtimes(path string, t time.Time) error {
	return os.Chtimes(path, t, t)
}
