package ratelimit

import (
	"context"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/palmkit/throttle/internal/store"
	"github.com/palmkit/throttle/pkg/logger"
)

func benchLimiter(b *testing.B, backend store.Backend) *SlidingWindowLimiter {
	b.Helper()
	ws := NewWindowStore(backend, WithObserver(NopObserver{}))
	l := NewSlidingWindowLimiter(ws, WithObserver(NopObserver{}))
	if err := l.Configure("bench", Rule{Limit: 1_000_000, Window: time.Hour}); err != nil {
		b.Fatal(err)
	}
	return l
}

func BenchmarkCheck_Memory_SingleKey(b *testing.B) {
	l := benchLimiter(b, store.NewMemoryBackend())
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.Check(ctx, "user:1", "bench")
	}
}

func BenchmarkCheck_Memory_ManyKeys(b *testing.B) {
	l := benchLimiter(b, store.NewMemoryBackend())
	ctx := context.Background()
	var seq atomic.Int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			key := "user:" + strconv.FormatInt(seq.Add(1)%1024, 10)
			l.Check(ctx, key, "bench")
		}
	})
}

func BenchmarkCheck_File(b *testing.B) {
	backend, err := store.NewFileBackend(b.TempDir(), logger.Discard())
	if err != nil {
		b.Fatal(err)
	}
	l := benchLimiter(b, backend)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.Check(ctx, "user:"+strconv.Itoa(i%64), "bench")
	}
}

func BenchmarkPenaltyTracker_Parallel(b *testing.B) {
	t := NewPenaltyTracker()
	var seq atomic.Int64

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			key := strconv.FormatInt(seq.Add(1)%4096, 10)
			t.Apply("login", key)
			t.MultiplierFor("login", key)
		}
	})
}
