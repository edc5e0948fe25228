package ratelimit

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/palmkit/throttle/pkg/logger"
)

// violationThreshold is the number of consecutive denials after which every
// further denial escalates the penalty.
const violationThreshold = 3

// SlidingWindowLimiter counts requests in a window that ends at the moment
// of each check. The current window holds requests newer than now-W and the
// previous window those in [now-2W, now-W); the previous count is weighted
// by the share of the current window not yet elapsed, which is zero while
// the current window spans a full W. Anything older is pruned.
//
// Each check is an unlocked read-modify-write of one record, so concurrent
// checks for the same key may lose updates and over-admit slightly.
type SlidingWindowLimiter struct {
	store     *WindowStore
	rules     *Rules
	penalties *PenaltyTracker
	now       func() time.Time
	log       *logger.Logger
	observer  Observer
}

// NewSlidingWindowLimiter creates a limiter persisting records in ws.
func NewSlidingWindowLimiter(ws *WindowStore, opts ...Option) *SlidingWindowLimiter {
	o := buildOptions(opts)
	rules := o.rules
	if rules == nil {
		rules = NewRules()
	}
	return &SlidingWindowLimiter{
		store:     ws,
		rules:     rules,
		penalties: NewPenaltyTracker(),
		now:       o.now,
		log:       o.log.Named("limiter"),
		observer:  o.observer,
	}
}

// Rules returns the limiter's rule registry.
func (l *SlidingWindowLimiter) Rules() *Rules {
	return l.rules
}

// Penalties returns the limiter's penalty tracker.
func (l *SlidingWindowLimiter) Penalties() *PenaltyTracker {
	return l.penalties
}

// Configure sets the rule for limiterType.
func (l *SlidingWindowLimiter) Configure(limiterType string, rule Rule) error {
	if err := l.rules.Set(limiterType, rule); err != nil {
		return err
	}
	l.log.Info("rule configured", "type", limiterType, "limit", rule.Limit, "window", rule.Window.String())
	return nil
}

// effectiveLimit divides limit by the penalty multiplier, never below 1.
func effectiveLimit(limit, multiplier int) int {
	if multiplier < 1 {
		multiplier = 1
	}
	eff := limit / multiplier
	if eff < 1 {
		eff = 1
	}
	return eff
}

// Check records a request for key under limiterType and reports whether it
// is allowed.
func (l *SlidingWindowLimiter) Check(ctx context.Context, key, limiterType string) Result {
	now := unixSeconds(l.now())
	rule := l.rules.Get(limiterType)
	multiplier := l.penalties.MultiplierFor(limiterType, key)
	eff := effectiveLimit(rule.Limit, multiplier)

	window := rule.Window.Seconds()
	windowStart := now - window
	previousStart := windowStart - window

	if ctx.Err() != nil {
		l.log.Debug("check skipped, context done", "type", limiterType, "key", key)
		return Result{Allowed: true, Limit: eff, Remaining: eff, ResetAt: fromUnixSeconds(now + window), Penalty: multiplier}
	}

	rec := l.store.Read(ctx, limiterType, key)
	if rec == nil {
		rec = &WindowRecord{}
	}

	kept := make([]float64, 0, len(rec.Requests)+1)
	inWindow := make([]float64, 0, len(rec.Requests)+1)
	var previous int
	for _, ts := range rec.Requests {
		switch {
		case ts >= windowStart:
			inWindow = append(inWindow, ts)
		case ts >= previousStart:
			previous++
		default:
			continue
		}
		kept = append(kept, ts)
	}
	sort.Float64s(inWindow)
	current := len(inWindow)
	elapsed := now - windowStart

	prevWeight := clamp01(1 - elapsed/window)
	weighted := float64(current) + float64(previous)*prevWeight

	if weighted >= float64(eff) {
		rec.Requests = kept
		rec.Violations++
		if rec.Violations >= violationThreshold {
			multiplier = l.penalties.Apply(limiterType, key)
			eff = effectiveLimit(rule.Limit, multiplier)
			l.observer.Penalty(limiterType)
			l.log.Info("penalty applied", "type", limiterType, "key", key,
				"multiplier", multiplier, "violations", rec.Violations)
		}
		l.store.Write(ctx, limiterType, key, rec)
		l.observer.Check(limiterType, false)

		retry := retryAfter(inWindow, eff, now, window)
		l.log.Debug("request denied", "type", limiterType, "key", key,
			"weighted", weighted, "limit", eff, "retry_after", retry.String())

		return Result{
			Allowed:    false,
			Limit:      eff,
			Remaining:  0,
			ResetAt:    resetAt(inWindow, now, window),
			RetryAfter: retry,
			Penalty:    multiplier,
		}
	}

	rec.Requests = append(kept, now)
	rec.Violations = 0
	inWindow = append(inWindow, now)
	l.store.Write(ctx, limiterType, key, rec)
	l.observer.Check(limiterType, true)

	remaining := int(math.Floor(float64(eff) - weighted - 1))
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:   true,
		Limit:     eff,
		Remaining: remaining,
		ResetAt:   resetAt(inWindow, now, window),
		Penalty:   multiplier,
	}
}

// Reset deletes the record and penalty for key under limiterType.
func (l *SlidingWindowLimiter) Reset(ctx context.Context, key, limiterType string) error {
	l.penalties.Reset(limiterType, key)
	if err := l.store.Delete(ctx, limiterType, key); err != nil {
		l.log.Warn("reset failed", "type", limiterType, "key", key, "error", err)
		return err
	}
	l.log.Debug("limit reset", "type", limiterType, "key", key)
	return nil
}

// retryAfter returns the time until enough of the sorted current-window
// timestamps age out for the count to drop below limit, assuming nothing
// else is admitted.
func retryAfter(inWindow []float64, limit int, now, window float64) time.Duration {
	if limit < 1 {
		limit = 1
	}
	var wait float64
	if n := len(inWindow); n >= limit {
		wait = inWindow[n-limit] + window - now
	}
	if wait < 0 {
		wait = 0
	}
	return secondsToDuration(wait)
}

// resetAt is when the oldest current-window request leaves the window.
func resetAt(inWindow []float64, now, window float64) time.Time {
	if len(inWindow) == 0 {
		return fromUnixSeconds(now + window)
	}
	return fromUnixSeconds(inWindow[0] + window)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

var _ Limiter = (*SlidingWindowLimiter)(nil)
