// Package ratelimit implements per-key request throttling.
//
// The sliding window limiter blends the request count of the current fixed
// window with the previous one, weighted by how much of the current window
// has elapsed. Keys that keep getting denied are penalized with a shrinking
// effective limit. A separate fixed-window quota tracker handles coarse
// hourly to monthly caps.
//
// Storage failures never surface to callers: a record that cannot be read
// is treated as absent and a record that cannot be written is dropped, so
// the limiter fails open.
package ratelimit

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/palmkit/throttle/internal/metrics"
	"github.com/palmkit/throttle/pkg/logger"
)

var (
	// ErrInvalidRule is returned when a rule has a non-positive limit or a
	// window shorter than one second.
	ErrInvalidRule = errors.New("invalid rate limit rule")

	// ErrInvalidLimit is returned when a quota limit is not positive.
	ErrInvalidLimit = errors.New("quota limit must be positive")

	// ErrInvalidPeriod is returned for an unknown quota period.
	ErrInvalidPeriod = errors.New("invalid quota period")
)

// Result contains the outcome of a rate limit check.
type Result struct {
	Allowed    bool          // Whether the request is allowed
	Limit      int           // Effective limit after penalties
	Remaining  int           // Requests left before a denial
	ResetAt    time.Time     // When the oldest counted request leaves the window
	RetryAfter time.Duration // Wait until another request would be admitted (if denied)
	Penalty    int           // Penalty multiplier in effect
}

// RetryAfterSeconds returns the Retry-After hint in whole seconds. It is 0
// for allowed results and at least 1 for denied ones. Fractions are
// truncated so the hint never exceeds the true wait.
func (r Result) RetryAfterSeconds() int {
	if r.Allowed {
		return 0
	}
	secs := int(math.Floor(r.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Limiter defines the rate limiting interface.
type Limiter interface {
	// Check records a request for key under the rule of limiterType and
	// reports whether it is allowed.
	Check(ctx context.Context, key, limiterType string) Result

	// Reset clears all state for key under limiterType.
	Reset(ctx context.Context, key, limiterType string) error
}

// Observer receives limiter events. The default implementation feeds the
// Prometheus collectors in internal/metrics.
type Observer interface {
	Check(limiterType string, allowed bool)
	Penalty(limiterType string)
	Quota(period string, allowed bool)
	StoreError(op string)
	StoreOp(op string, d time.Duration)
	Cleaned(n int)
}

type promObserver struct{}

func (promObserver) Check(limiterType string, allowed bool) { metrics.RecordCheck(limiterType, allowed) }
func (promObserver) Penalty(limiterType string)             { metrics.RecordPenalty(limiterType) }
func (promObserver) Quota(period string, allowed bool)      { metrics.RecordQuota(period, allowed) }
func (promObserver) StoreError(op string)                   { metrics.RecordStoreError(op) }
func (promObserver) StoreOp(op string, d time.Duration)     { metrics.RecordStoreOp(op, d) }
func (promObserver) Cleaned(n int)                          { metrics.RecordCleaned(n) }

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) Check(string, bool)            {}
func (NopObserver) Penalty(string)                {}
func (NopObserver) Quota(string, bool)            {}
func (NopObserver) StoreError(string)             {}
func (NopObserver) StoreOp(string, time.Duration) {}
func (NopObserver) Cleaned(int)                   {}

type options struct {
	now      func() time.Time
	log      *logger.Logger
	observer  Observer
	rules     *Rules
	namespace string
}

// Option configures limiters and trackers.
type Option func(*options)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithObserver sets the event observer.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithNamespace keeps a WindowStore's records apart from those of stores
// with another namespace on the same backend. Names starting with "window"
// or "quota" are not separated from the default namespace.
func WithNamespace(name string) Option {
	return func(o *options) {
		o.namespace = name
	}
}

// WithRules shares a rule registry instead of creating one with the
// built-in presets.
func WithRules(rules *Rules) Option {
	return func(o *options) {
		if rules != nil {
			o.rules = rules
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		now:      time.Now,
		log:      logger.Discard(),
		observer: promObserver{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// unixSeconds converts t to fractional unix seconds.
func unixSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/float64(time.Second)
}

// fromUnixSeconds converts fractional unix seconds to a time.
func fromUnixSeconds(s float64) time.Time {
	sec, frac := math.Modf(s)
	return time.Unix(int64(sec), int64(math.Round(frac*float64(time.Second))))
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
