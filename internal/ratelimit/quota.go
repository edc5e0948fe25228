package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/palmkit/throttle/pkg/logger"
)

// Period is a quota window length.
type Period string

// Quota periods. Monthly is a fixed 30 days.
const (
	Hourly  Period = "hourly"
	Daily   Period = "daily"
	Weekly  Period = "weekly"
	Monthly Period = "monthly"
)

var periodDurations = map[Period]time.Duration{
	Hourly:  time.Hour,
	Daily:   24 * time.Hour,
	Weekly:  7 * 24 * time.Hour,
	Monthly: 30 * 24 * time.Hour,
}

// Periods returns the supported periods, shortest first.
func Periods() []Period {
	return []Period{Hourly, Daily, Weekly, Monthly}
}

// ParsePeriod parses a period name case-insensitively.
func ParsePeriod(s string) (Period, error) {
	p := Period(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := periodDurations[p]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	return p, nil
}

// Duration returns the length of the period, or 0 if p is unknown.
func (p Period) Duration() time.Duration {
	return periodDurations[p]
}

// Valid reports whether p is a known period.
func (p Period) Valid() bool {
	_, ok := periodDurations[p]
	return ok
}

// QuotaRecord is the persisted counter of one (key, period) pair.
type QuotaRecord struct {
	Count       int     `json:"count"`
	WindowStart float64 `json:"window_start"`
	ResetAt     float64 `json:"reset_at"`
}

// QuotaResult contains the outcome of a quota check.
type QuotaResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
	Used      int
	Limit     int
}

// QuotaTracker enforces fixed-window usage caps. A window starts at the
// first check after the previous one expired and is not weighted.
type QuotaTracker struct {
	store    *WindowStore
	now      func() time.Time
	log      *logger.Logger
	observer Observer
}

// NewQuotaTracker creates a tracker sharing ws's backend.
func NewQuotaTracker(ws *WindowStore, opts ...Option) *QuotaTracker {
	o := buildOptions(opts)
	return &QuotaTracker{
		store:    ws,
		now:      o.now,
		log:      o.log.Named("quota"),
		observer: o.observer,
	}
}

// CheckQuota counts one use of key against limit for period. Denied calls
// are not counted. Storage failures fail open like the sliding window.
func (q *QuotaTracker) CheckQuota(ctx context.Context, key string, limit int, period Period) (QuotaResult, error) {
	if limit <= 0 {
		return QuotaResult{}, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}
	length := period.Duration()
	if length == 0 {
		return QuotaResult{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, string(period))
	}

	now := unixSeconds(q.now())
	storageKey := q.store.quotaKey(key, period)

	var rec QuotaRecord
	if !q.store.readJSON(ctx, storageKey, &rec) || now >= rec.ResetAt || rec.Count < 0 {
		rec = QuotaRecord{
			WindowStart: now,
			ResetAt:     now + length.Seconds(),
		}
	}

	result := QuotaResult{
		Limit:   limit,
		ResetAt: fromUnixSeconds(rec.ResetAt),
	}

	if rec.Count >= limit {
		result.Used = rec.Count
		q.observer.Quota(string(period), false)
		q.log.Debug("quota exceeded", "key", key, "period", string(period), "used", rec.Count, "limit", limit)
		return result, nil
	}

	rec.Count++
	q.store.writeJSON(ctx, storageKey, &rec)
	q.observer.Quota(string(period), true)

	result.Allowed = true
	result.Used = rec.Count
	result.Remaining = limit - rec.Count
	return result, nil
}

// ResetQuota deletes the counter of key for period.
func (q *QuotaTracker) ResetQuota(ctx context.Context, key string, period Period) error {
	if !period.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPeriod, string(period))
	}
	if err := q.store.delete(ctx, q.store.quotaKey(key, period)); err != nil {
		q.log.Warn("quota reset failed", "key", key, "period", string(period), "error", err)
		return err
	}
	return nil
}
