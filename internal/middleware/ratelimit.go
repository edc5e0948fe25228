package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/palmkit/throttle/internal/ratelimit"
)

// RateLimitConfig holds configuration for the rate limit middleware.
type RateLimitConfig struct {
	ProxyConfig
	LimiterType  string // Rule applied to callers, e.g. "api"
	APIKeyHeader string // Header name for API key (e.g., "X-API-Key")
}

// RateLimitResponse is the JSON response for rate limited requests.
type RateLimitResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	RetryAfter int    `json:"retry_after"`
}

// RateLimit returns a middleware that throttles callers of the service's
// own API. Callers are identified by API key when one is sent, otherwise
// by client IP.
func RateLimit(limiter ratelimit.Limiter, cfg RateLimitConfig) Middleware {
	trusted := newProxySet(cfg.TrustedProxies)
	limiterType := cfg.LimiterType
	if limiterType == "" {
		limiterType = ratelimit.DefaultType
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identifier := callerIdentifier(r, cfg, trusted)

			result := limiter.Check(r.Context(), identifier, limiterType)
			SetRateLimitHeaders(w, result)

			if !result.Allowed {
				writeRateLimitResponse(w, result)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// callerIdentifier prefers the API key, if configured and present, over
// the client IP.
func callerIdentifier(r *http.Request, cfg RateLimitConfig, trusted proxySet) string {
	if cfg.APIKeyHeader != "" {
		if apiKey := r.Header.Get(cfg.APIKeyHeader); apiKey != "" {
			return "api:" + apiKey
		}
	}
	return "ip:" + clientIPFor(r, cfg.TrustProxy, trusted)
}

// SetRateLimitHeaders writes the X-RateLimit-* headers for result, plus
// Retry-After when the request was denied.
func SetRateLimitHeaders(w http.ResponseWriter, result ratelimit.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

	if !result.ResetAt.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
	}

	if !result.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfterSeconds()))
	}
}

func writeRateLimitResponse(w http.ResponseWriter, result ratelimit.Result) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	_ = json.NewEncoder(w).Encode(RateLimitResponse{
		Error:      "rate limit exceeded",
		Code:       "RATE_LIMIT_EXCEEDED",
		RetryAfter: result.RetryAfterSeconds(),
	})
}
