package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/palmkit/throttle/internal/metrics"
	"github.com/palmkit/throttle/pkg/logger"
)

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Metrics returns a middleware that records Prometheus metrics.
func Metrics() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := newResponseWriter(w)

			metrics.ActiveConnections.Inc()
			defer metrics.ActiveConnections.Dec()

			next.ServeHTTP(rw, r)

			metrics.RecordRequest(r.Method, normalizePath(r.URL.Path), rw.statusCode, time.Since(start))
		})
	}
}

// AccessLog returns a middleware that logs every request at debug level
// and server errors at error level.
func AccessLog(log *logger.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := newResponseWriter(w)
			next.ServeHTTP(rw, r)

			fields := []interface{}{
				"method", r.Method,
				"path", normalizePath(r.URL.Path),
				"status", rw.statusCode,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", GetRequestID(r.Context()),
			}
			if rw.statusCode >= http.StatusInternalServerError {
				log.Error("request failed", fields...)
				return
			}
			log.Debug("request", fields...)
		})
	}
}

// normalizePath maps request paths to route templates so that keys in
// paths do not create unbounded label values.
func normalizePath(path string) string {
	switch {
	case path == "/health" || path == "/ready" || path == "/metrics":
		return path
	case path == "/api/v1/check" || path == "/api/v1/quota" || path == "/api/v1/rules":
		return path
	case strings.HasPrefix(path, "/api/v1/limits/"):
		return "/api/v1/limits/{type}/{key}"
	case strings.HasPrefix(path, "/api/v1/quota/"):
		return "/api/v1/quota/{period}/{key}"
	case strings.HasPrefix(path, "/api/v1/rules/"):
		return "/api/v1/rules/{type}"
	default:
		return "/other"
	}
}
