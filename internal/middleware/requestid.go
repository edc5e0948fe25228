package middleware

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	// HeaderXRequestID is the header name for request ID.
	HeaderXRequestID = "X-Request-ID"
	// HeaderXForwardedFor is the header name for forwarded client IP.
	HeaderXForwardedFor = "X-Forwarded-For"
	// HeaderXRealIP is the header name for real client IP.
	HeaderXRealIP = "X-Real-IP"
)

// requestIDMaxLength is the maximum length for a valid request ID.
const requestIDMaxLength = 128

// validRequestIDRegex matches alphanumeric strings with dashes and underscores.
var validRequestIDRegex = regexp.MustCompile(`^[a-zA-Z0-9\-_]+$`)

// RequestID returns a middleware that adds a unique request ID to each request.
// A valid incoming X-Request-ID is kept; otherwise a UUID v4 is generated.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(HeaderXRequestID)
			if !isValidRequestID(requestID) {
				requestID = uuid.New().String()
			}

			w.Header().Set(HeaderXRequestID, requestID)
			ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func isValidRequestID(id string) bool {
	if id == "" || len(id) > requestIDMaxLength {
		return false
	}
	return validRequestIDRegex.MatchString(id)
}

// ProxyConfig controls which forwarding headers are believed.
type ProxyConfig struct {
	TrustProxy     bool     // Honor X-Forwarded-For and X-Real-IP
	TrustedProxies []string // If set, only these peers may forward
}

// ClientIP returns a middleware that resolves the client IP address and
// stores it in the request context.
func ClientIP(cfg ProxyConfig) Middleware {
	trusted := newProxySet(cfg.TrustedProxies)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := resolveClientIP(r, cfg.TrustProxy, trusted)
			ctx := context.WithValue(r.Context(), ClientIPKey, ip)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type proxySet map[string]bool

func newProxySet(ips []string) proxySet {
	set := make(proxySet, len(ips))
	for _, ip := range ips {
		if ip = strings.TrimSpace(ip); ip != "" {
			set[ip] = true
		}
	}
	return set
}

// clientIPFor returns the IP stored by ClientIP, or resolves it directly
// when that middleware did not run.
func clientIPFor(r *http.Request, trustProxy bool, trusted proxySet) string {
	if ip := GetClientIP(r.Context()); ip != "" {
		return ip
	}
	return resolveClientIP(r, trustProxy, trusted)
}

// resolveClientIP picks the client address. Forwarding headers are used
// only when trustProxy is set and the peer is a trusted proxy (or no
// proxies are listed). Header values that are not IP addresses are ignored.
func resolveClientIP(r *http.Request, trustProxy bool, trusted proxySet) string {
	remoteIP := ipFromAddr(r.RemoteAddr)

	if !trustProxy {
		return remoteIP
	}
	if len(trusted) > 0 && !trusted[remoteIP] {
		return remoteIP
	}

	// X-Forwarded-For is "client, proxy1, proxy2"; the first entry is the client.
	if xff := r.Header.Get(HeaderXForwardedFor); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
			return ip
		}
	}

	if ip := strings.TrimSpace(r.Header.Get(HeaderXRealIP)); net.ParseIP(ip) != nil {
		return ip
	}

	return remoteIP
}

// ipFromAddr strips the port from a host:port address.
func ipFromAddr(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
