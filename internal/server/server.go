// Package server provides the HTTP server implementation.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/palmkit/throttle/internal/config"
	"github.com/palmkit/throttle/internal/handlers"
	"github.com/palmkit/throttle/internal/metrics"
	"github.com/palmkit/throttle/internal/middleware"
	"github.com/palmkit/throttle/internal/ratelimit"
	"github.com/palmkit/throttle/internal/store"
	"github.com/palmkit/throttle/pkg/logger"
)

// Server represents the HTTP server.
type Server struct {
	cfg           *config.Config
	log           *logger.Logger
	httpServer    *http.Server
	healthHandler *handlers.HealthHandler
	limitsHandler *handlers.LimitsHandler
	windows       *ratelimit.WindowStore
	limiter       *ratelimit.SlidingWindowLimiter
	selfLimiter   *ratelimit.SlidingWindowLimiter
	quotas        *ratelimit.QuotaTracker
	listener      net.Listener
	running       bool
	mu            sync.RWMutex
}

// New creates a new Server backed by backend. Rules from cfg are applied on
// top of the built-in presets.
func New(cfg *config.Config, log *logger.Logger, backend store.Backend) (*Server, error) {
	opts := []ratelimit.Option{ratelimit.WithLogger(log)}

	windows := ratelimit.NewWindowStore(backend, opts...)
	limiter := ratelimit.NewSlidingWindowLimiter(windows, opts...)
	if err := configureRules(limiter, cfg); err != nil {
		return nil, err
	}

	// Callers of the service are throttled in their own namespace, with
	// their own rules and penalties, out of reach of the public API.
	selfWindows := ratelimit.NewWindowStore(backend, ratelimit.WithLogger(log), ratelimit.WithNamespace(selfNamespace))
	selfLimiter := ratelimit.NewSlidingWindowLimiter(selfWindows, opts...)
	if err := configureRules(selfLimiter, cfg); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:           cfg,
		log:           log,
		healthHandler: handlers.NewHealthHandler(),
		windows:       windows,
		limiter:       limiter,
		selfLimiter:   selfLimiter,
		quotas:        ratelimit.NewQuotaTracker(windows, opts...),
	}
	s.limitsHandler = handlers.NewLimitsHandler(s.limiter, s.quotas, log)
	s.healthHandler.AddCheck("store", backend.Ping)

	// Create HTTP server
	mux := http.NewServeMux()
	s.registerRoutes(mux)

	// Build middleware chain
	handler := s.buildMiddlewareChain(mux)

	s.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s, nil
}

// selfNamespace holds the records of the service's own callers.
const selfNamespace = "self"

func configureRules(l *ratelimit.SlidingWindowLimiter, cfg *config.Config) error {
	for _, name := range cfg.Rate.RuleNames() {
		rc := cfg.Rate.Rules[name]
		if err := l.Configure(name, ratelimit.Rule{Limit: rc.Limit, Window: rc.Window}); err != nil {
			return fmt.Errorf("rule %q: %w", name, err)
		}
	}
	return nil
}

// buildMiddlewareChain creates the middleware chain for the server.
func (s *Server) buildMiddlewareChain(handler http.Handler) http.Handler {
	proxy := middleware.ProxyConfig{
		TrustProxy:     s.cfg.Rate.TrustProxy,
		TrustedProxies: s.cfg.Rate.TrustedProxies,
	}

	chain := middleware.New(
		middleware.Metrics(),
		middleware.RequestID(),
		middleware.ClientIP(proxy),
		middleware.AccessLog(s.log.Named("http")),
	)

	if s.cfg.Rate.Enabled {
		chain = chain.Append(middleware.RateLimit(s.selfLimiter, middleware.RateLimitConfig{
			ProxyConfig:  proxy,
			LimiterType:  s.cfg.Rate.SelfType,
			APIKeyHeader: s.cfg.Rate.APIKeyHeader,
		}))

		rule := s.selfLimiter.Rules().Get(s.cfg.Rate.SelfType)
		s.log.Info("rate limiting enabled",
			"type", s.cfg.Rate.SelfType,
			"limit", rule.Limit,
			"window", rule.Window.String(),
		)
	}

	return chain.Then(handler)
}

// registerRoutes sets up the HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// Health check routes (GET only)
	mux.HandleFunc("GET /health", s.healthHandler.Health)
	mux.HandleFunc("GET /ready", s.healthHandler.Ready)

	// Metrics endpoint for Prometheus
	mux.Handle("GET /metrics", metrics.Handler())

	// API v1 routes
	mux.HandleFunc("POST /api/v1/check", s.limitsHandler.Check)
	mux.HandleFunc("POST /api/v1/quota", s.limitsHandler.Quota)
	mux.HandleFunc("DELETE /api/v1/limits/{type}/{key...}", s.handleResetLimit)
	mux.HandleFunc("DELETE /api/v1/quota/{period}/{key...}", s.handleResetQuota)
	mux.HandleFunc("GET /api/v1/rules", s.limitsHandler.ListRules)
	mux.HandleFunc("PUT /api/v1/rules/{type}", s.handleSetRule)
}

// handleResetLimit routes to the limits handler for clearing a key.
func (s *Server) handleResetLimit(w http.ResponseWriter, r *http.Request) {
	limiterType, key := r.PathValue("type"), r.PathValue("key")
	if limiterType == "" || key == "" {
		http.Error(w, "type and key are required", http.StatusBadRequest)
		return
	}
	s.limitsHandler.ResetLimit(w, r, limiterType, key)
}

// handleResetQuota routes to the limits handler for clearing a quota.
func (s *Server) handleResetQuota(w http.ResponseWriter, r *http.Request) {
	period, key := r.PathValue("period"), r.PathValue("key")
	if period == "" || key == "" {
		http.Error(w, "period and key are required", http.StatusBadRequest)
		return
	}
	s.limitsHandler.ResetQuota(w, r, period, key)
}

// handleSetRule routes to the limits handler for configuring a rule.
func (s *Server) handleSetRule(w http.ResponseWriter, r *http.Request) {
	s.limitsHandler.SetRule(w, r, r.PathValue("type"))
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := s.cfg.Server.Address()

	// Create listener first to get the actual address (important when port is 0)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.running = true
	s.mu.Unlock()

	s.log.Info("server starting", "address", listener.Addr().String())

	err = s.httpServer.Serve(listener)
	if err != nil && err != http.ErrServerClosed {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server. The storage backend is owned
// by the caller and left open.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("server shutting down")

	// Mark as not ready during shutdown
	s.healthHandler.SetReady(false)

	err := s.httpServer.Shutdown(ctx)

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	if err != nil {
		s.log.Error("shutdown error", "error", err.Error())
		return err
	}

	s.log.Info("server stopped")
	return nil
}

// IsRunning returns whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the server's address.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// HealthHandler returns the health handler.
func (s *Server) HealthHandler() *handlers.HealthHandler {
	return s.healthHandler
}

// Limiter returns the sliding window limiter.
func (s *Server) Limiter() *ratelimit.SlidingWindowLimiter {
	return s.limiter
}

// Quotas returns the quota tracker.
func (s *Server) Quotas() *ratelimit.QuotaTracker {
	return s.quotas
}

// WindowStore returns the record store shared by the limiter and quotas.
func (s *Server) WindowStore() *ratelimit.WindowStore {
	return s.windows
}
