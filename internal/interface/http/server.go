// Package http serves the ranks engine over REST: per-user progression
// reads and mutations, the rank table and health probes.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gamilit/ranks-engine/config"
	"github.com/gamilit/ranks-engine/internal/application/ranks"
	"github.com/gamilit/ranks-engine/internal/domain/shared"
	"github.com/gamilit/ranks-engine/internal/interface/http/handlers"
	"github.com/gamilit/ranks-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config controls the listener and the middleware chain.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	MaxBodyBytes int64

	// RateLimitPerMinute per client IP. Zero disables limiting.
	RateLimitPerMinute int

	// AllowedOrigins for CORS. Empty disables CORS headers.
	AllowedOrigins []string

	// APIKeys guard state-changing routes when non-empty.
	APIKeys []string

	// HistoryLimit is the default page size of the history endpoint.
	HistoryLimit int
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Addr:               ":8080",
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       15 * time.Second,
		IdleTimeout:        time.Minute,
		MaxBodyBytes:       64 << 10,
		RateLimitPerMinute: 600,
		AllowedOrigins:     []string{"*"},
		HistoryLimit:       50,
	}
}

// ConfigFrom maps application settings onto the server config.
func ConfigFrom(h config.HTTPConfig, historyLimit int) Config {
	return Config{
		Addr:               h.Addr,
		ReadTimeout:        h.ReadTimeout,
		WriteTimeout:       h.WriteTimeout,
		IdleTimeout:        h.IdleTimeout,
		MaxBodyBytes:       h.MaxBodyBytes,
		RateLimitPerMinute: h.RateLimitPerMinute,
		AllowedOrigins:     h.AllowedOrigins,
		APIKeys:            h.APIKeys,
		HistoryLimit:       historyLimit,
	}
}

// Dependencies are the collaborators the routes call into.
type Dependencies struct {
	Sessions *ranks.Sessions

	// Flags gates prestige and remote refresh per user. Nil enables both.
	Flags *config.FeatureFlags

	// Events serves the audit log. Nil answers 501.
	Events EventLog

	HealthChecker handlers.HealthChecker
	Logger        *logger.Logger
	Version       string
}

// EventLog reads recorded progression events, newest first.
type EventLog interface {
	ListEvents(ctx context.Context, userID string, limit int) ([]shared.EventEnvelope, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server owns the mux, the middleware chain and the listener.
type Server struct {
	config Config
	deps   Dependencies
	logger *logger.Logger

	router      *http.ServeMux
	httpServer  *http.Server
	rateLimiter *handlers.ClientLimiter

	running   atomic.Bool
	startedAt atomic.Int64
}

// NewServer registers the routes and prepares the listener.
func NewServer(cfg Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = logger.Default()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}

	s := &Server{
		config: cfg,
		deps:   deps,
		logger: deps.Logger.With(logger.Component("http")),
		router: http.NewServeMux(),
	}
	s.startedAt.Store(time.Now().UnixNano())
	if cfg.RateLimitPerMinute > 0 {
		s.rateLimiter = handlers.NewClientLimiter(cfg.RateLimitPerMinute, time.Minute)
	}
	s.routes()

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Handler returns the router wrapped in the middleware chain. Recovery is
// outermost, the write guard innermost.
func (s *Server) Handler() http.Handler {
	chain := []handlers.MiddlewareFunc{s.recoverPanics, s.tagRequest, s.logRequests}
	if len(s.config.AllowedOrigins) > 0 {
		chain = append(chain, s.cors)
	}
	if s.rateLimiter != nil {
		chain = append(chain, s.rateLimiter.Middleware(clientIP))
	}
	chain = append(chain,
		handlers.SecurityHeadersMiddleware,
		handlers.RequestSizeLimitMiddleware(s.config.MaxBodyBytes),
		handlers.RequireAPIKeyForWrites("X-API-Key", s.config.APIKeys),
	)
	return handlers.ChainHandler(s.router, chain...)
}

func (s *Server) routes() {
	// ─────────────────────────────────────────────────────────────────────────
	// Probes
	// ─────────────────────────────────────────────────────────────────────────
	s.router.HandleFunc("GET /{$}", s.handleRoot)
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /live", s.handleLive)

	// ─────────────────────────────────────────────────────────────────────────
	// API v1
	// ─────────────────────────────────────────────────────────────────────────
	s.router.HandleFunc("GET /api/v1/ranks", s.handleListRanks)

	const user = "/api/v1/users/{id}"
	s.router.HandleFunc("GET "+user+"/progress", s.handleGetProgress)
	s.router.HandleFunc("POST "+user+"/xp", s.handleAddXP)
	s.router.HandleFunc("POST "+user+"/coins", s.handleAddCoins)
	s.router.HandleFunc("POST "+user+"/activity", s.handleRecordActivity)
	s.router.HandleFunc("POST "+user+"/rank-up", s.handleRankUp)
	s.router.HandleFunc("POST "+user+"/prestige", s.handlePrestige)
	s.router.HandleFunc("GET "+user+"/multipliers", s.handleGetMultipliers)
	s.router.HandleFunc("POST "+user+"/multipliers", s.handleAddMultiplier)
	s.router.HandleFunc("DELETE "+user+"/multipliers/{type}", s.handleRemoveMultiplier)
	s.router.HandleFunc("GET "+user+"/history", s.handleGetHistory)
	s.router.HandleFunc("GET "+user+"/events", s.handleListEvents)
	s.router.HandleFunc("POST "+user+"/refresh", s.handleRefresh)
	s.router.HandleFunc("POST "+user+"/ui/{action}", s.handleUIAction)
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("server already running")
	}
	s.startedAt.Store(time.Now().UnixNano())
	s.logger.Info("starting HTTP server", logger.String("address", s.config.Addr))

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen %s: %w", s.config.Addr, err)
	}
	return nil
}

// StartAsync runs Start in a goroutine. The channel yields at most one
// error and is closed when the listener stops.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := s.Start(); err != nil {
			errCh <- err
		}
	}()
	return errCh
}

// Shutdown drains in-flight requests and stops the limiter.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	s.logger.Info("shutting down HTTP server")
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	return s.httpServer.Shutdown(ctx)
}

// Uptime is the time since the listener started.
func (s *Server) Uptime() time.Duration {
	return time.Since(time.Unix(0, s.startedAt.Load()))
}
