package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/switchboard/internal/auth"
	"github.com/mattjoyce/switchboard/internal/bridge"
	"github.com/mattjoyce/switchboard/internal/events"
	"github.com/mattjoyce/switchboard/internal/loader"
	"github.com/mattjoyce/switchboard/internal/log"
	"github.com/mattjoyce/switchboard/internal/metrics"
)

// Dispatcher runs calls.
type Dispatcher interface {
	Dispatch(ctx context.Context, operation string, args []string) (bridge.Result, error)
}

// Registry exposes the active version and load state.
type Registry interface {
	Acquire() (*loader.Lease, error)
	Status() loader.Status
}

// Reloader re-reads the functions document and swaps it in.
type Reloader interface {
	Reload(ctx context.Context) (*loader.Version, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// APIKey is the admin bearer token (scope "*").
	APIKey string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
	// MaxBodyBytes caps request bodies. Zero uses 1 MiB.
	MaxBodyBytes int64
}

// Server represents the HTTP API server
type Server struct {
	config     Config
	keyring    *auth.Keyring
	dispatcher Dispatcher
	registry   Registry
	reloader   Reloader
	events     *events.Hub
	metrics    *metrics.Metrics
	logger     *slog.Logger
	server     *http.Server
	startedAt  time.Time
}

// New creates a new API server instance. hub and m may be nil.
func New(config Config, dispatcher Dispatcher, registry Registry, reloader Reloader, hub *events.Hub, m *metrics.Metrics, logger *slog.Logger) *Server {
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 1 << 20
	}
	if hub == nil {
		hub = events.NewHub(0)
	}
	if logger == nil {
		logger = log.WithComponent("api")
	}
	return &Server{
		config:     config,
		keyring:    auth.NewKeyring(config.APIKey, config.Tokens),
		dispatcher: dispatcher,
		registry:   registry,
		reloader:   reloader,
		events:     hub,
		metrics:    m,
		logger:     logger,
		startedAt:  time.Now(),
	}
}

// Start starts the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // SSE streams stay open
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(s.metrics.Collect)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoints.
	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.With(s.requireScopes(auth.ScopeCallsRead)).Get("/operations", s.handleOperations)
		r.With(s.requireScopes(auth.ScopeCallsRead)).Get("/openapi.json", s.handleOpenAPI)
		r.With(s.requireCallScope).Post("/call/{operation}", s.handleCall)
		r.With(s.requireScopes(auth.ScopeReload)).Post("/reload", s.handleReload)
		r.With(s.requireScopes(auth.ScopeCallsRead, auth.ScopeEvents)).Get("/status", s.handleStatus)
		r.With(s.requireScopes(auth.ScopeEvents)).Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
