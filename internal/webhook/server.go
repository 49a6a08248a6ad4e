package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server represents the webhook HTTP server.
type Server struct {
	config     Config
	dispatcher Dispatcher
	reloader   Reloader
	logger     *slog.Logger
	server     *http.Server

	endpoints  map[string]*EndpointConfig
	deliveries map[string]*deliveryLog
}

// New creates a new webhook server instance.
func New(config Config, dispatcher Dispatcher, reloader Reloader, logger *slog.Logger) *Server {
	endpoints := make(map[string]*EndpointConfig)
	deliveries := make(map[string]*deliveryLog)
	for i := range config.Endpoints {
		ep := &config.Endpoints[i]

		if ep.MaxBodySize == 0 {
			ep.MaxBodySize = DefaultMaxBodySize
		}
		if ep.SignatureHeader == "" {
			ep.SignatureHeader = DefaultSignatureHeader
		}
		if ep.DeliveryHeader == "" {
			ep.DeliveryHeader = DefaultDeliveryHeader
		}

		endpoints[ep.Path] = ep
		deliveries[ep.Path] = newDeliveryLog(deliveryWindow)
	}

	return &Server{
		config:     config,
		dispatcher: dispatcher,
		reloader:   reloader,
		logger:     logger,
		endpoints:  endpoints,
		deliveries: deliveries,
	}
}

// Start starts the webhook HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("webhook server starting", "listen", s.config.Listen, "endpoints", len(s.endpoints))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

// Handler returns the router with every configured endpoint.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	for path := range s.endpoints {
		r.Post(path, s.handleWebhook)
	}

	return r
}

// loggingMiddleware logs HTTP requests (excludes payloads).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// handleWebhook verifies a hook request and performs its action.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	endpoint, ok := s.endpoints[r.URL.Path]
	if !ok {
		s.respondError(w, http.StatusNotFound, "endpoint not found")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, endpoint.MaxBodySize+1))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to read request body")
		return
	}
	if int64(len(body)) > endpoint.MaxBodySize {
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	signature := r.Header.Get(endpoint.SignatureHeader)
	if signature == "" {
		s.logger.Warn("webhook signature missing",
			"path", r.URL.Path,
			"header", endpoint.SignatureHeader,
		)
		s.respondError(w, http.StatusForbidden, "forbidden")
		return
	}

	if err := verifyHMACSignature(body, signature, endpoint.Secret); err != nil {
		s.logger.Warn("webhook signature verification failed",
			"path", r.URL.Path,
			"error", err,
		)
		s.respondError(w, http.StatusForbidden, "forbidden")
		return
	}

	delivery := r.Header.Get(endpoint.DeliveryHeader)
	if delivery != "" && !s.deliveries[endpoint.Path].firstSeen(delivery) {
		s.logger.Info("webhook delivery already applied", "path", endpoint.Path, "delivery", delivery)
		s.respondJSON(w, http.StatusOK, DuplicateResponse{Duplicate: true, Delivery: delivery})
		return
	}

	var applied bool
	switch endpoint.Action {
	case ActionReload:
		applied = s.reload(ctx, w, endpoint)
	case ActionCall:
		applied = s.call(ctx, w, endpoint, body)
	default:
		s.respondError(w, http.StatusNotFound, "endpoint not found")
	}
	if !applied && delivery != "" {
		s.deliveries[endpoint.Path].forget(delivery)
	}
}

func (s *Server) reload(ctx context.Context, w http.ResponseWriter, endpoint *EndpointConfig) bool {
	v, err := s.reloader.Reload(ctx)
	if err != nil {
		s.logger.Error("webhook reload failed", "path", endpoint.Path, "error", err)
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
		return false
	}
	s.logger.Info("webhook reload applied", "path", endpoint.Path, "version", v.ID())
	s.respondJSON(w, http.StatusOK, ReloadResponse{Version: v.ID(), Hash: v.Hash()})
	return true
}

// call reports whether the operation ran; a failing body still counts as
// applied since the operation had its effect.
func (s *Server) call(ctx context.Context, w http.ResponseWriter, endpoint *EndpointConfig, body []byte) bool {
	res, err := s.dispatcher.Dispatch(ctx, endpoint.Operation, []string{string(body)})
	if err != nil {
		s.logger.Error("webhook call not routed",
			"path", endpoint.Path,
			"operation", endpoint.Operation,
			"error", err,
		)
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
		return false
	}
	s.logger.Info("webhook call completed",
		"path", endpoint.Path,
		"operation", endpoint.Operation,
		"call_id", res.CallID,
		"ok", res.OK,
	)
	s.respondJSON(w, http.StatusOK, res)
	return true
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}
