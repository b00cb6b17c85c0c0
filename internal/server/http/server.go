// Package httpserver provides the HTTP admin API for the entity registry.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/helixir/entity-resolution-service/internal/database"
	"github.com/helixir/entity-resolution-service/internal/domain"
	"github.com/helixir/entity-resolution-service/internal/registry"
	"github.com/helixir/entity-resolution-service/internal/resolver"
)

// Persister saves the registry after a mutation and publishes its events.
type Persister interface {
	Persist(ctx context.Context) error
}

// RecordResolver resolves every name of a paper record.
type RecordResolver interface {
	ResolveRecord(ctx context.Context, rec *domain.Record) (domain.Record, error)
}

// HealthChecker reports the health of the registry backend.
type HealthChecker interface {
	Health(ctx context.Context) database.HealthStatus
}

// Server is the HTTP admin API server.
//
// The registry has a single writer: every handler that reads or mutates it
// holds mu, and mutations are persisted before the response is written.
type Server struct {
	router     chi.Router
	httpServer *http.Server

	mu        sync.Mutex
	resolver  *resolver.Resolver
	records   RecordResolver
	persister Persister
	health    HealthChecker

	logger zerolog.Logger
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// NewServer creates a new HTTP server. health may be nil for backends
// without a connection to check.
func NewServer(
	cfg Config,
	res *resolver.Resolver,
	records RecordResolver,
	persister Persister,
	health HealthChecker,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		resolver:  res,
		records:   records,
		persister: persister,
		health:    health,
		logger:    logger.With().Str("component", "http-server").Logger(),
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)
	r.Use(requestLoggerMiddleware(s.logger))
	r.Use(jsonContentTypeMiddleware)

	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/entities", s.listEntities)
		r.Get("/entities/{entityID}", s.getEntity)
		r.Patch("/entities/{entityID}", s.renameEntity)
		r.Post("/entities/{entityID}/merge", s.mergeEntity)
		r.Post("/resolve", s.resolveName)
		r.Post("/records/resolve", s.resolveRecord)
	})

	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readinessHandler reports whether the registry backend is reachable.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	health := s.health.Health(r.Context())
	if health.Status != "healthy" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "not_ready",
			"database": health.Status,
			"error":    health.Error,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ready",
		"database": "healthy",
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort; headers already sent.
		_ = err
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}

func (s *Server) registry() *registry.Registry {
	return s.resolver.Registry()
}
