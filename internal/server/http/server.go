// Package httpserver provides the HTTP REST API of the data repository service.
package httpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/helixir/data-repository-service/internal/domain"
	"github.com/helixir/data-repository-service/internal/observability"
	"github.com/helixir/data-repository-service/internal/repository"
	"github.com/helixir/data-repository-service/internal/wire"
)

// DocumentRepository is the repository type served by the API.
type DocumentRepository = repository.Repository[domain.Document]

// Registry resolves collection names to repositories. create is set for
// requests that add items, so a registry that grows on demand only grows on
// writes.
type Registry interface {
	Lookup(collection string, create bool) (*DocumentRepository, bool)
	Names() []string
}

// StaticRegistry serves a fixed set of collections.
type StaticRegistry map[string]*DocumentRepository

// Lookup implements Registry.
func (r StaticRegistry) Lookup(collection string, _ bool) (*DocumentRepository, bool) {
	repo, ok := r[collection]
	return repo, ok
}

// Names implements Registry.
func (r StaticRegistry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HealthChecker reports whether a dependency is ready to serve traffic.
type HealthChecker interface {
	Check(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthChecker.
type HealthCheckFunc func(ctx context.Context) error

// Check implements HealthChecker.
func (f HealthCheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// APIKey, when non-empty, is required in the X-API-Key header of API routes.
	APIKey string
}

// Option customizes a Server.
type Option func(*Server)

// WithMetrics records request metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithReadinessCheck adds a named dependency to the readiness probe.
func WithReadinessCheck(name string, check HealthChecker) Option {
	return func(s *Server) {
		s.checks = append(s.checks, namedCheck{name: name, check: check})
	}
}

type namedCheck struct {
	name  string
	check HealthChecker
}

// Server is the HTTP REST API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	registry   Registry
	checks     []namedCheck
	metrics    *observability.Metrics
	validate   *validator.Validate
	apiKey     string
	logger     zerolog.Logger
}

// NewServer creates a new HTTP server over the collections in registry.
func NewServer(cfg Config, registry Registry, logger zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		registry: registry,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		apiKey:   cfg.APIKey,
		logger:   logger.With().Str("component", "http-server").Logger(),
	}
	for _, opt := range opts {
		opt(s)
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

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)
	r.Use(jsonContentTypeMiddleware)
	r.Use(s.accessLogMiddleware)

	// Health endpoints (no auth)
	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)

	r.Route(wire.APIPrefix, func(r chi.Router) {
		if s.apiKey != "" {
			r.Use(apiKeyMiddleware(s.apiKey))
		}
		r.Use(userContextMiddleware)

		r.Get("/", s.listCollections)
		r.Route("/{collection}", func(r chi.Router) {
			r.Use(s.collectionMiddleware)

			r.Post("/items", s.createItem)
			r.Get("/items", s.listItems)
			r.Get("/items/{id}", s.readItem)
			r.Put("/items/{id}", s.updateItem)
			r.Delete("/items/{id}", s.deleteItem)
			r.Get("/count", s.countItems)
			r.Post("/aggregate", s.aggregateItems)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}

// Handler returns the root handler. Tests serve it through httptest.
func (s *Server) Handler() http.Handler {
	return s.router
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
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readinessHandler runs every registered readiness check.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ready"}
	code := http.StatusOK
	for _, c := range s.checks {
		if err := c.check.Check(r.Context()); err != nil {
			s.logger.Warn().Err(err).Str("check", c.name).Msg("readiness check failed")
			status[c.name] = err.Error()
			status["status"] = "not_ready"
			code = http.StatusServiceUnavailable
			continue
		}
		status[c.name] = "healthy"
	}
	writeJSON(w, code, status)
}
