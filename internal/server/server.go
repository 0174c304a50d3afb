// Package server provides the HTTP API for kaizen.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/kaizen/internal/config"
	"github.com/hyperjump/kaizen/internal/corpus"
	"github.com/hyperjump/kaizen/internal/metrics"
	"github.com/hyperjump/kaizen/internal/ratelimit"
	"github.com/hyperjump/kaizen/internal/reconcile"
	"github.com/hyperjump/kaizen/internal/storage"
)

// Server is the HTTP server for the kaizen API.
type Server struct {
	engine    *reconcile.Engine
	source    corpus.Source
	catalog   storage.Catalog
	artifacts storage.ArtifactStore
	config    *config.Config
	logger    *zap.Logger
	limiter   ratelimit.Limiter
	metrics   *metrics.Collector
	apiKeys   map[string]struct{}

	mu     sync.Mutex
	server *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLimiter replaces the limiter built from config.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(s *Server) {
		if l != nil {
			s.limiter = l
		}
	}
}

// WithMetrics shares a collector with other components.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) {
		if c != nil {
			s.metrics = c
		}
	}
}

// NewServer creates a server with the given dependencies. source may be nil,
// in which case reconcile requests are rejected.
func NewServer(
	engine *reconcile.Engine,
	source corpus.Source,
	catalog storage.Catalog,
	artifacts storage.ArtifactStore,
	cfg *config.Config,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine:    engine,
		source:    source,
		catalog:   catalog,
		artifacts: artifacts,
		config:    cfg,
		logger:    logger,
		apiKeys:   make(map[string]struct{}),
	}
	for _, k := range cfg.Server.APIKeys {
		if k != "" {
			s.apiKeys[k] = struct{}{}
		}
	}
	if rl := cfg.Server.RateLimit; rl.Requests > 0 && rl.Window > 0 {
		s.limiter = ratelimit.NewSlidingWindow(rl.Requests, rl.Window)
	} else {
		s.limiter = ratelimit.Unlimited{}
	}
	s.metrics = metrics.New()
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(s.recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.respondError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.rateLimit)

		r.Post("/reconcile", s.handleReconcile)
		r.Post("/verify", s.handleVerify)
		r.Get("/runs", s.handleRuns)
		r.Get("/documents", s.handleListDocuments)
		r.Get("/documents/{id}", s.handleGetDocument)
		r.Get("/index", s.handleListVersions)
		r.Get("/index/{version}", s.handleListEntries)
		r.Get("/index/{version}/{id}", s.handleGetEntry)
		r.Get("/status", s.handleStatus)
		r.Get("/metrics", s.handleMetrics)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops. It returns nil after
// a graceful Stop.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	s.logger.Info("Starting server", zap.String("addr", addr), zap.Bool("auth", len(s.apiKeys) > 0))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}
