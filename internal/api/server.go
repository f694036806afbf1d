// Package api exposes experiment lookups, convergence statistics and folded
// aggregates over HTTP.
package api

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"simagg/app"
)

// Server represents the HTTP API application
type Server struct {
	router     *chi.Mux
	queries    *app.QueryService
	aggregates *app.AggregationService
	port       string
	events     *SSEHub

	mu     sync.Mutex
	result *app.AggregateResult
}

// NewServer creates a new API server. aggregates may be nil, which disables
// the aggregate endpoints.
func NewServer(port string, queries *app.QueryService, aggregates *app.AggregationService) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		queries:    queries,
		aggregates: aggregates,
		port:       port,
		events:     NewSSEHub(),
	}
	if aggregates != nil {
		aggregates.OnProgress(s.events.Broadcast)
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures HTTP middleware
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api/experiments", func(r chi.Router) {
		r.Get("/", s.handleListExperiments)
		r.Route("/{experiment}", func(r chi.Router) {
			r.Get("/parameters", s.handleParameters)
			r.Get("/runs", s.handleExactLookup)
			r.Get("/filter", s.handleFilter)
			r.Get("/table.csv", s.handleCombinedTable)
			r.Get("/convergence", s.handleConvergence)
			r.Get("/convergence/latest", s.handleLatestConvergence)
			r.Get("/aggregate/{variable}", s.handleAggregate)
			r.Post("/reload", s.handleReload)
		})
	})
	s.router.Post("/api/aggregate", s.handleRecompute)
	s.router.Get("/api/events", s.events.HandleSSE)
}

// Handler returns the routed handler, for embedding and tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[API] Starting simagg server on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Printf("[API] Shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

// aggregateResult returns the current aggregates, computing them on first use
func (s *Server) aggregateResult(ctx context.Context, force bool) (*app.AggregateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result != nil && !force {
		return s.result, nil
	}
	result, err := s.aggregates.Run(ctx, force)
	if err != nil {
		return nil, err
	}
	s.result = result
	return result, nil
}
