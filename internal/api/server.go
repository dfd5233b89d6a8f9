// Package api exposes the HTTP surface of the scoring service.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/merlin/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, apiKey string, deps HandlerConfig) *Server {
	handler := NewHandler(deps)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health and metrics endpoints (no auth)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// API routes (key required)
	router.Route("/", func(r chi.Router) {
		r.Use(APIKeyMiddleware(apiKey))

		// Scoring
		r.Post("/score", handler.Score)

		// Transaction retrieval
		r.Get("/transactions/{id}", handler.GetTransaction)

		// Alert management
		r.Get("/alerts", handler.ListAlerts)
		r.Get("/alerts/stats", handler.AlertStats)
		r.Get("/alerts/{id}", handler.GetAlert)
		r.Post("/alerts/{id}/review", handler.ReviewAlert)

		// Pipeline statistics
		r.Get("/stats", handler.Stats)

		// Runtime administration
		r.Put("/config/scoring", handler.UpdateScoringConfig)
		r.Post("/calibrate", handler.Calibrate)
		r.Post("/models/reload", handler.ReloadModels)
		r.Post("/baselines/{userID}/refresh", handler.RefreshBaseline)

		// Policy management
		r.Get("/policies", handler.ListPolicies)
		r.Post("/policies", handler.CreatePolicy)
		r.Post("/policies/reload", handler.ReloadPolicies)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
