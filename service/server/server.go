package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/solguard/solguard/service/config"
	"github.com/solguard/solguard/service/metrics"
	"github.com/solguard/solguard/service/ml"
	"github.com/solguard/solguard/service/patterns"
	"github.com/solguard/solguard/service/registry"
	"github.com/solguard/solguard/service/scan"
)

// Server represents the HTTP server for the scan service.
type Server struct {
	addr         string
	cfg          *config.Config
	orchestrator *scan.Orchestrator
	patternStore *patterns.Store
	registry     *registry.ProgramRegistry
	model        *ml.RuleModel
	admission    *scan.AdmissionController
	metrics      *metrics.Metrics
	logger       *slog.Logger
	server       *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The orchestrator runs scans; the pattern store serves the admin
// endpoints. The metrics is optional - if nil, the metrics endpoint
// won't be available.
func New(addr string, cfg *config.Config, orchestrator *scan.Orchestrator, patternStore *patterns.Store, reg *registry.ProgramRegistry, model *ml.RuleModel, admission *scan.AdmissionController, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:         addr,
		cfg:          cfg,
		orchestrator: orchestrator,
		patternStore: patternStore,
		registry:     reg,
		model:        model,
		admission:    admission,
		metrics:      m,
		logger:       logger,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	withMetrics := func(name string, h http.Handler) http.Handler {
		return metrics.HTTPMetricsMiddleware(s.metrics, name)(h)
	}

	// Scan route
	mux.Handle("POST /api/v1/scan", withMetrics("/api/v1/scan",
		handleScan(s.orchestrator, s.logger)))

	// Pattern admin routes
	mux.Handle("GET /api/v1/patterns", withMetrics("/api/v1/patterns",
		handleListPatterns(s.patternStore, s.logger)))
	mux.Handle("POST /api/v1/patterns", withMetrics("/api/v1/patterns",
		handleUpsertPattern(s.patternStore, s.registry, s.logger)))
	mux.Handle("DELETE /api/v1/patterns/{id}", withMetrics("/api/v1/patterns",
		handleDeactivatePattern(s.patternStore, s.logger)))

	// Service status route
	mux.Handle("GET /api/v1/status", withMetrics("/api/v1/status",
		handleStatus(s.patternStore, s.registry, s.model, s.admission, s.logger)))

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	// Wrap mux with CORS middleware
	handler := corsMiddleware(mux)

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Set CORS headers for all requests
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		// Handle preflight OPTIONS requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		// Pass through to next handler
		next.ServeHTTP(w, r)
	})
}
