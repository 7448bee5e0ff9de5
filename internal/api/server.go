package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/metrics"
)

const defaultResponseTTL = 60 * time.Second

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server. responseTTL bounds cached reads;
// zero uses 60 seconds.
func NewServer(cfg domain.ServerConfig, deps Deps, responseTTL time.Duration) *Server {
	handler := NewHandler(deps)
	if responseTTL == 0 {
		responseTTL = defaultResponseTTL
	}
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(metrics.Middleware)     // Prometheus request metrics
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Method(http.MethodGet, "/metrics", metrics.Handler())

	// API routes (tenant required)
	router.Group(func(r chi.Router) {
		r.Use(TenantMiddleware)
		r.Use(ResponseCache(deps.Cache, responseTTL))

		// Scoring pipeline
		r.Post("/transactions", handler.IngestTransaction)
		r.Get("/transactions/{id}", handler.GetTransaction)
		r.Post("/score", handler.ScoreTransaction)

		// Alerts
		r.Get("/alerts", handler.ListAlerts)
		r.Get("/alerts/{id}", handler.GetAlert)
		r.Post("/alerts/{id}/action", handler.ActOnAlert)
		r.Put("/alerts/{id}/queue", handler.AssignAlertQueue)
		r.Post("/alerts/{id}/explain", handler.ExplainAlert)
		r.Post("/alerts/{id}/case", handler.OpenCase)

		// Cases
		r.Get("/cases", handler.ListCases)
		r.Get("/cases/{id}", handler.GetCase)
		r.Post("/cases/{id}/status", handler.UpdateCaseStatus)
		r.Put("/cases/{id}/analyst", handler.AssignCase)
		r.Get("/cases/{id}/notes", handler.ListCaseNotes)
		r.Post("/cases/{id}/notes", handler.AddCaseNote)

		// SARs
		r.Get("/sars", handler.ListSARs)
		r.Post("/sars", handler.CreateSAR)
		r.Get("/sars/stats", handler.SARStats)
		r.Get("/sars/export", handler.ExportSARs)
		r.Get("/sars/{id}", handler.GetSAR)
		r.Put("/sars/{id}", handler.UpdateSAR)
		r.Post("/sars/{id}/file", handler.FileSAR)

		// Rule management
		r.Get("/rules", handler.ListRules)
		r.Post("/rules", handler.CreateRule)
		r.Post("/rules/reload", handler.ReloadRules)
		r.Get("/rules/{id}", handler.GetRule)
		r.Put("/rules/{id}", handler.UpdateRule)
		r.Delete("/rules/{id}", handler.DeleteRule)

		// Reports
		r.Get("/reports/summary", handler.ReportSummary)
		r.Get("/reports/trends", handler.ReportTrends)
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
