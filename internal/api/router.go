// Package api provides the HTTP API for the highway traffic service.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ws97109/highway-traffic/internal/alert"
	"github.com/ws97109/highway-traffic/internal/api/handler"
	"github.com/ws97109/highway-traffic/internal/api/middleware"
	"github.com/ws97109/highway-traffic/internal/history"
	"github.com/ws97109/highway-traffic/internal/network"
	"github.com/ws97109/highway-traffic/internal/pipeline"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics

	Network  *network.Network
	Pipeline *pipeline.Manager
	Composer *alert.Composer
	Archive  history.Repository

	// Checks are dependency probes surfaced on readiness and status
	// endpoints, in registration order.
	Checks []NamedCheck
}

// NamedCheck pairs a subsystem name with its health probe.
type NamedCheck struct {
	Name  string
	Check handler.SubsystemCheck
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "traffic-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))   // Structured logging
	r.Use(middleware.Recovery(cfg.Logger)) // Panic recovery
	r.Use(chimiddleware.RealIP)            // Real IP extraction
	r.Use(middleware.SecurityHeaders)      // Security headers (HSTS, CSP, etc.)
	r.Use(middleware.RequireTLS)           // TLS enforcement (enabled via REQUIRE_TLS=true)
	r.Use(middleware.ContentTypeJSON)      // JSON content type

	// Initialize handlers
	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, func() bool {
		if cfg.Pipeline == nil {
			return false
		}
		_, degraded := cfg.Pipeline.LatestPredictions()
		return degraded
	})
	for _, c := range cfg.Checks {
		opsHandler.WithCheck(c.Name, c.Check)
	}
	telemetryHandler := handler.NewTelemetryHandler(cfg.Pipeline)
	shockwaveHandler := handler.NewShockwaveHandler(cfg.Pipeline, cfg.Archive)
	forecastHandler := handler.NewForecastHandler(cfg.Pipeline)
	alertHandler := handler.NewAlertHandler(cfg.Pipeline, cfg.Composer, cfg.Archive, cfg.Logger)
	stationHandler := handler.NewStationHandler(cfg.Network)

	// Rate limit middleware for different endpoint categories
	ingestRateLimit := middleware.RateLimitByProducer(middleware.IngestRateLimit) // 600 req/min per producer
	expensiveRateLimit := middleware.RateLimitByIP(middleware.ExpensiveRateLimit) // 30 req/min
	standardRateLimit := middleware.RateLimitByIP(middleware.StandardRateLimit)   // 100 req/min

	// Prometheus scrape endpoint, outside /v1
	r.Method("GET", "/metrics", promhttp.Handler())

	// API v1 routes
	r.Route("/v1", func(r chi.Router) {
		// Ops endpoints (public)
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.Get("/status", opsHandler.SystemStatus)
		})

		// Telemetry ingest - producer-keyed rate limiting
		r.With(ingestRateLimit).Post("/telemetry", telemetryHandler.Ingest)

		// Station topology (public) - standard rate limiting
		r.Route("/stations", func(r chi.Router) {
			r.Use(standardRateLimit)
			r.Get("/", stationHandler.List)
			r.Get("/nearest", stationHandler.Nearest)
		})

		// Detection query surface - standard rate limiting
		r.Route("/shockwaves", func(r chi.Router) {
			r.Use(standardRateLimit)
			r.Get("/active", shockwaveHandler.Active)
			r.Get("/history", shockwaveHandler.History)
			r.Get("/{eventId}", shockwaveHandler.Get)
		})

		// On-demand forecast - expensive compute, strict rate limiting
		r.With(expensiveRateLimit).Post("/forecast:predict", forecastHandler.Predict)
		r.With(standardRateLimit).Get("/forecast/latest", forecastHandler.Latest)

		// Alert composition - standard rate limiting
		r.With(standardRateLimit).Post("/alerts:compose", alertHandler.Compose)
		r.With(standardRateLimit).Get("/operators/recommendations", alertHandler.OperatorRecommendations)
	})

	return r
}
