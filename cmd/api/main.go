// Package main provides the entrypoint for the highway traffic API server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ws97109/highway-traffic/internal/alert"
	"github.com/ws97109/highway-traffic/internal/api"
	"github.com/ws97109/highway-traffic/internal/api/middleware"
	"github.com/ws97109/highway-traffic/internal/config"
	"github.com/ws97109/highway-traffic/internal/database"
	"github.com/ws97109/highway-traffic/internal/detector"
	"github.com/ws97109/highway-traffic/internal/forecast"
	"github.com/ws97109/highway-traffic/internal/fusion"
	"github.com/ws97109/highway-traffic/internal/history"
	"github.com/ws97109/highway-traffic/internal/network"
	"github.com/ws97109/highway-traffic/internal/pipeline"
	"github.com/ws97109/highway-traffic/internal/stream"
	"github.com/ws97109/highway-traffic/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "traffic-api"

	// Setup structured logging
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting traffic API")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	// Initialize OpenTelemetry
	ctx := context.Background()
	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.OTelEnabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if cfg.OTelEnabled {
		log.Info().
			Str("otlp_endpoint", cfg.OTLPEndpoint).
			Msg("OpenTelemetry initialized")
	}

	// Initialize metrics
	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}

	// Load the station topology
	net, err := network.Load(cfg.TopologyPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.TopologyPath).Msg("failed to load topology")
	}
	log.Info().
		Int("partitions", len(net.Partitions())).
		Msg("topology loaded")

	// Connect to database
	dbConfig := database.ConfigFromEnv()
	pool, err := database.Connect(ctx, dbConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	log.Info().
		Str("host", dbConfig.Host).
		Int("port", dbConfig.Port).
		Str("database", dbConfig.Database).
		Msg("database connected")

	archive := history.NewPostgresRepository(pool)

	// Connect to Redis for event/prediction streaming
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	publisher := stream.NewPublisher(rdb, log)
	log.Info().Str("addr", cfg.RedisAddr).Msg("redis connected")

	// Build the forecasting predictor
	backendMetrics, err := forecast.NewBackendMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize inference metrics")
	}
	predictor, err := forecast.NewPredictor(cfg.ForecastStrategy, forecast.RemoteConfig{
		BaseURL: cfg.InferenceURL,
		Timeout: cfg.InferenceTimeout,
		Metrics: backendMetrics,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("invalid forecast strategy")
	}
	log.Info().Str("strategy", cfg.ForecastStrategy).Msg("predictor initialized")

	fusionMethod, err := fusion.ParseMethod(cfg.FusionMethod)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid fusion method")
	}

	// Build the detection/forecast pipeline
	manager, err := pipeline.NewManager(pipeline.Config{
		DetectInterval:    cfg.DetectInterval,
		ForecastInterval:  cfg.ForecastInterval,
		TelemetryInterval: cfg.TelemetryInterval,
		LookbackSteps:     cfg.LookbackSteps,
		Thresholds: detector.Thresholds{
			MildKMH:     cfg.MildThresholdKMH,
			ModerateKMH: cfg.ModerateThresholdKMH,
			SevereKMH:   cfg.SevereThresholdKMH,
		},
		Engine: forecast.EngineConfig{
			LookbackSteps: cfg.LookbackSteps,
			HorizonSteps:  cfg.HorizonSteps,
			Timeout:       cfg.InferenceTimeout,
		},
		Fusion: fusion.Config{
			Method:         fusionMethod,
			PhysicalWeight: cfg.FusionPhysicalWeight,
			LearnedWeight:  cfg.FusionLearnedWeight,
		},
	}, pipeline.ManagerDeps{
		Network:   net,
		Predictor: predictor,
		Publisher: publisher,
		Archive:   archive,
		Logger:    log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build pipeline")
	}

	pipelineCtx, stopPipeline := context.WithCancel(ctx)
	defer stopPipeline()
	go manager.Run(pipelineCtx)
	log.Info().Msg("pipeline running")

	// Create router with configuration
	router := api.NewRouter(api.RouterConfig{
		Version:     Version,
		BuildTime:   BuildTime,
		Logger:      log,
		ServiceName: serviceName,
		Metrics:     metrics,
		Network:     net,
		Pipeline:    manager,
		Composer:    alert.NewComposer(net),
		Archive:     archive,
		Checks: []api.NamedCheck{
			{Name: "postgres", Check: func(ctx context.Context) error { return pool.Ping(ctx) }},
			{Name: "redis", Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
		},
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")
	stopPipeline()

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}
