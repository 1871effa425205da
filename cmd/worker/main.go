// Package main provides the entrypoint for the headless pipeline worker.
// It runs the same detection/forecast pipeline as the API server but without
// the query surface, for deployments that split ingest from serving.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ws97109/highway-traffic/internal/config"
	"github.com/ws97109/highway-traffic/internal/database"
	"github.com/ws97109/highway-traffic/internal/detector"
	"github.com/ws97109/highway-traffic/internal/forecast"
	"github.com/ws97109/highway-traffic/internal/fusion"
	"github.com/ws97109/highway-traffic/internal/history"
	"github.com/ws97109/highway-traffic/internal/network"
	"github.com/ws97109/highway-traffic/internal/pipeline"
	"github.com/ws97109/highway-traffic/internal/stream"
)

// Version and BuildTime are set at compile time via ldflags
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", "traffic-worker").
		Str("version", Version).
		Logger()

	log.Info().Str("build_time", BuildTime).Msg("starting traffic worker")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	net, err := network.Load(cfg.TopologyPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.TopologyPath).Msg("failed to load topology")
	}

	pool, err := database.Connect(ctx, database.ConfigFromEnv())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

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

	fusionMethod, err := fusion.ParseMethod(cfg.FusionMethod)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid fusion method")
	}

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
		Publisher: stream.NewPublisher(rdb, log),
		Archive:   history.NewPostgresRepository(pool),
		Logger:    log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build pipeline")
	}

	go manager.Run(ctx)
	log.Info().Int("partitions", len(net.Partitions())).Msg("pipeline running")

	// Health endpoint for the orchestrator
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","version":"%s"}`, Version)
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down worker")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	log.Info().Msg("worker stopped")
}
