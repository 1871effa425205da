// Package config loads runtime configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the services read from the environment. Detection
// thresholds and window lengths are deployment-calibrated and must come from
// configuration, never from code.
type Config struct {
	Env  string
	Port string

	// TopologyPath points at the station network JSON file.
	TopologyPath string

	// Severity tier boundaries in km/h of speed drop.
	MildThresholdKMH     float64
	ModerateThresholdKMH float64
	SevereThresholdKMH   float64

	// LookbackSteps is the per-station window length; HorizonSteps how far
	// ahead the forecasting engine predicts.
	LookbackSteps int
	HorizonSteps  int

	// FusionMethod selects the weighting policy; the fixed weights apply
	// only under the "fixed" method.
	FusionMethod         string
	FusionPhysicalWeight float64
	FusionLearnedWeight  float64

	// ForecastStrategy picks the predictor ("remote" or "trend");
	// InferenceURL and InferenceTimeout configure the remote backend.
	ForecastStrategy string
	InferenceURL     string
	InferenceTimeout time.Duration

	// Tick cadences.
	DetectInterval    time.Duration
	ForecastInterval  time.Duration
	TelemetryInterval time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	OTLPEndpoint string
	OTelEnabled  bool
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Env:          getEnv("APP_ENV", "development"),
		Port:         getEnv("APP_PORT", "8080"),
		TopologyPath: getEnv("TOPOLOGY_PATH", "configs/topology.json"),

		MildThresholdKMH:     getFloat("MILD_THRESHOLD_KMH", 6),
		ModerateThresholdKMH: getFloat("MODERATE_THRESHOLD_KMH", 18),
		SevereThresholdKMH:   getFloat("SEVERE_THRESHOLD_KMH", 30),

		LookbackSteps: getInt("LOOKBACK_STEPS", 12),
		HorizonSteps:  getInt("HORIZON_STEPS", 6),

		FusionMethod:         getEnv("FUSION_METHOD", "confidence_weighted"),
		FusionPhysicalWeight: getFloat("FUSION_PHYSICAL_WEIGHT", 0.5),
		FusionLearnedWeight:  getFloat("FUSION_LEARNED_WEIGHT", 0.5),

		ForecastStrategy: getEnv("FORECAST_STRATEGY", "trend"),
		InferenceURL:     getEnv("INFERENCE_URL", "http://localhost:9000"),
		InferenceTimeout: time.Duration(getInt("INFERENCE_TIMEOUT_S", 5)) * time.Second,

		DetectInterval:    getDuration("DETECT_INTERVAL", 30*time.Second),
		ForecastInterval:  getDuration("FORECAST_INTERVAL", 5*time.Minute),
		TelemetryInterval: getDuration("TELEMETRY_INTERVAL", 5*time.Minute),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getInt("REDIS_DB", 0),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTelEnabled:  os.Getenv("OTEL_ENABLED") == "true",
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if !(c.MildThresholdKMH < c.ModerateThresholdKMH && c.ModerateThresholdKMH < c.SevereThresholdKMH) {
		return fmt.Errorf("severity thresholds must be strictly increasing: %.1f/%.1f/%.1f",
			c.MildThresholdKMH, c.ModerateThresholdKMH, c.SevereThresholdKMH)
	}
	if c.LookbackSteps < 2 {
		return fmt.Errorf("LOOKBACK_STEPS must be at least 2, got %d", c.LookbackSteps)
	}
	if c.HorizonSteps < 1 {
		return fmt.Errorf("HORIZON_STEPS must be at least 1, got %d", c.HorizonSteps)
	}
	if c.InferenceTimeout <= 0 {
		return fmt.Errorf("INFERENCE_TIMEOUT_S must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
