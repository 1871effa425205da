package forecast

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"

	"github.com/ws97109/highway-traffic/internal/ingest"
)

// HTTPDoer abstracts HTTP request execution so tests can stub the backend.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RemoteConfig holds configuration for the remote inference client.
type RemoteConfig struct {
	// BaseURL of the inference service.
	BaseURL string

	// HTTPClient to use; a default client with the configured timeout is
	// created when nil.
	HTTPClient HTTPDoer

	// Timeout for one inference call (default 5s).
	Timeout time.Duration

	// MaxRetries on transient failures (default 2; inference runs on a
	// tick budget, so retries stay short).
	MaxRetries uint64

	// InitialInterval is the first retry backoff interval (default 100ms).
	InitialInterval time.Duration

	// Metrics instruments backend calls; nil disables instrumentation.
	Metrics *BackendMetrics
}

// RemotePredictor calls an external multi-task inference service. Transient
// failures are retried with exponential backoff; sustained failure opens a
// circuit breaker so ticks stop burning their budget on a dead backend.
// Every failure mode surfaces as ErrModelUnavailable so the fusion layer can
// fall back to the physical path.
type RemotePredictor struct {
	baseURL    string
	httpClient HTTPDoer
	breaker    *gobreaker.CircuitBreaker[[]Record]
	metrics    *BackendMetrics
	cfg        RemoteConfig
}

// NewRemotePredictor creates a client for the inference service.
func NewRemotePredictor(cfg RemoteConfig) *RemotePredictor {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 100 * time.Millisecond
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	breaker := gobreaker.NewCircuitBreaker[[]Record](gobreaker.Settings{
		Name:    "inference",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &RemotePredictor{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: httpClient,
		breaker:    breaker,
		metrics:    cfg.Metrics,
		cfg:        cfg,
	}
}

type predictRequest struct {
	Stations []stationWindow `json:"stations"`
	Horizon  int             `json:"horizon"`
}

type stationWindow struct {
	StationID string    `json:"station_id"`
	Flow      []float64 `json:"flow"`
	Speed     []float64 `json:"speed"`
	Density   []float64 `json:"density"`
}

type predictResponse struct {
	Predictions []Record `json:"predictions"`
}

// Predict sends the lookback windows to the inference service and decodes
// the per-station multi-task forecasts.
func (p *RemotePredictor) Predict(ctx context.Context, windows map[string][]ingest.Reading, horizon int) ([]Record, error) {
	body, err := json.Marshal(buildRequest(windows, horizon))
	if err != nil {
		return nil, fmt.Errorf("encoding inference request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.InitialInterval
	bo.MaxElapsedTime = 0
	retry := backoff.WithContext(backoff.WithMaxRetries(bo, p.cfg.MaxRetries), ctx)

	var records []Record
	attempts := 0
	operation := func() error {
		if attempts++; attempts > 1 {
			p.metrics.RecordRetry("predict")
		}
		got, err := p.breaker.Execute(func() ([]Record, error) {
			return p.call(ctx, body)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			return err
		}
		records = got
		return nil
	}

	start := time.Now()
	err = backoff.Retry(operation, retry)
	p.metrics.RecordCall("predict", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	return records, nil
}

func (p *RemotePredictor) call(ctx context.Context, body []byte) ([]Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference service returned %d", resp.StatusCode)
	}

	var decoded predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding inference response: %w", err)
	}
	return decoded.Predictions, nil
}

func buildRequest(windows map[string][]ingest.Reading, horizon int) predictRequest {
	req := predictRequest{Horizon: horizon}
	for id, window := range windows {
		sw := stationWindow{
			StationID: id,
			Flow:      make([]float64, len(window)),
			Speed:     make([]float64, len(window)),
			Density:   make([]float64, len(window)),
		}
		for i, r := range window {
			sw.Flow[i] = r.Flow
			sw.Speed[i] = r.Speed
			sw.Density[i] = r.Density
		}
		req.Stations = append(req.Stations, sw)
	}
	return req
}

// BreakerState reports the circuit breaker state for health endpoints.
func (p *RemotePredictor) BreakerState() gobreaker.State {
	return p.breaker.State()
}
