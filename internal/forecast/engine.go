package forecast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ws97109/highway-traffic/internal/ingest"
)

// Predictor is the capability every forecasting strategy implements: given
// per-station lookback windows and a horizon, produce joint flow/speed/
// density forecasts. Strategies are swappable without touching callers.
type Predictor interface {
	Predict(ctx context.Context, windows map[string][]ingest.Reading, horizon int) ([]Record, error)
}

// Strategy names recognized by NewPredictor.
const (
	StrategyRemote = "remote"
	StrategyTrend  = "trend"
)

// NewPredictor builds the named strategy.
func NewPredictor(name string, remote RemoteConfig) (Predictor, error) {
	switch name {
	case StrategyRemote:
		return NewRemotePredictor(remote), nil
	case StrategyTrend, "":
		return NewTrendPredictor(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
}

// EngineConfig holds forecasting engine settings.
type EngineConfig struct {
	// LookbackSteps is the exact window length required per station.
	LookbackSteps int

	// HorizonSteps is how many steps ahead to predict.
	HorizonSteps int

	// Timeout bounds one prediction call; on expiry the call is cancelled
	// and reported as ErrModelUnavailable.
	Timeout time.Duration
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.LookbackSteps <= 0 {
		c.LookbackSteps = DefaultLookbackSteps
	}
	if c.HorizonSteps <= 0 {
		c.HorizonSteps = DefaultHorizonSteps
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Engine validates lookback windows, runs the configured predictor under a
// timeout and grades each record's confidence with the station's trailing
// forecast accuracy.
type Engine struct {
	cfg       EngineConfig
	predictor Predictor
	accuracy  *AccuracyTracker
	logger    zerolog.Logger
}

// NewEngine creates a forecasting engine around a predictor.
func NewEngine(cfg EngineConfig, predictor Predictor, logger zerolog.Logger) *Engine {
	return &Engine{
		cfg:       cfg.withDefaults(),
		predictor: predictor,
		accuracy:  NewAccuracyTracker(),
		logger:    logger.With().Str("component", "forecast").Logger(),
	}
}

// Horizon returns the configured horizon length.
func (e *Engine) Horizon() int { return e.cfg.HorizonSteps }

// Predict produces one Record per (station, step) pair. Every window must
// have exactly the configured lookback length; partial history is a
// not-yet-ready condition, retried next tick.
func (e *Engine) Predict(ctx context.Context, windows map[string][]ingest.Reading) ([]Record, error) {
	for id, window := range windows {
		if len(window) != e.cfg.LookbackSteps {
			return nil, fmt.Errorf("%w: station %s has %d of %d readings",
				ingest.ErrInsufficientData, id, len(window), e.cfg.LookbackSteps)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	records, err := e.predictor.Predict(ctx, windows, e.cfg.HorizonSteps)
	if err != nil {
		if errors.Is(err, ErrModelUnavailable) {
			return nil, err
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: inference timed out after %s", ErrModelUnavailable, e.cfg.Timeout)
		}
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	for i := range records {
		score := e.accuracy.Score(records[i].StationID)
		if records[i].Confidence <= 0 {
			records[i].Confidence = score
		} else {
			records[i].Confidence = (records[i].Confidence + score) / 2
		}
	}
	return records, nil
}

// Observe feeds a realized reading back into the accuracy tracker, so the
// next tick's confidence reflects how well the previous forecast did.
func (e *Engine) Observe(stationID string, predictedSpeed, actualSpeed float64) {
	e.accuracy.Observe(stationID, predictedSpeed, actualSpeed)
}
