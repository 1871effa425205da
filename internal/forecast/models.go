package forecast

import (
	"errors"
	"time"
)

// Predefined errors for the forecasting engine.
var (
	// ErrModelUnavailable is returned when the inference backend is down,
	// timing out, or circuit-broken. Callers fall back to physical-only
	// estimates rather than failing the tick.
	ErrModelUnavailable = errors.New("forecast model unavailable")

	// ErrUnknownStrategy is returned for an unrecognized predictor name in
	// configuration.
	ErrUnknownStrategy = errors.New("unknown forecast strategy")
)

const (
	// DefaultLookbackSteps is the required window length per station.
	DefaultLookbackSteps = 12

	// DefaultHorizonSteps is how many steps ahead the engine predicts.
	DefaultHorizonSteps = 6

	// DefaultTimeout bounds one inference call.
	DefaultTimeout = 5 * time.Second
)

// Record is one multi-task forecast: flow, speed and density for a single
// station at a single step ahead. The three targets come from one predictor
// call so they stay physically coupled (flow tracks speed times density).
type Record struct {
	StationID   string    `json:"station_id"`
	Step        int       `json:"step"`
	Flow        float64   `json:"predicted_flow"`
	Speed       float64   `json:"predicted_speed"`
	Density     float64   `json:"predicted_density"`
	Confidence  float64   `json:"confidence"`
	GeneratedAt time.Time `json:"generated_at"`
}
