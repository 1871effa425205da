package forecast

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/stat"
)

const (
	accuracyWindow = 12

	minConfidence = 0.5
	maxConfidence = 0.95
)

// AccuracyTracker keeps a trailing window of absolute percentage errors per
// station, comparing earlier forecasts against the readings that later
// arrived. Confidence is a function of this score, so stations with volatile
// recent history are reported less certainly.
type AccuracyTracker struct {
	mu     sync.RWMutex
	errors map[string][]float64
}

func NewAccuracyTracker() *AccuracyTracker {
	return &AccuracyTracker{errors: make(map[string][]float64)}
}

// Observe records the outcome of one past speed forecast.
func (t *AccuracyTracker) Observe(stationID string, predicted, actual float64) {
	if actual <= 0 || math.IsNaN(predicted) {
		return
	}
	ape := math.Abs(predicted-actual) / actual

	t.mu.Lock()
	defer t.mu.Unlock()
	errs := append(t.errors[stationID], ape)
	if len(errs) > accuracyWindow {
		errs = errs[len(errs)-accuracyWindow:]
	}
	t.errors[stationID] = errs
}

// Score returns the station's trailing accuracy as a confidence value in
// [minConfidence, maxConfidence]. Stations with no history yet get a neutral
// prior rather than an extreme.
func (t *AccuracyTracker) Score(stationID string) float64 {
	t.mu.RLock()
	errs := t.errors[stationID]
	t.mu.RUnlock()

	if len(errs) == 0 {
		return 0.75
	}
	score := 1 - stat.Mean(errs, nil)
	return math.Min(maxConfidence, math.Max(minConfidence, score))
}
