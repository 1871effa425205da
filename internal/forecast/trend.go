package forecast

import (
	"context"
	"math"
	"sort"

	"github.com/ws97109/highway-traffic/internal/ingest"
)

// TrendPredictor is the statistical baseline strategy: it extrapolates each
// station's recent flow trend, scales it by a time-of-day traffic factor and
// derives speed and density from the flow. It needs no external model and is
// deterministic given the same windows, so it doubles as the degraded-mode
// predictor when the neural backend is down.
type TrendPredictor struct{}

// NewTrendPredictor returns the baseline strategy.
func NewTrendPredictor() *TrendPredictor { return &TrendPredictor{} }

// Predict extrapolates one forecast per (station, step) pair. Timestamps of
// the input windows, not the wall clock, drive the time-of-day factor so the
// output depends only on its inputs.
func (p *TrendPredictor) Predict(_ context.Context, windows map[string][]ingest.Reading, horizon int) ([]Record, error) {
	stations := make([]string, 0, len(windows))
	for id := range windows {
		stations = append(stations, id)
	}
	sort.Strings(stations)

	out := make([]Record, 0, len(stations)*horizon)
	for _, id := range stations {
		window := windows[id]
		if len(window) == 0 {
			continue
		}
		last := window[len(window)-1]

		trend := 0.0
		if len(window) >= 2 {
			trend = last.Flow - window[len(window)-2].Flow
		}
		factor := timeFactor(last.Timestamp.Hour())
		confidence := baseConfidence(last.Flow, last.Timestamp.Hour())

		for step := 1; step <= horizon; step++ {
			flow := (last.Flow + trend*0.5*float64(step)) * factor
			if flow < 0 {
				flow = 0
			}
			speed := speedFromFlow(flow)
			out = append(out, Record{
				StationID:   id,
				Step:        step,
				Flow:        flow,
				Speed:       speed,
				Density:     flow / math.Max(speed, 1),
				Confidence:  confidence,
				GeneratedAt: last.Timestamp,
			})
		}
	}
	return out, nil
}

// timeFactor scales flow by the typical daily traffic pattern.
func timeFactor(hour int) float64 {
	switch {
	case hour >= 7 && hour <= 9:
		return 1.3
	case hour >= 17 && hour <= 19:
		return 1.4
	case hour >= 22 || hour <= 5:
		return 0.3
	default:
		return 1.0
	}
}

// speedFromFlow maps predicted flow to speed with a piecewise congestion
// curve: free flow up to moderate volumes, then steepening decline.
func speedFromFlow(flow float64) float64 {
	switch {
	case flow <= 0:
		return 90
	case flow <= 1000:
		return 90 - flow/1000*20
	case flow <= 2000:
		return 70 - (flow-1000)/1000*30
	default:
		return math.Max(20, 40-(flow-2000)/1000*15)
	}
}

func baseConfidence(flow float64, hour int) float64 {
	c := 0.75
	if flow > 0 {
		c += 0.1
	}
	if hour >= 6 && hour <= 22 {
		c += 0.05
	}
	return math.Min(0.95, math.Max(0.5, c))
}
