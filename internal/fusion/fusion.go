// Package fusion combines the detector's physical propagation estimates with
// the forecasting engine's learned predictions into one output per station
// and step. It is a pure transformation: callers supply both inputs and it
// never fails outright, degrading to whichever source is present.
package fusion

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/ws97109/highway-traffic/internal/forecast"
)

// ErrUnknownMethod is returned for an unrecognized fusion method name in
// configuration.
var ErrUnknownMethod = errors.New("unknown fusion method")

// Method selects the weighting policy.
type Method string

const (
	// MethodConfidenceWeighted scales each source's weight by its
	// confidence: the learned forecast gains weight as its trailing
	// accuracy improves, the physical model gains weight as more stations
	// confirm the propagation.
	MethodConfidenceWeighted Method = "confidence_weighted"

	// MethodFixed uses static weights regardless of confidence.
	MethodFixed Method = "fixed"
)

// ParseMethod validates a configured method name.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodConfidenceWeighted, "":
		return MethodConfidenceWeighted, nil
	case MethodFixed:
		return MethodFixed, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMethod, s)
	}
}

// Source names which inputs contributed to a prediction.
type Source string

const (
	SourceFused    Source = "fused"
	SourcePhysical Source = "physical"
	SourceLearned  Source = "learned"
)

const (
	physicalBaseConfidence = 0.55

	// establishedBonus is added to the physical confidence once the
	// propagation is backed by at least three confirming stations.
	establishedBonus   = 0.15
	establishedAtCount = 3
)

// PhysicalEstimate is the detector-side projection for one station and step:
// the traffic state implied by an active shockwave's propagation.
type PhysicalEstimate struct {
	StationID string
	Step      int
	Flow      float64
	Speed     float64
	Density   float64

	// ConfirmingStations is how many stations back the propagation
	// estimate; more stations mean better-established physics.
	ConfirmingStations int
}

func (e PhysicalEstimate) confidence() float64 {
	c := physicalBaseConfidence
	if e.ConfirmingStations >= establishedAtCount {
		c += establishedBonus
	}
	return c
}

// Prediction is the fused output for one station and step.
type Prediction struct {
	StationID string  `json:"station_id"`
	Step      int     `json:"step"`
	Flow      float64 `json:"fused_flow"`
	Speed     float64 `json:"fused_speed"`
	Density   float64 `json:"fused_density"`

	Confidence     float64 `json:"confidence"`
	PhysicalWeight float64 `json:"physical_weight"`
	LearnedWeight  float64 `json:"learned_weight"`

	// Source records which inputs contributed; Degraded is set whenever
	// only one of the two was available.
	Source   Source `json:"source"`
	Degraded bool   `json:"degraded"`
}

// Config holds fusion settings.
type Config struct {
	Method Method

	// PhysicalWeight/LearnedWeight apply under MethodFixed; they are
	// normalized, defaulting to an even split.
	PhysicalWeight float64
	LearnedWeight  float64
}

// Fuser applies the configured weighting policy.
type Fuser struct {
	cfg Config
}

// New creates a fuser. Zero-value fixed weights default to 0.5/0.5.
func New(cfg Config) *Fuser {
	if cfg.Method == "" {
		cfg.Method = MethodConfidenceWeighted
	}
	if cfg.PhysicalWeight <= 0 && cfg.LearnedWeight <= 0 {
		cfg.PhysicalWeight = 0.5
		cfg.LearnedWeight = 0.5
	}
	return &Fuser{cfg: cfg}
}

type pairKey struct {
	station string
	step    int
}

// Fuse merges the two inputs pairwise on (station, step). Pairs present on
// only one side degrade to that source with full weight; Fuse never returns
// an empty result unless both inputs are empty.
func (f *Fuser) Fuse(physical []PhysicalEstimate, learned []forecast.Record) []Prediction {
	phys := make(map[pairKey]PhysicalEstimate, len(physical))
	for _, p := range physical {
		phys[pairKey{p.StationID, p.Step}] = p
	}
	lrn := make(map[pairKey]forecast.Record, len(learned))
	for _, r := range learned {
		lrn[pairKey{r.StationID, r.Step}] = r
	}

	keys := make([]pairKey, 0, len(phys)+len(lrn))
	seen := make(map[pairKey]bool, len(phys)+len(lrn))
	for k := range phys {
		keys = append(keys, k)
		seen[k] = true
	}
	for k := range lrn {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].station != keys[j].station {
			return keys[i].station < keys[j].station
		}
		return keys[i].step < keys[j].step
	})

	out := make([]Prediction, 0, len(keys))
	for _, k := range keys {
		p, hasPhys := phys[k]
		r, hasLrn := lrn[k]
		switch {
		case hasPhys && hasLrn:
			out = append(out, f.fusePair(p, r))
		case hasPhys:
			out = append(out, Prediction{
				StationID:      p.StationID,
				Step:           p.Step,
				Flow:           p.Flow,
				Speed:          p.Speed,
				Density:        p.Density,
				Confidence:     p.confidence(),
				PhysicalWeight: 1,
				Source:         SourcePhysical,
				Degraded:       true,
			})
		default:
			out = append(out, Prediction{
				StationID:     r.StationID,
				Step:          r.Step,
				Flow:          r.Flow,
				Speed:         r.Speed,
				Density:       r.Density,
				Confidence:    r.Confidence,
				LearnedWeight: 1,
				Source:        SourceLearned,
				Degraded:      true,
			})
		}
	}
	return out
}

func (f *Fuser) fusePair(p PhysicalEstimate, r forecast.Record) Prediction {
	var wp, wl float64
	switch f.cfg.Method {
	case MethodFixed:
		wp, wl = normalize(f.cfg.PhysicalWeight, f.cfg.LearnedWeight)
	default:
		wp, wl = normalize(p.confidence(), r.Confidence)
	}

	return Prediction{
		StationID:      p.StationID,
		Step:           p.Step,
		Flow:           wp*p.Flow + wl*r.Flow,
		Speed:          wp*p.Speed + wl*r.Speed,
		Density:        wp*p.Density + wl*r.Density,
		Confidence:     fusedConfidence(p, r, wp, wl),
		PhysicalWeight: wp,
		LearnedWeight:  wl,
		Source:         SourceFused,
	}
}

// fusedConfidence starts from the weighted confidence of the two sources and
// discounts it by how much their speed estimates diverge: two sources that
// disagree strongly cannot both be trusted.
func fusedConfidence(p PhysicalEstimate, r forecast.Record, wp, wl float64) float64 {
	base := wp*p.confidence() + wl*r.Confidence
	ref := math.Max(math.Max(p.Speed, r.Speed), 1)
	divergence := math.Abs(p.Speed-r.Speed) / ref
	return base * (1 - 0.5*math.Min(1, divergence))
}

func normalize(a, b float64) (float64, float64) {
	total := a + b
	if total <= 0 {
		return 0.5, 0.5
	}
	return a / total, b / total
}
