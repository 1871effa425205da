// Package detector identifies traffic shockwaves and tracks their
// propagation upstream through a station sequence.
package detector

import (
	"errors"
	"time"
)

// Detector errors.
var (
	// ErrInvalidReading signals a contract violation: the detector received
	// a reading that should have been rejected at ingest. This is an
	// upstream bug, not a recoverable condition.
	ErrInvalidReading = errors.New("invalid reading reached detector")
)

// Severity classifies a shockwave by its peak speed drop.
type Severity string

const (
	SeverityMild     Severity = "mild"
	SeverityModerate Severity = "moderate"
	SeveritySevere   Severity = "severe"
)

// Rank orders severities for comparisons; higher is worse.
func (s Severity) Rank() int {
	switch s {
	case SeveritySevere:
		return 3
	case SeverityModerate:
		return 2
	default:
		return 1
	}
}

// Thresholds holds the severity tier boundaries in km/h of speed drop.
// These are deployment-calibrated configuration, not constants.
type Thresholds struct {
	MildKMH     float64
	ModerateKMH float64
	SevereKMH   float64
}

// DefaultThresholds returns the documented reference tiers.
func DefaultThresholds() Thresholds {
	return Thresholds{MildKMH: 6, ModerateKMH: 18, SevereKMH: 30}
}

// Classify maps a speed drop to a severity tier. Drops below the mild
// threshold are not shockwaves and yield an empty severity.
func (t Thresholds) Classify(dropKMH float64) Severity {
	switch {
	case dropKMH >= t.SevereKMH:
		return SeveritySevere
	case dropKMH >= t.ModerateKMH:
		return SeverityModerate
	case dropKMH >= t.MildKMH:
		return SeverityMild
	default:
		return ""
	}
}

// State is the detection state of one station.
type State string

const (
	StateNormal      State = "NORMAL"
	StateCandidate   State = "CANDIDATE"
	StateConfirmed   State = "CONFIRMED"
	StatePropagating State = "PROPAGATING"
	StateResolved    State = "RESOLVED"
)

// Confirmation records a station joining an event.
type Confirmation struct {
	StationID string
	At        time.Time
	DropKMH   float64
}

// Event is one tracked shockwave. The detector is its sole mutator.
type Event struct {
	ID     string
	Origin string
	// Highway and Dir identify the partition the event belongs to.
	Highway string
	Dir     string

	Severity Severity
	// MaxDropKMH is the peak observed speed drop across affected stations.
	MaxDropKMH float64

	// Affected lists station IDs in order of detection.
	Affected []string
	// Confirmations parallels Affected with timing detail.
	Confirmations []Confirmation

	// PropagationKMH is the empirically estimated propagation speed,
	// signed: negative means the front moves upstream against traffic.
	// Zero until a second station confirms.
	PropagationKMH float64
	// TheoreticalWaveKMH is the Rankine-Hugoniot two-state wave speed at
	// the origin, clamped to a plausible band.
	TheoreticalWaveKMH float64

	DetectedAt        time.Time
	LastConfirmation  time.Time
	EstimatedDuration time.Duration

	Active     bool
	ResolvedAt time.Time
}

// Clone returns a deep copy of the event. The store hands out clones so
// readers on other goroutines never alias state the detector still mutates.
func (e *Event) Clone() *Event {
	out := *e
	out.Affected = append([]string(nil), e.Affected...)
	out.Confirmations = append([]Confirmation(nil), e.Confirmations...)
	return &out
}

// Contains reports whether a station is part of the event.
func (e *Event) Contains(stationID string) bool {
	for _, id := range e.Affected {
		if id == stationID {
			return true
		}
	}
	return false
}

// rankineHugoniot computes the two-state shock speed (q2-q1)/(k2-k1),
// clamped to +-15 km/h per the backward-forming wave literature.
func rankineHugoniot(k1, k2, v1, v2 float64) float64 {
	dk := k2 - k1
	if dk > -0.1 && dk < 0.1 {
		return 0
	}
	w := (k2*v2 - k1*v1) / dk
	if w > 15 {
		return 15
	}
	if w < -15 {
		return -15
	}
	return w
}
