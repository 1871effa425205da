// Package ingest maintains the per-station rolling telemetry window.
package ingest

import (
	"errors"
	"math"
	"time"
)

// Buffer errors.
var (
	ErrOutOfOrder       = errors.New("reading out of order")
	ErrInvalidReading   = errors.New("invalid reading")
	ErrInsufficientData = errors.New("insufficient data")
	ErrUnknownStation   = errors.New("unknown station")
)

// Reading is one telemetry sample for a station.
type Reading struct {
	StationID string    `json:"station_id"`
	Timestamp time.Time `json:"timestamp"`
	// Flow is vehicles per interval.
	Flow float64 `json:"flow"`
	// Speed is the interval median speed in km/h.
	Speed float64 `json:"speed"`
	// Density is vehicles per km. Zero means not reported; the buffer derives
	// it from flow and speed on append.
	Density float64 `json:"density"`
	// Gap marks a reading that followed a missing interval. Set by the
	// buffer, never by producers.
	Gap bool `json:"-"`
}

// Validate checks a reading against the ingest contract. Malformed records
// are rejected here so the detector can assume clean input.
func (r Reading) Validate() error {
	if r.StationID == "" {
		return errors.New("missing station id")
	}
	if r.Timestamp.IsZero() {
		return errors.New("missing timestamp")
	}
	for _, v := range []float64{r.Flow, r.Speed, r.Density} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("non-finite value")
		}
		if v < 0 {
			return errors.New("negative value")
		}
	}
	return nil
}

// withDerivedDensity fills in density from the fundamental relation
// q = k*v when the producer did not report it.
func (r Reading) withDerivedDensity() Reading {
	if r.Density > 0 || r.Flow == 0 {
		return r
	}
	speed := r.Speed
	if speed < 0.1 {
		speed = 0.1
	}
	r.Density = r.Flow / speed
	return r
}
