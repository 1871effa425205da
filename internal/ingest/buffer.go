package ingest

import (
	"fmt"
	"sync"
	"time"
)

// DefaultCapacity is the default lookback window length in readings.
const DefaultCapacity = 12

// BufferConfig holds configuration for a telemetry buffer.
type BufferConfig struct {
	// Capacity is the per-station window length. Default: 12.
	Capacity int

	// Interval is the expected telemetry cadence. A reading arriving more
	// than 1.5x the interval after its predecessor is marked as following a
	// gap. Default: 5 minutes.
	Interval time.Duration
}

// Buffer holds one fixed-capacity ordered window of readings per station.
// It owns reading history exclusively; the forecasting engine works on
// copies returned by Window.
type Buffer struct {
	capacity int
	interval time.Duration

	mu      sync.RWMutex
	windows map[string][]Reading
}

// NewBuffer creates a telemetry buffer.
func NewBuffer(cfg BufferConfig) *Buffer {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Buffer{
		capacity: capacity,
		interval: interval,
		windows:  make(map[string][]Reading),
	}
}

// Capacity returns the configured window length.
func (b *Buffer) Capacity() int { return b.capacity }

// Append validates and stores a reading. Readings must arrive in strictly
// increasing timestamp order per station; violations return ErrOutOfOrder
// and are never silently reordered. The oldest reading is evicted once the
// window is full.
func (b *Buffer) Append(r Reading) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidReading, err)
	}
	r = r.withDerivedDensity()

	b.mu.Lock()
	defer b.mu.Unlock()

	window := b.windows[r.StationID]
	if len(window) > 0 {
		last := window[len(window)-1]
		if !r.Timestamp.After(last.Timestamp) {
			return fmt.Errorf("%w: %s at %s not after %s",
				ErrOutOfOrder, r.StationID, r.Timestamp.Format(time.RFC3339), last.Timestamp.Format(time.RFC3339))
		}
		// Mark, do not interpolate. Filling gaps is the forecaster's call.
		if r.Timestamp.Sub(last.Timestamp) > b.interval*3/2 {
			r.Gap = true
		}
	}

	window = append(window, r)
	if len(window) > b.capacity {
		window = window[len(window)-b.capacity:]
	}
	b.windows[r.StationID] = window
	return nil
}

// Window returns the most recent length readings for a station, oldest
// first. Returns ErrInsufficientData when fewer readings exist; callers
// decide whether to wait or degrade.
func (b *Buffer) Window(stationID string, length int) ([]Reading, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	window, ok := b.windows[stationID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInsufficientData, stationID)
	}
	if len(window) < length {
		return nil, fmt.Errorf("%w: %s has %d of %d readings",
			ErrInsufficientData, stationID, len(window), length)
	}
	out := make([]Reading, length)
	copy(out, window[len(window)-length:])
	return out, nil
}

// Latest returns the most recent reading for a station.
func (b *Buffer) Latest(stationID string) (Reading, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	window := b.windows[stationID]
	if len(window) == 0 {
		return Reading{}, fmt.Errorf("%w: %s", ErrInsufficientData, stationID)
	}
	return window[len(window)-1], nil
}

// Len reports how many readings a station currently holds.
func (b *Buffer) Len(stationID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.windows[stationID])
}
