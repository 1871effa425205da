package ingest_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ws97109/highway-traffic/internal/ingest"
)

var t0 = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

func reading(station string, step int, speed float64) ingest.Reading {
	return ingest.Reading{
		StationID: station,
		Timestamp: t0.Add(time.Duration(step) * 5 * time.Minute),
		Flow:      900,
		Speed:     speed,
		Density:   900 / speed,
	}
}

func TestAppendAndWindowOldestFirst(t *testing.T) {
	b := ingest.NewBuffer(ingest.BufferConfig{Capacity: 4, Interval: 5 * time.Minute})

	for i := 0; i < 6; i++ {
		require.NoError(t, b.Append(reading("S1", i, 100-float64(i))))
	}

	// Window never exceeds capacity and is oldest-first.
	w, err := b.Window("S1", 4)
	require.NoError(t, err)
	require.Len(t, w, 4)
	assert.Equal(t, 98.0, w[0].Speed)
	assert.Equal(t, 95.0, w[3].Speed)
	assert.True(t, w[0].Timestamp.Before(w[3].Timestamp))

	assert.Equal(t, 4, b.Len("S1"))
}

func TestAppendRejectsOutOfOrder(t *testing.T) {
	b := ingest.NewBuffer(ingest.BufferConfig{})

	require.NoError(t, b.Append(reading("S1", 2, 100)))

	// Earlier timestamp.
	err := b.Append(reading("S1", 1, 90))
	assert.ErrorIs(t, err, ingest.ErrOutOfOrder)

	// Duplicate timestamp (replayed tick).
	err = b.Append(reading("S1", 2, 90))
	assert.ErrorIs(t, err, ingest.ErrOutOfOrder)

	// Buffer unchanged by rejected appends.
	assert.Equal(t, 1, b.Len("S1"))
}

func TestAppendRejectsMalformed(t *testing.T) {
	b := ingest.NewBuffer(ingest.BufferConfig{})

	cases := []ingest.Reading{
		{StationID: "", Timestamp: t0, Speed: 80},
		{StationID: "S1", Speed: 80},
		{StationID: "S1", Timestamp: t0, Speed: -4},
		{StationID: "S1", Timestamp: t0, Speed: math.NaN()},
		{StationID: "S1", Timestamp: t0, Flow: math.Inf(1)},
	}
	for _, r := range cases {
		assert.ErrorIs(t, b.Append(r), ingest.ErrInvalidReading)
	}
}

func TestWindowInsufficientData(t *testing.T) {
	b := ingest.NewBuffer(ingest.BufferConfig{Capacity: 12})

	_, err := b.Window("S1", 3)
	assert.ErrorIs(t, err, ingest.ErrInsufficientData)

	require.NoError(t, b.Append(reading("S1", 0, 100)))
	_, err = b.Window("S1", 3)
	assert.ErrorIs(t, err, ingest.ErrInsufficientData)

	require.NoError(t, b.Append(reading("S1", 1, 100)))
	require.NoError(t, b.Append(reading("S1", 2, 100)))
	w, err := b.Window("S1", 3)
	require.NoError(t, err)
	assert.Len(t, w, 3)
}

func TestGapMarking(t *testing.T) {
	b := ingest.NewBuffer(ingest.BufferConfig{Interval: 5 * time.Minute})

	require.NoError(t, b.Append(reading("S1", 0, 100)))
	// Step 3 skips two intervals.
	require.NoError(t, b.Append(reading("S1", 3, 95)))

	latest, err := b.Latest("S1")
	require.NoError(t, err)
	assert.True(t, latest.Gap)

	// Contiguous follow-up is not marked.
	require.NoError(t, b.Append(reading("S1", 4, 94)))
	latest, err = b.Latest("S1")
	require.NoError(t, err)
	assert.False(t, latest.Gap)
}

func TestDerivedDensity(t *testing.T) {
	b := ingest.NewBuffer(ingest.BufferConfig{})

	r := ingest.Reading{StationID: "S1", Timestamp: t0, Flow: 900, Speed: 90}
	require.NoError(t, b.Append(r))

	latest, err := b.Latest("S1")
	require.NoError(t, err)
	assert.InDelta(t, 10.0, latest.Density, 1e-9)
}
