package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ws97109/highway-traffic/internal/forecast"
	"github.com/ws97109/highway-traffic/internal/fusion"
	"github.com/ws97109/highway-traffic/internal/history"
	"github.com/ws97109/highway-traffic/internal/ingest"
	"github.com/ws97109/highway-traffic/internal/network"
	"github.com/ws97109/highway-traffic/internal/pipeline"
)

var t0 = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

func corridor(t *testing.T) *network.Network {
	t.Helper()
	net, err := network.New([]*network.Station{
		{ID: "s1", Highway: "N1", Dir: network.DirectionNorth, MileKM: 0},
		{ID: "s2", Highway: "N1", Dir: network.DirectionNorth, MileKM: 2},
		{ID: "s3", Highway: "N1", Dir: network.DirectionNorth, MileKM: 4},
		{ID: "x1", Highway: "N3", Dir: network.DirectionSouth, MileKM: 0},
	})
	require.NoError(t, err)
	return net
}

type failingPredictor struct{}

func (failingPredictor) Predict(context.Context, map[string][]ingest.Reading, int) ([]forecast.Record, error) {
	return nil, forecast.ErrModelUnavailable
}

type panickyPredictor struct{}

func (panickyPredictor) Predict(context.Context, map[string][]ingest.Reading, int) ([]forecast.Record, error) {
	panic("model blew up")
}

func newManager(t *testing.T, predictor forecast.Predictor, archive history.Repository) *pipeline.Manager {
	t.Helper()
	if predictor == nil {
		predictor = forecast.NewTrendPredictor()
	}
	m, err := pipeline.NewManager(pipeline.Config{
		TelemetryInterval: 5 * time.Minute,
		LookbackSteps:     12,
		Engine:            forecast.EngineConfig{HorizonSteps: 3},
	}, pipeline.ManagerDeps{
		Network:   corridor(t),
		Predictor: predictor,
		Archive:   archive,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	return m
}

func reading(station string, step int, speed float64) ingest.Reading {
	return ingest.Reading{
		StationID: station,
		Timestamp: t0.Add(time.Duration(step) * 5 * time.Minute),
		Flow:      300,
		Speed:     speed,
		Density:   300 / speed,
	}
}

// feed pushes a speed profile for one station, running a detect cycle after
// every tick the way the scheduler would.
func feed(t *testing.T, m *pipeline.Manager, station string, speeds []float64) {
	t.Helper()
	ctx := context.Background()
	for i, v := range speeds {
		r := reading(station, i, v)
		require.NoError(t, m.Ingest(r))
		m.DetectCycle(ctx, r.Timestamp)
	}
}

func TestIngestRejectsUnknownStation(t *testing.T) {
	m := newManager(t, nil, nil)

	err := m.Ingest(reading("nope", 0, 90))
	require.ErrorIs(t, err, network.ErrUnknownStation)
}

func TestIngestRejectsOutOfOrder(t *testing.T) {
	m := newManager(t, nil, nil)

	require.NoError(t, m.Ingest(reading("s1", 1, 90)))
	err := m.Ingest(reading("s1", 0, 90))
	require.ErrorIs(t, err, ingest.ErrOutOfOrder)
}

func TestDetectCycleRaisesEvent(t *testing.T) {
	archive := history.NewMemoryRepository()
	m := newManager(t, nil, archive)

	feed(t, m, "s1", []float64{100, 100, 55, 50})

	events := m.ActiveEvents("", "")
	require.Len(t, events, 1)
	assert.Equal(t, []string{"s1"}, events[0].Affected)

	// The archive saw the same event.
	archived, err := archive.List(context.Background(), history.Query{})
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, events[0].ID, archived[0].ID)
}

func TestActiveEventFilters(t *testing.T) {
	m := newManager(t, nil, nil)

	feed(t, m, "s1", []float64{100, 100, 55, 50})

	assert.Len(t, m.ActiveEvents("N1", "N"), 1)
	assert.Empty(t, m.ActiveEvents("N3", ""))
	assert.Empty(t, m.ActiveEvents("N1", "S"))
}

func TestDetectCycleProcessesEachReadingOnce(t *testing.T) {
	m := newManager(t, nil, nil)
	ctx := context.Background()

	feed(t, m, "s1", []float64{100, 100, 55, 50})

	// Re-running cycles without new readings must not advance the state
	// machine or spawn more events.
	for i := 0; i < 5; i++ {
		m.DetectCycle(ctx, t0.Add(20*time.Minute))
	}
	assert.Len(t, m.ActiveEvents("", ""), 1)
}

func TestForecastCycleFusesBothSources(t *testing.T) {
	m := newManager(t, nil, nil)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		require.NoError(t, m.Ingest(reading("s1", i, 95)))
		require.NoError(t, m.Ingest(reading("s2", i, 95)))
		require.NoError(t, m.Ingest(reading("s3", i, 95)))
	}
	m.ForecastCycle(ctx, t0.Add(time.Hour))

	preds, degraded := m.LatestPredictions()
	assert.False(t, degraded)
	require.NotEmpty(t, preds)
	for _, p := range preds {
		assert.Equal(t, fusion.SourceLearned, p.Source, "no active event means learned-only output")
	}
}

func TestForecastCycleDegradesWhenModelDown(t *testing.T) {
	m := newManager(t, failingPredictor{}, nil)
	ctx := context.Background()

	// Enough history for windows, plus an active event for the physical path.
	for i := 0; i < 12; i++ {
		speed := 95.0
		if i >= 10 {
			speed = 50
		}
		require.NoError(t, m.Ingest(reading("s1", i, speed)))
		m.DetectCycle(ctx, t0.Add(time.Duration(i)*5*time.Minute))
	}
	require.NotEmpty(t, m.ActiveEvents("", ""), "drop must confirm before the forecast cycle")

	m.ForecastCycle(ctx, t0.Add(time.Hour))

	preds, degraded := m.LatestPredictions()
	assert.True(t, degraded, "model failure must be flagged, not hidden")
	require.NotEmpty(t, preds, "physical-only predictions still flow")
	for _, p := range preds {
		assert.Equal(t, fusion.SourcePhysical, p.Source)
	}
}

func TestForecastPanicIsIsolatedAtPartitionBoundary(t *testing.T) {
	m, err := pipeline.NewManager(pipeline.Config{
		DetectInterval:    time.Hour, // keep detection out of the way
		ForecastInterval:  5 * time.Millisecond,
		TelemetryInterval: 5 * time.Minute,
		LookbackSteps:     12,
	}, pipeline.ManagerDeps{
		Network:   corridor(t),
		Predictor: panickyPredictor{},
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)

	for i := 0; i < 12; i++ {
		require.NoError(t, m.Ingest(reading("s1", i, 95)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(ctx)
	}()

	// Several forecast ticks fire and panic; recovery at the partition
	// boundary must keep the pipeline and the process alive.
	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pipeline did not stop")
	}

	assert.NotPanics(t, func() { m.ActiveEvents("", "") })
}

func TestForecastOnDemand(t *testing.T) {
	m := newManager(t, nil, nil)

	for i := 0; i < 12; i++ {
		require.NoError(t, m.Ingest(reading("s2", i, 95)))
	}

	records, err := m.Forecast(context.Background(), []string{"s2"})
	require.NoError(t, err)
	require.Len(t, records, 3)
	for _, r := range records {
		assert.Equal(t, "s2", r.StationID)
	}

	_, err = m.Forecast(context.Background(), []string{"s3"})
	require.ErrorIs(t, err, ingest.ErrInsufficientData, "station without history is not ready")

	_, err = m.Forecast(context.Background(), []string{"ghost"})
	require.ErrorIs(t, err, network.ErrUnknownStation)
}
