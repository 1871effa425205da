package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ws97109/highway-traffic/internal/alert"
	"github.com/ws97109/highway-traffic/internal/api"
	"github.com/ws97109/highway-traffic/internal/api/models"
	"github.com/ws97109/highway-traffic/internal/forecast"
	"github.com/ws97109/highway-traffic/internal/history"
	"github.com/ws97109/highway-traffic/internal/ingest"
	"github.com/ws97109/highway-traffic/internal/network"
	"github.com/ws97109/highway-traffic/internal/pipeline"
)

var testBase = time.Date(2026, 3, 12, 7, 0, 0, 0, time.UTC)

// stubPredictor returns a fixed forecast for every listed station.
type stubPredictor struct{}

func (stubPredictor) Predict(_ context.Context, windows map[string][]ingest.Reading, horizon int) ([]forecast.Record, error) {
	var out []forecast.Record
	for id := range windows {
		for step := 1; step <= horizon; step++ {
			out = append(out, forecast.Record{
				StationID: id, Step: step, Flow: 900, Speed: 78, Density: 11.5, Confidence: 0.8,
			})
		}
	}
	return out, nil
}

func testNetwork(t *testing.T) *network.Network {
	t.Helper()
	stations := make([]*network.Station, 0, 3)
	for i := 0; i < 3; i++ {
		stations = append(stations, &network.Station{
			ID:      fmt.Sprintf("s%d", i+1),
			Highway: "N1",
			Dir:     network.DirectionNorth,
			Lat:     24.80 + 0.018*float64(i),
			Lng:     121.0,
			MileKM:  float64(i) * 2,
		})
	}
	n, err := network.New(stations)
	require.NoError(t, err)
	return n
}

type testEnv struct {
	router  http.Handler
	manager *pipeline.Manager
	archive *history.MemoryRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	net := testNetwork(t)
	archive := history.NewMemoryRepository()

	manager, err := pipeline.NewManager(pipeline.Config{
		TelemetryInterval: 5 * time.Minute,
		LookbackSteps:     12,
	}, pipeline.ManagerDeps{
		Network:   net,
		Predictor: stubPredictor{},
		Archive:   archive,
		Logger:    zerolog.New(io.Discard),
	})
	require.NoError(t, err)

	router := api.NewRouter(api.RouterConfig{
		Version:   "test",
		BuildTime: "2026-01-01T00:00:00Z",
		Logger:    zerolog.New(io.Discard),
		Network:   net,
		Pipeline:  manager,
		Composer:  alert.NewComposer(net),
		Archive:   archive,
	})
	return &testEnv{router: router, manager: manager, archive: archive}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// feed posts one telemetry batch per tick for every station.
func (e *testEnv) feed(t *testing.T, speeds map[string][]float64, ticks int) {
	t.Helper()
	for i := 0; i < ticks; i++ {
		ts := testBase.Add(time.Duration(i) * 5 * time.Minute)
		var batch models.TelemetryRequest
		for id, seq := range speeds {
			batch.Readings = append(batch.Readings, models.TelemetryReading{
				StationID: id,
				Timestamp: models.Timestamp(ts),
				Flow:      1200,
				Speed:     seq[i],
			})
		}
		w := e.do(t, http.MethodPost, "/v1/telemetry", batch)
		require.Equal(t, http.StatusOK, w.Code)
		e.manager.DetectCycle(context.Background(), ts)
	}
}

func TestRouter_HealthCheck(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/v1/ops/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	var health models.Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, models.HealthStatusOK, health.Status)
	assert.Equal(t, "test", health.Details["version"])
}

func TestRouter_ReadinessFailsWhenDependencyDown(t *testing.T) {
	net := testNetwork(t)
	manager, err := pipeline.NewManager(pipeline.Config{}, pipeline.ManagerDeps{
		Network:   net,
		Predictor: stubPredictor{},
		Logger:    zerolog.New(io.Discard),
	})
	require.NoError(t, err)

	router := api.NewRouter(api.RouterConfig{
		Logger:   zerolog.New(io.Discard),
		Network:  net,
		Pipeline: manager,
		Composer: alert.NewComposer(net),
		Archive:  history.NewMemoryRepository(),
		Checks: []api.NamedCheck{
			{Name: "postgres", Check: func(context.Context) error { return nil }},
			{Name: "redis", Check: func(context.Context) error { return fmt.Errorf("dial refused") }},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/ops/ready", http.NoBody)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var health models.Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, models.HealthStatusFail, health.Status)
	assert.Contains(t, health.Details, "redis")

	// Status endpoint reports the same subsystem as failed but stays 200.
	req = httptest.NewRequest(http.MethodGet, "/v1/ops/status", http.NoBody)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var status models.SystemStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, models.HealthStatusDegraded, status.Status)
}

func TestRouter_TelemetryReportsRejections(t *testing.T) {
	env := newTestEnv(t)

	batch := models.TelemetryRequest{Readings: []models.TelemetryReading{
		{StationID: "s1", Timestamp: models.Timestamp(testBase), Flow: 1000, Speed: 95},
		{StationID: "ghost", Timestamp: models.Timestamp(testBase), Flow: 1000, Speed: 95},
		{StationID: "s2", Timestamp: models.Timestamp(testBase), Flow: 1000, Speed: -4},
	}}
	w := env.do(t, http.MethodPost, "/v1/telemetry", batch)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.TelemetryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Accepted)
	require.Len(t, resp.Rejected, 2)
	assert.Equal(t, "unknown_station", resp.Rejected[0].Reason)
	assert.Equal(t, "invalid_reading", resp.Rejected[1].Reason)
}

func TestRouter_TelemetryRejectsEmptyBatch(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v1/telemetry", models.TelemetryRequest{})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
}

func TestRouter_ActiveShockwaves(t *testing.T) {
	env := newTestEnv(t)

	env.feed(t, map[string][]float64{
		"s1": {100, 100, 100, 100, 100},
		"s2": {100, 100, 55, 52, 54},
		"s3": {100, 100, 100, 100, 100},
	}, 5)

	w := env.do(t, http.MethodGet, "/v1/shockwaves/active", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.ShockwaveListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Shockwaves, 1)

	sw := resp.Shockwaves[0]
	assert.Equal(t, "s2", sw.OriginStation)
	assert.Equal(t, "severe", sw.Severity)
	assert.True(t, sw.Active)
	assert.Contains(t, sw.AffectedStations, "s2")

	// Filtered to another corridor the list is empty.
	w = env.do(t, http.MethodGet, "/v1/shockwaves/active?highway=N3", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Shockwaves)

	// The event is also fetchable by ID and archived.
	w = env.do(t, http.MethodGet, "/v1/shockwaves/"+sw.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/v1/shockwaves/history", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Shockwaves, 1)
}

func TestRouter_ShockwaveNotFound(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/v1/shockwaves/sw_missing", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
}

func TestRouter_HistoryRejectsBadQuery(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/v1/shockwaves/history?from=yesterday", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "from")
}

func TestRouter_ForecastPredict(t *testing.T) {
	env := newTestEnv(t)

	speeds := map[string][]float64{
		"s1": {100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100},
		"s2": {100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100},
		"s3": {100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100, 100},
	}
	env.feed(t, speeds, 12)

	w := env.do(t, http.MethodPost, "/v1/forecast:predict", models.ForecastRequest{Stations: []string{"s2"}})
	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.ForecastResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Records)
	assert.Equal(t, "s2", resp.Records[0].StationID)
	assert.InDelta(t, 78, resp.Records[0].Speed, 0.001)
}

func TestRouter_ForecastNotReady(t *testing.T) {
	env := newTestEnv(t)

	env.feed(t, map[string][]float64{
		"s1": {100, 100},
		"s2": {100, 100},
		"s3": {100, 100},
	}, 2)

	w := env.do(t, http.MethodPost, "/v1/forecast:predict", models.ForecastRequest{Stations: []string{"s2"}})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRouter_ForecastUnknownStation(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v1/forecast:predict", models.ForecastRequest{Stations: []string{"ghost"}})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_AlertsComposeAlwaysAnswers(t *testing.T) {
	env := newTestEnv(t)

	// No events yet: empty list, still 200.
	w := env.do(t, http.MethodPost, "/v1/alerts:compose", models.AlertsRequest{
		Location: models.Point{Lat: 24.80, Lng: 121.0},
	})
	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.AlertsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Alerts)

	env.feed(t, map[string][]float64{
		"s1": {100, 100, 100, 100, 100},
		"s2": {100, 100, 55, 52, 54},
		"s3": {100, 100, 100, 100, 100},
	}, 5)

	w = env.do(t, http.MethodPost, "/v1/alerts:compose", models.AlertsRequest{
		Location: models.Point{Lat: 24.80, Lng: 121.0},
	})
	assert.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Alerts, 1)
	assert.Equal(t, "severe", string(resp.Alerts[0].Severity))
	assert.NotEmpty(t, resp.Alerts[0].Recommendations)

	// Each composed alert leaves an audit row.
	audits := env.archive.Audits()
	require.Len(t, audits, 1)
	assert.Equal(t, resp.Alerts[0].EventID, audits[0].EventID)
}

func TestRouter_AlertsComposeRejectsBadLocation(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/v1/alerts:compose", models.AlertsRequest{
		Location: models.Point{Lat: 212, Lng: 0},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_OperatorRecommendations(t *testing.T) {
	env := newTestEnv(t)

	env.feed(t, map[string][]float64{
		"s1": {100, 100, 100, 100, 100},
		"s2": {100, 100, 55, 52, 54},
		"s3": {100, 100, 100, 100, 100},
	}, 5)

	w := env.do(t, http.MethodGet, "/v1/operators/recommendations", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.OperatorRecommendationsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Actions)
	for i := 1; i < len(resp.Actions); i++ {
		assert.GreaterOrEqual(t, resp.Actions[i-1].Score, resp.Actions[i].Score)
	}
}

func TestRouter_StationListAndNearest(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/v1/stations", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var list models.StationListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list.Stations, 3)

	w = env.do(t, http.MethodGet, "/v1/stations/nearest?lat=24.801&lng=121.0", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var nearest models.NearestStationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &nearest))
	assert.Equal(t, "s1", nearest.Station.ID)

	w = env.do(t, http.MethodGet, "/v1/stations/nearest?lat=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
