// Package pipeline orchestrates the detection and forecasting cycles across
// highway/direction partitions. Partitions share nothing mutable: each owns
// its buffer, detector and forecast state, so they run in parallel without
// cross-partition locking.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ws97109/highway-traffic/internal/detector"
	"github.com/ws97109/highway-traffic/internal/forecast"
	"github.com/ws97109/highway-traffic/internal/fusion"
	"github.com/ws97109/highway-traffic/internal/history"
	"github.com/ws97109/highway-traffic/internal/ingest"
	"github.com/ws97109/highway-traffic/internal/network"
	"github.com/ws97109/highway-traffic/internal/stream"
)

// Config holds pipeline-wide settings.
type Config struct {
	// DetectInterval and ForecastInterval are the tick cadences.
	DetectInterval   time.Duration
	ForecastInterval time.Duration

	// TelemetryInterval is the expected cadence of incoming readings.
	TelemetryInterval time.Duration

	// LookbackSteps is the per-station window length.
	LookbackSteps int

	Thresholds detector.Thresholds
	Engine     forecast.EngineConfig
	Fusion     fusion.Config
}

func (c Config) withDefaults() Config {
	if c.DetectInterval <= 0 {
		c.DetectInterval = 30 * time.Second
	}
	if c.ForecastInterval <= 0 {
		c.ForecastInterval = 5 * time.Minute
	}
	if c.TelemetryInterval <= 0 {
		c.TelemetryInterval = 5 * time.Minute
	}
	if c.LookbackSteps <= 0 {
		c.LookbackSteps = ingest.DefaultCapacity
	}
	return c
}

// Manager owns one partition pipeline per highway/direction in the topology.
type Manager struct {
	cfg        Config
	net        *network.Network
	partitions map[network.Key]*partition
	keys       []network.Key
	logger     zerolog.Logger
}

// ManagerDeps carries the external collaborators; Publisher and Archive may
// be nil, disabling streaming and archiving respectively.
type ManagerDeps struct {
	Network   *network.Network
	Predictor forecast.Predictor
	Publisher *stream.Publisher
	Archive   history.Repository
	Logger    zerolog.Logger
}

// NewManager builds the per-partition pipelines for every partition in the
// topology.
func NewManager(cfg Config, deps ManagerDeps) (*Manager, error) {
	cfg = cfg.withDefaults()

	m := &Manager{
		cfg:        cfg,
		net:        deps.Network,
		partitions: make(map[network.Key]*partition),
		keys:       deps.Network.Partitions(),
		logger:     deps.Logger.With().Str("component", "pipeline").Logger(),
	}

	for _, key := range m.keys {
		det, err := detector.New(detector.Config{
			Thresholds: cfg.Thresholds,
			Interval:   cfg.TelemetryInterval,
		}, deps.Network, key, deps.Logger)
		if err != nil {
			return nil, fmt.Errorf("building detector for %s: %w", key, err)
		}

		engineCfg := cfg.Engine
		engineCfg.LookbackSteps = cfg.LookbackSteps
		m.partitions[key] = &partition{
			key: key,
			net: deps.Network,
			buf: ingest.NewBuffer(ingest.BufferConfig{
				Capacity: cfg.LookbackSteps,
				Interval: cfg.TelemetryInterval,
			}),
			det:           det,
			engine:        forecast.NewEngine(engineCfg, deps.Predictor, deps.Logger),
			fuser:         fusion.New(cfg.Fusion),
			pub:           deps.Publisher,
			archive:       deps.Archive,
			logger:        deps.Logger.With().Str("partition", key.String()).Logger(),
			lookback:      cfg.LookbackSteps,
			interval:      cfg.TelemetryInterval,
			work:          make(chan tickKind, 1),
			lastProcessed: make(map[string]time.Time),
			knownEvents:   make(map[string]bool),
		}
	}
	return m, nil
}

// Run starts one consumer goroutine per partition plus the shared tickers,
// and blocks until the context is cancelled.
func (m *Manager) Run(ctx context.Context) {
	for _, p := range m.partitions {
		go p.run(ctx)
	}

	detect := time.NewTicker(m.cfg.DetectInterval)
	defer detect.Stop()
	forecastTicker := time.NewTicker(m.cfg.ForecastInterval)
	defer forecastTicker.Stop()

	m.logger.Info().
		Int("partitions", len(m.partitions)).
		Dur("detect_interval", m.cfg.DetectInterval).
		Dur("forecast_interval", m.cfg.ForecastInterval).
		Msg("pipeline running")

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("pipeline stopped")
			return
		case <-detect.C:
			for _, p := range m.partitions {
				p.enqueue(tickDetect)
			}
		case <-forecastTicker.C:
			for _, p := range m.partitions {
				p.enqueue(tickForecast)
			}
		}
	}
}

// Ingest validates and routes one reading to its partition's buffer.
// Rejections surface as the ingest error taxonomy; the caller decides how to
// report them.
func (m *Manager) Ingest(r ingest.Reading) error {
	s, err := m.net.Station(r.StationID)
	if err != nil {
		return err
	}
	p, ok := m.partitions[network.Key{Highway: s.Highway, Dir: s.Dir}]
	if !ok {
		return fmt.Errorf("%w: no pipeline for %s %s", network.ErrUnknownHighway, s.Highway, s.Dir)
	}
	return p.buf.Append(r)
}

// DetectCycle runs one synchronous detection pass over every partition.
// Production uses the ticker path; this entry exists for boundary callers
// that need a completed cycle, and for tests.
func (m *Manager) DetectCycle(ctx context.Context, now time.Time) {
	for _, key := range m.keys {
		m.partitions[key].detectCycle(ctx, now)
	}
}

// ForecastCycle runs one synchronous forecast pass over every partition.
func (m *Manager) ForecastCycle(ctx context.Context, now time.Time) {
	for _, key := range m.keys {
		m.partitions[key].forecastCycle(ctx, now)
	}
}

// ActiveEvents returns active shockwaves, optionally filtered by highway
// and direction.
func (m *Manager) ActiveEvents(highway, direction string) []*detector.Event {
	var out []*detector.Event
	for _, key := range m.keys {
		if highway != "" && key.Highway != highway {
			continue
		}
		if direction != "" && string(key.Dir) != direction {
			continue
		}
		out = append(out, m.partitions[key].det.Store().Active()...)
	}
	return out
}

// AllEvents returns every retained event across partitions, including
// recently resolved ones inside their grace period.
func (m *Manager) AllEvents() []*detector.Event {
	var out []*detector.Event
	for _, key := range m.keys {
		out = append(out, m.partitions[key].det.Store().All()...)
	}
	return out
}

// LatestPredictions returns the most recent fused predictions across all
// partitions and whether any partition is in degraded (physical-only) mode.
func (m *Manager) LatestPredictions() ([]fusion.Prediction, bool) {
	var out []fusion.Prediction
	degraded := false
	for _, key := range m.keys {
		preds, deg := m.partitions[key].predictions()
		out = append(out, preds...)
		degraded = degraded || deg
	}
	return out, degraded
}

// Forecast runs an on-demand prediction for the named stations. Stations
// are grouped by partition so each group goes through its own engine.
func (m *Manager) Forecast(ctx context.Context, stationIDs []string) ([]forecast.Record, error) {
	grouped := make(map[network.Key]map[string][]ingest.Reading)
	for _, id := range stationIDs {
		s, err := m.net.Station(id)
		if err != nil {
			return nil, err
		}
		key := network.Key{Highway: s.Highway, Dir: s.Dir}
		p := m.partitions[key]
		w, err := p.buf.Window(id, p.lookback)
		if err != nil {
			return nil, err
		}
		if grouped[key] == nil {
			grouped[key] = make(map[string][]ingest.Reading)
		}
		grouped[key][id] = w
	}

	var out []forecast.Record
	for key, windows := range grouped {
		records, err := m.partitions[key].engine.Predict(ctx, windows)
		if err != nil {
			return nil, err
		}
		out = append(out, records...)
	}
	return out, nil
}
