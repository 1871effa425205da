package pipeline

import (
	"context"
	"sync"
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

type tickKind string

const (
	tickDetect   tickKind = "detect"
	tickForecast tickKind = "forecast"
)

// partition owns one highway/direction slice of the pipeline: its ingest
// buffer, detector and forecast state. A single consumer goroutine drains a
// one-slot work channel, so at most one cycle runs at a time and at most one
// late tick waits; anything beyond that is dropped and counted.
type partition struct {
	key      network.Key
	net      *network.Network
	buf      *ingest.Buffer
	det      *detector.Detector
	engine   *forecast.Engine
	fuser    *fusion.Fuser
	pub      *stream.Publisher
	archive  history.Repository
	logger   zerolog.Logger
	lookback int
	interval time.Duration

	work chan tickKind

	// cycleMu serializes cycles between the consumer goroutine and direct
	// calls from tests or synchronous callers.
	cycleMu sync.Mutex

	mu            sync.RWMutex
	lastProcessed map[string]time.Time
	latest        []fusion.Prediction
	degraded      bool
	lastForecast  []forecast.Record
	knownEvents   map[string]bool
}

func (p *partition) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case kind := <-p.work:
			p.safeCycle(ctx, kind)
		}
	}
}

func (p *partition) enqueue(kind tickKind) {
	select {
	case p.work <- kind:
	default:
		tickDropped.WithLabelValues(p.key.String(), string(kind)).Inc()
	}
}

// safeCycle recovers panics at the partition boundary: one partition's
// failure must not take down the others.
func (p *partition) safeCycle(ctx context.Context, kind tickKind) {
	defer func() {
		if r := recover(); r != nil {
			tickPanics.WithLabelValues(p.key.String()).Inc()
			p.logger.Error().Interface("panic", r).Str("kind", string(kind)).Msg("cycle panicked")
		}
	}()

	start := time.Now()
	switch kind {
	case tickDetect:
		p.detectCycle(ctx, time.Now())
	case tickForecast:
		p.forecastCycle(ctx, time.Now())
	}
	tickDuration.WithLabelValues(p.key.String(), string(kind)).Observe(time.Since(start).Seconds())
	tickTotal.WithLabelValues(p.key.String(), string(kind)).Inc()
}

// detectCycle feeds unprocessed readings through the state machine and
// sweeps time-based retirements.
func (p *partition) detectCycle(ctx context.Context, now time.Time) {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	stations, err := p.net.StationsFor(p.key.Highway, p.key.Dir)
	if err != nil {
		return
	}

	for _, s := range stations {
		r, err := p.buf.Latest(s.ID)
		if err != nil {
			continue
		}
		p.mu.RLock()
		seen := p.lastProcessed[s.ID]
		p.mu.RUnlock()
		if !r.Timestamp.After(seen) {
			continue
		}

		ev, err := p.det.Process(r)
		if err != nil {
			// Contract violation or routing bug; log and keep the
			// partition alive.
			p.logger.Error().Err(err).Str("station", s.ID).Msg("detector rejected reading")
			continue
		}
		p.mu.Lock()
		p.lastProcessed[s.ID] = r.Timestamp
		p.mu.Unlock()

		if ev != nil {
			p.recordEvent(ctx, ev)
		}
	}

	p.det.Sweep(now)
	p.archiveAll(ctx)
}

func (p *partition) recordEvent(ctx context.Context, ev *detector.Event) {
	p.mu.Lock()
	if !p.knownEvents[ev.ID] {
		p.knownEvents[ev.ID] = true
		eventsDetected.WithLabelValues(p.key.String(), string(ev.Severity)).Inc()
	}
	p.mu.Unlock()

	if p.archive != nil {
		if err := p.archive.Save(ctx, ev); err != nil {
			p.logger.Error().Err(err).Str("event_id", ev.ID).Msg("archiving event failed")
		}
	}
	if p.pub != nil {
		if err := p.pub.PublishEvent(ctx, ev); err != nil {
			p.logger.Warn().Err(err).Str("event_id", ev.ID).Msg("publishing event failed")
		}
	}
}

// archiveAll upserts every retained event so resolutions made by the sweep
// reach the archive too.
func (p *partition) archiveAll(ctx context.Context) {
	if p.archive == nil {
		return
	}
	for _, ev := range p.det.Store().All() {
		if err := p.archive.Save(ctx, ev); err != nil {
			p.logger.Error().Err(err).Str("event_id", ev.ID).Msg("archiving event failed")
		}
	}
}

// forecastCycle runs inference over complete windows, fuses the result with
// the physical projection and publishes. A dead model backend degrades to
// physical-only rather than failing the cycle.
func (p *partition) forecastCycle(ctx context.Context, _ time.Time) {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	stations, err := p.net.StationsFor(p.key.Highway, p.key.Dir)
	if err != nil {
		return
	}

	p.observePrevious()

	windows := make(map[string][]ingest.Reading)
	for _, s := range stations {
		w, err := p.buf.Window(s.ID, p.lookback)
		if err != nil {
			continue // not enough history yet, retried next tick
		}
		windows[s.ID] = w
	}

	var records []forecast.Record
	degraded := false
	if len(windows) > 0 {
		records, err = p.engine.Predict(ctx, windows)
		if err != nil {
			degraded = true
			records = nil
			forecastFailures.WithLabelValues(p.key.String()).Inc()
			p.logger.Warn().Err(err).Msg("forecast degraded to physical-only")
		}
	}

	physical := physicalEstimates(p.net, p.buf, p.det.Store().Active(), p.engine.Horizon(), p.interval)
	predictions := p.fuser.Fuse(physical, records)

	p.mu.Lock()
	p.latest = predictions
	p.degraded = degraded
	p.lastForecast = records
	p.mu.Unlock()

	if p.pub != nil && len(predictions) > 0 {
		if err := p.pub.PublishPredictions(ctx, p.key.String(), predictions); err != nil {
			p.logger.Warn().Err(err).Msg("publishing predictions failed")
		}
	}
}

// observePrevious grades the previous cycle's one-step forecasts against
// the readings that have since arrived.
func (p *partition) observePrevious() {
	p.mu.RLock()
	prev := p.lastForecast
	p.mu.RUnlock()

	for _, rec := range prev {
		if rec.Step != 1 {
			continue
		}
		actual, err := p.buf.Latest(rec.StationID)
		if err != nil {
			continue
		}
		p.engine.Observe(rec.StationID, rec.Speed, actual.Speed)
	}
}

func (p *partition) predictions() ([]fusion.Prediction, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]fusion.Prediction, len(p.latest))
	copy(out, p.latest)
	return out, p.degraded
}
