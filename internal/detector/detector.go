package detector

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/ws97109/highway-traffic/internal/ingest"
	"github.com/ws97109/highway-traffic/internal/network"
)

// Config holds detector tuning. Zero values fall back to defaults.
type Config struct {
	Thresholds Thresholds

	// ConfirmReadings is how many consecutive dropped readings promote a
	// CANDIDATE to CONFIRMED. Guards against single-sample sensor noise.
	ConfirmReadings int

	// RecoveryReadings is how many consecutive recovered readings resolve
	// a station.
	RecoveryReadings int

	// HysteresisKMH is subtracted from the baseline when testing recovery,
	// so a station must climb clearly above the drop threshold to resolve.
	HysteresisKMH float64

	// MissedReadings retires an event once every affected station has gone
	// this many expected intervals without reporting.
	MissedReadings int

	// ExpectedPropagationKMH seeds the merge-rule travel-time window before
	// an event has its own estimate.
	ExpectedPropagationKMH float64

	// MinPropagationKMH/MaxPropagationKMH bound plausible station-pair
	// propagation speeds; pairs outside the band are discarded as noise.
	MinPropagationKMH float64
	MaxPropagationKMH float64

	// PropagationTolerance is the relative tolerance on expected
	// propagation travel time for the merge rule (0.5 = +-50%).
	PropagationTolerance float64

	// FreeFlowKMH seeds the per-station baseline until enough history
	// accumulates.
	FreeFlowKMH float64

	// BaselineWindow is how many free-flow speed samples the rolling
	// baseline retains per station.
	BaselineWindow int

	// Interval is the telemetry cadence.
	Interval time.Duration

	// Grace keeps resolved events queryable for UI display.
	Grace time.Duration
}

func (c Config) withDefaults() Config {
	if c.Thresholds == (Thresholds{}) {
		c.Thresholds = DefaultThresholds()
	}
	if c.ConfirmReadings <= 0 {
		c.ConfirmReadings = 2
	}
	if c.RecoveryReadings <= 0 {
		c.RecoveryReadings = 2
	}
	if c.HysteresisKMH <= 0 {
		c.HysteresisKMH = 3
	}
	if c.MissedReadings <= 0 {
		c.MissedReadings = 3
	}
	if c.ExpectedPropagationKMH <= 0 {
		c.ExpectedPropagationKMH = 7
	}
	if c.MinPropagationKMH <= 0 {
		c.MinPropagationKMH = 2
	}
	if c.MaxPropagationKMH <= 0 {
		c.MaxPropagationKMH = 80
	}
	if c.PropagationTolerance <= 0 {
		c.PropagationTolerance = 0.5
	}
	if c.FreeFlowKMH <= 0 {
		c.FreeFlowKMH = 90
	}
	if c.BaselineWindow <= 0 {
		c.BaselineWindow = 36
	}
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	return c
}

// stationState tracks one station's position in the detection state machine.
type stationState struct {
	state         State
	dropStreak    int
	recoverStreak int
	maxStreakDrop float64
	eventID       string
	recovered     bool
	lastSeen      time.Time
	// preDrop is the last normal reading before the current drop, used for
	// the theoretical wave speed.
	preDrop ingest.Reading
	hasPre  bool
	// baseline is a ring of recent free-flow speeds.
	baseline []float64
}

// Detector runs the shockwave state machine for one highway/direction
// partition. It is the sole mutator of its events and is not safe for
// concurrent use; the pipeline guarantees one in-flight cycle per partition.
type Detector struct {
	cfg    Config
	net    *network.Network
	key    network.Key
	logger zerolog.Logger

	members map[string]*network.Station
	states  map[string]*stationState
	store   *EventStore
}

// New creates a detector for the given partition.
func New(cfg Config, net *network.Network, key network.Key, logger zerolog.Logger) (*Detector, error) {
	cfg = cfg.withDefaults()

	stations, err := net.StationsFor(key.Highway, key.Dir)
	if err != nil {
		return nil, err
	}

	members := make(map[string]*network.Station, len(stations))
	states := make(map[string]*stationState, len(stations))
	for _, s := range stations {
		members[s.ID] = s
		states[s.ID] = &stationState{state: StateNormal}
	}

	return &Detector{
		cfg:     cfg,
		net:     net,
		key:     key,
		logger:  logger.With().Str("partition", key.String()).Logger(),
		members: members,
		states:  states,
		store:   NewEventStore(cfg.Grace),
	}, nil
}

// Store exposes the partition's event store for read-only consumers.
func (d *Detector) Store() *EventStore { return d.store }

// StationState reports the current detection state of a station.
func (d *Detector) StationState(id string) State {
	if st, ok := d.states[id]; ok {
		return st.state
	}
	return ""
}

// Process advances the state machine with one validated reading and returns
// the event it created or updated, if any. The ingest boundary rejects
// malformed telemetry; anything non-finite or negative reaching this point
// is an upstream bug and fails fast.
func (d *Detector) Process(r ingest.Reading) (*Event, error) {
	if math.IsNaN(r.Speed) || math.IsInf(r.Speed, 0) || r.Speed < 0 || r.Density < 0 {
		return nil, fmt.Errorf("%w: station %s", ErrInvalidReading, r.StationID)
	}
	st, ok := d.states[r.StationID]
	if !ok {
		return nil, fmt.Errorf("%w: %s not in partition %s", network.ErrUnknownStation, r.StationID, d.key)
	}

	st.lastSeen = r.Timestamp
	baseline := d.baselineFor(st)
	drop := baseline - r.Speed
	dropping := drop >= d.cfg.Thresholds.MildKMH

	switch st.state {
	case StateNormal, StateResolved:
		if r.Gap {
			// Interpolated speeds must not start a streak or feed the
			// free-flow baseline.
			st.state = StateNormal
			return nil, nil
		}
		if dropping {
			st.state = StateCandidate
			st.dropStreak = 1
			st.maxStreakDrop = drop
			return nil, nil
		}
		st.state = StateNormal
		d.pushBaseline(st, r.Speed)
		st.preDrop = r
		st.hasPre = true
		return nil, nil

	case StateCandidate:
		if !dropping || r.Gap {
			// Single-sample noise, or the streak broke across a gap.
			st.state = StateNormal
			st.dropStreak = 0
			if !r.Gap {
				d.pushBaseline(st, r.Speed)
			}
			return nil, nil
		}
		st.dropStreak++
		st.maxStreakDrop = math.Max(st.maxStreakDrop, drop)
		if st.dropStreak < d.cfg.ConfirmReadings {
			return nil, nil
		}
		return d.confirm(st, r), nil

	case StateConfirmed, StatePropagating:
		ev, evOK := d.store.Get(st.eventID)
		if !evOK || !ev.Active {
			// Event retired elsewhere (merge target resolved); fall back.
			st.state = StateNormal
			st.eventID = ""
			return nil, nil
		}
		if r.Speed >= baseline-d.cfg.HysteresisKMH {
			st.recoverStreak++
			if st.recoverStreak >= d.cfg.RecoveryReadings {
				st.recovered = true
				if d.allRecovered(ev) {
					d.resolve(ev, r.Timestamp, "speed recovered")
					return ev, nil
				}
			}
			return nil, nil
		}
		st.recoverStreak = 0
		st.recovered = false
		if drop > ev.MaxDropKMH {
			ev.MaxDropKMH = drop
			ev.Severity = d.cfg.Thresholds.Classify(drop)
			d.store.put(ev)
			return ev, nil
		}
		return nil, nil
	}
	return nil, nil
}

// confirm promotes a station at the end of its candidate streak: either
// merging into an adjacent active event or spawning a new one.
func (d *Detector) confirm(st *stationState, r ingest.Reading) *Event {
	if ev := d.mergeTarget(r); ev != nil {
		d.join(ev, st, r)
		st.state = StatePropagating
		st.eventID = ev.ID
		st.recoverStreak = 0
		st.recovered = false
		d.logger.Info().
			Str("event_id", ev.ID).
			Str("station", r.StationID).
			Float64("propagation_kmh", ev.PropagationKMH).
			Msg("shockwave propagated to station")
		return ev
	}

	ev := d.spawn(st, r)
	st.state = StateConfirmed
	st.eventID = ev.ID
	st.recoverStreak = 0
	st.recovered = false
	d.logger.Info().
		Str("event_id", ev.ID).
		Str("station", r.StationID).
		Str("severity", string(ev.Severity)).
		Float64("speed_drop_kmh", ev.MaxDropKMH).
		Msg("shockwave confirmed")
	return ev
}

// mergeTarget finds an active event adjacent to the station whose timing is
// consistent with its propagation speed, within tolerance. Adjacency is
// checked both ways so processing order across stations does not matter.
func (d *Detector) mergeTarget(r ingest.Reading) *Event {
	for _, neighbor := range d.neighbors(r.StationID) {
		ev := d.store.activeWithStation(neighbor.ID)
		if ev == nil || ev.Contains(r.StationID) {
			continue
		}
		dist, err := d.net.Distance(r.StationID, neighbor.ID)
		if err != nil || dist <= 0 {
			continue
		}
		expected := ev.PropagationKMH
		if expected == 0 {
			expected = d.cfg.ExpectedPropagationKMH
		}
		expectedTravel := time.Duration(dist / math.Abs(expected) * float64(time.Hour))
		elapsed := r.Timestamp.Sub(ev.LastConfirmation)
		if elapsed <= 0 {
			continue
		}
		tol := d.cfg.PropagationTolerance
		lo := time.Duration(float64(expectedTravel) * (1 - tol))
		hi := time.Duration(float64(expectedTravel) * (1 + tol))
		if elapsed >= lo && elapsed <= hi {
			return ev
		}
	}
	return nil
}

func (d *Detector) neighbors(id string) []*network.Station {
	var out []*network.Station
	if up, err := d.net.Upstream(id); err == nil && up != nil {
		out = append(out, up)
	}
	if down, err := d.net.Downstream(id); err == nil && down != nil {
		out = append(out, down)
	}
	return out
}

func (d *Detector) spawn(st *stationState, r ingest.Reading) *Event {
	drop := st.maxStreakDrop
	sev := d.cfg.Thresholds.Classify(drop)

	var waveKMH float64
	if st.hasPre {
		waveKMH = rankineHugoniot(st.preDrop.Density, r.Density, st.preDrop.Speed, r.Speed)
	}

	ev := &Event{
		ID:                 uuid.New().String(),
		Origin:             r.StationID,
		Highway:            d.key.Highway,
		Dir:                string(d.key.Dir),
		Severity:           sev,
		MaxDropKMH:         drop,
		Affected:           []string{r.StationID},
		Confirmations:      []Confirmation{{StationID: r.StationID, At: r.Timestamp, DropKMH: drop}},
		TheoreticalWaveKMH: waveKMH,
		DetectedAt:         r.Timestamp,
		LastConfirmation:   r.Timestamp,
		EstimatedDuration:  d.estimateDuration(sev, 0),
		Active:             true,
	}
	d.store.put(ev)
	return ev
}

func (d *Detector) join(ev *Event, st *stationState, r ingest.Reading) {
	ev.Affected = append(ev.Affected, r.StationID)
	ev.Confirmations = append(ev.Confirmations, Confirmation{
		StationID: r.StationID,
		At:        r.Timestamp,
		DropKMH:   st.maxStreakDrop,
	})
	ev.LastConfirmation = r.Timestamp
	if st.maxStreakDrop > ev.MaxDropKMH {
		ev.MaxDropKMH = st.maxStreakDrop
		ev.Severity = d.cfg.Thresholds.Classify(ev.MaxDropKMH)
	}
	ev.PropagationKMH = d.estimatePropagation(ev)
	ev.EstimatedDuration = d.estimateDuration(ev.Severity, r.Timestamp.Sub(ev.DetectedAt))
	d.store.put(ev)
}

// estimatePropagation re-estimates propagation speed as the mean of the
// discrete distance/time derivatives over the trailing three station pairs.
// The sign is negative: shockwaves here travel upstream against traffic.
func (d *Detector) estimatePropagation(ev *Event) float64 {
	confs := ev.Confirmations
	if len(confs) < 2 {
		return 0
	}
	start := len(confs) - 4
	if start < 0 {
		start = 0
	}
	var speeds []float64
	for i := start; i < len(confs)-1; i++ {
		a, b := confs[i], confs[i+1]
		dist, err := d.net.Distance(a.StationID, b.StationID)
		if err != nil || dist <= 0 {
			continue
		}
		hours := b.At.Sub(a.At).Hours()
		if hours <= 0 {
			continue
		}
		v := dist / hours
		if v < d.cfg.MinPropagationKMH || v > d.cfg.MaxPropagationKMH {
			continue
		}
		speeds = append(speeds, v)
	}
	if len(speeds) == 0 {
		return ev.PropagationKMH
	}
	return -stat.Mean(speeds, nil)
}

func (d *Detector) estimateDuration(sev Severity, elapsed time.Duration) time.Duration {
	var base time.Duration
	switch sev {
	case SeveritySevere:
		base = 45 * time.Minute
	case SeverityModerate:
		base = 30 * time.Minute
	default:
		base = 15 * time.Minute
	}
	if floor := elapsed + 2*d.cfg.Interval; floor > base {
		return floor
	}
	return base
}

func (d *Detector) allRecovered(ev *Event) bool {
	for _, id := range ev.Affected {
		st, ok := d.states[id]
		if !ok || !st.recovered {
			return false
		}
	}
	return true
}

func (d *Detector) resolve(ev *Event, at time.Time, reason string) {
	ev.Active = false
	ev.ResolvedAt = at
	d.store.put(ev)
	for _, id := range ev.Affected {
		if st, ok := d.states[id]; ok && st.eventID == ev.ID {
			st.state = StateResolved
			st.eventID = ""
			st.dropStreak = 0
			st.recoverStreak = 0
			st.recovered = false
		}
	}
	d.logger.Info().
		Str("event_id", ev.ID).
		Str("reason", reason).
		Int("affected_stations", len(ev.Affected)).
		Msg("shockwave resolved")
}

// Sweep handles time-based retirement: events whose stations have all gone
// silent, propagation stalls, and grace-period pruning. The pipeline calls
// it once per detection tick.
func (d *Detector) Sweep(now time.Time) {
	silence := time.Duration(d.cfg.MissedReadings) * d.cfg.Interval

	for _, ev := range d.store.Active() {
		allSilent := true
		for _, id := range ev.Affected {
			st, ok := d.states[id]
			if ok && now.Sub(st.lastSeen) <= silence {
				allSilent = false
				break
			}
		}
		if allSilent {
			d.resolve(ev, now, "no station reporting")
			continue
		}
		if d.stalled(ev, now) {
			d.resolve(ev, now, "propagation stalled")
		}
	}

	d.store.prune(now)
}

// stalled reports whether the event failed to reach the next station within
// twice the expected propagation time.
func (d *Detector) stalled(ev *Event, now time.Time) bool {
	last := ev.Affected[len(ev.Affected)-1]
	next, err := d.net.Upstream(last)
	if err != nil || next == nil {
		// Ran off the end of the sequence; let recovery or silence end it.
		return false
	}
	dist, err := d.net.Distance(last, next.ID)
	if err != nil || dist <= 0 {
		return false
	}
	expected := ev.PropagationKMH
	if expected == 0 {
		expected = d.cfg.ExpectedPropagationKMH
	}
	expectedTravel := time.Duration(dist / math.Abs(expected) * float64(time.Hour))
	return now.Sub(ev.LastConfirmation) > 2*expectedTravel
}

// baselineFor returns the station's free-flow reference speed: the mean of
// the upper half of its recent normal-state speeds, seeded with the
// configured free-flow speed until enough history exists.
func (d *Detector) baselineFor(st *stationState) float64 {
	if len(st.baseline) < 6 {
		return d.cfg.FreeFlowKMH
	}
	sorted := make([]float64, len(st.baseline))
	copy(sorted, st.baseline)
	sort.Float64s(sorted)
	upper := sorted[len(sorted)/2:]
	return stat.Mean(upper, nil)
}

func (d *Detector) pushBaseline(st *stationState, speed float64) {
	st.baseline = append(st.baseline, speed)
	if len(st.baseline) > d.cfg.BaselineWindow {
		st.baseline = st.baseline[len(st.baseline)-d.cfg.BaselineWindow:]
	}
}
