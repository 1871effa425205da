// Package alert derives consumer-facing alerts and operator recommendations
// from shockwave events and fused predictions. Everything here is a pure
// read: persistence and notification dispatch belong to callers.
package alert

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/ws97109/highway-traffic/internal/detector"
	"github.com/ws97109/highway-traffic/internal/fusion"
	"github.com/ws97109/highway-traffic/internal/network"
)

// Composer turns events and predictions into alerts for a loaded topology.
type Composer struct {
	net *network.Network
}

// NewComposer creates a composer over the station network.
func NewComposer(net *network.Network) *Composer {
	return &Composer{net: net}
}

// ComposeDriverAlert builds the alert for one event as seen from an observer
// coordinate. The arrival estimate degrades to nil rather than failing when
// the propagation speed is zero or the event has resolved.
func (c *Composer) ComposeDriverAlert(ev *detector.Event, lat, lng float64) DriverAlert {
	nearest, distKM := c.nearestRelevant(ev, lat, lng)

	a := DriverAlert{
		Title:           fmt.Sprintf("Traffic shockwave on %s %s", ev.Highway, ev.Dir),
		EventID:         ev.ID,
		Severity:        ev.Severity,
		Highway:         ev.Highway,
		Direction:       ev.Dir,
		SpeedDropKMH:    ev.MaxDropKMH,
		Recommendations: driverRecommendations[ev.Severity],
	}
	if nearest == nil {
		return a
	}
	a.NearestStation = nearest.ID
	a.DistanceKM = distKM

	if ev.Contains(nearest.ID) {
		zero := 0.0
		a.EstimatedArrivalMinutes = &zero
		return a
	}
	if !ev.Active || ev.PropagationKMH == 0 {
		return a
	}

	front := ev.Affected[len(ev.Affected)-1]
	along, err := c.net.Distance(front, nearest.ID)
	if err != nil {
		return a
	}
	minutes := along / math.Abs(ev.PropagationKMH) * 60
	a.EstimatedArrivalMinutes = &minutes
	return a
}

// AlertsFor composes driver alerts for every given event, nearest first.
func (c *Composer) AlertsFor(events []*detector.Event, lat, lng float64) []DriverAlert {
	alerts := make([]DriverAlert, 0, len(events))
	for _, ev := range events {
		alerts = append(alerts, c.ComposeDriverAlert(ev, lat, lng))
	}
	sort.SliceStable(alerts, func(i, j int) bool { return alerts[i].DistanceKM < alerts[j].DistanceKM })
	return alerts
}

// nearestRelevant picks the affected or projected station closest to the
// observer. Projected means the next station upstream of the wave front.
func (c *Composer) nearestRelevant(ev *detector.Event, lat, lng float64) (*network.Station, float64) {
	candidates := make([]string, 0, len(ev.Affected)+1)
	candidates = append(candidates, ev.Affected...)
	front := ev.Affected[len(ev.Affected)-1]
	if next, err := c.net.Upstream(front); err == nil && next != nil {
		candidates = append(candidates, next.ID)
	}

	var best *network.Station
	bestDist := math.MaxFloat64
	for _, id := range candidates {
		s, err := c.net.Station(id)
		if err != nil {
			continue
		}
		d := network.HaversineKM(lat, lng, s.Lat, s.Lng)
		if d < bestDist {
			best, bestDist = s, d
		}
	}
	if best == nil {
		return nil, 0
	}
	return best, bestDist
}

// ComposeOperatorRecommendations ranks candidate interventions across all
// active events by expected impact: severity weight times affected-station
// count times prediction confidence, scaled by each intervention's relative
// effect. Ties rank the faster-to-implement action first.
func ComposeOperatorRecommendations(events []*detector.Event, predictions []fusion.Prediction) []OperatorAction {
	confidence := confidenceByStation(predictions)

	var actions []OperatorAction
	for _, ev := range events {
		if !ev.Active {
			continue
		}
		conf := eventConfidence(ev, confidence)
		for _, iv := range interventions {
			if ev.Severity.Rank() < iv.minSeverity.Rank() {
				continue
			}
			actions = append(actions, OperatorAction{
				Action:             iv.name,
				EventID:            ev.ID,
				Severity:           ev.Severity,
				AffectedStations:   len(ev.Affected),
				Score:              float64(ev.Severity.Rank()) * float64(len(ev.Affected)) * conf * iv.effect,
				ImplementationTime: Minutes(iv.implTime),
			})
		}
	}

	sort.SliceStable(actions, func(i, j int) bool {
		if actions[i].Score != actions[j].Score {
			return actions[i].Score > actions[j].Score
		}
		return actions[i].ImplementationTime < actions[j].ImplementationTime
	})
	return actions
}

func confidenceByStation(predictions []fusion.Prediction) map[string][]float64 {
	out := make(map[string][]float64, len(predictions))
	for _, p := range predictions {
		out[p.StationID] = append(out[p.StationID], p.Confidence)
	}
	return out
}

// eventConfidence averages prediction confidence over the event's stations,
// falling back to a neutral prior when no predictions cover them.
func eventConfidence(ev *detector.Event, byStation map[string][]float64) float64 {
	var all []float64
	for _, id := range ev.Affected {
		all = append(all, byStation[id]...)
	}
	if len(all) == 0 {
		return 0.6
	}
	return stat.Mean(all, nil)
}
