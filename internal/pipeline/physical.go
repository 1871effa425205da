package pipeline

import (
	"math"
	"time"

	"github.com/ws97109/highway-traffic/internal/detector"
	"github.com/ws97109/highway-traffic/internal/fusion"
	"github.com/ws97109/highway-traffic/internal/ingest"
	"github.com/ws97109/highway-traffic/internal/network"
)

// physicalEstimates projects the traffic state implied by active shockwaves
// over the forecast horizon: affected stations hold their current degraded
// state, and stations the wave has not yet reached inherit the front's state
// from their estimated arrival step onward.
func physicalEstimates(
	net *network.Network,
	buf *ingest.Buffer,
	events []*detector.Event,
	horizon int,
	interval time.Duration,
) []fusion.PhysicalEstimate {
	var out []fusion.PhysicalEstimate
	for _, ev := range events {
		if !ev.Active {
			continue
		}
		out = append(out, projectEvent(net, buf, ev, horizon, interval)...)
	}
	return out
}

func projectEvent(
	net *network.Network,
	buf *ingest.Buffer,
	ev *detector.Event,
	horizon int,
	interval time.Duration,
) []fusion.PhysicalEstimate {
	var out []fusion.PhysicalEstimate
	confirming := len(ev.Affected)

	for _, id := range ev.Affected {
		r, err := buf.Latest(id)
		if err != nil {
			continue
		}
		for step := 1; step <= horizon; step++ {
			out = append(out, estimateFrom(id, step, r, confirming))
		}
	}

	front := ev.Affected[len(ev.Affected)-1]
	frontReading, err := buf.Latest(front)
	if err != nil || ev.PropagationKMH == 0 {
		return out
	}

	// Walk upstream from the wave front, accumulating distance to find when
	// the wave reaches each station.
	speed := math.Abs(ev.PropagationKMH)
	cursor := front
	var cumKM float64
	for {
		next, err := net.Upstream(cursor)
		if err != nil || next == nil {
			break
		}
		leg, err := net.Distance(cursor, next.ID)
		if err != nil || leg <= 0 {
			break
		}
		cumKM += leg

		arrival := int(math.Ceil(cumKM / speed * float64(time.Hour) / float64(interval)))
		if arrival < 1 {
			arrival = 1
		}
		if arrival > horizon {
			break
		}
		if !ev.Contains(next.ID) {
			for step := arrival; step <= horizon; step++ {
				out = append(out, estimateFrom(next.ID, step, frontReading, confirming))
			}
		}
		cursor = next.ID
	}
	return out
}

func estimateFrom(stationID string, step int, r ingest.Reading, confirming int) fusion.PhysicalEstimate {
	return fusion.PhysicalEstimate{
		StationID:          stationID,
		Step:               step,
		Flow:               r.Flow,
		Speed:              r.Speed,
		Density:            r.Density,
		ConfirmingStations: confirming,
	}
}
