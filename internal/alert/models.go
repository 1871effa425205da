package alert

import (
	"strconv"
	"time"

	"github.com/ws97109/highway-traffic/internal/detector"
)

// DriverAlert is the consumer-facing view of a shockwave for one observer
// location. Ephemeral: regenerated per request, never persisted.
type DriverAlert struct {
	Title    string            `json:"title"`
	EventID  string            `json:"event_id"`
	Severity detector.Severity `json:"severity"`

	Highway   string `json:"highway"`
	Direction string `json:"direction"`

	// NearestStation is the affected or projected station closest to the
	// observer; DistanceKM is the straight-line distance to it.
	NearestStation string  `json:"nearest_station"`
	DistanceKM     float64 `json:"distance_km"`

	// EstimatedArrivalMinutes is nil when no arrival can be estimated
	// (zero propagation speed or a resolved event).
	EstimatedArrivalMinutes *float64 `json:"estimated_arrival_minutes"`

	SpeedDropKMH    float64  `json:"speed_drop_kmh"`
	Recommendations []string `json:"recommendations"`
}

// Minutes serializes a duration as fractional minutes.
type Minutes time.Duration

// MarshalJSON implements json.Marshaler.
func (m Minutes) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(time.Duration(m).Minutes(), 'g', -1, 64)), nil
}

// OperatorAction is one ranked intervention recommendation.
type OperatorAction struct {
	Action             string            `json:"action"`
	EventID            string            `json:"event_id"`
	Severity           detector.Severity `json:"severity"`
	AffectedStations   int               `json:"affected_stations"`
	Score              float64           `json:"score"`
	ImplementationTime Minutes           `json:"implementation_time_minutes"`
}

// driverRecommendations is the deterministic lookup table keyed by severity.
var driverRecommendations = map[detector.Severity][]string{
	detector.SeverityMild: {
		"Reduce speed slightly and stay alert",
		"Maintain a safe following distance",
	},
	detector.SeverityModerate: {
		"Slow down well before the affected section",
		"Avoid unnecessary lane changes",
		"Increase following distance",
	},
	detector.SeveritySevere: {
		"Divert to an alternate route if possible",
		"Expect stop-and-go traffic ahead",
		"Keep a large following distance and watch for sudden braking",
	},
}

// intervention is a candidate operator action with its relative effect and
// the time it takes to put in place.
type intervention struct {
	name        string
	minSeverity detector.Severity
	effect      float64
	implTime    time.Duration
}

var interventions = []intervention{
	{name: "activate variable message signs upstream", minSeverity: detector.SeverityMild, effect: 0.6, implTime: 2 * time.Minute},
	{name: "lower advisory speed on approach", minSeverity: detector.SeverityMild, effect: 0.7, implTime: 3 * time.Minute},
	{name: "activate ramp metering at upstream on-ramps", minSeverity: detector.SeverityModerate, effect: 1.0, implTime: 5 * time.Minute},
	{name: "broadcast route diversion messaging", minSeverity: detector.SeveritySevere, effect: 1.2, implTime: 10 * time.Minute},
	{name: "dispatch incident response unit", minSeverity: detector.SeveritySevere, effect: 0.9, implTime: 15 * time.Minute},
}
