package models

import (
	"time"

	"github.com/ws97109/highway-traffic/internal/alert"
	"github.com/ws97109/highway-traffic/internal/detector"
	"github.com/ws97109/highway-traffic/internal/forecast"
	"github.com/ws97109/highway-traffic/internal/fusion"
	"github.com/ws97109/highway-traffic/internal/network"
)

// TelemetryReading is one inbound telemetry record.
type TelemetryReading struct {
	StationID string    `json:"station_id"`
	Timestamp Timestamp `json:"timestamp"`
	Flow      float64   `json:"flow"`
	Speed     float64   `json:"speed"`
	Density   float64   `json:"density"`
}

// TelemetryRequest is a batch of telemetry readings.
type TelemetryRequest struct {
	Readings []TelemetryReading `json:"readings"`
}

// RejectedReading reports one reading the ingest boundary refused.
type RejectedReading struct {
	StationID string    `json:"station_id"`
	Timestamp Timestamp `json:"timestamp"`
	Reason    string    `json:"reason"`
}

// TelemetryResponse summarizes a telemetry batch: accepted count plus the
// typed rejections. Rejections are reported, never silently dropped.
type TelemetryResponse struct {
	Accepted int               `json:"accepted"`
	Rejected []RejectedReading `json:"rejected,omitempty"`
}

// Shockwave is the serialized view of a detected event.
type Shockwave struct {
	ID                 string     `json:"id"`
	OriginStation      string     `json:"origin_station"`
	Highway            string     `json:"highway"`
	Direction          string     `json:"direction"`
	Severity           string     `json:"severity"`
	SpeedDropKMH       float64    `json:"speed_drop"`
	AffectedStations   []string   `json:"affected_stations"`
	PropagationSpeed   float64    `json:"propagation_speed"`
	TheoreticalWaveKMH float64    `json:"theoretical_wave_speed"`
	DetectedAt         Timestamp  `json:"detected_at"`
	EstimatedDuration  float64    `json:"estimated_duration_s"`
	Active             bool       `json:"active"`
	ResolvedAt         *Timestamp `json:"resolved_at,omitempty"`
}

// NewShockwave maps a detector event to its wire form.
func NewShockwave(ev *detector.Event) Shockwave {
	s := Shockwave{
		ID:                 ev.ID,
		OriginStation:      ev.Origin,
		Highway:            ev.Highway,
		Direction:          ev.Dir,
		Severity:           string(ev.Severity),
		SpeedDropKMH:       ev.MaxDropKMH,
		AffectedStations:   ev.Affected,
		PropagationSpeed:   ev.PropagationKMH,
		TheoreticalWaveKMH: ev.TheoreticalWaveKMH,
		DetectedAt:         Timestamp(ev.DetectedAt),
		EstimatedDuration:  ev.EstimatedDuration.Seconds(),
		Active:             ev.Active,
	}
	if !ev.ResolvedAt.IsZero() {
		t := Timestamp(ev.ResolvedAt)
		s.ResolvedAt = &t
	}
	return s
}

// ShockwaveListResponse wraps a set of shockwaves.
type ShockwaveListResponse struct {
	Shockwaves  []Shockwave `json:"shockwaves"`
	GeneratedAt Timestamp   `json:"generated_at"`
}

// ForecastRequest names the stations to predict for.
type ForecastRequest struct {
	Stations []string `json:"stations"`
}

// ForecastResponse carries per-(station, step) forecasts; Degraded is set
// when the request could only be served from the statistical baseline.
type ForecastResponse struct {
	Records     []forecast.Record `json:"records"`
	GeneratedAt Timestamp         `json:"generated_at"`
}

// PredictionsResponse carries the latest fused predictions.
type PredictionsResponse struct {
	Predictions []fusion.Prediction `json:"predictions"`
	Degraded    bool                `json:"degraded"`
	GeneratedAt Timestamp           `json:"generated_at"`
}

// AlertsRequest locates the observer asking for alerts.
type AlertsRequest struct {
	Location Point `json:"location"`
}

// AlertsResponse always returns a (possibly empty) list; Degraded is set
// when detection or forecasting is running in a reduced mode, rather than
// silently omitting data.
type AlertsResponse struct {
	Alerts      []alert.DriverAlert `json:"alerts"`
	Degraded    bool                `json:"degraded"`
	GeneratedAt Timestamp           `json:"generated_at"`
}

// OperatorRecommendationsResponse carries ranked interventions.
type OperatorRecommendationsResponse struct {
	Actions     []alert.OperatorAction `json:"actions"`
	Degraded    bool                   `json:"degraded"`
	GeneratedAt Timestamp              `json:"generated_at"`
}

// StationView is the wire form of one topology station.
type StationView struct {
	ID      string  `json:"id"`
	Name    string  `json:"name,omitempty"`
	Highway string  `json:"highway"`
	Dir     string  `json:"direction"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Ordinal int     `json:"ordinal"`
	MileKM  float64 `json:"mile_km"`
}

// NewStationView maps a topology station to its wire form.
func NewStationView(s *network.Station) StationView {
	return StationView{
		ID:      s.ID,
		Name:    s.Name,
		Highway: s.Highway,
		Dir:     string(s.Dir),
		Lat:     s.Lat,
		Lng:     s.Lng,
		Ordinal: s.Ordinal,
		MileKM:  s.MileKM,
	}
}

// StationListResponse wraps a station listing.
type StationListResponse struct {
	Stations []StationView `json:"stations"`
}

// NearestStationResponse names the station closest to a coordinate.
type NearestStationResponse struct {
	Station    StationView `json:"station"`
	DistanceKM float64     `json:"distance_km"`
}

// Now stamps response generation time.
func Now() Timestamp { return Timestamp(time.Now().UTC()) }
