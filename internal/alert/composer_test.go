package alert_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ws97109/highway-traffic/internal/alert"
	"github.com/ws97109/highway-traffic/internal/detector"
	"github.com/ws97109/highway-traffic/internal/fusion"
	"github.com/ws97109/highway-traffic/internal/network"
)

// corridor lays out three stations roughly 2km apart going north.
func corridor(t *testing.T) *network.Network {
	t.Helper()
	net, err := network.New([]*network.Station{
		{ID: "s1", Highway: "N1", Dir: network.DirectionNorth, Lat: 24.80, Lng: 121.00, MileKM: 0},
		{ID: "s2", Highway: "N1", Dir: network.DirectionNorth, Lat: 24.818, Lng: 121.00, MileKM: 2},
		{ID: "s3", Highway: "N1", Dir: network.DirectionNorth, Lat: 24.836, Lng: 121.00, MileKM: 4},
	})
	require.NoError(t, err)
	return net
}

func activeEvent(severity detector.Severity, affected []string, propagation float64) *detector.Event {
	return &detector.Event{
		ID:             "ev-1",
		Origin:         affected[0],
		Highway:        "N1",
		Dir:            "N",
		Severity:       severity,
		MaxDropKMH:     35,
		Affected:       affected,
		PropagationKMH: propagation,
		DetectedAt:     time.Date(2025, 3, 10, 8, 15, 0, 0, time.UTC),
		Active:         true,
	}
}

func TestDriverAlertEstimatesArrival(t *testing.T) {
	c := alert.NewComposer(corridor(t))
	ev := activeEvent(detector.SeveritySevere, []string{"s3", "s2"}, -7)

	// Observer sits next to s1, upstream of the wave front at s2.
	a := c.ComposeDriverAlert(ev, 24.80, 121.00)

	assert.Equal(t, "s1", a.NearestStation)
	require.NotNil(t, a.EstimatedArrivalMinutes)
	// 2km at 7 km/h is about 17 minutes.
	assert.InDelta(t, 17.14, *a.EstimatedArrivalMinutes, 0.1)
	assert.Equal(t, detector.SeveritySevere, a.Severity)
	assert.NotEmpty(t, a.Recommendations)
}

func TestDriverAlertAtAffectedStation(t *testing.T) {
	c := alert.NewComposer(corridor(t))
	ev := activeEvent(detector.SeveritySevere, []string{"s3", "s2"}, -7)

	a := c.ComposeDriverAlert(ev, 24.818, 121.00)

	assert.Equal(t, "s2", a.NearestStation)
	require.NotNil(t, a.EstimatedArrivalMinutes)
	assert.Zero(t, *a.EstimatedArrivalMinutes, "wave already at the observer's station")
}

func TestDriverAlertUnknownArrival(t *testing.T) {
	c := alert.NewComposer(corridor(t))

	noSpeed := activeEvent(detector.SeverityModerate, []string{"s3"}, 0)
	a := c.ComposeDriverAlert(noSpeed, 24.80, 121.00)
	assert.Nil(t, a.EstimatedArrivalMinutes, "zero propagation speed cannot give an arrival")

	resolved := activeEvent(detector.SeverityModerate, []string{"s3"}, -7)
	resolved.Active = false
	a = c.ComposeDriverAlert(resolved, 24.80, 121.00)
	assert.Nil(t, a.EstimatedArrivalMinutes, "resolved events have no arrival")
}

func TestRecommendationsMatchSeverity(t *testing.T) {
	c := alert.NewComposer(corridor(t))

	mild := c.ComposeDriverAlert(activeEvent(detector.SeverityMild, []string{"s3"}, -7), 24.80, 121.00)
	severe := c.ComposeDriverAlert(activeEvent(detector.SeveritySevere, []string{"s3"}, -7), 24.80, 121.00)

	assert.NotEqual(t, mild.Recommendations, severe.Recommendations)
	assert.Contains(t, severe.Recommendations[0], "alternate route")
}

func TestOperatorRecommendationsRankByImpact(t *testing.T) {
	severe := activeEvent(detector.SeveritySevere, []string{"s3", "s2", "s1"}, -7)
	mild := activeEvent(detector.SeverityMild, []string{"s2"}, 0)
	mild.ID = "ev-2"

	predictions := []fusion.Prediction{
		{StationID: "s1", Step: 1, Confidence: 0.8},
		{StationID: "s2", Step: 1, Confidence: 0.8},
		{StationID: "s3", Step: 1, Confidence: 0.8},
	}

	actions := alert.ComposeOperatorRecommendations([]*detector.Event{mild, severe}, predictions)
	require.NotEmpty(t, actions)

	assert.Equal(t, "ev-1", actions[0].EventID, "severe multi-station event outranks mild single-station")
	for i := 1; i < len(actions); i++ {
		assert.GreaterOrEqual(t, actions[i-1].Score, actions[i].Score)
	}
}

func TestOperatorRecommendationsTieBreakOnSpeed(t *testing.T) {
	ev := activeEvent(detector.SeveritySevere, []string{"s3"}, -7)

	actions := alert.ComposeOperatorRecommendations([]*detector.Event{ev}, nil)
	require.NotEmpty(t, actions)

	for i := 1; i < len(actions); i++ {
		if actions[i-1].Score == actions[i].Score {
			assert.LessOrEqual(t, actions[i-1].ImplementationTime, actions[i].ImplementationTime)
		}
	}
}

func TestOperatorRecommendationsSkipInactive(t *testing.T) {
	ev := activeEvent(detector.SeveritySevere, []string{"s3"}, -7)
	ev.Active = false

	actions := alert.ComposeOperatorRecommendations([]*detector.Event{ev}, nil)
	assert.Empty(t, actions)
}

func TestMildEventGetsOnlyLightInterventions(t *testing.T) {
	ev := activeEvent(detector.SeverityMild, []string{"s2"}, 0)

	actions := alert.ComposeOperatorRecommendations([]*detector.Event{ev}, nil)
	require.NotEmpty(t, actions)
	for _, a := range actions {
		assert.NotContains(t, a.Action, "diversion")
		assert.NotContains(t, a.Action, "incident response")
	}
}
