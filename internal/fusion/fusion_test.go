package fusion_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ws97109/highway-traffic/internal/forecast"
	"github.com/ws97109/highway-traffic/internal/fusion"
)

func physical(station string, step int, speed float64, stations int) fusion.PhysicalEstimate {
	return fusion.PhysicalEstimate{
		StationID:          station,
		Step:               step,
		Flow:               400,
		Speed:              speed,
		Density:            400 / speed,
		ConfirmingStations: stations,
	}
}

func learned(station string, step int, speed, confidence float64) forecast.Record {
	return forecast.Record{
		StationID:  station,
		Step:       step,
		Flow:       500,
		Speed:      speed,
		Density:    500 / speed,
		Confidence: confidence,
	}
}

func TestFuseBlendsBothSources(t *testing.T) {
	f := fusion.New(fusion.Config{Method: fusion.MethodConfidenceWeighted})

	out := f.Fuse(
		[]fusion.PhysicalEstimate{physical("s1", 1, 50, 1)},
		[]forecast.Record{learned("s1", 1, 60, 0.55)},
	)
	require.Len(t, out, 1)
	p := out[0]

	assert.Equal(t, fusion.SourceFused, p.Source)
	assert.False(t, p.Degraded)
	// Equal confidences (0.55 each) mean an even split.
	assert.InDelta(t, 0.5, p.PhysicalWeight, 0.001)
	assert.InDelta(t, 0.5, p.LearnedWeight, 0.001)
	assert.InDelta(t, 55, p.Speed, 0.001)
	assert.InDelta(t, 1.0, p.PhysicalWeight+p.LearnedWeight, 1e-9)
}

func TestLearnedWeightGrowsWithConfidence(t *testing.T) {
	f := fusion.New(fusion.Config{Method: fusion.MethodConfidenceWeighted})

	low := f.Fuse(
		[]fusion.PhysicalEstimate{physical("s1", 1, 50, 1)},
		[]forecast.Record{learned("s1", 1, 60, 0.5)},
	)[0]
	high := f.Fuse(
		[]fusion.PhysicalEstimate{physical("s1", 1, 50, 1)},
		[]forecast.Record{learned("s1", 1, 60, 0.9)},
	)[0]

	assert.Greater(t, high.LearnedWeight, low.LearnedWeight)
	assert.Greater(t, high.Speed, low.Speed, "higher learned weight pulls toward the learned estimate")
}

func TestEstablishedPropagationBoostsPhysicalWeight(t *testing.T) {
	f := fusion.New(fusion.Config{Method: fusion.MethodConfidenceWeighted})

	young := f.Fuse(
		[]fusion.PhysicalEstimate{physical("s1", 1, 50, 1)},
		[]forecast.Record{learned("s1", 1, 60, 0.7)},
	)[0]
	established := f.Fuse(
		[]fusion.PhysicalEstimate{physical("s1", 1, 50, 3)},
		[]forecast.Record{learned("s1", 1, 60, 0.7)},
	)[0]

	assert.Greater(t, established.PhysicalWeight, young.PhysicalWeight)
}

func TestFixedMethodIgnoresConfidence(t *testing.T) {
	f := fusion.New(fusion.Config{
		Method:         fusion.MethodFixed,
		PhysicalWeight: 0.7,
		LearnedWeight:  0.3,
	})

	out := f.Fuse(
		[]fusion.PhysicalEstimate{physical("s1", 1, 50, 4)},
		[]forecast.Record{learned("s1", 1, 60, 0.95)},
	)[0]

	assert.InDelta(t, 0.7, out.PhysicalWeight, 0.001)
	assert.InDelta(t, 0.3, out.LearnedWeight, 0.001)
	assert.InDelta(t, 53, out.Speed, 0.001)
}

func TestDivergenceLowersFusedConfidence(t *testing.T) {
	f := fusion.New(fusion.Config{Method: fusion.MethodConfidenceWeighted})

	agree := f.Fuse(
		[]fusion.PhysicalEstimate{physical("s1", 1, 60, 1)},
		[]forecast.Record{learned("s1", 1, 61, 0.7)},
	)[0]
	diverge := f.Fuse(
		[]fusion.PhysicalEstimate{physical("s1", 1, 30, 1)},
		[]forecast.Record{learned("s1", 1, 90, 0.7)},
	)[0]

	assert.Greater(t, agree.Confidence, diverge.Confidence)
}

func TestPhysicalOnlyDegradesGracefully(t *testing.T) {
	f := fusion.New(fusion.Config{})

	out := f.Fuse([]fusion.PhysicalEstimate{physical("s1", 1, 45, 3)}, nil)
	require.Len(t, out, 1)
	p := out[0]

	assert.Equal(t, fusion.SourcePhysical, p.Source)
	assert.True(t, p.Degraded)
	assert.InDelta(t, 1.0, p.PhysicalWeight, 0.001)
	assert.Zero(t, p.LearnedWeight)
	assert.InDelta(t, 45, p.Speed, 0.001)
	assert.Positive(t, p.Confidence)
}

func TestLearnedOnlyDegradesGracefully(t *testing.T) {
	f := fusion.New(fusion.Config{})

	out := f.Fuse(nil, []forecast.Record{learned("s1", 1, 88, 0.8)})
	require.Len(t, out, 1)
	p := out[0]

	assert.Equal(t, fusion.SourceLearned, p.Source)
	assert.True(t, p.Degraded)
	assert.InDelta(t, 1.0, p.LearnedWeight, 0.001)
	assert.InDelta(t, 0.8, p.Confidence, 0.001)
}

func TestFuseMergesDisjointPairs(t *testing.T) {
	f := fusion.New(fusion.Config{})

	out := f.Fuse(
		[]fusion.PhysicalEstimate{physical("s1", 1, 50, 1), physical("s2", 1, 55, 1)},
		[]forecast.Record{learned("s1", 1, 60, 0.7), learned("s1", 2, 70, 0.7)},
	)
	require.Len(t, out, 3)

	sources := map[string]fusion.Source{}
	for _, p := range out {
		sources[p.StationID+":"+string(rune('0'+p.Step))] = p.Source
	}
	assert.Equal(t, fusion.SourceFused, sources["s1:1"])
	assert.Equal(t, fusion.SourceLearned, sources["s1:2"])
	assert.Equal(t, fusion.SourcePhysical, sources["s2:1"])
}

func TestParseMethod(t *testing.T) {
	m, err := fusion.ParseMethod("")
	require.NoError(t, err)
	assert.Equal(t, fusion.MethodConfidenceWeighted, m)

	m, err = fusion.ParseMethod("fixed")
	require.NoError(t, err)
	assert.Equal(t, fusion.MethodFixed, m)

	_, err = fusion.ParseMethod("oracle")
	require.ErrorIs(t, err, fusion.ErrUnknownMethod)
}
