package noisefloor

import (
	"math"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oszuidwest/zwfm-noisetrigger/internal/audio"
)

func newEstimator(t *testing.T, window int) *Estimator {
	t.Helper()
	e, err := New(Config{
		Window:              window,
		MarginDB:            DefaultMarginDB,
		FallbackThresholdDB: -40,
		FallbackFloorDB:     -70,
	})
	require.NoError(t, err)
	return e
}

func TestNewRejectsInvalidWindow(t *testing.T) {
	_, err := New(Config{Window: 0})
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

func TestFallbackUntilFull(t *testing.T) {
	e := newEstimator(t, 10)
	for i := range 9 {
		e.Observe(float64(-50 + i))
		assert.False(t, e.RecomputeIfFull())
	}
	assert.False(t, e.Calibrated())
	assert.Equal(t, -40.0, e.Threshold())
	assert.Equal(t, -70.0, e.NoiseFloor())
	assert.Equal(t, 9, e.Observed())
}

func TestQuantilesMatchReferenceSort(t *testing.T) {
	const window = 240
	rng := rand.New(rand.NewPCG(42, 7))
	e := newEstimator(t, window)

	var values []float64
	for range window {
		v := -80 + rng.Float64()*60
		values = append(values, v)
		e.Observe(v)
	}
	require.True(t, e.RecomputeIfFull())

	ref := slices.Clone(values)
	slices.Sort(ref)
	assert.True(t, e.Calibrated())
	assert.Equal(t, ref[120], e.NoiseFloor())
	assert.Equal(t, ref[216]+DefaultMarginDB, e.Threshold())
}

func TestRollingWindowForgetsOldReadings(t *testing.T) {
	e := newEstimator(t, 10)
	for range 10 {
		e.Observe(-20)
	}
	require.True(t, e.RecomputeIfFull())
	assert.Equal(t, -20.0, e.NoiseFloor())

	for i := range 10 {
		e.Observe(float64(-60 + i))
	}
	require.True(t, e.RecomputeIfFull())
	assert.Equal(t, -55.0, e.NoiseFloor())
	assert.Equal(t, -51.0+DefaultMarginDB, e.Threshold())
}

func TestNonFiniteReadingsAreFloored(t *testing.T) {
	e := newEstimator(t, 4)
	e.Observe(math.NaN())
	e.Observe(math.Inf(-1))
	e.Observe(math.Inf(1))
	e.Observe(-30)
	require.True(t, e.RecomputeIfFull())

	assert.Equal(t, audio.MinDB, e.NoiseFloor())
	assert.Equal(t, -30.0+DefaultMarginDB, e.Threshold())
	assert.False(t, math.IsNaN(e.Threshold()))
}
