package oracle

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HatiCode/stormcast/pkg/measurement"
	"github.com/HatiCode/stormcast/pkg/stormerr"
)

var windowStart = time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)

func flatKp(kp float64) []float64 {
	return repeat(kp, WindowSize)
}

func rampKp(from, to float64) []float64 {
	out := make([]float64, WindowSize)
	for i := range out {
		out[i] = from + (to-from)*float64(i)/float64(WindowSize-1)
	}
	return out
}

func testWindow(t *testing.T, kp []float64) Window {
	t.Helper()
	ms := make([]measurement.Measurement, len(kp))
	for i, v := range kp {
		ms[i] = measurement.Measurement{
			Timestamp:      windowStart.Add(time.Duration(i) * time.Hour),
			Kp:             v,
			TecMean:        15 + float64(i%6),
			TecStd:         3,
			SolarWindSpeed: 420,
			F107:           150,
		}
	}
	w, err := NewWindow(ms)
	require.NoError(t, err)
	return w
}

func TestNewWindow_Validation(t *testing.T) {
	_, err := NewWindow(make([]measurement.Measurement, 23))
	assert.True(t, errors.Is(err, stormerr.ErrInvalidParams))

	ms := make([]measurement.Measurement, WindowSize)
	for i := range ms {
		ms[i].Timestamp = windowStart
	}
	_, err = NewWindow(ms)
	assert.True(t, errors.Is(err, stormerr.ErrInvalidParams), "duplicate timestamps must be rejected")
}

func TestWindow_FeaturesV1(t *testing.T) {
	w := testWindow(t, flatKp(3))
	f := w.FeaturesV1()

	require.Len(t, f, WindowSize)
	require.Len(t, f[0], FeatureCount)

	assert.InDelta(t, 0, f[0][2], 1e-6, "kp 3 normalises to 0")
	assert.InDelta(t, 0.2, f[0][3], 1e-6, "speed 420 normalises to 0.2")
	assert.InDelta(t, 1.0, f[0][5], 1e-6, "f107 150 normalises to 1")
	assert.InDelta(t, 0, f[0][6], 1e-6, "sin(0) at midnight")
	assert.InDelta(t, math.Sin(2*math.Pi*6/24), f[6][6], 1e-6)
}

func TestWindow_FeaturesV1_FillValues(t *testing.T) {
	ms := testWindow(t, flatKp(3)).Rows()
	ms[0].Kp = 99
	ms[0].ImfBz = 999.9
	ms[0].TecMean = 999
	ms[0].SolarWindSpeed = 99999
	w, err := NewWindow(ms)
	require.NoError(t, err)

	f := w.FeaturesV1()
	for _, j := range []int{0, 2, 3, 4} {
		assert.InDelta(t, 0, f[0][j], 1e-6, "feature %d of a fill value", j)
	}
}

func TestTrendOracle_Deterministic(t *testing.T) {
	o := NewTrendOracle()
	w := testWindow(t, rampKp(2, 6))

	a, err := o.Predict(context.Background(), w)
	require.NoError(t, err)
	b, err := o.Predict(context.Background(), w)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NoError(t, a.Validate())
	assert.Equal(t, "trend-v1", a.Version)
}

func TestTrendOracle_RisingActivityRaisesProbability(t *testing.T) {
	o := NewTrendOracle()

	quiet, err := o.Predict(context.Background(), testWindow(t, flatKp(1)))
	require.NoError(t, err)
	rising, err := o.Predict(context.Background(), testWindow(t, rampKp(2, 7)))
	require.NoError(t, err)

	assert.Less(t, quiet.Probability24h, 0.05)
	assert.Greater(t, rising.Probability24h, 0.8)
	assert.GreaterOrEqual(t, rising.Probability48h, rising.Probability24h)
	for i := 1; i < WindowSize; i++ {
		assert.GreaterOrEqual(t, rising.Hourly[i], rising.Hourly[i-1], "hour %d", i)
	}
}

func TestTrendOracle_ValueForecastNonNegative(t *testing.T) {
	ms := testWindow(t, flatKp(3)).Rows()
	for i := range ms {
		ms[i].TecMean = 40 - 1.8*float64(i)
	}
	w, err := NewWindow(ms)
	require.NoError(t, err)

	res, err := NewTrendOracle().Predict(context.Background(), w)
	require.NoError(t, err)
	for i, v := range res.ValueForecast {
		assert.GreaterOrEqual(t, v, 0.0, "hour %d", i)
	}
}

func TestTrendOracle_RejectsEmptyWindow(t *testing.T) {
	_, err := NewTrendOracle().Predict(context.Background(), Window{})
	assert.ErrorIs(t, err, stormerr.ErrInvalidParams)
}

func TestForecastResult_Validate(t *testing.T) {
	good := ForecastResult{
		Probability24h: 0.2,
		Probability48h: 0.3,
		Hourly:         repeat(0.1, WindowSize),
		ValueForecast:  repeat(12, WindowSize),
		Uncertainty:    0.4,
	}
	require.NoError(t, good.Validate())

	bad := good
	bad.Hourly = append(repeat(0.1, WindowSize-1), 1.2)
	assert.Error(t, bad.Validate())

	bad = good
	bad.ValueForecast = append(repeat(1, WindowSize-1), math.NaN())
	assert.Error(t, bad.Validate())

	bad = good
	bad.Uncertainty = -0.1
	assert.Error(t, bad.Validate())
}
