package impact

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HatiCode/stormcast/pkg/stormerr"
)

func severeStorm() Conditions {
	return Conditions{
		Probability24h: 0.8,
		Probability48h: 0.6,
		Kp:             7,
		TecMean:        40,
		Dst:            -120,
		Latitude:       65,
	}
}

func TestAssess_SevereStorm(t *testing.T) {
	a, err := Assess(severeStorm())
	require.NoError(t, err)

	assert.Equal(t, 10.0, a.GPS.Score)
	assert.Equal(t, LevelSevere, a.GPS.Level)
	assert.Greater(t, a.GPS.DegradedAccuracy, 30.0)
	assert.Len(t, a.GPS.Recommendations, 3)

	assert.InDelta(t, 95.0, a.Radio.BlackoutProbability, 1e-9)
	assert.InDelta(t, 7.9, a.Radio.Score, 1e-9)
	assert.Equal(t, LevelHigh, a.Radio.Level)
	assert.Equal(t, "Severe HF propagation issues", a.Radio.Description)
	require.Len(t, a.Radio.Bands, 3)
	assert.Equal(t, Band{Score: 9.5, Status: "blackout_likely"}, a.Radio.Bands["low_band_3_10_mhz"])
	assert.Equal(t, Band{Score: 6.3, Status: "blackout_likely"}, a.Radio.Bands["high_band_20_30_mhz"])

	assert.InDelta(t, 3.8, a.Satellite.DragMultiplier, 1e-9)
	assert.InDelta(t, 95.0, a.Satellite.ChargingRisk, 1e-9)
	assert.InDelta(t, 90.0, a.Satellite.UpsetRisk, 1e-9)
	assert.InDelta(t, 7.4, a.Satellite.Score, 1e-9)
	assert.Equal(t, LevelHigh, a.Satellite.Level)

	assert.InDelta(t, 95.0, a.PowerGrid.GICRisk, 1e-9)
	assert.InDelta(t, 9.5, a.PowerGrid.Score, 1e-9)
	assert.Equal(t, "High latitudes (>60°)", a.PowerGrid.AffectedRegions)
	assert.Equal(t, "High GIC risk - potential transformer damage", a.PowerGrid.Description)
	assert.Len(t, a.PowerGrid.Recommendations, 4)

	assert.InDelta(t, 7.9, a.Overall.Score, 1e-9)
	assert.Equal(t, LevelHigh, a.Overall.Level)
	assert.Equal(t, "high", a.Overall.Confidence)

	assert.InDelta(t, 80.0, a.Inputs.Probability24h, 1e-9)
	assert.InDelta(t, 60.0, a.Inputs.Probability48h, 1e-9)
	assert.Equal(t, -120.0, a.Inputs.Dst)
}

func TestAssess_QuietMidLatitude(t *testing.T) {
	a, err := Assess(Conditions{Probability24h: 0.05, Probability48h: 0.05, Kp: 1, TecMean: 10, Latitude: 30})
	require.NoError(t, err)

	// GPS score never drops below 1.
	assert.Equal(t, 1.0, a.GPS.Score)
	assert.Equal(t, LevelMinimal, a.GPS.Level)
	assert.InDelta(t, 2.7, a.GPS.DegradedAccuracy, 1e-9)
	assert.InDelta(t, -23.5, a.GPS.AccuracyLoss, 1e-9)
	assert.Equal(t, "Normal GPS performance expected", a.GPS.Description)

	for name, b := range a.Radio.Bands {
		assert.Equal(t, "normal", b.Status, name)
	}
	assert.Equal(t, LevelMinimal, a.Radio.Level)

	assert.InDelta(t, 1.5, a.PowerGrid.GICRisk, 1e-9)
	assert.InDelta(t, 0.2, a.PowerGrid.Score, 0.051)
	assert.Equal(t, "Minimal power grid risk at this latitude", a.PowerGrid.Description)
	assert.Equal(t, "Minimal impact at this latitude", a.PowerGrid.AffectedRegions)
	assert.Equal(t, []string{"Normal grid operations"}, a.PowerGrid.Recommendations)

	assert.InDelta(t, 1.0, a.Overall.Score, 1e-9)
	assert.Equal(t, LevelMinimal, a.Overall.Level)
	assert.Equal(t, "medium", a.Overall.Confidence)
}

func TestAssess_HemispheresAreSymmetric(t *testing.T) {
	north, err := Assess(severeStorm())
	require.NoError(t, err)

	c := severeStorm()
	c.Latitude = -65
	south, err := Assess(c)
	require.NoError(t, err)

	assert.Equal(t, north.GPS, south.GPS)
	assert.Equal(t, north.PowerGrid, south.PowerGrid)
}

func TestAssess_PowerGridLatitudeBands(t *testing.T) {
	tests := []struct {
		lat  float64
		want float64
	}{
		{30, 0.1 * (80 + 70)},
		{50, 0.5 * (80 + 70)},
		{60, 95},
	}
	for _, tt := range tests {
		c := severeStorm()
		c.Latitude = tt.lat
		a, err := Assess(c)
		require.NoError(t, err)
		assert.InDelta(t, math.Min(95, tt.want), a.PowerGrid.GICRisk, 1e-9, "lat %v", tt.lat)
	}
}

func TestAssess_RejectsInvalidConditions(t *testing.T) {
	tests := []struct {
		name string
		edit func(*Conditions)
	}{
		{"probability above 1", func(c *Conditions) { c.Probability24h = 80 }},
		{"negative probability", func(c *Conditions) { c.Probability48h = -0.1 }},
		{"kp sentinel", func(c *Conditions) { c.Kp = 99 }},
		{"negative tec", func(c *Conditions) { c.TecMean = -1 }},
		{"latitude", func(c *Conditions) { c.Latitude = 91 }},
		{"nan", func(c *Conditions) { c.Dst = math.NaN() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := severeStorm()
			tt.edit(&c)
			_, err := Assess(c)
			assert.ErrorIs(t, err, stormerr.ErrInvalidParams)
		})
	}
}

func TestLevelFor(t *testing.T) {
	assert.Equal(t, LevelMinimal, LevelFor(1.99))
	assert.Equal(t, LevelLow, LevelFor(2))
	assert.Equal(t, LevelModerate, LevelFor(5.9))
	assert.Equal(t, LevelHigh, LevelFor(6))
	assert.Equal(t, LevelSevere, LevelFor(8))
	assert.Equal(t, LevelSevere, LevelFor(10))
}
