package regional

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAll_FixedOrder(t *testing.T) {
	var codes []string
	for _, r := range All() {
		codes = append(codes, r.Code)
	}
	assert.Equal(t, []string{Equatorial, MidLatitude, Auroral, Polar, Global}, codes)

	// callers cannot mutate the package table
	all := All()
	all[0].BaselineFactor = 99
	assert.Equal(t, 1.4, MustLookup(Equatorial).BaselineFactor)
}

func TestLookup(t *testing.T) {
	r, ok := Lookup(Auroral)
	require.True(t, ok)
	assert.Equal(t, 0.85, r.BaselineFactor)
	assert.Equal(t, 1.5, r.VariabilityFactor)
	assert.Equal(t, 1.65, r.StormResponse)

	_, ok = Lookup("tropical")
	assert.False(t, ok)
	assert.Panics(t, func() { MustLookup("tropical") })
}

func TestAdjust(t *testing.T) {
	eq := MustLookup(Equatorial)
	polar := MustLookup(Polar)

	tests := []struct {
		name   string
		value  float64
		kp     float64
		region Region
		want   float64
	}{
		{"quiet scales baseline", 10, 3, eq, 14},
		{"kp 5 is still quiet", 10, 5, eq, 14},
		{"storm amplifies excess", 20, 6, eq, 12.74*1.4 + (20-12.74)*1.3},
		{"storm deficit clamps at zero", 0, 8, polar, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Adjust(tt.value, tt.kp, DefaultGlobalMean, tt.region), 1e-9)
		})
	}
}

func TestEnhance(t *testing.T) {
	aur := MustLookup(Auroral)

	assert.InDelta(t, 10.0, Enhance(10, 4, 400, aur), 1e-9)
	assert.InDelta(t, 10*(1+0.2*0.65), Enhance(10, 5.5, 400, aur), 1e-9)
	assert.InDelta(t, 10*(1+0.65), Enhance(10, 9, 400, aur), 1e-9)
	assert.InDelta(t, 10*(1+0.65+0.1), Enhance(10, 9, 640, aur), 1e-9)
	assert.InDelta(t, 10*(1+0.65+0.2), Enhance(10, 9, 1500, aur), 1e-9)
}

func TestAssessRisk(t *testing.T) {
	tests := []struct {
		code string
		tec  float64
		want Level
		sev  int
	}{
		{Equatorial, 17.9, LevelLow, 1},
		{Equatorial, 18, LevelModerate, 2},
		{MidLatitude, 24.99, LevelHigh, 3},
		{Auroral, 22, LevelSevere, 4},
		{Polar, 25, LevelExtreme, 5},
		{"unknown", 11, LevelLow, 1},
	}
	for _, tt := range tests {
		r := AssessRisk(tt.code, tt.tec)
		assert.Equal(t, tt.want, r.Level, "%s %v", tt.code, tt.tec)
		assert.Equal(t, tt.sev, r.Severity)
		assert.NotEmpty(t, r.Color)
	}
	assert.Equal(t, 12.35, AssessRisk(Global, 12.3456).Tec)
}

func TestGlobalRisk(t *testing.T) {
	risks := map[string]Risk{}
	for _, r := range All() {
		risks[r.Code] = Risk{Severity: 1}
	}
	got := GlobalRisk(risks)
	assert.Equal(t, LevelLow, got.Level)
	assert.Equal(t, 1.0, got.Severity)

	for code := range risks {
		risks[code] = Risk{Severity: 5}
	}
	got = GlobalRisk(risks)
	assert.Equal(t, LevelExtreme, got.Level)
	assert.Equal(t, "#991b1b", got.Color)

	got = GlobalRisk(map[string]Risk{MidLatitude: {Severity: 5}, "other": {Severity: 5}})
	assert.Equal(t, 3.0, got.Severity)
	assert.Equal(t, LevelHigh, got.Level)
}

func TestProbabilityRisk(t *testing.T) {
	tests := []struct {
		max, avg float64
		want     ProbabilityLevel
	}{
		{0.1, 0.1, ProbabilityLow},
		{0.3, 0.3, ProbabilityModerate},
		{0.7, 0.3, ProbabilityElevated},
		{0.9, 0.6, ProbabilityHigh},
		{1, 0.9, ProbabilitySevere},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ProbabilityRisk(tt.max, tt.avg), "max %v avg %v", tt.max, tt.avg)
	}
}
