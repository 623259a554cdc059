package events

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HatiCode/stormcast/pkg/measurement"
	"github.com/HatiCode/stormcast/pkg/stormerr"
)

var t0 = time.Date(2024, 5, 10, 6, 0, 0, 0, time.UTC)

func series(kp ...float64) []measurement.Measurement {
	ms := make([]measurement.Measurement, len(kp))
	for i, v := range kp {
		ms[i] = measurement.Measurement{
			Timestamp: t0.Add(time.Duration(i) * time.Hour),
			Kp:        v,
			TecMean:   10 + v,
		}
	}
	return ms
}

func TestDetect_SingleEvent(t *testing.T) {
	ms := series(3, 3, 6, 7, 8, 6, 3)
	d := Detector{Threshold: 5, MinDuration: 2}

	got, err := d.Detect(ms)
	require.NoError(t, err)
	require.Len(t, got, 1)

	e := got[0]
	assert.Equal(t, ms[2].Timestamp, e.Start)
	assert.Equal(t, ms[5].Timestamp, e.End)
	assert.Equal(t, 4, e.DurationHours)
	assert.Equal(t, 8.0, e.PeakValue)
	assert.Equal(t, ms[4].Timestamp, e.PeakTime)
	assert.InDelta(t, 6.75, e.MeanValue, 1e-9)
	assert.Equal(t, "storm_20240510_0800", e.ID)
	assert.Equal(t, "G4", e.GScale)
	assert.Equal(t, 4, e.Tier)
	assert.Equal(t, 18.0, e.MaxTec)
}

func TestDetect_ShortExcursionsDiscarded(t *testing.T) {
	got, err := Detector{Threshold: 5, MinDuration: 2}.Detect(series(3, 6, 3, 6, 3))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDetect_DipsNeverMerge(t *testing.T) {
	got, err := Detector{Threshold: 5, MinDuration: 2}.Detect(series(6, 6, 4, 6, 6))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 2, got[0].DurationHours)
	assert.Equal(t, 2, got[1].DurationHours)
}

func TestDetect_OpenRunAtEnd(t *testing.T) {
	tests := []struct {
		name string
		kp   []float64
		want int
	}{
		{"long enough", []float64{2, 5, 6, 7}, 1},
		{"too short", []float64{2, 2, 2, 7}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Detector{Threshold: 5, MinDuration: 2}.Detect(series(tt.kp...))
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestDetect_PeakFirstOccurrence(t *testing.T) {
	ms := series(6, 8, 7, 8, 6)
	got, err := Detector{Threshold: 5, MinDuration: 1}.Detect(ms)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ms[1].Timestamp, got[0].PeakTime)
}

func TestDetect_SentinelsSkipped(t *testing.T) {
	// The sentinel neither breaks the run nor counts toward its length.
	ms := series(6, 99, 7, -1, 6, 3)
	got, err := Detector{Threshold: 5, MinDuration: 3}.Detect(ms)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].DurationHours)
	assert.Equal(t, 7.0, got[0].PeakValue)

	// Sentinels alone never open a run.
	got, err = Detector{Threshold: 5, MinDuration: 1}.Detect(series(99, 99, 3))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDetect_ProbabilitySignal(t *testing.T) {
	ms := series(4, 5, 6, 6, 4)
	probs := []*float64{measurement.Float(10), measurement.Float(55), nil, measurement.Float(70), measurement.Float(20)}
	for i := range ms {
		ms[i].StormProbability = probs[i]
	}

	got, err := Detector{Threshold: 50, MinDuration: 2, Signal: SignalProbability}.Detect(ms)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].DurationHours, "row without ground truth is skipped")
	assert.Equal(t, 70.0, got[0].PeakValue)
	assert.Equal(t, 6.0, got[0].PeakKp)
	assert.Equal(t, "G2", got[0].GScale)
	assert.Equal(t, "probability", got[0].Signal)
}

func TestDetect_Deterministic(t *testing.T) {
	ms := series(1, 5, 6, 9, 9, 5, 2, 5, 5, 5)
	d := Detector{Threshold: 5, MinDuration: 2}

	a, err := d.Detect(ms)
	require.NoError(t, err)
	b, err := d.Detect(ms)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDetect_InvalidParams(t *testing.T) {
	tests := []Detector{
		{Threshold: -1, MinDuration: 1},
		{Threshold: 5, MinDuration: 0},
	}
	for _, d := range tests {
		_, err := d.Detect(series(6, 6))
		assert.ErrorIs(t, err, stormerr.ErrInvalidParams)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		kp   float64
		want string
		tier int
	}{
		{9, "G5", 5},
		{8.3, "G4", 4},
		{7, "G3", 3},
		{6.7, "G2", 2},
		{5, "G1", 1},
		{4.99, "G0", 0},
	}
	for _, tt := range tests {
		s := Classify(tt.kp)
		assert.Equal(t, tt.want, s.GScale, "kp %v", tt.kp)
		assert.Equal(t, tt.tier, s.Tier, "kp %v", tt.kp)
	}
}

func TestParseSignal(t *testing.T) {
	s, err := ParseSignal("")
	require.NoError(t, err)
	assert.Equal(t, SignalKp, s)

	s, err = ParseSignal("Probability")
	require.NoError(t, err)
	assert.Equal(t, SignalProbability, s)

	_, err = ParseSignal("dst")
	assert.ErrorIs(t, err, stormerr.ErrInvalidParams)
}

func newTestService(ms []measurement.Measurement, now time.Time) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(measurement.NewMemoryStore(ms...), clockwork.NewFakeClockAt(now), logger)
}

func TestService_DetectStorms(t *testing.T) {
	svc := newTestService(series(3, 3, 6, 7, 8, 6, 3), t0.Add(24*time.Hour))

	got, err := svc.DetectStorms(context.Background(), t0, t0.Add(6*time.Hour), 5, 2)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = svc.DetectStorms(context.Background(), t0, t0, 5, 2)
	assert.ErrorIs(t, err, stormerr.ErrRunFailed)
	assert.ErrorIs(t, err, stormerr.ErrInvalidParams)
}

func TestService_RecentCatalog(t *testing.T) {
	ms := series(6, 6, 6, 2, 8, 8, 8, 8, 2, 9, 9, 9, 2)
	svc := newTestService(ms, t0.Add(13*time.Hour))

	c, err := svc.RecentCatalog(context.Background(), 2, 5)
	require.NoError(t, err)

	assert.Equal(t, 3, c.StormCount)
	assert.Equal(t, map[string]int{"G2": 1, "G4": 1, "G5": 1}, c.SeverityDistribution)
	assert.Equal(t, 10, c.TotalStormHours)
	assert.InDelta(t, 10.0/3, c.AverageDurationHours, 1e-9)
	require.NotNil(t, c.Strongest)
	assert.Equal(t, 9.0, c.Strongest.PeakKp)
	require.NotNil(t, c.Longest)
	assert.Equal(t, 4, c.Longest.DurationHours)
	assert.Equal(t, 2, c.Days)
}

func TestNewCatalog_Empty(t *testing.T) {
	c := NewCatalog(t0, t0.Add(48*time.Hour), nil)
	assert.Equal(t, 0, c.StormCount)
	assert.Nil(t, c.Strongest)
	assert.NotNil(t, c.Storms)
	assert.Zero(t, c.AverageDurationHours)
}
