package backtest

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HatiCode/stormcast/pkg/measurement"
	"github.com/HatiCode/stormcast/pkg/stormerr"
)

func at(t time.Time, prob *float64) measurement.Measurement {
	return measurement.Measurement{Timestamp: t, Kp: 2, StormProbability: prob}
}

func TestParseMatchPolicy(t *testing.T) {
	p, err := ParseMatchPolicy("")
	require.NoError(t, err)
	assert.Equal(t, MatchNearest, p)

	p, err = ParseMatchPolicy("Interpolate")
	require.NoError(t, err)
	assert.Equal(t, MatchInterpolate, p)

	_, err = ParseMatchPolicy("closest")
	assert.True(t, errors.Is(err, stormerr.ErrInvalidParams))
}

func TestNearest_ToleranceIsExclusive(t *testing.T) {
	target := hour(10)
	rows := []measurement.Measurement{
		at(target.Add(-2*time.Hour), measurement.Float(10)),
		at(target.Add(2*time.Hour), measurement.Float(20)),
	}

	_, ok := nearest(rows, target, 2*time.Hour)
	assert.False(t, ok, "a row exactly at the tolerance does not match")

	m, ok := nearest(rows, target, 2*time.Hour+time.Minute)
	require.True(t, ok)
	assert.Equal(t, rows[0].Timestamp, m.Timestamp, "earlier row wins ties")
}

func TestNearest_PicksClosest(t *testing.T) {
	target := hour(10)
	rows := []measurement.Measurement{
		at(target.Add(-90*time.Minute), measurement.Float(1)),
		at(target.Add(20*time.Minute), measurement.Float(2)),
		at(target.Add(50*time.Minute), measurement.Float(3)),
	}
	m, ok := nearest(rows, target, 2*time.Hour)
	require.True(t, ok)
	assert.Equal(t, 2.0, *m.StormProbability)

	_, ok = nearest(nil, target, time.Hour)
	assert.False(t, ok)
}

func TestMatchOutcome(t *testing.T) {
	target := hour(10)
	rows := []measurement.Measurement{
		at(hour(8), measurement.Float(20)),
		at(hour(9), measurement.Float(40)),
		at(hour(10), nil),
		at(hour(11), measurement.Float(80)),
		at(hour(12), measurement.Float(-1)),
	}

	tests := []struct {
		name         string
		target       time.Time
		tol          time.Duration
		policy       MatchPolicy
		ok           bool
		value        float64
		interpolated bool
	}{
		{"nearest without ground truth drops", target, 2 * time.Hour, MatchNearest, false, 0, false},
		{"nearest exact", hour(9), 2 * time.Hour, MatchNearest, true, 40, false},
		{"interpolate bracket", target, 2 * time.Hour, MatchInterpolate, true, 60, true},
		{"interpolate exact", hour(11), 2 * time.Hour, MatchInterpolate, true, 80, false},
		{"interpolate falls back to nearest", hour(8).Add(10 * time.Minute), 30 * time.Minute, MatchInterpolate, true, 20, false},
		{"out of range probability is not ground truth", hour(12), 30 * time.Minute, MatchNearest, false, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := matchOutcome(rows, tt.target, tt.tol, tt.policy)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.InDelta(t, tt.value, m.value, 1e-9)
			assert.Equal(t, tt.interpolated, m.interpolated)
		})
	}
}

func TestWindowAt(t *testing.T) {
	rows := hourlyRows(0, 60, nil)

	w, ok := windowAt(rows, hour(40), 24*time.Hour)
	require.True(t, ok)
	assert.Equal(t, hour(40), w.End())
	assert.Equal(t, hour(17), w.Rows()[0].Timestamp)

	_, ok = windowAt(rows, hour(10), 24*time.Hour)
	assert.False(t, ok)
}
