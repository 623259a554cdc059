package backtest

import (
	"sort"
	"strings"
	"time"

	"github.com/HatiCode/stormcast/pkg/measurement"
	"github.com/HatiCode/stormcast/pkg/stormerr"
)

// MatchPolicy decides how a tick's target time is paired with an outcome.
type MatchPolicy string

const (
	// MatchNearest takes the row closest to the target within tolerance and
	// drops the tick when that row has no ground truth.
	MatchNearest MatchPolicy = "nearest"

	// MatchInterpolate interpolates ground truth linearly between the rows
	// bracketing the target when both lie within tolerance, and falls back
	// to MatchNearest otherwise.
	MatchInterpolate MatchPolicy = "interpolate"
)

// ParseMatchPolicy accepts nearest or interpolate. Empty means nearest.
func ParseMatchPolicy(s string) (MatchPolicy, error) {
	switch p := MatchPolicy(strings.ToLower(s)); p {
	case "":
		return MatchNearest, nil
	case MatchNearest, MatchInterpolate:
		return p, nil
	default:
		return "", stormerr.Invalid("unknown match policy %q (must be nearest or interpolate)", s)
	}
}

// match is a paired outcome.
type match struct {
	value        float64
	at           time.Time
	interpolated bool
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// nearest returns the row minimising |ts-target| with distance strictly
// below tol; the earlier row wins ties. rows must be ascending.
func nearest(rows []measurement.Measurement, target time.Time, tol time.Duration) (measurement.Measurement, bool) {
	lo := target.Add(-tol)
	i := sort.Search(len(rows), func(i int) bool { return rows[i].Timestamp.After(lo) })

	var best measurement.Measurement
	bestDist := time.Duration(-1)
	for ; i < len(rows); i++ {
		d := absDuration(rows[i].Timestamp.Sub(target))
		if d >= tol {
			break
		}
		if bestDist < 0 || d < bestDist {
			best, bestDist = rows[i], d
		}
	}
	return best, bestDist >= 0
}

// bracket returns the last ground-truth row at or before target and the
// first at or after it, each within tol.
func bracket(rows []measurement.Measurement, target time.Time, tol time.Duration) (before, after *measurement.Measurement) {
	i := sort.Search(len(rows), func(i int) bool { return !rows[i].Timestamp.Before(target) })

	for j := i - 1; j >= 0; j-- {
		if target.Sub(rows[j].Timestamp) >= tol {
			break
		}
		if rows[j].HasGroundTruth() {
			before = &rows[j]
			break
		}
	}
	for j := i; j < len(rows); j++ {
		if rows[j].Timestamp.Sub(target) >= tol {
			break
		}
		if rows[j].HasGroundTruth() {
			after = &rows[j]
			break
		}
	}
	return before, after
}

// matchOutcome pairs target with a ground-truth value under policy.
func matchOutcome(rows []measurement.Measurement, target time.Time, tol time.Duration, policy MatchPolicy) (match, bool) {
	if policy == MatchInterpolate {
		before, after := bracket(rows, target, tol)
		switch {
		case after != nil && after.Timestamp.Equal(target):
			return match{value: *after.StormProbability, at: target}, true
		case before != nil && after != nil:
			span := after.Timestamp.Sub(before.Timestamp).Seconds()
			frac := target.Sub(before.Timestamp).Seconds() / span
			v := *before.StormProbability + frac*(*after.StormProbability-*before.StormProbability)
			return match{value: v, at: target, interpolated: true}, true
		}
	}

	m, ok := nearest(rows, target, tol)
	if !ok || !m.HasGroundTruth() {
		return match{}, false
	}
	return match{value: *m.StormProbability, at: m.Timestamp}, true
}
