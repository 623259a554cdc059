// Package measurement defines the hourly space-weather record and the
// read-only store interface the evaluation engine consumes.
//
// Upstream feeds mark missing data with out-of-range placeholders. Those
// sentinel values must be filtered before any statistic is computed; the
// Valid* helpers encode the cutoffs.
package measurement

import (
	"context"
	"sort"
	"time"
)

const (
	// MaxKp is the largest physical activity index. Anything above is a sentinel.
	MaxKp = 9.0

	// BzSentinel bounds the physical IMF Bz magnitude in nT.
	BzSentinel = 900.0

	// TecFill and above marks a missing TEC value.
	TecFill = 999.0

	// SpeedFill and above marks a missing solar wind speed.
	SpeedFill = 9999.0

	// DefaultSolarWindSpeed replaces a missing speed when a feature needs one.
	DefaultSolarWindSpeed = 400.0
)

// Measurement is one hourly sample. Optional fields are nil when the feed
// did not provide them; StormProbability and RiskLevel are ground truth.
type Measurement struct {
	Timestamp time.Time `json:"timestamp"`

	Kp  float64 `json:"kp_index"`
	Dst float64 `json:"dst_index"`

	SolarWindSpeed       float64  `json:"solar_wind_speed"`
	SolarWindDensity     float64  `json:"solar_wind_density"`
	SolarWindTemperature *float64 `json:"solar_wind_temperature,omitempty"`

	ImfBz float64 `json:"imf_bz"`
	F107  float64 `json:"f107_flux"`

	TecMean float64  `json:"tec_mean"`
	TecStd  float64  `json:"tec_std"`
	TecMax  *float64 `json:"tec_max,omitempty"`
	TecMin  *float64 `json:"tec_min,omitempty"`

	StormProbability *float64 `json:"storm_probability,omitempty"`
	RiskLevel        *int     `json:"risk_level,omitempty"`
}

// ValidKp reports whether the activity index is a physical value.
func (m Measurement) ValidKp() bool {
	return m.Kp >= 0 && m.Kp <= MaxKp
}

// ValidBz reports whether the IMF Bz component is a physical value.
func (m Measurement) ValidBz() bool {
	return m.ImfBz > -BzSentinel && m.ImfBz < BzSentinel
}

// ValidTec reports whether the TEC mean is a real observation.
func (m Measurement) ValidTec() bool {
	return m.TecMean < TecFill && m.TecMean >= 0
}

// HasGroundTruth reports whether a usable storm probability is attached.
func (m Measurement) HasGroundTruth() bool {
	return m.StormProbability != nil && *m.StormProbability >= 0 && *m.StormProbability <= 100
}

// Speed returns the solar wind speed, or the default when the feed marked it missing.
func (m Measurement) Speed() float64 {
	if m.SolarWindSpeed >= SpeedFill || m.SolarWindSpeed <= 0 {
		return DefaultSolarWindSpeed
	}
	return m.SolarWindSpeed
}

// Store is the read interface over historical records.
// Implementations return rows in ascending timestamp order.
type Store interface {
	// Read returns all measurements with start <= timestamp <= end.
	Read(ctx context.Context, start, end time.Time) ([]Measurement, error)

	// ReadLatest returns the n most recent measurements, oldest first.
	ReadLatest(ctx context.Context, n int) ([]Measurement, error)
}

// Filter returns the measurements for which keep returns true.
func Filter(ms []Measurement, keep func(Measurement) bool) []Measurement {
	out := make([]Measurement, 0, len(ms))
	for _, m := range ms {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}

// SortByTime orders measurements ascending in place.
func SortByTime(ms []Measurement) {
	sort.SliceStable(ms, func(i, j int) bool {
		return ms[i].Timestamp.Before(ms[j].Timestamp)
	})
}

// Float returns a pointer to v, for building optional fields.
func Float(v float64) *float64 {
	return &v
}

// Int returns a pointer to v.
func Int(v int) *int {
	return &v
}
