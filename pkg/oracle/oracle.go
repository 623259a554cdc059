// Package oracle defines the forecast capability the evaluation engine
// consumes, plus two implementations: a local trend extrapolator and a
// client for an externally hosted model.
//
// Every oracle receives a Window of exactly WindowSize hourly measurements
// and returns a ForecastResult. Oracles must be deterministic for identical
// input; threshold optimisation scores folds independently and relies on it.
package oracle

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/HatiCode/stormcast/pkg/measurement"
	"github.com/HatiCode/stormcast/pkg/stormerr"
)

// WindowSize is the number of hourly rows an oracle consumes.
const WindowSize = 24

// Oracle produces a storm forecast from a lookback window.
type Oracle interface {
	Name() string
	Predict(ctx context.Context, w Window) (ForecastResult, error)
}

// ForecastResult is the output of one oracle call. Probabilities are in [0,1].
type ForecastResult struct {
	Probability24h float64   `json:"storm_probability_24h"`
	Probability48h float64   `json:"storm_probability_48h"`
	Hourly         []float64 `json:"hourly_probabilities"`
	ValueForecast  []float64 `json:"tec_forecast_24h"`
	Uncertainty    float64   `json:"uncertainty"`
	Version        string    `json:"model_version"`
}

// Validate checks probability ranges and series lengths.
func (r ForecastResult) Validate() error {
	if !unit(r.Probability24h) || !unit(r.Probability48h) {
		return fmt.Errorf("probabilities out of range: 24h=%v 48h=%v", r.Probability24h, r.Probability48h)
	}
	if !unit(r.Uncertainty) {
		return fmt.Errorf("uncertainty out of range: %v", r.Uncertainty)
	}
	if len(r.Hourly) != WindowSize {
		return fmt.Errorf("expected %d hourly probabilities, got %d", WindowSize, len(r.Hourly))
	}
	if len(r.ValueForecast) != WindowSize {
		return fmt.Errorf("expected %d value forecasts, got %d", WindowSize, len(r.ValueForecast))
	}
	for i, p := range r.Hourly {
		if !unit(p) {
			return fmt.Errorf("hourly probability %d out of range: %v", i, p)
		}
	}
	for i, v := range r.ValueForecast {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("value forecast %d is not finite", i)
		}
	}
	return nil
}

func unit(v float64) bool {
	return v >= 0 && v <= 1
}

// Window is an ascending run of exactly WindowSize measurements.
type Window struct {
	rows []measurement.Measurement
}

// NewWindow copies ms into a window. It fails unless len(ms) == WindowSize
// and timestamps strictly increase.
func NewWindow(ms []measurement.Measurement) (Window, error) {
	if len(ms) != WindowSize {
		return Window{}, errWindowSize(len(ms))
	}
	for i := 1; i < len(ms); i++ {
		if !ms[i].Timestamp.After(ms[i-1].Timestamp) {
			return Window{}, stormerr.Invalid("window rows not ascending at %d", i)
		}
	}
	rows := make([]measurement.Measurement, len(ms))
	copy(rows, ms)
	return Window{rows: rows}, nil
}

func errWindowSize(n int) error {
	return stormerr.Invalid("window needs %d rows, got %d", WindowSize, n)
}

// Rows returns a copy of the window contents.
func (w Window) Rows() []measurement.Measurement {
	out := make([]measurement.Measurement, len(w.rows))
	copy(out, w.rows)
	return out
}

// Last returns the most recent measurement.
func (w Window) Last() measurement.Measurement {
	if len(w.rows) == 0 {
		return measurement.Measurement{}
	}
	return w.rows[len(w.rows)-1]
}

// End is the timestamp of the most recent row.
func (w Window) End() time.Time {
	return w.Last().Timestamp
}

// Len is WindowSize for any window built with NewWindow.
func (w Window) Len() int { return len(w.rows) }

// Feature layout v1.
const (
	FeatureVersionV1 = "v1"
	FeatureCount     = 8
)

var (
	featureMeansV1 = [FeatureCount]float64{20, 5, 3, 400, 0, 100, 0, 0}
	featureStdsV1  = [FeatureCount]float64{15, 3, 2, 100, 5, 50, 1, 1}
)

// FeaturesV1 returns the z-normalised feature matrix, one row per hour:
// tec_mean, tec_std, kp, solar wind speed, bz, f10.7, sin(hour), sin(day of year).
// Fill values are replaced by the feature mean and normalise to zero.
func (w Window) FeaturesV1() [][]float64 {
	out := make([][]float64, len(w.rows))
	for i, m := range w.rows {
		raw := rawFeaturesV1(m)
		row := make([]float64, FeatureCount)
		for j := range raw {
			row[j] = (raw[j] - featureMeansV1[j]) / (featureStdsV1[j] + 1e-8)
		}
		out[i] = row
	}
	return out
}

func rawFeaturesV1(m measurement.Measurement) [FeatureCount]float64 {
	f := featureMeansV1

	if m.ValidTec() {
		f[0] = m.TecMean
		f[1] = m.TecStd
	}
	if m.ValidKp() {
		f[2] = m.Kp
	}
	f[3] = m.Speed()
	if m.ValidBz() {
		f[4] = m.ImfBz
	}
	if m.F107 > 0 {
		f[5] = m.F107
	}

	ts := m.Timestamp.UTC()
	f[6] = math.Sin(2 * math.Pi * float64(ts.Hour()) / 24)
	f[7] = math.Sin(2 * math.Pi * float64(ts.YearDay()) / 365)
	return f
}
