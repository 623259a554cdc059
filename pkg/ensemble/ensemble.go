// Package ensemble blends the climatological TEC forecast with an oracle
// forecast hour by hour.
//
// The blend never fails because the oracle did: without an oracle result
// the output is pure climatology, tagged as degraded so consumers can tell
// it apart from a full-confidence forecast.
package ensemble

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/HatiCode/stormcast/pkg/oracle"
	"github.com/HatiCode/stormcast/pkg/regional"
	"github.com/HatiCode/stormcast/pkg/stormerr"
)

// Default weights.
const (
	DefaultClimatologyWeight = 0.7
	DefaultOracleWeight      = 0.3

	weightTolerance = 1e-9
)

// Provenance values.
const (
	ProvenanceEnsemble        = "ensemble"
	ProvenanceClimatologyOnly = "climatology-only"
)

// ClimatologySource answers climatology lookups for a region.
type ClimatologySource interface {
	Get(region string, date time.Time, kp float64) (float64, error)
}

// Stats summarise the blended series.
type Stats struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// Weights are the blend weights.
type Weights struct {
	Climatology float64 `json:"climatology"`
	Oracle      float64 `json:"oracle"`
}

// Forecast is a blended 24-hour forecast.
type Forecast struct {
	IssuedAt           time.Time                 `json:"timestamp"`
	Probability24h     float64                   `json:"storm_probability_24h"`
	Probability48h     float64                   `json:"storm_probability_48h"`
	Hourly             []float64                 `json:"hourly_probabilities"`
	ValueForecast      []float64                 `json:"tec_forecast_24h"`
	Climatology        []float64                 `json:"climatology_forecast"`
	OracleForecast     []float64                 `json:"oracle_forecast,omitempty"`
	Uncertainty24h     float64                   `json:"uncertainty_24h"`
	Uncertainty48h     float64                   `json:"uncertainty_48h"`
	Confidence24h      float64                   `json:"confidence_24h"`
	Confidence48h      float64                   `json:"confidence_48h"`
	RiskLevel24h       regional.ProbabilityLevel `json:"risk_level_24h"`
	RiskLevel48h       regional.ProbabilityLevel `json:"risk_level_48h"`
	MaxProbability     float64                   `json:"max_probability"`
	AverageProbability float64                   `json:"average_probability"`
	Version            string                    `json:"model_version"`
	Method             string                    `json:"ensemble_method"`
	Stats              Stats                     `json:"ensemble_stats"`
	Weights            Weights                   `json:"weights"`
	Provenance         string                    `json:"provenance"`
	Degraded           bool                      `json:"degraded"`
	OracleError        string                    `json:"oracle_error,omitempty"`
}

// Blender combines a climatology source with an oracle.
type Blender struct {
	weights Weights
	source  ClimatologySource
	oracle  oracle.Oracle
	region  string
	logger  *slog.Logger
}

// Option configures a Blender.
type Option func(*Blender)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Blender) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithRegion selects the climatology region (default global).
func WithRegion(code string) Option {
	return func(b *Blender) { b.region = code }
}

// NewBlender validates the weights: each in [0,1] and summing to 1.
func NewBlender(climatologyWeight, oracleWeight float64, source ClimatologySource, o oracle.Oracle, opts ...Option) (*Blender, error) {
	if climatologyWeight < 0 || climatologyWeight > 1 || oracleWeight < 0 || oracleWeight > 1 {
		return nil, stormerr.Invalid("weights must be in [0,1], got %v and %v", climatologyWeight, oracleWeight)
	}
	if math.Abs(climatologyWeight+oracleWeight-1) > weightTolerance {
		return nil, stormerr.Invalid("weights must sum to 1.0, got %v", climatologyWeight+oracleWeight)
	}
	if source == nil {
		return nil, stormerr.Invalid("climatology source is required")
	}
	b := &Blender{
		weights: Weights{Climatology: climatologyWeight, Oracle: oracleWeight},
		source:  source,
		oracle:  o,
		region:  regional.Global,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Weights returns the blend weights.
func (b *Blender) Weights() Weights { return b.weights }

// Blend forecasts the 24 hours after the window's last row.
func (b *Blender) Blend(ctx context.Context, w oracle.Window) (Forecast, error) {
	if w.Len() != oracle.WindowSize {
		return Forecast{}, stormerr.Invalid("window has %d rows, need %d", w.Len(), oracle.WindowSize)
	}

	last := w.Last()
	kp := last.Kp
	if !last.ValidKp() {
		kp = 3
	}

	clim := make([]float64, oracle.WindowSize)
	for h := range clim {
		v, err := b.source.Get(b.region, last.Timestamp.Add(time.Duration(h+1)*time.Hour), kp)
		if err != nil {
			return Forecast{}, fmt.Errorf("climatology lookup: %w", err)
		}
		clim[h] = v
	}

	if b.oracle == nil {
		return b.climatologyOnly(w.End(), clim, fmt.Errorf("no oracle configured")), nil
	}

	res, err := b.oracle.Predict(ctx, w)
	if err == nil {
		err = res.Validate()
	}
	if err != nil {
		oerr := &stormerr.OracleError{Tick: w.End(), Err: err}
		b.logger.Warn("oracle unavailable, using climatology only", "error", oerr)
		return b.climatologyOnly(w.End(), clim, oerr), nil
	}

	blended := make([]float64, len(clim))
	for i := range clim {
		blended[i] = round2(b.weights.Climatology*clim[i] + b.weights.Oracle*res.ValueForecast[i])
	}

	maxP, avgP := maxMean(res.Hourly)
	return Forecast{
		IssuedAt:           w.End(),
		Probability24h:     res.Probability24h,
		Probability48h:     res.Probability48h,
		Hourly:             append([]float64(nil), res.Hourly...),
		ValueForecast:      blended,
		Climatology:        roundAll(clim),
		OracleForecast:     roundAll(res.ValueForecast),
		Uncertainty24h:     res.Uncertainty,
		Uncertainty48h:     res.Uncertainty,
		Confidence24h:      1 - res.Uncertainty,
		Confidence48h:      1 - res.Uncertainty,
		RiskLevel24h:       regional.ProbabilityRisk(maxP, avgP),
		RiskLevel48h:       regional.ProbabilityRisk(res.Probability48h, res.Probability48h),
		MaxProbability:     maxP,
		AverageProbability: avgP,
		Version:            res.Version,
		Method: fmt.Sprintf("Climatology (%.0f%%) + %s (%.0f%%)",
			b.weights.Climatology*100, b.oracle.Name(), b.weights.Oracle*100),
		Stats:      stats(blended),
		Weights:    b.weights,
		Provenance: ProvenanceEnsemble,
	}, nil
}

func (b *Blender) climatologyOnly(issued time.Time, clim []float64, cause error) Forecast {
	values := roundAll(clim)
	return Forecast{
		IssuedAt:       issued,
		Hourly:         make([]float64, oracle.WindowSize),
		ValueForecast:  values,
		Climatology:    values,
		Uncertainty24h: 0.5,
		Uncertainty48h: 0.6,
		Confidence24h:  0.5,
		Confidence48h:  0.4,
		RiskLevel24h:   regional.ProbabilityLow,
		RiskLevel48h:   regional.ProbabilityLow,
		Version:        "climatology-only",
		Method:         "Climatology (100%)",
		Stats:          stats(values),
		Weights:        b.weights,
		Provenance:     ProvenanceClimatologyOnly,
		Degraded:       true,
		OracleError:    cause.Error(),
	}
}

// stats uses the population standard deviation.
func stats(vs []float64) Stats {
	if len(vs) == 0 {
		return Stats{}
	}
	lo, hi := vs[0], vs[0]
	var sum float64
	for _, v := range vs {
		sum += v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	mean := sum / float64(len(vs))
	var ss float64
	for _, v := range vs {
		ss += (v - mean) * (v - mean)
	}
	return Stats{
		Mean: round2(mean),
		Std:  round2(math.Sqrt(ss / float64(len(vs)))),
		Min:  round2(lo),
		Max:  round2(hi),
	}
}

func maxMean(vs []float64) (float64, float64) {
	if len(vs) == 0 {
		return 0, 0
	}
	hi, sum := vs[0], 0.0
	for _, v := range vs {
		hi = math.Max(hi, v)
		sum += v
	}
	return hi, sum / float64(len(vs))
}

func roundAll(vs []float64) []float64 {
	out := make([]float64, len(vs))
	for i, v := range vs {
		out[i] = round2(v)
	}
	return out
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
