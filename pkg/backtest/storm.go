package backtest

import (
	"context"
	"math"
	"time"

	"github.com/HatiCode/stormcast/pkg/events"
	"github.com/HatiCode/stormcast/pkg/scoring"
)

// Storm analysis defaults.
const (
	DefaultStormLead   = 24 * time.Hour
	DefaultStormStride = 3 * time.Hour

	peakWindow = 2 * time.Hour
)

// StormOptions configures per-storm analysis. Zero values take the
// defaults.
type StormOptions struct {
	Lead      time.Duration
	Stride    time.Duration
	Threshold float64
	Workers   int
}

func (o StormOptions) withDefaults() StormOptions {
	if o.Lead <= 0 {
		o.Lead = DefaultStormLead
	}
	if o.Stride <= 0 {
		o.Stride = DefaultStormStride
	}
	if o.Threshold == 0 {
		o.Threshold = DefaultThreshold
	}
	return o
}

// Performance is how well the oracle anticipated one storm. Pointer fields
// are nil when the quantity is undefined.
type Performance struct {
	Detected       bool       `json:"storm_detected"`
	FirstDetection *time.Time `json:"first_detection_time"`
	LeadHours      *float64   `json:"detection_lead_hours"`
	StormRMSE      *float64   `json:"storm_rmse"`
	StormMAE       *float64   `json:"storm_mae"`
	DetectionRate  float64    `json:"detection_rate"`
	PeakAccuracy   *float64   `json:"peak_prediction_accuracy"`
}

// StormAnalysis is the per-storm report. Error is set, and the other
// report fields are empty, when the backtest for the storm failed.
type StormAnalysis struct {
	StormID        string            `json:"storm_id"`
	Storm          events.StormEvent `json:"storm_info"`
	Performance    *Performance      `json:"model_performance"`
	Predictions    []Sample          `json:"predictions,omitempty"`
	OverallMetrics *scoring.Metrics  `json:"overall_metrics,omitempty"`
	Summary        *Summary          `json:"summary,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// AnalyzeStorm backtests the oracle over [storm start - lead, storm end].
// Backtest failures are reported in the result, never returned, so one bad
// storm cannot abort a catalog; only context cancellation is returned.
func (r *Runner) AnalyzeStorm(ctx context.Context, e events.StormEvent, opts StormOptions) (StormAnalysis, error) {
	opts = opts.withDefaults()
	out := StormAnalysis{StormID: e.ID, Storm: e}

	p := NewParams(e.Start.Add(-opts.Lead), e.End)
	p.Stride = opts.Stride
	p.Threshold = opts.Threshold
	p.Workers = opts.Workers

	res, err := r.Run(ctx, p)
	if err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		r.logger.Error("storm analysis failed", "storm_id", e.ID, "error", err)
		out.Error = err.Error()
		return out, nil
	}

	perf := stormPerformance(res.Predictions, e)
	out.Performance = &perf
	out.Predictions = res.Predictions
	out.OverallMetrics = &res.Metrics
	out.Summary = &res.Summary
	return out, nil
}

func stormPerformance(samples []Sample, e events.StormEvent) Performance {
	var perf Performance

	var during []Sample
	for _, s := range samples {
		if s.TargetAt.Before(e.Start) || s.TargetAt.After(e.End) {
			continue
		}
		during = append(during, s)
		if s.PredictedStorm && !perf.Detected {
			perf.Detected = true
			issued := s.IssuedAt
			lead := math.Round(e.Start.Sub(issued).Hours()*10) / 10
			perf.FirstDetection = &issued
			perf.LeadHours = &lead
		}
	}

	if len(during) > 0 {
		var sq, abs float64
		var hits int
		for _, s := range during {
			sq += s.Error * s.Error
			abs += s.AbsError
			if s.PredictedStorm {
				hits++
			}
		}
		n := float64(len(during))
		rmse := round2(math.Sqrt(sq / n))
		mae := round2(abs / n)
		perf.StormRMSE = &rmse
		perf.StormMAE = &mae
		perf.DetectionRate = math.Round(float64(hits)/n*1000) / 10
	}

	peak := math.Inf(-1)
	for _, s := range samples {
		if absDuration(s.TargetAt.Sub(e.PeakTime)) < peakWindow && s.Predicted > peak {
			peak = s.Predicted
		}
	}
	if !math.IsInf(peak, -1) {
		acc := round2(math.Abs(peak - e.PeakKp*10))
		perf.PeakAccuracy = &acc
	}
	return perf
}

// CatalogReport is a storm catalog with optional per-storm analysis.
type CatalogReport struct {
	events.Catalog
	Analyses []StormAnalysis `json:"analyses,omitempty"`
	Oracle   string          `json:"model_version"`
}

// StormCatalog analyses every storm in c in order.
func (r *Runner) StormCatalog(ctx context.Context, c events.Catalog, opts StormOptions) (CatalogReport, error) {
	report := CatalogReport{Catalog: c, Oracle: r.oracle.Name(), Analyses: make([]StormAnalysis, 0, len(c.Storms))}
	for _, e := range c.Storms {
		r.logger.Info("analyzing storm", "storm_id", e.ID)
		a, err := r.AnalyzeStorm(ctx, e, opts)
		if err != nil {
			return CatalogReport{}, err
		}
		report.Analyses = append(report.Analyses, a)
	}
	return report, nil
}
