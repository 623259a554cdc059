package backtest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/HatiCode/stormcast/pkg/climatology"
	"github.com/HatiCode/stormcast/pkg/measurement"
	"github.com/HatiCode/stormcast/pkg/oracle"
	"github.com/HatiCode/stormcast/pkg/regional"
	"github.com/HatiCode/stormcast/pkg/stormerr"
)

// Approach names.
const (
	ApproachClimatologyPrimary = "Climatology-Primary"
	ApproachOracleEnhanced     = "Oracle-Enhanced"
)

// DefaultRegionalInterval is the spacing of regional comparison points.
const DefaultRegionalInterval = 6 * time.Hour

const (
	regionalLookback = 48 * time.Hour
	sampledRegional  = 10
)

// RegionalParams configures CompareRegional.
type RegionalParams struct {
	Start    time.Time
	End      time.Time
	Interval time.Duration
}

// ApproachStats is the error profile of one approach in one region.
type ApproachStats struct {
	Region      string    `json:"region"`
	SampleCount int       `json:"sample_count"`
	MAE         float64   `json:"mae"`
	RMSE        float64   `json:"rmse"`
	MedianError float64   `json:"median_error"`
	MaxError    float64   `json:"max_error"`
	Predictions []float64 `json:"predictions"`
}

// RegionVerdict compares the two approaches in one region. Positive
// improvements favour the oracle-enhanced approach.
type RegionVerdict struct {
	Region          string  `json:"region"`
	MAEImprovement  float64 `json:"mae_improvement"`
	RMSEImprovement float64 `json:"rmse_improvement"`
	Winner          string  `json:"winner"`
	Confidence      string  `json:"confidence"`
}

// Period is the compared interval.
type Period struct {
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	TotalHours float64   `json:"total_hours"`
}

// Approaches holds per-region stats for both approaches.
type Approaches struct {
	ClimatologyPrimary map[string]ApproachStats `json:"climatology_primary"`
	OracleEnhanced     map[string]ApproachStats `json:"oracle_enhanced"`
}

// OverallVerdict is the cross-region decision.
type OverallVerdict struct {
	Approach         string  `json:"approach"`
	TotalImprovement float64 `json:"total_improvement"`
	Recommendation   string  `json:"recommendation"`
}

// RegionalComparison is the report of CompareRegional.
type RegionalComparison struct {
	Period       Period                   `json:"period"`
	Oracle       string                   `json:"oracle"`
	Points       int                      `json:"points"`
	OracleErrors int                      `json:"oracle_errors"`
	Approaches   Approaches               `json:"approaches"`
	Comparison   map[string]RegionVerdict `json:"comparison"`
	Overall      OverallVerdict           `json:"overall_winner"`
}

// point is one comparison time shared by every region.
type point struct {
	at        time.Time
	actual    float64
	kp        float64
	globalTec float64
}

// CompareRegional compares, per region, the regional climatology alone
// (approach A) against the oracle's TEC forecast adjusted to the region and
// blended with climatology (approach B), both scored against observed TEC.
func (r *Runner) CompareRegional(ctx context.Context, clim *climatology.Service, p RegionalParams) (RegionalComparison, error) {
	if p.Interval == 0 {
		p.Interval = DefaultRegionalInterval
	}
	if !p.Start.Before(p.End) {
		return RegionalComparison{}, stormerr.InvalidRun("start %s must be before end %s",
			p.Start.UTC().Format(time.RFC3339), p.End.UTC().Format(time.RFC3339))
	}
	if p.Interval < 0 {
		return RegionalComparison{}, stormerr.InvalidRun("interval must be positive, got %s", p.Interval)
	}

	rows, err := r.store.Read(ctx, p.Start.Add(-regionalLookback), p.End)
	if err != nil {
		return RegionalComparison{}, fmt.Errorf("read measurements: %w", err)
	}
	if len(rows) < oracle.WindowSize {
		return RegionalComparison{}, &stormerr.DataInsufficientError{What: "hourly rows", Have: len(rows), Need: oracle.WindowSize}
	}

	points, oracleErrors, err := r.regionalPoints(ctx, rows, clim.GlobalMean(), p)
	if err != nil {
		return RegionalComparison{}, err
	}
	if len(points) == 0 {
		return RegionalComparison{}, stormerr.RunFailed("no regional comparison points generated")
	}

	rs := regional.All()
	statsA := make([]ApproachStats, len(rs))
	statsB := make([]ApproachStats, len(rs))

	var g errgroup.Group
	for i, reg := range rs {
		g.Go(func() error {
			statsA[i], statsB[i] = compareRegion(clim, reg, points)
			return nil
		})
	}
	_ = g.Wait()

	out := RegionalComparison{
		Period: Period{
			Start:      p.Start,
			End:        p.End,
			TotalHours: p.End.Sub(p.Start).Hours(),
		},
		Oracle:       r.oracle.Name(),
		Points:       len(points),
		OracleErrors: oracleErrors,
		Approaches: Approaches{
			ClimatologyPrimary: make(map[string]ApproachStats, len(rs)),
			OracleEnhanced:     make(map[string]ApproachStats, len(rs)),
		},
		Comparison: make(map[string]RegionVerdict, len(rs)),
	}

	var total float64
	var oracleWins, climWins int
	for i, reg := range rs {
		a, b := statsA[i], statsB[i]
		out.Approaches.ClimatologyPrimary[reg.Code] = a
		out.Approaches.OracleEnhanced[reg.Code] = b

		v := verdict(reg, a, b)
		out.Comparison[reg.Code] = v
		total += v.MAEImprovement + v.RMSEImprovement
		if v.Winner == ApproachOracleEnhanced {
			oracleWins++
		} else {
			climWins++
		}
	}

	out.Overall = OverallVerdict{
		Approach:         ApproachClimatologyPrimary,
		TotalImprovement: round3(total),
		Recommendation:   recommendation(oracleWins, climWins),
	}
	if total > 0 {
		out.Overall.Approach = ApproachOracleEnhanced
	}

	r.logger.Info("regional comparison complete",
		"points", len(points),
		"oracle_errors", oracleErrors,
		"winner", out.Overall.Approach,
	)
	return out, nil
}

// regionalPoints collects comparison times: rows observed exactly on the
// interval grid with valid TEC and a complete 24-hour history.
func (r *Runner) regionalPoints(ctx context.Context, rows []measurement.Measurement, globalMean float64, p RegionalParams) ([]point, int, error) {
	byTime := make(map[int64]measurement.Measurement, len(rows))
	for _, m := range rows {
		byTime[m.Timestamp.Unix()] = m
	}

	var points []point
	var oracleErrors int
	for t := p.Start; !t.After(p.End); t = t.Add(p.Interval) {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		m, ok := byTime[t.Unix()]
		if !ok || !m.ValidTec() {
			continue
		}

		hist := make([]measurement.Measurement, 0, oracle.WindowSize)
		for h := oracle.WindowSize; h > 0; h-- {
			hm, ok := byTime[t.Add(-time.Duration(h)*time.Hour).Unix()]
			if !ok {
				break
			}
			hm.Kp = clampKp(hm.Kp)
			if !hm.ValidTec() {
				hm.TecMean = globalMean
			}
			hist = append(hist, hm)
		}
		if len(hist) < oracle.WindowSize {
			r.logger.Debug("regional point skipped: incomplete history", "tick", t.UTC())
			continue
		}

		globalTec := regional.DefaultGlobalMean
		if tec, err := r.oracleTec(ctx, hist, t); err != nil {
			oracleErrors++
			r.logger.Warn("oracle failed, using default global TEC", "tick", t.UTC(), "error", err)
		} else {
			globalTec = tec
		}

		points = append(points, point{at: t, actual: m.TecMean, kp: clampKp(m.Kp), globalTec: globalTec})
	}
	return points, oracleErrors, nil
}

func (r *Runner) oracleTec(ctx context.Context, hist []measurement.Measurement, t time.Time) (float64, error) {
	w, err := oracle.NewWindow(hist)
	if err != nil {
		return 0, err
	}
	octx := ctx
	if r.oracleTimeout > 0 {
		var cancel context.CancelFunc
		octx, cancel = context.WithTimeout(ctx, r.oracleTimeout)
		defer cancel()
	}
	called := time.Now()
	fr, err := r.oracle.Predict(octx, w)
	r.recorder.RecordOracleLatency(time.Since(called))
	if err == nil {
		err = fr.Validate()
	}
	if err != nil {
		return 0, &stormerr.OracleError{Tick: t, Err: err}
	}
	return fr.ValueForecast[0], nil
}

func compareRegion(clim *climatology.Service, reg regional.Region, points []point) (ApproachStats, ApproachStats) {
	tbl, built := clim.Table(reg.Code)

	errsA := make([]float64, len(points))
	errsB := make([]float64, len(points))
	predsA := make([]float64, 0, sampledRegional)
	predsB := make([]float64, 0, sampledRegional)

	for i, pt := range points {
		a := regional.DefaultGlobalMean * reg.BaselineFactor
		if built {
			a = tbl.Lookup(pt.at, pt.kp)
		}

		ml := regional.Adjust(pt.globalTec, pt.kp, regional.DefaultGlobalMean, reg)
		b := ml
		if built {
			w := 0.3 + math.Min(0.3, pt.kp/10)
			b = math.Max(0, ml*w+a*(1-w))
		}

		errsA[i] = math.Abs(a - pt.actual)
		errsB[i] = math.Abs(b - pt.actual)
		if i < sampledRegional {
			predsA = append(predsA, a)
			predsB = append(predsB, b)
		}
	}
	return errorStats(reg.Name, errsA, predsA), errorStats(reg.Name, errsB, predsB)
}

func errorStats(name string, errs, preds []float64) ApproachStats {
	var sum, sq, hi float64
	for _, e := range errs {
		sum += e
		sq += e * e
		hi = math.Max(hi, e)
	}
	n := float64(len(errs))
	return ApproachStats{
		Region:      name,
		SampleCount: len(errs),
		MAE:         round3(sum / n),
		RMSE:        round3(math.Sqrt(sq / n)),
		MedianError: round3(median(errs)),
		MaxError:    round3(hi),
		Predictions: preds,
	}
}

func verdict(reg regional.Region, a, b ApproachStats) RegionVerdict {
	mae := a.MAE - b.MAE
	rmse := a.RMSE - b.RMSE
	sum := mae + rmse

	v := RegionVerdict{
		Region:          reg.Name,
		MAEImprovement:  round3(mae),
		RMSEImprovement: round3(rmse),
		Winner:          ApproachClimatologyPrimary,
		Confidence:      "Low",
	}
	if sum > 0 {
		v.Winner = ApproachOracleEnhanced
	}
	switch {
	case math.Abs(sum) > 1:
		v.Confidence = "High"
	case math.Abs(sum) > 0.3:
		v.Confidence = "Moderate"
	}
	return v
}

func recommendation(oracleWins, climWins int) string {
	n := oracleWins + climWins
	switch {
	case oracleWins > climWins:
		return fmt.Sprintf("%s approach wins in %d/%d regions. Recommended for production.", ApproachOracleEnhanced, oracleWins, n)
	case climWins > oracleWins:
		return fmt.Sprintf("%s approach wins in %d/%d regions. Recommended for production.", ApproachClimatologyPrimary, climWins, n)
	default:
		return "Approaches perform similarly. Consider hybrid approach based on conditions."
	}
}

func median(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	s := append([]float64(nil), vs...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}

func clampKp(kp float64) float64 {
	return math.Min(measurement.MaxKp, math.Max(0, kp))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
