package oracle

import (
	"context"
	"math"

	"github.com/HatiCode/stormcast/pkg/measurement"
)

// TrendOracle is a deterministic local forecaster combining:
//   - Linear trend of the activity index over the trailing rows
//   - Momentum (change in slope between the older and recent half)
//   - Hour-of-day TEC pattern taken from the window itself
//
// Projected activity is mapped to a storm probability by a logistic curve
// centred on the G1 boundary. Projections saturate with lead time so long
// horizons do not run away.
type TrendOracle struct {
	// trendRows is the trailing span used for the slope fit.
	trendRows int

	// steepness of the logistic probability curve.
	steepness float64

	// saturation is the e-folding lead time in hours for trend extrapolation.
	saturation float64
}

// NewTrendOracle creates the default local oracle.
func NewTrendOracle() *TrendOracle {
	return &TrendOracle{
		trendRows:  12,
		steepness:  1.5,
		saturation: 12,
	}
}

func (o *TrendOracle) Name() string { return "trend" }

// Predict extrapolates the window's activity and TEC for 48 hours.
func (o *TrendOracle) Predict(ctx context.Context, w Window) (ForecastResult, error) {
	if err := ctx.Err(); err != nil {
		return ForecastResult{}, err
	}
	if w.Len() != WindowSize {
		return ForecastResult{}, errWindowSize(w.Len())
	}

	rows := w.rows
	kp := make([]float64, 0, len(rows))
	tec := make([]float64, 0, len(rows))
	hourTec := make(map[int][]float64)
	for _, m := range rows {
		if m.ValidKp() {
			kp = append(kp, m.Kp)
		}
		if m.ValidTec() {
			tec = append(tec, m.TecMean)
			h := m.Timestamp.UTC().Hour()
			hourTec[h] = append(hourTec[h], m.TecMean)
		}
	}

	currentKp := 0.0
	if len(kp) > 0 {
		currentKp = kp[len(kp)-1]
	}
	kpTrend := detectTrend(kp, o.trendRows)
	kpMomentum := detectMomentum(kp, o.trendRows)

	currentTec := 20.0
	if len(tec) > 0 {
		currentTec = tec[len(tec)-1]
	}
	tecTrend := detectTrend(tec, o.trendRows)

	probAt := func(h int) float64 {
		d := o.lead(h)
		projected := currentKp + kpTrend*d + 0.5*kpMomentum*d
		projected = math.Max(0, math.Min(measurement.MaxKp, projected))
		return 1 / (1 + math.Exp(-o.steepness*(projected-5)))
	}

	hourly := make([]float64, WindowSize)
	values := make([]float64, WindowSize)
	p24 := 0.0
	endHour := w.End().UTC().Hour()
	for i := 0; i < WindowSize; i++ {
		h := i + 1
		hourly[i] = probAt(h)
		p24 = math.Max(p24, hourly[i])

		base := currentTec + tecTrend*o.lead(h)
		if seasonal, ok := hourTec[(endHour+h)%24]; ok {
			base = 0.5*base + 0.5*mean(seasonal)
		}
		values[i] = math.Max(0, base)
	}

	p48 := p24
	for h := WindowSize + 1; h <= 2*WindowSize; h++ {
		p48 = math.Max(p48, probAt(h))
	}

	uncertainty := 0.2 + 0.1*stddev(kp) + 0.05*math.Abs(kpMomentum)
	uncertainty = math.Min(1, uncertainty)

	return ForecastResult{
		Probability24h: p24,
		Probability48h: p48,
		Hourly:         hourly,
		ValueForecast:  values,
		Uncertainty:    uncertainty,
		Version:        "trend-v1",
	}, nil
}

// lead converts a lead time into an effective extrapolation distance that
// approaches the saturation constant.
func (o *TrendOracle) lead(h int) float64 {
	return o.saturation * (1 - math.Exp(-float64(h)/o.saturation))
}

// detectTrend computes the per-row slope over the trailing window rows
// by simple linear regression.
func detectTrend(values []float64, window int) float64 {
	if len(values) < 2 {
		return 0
	}
	if len(values) > window {
		values = values[len(values)-window:]
	}

	n := float64(len(values))
	sumX, sumY, sumXY, sumX2 := 0.0, 0.0, 0.0, 0.0
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumX2 += x * x
	}

	denominator := n*sumX2 - sumX*sumX
	if denominator == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denominator
}

// detectMomentum is the change in slope between the older and recent half.
// Positive momentum means the index is accelerating upward.
func detectMomentum(values []float64, window int) float64 {
	if len(values) < 6 {
		return 0
	}
	mid := len(values) / 2
	return detectTrend(values[mid:], window) - detectTrend(values[:mid], window)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := mean(values)
	variance := 0.0
	for _, v := range values {
		d := v - m
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(values)))
}
