// Package optimizer selects a storm decision threshold that performs
// consistently across time.
//
// Samples are split chronologically into contiguous folds. Each candidate
// threshold is scored on every fold after the first, one fold at a time, and
// the candidates are ranked by their mean fold score weighted by a stability
// term that penalises variance across folds. A threshold that only works in
// one regime (quiet or stormy) therefore loses to one that works in all.
package optimizer

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/HatiCode/stormcast/pkg/scoring"
	"github.com/HatiCode/stormcast/pkg/stormerr"
)

// Method is the selection objective.
type Method string

const (
	MethodF1     Method = "f1"
	MethodYouden Method = "youden"
	MethodCost   Method = "cost"
)

// ParseMethod accepts f1, youden or cost (case-insensitive). Empty means f1.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(s)); m {
	case "":
		return MethodF1, nil
	case MethodF1, MethodYouden, MethodCost:
		return m, nil
	default:
		return "", stormerr.Invalid("unknown method %q (must be f1, youden or cost)", s)
	}
}

// Defaults.
const (
	DefaultStep            = 5.0
	DefaultFolds           = 5
	DefaultMinFoldSize     = 10
	DefaultCostFalseAlarm  = 1.0
	DefaultCostMissedStorm = 5.0
	DefaultThreshold       = 40.0

	minThreshold = 10.0
	maxThreshold = 90.0
	stabilityEps = 1e-6
)

// Options configures a sweep. Zero values take the defaults above.
type Options struct {
	Method          Method
	CostFalseAlarm  float64
	CostMissedStorm float64
	Step            float64
	Folds           int
	MinFoldSize     int
	Workers         int
}

func (o Options) withDefaults() Options {
	if o.Method == "" {
		o.Method = MethodF1
	}
	if o.CostFalseAlarm == 0 {
		o.CostFalseAlarm = DefaultCostFalseAlarm
	}
	if o.CostMissedStorm == 0 {
		o.CostMissedStorm = DefaultCostMissedStorm
	}
	if o.Step == 0 {
		o.Step = DefaultStep
	}
	if o.Folds == 0 {
		o.Folds = DefaultFolds
	}
	if o.MinFoldSize == 0 {
		o.MinFoldSize = DefaultMinFoldSize
	}
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	return o
}

// SweepEntry records one candidate threshold. The classification fields
// are computed on the whole dataset for audit; FoldScores, Mean and
// Stability drive selection.
type SweepEntry struct {
	Threshold      float64   `json:"threshold"`
	F1             float64   `json:"f1_score"`
	Precision      float64   `json:"precision"`
	Recall         float64   `json:"recall"`
	Accuracy       float64   `json:"accuracy"`
	FalseAlarmRate float64   `json:"false_alarm_rate"`
	YoudenJ        float64   `json:"youden_j"`
	Cost           float64   `json:"cost"`
	FoldScores     []float64 `json:"fold_scores"`
	Mean           float64   `json:"mean_score"`
	Stability      float64   `json:"stability"`
	Score          float64   `json:"score"`
}

// Result is the outcome of a sweep.
type Result struct {
	OptimalThreshold float64         `json:"optimal_threshold"`
	Method           Method          `json:"method"`
	BestScore        float64         `json:"best_score"`
	Fallback         bool            `json:"fallback"`
	Folds            int             `json:"folds"`
	Sweep            []SweepEntry    `json:"sweep"`
	OptimalMetrics   scoring.Metrics `json:"optimal_metrics"`
}

// Thresholds returns the ascending candidate list 10, 10+step, ... <= 90.
func Thresholds(step float64) []float64 {
	var out []float64
	for i := 0; ; i++ {
		t := minThreshold + float64(i)*step
		if t > maxThreshold+1e-9 {
			break
		}
		out = append(out, t)
	}
	return out
}

type fold struct{ lo, hi int }

// splitFolds cuts n samples into k contiguous folds; the last absorbs the
// remainder.
func splitFolds(n, k int) []fold {
	size := n / k
	folds := make([]fold, k)
	for i := 0; i < k; i++ {
		folds[i] = fold{lo: i * size, hi: (i + 1) * size}
	}
	folds[k-1].hi = n
	return folds
}

// Optimize sweeps the candidate thresholds over chronologically ordered
// samples. predicted[i] and actual[i] must refer to the same tick.
func Optimize(ctx context.Context, predicted, actual []float64, opts Options) (Result, error) {
	opts = opts.withDefaults()

	if len(predicted) != len(actual) {
		return Result{}, stormerr.Invalid("predicted has %d values, actual has %d", len(predicted), len(actual))
	}
	if len(actual) < 2 {
		return Result{}, stormerr.Invalid("need at least 2 samples, got %d", len(actual))
	}
	if _, err := ParseMethod(string(opts.Method)); err != nil {
		return Result{}, err
	}
	if opts.Step <= 0 || math.IsNaN(opts.Step) {
		return Result{}, stormerr.Invalid("step must be positive, got %v", opts.Step)
	}
	if opts.Folds < 2 {
		return Result{}, stormerr.Invalid("folds must be at least 2, got %d", opts.Folds)
	}
	if opts.CostFalseAlarm < 0 || opts.CostMissedStorm < 0 {
		return Result{}, stormerr.Invalid("costs must be non-negative")
	}

	n := len(actual)
	fallback := n/opts.Folds < opts.MinFoldSize

	var evalFolds []fold
	if fallback {
		evalFolds = []fold{{lo: 0, hi: n}}
	} else {
		evalFolds = splitFolds(n, opts.Folds)[1:]
	}

	thresholds := Thresholds(opts.Step)
	sweep := make([]SweepEntry, len(thresholds))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i, th := range thresholds {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			entry, err := evaluate(predicted, actual, th, evalFolds, fallback, opts)
			if err != nil {
				return fmt.Errorf("threshold %v: %w", th, err)
			}
			sweep[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	best := DefaultThreshold
	bestScore := math.Inf(-1)
	if opts.Method == MethodCost {
		bestScore = math.Inf(1)
	}
	found := false
	for _, e := range sweep {
		if opts.Method == MethodCost {
			if e.Score < bestScore {
				bestScore, best, found = e.Score, e.Threshold, true
			}
		} else if e.Score > bestScore {
			bestScore, best, found = e.Score, e.Threshold, true
		}
	}
	if !found {
		bestScore = 0
	}

	optimal, err := scoring.Score(predicted, actual, best)
	if err != nil {
		return Result{}, err
	}

	folds := opts.Folds
	if fallback {
		folds = 1
	}

	return Result{
		OptimalThreshold: best,
		Method:           opts.Method,
		BestScore:        bestScore,
		Fallback:         fallback,
		Folds:            folds,
		Sweep:            sweep,
		OptimalMetrics:   optimal,
	}, nil
}

func evaluate(predicted, actual []float64, th float64, folds []fold, fallback bool, opts Options) (SweepEntry, error) {
	full, err := scoring.Score(predicted, actual, th)
	if err != nil {
		return SweepEntry{}, err
	}

	scores := make([]float64, len(folds))
	for i, f := range folds {
		m, err := scoring.Score(predicted[f.lo:f.hi], actual[f.lo:f.hi], th)
		if err != nil {
			return SweepEntry{}, err
		}
		scores[i] = objective(m, opts)
	}

	mean, std := meanStd(scores)
	stability := 1.0
	if !fallback {
		stability = 1 / (std + stabilityEps)
	}

	score := mean * stability
	if opts.Method == MethodCost {
		score = mean / stability
	}

	return SweepEntry{
		Threshold:      th,
		F1:             full.F1,
		Precision:      full.Precision,
		Recall:         full.Recall,
		Accuracy:       full.Accuracy,
		FalseAlarmRate: full.FalseAlarmRate,
		YoudenJ:        full.Youden(),
		Cost:           full.Cost(opts.CostFalseAlarm, opts.CostMissedStorm),
		FoldScores:     scores,
		Mean:           mean,
		Stability:      stability,
		Score:          score,
	}, nil
}

func objective(m scoring.Metrics, opts Options) float64 {
	switch opts.Method {
	case MethodYouden:
		return m.Youden()
	case MethodCost:
		return m.Cost(opts.CostFalseAlarm, opts.CostMissedStorm)
	default:
		return m.F1
	}
}

// meanStd returns the mean and population standard deviation.
func meanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	return mean, math.Sqrt(variance / float64(len(values)))
}
