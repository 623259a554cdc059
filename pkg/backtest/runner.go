// Package backtest replays a forecast oracle over historical measurements
// and pairs every prediction with the outcome that was later observed.
//
// The runner walks the interval at a fixed stride. At each tick it builds
// the lookback window from rows strictly before t+1h, asks the oracle for
// the probability at t+horizon, and matches that target against stored
// ground truth within a tolerance. Ticks without a full window, without a
// matching outcome, or whose oracle call fails are skipped and counted;
// the run only fails when no sample survives.
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/HatiCode/stormcast/pkg/measurement"
	"github.com/HatiCode/stormcast/pkg/oracle"
	"github.com/HatiCode/stormcast/pkg/scoring"
	"github.com/HatiCode/stormcast/pkg/stormerr"
)

// Defaults.
const (
	DefaultThreshold = 40.0
	DefaultStride    = time.Hour
	DefaultHorizon   = 24 * time.Hour
	DefaultTolerance = 2 * time.Hour

	// MinRawRows is the minimum number of rows in [Start-24h, End].
	MinRawRows = 48

	lookbackSlack = 2 * time.Hour
	readLookback  = 24 * time.Hour
)

// Params configures one run.
type Params struct {
	Start     time.Time
	End       time.Time
	Threshold float64
	Stride    time.Duration
	Horizon   time.Duration
	Tolerance time.Duration
	Policy    MatchPolicy
	Workers   int
}

// NewParams returns params for [start, end] with every other field at its
// default.
func NewParams(start, end time.Time) Params {
	return Params{
		Start:     start,
		End:       end,
		Threshold: DefaultThreshold,
		Stride:    DefaultStride,
		Horizon:   DefaultHorizon,
		Tolerance: DefaultTolerance,
		Policy:    MatchNearest,
		Workers:   1,
	}
}

// Validate rejects unusable params with an error matching both
// ErrRunFailed and ErrInvalidParams.
func (p Params) Validate() error {
	switch {
	case !p.Start.Before(p.End):
		return stormerr.InvalidRun("start %s must be before end %s",
			p.Start.UTC().Format(time.RFC3339), p.End.UTC().Format(time.RFC3339))
	case p.Stride <= 0:
		return stormerr.InvalidRun("stride must be positive, got %s", p.Stride)
	case p.Horizon <= 0:
		return stormerr.InvalidRun("horizon must be positive, got %s", p.Horizon)
	case p.Tolerance <= 0:
		return stormerr.InvalidRun("tolerance must be positive, got %s", p.Tolerance)
	case p.Threshold < 0 || p.Threshold > 100:
		return stormerr.InvalidRun("threshold must be in [0,100], got %v", p.Threshold)
	}
	if _, err := ParseMatchPolicy(string(p.Policy)); err != nil {
		return stormerr.InvalidRun("%v", err)
	}
	return nil
}

// Runner evaluates an oracle against a measurement store.
type Runner struct {
	store         measurement.Store
	oracle        oracle.Oracle
	logger        *slog.Logger
	recorder      Recorder
	oracleTimeout time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithRecorder sets the telemetry sink.
func WithRecorder(r Recorder) Option {
	return func(rn *Runner) {
		if r != nil {
			rn.recorder = r
		}
	}
}

// WithOracleTimeout bounds each oracle call. Zero means no bound beyond
// the caller's context.
func WithOracleTimeout(d time.Duration) Option {
	return func(rn *Runner) { rn.oracleTimeout = d }
}

// NewRunner creates a runner.
func NewRunner(store measurement.Store, o oracle.Oracle, logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		store:    store,
		oracle:   o,
		logger:   logger,
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Oracle returns the oracle under evaluation.
func (r *Runner) Oracle() oracle.Oracle { return r.oracle }

// Store returns the measurement store.
func (r *Runner) Store() measurement.Store { return r.store }

type tick struct {
	sample  Sample
	outcome TickOutcome
}

// Run executes a backtest.
func (r *Runner) Run(ctx context.Context, p Params) (Result, error) {
	began := time.Now()
	res, err := r.run(ctx, p)
	r.recorder.RecordRun(time.Since(began), len(res.Predictions), err)
	return res, err
}

func (r *Runner) run(ctx context.Context, p Params) (Result, error) {
	if p.Policy == "" {
		p.Policy = MatchNearest
	}
	if p.Workers <= 0 {
		p.Workers = 1
	}
	if err := p.Validate(); err != nil {
		return Result{}, err
	}

	rows, err := r.store.Read(ctx, p.Start.Add(-readLookback), p.End.Add(p.Horizon+p.Tolerance))
	if err != nil {
		return Result{}, fmt.Errorf("read measurements: %w", err)
	}
	// Rows after End only serve outcome matching.
	if n := rowsThrough(rows, p.End); n < MinRawRows {
		return Result{}, &stormerr.DataInsufficientError{What: "hourly rows", Have: n, Need: MinRawRows}
	}
	usable := measurement.Filter(rows, measurement.Measurement.ValidKp)

	var ticks []time.Time
	for t := p.Start; !t.After(p.End); t = t.Add(p.Stride) {
		ticks = append(ticks, t)
	}

	r.logger.Info("backtest started",
		"start", p.Start.UTC(),
		"end", p.End.UTC(),
		"ticks", len(ticks),
		"rows", len(rows),
		"oracle", r.oracle.Name(),
		"workers", p.Workers,
	)

	slots := make([]tick, len(ticks))
	var g errgroup.Group
	g.SetLimit(p.Workers)
	for i, t := range ticks {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			slots[i] = r.evaluate(ctx, p, rows, usable, t)
			r.recorder.RecordTick(slots[i].outcome)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	var samples []Sample
	var skipped Skipped
	for _, s := range slots {
		switch s.outcome {
		case OutcomeSample:
			samples = append(samples, s.sample)
		case OutcomeNoWindow:
			skipped.NoWindow++
		case OutcomeNoOutcome:
			skipped.NoOutcome++
		case OutcomeOracleError:
			skipped.OracleError++
		}
	}
	if len(samples) == 0 {
		return Result{}, stormerr.RunFailed("no valid predictions generated (%d ticks: %d without window, %d without outcome, %d oracle errors)",
			len(ticks), skipped.NoWindow, skipped.NoOutcome, skipped.OracleError)
	}

	predicted, actual := Series(samples)
	metrics, err := scoring.Score(predicted, actual, p.Threshold)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Metadata: Metadata{
			RunID:            uuid.NewString(),
			Start:            p.Start,
			End:              p.End,
			DurationDays:     int(p.End.Sub(p.Start).Hours() / 24),
			Threshold:        p.Threshold,
			StrideHours:      p.Stride.Hours(),
			HorizonHours:     p.Horizon.Hours(),
			ToleranceHours:   p.Tolerance.Hours(),
			Policy:           p.Policy,
			Ticks:            len(ticks),
			TotalPredictions: len(samples),
			Oracle:           r.oracle.Name(),
			Skipped:          skipped,
		},
		Metrics:     metrics,
		Predictions: samples,
		Analysis:    analyze(samples),
		Summary:     summarize(samples, metrics),
	}

	r.logger.Info("backtest complete",
		"run_id", res.Metadata.RunID,
		"predictions", len(samples),
		"skipped", skipped.Total(),
		"accuracy", metrics.Accuracy,
	)
	return res, nil
}

// evaluate produces one tick. It never fails: problems become skip outcomes.
func (r *Runner) evaluate(ctx context.Context, p Params, rows, usable []measurement.Measurement, t time.Time) tick {
	target := t.Add(p.Horizon)

	w, ok := windowAt(usable, t, p.Horizon)
	if !ok {
		r.logger.Debug("tick skipped: insufficient window", "tick", t.UTC())
		return tick{outcome: OutcomeNoWindow}
	}

	m, ok := matchOutcome(rows, target, p.Tolerance, p.Policy)
	if !ok {
		r.logger.Debug("tick skipped: no outcome within tolerance", "tick", t.UTC(), "target", target.UTC())
		return tick{outcome: OutcomeNoOutcome}
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
		r.logger.Warn("oracle failed, tick skipped", "tick", t.UTC(), "error", &stormerr.OracleError{Tick: t, Err: err})
		return tick{outcome: OutcomeOracleError}
	}

	prob := fr.Probability24h
	if p.Horizon > 24*time.Hour {
		prob = fr.Probability48h
	}

	return tick{
		sample:  newSample(t, target, m, prob*100, p.Threshold),
		outcome: OutcomeSample,
	}
}

// windowAt builds the oracle window for tick t from usable rows in
// [t-(horizon+2h), t+1h). The most recent WindowSize rows are used.
func windowAt(usable []measurement.Measurement, t time.Time, horizon time.Duration) (oracle.Window, bool) {
	lo := t.Add(-(horizon + lookbackSlack))
	hi := t.Add(time.Hour)

	i := sort.Search(len(usable), func(i int) bool { return !usable[i].Timestamp.Before(lo) })
	j := sort.Search(len(usable), func(i int) bool { return !usable[i].Timestamp.Before(hi) })
	if j-i < oracle.WindowSize {
		return oracle.Window{}, false
	}

	w, err := oracle.NewWindow(usable[j-oracle.WindowSize : j])
	if err != nil {
		return oracle.Window{}, false
	}
	return w, true
}

func rowsThrough(rows []measurement.Measurement, end time.Time) int {
	n := 0
	for _, m := range rows {
		if !m.Timestamp.After(end) {
			n++
		}
	}
	return n
}
