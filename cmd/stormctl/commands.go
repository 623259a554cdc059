package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/HatiCode/stormcast/cmd/stormcast/config"
	"github.com/HatiCode/stormcast/cmd/stormcast/oracles"
	"github.com/HatiCode/stormcast/pkg/backtest"
	"github.com/HatiCode/stormcast/pkg/climatology"
	"github.com/HatiCode/stormcast/pkg/events"
	"github.com/HatiCode/stormcast/pkg/measurement"
	"github.com/HatiCode/stormcast/pkg/optimizer"
	"github.com/HatiCode/stormcast/pkg/oracle"
	"github.com/HatiCode/stormcast/pkg/regional"
	"github.com/HatiCode/stormcast/pkg/report"
)

const defaultDetectKp = 5.0

type importSummary struct {
	Rows        int       `json:"rows"`
	First       time.Time `json:"first"`
	Last        time.Time `json:"last"`
	Destination string    `json:"destination"`
}

func runImport(ctx context.Context, env *cliEnv, args []string) error {
	fs := env.flagSet("import")
	var src source
	src.register(fs)
	output := fs.String("output", "", "write a Parquet archive instead of inserting into ClickHouse")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if src.input == "" {
		return fmt.Errorf("-input is required")
	}

	rows, err := measurement.ReadFile(src.input)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("%s holds no measurements", src.input)
	}
	sum := importSummary{Rows: len(rows), First: rows[0].Timestamp, Last: rows[len(rows)-1].Timestamp}

	if *output != "" {
		if err := measurement.WriteParquet(*output, rows); err != nil {
			return err
		}
		sum.Destination = *output
		env.logger.Info("wrote parquet archive", "path", *output, "rows", len(rows))
		return env.writeJSON(sum)
	}

	cs, err := measurement.OpenClickHouse(ctx, src.clickhouse)
	if err != nil {
		return err
	}
	defer cs.Close()
	if err := cs.EnsureSchema(ctx); err != nil {
		return err
	}
	if err := cs.Insert(ctx, rows); err != nil {
		return err
	}
	sum.Destination = src.clickhouse.Database + "." + src.clickhouse.Table
	env.logger.Info("imported measurements", "table", sum.Destination, "rows", len(rows))
	return env.writeJSON(sum)
}

// oracleFlags selects the oracle for commands that call one.
type oracleFlags struct {
	kind    string
	url     string
	timeout time.Duration
}

func (o *oracleFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&o.kind, "oracle", getEnv("ORACLE", "trend"), "Forecast oracle: trend or http")
	fs.StringVar(&o.url, "oracle-url", getEnv("ORACLE_URL", ""), "Model service URL (oracle=http)")
	fs.DurationVar(&o.timeout, "oracle-timeout", getEnvDuration("ORACLE_TIMEOUT", 30*time.Second), "Per-call oracle timeout")
}

func (o *oracleFlags) build(env *cliEnv) (oracle.Oracle, error) {
	return oracles.New(&config.Config{
		Oracle:        o.kind,
		OracleURL:     o.url,
		OracleTimeout: o.timeout,
	}, env.logger)
}

type backtestOutput struct {
	backtest.Result
	Optimization *optimizer.Result `json:"optimization,omitempty"`
}

func runBacktest(ctx context.Context, env *cliEnv, args []string) error {
	fs := env.flagSet("backtest")
	var src source
	var orc oracleFlags
	var start, end timeFlag
	src.register(fs)
	orc.register(fs)
	fs.Var(&start, "start", "first issue time (RFC 3339 or YYYY-MM-DD)")
	fs.Var(&end, "end", "last issue time (RFC 3339 or YYYY-MM-DD)")
	threshold := fs.Float64("threshold", getEnvFloat("THRESHOLD", backtest.DefaultThreshold), "storm threshold (0-100)")
	stride := fs.Duration("stride", getEnvDuration("STRIDE", backtest.DefaultStride), "issue time step")
	horizon := fs.Duration("horizon", getEnvDuration("HORIZON", backtest.DefaultHorizon), "forecast lead time")
	tolerance := fs.Duration("tolerance", getEnvDuration("TOLERANCE", backtest.DefaultTolerance), "outcome match tolerance")
	policy := fs.String("match-policy", getEnv("MATCH_POLICY", string(backtest.MatchNearest)), "nearest or interpolate")
	workers := fs.Int("workers", getEnvInt("WORKERS", 4), "tick workers")
	method := fs.String("optimize", "", "also optimize the threshold with this method (f1, youden, cost)")
	chart := fs.String("chart", "", "write an HTML report to this path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireTimes(&start, &end); err != nil {
		return err
	}
	mp, err := backtest.ParseMatchPolicy(*policy)
	if err != nil {
		return err
	}

	store, closeStore, err := src.open(ctx, env.logger)
	if err != nil {
		return err
	}
	defer closeStore()

	o, err := orc.build(env)
	if err != nil {
		return err
	}

	runner := backtest.NewRunner(store, o, env.logger, backtest.WithOracleTimeout(orc.timeout))
	res, err := runner.Run(ctx, backtest.Params{
		Start:     start.t,
		End:       end.t,
		Threshold: *threshold,
		Stride:    *stride,
		Horizon:   *horizon,
		Tolerance: *tolerance,
		Policy:    mp,
		Workers:   *workers,
	})
	if err != nil {
		return err
	}

	out := backtestOutput{Result: res}
	charts := []report.Charter{report.BacktestChart(res)}
	if *method != "" {
		m, err := optimizer.ParseMethod(*method)
		if err != nil {
			return err
		}
		opt, err := backtest.OptimizeSamples(ctx, res.Predictions, optimizer.Options{Method: m, Workers: *workers})
		if err != nil {
			return err
		}
		out.Optimization = &opt
		charts = append(charts, report.SweepChart(opt))
	}

	if *chart != "" {
		if err := env.writeChart(*chart, charts...); err != nil {
			return err
		}
	}
	return env.writeJSON(out)
}

func runOptimize(ctx context.Context, env *cliEnv, args []string) error {
	fs := env.flagSet("optimize")
	resultPath := fs.String("result", "", "backtest result JSON written by 'stormctl backtest'")
	method := fs.String("method", getEnv("OPTIMIZE_METHOD", string(optimizer.MethodF1)), "f1, youden or cost")
	costFA := fs.Float64("cost-false-alarm", 1, "cost of a false alarm (method=cost)")
	costMS := fs.Float64("cost-missed-storm", 5, "cost of a missed storm (method=cost)")
	step := fs.Float64("step", 0, "threshold step (default 5)")
	folds := fs.Int("folds", 0, "cross-validation folds (default 5)")
	chart := fs.String("chart", "", "write an HTML sweep chart to this path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *resultPath == "" {
		return fmt.Errorf("-result is required")
	}

	m, err := optimizer.ParseMethod(*method)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(*resultPath)
	if err != nil {
		return fmt.Errorf("read result: %w", err)
	}
	var res backtest.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return fmt.Errorf("decode result %s: %w", *resultPath, err)
	}
	if len(res.Predictions) == 0 {
		return fmt.Errorf("%s holds no predictions", *resultPath)
	}

	start := env.clock.Now()
	opt, err := backtest.OptimizeSamples(ctx, res.Predictions, optimizer.Options{
		Method:          m,
		CostFalseAlarm:  *costFA,
		CostMissedStorm: *costMS,
		Step:            *step,
		Folds:           *folds,
	})
	if err != nil {
		return err
	}
	env.logger.Info("threshold optimized",
		"samples", len(res.Predictions),
		"method", opt.Method,
		"threshold", opt.OptimalThreshold,
		"fallback", opt.Fallback,
		"duration", env.clock.Since(start),
	)

	if *chart != "" {
		if err := env.writeChart(*chart, report.SweepChart(opt)); err != nil {
			return err
		}
	}
	return env.writeJSON(opt)
}

type detectOutput struct {
	Signal    string              `json:"signal"`
	Threshold float64             `json:"threshold"`
	Count     int                 `json:"count"`
	Storms    []events.StormEvent `json:"storms"`
}

func runDetect(ctx context.Context, env *cliEnv, args []string) error {
	fs := env.flagSet("detect")
	var src source
	var orc oracleFlags
	var start, end timeFlag
	src.register(fs)
	orc.register(fs)
	fs.Var(&start, "start", "range start (RFC 3339 or YYYY-MM-DD)")
	fs.Var(&end, "end", "range end (RFC 3339 or YYYY-MM-DD)")
	days := fs.Int("days", 0, "build a catalog of the last N days instead of a range")
	signalName := fs.String("signal", "kp", "kp or probability")
	threshold := fs.Float64("threshold", 0, "detection threshold (default 5 for kp, 50 for probability)")
	minDuration := fs.Int("min-duration", events.DefaultCatalogMinDuration, "minimum storm length in hours")
	analyze := fs.Bool("analyze", false, "backtest the oracle around each cataloged storm (-days only)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	sig, err := events.ParseSignal(*signalName)
	if err != nil {
		return err
	}
	th := *threshold
	if th == 0 {
		th = defaultDetectKp
		if sig == events.SignalProbability {
			th = 50
		}
	}

	store, closeStore, err := src.open(ctx, env.logger)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := events.NewService(store, env.clock, env.logger)

	if *days > 0 {
		catalog, err := svc.RecentCatalog(ctx, *days, th)
		if err != nil {
			return err
		}
		if !*analyze {
			return env.writeJSON(catalog)
		}
		o, err := orc.build(env)
		if err != nil {
			return err
		}
		rep, err := backtest.NewRunner(store, o, env.logger).StormCatalog(ctx, catalog, backtest.StormOptions{})
		if err != nil {
			return err
		}
		return env.writeJSON(rep)
	}

	if err := requireTimes(&start, &end); err != nil {
		return err
	}
	evts, err := svc.Detect(ctx, start.t, end.t, events.Detector{
		Threshold:   th,
		MinDuration: *minDuration,
		Signal:      sig,
	})
	if err != nil {
		return err
	}
	if evts == nil {
		evts = []events.StormEvent{}
	}
	return env.writeJSON(detectOutput{
		Signal:    sig.String(),
		Threshold: th,
		Count:     len(evts),
		Storms:    evts,
	})
}

type climatologyOutput struct {
	Summary  climatology.Summary                  `json:"summary"`
	Forecast map[string][]climatology.DayForecast `json:"forecast"`
}

func runClimatology(ctx context.Context, env *cliEnv, args []string) error {
	fs := env.flagSet("climatology")
	var src source
	var date timeFlag
	src.register(fs)
	from := fs.Int("from", climatology.DefaultFirstYear, "first training year")
	to := fs.Int("to", climatology.DefaultLastYear, "last training year")
	region := fs.String("region", "all", "region code or all")
	fs.Var(&date, "date", "forecast start date (default today)")
	kp := fs.Float64("kp", 3, "activity level for the lookup")
	days := fs.Int("days", 7, "forecast length in days")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *from > *to {
		return fmt.Errorf("-from (%d) after -to (%d)", *from, *to)
	}
	if *region != "all" {
		if _, ok := regional.Lookup(*region); !ok {
			return fmt.Errorf("unknown region %q", *region)
		}
	}

	store, closeStore, err := src.open(ctx, env.logger)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := climatology.NewService(store, env.clock, env.logger)
	if _, err := svc.Build(ctx, climatology.Years(*from, *to)); err != nil {
		return err
	}
	summary, _ := svc.Summary()

	day := date.t
	if day.IsZero() {
		day = env.clock.Now().UTC()
	}
	fc, err := svc.Forecast(*region, day, *kp, *days)
	if err != nil {
		return err
	}
	return env.writeJSON(climatologyOutput{Summary: summary, Forecast: fc})
}
