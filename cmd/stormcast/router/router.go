// Package router configures the stormcast HTTP API.
//
// Routes:
//   - GET  /healthz, /metrics
//   - GET  /forecast/current                      latest live forecast
//   - GET  /backtest, /backtest/chart             run a backtest (JSON or HTML)
//   - GET  /backtest/runs/{id}                    stored backtest result
//   - POST /optimize                              threshold optimisation
//   - GET  /storms, /storms/catalog               storm detection
//   - POST /climatology/build
//   - GET  /climatology/compare
//   - GET  /climatology/{region}[/forecast|/evolution]
//   - GET  /regional/current, /regional/backtest
//   - GET  /impact                                sector impact assessment
//
// Stored snapshots older than the stale threshold carry an
// X-Stormcast-Stale header. Errors are {"error":"<msg>"} with the status
// chosen by httpx.StatusFor.
package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HatiCode/stormcast/pkg/backtest"
	"github.com/HatiCode/stormcast/pkg/climatology"
	"github.com/HatiCode/stormcast/pkg/ensemble"
	"github.com/HatiCode/stormcast/pkg/events"
	"github.com/HatiCode/stormcast/pkg/httpx"
	"github.com/HatiCode/stormcast/pkg/impact"
	"github.com/HatiCode/stormcast/pkg/optimizer"
	"github.com/HatiCode/stormcast/pkg/publish"
	"github.com/HatiCode/stormcast/pkg/regional"
	"github.com/HatiCode/stormcast/pkg/report"
	"github.com/HatiCode/stormcast/pkg/storage"
	"github.com/HatiCode/stormcast/pkg/stormerr"
)

// StaleHeader marks a snapshot older than the stale threshold.
const StaleHeader = "X-Stormcast-Stale"

const (
	defaultStormKp          = 5.0
	defaultStormProbability = 50.0
	defaultCatalogDays      = 365
	defaultForecastDays     = 7
	defaultKp               = 3.0
	maxBodyBytes            = 10 << 20
)

// Recorder receives request-level telemetry. Nil is allowed.
type Recorder interface {
	RecordOptimize(d time.Duration)
	RecordPublished(eventType string, n int)
	RecordError(component, reason string)
}

// Deps are the services behind the API.
type Deps struct {
	Snapshots   storage.Store
	Runner      *backtest.Runner
	Events      *events.Service
	Climatology *climatology.Service
	Publisher   publish.Publisher
	Metrics     Recorder

	// Defaults fill backtest parameters absent from the query.
	Defaults   backtest.Params
	StaleAfter time.Duration
	Clock      clockwork.Clock
	Logger     *slog.Logger
}

type api struct {
	Deps
}

// SetupRoutes builds the router.
func SetupRoutes(d Deps) *mux.Router {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Publisher == nil {
		d.Publisher = publish.NopPublisher{}
	}
	a := &api{Deps: d}

	r := mux.NewRouter()
	r.Use(httpx.RecoveryMiddleware(d.Logger), httpx.LoggingMiddleware(d.Logger))

	r.Handle("/healthz", httpx.HealthHandler()).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/forecast/current", a.handleCurrentForecast).Methods(http.MethodGet)

	r.HandleFunc("/backtest", a.handleBacktest).Methods(http.MethodGet)
	r.HandleFunc("/backtest/chart", a.handleBacktestChart).Methods(http.MethodGet)
	r.HandleFunc("/backtest/runs/{id}", a.handleBacktestRun).Methods(http.MethodGet)
	r.HandleFunc("/optimize", a.handleOptimize).Methods(http.MethodPost)

	r.HandleFunc("/storms", a.handleStorms).Methods(http.MethodGet)
	r.HandleFunc("/storms/catalog", a.handleCatalog).Methods(http.MethodGet)

	r.HandleFunc("/climatology/build", a.handleClimatologyBuild).Methods(http.MethodPost)
	r.HandleFunc("/climatology/compare", a.handleClimatologyCompare).Methods(http.MethodGet)
	r.HandleFunc("/climatology/{region}", a.handleClimatologyGet).Methods(http.MethodGet)
	r.HandleFunc("/climatology/{region}/forecast", a.handleClimatologyForecast).Methods(http.MethodGet)
	r.HandleFunc("/climatology/{region}/evolution", a.handleClimatologyEvolution).Methods(http.MethodGet)

	r.HandleFunc("/regional/current", a.handleRegionalCurrent).Methods(http.MethodGet)
	r.HandleFunc("/regional/backtest", a.handleRegionalBacktest).Methods(http.MethodGet)

	r.HandleFunc("/impact", a.handleImpact).Methods(http.MethodGet)

	return r
}

func (a *api) handleCurrentForecast(w http.ResponseWriter, r *http.Request) {
	a.writeSnapshot(w, r, storage.KindForecast, storage.LatestKey, "no live forecast available")
}

func (a *api) handleBacktestRun(w http.ResponseWriter, r *http.Request) {
	a.writeSnapshot(w, r, storage.KindBacktest, mux.Vars(r)["id"], "backtest run not found")
}

// writeSnapshot replies with a stored payload as-is.
func (a *api) writeSnapshot(w http.ResponseWriter, r *http.Request, kind storage.Kind, key, notFound string) {
	snap, found, err := a.Snapshots.GetLatest(r.Context(), kind, key)
	if err != nil {
		httpx.WriteEngineError(w, a.Logger, err)
		return
	}
	if !found {
		httpx.WriteErrorMessage(w, http.StatusNotFound, notFound)
		return
	}
	a.replySnapshot(w, snap)
}

func (a *api) replySnapshot(w http.ResponseWriter, snap storage.Snapshot) {
	if a.StaleAfter > 0 && a.Clock.Since(snap.GeneratedAt) > a.StaleAfter {
		w.Header().Set(StaleHeader, "true")
	}
	a.writeJSON(w, snap.Payload)
}

func (a *api) handleBacktest(w http.ResponseWriter, r *http.Request) {
	res, ok := a.runBacktest(w, r)
	if !ok {
		return
	}
	a.writeJSON(w, res)
}

func (a *api) handleBacktestChart(w http.ResponseWriter, r *http.Request) {
	res, ok := a.runBacktest(w, r)
	if !ok {
		return
	}

	charts := []report.Charter{report.BacktestChart(res)}
	if optimize, _ := strconv.ParseBool(r.URL.Query().Get("optimize")); optimize {
		opt, err := backtest.OptimizeSamples(r.Context(), res.Predictions, optimizer.Options{})
		if err != nil {
			httpx.WriteEngineError(w, a.Logger, err)
			return
		}
		charts = append(charts, report.SweepChart(opt))
	}

	var buf bytes.Buffer
	if err := report.Render(&buf, charts...); err != nil {
		httpx.WriteEngineError(w, a.Logger, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		a.Logger.Error("failed to write chart", "error", err)
	}
}

// runBacktest parses the query, runs and stores the result. It writes the
// error reply itself and returns false on failure.
func (a *api) runBacktest(w http.ResponseWriter, r *http.Request) (backtest.Result, bool) {
	p, err := a.backtestParams(r.URL.Query())
	if err != nil {
		httpx.WriteEngineError(w, a.Logger, err)
		return backtest.Result{}, false
	}

	res, err := a.Runner.Run(r.Context(), p)
	if err != nil {
		httpx.WriteEngineError(w, a.Logger, err)
		return backtest.Result{}, false
	}

	for _, key := range []string{res.Metadata.RunID, storage.LatestKey} {
		if err := a.store(r, storage.KindBacktest, key, res); err != nil {
			a.Logger.Warn("failed to store backtest result", "run_id", res.Metadata.RunID, "error", err)
		}
	}
	return res, true
}

func (a *api) backtestParams(q url.Values) (backtest.Params, error) {
	p := a.Defaults
	var err error
	if p.Start, err = requiredTime(q, "start"); err != nil {
		return p, err
	}
	if p.End, err = requiredTime(q, "end"); err != nil {
		return p, err
	}
	if p.Threshold, err = floatParam(q, "threshold", p.Threshold); err != nil {
		return p, err
	}
	if p.Stride, err = durationParam(q, "stride", p.Stride); err != nil {
		return p, err
	}
	if p.Horizon, err = durationParam(q, "horizon", p.Horizon); err != nil {
		return p, err
	}
	if p.Tolerance, err = durationParam(q, "tolerance", p.Tolerance); err != nil {
		return p, err
	}
	if v := q.Get("policy"); v != "" {
		if p.Policy, err = backtest.ParseMatchPolicy(v); err != nil {
			return p, err
		}
	}
	return p, nil
}

type optimizeRequest struct {
	Predictions     []float64 `json:"predictions"`
	Actuals         []float64 `json:"actuals"`
	Method          string    `json:"method"`
	CostFalseAlarm  float64   `json:"cost_false_alarm"`
	CostMissedStorm float64   `json:"cost_missed_storm"`
	Step            float64   `json:"step"`
	Folds           int       `json:"folds"`
}

func (a *api) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req optimizeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		httpx.WriteErrorMessage(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	method, err := optimizer.ParseMethod(req.Method)
	if err != nil {
		httpx.WriteEngineError(w, a.Logger, err)
		return
	}

	start := a.Clock.Now()
	res, err := optimizer.Optimize(r.Context(), req.Predictions, req.Actuals, optimizer.Options{
		Method:          method,
		CostFalseAlarm:  req.CostFalseAlarm,
		CostMissedStorm: req.CostMissedStorm,
		Step:            req.Step,
		Folds:           req.Folds,
		Workers:         a.Defaults.Workers,
	})
	if a.Metrics != nil {
		a.Metrics.RecordOptimize(a.Clock.Since(start))
	}
	if err != nil {
		httpx.WriteEngineError(w, a.Logger, err)
		return
	}
	a.writeJSON(w, res)
}

type stormsResponse struct {
	Start     time.Time           `json:"start_date"`
	End       time.Time           `json:"end_date"`
	Signal    string              `json:"signal"`
	Threshold float64             `json:"threshold"`
	Count     int                 `json:"count"`
	Published bool                `json:"published"`
	Storms    []events.StormEvent `json:"storms"`
}

func (a *api) handleStorms(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := requiredTime(q, "start")
	if err != nil {
		httpx.WriteEngineError(w, a.Logger, err)
		return
	}
	end, err := requiredTime(q, "end")
	if err != nil {
		httpx.WriteEngineError(w, a.Logger, err)
		return
	}
	signal, err := events.ParseSignal(q.Get("signal"))
	if err != nil {
		httpx.WriteEngineError(w, a.Logger, err)
		return
	}
	def := defaultStormKp
	if signal == events.SignalProbability {
		def = defaultStormProbability
	}
	threshold, err := floatParam(q, "threshold", def)
	if err != nil {
		httpx.WriteEngineError(w, a.Logger, err)
		return
	}
	minDuration, err := intParam(q, "min_duration", events.DefaultCatalogMinDuration)
	if err != nil {
		httpx.WriteEngineError(w, a.Logger, err)
		return
	}

	evts, err := a.Events.Detect(r.Context(), start, end, events.Detector{
		Threshold:   threshold,
		MinDuration: minDuration,
		Signal:      signal,
	})
	if err != nil {
		httpx.WriteEngineError(w, a.Logger, err)
		return
	}
	if evts == nil {
		evts = []events.StormEvent{}
	}

	resp := stormsResponse{
		Start:     start.UTC(),
		End:       end.UTC(),
		Signal:    signal.String(),
		Threshold: threshold,
		Count:     len(evts),
		Storms:    evts,
	}
	if publishEvents, _ := strconv.ParseBool(q.Get("publish")); publishEvents && len(evts) > 0 {
		if err := a.Publisher.PublishEvents(r.Context(), evts); err != nil {
			a.recordError("publish", "events_failed")
			httpx.WriteEngineError(w, a.Logger, fmt.Errorf("publish storm events: %w", err))
			return
		}
		resp.Published = true
		if a.Metrics != nil {
			a.Metrics.RecordPublished(publish.EventTypeStorm, len(evts))
		}
	}
	a.writeJSON(w, resp)
}

func (a *api) handleCatalog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	days, err := intParam(q, "days", defaultCatalogDays)
	if err != nil {
		httpx.WriteEngineError(w, a.Logger, err)
		return
	}
	threshold, err := floatParam(q, "threshold", defaultStormKp)
	if err != nil {
		httpx.WriteEngineError(w, a.Logger, err)
		return
	}

	catalog, err := a.Events.RecentCatalog(r.Context(), days, threshold)
	if err != nil {
		httpx.WriteEngineError(w, a.Logger, err)
		return
	}

	if analyze, _ := strconv.ParseBool(q.Get("analyze")); !analyze {
		a.writeJSON(w, catalog)
		return
	}

	rep, err := a.Runner.StormCatalog(r.Context(), catalog, backtest.StormOptions{
		Threshold: a.Defaults.Threshold,
		Workers:   a.Defaults.Workers,
	})
	if err != nil {
		httpx.WriteEngineError(w, a.Logger, err)
		return
	}
	a.writeJSON(w, rep)
}

func (a *api) handleClimatologyBuild(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := intParam(q, "from", climatology.DefaultFirstYear)
	if err != nil {
		httpx.WriteEngineError(w, a.Logger, err)
		return
	}
	to, err := intParam(q, "to", climatology.DefaultLastYear)
	if err != nil {
		httpx.WriteEngineError(w, a.Logger, err)
		return
	}
	if from > to {
		httpx.WriteEngineError(w, a.Logger, stormerr.Invalid("from (%d) after to (%d)", from, to))
		return
	}

	if _, err := a.Climatology.Build(r.Context(), climatology.Years(from, to)); err != nil {
		httpx.WriteEngineError(w, a.Logger, err)
		return
	}

	summary, _ := a.Climatology.Summary()
	if err := a.store(r, storage.KindClimatology, storage.LatestKey, summary); err != nil {
		a.Logger.Warn("failed to store climatology summary", "error", err)
	}
	a.writeJSON(w, summary)
}

func (a *api) handleClimatologyCompare(w http.ResponseWriter, r *http.Request) {
	date, kp, err := a.dateAndKp(r.URL.Query())
	if err != nil {
		httpx.WriteEngineError(w, a.Logger, err)
		return
	}
	a.writeJSON(w, map[string]any{
		"date":    date.Format(time.DateOnly),
		"kp":      kp,
		"regions": a.Climatology.Compare(date, kp),
	})
}

func (a *api) handleClimatologyGet(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["region"]
	date, kp, err := a.dateAndKp(r.URL.Query())
	if err != nil {
		httpx.WriteEngineError(w, a.Logger, err)
		return
	}
	tec, err := a.Climatology.Get(code, date, kp)
	if err != nil {
		httpx.WriteEngineError(w, a.Logger, err)
		return
	}
	a.writeJSON(w, map[string]any{
		"region":      code,
		"date":        date.Format(time.DateOnly),
		"day_of_year": date.YearDay(),
		"kp":          kp,
		"tec":         tec,
		"built":       a.Climatology.Built(),
	})
}

func (a *api) handleClimatologyForecast(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date, kp, err := a.dateAndKp(q)
	if err != nil {
		httpx.WriteEngineError(w, a.Logger, err)
		return
	}
	days, err := intParam(q, "days", defaultForecastDays)
	if err != nil {
		httpx.WriteEngineError(w, a.Logger, err)
		return
	}
	fc, err := a.Climatology.Forecast(mux.Vars(r)["region"], date, kp, days)
	if err != nil {
		httpx.WriteEngineError(w, a.Logger, err)
		return
	}
	a.writeJSON(w, fc)
}

func (a *api) handleClimatologyEvolution(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kp, err := floatParam(q, "kp", defaultKp)
	if err != nil {
		httpx.WriteEngineError(w, a.Logger, err)
		return
	}
	hours, err := intParam(q, "hours", 24)
	if err != nil {
		httpx.WriteEngineError(w, a.Logger, err)
		return
	}
	interval, err := intParam(q, "interval", 1)
	if err != nil {
		httpx.WriteEngineError(w, a.Logger, err)
		return
	}
	ev, err := a.Climatology.Evolution(mux.Vars(r)["region"], hours, interval, kp)
	if err != nil {
		httpx.WriteEngineError(w, a.Logger, err)
		return
	}
	a.writeJSON(w, ev)
}

func (a *api) handleRegionalCurrent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("kp") == "" {
		snap, found, err := a.Snapshots.GetLatest(r.Context(), storage.KindRegional, storage.LatestKey)
		if err != nil {
			a.Logger.Warn("failed to read regional snapshot", "error", err)
		}
		if found {
			a.replySnapshot(w, snap)
			return
		}
	}

	kp, err := floatParam(q, "kp", defaultKp)
	if err != nil {
		httpx.WriteEngineError(w, a.Logger, err)
		return
	}
	sw, err := floatParam(q, "sw_speed", 0)
	if err != nil {
		httpx.WriteEngineError(w, a.Logger, err)
		return
	}
	rf, err := a.Climatology.Regional(r.Context(), climatology.Conditions{Kp: kp, SolarWindSpeed: sw})
	if err != nil {
		httpx.WriteEngineError(w, a.Logger, err)
		return
	}
	a.writeJSON(w, rf)
}

func (a *api) handleRegionalBacktest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := requiredTime(q, "start")
	if err != nil {
		httpx.WriteEngineError(w, a.Logger, err)
		return
	}
	end, err := requiredTime(q, "end")
	if err != nil {
		httpx.WriteEngineError(w, a.Logger, err)
		return
	}
	interval, err := durationParam(q, "interval", backtest.DefaultRegionalInterval)
	if err != nil {
		httpx.WriteEngineError(w, a.Logger, err)
		return
	}

	cmp, err := a.Runner.CompareRegional(r.Context(), a.Climatology, backtest.RegionalParams{
		Start:    start,
		End:      end,
		Interval: interval,
	})
	if err != nil {
		httpx.WriteEngineError(w, a.Logger, err)
		return
	}
	a.writeJSON(w, cmp)
}

func (a *api) dateAndKp(q url.Values) (time.Time, float64, error) {
	date, err := timeParam(q, "date", a.Clock.Now().UTC())
	if err != nil {
		return time.Time{}, 0, err
	}
	kp, err := floatParam(q, "kp", defaultKp)
	if err != nil {
		return time.Time{}, 0, err
	}
	return date, kp, nil
}

func (a *api) store(r *http.Request, kind storage.Kind, key string, v any) error {
	snap, err := storage.NewSnapshot(kind, key, a.Clock.Now(), v)
	if err != nil {
		return err
	}
	return a.Snapshots.Put(r.Context(), snap)
}

func (a *api) writeJSON(w http.ResponseWriter, v any) {
	if err := httpx.WriteJSON(w, http.StatusOK, v); err != nil {
		a.Logger.Error("failed to write JSON response", "error", err)
	}
}

func (a *api) recordError(component, reason string) {
	if a.Metrics != nil {
		a.Metrics.RecordError(component, reason)
	}
}

// handleImpact scores sector impacts. Without p24 the probabilities and
// TEC come from the latest live forecast.
func (a *api) handleImpact(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	c := impact.Conditions{Kp: defaultKp, TecMean: regional.DefaultGlobalMean, Latitude: impact.DefaultLatitude}

	if q.Get("p24") == "" {
		snap, found, err := a.Snapshots.GetLatest(r.Context(), storage.KindForecast, storage.LatestKey)
		if err != nil {
			httpx.WriteEngineError(w, a.Logger, err)
			return
		}
		if !found {
			httpx.WriteErrorMessage(w, http.StatusNotFound, "no live forecast available; pass p24")
			return
		}
		var fc ensemble.Forecast
		if err := snap.Decode(&fc); err != nil {
			httpx.WriteEngineError(w, a.Logger, err)
			return
		}
		c.Probability24h, c.Probability48h = fc.Probability24h, fc.Probability48h
		if len(fc.ValueForecast) > 0 {
			c.TecMean = fc.ValueForecast[0]
		}
	}

	var err error
	for _, f := range []struct {
		key string
		dst *float64
	}{
		{"p24", &c.Probability24h},
		{"p48", &c.Probability48h},
		{"kp", &c.Kp},
		{"tec", &c.TecMean},
		{"dst", &c.Dst},
		{"lat", &c.Latitude},
	} {
		if *f.dst, err = floatParam(q, f.key, *f.dst); err != nil {
			httpx.WriteEngineError(w, a.Logger, err)
			return
		}
	}
	if q.Get("p24") != "" && q.Get("p48") == "" {
		c.Probability48h = c.Probability24h
	}

	res, err := impact.Assess(c)
	if err != nil {
		httpx.WriteEngineError(w, a.Logger, err)
		return
	}
	a.writeJSON(w, res)
}
