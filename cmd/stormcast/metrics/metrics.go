// Package metrics provides Prometheus instrumentation for the stormcast
// service.
//
// Metrics exposed:
//   - stormcast_backtest_ticks_total: ticks by outcome
//   - stormcast_backtest_runs_total: runs by result
//   - stormcast_backtest_duration_seconds: wall time per run
//   - stormcast_oracle_latency_seconds: per-call oracle latency
//   - stormcast_optimizer_duration_seconds: threshold optimisation time
//   - stormcast_feed_collect_seconds: live feed collection time
//   - stormcast_forecast_probability: live storm probability by horizon
//   - stormcast_forecast_age_seconds: age of the stored live forecast
//   - stormcast_forecast_degraded: 1 when the live forecast is climatology-only
//   - stormcast_regional_risk_severity: live risk severity (1-5) by region
//   - stormcast_events_published_total: published messages by event type
//   - stormcast_errors_total: errors by component and reason
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/HatiCode/stormcast/pkg/backtest"
	"github.com/HatiCode/stormcast/pkg/ensemble"
	"github.com/HatiCode/stormcast/pkg/regional"
)

// Metrics holds all service metrics. It satisfies backtest.Recorder.
type Metrics struct {
	BacktestTicks       *prometheus.CounterVec
	BacktestRuns        *prometheus.CounterVec
	BacktestDuration    prometheus.Histogram
	OracleLatency       prometheus.Histogram
	OptimizerDuration   prometheus.Histogram
	FeedCollectSeconds  prometheus.Histogram
	ForecastProbability *prometheus.GaugeVec
	ForecastAgeSeconds  prometheus.Gauge
	ForecastDegraded    prometheus.Gauge
	RegionalRisk        *prometheus.GaugeVec
	EventsPublished     *prometheus.CounterVec
	ErrorsTotal         *prometheus.CounterVec
}

var _ backtest.Recorder = (*Metrics)(nil)

// New registers every metric with reg. The service passes
// prometheus.DefaultRegisterer; tests pass a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		BacktestTicks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stormcast_backtest_ticks_total",
			Help: "Backtest ticks by outcome",
		}, []string{"outcome"}),

		BacktestRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stormcast_backtest_runs_total",
			Help: "Backtest runs by result",
		}, []string{"result"}),

		BacktestDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "stormcast_backtest_duration_seconds",
			Help:    "Wall time of a backtest run",
			Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300},
		}),

		OracleLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "stormcast_oracle_latency_seconds",
			Help:    "Latency of a single oracle call",
			Buckets: prometheus.DefBuckets,
		}),

		OptimizerDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "stormcast_optimizer_duration_seconds",
			Help:    "Time spent optimising a decision threshold",
			Buckets: prometheus.DefBuckets,
		}),

		FeedCollectSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "stormcast_feed_collect_seconds",
			Help:    "Time spent collecting measurements from the live feed",
			Buckets: prometheus.DefBuckets,
		}),

		ForecastProbability: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stormcast_forecast_probability",
			Help: "Live storm probability (0-1) by horizon",
		}, []string{"horizon"}),

		ForecastAgeSeconds: f.NewGauge(prometheus.GaugeOpts{
			Name: "stormcast_forecast_age_seconds",
			Help: "Age of the current live forecast in seconds",
		}),

		ForecastDegraded: f.NewGauge(prometheus.GaugeOpts{
			Name: "stormcast_forecast_degraded",
			Help: "1 when the current live forecast is climatology-only",
		}),

		RegionalRisk: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stormcast_regional_risk_severity",
			Help: "Live ionospheric risk severity (1-5) by region",
		}, []string{"region"}),

		EventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stormcast_events_published_total",
			Help: "Messages published by event type",
		}, []string{"event_type"}),

		ErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stormcast_errors_total",
			Help: "Total number of errors by component and reason",
		}, []string{"component", "reason"}),
	}
}

// RecordTick implements backtest.Recorder.
func (m *Metrics) RecordTick(outcome backtest.TickOutcome) {
	m.BacktestTicks.WithLabelValues(string(outcome)).Inc()
}

// RecordOracleLatency implements backtest.Recorder.
func (m *Metrics) RecordOracleLatency(d time.Duration) {
	m.OracleLatency.Observe(d.Seconds())
}

// RecordRun implements backtest.Recorder.
func (m *Metrics) RecordRun(d time.Duration, samples int, err error) {
	m.BacktestDuration.Observe(d.Seconds())
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.BacktestRuns.WithLabelValues(result).Inc()
}

// RecordOptimize records the time spent optimising.
func (m *Metrics) RecordOptimize(d time.Duration) {
	m.OptimizerDuration.Observe(d.Seconds())
}

// RecordCollect records the time spent collecting from the feed.
func (m *Metrics) RecordCollect(d time.Duration) {
	m.FeedCollectSeconds.Observe(d.Seconds())
}

// SetForecast publishes the headline numbers of a live forecast.
func (m *Metrics) SetForecast(f ensemble.Forecast) {
	m.ForecastProbability.WithLabelValues("24h").Set(f.Probability24h)
	m.ForecastProbability.WithLabelValues("48h").Set(f.Probability48h)
	m.ForecastAgeSeconds.Set(0)
	if f.Degraded {
		m.ForecastDegraded.Set(1)
	} else {
		m.ForecastDegraded.Set(0)
	}
}

// SetForecastAge sets the current forecast age.
func (m *Metrics) SetForecastAge(seconds float64) {
	m.ForecastAgeSeconds.Set(seconds)
}

// SetRegionalRisk sets the severity gauge for every region in risks.
func (m *Metrics) SetRegionalRisk(risks map[string]regional.Risk) {
	for code, r := range risks {
		m.RegionalRisk.WithLabelValues(code).Set(float64(r.Severity))
	}
}

// RecordPublished counts n published messages of one event type.
func (m *Metrics) RecordPublished(eventType string, n int) {
	m.EventsPublished.WithLabelValues(eventType).Add(float64(n))
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, reason string) {
	m.ErrorsTotal.WithLabelValues(component, reason).Inc()
}
