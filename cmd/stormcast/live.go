package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/HatiCode/stormcast/pkg/climatology"
	"github.com/HatiCode/stormcast/pkg/ensemble"
	"github.com/HatiCode/stormcast/pkg/feed"
	"github.com/HatiCode/stormcast/pkg/history"
	"github.com/HatiCode/stormcast/pkg/measurement"
	"github.com/HatiCode/stormcast/pkg/oracle"
	"github.com/HatiCode/stormcast/pkg/publish"
	"github.com/HatiCode/stormcast/pkg/regional"
	"github.com/HatiCode/stormcast/pkg/storage"
)

// feedWindow is how far back each collection reaches. Twice the oracle
// window so a restart refills the ring in one tick.
const feedWindow = 2 * oracle.WindowSize * time.Hour

// liveRecorder receives live loop telemetry.
type liveRecorder interface {
	RecordCollect(d time.Duration)
	SetForecast(f ensemble.Forecast)
	SetForecastAge(seconds float64)
	SetRegionalRisk(risks map[string]regional.Risk)
	RecordPublished(eventType string, n int)
	RecordError(component, reason string)
}

// Live runs the forecast loop: collect → history → blend → regional →
// store → publish.
type Live struct {
	feed      feed.Feed
	blender   *ensemble.Blender
	clim      *climatology.Service
	store     storage.Store
	publisher publish.Publisher
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   liveRecorder

	history    *history.Ring[measurement.Measurement]
	last       time.Time
	forecastAt time.Time
}

// NewLive creates the loop. A nil publisher disables publishing and a nil
// recorder disables telemetry.
func NewLive(
	f feed.Feed,
	blender *ensemble.Blender,
	clim *climatology.Service,
	store storage.Store,
	publisher publish.Publisher,
	clock clockwork.Clock,
	logger *slog.Logger,
	metrics liveRecorder,
) *Live {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if publisher == nil {
		publisher = publish.NopPublisher{}
	}
	return &Live{
		feed:      f,
		blender:   blender,
		clim:      clim,
		store:     store,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
		history:   history.NewRing[measurement.Measurement](oracle.WindowSize),
	}
}

// Run executes Tick every interval until ctx is canceled.
func (l *Live) Run(ctx context.Context, interval time.Duration) error {
	l.logger.Info("starting live loop", "interval", interval, "feed", l.feed.Name())

	ticker := l.clock.NewTicker(interval)
	defer ticker.Stop()

	if err := l.Tick(ctx); err != nil {
		l.logger.Error("initial live tick failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("live loop stopped")
			return ctx.Err()
		case <-ticker.Chan():
			if err := l.Tick(ctx); err != nil {
				l.logger.Error("live tick failed", "error", err)
			}
		}
	}
}

// Tick performs one cycle. It returns nil without forecasting while the
// history holds fewer than a full window of rows.
func (l *Live) Tick(ctx context.Context) error {
	start := l.clock.Now()
	if l.metrics != nil && !l.forecastAt.IsZero() {
		l.metrics.SetForecastAge(start.Sub(l.forecastAt).Seconds())
	}

	added, err := l.collect(ctx)
	if err != nil {
		l.recordError("feed", "collect_failed")
		return fmt.Errorf("collect: %w", err)
	}

	if !l.history.Full() {
		l.logger.Info("warming up history", "rows", l.history.Len(), "need", l.history.Cap())
		return nil
	}
	if added == 0 {
		l.logger.Debug("no new measurements")
	}

	w, err := oracle.NewWindow(l.history.Snapshot())
	if err != nil {
		return fmt.Errorf("window: %w", err)
	}

	fc, err := l.blender.Blend(ctx, w)
	if err != nil {
		l.recordError("ensemble", "blend_failed")
		return fmt.Errorf("blend: %w", err)
	}
	if fc.Degraded {
		l.recordError("oracle", "predict_failed")
	}

	rf, err := l.clim.Regional(ctx, climatology.ConditionsFrom(w.Last()))
	if err != nil {
		l.recordError("climatology", "regional_failed")
		return fmt.Errorf("regional: %w", err)
	}

	now := l.clock.Now()
	if err := l.put(ctx, storage.KindForecast, now, fc); err != nil {
		return err
	}
	if err := l.put(ctx, storage.KindRegional, now, rf); err != nil {
		return err
	}
	l.forecastAt = now

	if l.metrics != nil {
		l.metrics.SetForecast(fc)
		risks := make(map[string]regional.Risk, len(rf.Regions))
		for code, p := range rf.Regions {
			risks[code] = p.Risk
		}
		l.metrics.SetRegionalRisk(risks)
	}

	if err := l.publisher.PublishForecast(ctx, fc); err != nil {
		l.recordError("publish", "forecast_failed")
		l.logger.Warn("failed to publish forecast", "error", err)
	} else if l.metrics != nil {
		l.metrics.RecordPublished(publish.EventTypeForecast, 1)
	}

	l.logger.Info("live tick complete",
		"window_end", w.End(),
		"probability_24h", fc.Probability24h,
		"provenance", fc.Provenance,
		"global_risk", rf.Global.Risk.Level,
		"total_ms", l.clock.Since(start).Milliseconds(),
	)
	return nil
}

// collect appends rows newer than the last one seen, skipping sentinel Kp.
func (l *Live) collect(ctx context.Context) (int, error) {
	start := l.clock.Now()
	ms, err := l.feed.Collect(ctx, feedWindow)
	if err != nil {
		return 0, err
	}
	if l.metrics != nil {
		l.metrics.RecordCollect(l.clock.Since(start))
	}

	added := 0
	for _, m := range ms {
		if !m.ValidKp() || !m.Timestamp.After(l.last) {
			continue
		}
		l.history.Append(m)
		l.last = m.Timestamp
		added++
	}

	l.logger.Debug("collected measurements",
		"feed", l.feed.Name(),
		"rows", len(ms),
		"added", added,
	)
	return added, nil
}

func (l *Live) put(ctx context.Context, kind storage.Kind, at time.Time, v any) error {
	snap, err := storage.NewSnapshot(kind, storage.LatestKey, at, v)
	if err != nil {
		return err
	}
	if err := l.store.Put(ctx, snap); err != nil {
		l.recordError("store", "put_failed")
		return fmt.Errorf("store %s: %w", kind, err)
	}
	return nil
}

func (l *Live) recordError(component, reason string) {
	if l.metrics != nil {
		l.metrics.RecordError(component, reason)
	}
}
