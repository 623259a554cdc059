package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/HatiCode/stormcast/pkg/measurement"
	"github.com/HatiCode/stormcast/pkg/stormerr"
)

// DefaultCatalogMinDuration is the minimum storm length for catalogs.
const DefaultCatalogMinDuration = 3

// Service detects storms over a measurement store.
type Service struct {
	store  measurement.Store
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewService creates a detection service. A nil clock uses the real clock.
func NewService(store measurement.Store, clock clockwork.Clock, logger *slog.Logger) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, clock: clock, logger: logger}
}

// DetectStorms runs a Kp detector over [start, end].
func (s *Service) DetectStorms(ctx context.Context, start, end time.Time, threshold float64, minDuration int) ([]StormEvent, error) {
	return s.Detect(ctx, start, end, Detector{Threshold: threshold, MinDuration: minDuration, Signal: SignalKp})
}

// Detect runs d over the measurements in [start, end].
func (s *Service) Detect(ctx context.Context, start, end time.Time, d Detector) ([]StormEvent, error) {
	if !start.Before(end) {
		return nil, stormerr.InvalidRun("start %s must be before end %s",
			start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}

	ms, err := s.store.Read(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("read measurements: %w", err)
	}

	evts, err := d.Detect(ms)
	if err != nil {
		return nil, err
	}

	s.logger.Info("storm detection complete",
		"start", start.UTC(),
		"end", end.UTC(),
		"signal", d.Signal.String(),
		"threshold", d.Threshold,
		"rows", len(ms),
		"events", len(evts),
	)
	return evts, nil
}

// RecentCatalog detects Kp storms over the last days and summarises them.
func (s *Service) RecentCatalog(ctx context.Context, days int, threshold float64) (Catalog, error) {
	if days <= 0 {
		return Catalog{}, stormerr.Invalid("days must be positive, got %d", days)
	}
	end := s.clock.Now().UTC()
	start := end.AddDate(0, 0, -days)

	evts, err := s.DetectStorms(ctx, start, end, threshold, DefaultCatalogMinDuration)
	if err != nil {
		return Catalog{}, err
	}
	return NewCatalog(start, end, evts), nil
}
