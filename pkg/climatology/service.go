package climatology

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/HatiCode/stormcast/pkg/measurement"
	"github.com/HatiCode/stormcast/pkg/regional"
	"github.com/HatiCode/stormcast/pkg/stormerr"
)

// Default training years.
const (
	DefaultFirstYear = 2015
	DefaultLastYear  = 2022
)

// DefaultYears returns DefaultFirstYear..DefaultLastYear.
func DefaultYears() []int {
	return Years(DefaultFirstYear, DefaultLastYear)
}

// Years returns the inclusive range from..to.
func Years(from, to int) []int {
	var out []int
	for y := from; y <= to; y++ {
		out = append(out, y)
	}
	return out
}

// Service holds one climatology table per region. Tables are replaced
// atomically by Build; lookups never observe a partial build.
type Service struct {
	store  measurement.Store
	clock  clockwork.Clock
	logger *slog.Logger

	mu      sync.RWMutex
	tables  map[string]*Table
	years   []int
	builtAt time.Time
}

// NewService creates an unbuilt service. A nil clock uses the real clock.
func NewService(store measurement.Store, clock clockwork.Clock, logger *slog.Logger) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		clock:  clock,
		logger: logger,
		tables: map[string]*Table{},
	}
}

// Build reads every measurement in the training years and builds one
// table per region concurrently. It returns the observed cell count per
// region code. An empty years list uses DefaultYears.
func (s *Service) Build(ctx context.Context, years []int) (map[string]int, error) {
	if len(years) == 0 {
		years = DefaultYears()
	}
	first, last := years[0], years[0]
	for _, y := range years {
		first = min(first, y)
		last = max(last, y)
	}

	start := time.Date(first, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(last, time.December, 31, 23, 59, 59, 0, time.UTC)

	s.logger.Info("building climatology", "from", first, "to", last)

	ms, err := s.store.Read(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("read training data: %w", err)
	}
	if len(ms) == 0 {
		return nil, &stormerr.DataInsufficientError{What: "climatology rows", Have: 0, Need: 1}
	}

	rs := regional.All()
	built := make([]*Table, len(rs))

	g, gctx := errgroup.WithContext(ctx)
	for i, r := range rs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			built[i] = Build(ms, TecMean, r)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	tables := make(map[string]*Table, len(rs))
	counts := make(map[string]int, len(rs))
	for i, r := range rs {
		tables[r.Code] = built[i]
		counts[r.Code] = built[i].Observed()
		s.logger.Debug("region climatology built", "region", r.Code, "cells", built[i].Observed())
	}

	s.mu.Lock()
	s.tables = tables
	s.years = append([]int(nil), years...)
	s.builtAt = s.clock.Now().UTC()
	s.mu.Unlock()

	s.logger.Info("climatology built",
		"rows", len(ms),
		"global_mean", built[0].GlobalMean(),
		"regions", len(tables),
	)
	return counts, nil
}

// Built reports whether Build has completed at least once.
func (s *Service) Built() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tables) > 0
}

// Table returns the table for a region, if built.
func (s *Service) Table(code string) (*Table, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[code]
	return t, ok
}

// GlobalMean is the training mean, or the default before the first build.
func (s *Service) GlobalMean() float64 {
	if t, ok := s.Table(regional.Global); ok {
		return t.GlobalMean()
	}
	return regional.DefaultGlobalMean
}

// lookup reports ok=false when the region has no table yet.
func (s *Service) lookup(r regional.Region, date time.Time, kp float64) (float64, bool) {
	t, ok := s.Table(r.Code)
	if !ok {
		return 0, false
	}
	return t.Lookup(date, kp), true
}

// Get returns the climatological value for a region. Before the first
// build it returns the region baseline from the default global mean.
func (s *Service) Get(code string, date time.Time, kp float64) (float64, error) {
	r, ok := regional.Lookup(code)
	if !ok {
		return 0, stormerr.Invalid("unknown region %q", code)
	}
	if v, ok := s.lookup(r, date, kp); ok {
		return v, nil
	}
	return regional.DefaultGlobalMean * r.BaselineFactor, nil
}

// Summary describes the current build.
type Summary struct {
	Years      []int          `json:"train_years"`
	BuiltAt    time.Time      `json:"built_at"`
	GlobalMean float64        `json:"global_mean"`
	Cells      map[string]int `json:"bin_counts"`
}

// Summary returns the build description, or false before the first build.
func (s *Service) Summary() (Summary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.tables) == 0 {
		return Summary{}, false
	}
	cells := make(map[string]int, len(s.tables))
	var mean float64
	for code, t := range s.tables {
		cells[code] = t.Observed()
		mean = t.GlobalMean()
	}
	return Summary{
		Years:      append([]int(nil), s.years...),
		BuiltAt:    s.builtAt,
		GlobalMean: mean,
		Cells:      cells,
	}, true
}

// DayForecast is one day of a multi-day climatology series.
type DayForecast struct {
	Date      string  `json:"date"`
	DayOfYear int     `json:"doy"`
	Tec       float64 `json:"tec"`
}

// Forecast returns a days-long daily series per region starting at start.
// code "" or "all" selects every region.
func (s *Service) Forecast(code string, start time.Time, kp float64, days int) (map[string][]DayForecast, error) {
	if days <= 0 {
		return nil, stormerr.Invalid("days must be positive, got %d", days)
	}

	var rs []regional.Region
	if code == "" || code == "all" {
		rs = regional.All()
	} else {
		r, ok := regional.Lookup(code)
		if !ok {
			return nil, stormerr.Invalid("unknown region %q", code)
		}
		rs = []regional.Region{r}
	}

	out := make(map[string][]DayForecast, len(rs))
	for _, r := range rs {
		series := make([]DayForecast, 0, days)
		for d := 0; d < days; d++ {
			date := start.UTC().AddDate(0, 0, d)
			v, err := s.Get(r.Code, date, kp)
			if err != nil {
				return nil, err
			}
			series = append(series, DayForecast{
				Date:      date.Format(time.DateOnly),
				DayOfYear: date.YearDay(),
				Tec:       round2(v),
			})
		}
		out[r.Code] = series
	}
	return out, nil
}

// Comparison is one region in a cross-region comparison.
type Comparison struct {
	Region      string  `json:"region"`
	Code        string  `json:"code"`
	LatMin      float64 `json:"lat_min"`
	LatMax      float64 `json:"lat_max"`
	Tec         float64 `json:"tec"`
	Description string  `json:"description"`
}

// Compare ranks the latitude bands (global excluded) by climatological
// value, highest first.
func (s *Service) Compare(date time.Time, kp float64) []Comparison {
	var out []Comparison
	for _, r := range regional.All() {
		if r.Code == regional.Global {
			continue
		}
		v, _ := s.Get(r.Code, date, kp)
		out = append(out, Comparison{
			Region:      r.Name,
			Code:        r.Code,
			LatMin:      r.LatMin,
			LatMax:      r.LatMax,
			Tec:         round2(v),
			Description: r.Description,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Tec > out[j].Tec })
	return out
}

// EvolutionPoint is one step of a regional time series.
type EvolutionPoint struct {
	Timestamp    time.Time      `json:"timestamp"`
	HourOffset   int            `json:"hour_offset"`
	Tec          float64        `json:"tec"`
	RiskLevel    regional.Level `json:"risk_level"`
	RiskSeverity int            `json:"risk_severity"`
}

// Evolution is an hourly climatology series for one region.
type Evolution struct {
	Region        string           `json:"region"`
	Code          string           `json:"code"`
	ForecastStart time.Time        `json:"forecast_start"`
	ForecastHours int              `json:"forecast_hours"`
	TimeSeries    []EvolutionPoint `json:"time_series"`
}

// Evolution returns values from now to now+hours (inclusive) every
// interval hours at a fixed activity level.
func (s *Service) Evolution(code string, hours, interval int, kp float64) (Evolution, error) {
	r, ok := regional.Lookup(code)
	if !ok {
		return Evolution{}, stormerr.Invalid("unknown region %q", code)
	}
	if hours <= 0 || interval <= 0 {
		return Evolution{}, stormerr.Invalid("hours and interval must be positive, got %d and %d", hours, interval)
	}

	now := s.clock.Now().UTC()
	ev := Evolution{Region: r.Name, Code: r.Code, ForecastStart: now, ForecastHours: hours}
	for h := 0; h <= hours; h += interval {
		ts := now.Add(time.Duration(h) * time.Hour)
		v, _ := s.Get(r.Code, ts, kp)
		risk := regional.AssessRisk(r.Code, v)
		ev.TimeSeries = append(ev.TimeSeries, EvolutionPoint{
			Timestamp:    ts,
			HourOffset:   h,
			Tec:          round2(v),
			RiskLevel:    risk.Level,
			RiskSeverity: risk.Severity,
		})
	}
	return ev, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
