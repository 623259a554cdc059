// Package climatology builds seasonal lookup tables of an ionospheric
// statistic keyed by day of year and activity bin.
//
// A Table answers every (day, bin) query: exact observed cells first, then
// the nearest observed neighbour, then the region baseline. Cells that were
// never observed are back-filled with the training mean and flagged so
// callers can tell them apart.
package climatology

import (
	"math"
	"time"

	"github.com/HatiCode/stormcast/pkg/measurement"
	"github.com/HatiCode/stormcast/pkg/regional"
)

const (
	MinDay = 1
	MaxDay = 366
	Bins   = 10
)

// Cell is one (day, bin) entry.
type Cell struct {
	Value  float64 `json:"value"`
	Count  int     `json:"count"`
	Filled bool    `json:"filled"`
}

// Statistic extracts the binned value from a row. ok is false for rows that
// must not contribute.
type Statistic func(m measurement.Measurement) (v float64, ok bool)

// TecMean bins the TEC mean, skipping fill values.
func TecMean(m measurement.Measurement) (float64, bool) {
	return m.TecMean, m.ValidTec()
}

// Table is an immutable climatology for one region.
type Table struct {
	region     regional.Region
	globalMean float64
	observed   int
	cells      [MaxDay][Bins]Cell
}

// Bin maps an activity index onto [0, Bins-1].
func Bin(kp float64) int {
	b := int(math.Floor(kp))
	if b < 0 {
		return 0
	}
	if b > Bins-1 {
		return Bins - 1
	}
	return b
}

// Build bins every row with a valid statistic and activity index by
// (day of year, Bin(kp)) and averages the region-adjusted values.
func Build(ms []measurement.Measurement, stat Statistic, region regional.Region) *Table {
	t := &Table{region: region, globalMean: regional.DefaultGlobalMean}

	var sum float64
	var n int
	for _, m := range ms {
		v, ok := stat(m)
		if !ok || !m.ValidKp() {
			continue
		}
		sum += v
		n++
	}
	if n > 0 {
		t.globalMean = sum / float64(n)
	}

	var sums [MaxDay][Bins]float64
	for _, m := range ms {
		v, ok := stat(m)
		if !ok || !m.ValidKp() {
			continue
		}
		d := m.Timestamp.UTC().YearDay() - 1
		b := Bin(m.Kp)
		sums[d][b] += regional.Adjust(v, m.Kp, t.globalMean, region)
		t.cells[d][b].Count++
	}

	for d := range t.cells {
		for b := range t.cells[d] {
			c := &t.cells[d][b]
			if c.Count == 0 {
				c.Value = t.globalMean
				c.Filled = true
				continue
			}
			c.Value = sums[d][b] / float64(c.Count)
			t.observed++
		}
	}
	return t
}

// Region returns the region the table was built for.
func (t *Table) Region() regional.Region { return t.region }

// GlobalMean is the unadjusted mean of the training statistic.
func (t *Table) GlobalMean() float64 { return t.globalMean }

// Observed is the number of cells backed by at least one row.
func (t *Table) Observed() int { return t.observed }

// Cell returns the entry for (day, bin); ok is false when out of range.
func (t *Table) Cell(day, bin int) (Cell, bool) {
	if day < MinDay || day > MaxDay || bin < 0 || bin >= Bins {
		return Cell{}, false
	}
	return t.cells[day-1][bin], true
}

func (t *Table) observedCell(day, bin int) (float64, bool) {
	c, ok := t.Cell(day, bin)
	if !ok || c.Filled {
		return 0, false
	}
	return c.Value, true
}

// Baseline is the last-resort value: the global mean scaled to the region.
func (t *Table) Baseline() float64 {
	return t.globalMean * t.region.BaselineFactor
}

// Lookup returns the climatological value for date at activity kp.
// Neighbouring days wrap over a 365-day year.
func (t *Table) Lookup(date time.Time, kp float64) float64 {
	day := date.UTC().YearDay()
	bin := Bin(kp)

	if v, ok := t.observedCell(day, bin); ok {
		return v
	}
	for _, dOff := range []int{-1, 0, 1} {
		for _, bOff := range []int{-1, 0, 1} {
			if v, ok := t.observedCell(wrapDay(day+dOff), clampBin(bin+bOff)); ok {
				return v
			}
		}
	}
	return t.Baseline()
}

func wrapDay(d int) int {
	m := (d - 1) % 365
	if m < 0 {
		m += 365
	}
	return m + 1
}

func clampBin(b int) int {
	if b < 0 {
		return 0
	}
	if b > Bins-1 {
		return Bins - 1
	}
	return b
}
