package events

import (
	"math"
	"time"
)

// Catalog summarises the storms detected over a period.
type Catalog struct {
	Start                time.Time      `json:"start_date"`
	End                  time.Time      `json:"end_date"`
	Days                 int            `json:"days"`
	StormCount           int            `json:"storm_count"`
	SeverityDistribution map[string]int `json:"severity_distribution"`
	TotalStormHours      int            `json:"total_storm_hours"`
	AverageDurationHours float64        `json:"avg_storm_duration_hours"`
	Strongest            *StormEvent    `json:"strongest_storm,omitempty"`
	Longest              *StormEvent    `json:"longest_storm,omitempty"`
	Storms               []StormEvent   `json:"storms"`
}

// NewCatalog aggregates evts. Ties for strongest and longest go to the
// earlier event.
func NewCatalog(start, end time.Time, evts []StormEvent) Catalog {
	c := Catalog{
		Start:                start.UTC(),
		End:                  end.UTC(),
		Days:                 int(math.Round(end.Sub(start).Hours() / 24)),
		StormCount:           len(evts),
		SeverityDistribution: make(map[string]int),
		Storms:               evts,
	}
	if c.Storms == nil {
		c.Storms = []StormEvent{}
	}

	for i := range evts {
		e := &evts[i]
		c.SeverityDistribution[e.GScale]++
		c.TotalStormHours += e.DurationHours
		if c.Strongest == nil || e.PeakKp > c.Strongest.PeakKp {
			c.Strongest = e
		}
		if c.Longest == nil || e.DurationHours > c.Longest.DurationHours {
			c.Longest = e
		}
	}
	if len(evts) > 0 {
		c.AverageDurationHours = float64(c.TotalStormHours) / float64(len(evts))
	}
	return c
}
