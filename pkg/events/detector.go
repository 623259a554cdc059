// Package events turns a continuous activity series into discrete storm
// events.
//
// A storm event is a maximal run of consecutive valid measurements whose
// signal meets the threshold. Runs shorter than the minimum duration are
// dropped whole; a short dip below threshold splits a storm into two runs
// and the runs are never merged back together.
package events

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/HatiCode/stormcast/pkg/measurement"
	"github.com/HatiCode/stormcast/pkg/stormerr"
)

// Signal selects the series the detector scans.
type Signal int

const (
	// SignalKp scans the geomagnetic activity index.
	SignalKp Signal = iota

	// SignalProbability scans the ground-truth storm probability (0-100).
	SignalProbability
)

func (s Signal) String() string {
	switch s {
	case SignalProbability:
		return "probability"
	default:
		return "kp"
	}
}

// ParseSignal accepts "kp" or "probability". Empty means kp.
func ParseSignal(s string) (Signal, error) {
	switch strings.ToLower(s) {
	case "", "kp":
		return SignalKp, nil
	case "probability", "storm_probability":
		return SignalProbability, nil
	default:
		return SignalKp, stormerr.Invalid("unknown signal %q (must be kp or probability)", s)
	}
}

// value extracts the signal, reporting false for sentinel rows.
func (s Signal) value(m measurement.Measurement) (float64, bool) {
	switch s {
	case SignalProbability:
		if !m.HasGroundTruth() {
			return 0, false
		}
		return *m.StormProbability, true
	default:
		if math.IsNaN(m.Kp) || !m.ValidKp() {
			return 0, false
		}
		return m.Kp, true
	}
}

// StormEvent is one detected storm. DurationHours is the number of
// measurements in the run.
type StormEvent struct {
	ID            string    `json:"storm_id"`
	Start         time.Time `json:"start_time"`
	End           time.Time `json:"end_time"`
	DurationHours int       `json:"duration_hours"`
	Signal        string    `json:"signal"`
	PeakValue     float64   `json:"peak_value"`
	PeakTime      time.Time `json:"peak_time"`
	MeanValue     float64   `json:"mean_value"`
	PeakKp        float64   `json:"peak_kp"`
	MaxTec        float64   `json:"max_tec"`
	MeanTec       float64   `json:"avg_tec"`
	Severity
}

// EventID formats the identifier of an event starting at t.
func EventID(t time.Time) string {
	return "storm_" + t.UTC().Format("20060102_1504")
}

// Detector finds storm events in an ascending measurement series.
type Detector struct {
	Threshold   float64
	MinDuration int
	Signal      Signal
}

// Validate rejects a negative threshold or a minimum duration below one.
func (d Detector) Validate() error {
	if d.Threshold < 0 || math.IsNaN(d.Threshold) {
		return stormerr.Invalid("threshold must be non-negative, got %v", d.Threshold)
	}
	if d.MinDuration < 1 {
		return stormerr.Invalid("minimum duration must be at least 1, got %d", d.MinDuration)
	}
	return nil
}

// Detect scans ms in a single pass. Sentinel rows are skipped entirely:
// they neither start, extend nor end a run.
func (d Detector) Detect(ms []measurement.Measurement) ([]StormEvent, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	var (
		out []StormEvent
		run []measurement.Measurement
	)

	flush := func() {
		if len(run) >= d.MinDuration {
			out = append(out, d.summarize(run))
		}
		run = nil
	}

	for _, m := range ms {
		v, ok := d.Signal.value(m)
		if !ok {
			continue
		}
		if v >= d.Threshold {
			run = append(run, m)
			continue
		}
		if run != nil {
			flush()
		}
	}
	if run != nil {
		flush()
	}

	if out == nil {
		out = []StormEvent{}
	}
	return out, nil
}

func (d Detector) summarize(run []measurement.Measurement) StormEvent {
	first := run[0]
	peakValue, _ := d.Signal.value(first)
	peakTime := first.Timestamp
	sum := 0.0
	peakKp := 0.0
	tecSum, tecMax := 0.0, 0.0
	tecCount := 0

	for _, m := range run {
		v, _ := d.Signal.value(m)
		sum += v
		if v > peakValue {
			peakValue = v
			peakTime = m.Timestamp
		}
		if m.ValidKp() && m.Kp > peakKp {
			peakKp = m.Kp
		}
		if m.ValidTec() {
			tecSum += m.TecMean
			tecCount++
			if m.TecMean > tecMax {
				tecMax = m.TecMean
			}
		}
	}

	meanTec := 0.0
	if tecCount > 0 {
		meanTec = tecSum / float64(tecCount)
	}

	return StormEvent{
		ID:            EventID(first.Timestamp),
		Start:         first.Timestamp.UTC(),
		End:           run[len(run)-1].Timestamp.UTC(),
		DurationHours: len(run),
		Signal:        d.Signal.String(),
		PeakValue:     peakValue,
		PeakTime:      peakTime.UTC(),
		MeanValue:     sum / float64(len(run)),
		PeakKp:        peakKp,
		MaxTec:        tecMax,
		MeanTec:       meanTec,
		Severity:      Classify(peakKp),
	}
}

func (e StormEvent) String() string {
	return fmt.Sprintf("%s %s %s..%s (%dh, peak %.1f)", e.ID, e.GScale,
		e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339), e.DurationHours, e.PeakValue)
}
