package backtest

import (
	"math"
	"sort"
	"time"

	"github.com/HatiCode/stormcast/pkg/scoring"
)

// Sample is one (prediction, outcome) pair. Probabilities are 0-100.
type Sample struct {
	IssuedAt       time.Time `json:"timestamp"`
	TargetAt       time.Time `json:"target_time"`
	OutcomeAt      time.Time `json:"outcome_time"`
	Interpolated   bool      `json:"interpolated,omitempty"`
	Predicted      float64   `json:"predicted_probability"`
	Actual         float64   `json:"actual_probability"`
	Error          float64   `json:"error"`
	AbsError       float64   `json:"absolute_error"`
	PredictedStorm bool      `json:"predicted_storm"`
	ActualStorm    bool      `json:"actual_storm"`
	Correct        bool      `json:"correct_classification"`
}

func newSample(issued, target time.Time, m match, predicted, threshold float64) Sample {
	s := Sample{
		IssuedAt:     issued,
		TargetAt:     target,
		OutcomeAt:    m.at,
		Interpolated: m.interpolated,
		Predicted:    predicted,
		Actual:       m.value,
		Error:        predicted - m.value,
	}
	s.AbsError = math.Abs(s.Error)
	s.PredictedStorm = predicted >= threshold
	s.ActualStorm = m.value >= threshold
	s.Correct = s.PredictedStorm == s.ActualStorm
	return s
}

// Skipped counts ticks that produced no sample, by reason.
type Skipped struct {
	NoWindow    int `json:"no_window"`
	NoOutcome   int `json:"no_outcome"`
	OracleError int `json:"oracle_error"`
}

// Total is the number of skipped ticks.
func (s Skipped) Total() int { return s.NoWindow + s.NoOutcome + s.OracleError }

// Metadata describes a run.
type Metadata struct {
	RunID            string      `json:"run_id"`
	Start            time.Time   `json:"start_date"`
	End              time.Time   `json:"end_date"`
	DurationDays     int         `json:"duration_days"`
	Threshold        float64     `json:"storm_threshold"`
	StrideHours      float64     `json:"sample_interval_hours"`
	HorizonHours     float64     `json:"horizon_hours"`
	ToleranceHours   float64     `json:"tolerance_hours"`
	Policy           MatchPolicy `json:"match_policy"`
	Ticks            int         `json:"ticks"`
	TotalPredictions int         `json:"total_predictions"`
	Oracle           string      `json:"oracle"`
	Skipped          Skipped     `json:"skipped"`
}

// Analysis highlights individual samples.
type Analysis struct {
	Best         []Sample `json:"best_predictions"`
	Worst        []Sample `json:"worst_predictions"`
	MissedStorms []Sample `json:"missed_storms"`
	FalseAlarms  []Sample `json:"false_alarms"`
	CorrectCount int      `json:"correct_predictions_count"`
}

// Summary is the headline error profile.
type Summary struct {
	AverageError    float64 `json:"average_error"`
	AverageAbsError float64 `json:"average_absolute_error"`
	MaxError        float64 `json:"max_error"`
	MinError        float64 `json:"min_error"`
	DetectionRate   float64 `json:"storm_detection_rate"`
	FalseAlarmRate  float64 `json:"false_alarm_rate"`
}

// Result is a complete backtest report.
type Result struct {
	Metadata    Metadata        `json:"metadata"`
	Metrics     scoring.Metrics `json:"metrics"`
	Predictions []Sample        `json:"predictions"`
	Analysis    Analysis        `json:"analysis"`
	Summary     Summary         `json:"summary"`
}

// Series splits samples into parallel predicted and actual slices.
func Series(samples []Sample) (predicted, actual []float64) {
	predicted = make([]float64, len(samples))
	actual = make([]float64, len(samples))
	for i, s := range samples {
		predicted[i] = s.Predicted
		actual[i] = s.Actual
	}
	return predicted, actual
}

const highlightCount = 10

// analyze ranks samples by absolute error. Worst is ordered worst first.
func analyze(samples []Sample) Analysis {
	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].AbsError < sorted[j].AbsError })

	k := min(highlightCount, len(sorted))
	a := Analysis{
		Best:         append([]Sample(nil), sorted[:k]...),
		Worst:        make([]Sample, 0, k),
		MissedStorms: []Sample{},
		FalseAlarms:  []Sample{},
	}
	for i := len(sorted) - 1; i >= len(sorted)-k; i-- {
		a.Worst = append(a.Worst, sorted[i])
	}
	for _, s := range samples {
		switch {
		case s.ActualStorm && !s.PredictedStorm:
			a.MissedStorms = append(a.MissedStorms, s)
		case s.PredictedStorm && !s.ActualStorm:
			a.FalseAlarms = append(a.FalseAlarms, s)
		}
		if s.Correct {
			a.CorrectCount++
		}
	}
	return a
}

func summarize(samples []Sample, m scoring.Metrics) Summary {
	if len(samples) == 0 {
		return Summary{}
	}
	var sumErr, sumAbs float64
	maxAbs, minAbs := samples[0].AbsError, samples[0].AbsError
	for _, s := range samples {
		sumErr += s.Error
		sumAbs += s.AbsError
		maxAbs = math.Max(maxAbs, s.AbsError)
		minAbs = math.Min(minAbs, s.AbsError)
	}
	n := float64(len(samples))
	return Summary{
		AverageError:    round2(sumErr / n),
		AverageAbsError: round2(sumAbs / n),
		MaxError:        round2(maxAbs),
		MinError:        round2(minAbs),
		DetectionRate:   round2(m.Recall * 100),
		FalseAlarmRate:  round2(m.FalseAlarmRate * 100),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
