// Package scoring converts paired predicted and actual storm probabilities
// into regression and classification metrics.
//
// All values are on the 0-100 scale. Both series are binarised with the
// same threshold (value >= threshold is a storm). Every 0/0 ratio resolves
// to 0. Score has no state and may be called concurrently.
package scoring

import (
	"math"

	"github.com/HatiCode/stormcast/pkg/stormerr"
)

const epsilon = 1e-10

// Metrics is the full score of one (predicted, actual, threshold) triple.
type Metrics struct {
	MSE  float64 `json:"mse"`
	RMSE float64 `json:"rmse"`
	MAE  float64 `json:"mae"`
	MAPE float64 `json:"mape"`
	R2   float64 `json:"r2_score"`

	TruePositives  int `json:"true_positives"`
	TrueNegatives  int `json:"true_negatives"`
	FalsePositives int `json:"false_positives"`
	FalseNegatives int `json:"false_negatives"`

	Accuracy       float64 `json:"accuracy"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1             float64 `json:"f1_score"`
	HitRate        float64 `json:"hit_rate"`
	FalseAlarmRate float64 `json:"false_alarm_rate"`

	Total           int     `json:"total_predictions"`
	ActualStorms    int     `json:"actual_storms"`
	PredictedStorms int     `json:"predicted_storms"`
	Threshold       float64 `json:"threshold"`
}

// Score computes Metrics. Mismatched lengths are rejected; empty input
// yields all zeros.
func Score(predicted, actual []float64, threshold float64) (Metrics, error) {
	if len(predicted) != len(actual) {
		return Metrics{}, stormerr.Invalid("predicted has %d values, actual has %d", len(predicted), len(actual))
	}

	m := Metrics{Threshold: threshold, Total: len(actual)}
	if len(actual) == 0 {
		return m, nil
	}

	n := float64(len(actual))
	var sumSq, sumAbs, sumActual float64
	for i := range actual {
		d := actual[i] - predicted[i]
		sumSq += d * d
		sumAbs += math.Abs(d)
		sumActual += actual[i]
	}
	m.MSE = sumSq / n
	m.RMSE = math.Sqrt(m.MSE)
	m.MAE = sumAbs / n

	meanActual := sumActual / n
	if meanActual != 0 {
		var sumPct float64
		for i := range actual {
			sumPct += math.Abs((actual[i] - predicted[i]) / (actual[i] + epsilon))
		}
		m.MAPE = sumPct / n * 100
	}

	var ssTot float64
	for _, a := range actual {
		d := a - meanActual
		ssTot += d * d
	}
	if ssTot != 0 {
		m.R2 = 1 - sumSq/(ssTot+epsilon)
	}

	for i := range actual {
		p := predicted[i] >= threshold
		a := actual[i] >= threshold
		switch {
		case p && a:
			m.TruePositives++
		case !p && !a:
			m.TrueNegatives++
		case p && !a:
			m.FalsePositives++
		default:
			m.FalseNegatives++
		}
		if p {
			m.PredictedStorms++
		}
		if a {
			m.ActualStorms++
		}
	}

	tp := float64(m.TruePositives)
	tn := float64(m.TrueNegatives)
	fp := float64(m.FalsePositives)
	fn := float64(m.FalseNegatives)

	m.Accuracy = (tp + tn) / n
	m.Precision = ratio(tp, tp+fp)
	m.Recall = ratio(tp, tp+fn)
	m.F1 = ratio(2*m.Precision*m.Recall, m.Precision+m.Recall)
	m.HitRate = m.Recall
	m.FalseAlarmRate = ratio(fp, fp+tn)
	return m, nil
}

// Youden is sensitivity + specificity - 1.
func (m Metrics) Youden() float64 {
	return m.Recall + (1 - m.FalseAlarmRate) - 1
}

// Cost is the weighted count of false alarms and missed storms.
func (m Metrics) Cost(costFalseAlarm, costMissedStorm float64) float64 {
	return float64(m.FalsePositives)*costFalseAlarm + float64(m.FalseNegatives)*costMissedStorm
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}
