// Package report renders backtest and threshold sweep results as
// interactive HTML charts.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/HatiCode/stormcast/pkg/backtest"
	"github.com/HatiCode/stormcast/pkg/optimizer"
)

// Charter is any chart Render accepts.
type Charter = components.Charter

const (
	chartWidth  = "1100px"
	chartHeight = "450px"
)

// BacktestChart plots predicted against observed storm probability per
// target time, with the decision threshold as a mark line.
func BacktestChart(res backtest.Result) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "Backtest",
			Width:     chartWidth,
			Height:    chartHeight,
		}),
		charts.WithTitleOpts(opts.Title{
			Title: fmt.Sprintf("Backtest %s", res.Metadata.Oracle),
			Subtitle: fmt.Sprintf("%s to %s, %d predictions, accuracy %.2f",
				res.Metadata.Start.UTC().Format(time.DateOnly),
				res.Metadata.End.UTC().Format(time.DateOnly),
				res.Metadata.TotalPredictions,
				res.Metrics.Accuracy),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "probability (%)", Min: 0, Max: 100}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: 100}),
	)

	x := make([]string, len(res.Predictions))
	predicted := make([]opts.LineData, len(res.Predictions))
	actual := make([]opts.LineData, len(res.Predictions))
	for i, s := range res.Predictions {
		x[i] = s.TargetAt.UTC().Format("2006-01-02 15:04")
		predicted[i] = opts.LineData{Value: s.Predicted}
		actual[i] = opts.LineData{Value: s.Actual}
	}

	line.SetXAxis(x).
		AddSeries("Predicted", predicted,
			charts.WithMarkLineNameYAxisItemOpts(opts.MarkLineNameYAxisItem{
				Name:  "threshold",
				YAxis: res.Metadata.Threshold,
			}),
		).
		AddSeries("Actual", actual)
	return line
}

// SweepChart plots the whole-dataset classification scores of every
// candidate threshold and marks the selected one.
func SweepChart(res optimizer.Result) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "Threshold sweep",
			Width:     chartWidth,
			Height:    chartHeight,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Threshold sweep (%s)", res.Method),
			Subtitle: fmt.Sprintf("optimal %.0f, score %.4f, folds %d", res.OptimalThreshold, res.BestScore, res.Folds),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "threshold"}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1}),
	)

	x := make([]string, len(res.Sweep))
	f1 := make([]opts.LineData, len(res.Sweep))
	precision := make([]opts.LineData, len(res.Sweep))
	recall := make([]opts.LineData, len(res.Sweep))
	far := make([]opts.LineData, len(res.Sweep))
	for i, e := range res.Sweep {
		x[i] = thresholdLabel(e.Threshold)
		f1[i] = opts.LineData{Value: e.F1}
		precision[i] = opts.LineData{Value: e.Precision}
		recall[i] = opts.LineData{Value: e.Recall}
		far[i] = opts.LineData{Value: e.FalseAlarmRate}
	}

	line.SetXAxis(x).
		AddSeries("F1", f1,
			charts.WithMarkLineNameXAxisItemOpts(opts.MarkLineNameXAxisItem{
				Name:  "optimal",
				XAxis: thresholdLabel(res.OptimalThreshold),
			}),
		).
		AddSeries("Precision", precision).
		AddSeries("Recall", recall).
		AddSeries("False alarm rate", far)
	return line
}

func thresholdLabel(th float64) string {
	return fmt.Sprintf("%g", th)
}

// Render writes every chart onto one HTML page.
func Render(w io.Writer, cs ...Charter) error {
	page := components.NewPage()
	page.PageTitle = "stormcast report"
	page.AddCharts(cs...)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}
