package main

import (
	"os"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"checkbp/checkgraph"
)

// writeChart renders the per-round entropy and accuracy of rep as a
// standalone HTML page.
func writeChart(path string, rep checkgraph.Report) error {
	rounds := make([]int, len(rep.Rounds))
	meanH := make([]opts.LineData, len(rep.Rounds))
	maxH := make([]opts.LineData, len(rep.Rounds))
	correct := make([]opts.LineData, len(rep.Rounds))
	avgP := make([]opts.LineData, len(rep.Rounds))
	for i, r := range rep.Rounds {
		rounds[i] = r.Iteration
		meanH[i] = opts.LineData{Value: r.MeanEntropy}
		maxH[i] = opts.LineData{Value: r.MaxEntropy}
		correct[i] = opts.LineData{Value: r.Correct}
		avgP[i] = opts.LineData{Value: r.AvgProb}
	}

	entropy := charts.NewLine()
	entropy.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Marginal entropy", Subtitle: "run " + rep.RunID}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "round"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "bits"}),
	)
	entropy.SetXAxis(rounds).
		AddSeries("mean", meanH).
		AddSeries("max", maxH).
		SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true)}))

	accuracy := charts.NewLine()
	accuracy.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Recovered coefficients"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "round"}),
	)
	accuracy.SetXAxis(rounds).
		AddSeries("correct", correct).
		AddSeries("avg p(true)", avgP)

	page := components.NewPage().SetPageTitle("checkbp run " + rep.RunID)
	page.AddCharts(entropy, accuracy)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return page.Render(f)
}
