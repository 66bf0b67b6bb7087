package report

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/stellarforge/popsynth/internal/store"
)

const (
	chartWidth  = "100%"
	chartHeight = "500px"
	lineWidth   = 2
)

// WriteScorePlot renders the per-parameter convergence-score history as an
// HTML line chart, one series per tracked parameter, x axis in systems
// sampled.
func WriteScorePlot(path string, records []store.ScoreRecord) error {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: chartWidth, Height: chartHeight}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Convergence score history",
			Subtitle: "log10(1 - match) per tracked parameter; lower is more stable",
		}),
		charts.WithTooltipOpts(opts.Tooltip{Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "systems sampled"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "score"}),
	)

	labels := make([]string, len(records))
	for i, rec := range records {
		labels[i] = strconv.FormatInt(rec.StepCount, 10)
	}

	line.SetXAxis(labels)

	for _, param := range scoreParams(records) {
		data := make([]opts.LineData, len(records))

		for i, rec := range records {
			data[i] = opts.LineData{Value: rec.Values[param]}
		}

		line.AddSeries(param, data,
			charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}),
			charts.WithLineStyleOpts(opts.LineStyle{Width: lineWidth}),
		)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create plot file: %w", err)
	}
	defer f.Close()

	err = line.Render(f)
	if err != nil {
		return fmt.Errorf("render plot: %w", err)
	}

	return nil
}

// scoreParams collects every parameter name seen across the records, sorted.
func scoreParams(records []store.ScoreRecord) []string {
	seen := make(map[string]bool)

	for _, rec := range records {
		for p := range rec.Values {
			seen[p] = true
		}
	}

	params := make([]string, 0, len(seen))
	for p := range seen {
		params = append(params, p)
	}

	sort.Strings(params)

	return params
}
