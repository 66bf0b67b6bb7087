// Package report renders the end-of-run summary for the terminal and an
// optional HTML plot of the convergence-score history.
package report

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/stellarforge/popsynth/internal/experiment"
)

// massDigits is the precision for solar-mass totals in the summary.
const massDigits = 1

// WriteSummary renders the run summary table to w.
func WriteSummary(w io.Writer, identity string, res experiment.Result) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.SetTitle("popsynth run %s", identity)

	tw.AppendRows([]table.Row{
		{"systems sampled", humanize.Comma(res.StepCount)},
		{"checkpoints", humanize.Comma(int64(res.Checkpoints))},
		{"converged rows", humanize.Comma(int64(res.ConvergedRows))},
		{"binaries drawn", humanize.Comma(res.Totals.NBinaries)},
		{"singles drawn", humanize.Comma(res.Totals.NSingles)},
		{"binary mass (Msun)", humanize.CommafWithDigits(res.Totals.MassBinaries, massDigits)},
		{"single mass (Msun)", humanize.CommafWithDigits(res.Totals.MassSingles, massDigits)},
		{"elapsed", res.Elapsed.Round(elapsedRounding(res))},
	})

	tw.AppendSeparator()
	appendScores(tw, res)
	tw.AppendSeparator()
	tw.AppendRow(table.Row{"status", statusCell(res)})

	tw.Render()
}

func appendScores(tw table.Writer, res experiment.Result) {
	if !res.Score.Evaluated() {
		tw.AppendRow(table.Row{"match score", "never evaluated"})

		return
	}

	params := make([]string, 0, len(res.Score.Values))
	for p := range res.Score.Values {
		params = append(params, p)
	}

	sort.Strings(params)

	for _, p := range params {
		tw.AppendRow(table.Row{"match " + p, fmt.Sprintf("%.3f", res.Score.Values[p])})
	}
}

func statusCell(res experiment.Result) string {
	if res.Converged {
		return color.New(color.FgGreen).Sprint("converged")
	}

	return color.New(color.FgYellow).Sprint("budget exhausted")
}

// elapsedRounding keeps short runs at millisecond precision and long runs
// at seconds.
func elapsedRounding(res experiment.Result) time.Duration {
	if res.Elapsed < 10*time.Second {
		return time.Millisecond
	}

	return time.Second
}
