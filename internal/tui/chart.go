package tui

import (
	"fmt"
	"strings"

	"github.com/NimbleMarkets/ntcharts/barchart"
	"github.com/charmbracelet/lipgloss"

	"github.com/tinytelemetry/windstat/internal/model"
)

const legendWidth = 24

// renderMeanChart draws one bar per window with the window's mean as its
// height. The selected window is highlighted and described in the legend.
func renderMeanChart(snap model.MetricSnapshot, selected, width, height int) string {
	if len(snap.Windows) == 0 {
		return helpStyle.Render("No data available")
	}
	if height < 4 {
		height = 4
	}
	chartWidth := width - legendWidth - 2
	if chartWidth < 20 {
		chartWidth = 20
	}

	barWidth := chartWidth/len(snap.Windows) - 1
	if barWidth < 1 {
		barWidth = 1
	}

	bc := barchart.New(chartWidth, height,
		barchart.WithBarGap(1),
		barchart.WithBarWidth(barWidth),
	)
	for i, w := range snap.Windows {
		style := barStyle
		if i == selected {
			style = activeBarStyle
		}
		bc.Push(barchart.BarData{
			Label: w.Window,
			Values: []barchart.BarValue{
				{Name: w.Window, Value: w.Mean, Style: style},
			},
		})
	}
	bc.Draw()

	legend := renderLegend(snap, selected, height)
	return lipgloss.JoinHorizontal(lipgloss.Top, bc.View(), "  ", legend)
}

func renderLegend(snap model.MetricSnapshot, selected, height int) string {
	if selected < 0 || selected >= len(snap.Windows) {
		return ""
	}
	w := snap.Windows[selected]
	lines := []string{
		titleStyle.Render("window " + w.Window),
		fmt.Sprintf("%-9s%12d", "samples", w.Size),
		fmt.Sprintf("%-9s%12d", "min", w.Min),
		fmt.Sprintf("%-9s%12d", "max", w.Max),
		fmt.Sprintf("%-9s%12s", "mean", formatMean(w.Mean)),
		fmt.Sprintf("%-9s%12s", "span", formatDuration(w.Interval)),
	}
	for len(lines) < height {
		lines = append(lines, "")
	}
	return lipgloss.NewStyle().Width(legendWidth).Render(strings.Join(lines[:height], "\n"))
}
