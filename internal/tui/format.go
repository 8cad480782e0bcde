package tui

import (
	"fmt"
	"strconv"
	"time"
)

// formatDuration renders d compactly: 850ms, 12.5s, 3m20s, 4h05m, 2d03h.
func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "0s"
	case d < time.Second:
		return d.Round(time.Microsecond).String()
	case d < time.Minute:
		return strconv.FormatFloat(d.Seconds(), 'f', 1, 64) + "s"
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	default:
		days := int(d.Hours()) / 24
		return fmt.Sprintf("%dd%02dh", days, int(d.Hours())%24)
	}
}

func formatMean(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
