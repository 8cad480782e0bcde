package tui

import "github.com/charmbracelet/lipgloss"

var (
	ColorNavy  = lipgloss.Color("#1B2B48")
	ColorBlue  = lipgloss.Color("#4FA3FF")
	ColorGray  = lipgloss.Color("#7A8494")
	ColorWhite = lipgloss.Color("#F5F7FA")
	ColorGreen = lipgloss.Color("#44FF44")
	ColorAmber = lipgloss.Color("#FFAA00")
	ColorRed   = lipgloss.Color("#FF4444")
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(ColorBlue).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	statusStyle = lipgloss.NewStyle().
			Background(ColorNavy).
			Foreground(ColorWhite).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Foreground(ColorRed)

	selectedStyle = lipgloss.NewStyle().
			Foreground(ColorWhite).
			Background(ColorBlue).
			Bold(true)

	headerStyle = lipgloss.NewStyle().
			Foreground(ColorWhite).
			Bold(true)

	barStyle = lipgloss.NewStyle().
			Foreground(ColorBlue).
			Background(ColorBlue)

	activeBarStyle = lipgloss.NewStyle().
			Foreground(ColorAmber).
			Background(ColorAmber)
)

// panelStyle draws a bordered box, highlighted when active.
func panelStyle(width, height int, active bool) lipgloss.Style {
	border := ColorGray
	if active {
		border = ColorBlue
	}
	return lipgloss.NewStyle().
		Width(width).
		Height(height).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(border)
}
