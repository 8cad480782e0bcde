package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tinytelemetry/windstat/internal/model"
)

const (
	historyPageID = "history"
	historyLimit  = model.DefaultHistoryLimit
)

type historyLoadedMsg struct {
	params HistoryParams
	points []model.HistoryPoint
	err    error
}

func (historyLoadedMsg) pageID() string { return historyPageID }

// HistoryPage lists stored snapshots of one metric window, newest first.
type HistoryPage struct {
	reader model.HistoryReader
	keys   KeyMap

	params  HistoryParams
	points  []model.HistoryPoint
	err     error
	loading bool
	offset  int
	height  int
}

// NewHistoryPage creates the history page reading from reader.
func NewHistoryPage(reader model.HistoryReader) *HistoryPage {
	return &HistoryPage{reader: reader, keys: DefaultKeyMap()}
}

func (p *HistoryPage) ID() string { return historyPageID }

// SetParams selects the metric window to show.
func (p *HistoryPage) SetParams(params any) {
	if hp, ok := params.(HistoryParams); ok {
		p.params = hp
		p.points = nil
		p.err = nil
		p.offset = 0
	}
}

func (p *HistoryPage) Init() tea.Cmd {
	if p.reader == nil || p.params.Metric == "" {
		return nil
	}
	p.loading = true
	reader, params := p.reader, p.params
	return func() tea.Msg {
		points, err := reader.History(params.Metric, params.Window, historyLimit)
		return historyLoadedMsg{params: params, points: points, err: err}
	}
}

func (p *HistoryPage) Update(msg tea.Msg) (tea.Cmd, *PageNav) {
	switch msg := msg.(type) {
	case historyLoadedMsg:
		if msg.params != p.params {
			return nil, nil
		}
		p.loading = false
		p.points = msg.points
		p.err = msg.err
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, p.keys.ForceQuit), key.Matches(msg, p.keys.Quit):
			return tea.Quit, nil
		case key.Matches(msg, p.keys.Escape), key.Matches(msg, p.keys.Enter):
			return nil, &PageNav{Back: true}
		case key.Matches(msg, p.keys.Up):
			p.offset = max(p.offset-1, 0)
		case key.Matches(msg, p.keys.Down):
			p.offset = min(p.offset+1, max(len(p.points)-p.visibleRows(), 0))
		case key.Matches(msg, p.keys.Refresh):
			return p.Init(), nil
		}
	}
	return nil, nil
}

func (p *HistoryPage) visibleRows() int {
	return max(p.height-6, 1)
}

func (p *HistoryPage) View(width, height int) string {
	p.height = height
	title := titleStyle.Render(fmt.Sprintf("%s / %s history", p.params.Metric, p.params.Window))
	footer := helpStyle.Render("esc: back | ↑/↓: scroll | r: reload | q: quit")

	var body string
	switch {
	case p.reader == nil:
		body = helpStyle.Render("History is not available")
	case p.loading:
		body = helpStyle.Render("Loading...")
	case p.err != nil:
		body = errorStyle.Render(p.err.Error())
	case len(p.points) == 0:
		body = helpStyle.Render("No stored snapshots yet")
	default:
		body = p.renderRows()
	}

	content := lipgloss.JoinVertical(lipgloss.Left, title, "", body)
	boxed := panelStyle(max(width-2, 20), max(height-3, 4), true).Render(content)
	return lipgloss.JoinVertical(lipgloss.Left, boxed, footer)
}

func (p *HistoryPage) renderRows() string {
	header := fmt.Sprintf("%-19s %10s %12s %12s %14s", "taken at", "samples", "min", "max", "mean")
	rows := []string{headerStyle.Render(header)}
	end := min(p.offset+p.visibleRows(), len(p.points))
	for _, pt := range p.points[p.offset:end] {
		rows = append(rows, fmt.Sprintf("%-19s %10d %12d %12d %14s",
			pt.TakenAt.Local().Format("2006-01-02 15:04:05"), pt.Size, pt.Min, pt.Max, formatMean(pt.Mean)))
	}
	return strings.Join(rows, "\n")
}
