// Package tui implements the terminal dashboard: a metric list, a table of
// window statistics and a bar chart of window means for the selected metric.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tinytelemetry/windstat/internal/model"
)

const (
	dashboardPageID = "dashboard"
	metricListWidth = 28

	minUpdateInterval = 250 * time.Millisecond
	maxUpdateInterval = time.Minute
)

// TickMsg triggers a periodic refresh.
type TickMsg time.Time

func (TickMsg) pageID() string { return dashboardPageID }

// dataLoadedMsg carries the result of one refresh.
type dataLoadedMsg struct {
	seq      uint64
	metrics  []string
	snapshot *model.MetricSnapshot
	err      error
}

func (dataLoadedMsg) pageID() string { return dashboardPageID }

// HistoryParams selects the series shown on the history page.
type HistoryParams struct {
	Metric string
	Window string
}

// DashboardModel shows live window statistics read through a model.ReadAPI.
type DashboardModel struct {
	api        model.ReadAPI
	dataSource string
	keys       KeyMap
	help       help.Model

	updateInterval time.Duration
	paused         bool
	tickInFlight   bool
	fetchSeq       uint64
	showHelp       bool

	metrics   []string
	cursor    int
	selected  string
	windowIdx int
	snapshot  *model.MetricSnapshot

	lastError   string
	lastErrorAt time.Time
	lastTickAt  time.Time
	lastTickOK  bool

	width  int
	height int
}

// NewDashboardModel creates a dashboard refreshing every updateInterval.
// dataSource labels the connection in the status line.
func NewDashboardModel(api model.ReadAPI, updateInterval time.Duration, dataSource string) *DashboardModel {
	if updateInterval <= 0 {
		updateInterval = model.DefaultUpdateInterval
	}
	return &DashboardModel{
		api:            api,
		dataSource:     dataSource,
		keys:           DefaultKeyMap(),
		help:           help.New(),
		updateInterval: updateInterval,
	}
}

// Select preselects a metric. It takes effect on the next fetch and falls
// back to the first metric if name is not recorded.
func (m *DashboardModel) Select(name string) {
	m.selected = name
}

func (m *DashboardModel) tick() tea.Cmd {
	return tea.Tick(m.updateInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// Init fetches immediately and starts the tick loop.
func (m *DashboardModel) Init() tea.Cmd {
	m.tickInFlight = true
	return tea.Batch(m.fetchCmd(m.selected), m.tick())
}

// fetchCmd lists metrics and snapshots the selected one, falling back to
// the first metric when nothing is selected or the selection vanished.
// Only the most recent fetch is applied.
func (m *DashboardModel) fetchCmd(selected string) tea.Cmd {
	m.fetchSeq++
	seq := m.fetchSeq
	api := m.api
	if api == nil {
		return func() tea.Msg { return dataLoadedMsg{seq: seq} }
	}
	return func() tea.Msg {
		names, err := api.ListMetrics()
		if err != nil {
			return dataLoadedMsg{seq: seq, err: err}
		}
		msg := dataLoadedMsg{seq: seq, metrics: names}
		if len(names) == 0 {
			return msg
		}
		target := names[0]
		for _, n := range names {
			if n == selected {
				target = n
				break
			}
		}
		snap, err := api.MetricSnapshot(target)
		if err != nil {
			msg.err = err
			return msg
		}
		msg.snapshot = &snap
		return msg
	}
}

// Update handles messages.
func (m *DashboardModel) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width

	case TickMsg:
		if m.paused || m.tickInFlight {
			return m.tick()
		}
		m.tickInFlight = true
		return tea.Batch(m.fetchCmd(m.selected), m.tick())

	case dataLoadedMsg:
		m.applyData(msg)
	}
	return nil
}

func (m *DashboardModel) applyData(msg dataLoadedMsg) {
	if msg.seq != m.fetchSeq {
		return
	}
	m.tickInFlight = false
	m.lastTickAt = time.Now()
	m.lastTickOK = msg.err == nil
	if msg.err != nil {
		m.lastError = msg.err.Error()
		m.lastErrorAt = m.lastTickAt
	}
	if msg.metrics != nil || msg.err == nil {
		m.metrics = msg.metrics
	}
	if msg.snapshot != nil {
		m.snapshot = msg.snapshot
		m.selected = msg.snapshot.Name
	} else if len(m.metrics) == 0 {
		m.snapshot = nil
		m.selected = ""
	}
	m.syncCursor()
	if m.snapshot != nil && m.windowIdx >= len(m.snapshot.Windows) {
		m.windowIdx = max(0, len(m.snapshot.Windows)-1)
	}
}

// syncCursor keeps the cursor on the selected metric as the list changes.
func (m *DashboardModel) syncCursor() {
	for i, n := range m.metrics {
		if n == m.selected {
			m.cursor = i
			return
		}
	}
	m.cursor = min(m.cursor, max(0, len(m.metrics)-1))
}

// handleKey returns a command and, for Enter, a request to open history.
func (m *DashboardModel) handleKey(msg tea.KeyMsg) (tea.Cmd, *PageNav) {
	switch {
	case key.Matches(msg, m.keys.ForceQuit), key.Matches(msg, m.keys.Quit):
		return tea.Quit, nil
	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
	case key.Matches(msg, m.keys.Escape):
		m.showHelp = false
	case key.Matches(msg, m.keys.Up):
		return m.moveCursor(-1), nil
	case key.Matches(msg, m.keys.Down):
		return m.moveCursor(1), nil
	case key.Matches(msg, m.keys.Home):
		return m.moveCursor(-len(m.metrics)), nil
	case key.Matches(msg, m.keys.End):
		return m.moveCursor(len(m.metrics)), nil
	case key.Matches(msg, m.keys.Left):
		m.moveWindow(-1)
	case key.Matches(msg, m.keys.Right):
		m.moveWindow(1)
	case key.Matches(msg, m.keys.Pause):
		m.paused = !m.paused
	case key.Matches(msg, m.keys.Refresh):
		if !m.tickInFlight {
			m.tickInFlight = true
			return m.fetchCmd(m.selected), nil
		}
	case key.Matches(msg, m.keys.IntervalUp):
		m.updateInterval = max(m.updateInterval/2, minUpdateInterval)
	case key.Matches(msg, m.keys.IntervalDown):
		m.updateInterval = min(m.updateInterval*2, maxUpdateInterval)
	case key.Matches(msg, m.keys.Enter):
		if w, ok := m.selectedWindow(); ok {
			return nil, &PageNav{
				PageID: historyPageID,
				Params: HistoryParams{Metric: m.selected, Window: w.Window},
			}
		}
	}
	return nil, nil
}

func (m *DashboardModel) moveCursor(delta int) tea.Cmd {
	if len(m.metrics) == 0 {
		return nil
	}
	next := min(max(m.cursor+delta, 0), len(m.metrics)-1)
	if next == m.cursor && m.metrics[next] == m.selected {
		return nil
	}
	m.cursor = next
	m.selected = m.metrics[next]
	m.tickInFlight = true
	return m.fetchCmd(m.selected)
}

func (m *DashboardModel) moveWindow(delta int) {
	if m.snapshot == nil || len(m.snapshot.Windows) == 0 {
		return
	}
	m.windowIdx = min(max(m.windowIdx+delta, 0), len(m.snapshot.Windows)-1)
}

func (m *DashboardModel) selectedWindow() (model.WindowSnapshot, bool) {
	if m.snapshot == nil || m.windowIdx >= len(m.snapshot.Windows) {
		return model.WindowSnapshot{}, false
	}
	return m.snapshot.Windows[m.windowIdx], true
}

// View renders the dashboard.
func (m *DashboardModel) View() string {
	if m.width <= 0 || m.height <= 0 {
		return "Initializing dashboard..."
	}

	footer := m.renderStatusLine()
	if m.showHelp {
		footer = m.help.FullHelpView(m.keys.FullHelp())
	}
	bodyHeight := m.height - lipgloss.Height(footer) - 2

	list := panelStyle(metricListWidth, bodyHeight, false).Render(m.renderMetricList(bodyHeight))
	detailWidth := m.width - metricListWidth - 4
	detail := panelStyle(detailWidth, bodyHeight, true).Render(m.renderDetail(detailWidth, bodyHeight))

	body := lipgloss.JoinHorizontal(lipgloss.Top, list, detail)
	return lipgloss.JoinVertical(lipgloss.Left, body, footer)
}

func (m *DashboardModel) renderMetricList(height int) string {
	lines := []string{titleStyle.Render(fmt.Sprintf("Metrics (%d)", len(m.metrics)))}
	if len(m.metrics) == 0 {
		lines = append(lines, helpStyle.Render("waiting for data"))
		return strings.Join(lines, "\n")
	}

	visible := max(height-1, 1)
	start := 0
	if m.cursor >= visible {
		start = m.cursor - visible + 1
	}
	end := min(start+visible, len(m.metrics))
	for i := start; i < end; i++ {
		name := truncate(m.metrics[i], metricListWidth-2)
		if i == m.cursor {
			lines = append(lines, selectedStyle.Render(name))
			continue
		}
		lines = append(lines, name)
	}
	return strings.Join(lines, "\n")
}

func (m *DashboardModel) renderDetail(width, height int) string {
	if m.snapshot == nil {
		return helpStyle.Render("No metric selected")
	}
	snap := *m.snapshot
	title := titleStyle.Render(snap.Name) + helpStyle.Render("  as of "+snap.TakenAt.Local().Format("15:04:05"))
	table := renderWindowTable(snap, m.windowIdx)
	chartHeight := height - lipgloss.Height(title) - lipgloss.Height(table) - 2
	if chartHeight < 4 {
		return lipgloss.JoinVertical(lipgloss.Left, title, "", table)
	}
	chart := renderMeanChart(snap, m.windowIdx, width, chartHeight)
	return lipgloss.JoinVertical(lipgloss.Left, title, "", table, "", chart)
}

// renderWindowTable lists every window of snap, one row each.
func renderWindowTable(snap model.MetricSnapshot, selected int) string {
	header := fmt.Sprintf("%-8s %10s %12s %12s %14s %10s", "window", "samples", "min", "max", "mean", "span")
	rows := []string{headerStyle.Render(header)}
	for i, w := range snap.Windows {
		row := fmt.Sprintf("%-8s %10d %12d %12d %14s %10s",
			w.Window, w.Size, w.Min, w.Max, formatMean(w.Mean), formatDuration(w.Interval))
		if i == selected {
			row = selectedStyle.Render(row)
		}
		rows = append(rows, row)
	}
	return strings.Join(rows, "\n")
}

func (m *DashboardModel) renderStatusLine() string {
	var parts []string
	if m.dataSource != "" {
		dot := lipgloss.NewStyle().Background(ColorNavy).Foreground(ColorGreen).Render("●")
		switch {
		case !m.lastTickOK:
			dot = lipgloss.NewStyle().Background(ColorNavy).Foreground(ColorRed).Render("●")
		case time.Since(m.lastTickAt) > 3*m.updateInterval:
			dot = lipgloss.NewStyle().Background(ColorNavy).Foreground(ColorAmber).Render("●")
		}
		parts = append(parts, dot+" "+m.dataSource)
	}
	if m.paused {
		parts = append(parts, "PAUSED")
	} else {
		parts = append(parts, "Update: "+formatDuration(m.updateInterval))
	}
	if m.lastError != "" && time.Since(m.lastErrorAt) < 30*time.Second {
		parts = append(parts, errorStyle.Render(truncate(m.lastError, 40)))
	}

	left := statusStyle.Render(strings.Join(parts, " | "))
	right := m.help.ShortHelpView(m.keys.ShortHelp())
	return lipgloss.JoinHorizontal(lipgloss.Top, left, " ", right)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

// DashboardPage adapts DashboardModel to the Page interface.
type DashboardPage struct {
	Model *DashboardModel
	ready bool
}

// NewDashboardPage wraps a DashboardModel as a Page.
func NewDashboardPage(m *DashboardModel) *DashboardPage {
	return &DashboardPage{Model: m}
}

func (p *DashboardPage) ID() string { return dashboardPageID }

// Init starts the refresh loop once; returning from history keeps it running.
func (p *DashboardPage) Init() tea.Cmd {
	if p.ready {
		return nil
	}
	p.ready = true
	return p.Model.Init()
}

func (p *DashboardPage) Update(msg tea.Msg) (tea.Cmd, *PageNav) {
	if km, ok := msg.(tea.KeyMsg); ok {
		return p.Model.handleKey(km)
	}
	return p.Model.Update(msg), nil
}

func (p *DashboardPage) View(width, height int) string {
	p.Model.width = width
	p.Model.height = height
	p.Model.help.Width = width
	return p.Model.View()
}
