package tui

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tinytelemetry/windstat/internal/model"
)

type fakeAPI struct {
	mu        sync.Mutex
	names     []string
	listErr   error
	snapCalls []string
	history   []model.HistoryPoint
}

func (f *fakeAPI) ListMetrics() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]string(nil), f.names...), nil
}

func (f *fakeAPI) MetricSnapshot(name string) (model.MetricSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapCalls = append(f.snapCalls, name)
	return model.MetricSnapshot{
		Name:    name,
		TakenAt: time.Unix(1700000000, 0),
		Windows: []model.WindowSnapshot{
			{Window: "1s", Duration: time.Second, Size: 2, Min: 10, Max: 30, Mean: 20, Interval: 800 * time.Millisecond},
			{Window: "15s", Duration: 15 * time.Second, Size: 5, Min: 5, Max: 40, Mean: 21.5, Interval: 12 * time.Second},
		},
	}, nil
}

func (f *fakeAPI) History(_, _ string, limit int) ([]model.HistoryPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.history) > limit {
		return f.history[:limit], nil
	}
	return f.history, nil
}

func keyMsg(k string) tea.KeyMsg {
	switch k {
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "right":
		return tea.KeyMsg{Type: tea.KeyRight}
	case "space":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
}

// load runs one fetch synchronously and applies its result.
func load(m *DashboardModel) {
	m.Update(m.fetchCmd(m.selected)())
}

func TestDashboard_LoadSelectsFirstMetric(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{names: []string{"api.latency", "db.query"}}
	m := NewDashboardModel(api, time.Second, "Socket")
	load(m)

	if got := len(m.metrics); got != 2 {
		t.Fatalf("metric count = %d, want 2", got)
	}
	if m.selected != "api.latency" {
		t.Fatalf("selected = %q, want api.latency", m.selected)
	}
	if m.snapshot == nil || len(m.snapshot.Windows) != 2 {
		t.Fatal("expected snapshot with two windows")
	}
	if m.tickInFlight {
		t.Fatal("tickInFlight should clear after data loads")
	}
}

func TestDashboard_CursorChangesSelection(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{names: []string{"a", "b", "c"}}
	m := NewDashboardModel(api, time.Second, "")
	load(m)

	cmd, nav := m.handleKey(keyMsg("down"))
	if nav != nil {
		t.Fatal("down should not navigate")
	}
	if cmd == nil {
		t.Fatal("moving the cursor should fetch the new metric")
	}
	m.Update(cmd())

	if m.selected != "b" || m.cursor != 1 {
		t.Fatalf("selected = %q cursor = %d, want b/1", m.selected, m.cursor)
	}
	if got := api.snapCalls[len(api.snapCalls)-1]; got != "b" {
		t.Fatalf("last snapshot call = %q, want b", got)
	}

	// Already on the first metric after two ups: no refetch.
	m.handleKey(keyMsg("up"))
	if cmd, _ := m.handleKey(keyMsg("up")); cmd != nil {
		t.Fatal("moving past the top should be a no-op")
	}
}

func TestDashboard_SelectionSurvivesListChanges(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{names: []string{"b", "c"}}
	m := NewDashboardModel(api, time.Second, "")
	m.Select("c")
	load(m)
	if m.cursor != 1 {
		t.Fatalf("cursor = %d, want 1", m.cursor)
	}

	api.names = []string{"a", "b", "c"}
	load(m)
	if m.selected != "c" || m.cursor != 2 {
		t.Fatalf("selected = %q cursor = %d, want c/2", m.selected, m.cursor)
	}
}

func TestDashboard_SelectUnknownFallsBack(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{names: []string{"a", "b"}}
	m := NewDashboardModel(api, time.Second, "")
	m.Select("gone")
	load(m)
	if m.selected != "a" || m.cursor != 0 {
		t.Fatalf("selected = %q cursor = %d, want a/0", m.selected, m.cursor)
	}
}

func TestDashboard_StaleFetchIgnored(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{names: []string{"a", "b"}}
	m := NewDashboardModel(api, time.Second, "")
	load(m)

	stale := m.fetchCmd("a")
	m.selected = "b"
	fresh := m.fetchCmd("b")

	m.Update(fresh())
	m.Update(stale())
	if m.selected != "b" {
		t.Fatalf("selected = %q, want b after stale result", m.selected)
	}
}

func TestDashboard_ListErrorKeepsPreviousData(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{names: []string{"a"}}
	m := NewDashboardModel(api, time.Second, "Socket")
	load(m)

	api.listErr = errors.New("connection refused")
	load(m)

	if len(m.metrics) != 1 || m.snapshot == nil {
		t.Fatal("previous data should survive a failed refresh")
	}
	if m.lastTickOK {
		t.Fatal("lastTickOK should be false after an error")
	}
	if !strings.Contains(m.lastError, "connection refused") {
		t.Fatalf("lastError = %q", m.lastError)
	}
}

func TestDashboard_PauseSkipsFetch(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{names: []string{"a"}}
	m := NewDashboardModel(api, time.Second, "")
	load(m)
	seq := m.fetchSeq

	m.handleKey(keyMsg("space"))
	if !m.paused {
		t.Fatal("space should pause updates")
	}
	m.Update(TickMsg(time.Now()))
	if m.fetchSeq != seq {
		t.Fatal("paused dashboard should not fetch on tick")
	}

	m.handleKey(keyMsg("space"))
	m.Update(TickMsg(time.Now()))
	if m.fetchSeq != seq+1 {
		t.Fatal("resumed dashboard should fetch on tick")
	}
}

func TestDashboard_IntervalBounds(t *testing.T) {
	t.Parallel()

	m := NewDashboardModel(nil, time.Second, "")
	for i := 0; i < 10; i++ {
		m.handleKey(keyMsg("u"))
	}
	if m.updateInterval != minUpdateInterval {
		t.Fatalf("interval = %v, want %v", m.updateInterval, minUpdateInterval)
	}
	for i := 0; i < 20; i++ {
		m.handleKey(keyMsg("U"))
	}
	if m.updateInterval != maxUpdateInterval {
		t.Fatalf("interval = %v, want %v", m.updateInterval, maxUpdateInterval)
	}
}

func TestDashboard_ViewRendersTableAndChart(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{names: []string{"api.latency"}}
	m := NewDashboardModel(api, time.Second, "Socket")
	load(m)
	m.width, m.height = 140, 40

	view := m.View()
	for _, want := range []string{"api.latency", "window", "15s", "21.50", "Socket"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q", want)
		}
	}
}

func TestDashboard_ViewBeforeSize(t *testing.T) {
	t.Parallel()

	m := NewDashboardModel(nil, time.Second, "")
	if got := m.View(); got != "Initializing dashboard..." {
		t.Fatalf("View() = %q", got)
	}
}

func TestApp_EnterOpensHistoryAndEscReturns(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{
		names: []string{"api.latency"},
		history: []model.HistoryPoint{
			{TakenAt: time.Unix(1700000000, 0), WindowSnapshot: model.WindowSnapshot{Window: "15s", Size: 9, Mean: 3.25}},
		},
	}
	dash := NewDashboardModel(api, time.Second, "")
	load(dash)
	hist := NewHistoryPage(api)
	app := NewApp(NewDashboardPage(dash), hist)

	app.Update(keyMsg("right"))
	_, cmd := app.Update(keyMsg("enter"))
	if got := app.ActivePage(); got != historyPageID {
		t.Fatalf("active page = %q, want history", got)
	}
	if hist.params != (HistoryParams{Metric: "api.latency", Window: "15s"}) {
		t.Fatalf("history params = %+v", hist.params)
	}
	if cmd == nil {
		t.Fatal("opening history should load points")
	}

	app.Update(hist.Init()())
	if len(hist.points) != 1 {
		t.Fatalf("history points = %d, want 1", len(hist.points))
	}
	if view := hist.View(120, 30); !strings.Contains(view, "3.25") {
		t.Fatal("history view should list stored means")
	}

	app.Update(keyMsg("esc"))
	if got := app.ActivePage(); got != dashboardPageID {
		t.Fatalf("active page = %q, want dashboard", got)
	}
}

func TestApp_ScopedMessagesReachDashboardOnHistoryPage(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{names: []string{"a"}}
	dash := NewDashboardModel(api, time.Second, "")
	app := NewApp(NewDashboardPage(dash), NewHistoryPage(api))
	app.activePage = historyPageID

	app.Update(dash.fetchCmd("")())
	if dash.selected != "a" {
		t.Fatal("data loaded while on history should still update the dashboard")
	}
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0s"},
		{850 * time.Millisecond, "850ms"},
		{12500 * time.Millisecond, "12.5s"},
		{200 * time.Second, "3m20s"},
		{4*time.Hour + 5*time.Minute, "4h05m"},
		{51 * time.Hour, "2d03h"},
	}
	for _, tc := range tests {
		if got := formatDuration(tc.d); got != tc.want {
			t.Fatalf("formatDuration(%v) = %q, want %q", tc.d, got, tc.want)
		}
	}
}

func TestApp_BackWithEmptyStackStays(t *testing.T) {
	t.Parallel()

	api := &fakeAPI{names: []string{"a"}}
	app := NewApp(NewDashboardPage(NewDashboardModel(api, time.Second, "")), NewHistoryPage(api))

	if cmd := app.navigate(PageNav{Back: true}); cmd != nil {
		t.Fatal("back with nothing to return to should not issue a command")
	}
	if got := app.ActivePage(); got != dashboardPageID {
		t.Fatalf("active page = %q, want dashboard", got)
	}
	if cmd := app.navigate(PageNav{PageID: "nope"}); cmd != nil || app.ActivePage() != dashboardPageID {
		t.Fatal("unknown page should be ignored")
	}
}
