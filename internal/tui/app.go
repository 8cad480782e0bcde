package tui

import tea "github.com/charmbracelet/bubbletea"

// App routes messages to the active page and keeps a stack of the pages
// navigated away from, so a page can return without knowing its caller.
type App struct {
	pages      map[string]Page
	activePage string
	back       []string
	width      int
	height     int
}

// NewApp registers pages. The first one is shown at start.
func NewApp(pages ...Page) *App {
	a := &App{pages: make(map[string]Page, len(pages))}
	for _, p := range pages {
		if a.activePage == "" {
			a.activePage = p.ID()
		}
		a.pages[p.ID()] = p
	}
	return a
}

// ActivePage returns the ID of the page currently shown.
func (a *App) ActivePage() string { return a.activePage }

func (a *App) Init() tea.Cmd {
	if p, ok := a.pages[a.activePage]; ok {
		return p.Init()
	}
	return nil
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if wsm, ok := msg.(tea.WindowSizeMsg); ok {
		a.width, a.height = wsm.Width, wsm.Height
	}

	// Ticks and fetch results go to the page that issued them, shown or
	// not, so a hidden dashboard keeps refreshing.
	if scoped, ok := msg.(pageScoped); ok {
		if p, ok := a.pages[scoped.pageID()]; ok {
			cmd, _ := p.Update(msg)
			return a, cmd
		}
		return a, nil
	}

	p, ok := a.pages[a.activePage]
	if !ok {
		return a, nil
	}
	cmd, nav := p.Update(msg)
	if nav == nil {
		return a, cmd
	}
	return a, tea.Batch(cmd, a.navigate(*nav))
}

func (a *App) navigate(nav PageNav) tea.Cmd {
	if nav.Back {
		if len(a.back) == 0 {
			return nil
		}
		a.activePage = a.back[len(a.back)-1]
		a.back = a.back[:len(a.back)-1]
		// The page kept its state while hidden; no Init.
		return nil
	}

	next, ok := a.pages[nav.PageID]
	if !ok || nav.PageID == a.activePage {
		return nil
	}
	if r, ok := next.(paramReceiver); ok {
		r.SetParams(nav.Params)
	}
	a.back = append(a.back, a.activePage)
	a.activePage = nav.PageID
	return next.Init()
}

func (a *App) View() string {
	if p, ok := a.pages[a.activePage]; ok {
		return p.View(a.width, a.height)
	}
	return "No active page"
}

// pageScoped marks messages addressed to a specific page.
type pageScoped interface {
	pageID() string
}
