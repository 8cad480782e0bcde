package tui

import tea "github.com/charmbracelet/bubbletea"

// Page is one full-screen view managed by App.
type Page interface {
	ID() string
	Init() tea.Cmd
	Update(msg tea.Msg) (tea.Cmd, *PageNav)
	View(width, height int) string
}

// PageNav asks App to open PageID with Params, or with Back set, to
// return to the previous page.
type PageNav struct {
	PageID string
	Params any
	Back   bool
}

type paramReceiver interface {
	SetParams(params any)
}
