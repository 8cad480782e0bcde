package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines all dashboard key bindings with built-in help text.
type KeyMap struct {
	// Global
	Quit      key.Binding
	ForceQuit key.Binding
	Help      key.Binding
	Escape    key.Binding

	// Navigation
	Up    key.Binding
	Down  key.Binding
	Home  key.Binding
	End   key.Binding
	Enter key.Binding
	Left  key.Binding
	Right key.Binding

	// Actions
	Refresh      key.Binding
	IntervalUp   key.Binding
	IntervalDown key.Binding
	Pause        key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Quit: key.NewBinding(
			key.WithKeys("q"),
			key.WithHelp("q", "quit"),
		),
		ForceQuit: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("ctrl+c", "force quit"),
		),
		Help: key.NewBinding(
			key.WithKeys("?", "h"),
			key.WithHelp("?/h", "help"),
		),
		Escape: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "back"),
		),

		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		Home: key.NewBinding(
			key.WithKeys("home", "g"),
			key.WithHelp("home", "first metric"),
		),
		End: key.NewBinding(
			key.WithKeys("end", "G"),
			key.WithHelp("end", "last metric"),
		),
		Enter: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "history"),
		),
		Left: key.NewBinding(
			key.WithKeys("left", "["),
			key.WithHelp("←/[", "prev window"),
		),
		Right: key.NewBinding(
			key.WithKeys("right", "]"),
			key.WithHelp("→/]", "next window"),
		),

		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh now"),
		),
		IntervalUp: key.NewBinding(
			key.WithKeys("u"),
			key.WithHelp("u", "faster refresh"),
		),
		IntervalDown: key.NewBinding(
			key.WithKeys("U"),
			key.WithHelp("U", "slower refresh"),
		),
		Pause: key.NewBinding(
			key.WithKeys(" "),
			key.WithHelp("space", "pause/resume"),
		),
	}
}

// ShortHelp returns the bindings shown in the status line.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Left, k.Right, k.Enter, k.Pause, k.Help, k.Quit}
}

// FullHelp returns the bindings shown in the help overlay, grouped by column.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Home, k.End},
		{k.Left, k.Right, k.Enter, k.Escape},
		{k.Refresh, k.Pause, k.IntervalUp, k.IntervalDown},
		{k.Help, k.Quit, k.ForceQuit},
	}
}
