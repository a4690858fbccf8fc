package app

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines all keyboard bindings for the TUI.
type KeyMap struct {
	Up          key.Binding
	Down        key.Binding
	Enter       key.Binding
	Escape      key.Binding
	Quit        key.Binding
	Create      key.Binding
	Replacement key.Binding
	Acknowledge key.Binding
	Dismiss     key.Binding
	Click       key.Binding
	NextNotice  key.Binding
	Pane        key.Binding
	Problems    key.Binding
	Detail      key.Binding
	Debug       key.Binding
	Resync      key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up: key.NewBinding(
			key.WithKeys("k", "up"),
			key.WithHelp("k/↑", "prev / scroll up"),
		),
		Down: key.NewBinding(
			key.WithKeys("j", "down"),
			key.WithHelp("j/↓", "next / scroll down"),
		),
		Enter: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "open session"),
		),
		Escape: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "back"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
		Create: key.NewBinding(
			key.WithKeys("n"),
			key.WithHelp("n", "new session"),
		),
		Replacement: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "go to replacement"),
		),
		Acknowledge: key.NewBinding(
			key.WithKeys("a"),
			key.WithHelp("a", "acknowledge failure"),
		),
		Dismiss: key.NewBinding(
			key.WithKeys("x"),
			key.WithHelp("x", "dismiss notice"),
		),
		Click: key.NewBinding(
			key.WithKeys("o"),
			key.WithHelp("o", "open notice"),
		),
		NextNotice: key.NewBinding(
			key.WithKeys("tab"),
			key.WithHelp("tab", "next notice"),
		),
		Pane: key.NewBinding(
			key.WithKeys("t"),
			key.WithHelp("t", "logs / terminal"),
		),
		Problems: key.NewBinding(
			key.WithKeys("e"),
			key.WithHelp("e", "problems only"),
		),
		Detail: key.NewBinding(
			key.WithKeys("i"),
			key.WithHelp("i", "session info"),
		),
		Debug: key.NewBinding(
			key.WithKeys("d"),
			key.WithHelp("d", "engine events"),
		),
		Resync: key.NewBinding(
			key.WithKeys("g"),
			key.WithHelp("g", "resync"),
		),
	}
}
