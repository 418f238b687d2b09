package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Approve key.Binding
	Reject  key.Binding
	Skip    key.Binding
	Up      key.Binding
	Down    key.Binding
	Quit    key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Approve: key.NewBinding(key.WithKeys("a", "A"), key.WithHelp("a", "approve")),
		Reject:  key.NewBinding(key.WithKeys("r", "R"), key.WithHelp("r", "reject")),
		Skip:    key.NewBinding(key.WithKeys("s", "S", "esc"), key.WithHelp("s", "skip")),
		Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "scroll up")),
		Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "scroll down")),
		Quit:    key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "abort")),
	}
}

func (k keyMap) help() []key.Binding {
	return []key.Binding{k.Approve, k.Reject, k.Skip, k.Up, k.Down, k.Quit}
}
