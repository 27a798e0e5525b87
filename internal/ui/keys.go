package ui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Up          key.Binding
	Down        key.Binding
	FocusLeft   key.Binding
	FocusRight  key.Binding
	Tab         key.Binding
	PageUp      key.Binding
	PageDown    key.Binding
	PrevMatch   key.Binding
	NextMatch   key.Binding
	Search      key.Binding
	Esc         key.Binding
	Open        key.Binding
	Compose     key.Binding
	Retry       key.Binding
	NewChat     key.Binding
	Create      key.Binding
	Documents   key.Binding
	ToggleDoc   key.Binding
	ClearDocs   key.Binding
	DeleteDoc   key.Binding
	Refresh     key.Binding
	Settings    key.Binding
	QuickPrompt key.Binding
	Export      key.Binding
	Copy        key.Binding
	Quit        key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Up:          key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:        key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		FocusLeft:   key.NewBinding(key.WithKeys("left"), key.WithHelp("←", "focus list")),
		FocusRight:  key.NewBinding(key.WithKeys("right"), key.WithHelp("→", "focus transcript")),
		Tab:         key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "cycle focus")),
		PageUp:      key.NewBinding(key.WithKeys("pgup", "b"), key.WithHelp("pgup", "page up")),
		PageDown:    key.NewBinding(key.WithKeys("pgdown", "f"), key.WithHelp("pgdn", "page down")),
		PrevMatch:   key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "prev match/page")),
		NextMatch:   key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "next match/page")),
		Search:      key.NewBinding(key.WithKeys("/"), key.WithHelp("/", "search")),
		Esc:         key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
		Open:        key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "open")),
		Compose:     key.NewBinding(key.WithKeys("i"), key.WithHelp("i", "write message")),
		Retry:       key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "retry")),
		NewChat:     key.NewBinding(key.WithKeys("ctrl+n"), key.WithHelp("ctrl+n", "clear chat")),
		Create:      key.NewBinding(key.WithKeys("+"), key.WithHelp("+", "new on server")),
		Documents:   key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "documents")),
		ToggleDoc:   key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "select doc")),
		ClearDocs:   key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "clear selection")),
		DeleteDoc:   key.NewBinding(key.WithKeys("D"), key.WithHelp("D", "delete doc")),
		Refresh:     key.NewBinding(key.WithKeys("R"), key.WithHelp("R", "refresh")),
		Settings:    key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "settings")),
		QuickPrompt: key.NewBinding(key.WithKeys("1", "2", "3"), key.WithHelp("1-3", "quick prompt")),
		Export:      key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "export markdown")),
		Copy:        key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "copy reply")),
		Quit:        key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Tab, k.Compose, k.Open, k.Documents, k.Retry, k.NewChat, k.Search, k.Settings, k.Copy, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.FocusLeft, k.FocusRight, k.Tab, k.Open},
		{k.PageDown, k.PageUp, k.NextMatch, k.PrevMatch, k.Search, k.Esc},
		{k.Compose, k.QuickPrompt, k.Retry, k.NewChat, k.Create, k.Refresh},
		{k.Documents, k.ToggleDoc, k.ClearDocs, k.DeleteDoc, k.Settings, k.Export, k.Copy, k.Quit},
	}
}
