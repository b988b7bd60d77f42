package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Play     key.Binding
	Next     key.Binding
	Prev     key.Binding
	Forward  key.Binding
	Backward key.Binding
	VolUp    key.Binding
	VolDown  key.Binding
	Shuffle  key.Binding
	Repeat   key.Binding
	Auto     key.Binding
	Search   key.Binding
	Tab      key.Binding
	Up       key.Binding
	Down     key.Binding
	Enter    key.Binding
	Clear    key.Binding
	Help     key.Binding
	Quit     key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Play:     key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "play/pause")),
		Next:     key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "next")),
		Prev:     key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "previous")),
		Forward:  key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→", "+10s")),
		Backward: key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←", "-10s")),
		VolUp:    key.NewBinding(key.WithKeys("+", "="), key.WithHelp("+", "volume up")),
		VolDown:  key.NewBinding(key.WithKeys("-"), key.WithHelp("-", "volume down")),
		Shuffle:  key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "shuffle")),
		Repeat:   key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "repeat")),
		Auto:     key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "auto-advance")),
		Search:   key.NewBinding(key.WithKeys("/"), key.WithHelp("/", "search")),
		Tab:      key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "switch panel")),
		Up:       key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:     key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Enter:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "play selected")),
		Clear:    key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "clear playlist")),
		Help:     key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Play, k.Next, k.Prev, k.Search, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Play, k.Next, k.Prev, k.Forward, k.Backward},
		{k.VolUp, k.VolDown, k.Shuffle, k.Repeat, k.Auto},
		{k.Search, k.Tab, k.Up, k.Down, k.Enter, k.Clear},
		{k.Help, k.Quit},
	}
}
