// Package wizard holds the stand-alone search prompt used when a command
// needs a track and none was given.
package wizard

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tessro/tandem/internal/core"
)

const (
	searchDebounce = 300 * time.Millisecond
	searchTimeout  = 15 * time.Second
)

// SearchFunc looks up tracks for a query.
type SearchFunc func(ctx context.Context, query string) []core.Track

// Selection is a confirmed choice: the result list and the picked index.
type Selection struct {
	Tracks []core.Track
	Index  int
}

// SearchModel is the bubbletea model for the search prompt.
type SearchModel struct {
	input     textinput.Model
	results   []core.Track
	cursor    int
	search    SearchFunc
	selected  *Selection
	lastQuery string
	searching bool
	width     int
	height    int
}

var (
	searchTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("205"))

	searchResultStyle = lipgloss.NewStyle().
				PaddingLeft(2)

	searchSelectedStyle = lipgloss.NewStyle().
				PaddingLeft(2).
				Background(lipgloss.Color("237"))

	searchSubtitleStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("243"))
)

// NewSearchModel creates a search prompt backed by search.
func NewSearchModel(search SearchFunc) SearchModel {
	ti := textinput.New()
	ti.Placeholder = "Search for tracks or artists..."
	ti.Focus()
	ti.CharLimit = 100
	ti.Width = 50

	return SearchModel{
		input:  ti,
		search: search,
		width:  80,
		height: 20,
	}
}

func (m SearchModel) Init() tea.Cmd {
	return textinput.Blink
}

// debounceMsg fires once typing has paused.
type debounceMsg struct {
	query string
}

type resultsMsg struct {
	query   string
	results []core.Track
}

func (m SearchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit

		case "enter":
			if m.cursor < len(m.results) {
				m.selected = &Selection{Tracks: m.results, Index: m.cursor}
				return m, tea.Quit
			}
			return m, nil

		case "up", "ctrl+p":
			if m.cursor > 0 {
				m.cursor--
			}
			return m, nil

		case "down", "ctrl+n":
			if m.cursor < len(m.results)-1 {
				m.cursor++
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = msg.Width - 4

	case debounceMsg:
		if msg.query == m.input.Value() && msg.query != m.lastQuery {
			m.lastQuery = msg.query
			m.searching = msg.query != ""
			return m, m.doSearch(msg.query)
		}
		return m, nil

	case resultsMsg:
		// Results for an older query are dropped.
		if msg.query != m.lastQuery {
			return m, nil
		}
		m.searching = false
		m.results = msg.results
		m.cursor = 0
		return m, nil
	}

	var inputCmd tea.Cmd
	m.input, inputCmd = m.input.Update(msg)
	cmds = append(cmds, inputCmd)

	if q := m.input.Value(); q != m.lastQuery {
		cmds = append(cmds, tea.Tick(searchDebounce, func(time.Time) tea.Msg {
			return debounceMsg{query: q}
		}))
	}

	return m, tea.Batch(cmds...)
}

func (m SearchModel) doSearch(query string) tea.Cmd {
	search := m.search
	return func() tea.Msg {
		if query == "" {
			return resultsMsg{query: query}
		}
		ctx, cancel := context.WithTimeout(context.Background(), searchTimeout)
		defer cancel()
		return resultsMsg{query: query, results: search(ctx, query)}
	}
}

func (m SearchModel) View() string {
	var b strings.Builder

	b.WriteString(searchTitleStyle.Render("Search"))
	b.WriteString("\n\n")
	b.WriteString(m.input.View())
	b.WriteString("\n\n")

	switch {
	case m.searching:
		b.WriteString("Searching...\n")
	case len(m.results) == 0 && m.lastQuery != "":
		b.WriteString("No results found\n")
	default:
		maxResults := max(m.height-8, 5)
		for i, t := range m.results {
			if i >= maxResults {
				b.WriteString(searchSubtitleStyle.Render("  ...and more"))
				b.WriteString("\n")
				break
			}
			line := t.Name
			if t.Artist != "" {
				line += " " + searchSubtitleStyle.Render(t.Artist)
			}
			if i == m.cursor {
				b.WriteString(searchSelectedStyle.Render("▸ " + line))
			} else {
				b.WriteString(searchResultStyle.Render("  " + line))
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(searchSubtitleStyle.Render("↑/↓ navigate • enter play • esc quit"))
	return b.String()
}

// Selected returns the confirmed choice, or nil when the prompt was
// cancelled.
func (m SearchModel) Selected() *Selection {
	return m.selected
}

// RunSearch shows the prompt full screen and returns the selection.
func RunSearch(ctx context.Context, search SearchFunc) (*Selection, error) {
	p := tea.NewProgram(NewSearchModel(search), tea.WithAltScreen(), tea.WithContext(ctx))
	final, err := p.Run()
	if err != nil {
		return nil, err
	}
	return final.(SearchModel).Selected(), nil
}
