// Package tui is the terminal now-playing view.
package tui

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/tessro/tandem/internal/core"
	"github.com/tessro/tandem/internal/tui/components"
	"github.com/tessro/tandem/internal/tui/styles"
)

// Panel represents which panel is focused
type Panel int

const (
	PanelNowPlaying Panel = iota
	PanelPlaylist
	PanelHistory
	panelCount
)

const (
	searchDebounce = 300 * time.Millisecond
	actionTimeout  = 15 * time.Second
	seekStep       = 10 * time.Second
	volumeStep     = 5
	maxResults     = 10
)

// Searcher looks up catalog tracks. Failures yield an empty result.
type Searcher func(ctx context.Context, query string) []core.Track

// Options configures the view.
type Options struct {
	// Search enables the search overlay when set.
	Search Searcher
	// Refresh redraws the progress bar between change notifications.
	Refresh time.Duration
	Logger  *zap.Logger
}

// Model is the main TUI model
type Model struct {
	player core.Player
	opts   Options
	keys   keyMap
	log    *zap.Logger

	width        int
	height       int
	focusedPanel Panel

	state core.PlayerState

	nowPlaying   *components.NowPlaying
	playlistView *components.Playlist
	history      *components.History
	help         help.Model
	showHelp     bool

	showSearch    bool
	searchInput   textinput.Model
	searchResults []core.Track
	searchCursor  int
	searching     bool
	lastQuery     string

	quitting bool
}

// NewModel creates a new TUI model
func NewModel(player core.Player, opts Options) Model {
	if opts.Refresh <= 0 {
		opts.Refresh = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	ti := textinput.New()
	ti.Placeholder = "Search tracks..."
	ti.CharLimit = 100
	ti.Width = 50

	return Model{
		player:       player,
		opts:         opts,
		keys:         defaultKeys(),
		log:          opts.Logger.Named("tui"),
		focusedPanel: PanelNowPlaying,
		state:        player.State(),
		nowPlaying:   components.NewNowPlaying(),
		playlistView: components.NewPlaylist(),
		history:      components.NewHistory(),
		help:         help.New(),
		searchInput:  ti,
	}
}

// Messages
type tickMsg time.Time
type stateMsg core.PlayerState
type searchDebounceMsg struct{ query string }
type searchResultsMsg struct {
	query   string
	results []core.Track
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.opts.Refresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitForChange blocks until the player reports a change.
func (m Model) waitForChange() tea.Cmd {
	changes := m.player.Changes()
	return func() tea.Msg {
		if _, ok := <-changes; !ok {
			return nil
		}
		return stateMsg(m.player.State())
	}
}

// act runs a player operation off the update loop. Failures surface
// through State().LastError.
func (m Model) act(name string, fn func(ctx context.Context) error) tea.Cmd {
	log := m.log
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			log.Debug("action failed", zap.String("action", name), zap.Error(err))
		}
		return nil
	}
}

func (m Model) doSearch(query string) tea.Cmd {
	search := m.opts.Search
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		return searchResultsMsg{query: query, results: search(ctx, query)}
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.tick(), m.waitForChange())
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tickMsg:
		m.setState(m.player.State())
		return m, m.tick()

	case stateMsg:
		m.setState(core.PlayerState(msg))
		return m, m.waitForChange()

	case searchDebounceMsg:
		if msg.query == m.searchInput.Value() && msg.query != m.lastQuery {
			m.lastQuery = msg.query
			m.searching = true
			return m, m.doSearch(msg.query)
		}
		return m, nil

	case searchResultsMsg:
		if msg.query != m.lastQuery {
			return m, nil
		}
		m.searching = false
		m.searchResults = msg.results
		m.searchCursor = 0
		return m, nil
	}

	if m.showSearch {
		var cmd tea.Cmd
		m.searchInput, cmd = m.searchInput.Update(msg)
		return m, cmd
	}
	return m, nil
}

// setState installs a new snapshot and records track changes in history.
func (m *Model) setState(st core.PlayerState) {
	prev := m.state.Track
	m.state = st
	if st.Track != nil && !st.Track.Same(prev) {
		m.history.Add(*st.Track)
		m.playlistView.Follow(st.Index)
	}
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		m.quitting = true
		return m, tea.Quit
	}

	if m.showHelp {
		switch msg.String() {
		case "?", "esc":
			m.showHelp = false
		}
		return m, nil
	}

	if m.showSearch {
		return m.handleSearchKeyPress(msg)
	}

	p := m.player
	st := m.state
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.showHelp = true
		return m, nil

	case key.Matches(msg, m.keys.Search):
		if m.opts.Search == nil {
			return m, nil
		}
		m.showSearch = true
		m.searchInput.SetValue("")
		m.searchInput.Focus()
		m.searchResults = nil
		m.searchCursor = 0
		m.lastQuery = ""
		return m, textinput.Blink

	case key.Matches(msg, m.keys.Tab):
		m.focusedPanel = (m.focusedPanel + 1) % panelCount
		return m, nil

	case key.Matches(msg, m.keys.Play):
		return m, m.act("toggle", p.TogglePlay)

	case key.Matches(msg, m.keys.Next):
		return m, m.act("next", p.Next)

	case key.Matches(msg, m.keys.Prev):
		return m, m.act("previous", p.Previous)

	case key.Matches(msg, m.keys.Forward):
		return m, m.seekBy(st, seekStep)

	case key.Matches(msg, m.keys.Backward):
		return m, m.seekBy(st, -seekStep)

	case key.Matches(msg, m.keys.VolUp):
		return m, m.volume(st.Volume + volumeStep)

	case key.Matches(msg, m.keys.VolDown):
		return m, m.volume(st.Volume - volumeStep)

	case key.Matches(msg, m.keys.Shuffle):
		return m, m.act("shuffle", func(ctx context.Context) error {
			p.ToggleShuffle(ctx)
			return nil
		})

	case key.Matches(msg, m.keys.Repeat):
		return m, m.act("repeat", func(ctx context.Context) error {
			p.ToggleRepeat(ctx)
			return nil
		})

	case key.Matches(msg, m.keys.Auto):
		on := !st.AutoAdvance
		return m, m.act("auto-advance", func(context.Context) error {
			p.SetAutoAdvance(on)
			return nil
		})
	}

	if m.focusedPanel == PanelPlaylist {
		switch {
		case key.Matches(msg, m.keys.Down):
			m.playlistView.Down(len(st.Playlist))
		case key.Matches(msg, m.keys.Up):
			m.playlistView.Up()
		case key.Matches(msg, m.keys.Enter):
			i := m.playlistView.Cursor()
			if i >= 0 && i < len(st.Playlist) {
				t := st.Playlist[i]
				return m, m.act("play", func(ctx context.Context) error {
					return p.PlayTrack(ctx, t)
				})
			}
		case key.Matches(msg, m.keys.Clear):
			return m, m.act("clear", func(context.Context) error {
				p.ClearPlaylist()
				return nil
			})
		}
	}
	return m, nil
}

func (m Model) seekBy(st core.PlayerState, delta time.Duration) tea.Cmd {
	if st.Track == nil || st.Duration <= 0 {
		return nil
	}
	fraction := float64(st.Position+delta) / float64(st.Duration)
	fraction = min(max(fraction, 0), 1)
	p := m.player
	return m.act("seek", func(ctx context.Context) error {
		return p.Seek(ctx, fraction)
	})
}

func (m Model) volume(percent int) tea.Cmd {
	percent = min(max(percent, 0), 100)
	p := m.player
	return m.act("volume", func(ctx context.Context) error {
		p.SetVolume(ctx, percent)
		return nil
	})
}

func (m Model) handleSearchKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	p := m.player
	switch msg.String() {
	case "esc":
		m.showSearch = false
		m.searchInput.Blur()
		return m, nil

	case "enter":
		if m.searchCursor < len(m.searchResults) {
			results := append([]core.Track(nil), m.searchResults...)
			i := m.searchCursor
			m.showSearch = false
			m.searchInput.Blur()
			return m, m.act("play", func(ctx context.Context) error {
				return p.PlayTrack(ctx, results[i], core.WithPlaylist(results, i))
			})
		}
		return m, nil

	case "ctrl+a":
		// Append to the playlist without interrupting playback.
		if m.searchCursor < len(m.searchResults) {
			t := m.searchResults[m.searchCursor]
			st := m.state
			tracks := append(append([]core.Track(nil), st.Playlist...), t)
			index := st.Index
			if len(st.Playlist) == 0 {
				index = 0
			}
			return m, m.act("append", func(context.Context) error {
				p.SetPlaylist(tracks, index)
				return nil
			})
		}
		return m, nil

	case "up", "ctrl+p":
		if m.searchCursor > 0 {
			m.searchCursor--
		}
		return m, nil

	case "down", "ctrl+n":
		if m.searchCursor < min(len(m.searchResults), maxResults)-1 {
			m.searchCursor++
		}
		return m, nil
	}

	var cmds []tea.Cmd
	var inputCmd tea.Cmd
	m.searchInput, inputCmd = m.searchInput.Update(msg)
	cmds = append(cmds, inputCmd)

	if q := m.searchInput.Value(); q != m.lastQuery {
		cmds = append(cmds, tea.Tick(searchDebounce, func(time.Time) tea.Msg {
			return searchDebounceMsg{query: q}
		}))
	}
	return m, tea.Batch(cmds...)
}

// View renders the UI
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 {
		return "Loading..."
	}
	if m.showHelp {
		return m.center(styles.BorderStyle.Padding(1, 2).Render(
			styles.Highlight.Render("tandem - keyboard shortcuts") + "\n\n" + m.help.FullHelpView(m.keys.FullHelp())))
	}
	if m.showSearch {
		return m.renderSearch()
	}

	leftWidth := m.width * 60 / 100
	rightWidth := m.width - leftWidth - 2
	topHeight := m.height * 45 / 100
	bottomHeight := m.height - topHeight - 3

	nowPlaying := m.nowPlaying.Render(m.state, leftWidth-2, topHeight-2, m.focusedPanel == PanelNowPlaying)
	playlist := m.playlistView.Render(m.state.Playlist, m.state.Index, leftWidth-2, bottomHeight-2, m.focusedPanel == PanelPlaylist)
	history := m.history.Render(rightWidth-2, m.height-5, m.focusedPanel == PanelHistory)

	left := lipgloss.JoinVertical(lipgloss.Left, nowPlaying, playlist)
	main := lipgloss.JoinHorizontal(lipgloss.Top, left, history)

	status := lipgloss.NewStyle().Width(m.width).Padding(0, 1).Render(m.help.ShortHelpView(m.keys.ShortHelp()))
	return lipgloss.JoinVertical(lipgloss.Left, main, status)
}

func (m Model) renderSearch() string {
	var b strings.Builder

	b.WriteString(styles.Highlight.Render("Search"))
	b.WriteString("\n\n")
	b.WriteString(m.searchInput.View())
	b.WriteString("\n\n")

	selected := lipgloss.NewStyle().Background(lipgloss.Color("237"))
	switch {
	case m.searching:
		b.WriteString(styles.Muted.Render("Searching..."))
	case len(m.searchResults) == 0 && m.lastQuery != "":
		b.WriteString(styles.Muted.Render("No results found"))
	default:
		for i, t := range m.searchResults {
			if i >= maxResults {
				b.WriteString(styles.Muted.Render("  ...and more"))
				break
			}
			line := t.Name + " " + styles.Muted.Render(t.Artist) + " " +
				styles.Dim.Render(components.FormatDuration(t.Duration))
			if i == m.searchCursor {
				b.WriteString(selected.Render("> " + line))
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(styles.Muted.Render("↑/↓:nav  Enter:play  Ctrl+a:add to playlist  Esc:close"))

	content := lipgloss.NewStyle().Width(64).Padding(1, 2).Render(b.String())
	return m.center(styles.FocusedBorder.Render(content))
}

func (m Model) center(s string) string {
	return lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		Align(lipgloss.Center, lipgloss.Center).
		Render(s)
}

// Run starts the TUI and blocks until the user quits or ctx is done.
func Run(ctx context.Context, player core.Player, opts Options) error {
	p := tea.NewProgram(NewModel(player, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
