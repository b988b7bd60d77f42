package tui

import (
	"context"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessro/tandem/internal/core"
)

type fakePlayer struct {
	mu      sync.Mutex
	state   core.PlayerState
	calls   []string
	played  []core.Track
	opts    core.PlayOptions
	seek    float64
	volume  int
	changes chan struct{}
}

func newFakePlayer(st core.PlayerState) *fakePlayer {
	return &fakePlayer{state: st, changes: make(chan struct{}, 1)}
}

func (f *fakePlayer) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakePlayer) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakePlayer) Connect(context.Context) error {
	f.record("connect")
	return nil
}
func (f *fakePlayer) Disconnect() { f.record("disconnect") }

func (f *fakePlayer) PlayTrack(_ context.Context, t core.Track, opts ...core.PlayOption) error {
	f.record("play")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.played = append(f.played, t)
	f.opts = core.PlayOptions{}
	for _, o := range opts {
		o(&f.opts)
	}
	return nil
}

func (f *fakePlayer) TogglePlay(context.Context) error {
	f.record("toggle")
	return nil
}
func (f *fakePlayer) Next(context.Context) error {
	f.record("next")
	return nil
}
func (f *fakePlayer) Previous(context.Context) error {
	f.record("previous")
	return nil
}

func (f *fakePlayer) Seek(_ context.Context, fraction float64) error {
	f.record("seek")
	f.seek = fraction
	return nil
}

func (f *fakePlayer) SetVolume(_ context.Context, percent int) {
	f.record("volume")
	f.volume = percent
}

func (f *fakePlayer) ToggleShuffle(context.Context) bool {
	f.record("shuffle")
	return true
}
func (f *fakePlayer) ToggleRepeat(context.Context) core.RepeatMode {
	f.record("repeat")
	return core.RepeatAll
}

func (f *fakePlayer) SetPlaylist(tracks []core.Track, start int) {
	f.record("set-playlist")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state.Playlist = tracks
	f.state.Index = start
}

func (f *fakePlayer) ClearPlaylist() { f.record("clear") }
func (f *fakePlayer) SetAutoAdvance(on bool) { f.record("auto") }
func (f *fakePlayer) Changes() <-chan struct{} { return f.changes }

func (f *fakePlayer) State() core.PlayerState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

var (
	trackA = core.Track{ID: "a", Name: "Alpha", Artist: "Ann", Duration: 100 * time.Second, Source: core.SourceJamendo}
	trackB = core.Track{ID: "b", Name: "Beta", Artist: "Bo", Duration: 200 * time.Second, Source: core.SourceJamendo}
)

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// press sends a key and runs the resulting command, if any.
func press(t *testing.T, m Model, k tea.KeyMsg) Model {
	t.Helper()
	next, cmd := m.Update(k)
	if cmd != nil {
		cmd()
	}
	return next.(Model)
}

func TestPlaybackKeys(t *testing.T) {
	tests := []struct {
		key  tea.KeyMsg
		want string
	}{
		{tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}, "toggle"},
		{runes("n"), "next"},
		{runes("p"), "previous"},
		{runes("s"), "shuffle"},
		{runes("r"), "repeat"},
		{runes("a"), "auto"},
		{runes("+"), "volume"},
	}
	for _, tt := range tests {
		f := newFakePlayer(core.PlayerState{Volume: 50})
		press(t, NewModel(f, Options{}), tt.key)
		assert.Equal(t, []string{tt.want}, f.Calls(), tt.key.String())
	}
}

func TestVolumeClamped(t *testing.T) {
	f := newFakePlayer(core.PlayerState{Volume: 98})
	press(t, NewModel(f, Options{}), runes("+"))
	assert.Equal(t, 100, f.volume)

	f = newFakePlayer(core.PlayerState{Volume: 3})
	press(t, NewModel(f, Options{}), runes("-"))
	assert.Equal(t, 0, f.volume)
}

func TestSeekByStep(t *testing.T) {
	f := newFakePlayer(core.PlayerState{Track: &trackA, Position: 50 * time.Second, Duration: 100 * time.Second})
	m := NewModel(f, Options{})

	press(t, m, tea.KeyMsg{Type: tea.KeyRight})
	assert.InDelta(t, 0.6, f.seek, 1e-9)

	press(t, m, tea.KeyMsg{Type: tea.KeyLeft})
	assert.InDelta(t, 0.4, f.seek, 1e-9)
}

func TestSeekWithoutTrackIsNoop(t *testing.T) {
	f := newFakePlayer(core.PlayerState{})
	press(t, NewModel(f, Options{}), tea.KeyMsg{Type: tea.KeyRight})
	assert.Empty(t, f.Calls())
}

func TestPlaylistPanel(t *testing.T) {
	f := newFakePlayer(core.PlayerState{Playlist: []core.Track{trackA, trackB}})
	m := NewModel(f, Options{})

	m = press(t, m, tea.KeyMsg{Type: tea.KeyTab})
	require.Equal(t, PanelPlaylist, m.focusedPanel)
	m = press(t, m, runes("j"))
	m = press(t, m, runes("j"))
	press(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	require.Len(t, f.played, 1)
	assert.Equal(t, "b", f.played[0].ID)
}

func TestSearchPlaysResultsAsPlaylist(t *testing.T) {
	f := newFakePlayer(core.PlayerState{})
	var queries []string
	m := NewModel(f, Options{Search: func(_ context.Context, q string) []core.Track {
		queries = append(queries, q)
		return []core.Track{trackA, trackB}
	}})

	m = press(t, m, runes("/"))
	require.True(t, m.showSearch)
	m.searchInput.SetValue("beta")

	next, cmd := m.Update(searchDebounceMsg{query: "beta"})
	m = next.(Model)
	require.NotNil(t, cmd)
	next, _ = m.Update(cmd())
	m = next.(Model)
	assert.Equal(t, []string{"beta"}, queries)
	require.Len(t, m.searchResults, 2)

	m = press(t, m, tea.KeyMsg{Type: tea.KeyDown})
	m = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	assert.False(t, m.showSearch)
	require.Len(t, f.played, 1)
	assert.Equal(t, "b", f.played[0].ID)
	assert.Equal(t, []core.Track{trackA, trackB}, f.opts.Playlist)
	assert.Equal(t, 1, f.opts.Index)
}

func TestSearchStaleResultsIgnored(t *testing.T) {
	m := NewModel(newFakePlayer(core.PlayerState{}), Options{Search: func(context.Context, string) []core.Track { return nil }})
	m = press(t, m, runes("/"))
	m.lastQuery = "new"

	next, _ := m.Update(searchResultsMsg{query: "old", results: []core.Track{trackA}})
	assert.Empty(t, next.(Model).searchResults)
}

func TestSearchAppend(t *testing.T) {
	f := newFakePlayer(core.PlayerState{Playlist: []core.Track{trackA}, Index: 0})
	m := NewModel(f, Options{Search: func(context.Context, string) []core.Track { return nil }})
	m = press(t, m, runes("/"))
	m.searchResults = []core.Track{trackB}

	press(t, m, tea.KeyMsg{Type: tea.KeyCtrlA})
	assert.Equal(t, []core.Track{trackA, trackB}, f.State().Playlist)
}

func TestSearchDisabledWithoutSearcher(t *testing.T) {
	m := press(t, NewModel(newFakePlayer(core.PlayerState{}), Options{}), runes("/"))
	assert.False(t, m.showSearch)
}

func TestStateUpdatesHistory(t *testing.T) {
	f := newFakePlayer(core.PlayerState{})
	m := NewModel(f, Options{})

	for _, st := range []core.PlayerState{
		{Track: &trackA, Phase: core.PhasePlaying},
		{Track: &trackA, Phase: core.PhasePaused},
		{Track: &trackB, Phase: core.PhasePlaying, Index: 1},
	} {
		next, cmd := m.Update(stateMsg(st))
		m = next.(Model)
		assert.NotNil(t, cmd, "keeps waiting for changes")
	}

	entries := m.history.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].Track.ID)
	assert.Equal(t, 1, m.playlistView.Cursor())
}

func TestWaitForChange(t *testing.T) {
	f := newFakePlayer(core.PlayerState{Volume: 42})
	m := NewModel(f, Options{})
	f.changes <- struct{}{}

	msg := m.waitForChange()()
	assert.Equal(t, 42, core.PlayerState(msg.(stateMsg)).Volume)
}

func TestView(t *testing.T) {
	f := newFakePlayer(core.PlayerState{
		Connected: true,
		Track:     &trackA,
		Phase:     core.PhasePlaying,
		Position:  30 * time.Second,
		Duration:  100 * time.Second,
		Playlist:  []core.Track{trackA, trackB},
		LastError: "Network error",
	})
	m := NewModel(f, Options{})
	assert.Equal(t, "Loading...", m.View())

	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	view := next.(Model).View()
	for _, want := range []string{"Alpha", "Ann", "0:30", "1:40", "Beta", "Network error"} {
		assert.Contains(t, view, want)
	}
}

func TestQuit(t *testing.T) {
	m := NewModel(newFakePlayer(core.PlayerState{}), Options{})
	next, cmd := m.Update(runes("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Equal(t, "", next.(Model).View())
}
