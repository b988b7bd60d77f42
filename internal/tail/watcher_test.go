package tail

import (
	"context"
	"sync"
	"testing"
	"text/template"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tessro/tandem/internal/core"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	alpha = &core.Track{ID: "1", Name: "Alpha", Artist: "Ann", Source: core.SourceJamendo}
	beta  = &core.Track{ID: "2", Name: "Beta", Artist: "Bo", Source: core.SourceJamendo}
)

// fakeSource replays scripted states, one per notification.
type fakeSource struct {
	mu      sync.Mutex
	state   core.PlayerState
	changes chan struct{}
}

func newFakeSource(initial core.PlayerState) *fakeSource {
	return &fakeSource{state: initial, changes: make(chan struct{}, 1)}
}

func (f *fakeSource) State() core.PlayerState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSource) Changes() <-chan struct{} { return f.changes }

func (f *fakeSource) set(st core.PlayerState) {
	f.mu.Lock()
	f.state = st
	f.mu.Unlock()
	f.changes <- struct{}{}
}

func types(events []Event) []EventType {
	out := make([]EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func TestDiffStates(t *testing.T) {
	playing := core.PlayerState{Connected: true, Phase: core.PhasePlaying, Track: alpha, Volume: 70}

	tests := []struct {
		name      string
		prev, cur core.PlayerState
		want      []EventType
	}{
		{"first track", core.PlayerState{}, playing, []EventType{EventTrackChange}},
		{"no change", playing, playing, nil},
		{"pause", playing, withPhase(playing, core.PhasePaused), []EventType{EventPause}},
		{"resume", withPhase(playing, core.PhasePaused), playing, []EventType{EventResume}},
		{"next track", playing, withTrack(playing, beta), []EventType{EventTrackChange}},
		{"volume", playing, withVolume(playing, 40), []EventType{EventVolumeChange}},
		{"volume on connect", core.PlayerState{Volume: 100}, withVolume(playing, 70), []EventType{EventTrackChange}},
		{"error", playing, withError(playing, "Network error"), []EventType{EventError}},
		{"same error", withError(playing, "x"), withError(playing, "x"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := diffStates(tt.prev, tt.cur, time.Time{})
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, types(got))
		})
	}
}

func withPhase(s core.PlayerState, p core.Phase) core.PlayerState {
	s.Phase = p
	return s
}

func withTrack(s core.PlayerState, t *core.Track) core.PlayerState {
	s.Track = t
	return s
}

func withVolume(s core.PlayerState, v int) core.PlayerState {
	s.Volume = v
	return s
}

func withError(s core.PlayerState, e string) core.PlayerState {
	s.LastError = e
	return s
}

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) emit(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) types() []EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	return types(c.events)
}

func TestWatcherFinishesAfterIdleGrace(t *testing.T) {
	playlist := []core.Track{*alpha, *beta}
	src := newFakeSource(core.PlayerState{Connected: true, Phase: core.PhasePlaying, Track: alpha, Playlist: playlist})
	var c collector

	done := make(chan error, 1)
	go func() {
		done <- NewWatcher(src, WithIdleGrace(100*time.Millisecond)).Run(context.Background(), c.emit)
	}()

	// A brief Idle between tracks is not the end.
	src.set(core.PlayerState{Connected: true, Phase: core.PhaseIdle, Track: alpha, Playlist: playlist})
	src.set(core.PlayerState{Connected: true, Phase: core.PhasePlaying, Track: beta, Playlist: playlist, Index: 1})
	src.set(core.PlayerState{Connected: true, Phase: core.PhaseIdle, Track: beta, Playlist: playlist, Index: 1})

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not finish")
	}
	assert.Equal(t, []EventType{EventTrackChange, EventTrackChange, EventFinished}, c.types())
}

func TestWatcherTerminalError(t *testing.T) {
	src := newFakeSource(core.PlayerState{
		Connected: true,
		Phase:     core.PhaseError,
		Track:     alpha,
		Playlist:  []core.Track{*alpha},
		LastError: "Unsupported format",
	})
	var c collector

	err := NewWatcher(src).Run(context.Background(), c.emit)
	require.EqualError(t, err, "Unsupported format")
	assert.Equal(t, []EventType{EventTrackChange, EventError}, c.types())
}

func TestWatcherStopsOnCancel(t *testing.T) {
	src := newFakeSource(core.PlayerState{Connected: true, Phase: core.PhasePaused, Track: alpha})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, NewWatcher(src).Run(ctx, func(Event) {}))
}

func TestFormatter(t *testing.T) {
	at := time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)
	e := Event{
		Type:      EventTrackChange,
		Timestamp: at,
		Current:   core.PlayerState{Track: alpha, Volume: 70},
	}

	assert.Equal(t, "🎵 Now playing: Ann - Alpha", NewFormatter().Format(e))
	assert.Equal(t, "15:04:05 Now playing: Ann - Alpha",
		NewFormatter(WithEmoji(false), WithTimestamp(true)).Format(e))

	tmpl, err := ParseTemplate("{{.Type}} {{.Artist}}/{{.Title}} {{.Volume}}")
	require.NoError(t, err)
	assert.Equal(t, "track_change Ann/Alpha 70", NewFormatter(WithTemplate(tmpl)).Format(e))

	e = Event{Type: EventError, Current: core.PlayerState{LastError: "Network error"}}
	assert.Equal(t, "Error: Network error", NewFormatter(WithEmoji(false)).Format(e))
}

func TestParseTemplate(t *testing.T) {
	tmpl, err := ParseTemplate("")
	assert.NoError(t, err)
	assert.Nil(t, tmpl)

	_, err = ParseTemplate("{{.Title")
	assert.Error(t, err)

	// Unknown fields fall back to the plain line.
	bad := template.Must(template.New("x").Parse("{{.Nope}}"))
	e := Event{Type: EventPause}
	assert.Equal(t, "Paused", NewFormatter(WithEmoji(false), WithTemplate(bad)).Format(e))
}
