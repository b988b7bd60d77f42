package cli

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tessro/tandem/internal/core"
)

func TestPlayableTracks(t *testing.T) {
	tracks := []core.Track{
		{ID: "1", Source: core.SourceJamendo, AudioURL: "https://cdn/1.mp3"},
		{ID: "1", Source: core.SourceJamendo, AudioURL: "https://cdn/1.mp3"},
		{ID: "2", Source: core.SourceJamendo},
		{ID: "3", Source: core.SourceJamendo, ShortURL: "https://jam.to/3"},
		{ID: "4", Source: core.SourceSpotify},
	}

	got := playableTracks(tracks)
	var ids []string
	for _, tr := range got {
		ids = append(ids, tr.ID)
	}
	if strings.Join(ids, ",") != "1,3,4" {
		t.Errorf("playableTracks() ids = %v, want [1 3 4]", ids)
	}
}

type scriptedPlayer struct {
	mu      sync.Mutex
	state   core.PlayerState
	changes chan struct{}
}

func (p *scriptedPlayer) State() core.PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *scriptedPlayer) Changes() <-chan struct{} { return p.changes }

func (p *scriptedPlayer) set(st core.PlayerState) {
	p.mu.Lock()
	p.state = st
	p.mu.Unlock()
	p.changes <- struct{}{}
}

func TestRunHeadless(t *testing.T) {
	old := idleGrace
	idleGrace = 50 * time.Millisecond
	defer func() { idleGrace = old }()

	a := core.Track{ID: "1", Name: "Alpha", Artist: "Ann", Source: core.SourceJamendo}
	p := &scriptedPlayer{
		state:   core.PlayerState{Connected: true, Phase: core.PhasePlaying, Track: &a, Playlist: []core.Track{a}},
		changes: make(chan struct{}, 1),
	}

	var out bytes.Buffer
	done := make(chan error, 1)
	go func() { done <- runHeadless(context.Background(), p, &out) }()
	p.set(core.PlayerState{Connected: true, Phase: core.PhaseIdle, Track: &a, Playlist: []core.Track{a}})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runHeadless() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("runHeadless() did not return")
	}

	got := out.String()
	for _, want := range []string{"Now playing: Ann - Alpha", "Playlist finished"} {
		if !strings.Contains(got, want) {
			t.Errorf("output %q does not contain %q", got, want)
		}
	}
}

func TestRunHeadlessFailure(t *testing.T) {
	a := core.Track{ID: "1", Name: "Alpha", Source: core.SourceJamendo}
	p := &scriptedPlayer{
		state: core.PlayerState{
			Connected: true,
			Phase:     core.PhaseError,
			Track:     &a,
			Playlist:  []core.Track{a},
			LastError: "No playable source",
		},
		changes: make(chan struct{}),
	}

	var out bytes.Buffer
	err := runHeadless(context.Background(), p, &out)
	if err == nil || err.Error() != "No playable source" {
		t.Fatalf("runHeadless() error = %v, want No playable source", err)
	}
	if !strings.Contains(out.String(), "Error: No playable source") {
		t.Errorf("output %q does not report the error", out.String())
	}
}
