// Package tail follows a player and reports what happens to it as a stream
// of events, for output that is not the full-screen UI.
package tail

import (
	"context"
	"errors"
	"time"

	"github.com/tessro/tandem/internal/clock"
	"github.com/tessro/tandem/internal/core"
)

// EventType represents the type of playback event.
type EventType int

const (
	EventTrackChange EventType = iota
	EventPause
	EventResume
	EventVolumeChange
	EventError
	// EventFinished is sent once when the playlist has run out.
	EventFinished
)

// Event represents a player state change.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Previous  core.PlayerState
	Current   core.PlayerState
}

// Source is the part of core.Player a Watcher follows.
type Source interface {
	State() core.PlayerState
	Changes() <-chan struct{}
}

// DefaultIdleGrace is how long the player may sit idle after playing
// before the playlist counts as finished. Auto-advance passes through Idle
// between tracks.
const DefaultIdleGrace = 2 * time.Second

// Watcher turns player change notifications into events.
type Watcher struct {
	src       Source
	idleGrace time.Duration
	clock     clock.Clock
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithIdleGrace overrides DefaultIdleGrace.
func WithIdleGrace(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.idleGrace = d
		}
	}
}

// WithClock sets the time source for event stamps and the idle timer.
func WithClock(c clock.Clock) Option {
	return func(w *Watcher) {
		w.clock = clock.OrReal(c)
	}
}

// NewWatcher creates a watcher for src.
func NewWatcher(src Source, opts ...Option) *Watcher {
	w := &Watcher{src: src, idleGrace: DefaultIdleGrace, clock: clock.Real{}}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run calls emit for every event until the playlist finishes, playback
// fails with nothing left to try, or ctx is done. A terminal failure is
// returned as an error after its EventError.
func (w *Watcher) Run(ctx context.Context, emit func(Event)) error {
	var (
		prev   core.PlayerState
		played bool
		idle   <-chan time.Time
	)

	step := func() (bool, error) {
		cur := w.src.State()
		for _, e := range diffStates(prev, cur, w.clock.Now()) {
			emit(e)
		}
		prev = cur

		switch cur.Phase {
		case core.PhasePlaying, core.PhaseLoading:
			played = true
			idle = nil
		case core.PhaseIdle:
			if played && idle == nil {
				idle = w.clock.After(w.idleGrace)
			}
		case core.PhaseError:
			if len(cur.Playlist) <= 1 {
				return true, errors.New(cur.LastError)
			}
		}
		return false, nil
	}

	if done, err := step(); done {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.src.Changes():
			if done, err := step(); done {
				return err
			}
		case <-idle:
			idle = nil
			cur := w.src.State()
			if cur.Phase == core.PhaseIdle {
				emit(Event{Type: EventFinished, Timestamp: w.clock.Now(), Previous: prev, Current: cur})
				return nil
			}
		}
	}
}

// diffStates compares two states and returns detected events.
func diffStates(prev, cur core.PlayerState, now time.Time) []Event {
	var events []Event
	add := func(t EventType) {
		events = append(events, Event{Type: t, Timestamp: now, Previous: prev, Current: cur})
	}

	if cur.Track != nil && !cur.Track.Same(prev.Track) {
		add(EventTrackChange)
	}

	// Pause and resume only count within the same track.
	if prev.Track != nil && cur.Track.Same(prev.Track) {
		switch {
		case prev.Phase == core.PhasePlaying && cur.Phase == core.PhasePaused:
			add(EventPause)
		case prev.Phase == core.PhasePaused && cur.Phase == core.PhasePlaying:
			add(EventResume)
		}
	}

	if prev.Connected && prev.Volume != cur.Volume {
		add(EventVolumeChange)
	}

	if cur.LastError != "" && cur.LastError != prev.LastError {
		add(EventError)
	}
	return events
}
