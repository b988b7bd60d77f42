package core

import (
	"context"
	"time"
)

// Player is the operation set exposed to user interfaces. Operations never
// panic and report failures through State().LastError; returned errors are
// informational.
type Player interface {
	Connect(ctx context.Context) error
	Disconnect()

	PlayTrack(ctx context.Context, track Track, opts ...PlayOption) error
	TogglePlay(ctx context.Context) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	Seek(ctx context.Context, fraction float64) error
	SetVolume(ctx context.Context, percent int)

	ToggleShuffle(ctx context.Context) bool
	ToggleRepeat(ctx context.Context) RepeatMode
	SetPlaylist(tracks []Track, start int)
	ClearPlaylist()
	SetAutoAdvance(on bool)

	State() PlayerState
	Changes() <-chan struct{}
}

// PlayOptions are the optional arguments of PlayTrack.
type PlayOptions struct {
	// Playlist, when set, replaces the playlist before the track starts.
	Playlist []Track
	Index    int
}

// PlayOption configures a PlayTrack call.
type PlayOption func(*PlayOptions)

// WithPlaylist installs tracks as the playlist with index as the current
// position.
func WithPlaylist(tracks []Track, index int) PlayOption {
	return func(o *PlayOptions) {
		o.Playlist = tracks
		o.Index = index
	}
}

// PlayerState is a point-in-time copy of everything a UI renders.
type PlayerState struct {
	Connected bool
	Phase     Phase
	Track     *Track
	Position  time.Duration
	Duration  time.Duration
	Volume    int
	LastError string

	Shuffle     bool
	Repeat      RepeatMode
	AutoAdvance bool
	Playlist    []Track
	Index       int
}

// IsPlaying reports whether audio is currently playing.
func (s PlayerState) IsPlaying() bool {
	return s.Phase == PhasePlaying
}

// ProgressPercent returns playback progress as a percentage (0-100).
func (s PlayerState) ProgressPercent() float64 {
	if s.Duration <= 0 {
		return 0
	}
	p := float64(s.Position) / float64(s.Duration) * 100
	if p > 100 {
		return 100
	}
	return p
}
