// Package engine defines the contract between the playback session and an
// audio backend. Backends push events through a Hub; consumers receive them
// on scoped subscriptions.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/tessro/tandem/internal/core"
	tandemerrors "github.com/tessro/tandem/internal/errors"
)

// ErrAborted is returned by Play when a later pause or load pre-empts it.
var ErrAborted = fmt.Errorf("%w: play aborted by a newer request", tandemerrors.ErrInterrupted)

// ReadyState mirrors how much media the engine has buffered.
type ReadyState int

const (
	HaveNothing ReadyState = iota
	HaveMetadata
	HaveCurrentData
	HaveFutureData
	HaveEnoughData
)

// Capabilities describes what the backend supports natively.
type Capabilities struct {
	// NativeEnd is set when the engine emits EventEnded itself.
	NativeEnd bool
	// RemoteVolume marks volume changes as network round-trips.
	RemoteVolume bool
	// NativeURI means Load takes a track URI instead of a media URL.
	NativeURI bool
}

// Engine is an audio backend.
type Engine interface {
	// Open prepares the backend. It is idempotent; a second call on an open
	// engine returns nil without side effects.
	Open(ctx context.Context) error
	Close() error
	Capabilities() Capabilities

	// Load replaces the current source. Readiness is reported asynchronously
	// through EventCanPlay or EventError tagged with src.
	Load(ctx context.Context, src string) error
	// Reload re-requests the current source after a stall.
	Reload(ctx context.Context) error

	// Play blocks until playback started, ctx is done or the request is
	// pre-empted (ErrAborted).
	Play(ctx context.Context) error
	Pause(ctx context.Context) error

	Src() string
	Paused() bool
	Ended() bool
	ReadyState() ReadyState
	Position() time.Duration
	Duration() time.Duration

	Seek(ctx context.Context, pos time.Duration) error
	SetVolume(ctx context.Context, percent int) error

	Subscribe() *Subscription
}

// ModeSetter is implemented by engines that keep their own shuffle and
// repeat state.
type ModeSetter interface {
	SetShuffle(ctx context.Context, on bool) error
	SetRepeat(ctx context.Context, mode core.RepeatMode) error
}

// EventType identifies an engine event.
type EventType int

const (
	EventCanPlay EventType = iota
	EventError
	EventStalled
	EventPlaying
	EventPaused
	EventEnded
	EventTimeUpdate
	EventDurationChange
	// EventStateChanged carries a full remote snapshot (polled engines).
	EventStateChanged
	EventReady
	EventNotReady
	EventAuthError
	EventAccountError
)

var eventNames = map[EventType]string{
	EventCanPlay:        "canplay",
	EventError:          "error",
	EventStalled:        "stalled",
	EventPlaying:        "playing",
	EventPaused:         "paused",
	EventEnded:          "ended",
	EventTimeUpdate:     "timeupdate",
	EventDurationChange: "durationchange",
	EventStateChanged:   "state_changed",
	EventReady:          "ready",
	EventNotReady:       "not_ready",
	EventAuthError:      "authentication_error",
	EventAccountError:   "account_error",
}

func (t EventType) String() string {
	if s, ok := eventNames[t]; ok {
		return s
	}
	return fmt.Sprintf("event(%d)", int(t))
}

// Event is a single engine notification. Src identifies the source the
// event belongs to so late callbacks for a replaced source can be dropped.
type Event struct {
	Type     EventType
	Src      string
	Err      error
	Position time.Duration
	Duration time.Duration
	Paused   bool
	// TrackID is the remote track identity for EventStateChanged.
	TrackID string
}
