package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common failure scenarios.
var (
	ErrInterrupted         = errors.New("playback interrupted")
	ErrNoCandidates        = errors.New("track has no playable media reference")
	ErrAllCandidatesFailed = errors.New("all media candidates failed")
	ErrLoadTimeout         = errors.New("media load timed out")
	ErrUnsupportedFormat   = errors.New("unsupported media format")
	ErrCorruptMedia        = errors.New("media could not be decoded")
	ErrPlaybackBlocked     = errors.New("playback blocked until user interaction")
	ErrNotAuthenticated    = errors.New("not authenticated")
	ErrNoActiveDevice      = errors.New("no active device")
	ErrPremiumRequired     = errors.New("spotify premium required")
	ErrRateLimited         = errors.New("rate limited")
	ErrNetworkError        = errors.New("network error")
	ErrServerError         = errors.New("server error")
	ErrNotConfigured       = errors.New("not configured")
	ErrNotConnected        = errors.New("player not connected")
	ErrConfigNotFound      = errors.New("config file not found")
	ErrInvalidConfig       = errors.New("invalid configuration")
)

// Kind classifies a failure for state reporting and retry decisions.
type Kind int

const (
	KindUnknown Kind = iota
	KindInterrupted
	KindUnsupported
	KindCorruptMedia
	KindNetwork
	KindLoadTimeout
	KindNoCandidates
	KindAllCandidatesFailed
	KindPlaybackBlocked
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindRateLimited
	KindServer
	KindNotConfigured
)

func (k Kind) String() string {
	switch k {
	case KindInterrupted:
		return "interrupted"
	case KindUnsupported:
		return "unsupported"
	case KindCorruptMedia:
		return "corrupt_media"
	case KindNetwork:
		return "network"
	case KindLoadTimeout:
		return "load_timeout"
	case KindNoCandidates:
		return "no_candidates"
	case KindAllCandidatesFailed:
		return "all_candidates_failed"
	case KindPlaybackBlocked:
		return "playback_blocked"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	case KindServer:
		return "server"
	case KindNotConfigured:
		return "not_configured"
	default:
		return "unknown"
	}
}

// PlayerError is a classified failure surfaced through player state.
type PlayerError struct {
	Kind       Kind
	Err        error
	Suggestion string
}

func (e *PlayerError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Err.Error()
}

func (e *PlayerError) Unwrap() error {
	return e.Err
}

// Message returns a short user-facing description.
func (e *PlayerError) Message() string {
	switch e.Kind {
	case KindUnsupported:
		return "This track's format is not supported"
	case KindCorruptMedia:
		return "This track could not be decoded"
	case KindNetwork:
		return "Network error while loading the track"
	case KindLoadTimeout:
		return "Loading the track took too long"
	case KindNoCandidates:
		return "This track has no playable audio"
	case KindAllCandidatesFailed:
		return "None of this track's audio sources could be played"
	case KindPlaybackBlocked:
		return "Playback is blocked; press play to start"
	case KindUnauthorized:
		return "Your session expired; please log in again"
	case KindForbidden:
		return "Your account cannot control playback (Premium required)"
	case KindNotFound:
		return "No active playback device"
	case KindRateLimited:
		return "Too many requests; try again in a moment"
	case KindServer:
		return "The music service is having issues"
	case KindNotConfigured:
		return "This source is not configured"
	default:
		return "Playback failed: " + e.Error()
	}
}

// New wraps err with an explicit kind.
func New(kind Kind, err error) *PlayerError {
	return &PlayerError{Kind: kind, Err: err}
}

// Classify maps any error to a PlayerError. Errors that already carry a kind
// are returned as-is.
func Classify(err error) *PlayerError {
	if err == nil {
		return nil
	}
	var pe *PlayerError
	if errors.As(err, &pe) {
		return pe
	}
	return &PlayerError{Kind: kindOf(err), Err: err}
}

// KindOf returns the classified kind of err.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var pe *PlayerError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return kindOf(err)
}

func kindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrInterrupted), errors.Is(err, context.Canceled):
		return KindInterrupted
	case errors.Is(err, ErrNoCandidates):
		return KindNoCandidates
	case errors.Is(err, ErrAllCandidatesFailed):
		return KindAllCandidatesFailed
	case errors.Is(err, ErrLoadTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindLoadTimeout
	case errors.Is(err, ErrUnsupportedFormat):
		return KindUnsupported
	case errors.Is(err, ErrCorruptMedia):
		return KindCorruptMedia
	case errors.Is(err, ErrPlaybackBlocked):
		return KindPlaybackBlocked
	case errors.Is(err, ErrNotAuthenticated):
		return KindUnauthorized
	case errors.Is(err, ErrPremiumRequired):
		return KindForbidden
	case errors.Is(err, ErrNoActiveDevice):
		return KindNotFound
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrServerError):
		return KindServer
	case errors.Is(err, ErrNetworkError):
		return KindNetwork
	case errors.Is(err, ErrNotConfigured):
		return KindNotConfigured
	}

	// Engines report play() rejections as strings; match the abort signatures.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "aborterror"), strings.Contains(msg, "interrupted"),
		strings.Contains(msg, "aborted"):
		return KindInterrupted
	case strings.Contains(msg, "notallowederror"), strings.Contains(msg, "user gesture"):
		return KindPlaybackBlocked
	case strings.Contains(msg, "notsupportederror"), strings.Contains(msg, "unrecognized file format"),
		strings.Contains(msg, "unsupported"):
		return KindUnsupported
	case strings.Contains(msg, "decode"), strings.Contains(msg, "corrupt"):
		return KindCorruptMedia
	}
	return KindUnknown
}

// IsInterruption reports whether err is an expected interruption caused by a
// later pause or play pre-empting an earlier one.
func IsInterruption(err error) bool {
	return err != nil && KindOf(err) == KindInterrupted
}

// WithSuggestion wraps an error with a helpful suggestion.
func WithSuggestion(err error, suggestion string) error {
	pe := Classify(err)
	return &PlayerError{Kind: pe.Kind, Err: pe.Err, Suggestion: suggestion}
}

// GetSuggestion returns a suggestion for the given error.
func GetSuggestion(err error) string {
	if err == nil {
		return ""
	}

	var pe *PlayerError
	if errors.As(err, &pe) && pe.Suggestion != "" {
		return pe.Suggestion
	}

	errStr := strings.ToLower(err.Error())

	switch KindOf(err) {
	case KindUnauthorized:
		return "Run 'tandem auth login' to authenticate with Spotify"
	case KindNotFound:
		return "Open Spotify on a device and start playing, or set spotify.device"
	case KindForbidden:
		return "This feature requires Spotify Premium"
	case KindRateLimited:
		return "Too many requests. Wait a moment and try again"
	case KindNetwork, KindLoadTimeout:
		return "Check your internet connection and try again"
	case KindNotConfigured:
		return "Check your configuration with 'tandem config show'"
	case KindServer:
		return "The service is having issues. Try again in a moment"
	}

	if errors.Is(err, ErrConfigNotFound) || strings.Contains(errStr, "config") {
		return "Create ~/.tandemrc or set TANDEM_* environment variables"
	}
	if strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "timeout") {
		return "Check your internet connection and try again"
	}

	return ""
}

// Format returns a formatted error message with suggestion if available.
func Format(err error) string {
	if err == nil {
		return ""
	}

	suggestion := GetSuggestion(err)
	if suggestion != "" {
		return fmt.Sprintf("Error: %s\n\nSuggestion: %s", err.Error(), suggestion)
	}

	return fmt.Sprintf("Error: %s", err.Error())
}
