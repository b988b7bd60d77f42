package core

import (
	"strings"
	"time"
)

// Source indicates the catalog a track came from.
type Source string

const (
	SourceJamendo Source = "jamendo"
	SourceSpotify Source = "spotify"
	// SourceLibrary is the platform's own song library.
	SourceLibrary Source = "library"
)

// Track is a catalog entry. It is never mutated by the player.
type Track struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Artist   string        `json:"artist"`
	Album    string        `json:"album"`
	Duration time.Duration `json:"duration"`
	Source   Source        `json:"source"`

	// Candidate media references, in declaration order.
	AudioURL    string `json:"audio_url,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
	ShortURL    string `json:"short_url,omitempty"`

	// URI is the native player URI for SDK-backed engines.
	URI string `json:"uri,omitempty"`

	ImageURL string `json:"image_url,omitempty"`
}

// Same reports whether t and other refer to the same catalog entry.
func (t *Track) Same(other *Track) bool {
	if t == nil || other == nil {
		return false
	}
	return t.Source == other.Source && t.ID == other.ID
}

// DisplayName returns "Artist - Name", or just the name when the artist is unknown.
func (t *Track) DisplayName() string {
	if t == nil {
		return ""
	}
	if strings.TrimSpace(t.Artist) == "" {
		return t.Name
	}
	return t.Artist + " - " + t.Name
}
