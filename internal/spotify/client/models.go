package client

import "time"

// User is the subset of the profile tandem reads.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Country     string `json:"country"`
	// Product is "premium" for accounts that can control playback.
	Product string `json:"product"`
}

// Premium reports whether the account can drive a Connect device.
func (u *User) Premium() bool {
	return u != nil && u.Product == "premium"
}

// Device represents a Spotify Connect device.
type Device struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Type           string `json:"type"`
	IsActive       bool   `json:"is_active"`
	IsRestricted   bool   `json:"is_restricted"`
	VolumePercent  *int   `json:"volume_percent"`
	SupportsVolume bool   `json:"supports_volume"`
}

// DevicesResponse is the response from the devices endpoint.
type DevicesResponse struct {
	Devices []Device `json:"devices"`
}

// PlaybackState is the response of GET /me/player.
type PlaybackState struct {
	Device       Device `json:"device"`
	ShuffleState bool   `json:"shuffle_state"`
	RepeatState  string `json:"repeat_state"` // off, track, context
	Timestamp    int64  `json:"timestamp"`
	ProgressMS   int    `json:"progress_ms"`
	IsPlaying    bool   `json:"is_playing"`
	Item         *Track `json:"item"`
	// CurrentlyPlayingType is track, episode, ad or unknown.
	CurrentlyPlayingType string `json:"currently_playing_type"`
}

// Progress returns the playhead position.
func (s *PlaybackState) Progress() time.Duration {
	return time.Duration(s.ProgressMS) * time.Millisecond
}

// Duration returns the current item's length, zero when unknown.
func (s *PlaybackState) Duration() time.Duration {
	if s.Item == nil {
		return 0
	}
	return time.Duration(s.Item.DurationMS) * time.Millisecond
}

// Track represents a Spotify track.
type Track struct {
	// Type is "track", or "episode" for podcast items in playlists.
	Type       string   `json:"type"`
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	URI        string   `json:"uri"`
	DurationMS int      `json:"duration_ms"`
	Explicit   bool     `json:"explicit"`
	IsPlayable *bool    `json:"is_playable"`
	Artists    []Artist `json:"artists"`
	Album      Album    `json:"album"`
}

// Artist represents a Spotify artist.
type Artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URI  string `json:"uri"`
}

// Album represents a Spotify album.
type Album struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	URI         string  `json:"uri"`
	ReleaseDate string  `json:"release_date"`
	Images      []Image `json:"images"`
}

// Image represents an image resource.
type Image struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// SearchResponse represents the response from a track search.
type SearchResponse struct {
	Tracks *SearchTracks `json:"tracks"`
}

// SearchTracks contains track search results.
type SearchTracks struct {
	Items  []Track `json:"items"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
	Next   string  `json:"next"`
}

// RecommendationsResponse is the response from the recommendations endpoint.
type RecommendationsResponse struct {
	Tracks []Track `json:"tracks"`
}

// Playlist is a playlist summary.
type Playlist struct {
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	URI    string        `json:"uri"`
	Public bool          `json:"public"`
	Owner  PlaylistOwner `json:"owner"`
	Tracks PlaylistRef   `json:"tracks"`
}

// PlaylistOwner identifies who owns a playlist.
type PlaylistOwner struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// PlaylistRef is the track count embedded in a playlist summary.
type PlaylistRef struct {
	Total int `json:"total"`
}

// PlaylistsPage is one page of the user's playlists.
type PlaylistsPage struct {
	Items  []Playlist `json:"items"`
	Total  int        `json:"total"`
	Offset int        `json:"offset"`
	Next   string     `json:"next"`
}

// PlaylistItem is one entry of a playlist.
type PlaylistItem struct {
	IsLocal bool   `json:"is_local"`
	Track   *Track `json:"track"`
}

// PlaylistItemsPage is one page of playlist entries.
type PlaylistItemsPage struct {
	Items  []PlaylistItem `json:"items"`
	Total  int            `json:"total"`
	Offset int            `json:"offset"`
	Next   string         `json:"next"`
}
