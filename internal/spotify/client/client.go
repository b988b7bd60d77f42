// Package client is a typed Spotify Web API client built on the shared
// remote retry policy.
package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tessro/tandem/internal/core"
	tandemerrors "github.com/tessro/tandem/internal/errors"
	"github.com/tessro/tandem/internal/remote"
)

// BaseURL is the Spotify Web API base URL.
const BaseURL = "https://api.spotify.com/v1"

// Client is a Spotify API client.
type Client struct {
	api *remote.Client
}

// New creates a client over api, which carries the base URL, the bearer
// token source and the retry policy.
func New(api *remote.Client) *Client {
	return &Client{api: api}
}

// GetCurrentUser returns the current user's profile. It doubles as token
// validation.
func (c *Client) GetCurrentUser(ctx context.Context) (*User, error) {
	var user User
	if err := c.api.Get(ctx, "/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// GetDevices returns the user's available playback devices.
func (c *Client) GetDevices(ctx context.Context) ([]Device, error) {
	var resp DevicesResponse
	if err := c.api.Get(ctx, "/me/player/devices", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Devices, nil
}

// GetPlaybackState returns the current playback state, or nil when nothing
// is active.
func (c *Client) GetPlaybackState(ctx context.Context) (*PlaybackState, error) {
	var state *PlaybackState
	if err := c.api.Get(ctx, "/me/player", nil, &state); err != nil {
		return nil, err
	}
	return state, nil
}

// SearchOptions configures a track search.
type SearchOptions struct {
	Query  string
	Limit  int
	Offset int
	Market string
}

// DefaultSearchLimit matches the catalog page size.
const DefaultSearchLimit = 50

// Search searches tracks.
func (c *Client) Search(ctx context.Context, opts SearchOptions) (*SearchResponse, error) {
	q := url.Values{}
	q.Set("q", opts.Query)
	q.Set("type", "track")
	limit := opts.Limit
	if limit <= 0 || limit > DefaultSearchLimit {
		limit = DefaultSearchLimit
	}
	q.Set("limit", strconv.Itoa(limit))
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	if opts.Market != "" {
		q.Set("market", opts.Market)
	}

	var resp SearchResponse
	if err := c.api.Get(ctx, "/search", q, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SearchTracks searches and converts the results to catalog tracks. An empty
// query returns no tracks.
func (c *Client) SearchTracks(ctx context.Context, query string, limit int) ([]core.Track, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	resp, err := c.Search(ctx, SearchOptions{Query: query, Limit: limit})
	if err != nil {
		return nil, err
	}
	if resp.Tracks == nil {
		return nil, nil
	}
	return convertTracks(resp.Tracks.Items), nil
}

const (
	// MaxSeedGenres is the most genre seeds a recommendation request takes.
	MaxSeedGenres = 5
	// DefaultRecommendationLimit is how many recommendations are requested.
	DefaultRecommendationLimit = 20

	playlistPage     = 50
	playlistItemPage = 100
	// maxPlaylistItems caps how much of a long playlist is read.
	maxPlaylistItems = 500
)

// GetRecommendations returns tracks seeded by genres. Blank genres are
// dropped and only the first MaxSeedGenres are used.
func (c *Client) GetRecommendations(ctx context.Context, genres []string, limit int) ([]core.Track, error) {
	var seeds []string
	for _, g := range genres {
		if g = strings.ToLower(strings.TrimSpace(g)); g != "" {
			seeds = append(seeds, g)
		}
	}
	if len(seeds) == 0 {
		return nil, nil
	}
	if len(seeds) > MaxSeedGenres {
		seeds = seeds[:MaxSeedGenres]
	}
	if limit <= 0 || limit > 100 {
		limit = DefaultRecommendationLimit
	}

	q := url.Values{}
	q.Set("seed_genres", strings.Join(seeds, ","))
	q.Set("limit", strconv.Itoa(limit))
	var resp RecommendationsResponse
	if err := c.api.Get(ctx, "/recommendations", q, &resp); err != nil {
		return nil, err
	}
	return convertTracks(resp.Tracks), nil
}

// GetUserPlaylists returns the current user's playlists, following pages.
func (c *Client) GetUserPlaylists(ctx context.Context) ([]Playlist, error) {
	var out []Playlist
	for offset := 0; ; {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(playlistPage))
		q.Set("offset", strconv.Itoa(offset))
		var page PlaylistsPage
		if err := c.api.Get(ctx, "/me/playlists", q, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Items...)
		offset += len(page.Items)
		if page.Next == "" || len(page.Items) == 0 || offset >= page.Total {
			return out, nil
		}
	}
}

// FindPlaylist returns the user's playlist whose name or ID matches name.
// Names match case-insensitively.
func (c *Client) FindPlaylist(ctx context.Context, name string) (*Playlist, error) {
	name = strings.TrimSpace(name)
	playlists, err := c.GetUserPlaylists(ctx)
	if err != nil {
		return nil, err
	}
	for i, p := range playlists {
		if p.ID == name || strings.EqualFold(p.Name, name) {
			return &playlists[i], nil
		}
	}
	return nil, tandemerrors.New(tandemerrors.KindNotFound, fmt.Errorf("playlist %q not found", name))
}

// GetPlaylistTracks returns the playable tracks of a playlist. Local files
// and episodes are skipped.
func (c *Client) GetPlaylistTracks(ctx context.Context, playlistID string) ([]core.Track, error) {
	path := "/playlists/" + url.PathEscape(playlistID) + "/tracks"
	var out []core.Track
	for offset := 0; offset < maxPlaylistItems; {
		q := url.Values{}
		q.Set("limit", strconv.Itoa(playlistItemPage))
		q.Set("offset", strconv.Itoa(offset))
		var page PlaylistItemsPage
		if err := c.api.Get(ctx, path, q, &page); err != nil {
			return nil, err
		}
		for _, it := range page.Items {
			if it.IsLocal || it.Track == nil || it.Track.ID == "" || it.Track.Type == "episode" {
				continue
			}
			out = append(out, it.Track.ToCore())
		}
		offset += len(page.Items)
		if page.Next == "" || len(page.Items) == 0 || offset >= page.Total {
			break
		}
	}
	return out, nil
}

func convertTracks(in []Track) []core.Track {
	out := make([]core.Track, 0, len(in))
	for _, t := range in {
		out = append(out, t.ToCore())
	}
	return out
}

// ToCore converts an API track to a catalog track.
func (t Track) ToCore() core.Track {
	names := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		names = append(names, a.Name)
	}
	out := core.Track{
		ID:       t.ID,
		Name:     t.Name,
		Artist:   strings.Join(names, ", "),
		Album:    t.Album.Name,
		Duration: time.Duration(t.DurationMS) * time.Millisecond,
		Source:   core.SourceSpotify,
		URI:      t.URI,
	}
	if len(t.Album.Images) > 0 {
		out.ImageURL = t.Album.Images[0].URL
	}
	return out
}

func deviceQuery(deviceID string, kv ...string) url.Values {
	q := url.Values{}
	for i := 0; i+1 < len(kv); i += 2 {
		q.Set(kv[i], kv[i+1])
	}
	if deviceID != "" {
		q.Set("device_id", deviceID)
	}
	return q
}

// PlayOptions configures a play request.
type PlayOptions struct {
	ContextURI string   `json:"context_uri,omitempty"`
	URIs       []string `json:"uris,omitempty"`
	PositionMS int      `json:"position_ms,omitempty"`
}

// Play starts the given URIs or, with nil opts, resumes. An empty deviceID
// targets the active device.
func (c *Client) Play(ctx context.Context, deviceID string, opts *PlayOptions) error {
	// Spotify requires a JSON body even for resume.
	body := opts
	if body == nil {
		body = &PlayOptions{}
	}
	return c.api.Put(ctx, "/me/player/play", deviceQuery(deviceID), body)
}

// Pause pauses playback.
func (c *Client) Pause(ctx context.Context, deviceID string) error {
	return c.api.Put(ctx, "/me/player/pause", deviceQuery(deviceID), nil)
}

// Next skips to the next track.
func (c *Client) Next(ctx context.Context, deviceID string) error {
	return c.api.Post(ctx, "/me/player/next", deviceQuery(deviceID), nil)
}

// Previous skips to the previous track.
func (c *Client) Previous(ctx context.Context, deviceID string) error {
	return c.api.Post(ctx, "/me/player/previous", deviceQuery(deviceID), nil)
}

// Seek seeks within the current track.
func (c *Client) Seek(ctx context.Context, deviceID string, pos time.Duration) error {
	return c.api.Put(ctx, "/me/player/seek",
		deviceQuery(deviceID, "position_ms", strconv.FormatInt(pos.Milliseconds(), 10)), nil)
}

// SetVolume sets the device volume (0-100).
func (c *Client) SetVolume(ctx context.Context, deviceID string, percent int) error {
	return c.api.Put(ctx, "/me/player/volume",
		deviceQuery(deviceID, "volume_percent", strconv.Itoa(percent)), nil)
}

// SetRepeat sets the repeat state: off, context or track.
func (c *Client) SetRepeat(ctx context.Context, deviceID string, mode core.RepeatMode) error {
	return c.api.Put(ctx, "/me/player/repeat", deviceQuery(deviceID, "state", RepeatState(mode)), nil)
}

// SetShuffle sets shuffle.
func (c *Client) SetShuffle(ctx context.Context, deviceID string, on bool) error {
	return c.api.Put(ctx, "/me/player/shuffle", deviceQuery(deviceID, "state", strconv.FormatBool(on)), nil)
}

// TransferPlayback makes deviceID the active device.
func (c *Client) TransferPlayback(ctx context.Context, deviceID string, play bool) error {
	body := map[string]any{
		"device_ids": []string{deviceID},
		"play":       play,
	}
	return c.api.Do(ctx, remote.Request{Method: http.MethodPut, Path: "/me/player", Body: body}, nil)
}

// RepeatState maps a repeat mode to Spotify's spelling.
func RepeatState(m core.RepeatMode) string {
	switch m {
	case core.RepeatAll:
		return "context"
	case core.RepeatOne:
		return "track"
	default:
		return "off"
	}
}
