package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessro/tandem/internal/core"
	tandemerrors "github.com/tessro/tandem/internal/errors"
	"github.com/tessro/tandem/internal/remote"
)

type staticToken string

func (s staticToken) Token(context.Context) (string, error)   { return string(s), nil }
func (s staticToken) Refresh(context.Context) (string, error) { return string(s), nil }

type recorded struct {
	method, path string
	query        map[string]string
	body         string
}

func newTestClient(t *testing.T, h func(w http.ResponseWriter, r *http.Request)) (*Client, *[]recorded) {
	t.Helper()
	var reqs []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		q := map[string]string{}
		for k := range r.URL.Query() {
			q[k] = r.URL.Query().Get(k)
		}
		reqs = append(reqs, recorded{r.Method, r.URL.Path, q, string(b)})
		if h != nil {
			h(w, r)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	api := remote.New(srv.URL, staticToken("tok"), remote.Options{
		Service: "spotify",
		Policy:  remote.Policy{MaxRetries: 1, BaseBackoff: time.Millisecond},
	})
	return New(api), &reqs
}

func TestControlRequests(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		call   func(c *Client) error
		method string
		path   string
		query  map[string]string
	}{
		{"pause", func(c *Client) error { return c.Pause(ctx, "dev") }, "PUT", "/me/player/pause", map[string]string{"device_id": "dev"}},
		{"next", func(c *Client) error { return c.Next(ctx, "") }, "POST", "/me/player/next", map[string]string{}},
		{"previous", func(c *Client) error { return c.Previous(ctx, "dev") }, "POST", "/me/player/previous", map[string]string{"device_id": "dev"}},
		{"seek", func(c *Client) error { return c.Seek(ctx, "dev", 90500*time.Millisecond) }, "PUT", "/me/player/seek", map[string]string{"device_id": "dev", "position_ms": "90500"}},
		{"volume", func(c *Client) error { return c.SetVolume(ctx, "", 35) }, "PUT", "/me/player/volume", map[string]string{"volume_percent": "35"}},
		{"shuffle", func(c *Client) error { return c.SetShuffle(ctx, "", true) }, "PUT", "/me/player/shuffle", map[string]string{"state": "true"}},
		{"repeat all", func(c *Client) error { return c.SetRepeat(ctx, "", core.RepeatAll) }, "PUT", "/me/player/repeat", map[string]string{"state": "context"}},
		{"repeat one", func(c *Client) error { return c.SetRepeat(ctx, "", core.RepeatOne) }, "PUT", "/me/player/repeat", map[string]string{"state": "track"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, reqs := newTestClient(t, nil)
			require.NoError(t, tt.call(c))
			require.Len(t, *reqs, 1)
			r := (*reqs)[0]
			assert.Equal(t, tt.method, r.method)
			assert.Equal(t, tt.path, r.path)
			assert.Equal(t, tt.query, r.query)
		})
	}
}

func TestPlaySendsBody(t *testing.T) {
	c, reqs := newTestClient(t, nil)

	require.NoError(t, c.Play(context.Background(), "dev", &PlayOptions{URIs: []string{"spotify:track:1"}}))
	require.NoError(t, c.Play(context.Background(), "", nil))

	require.Len(t, *reqs, 2)
	assert.JSONEq(t, `{"uris":["spotify:track:1"]}`, (*reqs)[0].body)
	assert.Equal(t, "dev", (*reqs)[0].query["device_id"])
	assert.JSONEq(t, `{}`, (*reqs)[1].body, "resume still sends a body")
}

func TestTransferPlayback(t *testing.T) {
	c, reqs := newTestClient(t, nil)
	require.NoError(t, c.TransferPlayback(context.Background(), "dev", false))
	assert.JSONEq(t, `{"device_ids":["dev"],"play":false}`, (*reqs)[0].body)
}

func TestGetPlaybackState(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{
			"device": {"id": "dev", "name": "Kitchen", "is_active": true},
			"is_playing": true,
			"progress_ms": 61000,
			"repeat_state": "context",
			"item": {"id": "t1", "uri": "spotify:track:t1", "name": "Song", "duration_ms": 200000}
		}`)
	})

	st, err := c.GetPlaybackState(context.Background())
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.True(t, st.IsPlaying)
	assert.Equal(t, 61*time.Second, st.Progress())
	assert.Equal(t, 200*time.Second, st.Duration())
	assert.Equal(t, "dev", st.Device.ID)
}

func TestGetPlaybackStateNothingActive(t *testing.T) {
	c, _ := newTestClient(t, nil)
	st, err := c.GetPlaybackState(context.Background())
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestSearchTracks(t *testing.T) {
	c, reqs := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(SearchResponse{Tracks: &SearchTracks{Items: []Track{{
			ID:         "abc",
			Name:       "Tune",
			URI:        "spotify:track:abc",
			DurationMS: 185000,
			Artists:    []Artist{{Name: "One"}, {Name: "Two"}},
			Album:      Album{Name: "LP"},
		}}}})
	})

	got, err := c.SearchTracks(context.Background(), "tune", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, core.Track{
		ID:       "abc",
		Name:     "Tune",
		Artist:   "One, Two",
		Album:    "LP",
		Duration: 185 * time.Second,
		Source:   core.SourceSpotify,
		URI:      "spotify:track:abc",
	}, got[0])

	q := (*reqs)[0].query
	assert.Equal(t, "tune", q["q"])
	assert.Equal(t, "track", q["type"])
	assert.Equal(t, "50", q["limit"])
}

func TestSearchTracksEmptyQuery(t *testing.T) {
	c, reqs := newTestClient(t, nil)
	got, err := c.SearchTracks(context.Background(), "  ", 10)
	assert.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, *reqs)
}

func TestGetRecommendations(t *testing.T) {
	c, reqs := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"tracks": [
			{"id": "r1", "uri": "spotify:track:r1", "name": "One", "duration_ms": 1000, "artists": [{"name": "A"}]},
			{"id": "r2", "uri": "spotify:track:r2", "name": "Two", "duration_ms": 2000}
		]}`)
	})

	got, err := c.GetRecommendations(context.Background(),
		[]string{" Jazz", "", "soul", "funk", "blues", "rock", "pop"}, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "A - One", got[0].DisplayName())
	assert.Equal(t, core.SourceSpotify, got[1].Source)

	r := (*reqs)[0]
	assert.Equal(t, "/recommendations", r.path)
	assert.Equal(t, "jazz,soul,funk,blues,rock", r.query["seed_genres"])
	assert.Equal(t, "20", r.query["limit"])
}

func TestGetRecommendationsNoSeeds(t *testing.T) {
	c, reqs := newTestClient(t, nil)
	got, err := c.GetRecommendations(context.Background(), []string{" "}, 10)
	assert.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, *reqs)
}

func TestGetUserPlaylistsFollowsPages(t *testing.T) {
	c, reqs := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("offset") == "0" {
			_, _ = io.WriteString(w, `{"items": [{"id": "p1", "name": "Morning"}], "total": 2, "next": "more"}`)
			return
		}
		_, _ = io.WriteString(w, `{"items": [{"id": "p2", "name": "Late Night", "tracks": {"total": 12}}], "total": 2, "next": null}`)
	})

	got, err := c.GetUserPlaylists(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Late Night", got[1].Name)
	assert.Equal(t, 12, got[1].Tracks.Total)

	require.Len(t, *reqs, 2)
	assert.Equal(t, "/me/playlists", (*reqs)[0].path)
	assert.Equal(t, "1", (*reqs)[1].query["offset"])
}

func TestFindPlaylist(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"items": [{"id": "p1", "name": "Morning"}, {"id": "p2", "name": "Late Night"}], "total": 2}`)
	})
	ctx := context.Background()

	p, err := c.FindPlaylist(ctx, "late night")
	require.NoError(t, err)
	assert.Equal(t, "p2", p.ID)

	p, err = c.FindPlaylist(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "Morning", p.Name)

	_, err = c.FindPlaylist(ctx, "Evening")
	assert.Equal(t, tandemerrors.KindNotFound, tandemerrors.KindOf(err))
}

func TestGetPlaylistTracksSkipsUnplayable(t *testing.T) {
	c, reqs := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"items": [
			{"track": {"type": "track", "id": "t1", "uri": "spotify:track:t1", "name": "Keep"}},
			{"is_local": true, "track": {"type": "track", "id": "", "name": "Local"}},
			{"track": {"type": "episode", "id": "e1", "name": "Podcast"}},
			{"track": null}
		], "total": 4, "next": null}`)
	})

	got, err := c.GetPlaylistTracks(context.Background(), "p2")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Keep", got[0].Name)
	assert.Equal(t, "/playlists/p2/tracks", (*reqs)[0].path)
	assert.Equal(t, "100", (*reqs)[0].query["limit"])
}

func TestNoActiveDevice(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"status":404,"message":"Player command failed: No active device found","reason":"NO_ACTIVE_DEVICE"}}`)
	})

	err := c.Pause(context.Background(), "")
	assert.Equal(t, tandemerrors.KindNotFound, tandemerrors.KindOf(err))
}

func TestUserPremium(t *testing.T) {
	assert.True(t, (&User{Product: "premium"}).Premium())
	assert.False(t, (&User{Product: "free"}).Premium())
	assert.False(t, (*User)(nil).Premium())
}
