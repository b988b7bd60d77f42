package library

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessro/tandem/internal/cache"
	"github.com/tessro/tandem/internal/core"
	"github.com/tessro/tandem/internal/remote"
)

const songJSON = `{"id": 7, "title": "Harbor", "genre": "Jazz", "duration": 245,
	"artist": {"id": 2, "name": "Mara"},
	"album": {"id": 3, "title": "Tides", "cover_image": "https://img/tides.jpg"},
	"audio_file": "https://media/harbor.mp3", "hls_url": "https://media/harbor/index.m3u8",
	"spotify_id": "4uLU6hMCjMI75M1A2tKUQC", "created_at": "2024-05-01T10:00:00Z"}`

const plainSong = `{"id": 8, "title": "Quiet", "duration": 0, "artist": {"name": "Lo"}, "album": {"title": "Q"},
	"audio_file": null, "hls_url": "", "spotify_id": null}`

// backend serves canned bodies by path and records what it was asked.
type backend struct {
	srv  *httptest.Server
	hits atomic.Int32

	mu      sync.Mutex
	queries map[string]url.Values
}

func newBackend(t *testing.T, routes map[string]string) *backend {
	t.Helper()
	b := &backend{queries: map[string]url.Values{}}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.hits.Add(1)
		path := strings.TrimPrefix(r.URL.Path, "/api/music/")
		b.mu.Lock()
		b.queries[path] = r.URL.Query()
		b.mu.Unlock()
		body, ok := routes[path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *backend) query(path string) url.Values {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queries[path]
}

func newClient(b *backend, c cache.Cache) *Client {
	return New(b.srv.URL, Options{
		Cache:  c,
		Remote: remote.Options{Policy: remote.Policy{MaxRetries: 0, BaseBackoff: time.Millisecond}},
	})
}

func TestSongToCore(t *testing.T) {
	b := newBackend(t, map[string]string{"songs/7/": songJSON})
	got, ok := newClient(b, nil).Song(context.Background(), "7")
	require.True(t, ok)

	assert.Equal(t, core.Track{
		ID:          "7",
		Name:        "Harbor",
		Artist:      "Mara",
		Album:       "Tides",
		Duration:    245 * time.Second,
		Source:      core.SourceLibrary,
		AudioURL:    "https://media/harbor.mp3",
		DownloadURL: "https://media/harbor/index.m3u8",
		URI:         "spotify:track:4uLU6hMCjMI75M1A2tKUQC",
		ImageURL:    "https://img/tides.jpg",
	}, got)
}

func TestSongLookupRejectsBadID(t *testing.T) {
	b := newBackend(t, nil)
	_, ok := newClient(b, nil).Song(context.Background(), "../songs")
	assert.False(t, ok)
	assert.Equal(t, int32(0), b.hits.Load())
}

func TestAllReadsPaginatedEnvelope(t *testing.T) {
	b := newBackend(t, map[string]string{
		"songs/": `{"count": 2, "next": null, "previous": null, "results": [` + songJSON + `,` + plainSong + `]}`,
	})

	got := newClient(b, nil).All(context.Background())
	require.Len(t, got, 2)
	assert.Equal(t, "Harbor", got[0].Name)
	assert.Equal(t, "Quiet", got[1].Name)
	assert.Empty(t, got[1].AudioURL)
	assert.Empty(t, got[1].URI)
}

func TestListings(t *testing.T) {
	b := newBackend(t, map[string]string{
		"songs/":          `{"results": [` + songJSON + `]}`,
		"songs/by_genre/": `[` + songJSON + `]`,
		"songs/random/":   `[` + plainSong + `,` + songJSON + `]`,
	})
	c := newClient(b, nil)
	ctx := context.Background()

	assert.Len(t, c.ByGenre(ctx, "jazz"), 1)
	assert.Equal(t, "Jazz", b.query("songs/by_genre/").Get("genre"), "genre spelled as the library does")

	assert.Len(t, c.Random(ctx), 2)
	assert.Equal(t, "6", b.query("songs/random/").Get("count"))

	assert.Len(t, c.Latest(ctx), 1)
	q := b.query("songs/")
	assert.Equal(t, "-created_at", q.Get("ordering"))
	assert.Equal(t, "6", q.Get("limit"))

	assert.Len(t, c.Search(ctx, " harbor "), 1)
	assert.Equal(t, "harbor", b.query("songs/").Get("search"))
}

func TestEmptyInputsSkipRequests(t *testing.T) {
	b := newBackend(t, nil)
	c := newClient(b, nil)
	ctx := context.Background()

	assert.Nil(t, c.Search(ctx, "  "))
	assert.Nil(t, c.ByGenre(ctx, ""))
	assert.Equal(t, int32(0), b.hits.Load())
}

func TestFailuresDegradeToEmpty(t *testing.T) {
	b := newBackend(t, map[string]string{
		"songs/by_genre/": `{"error": "Genre parameter required"}`,
	})
	c := newClient(b, nil)
	ctx := context.Background()

	assert.Empty(t, c.ByGenre(ctx, "Polka"))
	assert.Empty(t, c.All(ctx), "404 degrades to empty")
	assert.False(t, c.Healthy(ctx))
}

func TestHealthy(t *testing.T) {
	b := newBackend(t, map[string]string{"songs/": `{"results": []}`})
	assert.True(t, newClient(b, nil).Healthy(context.Background()))
}

func TestResponsesAreCached(t *testing.T) {
	mr := miniredis.RunT(t)
	rc, err := cache.NewRedis(context.Background(), cache.RedisConfig{Addr: mr.Addr()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })

	b := newBackend(t, map[string]string{
		"songs/":        `{"results": [` + songJSON + `]}`,
		"songs/random/": `[` + songJSON + `]`,
	})
	c := New(b.srv.URL, Options{Cache: rc, TTL: 5 * time.Minute})
	ctx := context.Background()

	assert.Equal(t, c.Search(ctx, "harbor"), c.Search(ctx, "harbor"))
	assert.Equal(t, int32(1), b.hits.Load())
	key := cache.Key("library/songs/", map[string]string{"search": "harbor"})
	assert.Equal(t, 5*time.Minute, mr.TTL(key))

	c.Random(ctx)
	c.Random(ctx)
	assert.Equal(t, int32(3), b.hits.Load(), "random listings bypass the cache")
}
