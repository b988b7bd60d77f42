// Package library reads the platform's own song library, served by the same
// backend as the Jamendo proxy. Like the Jamendo catalog, every lookup
// degrades to an empty result.
package library

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tessro/tandem/internal/cache"
	"github.com/tessro/tandem/internal/core"
	"github.com/tessro/tandem/internal/remote"
)

const (
	// DefaultAPIBase is the backend address used when none is configured.
	DefaultAPIBase = "http://127.0.0.1:8000"
	// DefaultCount is how many songs the random and latest listings ask for.
	DefaultCount = 6
)

// Genres are the genres the library assigns to songs.
var Genres = []string{
	"Pop", "Rock", "Hip-Hop", "Electronic", "Jazz",
	"Classical", "Country", "Latin", "R&B", "Folk",
}

// Options configures a Client.
type Options struct {
	Remote remote.Options
	// Cache stores raw responses. Nil disables caching.
	Cache  cache.Cache
	TTL    time.Duration
	Count  int
	Logger *zap.Logger
}

// Client is a song library client.
type Client struct {
	api    *remote.Client
	cache  cache.Cache
	ttl    time.Duration
	count  int
	logger *zap.Logger
}

// New creates a client for the backend at apiBase.
func New(apiBase string, opts Options) *Client {
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	if opts.Cache == nil {
		opts.Cache = cache.Nop{}
	}
	if opts.TTL <= 0 {
		opts.TTL = cache.DefaultTTL
	}
	if opts.Count <= 0 {
		opts.Count = DefaultCount
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ro := opts.Remote
	ro.Service = "library"
	if ro.Logger == nil {
		ro.Logger = opts.Logger
	}
	return &Client{
		api:    remote.New(strings.TrimRight(apiBase, "/")+"/api/music", nil, ro),
		cache:  opts.Cache,
		ttl:    opts.TTL,
		count:  opts.Count,
		logger: opts.Logger.Named("library"),
	}
}

// All lists the first page of songs.
func (c *Client) All(ctx context.Context) []core.Track {
	return c.songs(ctx, "songs/", nil, true)
}

// Search finds songs matching query. An empty query returns nothing.
func (c *Client) Search(ctx context.Context, query string) []core.Track {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	return c.songs(ctx, "songs/", map[string]string{"search": query}, true)
}

// ByGenre lists songs of genre. Genre names match case-insensitively.
func (c *Client) ByGenre(ctx context.Context, genre string) []core.Track {
	genre = canonicalGenre(genre)
	if genre == "" {
		return nil
	}
	return c.songs(ctx, "songs/by_genre/", map[string]string{"genre": genre}, true)
}

// Latest lists the most recently added songs.
func (c *Client) Latest(ctx context.Context) []core.Track {
	return c.songs(ctx, "songs/", map[string]string{
		"ordering": "-created_at",
		"limit":    strconv.Itoa(c.count),
	}, true)
}

// Random lists a random selection. It is never cached.
func (c *Client) Random(ctx context.Context) []core.Track {
	return c.songs(ctx, "songs/random/", map[string]string{"count": strconv.Itoa(c.count)}, false)
}

// Song fetches a single song by id.
func (c *Client) Song(ctx context.Context, id string) (core.Track, bool) {
	if _, err := strconv.Atoi(id); err != nil {
		return core.Track{}, false
	}
	var s Song
	if err := c.fetch(ctx, "songs/"+id+"/", nil, &s); err != nil || s.ID == 0 {
		if err != nil {
			c.logger.Warn("song lookup failed", zap.String("id", id), zap.Error(err))
		}
		return core.Track{}, false
	}
	return s.ToCore(), true
}

// Healthy reports whether the library answers at all.
func (c *Client) Healthy(ctx context.Context) bool {
	if _, err := c.request(ctx, "songs/", map[string]string{"page": "1"}, &remote.Policy{MaxRetries: 0}); err != nil {
		c.logger.Debug("health check failed", zap.Error(err))
		return false
	}
	return true
}

func (c *Client) songs(ctx context.Context, endpoint string, params map[string]string, cached bool) []core.Track {
	var page songPage
	var err error
	if cached {
		err = c.fetch(ctx, endpoint, params, &page)
	} else {
		err = c.get(ctx, endpoint, params, &page)
	}
	if err != nil {
		c.logger.Warn("library request failed", zap.String("endpoint", endpoint), zap.Error(err))
		return nil
	}
	out := make([]core.Track, 0, len(page))
	for _, s := range page {
		out = append(out, s.ToCore())
	}
	return out
}

// canonicalGenre maps any spelling of a known genre to the library's own.
// Unknown genres pass through trimmed.
func canonicalGenre(g string) string {
	g = strings.TrimSpace(g)
	for _, known := range Genres {
		if strings.EqualFold(known, g) {
			return known
		}
	}
	return g
}

// fetch serves endpoint from the cache, or requests it and caches the raw
// body on success.
func (c *Client) fetch(ctx context.Context, endpoint string, params map[string]string, out any) error {
	key := cache.Key("library/"+endpoint, params)
	if b, ok := c.cache.Get(ctx, key); ok {
		if err := json.Unmarshal(b, out); err == nil {
			return nil
		}
		c.cache.Delete(ctx, key)
	}

	raw, err := c.request(ctx, endpoint, params, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return err
	}
	c.cache.Set(ctx, key, raw, c.ttl)
	return nil
}

func (c *Client) get(ctx context.Context, endpoint string, params map[string]string, out any) error {
	raw, err := c.request(ctx, endpoint, params, nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (c *Client) request(ctx context.Context, endpoint string, params map[string]string, policy *remote.Policy) (json.RawMessage, error) {
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	var raw json.RawMessage
	err := c.api.Do(ctx, remote.Request{Method: "GET", Path: "/" + endpoint, Query: q, Policy: policy}, &raw)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errors.New("empty response")
	}
	var env struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &env) == nil && env.Error != "" {
		return nil, errors.New(env.Error)
	}
	return raw, nil
}
