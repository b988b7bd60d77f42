// Package jamendo reads the Jamendo catalog through the tandem proxy. Every
// lookup degrades to an empty result; callers never see catalog errors.
package jamendo

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
	// DefaultAPIBase is the proxy address used when none is configured.
	DefaultAPIBase = "http://127.0.0.1:8000"
	// DefaultLimit is the page size for track lists.
	DefaultLimit = 50
)

// FallbackTags is returned when the tag list cannot be fetched.
var FallbackTags = []string{
	"pop", "rock", "electronic", "jazz", "classical",
	"hiphop", "metal", "world", "soundtrack", "lounge",
}

// Options configures a Client.
type Options struct {
	Remote remote.Options
	// Cache stores raw responses. Nil disables caching.
	Cache  cache.Cache
	TTL    time.Duration
	Limit  int
	Logger *zap.Logger
}

// Client is a catalog client.
type Client struct {
	api    *remote.Client
	cache  cache.Cache
	ttl    time.Duration
	limit  int
	logger *zap.Logger
}

// New creates a client for the proxy at apiBase.
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
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ro := opts.Remote
	ro.Service = "jamendo"
	if ro.Logger == nil {
		ro.Logger = opts.Logger
	}
	return &Client{
		api:    remote.New(strings.TrimRight(apiBase, "/")+"/api/jamendo", nil, ro),
		cache:  opts.Cache,
		ttl:    opts.TTL,
		limit:  opts.Limit,
		logger: opts.Logger.Named("jamendo"),
	}
}

// Search finds tracks matching query. An empty query returns nothing.
func (c *Client) Search(ctx context.Context, query string) []core.Track {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	return c.tracks(ctx, "search/", map[string]string{"q": query})
}

// ByTag lists tracks carrying tag.
func (c *Client) ByTag(ctx context.Context, tag string) []core.Track {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return nil
	}
	return c.tracks(ctx, "tracks/tag/", map[string]string{"tag": tag})
}

// Popular lists the most popular tracks.
func (c *Client) Popular(ctx context.Context) []core.Track {
	return c.tracks(ctx, "tracks/popular/", nil)
}

// Latest lists recently released tracks.
func (c *Client) Latest(ctx context.Context) []core.Track {
	return c.tracks(ctx, "tracks/latest/", nil)
}

// Random lists a random selection. It is never cached.
func (c *Client) Random(ctx context.Context) []core.Track {
	var resp struct {
		Results []Track `json:"results"`
	}
	if err := c.get(ctx, "tracks/random/", c.withLimit(nil), &resp); err != nil {
		c.logger.Warn("random tracks failed", zap.Error(err))
		return nil
	}
	return convert(resp.Results)
}

// Track fetches a single track by id.
func (c *Client) Track(ctx context.Context, id string) (core.Track, bool) {
	if _, err := strconv.Atoi(id); err != nil {
		return core.Track{}, false
	}
	var t Track
	if err := c.fetch(ctx, "tracks/"+id+"/", nil, &t); err != nil || t.ID == "" {
		if err != nil {
			c.logger.Warn("track lookup failed", zap.String("id", id), zap.Error(err))
		}
		return core.Track{}, false
	}
	return t.ToCore(), true
}

// Tags lists the featured genre tags, falling back to a built-in list.
func (c *Client) Tags(ctx context.Context) []string {
	var resp struct {
		Results []string `json:"results"`
	}
	if err := c.fetch(ctx, "tags/", nil, &resp); err != nil || len(resp.Results) == 0 {
		if err != nil {
			c.logger.Warn("tags failed, using fallback", zap.Error(err))
		}
		return append([]string(nil), FallbackTags...)
	}
	return resp.Results
}

// Healthy reports whether the proxy can reach Jamendo.
func (c *Client) Healthy(ctx context.Context) bool {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.getOnce(ctx, "health/", &resp); err != nil {
		c.logger.Debug("health check failed", zap.Error(err))
		return false
	}
	return resp.Status == "healthy"
}

// Configured reports whether the proxy has Jamendo credentials.
func (c *Client) Configured(ctx context.Context) bool {
	var resp struct {
		Available bool   `json:"available"`
		Status    string `json:"status"`
	}
	if err := c.getOnce(ctx, "config/", &resp); err != nil {
		c.logger.Debug("config check failed", zap.Error(err))
		return false
	}
	return resp.Available && resp.Status == "configured"
}

func (c *Client) tracks(ctx context.Context, endpoint string, params map[string]string) []core.Track {
	var resp struct {
		Results []Track `json:"results"`
	}
	if err := c.fetch(ctx, endpoint, c.withLimit(params), &resp); err != nil {
		c.logger.Warn("catalog request failed", zap.String("endpoint", endpoint), zap.Error(err))
		return nil
	}
	return convert(resp.Results)
}

func (c *Client) withLimit(params map[string]string) map[string]string {
	out := map[string]string{"limit": strconv.Itoa(c.limit)}
	for k, v := range params {
		out[k] = v
	}
	return out
}

func convert(in []Track) []core.Track {
	out := make([]core.Track, 0, len(in))
	for _, t := range in {
		out = append(out, t.ToCore())
	}
	return out
}

// fetch serves endpoint from the cache, or requests it and caches the raw
// body on success.
func (c *Client) fetch(ctx context.Context, endpoint string, params map[string]string, out any) error {
	key := cache.Key(endpoint, params)
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

// getOnce performs a status check without retries.
func (c *Client) getOnce(ctx context.Context, endpoint string, out any) error {
	raw, err := c.request(ctx, endpoint, nil, &remote.Policy{MaxRetries: 0})
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
