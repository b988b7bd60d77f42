// Package remote is the bearer-authenticated HTTP client shared by every
// call to a remote playback API. It owns the single retry policy: refresh
// once on 401, honor Retry-After on 429 and back off on 5xx and network
// failures.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/tessro/tandem/internal/clock"
	tandemerrors "github.com/tessro/tandem/internal/errors"
	"github.com/tessro/tandem/internal/metrics"
)

const (
	DefaultMaxRetries    = 3
	DefaultBaseBackoff   = 500 * time.Millisecond
	DefaultMaxBackoff    = 8 * time.Second
	DefaultMaxRetryAfter = 5 * time.Second
	DefaultTimeout       = 30 * time.Second
)

// Policy bounds retries for one client or one request.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt for 429,
	// 5xx and network failures. The 401 refresh retry is not counted.
	MaxRetries int
	// BaseBackoff is the first 5xx/network wait; it doubles per retry.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// MaxRetryAfter caps the wait requested by a Retry-After header.
	MaxRetryAfter time.Duration
}

// DefaultPolicy returns the standard policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:    DefaultMaxRetries,
		BaseBackoff:   DefaultBaseBackoff,
		MaxBackoff:    DefaultMaxBackoff,
		MaxRetryAfter: DefaultMaxRetryAfter,
	}
}

func (p Policy) normalize() Policy {
	d := DefaultPolicy()
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = d.BaseBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = d.MaxBackoff
	}
	if p.MaxRetryAfter <= 0 {
		p.MaxRetryAfter = d.MaxRetryAfter
	}
	return p
}

// Authenticator supplies bearer tokens.
type Authenticator interface {
	// Token returns the current access token.
	Token(ctx context.Context) (string, error)
	// Refresh obtains a new access token after the server rejected the
	// current one.
	Refresh(ctx context.Context) (string, error)
}

// Options configures a Client.
type Options struct {
	// Service labels metrics and logs, e.g. "spotify".
	Service           string
	Policy            Policy
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
	Logger            *zap.Logger
	Clock             clock.Clock
}

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	service string
	http    *http.Client
	auth    Authenticator
	policy  Policy
	limiter *rate.Limiter
	refresh singleflight.Group
	clock   clock.Clock
	logger  *zap.Logger
}

// New creates a client for baseURL. auth may be nil for unauthenticated APIs.
func New(baseURL string, auth Authenticator, opts Options) *Client {
	if opts.Service == "" {
		opts.Service = "remote"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		service: opts.Service,
		http:    opts.HTTPClient,
		auth:    auth,
		policy:  opts.Policy.normalize(),
		limiter: rate.NewLimiter(limit, opts.Burst),
		clock:   clock.OrReal(opts.Clock),
		logger:  opts.Logger.Named(opts.Service),
	}
}

// Request describes one API call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	// Body is encoded as JSON when non-nil.
	Body any
	// Policy overrides the client policy for this call.
	Policy *Policy
}

// Get performs a GET and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query}, out)
}

// Put performs a PUT.
func (c *Client) Put(ctx context.Context, path string, query url.Values, body any) error {
	return c.Do(ctx, Request{Method: http.MethodPut, Path: path, Query: query, Body: body}, nil)
}

// Post performs a POST.
func (c *Client) Post(ctx context.Context, path string, query url.Values, body any) error {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Query: query, Body: body}, nil)
}

// Do runs req under the retry policy. Failures are returned as
// *errors.PlayerError wrapping a *StatusError when the server answered.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	policy := c.policy
	if req.Policy != nil {
		policy = req.Policy.normalize()
	}

	var body []byte
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		body = b
	}

	fullURL := c.baseURL + req.Path
	if len(req.Query) > 0 {
		fullURL += "?" + req.Query.Encode()
	}
	log := c.logger.With(zap.String("method", req.Method), zap.String("path", req.Path))

	token, err := c.token(ctx)
	if err != nil {
		return err
	}

	refreshed := false
	retries := 0
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return tandemerrors.Classify(err)
		}

		status, respBody, header, err := c.attempt(ctx, req.Method, fullURL, token, body)
		if err != nil {
			if ctx.Err() != nil {
				return tandemerrors.Classify(ctx.Err())
			}
			metrics.RecordAPIRequest(c.service, "error")
			if retries >= policy.MaxRetries {
				return tandemerrors.New(tandemerrors.KindNetwork, fmt.Errorf("%w: %w", tandemerrors.ErrNetworkError, err))
			}
			retries++
			wait := backoff(policy, retries)
			log.Debug("network error, retrying", zap.Int("retry", retries), zap.Duration("wait", wait), zap.Error(err))
			metrics.RecordAPIRetry(c.service, "network")
			if err := c.sleep(ctx, wait); err != nil {
				return tandemerrors.Classify(err)
			}
			continue
		}

		metrics.RecordAPIRequest(c.service, strconv.Itoa(status))

		switch {
		case status < 300:
			if out != nil && len(respBody) > 0 {
				if err := json.Unmarshal(respBody, out); err != nil {
					return fmt.Errorf("decode response: %w", err)
				}
			}
			return nil

		case status == http.StatusUnauthorized:
			serr := parseStatusError(status, respBody)
			if refreshed || c.auth == nil {
				return tandemerrors.New(tandemerrors.KindUnauthorized, serr)
			}
			refreshed = true
			log.Debug("token rejected, refreshing")
			token, err = c.refreshToken(ctx)
			if err != nil {
				return tandemerrors.New(tandemerrors.KindUnauthorized,
					fmt.Errorf("%w: refresh failed: %w", serr, err))
			}
			metrics.RecordAPIRetry(c.service, "unauthorized")

		case status == http.StatusTooManyRequests:
			serr := parseStatusError(status, respBody)
			serr.RetryAfter = parseRetryAfter(header.Get("Retry-After"))
			if retries >= policy.MaxRetries {
				return tandemerrors.New(tandemerrors.KindRateLimited, serr)
			}
			retries++
			wait := serr.RetryAfter
			if wait <= 0 {
				wait = backoff(policy, retries)
			}
			if wait > policy.MaxRetryAfter {
				wait = policy.MaxRetryAfter
			}
			log.Debug("rate limited, retrying", zap.Int("retry", retries), zap.Duration("wait", wait))
			metrics.RecordAPIRetry(c.service, "rate_limited")
			if err := c.sleep(ctx, wait); err != nil {
				return tandemerrors.Classify(err)
			}

		case status >= 500:
			serr := parseStatusError(status, respBody)
			if retries >= policy.MaxRetries {
				return tandemerrors.New(tandemerrors.KindServer, serr)
			}
			retries++
			wait := backoff(policy, retries)
			log.Debug("server error, retrying", zap.Int("status", status), zap.Int("retry", retries), zap.Duration("wait", wait))
			metrics.RecordAPIRetry(c.service, "server")
			if err := c.sleep(ctx, wait); err != nil {
				return tandemerrors.Classify(err)
			}

		default:
			serr := parseStatusError(status, respBody)
			log.Debug("request rejected", zap.Int("status", status), zap.String("message", serr.Message))
			return tandemerrors.New(kindForStatus(status), serr)
		}
	}
}

func (c *Client) attempt(ctx context.Context, method, fullURL, token string, body []byte) (int, []byte, http.Header, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, r)
	if err != nil {
		return 0, nil, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, respBody, resp.Header, nil
}

func (c *Client) token(ctx context.Context) (string, error) {
	if c.auth == nil {
		return "", nil
	}
	tok, err := c.auth.Token(ctx)
	if err != nil {
		if tandemerrors.KindOf(err) != tandemerrors.KindUnknown {
			return "", tandemerrors.Classify(err)
		}
		return "", tandemerrors.New(tandemerrors.KindUnauthorized, err)
	}
	return tok, nil
}

// refreshToken coalesces concurrent refreshes into one call.
func (c *Client) refreshToken(ctx context.Context) (string, error) {
	v, err, _ := c.refresh.Do("refresh", func() (any, error) {
		tok, err := c.auth.Refresh(ctx)
		if err != nil {
			metrics.RecordTokenRefresh("failure")
			return "", err
		}
		metrics.RecordTokenRefresh("success")
		return tok, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.clock.After(d):
		return nil
	}
}

// backoff returns the wait before retry n (1-based) with up to 20% jitter.
func backoff(p Policy, n int) time.Duration {
	wait := p.BaseBackoff << (n - 1)
	if wait > p.MaxBackoff || wait <= 0 {
		wait = p.MaxBackoff
	}
	return wait + time.Duration(rand.Int64N(int64(wait/5)+1))
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func kindForStatus(status int) tandemerrors.Kind {
	switch status {
	case http.StatusUnauthorized:
		return tandemerrors.KindUnauthorized
	case http.StatusForbidden:
		return tandemerrors.KindForbidden
	case http.StatusNotFound:
		return tandemerrors.KindNotFound
	case http.StatusTooManyRequests:
		return tandemerrors.KindRateLimited
	}
	if status >= 500 {
		return tandemerrors.KindServer
	}
	return tandemerrors.KindUnknown
}

// IsStatus reports whether err carries a server response with status.
func IsStatus(err error, status int) bool {
	var serr *StatusError
	return errors.As(err, &serr) && serr.Status == status
}
