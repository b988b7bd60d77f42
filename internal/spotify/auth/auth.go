// Package auth implements the Spotify PKCE authorization code flow and the
// persisted token that backs every Web API call.
package auth

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	// SpotifyAuthURL is the Spotify authorization endpoint.
	SpotifyAuthURL = "https://accounts.spotify.com/authorize"

	// SpotifyTokenURL is the Spotify token endpoint.
	SpotifyTokenURL = "https://accounts.spotify.com/api/token"

	// DefaultRedirectURI is the default callback URI for the local server.
	DefaultRedirectURI = "http://127.0.0.1:8888/callback"
)

// DefaultScopes are the scopes needed to search and drive a Connect device.
var DefaultScopes = []string{
	"user-read-playback-state",
	"user-modify-playback-state",
	"user-read-currently-playing",
	"user-read-private",
	"streaming",
}

// Config holds the OAuth configuration.
type Config struct {
	ClientID    string
	RedirectURI string
	Scopes      []string

	// Endpoints; empty selects the Spotify defaults.
	AuthURL  string
	TokenURL string
}

// NewConfig creates a configuration with default endpoints, redirect and
// scopes.
func NewConfig(clientID string) *Config {
	return &Config{
		ClientID:    clientID,
		RedirectURI: DefaultRedirectURI,
		Scopes:      DefaultScopes,
	}
}

func (c *Config) authURL() string {
	if c.AuthURL != "" {
		return c.AuthURL
	}
	return SpotifyAuthURL
}

func (c *Config) tokenURL() string {
	if c.TokenURL != "" {
		return c.TokenURL
	}
	return SpotifyTokenURL
}

// BuildAuthURL returns the URL the user opens to grant access.
func (c *Config) BuildAuthURL(pkce *PKCE) string {
	u, _ := url.Parse(c.authURL())

	q := u.Query()
	q.Set("client_id", c.ClientID)
	q.Set("response_type", "code")
	q.Set("redirect_uri", c.RedirectURI)
	q.Set("code_challenge_method", "S256")
	q.Set("code_challenge", pkce.Challenge)
	q.Set("state", pkce.State)
	if len(c.Scopes) > 0 {
		q.Set("scope", strings.Join(c.Scopes, " "))
	}

	u.RawQuery = q.Encode()
	return u.String()
}

// CallbackAddr returns the host:port and path the callback server must
// serve for RedirectURI.
func (c *Config) CallbackAddr() (addr, path string, err error) {
	u, err := url.Parse(c.RedirectURI)
	if err != nil {
		return "", "", fmt.Errorf("invalid redirect URI: %w", err)
	}
	if u.Scheme != "http" {
		return "", "", fmt.Errorf("redirect URI must use http on a loopback address: %s", c.RedirectURI)
	}
	port := u.Port()
	if port == "" {
		port = "80"
	}
	path = u.Path
	if path == "" {
		path = "/"
	}
	return u.Hostname() + ":" + port, path, nil
}
