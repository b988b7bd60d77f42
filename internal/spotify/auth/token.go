package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	tandemerrors "github.com/tessro/tandem/internal/errors"
)

// expirySkew treats a token as expired slightly before it actually is.
const expirySkew = 60 * time.Second

// Token represents Spotify OAuth tokens.
type Token struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	Scope        string    `json:"scope"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// ExpiredAt reports whether the token is expired, or about to be, at now.
func (t *Token) ExpiredAt(now time.Time) bool {
	return !now.Add(expirySkew).Before(t.ExpiresAt)
}

// TokenError is an error response from the token endpoint.
type TokenError struct {
	Status      int
	Code        string
	Description string
}

func (e *TokenError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("token error: %s - %s", e.Code, e.Description)
	}
	return fmt.Sprintf("token error: %s (status %d)", e.Code, e.Status)
}

// Unwrap maps a revoked or invalid grant to ErrNotAuthenticated.
func (e *TokenError) Unwrap() error {
	if e.Code == "invalid_grant" || e.Code == "invalid_client" {
		return tandemerrors.ErrNotAuthenticated
	}
	return nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Error        string `json:"error"`
	ErrorDesc    string `json:"error_description"`
}

// Exchanger talks to the token endpoint.
type Exchanger struct {
	cfg  *Config
	http *http.Client
	now  func() time.Time
}

// NewExchanger creates an exchanger for cfg. client may be nil.
func NewExchanger(cfg *Config, client *http.Client) *Exchanger {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Exchanger{cfg: cfg, http: client, now: time.Now}
}

// ExchangeCode exchanges an authorization code for tokens.
func (x *Exchanger) ExchangeCode(ctx context.Context, code, codeVerifier string) (*Token, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("code", code)
	data.Set("redirect_uri", x.cfg.RedirectURI)
	data.Set("client_id", x.cfg.ClientID)
	data.Set("code_verifier", codeVerifier)
	return x.request(ctx, data)
}

// Refresh uses a refresh token to get a new access token. The refresh token
// is carried over when the response omits a new one.
func (x *Exchanger) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	data.Set("client_id", x.cfg.ClientID)

	tok, err := x.request(ctx, data)
	if err != nil {
		return nil, err
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	return tok, nil
}

func (x *Exchanger) request(ctx context.Context, data url.Values) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, x.cfg.tokenURL(), strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := x.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: token request: %w", tandemerrors.ErrNetworkError, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, &TokenError{Status: resp.StatusCode, Code: http.StatusText(resp.StatusCode)}
		}
		return nil, fmt.Errorf("parse token response: %w", err)
	}
	if tr.Error != "" {
		return nil, &TokenError{Status: resp.StatusCode, Code: tr.Error, Description: tr.ErrorDesc}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &TokenError{Status: resp.StatusCode, Code: http.StatusText(resp.StatusCode)}
	}
	if tr.AccessToken == "" {
		return nil, &TokenError{Status: resp.StatusCode, Code: "missing_access_token"}
	}

	return &Token{
		AccessToken:  tr.AccessToken,
		TokenType:    tr.TokenType,
		Scope:        tr.Scope,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    x.now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}
