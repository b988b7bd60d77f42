package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	tandemerrors "github.com/tessro/tandem/internal/errors"
)

// Source hands out access tokens from a Store, refreshing them through an
// Exchanger. It satisfies remote.Authenticator.
type Source struct {
	store  Store
	ex     *Exchanger
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	token  *Token
	loaded bool
}

// NewSource creates a token source. logger may be nil.
func NewSource(store Store, ex *Exchanger, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{store: store, ex: ex, logger: logger.Named("auth"), now: time.Now}
}

// Token returns a usable access token, refreshing an expired one first.
func (s *Source) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	tok, err := s.currentLocked()
	s.mu.Unlock()
	if err != nil {
		return "", err
	}
	if tok.ExpiredAt(s.now()) {
		return s.Refresh(ctx)
	}
	return tok.AccessToken, nil
}

// Refresh exchanges the refresh token for a new access token. When the
// grant is rejected the stored token is deleted and the user has to log in
// again.
func (s *Source) Refresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	tok, err := s.currentLocked()
	s.mu.Unlock()
	if err != nil {
		return "", err
	}
	if tok.RefreshToken == "" {
		s.clear()
		return "", tandemerrors.New(tandemerrors.KindUnauthorized,
			fmt.Errorf("%w: no refresh token", tandemerrors.ErrNotAuthenticated))
	}

	next, err := s.ex.Refresh(ctx, tok.RefreshToken)
	if err != nil {
		if errors.Is(err, tandemerrors.ErrNotAuthenticated) {
			s.logger.Warn("refresh token rejected, clearing stored token", zap.Error(err))
			s.clear()
			return "", tandemerrors.New(tandemerrors.KindUnauthorized, err)
		}
		return "", err
	}

	s.mu.Lock()
	s.token = next
	s.mu.Unlock()
	if err := s.store.Save(next); err != nil {
		s.logger.Warn("failed to persist refreshed token", zap.Error(err))
	}
	s.logger.Debug("access token refreshed", zap.Time("expires_at", next.ExpiresAt))
	return next.AccessToken, nil
}

// Set installs a freshly obtained token and persists it.
func (s *Source) Set(tok *Token) error {
	s.mu.Lock()
	s.token = tok
	s.loaded = true
	s.mu.Unlock()
	return s.store.Save(tok)
}

// Current returns the stored token, or nil when logged out.
func (s *Source) Current() (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, err := s.currentLocked()
	if errors.Is(err, tandemerrors.ErrNotAuthenticated) {
		return nil, nil
	}
	return tok, err
}

// Logout deletes the stored token.
func (s *Source) Logout() error {
	s.mu.Lock()
	s.token = nil
	s.loaded = true
	s.mu.Unlock()
	return s.store.Delete()
}

func (s *Source) currentLocked() (*Token, error) {
	if !s.loaded {
		tok, err := s.store.Load()
		if err != nil {
			return nil, err
		}
		s.token = tok
		s.loaded = true
	}
	if s.token == nil {
		return nil, tandemerrors.New(tandemerrors.KindUnauthorized, tandemerrors.ErrNotAuthenticated)
	}
	cp := *s.token
	return &cp, nil
}

func (s *Source) clear() {
	s.mu.Lock()
	s.token = nil
	s.loaded = true
	s.mu.Unlock()
	if err := s.store.Delete(); err != nil {
		s.logger.Warn("failed to delete stored token", zap.Error(err))
	}
}
