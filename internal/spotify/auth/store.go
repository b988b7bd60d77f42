package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/zalando/go-keyring"
)

const (
	// DefaultTokenFileName is the file used by the file store.
	DefaultTokenFileName = "spotify_token.json"

	keyringService = "tandem"
	keyringUser    = "spotify"
)

// Store persists the token. Load returns (nil, nil) when nothing is stored.
type Store interface {
	Load() (*Token, error)
	Save(*Token) error
	Delete() error
}

// NewStore returns the store named by kind: "file" (default) or "keyring".
// path only applies to the file store; empty selects the default location.
func NewStore(kind, path string) (Store, error) {
	switch kind {
	case "", "file":
		if path == "" {
			p, err := DefaultTokenPath()
			if err != nil {
				return nil, err
			}
			path = p
		}
		return NewFileStore(afero.NewOsFs(), path), nil
	case "keyring":
		return NewKeyringStore(), nil
	default:
		return nil, fmt.Errorf("unknown token store %q (must be file or keyring)", kind)
	}
}

// DefaultTokenPath returns ~/.config/tandem/spotify_token.json or the
// platform equivalent.
func DefaultTokenPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config directory: %w", err)
	}
	return filepath.Join(dir, "tandem", DefaultTokenFileName), nil
}

// FileStore keeps the token as owner-only JSON.
type FileStore struct {
	fs   afero.Afero
	path string
}

// NewFileStore creates a file store on fs.
func NewFileStore(fs afero.Fs, path string) *FileStore {
	return &FileStore{fs: afero.Afero{Fs: fs}, path: path}
}

// Path returns the token file path.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Save(token *Token) error {
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	if err := s.fs.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	// WriteFile keeps the mode of an existing file.
	return s.fs.Chmod(s.path, 0o600)
}

func (s *FileStore) Load() (*Token, error) {
	data, err := s.fs.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}
	var token Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to parse token file: %w", err)
	}
	return &token, nil
}

func (s *FileStore) Delete() error {
	if err := s.fs.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete token file: %w", err)
	}
	return nil
}

// KeyringStore keeps the token in the OS keyring.
type KeyringStore struct {
	service, user string
}

// NewKeyringStore creates a keyring store.
func NewKeyringStore() *KeyringStore {
	return &KeyringStore{service: keyringService, user: keyringUser}
}

func (s *KeyringStore) Save(token *Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	if err := keyring.Set(s.service, s.user, string(data)); err != nil {
		return fmt.Errorf("failed to write keyring: %w", err)
	}
	return nil
}

func (s *KeyringStore) Load() (*Token, error) {
	str, err := keyring.Get(s.service, s.user)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read keyring: %w", err)
	}
	var token Token
	if err := json.Unmarshal([]byte(str), &token); err != nil {
		return nil, fmt.Errorf("failed to parse keyring token: %w", err)
	}
	return &token, nil
}

func (s *KeyringStore) Delete() error {
	if err := keyring.Delete(s.service, s.user); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete keyring token: %w", err)
	}
	return nil
}
