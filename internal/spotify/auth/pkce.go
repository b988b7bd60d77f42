package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"

	"github.com/google/uuid"
)

// CodeVerifierLength is within the 43-128 characters Spotify accepts.
const CodeVerifierLength = 64

// PKCE holds the code verifier and challenge for one authorization attempt.
type PKCE struct {
	Verifier  string
	Challenge string
	// State is echoed by the callback and must match.
	State string
}

// NewPKCE generates a verifier, its S256 challenge and a random state.
func NewPKCE() (*PKCE, error) {
	verifier, err := generateRandomString(CodeVerifierLength)
	if err != nil {
		return nil, err
	}
	return &PKCE{
		Verifier:  verifier,
		Challenge: generateChallenge(verifier),
		State:     uuid.NewString(),
	}, nil
}

// generateRandomString returns length URL-safe base64 characters.
func generateRandomString(length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(b)
	return encoded[:length], nil
}

// challenge = base64url(sha256(verifier))
func generateChallenge(verifier string) string {
	hash := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}
