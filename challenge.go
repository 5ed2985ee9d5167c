package authgate

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// ChallengeSize is the number of random bytes in a challenge.
const ChallengeSize = 32

// ChallengeToken is a single use random value kept in one session slot. It is
// used as the WebAuthn ceremony challenge and as the OAuth state.
type ChallengeToken struct {
	sessions SessionStore
	slot     SessionKey
}

func NewChallengeToken(sessions SessionStore, slot SessionKey) *ChallengeToken {
	return &ChallengeToken{sessions: sessions, slot: slot}
}

// Generate stores a fresh token in the slot, replacing any earlier one, and
// returns its base64url encoding.
func (c *ChallengeToken) Generate(ctx context.Context) (string, error) {
	token, err := RandomToken(ChallengeSize)
	if err != nil {
		return "", err
	}
	c.sessions.Set(ctx, c.slot, token)
	return token, nil
}

// Current returns the stored token without consuming it.
func (c *ChallengeToken) Current(ctx context.Context) (string, error) {
	token := GetString(ctx, c.sessions, c.slot)
	if token == "" {
		return "", ErrChallengeNotFound
	}
	return token, nil
}

// TakeAndInvalidate returns the stored token and clears the slot. The slot is
// empty afterwards whether or not a token was found.
func (c *ChallengeToken) TakeAndInvalidate(ctx context.Context) (string, error) {
	token, _ := PopString(ctx, c.sessions, c.slot)
	if token == "" {
		return "", ErrChallengeNotFound
	}
	return token, nil
}

// Invalidate clears the slot.
func (c *ChallengeToken) Invalidate(ctx context.Context) {
	c.sessions.Delete(ctx, c.slot)
}

// RandomToken returns n bytes from crypto/rand encoded as unpadded base64url.
func RandomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DecodeChallenge turns a token back into the raw bytes it was made from.
func DecodeChallenge(token string) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("malformed challenge: %w", err)
	}
	return b, nil
}
