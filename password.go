package authgate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// HashCompareFunc checks password against hash and returns nil on a match.
type HashCompareFunc func(hash, password []byte) error

// PasswordAuthenticator checks a username and password against stored hashes.
type PasswordAuthenticator struct {
	Users PasswordStore

	// Compare defaults to bcrypt.CompareHashAndPassword
	Compare HashCompareFunc
}

func NewPasswordAuthenticator(users PasswordStore) *PasswordAuthenticator {
	return &PasswordAuthenticator{Users: users, Compare: bcrypt.CompareHashAndPassword}
}

// Authenticate returns the matching user, or Anonymous when the user is
// unknown or the password is wrong. Only storage failures produce an error,
// so callers must check IsAuthenticated on the result.
func (p *PasswordAuthenticator) Authenticate(ctx context.Context, username, password string) (UserIdentity, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return Anonymous, nil
	}

	user, hash, err := p.Users.LoadPasswordHash(ctx, username)
	if errors.Is(err, ErrUserNotFound) {
		return Anonymous, nil
	} else if err != nil {
		return Anonymous, fmt.Errorf("loading user %q: %w", username, err)
	}
	if len(hash) == 0 {
		// passkey or oauth only account
		return Anonymous, nil
	}

	compare := p.Compare
	if compare == nil {
		compare = bcrypt.CompareHashAndPassword
	}
	if err := compare(hash, []byte(password)); err != nil {
		return Anonymous, nil
	}
	return user, nil
}

// HashPassword hashes a password with bcrypt at the default cost.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
