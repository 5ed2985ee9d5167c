package authgate

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default lifetime of bearer tokens issued at login
const DefaultTokenTTL = time.Hour

// TokenIssuer signs and verifies HS256 bearer tokens carrying a user id as
// subject. API clients that cannot hold a session cookie use them.
type TokenIssuer struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
}

func NewTokenIssuer(secret, issuer string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenIssuer{Secret: []byte(secret), Issuer: issuer, TTL: ttl}
}

// Issue returns a signed token for user.
func (t *TokenIssuer) Issue(user UserIdentity) (string, error) {
	if !user.IsAuthenticated() {
		return "", ErrForbidden
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(user.ID, 10),
		Issuer:    t.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.TTL)),
	})
	signed, err := token.SignedString(t.Secret)
	if err != nil {
		return "", fmt.Errorf("error signing token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature, expiry and issuer of tokenString and returns
// the user id it was issued for.
func (t *TokenIssuer) Verify(tokenString string) (int64, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return t.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return 0, err
	}
	if !token.Valid {
		return 0, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return 0, errors.New("subject not found")
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid subject %q", claims.Subject)
	}
	return id, nil
}
