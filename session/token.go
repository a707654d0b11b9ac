package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrNotFound     = errors.New("session not found")
)

// Token is an access token together with its validity window.
type Token struct {
	Value     string    `json:"value"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// NewToken builds a token, rejecting windows where expiresAt < issuedAt.
func NewToken(value string, issuedAt, expiresAt time.Time) (*Token, error) {
	if value == "" {
		return nil, fmt.Errorf("%w: empty value", ErrInvalidToken)
	}
	if expiresAt.Before(issuedAt) {
		return nil, fmt.Errorf("%w: expires %s before issued %s", ErrInvalidToken, expiresAt, issuedAt)
	}
	return &Token{Value: value, IssuedAt: issuedAt.UTC(), ExpiresAt: expiresAt.UTC()}, nil
}

// TokenFromExpiresIn builds a token from a login/refresh response that
// reports its lifetime in seconds.
func TokenFromExpiresIn(value string, now time.Time, expiresIn int64) (*Token, error) {
	if expiresIn < 0 {
		return nil, fmt.Errorf("%w: negative expiresIn %d", ErrInvalidToken, expiresIn)
	}
	return NewToken(value, now, now.Add(time.Duration(expiresIn)*time.Second))
}

// IsExpired reports whether the token can no longer be used at now.
// A nil token is never fresh, and now == expiresAt counts as expired.
func IsExpired(t *Token, now time.Time) bool {
	if t == nil {
		return true
	}
	return !now.Before(t.ExpiresAt)
}

// AccessClaims are the claims the client reads out of a JWT access token.
type AccessClaims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

var unverifiedParser = jwt.NewParser(jwt.WithoutClaimsValidation())

// ParseAccessToken reads iat/exp out of a JWT access token without verifying
// its signature. The client never holds the signing key, so this is only used
// to recover the validity window of a token restored from storage.
func ParseAccessToken(raw string) (*Token, *AccessClaims, error) {
	claims := &AccessClaims{}
	if _, _, err := unverifiedParser.ParseUnverified(raw, claims); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ExpiresAt == nil {
		return nil, nil, fmt.Errorf("%w: missing exp claim", ErrInvalidToken)
	}
	issued := claims.ExpiresAt.Time
	if claims.IssuedAt != nil {
		issued = claims.IssuedAt.Time
	}
	t, err := NewToken(raw, issued, claims.ExpiresAt.Time)
	if err != nil {
		return nil, nil, err
	}
	return t, claims, nil
}
