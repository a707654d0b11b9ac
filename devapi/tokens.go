package devapi

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Seann-Moser/volunteerhub/session"
	"github.com/Seann-Moser/volunteerhub/user"
)

// ErrInvalidAccessToken is returned by Verify for tokens that are malformed,
// expired or signed with another key.
var ErrInvalidAccessToken = errors.New("invalid access token")

const issuerName = "volunteerhub-devapi"

// TokenIssuer signs and verifies HS256 access tokens.
type TokenIssuer struct {
	secret    []byte
	accessTTL time.Duration
	now       func() time.Time
}

// NewTokenIssuer creates an issuer whose access tokens live for accessTTL.
func NewTokenIssuer(secret string, accessTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), accessTTL: accessTTL, now: time.Now}
}

// TTL reports the access token lifetime.
func (i *TokenIssuer) TTL() time.Duration {
	return i.accessTTL
}

// Issue creates a signed access token for the account and returns it along
// with its lifetime in seconds.
func (i *TokenIssuer) Issue(a *user.Account) (string, int64, error) {
	now := i.now().UTC().Truncate(time.Second)
	claims := &session.AccessClaims{
		Email: a.Email,
		Role:  string(a.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.accessTTL)),
			Issuer:    issuerName,
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", 0, fmt.Errorf("sign access token: %w", err)
	}
	return raw, int64(i.accessTTL / time.Second), nil
}

// Verify validates signature and expiry and returns the claims.
func (i *TokenIssuer) Verify(raw string) (*session.AccessClaims, error) {
	token, err := jwt.ParseWithClaims(raw, &session.AccessClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithIssuer(issuerName), jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAccessToken, err)
	}
	claims, ok := token.Claims.(*session.AccessClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidAccessToken
	}
	return claims, nil
}
