package client

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoToken is returned when there is no token to inspect
	ErrNoToken = errors.New("no token")

	// ErrOpaqueToken is returned when the token is not a JWT
	ErrOpaqueToken = errors.New("token is not a JWT")
)

// TokenClaims is what can be read from a JWT access token without verifying it.
// The server remains the authority; these are for display and scheduling only.
type TokenClaims struct {
	Subject   string
	Issuer    string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// Expired reports whether the token carries an expiry that has passed
func (c *TokenClaims) Expired() bool {
	return !c.ExpiresAt.IsZero() && time.Now().After(c.ExpiresAt)
}

// ParseClaims decodes a JWT access token without checking its signature
func ParseClaims(token string) (*TokenClaims, error) {
	if token == "" {
		return nil, ErrNoToken
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(token, &jwt.RegisteredClaims{})
	if err != nil {
		return nil, ErrOpaqueToken
	}

	registered, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok {
		return nil, ErrOpaqueToken
	}

	claims := &TokenClaims{
		Subject: registered.Subject,
		Issuer:  registered.Issuer,
	}
	if registered.ExpiresAt != nil {
		claims.ExpiresAt = registered.ExpiresAt.Time
	}
	if registered.IssuedAt != nil {
		claims.IssuedAt = registered.IssuedAt.Time
	}
	return claims, nil
}
