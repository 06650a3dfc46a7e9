package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// Claims is the session token payload issued by the federation auth service.
type Claims struct {
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Role        string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// UserID is the subject of the token.
func (c *Claims) UserID() string {
	return c.Subject
}

// ExpiresAtTime returns the expiry, or the zero time when the token has none.
func (c *Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// Expired reports whether the token is past its expiry at now, allowing skew.
func (c *Claims) Expired(now time.Time, skew time.Duration) bool {
	exp := c.ExpiresAtTime()
	if exp.IsZero() {
		return false
	}
	return !now.Add(skew).Before(exp)
}

// ParseNoVerify decodes the claims without checking the signature or expiry.
// The client uses it to read identity fields from its own stored token; any
// authorisation decision is left to the backend.
func ParseNoVerify(token string) (*Claims, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return &claims, nil
}

func parse(token string, methods []string, keyFunc jwt.Keyfunc) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, keyFunc, jwt.WithValidMethods(methods))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	return &claims, nil
}
