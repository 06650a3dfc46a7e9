// Package authtest issues tokens for tests of code that consumes them.
package authtest

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/md-rashed-zaman/fedsync/libs/auth"
)

// Claims returns claims for userID valid for ttl from now. A negative ttl
// yields an already expired token.
func Claims(userID, email, role string, ttl time.Duration) auth.Claims {
	now := time.Now()
	return auth.Claims{
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

func SignHS256(claims auth.Claims, secret string) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
