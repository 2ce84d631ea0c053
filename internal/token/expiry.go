// Package token inspects transport access tokens for scheduling purposes.
package token

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Expiry extracts the expiry claim from a signed transport token. The token is
// parsed without signature verification: we hold no key for the provider's
// signer and only need the clock, not a trust decision. The second return is
// false when the token is not a JWT or carries no expiry.
func Expiry(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil || claims.ExpiresAt.IsZero() {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
