package gateway

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// accessClaims reads the registered claims of an access token without
// verifying its signature. The client only uses them as hints; the auth
// server remains the authority on validity.
func accessClaims(token string) (*jwt.RegisteredClaims, bool) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, false
	}
	return claims, true
}

// expiryOf returns the exp claim of a JWT access token, zero if absent or opaque
func expiryOf(token string) time.Time {
	claims, ok := accessClaims(token)
	if !ok || claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// subjectOf returns the sub claim of a JWT access token
func subjectOf(token string) string {
	claims, ok := accessClaims(token)
	if !ok {
		return ""
	}
	return claims.Subject
}
