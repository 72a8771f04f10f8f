package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var jwtParser = jwt.NewParser()

// tokenExpiry reads the "exp" claim of a JWT bearer without verifying it.
// The signature is the backend's concern; the client only uses exp to avoid
// outliving the token. ok is false for non-JWT tokens or tokens without exp.
func tokenExpiry(tok string) (time.Time, bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwtParser.ParseUnverified(tok, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// deriveExpiry is now+length, capped at the JWT exp when clamp is set.
func deriveExpiry(tok string, now time.Time, length time.Duration, clamp bool) time.Time {
	exp := now.Add(length)
	if !clamp {
		return exp
	}
	if jexp, ok := tokenExpiry(tok); ok && jexp.Before(exp) {
		return jexp
	}
	return exp
}
