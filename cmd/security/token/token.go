package token

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// fingerprintLen is the number of hex chars kept from the digest.
const fingerprintLen = 12

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Fingerprint returns a short, stable, non-reversible identifier for a token.
// An empty (or blank) token yields "".
func Fingerprint(tok string) string {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return ""
	}
	return HashSHA256Hex(tok)[:fingerprintLen]
}

// Normalize trims a raw token and strips an optional "Bearer " prefix.
// It rejects empty tokens and tokens carrying whitespace or control characters.
func Normalize(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if len(s) >= 6 && strings.EqualFold(s[:6], "bearer") && (len(s) == 6 || s[6] == ' ') {
		s = strings.TrimSpace(s[6:])
	}
	if s == "" {
		return "", ErrEmptyToken
	}
	if len(s) > 8192 {
		return "", ErrMalformedToken
	}
	for _, r := range s {
		if r <= ' ' || r == 0x7f {
			return "", ErrMalformedToken
		}
	}
	return s, nil
}
