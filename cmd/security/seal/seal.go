package seal

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"os"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// KeyEnv is the env var holding the hex-encoded 32-byte key.
	// #nosec G101 -- not a credential; it's an environment variable name.
	KeyEnv = "LASSMUO_STORAGE_KEY_HEX"

	keySize   = 32
	nonceSize = 24

	// prefix marks sealed values so plain legacy values can still be read.
	prefix = "sb1:"
)

// Sealer seals and opens persisted secret values.
type Sealer interface {
	Seal(plain []byte) ([]byte, error)
	Open(stored []byte) ([]byte, error)
}

// Noop stores values verbatim.
type Noop struct{}

// Seal returns plain unchanged.
func (Noop) Seal(plain []byte) ([]byte, error) { return plain, nil }

// Open returns stored unchanged.
func (Noop) Open(stored []byte) ([]byte, error) { return stored, nil }

// SecretBox seals values with NaCl secretbox.
type SecretBox struct {
	key [keySize]byte
}

// NewSecretBox builds a SecretBox from raw key bytes (exactly 32).
func NewSecretBox(key []byte) (*SecretBox, error) {
	if len(key) != keySize {
		return nil, ErrKeyInvalid
	}
	s := &SecretBox{}
	copy(s.key[:], key)
	return s, nil
}

// KeyFromEnv decodes the hex key from KeyEnv.
// Missing/blank -> ErrKeyMissing; bad hex or wrong size -> ErrKeyInvalid.
func KeyFromEnv() ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(KeyEnv))
	if raw == "" {
		return nil, ErrKeyMissing
	}
	b, err := hex.DecodeString(raw)
	if err != nil || len(b) != keySize {
		return nil, ErrKeyInvalid
	}
	return b, nil
}

// FromEnv returns a SecretBox when a key is configured and Noop otherwise.
// A configured but invalid key is an error: silently storing tokens in the
// clear after the operator asked for sealing is not acceptable.
func FromEnv() (Sealer, error) {
	key, err := KeyFromEnv()
	if err == ErrKeyMissing {
		return Noop{}, nil
	}
	if err != nil {
		return nil, err
	}
	return NewSecretBox(key)
}

// Seal encrypts plain and returns "sb1:" + base64(nonce || box).
func (s *SecretBox) Seal(plain []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	box := secretbox.Seal(nonce[:], plain, &nonce, &s.key)

	out := make([]byte, len(prefix)+base64.RawStdEncoding.EncodedLen(len(box)))
	copy(out, prefix)
	base64.RawStdEncoding.Encode(out[len(prefix):], box)
	return out, nil
}

// Open decrypts a value produced by Seal.
// Values without the sealed prefix return ErrNotSealed so callers can decide
// whether to accept legacy plaintext.
func (s *SecretBox) Open(stored []byte) ([]byte, error) {
	if !strings.HasPrefix(string(stored), prefix) {
		return nil, ErrNotSealed
	}
	raw, err := base64.RawStdEncoding.DecodeString(string(stored[len(prefix):]))
	if err != nil || len(raw) < nonceSize+secretbox.Overhead {
		return nil, ErrCiphertext
	}

	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])

	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &s.key)
	if !ok {
		return nil, ErrCiphertext
	}
	return plain, nil
}
