package seal

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"
)

func testKey() []byte {
	k := make([]byte, keySize)
	for i := range k {
		k[i] = byte(i + 1)
	}
	return k
}

func TestSecretBox_RoundTrip(t *testing.T) {
	t.Parallel()

	sb, err := NewSecretBox(testKey())
	if err != nil {
		t.Fatalf("NewSecretBox: %v", err)
	}

	sealed, err := sb.Seal([]byte("bearer-value"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Contains(sealed, []byte("bearer-value")) {
		t.Fatalf("sealed value leaks plaintext: %q", sealed)
	}

	plain, err := sb.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(plain) != "bearer-value" {
		t.Fatalf("plain=%q want=%q", plain, "bearer-value")
	}
}

func TestSecretBox_RejectsTamperAndPlain(t *testing.T) {
	t.Parallel()

	sb, _ := NewSecretBox(testKey())
	sealed, _ := sb.Seal([]byte("v"))

	tampered := append([]byte(nil), sealed...)
	tampered[len(prefix)+8] ^= 0x01
	if _, err := sb.Open(tampered); !errors.Is(err, ErrCiphertext) {
		t.Fatalf("tampered: err=%v want=%v", err, ErrCiphertext)
	}

	if _, err := sb.Open([]byte("legacy-plain")); !errors.Is(err, ErrNotSealed) {
		t.Fatalf("plain: err=%v want=%v", err, ErrNotSealed)
	}
}

func TestNewSecretBox_KeySize(t *testing.T) {
	t.Parallel()

	if _, err := NewSecretBox(make([]byte, 16)); !errors.Is(err, ErrKeyInvalid) {
		t.Fatalf("err=%v want=%v", err, ErrKeyInvalid)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv(KeyEnv, "")
	s, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv (missing): %v", err)
	}
	if _, ok := s.(Noop); !ok {
		t.Fatalf("expected Noop sealer, got %T", s)
	}

	t.Setenv(KeyEnv, "zz")
	if _, err := FromEnv(); !errors.Is(err, ErrKeyInvalid) {
		t.Fatalf("bad hex: err=%v want=%v", err, ErrKeyInvalid)
	}

	t.Setenv(KeyEnv, hex.EncodeToString(testKey()))
	s, err = FromEnv()
	if err != nil {
		t.Fatalf("FromEnv (valid): %v", err)
	}
	if _, ok := s.(*SecretBox); !ok {
		t.Fatalf("expected *SecretBox, got %T", s)
	}
}
