package storage

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/tarnapit/LASSMUO-FN-sub002/cmd/security/seal"
)

func TestCredentialStore_RoundTripWritesLegacyKeys(t *testing.T) {
	t.Parallel()

	kv := NewMemoryStore()
	cs := NewCredentialStore(kv, nil, nil)

	exp := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	in := Credentials{Token: "tok-123", User: []byte(`{"id":"u1"}`), Expiry: exp}
	if err := cs.Save(in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	for _, k := range []string{KeyToken, KeyAuthToken, KeyAccessToken} {
		if v, ok, _ := kv.Get(k); !ok || v != "tok-123" {
			t.Fatalf("%s=%q ok=%v", k, v, ok)
		}
	}

	got, ok, err := cs.Load()
	if err != nil || !ok {
		t.Fatalf("Load ok=%v err=%v", ok, err)
	}
	if got.Token != in.Token || !got.Expiry.Equal(exp) || !bytes.Equal(got.User, in.User) {
		t.Fatalf("got=%+v want=%+v", got, in)
	}
}

func TestCredentialStore_ClearRemovesEverything(t *testing.T) {
	t.Parallel()

	kv := NewMemoryStore()
	cs := NewCredentialStore(kv, nil, nil)
	if err := cs.Save(Credentials{Token: "t", Expiry: time.Now()}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := cs.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	for _, k := range []string{KeyToken, KeyAuthToken, KeyAccessToken, KeyUser, KeyTokenExpiry} {
		if _, ok, _ := kv.Get(k); ok {
			t.Fatalf("%s still present", k)
		}
	}
	if _, ok, _ := cs.Load(); ok {
		t.Fatalf("Load ok=true after clear")
	}
}

func TestCredentialStore_LegacyKeyAndExpiryFormats(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		expiry string
		want   time.Time
	}{
		{"millis", "1792396800000", time.UnixMilli(1792396800000).UTC()},
		{"rfc3339", "2026-10-19T08:00:00Z", time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)},
		{"garbage", "soon", time.Time{}},
	}
	for _, tc := range cases {
		kv := NewMemoryStore()
		_ = kv.SetMany(map[string]string{KeyAuthToken: "legacy", KeyTokenExpiry: tc.expiry})

		got, ok, err := NewCredentialStore(kv, nil, nil).Load()
		if err != nil || !ok {
			t.Fatalf("%s: ok=%v err=%v", tc.name, ok, err)
		}
		if got.Token != "legacy" {
			t.Fatalf("%s: token=%q", tc.name, got.Token)
		}
		if !got.Expiry.Equal(tc.want) {
			t.Fatalf("%s: expiry=%v want=%v", tc.name, got.Expiry, tc.want)
		}
	}
}

func TestCredentialStore_SealsAtRest(t *testing.T) {
	t.Parallel()

	key := bytes.Repeat([]byte{7}, 32)
	box, err := seal.NewSecretBox(key)
	if err != nil {
		t.Fatalf("NewSecretBox: %v", err)
	}

	kv := NewMemoryStore()
	cs := NewCredentialStore(kv, box, nil)
	if err := cs.Save(Credentials{Token: "secret-token", Expiry: time.Now()}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	raw, _, _ := kv.Get(KeyToken)
	if strings.Contains(raw, "secret-token") {
		t.Fatalf("token stored in clear: %q", raw)
	}

	got, ok, err := cs.Load()
	if err != nil || !ok || got.Token != "secret-token" {
		t.Fatalf("Load token=%q ok=%v err=%v", got.Token, ok, err)
	}

	// A plain value written before sealing was enabled still loads.
	_ = kv.SetMany(map[string]string{KeyToken: "plain-old"})
	got, _, _ = cs.Load()
	if got.Token != "plain-old" {
		t.Fatalf("legacy token=%q want=plain-old", got.Token)
	}
}

func TestCredentialStore_RejectsEmptyToken(t *testing.T) {
	t.Parallel()

	if err := NewCredentialStore(NewMemoryStore(), nil, nil).Save(Credentials{}); err == nil {
		t.Fatalf("expected error for empty token")
	}
}
