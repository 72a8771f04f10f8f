package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/tarnapit/LASSMUO-FN-sub002/cmd/security/seal"
)

// Persisted key names. The token is mirrored under the legacy keys that older
// UI builds still read.
const (
	KeyToken       = "token"
	KeyAuthToken   = "authToken"
	KeyAccessToken = "accessToken"
	KeyUser        = "user"
	KeyTokenExpiry = "tokenExpiry"
)

var tokenKeys = []string{KeyToken, KeyAuthToken, KeyAccessToken}

// Credentials is the persisted auth state.
type Credentials struct {
	Token  string
	User   json.RawMessage
	Expiry time.Time
}

// CredentialStore reads and writes Credentials over a KV, sealing token values at rest.
type CredentialStore struct {
	kv     KV
	sealer seal.Sealer
	log    *slog.Logger
}

// NewCredentialStore wraps kv. A nil sealer stores tokens as plain text.
func NewCredentialStore(kv KV, sealer seal.Sealer, log *slog.Logger) *CredentialStore {
	if sealer == nil {
		sealer = seal.Noop{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &CredentialStore{kv: kv, sealer: sealer, log: log}
}

// Load returns the stored credentials. ok is false when no token is stored.
// A missing or unparsable expiry yields a zero Expiry; callers treat that as expired.
func (s *CredentialStore) Load() (Credentials, bool, error) {
	var (
		creds Credentials
		found bool
	)
	for _, k := range tokenKeys {
		raw, ok, err := s.kv.Get(k)
		if err != nil {
			return Credentials{}, false, err
		}
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		tok, err := s.open(raw)
		if err != nil {
			s.log.Warn("storage.credentials.unseal.fail", "key", k, "err", err)
			continue
		}
		creds.Token = tok
		found = true
		break
	}
	if !found {
		return Credentials{}, false, nil
	}

	if raw, ok, err := s.kv.Get(KeyUser); err != nil {
		return Credentials{}, false, err
	} else if ok && json.Valid([]byte(raw)) {
		creds.User = json.RawMessage(raw)
	}

	raw, ok, err := s.kv.Get(KeyTokenExpiry)
	if err != nil {
		return Credentials{}, false, err
	}
	if ok {
		creds.Expiry = parseExpiry(raw)
	}
	return creds, true, nil
}

// Save writes token (under every token key), user and expiry in one atomic step.
func (s *CredentialStore) Save(c Credentials) error {
	if strings.TrimSpace(c.Token) == "" {
		return fmt.Errorf("save credentials: empty token")
	}
	sealed, err := s.sealer.Seal([]byte(c.Token))
	if err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}

	pairs := make(map[string]string, 5)
	for _, k := range tokenKeys {
		pairs[k] = string(sealed)
	}
	user := "null"
	if len(c.User) > 0 {
		user = string(c.User)
	}
	pairs[KeyUser] = user
	pairs[KeyTokenExpiry] = strconv.FormatInt(c.Expiry.UnixMilli(), 10)

	return s.kv.SetMany(pairs)
}

// Clear removes every credential key in one atomic step.
func (s *CredentialStore) Clear() error {
	return s.kv.Delete(KeyToken, KeyAuthToken, KeyAccessToken, KeyUser, KeyTokenExpiry)
}

func (s *CredentialStore) open(raw string) (string, error) {
	plain, err := s.sealer.Open([]byte(raw))
	if errors.Is(err, seal.ErrNotSealed) {
		// Written before sealing was enabled.
		return raw, nil
	}
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// parseExpiry accepts epoch milliseconds or RFC 3339.
func parseExpiry(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms).UTC()
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC()
	}
	return time.Time{}
}
