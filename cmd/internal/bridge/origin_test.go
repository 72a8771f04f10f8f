package bridge

import (
	"net/http/httptest"
	"reflect"
	"testing"
)

func TestOriginHost(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"http://localhost:5173", "localhost"},
		{"HTTPS://Example.COM", "example.com"},
		{"127.0.0.1:8080", "127.0.0.1"},
		{"app.local", "app.local"},
		{"  ", ""},
	}
	for _, tc := range tests {
		if got := originHost(tc.in); got != tc.want {
			t.Fatalf("originHost(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func TestOriginPatterns_Dedup(t *testing.T) {
	t.Parallel()

	got := originPatterns([]string{"http://localhost:3000", "http://localhost", "*", "http://127.0.0.1"})
	want := []string{"127.0.0.1", "localhost"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("patterns=%v want=%v", got, want)
	}
}

func TestEnforceOrigin(t *testing.T) {
	t.Parallel()

	open := DefaultConfig()
	open.OriginRequired = false

	tests := []struct {
		name   string
		cfg    Config
		origin string
		ok     bool
	}{
		{"loopback any port", DefaultConfig(), "http://localhost:5173", true},
		{"missing required", DefaultConfig(), "", false},
		{"missing optional", open, "", true},
		{"foreign", DefaultConfig(), "https://evil.example", false},
		{"wildcard", Config{AllowedOrigins: []string{"*"}}, "https://any.example", true},
		{"empty allowlist", Config{}, "http://localhost", false},
	}
	for _, tc := range tests {
		g := &Gateway{cfg: tc.cfg}
		r := httptest.NewRequest("GET", "/bridge", nil)
		if tc.origin != "" {
			r.Header.Set("Origin", tc.origin)
		}
		err := g.enforceOrigin(r)
		if (err == nil) != tc.ok {
			t.Fatalf("%s: err=%v want ok=%v", tc.name, err, tc.ok)
		}
	}
}
