package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, h http.Handler, opts ...Option) *Client {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL, Timeout: time.Second}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNew_RejectsBadBaseURL(t *testing.T) {
	t.Parallel()

	cases := []string{"", "   ", "localhost:3000", "ftp://example.com", "http://"}
	for _, raw := range cases {
		if _, err := New(Config{BaseURL: raw}); !errors.Is(err, ErrConfig) {
			t.Fatalf("New(%q) err=%v want ErrConfig", raw, err)
		}
	}
}

func TestDo_InjectsBearerAndRequestID(t *testing.T) {
	t.Parallel()

	var gotAuth, gotReqID, gotQuery string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotReqID = r.Header.Get("X-Request-ID")
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"ok":true}`))
	}), WithTokenSource(TokenFunc(func() string { return "tok-1" })))

	var out struct {
		OK bool `json:"ok"`
	}
	if err := c.Get(context.Background(), "/user-stage-progress", url.Values{"userId": {"u1"}}, &out); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !out.OK {
		t.Fatalf("decoded ok=false")
	}
	if gotAuth != "Bearer tok-1" {
		t.Fatalf("auth=%q want=%q", gotAuth, "Bearer tok-1")
	}
	if len(gotReqID) != 26 {
		t.Fatalf("request id=%q want 26-char ulid", gotReqID)
	}
	if gotQuery != "userId=u1" {
		t.Fatalf("query=%q want=%q", gotQuery, "userId=u1")
	}
}

func TestDo_NoTokenNoHeader(t *testing.T) {
	t.Parallel()

	var gotAuth string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}), WithTokenSource(TokenFunc(func() string { return "" })))

	if err := c.Get(context.Background(), "/x", nil, nil); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if gotAuth != "" {
		t.Fatalf("auth=%q want empty", gotAuth)
	}
}

func TestDo_ClassifiesFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"not found", http.StatusNotFound, `{"message":"nope"}`, ErrNotFound},
		{"conflict status", http.StatusConflict, `{}`, ErrConflict},
		{"unique marker on 400", http.StatusBadRequest, `{"message":"Unique constraint failed on the fields: (userId,stageId)"}`, ErrConflict},
		{"prisma code on 500", http.StatusInternalServerError, `{"code":"P2002"}`, ErrConflict},
		{"unauthorized", http.StatusUnauthorized, `{"message":"Unauthorized"}`, ErrUnauthorized},
		{"forbidden", http.StatusForbidden, ``, ErrForbidden},
		{"validation", http.StatusBadRequest, `{"message":["score must be a number"]}`, ErrValidation},
		{"unprocessable", http.StatusUnprocessableEntity, `oops`, ErrValidation},
		{"server", http.StatusBadGateway, `upstream`, ErrServer},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))

			err := c.Post(context.Background(), "/user-stage-progress", map[string]any{"a": 1}, nil)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err=%v want kind=%v", err, tc.want)
			}
			var ae *APIError
			if !errors.As(err, &ae) {
				t.Fatalf("err=%T want *APIError", err)
			}
			if ae.Status != tc.status {
				t.Fatalf("status=%d want=%d", ae.Status, tc.status)
			}
		})
	}
}

func TestDo_ValidationMessageList(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":["a","b"],"code":"E_VALID"}`))
	}))

	err := c.Put(context.Background(), "/x/1", map[string]any{}, nil)
	var ae *APIError
	if !errors.As(err, &ae) {
		t.Fatalf("err=%v want *APIError", err)
	}
	if ae.Message != "a; b" || ae.Code != "E_VALID" {
		t.Fatalf("message=%q code=%q", ae.Message, ae.Code)
	}
}

func TestDo_TimeoutIsNetwork(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c, err := New(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = c.Get(context.Background(), "/slow", nil, nil)
	if !IsNetwork(err) {
		t.Fatalf("err=%v want network", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v want to wrap DeadlineExceeded", err)
	}
}

func TestDo_UnauthorizedHookOnlyWhenAuthenticated(t *testing.T) {
	t.Parallel()

	var token atomic.Value
	token.Store("")
	var calls atomic.Int32

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}), WithTokenSource(TokenFunc(func() string { return token.Load().(string) })))
	c.OnUnauthorized(func(error) { calls.Add(1) })

	_ = c.Get(context.Background(), "/a", nil, nil)
	if got := calls.Load(); got != 0 {
		t.Fatalf("hook calls=%d want=0 without token", got)
	}

	token.Store("tok")
	_ = c.Get(context.Background(), "/a", nil, nil)
	if got := calls.Load(); got != 1 {
		t.Fatalf("hook calls=%d want=1", got)
	}
}

func TestLogin(t *testing.T) {
	t.Parallel()

	var sawAuth bool
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != LoginPath || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		sawAuth = r.Header.Get("Authorization") != ""
		var creds Credentials
		_ = json.NewDecoder(r.Body).Decode(&creds)
		if creds.Password != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"abc","user":{"id":"u1"}}`))
	}), WithTokenSource(TokenFunc(func() string { return "stale" })))

	res, err := c.Login(context.Background(), Credentials{Email: "a@b.c", Password: "pw"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.Token != "abc" {
		t.Fatalf("token=%q want=abc", res.Token)
	}
	if string(res.User) != `{"id":"u1"}` {
		t.Fatalf("user=%s", res.User)
	}
	if sawAuth {
		t.Fatalf("login must not send a bearer token")
	}

	if _, err := c.Login(context.Background(), Credentials{Email: "a@b.c", Password: "bad"}); !IsUnauthorized(err) {
		t.Fatalf("err=%v want unauthorized", err)
	}
}

func TestPing(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		ok     bool
	}{
		{"ok", http.StatusOK, true},
		{"root 404 still reachable", http.StatusNotFound, true},
		{"server error", http.StatusServiceUnavailable, false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			err := c.Ping(context.Background())
			if (err == nil) != tc.ok {
				t.Fatalf("err=%v want ok=%v", err, tc.ok)
			}
		})
	}
}

func TestPing_Unreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, err := New(Config{BaseURL: base, Timeout: time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Ping(context.Background()); !IsNetwork(err) {
		t.Fatalf("err=%v want network", err)
	}
}
