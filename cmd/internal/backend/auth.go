package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// LoginPath is the credential exchange endpoint.
const LoginPath = "/auth/login"

// Credentials is the login request body.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResult is the token plus the opaque user object the backend returned.
type LoginResult struct {
	Token string          `json:"token"`
	User  json.RawMessage `json:"user"`
}

// Login exchanges credentials for a bearer token. It never sends the current token.
// Backends answering with access_token or accessToken are accepted too.
func (c *Client) Login(ctx context.Context, creds Credentials) (LoginResult, error) {
	var raw struct {
		Token       string          `json:"token"`
		AccessToken string          `json:"access_token"`
		AccessAlt   string          `json:"accessToken"`
		User        json.RawMessage `json:"user"`
	}
	err := c.Do(ctx, Request{
		Method:    http.MethodPost,
		Path:      LoginPath,
		Body:      creds,
		Anonymous: true,
	}, &raw)
	if err != nil {
		return LoginResult{}, err
	}

	tok := firstNonEmpty(raw.Token, raw.AccessToken, raw.AccessAlt)
	if tok == "" {
		return LoginResult{}, &APIError{Op: "backend.Login", Kind: ErrServer, Message: "login response carried no token"}
	}
	return LoginResult{Token: tok, User: raw.User}, nil
}

// Ping issues a GET to the backend root. Any HTTP answer below 500 counts as
// reachable; callers bound it with ctx.
func (c *Client) Ping(ctx context.Context) error {
	err := c.Do(ctx, Request{Method: http.MethodGet, Path: "/", Anonymous: true}, nil)
	if err == nil || (!IsNetwork(err) && !isServer(err)) {
		return nil
	}
	return err
}

func isServer(err error) bool { return errors.Is(err, ErrServer) }

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
