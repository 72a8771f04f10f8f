package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tarnapit/LASSMUO-FN-sub002/cmd/identity/ids"
	"github.com/tarnapit/LASSMUO-FN-sub002/cmd/internal/metrics"
)

const (
	// DefaultTimeout bounds every outbound request unless Config.Timeout overrides it.
	DefaultTimeout = 10 * time.Second

	maxResponseBytes = 4 << 20
	userAgent        = "lassmuo-agent/1"
)

// TokenSource yields the current bearer token ("" when logged out).
type TokenSource interface {
	Token() string
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func() string

func (f TokenFunc) Token() string { return f() }

// Config is the static client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient swaps the transport (tests, custom TLS).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.hc = hc
		}
	}
}

// WithTokenSource sets the bearer token provider.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics attaches collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithClock sets the time source used for request ids and latency.
func WithClock(clk clockwork.Clock) Option {
	return func(c *Client) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// Client is a JSON REST client bound to one backend base URL.
// It is safe for concurrent use.
type Client struct {
	base    *url.URL
	timeout time.Duration
	hc      *http.Client
	tokens  TokenSource
	log     *slog.Logger
	metrics *metrics.Metrics
	clock   clockwork.Clock

	mu             sync.RWMutex
	onUnauthorized func(error)
}

// New validates cfg and builds a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("%w: base url is empty", ErrConfig)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: base url %q must be an absolute http(s) url", ErrConfig, raw)
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("%w: timeout must be >= 0", ErrConfig)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	c := &Client{
		base:    u,
		timeout: cfg.Timeout,
		hc:      &http.Client{},
		log:     slog.Default(),
		clock:   clockwork.NewRealClock(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// BaseURL returns the configured backend root.
func (c *Client) BaseURL() string { return c.base.String() }

// OnUnauthorized registers fn to be called when an authenticated request gets a 401.
// Only one hook is kept; a later call replaces the earlier one.
func (c *Client) OnUnauthorized(fn func(error)) {
	c.mu.Lock()
	c.onUnauthorized = fn
	c.mu.Unlock()
}

// Request describes one call. Path is relative to the base URL.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
	// Anonymous suppresses bearer injection (login).
	Anonymous bool
}

// Do performs req and decodes a non-empty, non-null JSON response into out (when out != nil).
// Every failure is an *APIError.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	op := "backend." + strings.ToUpper(req.Method) + " " + req.Path
	start := c.clock.Now()

	status, body, err := c.roundTrip(ctx, req, op)
	c.metrics.ObserveBackend(strings.ToUpper(req.Method), kindLabel(err), c.clock.Since(start))
	if err != nil {
		return err
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &APIError{Op: op, Kind: ErrServer, Status: status, Message: "malformed response body", Cause: err}
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, req Request, op string) (int, []byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var payload io.Reader
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return 0, nil, &APIError{Op: op, Kind: ErrValidation, Message: "request body not encodable", Cause: err}
		}
		payload = bytes.NewReader(b)
	}

	u := c.base.JoinPath(req.Path)
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	hreq, err := http.NewRequestWithContext(ctx, strings.ToUpper(req.Method), u.String(), payload)
	if err != nil {
		return 0, nil, &APIError{Op: op, Kind: ErrValidation, Cause: err}
	}
	reqID := ids.RequestID(c.clock.Now())
	hreq.Header.Set("Accept", "application/json")
	hreq.Header.Set("User-Agent", userAgent)
	hreq.Header.Set("X-Request-ID", reqID)
	if payload != nil {
		hreq.Header.Set("Content-Type", "application/json")
	}
	authed := false
	if !req.Anonymous && c.tokens != nil {
		if tok := c.tokens.Token(); tok != "" {
			hreq.Header.Set("Authorization", "Bearer "+tok)
			authed = true
		}
	}

	res, err := c.hc.Do(hreq)
	if err != nil {
		c.log.Warn("backend.request.fail",
			"op", op,
			"request_id", reqID,
			"err", err,
		)
		return 0, nil, &APIError{Op: op, Kind: ErrNetwork, Message: transportMessage(err), Cause: err}
	}
	defer func() { _ = res.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return res.StatusCode, nil, &APIError{Op: op, Kind: ErrNetwork, Status: res.StatusCode, Message: "response read failed", Cause: err}
	}

	c.log.Debug("backend.request",
		"op", op,
		"status", res.StatusCode,
		"request_id", reqID,
	)

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return res.StatusCode, body, nil
	}

	apiErr := decodeError(op, res.StatusCode, body)
	if apiErr.Kind == ErrUnauthorized && authed {
		c.mu.RLock()
		hook := c.onUnauthorized
		c.mu.RUnlock()
		if hook != nil {
			hook(apiErr)
		}
	}
	return res.StatusCode, nil, apiErr
}

// errorBody is the common JSON error shape. message may be a string or a list of strings.
type errorBody struct {
	Message json.RawMessage `json:"message"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func decodeError(op string, status int, body []byte) *APIError {
	text := strings.TrimSpace(string(body))
	e := &APIError{Op: op, Status: status, Kind: classifyStatus(status, text)}

	var eb errorBody
	if json.Unmarshal(body, &eb) == nil {
		e.Code = eb.Code
		e.Message = rawMessage(eb.Message)
		if e.Message == "" {
			e.Message = eb.Error
		}
	} else {
		e.Message = text
	}
	if len(e.Message) > 512 {
		e.Message = e.Message[:512]
	}
	return e
}

func rawMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var list []string
	if json.Unmarshal(raw, &list) == nil {
		return strings.Join(list, "; ")
	}
	return string(raw)
}

func transportMessage(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "request timed out"
	case errors.Is(err, context.Canceled):
		return "request canceled"
	default:
		return "transport failure"
	}
}

// Get performs a GET with query parameters.
func (c *Client) Get(ctx context.Context, path string, q url.Values, out any) error {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: q}, out)
}

// Post performs a POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body}, out)
}

// Put performs a PUT with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, Request{Method: http.MethodPut, Path: path, Body: body}, out)
}

// Patch performs a PATCH with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, Request{Method: http.MethodPatch, Path: path, Body: body}, out)
}

// Delete performs a DELETE.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.Do(ctx, Request{Method: http.MethodDelete, Path: path}, nil)
}
