package progress

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tarnapit/LASSMUO-FN-sub002/cmd/internal/backend"
	"github.com/tarnapit/LASSMUO-FN-sub002/cmd/internal/metrics"
)

const (
	// ResourcePath is the backend collection for stage progress.
	ResourcePath = "/user-stage-progress"

	// DefaultConflictBackoff is the pause before re-reading after a create conflict.
	DefaultConflictBackoff = 150 * time.Millisecond
)

// API is the subset of the REST client the progress layer uses.
// *backend.Client satisfies it.
type API interface {
	Get(ctx context.Context, path string, q url.Values, out any) error
	Post(ctx context.Context, path string, body, out any) error
	Put(ctx context.Context, path string, body, out any) error
}

// Gate decides whether writes are currently allowed.
// It returns nil to allow, or an error (typically wrapping ErrAuthRequired).
type Gate interface {
	AllowWrite() error
}

// GateFunc adapts a function to Gate.
type GateFunc func() error

func (f GateFunc) AllowWrite() error { return f() }

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	ConflictBackoff time.Duration
	Gate            Gate
	Clock           clockwork.Clock
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
	// OnWrite is called with every record the backend accepted.
	OnWrite func(StageProgress)
}

// Client is the Progress Store Client. Safe for concurrent use.
type Client struct {
	api     API
	backoff time.Duration
	gate    Gate
	clock   clockwork.Clock
	log     *slog.Logger
	metrics *metrics.Metrics
	onWrite func(StageProgress)
}

// NewClient builds a Client over api.
func NewClient(api API, opts Options) *Client {
	c := &Client{
		api:     api,
		backoff: opts.ConflictBackoff,
		gate:    opts.Gate,
		clock:   opts.Clock,
		log:     opts.Logger,
		metrics: opts.Metrics,
		onWrite: opts.OnWrite,
	}
	if c.backoff <= 0 {
		c.backoff = DefaultConflictBackoff
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c
}

// GetUserStageProgress returns the record for (userID, stageID), or nil when none exists.
// Not-found in any shape (404, null, empty body, empty list) is a nil record with a nil error;
// every other failure is returned.
func (c *Client) GetUserStageProgress(ctx context.Context, userID, stageID string) (*StageProgress, error) {
	const op = "progress.GetUserStageProgress"
	userID, stageID, err := validateKey(op, userID, stageID)
	if err != nil {
		return nil, err
	}

	var raw json.RawMessage
	err = c.api.Get(ctx, ResourcePath, url.Values{"userId": {userID}, "stageId": {stageID}}, &raw)
	if backend.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	recs, err := decodeRecords(raw)
	if err != nil {
		return nil, OpError{Op: op, Kind: backend.ErrServer, Msg: err.Error()}
	}
	for i := range recs {
		if recs[i].UserID == userID && recs[i].StageID == stageID {
			return &recs[i], nil
		}
	}
	if len(recs) > 0 && recs[0].UserID == "" && recs[0].StageID == "" {
		// Keys omitted by the backend; trust the filter.
		return &recs[0], nil
	}
	return nil, nil
}

// ListUserProgress returns every record for userID. A 404 is an empty list.
func (c *Client) ListUserProgress(ctx context.Context, userID string) ([]StageProgress, error) {
	const op = "progress.ListUserProgress"
	userID, err := validateUser(op, userID)
	if err != nil {
		return nil, err
	}

	var raw json.RawMessage
	err = c.api.Get(ctx, ResourcePath, url.Values{"userId": {userID}}, &raw)
	if backend.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	recs, err := decodeRecords(raw)
	if err != nil {
		return nil, OpError{Op: op, Kind: backend.ErrServer, Msg: err.Error()}
	}
	out := recs[:0]
	for _, r := range recs {
		if r.UserID == "" || r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

// CreateProgress persists a new record. A duplicate (userId, stageId) fails with backend.ErrConflict.
func (c *Client) CreateProgress(ctx context.Context, rec StageProgress) (*StageProgress, error) {
	const op = "progress.CreateProgress"
	if err := c.allowWrite(op); err != nil {
		return nil, err
	}
	var err error
	if rec.UserID, rec.StageID, err = validateKey(op, rec.UserID, rec.StageID); err != nil {
		return nil, err
	}
	return c.create(ctx, rec)
}

// UpdateProgress applies p to the record with the given backend id.
func (c *Client) UpdateProgress(ctx context.Context, id string, p Patch) (*StageProgress, error) {
	const op = "progress.UpdateProgress"
	if err := c.allowWrite(op); err != nil {
		return nil, err
	}
	if strings.TrimSpace(id) == "" {
		return nil, OpError{Op: op, Kind: ErrInvalidInput, Msg: "id is required"}
	}
	if err := validatePatch(op, p); err != nil {
		return nil, err
	}
	return c.update(ctx, StageProgress{ID: id}, p)
}

func (c *Client) create(ctx context.Context, rec StageProgress) (*StageProgress, error) {
	rec.ID = ""
	var out StageProgress
	if err := c.api.Post(ctx, ResourcePath, rec, &out); err != nil {
		return nil, err
	}
	if out.ID == "" && out.UserID == "" {
		return nil, OpError{Op: "progress.create", Kind: backend.ErrServer, Msg: "create returned no record"}
	}
	c.wrote(out)
	return &out, nil
}

// update PUTs p for existing.ID. When the backend answers without a body the
// locally merged record is returned.
func (c *Client) update(ctx context.Context, existing StageProgress, p Patch) (*StageProgress, error) {
	var out StageProgress
	if err := c.api.Put(ctx, ResourcePath+"/"+url.PathEscape(existing.ID), p, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		out = existing
		p.applyTo(&out)
	}
	c.wrote(out)
	return &out, nil
}

func (c *Client) allowWrite(op string) error {
	if c.gate == nil {
		return nil
	}
	if err := c.gate.AllowWrite(); err != nil {
		c.metrics.ProgressWrite(opLabel(op), "rejected")
		return OpError{Op: op, Kind: ErrAuthRequired, Msg: err.Error()}
	}
	return nil
}

func (c *Client) wrote(rec StageProgress) {
	if c.onWrite != nil {
		c.onWrite(rec)
	}
}

// decodeRecords accepts a single object, a list, a {"data": ...} envelope, null or nothing.
func decodeRecords(raw json.RawMessage) ([]StageProgress, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	switch raw[0] {
	case '[':
		var list []StageProgress
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
		return list, nil
	case '{':
		var env struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &env); err == nil && len(env.Data) > 0 {
			return decodeRecords(env.Data)
		}
		var rec StageProgress
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, err
		}
		if rec.ID == "" && rec.UserID == "" && rec.StageID == "" {
			return nil, nil
		}
		return []StageProgress{rec}, nil
	default:
		return nil, fmt.Errorf("unexpected json value starting with %q", raw[:1])
	}
}

func opLabel(op string) string {
	if i := strings.LastIndexByte(op, '.'); i >= 0 {
		return op[i+1:]
	}
	return op
}
