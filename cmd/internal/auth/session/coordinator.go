package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tarnapit/LASSMUO-FN-sub002/cmd/internal/metrics"
	"github.com/tarnapit/LASSMUO-FN-sub002/cmd/internal/storage"
	"github.com/tarnapit/LASSMUO-FN-sub002/cmd/security/token"
)

// TokenStore persists the token, user and expiry as one unit.
// *storage.CredentialStore satisfies it.
type TokenStore interface {
	Load() (storage.Credentials, bool, error)
	Save(storage.Credentials) error
	Clear() error
}

// Options carries optional collaborators.
type Options struct {
	Clock   clockwork.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Coordinator is the single writer of the token, expiry and current user.
// All methods are safe for concurrent use; subscribers are called outside the lock.
type Coordinator struct {
	cfg     Config
	store   TokenStore
	clock   *Clock
	log     *slog.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	state     State
	token     string
	user      json.RawMessage
	warned    bool
	hidden    bool
	listeners []func(Event)
}

// NewCoordinator returns a coordinator in LoggedOut. Call Restore to rehydrate
// persisted credentials.
func NewCoordinator(cfg Config, store TokenStore, opts Options) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("%w: token store is required", ErrConfig)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		cfg:     cfg,
		store:   store,
		clock:   NewClock(opts.Clock, cfg.Length),
		log:     log,
		metrics: opts.Metrics,
		state:   LoggedOut,
	}, nil
}

// Clock exposes the Session Clock (read-only use).
func (c *Coordinator) Clock() *Clock { return c.clock }

// Subscribe registers fn for lifecycle events.
func (c *Coordinator) Subscribe(fn func(Event)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Restore rehydrates persisted credentials. A token without a usable, future
// expiry is cleared (fail closed).
func (c *Coordinator) Restore() error {
	creds, ok, err := c.store.Load()
	if err != nil {
		return fmt.Errorf("session restore: %w", err)
	}

	c.mu.Lock()
	if !ok {
		c.mu.Unlock()
		return nil
	}

	now := c.clock.Now()
	if creds.Expiry.IsZero() || !now.Before(creds.Expiry) {
		c.log.Info("session.restore.expired",
			"token_fp", token.Fingerprint(creds.Token),
			"expiry", creds.Expiry,
		)
		evs := c.forceLogoutLocked(ReasonRestore, now)
		fns := c.listeners
		c.mu.Unlock()
		dispatch(fns, evs)
		return nil
	}

	c.token = creds.Token
	c.user = creds.User
	c.clock.Set(creds.Expiry)
	c.warned = false
	evs := []Event{c.setStateLocked(Active, now)}
	evs = append(evs, c.evaluateLocked(now)...)
	fns := c.listeners
	c.mu.Unlock()

	c.log.Info("session.restore",
		"token_fp", token.Fingerprint(creds.Token),
		"expiry", creds.Expiry,
	)
	dispatch(fns, evs)
	return nil
}

// SetToken installs a freshly obtained token (login, signup or manual set).
// The token and its derived expiry are persisted together before the state
// becomes Active.
func (c *Coordinator) SetToken(raw string, user json.RawMessage) error {
	tok, err := token.Normalize(raw)
	if err != nil {
		return fmt.Errorf("session set token: %w", err)
	}

	c.mu.Lock()
	now := c.clock.Now()
	exp := deriveExpiry(tok, now, c.cfg.Length, c.cfg.ClampToJWT)
	if !now.Before(exp) {
		c.mu.Unlock()
		return ErrTokenExpired
	}
	if err := c.store.Save(storage.Credentials{Token: tok, User: user, Expiry: exp}); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("session set token: %w", err)
	}

	c.token = tok
	c.user = cloneRaw(user)
	c.clock.Set(exp)
	c.warned = false
	evs := []Event{c.setStateLocked(Active, now)}
	evs = append(evs, c.evaluateLocked(now)...)
	fns := c.listeners
	c.mu.Unlock()

	c.log.Info("session.login",
		"token_fp", token.Fingerprint(tok),
		"expiry", exp,
	)
	dispatch(fns, evs)
	return nil
}

// Refresh extends the session to now + Length (capped by the JWT exp when
// clamping) and resets the warning latch.
// A session the clock already considers expired is logged out instead.
func (c *Coordinator) Refresh() error {
	c.mu.Lock()
	if c.state == LoggedOut {
		c.mu.Unlock()
		return ErrNoSession
	}

	now := c.clock.Now()
	if !c.clock.IsValid() {
		evs := c.forceLogoutLocked(ReasonClock, now)
		fns := c.listeners
		c.mu.Unlock()
		dispatch(fns, evs)
		return ErrNoSession
	}

	exp := deriveExpiry(c.token, now, c.cfg.Length, c.cfg.ClampToJWT)
	if err := c.store.Save(storage.Credentials{Token: c.token, User: c.user, Expiry: exp}); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("session refresh: %w", err)
	}
	c.clock.Set(exp)
	c.warned = false

	evs := []Event{c.setStateLocked(Active, now)}
	evs = append(evs, c.evaluateLocked(now)...)
	fns := c.listeners
	c.mu.Unlock()

	c.log.Info("session.refresh", "expiry", exp)
	dispatch(fns, evs)
	return nil
}

// Logout clears credentials at the user's request.
func (c *Coordinator) Logout() error {
	c.mu.Lock()
	if c.state == LoggedOut {
		c.mu.Unlock()
		return nil
	}
	now := c.clock.Now()
	err := c.clearLocked()
	evs := []Event{c.setStateLocked(LoggedOut, now)}
	fns := c.listeners
	c.mu.Unlock()

	c.log.Info("session.logout")
	dispatch(fns, evs)
	return err
}

// Tick re-evaluates the lifecycle against the clock.
func (c *Coordinator) Tick() {
	c.mu.Lock()
	evs := c.evaluateLocked(c.clock.Now())
	fns := c.listeners
	c.mu.Unlock()

	dispatch(fns, evs)
}

// VisibilityChanged handles the host page becoming visible or hidden.
// Becoming visible checks immediately; it re-arms the warning latch only
// after the page was hidden.
func (c *Coordinator) VisibilityChanged(visible bool) {
	c.mu.Lock()
	if !visible {
		c.hidden = true
		c.mu.Unlock()
		return
	}
	if c.hidden {
		c.hidden = false
		c.warned = false
	}
	evs := c.evaluateLocked(c.clock.Now())
	fns := c.listeners
	c.mu.Unlock()

	dispatch(fns, evs)
}

// FocusGained checks for expiry that happened while unfocused.
func (c *Coordinator) FocusGained() { c.Tick() }

// HandleUnauthorized forces logout after the backend rejected the token.
func (c *Coordinator) HandleUnauthorized(cause error) {
	c.mu.Lock()
	if c.state == LoggedOut {
		c.mu.Unlock()
		return
	}
	c.log.Warn("session.unauthorized", "err", cause)
	evs := c.forceLogoutLocked(ReasonUnauthorized, c.clock.Now())
	fns := c.listeners
	c.mu.Unlock()

	dispatch(fns, evs)
}

// State returns the current state (never Expired).
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Token returns the bearer token, or "" when logged out.
func (c *Coordinator) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// User returns the cached current-user object (nil when logged out).
func (c *Coordinator) User() json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneRaw(c.user)
}

// AllowWrite is the write gate: new writes are rejected once logged out.
// The clock is consulted first, so an expiry no tick has observed yet still
// forces logout before the write is refused.
func (c *Coordinator) AllowWrite() error {
	c.mu.Lock()
	evs := c.evaluateLocked(c.clock.Now())
	st := c.state
	fns := c.listeners
	c.mu.Unlock()

	dispatch(fns, evs)
	if st == LoggedOut {
		return ErrAuthRequired
	}
	return nil
}

// Status returns a snapshot of the lifecycle.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		State:            c.state,
		TokenFingerprint: token.Fingerprint(c.token),
		User:             cloneRaw(c.user),
		Warned:           c.warned,
	}
	if exp, ok := c.clock.Expiry(); ok && c.state != LoggedOut {
		e := exp.UTC()
		st.Expiry = &e
		st.Remaining = c.clock.Remaining()
		st.RemainingSeconds = int64(st.Remaining / time.Second)
	}
	return st
}

// evaluateLocked applies the clock to the state machine.
func (c *Coordinator) evaluateLocked(now time.Time) []Event {
	if c.state == LoggedOut {
		return nil
	}

	rem := c.clock.Remaining()
	switch {
	case rem <= 0:
		return c.forceLogoutLocked(ReasonClock, now)

	case rem <= c.cfg.WarningThreshold:
		var evs []Event
		if c.state != Warning {
			evs = append(evs, c.setStateLocked(Warning, now))
		}
		if !c.warned {
			c.warned = true
			c.metrics.SessionWarning()
			c.log.Info("session.warning", "remaining", rem.Round(time.Second))
			evs = append(evs, Event{Kind: EventWarning, State: Warning, Remaining: rem, At: now})
		}
		return evs

	default:
		if c.state == Warning {
			return []Event{c.setStateLocked(Active, now)}
		}
		return nil
	}
}

// forceLogoutLocked clears everything and reports Expired followed by LoggedOut.
func (c *Coordinator) forceLogoutLocked(reason string, now time.Time) []Event {
	if err := c.clearLocked(); err != nil {
		c.log.Error("session.clear.fail", "err", err)
	}
	c.metrics.SessionForcedLogout(reason)
	c.log.Info("session.expired", "reason", reason)

	return []Event{
		{Kind: EventExpired, State: Expired, Reason: reason, At: now},
		c.setStateLocked(LoggedOut, now),
	}
}

// clearLocked wipes persisted and in-memory credentials. In-memory state is
// cleared even if the store fails.
func (c *Coordinator) clearLocked() error {
	err := c.store.Clear()
	c.token = ""
	c.user = nil
	c.warned = false
	c.clock.Clear()
	if err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	return nil
}

func (c *Coordinator) setStateLocked(s State, now time.Time) Event {
	prev := c.state
	c.state = s
	c.metrics.SessionState(int(s))
	if prev != s {
		c.log.Debug("session.state", "from", prev.String(), "to", s.String())
	}
	return Event{Kind: EventState, State: s, Remaining: c.clock.Remaining(), At: now}
}

func dispatch(fns []func(Event), evs []Event) {
	for _, ev := range evs {
		for _, fn := range fns {
			fn(ev)
		}
	}
}

func cloneRaw(b json.RawMessage) json.RawMessage {
	if b == nil {
		return nil
	}
	out := make(json.RawMessage, len(b))
	copy(out, b)
	return out
}
