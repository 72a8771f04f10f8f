package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/tarnapit/LASSMUO-FN-sub002/cmd/identity"
	"github.com/tarnapit/LASSMUO-FN-sub002/cmd/internal/auth/session"
	"github.com/tarnapit/LASSMUO-FN-sub002/cmd/internal/backend"
	"github.com/tarnapit/LASSMUO-FN-sub002/cmd/internal/bridge"
	"github.com/tarnapit/LASSMUO-FN-sub002/cmd/internal/connectivity"
	"github.com/tarnapit/LASSMUO-FN-sub002/cmd/internal/metrics"
	"github.com/tarnapit/LASSMUO-FN-sub002/cmd/internal/progress"
	"github.com/tarnapit/LASSMUO-FN-sub002/cmd/internal/schedule"
	"github.com/tarnapit/LASSMUO-FN-sub002/cmd/internal/storage"
	"github.com/tarnapit/LASSMUO-FN-sub002/cmd/security/seal"
	v1 "github.com/tarnapit/LASSMUO-FN-sub002/shared/contracts/bridge/v1"
)

// AgentOptions overrides collaborators, mostly for tests.
type AgentOptions struct {
	Clock      clockwork.Clock
	HTTPClient *http.Client
	// KV replaces the store selected by Config.StatePath.
	KV storage.KV
	// Sealer replaces the one derived from LASSMUO_STORAGE_KEY_HEX.
	Sealer seal.Sealer
}

// Agent is the sync agent: it owns one session, one connectivity monitor and
// the progress view of the logged-in user, and fans their events out to the bridge.
type Agent struct {
	cfg     Config
	log     *slog.Logger
	clk     clockwork.Clock
	metrics *metrics.Metrics

	kv       storage.KV
	api      *backend.Client
	session  *session.Coordinator
	progress *progress.Client
	board    *progress.Board
	monitor  *connectivity.Monitor
	gateway  *bridge.Gateway
}

// NewAgent wires the components. Persisted credentials are restored before it returns.
func NewAgent(cfg Config, log *slog.Logger, opts AgentOptions) (*Agent, error) {
	if log == nil {
		log = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	a := &Agent{
		cfg:     cfg,
		log:     log,
		clk:     opts.Clock,
		metrics: metrics.New(),
		board:   progress.NewBoard(),
	}

	kv, err := openKV(cfg, opts.KV)
	if err != nil {
		return nil, err
	}
	a.kv = kv

	sealer := opts.Sealer
	if sealer == nil {
		if sealer, err = seal.FromEnv(); err != nil {
			_ = kv.Close()
			return nil, fmt.Errorf("%w: storage key: %v", ErrConfig, err)
		}
	}
	creds := storage.NewCredentialStore(kv, sealer, log)

	a.session, err = session.NewCoordinator(cfg.Session, creds, session.Options{
		Clock:   a.clk,
		Logger:  log,
		Metrics: a.metrics,
	})
	if err != nil {
		_ = kv.Close()
		return nil, err
	}

	bopts := []backend.Option{
		backend.WithTokenSource(backend.TokenFunc(a.session.Token)),
		backend.WithLogger(log),
		backend.WithMetrics(a.metrics),
		backend.WithClock(a.clk),
	}
	if opts.HTTPClient != nil {
		bopts = append(bopts, backend.WithHTTPClient(opts.HTTPClient))
	}
	a.api, err = backend.New(backend.Config{BaseURL: cfg.BackendURL, Timeout: cfg.RequestTimeout}, bopts...)
	if err != nil {
		_ = kv.Close()
		return nil, err
	}
	a.api.OnUnauthorized(a.session.HandleUnauthorized)

	a.progress = progress.NewClient(a.api, progress.Options{
		ConflictBackoff: cfg.ConflictBackoff,
		Gate:            a.session,
		Clock:           a.clk,
		Logger:          log,
		Metrics:         a.metrics,
		OnWrite:         a.applyWrite,
	})

	a.monitor = connectivity.New(a.api, cfg.Connectivity, connectivity.Options{
		Clock:   a.clk,
		Logger:  log,
		Metrics: a.metrics,
	})

	a.gateway = bridge.NewGateway(a, cfg.Bridge, bridge.Options{
		Clock:   a.clk,
		Logger:  log,
		Metrics: a.metrics,
	})

	a.session.Subscribe(a.onSessionEvent)
	a.monitor.Subscribe(a.onConnectivity)
	a.board.Subscribe(a.onSummary)

	if err := a.session.Restore(); err != nil {
		log.Error("session.restore.fail", "err", err)
	}
	return a, nil
}

func openKV(cfg Config, override storage.KV) (storage.KV, error) {
	if override != nil {
		return override, nil
	}
	if strings.TrimSpace(cfg.StatePath) == "" {
		return storage.NewMemoryStore(), nil
	}
	return storage.OpenBolt(cfg.StatePath)
}

// Start registers the periodic session and connectivity ticks on s and loads
// the board for a restored session. The returned func stops both ticks.
func (a *Agent) Start(ctx context.Context, s *schedule.Scheduler) (func(), error) {
	sessTick, err := s.Every("session.tick", a.cfg.Session.TickInterval, a.session.Tick)
	if err != nil {
		return nil, err
	}
	connTick, err := s.Every("connectivity.tick", a.monitor.Interval(), func() {
		tctx, cancel := context.WithTimeout(ctx, a.cfg.Connectivity.Timeout)
		defer cancel()
		a.monitor.Tick(tctx)
	})
	if err != nil {
		sessTick.Stop()
		return nil, err
	}

	a.loadBoard(ctx)
	return func() {
		sessTick.Stop()
		connTick.Stop()
	}, nil
}

// Close releases the persisted state store.
func (a *Agent) Close() error { return a.kv.Close() }

// Gateway returns the bridge handler.
func (a *Agent) Gateway() *bridge.Gateway { return a.gateway }

// Metrics returns the agent's collectors.
func (a *Agent) Metrics() *metrics.Metrics { return a.metrics }

// Session returns the lifecycle coordinator.
func (a *Agent) Session() *session.Coordinator { return a.session }

// Progress returns the progress store client.
func (a *Agent) Progress() *progress.Client { return a.progress }

// Board returns the aggregated view of the logged-in user.
func (a *Agent) Board() *progress.Board { return a.board }

// Monitor returns the connectivity monitor.
func (a *Agent) Monitor() *connectivity.Monitor { return a.monitor }

// UserID returns the logged-in user's id, or "" when logged out or unknown.
func (a *Agent) UserID() string {
	if a.session.State() == session.LoggedOut {
		return ""
	}
	return userIDFrom(a.session.User())
}

// ---- event fan-out ----

func (a *Agent) onSessionEvent(ev session.Event) {
	switch ev.Kind {
	case session.EventWarning:
		a.gateway.Publish(v1.TypeSessionWarning, v1.SessionWarningPayload{
			RemainingSeconds: int64(ev.Remaining.Seconds()),
		})
	case session.EventExpired:
		a.gateway.Publish(v1.TypeSessionExpired, v1.SessionExpiredPayload{Reason: ev.Reason})
	case session.EventState:
		if ev.State == session.LoggedOut {
			a.board.Clear()
		}
		a.gateway.Publish(v1.TypeSessionState, sessionPayload(a.session.Status()))
	}
}

func (a *Agent) onConnectivity(st connectivity.Status) {
	a.gateway.Publish(v1.TypeConnectivityChanged, connectivityPayload(st))
	if st.Online {
		// Expiry may have passed while the backend was unreachable.
		a.session.Tick()
	}
}

func (a *Agent) onSummary(progress.Summary) {
	a.gateway.Publish(v1.TypeProgressSummary, a.summaryPayload(nil))
}

func (a *Agent) applyWrite(rec progress.StageProgress) {
	if uid := a.UserID(); uid != "" && rec.UserID == uid {
		a.board.Apply(rec)
	}
}

func (a *Agent) loadBoard(ctx context.Context) {
	uid := a.UserID()
	if uid == "" {
		return
	}
	if err := a.board.Load(ctx, a.progress, uid); err != nil {
		a.log.Error("progress.board.load.fail", "user_id", uid, "err", err)
	}
}

// ---- bridge.Agent ----

// Snapshot returns the current session, connectivity and progress views.
func (a *Agent) Snapshot(context.Context) v1.HelloAckPayload {
	return v1.HelloAckPayload{
		Session:      sessionPayload(a.session.Status()),
		Connectivity: connectivityPayload(a.monitor.Status()),
		Progress:     a.summaryPayload(nil),
	}
}

func (a *Agent) Visibility(visible bool) { a.session.VisibilityChanged(visible) }

func (a *Agent) Focus() { a.session.FocusGained() }

func (a *Agent) Network(ctx context.Context, online bool) { a.monitor.NetworkEvent(ctx, online) }

func (a *Agent) Retry(ctx context.Context) v1.ConnectivityPayload {
	return connectivityPayload(a.monitor.Retry(ctx))
}

func (a *Agent) Extend() error { return a.session.Refresh() }

// Login installs p.Token when given, otherwise exchanges the credentials with the backend.
func (a *Agent) Login(ctx context.Context, p v1.LoginPayload) error {
	tok, user := strings.TrimSpace(p.Token), p.User
	if tok == "" {
		email := identity.NormalizeEmail(p.Email)
		if email == "" || p.Password == "" {
			return fmt.Errorf("login: %w: email and password or token required", progress.ErrInvalidInput)
		}
		res, err := a.api.Login(ctx, backend.Credentials{Email: email, Password: p.Password})
		if err != nil {
			return err
		}
		tok, user = res.Token, res.User
	}
	if err := a.session.SetToken(tok, user); err != nil {
		return err
	}
	a.loadBoard(ctx)
	return nil
}

func (a *Agent) Logout() error { return a.session.Logout() }

func (a *Agent) RecordAttempt(ctx context.Context, stageID string, score int) (json.RawMessage, error) {
	uid, err := a.requireUser("progress.RecordAttempt")
	if err != nil {
		return nil, err
	}
	return marshalRecord(a.progress.RecordAttempt(ctx, uid, stageID, score))
}

func (a *Agent) CompleteStage(ctx context.Context, stageID string, score, stars int) (json.RawMessage, error) {
	uid, err := a.requireUser("progress.CompleteStage")
	if err != nil {
		return nil, err
	}
	return marshalRecord(a.progress.CompleteStage(ctx, uid, stageID, score, stars))
}

// Summary reloads the board when it belongs to another user, then folds it.
func (a *Agent) Summary(ctx context.Context, stageIDs []string) (v1.ProgressSummaryPayload, error) {
	uid, err := a.requireUser("progress.Summary")
	if err != nil {
		return v1.ProgressSummaryPayload{}, err
	}
	if a.board.UserID() != uid {
		if err := a.board.Load(ctx, a.progress, uid); err != nil {
			return v1.ProgressSummaryPayload{}, err
		}
	}
	return a.summaryPayload(stageIDs), nil
}

func (a *Agent) requireUser(op string) (string, error) {
	uid := a.UserID()
	if uid == "" {
		return "", progress.OpError{Op: op, Kind: progress.ErrAuthRequired, Msg: "no logged-in user"}
	}
	return uid, nil
}

// ---- payload mapping ----

func (a *Agent) summaryPayload(stageIDs []string) v1.ProgressSummaryPayload {
	s := a.board.Summary()
	out := v1.ProgressSummaryPayload{
		UserID:         s.UserID,
		Stages:         s.Stages,
		CompletedCount: s.CompletedCount,
		TotalStars:     s.TotalStars,
		TotalBestScore: s.TotalBestScore,
		TotalAttempts:  s.TotalAttempts,
	}
	if len(stageIDs) == 0 {
		return out
	}
	for _, v := range progress.Views(stageIDs, a.board.Records()) {
		sv := v1.StageView{StageID: v.StageID, Unlocked: v.IsUnlocked}
		if v.Progress != nil {
			sv.Completed = v.Progress.IsCompleted
			sv.BestScore = v.Progress.BestScore
			sv.StarsEarned = v.Progress.StarsEarned
		}
		out.Views = append(out.Views, sv)
	}
	return out
}

func sessionPayload(st session.Status) v1.SessionStatePayload {
	return v1.SessionStatePayload{
		State:            st.State.String(),
		RemainingSeconds: st.RemainingSeconds,
		Expiry:           st.Expiry,
	}
}

func connectivityPayload(st connectivity.Status) v1.ConnectivityPayload {
	return v1.ConnectivityPayload{Online: st.Online, Checking: st.Checking, LastError: st.LastError}
}

func marshalRecord(rec *progress.StageProgress, err error) (json.RawMessage, error) {
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return json.RawMessage("null"), nil
	}
	return json.Marshal(rec)
}

// userIDFrom reads "id" (or "userId") from the opaque user object; numeric ids are stringified.
func userIDFrom(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var u map[string]any
	if err := json.Unmarshal(raw, &u); err != nil {
		return ""
	}
	for _, k := range []string{"id", "userId", "_id"} {
		switch v := u[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

var _ bridge.Agent = (*Agent)(nil)
