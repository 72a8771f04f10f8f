// Package bridge serves the local WebSocket channel between the UI host and the
// sync agent. It relays host signals and progress commands to the Agent and
// pushes session, connectivity and progress events back out.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/tarnapit/LASSMUO-FN-sub002/cmd/identity/ids"
	"github.com/tarnapit/LASSMUO-FN-sub002/cmd/internal/metrics"
	v1 "github.com/tarnapit/LASSMUO-FN-sub002/shared/contracts/bridge/v1"
)

// Options carries the gateway's collaborators.
type Options struct {
	Clock   clockwork.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Gateway is the bridge WebSocket entrypoint.
//
// It enforces origin policy, subprotocol selection, rate limits and heartbeats,
// then routes validated envelopes to the Agent.
type Gateway struct {
	agent Agent
	cfg   Config
	clk   clockwork.Clock
	log   *slog.Logger
	m     *metrics.Metrics

	originPatterns []string
	clients        *Broadcaster
}

// NewGateway builds a gateway over agent.
func NewGateway(agent Agent, cfg Config, opts Options) *Gateway {
	cfg = cfg.withDefaults()
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Gateway{
		agent:          agent,
		cfg:            cfg,
		clk:            opts.Clock,
		log:            opts.Logger,
		m:              opts.Metrics,
		originPatterns: originPatterns(cfg.AllowedOrigins),
		clients:        NewBroadcaster(opts.Logger),
	}
}

// Clients returns the number of connected hosts.
func (g *Gateway) Clients() int { return g.clients.Len() }

// Publish pushes an agent event to every connected host.
func (g *Gateway) Publish(typ string, payload any) int {
	env, err := g.envelope(typ, payload)
	if err != nil {
		g.log.Error("bridge.publish.fail", "type", typ, "err", err)
		return 0
	}
	return g.clients.Broadcast(env)
}

// ServeHTTP upgrades the request and runs the session loop.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("bridge.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{v1.Subprotocol},
		OriginPatterns: g.originPatterns,
	})
	if err != nil {
		g.log.Error("bridge.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("bridge.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	client := NewClient(ids.RequestID(g.clk.Now()), g.cfg.SendQueueSize)
	sessionID := client.SessionID

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	g.clients.Add(client)
	g.m.BridgeClients(1)
	g.log.Info("bridge.connect", "session_id", sessionID, "remote", r.RemoteAddr)

	var closeOnce sync.Once

	// shutdown never closes client.Send; the client leaves the broadcaster first.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.clients.Remove(sessionID)
			g.m.BridgeClients(-1)
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
			g.log.Info("bridge.disconnect", "session_id", sessionID, "reason", reason)
		})
	}

	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					g.log.Info("bridge.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeat(ctx, conn, client, shutdown)
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.sendError(ctx, client, "", CodeBadJSON, "invalid JSON")
				continue readLoop
			default:
				g.log.Info("bridge.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		if !rl.Allow(g.clk.Now()) {
			// Written inline so the frame lands before the close.
			if e, err := g.envelope(v1.TypeError, v1.ErrorPayload{Code: CodeRateLimited, Message: "too many events", ReplyTo: env.ID}); err == nil {
				_ = writeEnvelope(ctx, conn, e, g.cfg.WriteTimeout)
			}
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.sendError(ctx, client, env.ID, CodeBadEnvelope, err.Error())
			continue readLoop
		}

		if err := g.dispatch(ctx, client, env); err != nil {
			if errors.Is(err, errBackpressure) {
				g.log.Info("bridge.backpressure", "session_id", sessionID, "type", env.Type)
				shutdown(websocket.StatusPolicyViolation, "backpressure")
				break readLoop
			}
			g.log.Info("bridge.command.fail", "session_id", sessionID, "type", env.Type, "err", err)
			g.sendError(ctx, client, env.ID, codeFor(err), err.Error())
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
}

func (g *Gateway) heartbeat(ctx context.Context, conn *websocket.Conn, client *Client, shutdown func(websocket.StatusCode, string)) {
	t := g.clk.NewTicker(g.cfg.HeartbeatEvery)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case <-t.Chan():
			hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
			err := conn.Ping(hbCtx)
			hbCancel()

			if err != nil {
				failures++
				g.log.Info("bridge.ping.fail", "session_id", client.SessionID, "failures", failures, "err", err)
				if failures >= maxPingFailures {
					shutdown(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

func (g *Gateway) dispatch(ctx context.Context, client *Client, env v1.Envelope) error {
	cmdCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	switch env.Type {
	case v1.TypeHello:
		var p v1.HelloPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		ack := g.agent.Snapshot(cmdCtx)
		ack.SessionID = client.SessionID
		return g.reply(ctx, client, v1.TypeHelloAck, ack)

	case v1.TypeHostVisibility:
		var p v1.VisibilityPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		g.agent.Visibility(p.Visible)
		return nil

	case v1.TypeHostFocus:
		g.agent.Focus()
		return nil

	case v1.TypeHostNetwork:
		var p v1.NetworkPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		g.agent.Network(cmdCtx, p.Online)
		return nil

	case v1.TypeConnectivityRetry:
		return g.reply(ctx, client, v1.TypeConnectivityChanged, g.agent.Retry(cmdCtx))

	case v1.TypeSessionExtend:
		return g.agent.Extend()

	case v1.TypeSessionLogin:
		var p v1.LoginPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		return g.agent.Login(cmdCtx, p)

	case v1.TypeSessionLogout:
		return g.agent.Logout()

	case v1.TypeRecordAttempt:
		var p v1.RecordAttemptPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		rec, err := g.agent.RecordAttempt(cmdCtx, strings.TrimSpace(p.StageID), p.Score)
		if err != nil {
			return err
		}
		return g.reply(ctx, client, v1.TypeProgressResult, v1.ProgressResultPayload{ReplyTo: env.ID, Op: "record_attempt", Record: rec})

	case v1.TypeCompleteStage:
		var p v1.CompleteStagePayload
		if err := decode(env, &p); err != nil {
			return err
		}
		rec, err := g.agent.CompleteStage(cmdCtx, strings.TrimSpace(p.StageID), p.Score, p.Stars)
		if err != nil {
			return err
		}
		return g.reply(ctx, client, v1.TypeProgressResult, v1.ProgressResultPayload{ReplyTo: env.ID, Op: "complete_stage", Record: rec})

	case v1.TypeProgressSummary:
		var p v1.SummaryRequestPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		sum, err := g.agent.Summary(cmdCtx, p.StageIDs)
		if err != nil {
			return err
		}
		return g.reply(ctx, client, v1.TypeProgressSummary, sum)

	default:
		return fmt.Errorf("%w: %s", errUnsupported, env.Type)
	}
}

func decode(env v1.Envelope, v any) error {
	if err := env.Decode(v); err != nil {
		return payloadError{err}
	}
	return nil
}

// ---- send helpers ----

func (g *Gateway) reply(ctx context.Context, client *Client, typ string, payload any) error {
	env, err := g.envelope(typ, payload)
	if err != nil {
		return err
	}
	if !enqueue(ctx, client, env) {
		return errBackpressure
	}
	return nil
}

func (g *Gateway) sendError(ctx context.Context, client *Client, replyTo, code, msg string) {
	env, err := g.envelope(v1.TypeError, v1.ErrorPayload{Code: code, Message: msg, ReplyTo: replyTo})
	if err != nil {
		return
	}
	_ = enqueue(ctx, client, env)
}

func enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	default:
	}
	return client.offer(env)
}

// ---- envelope IO ----

func (g *Gateway) envelope(typ string, payload any) (v1.Envelope, error) {
	now := g.clk.Now().UTC()
	raw, err := json.Marshal(payload)
	if err != nil {
		return v1.Envelope{}, fmt.Errorf("marshal %s: %w", typ, err)
	}
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      ids.RequestID(now),
		TS:      now,
		Payload: raw,
	}, nil
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, badJSONError{err}
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type badJSONError struct{ err error }

func (e badJSONError) Error() string { return "bad json: " + e.err.Error() }
func (e badJSONError) Unwrap() error { return e.err }

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	var bj badJSONError
	switch {
	case errors.As(err, &bj):
		return readErrBadJSON
	case websocket.CloseStatus(err) != -1:
		return readErrClose
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return readErrCtxDone
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF):
		return readErrConnClosed
	default:
		return readErrUnknown
	}
}
