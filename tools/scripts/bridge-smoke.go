// Package main is a smoke test for a running lassmuo agent's UI bridge.
//
// It validates:
//   - handshake + subprotocol selection
//   - hello/ack snapshot on two clients
//   - login fan-out (session.state reaches both clients)
//   - record_attempt -> progress.result
//   - summary request -> progress.summary
//   - connectivity.retry -> connectivity.changed
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	v1 "github.com/tarnapit/LASSMUO-FN-sub002/shared/contracts/bridge/v1"
)

const maxReadBytes = 1 << 20

type smokeClient struct {
	name      string
	conn      *websocket.Conn
	sessionID string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL    = flag.String("url", "ws://127.0.0.1:8765/bridge", "bridge URL")
		origin   = flag.String("origin", "http://localhost", "Origin header to send")
		email    = flag.String("email", "smoke@example.com", "login email")
		password = flag.String("password", "", "login password")
		token    = flag.String("token", "", "bearer token to install instead of logging in")
		stage    = flag.String("stage", "stage-1", "stage to record an attempt on")
		score    = flag.Int("score", 42, "attempt score")
		timeout  = flag.Duration("timeout", 7*time.Second, "per-step timeout")
		verbose  = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}

	root := context.Background()

	a := mustConnect(root, "A", *wsURL, *origin, *timeout)
	defer closeWS(a.conn)
	b := mustConnect(root, "B", *wsURL, *origin, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s\n", a.sessionID, b.sessionID)
	}

	a.mustWrite(root, v1.TypeSessionLogin, v1.LoginPayload{Email: *email, Password: *password, Token: *token}, *timeout)
	for _, c := range []*smokeClient{a, b} {
		st := c.mustReadSessionState(root, "active", *timeout)
		if *verbose {
			fmt.Printf("%s: session active remaining=%ds\n", c.name, st.RemainingSeconds)
		}
	}

	id := a.mustWrite(root, v1.TypeRecordAttempt, v1.RecordAttemptPayload{StageID: *stage, Score: *score}, *timeout)
	var res v1.ProgressResultPayload
	decode(a.mustReadUntilType(root, v1.TypeProgressResult, *timeout), &res)
	if res.ReplyTo != id || len(res.Record) == 0 {
		fatalf("progress.result mismatch: reply_to=%q want=%q record=%s", res.ReplyTo, id, res.Record)
	}

	a.mustWrite(root, v1.TypeProgressSummary, v1.SummaryRequestPayload{StageIDs: []string{*stage}}, *timeout)
	var sum v1.ProgressSummaryPayload
	for {
		// Broadcast summaries may arrive first; the reply carries the views.
		decode(a.mustReadUntilType(root, v1.TypeProgressSummary, *timeout), &sum)
		if len(sum.Views) > 0 {
			break
		}
	}
	if sum.TotalAttempts < 1 || !sum.Views[0].Unlocked {
		fatalf("summary unexpected: %+v", sum)
	}

	a.mustWrite(root, v1.TypeConnectivityRetry, nil, *timeout)
	var conn v1.ConnectivityPayload
	decode(a.mustReadUntilType(root, v1.TypeConnectivityChanged, *timeout), &conn)

	fmt.Printf("OK: A=%s B=%s stage=%s attempts=%d online=%v\n", a.sessionID, b.sessionID, *stage, sum.TotalAttempts, conn.Online)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin string, step time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, step)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		fatalf("subprotocol mismatch: got=%q want=%q", got, v1.Subprotocol)
	}
	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 256),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	c.mustWrite(parent, v1.TypeHello, v1.HelloPayload{Client: "bridge-smoke"}, step)
	var ack v1.HelloAckPayload
	decode(c.mustReadUntilType(parent, v1.TypeHelloAck, step), &ack)
	if strings.TrimSpace(ack.SessionID) == "" {
		fatalf("hello.ack missing session_id (%s)", name)
	}
	c.sessionID = ack.SessionID
	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)
		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.fail(err)
				return
			}
			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if env.V != v1.Version {
				c.fail(fmt.Errorf("bad version %q", env.V))
				return
			}
			select {
			case c.inbox <- env:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (c *smokeClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

func (c *smokeClient) mustWrite(parent context.Context, typ string, payload any, step time.Duration) string {
	id := fmt.Sprintf("%s-%s-%d", c.name, typ, time.Now().UnixNano())
	env := v1.Envelope{V: v1.Version, Type: typ, ID: id, TS: time.Now().UTC()}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			fatalf("marshal %s: %v", typ, err)
		}
		env.Payload = b
	}
	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}

	ctx, cancel := context.WithTimeout(parent, step)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write %s (%s): %v", typ, c.name, err)
	}
	return id
}

// mustReadUntilType skips other envelopes but fails fast on an error envelope.
func (c *smokeClient) mustReadUntilType(parent context.Context, want string, step time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, step)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %s (%s)", want, c.name)
		case err := <-c.errCh:
			fatalf("read (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed waiting for %s (%s)", want, c.name)
			}
			if env.Type == want {
				return env
			}
			if env.Type == v1.TypeError {
				var p v1.ErrorPayload
				decode(env, &p)
				fatalf("agent error waiting for %s (%s): %s: %s", want, c.name, p.Code, p.Message)
			}
		}
	}
}

func (c *smokeClient) mustReadSessionState(parent context.Context, want string, step time.Duration) v1.SessionStatePayload {
	deadline := time.Now().Add(step)
	for time.Now().Before(deadline) {
		var st v1.SessionStatePayload
		decode(c.mustReadUntilType(parent, v1.TypeSessionState, time.Until(deadline)), &st)
		if st.State == want {
			return st
		}
	}
	fatalf("session never reached %s (%s)", want, c.name)
	return v1.SessionStatePayload{}
}

func decode(env v1.Envelope, v any) {
	if err := env.Decode(v); err != nil {
		fatalf("decode %s: %v", env.Type, err)
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
