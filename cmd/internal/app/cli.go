package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tarnapit/LASSMUO-FN-sub002/cmd/internal/progress/progresstest"
	v1 "github.com/tarnapit/LASSMUO-FN-sub002/shared/contracts/bridge/v1"
)

const usage = `usage: lassmuo <command> [flags]

commands:
  run        serve the status endpoints and the UI bridge
  login      log in with -email/-password or install -token
  logout     clear the persisted session
  status     print session, connectivity and progress as JSON
  record     record one attempt: -stage ID -score N
  complete   complete a stage: -stage ID -score N -stars N
  summary    print the progress summary (optional -stages a,b,c)
`

const oneShotTimeout = 30 * time.Second

// Main is the CLI entrypoint used by cmd/lassmuo. It returns an error instead of
// exiting so deferred cleanup runs.
func Main(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		_, _ = io.WriteString(stderr, usage)
		return errors.New("missing command")
	}
	cmd, rest := args[0], args[1:]

	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", "", "YAML config file (overrides "+ConfigPathEnv+")")
	devBackend := fs.Bool("dev-backend", false, "serve an in-process fake backend and point the agent at it")

	var (
		email    = fs.String("email", "", "login email")
		password = fs.String("password", "", "login password")
		tok      = fs.String("token", "", "bearer token to install instead of logging in")
		stage    = fs.String("stage", "", "stage id")
		score    = fs.Int("score", 0, "score")
		stars    = fs.Int("stars", 0, "stars earned")
		stages   = fs.String("stages", "", "comma-separated ordered stage ids")
	)
	if err := fs.Parse(rest); err != nil {
		return err
	}

	if *devBackend {
		dev := progresstest.New()
		defer dev.Close()
		if err := os.Setenv("LASSMUO_BACKEND_URL", dev.URL()); err != nil {
			return err
		}
	}

	cfg, err := LoadConfig(*cfgPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cmd == "run" {
		log := NewLogger(cfg.LogLevel, cfg.LogFormat, stderr)
		a, err := New(cfg, log, AgentOptions{})
		if err != nil {
			return err
		}
		return a.Run(ctx)
	}

	log := NewLogger(EnvString("LASSMUO_LOG_LEVEL", "warn"), "text", stderr)
	agent, err := NewAgent(cfg, log, AgentOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = agent.Close() }()

	ctx, cancelOp := context.WithTimeout(ctx, oneShotTimeout)
	defer cancelOp()

	var out any
	switch cmd {
	case "login":
		err = agent.Login(ctx, v1.LoginPayload{Email: *email, Password: *password, Token: *tok})
		out = agent.Session().Status()
	case "logout":
		err = agent.Logout()
		out = agent.Session().Status()
	case "status":
		agent.Monitor().Check(ctx)
		agent.loadBoard(ctx)
		out = agent.Status()
	case "record":
		out, err = agent.RecordAttempt(ctx, *stage, *score)
	case "complete":
		out, err = agent.CompleteStage(ctx, *stage, *score, *stars)
	case "summary":
		out, err = agent.Summary(ctx, splitList(*stages))
	default:
		_, _ = io.WriteString(stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
