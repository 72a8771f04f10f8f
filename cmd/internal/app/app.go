// Package app wires the lassmuo sync agent: config, logging, the agent's
// components, and the local status and bridge server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tarnapit/LASSMUO-FN-sub002/cmd/internal/schedule"
)

const shutdownTimeout = 10 * time.Second

// App is the long-running agent process.
type App struct {
	cfg   Config
	log   Logger
	agent *Agent
}

// New builds an App from cfg.
func New(cfg Config, log Logger, opts AgentOptions) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, nil)
	}
	agent, err := NewAgent(cfg, log, opts)
	if err != nil {
		return nil, err
	}
	return &App{cfg: cfg, log: log, agent: agent}, nil
}

// Agent exposes the wired agent.
func (a *App) Agent() *Agent { return a.agent }

// Run serves until ctx is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.HTTPAddr)
	if err != nil {
		_ = a.agent.Close()
		return fmt.Errorf("listen %s: %w", a.cfg.HTTPAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run over an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	defer func() {
		if err := a.agent.Close(); err != nil {
			a.log.Error("state.close.fail", "err", err)
		}
	}()

	sched, err := schedule.New(a.agent.clk, a.log)
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer func() { _ = sched.Shutdown() }()

	stopTicks, err := a.agent.Start(ctx, sched)
	if err != nil {
		_ = ln.Close()
		return err
	}
	defer stopTicks()

	srv := &http.Server{
		Handler:           a.agent.Router(),
		ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
	}

	a.log.Info("agent.start",
		"addr", ln.Addr().String(),
		"backend", a.cfg.BackendURL,
		"state", a.agent.Session().State(),
		"persisted", a.cfg.StatePath != "",
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	err = g.Wait()
	if err != nil {
		a.log.Error("agent.fail", "err", err)
		return err
	}
	a.log.Info("agent.stopped")
	return nil
}
