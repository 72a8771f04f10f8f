// Package connectivity keeps the agent's belief about whether the backend is reachable.
//
// The monitor starts online. Its timer only probes while the belief is offline,
// host network events and manual retries probe immediately, and concurrent
// probes share one request. Listeners hear about a change only when the
// belief actually flips.
package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/tarnapit/LASSMUO-FN-sub002/cmd/internal/metrics"
)

const (
	DefaultInterval = 30 * time.Second
	DefaultTimeout  = 5 * time.Second
)

// Prober checks backend reachability. *backend.Client satisfies it.
type Prober interface {
	Ping(ctx context.Context) error
}

// ProbeFunc adapts a function to Prober.
type ProbeFunc func(ctx context.Context) error

func (f ProbeFunc) Ping(ctx context.Context) error { return f(ctx) }

// Config holds the probe cadence.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Options carries optional collaborators.
type Options struct {
	Clock   clockwork.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Status is the monitor's exposed state.
type Status struct {
	Online      bool      `json:"isOnline"`
	Checking    bool      `json:"isChecking"`
	LastError   string    `json:"lastError,omitempty"`
	LastChecked time.Time `json:"lastChecked,omitempty"`
}

// Monitor is the Connectivity Monitor. Safe for concurrent use.
type Monitor struct {
	prober  Prober
	cfg     Config
	clk     clockwork.Clock
	log     *slog.Logger
	metrics *metrics.Metrics
	sf      singleflight.Group

	mu        sync.Mutex
	st        Status
	listeners []func(Status)
}

// New returns a monitor that believes the backend is online.
func New(p Prober, cfg Config, opts Options) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	m := &Monitor{
		prober:  p,
		cfg:     cfg,
		clk:     opts.Clock,
		log:     opts.Logger,
		metrics: opts.Metrics,
		st:      Status{Online: true},
	}
	if m.clk == nil {
		m.clk = clockwork.NewRealClock()
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	return m
}

// Interval is the offline re-probe period.
func (m *Monitor) Interval() time.Duration { return m.cfg.Interval }

// Subscribe registers fn for online/offline flips.
func (m *Monitor) Subscribe(fn func(Status)) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Status returns the current state.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st
}

// Online reports the current belief.
func (m *Monitor) Online() bool { return m.Status().Online }

// Tick is the timer entry point: it probes only while offline.
func (m *Monitor) Tick(ctx context.Context) {
	if m.Online() {
		return
	}
	m.Check(ctx)
}

// Retry probes now at the user's request.
func (m *Monitor) Retry(ctx context.Context) Status { return m.Check(ctx) }

// NetworkEvent handles the host's native online/offline transition by probing now.
func (m *Monitor) NetworkEvent(ctx context.Context, hostOnline bool) Status {
	m.log.Debug("connectivity.host_event", "online", hostOnline)
	return m.Check(ctx)
}

// Check runs one bounded probe (shared with any probe already in flight) and
// returns the resulting status. The shared probe is bounded by the monitor's
// timeout only; a caller whose ctx ends stops waiting and gets the current
// status without changing the belief.
func (m *Monitor) Check(ctx context.Context) Status {
	if ctx.Err() != nil {
		return m.Status()
	}
	ch := m.sf.DoChan("probe", func() (any, error) {
		return m.probe(context.WithoutCancel(ctx)), nil
	})
	select {
	case r := <-ch:
		return r.Val.(Status)
	case <-ctx.Done():
		return m.Status()
	}
}

func (m *Monitor) probe(ctx context.Context) Status {
	m.mu.Lock()
	m.st.Checking = true
	m.mu.Unlock()

	pctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	err := m.prober.Ping(pctx)
	if err == nil && pctx.Err() != nil {
		err = pctx.Err()
	}
	cancel()

	m.mu.Lock()
	prev := m.st.Online
	m.st.Checking = false
	m.st.Online = err == nil
	m.st.LastChecked = m.clk.Now()
	m.st.LastError = ""
	if err != nil {
		m.st.LastError = describe(err)
	}
	st := m.st
	fns := m.listeners
	m.mu.Unlock()

	if st.Online == prev {
		return st
	}

	m.metrics.ConnectivityChanged(st.Online)
	if st.Online {
		m.log.Info("connectivity.changed", "online", true)
	} else {
		m.log.Warn("connectivity.changed", "online", false, "err", err)
	}
	for _, fn := range fns {
		fn(st)
	}
	return st
}

func describe(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "probe timed out"
	}
	return err.Error()
}
