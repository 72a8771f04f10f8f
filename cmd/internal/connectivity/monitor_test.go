package connectivity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type scriptedProber struct {
	fail  atomic.Bool
	hang  atomic.Bool
	calls atomic.Int32
}

func (p *scriptedProber) Ping(ctx context.Context) error {
	p.calls.Add(1)
	if p.hang.Load() {
		<-ctx.Done()
		return ctx.Err()
	}
	if p.fail.Load() {
		return errors.New("connection refused")
	}
	return nil
}

func TestMonitor_TimeoutFlipsOfflineThenBack(t *testing.T) {
	t.Parallel()

	p := &scriptedProber{}
	m := New(p, Config{Timeout: 20 * time.Millisecond}, Options{})

	var mu sync.Mutex
	var flips []bool
	m.Subscribe(func(s Status) {
		mu.Lock()
		flips = append(flips, s.Online)
		mu.Unlock()
	})

	p.hang.Store(true)
	st := m.Check(context.Background())
	if st.Online {
		t.Fatalf("online=true after timed-out probe")
	}
	if st.LastError != "probe timed out" {
		t.Fatalf("lastError=%q", st.LastError)
	}

	// Still offline: no second publication.
	m.Check(context.Background())

	p.hang.Store(false)
	if st := m.Check(context.Background()); !st.Online || st.LastError != "" {
		t.Fatalf("status=%+v want online", st)
	}
	m.Check(context.Background())

	mu.Lock()
	defer mu.Unlock()
	if len(flips) != 2 || flips[0] || !flips[1] {
		t.Fatalf("flips=%v want=[false true]", flips)
	}
}

func TestMonitor_TickProbesOnlyWhileOffline(t *testing.T) {
	t.Parallel()

	p := &scriptedProber{}
	m := New(p, Config{}, Options{})

	m.Tick(context.Background())
	m.Tick(context.Background())
	if got := p.calls.Load(); got != 0 {
		t.Fatalf("calls=%d want=0 while online", got)
	}

	p.fail.Store(true)
	m.Retry(context.Background())
	if m.Online() {
		t.Fatalf("online after failed retry")
	}

	m.Tick(context.Background())
	m.Tick(context.Background())
	if got := p.calls.Load(); got != 3 {
		t.Fatalf("calls=%d want=3", got)
	}

	p.fail.Store(false)
	m.Tick(context.Background())
	if !m.Online() {
		t.Fatalf("still offline after good probe")
	}
	m.Tick(context.Background())
	if got := p.calls.Load(); got != 4 {
		t.Fatalf("calls=%d want=4 (no probe once online)", got)
	}
}

func TestMonitor_NetworkEventProbesImmediately(t *testing.T) {
	t.Parallel()

	p := &scriptedProber{}
	m := New(p, Config{}, Options{})

	p.fail.Store(true)
	if st := m.NetworkEvent(context.Background(), false); st.Online {
		t.Fatalf("online after host offline event with failing probe")
	}
	p.fail.Store(false)
	if st := m.NetworkEvent(context.Background(), true); !st.Online {
		t.Fatalf("offline after host online event with good probe")
	}
	if got := p.calls.Load(); got != 2 {
		t.Fatalf("calls=%d want=2", got)
	}
}

func TestMonitor_ConcurrentChecksShareProbe(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var calls atomic.Int32
	m := New(ProbeFunc(func(ctx context.Context) error {
		calls.Add(1)
		<-release
		return nil
	}), Config{Timeout: time.Second}, Options{})

	var wg, started sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		started.Add(1)
		go func() {
			defer wg.Done()
			started.Done()
			m.Check(context.Background())
		}()
	}

	started.Wait()
	deadline := time.Now().Add(time.Second)
	for !m.Status().Checking && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("calls=%d want=1", got)
	}
	if m.Status().Checking {
		t.Fatalf("checking still set")
	}
}

func TestMonitor_CancelledCallerDoesNotFlipSharedProbe(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var calls atomic.Int32
	m := New(ProbeFunc(func(ctx context.Context) error {
		calls.Add(1)
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}), Config{Timeout: 5 * time.Second}, Options{})

	var flips atomic.Int32
	m.Subscribe(func(Status) { flips.Add(1) })

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan Status, 1)
	go func() { first <- m.Check(ctx) }()

	deadline := time.Now().Add(time.Second)
	for !m.Status().Checking && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	second := make(chan Status, 1)
	go func() { second <- m.Check(context.Background()) }()
	time.Sleep(20 * time.Millisecond)

	cancel()
	if st := <-first; !st.Online {
		t.Fatalf("cancelled caller status=%+v want online", st)
	}

	close(release)
	if st := <-second; !st.Online || st.LastError != "" {
		t.Fatalf("shared status=%+v want online", st)
	}
	if got := flips.Load(); got != 0 {
		t.Fatalf("flips=%d want=0", got)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls=%d want=1", got)
	}

	// An already cancelled caller does not probe at all.
	if st := m.Check(ctx); !st.Online {
		t.Fatalf("status=%+v want online", st)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls after cancelled Check=%d want=1", got)
	}
}
