// Package schedule owns the agent's periodic tasks. Every task is registered
// through a Handle that its owner must Stop on teardown; Shutdown stops the rest.
package schedule

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// ErrInterval is returned for a non-positive interval.
var ErrInterval = errors.New("schedule: interval must be > 0")

// Scheduler wraps a gocron scheduler.
type Scheduler struct {
	s   gocron.Scheduler
	log *slog.Logger
}

// New builds a started scheduler. A nil clk uses real time.
func New(clk clockwork.Clock, log *slog.Logger) (*Scheduler, error) {
	if log == nil {
		log = slog.Default()
	}
	opts := []gocron.SchedulerOption{
		gocron.WithGlobalJobOptions(
			gocron.WithEventListeners(
				gocron.AfterJobRunsWithPanic(func(id uuid.UUID, name string, recovered any) {
					log.Error("schedule.job.panic", "job", name, "job_id", id.String(), "panic", recovered)
				}),
			),
		),
	}
	if clk != nil {
		opts = append(opts, gocron.WithClock(clk))
	}

	s, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, fmt.Errorf("schedule: new scheduler: %w", err)
	}
	s.Start()
	return &Scheduler{s: s, log: log}, nil
}

// Every runs fn each interval until the returned handle is stopped. Runs of the
// same task never overlap; a run still in progress skips the next slot.
func (s *Scheduler) Every(name string, interval time.Duration, fn func()) (*Handle, error) {
	if interval <= 0 {
		return nil, ErrInterval
	}
	j, err := s.s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(fn),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, fmt.Errorf("schedule: %s: %w", name, err)
	}
	s.log.Debug("schedule.job.add", "job", name, "interval", interval)
	return &Handle{s: s, id: j.ID(), name: name}, nil
}

// Jobs returns the number of registered tasks.
func (s *Scheduler) Jobs() int { return len(s.s.Jobs()) }

// Shutdown stops every task and waits for running ones to return.
func (s *Scheduler) Shutdown() error { return s.s.Shutdown() }

// Handle is the owned reference to one periodic task.
type Handle struct {
	s    *Scheduler
	id   uuid.UUID
	name string
	once sync.Once
}

// Name returns the task name.
func (h *Handle) Name() string { return h.name }

// Stop removes the task. It is idempotent.
func (h *Handle) Stop() {
	h.once.Do(func() {
		if err := h.s.s.RemoveJob(h.id); err != nil && !errors.Is(err, gocron.ErrJobNotFound) {
			h.s.log.Warn("schedule.job.remove.fail", "job", h.name, "err", err)
			return
		}
		h.s.log.Debug("schedule.job.remove", "job", h.name)
	})
}
