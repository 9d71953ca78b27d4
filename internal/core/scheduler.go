package core

// scheduler.go runs periodic maintenance for the in-memory stores.
//
// Entries normally leave the stores through their expiry timers. The sweep
// catches anything a timer missed and stores without timers, and logs store
// sizes so leaks are visible. It runs on a cron schedule and stops with
// StopSweeper or when the context passed to StartSweeper ends.

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the sweep every five minutes.
const DefaultSweepSchedule = "@every 5m"

type sweeper struct {
	cron *cron.Cron
	stop context.CancelFunc
}

// StartSweeper schedules Sweep according to a cron spec (standard 5-field
// syntax or descriptors such as "@every 1m"). Calling it again replaces the
// previous schedule.
func (s *Service) StartSweeper(ctx context.Context, spec string) error {
	if spec == "" {
		spec = DefaultSweepSchedule
	}

	c := cron.New()
	if _, err := c.AddFunc(spec, s.runSweep); err != nil {
		return fmt.Errorf("parse sweep schedule %q: %w", spec, err)
	}

	ctx, cancel := context.WithCancel(ctx)

	s.sweepMu.Lock()
	if s.sweeper != nil {
		s.sweeper.stop()
	}
	s.sweeper = &sweeper{cron: c, stop: cancel}
	s.sweepMu.Unlock()

	c.Start()
	slog.Info("store sweeper started", "schedule", spec)

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		slog.Info("store sweeper stopped")
	}()
	return nil
}

// StopSweeper stops the sweep schedule. It is a no-op if none is running.
func (s *Service) StopSweeper() {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	if s.sweeper != nil {
		s.sweeper.stop()
		s.sweeper = nil
	}
}

// runSweep performs one sweep over both stores.
func (s *Service) runSweep() {
	start := time.Now()
	sessions, jobs := s.Sweep()

	slog.Debug("store sweep completed",
		"sessions_removed", sessions,
		"jobs_removed", jobs,
		"sessions", s.sessions.Len(),
		"jobs", s.jobs.Len(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
