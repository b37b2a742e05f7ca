package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleConfig holds the cron expressions for the scheduled jobs. An
// empty expression leaves that job unscheduled.
type ScheduleConfig struct {
	DailyIndex     string
	RetryFailed    string
	CoverageResync string
}

// Scheduler triggers orchestrator jobs on cron schedules.
type Scheduler struct {
	cron   *cron.Cron
	orch   *Orchestrator
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler registers the orchestrator jobs. Schedules are evaluated in UTC.
func NewScheduler(orch *Orchestrator, cfg ScheduleConfig, logger *slog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		orch:   orch,
		logger: logger.With("component", "scheduler"),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	jobs := []struct {
		name string
		spec string
		run  func(context.Context) (*JobSummary, error)
	}{
		{"daily-index", cfg.DailyIndex, orch.RunDaily},
		{"retry-failed", cfg.RetryFailed, orch.RetryFailed},
		{"coverage-resync", cfg.CoverageResync, orch.ResyncCoverage},
	}
	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		if _, err := s.cron.AddFunc(job.spec, s.wrap(job.name, job.run)); err != nil {
			return nil, fmt.Errorf("invalid schedule for %s: %w", job.name, err)
		}
		s.logger.Info("job scheduled", "job", job.name, "schedule", job.spec)
	}
	return s, nil
}

func (s *Scheduler) wrap(name string, run func(context.Context) (*JobSummary, error)) func() {
	return func() {
		if _, err := run(s.ctx); err != nil {
			if errors.Is(err, ErrJobRunning) {
				return
			}
			s.logger.Error("scheduled job failed", "job", name, "error", err)
		}
	}
}

// Start begins running scheduled jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Entries returns the number of registered jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Stop prevents new runs and waits for running jobs. If ctx ends first the
// running jobs are cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}
