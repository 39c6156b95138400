/**
 * @description
 * Cron scheduler setup for scheduled jobs.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/transfa/ledger-service/internal/config"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger
	config config.Config
}

// NewScheduler creates a new scheduler instance. A run still in progress
// makes the next tick of the same job a no-op.
func NewScheduler(jobs *Jobs, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
		config: cfg,
	}
}

type scheduledJob struct {
	name     string
	schedule string
	run      func()
}

func (s *Scheduler) scheduledJobs() []scheduledJob {
	return []scheduledJob{
		{"deposit dispatch", s.config.DispatchSchedule, s.jobs.DispatchDeposits},
		{"withdrawal dispatch", s.config.DispatchSchedule, s.jobs.DispatchWithdrawals},
		{"claim sweep", s.config.ClaimSweepSchedule, s.jobs.ReleaseExpiredClaims},
		{"payment poll", s.config.PaymentPollSchedule, s.jobs.PollIncomingPayments},
		{"wallet poll", s.config.WalletPollSchedule, s.jobs.PollWalletHistory},
	}
}

// Start registers the jobs and starts the cron scheduler. It returns how
// many jobs were registered.
func (s *Scheduler) Start() int {
	registered := 0
	for _, job := range s.scheduledJobs() {
		if _, err := s.cron.AddFunc(job.schedule, job.run); err != nil {
			s.logger.Error("failed to schedule job", "job", job.name, "schedule", job.schedule, "error", err)
			continue
		}
		registered++
		s.logger.Info("scheduled job", "job", job.name, "schedule", job.schedule)
	}

	s.cron.Start()
	return registered
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
