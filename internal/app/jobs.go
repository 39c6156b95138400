/**
 * @description
 * Scheduled job implementations for the ledger-service.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/transfa/ledger-service/internal/config"
	"github.com/transfa/ledger-service/internal/domain"
)

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	svc        *Service
	dispatcher *Dispatcher
	intake     *PaymentIntake
	watcher    *WalletWatcher
	logger     *slog.Logger
	config     config.Config
}

// NewJobs creates a new Jobs runner. intake and watcher may be nil when the
// matching collaborator is not configured.
func NewJobs(svc *Service, dispatcher *Dispatcher, intake *PaymentIntake, watcher *WalletWatcher, logger *slog.Logger, cfg config.Config) *Jobs {
	return &Jobs{
		svc:        svc,
		dispatcher: dispatcher,
		intake:     intake,
		watcher:    watcher,
		logger:     logger,
		config:     cfg,
	}
}

func (j *Jobs) jobContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), j.config.JobTimeout())
}

// DispatchDeposits pays out queued deposits.
func (j *Jobs) DispatchDeposits() {
	j.dispatch(domain.KindDeposit)
}

// DispatchWithdrawals pays out queued withdrawals.
func (j *Jobs) DispatchWithdrawals() {
	j.dispatch(domain.KindWithdrawal)
}

func (j *Jobs) dispatch(kind domain.Kind) {
	ctx, cancel := j.jobContext()
	defer cancel()

	handled, err := j.dispatcher.Drain(ctx, kind, j.config.DispatchBatchLimit)
	if err != nil {
		j.logger.Error("dispatch job failed", "kind", kind, "handled", handled, "error", err)
		return
	}
	if handled > 0 {
		j.logger.Info("dispatch job finished", "kind", kind, "handled", handled)
	}
}

// ReleaseExpiredClaims hands stale Submitted transfers back to the queue.
func (j *Jobs) ReleaseExpiredClaims() {
	ctx, cancel := j.jobContext()
	defer cancel()

	released, err := j.svc.ReleaseExpiredClaims(ctx)
	if err != nil {
		j.logger.Error("claim sweep failed", "released", released, "error", err)
		return
	}
	if released > 0 {
		j.logger.Warn("claim sweep released transfers", "released", released)
	}
}

// PollIncomingPayments records deposits for new payments to the bot account.
func (j *Jobs) PollIncomingPayments() {
	if j.intake == nil {
		return
	}
	ctx, cancel := j.jobContext()
	defer cancel()

	created, err := j.intake.Poll(ctx)
	if err != nil {
		j.logger.Error("payment poll failed", "created", created, "error", err)
		return
	}
	if created > 0 {
		j.logger.Info("payment poll recorded deposits", "created", created)
	}
}

// PollWalletHistory records withdrawals for new incoming wallet transactions.
func (j *Jobs) PollWalletHistory() {
	if j.watcher == nil {
		return
	}
	ctx, cancel := j.jobContext()
	defer cancel()

	created, err := j.watcher.Poll(ctx)
	if err != nil {
		j.logger.Error("wallet poll failed", "created", created, "error", err)
		return
	}
	if created > 0 {
		j.logger.Info("wallet poll recorded withdrawals", "created", created)
	}
}
