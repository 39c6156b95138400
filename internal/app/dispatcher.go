package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/transfa/ledger-service/internal/domain"
)

// ErrRejected marks a transfer the external processor will never accept.
var ErrRejected = errors.New("transfer rejected by external processor")

// stateWriteTimeout bounds the final state write after external work, which
// runs even if the job context has already expired.
const stateWriteTimeout = 10 * time.Second

// Processor performs the external leg of a claimed transfer.
type Processor interface {
	Process(ctx context.Context, t domain.Transfer) error
}

// Outcome is what a single dispatch did. OutcomeLost means the claim expired
// during processing and the transfer was left to whoever holds it now.
type Outcome string

const (
	OutcomeIdle      Outcome = "idle"
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeFailed    Outcome = "failed"
	OutcomeReleased  Outcome = "released"
	OutcomeLost      Outcome = "lost"
)

// Dispatcher claims queued transfers and runs them through their kind's processor.
type Dispatcher struct {
	svc         *Service
	processors  map[domain.Kind]Processor
	maxAttempts int
	logger      *slog.Logger
}

func NewDispatcher(svc *Service, processors map[domain.Kind]Processor, maxAttempts int, logger *slog.Logger) *Dispatcher {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Dispatcher{
		svc:         svc,
		processors:  processors,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// DispatchNext claims at most one transfer of kind and settles it.
func (d *Dispatcher) DispatchNext(ctx context.Context, kind domain.Kind) (Outcome, error) {
	processor, ok := d.processors[kind]
	if !ok {
		return OutcomeIdle, fmt.Errorf("no processor registered for %s transfers", kind.Slug())
	}

	claimed, err := d.svc.Claim(ctx, kind)
	if err != nil {
		return OutcomeIdle, err
	}
	if claimed == nil {
		return OutcomeIdle, nil
	}

	procErr := processor.Process(ctx, *claimed)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stateWriteTimeout)
	defer cancel()

	held, err := d.stillHeld(writeCtx, claimed)
	if err != nil {
		return OutcomeLost, fmt.Errorf("recheck claim on transfer %s: %w", claimed.ID, err)
	}
	if !held {
		d.logger.Warn("claim expired during processing; leaving transfer alone", "transfer_id", claimed.ID, "kind", kind, "processing_error", procErr)
		return OutcomeLost, nil
	}

	switch {
	case procErr == nil:
		if _, err := d.svc.AdvanceState(writeCtx, claimed.ID, domain.StateConfirmed); err != nil {
			return OutcomeConfirmed, fmt.Errorf("confirm transfer %s: %w", claimed.ID, err)
		}
		return OutcomeConfirmed, nil

	case isPermanent(procErr):
		d.logger.Error("transfer rejected", "transfer_id", claimed.ID, "kind", kind, "error", procErr)
		return OutcomeFailed, d.fail(writeCtx, claimed.ID)

	case claimed.Attempts+1 >= d.maxAttempts:
		d.logger.Error("transfer attempt budget exhausted", "transfer_id", claimed.ID, "kind", kind, "attempts", claimed.Attempts+1, "error", procErr)
		return OutcomeFailed, d.fail(writeCtx, claimed.ID)

	default:
		d.logger.Warn("transfer processing failed; releasing claim", "transfer_id", claimed.ID, "kind", kind, "attempts", claimed.Attempts+1, "error", procErr)
		if _, err := d.svc.Release(writeCtx, claimed.ID); err != nil {
			return OutcomeReleased, fmt.Errorf("release transfer %s: %w", claimed.ID, err)
		}
		return OutcomeReleased, nil
	}
}

// stillHeld reports whether claimed is still Submitted under the deadline set
// when it was claimed. A swept and reclaimed transfer carries a new deadline.
// The write that follows is not atomic with this check; ClaimTTL exceeding the
// job timeout keeps that window to the state write itself.
func (d *Dispatcher) stillHeld(ctx context.Context, claimed *domain.Transfer) (bool, error) {
	current, err := d.svc.GetTransfer(ctx, claimed.ID)
	if err != nil {
		return false, err
	}
	return current.State == domain.StateSubmitted && current.ClaimDeadline == claimed.ClaimDeadline, nil
}

func (d *Dispatcher) fail(ctx context.Context, id string) error {
	if _, err := d.svc.AdvanceState(ctx, id, domain.StateFailed); err != nil {
		return fmt.Errorf("fail transfer %s: %w", id, err)
	}
	return nil
}

// Drain dispatches transfers of kind one after another until the queue is
// empty, a transfer goes back to the queue or elsewhere, or limit is reached.
func (d *Dispatcher) Drain(ctx context.Context, kind domain.Kind, limit int) (int, error) {
	handled := 0
	for handled < limit {
		if err := ctx.Err(); err != nil {
			return handled, err
		}
		outcome, err := d.DispatchNext(ctx, kind)
		if outcome != OutcomeIdle {
			handled++
		}
		if err != nil {
			return handled, err
		}
		if outcome == OutcomeIdle || outcome == OutcomeReleased || outcome == OutcomeLost {
			break
		}
	}
	return handled, nil
}

type permanentError interface {
	Permanent() bool
}

func isPermanent(err error) bool {
	if errors.Is(err, ErrRejected) {
		return true
	}
	var p permanentError
	return errors.As(err, &p) && p.Permanent()
}
