/**
 * @description
 * The ledger service is the single entry point for recording transfers and
 * moving them through their state machine. Every mutation goes through the
 * repository and is followed by a best-effort state event on the exchange.
 *
 * @notes
 * - Timestamps come from a monotonic millisecond clock. A timestamp is taken
 *   and inserted under one lock, so dispatch order matches insertion order
 *   within a process.
 * - Event publishing never fails a ledger operation.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/queue"
	"github.com/transfa/ledger-service/internal/store"
)

var ErrInvalidRequest = errors.New("invalid transfer request")

// EventPublisher is satisfied by rabbitmq.Publisher.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// NewTransfer describes a transfer to record.
type NewTransfer struct {
	Kind                domain.Kind
	CounterpartyAddress string
	ExternalTransferRef string
	ExternalUserRef     string
	Amount              decimal.Decimal
}

// Service records transfers and advances their state.
type Service struct {
	repo      store.Repository
	selector  *queue.Selector
	ids       *domain.IDGenerator
	publisher EventPublisher
	exchange  string
	logger    *slog.Logger

	// clock is held from taking a timestamp until its row is inserted.
	clock  sync.Mutex
	lastTS int64
	now    func() time.Time
}

// NewService creates a new ledger service.
func NewService(repo store.Repository, ids *domain.IDGenerator, publisher EventPublisher, exchange string, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		selector:  queue.NewSelector(repo),
		ids:       ids,
		publisher: publisher,
		exchange:  exchange,
		logger:    logger,
		now:       time.Now,
	}
}

// RoutingKey is the topic a state event for kind and state is published on.
func RoutingKey(kind domain.Kind, state domain.State) string {
	return fmt.Sprintf("ledger.transfer.%s.%s", kind.Slug(), strings.ToLower(string(state)))
}

// RequestRoutingKey is the topic other services publish transfer requests on.
// It never matches a RoutingKey.
func RequestRoutingKey(kind domain.Kind) string {
	return fmt.Sprintf("ledger.request.%s", kind.Slug())
}

// nextTimestampLocked must be called with s.clock held.
func (s *Service) nextTimestampLocked() int64 {
	ts := s.now().UnixMilli()
	if ts < s.lastTS {
		ts = s.lastTS
	}
	s.lastTS = ts
	return ts
}

func normalizeNewTransfer(in NewTransfer) (NewTransfer, error) {
	kind, err := domain.ParseKind(string(in.Kind))
	if err != nil {
		return in, err
	}
	in.Kind = kind
	in.CounterpartyAddress = strings.TrimSpace(in.CounterpartyAddress)
	in.ExternalTransferRef = strings.TrimSpace(in.ExternalTransferRef)
	in.ExternalUserRef = strings.TrimSpace(in.ExternalUserRef)
	if err := domain.ValidateAmount(in.Amount); err != nil {
		return in, err
	}
	switch in.Kind {
	case domain.KindDeposit:
		if in.CounterpartyAddress == "" {
			return in, fmt.Errorf("%w: deposit needs a counterparty address", ErrInvalidRequest)
		}
	case domain.KindWithdrawal:
		if in.ExternalUserRef == "" {
			return in, fmt.Errorf("%w: withdrawal needs an external user reference", ErrInvalidRequest)
		}
	}
	if len(in.CounterpartyAddress) > 127 {
		return in, fmt.Errorf("%w: counterparty address longer than 127 characters", ErrInvalidRequest)
	}
	return in, nil
}

// CreateTransfer records a new transfer in its kind's initial state.
func (s *Service) CreateTransfer(ctx context.Context, in NewTransfer) (*domain.Transfer, error) {
	in, err := normalizeNewTransfer(in)
	if err != nil {
		return nil, err
	}

	id, err := s.ids.NewID()
	if err != nil {
		return nil, err
	}

	t := domain.Transfer{
		ID:                  id,
		Kind:                in.Kind,
		CounterpartyAddress: in.CounterpartyAddress,
		ExternalTransferRef: in.ExternalTransferRef,
		ExternalUserRef:     in.ExternalUserRef,
		Amount:              in.Amount,
		State:               in.Kind.InitialState(),
	}
	s.clock.Lock()
	t.Timestamp = s.nextTimestampLocked()
	err = s.repo.Insert(ctx, t)
	s.clock.Unlock()
	if err != nil {
		return nil, err
	}

	s.logger.Info("transfer recorded", "transfer_id", t.ID, "kind", t.Kind, "amount", t.Amount.String(), "external_transfer_ref", t.ExternalTransferRef)
	s.publish(ctx, t, "")
	return &t, nil
}

func (s *Service) GetTransfer(ctx context.Context, id string) (*domain.Transfer, error) {
	return s.repo.GetByID(ctx, id)
}

// GetQueuedDeposit reports the deposit the dispatcher would pick next.
func (s *Service) GetQueuedDeposit(ctx context.Context) (*domain.Transfer, error) {
	return s.selector.Next(ctx, domain.KindDeposit)
}

// QueuedTransfers lists the active queue of a kind and the next candidate.
func (s *Service) QueuedTransfers(ctx context.Context, kind domain.Kind) ([]domain.Transfer, *domain.Transfer, error) {
	return s.selector.Queued(ctx, kind)
}

// AdvanceState moves a transfer to target. Writing the current state is a no-op.
func (s *Service) AdvanceState(ctx context.Context, id string, target domain.State) (*domain.Transfer, error) {
	before, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	after, err := s.repo.UpdateState(ctx, id, target)
	if err != nil {
		return nil, err
	}
	if after.State != before.State {
		s.logger.Info("transfer state advanced", "transfer_id", id, "kind", after.Kind, "from", before.State, "state", after.State)
		s.publish(ctx, *after, before.State)
	}
	return after, nil
}

// Claim takes the next transfer of kind for processing, or returns nil.
func (s *Service) Claim(ctx context.Context, kind domain.Kind) (*domain.Transfer, error) {
	claimed, err := s.selector.Claim(ctx, kind)
	if err != nil || claimed == nil {
		return nil, err
	}
	s.logger.Info("transfer claimed", "transfer_id", claimed.ID, "kind", kind, "attempts", claimed.Attempts)
	s.publish(ctx, *claimed, domain.StateRequested)
	return claimed, nil
}

// Release hands a claimed transfer back to the queue.
func (s *Service) Release(ctx context.Context, id string) (*domain.Transfer, error) {
	released, err := s.repo.ReleaseClaim(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.Warn("transfer claim released", "transfer_id", id, "kind", released.Kind, "attempts", released.Attempts)
	s.publish(ctx, *released, domain.StateSubmitted)
	return released, nil
}

// ReleaseExpiredClaims sweeps stale claims of every kind and returns how many
// transfers went back to the queue.
func (s *Service) ReleaseExpiredClaims(ctx context.Context) (int, error) {
	total := 0
	var errs []error
	for _, kind := range domain.Kinds() {
		ids, err := s.repo.ReleaseExpiredClaims(ctx, kind)
		if err != nil {
			errs = append(errs, fmt.Errorf("release expired %s claims: %w", kind.Slug(), err))
			continue
		}
		total += len(ids)
		for _, id := range ids {
			s.logger.Warn("expired claim released", "transfer_id", id, "kind", kind)
			if t, err := s.repo.GetByID(ctx, id); err == nil {
				s.publish(ctx, *t, domain.StateSubmitted)
			}
		}
	}
	return total, errors.Join(errs...)
}

func (s *Service) publish(ctx context.Context, t domain.Transfer, previous domain.State) {
	if s.publisher == nil {
		return
	}
	event := domain.TransferStateEvent{
		MessageID:           uuid.NewString(),
		TransferID:          t.ID,
		Kind:                t.Kind,
		State:               t.State,
		PreviousState:       previous,
		Amount:              t.Amount.String(),
		CounterpartyAddress: t.CounterpartyAddress,
		ExternalTransferRef: t.ExternalTransferRef,
		ExternalUserRef:     t.ExternalUserRef,
		Attempts:            t.Attempts,
		OccurredAt:          s.now().UTC(),
	}
	if err := s.publisher.Publish(ctx, s.exchange, RoutingKey(t.Kind, t.State), event); err != nil {
		s.logger.Warn("failed to publish transfer state event", "transfer_id", t.ID, "state", t.State, "error", err)
	}
}
