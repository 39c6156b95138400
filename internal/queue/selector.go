/**
 * @description
 * Queue selection for the single-in-flight dispatch protocol. At most one
 * transfer per kind may be Submitted; the next candidate is always the oldest
 * Requested transfer, with insertion order breaking timestamp ties.
 */

package queue

import (
	"context"
	"fmt"
	"sort"

	"github.com/transfa/ledger-service/internal/domain"
)

// Select applies the selection rule to transfers listed in insertion order.
// It returns nil when any transfer is in flight or nothing is requested.
func Select(queued []domain.Transfer) *domain.Transfer {
	ordered := make([]domain.Transfer, len(queued))
	copy(ordered, queued)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp < ordered[j].Timestamp
	})

	for _, t := range ordered {
		if t.State == domain.StateSubmitted {
			return nil
		}
	}
	for _, t := range ordered {
		if t.State == domain.StateRequested {
			selected := t
			return &selected
		}
	}
	return nil
}

// Source is the slice of the ledger the selector reads and claims from.
type Source interface {
	QueryQueued(ctx context.Context, kind domain.Kind) ([]domain.Transfer, error)
	ClaimNext(ctx context.Context, kind domain.Kind) (*domain.Transfer, error)
}

// Selector picks the next transfer to dispatch for a kind.
type Selector struct {
	source Source
}

func NewSelector(source Source) *Selector {
	return &Selector{source: source}
}

// Queued re-reads the queue and reports what the rule would pick. The answer
// can be stale by the time the caller acts on it; workers use Claim.
func (s *Selector) Queued(ctx context.Context, kind domain.Kind) ([]domain.Transfer, *domain.Transfer, error) {
	queued, err := s.source.QueryQueued(ctx, kind)
	if err != nil {
		return nil, nil, fmt.Errorf("query queued %s transfers: %w", kind.Slug(), err)
	}
	return queued, Select(queued), nil
}

// Next is Queued without the listing.
func (s *Selector) Next(ctx context.Context, kind domain.Kind) (*domain.Transfer, error) {
	_, next, err := s.Queued(ctx, kind)
	return next, err
}

// Claim atomically moves the next candidate to Submitted and returns it.
func (s *Selector) Claim(ctx context.Context, kind domain.Kind) (*domain.Transfer, error) {
	claimed, err := s.source.ClaimNext(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("claim next %s transfer: %w", kind.Slug(), err)
	}
	return claimed, nil
}
