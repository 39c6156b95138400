package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/transfa/ledger-service/internal/domain"
)

var (
	ErrNotFound              = errors.New("transfer not found")
	ErrDuplicateID           = errors.New("transfer id already exists")
	ErrDuplicateExternalRef  = errors.New("transfer with this external reference already exists")
	ErrInFlightConflict      = errors.New("another transfer of this kind is already in flight")
	ErrMissingField          = errors.New("missing field")
	ErrMalformedNumericField = errors.New("malformed numeric field")
)

// DefaultClaimTTL bounds how long a claimed transfer may stay Submitted
// before the sweep hands it back to the queue.
const DefaultClaimTTL = 5 * time.Minute

// Repository is the durable ledger of transfers.
type Repository interface {
	Initialize(ctx context.Context) error
	Insert(ctx context.Context, t domain.Transfer) error
	GetByID(ctx context.Context, id string) (*domain.Transfer, error)
	FindByExternalRef(ctx context.Context, kind domain.Kind, ref string) (*domain.Transfer, error)
	UpdateState(ctx context.Context, id string, target domain.State) (*domain.Transfer, error)
	QueryQueued(ctx context.Context, kind domain.Kind) ([]domain.Transfer, error)
	ClaimNext(ctx context.Context, kind domain.Kind) (*domain.Transfer, error)
	ReleaseClaim(ctx context.Context, id string) (*domain.Transfer, error)
	ReleaseExpiredClaims(ctx context.Context, kind domain.Kind) ([]string, error)
}

// Options tunes claim handling for both repository implementations.
type Options struct {
	ClaimTTL time.Duration
	Now      func() time.Time
}

func (o Options) withDefaults() Options {
	if o.ClaimTTL <= 0 {
		o.ClaimTTL = DefaultClaimTTL
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

func (o Options) deadline() int64 {
	return o.Now().Add(o.ClaimTTL).UnixMilli()
}

// checkNew rejects a transfer that is not in its kind's initial state or that
// already carries claim bookkeeping.
func checkNew(t domain.Transfer) error {
	if t.State != t.Kind.InitialState() {
		return fmt.Errorf("%w: new %s transfer recorded as %s", domain.ErrIllegalTransition, t.Kind.Slug(), t.State)
	}
	if t.Attempts != 0 || t.ClaimDeadline != 0 {
		return fmt.Errorf("%w: new %s transfer carries claim state", domain.ErrIllegalTransition, t.Kind.Slug())
	}
	return nil
}

// sortQueued orders by timestamp; the input's insertion order breaks ties.
func sortQueued(queued []domain.Transfer) {
	sort.SliceStable(queued, func(i, j int) bool {
		return queued[i].Timestamp < queued[j].Timestamp
	})
}
