package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/queue"
)

// MemoryRepository keeps encoded rows in process memory. Rows pass through the
// codec on every read and write, like the Postgres implementation.
type MemoryRepository struct {
	mu    sync.Mutex
	opts  Options
	rows  map[string]Row
	order []string
}

func NewMemoryRepository(opts Options) *MemoryRepository {
	return &MemoryRepository{
		opts: opts.withDefaults(),
		rows: make(map[string]Row),
	}
}

func (r *MemoryRepository) Initialize(ctx context.Context) error {
	return ctx.Err()
}

func (r *MemoryRepository) Insert(ctx context.Context, t domain.Transfer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rows[t.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, t.ID)
	}
	if t.ExternalTransferRef != "" {
		if _, err := r.findByExternalRefLocked(t.Kind, t.ExternalTransferRef); err == nil {
			return fmt.Errorf("%w: %s %s", ErrDuplicateExternalRef, t.Kind.Slug(), t.ExternalTransferRef)
		}
	}
	row := EncodeTransfer(t)
	if _, err := DecodeTransfer(row); err != nil {
		return err
	}
	if err := checkNew(t); err != nil {
		return err
	}

	r.rows[t.ID] = row
	r.order = append(r.order, t.ID)
	return nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Transfer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getLocked(id)
}

func (r *MemoryRepository) FindByExternalRef(ctx context.Context, kind domain.Kind, ref string) (*domain.Transfer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findByExternalRefLocked(kind, ref)
}

func (r *MemoryRepository) UpdateState(ctx context.Context, id string, target domain.State) (*domain.Transfer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.getLocked(id)
	if err != nil {
		return nil, err
	}
	noop, err := domain.CheckTransition(current.Kind, current.State, target)
	if err != nil {
		return nil, err
	}
	if noop {
		return current, nil
	}
	if target == domain.StateSubmitted {
		if r.inFlightLocked(current.Kind) {
			return nil, ErrInFlightConflict
		}
		current.ClaimDeadline = r.opts.deadline()
	} else {
		current.ClaimDeadline = 0
	}
	current.State = target
	r.rows[id] = EncodeTransfer(*current)
	return current, nil
}

func (r *MemoryRepository) QueryQueued(ctx context.Context, kind domain.Kind) ([]domain.Transfer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queuedLocked(kind)
}

func (r *MemoryRepository) ClaimNext(ctx context.Context, kind domain.Kind) (*domain.Transfer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	queued, err := r.queuedLocked(kind)
	if err != nil {
		return nil, err
	}
	next := queue.Select(queued)
	if next == nil {
		return nil, nil
	}
	next.State = domain.StateSubmitted
	next.ClaimDeadline = r.opts.deadline()
	r.rows[next.ID] = EncodeTransfer(*next)
	return next, nil
}

func (r *MemoryRepository) ReleaseClaim(ctx context.Context, id string) (*domain.Transfer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.getLocked(id)
	if err != nil {
		return nil, err
	}
	if current.State != domain.StateSubmitted {
		return nil, fmt.Errorf("%w: release from %s", domain.ErrIllegalTransition, current.State)
	}
	r.releaseLocked(current)
	return current, nil
}

func (r *MemoryRepository) ReleaseExpiredClaims(ctx context.Context, kind domain.Kind) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	queued, err := r.queuedLocked(kind)
	if err != nil {
		return nil, err
	}
	now := r.opts.Now().UnixMilli()
	var released []string
	for i := range queued {
		t := queued[i]
		if t.State == domain.StateSubmitted && t.ClaimDeadline <= now {
			r.releaseLocked(&t)
			released = append(released, t.ID)
		}
	}
	return released, nil
}

func (r *MemoryRepository) releaseLocked(t *domain.Transfer) {
	t.State = domain.StateRequested
	t.Attempts++
	t.ClaimDeadline = 0
	r.rows[t.ID] = EncodeTransfer(*t)
}

func (r *MemoryRepository) getLocked(id string) (*domain.Transfer, error) {
	row, ok := r.rows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	t, err := DecodeTransfer(row)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *MemoryRepository) findByExternalRefLocked(kind domain.Kind, ref string) (*domain.Transfer, error) {
	for _, id := range r.order {
		row := r.rows[id]
		if row[ColumnKind] != string(kind) || row[ColumnExternalTransferRef] != ref {
			continue
		}
		t, err := DecodeTransfer(row)
		if err != nil {
			return nil, err
		}
		return &t, nil
	}
	return nil, fmt.Errorf("%w: %s %s", ErrNotFound, kind.Slug(), ref)
}

func (r *MemoryRepository) inFlightLocked(kind domain.Kind) bool {
	for _, row := range r.rows {
		if row[ColumnKind] == string(kind) && row[ColumnState] == string(domain.StateSubmitted) {
			return true
		}
	}
	return false
}

// queuedLocked lists Requested and Submitted transfers of kind, oldest first.
func (r *MemoryRepository) queuedLocked(kind domain.Kind) ([]domain.Transfer, error) {
	var rows []Row
	for _, id := range r.order {
		row := r.rows[id]
		if row[ColumnKind] != string(kind) {
			continue
		}
		switch domain.State(row[ColumnState]) {
		case domain.StateRequested, domain.StateSubmitted:
			rows = append(rows, row)
		}
	}
	queued, err := DecodeTransfers(rows)
	if err != nil {
		return nil, err
	}
	sortQueued(queued)
	return queued, nil
}
