package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transfa/ledger-service/internal/domain"
)

// testClock is a settable clock shared by a repository and its test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type repoFactory func(t *testing.T, opts Options) Repository

var idCounter atomic.Int64

func newTransfer(kind domain.Kind, timestamp int64, ref string) domain.Transfer {
	n := idCounter.Add(1)
	return domain.Transfer{
		ID:                  fmt.Sprintf("%064x", n),
		Kind:                kind,
		Timestamp:           timestamp,
		CounterpartyAddress: "0zkAddr" + ref,
		ExternalTransferRef: ref,
		ExternalUserRef:     "user-" + ref,
		Amount:              decimal.NewFromInt(5000),
		State:               domain.StateRequested,
	}
}

// runRepositoryContract exercises the behaviour every Repository must share.
func runRepositoryContract(t *testing.T, factory repoFactory) {
	ctx := context.Background()

	t.Run("insert then get returns the same transfer", func(t *testing.T) {
		repo := factory(t, Options{})
		d := newTransfer(domain.KindDeposit, 100, "get-1")
		require.NoError(t, repo.Insert(ctx, d))

		got, err := repo.GetByID(ctx, d.ID)
		require.NoError(t, err)
		assert.True(t, d.Equal(*got), "got %+v", got)
		assert.Equal(t, domain.StateRequested, got.State)
	})

	t.Run("duplicate id leaves the row unchanged", func(t *testing.T) {
		repo := factory(t, Options{})
		d := newTransfer(domain.KindDeposit, 100, "dup-1")
		require.NoError(t, repo.Insert(ctx, d))

		clash := d
		clash.ExternalTransferRef = "dup-2"
		clash.Amount = decimal.NewFromInt(1)
		err := repo.Insert(ctx, clash)
		require.ErrorIs(t, err, ErrDuplicateID)

		got, err := repo.GetByID(ctx, d.ID)
		require.NoError(t, err)
		assert.True(t, d.Equal(*got))
	})

	t.Run("duplicate external reference is rejected per kind", func(t *testing.T) {
		repo := factory(t, Options{})
		require.NoError(t, repo.Insert(ctx, newTransfer(domain.KindDeposit, 100, "ext-1")))

		err := repo.Insert(ctx, newTransfer(domain.KindDeposit, 200, "ext-1"))
		require.ErrorIs(t, err, ErrDuplicateExternalRef)

		require.NoError(t, repo.Insert(ctx, newTransfer(domain.KindWithdrawal, 200, "ext-1")))

		found, err := repo.FindByExternalRef(ctx, domain.KindWithdrawal, "ext-1")
		require.NoError(t, err)
		assert.Equal(t, domain.KindWithdrawal, found.Kind)

		_, err = repo.FindByExternalRef(ctx, domain.KindDeposit, "ext-missing")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("invalid transfers never reach storage", func(t *testing.T) {
		repo := factory(t, Options{})
		bad := newTransfer(domain.KindDeposit, 100, "neg-1")
		bad.Amount = decimal.NewFromInt(-1)
		require.ErrorIs(t, repo.Insert(ctx, bad), ErrMalformedNumericField)

		bad = newTransfer(domain.KindDeposit, 100, "state-1")
		bad.State = "Bogus"
		require.ErrorIs(t, repo.Insert(ctx, bad), domain.ErrInvalidStateValue)

		_, err := repo.GetByID(ctx, bad.ID)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("transfers are recorded only in their initial state", func(t *testing.T) {
		repo := factory(t, Options{})

		submitted := newTransfer(domain.KindDeposit, 100, "initial-1")
		submitted.State = domain.StateSubmitted
		confirmed := newTransfer(domain.KindWithdrawal, 100, "initial-2")
		confirmed.State = domain.StateConfirmed
		retried := newTransfer(domain.KindDeposit, 100, "initial-3")
		retried.Attempts = 2
		claimed := newTransfer(domain.KindDeposit, 100, "initial-4")
		claimed.ClaimDeadline = 1_700_000_060_000

		for _, tr := range []domain.Transfer{submitted, confirmed, retried, claimed} {
			require.ErrorIs(t, repo.Insert(ctx, tr), domain.ErrIllegalTransition, "inserted %s", tr.ExternalTransferRef)
			_, err := repo.GetByID(ctx, tr.ID)
			require.ErrorIs(t, err, ErrNotFound)
		}

		ids, err := repo.ReleaseExpiredClaims(ctx, domain.KindDeposit)
		require.NoError(t, err)
		assert.Empty(t, ids)
		queued, err := repo.QueryQueued(ctx, domain.KindDeposit)
		require.NoError(t, err)
		assert.Empty(t, queued)
	})

	t.Run("get unknown id", func(t *testing.T) {
		repo := factory(t, Options{})
		_, err := repo.GetByID(ctx, "missing")
		require.ErrorIs(t, err, ErrNotFound)

		_, err = repo.UpdateState(ctx, "missing", domain.StateSubmitted)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("skipping submitted is illegal", func(t *testing.T) {
		repo := factory(t, Options{})
		d := newTransfer(domain.KindDeposit, 100, "skip-1")
		require.NoError(t, repo.Insert(ctx, d))

		_, err := repo.UpdateState(ctx, d.ID, domain.StateConfirmed)
		require.ErrorIs(t, err, domain.ErrIllegalTransition)

		got, err := repo.GetByID(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StateRequested, got.State)
	})

	t.Run("same state write is a no-op and terminal states are final", func(t *testing.T) {
		repo := factory(t, Options{})
		w := newTransfer(domain.KindWithdrawal, 100, "noop-1")
		require.NoError(t, repo.Insert(ctx, w))

		got, err := repo.UpdateState(ctx, w.ID, domain.StateRequested)
		require.NoError(t, err)
		assert.True(t, w.Equal(*got))

		_, err = repo.UpdateState(ctx, w.ID, domain.StateSubmitted)
		require.NoError(t, err)
		got, err = repo.UpdateState(ctx, w.ID, domain.StateFailed)
		require.NoError(t, err)
		assert.Equal(t, domain.StateFailed, got.State)
		assert.Zero(t, got.ClaimDeadline)

		_, err = repo.UpdateState(ctx, w.ID, domain.StateConfirmed)
		require.ErrorIs(t, err, domain.ErrIllegalTransition)
		_, err = repo.UpdateState(ctx, w.ID, domain.StateFailed)
		require.NoError(t, err)
	})

	t.Run("selection prefers the earlier timestamp", func(t *testing.T) {
		repo := factory(t, Options{})
		d1 := newTransfer(domain.KindDeposit, 100, "order-1")
		d2 := newTransfer(domain.KindDeposit, 50, "order-2")
		require.NoError(t, repo.Insert(ctx, d1))
		require.NoError(t, repo.Insert(ctx, d2))

		queued, err := repo.QueryQueued(ctx, domain.KindDeposit)
		require.NoError(t, err)
		require.Len(t, queued, 2)
		assert.Equal(t, d2.ID, queued[0].ID)

		claimed, err := repo.ClaimNext(ctx, domain.KindDeposit)
		require.NoError(t, err)
		require.NotNil(t, claimed)
		assert.Equal(t, d2.ID, claimed.ID)
		assert.Equal(t, domain.StateSubmitted, claimed.State)
		assert.NotZero(t, claimed.ClaimDeadline)
	})

	t.Run("equal timestamps fall back to insertion order", func(t *testing.T) {
		repo := factory(t, Options{})
		first := newTransfer(domain.KindDeposit, 100, "tie-1")
		second := newTransfer(domain.KindDeposit, 100, "tie-2")
		require.NoError(t, repo.Insert(ctx, first))
		require.NoError(t, repo.Insert(ctx, second))

		claimed, err := repo.ClaimNext(ctx, domain.KindDeposit)
		require.NoError(t, err)
		require.NotNil(t, claimed)
		assert.Equal(t, first.ID, claimed.ID)
	})

	t.Run("one transfer in flight per kind", func(t *testing.T) {
		repo := factory(t, Options{})
		d1 := newTransfer(domain.KindDeposit, 100, "flight-1")
		d2 := newTransfer(domain.KindDeposit, 200, "flight-2")
		w1 := newTransfer(domain.KindWithdrawal, 300, "flight-3")
		for _, tr := range []domain.Transfer{d1, d2, w1} {
			require.NoError(t, repo.Insert(ctx, tr))
		}

		_, err := repo.UpdateState(ctx, d2.ID, domain.StateSubmitted)
		require.NoError(t, err)

		claimed, err := repo.ClaimNext(ctx, domain.KindDeposit)
		require.NoError(t, err)
		assert.Nil(t, claimed)

		_, err = repo.UpdateState(ctx, d1.ID, domain.StateSubmitted)
		require.ErrorIs(t, err, ErrInFlightConflict)

		claimed, err = repo.ClaimNext(ctx, domain.KindWithdrawal)
		require.NoError(t, err)
		require.NotNil(t, claimed)
		assert.Equal(t, w1.ID, claimed.ID)
	})

	t.Run("deposit lifecycle scenario", func(t *testing.T) {
		repo := factory(t, Options{})
		d := newTransfer(domain.KindDeposit, 100, "tx1")
		d.CounterpartyAddress = "0zkAddr1"
		d.ExternalUserRef = "userA"
		require.NoError(t, repo.Insert(ctx, d))

		claimed, err := repo.ClaimNext(ctx, domain.KindDeposit)
		require.NoError(t, err)
		require.NotNil(t, claimed)
		assert.Equal(t, d.ID, claimed.ID)

		again, err := repo.ClaimNext(ctx, domain.KindDeposit)
		require.NoError(t, err)
		assert.Nil(t, again)

		_, err = repo.UpdateState(ctx, d.ID, domain.StateConfirmed)
		require.NoError(t, err)

		after, err := repo.ClaimNext(ctx, domain.KindDeposit)
		require.NoError(t, err)
		assert.Nil(t, after)

		final, err := repo.GetByID(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StateConfirmed, final.State)
		assert.Zero(t, final.ClaimDeadline)
	})

	t.Run("concurrent claims are exclusive", func(t *testing.T) {
		repo := factory(t, Options{})
		for i := 0; i < 5; i++ {
			require.NoError(t, repo.Insert(ctx, newTransfer(domain.KindDeposit, int64(100+i), fmt.Sprintf("race-%d", i))))
		}

		const workers = 16
		var wg sync.WaitGroup
		var winners atomic.Int32
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				claimed, err := repo.ClaimNext(ctx, domain.KindDeposit)
				if err != nil {
					errs <- err
					return
				}
				if claimed != nil {
					winners.Add(1)
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
		assert.Equal(t, int32(1), winners.Load())
	})

	t.Run("manual submit racing a claim never errors", func(t *testing.T) {
		repo := factory(t, Options{})
		for i := 0; i < 10; i++ {
			d := newTransfer(domain.KindDeposit, int64(100+i), fmt.Sprintf("manual-%d", i))
			require.NoError(t, repo.Insert(ctx, d))

			var wg sync.WaitGroup
			var updateErr, claimErr error
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, updateErr = repo.UpdateState(ctx, d.ID, domain.StateSubmitted)
			}()
			go func() {
				defer wg.Done()
				_, claimErr = repo.ClaimNext(ctx, domain.KindDeposit)
			}()
			wg.Wait()
			require.NoError(t, updateErr)
			require.NoError(t, claimErr)

			got, err := repo.GetByID(ctx, d.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.StateSubmitted, got.State)

			_, err = repo.UpdateState(ctx, d.ID, domain.StateConfirmed)
			require.NoError(t, err)
		}
	})

	t.Run("release claim returns the transfer to the queue", func(t *testing.T) {
		repo := factory(t, Options{})
		d := newTransfer(domain.KindDeposit, 100, "release-1")
		require.NoError(t, repo.Insert(ctx, d))

		_, err := repo.ReleaseClaim(ctx, d.ID)
		require.ErrorIs(t, err, domain.ErrIllegalTransition)

		_, err = repo.ClaimNext(ctx, domain.KindDeposit)
		require.NoError(t, err)
		released, err := repo.ReleaseClaim(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StateRequested, released.State)
		assert.Equal(t, 1, released.Attempts)
		assert.Zero(t, released.ClaimDeadline)

		claimed, err := repo.ClaimNext(ctx, domain.KindDeposit)
		require.NoError(t, err)
		require.NotNil(t, claimed)
		assert.Equal(t, 1, claimed.Attempts)
	})

	t.Run("expired claims are swept", func(t *testing.T) {
		clock := newTestClock()
		repo := factory(t, Options{ClaimTTL: time.Minute, Now: clock.Now})
		d := newTransfer(domain.KindDeposit, 100, "sweep-1")
		require.NoError(t, repo.Insert(ctx, d))

		_, err := repo.ClaimNext(ctx, domain.KindDeposit)
		require.NoError(t, err)

		ids, err := repo.ReleaseExpiredClaims(ctx, domain.KindDeposit)
		require.NoError(t, err)
		assert.Empty(t, ids)

		clock.Advance(2 * time.Minute)
		ids, err = repo.ReleaseExpiredClaims(ctx, domain.KindDeposit)
		require.NoError(t, err)
		assert.Equal(t, []string{d.ID}, ids)

		got, err := repo.GetByID(ctx, d.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StateRequested, got.State)
		assert.Equal(t, 1, got.Attempts)
	})
}
