package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
)

type publishedEvent struct {
	exchange   string
	routingKey string
	event      domain.TransferStateEvent
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	event, _ := body.(domain.TransferStateEvent)
	p.events = append(p.events, publishedEvent{exchange: exchange, routingKey: routingKey, event: event})
	return nil
}

func (p *recordingPublisher) routingKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(p.events))
	for _, e := range p.events {
		keys = append(keys, e.routingKey)
	}
	return keys
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	svc       *Service
	repo      *store.MemoryRepository
	publisher *recordingPublisher
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: time.UnixMilli(1_700_000_000_000)}
	f.repo = store.NewMemoryRepository(store.Options{ClaimTTL: time.Minute, Now: f.clock})
	f.publisher = &recordingPublisher{}
	f.svc = NewService(f.repo, domain.NewIDGenerator(), f.publisher, "ledger.events", discardLogger())
	f.svc.now = f.clock
	return f
}

func (f *fixture) clock() time.Time { return f.now }

func (f *fixture) deposit(t *testing.T, address, ref string, amount int64) *domain.Transfer {
	t.Helper()
	created, err := f.svc.CreateTransfer(context.Background(), NewTransfer{
		Kind:                domain.KindDeposit,
		CounterpartyAddress: address,
		ExternalTransferRef: ref,
		ExternalUserRef:     "user-" + ref,
		Amount:              decimal.NewFromInt(amount),
	})
	if err != nil {
		t.Fatalf("CreateTransfer returned error: %v", err)
	}
	return created
}

func (f *fixture) withdrawal(t *testing.T, handle, ref string, amount int64) *domain.Transfer {
	t.Helper()
	created, err := f.svc.CreateTransfer(context.Background(), NewTransfer{
		Kind:                domain.KindWithdrawal,
		CounterpartyAddress: "0zkSource",
		ExternalTransferRef: ref,
		ExternalUserRef:     handle,
		Amount:              decimal.NewFromInt(amount),
	})
	if err != nil {
		t.Fatalf("CreateTransfer returned error: %v", err)
	}
	return created
}

func (f *fixture) state(t *testing.T, id string) domain.Transfer {
	t.Helper()
	got, err := f.repo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	return *got
}

type permanentStubError struct{}

func (permanentStubError) Error() string   { return "account closed" }
func (permanentStubError) Permanent() bool { return true }

var errTransient = errors.New("connection reset by peer")
