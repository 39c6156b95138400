package app

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
	"github.com/transfa/ledger-service/pkg/paymentclient"
)

// PaymentFeed lists transfers received by the bot account on the payment API.
type PaymentFeed interface {
	FetchIncomingTransfers(ctx context.Context, accountID string) ([]paymentclient.IncomingTransfer, error)
}

// PaymentIntake turns payments received by the bot account into deposits.
// The payment memo carries the privacy address the deposit is paid out to.
type PaymentIntake struct {
	svc       *Service
	feed      PaymentFeed
	accountID string
	logger    *slog.Logger
}

func NewPaymentIntake(svc *Service, feed PaymentFeed, accountID string, logger *slog.Logger) *PaymentIntake {
	return &PaymentIntake{svc: svc, feed: feed, accountID: accountID, logger: logger}
}

// Poll records every payment not seen before and returns how many deposits it created.
// Payments already on the ledger are recognised by their external reference.
func (p *PaymentIntake) Poll(ctx context.Context) (int, error) {
	incoming, err := p.feed.FetchIncomingTransfers(ctx, p.accountID)
	if err != nil {
		return 0, err
	}

	sort.SliceStable(incoming, func(i, j int) bool {
		return incoming[i].CreatedTime < incoming[j].CreatedTime
	})

	created := 0
	for _, payment := range incoming {
		if payment.ID == "" {
			p.logger.Warn("skipping payment without id", "from", payment.FromID)
			continue
		}
		address := strings.TrimSpace(payment.Memo)
		if address == "" {
			p.logger.Warn("skipping payment without destination memo", "external_transfer_ref", payment.ID, "from", payment.FromID)
			continue
		}
		if err := domain.ValidateAmount(payment.Amount); err != nil {
			p.logger.Warn("skipping payment with unusable amount", "external_transfer_ref", payment.ID, "amount", payment.Amount.String())
			continue
		}

		if _, err := p.svc.repo.FindByExternalRef(ctx, domain.KindDeposit, payment.ID); err == nil {
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			return created, err
		}

		_, err := p.svc.CreateTransfer(ctx, NewTransfer{
			Kind:                domain.KindDeposit,
			CounterpartyAddress: address,
			ExternalTransferRef: payment.ID,
			ExternalUserRef:     payment.FromID,
			Amount:              payment.Amount,
		})
		switch {
		case err == nil:
			created++
		case errors.Is(err, store.ErrDuplicateExternalRef):
		case errors.Is(err, ErrInvalidRequest):
			p.logger.Warn("skipping invalid payment", "external_transfer_ref", payment.ID, "error", err)
		default:
			return created, err
		}
	}
	return created, nil
}
