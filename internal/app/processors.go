package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/transfa/ledger-service/internal/domain"
)

// WalletSender is the part of the wallet client deposits are paid out through.
type WalletSender interface {
	Send(ctx context.Context, address string, amount decimal.Decimal, memo string) (string, error)
}

// PaymentSender is the part of the payment client withdrawals are paid out through.
type PaymentSender interface {
	ResolveAccountID(ctx context.Context, handle string) (string, error)
	SendTransfer(ctx context.Context, accountID string, amount decimal.Decimal, memo string) error
}

// DepositProcessor sends a deposit's amount to its privacy address.
type DepositProcessor struct {
	wallet WalletSender
	logger *slog.Logger
}

func NewDepositProcessor(wallet WalletSender, logger *slog.Logger) *DepositProcessor {
	return &DepositProcessor{wallet: wallet, logger: logger}
}

func (p *DepositProcessor) Process(ctx context.Context, t domain.Transfer) error {
	if t.CounterpartyAddress == "" {
		return fmt.Errorf("%w: deposit %s has no destination address", ErrRejected, t.ID)
	}
	if !t.Amount.IsPositive() {
		return fmt.Errorf("%w: deposit %s has nothing to send", ErrRejected, t.ID)
	}

	txID, err := p.wallet.Send(ctx, t.CounterpartyAddress, t.Amount, t.ID)
	if err != nil {
		return err
	}
	p.logger.Info("deposit sent", "transfer_id", t.ID, "address", t.CounterpartyAddress, "amount", t.Amount.String(), "tx_id", txID)
	return nil
}

// WithdrawalProcessor pays a withdrawal's amount to the user handle it names.
type WithdrawalProcessor struct {
	payments PaymentSender
	logger   *slog.Logger
}

func NewWithdrawalProcessor(payments PaymentSender, logger *slog.Logger) *WithdrawalProcessor {
	return &WithdrawalProcessor{payments: payments, logger: logger}
}

func (p *WithdrawalProcessor) Process(ctx context.Context, t domain.Transfer) error {
	if t.ExternalUserRef == "" {
		return fmt.Errorf("%w: withdrawal %s names no recipient", ErrRejected, t.ID)
	}
	if !t.Amount.IsPositive() {
		return fmt.Errorf("%w: withdrawal %s has nothing to send", ErrRejected, t.ID)
	}

	accountID, err := p.payments.ResolveAccountID(ctx, t.ExternalUserRef)
	if err != nil {
		return err
	}
	if err := p.payments.SendTransfer(ctx, accountID, t.Amount, t.ID); err != nil {
		return err
	}
	p.logger.Info("withdrawal sent", "transfer_id", t.ID, "handle", t.ExternalUserRef, "account_id", accountID, "amount", t.Amount.String())
	return nil
}
