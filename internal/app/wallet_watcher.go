package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
	"github.com/transfa/ledger-service/pkg/walletclient"
)

// WalletHistory lists the privacy wallet's transactions, newest first.
type WalletHistory interface {
	TransactionHistory(ctx context.Context, chain string) ([]walletclient.Transaction, error)
}

// AdvanceCursor splits a newest-first history into the entries not covered
// by prev and the cursor that covers all of it. It has no side effects.
//
// The newest transaction id seen last time anchors the split. Without an
// anchor the history length is compared against the count seen. A history
// that shrank below that count cannot be reconciled and yields nothing new.
func AdvanceCursor(prev domain.WalletCursor, history []walletclient.Transaction) (domain.WalletCursor, []walletclient.Transaction) {
	next := domain.WalletCursor{Seen: len(history)}
	if len(history) > 0 {
		next.NewestTxID = history[0].TxID
	}

	if prev.NewestTxID != "" {
		for i, tx := range history {
			if tx.TxID == prev.NewestTxID {
				return next, history[:i:i]
			}
		}
	}
	if len(history) < prev.Seen {
		return next, nil
	}
	fresh := len(history) - prev.Seen
	return next, history[:fresh:fresh]
}

// WalletWatcher turns incoming wallet transactions into withdrawals. The
// transaction memo carries the payment-API handle to pay.
type WalletWatcher struct {
	svc     *Service
	wallet  WalletHistory
	cursors store.CursorStore
	chain   string
	logger  *slog.Logger
}

func NewWalletWatcher(svc *Service, wallet WalletHistory, cursors store.CursorStore, chain string, logger *slog.Logger) *WalletWatcher {
	return &WalletWatcher{svc: svc, wallet: wallet, cursors: cursors, chain: chain, logger: logger}
}

// Poll records withdrawals for transactions that arrived since the saved
// cursor and returns how many it created. The cursor is saved only once every
// new transaction has been handled.
func (w *WalletWatcher) Poll(ctx context.Context) (int, error) {
	prev, err := w.cursors.Load(ctx, w.chain)
	if err != nil {
		return 0, err
	}
	history, err := w.wallet.TransactionHistory(ctx, w.chain)
	if err != nil {
		return 0, err
	}

	next, fresh := AdvanceCursor(prev, history)
	if len(fresh) > 0 {
		w.logger.Info("new wallet transactions detected", "chain", w.chain, "count", len(fresh))
	}

	created := 0
	for i := len(fresh) - 1; i >= 0; i-- {
		ok, err := w.record(ctx, fresh[i])
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}

	if next != prev {
		if err := w.cursors.Save(ctx, w.chain, next); err != nil {
			return created, err
		}
	}
	return created, nil
}

func (w *WalletWatcher) record(ctx context.Context, tx walletclient.Transaction) (bool, error) {
	if tx.Direction != "" && tx.Direction != walletclient.DirectionIncoming {
		return false, nil
	}
	if tx.TxID == "" {
		w.logger.Warn("skipping wallet transaction without id", "chain", w.chain)
		return false, nil
	}
	handle := strings.TrimSpace(tx.Memo)
	if handle == "" {
		w.logger.Warn("skipping wallet transaction without recipient memo", "external_transfer_ref", tx.TxID)
		return false, nil
	}
	if err := domain.ValidateAmount(tx.Amount); err != nil {
		w.logger.Warn("skipping wallet transaction with unusable amount", "external_transfer_ref", tx.TxID, "amount", tx.Amount.String())
		return false, nil
	}

	_, err := w.svc.CreateTransfer(ctx, NewTransfer{
		Kind:                domain.KindWithdrawal,
		CounterpartyAddress: tx.From,
		ExternalTransferRef: tx.TxID,
		ExternalUserRef:     handle,
		Amount:              tx.Amount,
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, store.ErrDuplicateExternalRef):
		return false, nil
	case errors.Is(err, ErrInvalidRequest):
		w.logger.Warn("skipping invalid wallet transaction", "external_transfer_ref", tx.TxID, "error", err)
		return false, nil
	default:
		return false, err
	}
}
