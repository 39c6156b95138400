package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/internal/store"
)

// TransferRequestConsumer records transfers requested by other services over
// the events exchange.
type TransferRequestConsumer struct {
	svc    *Service
	logger *slog.Logger
}

func NewTransferRequestConsumer(svc *Service, logger *slog.Logger) *TransferRequestConsumer {
	return &TransferRequestConsumer{svc: svc, logger: logger}
}

// Bindings maps each request routing key to its handler.
func (c *TransferRequestConsumer) Bindings() map[string]func([]byte) bool {
	bindings := make(map[string]func([]byte) bool, len(domain.Kinds()))
	for _, kind := range domain.Kinds() {
		kind := kind
		bindings[RequestRoutingKey(kind)] = func(body []byte) bool {
			return c.HandleMessage(kind, body)
		}
	}
	return bindings
}

// HandleMessage returns false only when the message should be redelivered.
func (c *TransferRequestConsumer) HandleMessage(kind domain.Kind, body []byte) bool {
	var event domain.TransferRequestEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.Warn("failed to unmarshal transfer request", "kind", kind, "error", err)
		return true
	}

	if event.Kind != "" {
		declared, err := domain.ParseKind(event.Kind)
		if err != nil || declared != kind {
			c.logger.Warn("transfer request kind does not match routing key", "kind", kind, "declared", event.Kind)
			return true
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.processEvent(ctx, kind, event); err != nil {
		c.logger.Error("transfer request processing error", "kind", kind, "external_transfer_ref", event.ExternalTransferRef, "error", err)
		return false
	}
	return true
}

func (c *TransferRequestConsumer) processEvent(ctx context.Context, kind domain.Kind, event domain.TransferRequestEvent) error {
	amount, err := domain.ParseAmount(event.Amount)
	if err != nil {
		c.logger.Warn("dropping transfer request with invalid amount", "kind", kind, "amount", event.Amount)
		return nil
	}

	t, err := c.svc.CreateTransfer(ctx, NewTransfer{
		Kind:                kind,
		CounterpartyAddress: event.CounterpartyAddress,
		ExternalTransferRef: strings.TrimSpace(event.ExternalTransferRef),
		ExternalUserRef:     event.ExternalUserRef,
		Amount:              amount,
	})
	switch {
	case err == nil:
		c.logger.Info("transfer request recorded", "transfer_id", t.ID, "kind", kind)
		return nil
	case errors.Is(err, store.ErrDuplicateExternalRef):
		c.logger.Info("transfer request already recorded; acknowledging", "kind", kind, "external_transfer_ref", event.ExternalTransferRef)
		return nil
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, domain.ErrInvalidAmount), errors.Is(err, domain.ErrInvalidKind):
		c.logger.Warn("dropping invalid transfer request", "kind", kind, "error", err)
		return nil
	default:
		return fmt.Errorf("record transfer request: %w", err)
	}
}
