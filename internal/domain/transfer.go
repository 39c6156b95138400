/**
 * @description
 * This file defines the core domain model of the ledger-service: the Transfer
 * record that tracks a deposit or withdrawal from the moment it is requested
 * until it is confirmed (or failed) by the external processor.
 *
 * @notes
 * - Amounts are arbitrary-precision integers in the smallest unit of the asset.
 *   They are carried as decimal.Decimal restricted to integral values so that
 *   no fractional unit can ever be introduced or lost.
 * - Timestamps are epoch milliseconds; they order the dispatch queue.
 */

package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Kind distinguishes the two flavours of transfer tracked by the ledger.
type Kind string

const (
	KindDeposit    Kind = "Deposit"
	KindWithdrawal Kind = "Withdrawal"
)

// Kinds lists every supported transfer kind.
func Kinds() []Kind {
	return []Kind{KindDeposit, KindWithdrawal}
}

// ParseKind accepts the canonical kind name, case-insensitively.
func ParseKind(value string) (Kind, error) {
	trimmed := strings.TrimSpace(value)
	for _, kind := range Kinds() {
		if strings.EqualFold(trimmed, string(kind)) {
			return kind, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKind, value)
}

// Slug is the lower-case form used in routing keys and URLs.
func (k Kind) Slug() string {
	return strings.ToLower(string(k))
}

// Transfer is a single money movement tracked through the state machine.
// It maps to one row of the `transfers` table.
type Transfer struct {
	ID                  string          `json:"id"`
	Kind                Kind            `json:"kind"`
	Timestamp           int64           `json:"timestamp"`
	CounterpartyAddress string          `json:"counterparty_address"`
	ExternalTransferRef string          `json:"external_transfer_ref"`
	ExternalUserRef     string          `json:"external_user_ref"`
	Amount              decimal.Decimal `json:"amount"`
	State               State           `json:"state"`
	Attempts            int             `json:"attempts"`
	ClaimDeadline       int64           `json:"claim_deadline,omitempty"`
}

// Equal compares two transfers field by field, using numeric equality for amounts.
func (t Transfer) Equal(other Transfer) bool {
	return t.ID == other.ID &&
		t.Kind == other.Kind &&
		t.Timestamp == other.Timestamp &&
		t.CounterpartyAddress == other.CounterpartyAddress &&
		t.ExternalTransferRef == other.ExternalTransferRef &&
		t.ExternalUserRef == other.ExternalUserRef &&
		t.Amount.Equal(other.Amount) &&
		t.State == other.State &&
		t.Attempts == other.Attempts &&
		t.ClaimDeadline == other.ClaimDeadline
}

// InFlight reports whether the transfer currently holds its kind's dispatch slot.
func (t Transfer) InFlight() bool {
	return t.State == StateSubmitted
}

// ValidateAmount rejects negative and fractional amounts.
func ValidateAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s is negative", ErrInvalidAmount, amount.String())
	}
	if !amount.IsInteger() {
		return fmt.Errorf("%w: %s is not integral", ErrInvalidAmount, amount.String())
	}
	return nil
}

// ParseAmount parses a base-10 integer string into an exact amount.
func ParseAmount(value string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return decimal.Zero, fmt.Errorf("%w: empty amount", ErrInvalidAmount)
	}
	amount, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}
	if err := ValidateAmount(amount); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}
