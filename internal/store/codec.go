package store

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/transfa/ledger-service/internal/domain"
)

// Row is a persisted transfer as column name to text value.
type Row map[string]string

// Canonical column names of the transfers table.
const (
	ColumnID                  = "id"
	ColumnKind                = "kind"
	ColumnTimestamp           = "timestamp"
	ColumnCounterpartyAddress = "counterpartyAddress"
	ColumnExternalTransferRef = "externalTransferRef"
	ColumnExternalUserRef     = "externalUserRef"
	ColumnAmount              = "amount"
	ColumnState               = "state"
	ColumnAttempts            = "attempts"
	ColumnClaimDeadline       = "claimDeadline"
)

var unsignedInteger = regexp.MustCompile(`^[0-9]+$`)

// lookup finds a column regardless of how the store cased its name.
func (r Row) lookup(column string) (string, bool) {
	if v, ok := r[column]; ok {
		return v, true
	}
	for k, v := range r {
		if strings.EqualFold(k, column) {
			return v, true
		}
	}
	return "", false
}

func (r Row) required(column string) (string, error) {
	v, ok := r.lookup(column)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingField, column)
	}
	return v, nil
}

func (r Row) requiredInt(column string) (int64, error) {
	v, err := r.required(column)
	if err != nil {
		return 0, err
	}
	return parseUnsigned(column, v)
}

func (r Row) optionalInt(column string) (int64, error) {
	v, ok := r.lookup(column)
	if !ok || v == "" {
		return 0, nil
	}
	return parseUnsigned(column, v)
}

func parseUnsigned(column, value string) (int64, error) {
	if !unsignedInteger.MatchString(value) {
		return 0, fmt.Errorf("%w: %s=%q", ErrMalformedNumericField, column, value)
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrMalformedNumericField, column, value)
	}
	return n, nil
}

// DecodeTransfer validates a row and builds the typed entity from it.
func DecodeTransfer(row Row) (domain.Transfer, error) {
	var t domain.Transfer

	id, err := row.required(ColumnID)
	if err != nil {
		return t, err
	}
	rawKind, err := row.required(ColumnKind)
	if err != nil {
		return t, err
	}
	kind, err := domain.ParseKind(rawKind)
	if err != nil {
		return t, fmt.Errorf("transfer %s: %w", id, err)
	}
	rawState, err := row.required(ColumnState)
	if err != nil {
		return t, err
	}
	state, err := domain.ParseState(kind, rawState)
	if err != nil {
		return t, fmt.Errorf("transfer %s: %w", id, err)
	}

	strs := make(map[string]string, 3)
	for _, column := range []string{ColumnCounterpartyAddress, ColumnExternalTransferRef, ColumnExternalUserRef} {
		v, err := row.required(column)
		if err != nil {
			return t, err
		}
		strs[column] = v
	}

	timestamp, err := row.requiredInt(ColumnTimestamp)
	if err != nil {
		return t, err
	}
	rawAmount, err := row.required(ColumnAmount)
	if err != nil {
		return t, err
	}
	if !unsignedInteger.MatchString(rawAmount) {
		return t, fmt.Errorf("%w: %s=%q", ErrMalformedNumericField, ColumnAmount, rawAmount)
	}
	amount, err := decimal.NewFromString(rawAmount)
	if err != nil {
		return t, fmt.Errorf("%w: %s=%q", ErrMalformedNumericField, ColumnAmount, rawAmount)
	}
	attempts, err := row.optionalInt(ColumnAttempts)
	if err != nil {
		return t, err
	}
	deadline, err := row.optionalInt(ColumnClaimDeadline)
	if err != nil {
		return t, err
	}

	t = domain.Transfer{
		ID:                  id,
		Kind:                kind,
		Timestamp:           timestamp,
		CounterpartyAddress: strs[ColumnCounterpartyAddress],
		ExternalTransferRef: strs[ColumnExternalTransferRef],
		ExternalUserRef:     strs[ColumnExternalUserRef],
		Amount:              amount,
		State:               state,
		Attempts:            int(attempts),
		ClaimDeadline:       deadline,
	}
	return t, nil
}

// DecodeTransfers decodes a batch, failing the whole batch on the first bad row.
func DecodeTransfers(rows []Row) ([]domain.Transfer, error) {
	out := make([]domain.Transfer, 0, len(rows))
	for i, row := range rows {
		t, err := DecodeTransfer(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// EncodeTransfer renders a transfer under canonical column names.
func EncodeTransfer(t domain.Transfer) Row {
	return Row{
		ColumnID:                  t.ID,
		ColumnKind:                string(t.Kind),
		ColumnTimestamp:           strconv.FormatInt(t.Timestamp, 10),
		ColumnCounterpartyAddress: t.CounterpartyAddress,
		ColumnExternalTransferRef: t.ExternalTransferRef,
		ColumnExternalUserRef:     t.ExternalUserRef,
		ColumnAmount:              t.Amount.String(),
		ColumnState:               string(t.State),
		ColumnAttempts:            strconv.Itoa(t.Attempts),
		ColumnClaimDeadline:       strconv.FormatInt(t.ClaimDeadline, 10),
	}
}
