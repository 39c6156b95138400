package domain

import "time"

// TransferStateEvent is published on the events exchange whenever a transfer
// is created or changes state.
type TransferStateEvent struct {
	MessageID           string    `json:"message_id"`
	TransferID          string    `json:"transfer_id"`
	Kind                Kind      `json:"kind"`
	State               State     `json:"state"`
	PreviousState       State     `json:"previous_state,omitempty"`
	Amount              string    `json:"amount"`
	CounterpartyAddress string    `json:"counterparty_address"`
	ExternalTransferRef string    `json:"external_transfer_ref"`
	ExternalUserRef     string    `json:"external_user_ref"`
	Attempts            int       `json:"attempts"`
	OccurredAt          time.Time `json:"occurred_at"`
}

// TransferRequestEvent is consumed from the events exchange to record a new
// deposit or withdrawal requested by another service.
type TransferRequestEvent struct {
	Kind                string `json:"kind"`
	CounterpartyAddress string `json:"counterparty_address"`
	ExternalTransferRef string `json:"external_transfer_ref"`
	ExternalUserRef     string `json:"external_user_ref"`
	Amount              string `json:"amount"`
}
