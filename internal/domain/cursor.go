package domain

// WalletCursor records how much of the wallet's transaction history has
// already been turned into withdrawals.
type WalletCursor struct {
	Seen       int    `json:"seen"`
	NewestTxID string `json:"newest_tx_id,omitempty"`
}
