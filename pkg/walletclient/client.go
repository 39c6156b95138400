/**
 * @description
 * Client for the privacy-wallet sidecar. The sidecar owns the wallet keys and
 * chain access; the ledger only reads the wallet's transaction history and asks
 * it to send funds to a shielded address.
 */
package walletclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Client talks to the wallet sidecar over HTTP+JSON.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// Directions reported by the sidecar.
const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

// Transaction is one entry of the wallet's history.
type Transaction struct {
	TxID      string          `json:"tx_id"`
	Direction string          `json:"direction"`
	From      string          `json:"from"`
	Token     string          `json:"token"`
	Amount    decimal.Decimal `json:"amount"`
	Memo      string          `json:"memo"`
	Timestamp int64           `json:"timestamp"`
}

type historyResponse struct {
	Transactions []Transaction `json:"transactions"`
}

type sendRequest struct {
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
	Memo   string          `json:"memo"`
}

type sendResponse struct {
	TxID string `json:"tx_id"`
}

// APIError is a non-2xx answer from the sidecar.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("wallet api error: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("wallet api error: status %d", e.StatusCode)
}

// Permanent reports whether retrying the same request cannot succeed.
func (e *APIError) Permanent() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 &&
		e.StatusCode != http.StatusTooManyRequests && e.StatusCode != http.StatusRequestTimeout
}

// TransactionHistory returns the wallet's history on chain, newest first.
func (c *Client) TransactionHistory(ctx context.Context, chain string) ([]Transaction, error) {
	var resp historyResponse
	endpoint := c.BaseURL + "/v1/chains/" + url.PathEscape(chain) + "/transactions"
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, fmt.Errorf("fetch wallet history: %w", err)
	}
	return resp.Transactions, nil
}

// Send transfers amount to a shielded address and returns the transaction id.
func (c *Client) Send(ctx context.Context, address string, amount decimal.Decimal, memo string) (string, error) {
	var resp sendResponse
	body := sendRequest{To: address, Amount: amount, Memo: memo}
	if err := c.do(ctx, http.MethodPost, c.BaseURL+"/v1/transfers", body, &resp); err != nil {
		return "", fmt.Errorf("send to %s: %w", address, err)
	}
	return resp.TxID, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload, out interface{}) error {
	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{}
		_ = json.Unmarshal(bodyBytes, apiErr)
		apiErr.StatusCode = resp.StatusCode
		return apiErr
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
