/**
 * @description
 * This package provides a client for the payment API the service receives
 * deposits on and pays withdrawals out through. It wraps the three calls the
 * ledger needs: listing incoming transfers to the bot account, resolving a
 * user handle to an account id, and sending a transfer.
 *
 * @dependencies
 * - github.com/shopspring/decimal: amounts are exact integers of arbitrary size.
 */
package paymentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrSendNotAccepted is returned when the API answers 2xx but reports success=false.
var ErrSendNotAccepted = errors.New("payment api did not accept the transfer")

// Client is a client for the payment API.
type Client struct {
	BaseURL string
	// APIKey authenticates reads on behalf of the bot account.
	APIKey string
	// SenderAPIKey authenticates outgoing transfers; falls back to APIKey.
	SenderAPIKey string
	HTTPClient   *http.Client
}

// NewClient creates a new payment API client.
func NewClient(baseURL, apiKey, senderAPIKey string) *Client {
	return &Client{
		BaseURL:      strings.TrimSuffix(baseURL, "/"),
		APIKey:       apiKey,
		SenderAPIKey: senderAPIKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// IncomingTransfer is a transfer received by the bot account.
type IncomingTransfer struct {
	ID          string
	FromID      string
	Amount      decimal.Decimal
	Memo        string
	CreatedTime int64
}

type incomingTransferPayload struct {
	ID          string          `json:"id"`
	FromID      string          `json:"fromId"`
	Amount      decimal.Decimal `json:"amount"`
	CreatedTime int64           `json:"createdTime"`
	Data        struct {
		Message string `json:"message"`
	} `json:"data"`
}

type userPayload struct {
	ID string `json:"id"`
}

type sendTransferRequest struct {
	ToIDs   []string    `json:"toIds"`
	Amount  json.Number `json:"amount"`
	Message string      `json:"message"`
}

type sendTransferResponse struct {
	Success *bool `json:"success"`
}

// APIError is a non-2xx answer from the payment API.
type APIError struct {
	StatusCode int
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("payment api error: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("payment api error: status %d", e.StatusCode)
}

// Permanent reports whether retrying the same request cannot succeed.
func (e *APIError) Permanent() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 &&
		e.StatusCode != http.StatusTooManyRequests && e.StatusCode != http.StatusRequestTimeout
}

// FetchIncomingTransfers lists transfers sent to accountID.
func (c *Client) FetchIncomingTransfers(ctx context.Context, accountID string) ([]IncomingTransfer, error) {
	endpoint := c.BaseURL + "/v0/managrams?toId=" + url.QueryEscape(accountID)

	var payload []incomingTransferPayload
	if err := c.do(ctx, http.MethodGet, endpoint, c.APIKey, nil, &payload); err != nil {
		return nil, fmt.Errorf("fetch incoming transfers: %w", err)
	}

	transfers := make([]IncomingTransfer, 0, len(payload))
	for i, p := range payload {
		if p.FromID == "" {
			return nil, fmt.Errorf("fetch incoming transfers: entry %d has no sender", i)
		}
		transfers = append(transfers, IncomingTransfer{
			ID:          p.ID,
			FromID:      p.FromID,
			Amount:      p.Amount,
			Memo:        p.Data.Message,
			CreatedTime: p.CreatedTime,
		})
	}
	return transfers, nil
}

// ResolveAccountID maps a user handle to the account id transfers are addressed to.
func (c *Client) ResolveAccountID(ctx context.Context, handle string) (string, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if trimmed == "" {
		return "", &APIError{StatusCode: http.StatusBadRequest, Message: "empty user handle"}
	}

	var user userPayload
	if err := c.do(ctx, http.MethodGet, c.BaseURL+"/v0/user/"+url.PathEscape(trimmed), c.APIKey, nil, &user); err != nil {
		return "", fmt.Errorf("resolve account %q: %w", trimmed, err)
	}
	if user.ID == "" {
		return "", fmt.Errorf("resolve account %q: response has no id", trimmed)
	}
	return user.ID, nil
}

// SendTransfer pays amount to accountID with the given memo.
func (c *Client) SendTransfer(ctx context.Context, accountID string, amount decimal.Decimal, memo string) error {
	key := c.SenderAPIKey
	if key == "" {
		key = c.APIKey
	}

	body := sendTransferRequest{
		ToIDs:   []string{accountID},
		Amount:  json.Number(amount.String()),
		Message: memo,
	}
	var resp sendTransferResponse
	if err := c.do(ctx, http.MethodPost, c.BaseURL+"/v0/managram", key, body, &resp); err != nil {
		return fmt.Errorf("send transfer: %w", err)
	}
	if resp.Success == nil {
		return fmt.Errorf("send transfer: unexpected response shape")
	}
	if !*resp.Success {
		return ErrSendNotAccepted
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint, apiKey string, payload, out interface{}) error {
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
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Key "+apiKey)
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
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(bodyBytes, apiErr)
		apiErr.StatusCode = resp.StatusCode
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
