package paymentclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchIncomingTransfers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0/managrams", r.URL.Path)
		assert.Equal(t, "bot-1", r.URL.Query().Get("toId"))
		assert.Equal(t, "Key read-key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[
			{"id":"m1","fromId":"userA","amount":5000,"createdTime":1700000000000,"data":{"message":"0zkAddr1"}},
			{"id":"m2","fromId":"userB","amount":25,"data":{"message":""}}
		]`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "read-key", "send-key")
	transfers, err := client.FetchIncomingTransfers(context.Background(), "bot-1")
	require.NoError(t, err)
	require.Len(t, transfers, 2)
	assert.Equal(t, "m1", transfers[0].ID)
	assert.Equal(t, "userA", transfers[0].FromID)
	assert.True(t, transfers[0].Amount.Equal(decimal.NewFromInt(5000)))
	assert.Equal(t, "0zkAddr1", transfers[0].Memo)
	assert.Equal(t, int64(1700000000000), transfers[0].CreatedTime)
}

func TestFetchIncomingTransfersRejectsMalformedEntries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"m1","amount":1,"data":{"message":"x"}}]`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "k", "").FetchIncomingTransfers(context.Background(), "bot")
	require.Error(t, err)
}

func TestResolveAccountID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v0/user/testbot" {
			_, _ = w.Write([]byte(`{"id":"6DLzPFOV0LelhuLPnCECIXqsIgN2","username":"testbot"}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"User not found"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "k", "")
	id, err := client.ResolveAccountID(context.Background(), "@testbot")
	require.NoError(t, err)
	assert.Equal(t, "6DLzPFOV0LelhuLPnCECIXqsIgN2", id)

	_, err = client.ResolveAccountID(context.Background(), "ghost")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "User not found", apiErr.Message)
	assert.True(t, apiErr.Permanent())
}

func TestSendTransferUsesSenderKey(t *testing.T) {
	var got sendTransferRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v0/managram", r.URL.Path)
		assert.Equal(t, "Key send-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer server.Close()

	err := NewClient(server.URL, "read-key", "send-key").
		SendTransfer(context.Background(), "acct-9", decimal.RequireFromString("123456789012345678901234567890"), "memo-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"acct-9"}, got.ToIDs)
	assert.Equal(t, json.Number("123456789012345678901234567890"), got.Amount)
	assert.Equal(t, "memo-1", got.Message)
}

func TestSendTransferFailures(t *testing.T) {
	status := http.StatusOK
	body := `{"success":false}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()
	client := NewClient(server.URL, "k", "")

	err := client.SendTransfer(context.Background(), "a", decimal.NewFromInt(1), "m")
	require.ErrorIs(t, err, ErrSendNotAccepted)

	status, body = http.StatusBadGateway, `upstream down`
	err = client.SendTransfer(context.Background(), "a", decimal.NewFromInt(1), "m")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.False(t, apiErr.Permanent())

	status, body = http.StatusTooManyRequests, `{}`
	err = client.SendTransfer(context.Background(), "a", decimal.NewFromInt(1), "m")
	require.True(t, errors.As(err, &apiErr))
	assert.False(t, apiErr.Permanent())
}
