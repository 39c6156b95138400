package store

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transfa/ledger-service/internal/domain"
)

func exerciseCursorStore(t *testing.T, cursors CursorStore, chain string) {
	ctx := context.Background()

	empty, err := cursors.Load(ctx, chain)
	require.NoError(t, err)
	assert.Equal(t, domain.WalletCursor{}, empty)

	want := domain.WalletCursor{Seen: 7, NewestTxID: "0xabc"}
	require.NoError(t, cursors.Save(ctx, chain, want))

	got, err := cursors.Load(ctx, chain)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestMemoryCursorStore(t *testing.T) {
	exerciseCursorStore(t, NewMemoryCursorStore(), "polygon")
}

func TestRedisCursorStoreKey(t *testing.T) {
	s := NewRedisCursorStore(nil, " ledger: ")
	assert.Equal(t, "ledger:wallet_cursor:polygon", s.key(" Polygon "))

	s = NewRedisCursorStore(nil, "")
	assert.Equal(t, "ledger:wallet_cursor:ethereum", s.key("ethereum"))
}

// Runs against a real Redis only when LEDGER_TEST_REDIS_URL is set.
func TestRedisCursorStore(t *testing.T) {
	url := os.Getenv("LEDGER_TEST_REDIS_URL")
	if url == "" {
		t.Skip("LEDGER_TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	s := NewRedisCursorStore(client, "ledger-test")
	chain := t.Name()
	require.NoError(t, client.Del(context.Background(), s.key(chain)).Err())
	exerciseCursorStore(t, s, chain)
}
