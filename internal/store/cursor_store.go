package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/transfa/ledger-service/internal/domain"
)

// CursorStore persists the wallet poll cursor per chain.
type CursorStore interface {
	Load(ctx context.Context, chain string) (domain.WalletCursor, error)
	Save(ctx context.Context, chain string, cursor domain.WalletCursor) error
}

// RedisCursorStore keeps cursors as JSON values so every replica resumes from
// the same position.
type RedisCursorStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisCursorStore(client redis.UniversalClient, prefix string) *RedisCursorStore {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "ledger"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	return &RedisCursorStore{
		client: client,
		prefix: trimmedPrefix,
	}
}

func (s *RedisCursorStore) key(chain string) string {
	return fmt.Sprintf("%s:wallet_cursor:%s", s.prefix, strings.ToLower(strings.TrimSpace(chain)))
}

// Load returns the zero cursor when nothing has been saved for the chain.
func (s *RedisCursorStore) Load(ctx context.Context, chain string) (domain.WalletCursor, error) {
	var cursor domain.WalletCursor
	raw, err := s.client.Get(ctx, s.key(chain)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return cursor, nil
		}
		return cursor, fmt.Errorf("load wallet cursor: %w: %w", domain.ErrEnvironmentFailure, err)
	}
	if err := json.Unmarshal(raw, &cursor); err != nil {
		return domain.WalletCursor{}, fmt.Errorf("decode wallet cursor: %w", err)
	}
	return cursor, nil
}

func (s *RedisCursorStore) Save(ctx context.Context, chain string, cursor domain.WalletCursor) error {
	payload, err := json.Marshal(cursor)
	if err != nil {
		return fmt.Errorf("encode wallet cursor: %w", err)
	}
	if err := s.client.Set(ctx, s.key(chain), payload, 0).Err(); err != nil {
		return fmt.Errorf("save wallet cursor: %w: %w", domain.ErrEnvironmentFailure, err)
	}
	return nil
}

// MemoryCursorStore is the single-process fallback used when Redis is unavailable.
type MemoryCursorStore struct {
	mu      sync.Mutex
	cursors map[string]domain.WalletCursor
}

func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{cursors: make(map[string]domain.WalletCursor)}
}

func (s *MemoryCursorStore) Load(_ context.Context, chain string) (domain.WalletCursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[chain], nil
}

func (s *MemoryCursorStore) Save(_ context.Context, chain string, cursor domain.WalletCursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[chain] = cursor
	return nil
}
