package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wagerproto/wager-engine/internal/ledger"
	"github.com/wagerproto/wager-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Units of work go to the primary store and invalidate every market
// they wrote once committed; reads check Redis first then fall back to the
// primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Unit of work (write to primary, invalidate cache) ---

func (s *CachedStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	var touched touchedTx
	err := s.primary.InTx(ctx, func(tx Tx) error {
		touched = touchedTx{Tx: tx}
		return fn(&touched)
	})
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(touched.markets)+1)
	for _, id := range touched.markets {
		keys = append(keys, marketKey(id))
	}
	if touched.protocol {
		keys = append(keys, protocolKey)
	}
	if len(keys) > 0 {
		if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
			slog.Warn("cache invalidation failed", "keys", keys, "error", err)
		}
	}
	return nil
}

func (s *CachedStore) Credit(ctx context.Context, account model.Account, amount uint64) error {
	return s.primary.Credit(ctx, account, amount)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetProtocol(ctx context.Context) (*model.ProtocolConfig, error) {
	data, err := s.rdb.Get(ctx, protocolKey).Bytes()
	if err == nil {
		var cfg model.ProtocolConfig
		if json.Unmarshal(data, &cfg) == nil {
			return &cfg, nil
		}
	}

	cfg, err := s.primary.GetProtocol(ctx)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, protocolKey, cfg)
	return cfg, nil
}

func (s *CachedStore) GetMarket(ctx context.Context, id uint64) (*model.Market, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	// Cache miss: read from primary.
	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, marketKey(id), m)
	return m, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) GetPosition(ctx context.Context, key model.PositionKey) (*model.Position, error) {
	return s.primary.GetPosition(ctx, key)
}

func (s *CachedStore) ListPositions(ctx context.Context, marketID uint64) ([]model.Position, error) {
	return s.primary.ListPositions(ctx, marketID)
}

func (s *CachedStore) ListUserPositions(ctx context.Context, user string) ([]model.Position, error) {
	return s.primary.ListUserPositions(ctx, user)
}

func (s *CachedStore) Balance(ctx context.Context, account model.Account) (uint64, error) {
	return s.primary.Balance(ctx, account)
}

func (s *CachedStore) Transfers(ctx context.Context, account model.Account) ([]ledger.Transfer, error) {
	return s.primary.Transfers(ctx, account)
}

// --- Cache helpers ---

func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.rdb.Set(ctx, key, data, s.ttl).Err(); err != nil {
		slog.Warn("cache write failed", "key", key, "error", err)
	}
}

// touchedTx records which cached records a unit of work wrote.
type touchedTx struct {
	Tx
	markets  []uint64
	protocol bool
}

func (t *touchedTx) SaveProtocol(ctx context.Context, cfg *model.ProtocolConfig) error {
	t.protocol = true
	return t.Tx.SaveProtocol(ctx, cfg)
}

func (t *touchedTx) InsertMarket(ctx context.Context, m *model.Market) error {
	t.markets = append(t.markets, m.ID)
	return t.Tx.InsertMarket(ctx, m)
}

func (t *touchedTx) UpdateMarket(ctx context.Context, m *model.Market) error {
	t.markets = append(t.markets, m.ID)
	return t.Tx.UpdateMarket(ctx, m)
}

const protocolKey = "wager:protocol"

func marketKey(id uint64) string { return fmt.Sprintf("wager:market:%d", id) }
