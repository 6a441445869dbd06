package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/wagerproto/wager-engine/internal/ledger"
	"github.com/wagerproto/wager-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps and a ledger.Book. Used
// for testing and development. Not suitable for production (no persistence).
//
// Units of work are serialised by mu and stage their writes in a memTx;
// nothing reaches the maps or the book until fn returns nil.
type MemoryStore struct {
	mu        sync.RWMutex
	protocol  *model.ProtocolConfig
	markets   map[uint64]*model.Market
	positions map[model.PositionKey]*model.Position
	book      *ledger.Book
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets:   make(map[uint64]*model.Market),
		positions: make(map[model.PositionKey]*model.Position),
		book:      ledger.NewBook(),
	}
}

func (s *MemoryStore) GetProtocol(_ context.Context) (*model.ProtocolConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.protocol == nil {
		return nil, model.ErrProtocolNotInitialized
	}
	cfg := *s.protocol
	return &cfg, nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id uint64) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("market %d: %w", id, model.ErrMarketNotFound)
	}
	return copyMarket(m), nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, *copyMarket(m))
	}
	sort.Slice(markets, func(i, j int) bool { return markets[i].ID < markets[j].ID })
	return markets, nil
}

func (s *MemoryStore) GetPosition(_ context.Context, key model.PositionKey) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[key]
	if !ok {
		return nil, fmt.Errorf("position %s: %w", key, model.ErrPositionNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListPositions(_ context.Context, marketID uint64) ([]model.Position, error) {
	return s.filterPositions(func(p *model.Position) bool { return p.MarketID == marketID }), nil
}

func (s *MemoryStore) ListUserPositions(_ context.Context, user string) ([]model.Position, error) {
	return s.filterPositions(func(p *model.Position) bool { return p.User == user }), nil
}

func (s *MemoryStore) filterPositions(keep func(*model.Position) bool) []model.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for _, p := range s.positions {
		if keep(p) {
			result = append(result, *p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].MarketID != result[j].MarketID {
			return result[i].MarketID < result[j].MarketID
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func (s *MemoryStore) Balance(ctx context.Context, account model.Account) (uint64, error) {
	return s.book.Balance(ctx, account)
}

func (s *MemoryStore) Transfers(_ context.Context, account model.Account) ([]ledger.Transfer, error) {
	return s.book.Journal(account), nil
}

func (s *MemoryStore) Credit(ctx context.Context, account model.Account, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.book.Credit(ctx, account, amount)
}

// InTx runs fn against a staged view and applies it only if fn succeeds.
func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		s:         s,
		markets:   make(map[uint64]*model.Market),
		positions: make(map[model.PositionKey]*model.Position),
		batch:     s.book.Begin(),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// memTx is the staged overlay of one unit of work. The store lock is held
// for its whole lifetime.
type memTx struct {
	s         *MemoryStore
	protocol  *model.ProtocolConfig
	markets   map[uint64]*model.Market
	positions map[model.PositionKey]*model.Position
	batch     *ledger.Batch
}

func (t *memTx) commit() {
	if t.protocol != nil {
		t.s.protocol = t.protocol
	}
	for id, m := range t.markets {
		t.s.markets[id] = m
	}
	for k, p := range t.positions {
		t.s.positions[k] = p
	}
	t.batch.Commit()
}

func (t *memTx) Balance(ctx context.Context, account model.Account) (uint64, error) {
	return t.batch.Balance(ctx, account)
}

func (t *memTx) Transfer(ctx context.Context, tr ledger.Transfer) error {
	return t.batch.Transfer(ctx, tr)
}

func (t *memTx) Protocol(_ context.Context) (*model.ProtocolConfig, error) {
	cfg := t.protocol
	if cfg == nil {
		cfg = t.s.protocol
	}
	if cfg == nil {
		return nil, model.ErrProtocolNotInitialized
	}
	cp := *cfg
	return &cp, nil
}

// ProtocolForUpdate is Protocol: InTx already holds the store lock.
func (t *memTx) ProtocolForUpdate(ctx context.Context) (*model.ProtocolConfig, error) {
	return t.Protocol(ctx)
}

func (t *memTx) SaveProtocol(_ context.Context, cfg *model.ProtocolConfig) error {
	cp := *cfg
	t.protocol = &cp
	return nil
}

func (t *memTx) Market(_ context.Context, id uint64) (*model.Market, error) {
	if m, ok := t.markets[id]; ok {
		return copyMarket(m), nil
	}
	if m, ok := t.s.markets[id]; ok {
		return copyMarket(m), nil
	}
	return nil, fmt.Errorf("market %d: %w", id, model.ErrMarketNotFound)
}

func (t *memTx) InsertMarket(_ context.Context, m *model.Market) error {
	_, staged := t.markets[m.ID]
	_, stored := t.s.markets[m.ID]
	if staged || stored {
		return fmt.Errorf("market %d already exists", m.ID)
	}
	t.markets[m.ID] = copyMarket(m)
	return nil
}

func (t *memTx) UpdateMarket(ctx context.Context, m *model.Market) error {
	if _, err := t.Market(ctx, m.ID); err != nil {
		return err
	}
	t.markets[m.ID] = copyMarket(m)
	return nil
}

func (t *memTx) Position(_ context.Context, key model.PositionKey) (*model.Position, error) {
	if p, ok := t.positions[key]; ok {
		cp := *p
		return &cp, nil
	}
	if p, ok := t.s.positions[key]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, fmt.Errorf("position %s: %w", key, model.ErrPositionNotFound)
}

func (t *memTx) InsertPosition(_ context.Context, p *model.Position) error {
	key := p.Key()
	_, staged := t.positions[key]
	_, stored := t.s.positions[key]
	if staged || stored {
		return fmt.Errorf("position %s already exists", key)
	}
	cp := *p
	t.positions[key] = &cp
	return nil
}

func (t *memTx) UpdatePosition(ctx context.Context, p *model.Position) error {
	if _, err := t.Position(ctx, p.Key()); err != nil {
		return err
	}
	cp := *p
	t.positions[p.Key()] = &cp
	return nil
}

// copyMarket deep-copies m so callers never share the winning outcome pointer.
func copyMarket(m *model.Market) *model.Market {
	cp := *m
	if m.WinningOutcome != nil {
		w := *m.WinningOutcome
		cp.WinningOutcome = &w
	}
	return &cp
}
