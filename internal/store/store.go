// Package store defines the persistence interface for the wager engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and single-node development).
//
// Every state-changing operation runs inside InTx: records and ledger
// balances either all commit or none do.
package store

import (
	"context"

	"github.com/wagerproto/wager-engine/internal/ledger"
	"github.com/wagerproto/wager-engine/internal/model"
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Reads (committed state) ---

	// GetProtocol returns the protocol singleton or ErrProtocolNotInitialized.
	GetProtocol(ctx context.Context) (*model.ProtocolConfig, error)

	// GetMarket retrieves a market by its ID or ErrMarketNotFound.
	GetMarket(ctx context.Context, id uint64) (*model.Market, error)

	// ListMarkets returns all markets ordered by ID.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// GetPosition retrieves a position by its composite key or ErrPositionNotFound.
	GetPosition(ctx context.Context, key model.PositionKey) (*model.Position, error)

	// ListPositions returns every position of a market ordered by ID.
	ListPositions(ctx context.Context, marketID uint64) ([]model.Position, error)

	// ListUserPositions returns every position held by user.
	ListUserPositions(ctx context.Context, user string) ([]model.Position, error)

	// --- Ledger ---

	// Balance returns the committed balance of an account.
	Balance(ctx context.Context, account model.Account) (uint64, error)

	// Transfers returns the journal entries touching account, oldest first.
	Transfers(ctx context.Context, account model.Account) ([]ledger.Transfer, error)

	// Credit mints value into an account outside any market flow.
	Credit(ctx context.Context, account model.Account, amount uint64) error

	// --- Unit of work ---

	// InTx runs fn as one atomic unit. Any error returned by fn discards every
	// record write and transfer it staged.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the view of the store inside one unit of work. Reads observe the
// unit's own writes. It doubles as the ledger gateway so that transfers
// commit or roll back together with the records they pay for.
type Tx interface {
	ledger.Gateway

	// Protocol reads the singleton without locking it; fee rates never
	// change after initialization.
	Protocol(ctx context.Context) (*model.ProtocolConfig, error)
	// ProtocolForUpdate reads the singleton and holds it until the unit of
	// work ends. Callers that advance MarketCount must use it.
	ProtocolForUpdate(ctx context.Context) (*model.ProtocolConfig, error)
	SaveProtocol(ctx context.Context, cfg *model.ProtocolConfig) error

	Market(ctx context.Context, id uint64) (*model.Market, error)
	InsertMarket(ctx context.Context, m *model.Market) error
	UpdateMarket(ctx context.Context, m *model.Market) error

	Position(ctx context.Context, key model.PositionKey) (*model.Position, error)
	InsertPosition(ctx context.Context, p *model.Position) error
	UpdatePosition(ctx context.Context, p *model.Position) error
}
