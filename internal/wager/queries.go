package wager

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wagerproto/wager-engine/internal/amm"
	"github.com/wagerproto/wager-engine/internal/ledger"
	"github.com/wagerproto/wager-engine/internal/model"
	"github.com/wagerproto/wager-engine/internal/settlement"
)

// Protocol returns the protocol configuration.
func (s *Service) Protocol(ctx context.Context) (*model.ProtocolConfig, error) {
	return s.store.GetProtocol(ctx)
}

// Market returns one market.
func (s *Service) Market(ctx context.Context, id uint64) (*model.Market, error) {
	return s.store.GetMarket(ctx, id)
}

// Markets returns every market ordered by id.
func (s *Service) Markets(ctx context.Context) ([]model.Market, error) {
	return s.store.ListMarkets(ctx)
}

// Position returns one position.
func (s *Service) Position(ctx context.Context, key model.PositionKey) (*model.Position, error) {
	return s.store.GetPosition(ctx, key)
}

// MarketPositions returns every position in a market.
func (s *Service) MarketPositions(ctx context.Context, marketID uint64) ([]model.Position, error) {
	if _, err := s.store.GetMarket(ctx, marketID); err != nil {
		return nil, err
	}
	return s.store.ListPositions(ctx, marketID)
}

// UserPositions returns every position held by user.
func (s *Service) UserPositions(ctx context.Context, user string) ([]model.Position, error) {
	return s.store.ListUserPositions(ctx, user)
}

// QuoteExit prices an exit of amount from a position without committing it.
// An amount of 0 quotes the full remaining stake, as CancelPosition would.
func (s *Service) QuoteExit(ctx context.Context, key model.PositionKey, amount uint64) (*amm.Quote, error) {
	cfg, err := s.store.GetProtocol(ctx)
	if err != nil {
		return nil, err
	}
	m, err := s.store.GetMarket(ctx, key.MarketID)
	if err != nil {
		return nil, err
	}
	pos, err := s.store.GetPosition(ctx, key)
	if err != nil {
		return nil, err
	}
	if m.Resolved || m.Ended(s.now()) {
		return nil, model.ErrMarketEndedForExit
	}
	if pos.Claimed {
		return nil, model.ErrAlreadyClaimed
	}
	if amount == 0 {
		amount = pos.Amount
	}
	if amount > pos.Amount {
		return nil, fmt.Errorf("%w: %d > %d", model.ErrWithdrawExceedsPosition, amount, pos.Amount)
	}
	return amm.QuoteExit(m.OutcomePools, pos.Outcome, amount, amm.FeesFrom(cfg))
}

// QuoteClaim prices a claim for the position owner without committing it.
func (s *Service) QuoteClaim(ctx context.Context, key model.PositionKey) (*settlement.Claim, error) {
	cfg, err := s.store.GetProtocol(ctx)
	if err != nil {
		return nil, err
	}
	m, err := s.store.GetMarket(ctx, key.MarketID)
	if err != nil {
		return nil, err
	}
	pos, err := s.store.GetPosition(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := settlement.Eligible(m, pos, key.User); err != nil {
		return nil, err
	}
	return settlement.QuoteClaim(m.OutcomePools, *m.WinningOutcome, pos.Amount, cfg.ProtocolFeeBps)
}

// Balance returns the committed ledger balance of account.
func (s *Service) Balance(ctx context.Context, account model.Account) (uint64, error) {
	return s.store.Balance(ctx, account)
}

// Transfers returns the journal of transfers touching account.
func (s *Service) Transfers(ctx context.Context, account model.Account) ([]ledger.Transfer, error) {
	return s.store.Transfers(ctx, account)
}

// Fund mints amount into a user account. Only development deployments expose it.
func (s *Service) Fund(ctx context.Context, user string, amount uint64) error {
	if err := requireCaller(user); err != nil {
		return err
	}
	if amount == 0 {
		return model.ErrInvalidAmount
	}
	if err := s.store.Credit(ctx, model.Account(user), amount); err != nil {
		return err
	}
	slog.Info("account funded", "user", user, "amount", amount)
	return nil
}
