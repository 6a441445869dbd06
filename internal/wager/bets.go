package wager

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wagerproto/wager-engine/internal/checked"
	"github.com/wagerproto/wager-engine/internal/events"
	"github.com/wagerproto/wager-engine/internal/ledger"
	"github.com/wagerproto/wager-engine/internal/metrics"
	"github.com/wagerproto/wager-engine/internal/model"
	"github.com/wagerproto/wager-engine/internal/store"
)

// PlaceBet stakes amount on outcome and opens a new position. Positions are
// never merged: every bet gets its own id.
func (s *Service) PlaceBet(ctx context.Context, caller string, marketID uint64, outcome uint8, amount uint64) (pos *model.Position, err error) {
	defer func(start time.Time) { metrics.ObserveOperation("place_bet", start, err) }(time.Now())

	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if !model.ValidOutcome(outcome) {
		return nil, model.ErrInvalidOutcome
	}
	if amount == 0 {
		return nil, model.ErrInvalidAmount
	}

	var m *model.Market
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		if m, err = tx.Market(ctx, marketID); err != nil {
			return err
		}
		now := s.now()
		if err := checkOpen(m, now); err != nil {
			return err
		}
		if err := deposit(m, outcome, amount); err != nil {
			return err
		}

		pos = &model.Position{
			ID:       m.PositionCount,
			User:     caller,
			MarketID: m.ID,
			Outcome:  outcome,
			Amount:   amount,
			TS:       now,
		}
		if m.PositionCount, err = checked.Add(m.PositionCount, 1); err != nil {
			return fmt.Errorf("position count: %w", err)
		}

		if err := stake(ctx, tx, m, caller, amount); err != nil {
			return err
		}
		if err := tx.InsertPosition(ctx, pos); err != nil {
			return err
		}
		return tx.UpdateMarket(ctx, m)
	})
	if err != nil {
		return nil, err
	}

	metrics.StakedTotal.Add(float64(amount))
	slog.Info("bet placed",
		"market", marketID,
		"position", pos.ID,
		"user", caller,
		"outcome", outcome,
		"amount", amount,
		"pools", m.OutcomePools,
	)
	evt := s.event(events.TypeBetPlaced, marketID)
	evt.PositionID = ptr(pos.ID)
	evt.User = caller
	evt.Outcome = ptr(outcome)
	evt.Amount = amount
	evt.Pools = m.OutcomePools[:]
	s.publish(ctx, evt)
	return pos, nil
}

// IncreasePosition adds stake to an existing position on the same outcome.
func (s *Service) IncreasePosition(ctx context.Context, caller string, key model.PositionKey, added uint64) (pos *model.Position, err error) {
	defer func(start time.Time) { metrics.ObserveOperation("increase_position", start, err) }(time.Now())

	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if added == 0 {
		return nil, model.ErrInvalidAmount
	}

	var m *model.Market
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		if m, err = tx.Market(ctx, key.MarketID); err != nil {
			return err
		}
		now := s.now()
		if err := checkOpen(m, now); err != nil {
			return err
		}
		if pos, err = tx.Position(ctx, key); err != nil {
			return err
		}
		if pos.User != caller {
			return model.ErrPositionOwnerMismatch
		}
		if pos.Claimed {
			return model.ErrAlreadyClaimed
		}

		if err := deposit(m, pos.Outcome, added); err != nil {
			return err
		}
		if pos.Amount, err = checked.Add(pos.Amount, added); err != nil {
			return fmt.Errorf("position amount: %w", err)
		}
		pos.TS = now

		if err := stake(ctx, tx, m, caller, added); err != nil {
			return err
		}
		if err := tx.UpdatePosition(ctx, pos); err != nil {
			return err
		}
		return tx.UpdateMarket(ctx, m)
	})
	if err != nil {
		return nil, err
	}

	metrics.StakedTotal.Add(float64(added))
	slog.Info("position increased",
		"market", key.MarketID,
		"position", pos.ID,
		"user", caller,
		"added", added,
		"amount", pos.Amount,
	)
	evt := s.event(events.TypePositionIncreased, key.MarketID)
	evt.PositionID = ptr(pos.ID)
	evt.User = caller
	evt.Outcome = ptr(pos.Outcome)
	evt.Amount = added
	evt.Pools = m.OutcomePools[:]
	s.publish(ctx, evt)
	return pos, nil
}

// checkOpen rejects bets on resolved or ended markets.
func checkOpen(m *model.Market, now time.Time) error {
	if m.Resolved {
		return model.ErrMarketResolved
	}
	if m.Ended(now) {
		return fmt.Errorf("%w: ended at %s", model.ErrMarketEnded, m.EndTime.Format(time.RFC3339))
	}
	return nil
}

// deposit adds amount to an outcome pool and the total volume.
func deposit(m *model.Market, outcome uint8, amount uint64) error {
	pool, err := checked.Add(m.OutcomePools[outcome], amount)
	if err != nil {
		return fmt.Errorf("outcome pool: %w", err)
	}
	total, err := checked.Add(m.TotalVolume, amount)
	if err != nil {
		return fmt.Errorf("total volume: %w", err)
	}
	m.OutcomePools[outcome] = pool
	m.TotalVolume = total
	return nil
}

// stake moves amount from the user into the market escrow.
func stake(ctx context.Context, gw ledger.Gateway, m *model.Market, user string, amount uint64) error {
	return gw.Transfer(ctx, ledger.Transfer{
		From:      model.Account(user),
		To:        m.Escrow(),
		Amount:    amount,
		Authority: user,
		Kind:      ledger.KindStake,
		MarketID:  m.ID,
	})
}
