package wager

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wagerproto/wager-engine/internal/amm"
	"github.com/wagerproto/wager-engine/internal/checked"
	"github.com/wagerproto/wager-engine/internal/events"
	"github.com/wagerproto/wager-engine/internal/fees"
	"github.com/wagerproto/wager-engine/internal/ledger"
	"github.com/wagerproto/wager-engine/internal/metrics"
	"github.com/wagerproto/wager-engine/internal/model"
	"github.com/wagerproto/wager-engine/internal/store"
)

// ExitResult is the outcome of a withdrawal or cancellation.
type ExitResult struct {
	Position *model.Position `json:"position"`
	Market   *model.Market   `json:"market"`
	Quote    *amm.Quote      `json:"quote"`
}

// WithdrawFromPosition sells amount of a position back to the pools before
// the market ends. The position stays open with its remaining stake.
func (s *Service) WithdrawFromPosition(ctx context.Context, caller string, key model.PositionKey, amount, minPayout uint64) (res *ExitResult, err error) {
	defer func(start time.Time) { metrics.ObserveOperation("withdraw_from_position", start, err) }(time.Now())

	if amount == 0 {
		return nil, model.ErrInvalidAmount
	}
	res, err = s.exit(ctx, caller, key, exitWithdraw, amount, minPayout)
	if err != nil {
		return nil, err
	}

	q := res.Quote
	slog.Info("position withdrawn",
		"market", key.MarketID,
		"position", key.ID,
		"user", caller,
		"withdrawn", q.Withdrawn,
		"gross", q.GrossPayout,
		"net", q.NetPayout,
		"fee", q.TotalFee,
		"pools", res.Market.OutcomePools,
	)
	evt := s.event(events.TypeWithdrawn, key.MarketID)
	evt.PositionID = ptr(key.ID)
	evt.User = caller
	evt.Amount = q.Withdrawn
	evt.Payout = q.NetPayout
	evt.Fee = q.TotalFee
	evt.Pools = res.Market.OutcomePools[:]
	s.publish(ctx, evt)
	return res, nil
}

// CancelPosition sells the whole position back to the pools and closes it.
func (s *Service) CancelPosition(ctx context.Context, caller string, key model.PositionKey, minPayout uint64) (res *ExitResult, err error) {
	defer func(start time.Time) { metrics.ObserveOperation("cancel_position", start, err) }(time.Now())

	res, err = s.exit(ctx, caller, key, exitCancel, 0, minPayout)
	if err != nil {
		return nil, err
	}

	q := res.Quote
	slog.Info("position cancelled",
		"market", key.MarketID,
		"position", key.ID,
		"user", caller,
		"amount", q.Withdrawn,
		"net", q.NetPayout,
		"fee", q.TotalFee,
	)
	evt := s.event(events.TypePositionCancelled, key.MarketID)
	evt.PositionID = ptr(key.ID)
	evt.User = caller
	evt.Amount = q.Withdrawn
	evt.Payout = q.NetPayout
	evt.Fee = q.TotalFee
	evt.Pools = res.Market.OutcomePools[:]
	s.publish(ctx, evt)
	return res, nil
}

type exitMode int

const (
	exitWithdraw exitMode = iota
	exitCancel
)

// exit prices and commits an AMM exit. For exitCancel the amount is the
// full remaining stake and the position is closed.
func (s *Service) exit(ctx context.Context, caller string, key model.PositionKey, mode exitMode, amount, minPayout uint64) (*ExitResult, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}

	var res ExitResult
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		cfg, err := tx.Protocol(ctx)
		if err != nil {
			return err
		}
		m, err := tx.Market(ctx, key.MarketID)
		if err != nil {
			return err
		}
		pos, err := tx.Position(ctx, key)
		if err != nil {
			return err
		}

		now := s.now()
		if m.Resolved || m.Ended(now) {
			return fmt.Errorf("%w: ended at %s", model.ErrMarketEndedForExit, m.EndTime.Format(time.RFC3339))
		}
		if pos.User != caller {
			return model.ErrPositionOwnerMismatch
		}
		if pos.Claimed {
			return model.ErrAlreadyClaimed
		}
		switch mode {
		case exitCancel:
			if pos.Amount == 0 {
				return model.ErrInvalidAmount
			}
			amount = pos.Amount
		default:
			if amount > pos.Amount {
				return fmt.Errorf("%w: %d > %d", model.ErrWithdrawExceedsPosition, amount, pos.Amount)
			}
		}

		q, err := amm.QuoteExit(m.OutcomePools, pos.Outcome, amount, amm.FeesFrom(cfg))
		if err != nil {
			return err
		}
		if err := q.CheckSlippage(minPayout); err != nil {
			return err
		}

		pools, err := q.Pools()
		if err != nil {
			return err
		}
		total, err := checked.Add(pools[0], pools[1])
		if err != nil {
			return fmt.Errorf("total volume: %w", err)
		}
		m.OutcomePools = pools
		m.TotalVolume = total

		pos.Amount -= amount
		if mode == exitCancel {
			pos.Amount = 0
			pos.Claimed = true
		}
		pos.TS = now

		if q.NetPayout > 0 {
			if err := tx.Transfer(ctx, ledger.Transfer{
				From:      m.Escrow(),
				To:        model.Account(caller),
				Amount:    q.NetPayout,
				Authority: m.Authority(),
				Kind:      ledger.KindExit,
				MarketID:  m.ID,
			}); err != nil {
				return fmt.Errorf("exit payout: %w", err)
			}
		}
		if err := fees.Distribute(ctx, tx, fees.Payout{
			MarketID:     m.ID,
			FeeRecipient: cfg.FeeRecipient,
			DevRecipient: cfg.DevRecipient,
			Total:        q.TotalFee,
		}); err != nil {
			return err
		}

		if err := tx.UpdatePosition(ctx, pos); err != nil {
			return err
		}
		if err := tx.UpdateMarket(ctx, m); err != nil {
			return err
		}
		res = ExitResult{Position: pos, Market: m, Quote: q}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.PayoutsTotal.WithLabelValues("exit").Add(float64(res.Quote.NetPayout))
	metrics.FeesCollected.WithLabelValues("amm").Add(float64(res.Quote.AMMFee))
	metrics.FeesCollected.WithLabelValues("cancel").Add(float64(res.Quote.CancelFee))
	return &res, nil
}
