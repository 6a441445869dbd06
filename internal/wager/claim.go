package wager

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wagerproto/wager-engine/internal/events"
	"github.com/wagerproto/wager-engine/internal/fees"
	"github.com/wagerproto/wager-engine/internal/ledger"
	"github.com/wagerproto/wager-engine/internal/metrics"
	"github.com/wagerproto/wager-engine/internal/model"
	"github.com/wagerproto/wager-engine/internal/settlement"
	"github.com/wagerproto/wager-engine/internal/store"
)

// ClaimResult is the outcome of a winning claim.
type ClaimResult struct {
	Position *model.Position   `json:"position"`
	Claim    *settlement.Claim `json:"claim"`
}

// ClaimWinnings pays a winning position its stake plus its pro-rata share of
// the losing pool, less the protocol fee. Pools are left untouched; the
// payout is funded from the market escrow.
func (s *Service) ClaimWinnings(ctx context.Context, caller string, key model.PositionKey) (res *ClaimResult, err error) {
	defer func(start time.Time) { metrics.ObserveOperation("claim_winnings", start, err) }(time.Now())

	if err := requireCaller(caller); err != nil {
		return nil, err
	}

	err = s.store.InTx(ctx, func(tx store.Tx) error {
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
		if err := settlement.Eligible(m, pos, caller); err != nil {
			return err
		}

		claim, err := settlement.QuoteClaim(m.OutcomePools, *m.WinningOutcome, pos.Amount, cfg.ProtocolFeeBps)
		if err != nil {
			return err
		}

		if claim.NetPayout > 0 {
			if err := tx.Transfer(ctx, ledger.Transfer{
				From:      m.Escrow(),
				To:        model.Account(caller),
				Amount:    claim.NetPayout,
				Authority: m.Authority(),
				Kind:      ledger.KindPayout,
				MarketID:  m.ID,
			}); err != nil {
				return fmt.Errorf("winnings payout: %w", err)
			}
		}
		if err := fees.Distribute(ctx, tx, fees.Payout{
			MarketID:     m.ID,
			FeeRecipient: cfg.FeeRecipient,
			DevRecipient: cfg.DevRecipient,
			Total:        claim.ProtocolFee,
		}); err != nil {
			return err
		}

		pos.Claimed = true
		pos.TS = s.now()
		if err := tx.UpdatePosition(ctx, pos); err != nil {
			return err
		}
		res = &ClaimResult{Position: pos, Claim: claim}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.PayoutsTotal.WithLabelValues("claim").Add(float64(res.Claim.NetPayout))
	metrics.FeesCollected.WithLabelValues("protocol").Add(float64(res.Claim.ProtocolFee))
	slog.Info("winnings claimed",
		"market", key.MarketID,
		"position", key.ID,
		"user", caller,
		"stake", res.Claim.Stake,
		"share", res.Claim.Share,
		"net", res.Claim.NetPayout,
		"fee", res.Claim.ProtocolFee,
	)
	evt := s.event(events.TypeWinningsClaimed, key.MarketID)
	evt.PositionID = ptr(key.ID)
	evt.User = caller
	evt.Payout = res.Claim.NetPayout
	evt.Fee = res.Claim.ProtocolFee
	s.publish(ctx, evt)
	return res, nil
}
