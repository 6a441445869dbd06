package wager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/wagerproto/wager-engine/internal/checked"
	"github.com/wagerproto/wager-engine/internal/contract"
	"github.com/wagerproto/wager-engine/internal/events"
	"github.com/wagerproto/wager-engine/internal/metrics"
	"github.com/wagerproto/wager-engine/internal/model"
	"github.com/wagerproto/wager-engine/internal/store"
)

// ProtocolParams are the fee settings fixed at initialization.
type ProtocolParams struct {
	FeeRecipient   string `json:"fee_recipient"`
	ProtocolFeeBps uint16 `json:"protocol_fee_bps"`
	CancelFeeBps   uint16 `json:"cancel_fee_bps"`
	AMMFeeBps      uint16 `json:"amm_fee_bps"`
}

// Validate checks every rate is at most 100% and that the two exit fees
// together cannot exceed the gross exit payout.
func (p ProtocolParams) Validate() error {
	rates := []struct {
		name string
		bps  uint16
	}{
		{"protocol_fee_bps", p.ProtocolFeeBps},
		{"cancel_fee_bps", p.CancelFeeBps},
		{"amm_fee_bps", p.AMMFeeBps},
	}
	for _, r := range rates {
		if r.bps > model.BpsDenominator {
			return fmt.Errorf("%w: %s %d exceeds %d", model.ErrInvalidFee, r.name, r.bps, model.BpsDenominator)
		}
	}
	if uint32(p.CancelFeeBps)+uint32(p.AMMFeeBps) > model.BpsDenominator {
		return fmt.Errorf("%w: exit fees sum to more than 100%%", model.ErrInvalidFee)
	}
	if p.FeeRecipient == "" {
		return fmt.Errorf("%w: fee recipient is required", model.ErrInvalidFee)
	}
	if model.ReservedIdentity(p.FeeRecipient) {
		return fmt.Errorf("%w: fee recipient %q is reserved", model.ErrInvalidFee, p.FeeRecipient)
	}
	return nil
}

// InitializeProtocol creates the protocol configuration with caller as its
// authority. It succeeds exactly once.
func (s *Service) InitializeProtocol(ctx context.Context, caller string, params ProtocolParams) (cfg *model.ProtocolConfig, err error) {
	defer func(start time.Time) { metrics.ObserveOperation("initialize_protocol", start, err) }(time.Now())

	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if s.devRecipient == "" {
		return nil, fmt.Errorf("%w: dev recipient is not configured", model.ErrInvalidFee)
	}

	err = s.store.InTx(ctx, func(tx store.Tx) error {
		_, err := tx.ProtocolForUpdate(ctx)
		switch {
		case err == nil:
			return model.ErrProtocolInitialized
		case !errors.Is(err, model.ErrProtocolNotInitialized):
			return err
		}
		cfg = &model.ProtocolConfig{
			Authority:      caller,
			FeeRecipient:   params.FeeRecipient,
			DevRecipient:   s.devRecipient,
			ProtocolFeeBps: params.ProtocolFeeBps,
			CancelFeeBps:   params.CancelFeeBps,
			AMMFeeBps:      params.AMMFeeBps,
		}
		return tx.SaveProtocol(ctx, cfg)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("protocol initialized",
		"authority", caller,
		"fee_recipient", cfg.FeeRecipient,
		"dev_recipient", cfg.DevRecipient,
		"protocol_fee_bps", cfg.ProtocolFeeBps,
		"cancel_fee_bps", cfg.CancelFeeBps,
		"amm_fee_bps", cfg.AMMFeeBps,
	)
	evt := s.event(events.TypeProtocolInitialized, 0)
	evt.User = caller
	s.publish(ctx, evt)
	return cfg, nil
}

// CreateMarket opens a new binary market with id = the prior market count.
func (s *Service) CreateMarket(ctx context.Context, caller string, terms contract.Terms) (m *model.Market, err error) {
	defer func(start time.Time) { metrics.ObserveOperation("create_market", start, err) }(time.Now())

	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	now := s.now()
	labels, err := terms.Validate(now)
	if err != nil {
		return nil, err
	}

	err = s.store.InTx(ctx, func(tx store.Tx) error {
		cfg, err := tx.ProtocolForUpdate(ctx)
		if err != nil {
			return err
		}
		id := cfg.MarketCount
		if cfg.MarketCount, err = checked.Add(cfg.MarketCount, 1); err != nil {
			return fmt.Errorf("market count: %w", err)
		}

		escrowBalance, err := tx.Balance(ctx, model.EscrowAccount(id))
		if err != nil {
			return err
		}
		if escrowBalance != 0 {
			return fmt.Errorf("%w: escrow %d holds %d", model.ErrEscrowNotEmpty, id, escrowBalance)
		}

		m = &model.Market{
			ID:        id,
			Creator:   caller,
			Question:  terms.Question,
			Outcomes:  labels,
			EndTime:   terms.EndTime.UTC(),
			CreatedAt: now,
		}
		if err := tx.InsertMarket(ctx, m); err != nil {
			return err
		}
		return tx.SaveProtocol(ctx, cfg)
	})
	if err != nil {
		return nil, err
	}

	metrics.ActiveMarkets.Inc()
	slog.Info("market created",
		"market", m.ID,
		"creator", caller,
		"question", m.Question,
		"outcomes", m.Outcomes,
		"end_time", m.EndTime,
	)
	evt := s.event(events.TypeMarketCreated, m.ID)
	evt.User = caller
	evt.Question = m.Question
	evt.EndTime = m.EndTime
	s.publish(ctx, evt)
	return m, nil
}

// ResolveMarket records the winning outcome. Only the creator may resolve,
// once, after the market has ended. The report is trusted as given.
func (s *Service) ResolveMarket(ctx context.Context, caller string, marketID uint64, winner uint8) (m *model.Market, err error) {
	defer func(start time.Time) { metrics.ObserveOperation("resolve_market", start, err) }(time.Now())

	if err := requireCaller(caller); err != nil {
		return nil, err
	}

	err = s.store.InTx(ctx, func(tx store.Tx) error {
		m, err = tx.Market(ctx, marketID)
		if err != nil {
			return err
		}
		if m.Creator != caller {
			return fmt.Errorf("%w: only the creator may resolve market %d", model.ErrUnauthorized, marketID)
		}
		if m.Resolved {
			return model.ErrAlreadyResolved
		}
		if !m.Ended(s.now()) {
			return fmt.Errorf("%w: ends at %s", model.ErrMarketNotEnded, m.EndTime.Format(time.RFC3339))
		}
		if !model.ValidOutcome(winner) {
			return model.ErrInvalidOutcome
		}
		m.Resolved = true
		m.WinningOutcome = ptr(winner)
		return tx.UpdateMarket(ctx, m)
	})
	if err != nil {
		return nil, err
	}

	metrics.ActiveMarkets.Dec()
	slog.Info("market resolved",
		"market", marketID,
		"winner", winner,
		"pools", m.OutcomePools,
	)
	evt := s.event(events.TypeMarketResolved, marketID)
	evt.User = caller
	evt.Outcome = ptr(winner)
	evt.Pools = m.OutcomePools[:]
	s.publish(ctx, evt)
	return m, nil
}
