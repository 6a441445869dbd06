// Package settlement computes the proportional payout of a winning position
// after its market resolves.
//
// A winner gets their stake back plus a pro-rata cut of the losing pool:
//
//	share = floor(amount * loserPool / winnerPool)
//	gross = amount + share
//	fee   = floor(gross * protocolFeeBps / 10_000)
//	net   = gross - fee
//
// All arithmetic is integer fixed-point with wide intermediates; results are
// identical on every platform.
package settlement

import (
	"fmt"

	"github.com/wagerproto/wager-engine/internal/checked"
	"github.com/wagerproto/wager-engine/internal/model"
)

// Claim is the priced payout of one winning position.
type Claim struct {
	WinnerPool  uint64 `json:"winner_pool"`
	LoserPool   uint64 `json:"loser_pool"`
	Stake       uint64 `json:"stake"`
	Share       uint64 `json:"share"`
	GrossPayout uint64 `json:"gross_payout"`
	ProtocolFee uint64 `json:"protocol_fee"`
	NetPayout   uint64 `json:"net_payout"`
}

// Eligible checks that pos may be claimed on m by caller.
func Eligible(m *model.Market, pos *model.Position, caller string) error {
	if !m.Resolved || m.WinningOutcome == nil {
		return model.ErrMarketNotResolved
	}
	if pos.User != caller {
		return model.ErrPositionOwnerMismatch
	}
	if pos.Claimed {
		return model.ErrAlreadyClaimed
	}
	if pos.Amount == 0 {
		return model.ErrInvalidAmount
	}
	if pos.Outcome != *m.WinningOutcome {
		return fmt.Errorf("%w: bet on %d, winner %d", model.ErrLosingPosition, pos.Outcome, *m.WinningOutcome)
	}
	return nil
}

// QuoteClaim prices the payout of stake on the winning side of a resolved
// market with the given pools.
func QuoteClaim(pools [model.NumOutcomes]uint64, winner uint8, stake uint64, protocolFeeBps uint16) (*Claim, error) {
	if !model.ValidOutcome(winner) {
		return nil, model.ErrInvalidOutcome
	}
	winnerPool := pools[winner]
	loserPool := pools[model.Opposite(winner)]
	if winnerPool == 0 {
		return nil, model.ErrNoWinnersRemaining
	}

	share, err := checked.MulDiv(stake, loserPool, winnerPool)
	if err != nil {
		return nil, fmt.Errorf("user share: %w", err)
	}
	gross, err := checked.Add(stake, share)
	if err != nil {
		return nil, fmt.Errorf("gross payout: %w", err)
	}
	fee, err := checked.Bps(gross, protocolFeeBps)
	if err != nil {
		return nil, fmt.Errorf("protocol fee: %w", err)
	}
	net, err := checked.Sub(gross, fee)
	if err != nil {
		return nil, err
	}

	return &Claim{
		WinnerPool:  winnerPool,
		LoserPool:   loserPool,
		Stake:       stake,
		Share:       share,
		GrossPayout: gross,
		ProtocolFee: fee,
		NetPayout:   net,
	}, nil
}
