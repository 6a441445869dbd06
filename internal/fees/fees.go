// Package fees splits collected fees between the protocol fee recipient and
// the dev recipient.
package fees

import (
	"context"
	"fmt"

	"github.com/wagerproto/wager-engine/internal/ledger"
	"github.com/wagerproto/wager-engine/internal/model"
)

// Split divides total into the protocol half and the dev remainder. The
// remainder takes the odd unit.
func Split(total uint64) (protocol, dev uint64) {
	protocol = total / 2
	return protocol, total - protocol
}

// Payout describes one fee distribution out of a market escrow.
type Payout struct {
	MarketID     uint64
	FeeRecipient string
	DevRecipient string
	Total        uint64
}

// Distribute pays p.Total out of the market escrow, half to the fee recipient
// and the remainder to the dev recipient, both signed by the market
// authority. A zero total is a no-op.
func Distribute(ctx context.Context, gw ledger.Gateway, p Payout) error {
	if p.Total == 0 {
		return nil
	}
	escrow := model.EscrowAccount(p.MarketID)
	authority := model.MarketAuthority(p.MarketID)
	protocol, dev := Split(p.Total)

	legs := []struct {
		to     string
		amount uint64
		kind   string
	}{
		{p.FeeRecipient, protocol, ledger.KindFee},
		{p.DevRecipient, dev, ledger.KindDevFee},
	}
	for _, leg := range legs {
		if leg.amount == 0 {
			continue
		}
		err := gw.Transfer(ctx, ledger.Transfer{
			From:      escrow,
			To:        model.Account(leg.to),
			Amount:    leg.amount,
			Authority: authority,
			Kind:      leg.kind,
			MarketID:  p.MarketID,
		})
		if err != nil {
			return fmt.Errorf("%s transfer: %w", leg.kind, err)
		}
	}
	return nil
}
