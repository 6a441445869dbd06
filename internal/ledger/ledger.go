// Package ledger defines the value-transfer contract the wager engine moves
// stakes, payouts and fees through, plus an in-memory balance book that
// realises it.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wagerproto/wager-engine/internal/checked"
	"github.com/wagerproto/wager-engine/internal/model"
)

// Transfer kinds recorded in the journal.
const (
	KindDeposit = "deposit" // faucet / provisioning credit
	KindStake   = "stake"   // user -> escrow
	KindExit    = "exit"    // escrow -> user, early withdrawal or cancel
	KindPayout  = "payout"  // escrow -> user, winning claim
	KindFee     = "fee"     // escrow -> protocol fee recipient
	KindDevFee  = "dev_fee" // escrow -> dev recipient
)

// Transfer moves Amount from one account to another. Authority must be the
// owner of From.
type Transfer struct {
	ID        uuid.UUID     `json:"id"`
	From      model.Account `json:"from"`
	To        model.Account `json:"to"`
	Amount    uint64        `json:"amount"`
	Authority string        `json:"authority"`
	Kind      string        `json:"kind"`
	MarketID  uint64        `json:"market_id"`
	At        time.Time     `json:"at"`
}

// Gateway is the value-transfer collaborator. Transfer is atomic: it either
// moves the full amount or fails without effect.
type Gateway interface {
	Balance(ctx context.Context, account model.Account) (uint64, error)
	Transfer(ctx context.Context, t Transfer) error
}

// Check validates t against the current balance of its source account.
func Check(t Transfer, fromBalance uint64) error {
	if t.Amount == 0 {
		return model.ErrInvalidAmount
	}
	if t.From == "" || t.To == "" {
		return fmt.Errorf("%w: transfer needs both accounts", model.ErrMissingCaller)
	}
	if t.Authority != t.From.Owner() {
		return fmt.Errorf("%w: %q cannot debit %s", model.ErrUnauthorizedTransfer, t.Authority, t.From)
	}
	if fromBalance < t.Amount {
		return fmt.Errorf("%w: %s has %d, needs %d", model.ErrInsufficientBalance, t.From, fromBalance, t.Amount)
	}
	return nil
}

// Move returns the balances of both accounts after t is applied.
func Move(t Transfer, fromBalance, toBalance uint64) (newFrom, newTo uint64, err error) {
	if err := Check(t, fromBalance); err != nil {
		return 0, 0, err
	}
	if t.From == t.To {
		return fromBalance, toBalance, nil
	}
	newTo, err = checked.Add(toBalance, t.Amount)
	if err != nil {
		return 0, 0, fmt.Errorf("credit %s: %w", t.To, err)
	}
	return fromBalance - t.Amount, newTo, nil
}

// Stamp fills in the transfer ID and timestamp if unset.
func Stamp(t *Transfer, now time.Time) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.At.IsZero() {
		t.At = now
	}
}
