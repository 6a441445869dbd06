// Package model defines the core domain types shared across the wager engine.
// All stake and payout amounts are uint64 settlement units, never float64.
package model

import (
	"fmt"
	"strings"
	"time"
)

// BpsDenominator is the basis-point scale used by every fee rate.
const BpsDenominator = 10_000

// NumOutcomes is the number of outcomes every market carries.
const NumOutcomes = 2

// ProtocolConfig is the protocol-wide singleton holding fee parameters and
// the market counter. It is created once by InitializeProtocol.
type ProtocolConfig struct {
	Authority      string `json:"authority" db:"authority"`
	FeeRecipient   string `json:"fee_recipient" db:"fee_recipient"`
	DevRecipient   string `json:"dev_recipient" db:"dev_recipient"`
	ProtocolFeeBps uint16 `json:"protocol_fee_bps" db:"protocol_fee_bps"` // claim-time fee
	CancelFeeBps   uint16 `json:"cancel_fee_bps" db:"cancel_fee_bps"`     // early-exit fee
	AMMFeeBps      uint16 `json:"amm_fee_bps" db:"amm_fee_bps"`           // AMM spread fee
	MarketCount    uint64 `json:"market_count" db:"market_count"`
}

// Market is one binary prediction question. OutcomePools double as the
// constant-product reserves for early exits.
//
// TotalVolume always equals the sum of the pools. Exits rebalance the pools
// along the curve, so afterwards it is not the amount the escrow holds.
type Market struct {
	ID             uint64              `json:"id" db:"id"`
	Creator        string              `json:"creator" db:"creator"`
	Question       string              `json:"question" db:"question"`
	Outcomes       [NumOutcomes]string `json:"outcomes" db:"outcomes"`
	EndTime        time.Time           `json:"end_time" db:"end_time"`
	Resolved       bool                `json:"resolved" db:"resolved"`
	WinningOutcome *uint8              `json:"winning_outcome,omitempty" db:"winning_outcome"`
	TotalVolume    uint64              `json:"total_volume" db:"total_volume"`
	OutcomePools   [NumOutcomes]uint64 `json:"outcome_pools" db:"outcome_pools"`
	PositionCount  uint64              `json:"position_count" db:"position_count"`
	CreatedAt      time.Time           `json:"created_at" db:"created_at"`
}

// Ended reports whether the betting window has closed at now.
func (m *Market) Ended(now time.Time) bool {
	return !now.Before(m.EndTime)
}

// Escrow returns the ledger account holding this market's pooled deposits.
func (m *Market) Escrow() Account {
	return EscrowAccount(m.ID)
}

// Authority returns the identity that signs escrow-outbound transfers.
func (m *Market) Authority() string {
	return MarketAuthority(m.ID)
}

// Position is one bet. New bets always create a new Position; history is
// never merged.
type Position struct {
	ID       uint64    `json:"id" db:"id"`
	User     string    `json:"user" db:"user_id"`
	MarketID uint64    `json:"market_id" db:"market_id"`
	Outcome  uint8     `json:"outcome" db:"outcome"`
	Amount   uint64    `json:"amount" db:"amount"` // remaining stake
	Claimed  bool      `json:"claimed" db:"claimed"`
	TS       time.Time `json:"ts" db:"ts"` // last touched
}

// Key returns the composite key the position is stored under.
func (p *Position) Key() PositionKey {
	return PositionKey{User: p.User, MarketID: p.MarketID, ID: p.ID}
}

// PositionKey addresses a position by (user, market, position id).
type PositionKey struct {
	User     string `json:"user"`
	MarketID uint64 `json:"market_id"`
	ID       uint64 `json:"id"`
}

func (k PositionKey) String() string {
	return fmt.Sprintf("%s/%d/%d", k.User, k.MarketID, k.ID)
}

// Account names a balance on the value ledger. A user's account is the
// user's identity; market escrows use EscrowAccount.
type Account string

// EscrowAccount returns the escrow account for a market.
func EscrowAccount(marketID uint64) Account {
	return Account(fmt.Sprintf("escrow/%d", marketID))
}

// MarketAuthority returns the signing identity that controls a market's escrow.
func MarketAuthority(marketID uint64) string {
	return fmt.Sprintf("market/%d", marketID)
}

// Owner returns the identity allowed to move value out of the account.
func (a Account) Owner() string {
	var id uint64
	if _, err := fmt.Sscanf(string(a), "escrow/%d", &id); err == nil && EscrowAccount(id) == a {
		return MarketAuthority(id)
	}
	return string(a)
}

// Opposite returns the index of the other outcome.
func Opposite(outcome uint8) uint8 {
	return 1 - outcome
}

// ValidOutcome reports whether outcome indexes one of the two outcomes.
func ValidOutcome(outcome uint8) bool {
	return outcome < NumOutcomes
}

// ReservedIdentity reports whether id collides with an identity the engine
// derives for market escrows. Such identities are never valid callers.
func ReservedIdentity(id string) bool {
	return strings.HasPrefix(id, "market/") || strings.HasPrefix(id, "escrow/")
}
