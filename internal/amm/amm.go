// Package amm prices early exits from a binary market with a constant-product
// rule applied to the two outcome pools themselves:
//
//	k  = x * y
//	x' = x - Δ
//	y' = floor(k / x')
//	gross = y' - y
//
// where x is the pool of the exiting position's outcome and y the opposite
// pool. The more one side is favored, the cheaper it is to exit the other.
// Integer division truncates toward zero, so rounding always favors the pool.
//
// The engine is stateless: pools and fee rates are passed as arguments.
// Intermediates are carried in shopspring/decimal so x*y never overflows.
package amm

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/wagerproto/wager-engine/internal/checked"
	"github.com/wagerproto/wager-engine/internal/model"
)

// Fees are the exit fee rates in basis points, both charged on the gross payout.
type Fees struct {
	AMMBps    uint16
	CancelBps uint16
}

// FeesFrom extracts the exit fee rates from the protocol configuration.
func FeesFrom(cfg *model.ProtocolConfig) Fees {
	return Fees{AMMBps: cfg.AMMFeeBps, CancelBps: cfg.CancelFeeBps}
}

// Quote is the priced result of withdrawing Withdrawn units of stake from
// Outcome's pool.
type Quote struct {
	Outcome   uint8  `json:"outcome"`
	Withdrawn uint64 `json:"withdrawn"`

	PoolOutcome uint64 `json:"pool_outcome"` // x
	PoolOther   uint64 `json:"pool_other"`   // y
	NewOutcome  uint64 `json:"new_pool_outcome"`
	NewOther    uint64 `json:"new_pool_other"` // y', before fee re-injection

	GrossPayout uint64 `json:"gross_payout"`
	AMMFee      uint64 `json:"amm_fee"`
	CancelFee   uint64 `json:"cancel_fee"`
	TotalFee    uint64 `json:"total_fee"`
	NetPayout   uint64 `json:"net_payout"`
}

// QuoteExit prices an exit of amount from the pool of outcome.
func QuoteExit(pools [model.NumOutcomes]uint64, outcome uint8, amount uint64, fees Fees) (*Quote, error) {
	if !model.ValidOutcome(outcome) {
		return nil, model.ErrInvalidOutcome
	}
	if amount == 0 {
		return nil, model.ErrInvalidAmount
	}

	x := pools[outcome]
	y := pools[model.Opposite(outcome)]
	if x <= amount {
		return nil, fmt.Errorf("%w: outcome pool %d cannot release %d", model.ErrInsufficientLiquidity, x, amount)
	}
	if y == 0 {
		return nil, fmt.Errorf("%w: opposite pool is empty", model.ErrInsufficientLiquidity)
	}

	k := checked.Wide(x).Mul(checked.Wide(y))
	newX := x - amount

	yPrime, err := checked.FloorDiv(k, checked.Wide(newX))
	if err != nil {
		return nil, err
	}
	newY, err := checked.Narrow(yPrime)
	if err != nil {
		return nil, fmt.Errorf("new opposite pool: %w", err)
	}
	gross, err := checked.Sub(newY, y)
	if err != nil {
		return nil, err
	}

	ammFee, err := checked.Bps(gross, fees.AMMBps)
	if err != nil {
		return nil, err
	}
	cancelFee, err := checked.Bps(gross, fees.CancelBps)
	if err != nil {
		return nil, err
	}
	totalFee, err := checked.Add(ammFee, cancelFee)
	if err != nil {
		return nil, err
	}
	net, err := checked.Sub(gross, totalFee)
	if err != nil {
		return nil, err
	}

	return &Quote{
		Outcome:     outcome,
		Withdrawn:   amount,
		PoolOutcome: x,
		PoolOther:   y,
		NewOutcome:  newX,
		NewOther:    newY,
		GrossPayout: gross,
		AMMFee:      ammFee,
		CancelFee:   cancelFee,
		TotalFee:    totalFee,
		NetPayout:   net,
	}, nil
}

// CheckSlippage rejects the quote if the net payout is below minPayout.
func (q *Quote) CheckSlippage(minPayout uint64) error {
	if q.NetPayout < minPayout {
		return fmt.Errorf("%w: net %d < min %d", model.ErrSlippageExceeded, q.NetPayout, minPayout)
	}
	return nil
}

// Retained is the part of the gross payout kept back as fees.
func (q *Quote) Retained() uint64 {
	return q.GrossPayout - q.NetPayout
}

// Pools returns the outcome pools after the exit commits: the exiting pool
// drops to x', the opposite pool moves to y' and the retained fee amount is
// added back to it.
func (q *Quote) Pools() ([model.NumOutcomes]uint64, error) {
	var pools [model.NumOutcomes]uint64
	other, err := checked.Add(q.NewOther, q.Retained())
	if err != nil {
		return pools, err
	}
	pools[q.Outcome] = q.NewOutcome
	pools[model.Opposite(q.Outcome)] = other
	return pools, nil
}

// Product returns x' * y' before fee re-injection. It equals x*y up to the
// truncation applied when computing y'.
func (q *Quote) Product() decimal.Decimal {
	return checked.Wide(q.NewOutcome).Mul(checked.Wide(q.NewOther))
}

// Invariant returns k = x * y for the pools the quote was priced against.
func (q *Quote) Invariant() decimal.Decimal {
	return checked.Wide(q.PoolOutcome).Mul(checked.Wide(q.PoolOther))
}
