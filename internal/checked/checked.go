// Package checked provides overflow-detecting arithmetic on uint64
// settlement amounts. Products that can exceed 64 bits are carried in
// shopspring/decimal, which stores an arbitrary-precision integer
// coefficient, and are only narrowed back to uint64 after a range check.
//
// Every function fails with model.ErrAmountOverflow instead of wrapping.
package checked

import (
	"math"
	"math/big"
	"math/bits"

	"github.com/shopspring/decimal"

	"github.com/wagerproto/wager-engine/internal/model"
)

var maxUint64 = Wide(math.MaxUint64)

// Wide lifts v into the wide intermediate type.
func Wide(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

// Narrow converts a non-negative integral wide value back to uint64.
func Narrow(d decimal.Decimal) (uint64, error) {
	if d.IsNegative() || d.GreaterThan(maxUint64) || !d.IsInteger() {
		return 0, model.ErrAmountOverflow
	}
	return d.BigInt().Uint64(), nil
}

// Add returns a + b.
func Add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, model.ErrAmountOverflow
	}
	return sum, nil
}

// Sub returns a - b.
func Sub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, model.ErrAmountOverflow
	}
	return diff, nil
}

// FloorDiv returns floor(n / d) for non-negative wide values.
func FloorDiv(n, d decimal.Decimal) (decimal.Decimal, error) {
	if d.Sign() <= 0 || n.IsNegative() {
		return decimal.Zero, model.ErrAmountOverflow
	}
	q, _ := n.QuoRem(d, 0)
	return q, nil
}

// MulDiv returns floor(a * b / c) with a 128-bit-or-wider intermediate.
func MulDiv(a, b, c uint64) (uint64, error) {
	if c == 0 {
		return 0, model.ErrAmountOverflow
	}
	q, err := FloorDiv(Wide(a).Mul(Wide(b)), Wide(c))
	if err != nil {
		return 0, err
	}
	return Narrow(q)
}

// Bps returns floor(amount * bps / 10_000).
func Bps(amount uint64, bps uint16) (uint64, error) {
	return MulDiv(amount, uint64(bps), model.BpsDenominator)
}
