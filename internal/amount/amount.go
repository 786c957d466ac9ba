// Package amount implements checked arithmetic for lamport-denominated
// quantities. It is the single source of truth for overflow policy:
// every balance, pool, or payout computation in the engine goes through
// this package — never raw operators on monetary values.
//
// Internal accounting uses uint64 lamports. SOL-denominated display
// values use shopspring/decimal — never float64 for money.
package amount

import (
	"math/bits"

	"github.com/shopspring/decimal"

	"github.com/arenax/settlement-engine/internal/errs"
)

// LamportsPerSOL is the number of lamports in one SOL-equivalent unit.
const LamportsPerSOL uint64 = 1_000_000_000

// BpsDenominator is the basis-point scale: 10000 bps = 100%.
const BpsDenominator uint64 = 10_000

// Add returns a + b, failing with ErrArithmeticOverflow on wraparound.
func Add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, errs.ErrArithmeticOverflow
	}
	return sum, nil
}

// Sub returns a - b, failing with ErrArithmeticUnderflow if b > a.
func Sub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, errs.ErrArithmeticUnderflow
	}
	return diff, nil
}

// MulDiv returns a * b / c using a 128-bit intermediate product, so the
// multiplication cannot overflow before the division. Fails with
// ErrArithmeticOverflow if the final quotient does not fit in uint64,
// and with ErrInvalidAmount if c is zero.
func MulDiv(a, b, c uint64) (uint64, error) {
	if c == 0 {
		return 0, errs.ErrInvalidAmount
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= c {
		// Quotient would need more than 64 bits.
		return 0, errs.ErrArithmeticOverflow
	}
	quo, _ := bits.Div64(hi, lo, c)
	return quo, nil
}

// MulBps returns amount * basisPoints / 10000, the standard fee
// computation. basisPoints above 10000 is a caller bug surfaced as
// overflow rather than silently paying out more than the input.
func MulBps(a uint64, basisPoints uint16) (uint64, error) {
	if uint64(basisPoints) > BpsDenominator {
		return 0, errs.ErrArithmeticOverflow
	}
	return MulDiv(a, uint64(basisPoints), BpsDenominator)
}

// ToSOL converts lamports to a SOL-denominated decimal for API display.
func ToSOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromUint64(lamports).Div(decimal.NewFromUint64(LamportsPerSOL))
}

// FromSOL converts a SOL-denominated decimal into lamports, truncating
// sub-lamport precision. Negative or oversized values fail.
func FromSOL(sol decimal.Decimal) (uint64, error) {
	if sol.IsNegative() {
		return 0, errs.ErrInvalidAmount
	}
	lamports := sol.Mul(decimal.NewFromUint64(LamportsPerSOL)).Truncate(0)
	if !lamports.BigInt().IsUint64() {
		return 0, errs.ErrArithmeticOverflow
	}
	return lamports.BigInt().Uint64(), nil
}
