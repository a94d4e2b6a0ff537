package math

import (
	"errors"

	"github.com/holiman/uint256"
)

// Fixed-point conventions. Prices are D18 values (1e18 = 1.0 buy-token per
// sell-token); fee schedules are basis points over FeeDenominator; token
// amounts are raw uint64 units.
const (
	// FeeDenominator is the fixed denominator for fee numerators and
	// recipient portions: 10_000 bps = 100%.
	FeeDenominator uint64 = 10_000
)

var (
	// D18 is the price scale (1e18).
	D18 = uint256.NewInt(1_000_000_000_000_000_000)

	ErrOverflow  = errors.New("math overflow")
	ErrDivByZero = errors.New("division by zero")
)

// AddU64 returns a+b or ErrOverflow.
func AddU64(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, ErrOverflow
	}
	return sum, nil
}

// SubU64 returns a-b or ErrOverflow on underflow.
func SubU64(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrOverflow
	}
	return a - b, nil
}

// MulU64 returns a*b or ErrOverflow.
func MulU64(a, b uint64) (uint64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	prod := a * b
	if prod/a != b {
		return 0, ErrOverflow
	}
	return prod, nil
}

// Rounding selects the direction of MulDiv truncation.
type Rounding int

const (
	RoundFloor Rounding = iota
	RoundCeil
)

// MulDiv computes a*b/denom over 256-bit intermediates with the requested
// rounding. The 512-bit product path in uint256 cannot overflow for any pair
// of 256-bit inputs, so only the division and the final fit are checked.
func MulDiv(a, b, denom *uint256.Int, rounding Rounding) (*uint256.Int, error) {
	if denom.IsZero() {
		return nil, ErrDivByZero
	}

	prod, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}

	quo := new(uint256.Int)
	rem := new(uint256.Int)
	quo.DivMod(prod, denom, rem)

	if rounding == RoundCeil && !rem.IsZero() {
		var carry bool
		quo, carry = quo.AddOverflow(quo, one)
		if carry {
			return nil, ErrOverflow
		}
	}

	return quo, nil
}

// MulDivU64 is MulDiv for uint64 operands with a uint64 result.
func MulDivU64(a, b, denom uint64, rounding Rounding) (uint64, error) {
	quo, err := MulDiv(uint256.NewInt(a), uint256.NewInt(b), uint256.NewInt(denom), rounding)
	if err != nil {
		return 0, err
	}
	if !quo.IsUint64() {
		return 0, ErrOverflow
	}
	return quo.Uint64(), nil
}

var one = uint256.NewInt(1)

// Lerp computes the monotone non-increasing linear interpolation between
// start (at t=0) and end (at t=span) evaluated at elapsed. Callers clamp
// elapsed into [0, span]. Requires start >= end.
func Lerp(start, end *uint256.Int, elapsed, span uint64) (*uint256.Int, error) {
	if span == 0 || elapsed >= span {
		return new(uint256.Int).Set(end), nil
	}
	if elapsed == 0 {
		return new(uint256.Int).Set(start), nil
	}
	if start.Lt(end) {
		return nil, ErrOverflow
	}

	drop := new(uint256.Int).Sub(start, end)
	step, err := MulDiv(drop, uint256.NewInt(elapsed), uint256.NewInt(span), RoundFloor)
	if err != nil {
		return nil, err
	}

	return new(uint256.Int).Sub(start, step), nil
}

// U256FromU64 is a readability helper for call sites mixing scales.
func U256FromU64(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}
