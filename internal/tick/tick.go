// Package tick provides integer log-scale price arithmetic.
//
// A tick t encodes the price 1.0001^t, measured as sell tokens paid per
// buy token received. Lower ticks favor the seller. All rounding is
// against the taker so that rounding can never be used to slip past a
// price ceiling.
package tick

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"liquidity-router/internal/domain"
)

const (
	// Base is the price ratio of two adjacent ticks.
	Base = 1.0001

	// MinTick and MaxTick bound the representable price range.
	MinTick = domain.Tick(-1_000_000)
	MaxTick = domain.Tick(1_000_000)

	// floatGuard absorbs float noise so exact power-of-base ratios do
	// not round up an extra tick.
	floatGuard = 1e-9

	// pricePrecision is the decimal precision for tick price expansion.
	pricePrecision = 18
)

var lnBase = math.Log(Base)

// Arithmetic errors
var (
	ErrZeroVolume  = errors.New("tick: volume must be positive")
	ErrOutOfRange  = errors.New("tick: outside representable range")
	ErrFeeTooLarge = errors.New("tick: fee must be below 100%")
)

// FromVolumes converts an executed (amountIn, amountOut) pair into the
// implied tick, rounded up (against the taker). The result is
// deterministic for a given input pair.
func FromVolumes(amountIn, amountOut uint64) (domain.Tick, error) {
	if amountIn == 0 || amountOut == 0 {
		return 0, ErrZeroVolume
	}

	raw := (math.Log(float64(amountIn)) - math.Log(float64(amountOut))) / lnBase
	t := domain.Tick(math.Ceil(raw - floatGuard))

	if t < MinTick || t > MaxTick {
		return 0, fmt.Errorf("%w: %d", ErrOutOfRange, t)
	}
	return t, nil
}

// ConvertAcrossConvention maps a trade-direction tick into the canonical
// pair orientation used by venues (lexicographically smaller token
// first). Selling the canonical base leaves the tick unchanged; selling
// the other side negates it. The conversion is its own inverse.
func ConvertAcrossConvention(tokenIn, tokenOut string, t domain.Tick) domain.Tick {
	if tokenIn < tokenOut {
		return t
	}
	return -t
}

// AdjustForFee tightens a price ceiling to pre-compensate a venue fee
// charged on input, expressed in basis points. The shift is rounded up,
// so the fee-inclusive realized price can never exceed the original
// ceiling.
func AdjustForFee(t domain.Tick, feeBps uint32) (domain.Tick, error) {
	if feeBps >= 10_000 {
		return 0, fmt.Errorf("%w: %d bps", ErrFeeTooLarge, feeBps)
	}
	if feeBps == 0 {
		return t, nil
	}

	keep := 1 - float64(feeBps)/10_000
	shift := domain.Tick(math.Ceil(-math.Log(keep)/lnBase - floatGuard))
	adjusted := t - shift

	if adjusted < MinTick || adjusted > MaxTick {
		return 0, fmt.Errorf("%w: %d", ErrOutOfRange, adjusted)
	}
	return adjusted, nil
}

// Price expands a tick into its decimal price (sell per buy).
func Price(t domain.Tick) (decimal.Decimal, error) {
	if t < MinTick || t > MaxTick {
		return decimal.Zero, fmt.Errorf("%w: %d", ErrOutOfRange, t)
	}
	return decimal.New(10_001, -4).PowWithPrecision(
		decimal.NewFromInt(int64(t)), pricePrecision)
}

// AmountOutAt returns the buy amount for amountIn executed exactly at
// tick t, rounded down (against the taker).
func AmountOutAt(t domain.Tick, amountIn uint64) (uint64, error) {
	p, err := Price(t)
	if err != nil {
		return 0, err
	}
	out := decimal.NewFromUint64(amountIn).DivRound(p, pricePrecision).Floor()
	if !out.IsPositive() {
		return 0, nil
	}
	return out.BigInt().Uint64(), nil
}

// WithinCeiling reports whether an executed (amountIn, amountOut) pair
// settles at or below the ceiling.
func WithinCeiling(amountIn, amountOut uint64, ceiling domain.Tick) bool {
	t, err := FromVolumes(amountIn, amountOut)
	if err != nil {
		return false
	}
	return t <= ceiling
}
