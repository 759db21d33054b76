package clpool

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Tick domain bounds (spec.md §6). The curve is partitioned at every
// tick i such that sqrtPrice = 1.0001^(i/2); these are the limits at
// which Q64.96 sqrt-price arithmetic stays inside 160 bits.
const (
	MinTick = -887272
	MaxTick = 887272
)

// FeeDenominator is the divisor for fee, in hundredths of a basis point.
const FeeDenominator = 1_000_000

// OracleCapacity is the fixed size of the observation ring buffer.
const OracleCapacity = 65535

var (
	zeroBig = big.NewInt(0)
	oneBig  = big.NewInt(1)

	// Q96 = 2^96, the fixed-point scale of sqrtPriceX96.
	q96Big = new(big.Int).Lsh(oneBig, 96)
	// Q128 = 2^128, the fixed-point scale of fee-growth accumulators.
	q128Big = new(big.Int).Lsh(oneBig, 128)

	// MinSqrtRatio / MaxSqrtRatio bound sqrtPriceX96 (spec.md §6).
	minSqrtRatioBig, _ = new(big.Int).SetString("4295128739", 10)
	maxSqrtRatioBig, _ = new(big.Int).SetString("1461446703485210103287273052203988822378723970342", 10)

	maxUint128Big = new(big.Int).Sub(new(big.Int).Lsh(oneBig, 128), oneBig)
	maxUint256Big = new(big.Int).Sub(new(big.Int).Lsh(oneBig, 256), oneBig)
	maxInt128Big  = new(big.Int).Sub(new(big.Int).Lsh(oneBig, 127), oneBig)
	minInt128Big  = new(big.Int).Neg(new(big.Int).Lsh(oneBig, 127))

	// Q96, Q128, MinSqrtRatio, MaxSqrtRatio, ZERO, ONE exposed as
	// decimal.Decimal for callers working at the public API surface,
	// mirroring the teacher's package-level ZERO/ONE/Q128 constants.
	ZERO         = decimal.Zero
	ONE          = decimal.NewFromInt(1)
	Q96          = decimal.NewFromBigInt(q96Big, 0)
	Q128         = decimal.NewFromBigInt(q128Big, 0)
	MinSqrtRatio = decimal.NewFromBigInt(minSqrtRatioBig, 0)
	MaxSqrtRatio = decimal.NewFromBigInt(maxSqrtRatioBig, 0)
	MaxUint128   = decimal.NewFromBigInt(maxUint128Big, 0)
)

// feeTierTickSpacing mirrors daoleno/uniswapv3-sdk's constants.TickSpacings
// table (500/3000/10000 -> 10/60/200), kept local so pool construction
// doesn't need the SDK's FeeAmount type to validate a tier.
var feeTierTickSpacing = map[int64]int64{
	100:   1,
	500:   10,
	3000:  60,
	10000: 200,
}

// TickSpacingForFee returns the canonical tick spacing for a fee tier,
// or false if the tier isn't one of the recognized ones.
func TickSpacingForFee(fee int64) (int64, bool) {
	ts, ok := feeTierTickSpacing[fee]
	return ts, ok
}

// TickSpacingToMaxLiquidityPerTick computes floor(MaxUint128 / numUsableTicks)
// for the given tick spacing (spec.md §3).
func TickSpacingToMaxLiquidityPerTick(tickSpacing int64) decimal.Decimal {
	minTick := (MinTick / tickSpacing) * tickSpacing
	maxTick := (MaxTick / tickSpacing) * tickSpacing
	numTicks := (maxTick-minTick)/tickSpacing + 1
	max := new(big.Int).Div(maxUint128Big, big.NewInt(numTicks))
	return decimal.NewFromBigInt(max, 0)
}
