package clpool

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// This file implements C1: Q64.96 / Q128.128 fixed-point math with
// checked 512-bit-capable intermediates (math/big.Int has no fixed
// width, so overflow is enforced by explicit range checks rather than
// relying on wraparound). Every entry point here is pure and
// deterministic; nothing here touches floating point.
//
// The tick <-> sqrt-price conversion and the amount-delta formulas
// below follow the well-known Uniswap V3 TickMath/SqrtPriceMath
// constants referenced in spec.md §4.1/§6 (the same bit-magic constant
// table shows up, in decimal form, across the whole CLMM-on-EVM
// ecosystem — e.g. the Orca/Raydium Go ports in the SolRoute pack
// compute the analogous Q64 sqrt-price-squared relation by hand rather
// than importing a library for it). DESIGN.md records the grounding.

// MulDiv computes floor(a*b/denom) with an exact (arbitrary-width)
// intermediate product, failing MathOverflow if denom is zero or the
// result doesn't fit in 256 bits.
func MulDiv(a, b, denom *big.Int) (*big.Int, error) {
	if denom.Sign() == 0 {
		return nil, newErr(ErrMathOverflow, "mulDiv: division by zero")
	}
	product := new(big.Int).Mul(a, b)
	result := new(big.Int).Div(product, denom)
	if result.CmpAbs(maxUint256Big) > 0 {
		return nil, newErr(ErrMathOverflow, "mulDiv: result exceeds 256 bits")
	}
	return result, nil
}

// MulDivRoundingUp computes ceil(a*b/denom).
func MulDivRoundingUp(a, b, denom *big.Int) (*big.Int, error) {
	result, err := MulDiv(a, b, denom)
	if err != nil {
		return nil, err
	}
	product := new(big.Int).Mul(a, b)
	rem := new(big.Int).Mod(product, denom)
	if rem.Sign() != 0 {
		result = new(big.Int).Add(result, oneBig)
		if result.CmpAbs(maxUint256Big) > 0 {
			return nil, newErr(ErrMathOverflow, "mulDivRoundingUp: result exceeds 256 bits")
		}
	}
	return result, nil
}

func divRoundingUp(a, b *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(a, b, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, oneBig)
	}
	return q
}

// GetSqrtRatioAtTick returns sqrt(1.0001^tick) * 2^96 as an integer,
// for tick in [MinTick, MaxTick].
func GetSqrtRatioAtTick(tick int) (*big.Int, error) {
	if tick < MinTick || tick > MaxTick {
		return nil, newErr(ErrTickOutOfRange, "tick %d outside [%d, %d]", tick, MinTick, MaxTick)
	}
	absTick := tick
	if absTick < 0 {
		absTick = -absTick
	}

	ratio := new(big.Int)
	if absTick&0x1 != 0 {
		ratio.SetString("fffcb933bd6fad37aa2d162d1a594001", 16)
	} else {
		ratio.SetString("100000000000000000000000000000000", 16)
	}
	apply := func(hex string) {
		c := new(big.Int)
		c.SetString(hex, 16)
		ratio.Mul(ratio, c)
		ratio.Rsh(ratio, 128)
	}
	if absTick&0x2 != 0 {
		apply("fff97272373d413259a46990580e213a")
	}
	if absTick&0x4 != 0 {
		apply("fff2e50f5f656932ef12357cf3c7fdcc")
	}
	if absTick&0x8 != 0 {
		apply("ffe5caca7e10e4e61c3624eaa0941cd0")
	}
	if absTick&0x10 != 0 {
		apply("ffcb9843d60f6159c9db58835c926644")
	}
	if absTick&0x20 != 0 {
		apply("ff973b41fa98c081472e6896dfb254c0")
	}
	if absTick&0x40 != 0 {
		apply("ff2ea16466c96a3843ec78b326b52861")
	}
	if absTick&0x80 != 0 {
		apply("fe5dee046a99a2a811c461f1969c3053")
	}
	if absTick&0x100 != 0 {
		apply("fcbe86c7900a88aedcffc83b479aa3a4")
	}
	if absTick&0x200 != 0 {
		apply("f987a7253ac413176f2b074cf7815e54")
	}
	if absTick&0x400 != 0 {
		apply("f3392b0822b70005940c7a398e4b70f3")
	}
	if absTick&0x800 != 0 {
		apply("e7159475a2c29b7443b29c7fa6e889d9")
	}
	if absTick&0x1000 != 0 {
		apply("d097f3bdfd2022b8845ad8f792aa5825")
	}
	if absTick&0x2000 != 0 {
		apply("a9f746462d870fdf8a65dc1f90e061e5")
	}
	if absTick&0x4000 != 0 {
		apply("70d869a156d2a1b890bb3df62baf32f7")
	}
	if absTick&0x8000 != 0 {
		apply("31be135f97d08fd981231505542fcfa6")
	}
	if absTick&0x10000 != 0 {
		apply("9aa508b5b7a84e1c677de54f3e99bc9")
	}
	if absTick&0x20000 != 0 {
		apply("5d6af8dedb81196699c329225ee604")
	}
	if absTick&0x40000 != 0 {
		apply("2216e584f5fa1ea926041bedfe98")
	}
	if absTick&0x80000 != 0 {
		apply("48a170391f7dc42444e8fa2")
	}

	if tick > 0 {
		ratio = new(big.Int).Div(maxUint256Big, ratio)
	}

	// ratio is Q128.128; convert to Q128.96 rounding up.
	shifted := new(big.Int).Rsh(ratio, 32)
	mod := new(big.Int).And(ratio, new(big.Int).Sub(new(big.Int).Lsh(oneBig, 32), oneBig))
	if mod.Sign() != 0 {
		shifted.Add(shifted, oneBig)
	}
	return shifted, nil
}

// GetTickAtSqrtRatio is the monotone inverse of GetSqrtRatioAtTick:
// the largest tick such that GetSqrtRatioAtTick(tick) <= sqrtPriceX96.
func GetTickAtSqrtRatio(sqrtPriceX96 *big.Int) (int, error) {
	if sqrtPriceX96.Cmp(minSqrtRatioBig) < 0 || sqrtPriceX96.Cmp(maxSqrtRatioBig) > 0 {
		return 0, newErr(ErrBadSqrtPriceLimit, "sqrtPriceX96 %s outside [%s, %s]", sqrtPriceX96, minSqrtRatioBig, maxSqrtRatioBig)
	}

	ratio := new(big.Int).Lsh(sqrtPriceX96, 32)
	msb := ratio.BitLen() - 1

	r := new(big.Int)
	if msb >= 128 {
		r.Rsh(ratio, uint(msb-127))
	} else {
		r.Lsh(ratio, uint(127-msb))
	}

	log2 := new(big.Int).Lsh(big.NewInt(int64(msb-128)), 64)

	for _, bit := range []uint{63, 62, 61, 60, 59, 58, 57, 56, 55, 54, 53, 52, 51, 50} {
		r.Mul(r, r)
		r.Rsh(r, 127)
		f := new(big.Int).Rsh(r, 128)
		if f.Sign() != 0 {
			log2.Or(log2, new(big.Int).Lsh(f, bit))
			r.Rsh(r, 1)
		}
	}

	logSqrt10001 := new(big.Int).Mul(log2, big.NewInt(255738958999603826))
	// The reference constant 255738958999603826347141 does not fit in an
	// int64, so the product is recomputed with it parsed as a big.Int.
	logSqrt10001 = new(big.Int).Mul(log2, mustBig("255738958999603826347141"))

	tickLowBig := new(big.Int).Sub(logSqrt10001, mustBig("3402992956809132418596140100660247210"))
	tickLowBig.Rsh(tickLowBig, 128)
	tickHiBig := new(big.Int).Add(logSqrt10001, mustBig("291339464771989622907027621153398088495"))
	tickHiBig.Rsh(tickHiBig, 128)

	tickLow := int(tickLowBig.Int64())
	tickHi := int(tickHiBig.Int64())

	if tickLow == tickHi {
		return tickLow, nil
	}
	sqrtAtHi, err := GetSqrtRatioAtTick(tickHi)
	if err != nil {
		return 0, err
	}
	if sqrtAtHi.Cmp(sqrtPriceX96) <= 0 {
		return tickHi, nil
	}
	return tickLow, nil
}

func mustBig(s string) *big.Int {
	b, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("clpool: bad constant " + s)
	}
	return b
}

func getAmount0DeltaUnsigned(sqrtA, sqrtB, liquidity *big.Int, roundUp bool) (*big.Int, error) {
	if sqrtA.Cmp(sqrtB) > 0 {
		sqrtA, sqrtB = sqrtB, sqrtA
	}
	if sqrtA.Sign() <= 0 {
		return nil, newErr(ErrMathOverflow, "getAmount0Delta: sqrtRatioAX96 must be positive")
	}
	numerator1 := new(big.Int).Lsh(liquidity, 96)
	numerator2 := new(big.Int).Sub(sqrtB, sqrtA)

	if roundUp {
		tmp, err := MulDivRoundingUp(numerator1, numerator2, sqrtB)
		if err != nil {
			return nil, err
		}
		return divRoundingUp(tmp, sqrtA), nil
	}
	tmp, err := MulDiv(numerator1, numerator2, sqrtB)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Div(tmp, sqrtA), nil
}

func getAmount1DeltaUnsigned(sqrtA, sqrtB, liquidity *big.Int, roundUp bool) (*big.Int, error) {
	if sqrtA.Cmp(sqrtB) > 0 {
		sqrtA, sqrtB = sqrtB, sqrtA
	}
	numerator := new(big.Int).Sub(sqrtB, sqrtA)
	if roundUp {
		return MulDivRoundingUp(liquidity, numerator, q96Big)
	}
	return MulDiv(liquidity, numerator, q96Big)
}

// GetAmount0Delta returns the signed amount0 needed to move liquidity
// (which may itself be signed) between the two sqrt prices, rounding
// up when liquidity is added (pool is owed tokens) and down when
// liquidity is removed (pool pays out) — spec.md §9 note 3.
func GetAmount0Delta(sqrtRatioAX96, sqrtRatioBX96, liquidityDelta decimal.Decimal) (decimal.Decimal, error) {
	a, b := sqrtRatioAX96.BigInt(), sqrtRatioBX96.BigInt()
	if liquidityDelta.Sign() < 0 {
		amt, err := getAmount0DeltaUnsigned(a, b, new(big.Int).Neg(liquidityDelta.BigInt()), false)
		if err != nil {
			return ZERO, err
		}
		return decimal.NewFromBigInt(new(big.Int).Neg(amt), 0), nil
	}
	amt, err := getAmount0DeltaUnsigned(a, b, liquidityDelta.BigInt(), true)
	if err != nil {
		return ZERO, err
	}
	return decimal.NewFromBigInt(amt, 0), nil
}

// GetAmount1Delta is the amount1 analogue of GetAmount0Delta.
func GetAmount1Delta(sqrtRatioAX96, sqrtRatioBX96, liquidityDelta decimal.Decimal) (decimal.Decimal, error) {
	a, b := sqrtRatioAX96.BigInt(), sqrtRatioBX96.BigInt()
	if liquidityDelta.Sign() < 0 {
		amt, err := getAmount1DeltaUnsigned(a, b, new(big.Int).Neg(liquidityDelta.BigInt()), false)
		if err != nil {
			return ZERO, err
		}
		return decimal.NewFromBigInt(new(big.Int).Neg(amt), 0), nil
	}
	amt, err := getAmount1DeltaUnsigned(a, b, liquidityDelta.BigInt(), true)
	if err != nil {
		return ZERO, err
	}
	return decimal.NewFromBigInt(amt, 0), nil
}

// GetAmount0DeltaRounded is the unsigned, round-direction-explicit form
// used by the swap loop (spec.md §4.1), exposed at the decimal boundary.
func GetAmount0DeltaRounded(sqrtA, sqrtB, liquidity decimal.Decimal, roundUp bool) (decimal.Decimal, error) {
	amt, err := getAmount0DeltaUnsigned(sqrtA.BigInt(), sqrtB.BigInt(), liquidity.BigInt(), roundUp)
	if err != nil {
		return ZERO, err
	}
	return decimal.NewFromBigInt(amt, 0), nil
}

// GetAmount1DeltaRounded is the unsigned amount1 analogue.
func GetAmount1DeltaRounded(sqrtA, sqrtB, liquidity decimal.Decimal, roundUp bool) (decimal.Decimal, error) {
	amt, err := getAmount1DeltaUnsigned(sqrtA.BigInt(), sqrtB.BigInt(), liquidity.BigInt(), roundUp)
	if err != nil {
		return ZERO, err
	}
	return decimal.NewFromBigInt(amt, 0), nil
}

func getNextSqrtPriceFromAmount0RoundingUp(sqrtPX96, liquidity, amount *big.Int, add bool) (*big.Int, error) {
	if amount.Sign() == 0 {
		return new(big.Int).Set(sqrtPX96), nil
	}
	numerator1 := new(big.Int).Lsh(liquidity, 96)
	product := new(big.Int).Mul(amount, sqrtPX96)

	var denom *big.Int
	if add {
		denom = new(big.Int).Add(numerator1, product)
	} else {
		denom = new(big.Int).Sub(numerator1, product)
		if denom.Sign() <= 0 {
			return nil, newErr(ErrMathOverflow, "getNextSqrtPriceFromAmount0: liquidity insufficient for output amount")
		}
	}
	return MulDivRoundingUp(numerator1, sqrtPX96, denom)
}

func getNextSqrtPriceFromAmount1RoundingDown(sqrtPX96, liquidity, amount *big.Int, add bool) (*big.Int, error) {
	if add {
		quotient, err := MulDiv(amount, q96Big, liquidity)
		if err != nil {
			return nil, err
		}
		return new(big.Int).Add(sqrtPX96, quotient), nil
	}
	quotient, err := MulDivRoundingUp(amount, q96Big, liquidity)
	if err != nil {
		return nil, err
	}
	if sqrtPX96.Cmp(quotient) <= 0 {
		return nil, newErr(ErrMathOverflow, "getNextSqrtPriceFromAmount1: liquidity insufficient for output amount")
	}
	return new(big.Int).Sub(sqrtPX96, quotient), nil
}

// GetNextSqrtPriceFromInput computes the sqrt price reached by adding
// amountIn of the input token (exact-in partial step), per spec.md §4.1.
func GetNextSqrtPriceFromInput(sqrtPX96, liquidity, amountIn decimal.Decimal, zeroForOne bool) (decimal.Decimal, error) {
	if sqrtPX96.Sign() <= 0 || liquidity.Sign() <= 0 {
		return ZERO, newErr(ErrMathOverflow, "getNextSqrtPriceFromInput: price and liquidity must be positive")
	}
	var result *big.Int
	var err error
	if zeroForOne {
		result, err = getNextSqrtPriceFromAmount0RoundingUp(sqrtPX96.BigInt(), liquidity.BigInt(), amountIn.BigInt(), true)
	} else {
		result, err = getNextSqrtPriceFromAmount1RoundingDown(sqrtPX96.BigInt(), liquidity.BigInt(), amountIn.BigInt(), true)
	}
	if err != nil {
		return ZERO, err
	}
	return decimal.NewFromBigInt(result, 0), nil
}

// GetNextSqrtPriceFromOutput computes the sqrt price reached by taking
// amountOut of the output token (exact-out partial step).
func GetNextSqrtPriceFromOutput(sqrtPX96, liquidity, amountOut decimal.Decimal, zeroForOne bool) (decimal.Decimal, error) {
	if sqrtPX96.Sign() <= 0 || liquidity.Sign() <= 0 {
		return ZERO, newErr(ErrMathOverflow, "getNextSqrtPriceFromOutput: price and liquidity must be positive")
	}
	var result *big.Int
	var err error
	if zeroForOne {
		result, err = getNextSqrtPriceFromAmount1RoundingDown(sqrtPX96.BigInt(), liquidity.BigInt(), amountOut.BigInt(), false)
	} else {
		result, err = getNextSqrtPriceFromAmount0RoundingUp(sqrtPX96.BigInt(), liquidity.BigInt(), amountOut.BigInt(), false)
	}
	if err != nil {
		return ZERO, err
	}
	return decimal.NewFromBigInt(result, 0), nil
}

// AddDelta adds a signed liquidity delta to an unsigned liquidity
// counter, failing LiquidityOverflow on underflow past zero or
// overflow past 2^128-1. Grounded on the teacher's own AddDelta
// (referenced, not included, in the retrieved pack) and Solidity's
// LiquidityMath.addDelta.
func AddDelta(x, delta decimal.Decimal) (decimal.Decimal, error) {
	result := x.Add(delta)
	if result.Sign() < 0 {
		return ZERO, newErr(ErrLiquidityOverflow, "liquidity underflow: %s + %s < 0", x, delta)
	}
	if result.BigInt().CmpAbs(maxUint128Big) > 0 {
		return ZERO, newErr(ErrLiquidityOverflow, "liquidity overflow: %s + %s exceeds uint128", x, delta)
	}
	return result, nil
}
