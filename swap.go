package clpool

import "github.com/shopspring/decimal"

// C6: a single swap step across one tick-bounded price range. Grounded
// on the teacher's `HandleSwap`, which calls `utils.ComputeSwapStep`
// from daoleno/uniswapv3-sdk directly — here reimplemented over this
// module's own C1 primitives for the same reason the tick-math itself
// is hand-built (SPEC_FULL.md §5): the swap step is where all of C1's
// rounding-direction guarantees actually get exercised.
//
// amountRemaining follows the Solidity convention: positive means
// "amountRemaining of the input token is still owed to the pool"
// (exact-input), negative means "amountRemaining (negated) of the
// output token is still owed to the trader" (exact-output).
func computeSwapStep(
	sqrtRatioCurrentX96, sqrtRatioTargetX96, liquidity, amountRemaining decimal.Decimal,
	feePips int64,
) (sqrtRatioNextX96, amountIn, amountOut, feeAmount decimal.Decimal, err error) {
	zeroForOne := sqrtRatioCurrentX96.Cmp(sqrtRatioTargetX96) >= 0
	exactIn := amountRemaining.Sign() >= 0

	feePipsDec := decimal.NewFromInt(feePips)
	millionDec := decimal.NewFromInt(FeeDenominator)

	if exactIn {
		amountRemainingLessFeeBig, mErr := MulDiv(amountRemaining.BigInt(), millionDec.Sub(feePipsDec).BigInt(), millionDec.BigInt())
		if mErr != nil {
			return ZERO, ZERO, ZERO, ZERO, mErr
		}
		amountRemainingLessFee := decimal.NewFromBigInt(amountRemainingLessFeeBig, 0)

		if zeroForOne {
			amountIn, err = GetAmount0DeltaRounded(sqrtRatioTargetX96, sqrtRatioCurrentX96, liquidity, true)
		} else {
			amountIn, err = GetAmount1DeltaRounded(sqrtRatioCurrentX96, sqrtRatioTargetX96, liquidity, true)
		}
		if err != nil {
			return ZERO, ZERO, ZERO, ZERO, err
		}

		if amountRemainingLessFee.Cmp(amountIn) >= 0 {
			sqrtRatioNextX96 = sqrtRatioTargetX96
		} else {
			sqrtRatioNextX96, err = GetNextSqrtPriceFromInput(sqrtRatioCurrentX96, liquidity, amountRemainingLessFee, zeroForOne)
			if err != nil {
				return ZERO, ZERO, ZERO, ZERO, err
			}
		}
	} else {
		if zeroForOne {
			amountOut, err = GetAmount1DeltaRounded(sqrtRatioTargetX96, sqrtRatioCurrentX96, liquidity, false)
		} else {
			amountOut, err = GetAmount0DeltaRounded(sqrtRatioCurrentX96, sqrtRatioTargetX96, liquidity, false)
		}
		if err != nil {
			return ZERO, ZERO, ZERO, ZERO, err
		}

		negRemaining := amountRemaining.Neg()
		if negRemaining.Cmp(amountOut) >= 0 {
			sqrtRatioNextX96 = sqrtRatioTargetX96
		} else {
			sqrtRatioNextX96, err = GetNextSqrtPriceFromOutput(sqrtRatioCurrentX96, liquidity, negRemaining, zeroForOne)
			if err != nil {
				return ZERO, ZERO, ZERO, ZERO, err
			}
		}
	}

	max := sqrtRatioTargetX96.Equal(sqrtRatioNextX96)

	if zeroForOne {
		if !(max && exactIn) {
			amountIn, err = GetAmount0DeltaRounded(sqrtRatioNextX96, sqrtRatioCurrentX96, liquidity, true)
			if err != nil {
				return ZERO, ZERO, ZERO, ZERO, err
			}
		}
		if !(max && !exactIn) {
			amountOut, err = GetAmount1DeltaRounded(sqrtRatioNextX96, sqrtRatioCurrentX96, liquidity, false)
			if err != nil {
				return ZERO, ZERO, ZERO, ZERO, err
			}
		}
	} else {
		if !(max && exactIn) {
			amountIn, err = GetAmount1DeltaRounded(sqrtRatioCurrentX96, sqrtRatioNextX96, liquidity, true)
			if err != nil {
				return ZERO, ZERO, ZERO, ZERO, err
			}
		}
		if !(max && !exactIn) {
			amountOut, err = GetAmount0DeltaRounded(sqrtRatioCurrentX96, sqrtRatioNextX96, liquidity, false)
			if err != nil {
				return ZERO, ZERO, ZERO, ZERO, err
			}
		}
	}

	if !exactIn && amountOut.Cmp(amountRemaining.Neg()) > 0 {
		amountOut = amountRemaining.Neg()
	}

	if exactIn && !sqrtRatioNextX96.Equal(sqrtRatioTargetX96) {
		feeAmount = amountRemaining.Sub(amountIn)
	} else {
		feeAmountBig, mErr := MulDivRoundingUp(amountIn.BigInt(), feePipsDec.BigInt(), millionDec.Sub(feePipsDec).BigInt())
		if mErr != nil {
			return ZERO, ZERO, ZERO, ZERO, mErr
		}
		feeAmount = decimal.NewFromBigInt(feeAmountBig, 0)
	}

	return sqrtRatioNextX96, amountIn, amountOut, feeAmount, nil
}
