package clpool

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestTickBookUpdateFlipsOnFirstAndLastLiquidity(t *testing.T) {
	tb := NewTickBook()
	maxLiq := decimal.NewFromInt(1_000_000)

	flipped, err := tb.Update(10, 0, decimal.NewFromInt(100), ZERO, ZERO, ZERO, ZERO, ZERO, false, maxLiq)
	require.NoError(t, err)
	require.True(t, flipped)

	flipped, err = tb.Update(10, 0, decimal.NewFromInt(50), ZERO, ZERO, ZERO, ZERO, ZERO, false, maxLiq)
	require.NoError(t, err)
	require.False(t, flipped)

	flipped, err = tb.Update(10, 0, decimal.NewFromInt(-150), ZERO, ZERO, ZERO, ZERO, ZERO, false, maxLiq)
	require.NoError(t, err)
	require.True(t, flipped)
}

func TestTickBookUpdateExceedsMaxLiquidity(t *testing.T) {
	tb := NewTickBook()
	maxLiq := decimal.NewFromInt(100)
	_, err := tb.Update(10, 0, decimal.NewFromInt(200), ZERO, ZERO, ZERO, ZERO, ZERO, false, maxLiq)
	require.Error(t, err)
}

func TestTickBookLiquidityNetSignByUpperLower(t *testing.T) {
	tb := NewTickBook()
	maxLiq := decimal.NewFromInt(1_000_000)
	delta := decimal.NewFromInt(100)

	_, err := tb.Update(10, 0, delta, ZERO, ZERO, ZERO, ZERO, ZERO, false, maxLiq)
	require.NoError(t, err)
	require.True(t, tb.Get(10).LiquidityNet.Equal(delta))

	_, err = tb.Update(20, 0, delta, ZERO, ZERO, ZERO, ZERO, ZERO, true, maxLiq)
	require.NoError(t, err)
	require.True(t, tb.Get(20).LiquidityNet.Equal(delta.Neg()))
}

func TestGetFeeGrowthInsideSplitsOnCurrentTick(t *testing.T) {
	tb := NewTickBook()
	maxLiq := decimal.NewFromInt(1_000_000)

	globalFee0 := decimal.NewFromInt(1000)
	globalFee1 := decimal.NewFromInt(2000)

	// Current tick is inside [lower, upper] at the moment both ticks are
	// first initialized, so only the lower tick (at or below the current
	// tick) seeds its outside accumulators to the current global value;
	// the upper tick's stay zero (the "all growth happened below"
	// convention).
	_, err := tb.Update(-10, 0, decimal.NewFromInt(100), globalFee0, globalFee1, ZERO, ZERO, ZERO, false, maxLiq)
	require.NoError(t, err)
	_, err = tb.Update(10, 0, decimal.NewFromInt(100), globalFee0, globalFee1, ZERO, ZERO, ZERO, true, maxLiq)
	require.NoError(t, err)

	inside0, inside1 := tb.GetFeeGrowthInside(-10, 10, 0, globalFee0, globalFee1)
	require.True(t, inside0.IsZero(), "no fees should have accrued yet")
	require.True(t, inside1.IsZero())

	// Accrue more fees globally, then the position's slice of it should
	// now show up as the growth inside its range.
	grownFee0 := globalFee0.Add(decimal.NewFromInt(500))
	grownFee1 := globalFee1.Add(decimal.NewFromInt(700))
	inside0, inside1 = tb.GetFeeGrowthInside(-10, 10, 0, grownFee0, grownFee1)
	require.True(t, inside0.Equal(decimal.NewFromInt(500)))
	require.True(t, inside1.Equal(decimal.NewFromInt(700)))
}

func TestTickCrossFlipsOutsideAccumulators(t *testing.T) {
	tb := NewTickBook()
	maxLiq := decimal.NewFromInt(1_000_000)
	_, err := tb.Update(10, 0, decimal.NewFromInt(100), ZERO, ZERO, ZERO, ZERO, ZERO, false, maxLiq)
	require.NoError(t, err)

	liquidityNet := tb.Cross(10, decimal.NewFromInt(1000), decimal.NewFromInt(2000), decimal.NewFromInt(5), decimal.NewFromInt(6), decimal.NewFromInt(7))
	require.True(t, liquidityNet.Equal(decimal.NewFromInt(100)))
	require.True(t, tb.Get(10).FeeGrowthOutside0X128.Equal(decimal.NewFromInt(1000)))
}

func TestTickClearRemovesRecord(t *testing.T) {
	tb := NewTickBook()
	maxLiq := decimal.NewFromInt(1_000_000)
	_, err := tb.Update(10, 0, decimal.NewFromInt(100), ZERO, ZERO, ZERO, ZERO, ZERO, false, maxLiq)
	require.NoError(t, err)
	require.True(t, tb.Get(10).Initialized)

	tb.Clear(10)
	require.False(t, tb.Get(10).Initialized)
}

func TestCheckTickOrderingAndRange(t *testing.T) {
	require.NoError(t, checkTick(-10, 10))
	require.Error(t, checkTick(10, 10))
	require.Error(t, checkTick(MinTick-1, 10))
	require.Error(t, checkTick(-10, MaxTick+1))
}
