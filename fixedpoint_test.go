package clpool

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestSqrtRatioTickRoundTrip(t *testing.T) {
	ticks := []int{MinTick, MinTick + 1, -887200, -100000, -1, 0, 1, 100000, 887200, MaxTick - 1, MaxTick}
	for _, tick := range ticks {
		sqrtP, err := GetSqrtRatioAtTick(tick)
		require.NoErrorf(t, err, "tick %d", tick)

		got, err := GetTickAtSqrtRatio(sqrtP)
		require.NoErrorf(t, err, "tick %d", tick)
		require.Equalf(t, tick, got, "round trip mismatch at tick %d (sqrtP=%s)", tick, sqrtP)
	}
}

func TestGetSqrtRatioAtTickMonotonic(t *testing.T) {
	prev, err := GetSqrtRatioAtTick(MinTick)
	require.NoError(t, err)
	for _, tick := range []int{-500000, -1, 0, 1, 500000, MaxTick} {
		cur, err := GetSqrtRatioAtTick(tick)
		require.NoError(t, err)
		require.True(t, cur.Cmp(prev) > 0, "sqrt ratio must strictly increase with tick")
		prev = cur
	}
}

func TestGetSqrtRatioAtTickOutOfRange(t *testing.T) {
	_, err := GetSqrtRatioAtTick(MinTick - 1)
	require.Error(t, err)
	_, err = GetSqrtRatioAtTick(MaxTick + 1)
	require.Error(t, err)
}

func TestGetAmount0DeltaSignRoundsAwayFromPool(t *testing.T) {
	sqrtLower, err := GetSqrtRatioAtTick(-100)
	require.NoError(t, err)
	sqrtUpper, err := GetSqrtRatioAtTick(100)
	require.NoError(t, err)
	lowerDec := decimal.NewFromBigInt(sqrtLower, 0)
	upperDec := decimal.NewFromBigInt(sqrtUpper, 0)

	liquidity := decimal.NewFromInt(1_000_000)

	add, err := GetAmount0Delta(lowerDec, upperDec, liquidity)
	require.NoError(t, err)
	require.True(t, add.Sign() > 0)

	remove, err := GetAmount0Delta(lowerDec, upperDec, liquidity.Neg())
	require.NoError(t, err)
	require.True(t, remove.Sign() < 0)

	// adding then removing the same liquidity never nets the liquidity
	// provider a free token: |remove| <= add.
	require.True(t, remove.Neg().LessThanOrEqual(add))
}

func TestAddDeltaOverflowAndUnderflow(t *testing.T) {
	_, err := AddDelta(ZERO, decimal.NewFromInt(-1))
	require.Error(t, err)

	huge := decimal.NewFromBigInt(maxUint128Big, 0)
	_, err = AddDelta(huge, decimal.NewFromInt(1))
	require.Error(t, err)

	ok, err := AddDelta(decimal.NewFromInt(10), decimal.NewFromInt(-5))
	require.NoError(t, err)
	require.True(t, ok.Equal(decimal.NewFromInt(5)))
}

func TestMulDivRoundingUpVsDown(t *testing.T) {
	a := mustBig("7")
	b := mustBig("3")
	denom := mustBig("2")

	down, err := MulDiv(a, b, denom)
	require.NoError(t, err)
	up, err := MulDivRoundingUp(a, b, denom)
	require.NoError(t, err)

	require.Equal(t, "10", down.String())
	require.Equal(t, "11", up.String())
}

func TestMulDivDivisionByZero(t *testing.T) {
	_, err := MulDiv(oneBig, oneBig, zeroBig)
	require.Error(t, err)
}
