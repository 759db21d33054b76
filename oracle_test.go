package clpool

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestOracleInitializeSeedsSlotZero(t *testing.T) {
	o := NewOracle()
	o.Initialize(100)
	require.Equal(t, 1, o.Cardinality)
	require.Equal(t, 1, o.CardinalityNext)
	require.True(t, o.Observations[0].Initialized)
	require.Equal(t, uint32(100), o.Observations[0].BlockTimestamp)
}

func TestOracleWriteIsNoOpWithinSameBlock(t *testing.T) {
	o := NewOracle()
	o.Initialize(100)
	idx, card := o.Write(0, 100, 5, decimal.NewFromInt(1000), 1, 1)
	require.Equal(t, 0, idx)
	require.Equal(t, 1, card)
}

func TestOracleWriteAccumulatesTickAndGrows(t *testing.T) {
	o := NewOracle()
	o.Initialize(0)
	o.Grow(1, 3)

	idx, card := o.Write(0, 10, 5, decimal.NewFromInt(1000), 1, 3)
	require.Equal(t, 1, idx)
	require.Equal(t, 3, card)
	require.True(t, o.Observations[1].Initialized)
	require.True(t, o.Observations[1].TickCumulative.Equal(decimal.NewFromInt(50)))
}

func TestOracleObserveSingleAtZeroSecondsAgo(t *testing.T) {
	o := NewOracle()
	o.Initialize(0)
	_, _ = o.Write(0, 10, 5, decimal.NewFromInt(1000), 1, 1)

	tc, _, err := o.ObserveSingle(10, 0, 5, 0, decimal.NewFromInt(1000), 1)
	require.NoError(t, err)
	require.True(t, tc.Equal(decimal.NewFromInt(50)))
}

func TestOracleObserveSingleExtrapolatesPastNewestObservation(t *testing.T) {
	o := NewOracle()
	o.Initialize(0)
	o.Grow(1, 2)
	idx, card := o.Write(0, 10, 5, decimal.NewFromInt(1000), 1, 2)

	// Halfway between t=10 (tickCumulative=50) and "now" t=20 at tick=5,
	// tickCumulative should have advanced by another 25 to reach 75.
	tc, _, err := o.ObserveSingle(20, 5, 5, idx, decimal.NewFromInt(1000), card)
	require.NoError(t, err)
	require.True(t, tc.Equal(decimal.NewFromInt(75)), "got %s", tc)
}

func TestOracleObserveSingleRejectsTooOldTarget(t *testing.T) {
	o := NewOracle()
	o.Initialize(100)

	_, _, err := o.ObserveSingle(200, 150, 5, 0, decimal.NewFromInt(1000), 1)
	require.Error(t, err)
}

func TestOracleGrowIsMonotonicAndIdempotent(t *testing.T) {
	o := NewOracle()
	o.Initialize(0)
	require.Equal(t, 5, o.Grow(1, 5))
	require.Equal(t, 5, o.Grow(5, 3), "growing to a smaller target is a no-op")
}
