package clpool

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestPositionBookGetCreatesZeroValueOnFirstAccess(t *testing.T) {
	pb := NewPositionBook()
	owner := common.HexToAddress("0x1")

	pos, key := pb.Get(owner, -10, 10)
	require.True(t, pos.Liquidity.IsZero())

	again, key2 := pb.Get(owner, -10, 10)
	require.Equal(t, key, key2)
	require.Same(t, pos, again)
}

func TestPositionBookPeekDoesNotCreate(t *testing.T) {
	pb := NewPositionBook()
	owner := common.HexToAddress("0x1")

	_, ok := pb.Peek(owner, -10, 10)
	require.False(t, ok)

	pb.Get(owner, -10, 10)
	_, ok = pb.Peek(owner, -10, 10)
	require.True(t, ok)
}

func TestPositionKeyDependsOnAllThreeFields(t *testing.T) {
	owner := common.HexToAddress("0x1")
	other := common.HexToAddress("0x2")

	k1 := GetPositionKey(owner, -10, 10)
	k2 := GetPositionKey(owner, -10, 20)
	k3 := GetPositionKey(other, -10, 10)
	k4 := GetPositionKey(owner, -20, 10)
	require.NotEqual(t, k1, k2)
	require.NotEqual(t, k1, k3)
	require.NotEqual(t, k1, k4)
}

func TestPositionUpdateAccruesFeesOnPoke(t *testing.T) {
	pb := NewPositionBook()
	owner := common.HexToAddress("0x1")
	pos, _ := pb.Get(owner, -10, 10)

	err := pb.Update(pos, decimal.NewFromInt(1000), ZERO, ZERO)
	require.NoError(t, err)
	require.True(t, pos.Liquidity.Equal(decimal.NewFromInt(1000)))

	// Fee growth inside advances by Q128 (one token per unit of
	// liquidity); with liquidity=1000 the owed amount should land on
	// exactly 1000.
	growthDelta := Q128
	err = pb.Update(pos, ZERO, growthDelta, ZERO)
	require.NoError(t, err)
	require.True(t, pos.TokensOwed0.Equal(decimal.NewFromInt(1000)))
	require.True(t, pos.TokensOwed1.IsZero())
}

func TestPositionUpdatePokeWithoutLiquidityFails(t *testing.T) {
	pb := NewPositionBook()
	owner := common.HexToAddress("0x1")
	pos, _ := pb.Get(owner, -10, 10)

	err := pb.Update(pos, ZERO, ZERO, ZERO)
	require.Error(t, err)
}

func TestPositionUpdateLiquidityUnderflowFails(t *testing.T) {
	pb := NewPositionBook()
	owner := common.HexToAddress("0x1")
	pos, _ := pb.Get(owner, -10, 10)

	err := pb.Update(pos, decimal.NewFromInt(100), ZERO, ZERO)
	require.NoError(t, err)

	err = pb.Update(pos, decimal.NewFromInt(-200), ZERO, ZERO)
	require.Error(t, err)
}
