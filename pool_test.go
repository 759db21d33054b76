package clpool

import (
	"testing"

	"github.com/daoleno/uniswapv3-sdk/constants"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// fakeReserves is a trivial in-memory ledger satisfying the Reserves
// interface, standing in for a real token contract so Mint/Swap/Flash
// can verify payment by balance delta and Collect/CollectProtocol/Flash
// can actually move tokens out, the way spec.md §6/§9 require.
type fakeReserves struct {
	bal0, bal1 decimal.Decimal
}

func newFakeReserves() *fakeReserves {
	return &fakeReserves{}
}

func (f *fakeReserves) Balance0() decimal.Decimal { return f.bal0 }
func (f *fakeReserves) Balance1() decimal.Decimal { return f.bal1 }

func (f *fakeReserves) Transfer0(to common.Address, amount decimal.Decimal) error {
	f.bal0 = f.bal0.Sub(amount)
	return nil
}

func (f *fakeReserves) Transfer1(to common.Address, amount decimal.Decimal) error {
	f.bal1 = f.bal1.Sub(amount)
	return nil
}

func (f *fakeReserves) credit0(amount decimal.Decimal) { f.bal0 = f.bal0.Add(amount) }
func (f *fakeReserves) credit1(amount decimal.Decimal) { f.bal1 = f.bal1.Add(amount) }

func newTestPool(t *testing.T) (*CorePool, *fakeReserves) {
	t.Helper()
	token0 := common.HexToAddress("0xA0")
	token1 := common.HexToAddress("0xB0")
	cfg, err := NewPoolConfig(token0, token1, constants.FeeMedium, 0)
	require.NoError(t, err)

	pool := NewCorePoolFromConfig(common.HexToAddress("0xC0"), cfg)
	reserves := newFakeReserves()
	pool.Reserves = reserves

	// sqrtPriceX96 for a 1:1 price is exactly Q96.
	require.NoError(t, pool.Initialize(Q96, 1_000))
	return pool, reserves
}

func payInFull(reserves *fakeReserves) MintCallback {
	return func(amount0Owed, amount1Owed decimal.Decimal, data []byte) error {
		reserves.credit0(amount0Owed)
		reserves.credit1(amount1Owed)
		return nil
	}
}

func TestPoolInitializeTwiceFails(t *testing.T) {
	pool, _ := newTestPool(t)
	err := pool.Initialize(Q96, 2_000)
	require.Error(t, err)
}

func TestPoolMintRequiresPositiveAmount(t *testing.T) {
	pool, _ := newTestPool(t)
	_, _, err := pool.Mint(common.HexToAddress("0x1"), -60, 60, ZERO, 1_001, nil, nil)
	require.Error(t, err)
}

func TestPoolMintBurnCollectRoundTrip(t *testing.T) {
	pool, reserves := newTestPool(t)
	recipient := common.HexToAddress("0x1")
	cb := payInFull(reserves)

	amount0, amount1, err := pool.Mint(recipient, -600, 600, decimal.NewFromInt(1_000_000), 1_001, nil, cb)
	require.NoError(t, err)
	require.True(t, amount0.Sign() > 0)
	require.True(t, amount1.Sign() > 0)
	require.True(t, pool.Liquidity.Equal(decimal.NewFromInt(1_000_000)), "current tick sits inside the minted range")

	burn0, burn1, err := pool.Burn(recipient, -600, 600, decimal.NewFromInt(1_000_000), 1_002)
	require.NoError(t, err)
	require.True(t, pool.Liquidity.IsZero())

	// Burning the exact liquidity just minted returns (at most) what was
	// paid in; rounding only ever favors the pool.
	require.True(t, burn0.LessThanOrEqual(amount0))
	require.True(t, burn1.LessThanOrEqual(amount1))

	collect0, collect1, err := pool.Collect(recipient, recipient, -600, 600, MaxUint128, MaxUint128)
	require.NoError(t, err)
	require.True(t, collect0.Equal(burn0))
	require.True(t, collect1.Equal(burn1))
}

func TestPoolMintOutOfRangeOnlyRequiresOneToken(t *testing.T) {
	pool, reserves := newTestPool(t)
	recipient := common.HexToAddress("0x1")
	cb := payInFull(reserves)

	// Entirely above the current tick (0): only token0 should be owed.
	amount0, amount1, err := pool.Mint(recipient, 600, 1200, decimal.NewFromInt(500_000), 1_001, nil, cb)
	require.NoError(t, err)
	require.True(t, amount0.Sign() > 0)
	require.True(t, amount1.IsZero())
	require.True(t, pool.Liquidity.IsZero(), "minted range doesn't include the current tick")
}

func TestPoolSwapZeroForOneMovesPriceDown(t *testing.T) {
	pool, reserves := newTestPool(t)
	lp := common.HexToAddress("0x1")
	cb := payInFull(reserves)

	_, _, err := pool.Mint(lp, -6000, 6000, decimal.NewFromInt(10_000_000), 1_001, nil, cb)
	require.NoError(t, err)

	trader := common.HexToAddress("0x2")
	startPrice := pool.Slot0.SqrtPriceX96

	swapCb := func(amount0Delta, amount1Delta decimal.Decimal, data []byte) error {
		if amount0Delta.Sign() > 0 {
			reserves.credit0(amount0Delta)
		}
		if amount1Delta.Sign() > 0 {
			reserves.credit1(amount1Delta)
		}
		return nil
	}

	amount0, amount1, err := pool.HandleSwap(trader, true, decimal.NewFromInt(1_000), nil, 1_002, nil, swapCb)
	require.NoError(t, err)
	require.True(t, amount0.Sign() > 0, "trader pays token0 in")
	require.True(t, amount1.Sign() < 0, "trader receives token1 out")
	require.True(t, pool.Slot0.SqrtPriceX96.LessThan(startPrice), "zeroForOne swap must lower the price")
}

func TestPoolSwapZeroAmountRejected(t *testing.T) {
	pool, _ := newTestPool(t)
	_, _, err := pool.HandleSwap(common.HexToAddress("0x1"), true, ZERO, nil, 1_002, nil, nil)
	require.Error(t, err)
}

func TestPoolReentrantCallFailsFast(t *testing.T) {
	pool, reserves := newTestPool(t)
	recipient := common.HexToAddress("0x1")

	reentrant := func(amount0Owed, amount1Owed decimal.Decimal, data []byte) error {
		_, _, err := pool.Mint(recipient, -60, 60, decimal.NewFromInt(1), 1_001, nil, nil)
		require.ErrorIs(t, err, Sentinel(ErrLocked))
		reserves.credit0(amount0Owed)
		reserves.credit1(amount1Owed)
		return nil
	}

	_, _, err := pool.Mint(recipient, -600, 600, decimal.NewFromInt(1_000_000), 1_001, nil, reentrant)
	require.NoError(t, err)
}

func TestPoolSetFeeProtocolValidatesRange(t *testing.T) {
	pool, _ := newTestPool(t)
	caller := common.Address{}
	require.NoError(t, pool.SetFeeProtocol(caller, 0, 0))
	require.NoError(t, pool.SetFeeProtocol(caller, 4, 10))
	require.Error(t, pool.SetFeeProtocol(caller, 1, 0))
	require.Error(t, pool.SetFeeProtocol(caller, 0, 11))
}

// fakeFactory lets tests exercise the factory-owner-only check on
// SetFeeProtocol/CollectProtocol (spec.md §6/§9).
type fakeFactory struct {
	owner common.Address
}

func (f *fakeFactory) Owner() common.Address { return f.owner }

func TestPoolSetFeeProtocolRejectsNonOwner(t *testing.T) {
	pool, _ := newTestPool(t)
	owner := common.HexToAddress("0xF00D")
	pool.Factory = &fakeFactory{owner: owner}

	err := pool.SetFeeProtocol(common.HexToAddress("0xBAD"), 4, 10)
	require.ErrorIs(t, err, Sentinel(ErrUnauthorized))

	require.NoError(t, pool.SetFeeProtocol(owner, 4, 10))
}

func TestPoolCollectProtocolRejectsNonOwner(t *testing.T) {
	pool, _ := newTestPool(t)
	owner := common.HexToAddress("0xF00D")
	pool.Factory = &fakeFactory{owner: owner}

	_, _, err := pool.CollectProtocol(common.HexToAddress("0xBAD"), common.HexToAddress("0x1"), MaxUint128, MaxUint128)
	require.ErrorIs(t, err, Sentinel(ErrUnauthorized))
}

func TestPoolFlashChargesFeeAndRequiresRepayment(t *testing.T) {
	pool, reserves := newTestPool(t)
	lp := common.HexToAddress("0x1")
	cb := payInFull(reserves)
	_, _, err := pool.Mint(lp, -600, 600, decimal.NewFromInt(1_000_000), 1_001, nil, cb)
	require.NoError(t, err)

	borrower := common.HexToAddress("0x2")
	amount0 := decimal.NewFromInt(1000)

	balanceBeforeFlash := reserves.Balance0()

	shortRepay := func(fee0, fee1 decimal.Decimal, data []byte) error {
		// repay principal but not the fee
		reserves.credit0(amount0)
		return nil
	}
	err = pool.Flash(borrower, amount0, ZERO, nil, shortRepay)
	require.Error(t, err)

	fullRepay := func(fee0, fee1 decimal.Decimal, data []byte) error {
		reserves.credit0(amount0.Add(fee0))
		return nil
	}
	err = pool.Flash(borrower, amount0, ZERO, nil, fullRepay)
	require.NoError(t, err)
	require.True(t, pool.FeeGrowthGlobal0X128.Sign() > 0)
	require.True(t, reserves.Balance0().GreaterThan(balanceBeforeFlash), "the fee stays behind in reserves")
}

func TestPoolMintRejectsUnalignedTicks(t *testing.T) {
	pool, reserves := newTestPool(t)
	recipient := common.HexToAddress("0x1")
	cb := payInFull(reserves)

	_, _, err := pool.Mint(recipient, -601, 600, decimal.NewFromInt(1_000_000), 1_001, nil, cb)
	require.ErrorIs(t, err, Sentinel(ErrTickNotSpaced))

	_, _, err = pool.Mint(recipient, -600, 601, decimal.NewFromInt(1_000_000), 1_001, nil, cb)
	require.ErrorIs(t, err, Sentinel(ErrTickNotSpaced))
}
