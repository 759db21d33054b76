package storage_test

import (
	"testing"

	"github.com/daoleno/uniswapv3-sdk/constants"
	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/lumen-dex/clpool"
	"github.com/lumen-dex/clpool/storage"
)

type fakeReserves struct{ bal0, bal1 decimal.Decimal }

func (r *fakeReserves) Balance0() decimal.Decimal { return r.bal0 }
func (r *fakeReserves) Balance1() decimal.Decimal { return r.bal1 }

func (r *fakeReserves) Transfer0(to common.Address, amount decimal.Decimal) error {
	r.bal0 = r.bal0.Sub(amount)
	return nil
}

func (r *fakeReserves) Transfer1(to common.Address, amount decimal.Decimal) error {
	r.bal1 = r.bal1.Sub(amount)
	return nil
}

func newTestPool(t *testing.T) *clpool.CorePool {
	t.Helper()
	token0 := common.HexToAddress("0x1111111111111111111111111111111111111111")
	token1 := common.HexToAddress("0x2222222222222222222222222222222222222222")
	cfg, err := clpool.NewPoolConfig(token0, token1, constants.FeeMedium, 0)
	require.NoError(t, err)
	pool := clpool.NewCorePoolFromConfig(common.HexToAddress("0x3333333333333333333333333333333333333333"), cfg)
	require.NoError(t, pool.Initialize(clpool.Q96, 1_000))
	return pool
}

func openMemoryDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	return db
}

func TestStoreSaveThenLoadRestoresSlot0AndLiquidity(t *testing.T) {
	pool := newTestPool(t)
	reserves := &fakeReserves{bal0: decimal.NewFromInt(1_000_000_000), bal1: decimal.NewFromInt(1_000_000_000)}
	pool.Reserves = reserves

	_, _, err := pool.Mint(common.HexToAddress("0xAAAA"), -600, 600, decimal.NewFromInt(1_000_000), 1_000, nil,
		func(amount0Owed, amount1Owed decimal.Decimal, data []byte) error {
			reserves.bal0 = reserves.bal0.Add(amount0Owed)
			reserves.bal1 = reserves.bal1.Add(amount1Owed)
			return nil
		})
	require.NoError(t, err)

	store, err := storage.Open(openMemoryDB(t))
	require.NoError(t, err)
	require.NoError(t, store.Save(pool))

	loaded, err := store.Load(pool.PoolAddress, reserves, nil)
	require.NoError(t, err)

	require.True(t, loaded.Slot0.SqrtPriceX96.Equal(pool.Slot0.SqrtPriceX96))
	require.Equal(t, pool.Slot0.Tick, loaded.Slot0.Tick)
	require.True(t, loaded.Liquidity.Equal(pool.Liquidity))

	pos, ok := loaded.Positions.Peek(common.HexToAddress("0xAAAA"), -600, 600)
	require.True(t, ok)
	require.True(t, pos.Liquidity.Equal(decimal.NewFromInt(1_000_000)))
}

func TestStoreSaveIsUpsertNotDuplicateRows(t *testing.T) {
	pool := newTestPool(t)
	db := openMemoryDB(t)
	store, err := storage.Open(db)
	require.NoError(t, err)

	require.NoError(t, store.Save(pool))
	pool.Slot0.Tick = 42
	require.NoError(t, store.Save(pool))

	var count int64
	require.NoError(t, db.Model(&storage.Snapshot{}).Where("pool_address = ?", pool.PoolAddress.Hex()).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestStoreLoadUnknownPoolFails(t *testing.T) {
	store, err := storage.Open(openMemoryDB(t))
	require.NoError(t, err)
	_, err = store.Load(common.HexToAddress("0xDEAD"), nil, nil)
	require.Error(t, err)
}
