// Package storage persists CorePool state between process restarts.
// This is genuinely optional: the pool is a working in-memory state
// machine without it. It exists to give gorm.io/gorm, the glebarez
// pure-Go sqlite driver, and the GORM driver.Valuer pattern a concrete
// home, matching the teacher's own CorePool/TokenPositionManager
// persistence (TickBook, PositionBook and Oracle already implement
// GormDataType/Value/Scan for exactly this purpose).
package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/lumen-dex/clpool"
)

// Snapshot is the persisted row for one pool: Slot0 plus the three
// JSON-blob columns (ticks+bitmap, positions, oracle) that don't fit a
// relational shape. Grounded on the teacher's CorePool, which embeds
// gorm.Model directly and stores TickManager/PositionManager the same
// way via their own Scan/Value pair; this module keeps CorePool itself
// free of a persistence embedding (so the core has zero dependency on
// gorm) and instead maps it onto this dedicated row type at the
// storage boundary.
type Snapshot struct {
	gorm.Model
	PoolAddress string `gorm:"uniqueIndex"`
	Token0      string
	Token1      string
	Fee         int64
	TickSpacing int64

	SqrtPriceX96               string
	Tick                       int
	ObservationIndex           int
	ObservationCardinality     int
	ObservationCardinalityNext int
	FeeProtocol0               uint8
	FeeProtocol1               uint8
	Unlocked                   bool

	Liquidity            string
	FeeGrowthGlobal0X128 string
	FeeGrowthGlobal1X128 string
	ProtocolFeesToken0   string
	ProtocolFeesToken1   string

	Ticks     *clpool.TickBook     `gorm:"type:JSON"`
	Positions *clpool.PositionBook `gorm:"type:JSON"`
	Oracle    *clpool.Oracle       `gorm:"type:JSON"`
}

func (Snapshot) TableName() string { return "clpool_snapshots" }

// Store persists and restores CorePool snapshots keyed by pool address.
// A thin wrapper over *gorm.DB rather than an interface with multiple
// backends: the teacher only ever targets sqlite, and SPEC_FULL.md's
// persistence story is optional infrastructure, not a pluggable
// multi-backend subsystem.
type Store struct {
	db *gorm.DB
}

// Open runs the auto-migration and returns a ready Store. Callers
// typically construct db with glebarez/sqlite (gorm.Open(sqlite.Open(path), ...)),
// the teacher's pure-Go driver, chosen over cgo's mattn/go-sqlite3 for
// the same reason the teacher chose it — no cgo toolchain required at
// build time.
func Open(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Snapshot{}); err != nil {
		return nil, fmt.Errorf("storage: automigrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Save upserts the pool's current state, keyed by PoolAddress. Mirrors
// the teacher's CorePool.Flush(db *gorm.DB), which branches on a
// HasCreated bool between db.Create and db.Model(p).Updates; here the
// branch is decided by looking the row up on the unique PoolAddress
// index: db.Create when none exists, otherwise gorm's Save over the
// existing row's ID, since Snapshot is a dedicated row type rather
// than the live CorePool itself.
func (s *Store) Save(p *clpool.CorePool) error {
	row := Snapshot{
		PoolAddress:          p.PoolAddress.Hex(),
		Token0:               p.Token0.Hex(),
		Token1:               p.Token1.Hex(),
		Fee:                  int64(p.Fee),
		TickSpacing:          p.TickSpacing,
		SqrtPriceX96:               p.Slot0.SqrtPriceX96.String(),
		Tick:                       p.Slot0.Tick,
		ObservationIndex:           p.Slot0.ObservationIndex,
		ObservationCardinality:     p.Slot0.ObservationCardinality,
		ObservationCardinalityNext: p.Slot0.ObservationCardinalityNext,
		FeeProtocol0:               p.Slot0.FeeProtocol0,
		FeeProtocol1:               p.Slot0.FeeProtocol1,
		Unlocked:                   p.Slot0.Unlocked,
		Liquidity:            p.Liquidity.String(),
		FeeGrowthGlobal0X128: p.FeeGrowthGlobal0X128.String(),
		FeeGrowthGlobal1X128: p.FeeGrowthGlobal1X128.String(),
		ProtocolFeesToken0:   p.ProtocolFeesToken0.String(),
		ProtocolFeesToken1:   p.ProtocolFeesToken1.String(),
		Ticks:                p.Ticks,
		Positions:            p.Positions,
		Oracle:               p.Oracle,
	}

	var existing Snapshot
	err := s.db.Where("pool_address = ?", row.PoolAddress).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		return s.db.Create(&row).Error
	}
	if err != nil {
		return fmt.Errorf("storage: lookup snapshot: %w", err)
	}
	row.Model = existing.Model
	return s.db.Save(&row).Error
}

// Load restores a CorePool by address, reconstructing Slot0 and the
// three sparse collections from their JSON columns. The caller
// supplies Reserves/Publisher since those are runtime wiring,
// not persisted state (spec.md's Non-goals: no token ledger in core).
func (s *Store) Load(poolAddress common.Address, reserves clpool.Reserves, publisher clpool.Publisher) (*clpool.CorePool, error) {
	var row Snapshot
	if err := s.db.Where("pool_address = ?", poolAddress.Hex()).First(&row).Error; err != nil {
		return nil, fmt.Errorf("storage: load snapshot: %w", err)
	}

	fee := clpool.FeeAmount(row.Fee)
	cfg, err := clpool.NewPoolConfig(common.HexToAddress(row.Token0), common.HexToAddress(row.Token1), fee, row.TickSpacing)
	if err != nil {
		return nil, err
	}
	pool := clpool.NewCorePoolFromConfig(common.HexToAddress(row.PoolAddress), cfg)
	pool.Reserves = reserves
	pool.Publisher = publisher

	sqrtPrice, err := decimal.NewFromString(row.SqrtPriceX96)
	if err != nil {
		return nil, fmt.Errorf("storage: parse sqrtPriceX96: %w", err)
	}
	liquidity, err := decimal.NewFromString(row.Liquidity)
	if err != nil {
		return nil, fmt.Errorf("storage: parse liquidity: %w", err)
	}
	feeGrowth0, err := decimal.NewFromString(row.FeeGrowthGlobal0X128)
	if err != nil {
		return nil, fmt.Errorf("storage: parse feeGrowthGlobal0X128: %w", err)
	}
	feeGrowth1, err := decimal.NewFromString(row.FeeGrowthGlobal1X128)
	if err != nil {
		return nil, fmt.Errorf("storage: parse feeGrowthGlobal1X128: %w", err)
	}
	protocol0, err := decimal.NewFromString(row.ProtocolFeesToken0)
	if err != nil {
		return nil, fmt.Errorf("storage: parse protocolFeesToken0: %w", err)
	}
	protocol1, err := decimal.NewFromString(row.ProtocolFeesToken1)
	if err != nil {
		return nil, fmt.Errorf("storage: parse protocolFeesToken1: %w", err)
	}

	pool.Slot0 = clpool.Slot0{
		SqrtPriceX96:               sqrtPrice,
		Tick:                       row.Tick,
		ObservationIndex:           row.ObservationIndex,
		ObservationCardinality:     row.ObservationCardinality,
		ObservationCardinalityNext: row.ObservationCardinalityNext,
		FeeProtocol0:               row.FeeProtocol0,
		FeeProtocol1:               row.FeeProtocol1,
		Unlocked:                   row.Unlocked,
	}
	pool.Liquidity = liquidity
	pool.FeeGrowthGlobal0X128 = feeGrowth0
	pool.FeeGrowthGlobal1X128 = feeGrowth1
	pool.ProtocolFeesToken0 = protocol0
	pool.ProtocolFeesToken1 = protocol1
	if row.Ticks != nil {
		pool.Ticks = row.Ticks
	}
	if row.Positions != nil {
		pool.Positions = row.Positions
	}
	if row.Oracle != nil {
		pool.Oracle = row.Oracle
	}
	return pool, nil
}
