package clpool

import (
	"database/sql/driver"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// C4: per-position liquidity and uncollected fees. Grounded on the
// teacher's `PositionManager`/`updatePosition` (referenced by name in
// pool.go, not included in the pack) and on `GetPositionKey`, also
// referenced there — reconstructed here with go-ethereum's Keccak-256,
// the same primitive Solidity's `keccak256(abi.encodePacked(owner,
// tickLower, tickUpper))` reduces to, since go-ethereum is already the
// teacher's dependency for on-chain identifiers.
type Position struct {
	Liquidity                decimal.Decimal
	FeeGrowthInside0LastX128 decimal.Decimal
	FeeGrowthInside1LastX128 decimal.Decimal
	TokensOwed0              decimal.Decimal
	TokensOwed1              decimal.Decimal
}

// PositionKey is the Keccak-256 of (owner, tickLower, tickUpper),
// mirroring spec.md §3's position identity.
type PositionKey = common.Hash

// GetPositionKey reconstructs the teacher's referenced helper of the
// same name: a stable hash identity for a position independent of
// insertion order.
func GetPositionKey(owner common.Address, tickLower, tickUpper int) PositionKey {
	buf := make([]byte, 0, 20+8+8)
	buf = append(buf, owner.Bytes()...)
	var loBuf, hiBuf [8]byte
	binary.BigEndian.PutUint64(loBuf[:], uint64(int64(tickLower)))
	binary.BigEndian.PutUint64(hiBuf[:], uint64(int64(tickUpper)))
	buf = append(buf, loBuf[:]...)
	buf = append(buf, hiBuf[:]...)
	return crypto.Keccak256Hash(buf)
}

// PositionBook owns every position opened against a pool.
type PositionBook struct {
	positions map[PositionKey]*Position
}

func NewPositionBook() *PositionBook {
	return &PositionBook{positions: make(map[PositionKey]*Position)}
}

// Get returns the position for (owner, tickLower, tickUpper),
// creating an empty record on first access (matching Solidity's
// zero-valued storage slot semantics).
func (pb *PositionBook) Get(owner common.Address, tickLower, tickUpper int) (*Position, PositionKey) {
	key := GetPositionKey(owner, tickLower, tickUpper)
	pos, ok := pb.positions[key]
	if !ok {
		pos = &Position{Liquidity: ZERO, FeeGrowthInside0LastX128: ZERO, FeeGrowthInside1LastX128: ZERO, TokensOwed0: ZERO, TokensOwed1: ZERO}
		pb.positions[key] = pos
	}
	return pos, key
}

// Peek is like Get but never creates a record, for read-only callers
// (e.g. positionnft.Manager.Position).
func (pb *PositionBook) Peek(owner common.Address, tickLower, tickUpper int) (*Position, bool) {
	pos, ok := pb.positions[GetPositionKey(owner, tickLower, tickUpper)]
	return pos, ok
}

// Update applies a liquidity delta to a position and accrues owed fees
// from the fee-growth-inside snapshot handed to it by the caller
// (which in turn comes from TickBook.GetFeeGrowthInside), per spec.md
// §4.4. A liquidityDelta of zero is allowed only against an
// already-liquid position (pure fee collection / "poke").
func (pb *PositionBook) Update(pos *Position, liquidityDelta decimal.Decimal, feeGrowthInside0X128, feeGrowthInside1X128 decimal.Decimal) error {
	var liquidityNext decimal.Decimal
	if liquidityDelta.Sign() == 0 {
		if pos.Liquidity.Sign() <= 0 {
			return newErr(ErrZeroAmount, "cannot poke a position with no liquidity")
		}
		liquidityNext = pos.Liquidity
	} else {
		next, err := AddDelta(pos.Liquidity, liquidityDelta)
		if err != nil {
			return err
		}
		liquidityNext = next
	}

	diff0 := wrapU256(feeGrowthInside0X128.Sub(pos.FeeGrowthInside0LastX128))
	diff1 := wrapU256(feeGrowthInside1X128.Sub(pos.FeeGrowthInside1LastX128))

	tokensOwed0, err := MulDiv(diff0.BigInt(), pos.Liquidity.BigInt(), q128Big)
	if err != nil {
		return err
	}
	tokensOwed1, err := MulDiv(diff1.BigInt(), pos.Liquidity.BigInt(), q128Big)
	if err != nil {
		return err
	}

	if liquidityDelta.Sign() != 0 {
		pos.Liquidity = liquidityNext
	}
	pos.FeeGrowthInside0LastX128 = feeGrowthInside0X128
	pos.FeeGrowthInside1LastX128 = feeGrowthInside1X128

	owed0 := decimal.NewFromBigInt(tokensOwed0, 0)
	owed1 := decimal.NewFromBigInt(tokensOwed1, 0)
	if owed0.Sign() > 0 || owed1.Sign() > 0 {
		pos.TokensOwed0 = pos.TokensOwed0.Add(owed0)
		pos.TokensOwed1 = pos.TokensOwed1.Add(owed1)
	}
	return nil
}

// GormDataType reports the column type GORM should use for a
// PositionBook, matching TickBook's single-JSON-column treatment
// (spec.md §4.5).
func (pb *PositionBook) GormDataType() string { return "JSON" }

func (pb *PositionBook) Value() (driver.Value, error) {
	bs, err := json.Marshal(pb.positions)
	if err != nil {
		return nil, err
	}
	return string(bs), nil
}

func (pb *PositionBook) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	case nil:
		return nil
	default:
		return fmt.Errorf("clpool: cannot scan %T into PositionBook", value)
	}
	positions := make(map[PositionKey]*Position)
	if err := json.Unmarshal(raw, &positions); err != nil {
		return err
	}
	pb.positions = positions
	return nil
}
