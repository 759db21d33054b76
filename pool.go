package clpool

import (
	"math/big"
	"sync"

	"github.com/daoleno/uniswapv3-sdk/constants"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// FeeAmount mirrors the teacher's type of the same name, kept as a
// thin alias over daoleno/uniswapv3-sdk's constants.FeeAmount so callers can
// still pass e.g. constants.FeeMedium without this module redefining
// the table.
type FeeAmount = constants.FeeAmount

// PoolConfig is the set of immutable parameters a pool is constructed
// with, extended from the teacher's PoolConfig with the fields a
// complete pool façade needs (spec.md §3/§4.7): a default protocol fee
// split and the oracle's initial cardinality target.
type PoolConfig struct {
	Token0, Token1             common.Address
	Fee                        FeeAmount
	TickSpacing                int64
	FeeProtocol0, FeeProtocol1 uint8
	ObservationCardinalityNext int
}

// NewPoolConfig builds a PoolConfig, filling in the canonical tick
// spacing for the fee tier when the caller leaves it zero (teacher's
// NewPoolConfig takes TickSpacing as a bare argument with no
// validation; this module adds the lookup since spec.md §3 requires
// tick spacing to be derived from the fee tier, not arbitrary).
func NewPoolConfig(token0, token1 common.Address, fee FeeAmount, tickSpacing int64) (*PoolConfig, error) {
	if tickSpacing == 0 {
		ts, ok := TickSpacingForFee(int64(fee))
		if !ok {
			return nil, newErr(ErrBadFeeProtocol, "fee tier %d has no canonical tick spacing; pass one explicitly", fee)
		}
		tickSpacing = ts
	}
	return &PoolConfig{
		Token0:                     token0,
		Token1:                     token1,
		Fee:                        fee,
		TickSpacing:                tickSpacing,
		ObservationCardinalityNext: 1,
	}, nil
}

// Slot0 packs the state read on every operation, matching spec.md §3.
type Slot0 struct {
	SqrtPriceX96               decimal.Decimal
	Tick                       int
	ObservationIndex           int
	ObservationCardinality     int
	ObservationCardinalityNext int
	FeeProtocol0, FeeProtocol1 uint8
	Unlocked                   bool
}

// CorePool is the pool façade (C7): it owns the tick book, position
// book and oracle, and is the sole mutator of all three. Grounded on
// the teacher's CorePool, generalized from a single-writer simulator
// struct into the full state machine spec.md §4.7 describes — mint/
// burn/collect/flash/protocol-fee operations, a real reentrancy guard,
// and optional collaborators (Reserves, Publisher) injected rather
// than assumed.
type CorePool struct {
	PoolAddress         common.Address
	Token0, Token1      common.Address
	Fee                 FeeAmount
	TickSpacing         int64
	MaxLiquidityPerTick decimal.Decimal

	Slot0                Slot0
	Liquidity            decimal.Decimal
	FeeGrowthGlobal0X128 decimal.Decimal
	FeeGrowthGlobal1X128 decimal.Decimal
	ProtocolFeesToken0   decimal.Decimal
	ProtocolFeesToken1   decimal.Decimal

	Ticks     *TickBook
	Positions *PositionBook
	Oracle    *Oracle

	Reserves  Reserves
	Publisher Publisher
	Factory   Factory
	Logger    *logrus.Logger

	mu sync.Mutex
}

// NewCorePoolFromConfig constructs an uninitialized pool — Slot0 is
// zero-valued (SqrtPriceX96 == ZERO signals "not yet initialized",
// matching the teacher's own check in Initialize) until Initialize is
// called.
func NewCorePoolFromConfig(addr common.Address, config *PoolConfig) *CorePool {
	logger := logrus.StandardLogger()
	return &CorePool{
		PoolAddress:         addr,
		Token0:              config.Token0,
		Token1:              config.Token1,
		Fee:                 config.Fee,
		TickSpacing:         config.TickSpacing,
		MaxLiquidityPerTick: TickSpacingToMaxLiquidityPerTick(config.TickSpacing),

		Slot0: Slot0{
			SqrtPriceX96:               ZERO,
			ObservationCardinalityNext: config.ObservationCardinalityNext,
			FeeProtocol0:               config.FeeProtocol0,
			FeeProtocol1:               config.FeeProtocol1,
			Unlocked:                   true,
		},
		Liquidity:            ZERO,
		FeeGrowthGlobal0X128: ZERO,
		FeeGrowthGlobal1X128: ZERO,
		ProtocolFeesToken0:   ZERO,
		ProtocolFeesToken1:   ZERO,

		Ticks:     NewTickBook(),
		Positions: NewPositionBook(),
		Oracle:    NewOracle(),
		Logger:    logger,
	}
}

// lock acquires the pool's single mutex without blocking, so a
// reentrant call (typically a callback invoking another pool method)
// fails fast with ErrLocked instead of deadlocking — spec.md §5's
// concurrency model.
func (p *CorePool) lock() error {
	if !p.mu.TryLock() {
		return newErr(ErrLocked, "pool %s: reentrant call", p.PoolAddress)
	}
	return nil
}

func (p *CorePool) unlock() { p.mu.Unlock() }

// Initialize sets the pool's starting price, per spec.md §4.7. now is
// the caller-supplied wall-clock time (unix seconds) the oracle seeds
// its first observation with; this module takes time as an explicit
// parameter throughout rather than reading a hidden clock, since a
// library has no implicit block context the way the on-chain original
// does (DESIGN.md records this as an Open Question resolution).
func (p *CorePool) Initialize(sqrtPriceX96 decimal.Decimal, now uint32) error {
	if err := p.lock(); err != nil {
		return err
	}
	defer p.unlock()

	if !p.Slot0.SqrtPriceX96.IsZero() {
		return newErr(ErrAlreadyInitialized, "pool %s already initialized", p.PoolAddress)
	}
	tick, err := GetTickAtSqrtRatio(sqrtPriceX96.BigInt())
	if err != nil {
		return err
	}

	p.Oracle.Initialize(now)
	p.Slot0.SqrtPriceX96 = sqrtPriceX96
	p.Slot0.Tick = tick
	p.Slot0.ObservationIndex = 0
	p.Slot0.ObservationCardinality = 1
	if p.Slot0.ObservationCardinalityNext < 1 {
		p.Slot0.ObservationCardinalityNext = 1
	}
	p.Slot0.Unlocked = true

	if logrus.GetLevel() >= logrus.DebugLevel {
		p.logger().Debugf("pool %s initialized at sqrtPriceX96=%s tick=%d", p.PoolAddress, sqrtPriceX96, tick)
	}
	p.publish(Event{Kind: EventInitialize, SqrtPriceX96: sqrtPriceX96, Tick: tick})
	return nil
}

func (p *CorePool) logger() *logrus.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return logrus.StandardLogger()
}

// checkTicks validates a tick range against both the global bounds and
// the pool's tick spacing (spec.md §3/§7): a tick not divisible by
// tickSpacing would compress to a different tick than it was stored
// under (tick.go's TickBook keys on the raw tick, but
// TickBitmap.FlipTick flips the floor-divided compressed tick), so
// rejecting misalignment here keeps the two in sync.
func checkTicks(tickLower, tickUpper int, tickSpacing int64) error {
	if !(tickLower < tickUpper) {
		return newErr(ErrTickMisordered, "tickLower %d must be < tickUpper %d", tickLower, tickUpper)
	}
	if tickLower < MinTick {
		return newErr(ErrTickOutOfRange, "tickLower %d below MinTick %d", tickLower, MinTick)
	}
	if tickUpper > MaxTick {
		return newErr(ErrTickOutOfRange, "tickUpper %d above MaxTick %d", tickUpper, MaxTick)
	}
	if int64(tickLower)%tickSpacing != 0 {
		return newErr(ErrTickNotSpaced, "tickLower %d not a multiple of tickSpacing %d", tickLower, tickSpacing)
	}
	if int64(tickUpper)%tickSpacing != 0 {
		return newErr(ErrTickNotSpaced, "tickUpper %d not a multiple of tickSpacing %d", tickUpper, tickSpacing)
	}
	return nil
}

// checkOwner enforces the factory-owner-only ops (setFeeProtocol,
// collectProtocol per spec.md §6/§9); a nil Factory means the embedder
// hasn't wired governance, so no check is enforced.
func (p *CorePool) checkOwner(caller common.Address) error {
	if p.Factory == nil {
		return nil
	}
	if caller != p.Factory.Owner() {
		return newErr(ErrUnauthorized, "caller %s is not the factory owner", caller)
	}
	return nil
}

// modifyPosition applies a signed liquidity delta to a position and
// returns the token amounts owed (positive) or returned (negative),
// mirroring the teacher's modifyPosition/updatePosition split.
func (p *CorePool) modifyPosition(owner common.Address, tickLower, tickUpper int, liquidityDelta decimal.Decimal, now uint32) (*Position, decimal.Decimal, decimal.Decimal, error) {
	if err := checkTicks(tickLower, tickUpper, p.TickSpacing); err != nil {
		return nil, ZERO, ZERO, err
	}

	position, err := p.updatePosition(owner, tickLower, tickUpper, liquidityDelta, now)
	if err != nil {
		return nil, ZERO, ZERO, err
	}

	amount0, amount1 := ZERO, ZERO
	if liquidityDelta.Sign() != 0 {
		tick := p.Slot0.Tick
		switch {
		case tick < tickLower:
			sqrtLower, err := GetSqrtRatioAtTick(tickLower)
			if err != nil {
				return nil, ZERO, ZERO, err
			}
			sqrtUpper, err := GetSqrtRatioAtTick(tickUpper)
			if err != nil {
				return nil, ZERO, ZERO, err
			}
			amount0, err = GetAmount0Delta(decimal.NewFromBigInt(sqrtLower, 0), decimal.NewFromBigInt(sqrtUpper, 0), liquidityDelta)
			if err != nil {
				return nil, ZERO, ZERO, err
			}
		case tick < tickUpper:
			sqrtLower, err := GetSqrtRatioAtTick(tickLower)
			if err != nil {
				return nil, ZERO, ZERO, err
			}
			sqrtUpper, err := GetSqrtRatioAtTick(tickUpper)
			if err != nil {
				return nil, ZERO, ZERO, err
			}
			liquidityBefore := p.Liquidity
			idx, card := p.Oracle.Write(p.Slot0.ObservationIndex, now, tick, liquidityBefore, p.Slot0.ObservationCardinality, p.Slot0.ObservationCardinalityNext)
			p.Slot0.ObservationIndex = idx
			p.Slot0.ObservationCardinality = card

			amount0, err = GetAmount0Delta(p.Slot0.SqrtPriceX96, decimal.NewFromBigInt(sqrtUpper, 0), liquidityDelta)
			if err != nil {
				return nil, ZERO, ZERO, err
			}
			amount1, err = GetAmount1Delta(decimal.NewFromBigInt(sqrtLower, 0), p.Slot0.SqrtPriceX96, liquidityDelta)
			if err != nil {
				return nil, ZERO, ZERO, err
			}
			p.Liquidity, err = AddDelta(liquidityBefore, liquidityDelta)
			if err != nil {
				return nil, ZERO, ZERO, err
			}
		default:
			sqrtLower, err := GetSqrtRatioAtTick(tickLower)
			if err != nil {
				return nil, ZERO, ZERO, err
			}
			sqrtUpper, err := GetSqrtRatioAtTick(tickUpper)
			if err != nil {
				return nil, ZERO, ZERO, err
			}
			amount1, err = GetAmount1Delta(decimal.NewFromBigInt(sqrtLower, 0), decimal.NewFromBigInt(sqrtUpper, 0), liquidityDelta)
			if err != nil {
				return nil, ZERO, ZERO, err
			}
		}
	}
	return position, amount0, amount1, nil
}

func (p *CorePool) updatePosition(owner common.Address, tickLower, tickUpper int, liquidityDelta decimal.Decimal, now uint32) (*Position, error) {
	position, _ := p.Positions.Get(owner, tickLower, tickUpper)
	tick := p.Slot0.Tick

	var flippedLower, flippedUpper bool
	if liquidityDelta.Sign() != 0 {
		tickCumulative, secondsPerLiquidityCumulativeX128, err := p.Oracle.ObserveSingle(now, 0, tick, p.Slot0.ObservationIndex, p.Liquidity, p.Slot0.ObservationCardinality)
		if err != nil {
			return nil, err
		}

		flippedLower, err = p.Ticks.Update(tickLower, tick, liquidityDelta, p.FeeGrowthGlobal0X128, p.FeeGrowthGlobal1X128, secondsPerLiquidityCumulativeX128, tickCumulative, decimal.NewFromInt(int64(now)), false, p.MaxLiquidityPerTick)
		if err != nil {
			return nil, err
		}
		flippedUpper, err = p.Ticks.Update(tickUpper, tick, liquidityDelta, p.FeeGrowthGlobal0X128, p.FeeGrowthGlobal1X128, secondsPerLiquidityCumulativeX128, tickCumulative, decimal.NewFromInt(int64(now)), true, p.MaxLiquidityPerTick)
		if err != nil {
			return nil, err
		}
		if flippedLower {
			p.Ticks.Bitmap.FlipTick(compressTick(tickLower, p.TickSpacing))
		}
		if flippedUpper {
			p.Ticks.Bitmap.FlipTick(compressTick(tickUpper, p.TickSpacing))
		}
	}

	feeGrowthInside0X128, feeGrowthInside1X128 := p.Ticks.GetFeeGrowthInside(tickLower, tickUpper, tick, p.FeeGrowthGlobal0X128, p.FeeGrowthGlobal1X128)
	if err := p.Positions.Update(position, liquidityDelta, feeGrowthInside0X128, feeGrowthInside1X128); err != nil {
		return nil, err
	}

	if liquidityDelta.Sign() < 0 {
		if flippedLower {
			p.Ticks.Clear(tickLower)
		}
		if flippedUpper {
			p.Ticks.Clear(tickUpper)
		}
	}
	return position, nil
}

// Mint opens or adds to a position. The callback settles payment;
// when Reserves is configured the balance delta is checked afterwards
// (spec.md §6 "payment verified by balance delta, not trusted").
func (p *CorePool) Mint(recipient common.Address, tickLower, tickUpper int, amount decimal.Decimal, now uint32, data []byte, cb MintCallback) (decimal.Decimal, decimal.Decimal, error) {
	if err := p.lock(); err != nil {
		return ZERO, ZERO, err
	}
	defer p.unlock()

	if amount.Sign() <= 0 {
		return ZERO, ZERO, newErr(ErrZeroAmount, "mint amount must be > 0")
	}

	_, amount0, amount1, err := p.modifyPosition(recipient, tickLower, tickUpper, amount, now)
	if err != nil {
		return ZERO, ZERO, err
	}

	if err := p.settlePayment(amount0, amount1, data, cb); err != nil {
		return ZERO, ZERO, err
	}

	p.publish(Event{Kind: EventMint, Sender: recipient, Owner: recipient, TickLower: tickLower, TickUpper: tickUpper, Amount: amount, Amount0: amount0, Amount1: amount1})
	return amount0, amount1, nil
}

func (p *CorePool) settlePayment(amount0, amount1 decimal.Decimal, data []byte, cb MintCallback) error {
	if cb == nil {
		if p.Reserves != nil && (amount0.Sign() > 0 || amount1.Sign() > 0) {
			return newErr(ErrInsufficientPayment, "mint/flash requires a payment callback when Reserves is configured")
		}
		return nil
	}
	var before0, before1 decimal.Decimal
	if p.Reserves != nil {
		before0, before1 = p.Reserves.Balance0(), p.Reserves.Balance1()
	}
	if err := cb(amount0, amount1, data); err != nil {
		return wrapErr(ErrInsufficientPayment, err, "payment callback failed")
	}
	if p.Reserves != nil {
		after0, after1 := p.Reserves.Balance0(), p.Reserves.Balance1()
		if amount0.Sign() > 0 && after0.Sub(before0).LessThan(amount0) {
			return newErr(ErrInsufficientPayment, "token0: expected %s, received %s", amount0, after0.Sub(before0))
		}
		if amount1.Sign() > 0 && after1.Sub(before1).LessThan(amount1) {
			return newErr(ErrInsufficientPayment, "token1: expected %s, received %s", amount1, after1.Sub(before1))
		}
	}
	return nil
}

// Burn removes liquidity from a position, crediting the amounts owed
// to the position's tokensOwed rather than paying out directly — the
// caller collects them via Collect (spec.md §4.7).
func (p *CorePool) Burn(owner common.Address, tickLower, tickUpper int, amount decimal.Decimal, now uint32) (decimal.Decimal, decimal.Decimal, error) {
	if err := p.lock(); err != nil {
		return ZERO, ZERO, err
	}
	defer p.unlock()

	position, amount0, amount1, err := p.modifyPosition(owner, tickLower, tickUpper, amount.Neg(), now)
	if err != nil {
		return ZERO, ZERO, err
	}
	amount0 = amount0.Neg()
	amount1 = amount1.Neg()

	if amount0.Sign() > 0 || amount1.Sign() > 0 {
		position.TokensOwed0 = position.TokensOwed0.Add(amount0)
		position.TokensOwed1 = position.TokensOwed1.Add(amount1)
	}

	p.publish(Event{Kind: EventBurn, Owner: owner, TickLower: tickLower, TickUpper: tickUpper, Amount: amount, Amount0: amount0, Amount1: amount1})
	return amount0, amount1, nil
}

// Collect pays out a position's accrued tokensOwed, capped at the
// requested amounts (spec.md §4.7).
func (p *CorePool) Collect(recipient, owner common.Address, tickLower, tickUpper int, amount0Req, amount1Req decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	if err := p.lock(); err != nil {
		return ZERO, ZERO, err
	}
	defer p.unlock()

	if err := checkTicks(tickLower, tickUpper, p.TickSpacing); err != nil {
		return ZERO, ZERO, err
	}
	position, _ := p.Positions.Get(owner, tickLower, tickUpper)

	amount0 := amount0Req
	if amount0.GreaterThan(position.TokensOwed0) {
		amount0 = position.TokensOwed0
	}
	amount1 := amount1Req
	if amount1.GreaterThan(position.TokensOwed1) {
		amount1 = position.TokensOwed1
	}

	if amount0.Sign() > 0 {
		position.TokensOwed0 = position.TokensOwed0.Sub(amount0)
	}
	if amount1.Sign() > 0 {
		position.TokensOwed1 = position.TokensOwed1.Sub(amount1)
	}

	if p.Reserves != nil {
		if amount0.Sign() > 0 {
			if err := p.Reserves.Transfer0(recipient, amount0); err != nil {
				return ZERO, ZERO, wrapErr(ErrInsufficientPayment, err, "collect transfer0 failed")
			}
		}
		if amount1.Sign() > 0 {
			if err := p.Reserves.Transfer1(recipient, amount1); err != nil {
				return ZERO, ZERO, wrapErr(ErrInsufficientPayment, err, "collect transfer1 failed")
			}
		}
	}

	p.publish(Event{Kind: EventCollect, Recipient: recipient, Owner: owner, TickLower: tickLower, TickUpper: tickUpper, Amount0: amount0, Amount1: amount1})
	return amount0, amount1, nil
}

// CollectProtocol pays out the protocol's accrued fee share. Per
// spec.md §6/§9, this op is factory-owner only: caller must match
// Factory.Owner() whenever a Factory is configured.
func (p *CorePool) CollectProtocol(caller, recipient common.Address, amount0Req, amount1Req decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	if err := p.lock(); err != nil {
		return ZERO, ZERO, err
	}
	defer p.unlock()

	if err := p.checkOwner(caller); err != nil {
		return ZERO, ZERO, err
	}

	amount0 := amount0Req
	if amount0.GreaterThan(p.ProtocolFeesToken0) {
		amount0 = p.ProtocolFeesToken0
	}
	amount1 := amount1Req
	if amount1.GreaterThan(p.ProtocolFeesToken1) {
		amount1 = p.ProtocolFeesToken1
	}
	if amount0.Sign() > 0 {
		p.ProtocolFeesToken0 = p.ProtocolFeesToken0.Sub(amount0)
	}
	if amount1.Sign() > 0 {
		p.ProtocolFeesToken1 = p.ProtocolFeesToken1.Sub(amount1)
	}

	if p.Reserves != nil {
		if amount0.Sign() > 0 {
			if err := p.Reserves.Transfer0(recipient, amount0); err != nil {
				return ZERO, ZERO, wrapErr(ErrInsufficientPayment, err, "collectProtocol transfer0 failed")
			}
		}
		if amount1.Sign() > 0 {
			if err := p.Reserves.Transfer1(recipient, amount1); err != nil {
				return ZERO, ZERO, wrapErr(ErrInsufficientPayment, err, "collectProtocol transfer1 failed")
			}
		}
	}

	p.publish(Event{Kind: EventCollectProtocol, Recipient: recipient, Amount0: amount0, Amount1: amount1})
	return amount0, amount1, nil
}

// SetFeeProtocol updates the protocol's share of the swap fee; each
// value is either 0 (off) or in [4, 10] (1/10 to 1/4), the same
// bounds spec.md §4.7 carries over from the reference design. Per
// spec.md §6/§9, this op is factory-owner only.
func (p *CorePool) SetFeeProtocol(caller common.Address, feeProtocol0, feeProtocol1 uint8) error {
	if err := p.lock(); err != nil {
		return err
	}
	defer p.unlock()

	if err := p.checkOwner(caller); err != nil {
		return err
	}

	for _, fp := range []uint8{feeProtocol0, feeProtocol1} {
		if fp != 0 && (fp < 4 || fp > 10) {
			return newErr(ErrBadFeeProtocol, "feeProtocol %d must be 0 or in [4, 10]", fp)
		}
	}
	old0, old1 := p.Slot0.FeeProtocol0, p.Slot0.FeeProtocol1
	p.Slot0.FeeProtocol0 = feeProtocol0
	p.Slot0.FeeProtocol1 = feeProtocol1

	p.publish(Event{Kind: EventSetFeeProtocol, FeeProtocol0: feeProtocol0, FeeProtocol1: feeProtocol1})
	_ = old0
	_ = old1
	return nil
}

// IncreaseObservationCardinalityNext grows the oracle ring's target
// capacity; Write lazily realizes the growth on the next crossing into
// a fresh slot (spec.md §4.5/§4.7), up to OracleCapacity.
func (p *CorePool) IncreaseObservationCardinalityNext(next int) error {
	if err := p.lock(); err != nil {
		return err
	}
	defer p.unlock()

	if next > OracleCapacity {
		return newErr(ErrOracleOld, "observationCardinalityNext %d exceeds capacity %d", next, OracleCapacity)
	}
	old := p.Slot0.ObservationCardinalityNext
	updated := p.Oracle.Grow(old, next)
	p.Slot0.ObservationCardinalityNext = updated

	p.publish(Event{Kind: EventIncreaseObservationCardinalityNext, ObservationCardinalityNextOld: old, ObservationCardinalityNextNew: updated})
	return nil
}

// Flash lends amount0/amount1 against the pool's reserves, transferring
// them out to recipient up front and collecting a fee (computed at the
// pool's fee tier) on repayment, verified by balance delta the same way
// Mint's settlePayment is (spec.md §4.6 "transfers requested amounts").
func (p *CorePool) Flash(recipient common.Address, amount0, amount1 decimal.Decimal, data []byte, cb FlashCallback) error {
	if err := p.lock(); err != nil {
		return err
	}
	defer p.unlock()

	if p.Liquidity.Sign() <= 0 {
		return newErr(ErrZeroAmount, "flash requires active liquidity")
	}

	fee0, err := MulDivRoundingUp(amount0.BigInt(), big.NewInt(int64(p.Fee)), big.NewInt(FeeDenominator))
	if err != nil {
		return err
	}
	fee1, err := MulDivRoundingUp(amount1.BigInt(), big.NewInt(int64(p.Fee)), big.NewInt(FeeDenominator))
	if err != nil {
		return err
	}
	fee0Dec := decimal.NewFromBigInt(fee0, 0)
	fee1Dec := decimal.NewFromBigInt(fee1, 0)

	if p.Reserves != nil && cb == nil && (amount0.Sign() > 0 || amount1.Sign() > 0) {
		return newErr(ErrInsufficientPayment, "flash requires a payment callback when Reserves is configured")
	}

	var before0, before1 decimal.Decimal
	if p.Reserves != nil {
		before0, before1 = p.Reserves.Balance0(), p.Reserves.Balance1()
		if amount0.Sign() > 0 {
			if err := p.Reserves.Transfer0(recipient, amount0); err != nil {
				return wrapErr(ErrInsufficientPayment, err, "flash transfer0 failed")
			}
		}
		if amount1.Sign() > 0 {
			if err := p.Reserves.Transfer1(recipient, amount1); err != nil {
				return wrapErr(ErrInsufficientPayment, err, "flash transfer1 failed")
			}
		}
	}

	if cb != nil {
		if err := cb(fee0Dec, fee1Dec, data); err != nil {
			return wrapErr(ErrInsufficientPayment, err, "flash callback failed")
		}
	}

	if p.Reserves != nil {
		after0 := p.Reserves.Balance0()
		after1 := p.Reserves.Balance1()
		if after0.LessThan(before0.Add(fee0Dec)) {
			return newErr(ErrInsufficientPayment, "flash token0 repayment short: expected %s, have %s", before0.Add(fee0Dec), after0)
		}
		if after1.LessThan(before1.Add(fee1Dec)) {
			return newErr(ErrInsufficientPayment, "flash token1 repayment short: expected %s, have %s", before1.Add(fee1Dec), after1)
		}
	}

	if fee0Dec.Sign() > 0 {
		protocol0 := p.protocolShare(fee0Dec, p.Slot0.FeeProtocol0)
		p.ProtocolFeesToken0 = p.ProtocolFeesToken0.Add(protocol0)
		p.FeeGrowthGlobal0X128 = p.FeeGrowthGlobal0X128.Add(fee0Dec.Sub(protocol0).Mul(Q128).Div(p.Liquidity).Truncate(0))
	}
	if fee1Dec.Sign() > 0 {
		protocol1 := p.protocolShare(fee1Dec, p.Slot0.FeeProtocol1)
		p.ProtocolFeesToken1 = p.ProtocolFeesToken1.Add(protocol1)
		p.FeeGrowthGlobal1X128 = p.FeeGrowthGlobal1X128.Add(fee1Dec.Sub(protocol1).Mul(Q128).Div(p.Liquidity).Truncate(0))
	}

	p.publish(Event{Kind: EventFlash, Recipient: recipient, Amount0: amount0, Amount1: amount1})
	return nil
}

func (p *CorePool) protocolShare(fee decimal.Decimal, feeProtocol uint8) decimal.Decimal {
	if feeProtocol == 0 {
		return ZERO
	}
	return fee.Div(decimal.NewFromInt(int64(feeProtocol))).Truncate(0)
}

type swapState struct {
	amountSpecifiedRemaining decimal.Decimal
	amountCalculated         decimal.Decimal
	sqrtPriceX96             decimal.Decimal
	tick                     int
	liquidity                decimal.Decimal
	feeGrowthGlobalX128      decimal.Decimal
	protocolFee              decimal.Decimal
}

type stepComputations struct {
	sqrtPriceStartX96 decimal.Decimal
	tickNext          int
	initialized       bool
	sqrtPriceNextX96  decimal.Decimal
	amountIn          decimal.Decimal
	amountOut         decimal.Decimal
	feeAmount         decimal.Decimal
}

// HandleSwap runs the full swap loop (C6), walking the tick curve one
// initialized tick at a time until amountSpecified is exhausted or the
// price limit is reached. Grounded closely on the teacher's HandleSwap
// — same state/step split, same loop-iteration cap — generalized to
// use this module's own computeSwapStep/tick-crossing machinery
// instead of delegating to daoleno/uniswapv3-sdk, and extended with
// the payment callback and protocol-fee skim a production façade needs.
func (p *CorePool) HandleSwap(recipient common.Address, zeroForOne bool, amountSpecified decimal.Decimal, sqrtPriceLimitX96 *decimal.Decimal, now uint32, data []byte, cb SwapCallback) (decimal.Decimal, decimal.Decimal, error) {
	if err := p.lock(); err != nil {
		return ZERO, ZERO, err
	}
	defer p.unlock()

	if amountSpecified.Sign() == 0 {
		return ZERO, ZERO, newErr(ErrZeroAmount, "swap amountSpecified must be nonzero")
	}

	var limit decimal.Decimal
	if sqrtPriceLimitX96 != nil {
		limit = *sqrtPriceLimitX96
	} else if zeroForOne {
		limit = MinSqrtRatio.Add(ONE)
	} else {
		limit = MaxSqrtRatio.Sub(ONE)
	}

	if zeroForOne {
		if limit.GreaterThanOrEqual(p.Slot0.SqrtPriceX96) || limit.LessThanOrEqual(MinSqrtRatio) {
			return ZERO, ZERO, newErr(ErrBadSqrtPriceLimit, "sqrtPriceLimitX96 %s invalid for zeroForOne swap at price %s", limit, p.Slot0.SqrtPriceX96)
		}
	} else {
		if limit.LessThanOrEqual(p.Slot0.SqrtPriceX96) || limit.GreaterThanOrEqual(MaxSqrtRatio) {
			return ZERO, ZERO, newErr(ErrBadSqrtPriceLimit, "sqrtPriceLimitX96 %s invalid for oneForZero swap at price %s", limit, p.Slot0.SqrtPriceX96)
		}
	}

	exactInput := amountSpecified.Sign() >= 0

	state := swapState{
		amountSpecifiedRemaining: amountSpecified,
		amountCalculated:         ZERO,
		sqrtPriceX96:             p.Slot0.SqrtPriceX96,
		tick:                     p.Slot0.Tick,
		liquidity:                p.Liquidity,
		protocolFee:              ZERO,
	}
	if zeroForOne {
		state.feeGrowthGlobalX128 = p.FeeGrowthGlobal0X128
	} else {
		state.feeGrowthGlobalX128 = p.FeeGrowthGlobal1X128
	}

	var feeProtocol uint8
	if zeroForOne {
		feeProtocol = p.Slot0.FeeProtocol0
	} else {
		feeProtocol = p.Slot0.FeeProtocol1
	}

	if logrus.GetLevel() >= logrus.DebugLevel {
		p.logger().Debugf("swap start: pool=%s zeroForOne=%t amountSpecified=%s price=%s limit=%s", p.PoolAddress, zeroForOne, amountSpecified, state.sqrtPriceX96, limit)
	}

	var cumulativesComputed bool
	var tickCumulativeAtStart, secondsPerLiquidityAtStart decimal.Decimal

	loopCount := 0
	for state.amountSpecifiedRemaining.Sign() != 0 && !state.sqrtPriceX96.Equal(limit) {
		loopCount++
		if loopCount > 1000 {
			return ZERO, ZERO, newErr(ErrMathOverflow, "swap exceeded 1000 iterations")
		}

		step := stepComputations{sqrtPriceStartX96: state.sqrtPriceX96}

		compressed := compressTick(state.tick, p.TickSpacing)
		tickNext, initialized := p.Ticks.Bitmap.NextInitializedTickWithinOneWord(compressed, zeroForOne)
		step.tickNext = tickNext * int(p.TickSpacing)
		step.initialized = initialized

		if step.tickNext < MinTick {
			step.tickNext = MinTick
		} else if step.tickNext > MaxTick {
			step.tickNext = MaxTick
		}

		sqrtPriceNextBig, err := GetSqrtRatioAtTick(step.tickNext)
		if err != nil {
			return ZERO, ZERO, err
		}
		step.sqrtPriceNextX96 = decimal.NewFromBigInt(sqrtPriceNextBig, 0)

		var target decimal.Decimal
		if zeroForOne {
			if step.sqrtPriceNextX96.LessThan(limit) {
				target = limit
			} else {
				target = step.sqrtPriceNextX96
			}
		} else {
			if step.sqrtPriceNextX96.GreaterThan(limit) {
				target = limit
			} else {
				target = step.sqrtPriceNextX96
			}
		}

		nextSqrt, amountIn, amountOut, feeAmount, err := computeSwapStep(state.sqrtPriceX96, target, state.liquidity, state.amountSpecifiedRemaining, int64(p.Fee))
		if err != nil {
			return ZERO, ZERO, err
		}
		state.sqrtPriceX96 = nextSqrt
		step.amountIn, step.amountOut, step.feeAmount = amountIn, amountOut, feeAmount

		if exactInput {
			state.amountSpecifiedRemaining = state.amountSpecifiedRemaining.Sub(step.amountIn.Add(step.feeAmount))
			state.amountCalculated = state.amountCalculated.Sub(step.amountOut)
		} else {
			state.amountSpecifiedRemaining = state.amountSpecifiedRemaining.Add(step.amountOut)
			state.amountCalculated = state.amountCalculated.Add(step.amountIn.Add(step.feeAmount))
		}

		if feeProtocol != 0 {
			delta := step.feeAmount.Div(decimal.NewFromInt(int64(feeProtocol))).Truncate(0)
			step.feeAmount = step.feeAmount.Sub(delta)
			state.protocolFee = state.protocolFee.Add(delta)
		}

		if state.liquidity.Sign() > 0 {
			feeGrowthDelta, err := MulDiv(step.feeAmount.BigInt(), q128Big, state.liquidity.BigInt())
			if err != nil {
				return ZERO, ZERO, err
			}
			state.feeGrowthGlobalX128 = state.feeGrowthGlobalX128.Add(decimal.NewFromBigInt(feeGrowthDelta, 0))
		}

		if state.sqrtPriceX96.Equal(step.sqrtPriceNextX96) {
			if step.initialized {
				if !cumulativesComputed {
					var obsErr error
					tickCumulativeAtStart, secondsPerLiquidityAtStart, obsErr = p.Oracle.ObserveSingle(now, 0, p.Slot0.Tick, p.Slot0.ObservationIndex, p.Liquidity, p.Slot0.ObservationCardinality)
					if obsErr != nil {
						return ZERO, ZERO, obsErr
					}
					cumulativesComputed = true
				}
				var liquidityNet decimal.Decimal
				if zeroForOne {
					liquidityNet = p.Ticks.Cross(step.tickNext, state.feeGrowthGlobalX128, p.FeeGrowthGlobal1X128, secondsPerLiquidityAtStart, tickCumulativeAtStart, decimal.NewFromInt(int64(now)))
				} else {
					liquidityNet = p.Ticks.Cross(step.tickNext, p.FeeGrowthGlobal0X128, state.feeGrowthGlobalX128, secondsPerLiquidityAtStart, tickCumulativeAtStart, decimal.NewFromInt(int64(now)))
				}
				if zeroForOne {
					liquidityNet = liquidityNet.Neg()
				}
				state.liquidity, err = AddDelta(state.liquidity, liquidityNet)
				if err != nil {
					return ZERO, ZERO, err
				}
			}
			if zeroForOne {
				state.tick = step.tickNext - 1
			} else {
				state.tick = step.tickNext
			}
		} else if !state.sqrtPriceX96.Equal(step.sqrtPriceStartX96) {
			state.tick, err = GetTickAtSqrtRatio(state.sqrtPriceX96.BigInt())
			if err != nil {
				return ZERO, ZERO, err
			}
		}

		if logrus.GetLevel() >= logrus.TraceLevel {
			p.logger().Tracef("swap step: tick=%d price=%s amountIn=%s amountOut=%s fee=%s liquidity=%s", state.tick, state.sqrtPriceX96, step.amountIn, step.amountOut, step.feeAmount, state.liquidity)
		}
	}

	if state.tick != p.Slot0.Tick {
		idx, card := p.Oracle.Write(p.Slot0.ObservationIndex, now, p.Slot0.Tick, p.Liquidity, p.Slot0.ObservationCardinality, p.Slot0.ObservationCardinalityNext)
		p.Slot0.SqrtPriceX96 = state.sqrtPriceX96
		p.Slot0.Tick = state.tick
		p.Slot0.ObservationIndex = idx
		p.Slot0.ObservationCardinality = card
	} else {
		p.Slot0.SqrtPriceX96 = state.sqrtPriceX96
	}
	if !state.liquidity.Equal(p.Liquidity) {
		p.Liquidity = state.liquidity
	}
	if zeroForOne {
		p.FeeGrowthGlobal0X128 = state.feeGrowthGlobalX128
		p.ProtocolFeesToken0 = p.ProtocolFeesToken0.Add(state.protocolFee)
	} else {
		p.FeeGrowthGlobal1X128 = state.feeGrowthGlobalX128
		p.ProtocolFeesToken1 = p.ProtocolFeesToken1.Add(state.protocolFee)
	}

	var amount0, amount1 decimal.Decimal
	if zeroForOne == exactInput {
		amount0 = amountSpecified.Sub(state.amountSpecifiedRemaining)
		amount1 = state.amountCalculated
	} else {
		amount0 = state.amountCalculated
		amount1 = amountSpecified.Sub(state.amountSpecifiedRemaining)
	}

	if p.Reserves != nil && cb == nil {
		return ZERO, ZERO, newErr(ErrInsufficientPayment, "swap requires a payment callback when Reserves is configured")
	}

	var before0, before1 decimal.Decimal
	if p.Reserves != nil {
		before0, before1 = p.Reserves.Balance0(), p.Reserves.Balance1()
		// The negative-signed leg is owed to recipient (spec.md §4.6 "pays out
		// to recipient, invokes SwapCallback"); pay it out before the callback
		// so the callback can, e.g., use the proceeds to settle the other leg.
		if amount0.Sign() < 0 {
			if err := p.Reserves.Transfer0(recipient, amount0.Neg()); err != nil {
				return ZERO, ZERO, wrapErr(ErrInsufficientPayment, err, "swap transfer0 failed")
			}
		}
		if amount1.Sign() < 0 {
			if err := p.Reserves.Transfer1(recipient, amount1.Neg()); err != nil {
				return ZERO, ZERO, wrapErr(ErrInsufficientPayment, err, "swap transfer1 failed")
			}
		}
	}

	if cb != nil {
		if err := cb(amount0, amount1, data); err != nil {
			return ZERO, ZERO, wrapErr(ErrInsufficientPayment, err, "swap callback failed")
		}
	}

	if p.Reserves != nil {
		after0, after1 := p.Reserves.Balance0(), p.Reserves.Balance1()
		if amount0.Sign() > 0 && after0.Sub(before0).LessThan(amount0) {
			return ZERO, ZERO, newErr(ErrInsufficientPayment, "swap token0: expected %s, received %s", amount0, after0.Sub(before0))
		}
		if amount1.Sign() > 0 && after1.Sub(before1).LessThan(amount1) {
			return ZERO, ZERO, newErr(ErrInsufficientPayment, "swap token1: expected %s, received %s", amount1, after1.Sub(before1))
		}
	}

	if logrus.GetLevel() >= logrus.DebugLevel {
		p.logger().Debugf("swap done: pool=%s amount0=%s amount1=%s price=%s tick=%d", p.PoolAddress, amount0, amount1, state.sqrtPriceX96, state.tick)
	}
	p.publish(Event{Kind: EventSwap, Sender: recipient, Recipient: recipient, Amount0: amount0, Amount1: amount1, SqrtPriceX96: state.sqrtPriceX96, Liquidity: state.liquidity, Tick: state.tick})
	return amount0, amount1, nil
}

// compressTick divides a raw tick by spacing, flooring toward negative
// infinity (Go's native `/` truncates toward zero, which is wrong for
// negative ticks at a scan boundary — spec.md §4.2's bitmap is indexed
// on floor-divided ticks).
func compressTick(tick int, spacing int64) int {
	t := int64(tick)
	q := t / spacing
	if t%spacing != 0 && t < 0 {
		q--
	}
	return int(q)
}
