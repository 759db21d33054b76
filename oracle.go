package clpool

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// C5: the circular price/liquidity observation ring buffer. Grounded
// on the teacher's oracle-adjacent `SecondsPerLiquidityCumulativeX128`
// field on `CorePool` and generalized into the full ring-buffer
// component spec.md §4.5 describes (the retrieved teacher file only
// keeps the running accumulator on the pool struct, not the indexed
// history; the binary-search/interpolation algorithm below follows the
// well-known Oracle.sol library that every CLMM-on-EVM fork — including
// the teacher's own domain — implements identically).
type Observation struct {
	BlockTimestamp                    uint32
	TickCumulative                    decimal.Decimal
	SecondsPerLiquidityCumulativeX128 decimal.Decimal
	Initialized                       bool
}

// Oracle owns the observation ring and its live cardinality.
type Oracle struct {
	Observations    []Observation
	Cardinality     int
	CardinalityNext int
}

func NewOracle() *Oracle {
	return &Oracle{Observations: make([]Observation, 1)}
}

// Initialize seeds slot 0 at construction time (spec.md §4.5).
func (o *Oracle) Initialize(time uint32) {
	o.Observations = make([]Observation, 1)
	o.Observations[0] = Observation{BlockTimestamp: time, TickCumulative: ZERO, SecondsPerLiquidityCumulativeX128: ZERO, Initialized: true}
	o.Cardinality = 1
	o.CardinalityNext = 1
}

func transform(last Observation, blockTimestamp uint32, tick int, liquidity decimal.Decimal) Observation {
	delta := int64(uint32(blockTimestamp - last.BlockTimestamp)) // unsigned subtraction mod 2^32

	divisor := liquidity
	if divisor.Sign() == 0 {
		divisor = ONE
	}
	splNumerator := new(big.Int).Lsh(big.NewInt(delta), 128)
	splDelta, _ := MulDiv(splNumerator, oneBig, divisor.BigInt())

	return Observation{
		BlockTimestamp:                    blockTimestamp,
		TickCumulative:                    last.TickCumulative.Add(decimal.NewFromInt(int64(tick)).Mul(decimal.NewFromInt(delta))),
		SecondsPerLiquidityCumulativeX128: wrapU256(last.SecondsPerLiquidityCumulativeX128.Add(decimal.NewFromBigInt(splDelta, 0))),
		Initialized:                       true,
	}
}

// Write appends a new observation if one hasn't already been recorded
// for this block, growing into CardinalityNext when the ring is full
// (spec.md §4.5 "write").
func (o *Oracle) Write(index int, blockTimestamp uint32, tick int, liquidity decimal.Decimal, cardinality, cardinalityNext int) (indexUpdated, cardinalityUpdated int) {
	last := o.Observations[index]
	if last.BlockTimestamp == blockTimestamp {
		return index, cardinality
	}

	cardinalityUpdated = cardinality
	if cardinalityNext > cardinality && index == cardinality-1 {
		cardinalityUpdated = cardinalityNext
	}

	indexUpdated = (index + 1) % cardinalityUpdated
	if indexUpdated >= len(o.Observations) {
		grown := make([]Observation, indexUpdated+1)
		copy(grown, o.Observations)
		o.Observations = grown
	}
	o.Observations[indexUpdated] = transform(last, blockTimestamp, tick, liquidity)
	return indexUpdated, cardinalityUpdated
}

// Grow lazily extends the ring's live length so future Write calls can
// land past the currently-populated slots, per spec.md §4.5 "grow".
func (o *Oracle) Grow(current, next int) int {
	if next <= current || current == 0 {
		return current
	}
	if next > len(o.Observations) {
		grown := make([]Observation, next)
		copy(grown, o.Observations)
		for i := current; i < next; i++ {
			grown[i] = Observation{BlockTimestamp: 1}
		}
		o.Observations = grown
	}
	return next
}

func lte(time, a, b uint32) bool {
	if a <= time && b <= time {
		return a <= b
	}
	aAdjusted := uint64(a)
	if a <= time {
		aAdjusted += 1 << 32
	}
	bAdjusted := uint64(b)
	if b <= time {
		bAdjusted += 1 << 32
	}
	return aAdjusted <= bAdjusted
}

func (o *Oracle) binarySearch(time, target uint32, index, cardinality int) (beforeOrAt, atOrAfter Observation) {
	l := (index + 1) % cardinality
	r := l + cardinality - 1
	var i int
	for {
		i = (l + r) / 2
		beforeOrAt = o.Observations[i%cardinality]
		if !beforeOrAt.Initialized {
			l = i + 1
			continue
		}
		atOrAfter = o.Observations[(i+1)%cardinality]

		targetAtOrAfter := lte(time, beforeOrAt.BlockTimestamp, target)

		if targetAtOrAfter && lte(time, target, atOrAfter.BlockTimestamp) {
			break
		}
		if !targetAtOrAfter {
			r = i - 1
		} else {
			l = i + 1
		}
	}
	return beforeOrAt, atOrAfter
}

func (o *Oracle) getSurroundingObservations(time, target uint32, tick int, index int, liquidity decimal.Decimal, cardinality int) (beforeOrAt, atOrAfter Observation, err error) {
	beforeOrAt = o.Observations[index]

	if lte(time, beforeOrAt.BlockTimestamp, target) {
		if beforeOrAt.BlockTimestamp == target {
			return beforeOrAt, beforeOrAt, nil
		}
		return beforeOrAt, transform(beforeOrAt, target, tick, liquidity), nil
	}

	beforeOrAt = o.Observations[(index+1)%cardinality]
	if !beforeOrAt.Initialized {
		beforeOrAt = o.Observations[0]
	}
	if !lte(time, beforeOrAt.BlockTimestamp, target) {
		return Observation{}, Observation{}, newErr(ErrOracleOld, "target %d older than oldest observation %d", target, beforeOrAt.BlockTimestamp)
	}

	b, a := o.binarySearch(time, target, index, cardinality)
	return b, a, nil
}

// ObserveSingle returns the cumulative tick and seconds-per-liquidity
// values secondsAgo seconds before time, interpolating between the two
// bracketing observations when an exact match isn't stored.
func (o *Oracle) ObserveSingle(time uint32, secondsAgo uint32, tick int, index int, liquidity decimal.Decimal, cardinality int) (decimal.Decimal, decimal.Decimal, error) {
	if cardinality == 0 {
		return ZERO, ZERO, newErr(ErrOracleUninitialized, "oracle has no observations")
	}
	if secondsAgo == 0 {
		last := o.Observations[index]
		if last.BlockTimestamp != time {
			last = transform(last, time, tick, liquidity)
		}
		return last.TickCumulative, last.SecondsPerLiquidityCumulativeX128, nil
	}

	target := time - secondsAgo
	beforeOrAt, atOrAfter, err := o.getSurroundingObservations(time, target, tick, index, liquidity, cardinality)
	if err != nil {
		return ZERO, ZERO, err
	}

	if target == beforeOrAt.BlockTimestamp {
		return beforeOrAt.TickCumulative, beforeOrAt.SecondsPerLiquidityCumulativeX128, nil
	}
	if target == atOrAfter.BlockTimestamp {
		return atOrAfter.TickCumulative, atOrAfter.SecondsPerLiquidityCumulativeX128, nil
	}

	observationTimeDelta := int64(atOrAfter.BlockTimestamp - beforeOrAt.BlockTimestamp)
	targetDelta := int64(target - beforeOrAt.BlockTimestamp)

	tickCumulative := beforeOrAt.TickCumulative.Add(
		atOrAfter.TickCumulative.Sub(beforeOrAt.TickCumulative).Mul(decimal.NewFromInt(targetDelta)).Div(decimal.NewFromInt(observationTimeDelta)).Truncate(0),
	)
	splDelta := atOrAfter.SecondsPerLiquidityCumulativeX128.Sub(beforeOrAt.SecondsPerLiquidityCumulativeX128)
	spl := beforeOrAt.SecondsPerLiquidityCumulativeX128.Add(
		decimal.NewFromBigInt(splDelta.BigInt(), 0).Mul(decimal.NewFromInt(targetDelta)).Div(decimal.NewFromInt(observationTimeDelta)).Truncate(0),
	)
	return tickCumulative, wrapU256(spl), nil
}

// Observe is the batch form of ObserveSingle (spec.md §6 `observe`).
func (o *Oracle) Observe(time uint32, secondsAgos []uint32, tick int, index int, liquidity decimal.Decimal, cardinality int) ([]decimal.Decimal, []decimal.Decimal, error) {
	tickCumulatives := make([]decimal.Decimal, len(secondsAgos))
	spls := make([]decimal.Decimal, len(secondsAgos))
	for i, agos := range secondsAgos {
		tc, spl, err := o.ObserveSingle(time, agos, tick, index, liquidity, cardinality)
		if err != nil {
			return nil, nil, err
		}
		tickCumulatives[i] = tc
		spls[i] = spl
	}
	return tickCumulatives, spls, nil
}

// GormDataType/Value/Scan let an Oracle round-trip through the same
// single-JSON-column treatment as TickBook and PositionBook (spec.md
// §4.5): unlike those two, every Oracle field is already exported, so
// this is a plain struct marshal rather than the unexported-map
// workaround TickBitmap needed.
func (o *Oracle) GormDataType() string { return "JSON" }

func (o *Oracle) Value() (driver.Value, error) {
	bs, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	return string(bs), nil
}

func (o *Oracle) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	case nil:
		return nil
	default:
		return fmt.Errorf("clpool: cannot scan %T into Oracle", value)
	}
	return json.Unmarshal(raw, o)
}

