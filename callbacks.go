package clpool

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Reserves is the pool's view of its own two-token balance sheet,
// matching spec.md §9 design note 5's `Reserves { balance0(), balance1(),
// transfer0/1(to, amt) }`: Balance0/Balance1 are queried before and
// after a callback to confirm payment was actually made (spec.md §6
// "payment is verified by balance delta, not trusted"), and
// Transfer0/Transfer1 are how the pool actually pays recipients out
// (Collect, CollectProtocol, Flash, and a swap's output leg). An
// embedder backs this with whatever ledger it keeps tokens in; the
// core never touches a token contract directly (Non-goals).
type Reserves interface {
	Balance0() decimal.Decimal
	Balance1() decimal.Decimal
	Transfer0(to common.Address, amount decimal.Decimal) error
	Transfer1(to common.Address, amount decimal.Decimal) error
}

// Factory models the external factory contract spec.md §6 has
// setFeeProtocol/collectProtocol read Factory.owner() from (§9 "Factory
// -owner-only" ops). Optional: when nil, the pool doesn't enforce a
// caller check, matching an embedder that hasn't wired governance yet.
type Factory interface {
	Owner() common.Address
}

// MintCallback is invoked by Mint once the position's liquidity has
// been recorded but before it trusts the caller paid: the callback
// must ensure amount0Owed/amount1Owed land in the pool's reserves.
type MintCallback func(amount0Owed, amount1Owed decimal.Decimal, data []byte) error

// SwapCallback is invoked mid-swap once amounts are known: the caller
// must settle the delta the pool is owed (or has just paid out)
// before HandleSwap returns.
type SwapCallback func(amount0Delta, amount1Delta decimal.Decimal, data []byte) error

// FlashCallback is invoked by Flash after the requested amounts have
// already been paid out: the caller must repay principal plus fee.
type FlashCallback func(fee0, fee1 decimal.Decimal, data []byte) error

// Event is the tagged union of everything the pool façade emits,
// matching spec.md §6's event list one-for-one.
type Event struct {
	Kind                          string
	Pool                          common.Address
	Sender                        common.Address
	Recipient                     common.Address
	Owner                         common.Address
	TickLower                     int
	TickUpper                     int
	Amount                        decimal.Decimal
	Amount0                       decimal.Decimal
	Amount1                       decimal.Decimal
	SqrtPriceX96                  decimal.Decimal
	Liquidity                     decimal.Decimal
	Tick                          int
	FeeProtocol0                  uint8
	FeeProtocol1                  uint8
	ObservationCardinalityNextOld int
	ObservationCardinalityNextNew int
}

const (
	EventInitialize                         = "Initialize"
	EventMint                                = "Mint"
	EventBurn                                = "Burn"
	EventCollect                             = "Collect"
	EventSwap                                = "Swap"
	EventFlash                               = "Flash"
	EventCollectProtocol                     = "CollectProtocol"
	EventSetFeeProtocol                      = "SetFeeProtocol"
	EventIncreaseObservationCardinalityNext  = "IncreaseObservationCardinalityNext"
)

// Publisher is the pool's optional event sink — nil by default so the
// core never depends on any transport (§5.1 of SPEC_FULL.md). The
// `feed` package provides a gorilla/websocket-backed implementation.
type Publisher interface {
	Publish(Event)
}

func (p *CorePool) publish(ev Event) {
	if p.Publisher == nil {
		return
	}
	ev.Pool = p.PoolAddress
	p.Publisher.Publish(ev)
}
