// Package positionnft wraps clpool.CorePool positions in NFT-style token
// IDs (Manager), so the pool core can be exercised the way an external
// NFT-wrapped position manager would drive it, and decodes
// NonfungiblePositionManager-style on-chain events whose Mint and
// Transfer logs update the Manager's token ownership records (Watcher)
// — a supplementary adapter, not part of the pool core
// itself (spec.md's Non-goals exclude a position-NFT manager from C1–
// C7, not an external caller demonstrating the core's API).
//
// Grounded on the teacher's nft_event_parsers.go (event decoding) and
// nft_position_simulator.go (event routing), adapted to drive this
// module's own Pool/PositionBook instead of a parallel ledger.
package positionnft

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
)

type MintEvent struct {
	RawEvent  *types.Log
	TokenID   uint64
	Owner     common.Address
	TickLower int
	TickUpper int
	Amount    decimal.Decimal
	Pool      common.Address
}

type IncreaseLiquidityEvent struct {
	RawEvent  *types.Log
	TokenID   uint64
	Liquidity decimal.Decimal
	Amount0   decimal.Decimal
	Amount1   decimal.Decimal
}

type DecreaseLiquidityEvent struct {
	RawEvent  *types.Log
	TokenID   uint64
	Liquidity decimal.Decimal
	Amount0   decimal.Decimal
	Amount1   decimal.Decimal
}

type CollectEvent struct {
	RawEvent *types.Log
	TokenID  uint64
	Amount0  decimal.Decimal
	Amount1  decimal.Decimal
}

type TransferEvent struct {
	RawEvent *types.Log
	TokenID  uint64
	From, To common.Address
}

var (
	MintSig              = common.HexToHash("0x7a53080ba414158be7ec69b987b5fb7d07dee101fe85488f0853ae16239d0bd")
	IncreaseLiquiditySig = common.HexToHash("0x3067048beee31b25b2f1681f88dac838c8bba36af25bfb2b7cf7473a5847e35")
	DecreaseLiquiditySig = common.HexToHash("0x26f6a048ee9138f2c0ce266f322cb99228e8d619ae2bff30c67f8dcf9d2377b")
	CollectSig           = common.HexToHash("0x40d0efd1a53d60ecbf40971b9daf7dc90178c3aadc7aab1765632738fa8b8f0")
	TransferSig          = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3e")

	uint256Type, _ = abi.NewType("uint256", "", nil)
)

func readTokenID(topic common.Hash) (uint64, error) {
	raw, err := abi.ReadInteger(uint256Type, topic.Bytes())
	if err != nil {
		return 0, err
	}
	id, ok := raw.(*big.Int)
	if !ok {
		return 0, fmt.Errorf("positionnft: failed to parse token ID")
	}
	return id.Uint64(), nil
}

// ParseMintEvent decodes a Mint(tokenId, owner, tickLower, tickUpper, pool, amount) log.
func ParseMintEvent(log *types.Log) (*MintEvent, error) {
	if len(log.Topics) < 2 {
		return nil, fmt.Errorf("positionnft: not enough topics for Mint event")
	}
	tokenID, err := readTokenID(log.Topics[1])
	if err != nil {
		return nil, err
	}

	data := log.Data
	owner := common.BytesToAddress(data[:32])
	tickLower := new(big.Int).SetBytes(data[32:64])
	tickUpper := new(big.Int).SetBytes(data[64:96])
	pool := common.BytesToAddress(data[96:128])
	amount := decimal.NewFromBigInt(new(big.Int).SetBytes(data[128:160]), 0)

	return &MintEvent{
		RawEvent:  log,
		TokenID:   tokenID,
		Owner:     owner,
		TickLower: int(tickLower.Int64()),
		TickUpper: int(tickUpper.Int64()),
		Amount:    amount,
		Pool:      pool,
	}, nil
}

// ParseIncreaseLiquidityEvent decodes an IncreaseLiquidity(tokenId, liquidity, amount0, amount1) log.
func ParseIncreaseLiquidityEvent(log *types.Log) (*IncreaseLiquidityEvent, error) {
	if len(log.Topics) < 2 {
		return nil, fmt.Errorf("positionnft: not enough topics for IncreaseLiquidity event")
	}
	tokenID, err := readTokenID(log.Topics[1])
	if err != nil {
		return nil, err
	}
	data := log.Data
	return &IncreaseLiquidityEvent{
		RawEvent:  log,
		TokenID:   tokenID,
		Liquidity: decimal.NewFromBigInt(new(big.Int).SetBytes(data[:32]), 0),
		Amount0:   decimal.NewFromBigInt(new(big.Int).SetBytes(data[32:64]), 0),
		Amount1:   decimal.NewFromBigInt(new(big.Int).SetBytes(data[64:96]), 0),
	}, nil
}

// ParseDecreaseLiquidityEvent decodes a DecreaseLiquidity(tokenId, liquidity, amount0, amount1) log.
func ParseDecreaseLiquidityEvent(log *types.Log) (*DecreaseLiquidityEvent, error) {
	if len(log.Topics) < 2 {
		return nil, fmt.Errorf("positionnft: not enough topics for DecreaseLiquidity event")
	}
	tokenID, err := readTokenID(log.Topics[1])
	if err != nil {
		return nil, err
	}
	data := log.Data
	return &DecreaseLiquidityEvent{
		RawEvent:  log,
		TokenID:   tokenID,
		Liquidity: decimal.NewFromBigInt(new(big.Int).SetBytes(data[:32]), 0),
		Amount0:   decimal.NewFromBigInt(new(big.Int).SetBytes(data[32:64]), 0),
		Amount1:   decimal.NewFromBigInt(new(big.Int).SetBytes(data[64:96]), 0),
	}, nil
}

// ParseCollectEvent decodes a Collect(tokenId, amount0, amount1) log.
func ParseCollectEvent(log *types.Log) (*CollectEvent, error) {
	if len(log.Topics) < 2 {
		return nil, fmt.Errorf("positionnft: not enough topics for Collect event")
	}
	tokenID, err := readTokenID(log.Topics[1])
	if err != nil {
		return nil, err
	}
	data := log.Data
	return &CollectEvent{
		RawEvent: log,
		TokenID:  tokenID,
		Amount0:  decimal.NewFromBigInt(new(big.Int).SetBytes(data[:32]), 0),
		Amount1:  decimal.NewFromBigInt(new(big.Int).SetBytes(data[32:64]), 0),
	}, nil
}

// ParseTransferEvent decodes a Transfer(from, to, tokenId) log.
func ParseTransferEvent(log *types.Log) (*TransferEvent, error) {
	if len(log.Topics) < 4 {
		return nil, fmt.Errorf("positionnft: not enough topics for Transfer event")
	}
	tokenID, err := readTokenID(log.Topics[3])
	if err != nil {
		return nil, err
	}
	return &TransferEvent{
		RawEvent: log,
		TokenID:  tokenID,
		From:     common.BytesToAddress(log.Topics[1].Bytes()),
		To:       common.BytesToAddress(log.Topics[2].Bytes()),
	}, nil
}
