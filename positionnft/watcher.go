package positionnft

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
)

// LogSource is the subset of ethclient.Client a Watcher needs, kept as
// an interface so tests can supply a fake log feed instead of a live
// chain connection (grounded on the teacher's NFTPositionSimulator,
// which took a concrete *ethclient.Client directly).
type LogSource interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// Watcher replays NonfungiblePositionManager-style logs against a
// Manager, so token IDs minted and transferred on-chain are tracked by
// it; replayed logs are not applied to the pools themselves. It is a
// supplementary adapter over the core pool façade, not a required part
// of operating a pool directly.
type Watcher struct {
	manager    *Manager
	source     LogSource
	nftAddress common.Address
	logger     *logrus.Logger
}

func NewWatcher(manager *Manager, source LogSource, nftAddress common.Address) *Watcher {
	return &Watcher{manager: manager, source: source, nftAddress: nftAddress, logger: logrus.StandardLogger()}
}

// SyncEvents pulls every NonfungiblePositionManager log in [fromBlock,
// toBlock] and replays it against the manager in log order.
func (w *Watcher) SyncEvents(ctx context.Context, fromBlock, toBlock uint64) error {
	query := ethereum.FilterQuery{
		FromBlock: bigFromUint64(fromBlock),
		ToBlock:   bigFromUint64(toBlock),
		Addresses: []common.Address{w.nftAddress},
		Topics: [][]common.Hash{{
			MintSig, IncreaseLiquiditySig, DecreaseLiquiditySig, CollectSig, TransferSig,
		}},
	}
	logs, err := w.source.FilterLogs(ctx, query)
	if err != nil {
		return fmt.Errorf("positionnft: filter logs: %w", err)
	}
	for i := range logs {
		if err := w.processLog(&logs[i]); err != nil {
			w.logger.Warnf("positionnft: skipping log %s:%d: %v", logs[i].TxHash, logs[i].Index, err)
		}
	}
	return nil
}

func (w *Watcher) processLog(log *types.Log) error {
	if len(log.Topics) == 0 {
		return fmt.Errorf("log has no topics")
	}
	switch log.Topics[0] {
	case MintSig:
		return w.processMint(log)
	case IncreaseLiquiditySig:
		return w.processIncreaseLiquidity(log)
	case DecreaseLiquiditySig:
		return w.processDecreaseLiquidity(log)
	case CollectSig:
		return w.processCollect(log)
	case TransferSig:
		return w.processTransfer(log)
	default:
		return nil
	}
}

// processMint registers a tokenID minted externally, assuming the pool
// it references is already registered via Manager.RegisterPool — it
// does not itself call CorePool.Mint, since the liquidity/fee effects
// of that mint already happened on-chain; replaying it here would
// double-count. This mirrors the teacher's processMintEvent, which
// likewise only updated its own bookkeeping rather than re-executing
// the mint against a CorePool.
func (w *Watcher) processMint(log *types.Log) error {
	ev, err := ParseMintEvent(log)
	if err != nil {
		return err
	}
	if _, ok := w.manager.poolFor(ev.Pool); !ok {
		return fmt.Errorf("pool %s not registered", ev.Pool)
	}
	w.manager.recordExternalMint(ev.TokenID, ev.Owner, ev.Pool, ev.TickLower, ev.TickUpper)
	return nil
}

// processIncreaseLiquidity and processDecreaseLiquidity are no-ops
// beyond decoding the log: the pool-side Position already reflects the
// liquidity change (it happened on-chain before the log was emitted),
// and Manager.Position reads it live from the pool rather than caching
// a duplicate liquidity figure the way the teacher's TokenPosition did.
func (w *Watcher) processIncreaseLiquidity(log *types.Log) error {
	_, err := ParseIncreaseLiquidityEvent(log)
	return err
}

func (w *Watcher) processDecreaseLiquidity(log *types.Log) error {
	_, err := ParseDecreaseLiquidityEvent(log)
	return err
}

func (w *Watcher) processCollect(log *types.Log) error {
	_, err := ParseCollectEvent(log)
	return err
}

func (w *Watcher) processTransfer(log *types.Log) error {
	ev, err := ParseTransferEvent(log)
	if err != nil {
		return err
	}
	if ev.From == (common.Address{}) {
		// minted, not transferred between holders; processMint already recorded ownership
		return nil
	}
	if err := w.manager.Transfer(ev.TokenID, ev.From, ev.To); err != nil {
		return err
	}
	return nil
}

func bigFromUint64(v uint64) *big.Int { return new(big.Int).SetUint64(v) }
