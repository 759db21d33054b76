package positionnft

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

type fakeLogSource struct {
	logs []types.Log
}

func (f *fakeLogSource) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return f.logs, nil
}

func leftPad32(b []byte) []byte {
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

func tickBytes(tick int) []byte {
	return leftPad32(big.NewInt(int64(tick)).Bytes())
}

func buildMintLog(tokenID uint64, owner common.Address, tickLower, tickUpper int, pool common.Address, amount int64) types.Log {
	var data []byte
	data = append(data, leftPad32(owner.Bytes())...)
	lower := big.NewInt(int64(tickLower))
	if tickLower < 0 {
		lower = new(big.Int).Add(new(big.Int).Lsh(big.NewInt(1), 256), lower)
	}
	upper := big.NewInt(int64(tickUpper))
	if tickUpper < 0 {
		upper = new(big.Int).Add(new(big.Int).Lsh(big.NewInt(1), 256), upper)
	}
	data = append(data, leftPad32(lower.Bytes())...)
	data = append(data, leftPad32(upper.Bytes())...)
	data = append(data, leftPad32(pool.Bytes())...)
	data = append(data, leftPad32(big.NewInt(amount).Bytes())...)

	return types.Log{
		Topics: []common.Hash{MintSig, common.BigToHash(new(big.Int).SetUint64(tokenID))},
		Data:   data,
	}
}

func buildTransferLog(tokenID uint64, from, to common.Address) types.Log {
	return types.Log{
		Topics: []common.Hash{
			TransferSig,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
			common.BigToHash(new(big.Int).SetUint64(tokenID)),
		},
	}
}

func TestWatcherSyncEventsReplaysMintThenTransfer(t *testing.T) {
	pool := newTestPool(t)
	mgr := NewManager()
	mgr.RegisterPool(pool)

	owner := common.HexToAddress("0x1")
	recipient := common.HexToAddress("0x2")

	source := &fakeLogSource{logs: []types.Log{
		buildMintLog(7, owner, -600, 600, pool.PoolAddress, 1_000_000),
		buildTransferLog(7, owner, recipient),
	}}

	watcher := NewWatcher(mgr, source, common.HexToAddress("0xD00D"))
	require.NoError(t, watcher.SyncEvents(context.Background(), 0, 100))

	require.Empty(t, mgr.PositionsByOwner(owner))
	require.Equal(t, []uint64{7}, mgr.PositionsByOwner(recipient))

	tok, _, err := mgr.Position(7)
	require.NoError(t, err)
	require.Equal(t, recipient, tok.Owner)
	require.Equal(t, -600, tok.TickLower)
	require.Equal(t, 600, tok.TickUpper)
}

func TestWatcherSkipsMintForUnregisteredPool(t *testing.T) {
	mgr := NewManager()
	source := &fakeLogSource{logs: []types.Log{
		buildMintLog(1, common.HexToAddress("0x1"), -60, 60, common.HexToAddress("0xDEAD"), 100),
	}}
	watcher := NewWatcher(mgr, source, common.HexToAddress("0xD00D"))
	require.NoError(t, watcher.SyncEvents(context.Background(), 0, 1))
	require.Empty(t, mgr.PositionsByOwner(common.HexToAddress("0x1")))
}
