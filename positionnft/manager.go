package positionnft

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/lumen-dex/clpool"
)

// managerAddress is the fixed pool-level owner every position opened
// through a Manager is minted under. Real Uniswap's pool only ever
// sees the NonfungiblePositionManager contract as `owner` — individual
// token ownership lives one layer up, in that contract's own ERC-721
// ledger. Mirroring that split here is what lets Transfer change a
// tokenID's owner without touching clpool.PositionBook, which is keyed
// on (owner, tickLower, tickUpper) and has no notion of a transferable
// token at all (grounded on the teacher's token_position_manager.go,
// which instead duplicated the pool's liquidity/fee bookkeeping in a
// parallel ledger — replaced here with a thin wrapper that defers all
// of that to clpool.CorePool and keeps only identity/ownership state).
var managerAddress = common.HexToAddress("0x00000000000000000000000000000000000001")

// TokenPosition is the NFT-facing view of one managed position: who
// owns the tokenID, and which pool/tick range it was minted against.
// The actual liquidity/fee state lives in the pool's own Position,
// fetched on demand via Manager.Position.
type TokenPosition struct {
	TokenID   uint64
	Owner     common.Address
	Pool      common.Address
	TickLower int
	TickUpper int
}

// Manager is a minimal NonfungiblePositionManager-equivalent: it mints
// token IDs, routes Mint/IncreaseLiquidity/DecreaseLiquidity/Collect
// calls through to the underlying clpool.CorePool using managerAddress
// as the pool-level owner, and tracks which external address currently
// holds each tokenID.
type Manager struct {
	mu      sync.Mutex
	pools   map[common.Address]*clpool.CorePool
	tokens  map[uint64]*TokenPosition
	byOwner map[common.Address]map[uint64]struct{}
	nextID  uint64
}

func NewManager() *Manager {
	return &Manager{
		pools:   make(map[common.Address]*clpool.CorePool),
		tokens:  make(map[uint64]*TokenPosition),
		byOwner: make(map[common.Address]map[uint64]struct{}),
		nextID:  1,
	}
}

// RegisterPool makes a pool known to the manager so tokenIDs minted
// against it can be resolved back to a *clpool.CorePool by SyncEvents
// and the processXxx handlers.
func (m *Manager) RegisterPool(pool *clpool.CorePool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools[pool.PoolAddress] = pool
}

func (m *Manager) poolFor(addr common.Address) (*clpool.CorePool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[addr]
	return p, ok
}

// Mint opens a brand-new position and assigns it a fresh tokenID,
// recording owner as the token's holder while the pool itself only
// ever sees managerAddress.
func (m *Manager) Mint(pool *clpool.CorePool, owner common.Address, tickLower, tickUpper int, amount decimal.Decimal, now uint32, data []byte, cb clpool.MintCallback) (uint64, decimal.Decimal, decimal.Decimal, error) {
	amount0, amount1, err := pool.Mint(managerAddress, tickLower, tickUpper, amount, now, data, cb)
	if err != nil {
		return 0, clpool.ZERO, clpool.ZERO, err
	}

	m.mu.Lock()
	tokenID := m.nextID
	m.nextID++
	m.tokens[tokenID] = &TokenPosition{TokenID: tokenID, Owner: owner, Pool: pool.PoolAddress, TickLower: tickLower, TickUpper: tickUpper}
	if m.byOwner[owner] == nil {
		m.byOwner[owner] = make(map[uint64]struct{})
	}
	m.byOwner[owner][tokenID] = struct{}{}
	m.mu.Unlock()

	return tokenID, amount0, amount1, nil
}

// IncreaseLiquidity adds to an already-minted token's position.
func (m *Manager) IncreaseLiquidity(tokenID uint64, amount decimal.Decimal, now uint32, data []byte, cb clpool.MintCallback) (decimal.Decimal, decimal.Decimal, error) {
	tok, pool, err := m.resolve(tokenID)
	if err != nil {
		return clpool.ZERO, clpool.ZERO, err
	}
	return pool.Mint(managerAddress, tok.TickLower, tok.TickUpper, amount, now, data, cb)
}

// DecreaseLiquidity burns liquidity from a token's position; the
// freed amounts accrue as tokensOwed on the underlying Position until
// Collect is called, matching clpool.CorePool.Burn's own contract.
func (m *Manager) DecreaseLiquidity(tokenID uint64, amount decimal.Decimal, now uint32) (decimal.Decimal, decimal.Decimal, error) {
	tok, pool, err := m.resolve(tokenID)
	if err != nil {
		return clpool.ZERO, clpool.ZERO, err
	}
	return pool.Burn(managerAddress, tok.TickLower, tok.TickUpper, amount, now)
}

// Collect pays out a token's tokensOwed (accrued fees plus liquidity
// freed by DecreaseLiquidity) to recipient.
func (m *Manager) Collect(tokenID uint64, recipient common.Address, amount0Req, amount1Req decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	tok, pool, err := m.resolve(tokenID)
	if err != nil {
		return clpool.ZERO, clpool.ZERO, err
	}
	return pool.Collect(recipient, managerAddress, tok.TickLower, tok.TickUpper, amount0Req, amount1Req)
}

// recordExternalMint registers a tokenID whose Mint already executed
// outside this process (e.g. observed on-chain by a Watcher), without
// calling CorePool.Mint again.
func (m *Manager) recordExternalMint(tokenID uint64, owner, pool common.Address, tickLower, tickUpper int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[tokenID] = &TokenPosition{TokenID: tokenID, Owner: owner, Pool: pool, TickLower: tickLower, TickUpper: tickUpper}
	if m.byOwner[owner] == nil {
		m.byOwner[owner] = make(map[uint64]struct{})
	}
	m.byOwner[owner][tokenID] = struct{}{}
	if tokenID >= m.nextID {
		m.nextID = tokenID + 1
	}
}

// Transfer reassigns a tokenID's owner without touching the pool —
// the pool-level position stays under managerAddress the whole time.
func (m *Manager) Transfer(tokenID uint64, from, to common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[tokenID]
	if !ok {
		return clpool.Sentinel(clpool.ErrUnauthorized)
	}
	if tok.Owner != from {
		return clpool.Sentinel(clpool.ErrUnauthorized)
	}
	delete(m.byOwner[from], tokenID)
	tok.Owner = to
	if m.byOwner[to] == nil {
		m.byOwner[to] = make(map[uint64]struct{})
	}
	m.byOwner[to][tokenID] = struct{}{}
	return nil
}

// Position returns the tokenID's current pool-side Position (liquidity,
// fee-growth snapshots, tokensOwed) alongside its NFT-facing metadata.
func (m *Manager) Position(tokenID uint64) (*TokenPosition, *clpool.Position, error) {
	tok, pool, err := m.resolve(tokenID)
	if err != nil {
		return nil, nil, err
	}
	pos, ok := pool.Positions.Peek(managerAddress, tok.TickLower, tok.TickUpper)
	if !ok {
		return tok, nil, nil
	}
	return tok, pos, nil
}

// PositionsByOwner lists every tokenID an address currently holds.
func (m *Manager) PositionsByOwner(owner common.Address) []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uint64, 0, len(m.byOwner[owner]))
	for id := range m.byOwner[owner] {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) resolve(tokenID uint64) (*TokenPosition, *clpool.CorePool, error) {
	m.mu.Lock()
	tok, ok := m.tokens[tokenID]
	m.mu.Unlock()
	if !ok {
		return nil, nil, clpool.Sentinel(clpool.ErrUnauthorized)
	}
	pool, ok := m.poolFor(tok.Pool)
	if !ok {
		return nil, nil, clpool.Sentinel(clpool.ErrUnauthorized)
	}
	return tok, pool, nil
}
