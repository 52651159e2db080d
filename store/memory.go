package store

import (
	"context"
	"sort"
	"sync"

	"github.com/defistate/defistate-dex-go/engine"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/holiman/uint256"
)

type holdingKey struct {
	account engine.AccountID
	asset   engine.AssetID
}

// Memory is a map-backed Store. Update buffers writes in an overlay and applies
// them only when fn succeeds.
type Memory struct {
	mu       sync.RWMutex
	pools    map[engine.AssetID]*uint256.Int
	holdings map[holdingKey]*uint256.Int
	balances map[holdingKey]AssetBalance
	frozen   mapset.Set[engine.AccountID]
	nonces   map[engine.AccountID]uint64
	meta     map[string]string
}

func NewMemory() *Memory {
	return &Memory{
		pools:    make(map[engine.AssetID]*uint256.Int),
		holdings: make(map[holdingKey]*uint256.Int),
		balances: make(map[holdingKey]AssetBalance),
		frozen:   mapset.NewThreadUnsafeSet[engine.AccountID](),
		nonces:   make(map[engine.AccountID]uint64),
		meta:     make(map[string]string),
	}
}

func (m *Memory) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memoryTx{base: m, readOnly: true})
}

func (m *Memory) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{
		base:     m,
		pools:    make(map[engine.AssetID]*uint256.Int),
		holdings: make(map[holdingKey]*uint256.Int),
		balances: make(map[holdingKey]AssetBalance),
		frozen:   make(map[engine.AccountID]bool),
		nonces:   make(map[engine.AccountID]uint64),
		meta:     make(map[string]string),
	}
	if err := fn(tx); err != nil {
		return err
	}

	for asset, balance := range tx.pools {
		m.pools[asset] = balance
	}
	for key, balance := range tx.holdings {
		m.holdings[key] = balance
	}
	for key, balance := range tx.balances {
		m.balances[key] = balance
	}
	for account, frozen := range tx.frozen {
		if frozen {
			m.frozen.Add(account)
		} else {
			m.frozen.Remove(account)
		}
	}
	for account, nonce := range tx.nonces {
		m.nonces[account] = nonce
	}
	for key, value := range tx.meta {
		m.meta[key] = value
	}
	return nil
}

// memoryTx reads through its overlay to the committed maps.
type memoryTx struct {
	base     *Memory
	readOnly bool
	pools    map[engine.AssetID]*uint256.Int
	holdings map[holdingKey]*uint256.Int
	balances map[holdingKey]AssetBalance
	frozen   map[engine.AccountID]bool
	nonces   map[engine.AccountID]uint64
	meta     map[string]string
}

func (tx *memoryTx) PoolBalance(asset engine.AssetID) (*uint256.Int, error) {
	if balance, ok := tx.pools[asset]; ok {
		return balance.Clone(), nil
	}
	if balance, ok := tx.base.pools[asset]; ok {
		return balance.Clone(), nil
	}
	return new(uint256.Int), nil
}

func (tx *memoryTx) SetPoolBalance(asset engine.AssetID, balance *uint256.Int) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	tx.pools[asset] = balance.Clone()
	return nil
}

func (tx *memoryTx) Assets() ([]engine.AssetID, error) {
	seen := mapset.NewThreadUnsafeSet[engine.AssetID]()
	for asset := range tx.base.pools {
		seen.Add(asset)
	}
	for asset := range tx.pools {
		seen.Add(asset)
	}
	assets := seen.ToSlice()
	sort.Slice(assets, func(i, j int) bool { return assets[i] < assets[j] })
	return assets, nil
}

func (tx *memoryTx) Holding(account engine.AccountID, asset engine.AssetID) (*uint256.Int, error) {
	key := holdingKey{account: account, asset: asset}
	if balance, ok := tx.holdings[key]; ok {
		return balance.Clone(), nil
	}
	if balance, ok := tx.base.holdings[key]; ok {
		return balance.Clone(), nil
	}
	return new(uint256.Int), nil
}

func (tx *memoryTx) SetHolding(account engine.AccountID, asset engine.AssetID, balance *uint256.Int) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	tx.holdings[holdingKey{account: account, asset: asset}] = balance.Clone()
	return nil
}

func (tx *memoryTx) AssetBalance(asset engine.AssetID, account engine.AccountID) (AssetBalance, error) {
	key := holdingKey{account: account, asset: asset}
	if balance, ok := tx.balances[key]; ok {
		return balance.Clone(), nil
	}
	return tx.base.balances[key].Clone(), nil
}

func (tx *memoryTx) SetAssetBalance(asset engine.AssetID, account engine.AccountID, balance AssetBalance) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	tx.balances[holdingKey{account: account, asset: asset}] = balance.Clone()
	return nil
}

func (tx *memoryTx) Frozen(account engine.AccountID) (bool, error) {
	if frozen, ok := tx.frozen[account]; ok {
		return frozen, nil
	}
	return tx.base.frozen.Contains(account), nil
}

func (tx *memoryTx) SetFrozen(account engine.AccountID, frozen bool) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	tx.frozen[account] = frozen
	return nil
}

func (tx *memoryTx) Nonce(account engine.AccountID) (uint64, error) {
	if nonce, ok := tx.nonces[account]; ok {
		return nonce, nil
	}
	return tx.base.nonces[account], nil
}

func (tx *memoryTx) SetNonce(account engine.AccountID, nonce uint64) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	tx.nonces[account] = nonce
	return nil
}

func (tx *memoryTx) Meta(key string) (string, bool, error) {
	if value, ok := tx.meta[key]; ok {
		return value, true, nil
	}
	value, ok := tx.base.meta[key]
	return value, ok, nil
}

func (tx *memoryTx) SetMeta(key, value string) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	tx.meta[key] = value
	return nil
}
