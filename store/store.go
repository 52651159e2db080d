// Package store holds the persistent maps behind the pool ledger: pool balances keyed by
// asset, account holdings keyed by (account, asset), the asset sub-ledger's balances and
// freezes, and authentication nonces. Absent keys read as zero.
package store

import (
	"context"
	"errors"

	"github.com/defistate/defistate-dex-go/engine"
	"github.com/holiman/uint256"
)

// ErrReadOnly is returned when a write is attempted inside View.
var ErrReadOnly = errors.New("store: write in read-only transaction")

// AssetBalance is an account's balance of one asset on the asset sub-ledger.
type AssetBalance struct {
	Free     *uint256.Int
	Reserved *uint256.Int
}

// Tx is a view of the maps scoped to a single View or Update call.
// Values returned by a Tx are copies; mutating them has no effect on the store.
type Tx interface {
	PoolBalance(asset engine.AssetID) (*uint256.Int, error)
	SetPoolBalance(asset engine.AssetID, balance *uint256.Int) error
	// Assets lists every asset with a pool entry, including zero entries, in ascending order.
	Assets() ([]engine.AssetID, error)

	Holding(account engine.AccountID, asset engine.AssetID) (*uint256.Int, error)
	SetHolding(account engine.AccountID, asset engine.AssetID, balance *uint256.Int) error

	AssetBalance(asset engine.AssetID, account engine.AccountID) (AssetBalance, error)
	SetAssetBalance(asset engine.AssetID, account engine.AccountID, balance AssetBalance) error
	Frozen(account engine.AccountID) (bool, error)
	SetFrozen(account engine.AccountID, frozen bool) error

	// Nonce is the next nonce account must sign with.
	Nonce(account engine.AccountID) (uint64, error)
	SetNonce(account engine.AccountID, nonce uint64) error

	// Meta reads a small named value, such as a marker that genesis was applied.
	Meta(key string) (string, bool, error)
	SetMeta(key, value string) error
}

// Store commits all writes of an Update atomically: either fn returns nil and every write
// becomes visible, or nothing does.
//
// Update and View must not be nested: fn must use the Tx it was given.
type Store interface {
	View(ctx context.Context, fn func(tx Tx) error) error
	Update(ctx context.Context, fn func(tx Tx) error) error
}

// Clone returns a deep copy with nil fields read as zero.
func (b AssetBalance) Clone() AssetBalance {
	return AssetBalance{Free: cloneOrZero(b.Free), Reserved: cloneOrZero(b.Reserved)}
}

func cloneOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v.Clone()
}
