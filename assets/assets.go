// Package assets is a fungible asset sub-ledger kept in the pool store. It backs the pool
// ledger's transfers in the daemon and in tests.
package assets

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/defistate/defistate-dex-go/engine"
	"github.com/defistate/defistate-dex-go/store"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance  = errors.New("insufficient available balance")
	ErrInsufficientReserved = errors.New("insufficient reserved balance")
	ErrFrozen               = errors.New("account is frozen")
	ErrOverflow             = errors.New("balance overflow")
)

const genesisKey = "assets.genesis"

// Allocation is a balance credited once when the store is first initialised.
type Allocation struct {
	Asset   engine.AssetID
	Account engine.AccountID
	Amount  *uint256.Int
}

// Ledger keeps a free and a reserved balance per (asset, account). Only free balance can
// be transferred, and frozen accounts cannot send.
//
// Methods ending in Tx run inside a caller's transaction, so their writes commit or roll
// back with everything else written through that Tx. The other methods open their own.
type Ledger struct {
	store store.Store
}

func New(s store.Store) *Ledger {
	return &Ledger{store: s}
}

// Store returns the store the balances live in.
func (l *Ledger) Store() store.Store {
	return l.store
}

// BalanceOf returns the total (free plus reserved) balance.
func (l *Ledger) BalanceOf(asset engine.AssetID, account engine.AccountID) (*uint256.Int, error) {
	var total *uint256.Int
	err := l.store.View(context.Background(), func(tx store.Tx) error {
		var err error
		total, err = l.BalanceOfTx(tx, asset, account)
		return err
	})
	return total, err
}

// Transfer moves amount of free balance in its own transaction.
func (l *Ledger) Transfer(from engine.AccountID, asset engine.AssetID, to engine.AccountID, amount *uint256.Int) error {
	return l.store.Update(context.Background(), func(tx store.Tx) error {
		return l.TransferTx(tx, from, asset, to, amount)
	})
}

func (l *Ledger) BalanceOfTx(tx store.Tx, asset engine.AssetID, account engine.AccountID) (*uint256.Int, error) {
	balance, err := tx.AssetBalance(asset, account)
	if err != nil {
		return nil, err
	}
	total, overflow := new(uint256.Int).AddOverflow(balance.Free, balance.Reserved)
	if overflow {
		return new(uint256.Int).SetAllOne(), nil
	}
	return total, nil
}

// TransferTx moves amount of free balance. It either moves everything or nothing.
func (l *Ledger) TransferTx(tx store.Tx, from engine.AccountID, asset engine.AssetID, to engine.AccountID, amount *uint256.Int) error {
	frozen, err := tx.Frozen(from)
	if err != nil {
		return err
	}
	if frozen {
		return fmt.Errorf("%w: %s", ErrFrozen, from.Hex())
	}

	fromBalance, err := tx.AssetBalance(asset, from)
	if err != nil {
		return err
	}
	if fromBalance.Free.Lt(amount) {
		return fmt.Errorf("%w: %s has %s of asset %d, needs %s", ErrInsufficientBalance, from.Hex(), fromBalance.Free.Dec(), asset, amount.Dec())
	}
	if from == to {
		return nil
	}

	toBalance, err := tx.AssetBalance(asset, to)
	if err != nil {
		return err
	}
	toFree, overflow := new(uint256.Int).AddOverflow(toBalance.Free, amount)
	if overflow {
		return fmt.Errorf("%w: credit %s of asset %d to %s", ErrOverflow, amount.Dec(), asset, to.Hex())
	}
	fromBalance.Free = new(uint256.Int).Sub(fromBalance.Free, amount)
	toBalance.Free = toFree

	if err := tx.SetAssetBalance(asset, from, fromBalance); err != nil {
		return err
	}
	return tx.SetAssetBalance(asset, to, toBalance)
}

// Free returns the transferable balance.
func (l *Ledger) Free(ctx context.Context, asset engine.AssetID, account engine.AccountID) (*uint256.Int, error) {
	balance, err := l.read(ctx, asset, account)
	return balance.Free, err
}

// Reserved returns the balance locked by Reserve.
func (l *Ledger) Reserved(ctx context.Context, asset engine.AssetID, account engine.AccountID) (*uint256.Int, error) {
	balance, err := l.read(ctx, asset, account)
	return balance.Reserved, err
}

// Mint credits new units to account.
func (l *Ledger) Mint(ctx context.Context, asset engine.AssetID, account engine.AccountID, amount *uint256.Int) error {
	return l.store.Update(ctx, func(tx store.Tx) error {
		return mint(tx, asset, account, amount)
	})
}

// ApplyGenesis mints every allocation in one transaction, once per store. It reports
// whether the allocations were applied by this call.
func (l *Ledger) ApplyGenesis(ctx context.Context, allocations []Allocation) (bool, error) {
	applied := false
	err := l.store.Update(ctx, func(tx store.Tx) error {
		_, done, err := tx.Meta(genesisKey)
		if err != nil || done {
			return err
		}
		for _, a := range allocations {
			if err := mint(tx, a.Asset, a.Account, a.Amount); err != nil {
				return err
			}
		}
		applied = true
		return tx.SetMeta(genesisKey, strconv.Itoa(len(allocations)))
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// Reserve moves amount from free to reserved balance.
func (l *Ledger) Reserve(ctx context.Context, asset engine.AssetID, account engine.AccountID, amount *uint256.Int) error {
	return l.store.Update(ctx, func(tx store.Tx) error {
		balance, err := tx.AssetBalance(asset, account)
		if err != nil {
			return err
		}
		if balance.Free.Lt(amount) {
			return fmt.Errorf("%w: %s has %s of asset %d, needs %s", ErrInsufficientBalance, account.Hex(), balance.Free.Dec(), asset, amount.Dec())
		}
		reserved, overflow := new(uint256.Int).AddOverflow(balance.Reserved, amount)
		if overflow {
			return fmt.Errorf("%w: reserve %s of asset %d for %s", ErrOverflow, amount.Dec(), asset, account.Hex())
		}
		balance.Free = new(uint256.Int).Sub(balance.Free, amount)
		balance.Reserved = reserved
		return tx.SetAssetBalance(asset, account, balance)
	})
}

// Unreserve moves amount from reserved back to free balance.
func (l *Ledger) Unreserve(ctx context.Context, asset engine.AssetID, account engine.AccountID, amount *uint256.Int) error {
	return l.store.Update(ctx, func(tx store.Tx) error {
		balance, err := tx.AssetBalance(asset, account)
		if err != nil {
			return err
		}
		if balance.Reserved.Lt(amount) {
			return fmt.Errorf("%w: %s has %s reserved of asset %d, needs %s", ErrInsufficientReserved, account.Hex(), balance.Reserved.Dec(), asset, amount.Dec())
		}
		free, overflow := new(uint256.Int).AddOverflow(balance.Free, amount)
		if overflow {
			return fmt.Errorf("%w: unreserve %s of asset %d for %s", ErrOverflow, amount.Dec(), asset, account.Hex())
		}
		balance.Reserved = new(uint256.Int).Sub(balance.Reserved, amount)
		balance.Free = free
		return tx.SetAssetBalance(asset, account, balance)
	})
}

// Freeze stops account from sending any asset. Receiving is still allowed.
func (l *Ledger) Freeze(ctx context.Context, account engine.AccountID) error {
	return l.store.Update(ctx, func(tx store.Tx) error {
		return tx.SetFrozen(account, true)
	})
}

func (l *Ledger) Thaw(ctx context.Context, account engine.AccountID) error {
	return l.store.Update(ctx, func(tx store.Tx) error {
		return tx.SetFrozen(account, false)
	})
}

func (l *Ledger) IsFrozen(ctx context.Context, account engine.AccountID) (bool, error) {
	var frozen bool
	err := l.store.View(ctx, func(tx store.Tx) error {
		var err error
		frozen, err = tx.Frozen(account)
		return err
	})
	return frozen, err
}

func (l *Ledger) read(ctx context.Context, asset engine.AssetID, account engine.AccountID) (store.AssetBalance, error) {
	var balance store.AssetBalance
	err := l.store.View(ctx, func(tx store.Tx) error {
		var err error
		balance, err = tx.AssetBalance(asset, account)
		return err
	})
	return balance, err
}

func mint(tx store.Tx, asset engine.AssetID, account engine.AccountID, amount *uint256.Int) error {
	balance, err := tx.AssetBalance(asset, account)
	if err != nil {
		return err
	}
	free, overflow := new(uint256.Int).AddOverflow(balance.Free, amount)
	if overflow {
		return fmt.Errorf("%w: mint %s of asset %d to %s", ErrOverflow, amount.Dec(), asset, account.Hex())
	}
	balance.Free = free
	return tx.SetAssetBalance(asset, account, balance)
}
