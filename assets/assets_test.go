package assets

import (
	"context"
	"errors"
	"testing"

	"github.com/defistate/defistate-dex-go/engine"
	"github.com/defistate/defistate-dex-go/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func balanceOf(t *testing.T, l *Ledger, asset engine.AssetID, account engine.AccountID) uint64 {
	t.Helper()
	balance, err := l.BalanceOf(asset, account)
	require.NoError(t, err)
	return balance.Uint64()
}

func TestLedger_Transfer(t *testing.T) {
	ctx := context.Background()
	l := New(store.NewMemory())
	require.NoError(t, l.Mint(ctx, 1, alice, uint256.NewInt(100)))

	require.NoError(t, l.Transfer(alice, 1, bob, uint256.NewInt(40)))
	assert.Equal(t, uint64(60), balanceOf(t, l, 1, alice))
	assert.Equal(t, uint64(40), balanceOf(t, l, 1, bob))

	err := l.Transfer(alice, 1, bob, uint256.NewInt(61))
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, uint64(60), balanceOf(t, l, 1, alice))

	// other assets are separate
	assert.Equal(t, uint64(0), balanceOf(t, l, 2, alice))
	require.ErrorIs(t, l.Transfer(alice, 2, bob, uint256.NewInt(1)), ErrInsufficientBalance)
}

func TestLedger_SelfTransfer(t *testing.T) {
	l := New(store.NewMemory())
	require.NoError(t, l.Mint(context.Background(), 1, alice, uint256.NewInt(10)))

	require.NoError(t, l.Transfer(alice, 1, alice, uint256.NewInt(10)))
	assert.Equal(t, uint64(10), balanceOf(t, l, 1, alice))
	require.ErrorIs(t, l.Transfer(alice, 1, alice, uint256.NewInt(11)), ErrInsufficientBalance)
}

func TestLedger_ReservedIsNotTransferable(t *testing.T) {
	ctx := context.Background()
	l := New(store.NewMemory())
	require.NoError(t, l.Mint(ctx, 1, alice, uint256.NewInt(100)))
	require.NoError(t, l.Reserve(ctx, 1, alice, uint256.NewInt(70)))

	assert.Equal(t, uint64(100), balanceOf(t, l, 1, alice))
	free, err := l.Free(ctx, 1, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(30), free.Uint64())
	reserved, err := l.Reserved(ctx, 1, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(70), reserved.Uint64())

	require.ErrorIs(t, l.Transfer(alice, 1, bob, uint256.NewInt(31)), ErrInsufficientBalance)
	require.ErrorIs(t, l.Reserve(ctx, 1, alice, uint256.NewInt(31)), ErrInsufficientBalance)
	require.ErrorIs(t, l.Unreserve(ctx, 1, alice, uint256.NewInt(71)), ErrInsufficientReserved)

	require.NoError(t, l.Unreserve(ctx, 1, alice, uint256.NewInt(70)))
	require.NoError(t, l.Transfer(alice, 1, bob, uint256.NewInt(100)))
	assert.Equal(t, uint64(0), balanceOf(t, l, 1, alice))
}

func TestLedger_Freeze(t *testing.T) {
	ctx := context.Background()
	l := New(store.NewMemory())
	require.NoError(t, l.Mint(ctx, 1, alice, uint256.NewInt(10)))
	require.NoError(t, l.Mint(ctx, 1, bob, uint256.NewInt(10)))

	require.NoError(t, l.Freeze(ctx, alice))
	frozen, err := l.IsFrozen(ctx, alice)
	require.NoError(t, err)
	assert.True(t, frozen)
	require.ErrorIs(t, l.Transfer(alice, 1, bob, uint256.NewInt(1)), ErrFrozen)

	// frozen accounts can still receive
	require.NoError(t, l.Transfer(bob, 1, alice, uint256.NewInt(5)))
	assert.Equal(t, uint64(15), balanceOf(t, l, 1, alice))

	require.NoError(t, l.Thaw(ctx, alice))
	frozen, err = l.IsFrozen(ctx, alice)
	require.NoError(t, err)
	assert.False(t, frozen)
	require.NoError(t, l.Transfer(alice, 1, bob, uint256.NewInt(15)))
}

func TestLedger_Overflow(t *testing.T) {
	ctx := context.Background()
	l := New(store.NewMemory())
	maxUint := new(uint256.Int).SetAllOne()
	require.NoError(t, l.Mint(ctx, 1, alice, maxUint))
	require.ErrorIs(t, l.Mint(ctx, 1, alice, uint256.NewInt(1)), ErrOverflow)

	require.NoError(t, l.Mint(ctx, 1, bob, uint256.NewInt(1)))
	require.ErrorIs(t, l.Transfer(bob, 1, alice, uint256.NewInt(1)), ErrOverflow)
	assert.Equal(t, uint64(1), balanceOf(t, l, 1, bob))
}

func TestLedger_TransferTxRollsBackWithTransaction(t *testing.T) {
	s := store.NewMemory()
	l := New(s)
	require.NoError(t, l.Mint(context.Background(), 1, alice, uint256.NewInt(10)))

	errAbort := errors.New("abort")
	err := s.Update(context.Background(), func(tx store.Tx) error {
		require.NoError(t, l.TransferTx(tx, alice, 1, bob, uint256.NewInt(10)))
		inTx, err := l.BalanceOfTx(tx, 1, bob)
		require.NoError(t, err)
		assert.Equal(t, uint64(10), inTx.Uint64())
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	assert.Equal(t, uint64(10), balanceOf(t, l, 1, alice))
	assert.Equal(t, uint64(0), balanceOf(t, l, 1, bob))
}

func TestLedger_ApplyGenesisOnce(t *testing.T) {
	ctx := context.Background()
	l := New(store.NewMemory())
	genesis := []Allocation{
		{Asset: 1, Account: alice, Amount: uint256.NewInt(100)},
		{Asset: 2, Account: bob, Amount: uint256.NewInt(50)},
	}

	applied, err := l.ApplyGenesis(ctx, genesis)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = l.ApplyGenesis(ctx, genesis)
	require.NoError(t, err)
	assert.False(t, applied)

	assert.Equal(t, uint64(100), balanceOf(t, l, 1, alice))
	assert.Equal(t, uint64(50), balanceOf(t, l, 2, bob))
}

func TestLedger_ApplyGenesisIsAtomic(t *testing.T) {
	ctx := context.Background()
	l := New(store.NewMemory())
	maxUint := new(uint256.Int).SetAllOne()

	_, err := l.ApplyGenesis(ctx, []Allocation{
		{Asset: 1, Account: alice, Amount: uint256.NewInt(1)},
		{Asset: 1, Account: alice, Amount: maxUint},
	})
	require.ErrorIs(t, err, ErrOverflow)
	assert.Equal(t, uint64(0), balanceOf(t, l, 1, alice))

	// a failed genesis does not mark the store as initialised
	applied, err := l.ApplyGenesis(ctx, []Allocation{{Asset: 1, Account: alice, Amount: uint256.NewInt(1)}})
	require.NoError(t, err)
	assert.True(t, applied)
}
