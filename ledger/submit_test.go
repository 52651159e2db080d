package ledger

import (
	"context"
	"testing"

	"github.com/defistate/defistate-dex-go/auth"
	"github.com/defistate/defistate-dex-go/engine"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signed(t *testing.T, signer *auth.Signer, req *engine.Request) *engine.Request {
	t.Helper()
	require.NoError(t, signer.Sign(req))
	return req
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	signer, err := auth.GenerateSigner()
	require.NoError(t, err)
	caller := signer.Account()
	env.mint(t, assetA, caller, 1000)
	env.mint(t, assetB, caller, 1000)

	receipt, err := env.ledger.Submit(ctx, signed(t, signer, &engine.Request{
		Kind: engine.CallDeposit, AssetA: assetA, AmountA: uint256.NewInt(600), AssetB: assetB, AmountB: uint256.NewInt(600), Nonce: 0,
	}))
	require.NoError(t, err)
	assert.Equal(t, OperationDeposit, receipt.Operation)
	assert.Equal(t, caller, receipt.Account)

	receipt, err = env.ledger.Submit(ctx, signed(t, signer, &engine.Request{
		Kind: engine.CallWithdraw, AssetA: assetA, AmountA: uint256.NewInt(100), AssetB: assetB, AmountB: uint256.NewInt(0), Nonce: 1,
	}))
	require.NoError(t, err)
	assert.Equal(t, OperationWithdraw, receipt.Operation)
	assert.Equal(t, uint64(500), env.pool(t, assetA))

	// swaps read AssetA/AmountA as the input leg and AssetB as the output asset
	_, err = env.ledger.Submit(ctx, signed(t, signer, &engine.Request{
		Kind: engine.CallSwap, AssetA: assetA, AmountA: uint256.NewInt(10), AssetB: assetB, Nonce: 2,
	}))
	require.ErrorIs(t, err, ErrArithmetic)
}

func TestSubmit_Unauthenticated(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	signer, err := auth.GenerateSigner()
	require.NoError(t, err)
	env.mint(t, assetA, signer.Account(), 10)
	env.mint(t, assetB, signer.Account(), 10)

	deposit := func(nonce uint64) *engine.Request {
		return &engine.Request{
			Kind: engine.CallDeposit, AssetA: assetA, AmountA: uint256.NewInt(10), AssetB: assetB, AmountB: uint256.NewInt(10), Nonce: nonce,
		}
	}

	t.Run("missing signature", func(t *testing.T) {
		_, err := env.ledger.Submit(ctx, deposit(0))
		require.ErrorIs(t, err, ErrUnauthenticated)
		require.ErrorIs(t, err, auth.ErrMissingSignature)
	})

	t.Run("wrong nonce", func(t *testing.T) {
		_, err := env.ledger.Submit(ctx, signed(t, signer, deposit(5)))
		require.ErrorIs(t, err, ErrUnauthenticated)
		require.ErrorIs(t, err, auth.ErrBadNonce)
	})

	t.Run("tampered request", func(t *testing.T) {
		req := signed(t, signer, deposit(0))
		req.AmountA = uint256.NewInt(1)
		// a tampered payload recovers to a different, unfunded account
		_, err := env.ledger.Submit(ctx, req)
		require.ErrorIs(t, err, ErrInsufficientCallerFunds)
	})

	assert.Equal(t, uint64(0), env.pool(t, assetA))
	assert.Equal(t, uint64(10), env.balance(t, assetA, signer.Account()))
	assert.Equal(t, float64(2), counterValue(t, env.registry, "dex_ledger_operations_total",
		map[string]string{"operation": "deposit", "result": "unauthenticated"}))
}

func TestSubmit_InvalidRequest(t *testing.T) {
	env := newTestEnv(t)

	testCases := []struct {
		name string
		req  *engine.Request
	}{
		{"unknown kind", &engine.Request{Kind: "mint", AmountA: uint256.NewInt(1)}},
		{"deposit without amountB", &engine.Request{Kind: engine.CallDeposit, AmountA: uint256.NewInt(1)}},
		{"swap without amountA", &engine.Request{Kind: engine.CallSwap}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.ledger.Submit(context.Background(), tc.req)
			require.ErrorIs(t, err, engine.ErrInvalidRequest)
		})
	}
}
