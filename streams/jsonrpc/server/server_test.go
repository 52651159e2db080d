package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/defistate/defistate-dex-go/assets"
	"github.com/defistate/defistate-dex-go/auth"
	"github.com/defistate/defistate-dex-go/differ"
	"github.com/defistate/defistate-dex-go/engine"
	"github.com/defistate/defistate-dex-go/events"
	"github.com/defistate/defistate-dex-go/ledger"
	"github.com/defistate/defistate-dex-go/store"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	server *Server
	client *rpc.Client
	assets *assets.Ledger
	signer *auth.Signer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()

	st := store.NewMemory()
	assetLedger := assets.New(st)
	authenticator := auth.NewAuthenticator(st)
	feed := events.NewFeed(logger, 0)
	t.Cleanup(feed.Close)

	l, err := ledger.New(&ledger.Config{
		Store:         st,
		Assets:        assetLedger,
		Authenticator: authenticator,
		Events:        feed,
		Logger:        logger,
		Registry:      reg,
	})
	require.NoError(t, err)

	stateDiffer, err := differ.NewStateDiffer(&differ.StateDifferConfig{Registry: reg, Logger: logger})
	require.NoError(t, err)

	srv, err := NewServer(ctx, Config{
		Ledger: l,
		Nonces: authenticator,
		Events: feed,
		Differ: stateDiffer,
		Logger: logger,
	})
	require.NoError(t, err)

	client := rpc.DialInProc(srv.rpc)
	t.Cleanup(func() {
		client.Close()
		srv.Stop()
	})

	signer, err := auth.GenerateSigner()
	require.NoError(t, err)

	return &fixture{server: srv, client: client, assets: assetLedger, signer: signer}
}

func (f *fixture) mint(t *testing.T, asset engine.AssetID, account engine.AccountID, amount uint64) {
	t.Helper()
	require.NoError(t, f.assets.Mint(context.Background(), asset, account, uint256.NewInt(amount)))
}

func (f *fixture) deposit(t *testing.T, nonce uint64, amountA, amountB uint64) error {
	t.Helper()
	req := &engine.Request{
		Kind:    engine.CallDeposit,
		AssetA:  1,
		AmountA: uint256.NewInt(amountA),
		AssetB:  2,
		AmountB: uint256.NewInt(amountB),
		Nonce:   nonce,
	}
	if err := f.signer.Sign(req); err != nil {
		return err
	}
	var receipt json.RawMessage
	return f.client.Call(&receipt, "dex_submit", req)
}

func TestConfig_Validate(t *testing.T) {
	_, err := NewServer(context.Background(), Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Ledger is required")
}

func TestToRPCError(t *testing.T) {
	testCases := []struct {
		err  error
		code int
		kind string
	}{
		{fmt.Errorf("%w: x", ledger.ErrInsufficientCallerFunds), codeInsufficientCallerFunds, "insufficientCallerFunds"},
		{fmt.Errorf("%w: x", ledger.ErrInsufficientPoolReserves), codeInsufficientPoolReserves, "insufficientPoolReserves"},
		{fmt.Errorf("%w: x", ledger.ErrArithmetic), codeArithmetic, "arithmetic"},
		{fmt.Errorf("%w: %w", ledger.ErrTransfer, assets.ErrFrozen), codeTransfer, "transfer"},
		{fmt.Errorf("%w: %w", ledger.ErrUnauthenticated, auth.ErrBadNonce), codeUnauthenticated, "unauthenticated"},
		{fmt.Errorf("%w: bad", engine.ErrInvalidRequest), codeInvalidParams, "invalidParams"},
		{errors.New("disk on fire"), codeInternal, "internal"},
	}

	for _, tc := range testCases {
		t.Run(tc.kind, func(t *testing.T) {
			err := toRPCError(tc.err)
			var rpcErr *Error
			require.ErrorAs(t, err, &rpcErr)
			assert.Equal(t, tc.code, rpcErr.ErrorCode())
			assert.Equal(t, tc.kind, rpcErr.ErrorData())
			assert.Equal(t, tc.err.Error(), rpcErr.Error())
		})
	}
}

func TestService_SubmitAndRead(t *testing.T) {
	f := newFixture(t)
	f.mint(t, 1, f.signer.Account(), 500)
	f.mint(t, 2, f.signer.Account(), 300)

	var nonce uint64
	require.NoError(t, f.client.Call(&nonce, "dex_nonce", f.signer.Account()))
	assert.Equal(t, uint64(0), nonce)

	require.NoError(t, f.deposit(t, nonce, 500, 300))

	var balance uint256.Int
	require.NoError(t, f.client.Call(&balance, "dex_poolBalance", engine.AssetID(1)))
	assert.Equal(t, uint64(500), balance.Uint64())

	var pools map[engine.AssetID]*uint256.Int
	require.NoError(t, f.client.Call(&pools, "dex_pools"))
	require.Len(t, pools, 2)
	assert.Equal(t, uint64(300), pools[2].Uint64())

	var treasury engine.AccountID
	require.NoError(t, f.client.Call(&treasury, "dex_treasury"))
	held, err := f.assets.BalanceOf(1, treasury)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), held.Uint64())

	require.NoError(t, f.client.Call(&nonce, "dex_nonce", f.signer.Account()))
	assert.Equal(t, uint64(1), nonce)

	var holding uint256.Int
	require.NoError(t, f.client.Call(&holding, "dex_holding", f.signer.Account(), engine.AssetID(1)))
	assert.True(t, holding.IsZero())
}

func TestService_QuoteRequiresAmount(t *testing.T) {
	f := newFixture(t)

	var out uint256.Int
	err := f.client.Call(&out, "dex_quote", engine.AssetID(1), nil, engine.AssetID(2))
	require.Error(t, err)
	var rpcErr rpc.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, codeInvalidParams, rpcErr.ErrorCode())
}

func TestService_QuoteOnEmptyPools(t *testing.T) {
	f := newFixture(t)

	var out uint256.Int
	require.NoError(t, f.client.Call(&out, "dex_quote", engine.AssetID(1), uint256.NewInt(10), engine.AssetID(2)))
	assert.True(t, out.IsZero())
}

func TestService_SubscribePoolStream(t *testing.T) {
	f := newFixture(t)
	f.mint(t, 1, f.signer.Account(), 100)
	f.mint(t, 2, f.signer.Account(), 100)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch := make(chan engine.SubscriptionEvent, 4)
	sub, err := f.client.Subscribe(ctx, RpcNamespace, ch, "subscribePoolStream")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	full := <-ch
	require.Equal(t, engine.StreamEventFull, full.Type)
	var state engine.State
	require.NoError(t, json.Unmarshal(full.Payload, &state))
	assert.Equal(t, uint64(0), state.Sequence)

	require.NoError(t, f.deposit(t, 0, 60, 40))

	select {
	case ev := <-ch:
		require.Equal(t, engine.StreamEventDiff, ev.Type)
		var diff differ.StateDiff
		require.NoError(t, json.Unmarshal(ev.Payload, &diff))
		assert.Equal(t, uint64(0), diff.FromSequence)
		assert.Equal(t, uint64(1), diff.ToSequence)
		require.Len(t, diff.Additions, 2)
		assert.Equal(t, engine.AssetID(1), diff.Additions[0].Asset)
		assert.Equal(t, uint64(60), diff.Additions[0].Balance.Uint64())
	case <-ctx.Done():
		t.Fatal("timed out waiting for pool diff")
	}

	// rejected operations do not advance the stream
	require.Error(t, f.deposit(t, 1, 1000, 0))
	select {
	case ev := <-ch:
		t.Fatalf("unexpected stream event %s", ev.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestService_SlowPoolSubscriberDoesNotBlockCommits(t *testing.T) {
	f := newFixture(t)
	f.mint(t, 1, f.signer.Account(), 100)
	f.mint(t, 2, f.signer.Account(), 100)

	// a subscriber that never reads
	svc := f.server.service
	sub := &poolSub{ch: make(chan engine.SubscriptionEvent, 1)}
	svc.mu.Lock()
	svc.subs.Add(sub)
	svc.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		for nonce := uint64(0); nonce < 3; nonce++ {
			if err := f.deposit(t, nonce, 10, 10); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("commits blocked on a pool stream subscriber")
	}

	assert.True(t, sub.stale.Load())
	assert.Len(t, sub.ch, 1)

	full, err := svc.resync(sub)
	require.NoError(t, err)
	assert.False(t, sub.stale.Load())
	assert.Empty(t, sub.ch)
	require.Equal(t, engine.StreamEventFull, full.Type)
	var state engine.State
	require.NoError(t, json.Unmarshal(full.Payload, &state))
	assert.Equal(t, uint64(3), state.Sequence)
	assert.Equal(t, uint64(30), state.Pools[1].Uint64())

	// diffs resume from the resynced state
	require.NoError(t, f.deposit(t, 3, 10, 10))
	require.Len(t, sub.ch, 1)
	ev := <-sub.ch
	require.Equal(t, engine.StreamEventDiff, ev.Type)
	var diff differ.StateDiff
	require.NoError(t, json.Unmarshal(ev.Payload, &diff))
	assert.Equal(t, uint64(3), diff.FromSequence)
	assert.Equal(t, uint64(4), diff.ToSequence)
}

func TestService_SubscribeEvents(t *testing.T) {
	f := newFixture(t)
	f.mint(t, 1, f.signer.Account(), 10)
	f.mint(t, 2, f.signer.Account(), 10)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch := make(chan map[string]any, 4)
	sub, err := f.client.Subscribe(ctx, RpcNamespace, ch, "subscribeEvents")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, f.deposit(t, 0, 10, 10))

	select {
	case ev := <-ch:
		assert.Equal(t, string(engine.KindLiquidityAdded), ev["type"])
		payload, ok := ev["payload"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "10", payload["amountIn"])
	case <-ctx.Done():
		t.Fatal("timed out waiting for ledger event")
	}
}

func TestService_SerialisesConcurrentSubmits(t *testing.T) {
	f := newFixture(t)

	signers := make([]*auth.Signer, 8)
	for i := range signers {
		s, err := auth.GenerateSigner()
		require.NoError(t, err)
		f.mint(t, 1, s.Account(), 10)
		f.mint(t, 2, s.Account(), 10)
		signers[i] = s
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(signers))
	for _, s := range signers {
		wg.Add(1)
		go func(s *auth.Signer) {
			defer wg.Done()
			req := &engine.Request{
				Kind:    engine.CallDeposit,
				AssetA:  1,
				AmountA: uint256.NewInt(10),
				AssetB:  2,
				AmountB: uint256.NewInt(10),
			}
			if err := s.Sign(req); err != nil {
				errs <- err
				return
			}
			var receipt json.RawMessage
			errs <- f.client.Call(&receipt, "dex_submit", req)
		}(s)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var pools map[engine.AssetID]*uint256.Int
	require.NoError(t, f.client.Call(&pools, "dex_pools"))
	assert.Equal(t, uint64(80), pools[1].Uint64())
	assert.Equal(t, uint64(80), pools[2].Uint64())
	assert.Equal(t, uint64(len(signers)), f.server.service.state.Sequence)
}
