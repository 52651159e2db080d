package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/defistate/defistate-dex-go/engine"
	"github.com/defistate/defistate-dex-go/ledger"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
)

// Receipt mirrors ledger.Receipt but keeps the event as raw bytes; its concrete type
// depends on Operation.
type Receipt struct {
	Operation ledger.Operation `json:"operation"`
	Account   engine.AccountID `json:"account"`
	Event     json.RawMessage  `json:"event"`
}

// Caller issues one-shot calls against the dex namespace.
type Caller struct {
	rpc *rpc.Client
}

// Dial connects to url over HTTP or websocket.
func Dial(ctx context.Context, url string) (*Caller, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	return &Caller{rpc: c}, nil
}

func (c *Caller) Close() {
	c.rpc.Close()
}

// Submit sends a signed request. Ledger failures come back as rpc.Error values carrying
// the server's error code.
func (c *Caller) Submit(ctx context.Context, req *engine.Request) (*Receipt, error) {
	var receipt Receipt
	if err := c.rpc.CallContext(ctx, &receipt, RpcNamespace+"_submit", req); err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (c *Caller) Quote(ctx context.Context, assetIn engine.AssetID, amountIn *uint256.Int, assetOut engine.AssetID) (*uint256.Int, error) {
	var amountOut uint256.Int
	if err := c.rpc.CallContext(ctx, &amountOut, RpcNamespace+"_quote", assetIn, amountIn, assetOut); err != nil {
		return nil, err
	}
	return &amountOut, nil
}

func (c *Caller) PoolBalance(ctx context.Context, asset engine.AssetID) (*uint256.Int, error) {
	var balance uint256.Int
	if err := c.rpc.CallContext(ctx, &balance, RpcNamespace+"_poolBalance", asset); err != nil {
		return nil, err
	}
	return &balance, nil
}

func (c *Caller) Pools(ctx context.Context) (map[engine.AssetID]*uint256.Int, error) {
	var pools map[engine.AssetID]*uint256.Int
	if err := c.rpc.CallContext(ctx, &pools, RpcNamespace+"_pools"); err != nil {
		return nil, err
	}
	return pools, nil
}

func (c *Caller) Holding(ctx context.Context, account engine.AccountID, asset engine.AssetID) (*uint256.Int, error) {
	var balance uint256.Int
	if err := c.rpc.CallContext(ctx, &balance, RpcNamespace+"_holding", account, asset); err != nil {
		return nil, err
	}
	return &balance, nil
}

func (c *Caller) Treasury(ctx context.Context) (engine.AccountID, error) {
	var treasury engine.AccountID
	err := c.rpc.CallContext(ctx, &treasury, RpcNamespace+"_treasury")
	return treasury, err
}

// Nonce returns the nonce the next request from account must carry.
func (c *Caller) Nonce(ctx context.Context, account engine.AccountID) (uint64, error) {
	var nonce uint64
	err := c.rpc.CallContext(ctx, &nonce, RpcNamespace+"_nonce", account)
	return nonce, err
}
