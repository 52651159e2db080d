package engine

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// AssetID names a fungible asset type. It carries no ordering semantics.
type AssetID uint64

// AccountID identifies a caller or the treasury.
type AccountID = common.Address

type EventKind string

const (
	KindLiquidityAdded   EventKind = "liquidityAdded"
	KindLiquidityRemoved EventKind = "liquidityRemoved"
	KindTransferred      EventKind = "transferred"
)

// Event is a value handed to an event sink after a ledger operation commits.
type Event interface {
	Kind() EventKind
}

type LiquidityAdded struct {
	Account   AccountID    `json:"account"`
	AssetIn   AssetID      `json:"assetIn"`
	AmountIn  *uint256.Int `json:"amountIn"`
	AssetOut  AssetID      `json:"assetOut"`
	AmountOut *uint256.Int `json:"amountOut"`
}

func (LiquidityAdded) Kind() EventKind { return KindLiquidityAdded }

type LiquidityRemoved struct {
	Account   AccountID    `json:"account"`
	AssetIn   AssetID      `json:"assetIn"`
	AmountIn  *uint256.Int `json:"amountIn"`
	AssetOut  AssetID      `json:"assetOut"`
	AmountOut *uint256.Int `json:"amountOut"`
}

func (LiquidityRemoved) Kind() EventKind { return KindLiquidityRemoved }

// Transferred describes the inbound leg of a swap.
type Transferred struct {
	Asset  AssetID      `json:"asset"`
	From   AccountID    `json:"from"`
	To     AccountID    `json:"to"`
	Amount *uint256.Int `json:"amount"`
}

func (Transferred) Kind() EventKind { return KindTransferred }

// State is the pool snapshot broadcast to stream subscribers.
type State struct {
	// Sequence increases by one for every committed ledger operation.
	Sequence  uint64                   `json:"sequence"`
	Timestamp uint64                   `json:"timestamp"`
	Treasury  AccountID                `json:"treasury"`
	Pools     map[AssetID]*uint256.Int `json:"pools"`
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	pools := make(map[AssetID]*uint256.Int, len(s.Pools))
	for asset, balance := range s.Pools {
		pools[asset] = balance.Clone()
	}
	return &State{
		Sequence:  s.Sequence,
		Timestamp: s.Timestamp,
		Treasury:  s.Treasury,
		Pools:     pools,
	}
}

const (
	StreamEventFull = "full"
	StreamEventDiff = "diff"
)

// SubscriptionEvent is the wrapper object sent on the pool stream. Payload is a State
// for "full" events and a differ.StateDiff for "diff" events.
type SubscriptionEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	SentAt  int64           `json:"sentAt"`
}
