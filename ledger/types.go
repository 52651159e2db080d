package ledger

import (
	"context"

	"github.com/defistate/defistate-dex-go/engine"
	"github.com/defistate/defistate-dex-go/store"
	"github.com/holiman/uint256"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// AssetLedger is the sub-ledger that actually moves value between accounts.
// The ledger treats it as a trusted primitive.
type AssetLedger interface {
	// BalanceOf returns zero for unknown holdings. It fails only when the balance cannot be read.
	BalanceOf(asset engine.AssetID, account engine.AccountID) (*uint256.Int, error)
	// Transfer fails if from lacks enough available (non-reserved) balance.
	// A failed transfer must not move anything.
	Transfer(from engine.AccountID, asset engine.AssetID, to engine.AccountID, amount *uint256.Int) error
}

// TxAssetLedger is an AssetLedger whose balances live in the ledger's own store. Its
// transfers run inside the operation's transaction and roll back with it, so they never
// need to be reversed.
type TxAssetLedger interface {
	AssetLedger
	Store() store.Store
	BalanceOfTx(tx store.Tx, asset engine.AssetID, account engine.AccountID) (*uint256.Int, error)
	TransferTx(tx store.Tx, from engine.AccountID, asset engine.AssetID, to engine.AccountID, amount *uint256.Int) error
}

// Reverser is implemented by asset ledgers outside the store that can undo a transfer
// without the checks a regular Transfer applies (frozen senders, reserved balance).
// Without it, a rejected operation reverses its transfers with Transfer.
type Reverser interface {
	Reverse(from engine.AccountID, asset engine.AssetID, to engine.AccountID, amount *uint256.Int) error
}

// Authenticator turns a signed request into a verified account.
type Authenticator interface {
	Authenticate(ctx context.Context, req *engine.Request) (engine.AccountID, error)
}

// EventSink receives events after a successful commit. Emit must not block.
type EventSink interface {
	Emit(event engine.Event)
}

// Receipt is the success payload of a ledger operation.
type Receipt struct {
	Operation Operation        `json:"operation"`
	Account   engine.AccountID `json:"account"`
	Event     engine.Event     `json:"event"`
}

type Operation string

const (
	OperationDeposit  Operation = "deposit"
	OperationWithdraw Operation = "withdraw"
	OperationSwap     Operation = "swap"
)

type noopSink struct{}

func (noopSink) Emit(engine.Event) {}

// boundAssets runs a TxAssetLedger inside one transaction.
type boundAssets struct {
	assets TxAssetLedger
	tx     store.Tx
}

func (b boundAssets) BalanceOf(asset engine.AssetID, account engine.AccountID) (*uint256.Int, error) {
	return b.assets.BalanceOfTx(b.tx, asset, account)
}

func (b boundAssets) Transfer(from engine.AccountID, asset engine.AssetID, to engine.AccountID, amount *uint256.Int) error {
	return b.assets.TransferTx(b.tx, from, asset, to, amount)
}
