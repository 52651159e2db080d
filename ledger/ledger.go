package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/defistate/defistate-dex-go/engine"
	"github.com/defistate/defistate-dex-go/ledger/safemath"
	"github.com/defistate/defistate-dex-go/store"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

// Config holds the collaborators a Ledger is built from.
type Config struct {
	Store         store.Store
	Assets        AssetLedger
	Authenticator Authenticator
	Events        EventSink // optional, events are dropped when nil
	Logger        Logger
	Registry      prometheus.Registerer
	ModuleID      ModuleID // zero value selects DefaultModuleID
}

// validate checks if the configuration is valid, ensuring required dependencies are present.
func (c *Config) validate() error {
	if c.Store == nil {
		return errors.New("config: Store cannot be nil")
	}
	if c.Assets == nil {
		return errors.New("config: Assets cannot be nil")
	}
	if c.Authenticator == nil {
		return errors.New("config: Authenticator cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	if c.Registry == nil {
		return errors.New("config: Registry cannot be nil")
	}
	if ta, ok := c.Assets.(TxAssetLedger); ok && ta.Store() != c.Store {
		return errors.New("config: Assets must keep its balances in Store")
	}
	return nil
}

// Ledger tracks the quantity of every asset custodied by the shared treasury and moves
// value between callers and the treasury.
//
// A Ledger is not safe for concurrent use. The host must serialise every call.
type Ledger struct {
	store    store.Store
	assets   AssetLedger
	txAssets TxAssetLedger // set when assets lives in store
	auth     Authenticator
	events   EventSink
	logger   Logger
	metrics  *Metrics
	moduleID ModuleID
	treasury engine.AccountID
}

// New constructs a Ledger, returning an error if the config is invalid.
func New(cfg *Config) (*Ledger, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	moduleID := cfg.ModuleID
	if moduleID == (ModuleID{}) {
		moduleID = DefaultModuleID
	}
	var events EventSink = noopSink{}
	if cfg.Events != nil {
		events = cfg.Events
	}
	txAssets, _ := cfg.Assets.(TxAssetLedger)

	return &Ledger{
		store:    cfg.Store,
		assets:   cfg.Assets,
		txAssets: txAssets,
		auth:     cfg.Authenticator,
		events:   events,
		logger:   cfg.Logger,
		metrics:  NewMetrics(cfg.Registry),
		moduleID: moduleID,
		treasury: TreasuryAccount(moduleID),
	}, nil
}

// Treasury returns the custody account shared by every pool.
func (l *Ledger) Treasury() engine.AccountID {
	return l.treasury
}

func (l *Ledger) ModuleID() ModuleID {
	return l.moduleID
}

// Deposit moves amountA of assetA and amountB of assetB from caller into the treasury and
// credits both pools. The two amounts are independent; no ratio is enforced.
func (l *Ledger) Deposit(
	ctx context.Context,
	caller engine.AccountID,
	assetA engine.AssetID,
	amountA *uint256.Int,
	assetB engine.AssetID,
	amountB *uint256.Int,
) (*Receipt, error) {
	if err := requireAmounts(amountA, amountB); err != nil {
		return nil, err
	}
	event := engine.LiquidityAdded{
		Account:   caller,
		AssetIn:   assetA,
		AmountIn:  amountA.Clone(),
		AssetOut:  assetB,
		AmountOut: amountB.Clone(),
	}

	return l.execute(ctx, OperationDeposit, caller, event, func(e *execution) error {
		if err := e.requireCallerFunds(caller, assetA, amountA); err != nil {
			return err
		}
		if err := e.requireCallerFunds(caller, assetB, amountB); err != nil {
			return err
		}

		if err := e.transfer(caller, assetA, l.treasury, amountA); err != nil {
			return err
		}
		if err := e.transfer(caller, assetB, l.treasury, amountB); err != nil {
			return err
		}

		if err := e.credit(assetA, amountA); err != nil {
			return err
		}
		return e.credit(assetB, amountB)
	})
}

// Withdraw debits both pools and pays the amounts out of the treasury to caller.
//
// Any caller may withdraw while reserves allow it; withdrawal rights are not tied to
// earlier deposits.
func (l *Ledger) Withdraw(
	ctx context.Context,
	caller engine.AccountID,
	assetA engine.AssetID,
	amountA *uint256.Int,
	assetB engine.AssetID,
	amountB *uint256.Int,
) (*Receipt, error) {
	if err := requireAmounts(amountA, amountB); err != nil {
		return nil, err
	}
	event := engine.LiquidityRemoved{
		Account:   caller,
		AssetIn:   assetA,
		AmountIn:  amountA.Clone(),
		AssetOut:  assetB,
		AmountOut: amountB.Clone(),
	}

	return l.execute(ctx, OperationWithdraw, caller, event, func(e *execution) error {
		if err := e.requireReserves(assetA, amountA); err != nil {
			return err
		}
		if err := e.requireReserves(assetB, amountB); err != nil {
			return err
		}

		// pool books are updated before value leaves the treasury
		if err := e.debit(assetA, amountA); err != nil {
			return err
		}
		if err := e.debit(assetB, amountB); err != nil {
			return err
		}

		if err := e.transfer(l.treasury, assetA, caller, amountA); err != nil {
			return err
		}
		return e.transfer(l.treasury, assetB, caller, amountB)
	})
}

// Swap exchanges amountIn of assetIn for the quoted amount of assetOut.
func (l *Ledger) Swap(
	ctx context.Context,
	caller engine.AccountID,
	assetIn engine.AssetID,
	amountIn *uint256.Int,
	assetOut engine.AssetID,
) (*Receipt, error) {
	if err := requireAmounts(amountIn); err != nil {
		return nil, err
	}
	event := engine.Transferred{
		Asset:  assetIn,
		From:   caller,
		To:     l.treasury,
		Amount: amountIn.Clone(),
	}

	return l.execute(ctx, OperationSwap, caller, event, func(e *execution) error {
		amountOut, err := e.quote(assetIn, amountIn, assetOut)
		if err != nil {
			return err
		}
		if err := e.requireReserves(assetOut, amountOut); err != nil {
			return err
		}

		if err := e.transfer(caller, assetIn, l.treasury, amountIn); err != nil {
			return err
		}
		if err := e.transfer(l.treasury, assetOut, caller, amountOut); err != nil {
			return err
		}

		if err := e.credit(assetIn, amountIn); err != nil {
			return err
		}
		return e.debit(assetOut, amountOut)
	})
}

// PriceQuote reports how much of assetOut the pool would pay for amountIn of assetIn.
func (l *Ledger) PriceQuote(
	ctx context.Context,
	assetIn engine.AssetID,
	amountIn *uint256.Int,
	assetOut engine.AssetID,
) (*uint256.Int, error) {
	if err := requireAmounts(amountIn); err != nil {
		return nil, err
	}
	var amountOut *uint256.Int
	err := l.store.View(ctx, func(tx store.Tx) error {
		var err error
		amountOut, err = (&execution{tx: tx}).quote(assetIn, amountIn, assetOut)
		return err
	})
	if err != nil {
		return nil, err
	}
	return amountOut, nil
}

// PoolBalance returns the pooled quantity of asset, zero if it was never touched.
func (l *Ledger) PoolBalance(ctx context.Context, asset engine.AssetID) (*uint256.Int, error) {
	var balance *uint256.Int
	err := l.store.View(ctx, func(tx store.Tx) error {
		var err error
		balance, err = tx.PoolBalance(asset)
		return err
	})
	return balance, err
}

// Pools returns every pool entry, including entries that went back to zero.
func (l *Ledger) Pools(ctx context.Context) (map[engine.AssetID]*uint256.Int, error) {
	pools := make(map[engine.AssetID]*uint256.Int)
	err := l.store.View(ctx, func(tx store.Tx) error {
		assets, err := tx.Assets()
		if err != nil {
			return err
		}
		for _, asset := range assets {
			balance, err := tx.PoolBalance(asset)
			if err != nil {
				return err
			}
			pools[asset] = balance
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pools, nil
}

// Holding reads the per-account holdings map. No current operation writes it.
func (l *Ledger) Holding(ctx context.Context, account engine.AccountID, asset engine.AssetID) (*uint256.Int, error) {
	var balance *uint256.Int
	err := l.store.View(ctx, func(tx store.Tx) error {
		var err error
		balance, err = tx.Holding(account, asset)
		return err
	})
	return balance, err
}

func requireAmounts(amounts ...*uint256.Int) error {
	for _, amount := range amounts {
		if amount == nil {
			return fmt.Errorf("%w: amount is required", engine.ErrInvalidRequest)
		}
	}
	return nil
}

func (e *execution) requireCallerFunds(caller engine.AccountID, asset engine.AssetID, amount *uint256.Int) error {
	held, err := e.assets.BalanceOf(asset, caller)
	if err != nil {
		return err
	}
	if held.Lt(amount) {
		return fmt.Errorf("%w: account %s holds %s of asset %d, needs %s",
			ErrInsufficientCallerFunds, caller.Hex(), held.Dec(), asset, amount.Dec())
	}
	return nil
}

// execute runs fn inside one store transaction and emits the event only after commit.
// When anything fails nothing is committed: transfers of an asset ledger kept in the store
// roll back with the transaction, transfers of any other asset ledger are reversed.
func (l *Ledger) execute(
	ctx context.Context,
	op Operation,
	caller engine.AccountID,
	event engine.Event,
	fn func(e *execution) error,
) (*Receipt, error) {
	start := time.Now()
	e := &execution{assets: l.assets}

	err := l.store.Update(ctx, func(tx store.Tx) error {
		e.tx = tx
		if l.txAssets != nil {
			e.assets = boundAssets{assets: l.txAssets, tx: tx}
			e.inTx = true
		}
		return fn(e)
	})
	l.metrics.observe(op, err, time.Since(start).Seconds())

	if err != nil {
		if compErr := e.compensate(); compErr != nil {
			l.logger.Error("Failed to reverse transfers of a rejected operation",
				"operation", op, "account", caller.Hex(), "error", compErr)
		}
		l.logger.Warn("Ledger operation rejected", "operation", op, "account", caller.Hex(), "error", err)
		return nil, err
	}

	for asset, balance := range e.touched {
		l.metrics.setPoolBalance(asset, balance)
	}
	l.events.Emit(event)
	l.logger.Debug("Ledger operation committed", "operation", op, "account", caller.Hex())

	return &Receipt{Operation: op, Account: caller, Event: event}, nil
}

type transferLeg struct {
	from   engine.AccountID
	asset  engine.AssetID
	to     engine.AccountID
	amount *uint256.Int
}

// execution is the state of a single ledger call: its transaction, the transfers it has
// made so far and the pool balances it wrote.
type execution struct {
	tx        store.Tx
	assets    AssetLedger
	inTx      bool // assets writes through tx
	transfers []transferLeg
	touched   map[engine.AssetID]*uint256.Int
}

func (e *execution) transfer(from engine.AccountID, asset engine.AssetID, to engine.AccountID, amount *uint256.Int) error {
	// zero legs are skipped so that no-op withdrawals cannot fail on the asset ledger
	if amount.IsZero() {
		return nil
	}
	if err := e.assets.Transfer(from, asset, to, amount); err != nil {
		return fmt.Errorf("%w: asset %d from %s to %s: %w", ErrTransfer, asset, from.Hex(), to.Hex(), err)
	}
	if !e.inTx {
		e.transfers = append(e.transfers, transferLeg{from: from, asset: asset, to: to, amount: amount.Clone()})
	}
	return nil
}

// compensate reverses completed transfers, newest first.
func (e *execution) compensate() error {
	reverse := e.assets.Transfer
	if r, ok := e.assets.(Reverser); ok {
		reverse = r.Reverse
	}
	var errs []error
	for i := len(e.transfers) - 1; i >= 0; i-- {
		leg := e.transfers[i]
		if err := reverse(leg.to, leg.asset, leg.from, leg.amount); err != nil {
			errs = append(errs, fmt.Errorf("reverse asset %d %s -> %s: %w", leg.asset, leg.to.Hex(), leg.from.Hex(), err))
		}
	}
	e.transfers = nil
	return errors.Join(errs...)
}

func (e *execution) credit(asset engine.AssetID, amount *uint256.Int) error {
	balance, err := e.tx.PoolBalance(asset)
	if err != nil {
		return err
	}
	next, err := safemath.Add(balance, amount)
	if err != nil {
		return fmt.Errorf("%w: pool %d credit: %w", ErrArithmetic, asset, err)
	}
	return e.write(asset, next)
}

func (e *execution) debit(asset engine.AssetID, amount *uint256.Int) error {
	if err := e.requireReserves(asset, amount); err != nil {
		return err
	}
	balance, err := e.tx.PoolBalance(asset)
	if err != nil {
		return err
	}
	next, err := safemath.Sub(balance, amount)
	if err != nil {
		return fmt.Errorf("%w: pool %d debit: %w", ErrArithmetic, asset, err)
	}
	return e.write(asset, next)
}

func (e *execution) write(asset engine.AssetID, balance *uint256.Int) error {
	if err := e.tx.SetPoolBalance(asset, balance); err != nil {
		return err
	}
	if e.touched == nil {
		e.touched = make(map[engine.AssetID]*uint256.Int)
	}
	e.touched[asset] = balance
	return nil
}

func (e *execution) requireReserves(asset engine.AssetID, amount *uint256.Int) error {
	balance, err := e.tx.PoolBalance(asset)
	if err != nil {
		return err
	}
	if balance.Lt(amount) {
		return fmt.Errorf("%w: pool %d holds %s, needs %s", ErrInsufficientPoolReserves, asset, balance.Dec(), amount.Dec())
	}
	return nil
}

func (e *execution) quote(assetIn engine.AssetID, amountIn *uint256.Int, assetOut engine.AssetID) (*uint256.Int, error) {
	reserveIn, err := e.tx.PoolBalance(assetIn)
	if err != nil {
		return nil, err
	}
	reserveOut, err := e.tx.PoolBalance(assetOut)
	if err != nil {
		return nil, err
	}
	return quote(reserveIn, amountIn, reserveOut)
}
