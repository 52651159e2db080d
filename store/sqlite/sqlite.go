// Package sqlite is a durable store.Store on SQLite, accessed through bun.
// Balances are stored as decimal text so the full 256-bit range survives.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/defistate/defistate-dex-go/engine"
	"github.com/defistate/defistate-dex-go/store"
	"github.com/holiman/uint256"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// PoolBalanceModel maps the pool_balances table.
type PoolBalanceModel struct {
	bun.BaseModel `bun:"table:pool_balances"`
	// AssetID holds the uint64 asset id reinterpreted as int64; SQLite integers are signed.
	AssetID int64  `bun:"asset_id,pk"`
	Balance string `bun:"balance,notnull"`
}

// HoldingModel maps the account_holdings table.
type HoldingModel struct {
	bun.BaseModel `bun:"table:account_holdings"`
	Account       string `bun:"account,pk"`
	AssetID       int64  `bun:"asset_id,pk"`
	Balance       string `bun:"balance,notnull"`
}

// AssetBalanceModel maps the asset_balances table of the asset sub-ledger.
type AssetBalanceModel struct {
	bun.BaseModel `bun:"table:asset_balances"`
	Account       string `bun:"account,pk"`
	AssetID       int64  `bun:"asset_id,pk"`
	Free          string `bun:"free,notnull"`
	Reserved      string `bun:"reserved,notnull"`
}

// FrozenAccountModel maps the frozen_accounts table. A row means the account is frozen.
type FrozenAccountModel struct {
	bun.BaseModel `bun:"table:frozen_accounts"`
	Account       string `bun:"account,pk"`
}

// NonceModel maps the nonces table.
type NonceModel struct {
	bun.BaseModel `bun:"table:nonces"`
	Account       string `bun:"account,pk"`
	// Nonce holds the uint64 nonce reinterpreted as int64.
	Nonce int64 `bun:"nonce,notnull"`
}

// MetaModel maps the metadata table.
type MetaModel struct {
	bun.BaseModel `bun:"table:metadata"`
	Name          string `bun:"name,pk"`
	Value         string `bun:"value,notnull"`
}

// Store is a SQLite backed store.Store. Every Update runs in one SQL transaction.
type Store struct {
	bun *bun.DB
}

// Open connects to dsn (e.g. "file:dex.db" or ":memory:") and creates the tables if needed.
func Open(ctx context.Context, dsn string) (*Store, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// a single connection keeps ":memory:" databases alive and serialises writers
	sqlDB.SetMaxOpenConns(1)

	s := &Store{
		bun: bun.NewDB(sqlDB, sqlitedialect.New()),
	}
	if err := s.migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	models := []any{
		(*PoolBalanceModel)(nil),
		(*HoldingModel)(nil),
		(*AssetBalanceModel)(nil),
		(*FrozenAccountModel)(nil),
		(*NonceModel)(nil),
		(*MetaModel)(nil),
	}
	for _, model := range models {
		if _, err := s.bun.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.bun.Close()
}

func (s *Store) View(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(&sqliteTx{ctx: ctx, tx: tx, readOnly: true})
	})
}

func (s *Store) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(&sqliteTx{ctx: ctx, tx: tx})
	})
}

type sqliteTx struct {
	ctx      context.Context
	tx       bun.Tx
	readOnly bool
}

func (t *sqliteTx) PoolBalance(asset engine.AssetID) (*uint256.Int, error) {
	var row PoolBalanceModel
	err := t.tx.NewSelect().Model(&row).Where("asset_id = ?", int64(asset)).Limit(1).Scan(t.ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pool balance of asset %d: %w", asset, err)
	}
	return decode(row.Balance)
}

func (t *sqliteTx) SetPoolBalance(asset engine.AssetID, balance *uint256.Int) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	row := &PoolBalanceModel{AssetID: int64(asset), Balance: balance.Dec()}
	_, err := t.tx.NewInsert().Model(row).
		On("CONFLICT (asset_id) DO UPDATE").
		Set("balance = EXCLUDED.balance").
		Exec(t.ctx)
	if err != nil {
		return fmt.Errorf("failed to write pool balance of asset %d: %w", asset, err)
	}
	return nil
}

func (t *sqliteTx) Assets() ([]engine.AssetID, error) {
	var rows []PoolBalanceModel
	if err := t.tx.NewSelect().Model(&rows).Column("asset_id").Scan(t.ctx); err != nil {
		return nil, fmt.Errorf("failed to list pool assets: %w", err)
	}
	assets := make([]engine.AssetID, 0, len(rows))
	for _, row := range rows {
		assets = append(assets, engine.AssetID(uint64(row.AssetID)))
	}
	sortAssets(assets)
	return assets, nil
}

func (t *sqliteTx) Holding(account engine.AccountID, asset engine.AssetID) (*uint256.Int, error) {
	var row HoldingModel
	err := t.tx.NewSelect().Model(&row).
		Where("account = ?", account.Hex()).
		Where("asset_id = ?", int64(asset)).
		Limit(1).
		Scan(t.ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read holding of %s in asset %d: %w", account.Hex(), asset, err)
	}
	return decode(row.Balance)
}

func (t *sqliteTx) SetHolding(account engine.AccountID, asset engine.AssetID, balance *uint256.Int) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	row := &HoldingModel{Account: account.Hex(), AssetID: int64(asset), Balance: balance.Dec()}
	_, err := t.tx.NewInsert().Model(row).
		On("CONFLICT (account, asset_id) DO UPDATE").
		Set("balance = EXCLUDED.balance").
		Exec(t.ctx)
	if err != nil {
		return fmt.Errorf("failed to write holding of %s in asset %d: %w", account.Hex(), asset, err)
	}
	return nil
}

func (t *sqliteTx) AssetBalance(asset engine.AssetID, account engine.AccountID) (store.AssetBalance, error) {
	var row AssetBalanceModel
	err := t.tx.NewSelect().Model(&row).
		Where("account = ?", account.Hex()).
		Where("asset_id = ?", int64(asset)).
		Limit(1).
		Scan(t.ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return store.AssetBalance{}.Clone(), nil
	}
	if err != nil {
		return store.AssetBalance{}, fmt.Errorf("failed to read asset %d balance of %s: %w", asset, account.Hex(), err)
	}
	free, err := decode(row.Free)
	if err != nil {
		return store.AssetBalance{}, err
	}
	reserved, err := decode(row.Reserved)
	if err != nil {
		return store.AssetBalance{}, err
	}
	return store.AssetBalance{Free: free, Reserved: reserved}, nil
}

func (t *sqliteTx) SetAssetBalance(asset engine.AssetID, account engine.AccountID, balance store.AssetBalance) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	balance = balance.Clone()
	row := &AssetBalanceModel{
		Account:  account.Hex(),
		AssetID:  int64(asset),
		Free:     balance.Free.Dec(),
		Reserved: balance.Reserved.Dec(),
	}
	_, err := t.tx.NewInsert().Model(row).
		On("CONFLICT (account, asset_id) DO UPDATE").
		Set("free = EXCLUDED.free").
		Set("reserved = EXCLUDED.reserved").
		Exec(t.ctx)
	if err != nil {
		return fmt.Errorf("failed to write asset %d balance of %s: %w", asset, account.Hex(), err)
	}
	return nil
}

func (t *sqliteTx) Frozen(account engine.AccountID) (bool, error) {
	frozen, err := t.tx.NewSelect().Model((*FrozenAccountModel)(nil)).
		Where("account = ?", account.Hex()).
		Exists(t.ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read freeze of %s: %w", account.Hex(), err)
	}
	return frozen, nil
}

func (t *sqliteTx) SetFrozen(account engine.AccountID, frozen bool) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	var err error
	if frozen {
		_, err = t.tx.NewInsert().Model(&FrozenAccountModel{Account: account.Hex()}).
			On("CONFLICT (account) DO NOTHING").
			Exec(t.ctx)
	} else {
		_, err = t.tx.NewDelete().Model((*FrozenAccountModel)(nil)).
			Where("account = ?", account.Hex()).
			Exec(t.ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to write freeze of %s: %w", account.Hex(), err)
	}
	return nil
}

func (t *sqliteTx) Nonce(account engine.AccountID) (uint64, error) {
	var row NonceModel
	err := t.tx.NewSelect().Model(&row).Where("account = ?", account.Hex()).Limit(1).Scan(t.ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read nonce of %s: %w", account.Hex(), err)
	}
	return uint64(row.Nonce), nil
}

func (t *sqliteTx) SetNonce(account engine.AccountID, nonce uint64) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	row := &NonceModel{Account: account.Hex(), Nonce: int64(nonce)}
	_, err := t.tx.NewInsert().Model(row).
		On("CONFLICT (account) DO UPDATE").
		Set("nonce = EXCLUDED.nonce").
		Exec(t.ctx)
	if err != nil {
		return fmt.Errorf("failed to write nonce of %s: %w", account.Hex(), err)
	}
	return nil
}

func (t *sqliteTx) Meta(key string) (string, bool, error) {
	var row MetaModel
	err := t.tx.NewSelect().Model(&row).Where("name = ?", key).Limit(1).Scan(t.ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read metadata %q: %w", key, err)
	}
	return row.Value, true, nil
}

func (t *sqliteTx) SetMeta(key, value string) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	_, err := t.tx.NewInsert().Model(&MetaModel{Name: key, Value: value}).
		On("CONFLICT (name) DO UPDATE").
		Set("value = EXCLUDED.value").
		Exec(t.ctx)
	if err != nil {
		return fmt.Errorf("failed to write metadata %q: %w", key, err)
	}
	return nil
}

func decode(dec string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(dec)
	if err != nil {
		return nil, fmt.Errorf("corrupt balance %q: %w", dec, err)
	}
	return v, nil
}

// sortAssets orders by the unsigned id; SQL ordering on the signed column would not.
func sortAssets(assets []engine.AssetID) {
	sort.Slice(assets, func(i, j int) bool { return assets[i] < assets[j] })
}
