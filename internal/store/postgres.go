package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/trading-sim/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// InAccountTx locks the account row with SELECT ... FOR UPDATE.
type PostgresStore struct {
	pool         *pgxpool.Pool
	historyLimit int
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool, historyLimit int) *PostgresStore {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &PostgresStore{pool: pool, historyLimit: historyLimit}
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return storageErr("migrate", err)
	}
	return nil
}

// --- Accounts ---

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, cash_balance, profit, created_at)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4)`,
		a.ID, a.CashBalance.String(), a.Profit.String(), a.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: account %s", model.ErrAlreadyExists, a.ID)
	}
	return storageErr("create account", err)
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, cash_balance::TEXT, profit::TEXT, created_at
		 FROM accounts WHERE id = $1`, id)
	a, err := scanAccount(row)
	if err != nil {
		return nil, notFoundOr(err, "account", id)
	}
	return a, nil
}

// DeleteAccount locks the account row, refuses when ledger entries exist and
// otherwise deletes it; holdings go with it through ON DELETE CASCADE.
func (s *PostgresStore) DeleteAccount(ctx context.Context, id string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return storageErr("begin tx", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var locked string
	if err := tx.QueryRow(ctx, `SELECT id FROM accounts WHERE id = $1 FOR UPDATE`, id).Scan(&locked); err != nil {
		return notFoundOr(err, "account", id)
	}
	var traded bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE account_id = $1)`, id).Scan(&traded); err != nil {
		return storageErr("delete account", err)
	}
	if traded {
		return fmt.Errorf("%w: account %s has trade history", model.ErrConflict, id)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id); err != nil {
		return storageErr("delete account", err)
	}
	return storageErr("commit", tx.Commit(ctx))
}

func (s *PostgresStore) ListAccountIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM accounts ORDER BY created_at`)
	if err != nil {
		return nil, storageErr("list accounts", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, storageErr("list accounts", err)
	}
	return ids, nil
}

func (s *PostgresStore) InAccountTx(ctx context.Context, accountID string, fn func(ctx context.Context, tx AccountTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return storageErr("begin tx", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	row := tx.QueryRow(ctx,
		`SELECT id, cash_balance::TEXT, profit::TEXT, created_at
		 FROM accounts WHERE id = $1
		 FOR UPDATE`, accountID)
	acct, err := scanAccount(row)
	if err != nil {
		return notFoundOr(err, "account", accountID)
	}

	if err := fn(ctx, &postgresTx{tx: tx, account: *acct}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return storageErr("commit", err)
	}
	committed = true
	return nil
}

// --- Asset catalog ---

func (s *PostgresStore) CreateAsset(ctx context.Context, a *model.Asset) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO assets (id, symbol, name, price, created_at, updated_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6)`,
		a.ID, a.Symbol, a.Name, a.Price.String(), a.CreatedAt, a.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: asset with symbol %s", model.ErrAlreadyExists, a.Symbol)
	}
	return storageErr("create asset", err)
}

func (s *PostgresStore) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	return getAsset(ctx, s.pool, id)
}

func (s *PostgresStore) ListAssets(ctx context.Context) ([]model.Asset, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, symbol, name, price::TEXT, created_at, updated_at
		 FROM assets ORDER BY created_at, id`)
	if err != nil {
		return nil, storageErr("list assets", err)
	}
	defer rows.Close()

	var assets []model.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, storageErr("scan asset", err)
		}
		assets = append(assets, *a)
	}
	return assets, storageErr("list assets", rows.Err())
}

func (s *PostgresStore) DeleteAsset(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM assets WHERE id = $1`, id)
	if err != nil {
		return storageErr("delete asset", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: asset %s", model.ErrNotFound, id)
	}
	return nil
}

func (s *PostgresStore) UpdateAssetPrice(ctx context.Context, id string, price decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE assets SET price = $2::NUMERIC, updated_at = $3 WHERE id = $1`,
		id, price.String(), time.Now().UTC(),
	)
	if err != nil {
		return storageErr("update asset price", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: asset %s", model.ErrNotFound, id)
	}
	return nil
}

// --- Price history ---

func (s *PostgresStore) AppendPricePoint(ctx context.Context, p model.PricePoint) error {
	batch := &pgx.Batch{}
	batch.Queue(
		`INSERT INTO price_points (asset_id, price, timestamp) VALUES ($1, $2::NUMERIC, $3)`,
		p.AssetID, p.Price.String(), p.Timestamp,
	)
	batch.Queue(
		`DELETE FROM price_points
		 WHERE asset_id = $1 AND id NOT IN (
		     SELECT id FROM price_points WHERE asset_id = $1
		     ORDER BY timestamp DESC, id DESC LIMIT $2)`,
		p.AssetID, s.historyLimit,
	)
	err := s.pool.SendBatch(ctx, batch).Close()
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		return fmt.Errorf("%w: asset %s", model.ErrNotFound, p.AssetID)
	}
	return storageErr("append price point", err)
}

func (s *PostgresStore) RecentPricePoints(ctx context.Context, assetID string, limit int) ([]model.PricePoint, error) {
	if limit <= 0 {
		limit = s.historyLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT asset_id, price::TEXT, timestamp FROM price_points
		 WHERE asset_id = $1 ORDER BY timestamp DESC, id DESC LIMIT $2`, assetID, limit)
	if err != nil {
		return nil, storageErr("recent price points", err)
	}
	defer rows.Close()

	var points []model.PricePoint
	for rows.Next() {
		var p model.PricePoint
		var priceS string
		if err := rows.Scan(&p.AssetID, &priceS, &p.Timestamp); err != nil {
			return nil, storageErr("scan price point", err)
		}
		if p.Price, err = parseDecimal(priceS, "price"); err != nil {
			return nil, storageErr("scan price point", err)
		}
		points = append(points, p)
	}
	return points, storageErr("recent price points", rows.Err())
}

// --- Wallet and ledger reads ---

func (s *PostgresStore) GetHoldings(ctx context.Context, accountID string) (model.Holdings, error) {
	if _, err := s.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return queryHoldings(ctx, s.pool, accountID)
}

func (s *PostgresStore) LedgerByAccount(ctx context.Context, accountID string) ([]model.LedgerEntry, error) {
	return queryLedger(ctx, s.pool, accountID)
}

// --- Transaction view ---

type postgresTx struct {
	tx      pgx.Tx
	account model.Account
}

func (t *postgresTx) Account() *model.Account {
	return &t.account
}

func (t *postgresTx) SaveAccount(ctx context.Context, a *model.Account) error {
	if a.ID != t.account.ID {
		return fmt.Errorf("%w: account %s is not locked by this transaction", model.ErrInvalidArgument, a.ID)
	}
	_, err := t.tx.Exec(ctx,
		`UPDATE accounts SET cash_balance = $2::NUMERIC, profit = $3::NUMERIC WHERE id = $1`,
		a.ID, a.CashBalance.String(), a.Profit.String(),
	)
	if err != nil {
		return storageErr("save account", err)
	}
	t.account = *a
	return nil
}

func (t *postgresTx) Asset(ctx context.Context, id string) (*model.Asset, error) {
	return getAsset(ctx, t.tx, id)
}

func (t *postgresTx) Holdings(ctx context.Context) (model.Holdings, error) {
	return queryHoldings(ctx, t.tx, t.account.ID)
}

func (t *postgresTx) AddHolding(ctx context.Context, assetID string, qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive, got %s", model.ErrInvalidArgument, qty)
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO holdings (account_id, asset_id, quantity) VALUES ($1, $2, $3::NUMERIC)
		 ON CONFLICT (account_id, asset_id)
		 DO UPDATE SET quantity = holdings.quantity + EXCLUDED.quantity`,
		t.account.ID, assetID, qty.String(),
	)
	return storageErr("add holding", err)
}

func (t *postgresTx) RemoveHolding(ctx context.Context, assetID string, qty decimal.Decimal) error {
	var ownedS string
	err := t.tx.QueryRow(ctx,
		`SELECT quantity::TEXT FROM holdings WHERE account_id = $1 AND asset_id = $2`,
		t.account.ID, assetID).Scan(&ownedS)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return storageErr("read holding", err)
	}

	h := model.Holdings{}
	if ownedS != "" {
		owned, err := parseDecimal(ownedS, "quantity")
		if err != nil {
			return storageErr("read holding", err)
		}
		h[assetID] = owned
	}
	if err := h.Remove(assetID, qty); err != nil {
		return err
	}

	if rest, ok := h[assetID]; ok {
		_, err = t.tx.Exec(ctx,
			`UPDATE holdings SET quantity = $3::NUMERIC WHERE account_id = $1 AND asset_id = $2`,
			t.account.ID, assetID, rest.String())
		return storageErr("update holding", err)
	}
	_, err = t.tx.Exec(ctx,
		`DELETE FROM holdings WHERE account_id = $1 AND asset_id = $2`, t.account.ID, assetID)
	return storageErr("delete holding", err)
}

func (t *postgresTx) AppendLedger(ctx context.Context, e *model.LedgerEntry) error {
	if e.AccountID != t.account.ID {
		return fmt.Errorf("%w: ledger entry for account %s in tx of %s", model.ErrInvalidArgument, e.AccountID, t.account.ID)
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO ledger_entries (id, account_id, asset_id, kind, quantity, price, timestamp)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7)`,
		e.ID, e.AccountID, e.AssetID, string(e.Kind),
		e.Quantity.String(), e.Price.String(), e.Timestamp,
	)
	return storageErr("insert ledger entry", err)
}

func (t *postgresTx) Ledger(ctx context.Context) ([]model.LedgerEntry, error) {
	return queryLedger(ctx, t.tx, t.account.ID)
}

// --- Shared query helpers (pool or tx) ---

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getAsset(ctx context.Context, q querier, id string) (*model.Asset, error) {
	row := q.QueryRow(ctx,
		`SELECT id, symbol, name, price::TEXT, created_at, updated_at
		 FROM assets WHERE id = $1`, id)
	a, err := scanAsset(row)
	if err != nil {
		return nil, notFoundOr(err, "asset", id)
	}
	return a, nil
}

func queryHoldings(ctx context.Context, q querier, accountID string) (model.Holdings, error) {
	rows, err := q.Query(ctx,
		`SELECT asset_id, quantity::TEXT FROM holdings WHERE account_id = $1`, accountID)
	if err != nil {
		return nil, storageErr("query holdings", err)
	}
	defer rows.Close()

	h := model.Holdings{}
	for rows.Next() {
		var assetID, qtyS string
		if err := rows.Scan(&assetID, &qtyS); err != nil {
			return nil, storageErr("scan holding", err)
		}
		qty, err := parseDecimal(qtyS, "quantity")
		if err != nil {
			return nil, storageErr("scan holding", err)
		}
		h[assetID] = qty
	}
	return h, storageErr("query holdings", rows.Err())
}

func queryLedger(ctx context.Context, q querier, accountID string) ([]model.LedgerEntry, error) {
	rows, err := q.Query(ctx,
		`SELECT id, account_id, asset_id, kind, quantity::TEXT, price::TEXT, timestamp
		 FROM ledger_entries WHERE account_id = $1
		 ORDER BY timestamp DESC, id DESC`, accountID)
	if err != nil {
		return nil, storageErr("query ledger", err)
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var kind, qtyS, priceS string
		if err := rows.Scan(&e.ID, &e.AccountID, &e.AssetID, &kind, &qtyS, &priceS, &e.Timestamp); err != nil {
			return nil, storageErr("scan ledger entry", err)
		}
		e.Kind = model.TradeKind(kind)
		if e.Quantity, err = parseDecimal(qtyS, "quantity"); err != nil {
			return nil, storageErr("scan ledger entry", err)
		}
		if e.Price, err = parseDecimal(priceS, "price"); err != nil {
			return nil, storageErr("scan ledger entry", err)
		}
		entries = append(entries, e)
	}
	return entries, storageErr("query ledger", rows.Err())
}

func scanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	var balanceS, profitS string
	if err := row.Scan(&a.ID, &balanceS, &profitS, &a.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if a.CashBalance, err = parseDecimal(balanceS, "cash_balance"); err != nil {
		return nil, err
	}
	if a.Profit, err = parseDecimal(profitS, "profit"); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanAsset(row pgx.Row) (*model.Asset, error) {
	var a model.Asset
	var priceS string
	if err := row.Scan(&a.ID, &a.Symbol, &a.Name, &priceS, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if a.Price, err = parseDecimal(priceS, "price"); err != nil {
		return nil, err
	}
	return &a, nil
}

func parseDecimal(s, field string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse %s: %w", field, err)
	}
	return v, nil
}

func notFoundOr(err error, kind, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", model.ErrNotFound, kind, id)
	}
	return storageErr("get "+kind, err)
}

// storageErr wraps a driver error as model.ErrStorage; nil stays nil.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", model.ErrStorage, op, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
