// Package store defines the persistence interface for the trading simulator.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache for the asset catalog), and in-memory (for testing and development).
package store

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/atmx/trading-sim/internal/model"
)

// DefaultHistoryLimit is the number of price points retained per asset.
const DefaultHistoryLimit = 30

// Store is the persistence interface. Reads outside InAccountTx are
// point reads; every trade mutation goes through InAccountTx.
type Store interface {
	// --- Accounts ---

	// CreateAccount persists a new account with an empty wallet.
	CreateAccount(ctx context.Context, account *model.Account) error

	// GetAccount retrieves an account by its ID.
	GetAccount(ctx context.Context, id string) (*model.Account, error)

	// DeleteAccount removes an account and its wallet. An account with
	// ledger entries can not be deleted (ErrConflict).
	DeleteAccount(ctx context.Context, id string) error

	// ListAccountIDs returns the IDs of all accounts.
	ListAccountIDs(ctx context.Context) ([]string, error)

	// InAccountTx runs fn with the account row locked. Changes staged through
	// the AccountTx are committed only if fn returns nil; otherwise nothing
	// is persisted. Transactions on different accounts do not block each other.
	InAccountTx(ctx context.Context, accountID string, fn func(ctx context.Context, tx AccountTx) error) error

	// --- Asset catalog ---

	// CreateAsset persists a new asset. Symbols are unique.
	CreateAsset(ctx context.Context, asset *model.Asset) error

	// GetAsset retrieves an asset by its ID.
	GetAsset(ctx context.Context, id string) (*model.Asset, error)

	// ListAssets returns the whole catalog in creation order.
	ListAssets(ctx context.Context) ([]model.Asset, error)

	// DeleteAsset removes an asset from the catalog. Ledger entries that
	// reference it are kept.
	DeleteAsset(ctx context.Context, id string) error

	// UpdateAssetPrice atomically replaces an asset's current price.
	UpdateAssetPrice(ctx context.Context, id string, price decimal.Decimal) error

	// --- Price history ---

	// AppendPricePoint records an observed price, trimming the asset's
	// history to the most recent retained points.
	AppendPricePoint(ctx context.Context, point model.PricePoint) error

	// RecentPricePoints returns up to limit most recent points, newest first.
	RecentPricePoints(ctx context.Context, assetID string, limit int) ([]model.PricePoint, error)

	// --- Wallet and ledger reads ---

	// GetHoldings returns the account's wallet.
	GetHoldings(ctx context.Context, accountID string) (model.Holdings, error)

	// LedgerByAccount returns all ledger entries of an account, newest first.
	LedgerByAccount(ctx context.Context, accountID string) ([]model.LedgerEntry, error)
}

// AccountTx is the view of one locked account inside InAccountTx.
type AccountTx interface {
	// Account returns the locked account. Mutations are persisted by SaveAccount.
	Account() *model.Account

	// SaveAccount stages the account's balance and profit.
	SaveAccount(ctx context.Context, account *model.Account) error

	// Asset reads a catalog entry. The returned price is a consistent snapshot.
	Asset(ctx context.Context, id string) (*model.Asset, error)

	// Holdings returns the wallet including changes staged in this tx.
	Holdings(ctx context.Context) (model.Holdings, error)

	// AddHolding merges qty into the wallet.
	AddHolding(ctx context.Context, assetID string, qty decimal.Decimal) error

	// RemoveHolding subtracts qty, deleting the entry when nothing remains.
	RemoveHolding(ctx context.Context, assetID string, qty decimal.Decimal) error

	// AppendLedger stages an immutable trade record.
	AppendLedger(ctx context.Context, entry *model.LedgerEntry) error

	// Ledger returns the account's entries including staged ones, newest first.
	Ledger(ctx context.Context) ([]model.LedgerEntry, error)
}
