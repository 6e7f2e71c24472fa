// Package model defines the core domain types shared across the trading simulator.
// All monetary values and quantities use shopspring/decimal, never float64 for money.
package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TradeKind is the direction of a trade.
type TradeKind string

const (
	KindBuy  TradeKind = "BUY"
	KindSell TradeKind = "SELL"
)

// ParseTradeKind accepts BUY/SELL in any case.
func ParseTradeKind(s string) (TradeKind, bool) {
	k := TradeKind(strings.ToUpper(strings.TrimSpace(s)))
	return k, k.Valid()
}

// Valid reports whether k is BUY or SELL.
func (k TradeKind) Valid() bool {
	return k == KindBuy || k == KindSell
}

// Account is a user's cash position. CashBalance is mutated only by funding
// and trade execution; Profit only by the valuation engine.
type Account struct {
	ID          string          `json:"id" db:"id"`
	CashBalance decimal.Decimal `json:"cash_balance" db:"cash_balance"`
	Profit      decimal.Decimal `json:"profit" db:"profit"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// Asset is a tradable instrument. Price is last-writer-wins per ingestion cycle.
type Asset struct {
	ID        string          `json:"id" db:"id"`
	Symbol    string          `json:"symbol" db:"symbol"`
	Name      string          `json:"name" db:"name"`
	Price     decimal.Decimal `json:"price" db:"price"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// PricePoint is one observed price for an asset.
type PricePoint struct {
	AssetID   string          `json:"asset_id" db:"asset_id"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// LedgerEntry is an immutable record of a trade execution.
// Once created, these are never modified or deleted.
type LedgerEntry struct {
	ID        string          `json:"id" db:"id"`
	AccountID string          `json:"account_id" db:"account_id"`
	AssetID   string          `json:"asset_id" db:"asset_id"`
	Kind      TradeKind       `json:"kind" db:"kind"`
	Quantity  decimal.Decimal `json:"quantity" db:"quantity"` // always positive
	Price     decimal.Decimal `json:"price" db:"price"`       // fill price, always positive
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// Value is quantity * price.
func (e LedgerEntry) Value() decimal.Decimal {
	return e.Quantity.Mul(e.Price)
}

// WalletItem is one holding joined with its catalog entry.
type WalletItem struct {
	AssetID  string          `json:"asset_id"`
	Symbol   string          `json:"symbol"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Balance is the cash/profit summary of an account.
type Balance struct {
	CashBalance decimal.Decimal `json:"cash_balance"`
	Profit      decimal.Decimal `json:"profit"`
}

// Transaction is a ledger entry enriched for display.
type Transaction struct {
	LedgerEntry
	Symbol     string          `json:"symbol"`
	Name       string          `json:"name"`
	TotalValue decimal.Decimal `json:"total_value"`
}

// Notification is one alert message in the feed.
type Notification struct {
	Message    string    `json:"message"`
	ReceivedAt time.Time `json:"received_at"`
}
