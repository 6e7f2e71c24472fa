// Package valuation computes account profit from holdings, the trade ledger
// and current catalog prices.
//
// The cost basis of a held asset is the net cash spent on it over the whole
// ledger: the value of its BUY entries minus the value of its SELL entries.
// Realized gains are folded into the basis, so it can go negative after a
// profitable partial sale. This is not FIFO or LIFO accounting.
package valuation

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/atmx/trading-sim/internal/model"
	"github.com/atmx/trading-sim/internal/store"
)

// Profit returns Σ (quantity·price − spent) over the held assets that have a
// known price. Assets missing from prices are skipped.
func Profit(holdings model.Holdings, entries []model.LedgerEntry, prices map[string]decimal.Decimal) decimal.Decimal {
	spent := make(map[string]decimal.Decimal, len(holdings))
	for _, e := range entries {
		if _, held := holdings[e.AssetID]; !held {
			continue
		}
		switch e.Kind {
		case model.KindBuy:
			spent[e.AssetID] = spent[e.AssetID].Add(e.Value())
		case model.KindSell:
			spent[e.AssetID] = spent[e.AssetID].Sub(e.Value())
		}
	}

	profit := decimal.Zero
	for assetID, qty := range holdings {
		price, ok := prices[assetID]
		if !ok {
			continue
		}
		profit = profit.Add(qty.Mul(price).Sub(spent[assetID]))
	}
	return profit
}

// View is the read side of one account needed to value it. store.AccountTx
// satisfies it.
type View interface {
	Holdings(ctx context.Context) (model.Holdings, error)
	Ledger(ctx context.Context) ([]model.LedgerEntry, error)
	Asset(ctx context.Context, id string) (*model.Asset, error)
}

// ForAccount values the account behind view at current catalog prices.
// Held assets that were removed from the catalog are skipped.
func ForAccount(ctx context.Context, view View) (decimal.Decimal, error) {
	holdings, err := view.Holdings(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("load holdings: %w", err)
	}
	entries, err := view.Ledger(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("load ledger: %w", err)
	}

	prices := make(map[string]decimal.Decimal, len(holdings))
	for assetID := range holdings {
		asset, err := view.Asset(ctx, assetID)
		if errors.Is(err, model.ErrNotFound) {
			continue
		}
		if err != nil {
			return decimal.Zero, fmt.Errorf("load asset %s: %w", assetID, err)
		}
		prices[assetID] = asset.Price
	}
	return Profit(holdings, entries, prices), nil
}

// Recalculator re-values every account, typically after a price ingestion
// cycle.
type Recalculator struct {
	store store.Store
	log   zerolog.Logger
}

// NewRecalculator creates a Recalculator over s.
func NewRecalculator(s store.Store, log zerolog.Logger) *Recalculator {
	return &Recalculator{
		store: s,
		log:   log.With().Str("component", "valuation").Logger(),
	}
}

// RecalculateAll recomputes and persists profit for all accounts. Each
// account is valued inside its own transaction, so the pass may interleave
// with trades but never loses one. A failing account is logged and skipped.
// It returns the number of accounts valued without error.
func (r *Recalculator) RecalculateAll(ctx context.Context) (int, error) {
	ids, err := r.store.ListAccountIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list accounts: %w", err)
	}

	updated := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		err := r.store.InAccountTx(ctx, id, func(ctx context.Context, tx store.AccountTx) error {
			profit, err := ForAccount(ctx, tx)
			if err != nil {
				return err
			}
			acct := tx.Account()
			if acct.Profit.Equal(profit) {
				return nil
			}
			acct.Profit = profit
			return tx.SaveAccount(ctx, acct)
		})
		if err != nil {
			r.log.Error().Err(err).Str("account_id", id).Msg("profit recalculation failed")
			continue
		}
		updated++
	}
	return updated, nil
}
