// Package trade provides the business logic and HTTP handlers for accounts,
// funding, trade execution and wallet/ledger queries.
//
// All monetary values use shopspring/decimal, never float64 for money.
package trade

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/atmx/trading-sim/internal/model"
	"github.com/atmx/trading-sim/internal/store"
	"github.com/atmx/trading-sim/internal/valuation"
)

// Service is the account-facing boundary: the HTTP layer talks only to it.
type Service struct {
	store  store.Store
	engine *Engine
	log    zerolog.Logger
}

// NewService creates a new trade service.
func NewService(st store.Store, log zerolog.Logger) *Service {
	return &Service{
		store:  st,
		engine: NewEngine(st, log),
		log:    log.With().Str("component", "accounts").Logger(),
	}
}

// TradeResult is what a caller sees after a successful trade.
type TradeResult struct {
	Trade   model.Transaction  `json:"trade"`
	Balance model.Balance      `json:"balance"`
	Wallet  []model.WalletItem `json:"wallet"`
}

// CreateAccount opens an account with zero balance and an empty wallet.
func (s *Service) CreateAccount(ctx context.Context) (*model.Account, error) {
	acct := &model.Account{
		ID:          uuid.New().String(),
		CashBalance: decimal.Zero,
		Profit:      decimal.Zero,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateAccount(ctx, acct); err != nil {
		return nil, err
	}
	s.log.Info().Str("account_id", acct.ID).Msg("account created")
	return acct, nil
}

// GetAccount returns an account by id.
func (s *Service) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	return s.store.GetAccount(ctx, id)
}

// ListAccounts returns every account in creation order.
func (s *Service) ListAccounts(ctx context.Context) ([]model.Account, error) {
	ids, err := s.store.ListAccountIDs(ctx)
	if err != nil {
		return nil, err
	}
	accounts := make([]model.Account, 0, len(ids))
	for _, id := range ids {
		acct, err := s.store.GetAccount(ctx, id)
		if errors.Is(err, model.ErrNotFound) {
			continue // deleted since listing
		}
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *acct)
	}
	return accounts, nil
}

// DeleteAccount closes an account that never traded. Accounts with ledger
// entries are kept (ErrConflict).
func (s *Service) DeleteAccount(ctx context.Context, id string) error {
	if err := s.store.DeleteAccount(ctx, id); err != nil {
		return err
	}
	s.log.Info().Str("account_id", id).Msg("account deleted")
	return nil
}

// AddFunds credits amount to the account's cash balance.
func (s *Service) AddFunds(ctx context.Context, accountID string, amount decimal.Decimal) (*model.Account, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive, got %s", model.ErrInvalidArgument, amount)
	}

	var out model.Account
	err := s.store.InAccountTx(ctx, accountID, func(ctx context.Context, tx store.AccountTx) error {
		acct := tx.Account()
		acct.CashBalance = acct.CashBalance.Add(amount)
		out = *acct
		return tx.SaveAccount(ctx, acct)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("account_id", accountID).
		Str("amount", amount.String()).
		Str("balance", out.CashBalance.String()).
		Msg("funds added")
	return &out, nil
}

// ExecuteTrade runs one trade and returns the resulting wallet snapshot.
// Once the trade has committed the call succeeds: catalog lookups for the
// snapshot that fail are logged and the affected holdings left out.
func (s *Service) ExecuteTrade(ctx context.Context, accountID string, kind model.TradeKind, assetID string, qty decimal.Decimal) (*TradeResult, error) {
	res, err := s.engine.Execute(ctx, Request{
		AccountID: accountID,
		AssetID:   assetID,
		Kind:      kind,
		Quantity:  qty,
	})
	if err != nil {
		return nil, err
	}

	known := map[string]*model.Asset{res.Asset.ID: &res.Asset}
	wallet, err := s.walletItems(ctx, res.Holdings, known, false)
	if err != nil {
		return nil, err
	}
	return &TradeResult{
		Trade: model.Transaction{
			LedgerEntry: res.Entry,
			Symbol:      res.Asset.Symbol,
			Name:        res.Asset.Name,
			TotalValue:  res.Entry.Value(),
		},
		Balance: model.Balance{CashBalance: res.Account.CashBalance, Profit: res.Account.Profit},
		Wallet:  wallet,
	}, nil
}

// CreditHoldings places qty of an asset into the wallet without a trade: no
// cash moves and no ledger entry is written. Profit is recomputed, so the
// credited quantity counts at full market value.
func (s *Service) CreditHoldings(ctx context.Context, accountID, assetID string, qty decimal.Decimal) ([]model.WalletItem, error) {
	if !qty.IsPositive() {
		return nil, fmt.Errorf("%w: quantity must be positive, got %s", model.ErrInvalidArgument, qty)
	}

	var (
		asset    *model.Asset
		holdings model.Holdings
	)
	err := s.store.InAccountTx(ctx, accountID, func(ctx context.Context, tx store.AccountTx) error {
		var err error
		if asset, err = tx.Asset(ctx, assetID); err != nil {
			return err
		}
		if err := tx.AddHolding(ctx, asset.ID, qty); err != nil {
			return err
		}
		acct := tx.Account()
		if acct.Profit, err = valuation.ForAccount(ctx, tx); err != nil {
			return err
		}
		if err := tx.SaveAccount(ctx, acct); err != nil {
			return err
		}
		holdings, err = tx.Holdings(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("account_id", accountID).
		Str("asset_id", assetID).
		Str("qty", qty.String()).
		Msg("holdings credited")
	return s.walletItems(ctx, holdings, map[string]*model.Asset{asset.ID: asset}, false)
}

// GetWalletDetails lists the account's holdings joined with the catalog,
// ordered by symbol. Holdings of assets no longer listed are omitted.
func (s *Service) GetWalletDetails(ctx context.Context, accountID string) ([]model.WalletItem, error) {
	holdings, err := s.store.GetHoldings(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.walletItems(ctx, holdings, nil, true)
}

// walletItems joins holdings with the catalog. Assets in known are not looked
// up again. With strict unset, lookup failures are logged and skipped instead
// of returned.
func (s *Service) walletItems(ctx context.Context, holdings model.Holdings, known map[string]*model.Asset, strict bool) ([]model.WalletItem, error) {
	items := make([]model.WalletItem, 0, len(holdings))
	for assetID, qty := range holdings {
		asset, ok := known[assetID]
		if !ok {
			var err error
			asset, err = s.store.GetAsset(ctx, assetID)
			switch {
			case errors.Is(err, model.ErrNotFound):
				continue
			case err != nil && strict:
				return nil, err
			case err != nil:
				s.log.Warn().Err(err).Str("asset_id", assetID).Msg("wallet snapshot lookup failed")
				continue
			}
		}
		items = append(items, model.WalletItem{
			AssetID:  asset.ID,
			Symbol:   asset.Symbol,
			Name:     asset.Name,
			Price:    asset.Price,
			Quantity: qty,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Symbol < items[j].Symbol })
	return items, nil
}

// GetProfitAndBalance returns the account's cash and last computed profit.
func (s *Service) GetProfitAndBalance(ctx context.Context, accountID string) (model.Balance, error) {
	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return model.Balance{}, err
	}
	return model.Balance{CashBalance: acct.CashBalance, Profit: acct.Profit}, nil
}

// GetTransactionHistory returns the account's ledger, newest first. Entries
// for delisted assets are kept with an empty symbol and name.
func (s *Service) GetTransactionHistory(ctx context.Context, accountID string) ([]model.Transaction, error) {
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	entries, err := s.store.LedgerByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	assets := make(map[string]*model.Asset)
	out := make([]model.Transaction, 0, len(entries))
	for _, e := range entries {
		t, err := s.enrich(ctx, e, assets)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// enrich joins a ledger entry with its asset. cache may be nil.
func (s *Service) enrich(ctx context.Context, e model.LedgerEntry, cache map[string]*model.Asset) (model.Transaction, error) {
	t := model.Transaction{LedgerEntry: e, TotalValue: e.Value()}

	asset, ok := cache[e.AssetID]
	if !ok {
		var err error
		asset, err = s.store.GetAsset(ctx, e.AssetID)
		switch {
		case errors.Is(err, model.ErrNotFound):
			asset = nil
		case err != nil:
			return t, err
		}
		if cache != nil {
			cache[e.AssetID] = asset
		}
	}
	if asset != nil {
		t.Symbol = asset.Symbol
		t.Name = asset.Name
	}
	return t, nil
}
