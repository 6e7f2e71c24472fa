package trade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/atmx/trading-sim/internal/metrics"
	"github.com/atmx/trading-sim/internal/model"
	"github.com/atmx/trading-sim/internal/store"
	"github.com/atmx/trading-sim/internal/valuation"
)

// Request is one BUY or SELL order.
type Request struct {
	AccountID string
	AssetID   string
	Kind      model.TradeKind
	Quantity  decimal.Decimal
}

// Result is the committed state after a trade.
type Result struct {
	Entry    model.LedgerEntry
	Asset    model.Asset // as priced by the trade
	Account  model.Account
	Holdings model.Holdings
}

// Engine executes trades. Each trade runs inside one account transaction:
// the balance check, wallet change, ledger append and profit update commit
// together or not at all. Trades on different accounts do not contend.
type Engine struct {
	store store.Store
	log   zerolog.Logger
	now   func() time.Time
}

// NewEngine creates a trade engine over st.
func NewEngine(st store.Store, log zerolog.Logger) *Engine {
	return &Engine{
		store: st,
		log:   log.With().Str("component", "trade").Logger(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Execute validates and applies req at the asset's current price.
func (e *Engine) Execute(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	// --- Input validation, before any lookup ---
	if !req.Quantity.IsPositive() {
		return nil, e.reject(fmt.Errorf("%w: quantity must be positive, got %s", model.ErrInvalidArgument, req.Quantity))
	}
	if !req.Kind.Valid() {
		return nil, e.reject(fmt.Errorf("%w: trade kind must be BUY or SELL, got %q", model.ErrInvalidArgument, req.Kind))
	}

	var res Result
	err := e.store.InAccountTx(ctx, req.AccountID, func(ctx context.Context, tx store.AccountTx) error {
		acct := tx.Account()

		asset, err := tx.Asset(ctx, req.AssetID)
		if err != nil {
			return err
		}
		price := asset.Price
		if !price.IsPositive() {
			return fmt.Errorf("%w: asset %s has no market price yet", model.ErrInvalidArgument, asset.Symbol)
		}
		value := price.Mul(req.Quantity)

		switch req.Kind {
		case model.KindBuy:
			if acct.CashBalance.LessThan(value) {
				return fmt.Errorf("%w: cost %s exceeds balance %s", model.ErrInsufficientFunds, value, acct.CashBalance)
			}
			if err := tx.AddHolding(ctx, asset.ID, req.Quantity); err != nil {
				return err
			}
			acct.CashBalance = acct.CashBalance.Sub(value)

		case model.KindSell:
			holdings, err := tx.Holdings(ctx)
			if err != nil {
				return err
			}
			if owned := holdings.Quantity(asset.ID); owned.LessThan(req.Quantity) {
				return fmt.Errorf("%w: owned %s of %s, selling %s", model.ErrInsufficientHoldings, owned, asset.Symbol, req.Quantity)
			}
			if err := tx.RemoveHolding(ctx, asset.ID, req.Quantity); err != nil {
				return err
			}
			acct.CashBalance = acct.CashBalance.Add(value)
		}

		entry := model.LedgerEntry{
			ID:        uuid.New().String(),
			AccountID: acct.ID,
			AssetID:   asset.ID,
			Kind:      req.Kind,
			Quantity:  req.Quantity,
			Price:     price,
			Timestamp: e.now(),
		}
		if err := tx.AppendLedger(ctx, &entry); err != nil {
			return err
		}

		profit, err := valuation.ForAccount(ctx, tx)
		if err != nil {
			return err
		}
		acct.Profit = profit
		if err := tx.SaveAccount(ctx, acct); err != nil {
			return err
		}

		holdings, err := tx.Holdings(ctx)
		if err != nil {
			return err
		}
		res = Result{Entry: entry, Asset: *asset, Account: *acct, Holdings: holdings}
		return nil
	})
	if err != nil {
		return nil, e.reject(err)
	}

	metrics.TradesTotal.WithLabelValues(string(req.Kind)).Inc()
	metrics.TradeLatency.WithLabelValues(string(req.Kind)).Observe(time.Since(start).Seconds())

	e.log.Info().
		Str("trade_id", res.Entry.ID).
		Str("account_id", req.AccountID).
		Str("asset_id", req.AssetID).
		Str("kind", string(req.Kind)).
		Str("qty", req.Quantity.String()).
		Str("price", res.Entry.Price.String()).
		Str("balance", res.Account.CashBalance.String()).
		Str("profit", res.Account.Profit.String()).
		Msg("trade executed")

	return &res, nil
}

// reject counts the rejection and passes err through.
func (e *Engine) reject(err error) error {
	metrics.TradeRejections.WithLabelValues(rejectionReason(err)).Inc()
	if !model.IsClientError(err) {
		e.log.Error().Err(err).Msg("trade failed")
	}
	return err
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, model.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, model.ErrInsufficientHoldings):
		return "insufficient_holdings"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "storage"
	}
}
