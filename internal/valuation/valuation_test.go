package valuation_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/trading-sim/internal/model"
	"github.com/atmx/trading-sim/internal/store"
	"github.com/atmx/trading-sim/internal/valuation"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func entry(asset string, kind model.TradeKind, qty, price string) model.LedgerEntry {
	return model.LedgerEntry{AssetID: asset, Kind: kind, Quantity: d(qty), Price: d(price)}
}

func TestProfit(t *testing.T) {
	testCases := []struct {
		name     string
		holdings model.Holdings
		entries  []model.LedgerEntry
		prices   map[string]decimal.Decimal
		want     string
	}{
		{
			name:     "bought at current price",
			holdings: model.Holdings{"x": d("5")},
			entries:  []model.LedgerEntry{entry("x", model.KindBuy, "5", "100")},
			prices:   map[string]decimal.Decimal{"x": d("100")},
			want:     "0",
		},
		{
			name:     "price moved up",
			holdings: model.Holdings{"x": d("5")},
			entries:  []model.LedgerEntry{entry("x", model.KindBuy, "5", "100")},
			prices:   map[string]decimal.Decimal{"x": d("120")},
			want:     "100",
		},
		{
			name:     "fully sold asset contributes nothing",
			holdings: model.Holdings{},
			entries: []model.LedgerEntry{
				entry("x", model.KindSell, "5", "120"),
				entry("x", model.KindBuy, "5", "100"),
			},
			prices: map[string]decimal.Decimal{"x": d("120")},
			want:   "0",
		},
		{
			name:     "partial sale folds realized gain into basis",
			holdings: model.Holdings{"x": d("5")},
			entries: []model.LedgerEntry{
				entry("x", model.KindSell, "5", "200"),
				entry("x", model.KindBuy, "10", "100"),
			},
			prices: map[string]decimal.Decimal{"x": d("200")},
			// spent = 1000 - 1000 = 0; 5*200 - 0
			want: "1000",
		},
		{
			name:     "net basis can go negative",
			holdings: model.Holdings{"x": d("1")},
			entries: []model.LedgerEntry{
				entry("x", model.KindSell, "1", "300"),
				entry("x", model.KindBuy, "2", "100"),
			},
			prices: map[string]decimal.Decimal{"x": d("50")},
			// spent = 200 - 300 = -100; 50 - (-100)
			want: "150",
		},
		{
			name:     "asset without price is skipped",
			holdings: model.Holdings{"x": d("1"), "gone": d("3")},
			entries: []model.LedgerEntry{
				entry("x", model.KindBuy, "1", "10"),
				entry("gone", model.KindBuy, "3", "10"),
			},
			prices: map[string]decimal.Decimal{"x": d("15")},
			want:   "5",
		},
		{
			name:     "multiple assets sum",
			holdings: model.Holdings{"x": d("2"), "y": d("0.5")},
			entries: []model.LedgerEntry{
				entry("x", model.KindBuy, "2", "10"),
				entry("y", model.KindBuy, "0.5", "40000"),
			},
			prices: map[string]decimal.Decimal{"x": d("9"), "y": d("42000")},
			want:   "998",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := valuation.Profit(tc.holdings, tc.entries, tc.prices)
			assert.True(t, got.Equal(d(tc.want)), "want %s, got %s", tc.want, got)
		})
	}
}

type fixture struct {
	store *store.MemoryStore
	acct  string
	asset string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore(0)
	require.NoError(t, s.CreateAccount(ctx, &model.Account{ID: "a1", CashBalance: d("500")}))
	require.NoError(t, s.CreateAsset(ctx, &model.Asset{ID: "x", Symbol: "X", Name: "X", Price: d("100")}))
	require.NoError(t, s.InAccountTx(ctx, "a1", func(ctx context.Context, tx store.AccountTx) error {
		if err := tx.AddHolding(ctx, "x", d("5")); err != nil {
			return err
		}
		return tx.AppendLedger(ctx, &model.LedgerEntry{
			ID: "e1", AccountID: "a1", AssetID: "x", Kind: model.KindBuy,
			Quantity: d("5"), Price: d("100"), Timestamp: time.Now().UTC(),
		})
	}))
	return fixture{store: s, acct: "a1", asset: "x"}
}

func TestRecalculateAll_FollowsPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := valuation.NewRecalculator(f.store, zerolog.Nop())

	n, err := r.RecalculateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	acct, _ := f.store.GetAccount(ctx, f.acct)
	assert.True(t, acct.Profit.IsZero())

	require.NoError(t, f.store.UpdateAssetPrice(ctx, f.asset, d("120")))
	_, err = r.RecalculateAll(ctx)
	require.NoError(t, err)
	acct, _ = f.store.GetAccount(ctx, f.acct)
	assert.True(t, acct.Profit.Equal(d("100")), "got %s", acct.Profit)
	assert.True(t, acct.CashBalance.Equal(d("500")), "valuation must not touch cash")
}

func TestRecalculateAll_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.UpdateAssetPrice(ctx, f.asset, d("87.5")))
	r := valuation.NewRecalculator(f.store, zerolog.Nop())

	_, err := r.RecalculateAll(ctx)
	require.NoError(t, err)
	first, _ := f.store.GetAccount(ctx, f.acct)

	_, err = r.RecalculateAll(ctx)
	require.NoError(t, err)
	second, _ := f.store.GetAccount(ctx, f.acct)

	assert.True(t, first.Profit.Equal(second.Profit))
	assert.True(t, first.Profit.Equal(d("-62.5")))
}

func TestRecalculateAll_DeletedAssetSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.DeleteAsset(ctx, f.asset))

	n, err := valuation.NewRecalculator(f.store, zerolog.Nop()).RecalculateAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	acct, _ := f.store.GetAccount(ctx, f.acct)
	assert.True(t, acct.Profit.IsZero())
}

func TestForAccount_InsideTx(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.UpdateAssetPrice(ctx, f.asset, d("110")))

	var got decimal.Decimal
	require.NoError(t, f.store.InAccountTx(ctx, f.acct, func(ctx context.Context, tx store.AccountTx) error {
		var err error
		got, err = valuation.ForAccount(ctx, tx)
		return err
	}))
	assert.True(t, got.Equal(d("50")))
}
