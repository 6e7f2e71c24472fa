package catalog_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/trading-sim/internal/catalog"
	"github.com/atmx/trading-sim/internal/model"
	"github.com/atmx/trading-sim/internal/store"
)

func newService(t *testing.T) (*catalog.Service, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore(0)
	svc := catalog.NewService(ms, 30, zerolog.Nop())
	_, err := svc.SeedDefaults(context.Background())
	require.NoError(t, err)
	return svc, ms
}

func symbols(assets []model.Asset) []string {
	out := make([]string, len(assets))
	for i, a := range assets {
		out[i] = a.Symbol
	}
	return out
}

func TestSeedDefaults_OnlyIntoEmptyCatalog(t *testing.T) {
	svc, ms := newService(t)
	ctx := context.Background()

	assets, err := ms.ListAssets(ctx)
	require.NoError(t, err)
	assert.Len(t, assets, len(catalog.DefaultAssets))
	for _, a := range assets {
		assert.True(t, a.Price.IsZero())
	}

	var tsla string
	for _, a := range assets {
		if a.Symbol == "TSLA" {
			tsla = a.ID
		}
	}
	require.NotEmpty(t, tsla)
	require.NoError(t, svc.Delete(ctx, tsla))

	n, err := svc.SeedDefaults(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	assets, err = ms.ListAssets(ctx)
	require.NoError(t, err)
	assert.Len(t, assets, len(catalog.DefaultAssets)-1)
	assert.NotContains(t, symbols(assets), "TSLA")
}

func TestList_Search(t *testing.T) {
	svc, _ := newService(t)
	page, err := svc.List(context.Background(), catalog.Query{Search: "binance:"})
	require.NoError(t, err)
	assert.Len(t, page.Content, 5)

	page, err = svc.List(context.Background(), catalog.Query{Search: "COIN"})
	require.NoError(t, err)
	assert.Equal(t, []string{"BINANCE:BTCUSDT", "BINANCE:DOGEUSDT"}, symbols(page.Content))
}

func TestList_SortAndPaginate(t *testing.T) {
	svc, ms := newService(t)
	ctx := context.Background()
	all, _ := ms.ListAssets(ctx)
	for i, a := range all {
		require.NoError(t, ms.UpdateAssetPrice(ctx, a.ID, decimal.NewFromInt(int64(100-i))))
	}

	page, err := svc.List(ctx, catalog.Query{SortBy: "price", Page: 0, Size: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"BINANCE:ATOMUSDT", "BINANCE:DOGEUSDT", "BINANCE:SOLUSDT"}, symbols(page.Content))
	assert.Equal(t, 10, page.TotalElements)
	assert.Equal(t, 4, page.TotalPages)

	page, err = svc.List(ctx, catalog.Query{SortBy: "price", Desc: true, Page: 3, Size: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{"BINANCE:ATOMUSDT"}, symbols(page.Content))

	page, err = svc.List(ctx, catalog.Query{SortBy: "name", Page: 9, Size: 3})
	require.NoError(t, err)
	assert.Empty(t, page.Content)

	for _, q := range []catalog.Query{
		{Page: 1 << 62, Size: 3},
		{Page: 4, Size: 3},
		{Page: 1, Size: 1 << 62},
	} {
		assert.NotPanics(t, func() {
			page, err = svc.List(ctx, q)
		}, "page %d size %d", q.Page, q.Size)
		require.NoError(t, err)
		assert.Empty(t, page.Content)
		assert.Equal(t, 10, page.TotalElements)
	}

	page, err = svc.List(ctx, catalog.Query{SortBy: "name"})
	require.NoError(t, err)
	assert.Equal(t, "AMZN", page.Content[0].Symbol) // Amazon.com, Inc.
	assert.Equal(t, "TSLA", page.Content[9].Symbol) // Tesla, Inc.
}

func TestCreate_ValidatesSymbol(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, " nvda ", "NVIDIA")
	require.NoError(t, err)
	assert.Equal(t, "NVDA", a.Symbol)

	_, err = svc.Create(ctx, "NVDA", "dup")
	assert.ErrorIs(t, err, model.ErrAlreadyExists)

	_, err = svc.Create(ctx, "not a symbol", "x")
	assert.ErrorIs(t, err, model.ErrInvalidArgument)

	_, err = svc.Create(ctx, "AMD", "  ")
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
}

func TestHistory_OldestFirstAndBounded(t *testing.T) {
	ms := store.NewMemoryStore(5)
	svc := catalog.NewService(ms, 3, zerolog.Nop())
	ctx := context.Background()
	a, err := svc.Create(ctx, "X", "X")
	require.NoError(t, err)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= 6; i++ {
		require.NoError(t, ms.AppendPricePoint(ctx, model.PricePoint{
			AssetID: a.ID, Price: decimal.NewFromInt(int64(i)), Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}

	points, err := svc.History(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.Equal(t, "4", points[0].Price.String())
	assert.Equal(t, "6", points[2].Price.String())

	_, err = svc.History(ctx, "ghost")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestHandlers(t *testing.T) {
	svc, _ := newService(t)
	r := chi.NewRouter()
	r.Route("/api/v1", catalog.NewHandler(svc, zerolog.Nop()).Routes)

	req := httptest.NewRequest("GET", "/api/v1/assets?search=apple&sort=name&dir=desc&page=0&size=5", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var page catalog.Page[model.Asset]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, []string{"AAPL"}, symbols(page.Content))

	req = httptest.NewRequest("POST", "/api/v1/assets", strings.NewReader(`{"symbol":"NVDA","name":"NVIDIA"}`))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)
	var created model.Asset
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	req = httptest.NewRequest("POST", "/api/v1/assets", strings.NewReader(`{"symbol":"NVDA"}`))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req = httptest.NewRequest("DELETE", "/api/v1/assets/"+created.ID, nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	req = httptest.NewRequest("DELETE", "/api/v1/assets/"+created.ID, nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
