// Package catalog manages the listed assets: search, listing, creation,
// removal, price history and default seeding.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/atmx/trading-sim/internal/model"
	"github.com/atmx/trading-sim/internal/store"
	"github.com/atmx/trading-sim/internal/symbol"
)

// DefaultAssets is the catalog seeded into an empty store.
var DefaultAssets = []struct{ Symbol, Name string }{
	{"AAPL", "Apple Inc."},
	{"TSLA", "Tesla, Inc."},
	{"SPY", "S&P 500 (ETF)"},
	{"MSFT", "Microsoft Corporation"},
	{"AMZN", "Amazon.com, Inc."},
	{"BINANCE:BTCUSDT", "Bitcoin"},
	{"BINANCE:ETHUSDT", "Ethereum"},
	{"BINANCE:SOLUSDT", "Solana"},
	{"BINANCE:DOGEUSDT", "Dogecoin"},
	{"BINANCE:ATOMUSDT", "Cosmos"},
}

// Query filters, orders and pages a catalog listing. Page is zero-based;
// Size <= 0 returns everything on one page.
type Query struct {
	Search string
	SortBy string // price, name, symbol; anything else keeps listing order
	Desc   bool
	Page   int
	Size   int
}

// Page is one page of a listing.
type Page[T any] struct {
	Content       []T `json:"content"`
	Page          int `json:"page"`
	Size          int `json:"size"`
	TotalElements int `json:"total_elements"`
	TotalPages    int `json:"total_pages"`
}

// Service is the catalog API.
type Service struct {
	store        store.Store
	historyLimit int
	log          zerolog.Logger
}

// NewService creates a catalog service returning up to historyLimit points
// from History.
func NewService(st store.Store, historyLimit int, log zerolog.Logger) *Service {
	if historyLimit <= 0 {
		historyLimit = store.DefaultHistoryLimit
	}
	return &Service{
		store:        st,
		historyLimit: historyLimit,
		log:          log.With().Str("component", "catalog").Logger(),
	}
}

// List returns the catalog matching q.
func (s *Service) List(ctx context.Context, q Query) (Page[model.Asset], error) {
	assets, err := s.store.ListAssets(ctx)
	if err != nil {
		return Page[model.Asset]{}, err
	}

	if term := strings.ToLower(strings.TrimSpace(q.Search)); term != "" {
		filtered := make([]model.Asset, 0, len(assets))
		for _, a := range assets {
			if strings.Contains(strings.ToLower(a.Symbol), term) || strings.Contains(strings.ToLower(a.Name), term) {
				filtered = append(filtered, a)
			}
		}
		assets = filtered
	}

	if less := comparator(q.SortBy); less != nil {
		sort.SliceStable(assets, func(i, j int) bool {
			if q.Desc {
				return less(assets[j], assets[i])
			}
			return less(assets[i], assets[j])
		})
	}

	return paginate(assets, q.Page, q.Size), nil
}

func comparator(sortBy string) func(a, b model.Asset) bool {
	switch strings.ToLower(sortBy) {
	case "price":
		return func(a, b model.Asset) bool { return a.Price.LessThan(b.Price) }
	case "name":
		return func(a, b model.Asset) bool { return strings.ToLower(a.Name) < strings.ToLower(b.Name) }
	case "symbol":
		return func(a, b model.Asset) bool { return a.Symbol < b.Symbol }
	default:
		return nil
	}
}

func paginate[T any](items []T, page, size int) Page[T] {
	total := len(items)
	if size <= 0 {
		return Page[T]{Content: items, Page: 0, Size: total, TotalElements: total, TotalPages: 1}
	}
	if page < 0 {
		page = 0
	}
	from := total
	if page <= total/size {
		from = min(page*size, total)
	}
	to := from + min(size, total-from)
	pages := total / size
	if total%size != 0 {
		pages++
	}
	return Page[T]{
		Content:       items[from:to],
		Page:          page,
		Size:          size,
		TotalElements: total,
		TotalPages:    pages,
	}
}

// Create lists a new asset at price zero until the next ingestion cycle.
func (s *Service) Create(ctx context.Context, rawSymbol, name string) (*model.Asset, error) {
	sym, err := symbol.Parse(rawSymbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrInvalidArgument, err)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", model.ErrInvalidArgument)
	}

	now := time.Now().UTC()
	asset := &model.Asset{
		ID:        uuid.New().String(),
		Symbol:    sym.Raw,
		Name:      name,
		Price:     decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateAsset(ctx, asset); err != nil {
		return nil, err
	}
	s.log.Info().Str("asset_id", asset.ID).Str("symbol", asset.Symbol).Msg("asset listed")
	return asset, nil
}

// Get returns one asset.
func (s *Service) Get(ctx context.Context, id string) (*model.Asset, error) {
	return s.store.GetAsset(ctx, id)
}

// Delete removes an asset. Holdings and ledger entries referencing it stay;
// valuation skips it from then on.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteAsset(ctx, id); err != nil {
		return err
	}
	s.log.Info().Str("asset_id", id).Msg("asset delisted")
	return nil
}

// History returns the most recent price points of an asset, oldest first.
func (s *Service) History(ctx context.Context, id string) ([]model.PricePoint, error) {
	if _, err := s.store.GetAsset(ctx, id); err != nil {
		return nil, err
	}
	points, err := s.store.RecentPricePoints(ctx, id, s.historyLimit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	return points, nil
}

// SeedDefaults lists DefaultAssets when the catalog is empty and returns how
// many were added. A catalog with any asset is left alone, so delisted
// defaults stay delisted across restarts.
func (s *Service) SeedDefaults(ctx context.Context) (int, error) {
	existing, err := s.store.ListAssets(ctx)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}
	added := 0
	for _, d := range DefaultAssets {
		_, err := s.Create(ctx, d.Symbol, d.Name)
		if errors.Is(err, model.ErrAlreadyExists) {
			continue
		}
		if err != nil {
			return added, fmt.Errorf("seed %s: %w", d.Symbol, err)
		}
		added++
	}
	return added, nil
}
