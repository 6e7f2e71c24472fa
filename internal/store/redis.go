package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/atmx/trading-sim/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the asset catalog and price history. Writes go to the primary
// store and invalidate the cache; reads check Redis first then fall back to
// the primary. Account transactions always bypass the cache, so trades see
// the primary's price.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateAsset(ctx context.Context, a *model.Asset) error {
	if err := s.primary.CreateAsset(ctx, a); err != nil {
		return err
	}
	s.rdb.Del(ctx, catalogKey)
	s.cacheJSON(ctx, assetKey(a.ID), a)
	return nil
}

func (s *CachedStore) DeleteAsset(ctx context.Context, id string) error {
	if err := s.primary.DeleteAsset(ctx, id); err != nil {
		return err
	}
	s.rdb.Del(ctx, catalogKey, assetKey(id), historyKey(id))
	return nil
}

func (s *CachedStore) UpdateAssetPrice(ctx context.Context, id string, price decimal.Decimal) error {
	if err := s.primary.UpdateAssetPrice(ctx, id, price); err != nil {
		return err
	}
	// Invalidate; next read will re-populate.
	s.rdb.Del(ctx, catalogKey, assetKey(id))
	return nil
}

func (s *CachedStore) AppendPricePoint(ctx context.Context, p model.PricePoint) error {
	if err := s.primary.AppendPricePoint(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, historyKey(p.AssetID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAsset(ctx context.Context, id string) (*model.Asset, error) {
	var a model.Asset
	if s.readJSON(ctx, assetKey(id), &a) {
		return &a, nil
	}

	// Cache miss: read from primary.
	asset, err := s.primary.GetAsset(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, assetKey(id), asset)
	return asset, nil
}

func (s *CachedStore) ListAssets(ctx context.Context) ([]model.Asset, error) {
	var assets []model.Asset
	if s.readJSON(ctx, catalogKey, &assets) {
		return assets, nil
	}

	assets, err := s.primary.ListAssets(ctx)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, catalogKey, assets)
	return assets, nil
}

// RecentPricePoints caches the retained window and slices it per request.
func (s *CachedStore) RecentPricePoints(ctx context.Context, assetID string, limit int) ([]model.PricePoint, error) {
	var points []model.PricePoint
	if !s.readJSON(ctx, historyKey(assetID), &points) {
		var err error
		points, err = s.primary.RecentPricePoints(ctx, assetID, 0)
		if err != nil {
			return nil, err
		}
		s.cacheJSON(ctx, historyKey(assetID), points)
	}
	if limit > 0 && limit < len(points) {
		points = points[:limit]
	}
	return points, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) CreateAccount(ctx context.Context, a *model.Account) error {
	return s.primary.CreateAccount(ctx, a)
}

func (s *CachedStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	return s.primary.GetAccount(ctx, id)
}

func (s *CachedStore) DeleteAccount(ctx context.Context, id string) error {
	return s.primary.DeleteAccount(ctx, id)
}

func (s *CachedStore) ListAccountIDs(ctx context.Context) ([]string, error) {
	return s.primary.ListAccountIDs(ctx)
}

func (s *CachedStore) InAccountTx(ctx context.Context, accountID string, fn func(ctx context.Context, tx AccountTx) error) error {
	return s.primary.InAccountTx(ctx, accountID, fn)
}

func (s *CachedStore) GetHoldings(ctx context.Context, accountID string) (model.Holdings, error) {
	return s.primary.GetHoldings(ctx, accountID)
}

func (s *CachedStore) LedgerByAccount(ctx context.Context, accountID string) ([]model.LedgerEntry, error) {
	return s.primary.LedgerByAccount(ctx, accountID)
}

// --- Cache helpers ---

func (s *CachedStore) readJSON(ctx context.Context, key string, v any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

const catalogKey = "catalog:assets"

func assetKey(id string) string   { return fmt.Sprintf("asset:%s", id) }
func historyKey(id string) string { return fmt.Sprintf("history:%s", id) }
