package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/trading-sim/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Trade transactions take a per-account mutex and stage their changes on
// copies; the shared maps are touched only at commit under mu.
type MemoryStore struct {
	mu           sync.RWMutex
	accounts     map[string]*model.Account
	accountOrder []string
	holdings     map[string]model.Holdings
	assets       map[string]*model.Asset
	assetOrder   []string
	ledger       []model.LedgerEntry
	history      map[string][]model.PricePoint // oldest first
	historyLimit int

	locks sync.Map // accountID → *sync.Mutex
}

// NewMemoryStore creates a new in-memory store retaining historyLimit
// price points per asset (DefaultHistoryLimit if <= 0).
func NewMemoryStore(historyLimit int) *MemoryStore {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &MemoryStore{
		accounts:     make(map[string]*model.Account),
		holdings:     make(map[string]model.Holdings),
		assets:       make(map[string]*model.Asset),
		history:      make(map[string][]model.PricePoint),
		historyLimit: historyLimit,
	}
}

// --- Accounts ---

func (s *MemoryStore) CreateAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[a.ID]; ok {
		return fmt.Errorf("%w: account %s", model.ErrAlreadyExists, a.ID)
	}
	cp := *a
	s.accounts[a.ID] = &cp
	s.accountOrder = append(s.accountOrder, a.ID)
	s.holdings[a.ID] = model.Holdings{}
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", model.ErrNotFound, id)
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) DeleteAccount(_ context.Context, id string) error {
	lock := s.accountLock(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[id]; !ok {
		return fmt.Errorf("%w: account %s", model.ErrNotFound, id)
	}
	for _, e := range s.ledger {
		if e.AccountID == id {
			return fmt.Errorf("%w: account %s has trade history", model.ErrConflict, id)
		}
	}
	delete(s.accounts, id)
	delete(s.holdings, id)
	for i, v := range s.accountOrder {
		if v == id {
			s.accountOrder = append(s.accountOrder[:i], s.accountOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) ListAccountIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, len(s.accountOrder))
	copy(ids, s.accountOrder)
	return ids, nil
}

func (s *MemoryStore) accountLock(id string) *sync.Mutex {
	l, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return l.(*sync.Mutex)
}

func (s *MemoryStore) InAccountTx(ctx context.Context, accountID string, fn func(ctx context.Context, tx AccountTx) error) error {
	lock := s.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	acct, ok := s.accounts[accountID]
	if !ok {
		s.mu.RUnlock()
		return fmt.Errorf("%w: account %s", model.ErrNotFound, accountID)
	}
	tx := &memoryTx{
		store:    s,
		account:  *acct,
		holdings: s.holdings[accountID].Clone(),
	}
	s.mu.RUnlock()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[accountID]; !ok {
		return fmt.Errorf("%w: account %s", model.ErrNotFound, accountID)
	}
	committed := tx.account
	s.accounts[accountID] = &committed
	s.holdings[accountID] = tx.holdings
	s.ledger = append(s.ledger, tx.pending...)
	return nil
}

// --- Asset catalog ---

func (s *MemoryStore) CreateAsset(_ context.Context, a *model.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.assets {
		if existing.Symbol == a.Symbol {
			return fmt.Errorf("%w: asset with symbol %s", model.ErrAlreadyExists, a.Symbol)
		}
	}
	cp := *a
	s.assets[a.ID] = &cp
	s.assetOrder = append(s.assetOrder, a.ID)
	return nil
}

func (s *MemoryStore) GetAsset(_ context.Context, id string) (*model.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getAssetLocked(id)
}

func (s *MemoryStore) getAssetLocked(id string) (*model.Asset, error) {
	a, ok := s.assets[id]
	if !ok {
		return nil, fmt.Errorf("%w: asset %s", model.ErrNotFound, id)
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) ListAssets(_ context.Context) ([]model.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	assets := make([]model.Asset, 0, len(s.assetOrder))
	for _, id := range s.assetOrder {
		if a, ok := s.assets[id]; ok {
			assets = append(assets, *a)
		}
	}
	return assets, nil
}

func (s *MemoryStore) DeleteAsset(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.assets[id]; !ok {
		return fmt.Errorf("%w: asset %s", model.ErrNotFound, id)
	}
	delete(s.assets, id)
	delete(s.history, id)
	for i, v := range s.assetOrder {
		if v == id {
			s.assetOrder = append(s.assetOrder[:i], s.assetOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryStore) UpdateAssetPrice(_ context.Context, id string, price decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assets[id]
	if !ok {
		return fmt.Errorf("%w: asset %s", model.ErrNotFound, id)
	}
	a.Price = price
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// --- Price history ---

func (s *MemoryStore) AppendPricePoint(_ context.Context, p model.PricePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.assets[p.AssetID]; !ok {
		return fmt.Errorf("%w: asset %s", model.ErrNotFound, p.AssetID)
	}
	points := append(s.history[p.AssetID], p)
	if over := len(points) - s.historyLimit; over > 0 {
		points = append([]model.PricePoint(nil), points[over:]...)
	}
	s.history[p.AssetID] = points
	return nil
}

func (s *MemoryStore) RecentPricePoints(_ context.Context, assetID string, limit int) ([]model.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	points := s.history[assetID]
	if limit <= 0 || limit > len(points) {
		limit = len(points)
	}
	result := make([]model.PricePoint, 0, limit)
	for i := len(points) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, points[i])
	}
	return result, nil
}

// --- Wallet and ledger reads ---

func (s *MemoryStore) GetHoldings(_ context.Context, accountID string) (model.Holdings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.accounts[accountID]; !ok {
		return nil, fmt.Errorf("%w: account %s", model.ErrNotFound, accountID)
	}
	return s.holdings[accountID].Clone(), nil
}

func (s *MemoryStore) LedgerByAccount(_ context.Context, accountID string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledgerLocked(accountID, nil), nil
}

// ledgerLocked returns committed entries of the account plus pending ones,
// newest first. Entries are appended in execution order, so walking
// backwards yields newest first.
func (s *MemoryStore) ledgerLocked(accountID string, pending []model.LedgerEntry) []model.LedgerEntry {
	var result []model.LedgerEntry
	for i := len(pending) - 1; i >= 0; i-- {
		result = append(result, pending[i])
	}
	for i := len(s.ledger) - 1; i >= 0; i-- {
		if s.ledger[i].AccountID == accountID {
			result = append(result, s.ledger[i])
		}
	}
	return result
}

// memoryTx stages changes for one account until InAccountTx commits them.
type memoryTx struct {
	store    *MemoryStore
	account  model.Account
	holdings model.Holdings
	pending  []model.LedgerEntry
}

func (tx *memoryTx) Account() *model.Account {
	return &tx.account
}

func (tx *memoryTx) SaveAccount(_ context.Context, a *model.Account) error {
	if a.ID != tx.account.ID {
		return fmt.Errorf("%w: account %s is not locked by this transaction", model.ErrInvalidArgument, a.ID)
	}
	tx.account = *a
	return nil
}

func (tx *memoryTx) Asset(_ context.Context, id string) (*model.Asset, error) {
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	return tx.store.getAssetLocked(id)
}

func (tx *memoryTx) Holdings(_ context.Context) (model.Holdings, error) {
	return tx.holdings.Clone(), nil
}

func (tx *memoryTx) AddHolding(_ context.Context, assetID string, qty decimal.Decimal) error {
	return tx.holdings.Add(assetID, qty)
}

func (tx *memoryTx) RemoveHolding(_ context.Context, assetID string, qty decimal.Decimal) error {
	return tx.holdings.Remove(assetID, qty)
}

func (tx *memoryTx) AppendLedger(_ context.Context, e *model.LedgerEntry) error {
	if e.AccountID != tx.account.ID {
		return fmt.Errorf("%w: ledger entry for account %s in tx of %s", model.ErrInvalidArgument, e.AccountID, tx.account.ID)
	}
	tx.pending = append(tx.pending, *e)
	return nil
}

func (tx *memoryTx) Ledger(_ context.Context) ([]model.LedgerEntry, error) {
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	return tx.store.ledgerLocked(tx.account.ID, tx.pending), nil
}
