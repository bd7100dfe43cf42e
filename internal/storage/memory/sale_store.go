package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/smartstache/keychain/internal/domain"
	"github.com/smartstache/keychain/internal/storage"
)

// SaleStore is an in-memory implementation of storage.SaleStore.
type SaleStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Sale // keyed by sale_id
}

// NewSaleStore creates a new in-memory sale store.
func NewSaleStore() *SaleStore {
	return &SaleStore{
		data: make(map[string]*domain.Sale),
	}
}

// Insert adds a new sale. Returns ErrDuplicateKey if sale_id exists.
func (s *SaleStore) Insert(_ context.Context, sale *domain.Sale) error {
	if sale == nil || sale.SaleID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[sale.SaleID]; exists {
		return storage.ErrDuplicateKey
	}

	// Store a copy to prevent external mutation
	saleCopy := *sale
	s.data[sale.SaleID] = &saleCopy
	return nil
}

// GetByID retrieves a sale by its ID. Returns ErrNotFound if not exists.
func (s *SaleStore) GetByID(_ context.Context, saleID string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.data[saleID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	// Return a copy
	saleCopy := *sale
	return &saleCopy, nil
}

// GetByItem retrieves all sales of a given item mint, ordered by occurred_at ASC.
func (s *SaleStore) GetByItem(_ context.Context, item string) ([]*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collect(func(sale *domain.Sale) bool {
		return sale.Item == item
	}), nil
}

// GetByDomain retrieves all sales under a domain, ordered by occurred_at ASC.
func (s *SaleStore) GetByDomain(_ context.Context, domainAddr string) ([]*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collect(func(sale *domain.Sale) bool {
		return sale.Domain == domainAddr
	}), nil
}

// GetBySeller retrieves all sales by a seller wallet, ordered by occurred_at ASC.
func (s *SaleStore) GetBySeller(_ context.Context, seller string) ([]*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collect(func(sale *domain.Sale) bool {
		return sale.Seller == seller
	}), nil
}

// GetByTimeRange retrieves sales that occurred within [start, end] (inclusive).
func (s *SaleStore) GetByTimeRange(_ context.Context, start, end int64) ([]*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collect(func(sale *domain.Sale) bool {
		return sale.OccurredAt >= start && sale.OccurredAt <= end
	}), nil
}

// collect copies every matching sale, sorted by occurred_at ASC.
// Caller must hold at least a read lock.
func (s *SaleStore) collect(match func(*domain.Sale) bool) []*domain.Sale {
	var result []*domain.Sale
	for _, sale := range s.data {
		if match(sale) {
			saleCopy := *sale
			result = append(result, &saleCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].OccurredAt < result[j].OccurredAt
	})

	return result
}

// Verify interface compliance at compile time.
var _ storage.SaleStore = (*SaleStore)(nil)
