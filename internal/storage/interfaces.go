package storage

import (
	"context"

	"github.com/smartstache/keychain/internal/domain"
)

// SaleStore provides access to the sale history. Sales are append-only
// facts derived from settled purchase transitions.
type SaleStore interface {
	// Insert adds a new sale. Returns ErrDuplicateKey if sale_id exists.
	Insert(ctx context.Context, s *domain.Sale) error

	// GetByID retrieves a sale by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, saleID string) (*domain.Sale, error)

	// GetByItem retrieves all sales of a given item mint, ordered by occurred_at ASC.
	GetByItem(ctx context.Context, item string) ([]*domain.Sale, error)

	// GetByDomain retrieves all sales under a domain, ordered by occurred_at ASC.
	GetByDomain(ctx context.Context, domainAddr string) ([]*domain.Sale, error)

	// GetBySeller retrieves all sales by a seller wallet, ordered by occurred_at ASC.
	GetBySeller(ctx context.Context, seller string) ([]*domain.Sale, error)

	// GetByTimeRange retrieves sales that occurred within [start, end] (inclusive).
	GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.Sale, error)
}
