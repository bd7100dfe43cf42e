package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/smartstache/keychain/internal/domain"
	"github.com/smartstache/keychain/internal/observability"
	"github.com/smartstache/keychain/internal/storage"
)

// SaleStore implements storage.SaleStore using PostgreSQL.
type SaleStore struct {
	pool *Pool
}

// NewSaleStore creates a new SaleStore.
func NewSaleStore(pool *Pool) *SaleStore {
	return &SaleStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SaleStore = (*SaleStore)(nil)

const saleColumns = `sale_id, item, listing, domain, seller, buyer, currency, price, fee, occurred_at`

// Insert adds a new sale. Returns ErrDuplicateKey if sale_id exists.
func (s *SaleStore) Insert(ctx context.Context, sale *domain.Sale) error {
	if sale == nil || sale.SaleID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO sales (` + saleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	start := time.Now()
	_, err := s.pool.Exec(ctx, query,
		sale.SaleID, sale.Item, sale.Listing, sale.Domain, sale.Seller,
		sale.Buyer, sale.Currency, int64(sale.Price), int64(sale.Fee), sale.OccurredAt,
	)
	observability.RecordDBQuery("postgres", "sales_insert", time.Since(start).Seconds(), err)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert sale: %w", err)
	}
	return nil
}

// GetByID retrieves a sale by its ID. Returns ErrNotFound if not exists.
func (s *SaleStore) GetByID(ctx context.Context, saleID string) (*domain.Sale, error) {
	query := `SELECT ` + saleColumns + ` FROM sales WHERE sale_id = $1`

	start := time.Now()
	sale, err := scanSale(s.pool.QueryRow(ctx, query, saleID))
	observability.RecordDBQuery("postgres", "sales_get_by_id", time.Since(start).Seconds(), err)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get sale by id: %w", err)
	}
	return sale, nil
}

// GetByItem retrieves all sales of a given item mint, ordered by occurred_at ASC.
func (s *SaleStore) GetByItem(ctx context.Context, item string) ([]*domain.Sale, error) {
	query := `SELECT ` + saleColumns + ` FROM sales WHERE item = $1 ORDER BY occurred_at ASC`
	return s.queryAll(ctx, query, item)
}

// GetByDomain retrieves all sales under a domain, ordered by occurred_at ASC.
func (s *SaleStore) GetByDomain(ctx context.Context, domainAddr string) ([]*domain.Sale, error) {
	query := `SELECT ` + saleColumns + ` FROM sales WHERE domain = $1 ORDER BY occurred_at ASC`
	return s.queryAll(ctx, query, domainAddr)
}

// GetBySeller retrieves all sales by a seller wallet, ordered by occurred_at ASC.
func (s *SaleStore) GetBySeller(ctx context.Context, seller string) ([]*domain.Sale, error) {
	query := `SELECT ` + saleColumns + ` FROM sales WHERE seller = $1 ORDER BY occurred_at ASC`
	return s.queryAll(ctx, query, seller)
}

// GetByTimeRange retrieves sales that occurred within [start, end] (inclusive).
func (s *SaleStore) GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.Sale, error) {
	query := `SELECT ` + saleColumns + ` FROM sales WHERE occurred_at >= $1 AND occurred_at <= $2 ORDER BY occurred_at ASC`
	return s.queryAll(ctx, query, start, end)
}

func (s *SaleStore) queryAll(ctx context.Context, query string, args ...any) ([]*domain.Sale, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, query, args...)
	observability.RecordDBQuery("postgres", "sales_select", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("query sales: %w", err)
	}
	defer rows.Close()

	var result []*domain.Sale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sale: %w", err)
		}
		result = append(result, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sales: %w", err)
	}
	return result, nil
}

// rowScanner covers both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSale(row rowScanner) (*domain.Sale, error) {
	var sale domain.Sale
	var price, fee int64
	err := row.Scan(
		&sale.SaleID, &sale.Item, &sale.Listing, &sale.Domain, &sale.Seller,
		&sale.Buyer, &sale.Currency, &price, &fee, &sale.OccurredAt,
	)
	if err != nil {
		return nil, err
	}
	sale.Price = uint64(price)
	sale.Fee = uint64(fee)
	return &sale, nil
}
