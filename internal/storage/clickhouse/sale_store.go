package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/smartstache/keychain/internal/domain"
	"github.com/smartstache/keychain/internal/observability"
	"github.com/smartstache/keychain/internal/storage"
)

// SaleStore implements storage.SaleStore using ClickHouse.
type SaleStore struct {
	conn *Conn
}

// NewSaleStore creates a new SaleStore.
func NewSaleStore(conn *Conn) *SaleStore {
	return &SaleStore{conn: conn}
}

// Compile-time interface check.
var _ storage.SaleStore = (*SaleStore)(nil)

const saleColumns = `sale_id, item, listing, domain, seller, buyer, currency, price, fee, occurred_at`

// Insert adds a new sale. Returns ErrDuplicateKey if sale_id exists.
// MergeTree does not enforce uniqueness, so existence is checked explicitly.
func (s *SaleStore) Insert(ctx context.Context, sale *domain.Sale) error {
	if sale == nil || sale.SaleID == "" {
		return storage.ErrInvalidInput
	}

	exists, err := s.exists(ctx, sale.SaleID)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	query := `
		INSERT INTO sales (` + saleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	start := time.Now()
	err = s.conn.Exec(ctx, query,
		sale.SaleID, sale.Item, sale.Listing, sale.Domain, sale.Seller,
		sale.Buyer, sale.Currency, sale.Price, sale.Fee, sale.OccurredAt,
	)
	observability.RecordDBQuery("clickhouse", "sales_insert", time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("insert sale: %w", err)
	}
	return nil
}

// GetByID retrieves a sale by its ID. Returns ErrNotFound if not exists.
func (s *SaleStore) GetByID(ctx context.Context, saleID string) (*domain.Sale, error) {
	query := `
		SELECT ` + saleColumns + `
		FROM sales
		WHERE sale_id = ?
		LIMIT 1
	`

	row := s.conn.QueryRow(ctx, query, saleID)

	var sale domain.Sale
	queryStart := time.Now()
	err := row.Scan(
		&sale.SaleID, &sale.Item, &sale.Listing, &sale.Domain, &sale.Seller,
		&sale.Buyer, &sale.Currency, &sale.Price, &sale.Fee, &sale.OccurredAt,
	)
	observability.RecordDBQuery("clickhouse", "sales_get_by_id", time.Since(queryStart).Seconds(), err)
	if err != nil {
		return nil, storage.ErrNotFound
	}
	return &sale, nil
}

// GetByItem retrieves all sales of a given item mint, ordered by occurred_at ASC.
func (s *SaleStore) GetByItem(ctx context.Context, item string) ([]*domain.Sale, error) {
	query := `
		SELECT ` + saleColumns + `
		FROM sales
		WHERE item = ?
		ORDER BY occurred_at ASC
	`
	return s.queryAll(ctx, query, item)
}

// GetByDomain retrieves all sales under a domain, ordered by occurred_at ASC.
func (s *SaleStore) GetByDomain(ctx context.Context, domainAddr string) ([]*domain.Sale, error) {
	query := `
		SELECT ` + saleColumns + `
		FROM sales
		WHERE domain = ?
		ORDER BY occurred_at ASC
	`
	return s.queryAll(ctx, query, domainAddr)
}

// GetBySeller retrieves all sales by a seller wallet, ordered by occurred_at ASC.
func (s *SaleStore) GetBySeller(ctx context.Context, seller string) ([]*domain.Sale, error) {
	query := `
		SELECT ` + saleColumns + `
		FROM sales
		WHERE seller = ?
		ORDER BY occurred_at ASC
	`
	return s.queryAll(ctx, query, seller)
}

// GetByTimeRange retrieves sales that occurred within [start, end] (inclusive).
func (s *SaleStore) GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.Sale, error) {
	query := `
		SELECT ` + saleColumns + `
		FROM sales
		WHERE occurred_at >= ? AND occurred_at <= ?
		ORDER BY occurred_at ASC
	`
	return s.queryAll(ctx, query, start, end)
}

func (s *SaleStore) queryAll(ctx context.Context, query string, args ...any) ([]*domain.Sale, error) {
	start := time.Now()
	rows, err := s.conn.Query(ctx, query, args...)
	observability.RecordDBQuery("clickhouse", "sales_select", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("query sales: %w", err)
	}
	defer rows.Close()

	var result []*domain.Sale
	for rows.Next() {
		var sale domain.Sale
		err := rows.Scan(
			&sale.SaleID, &sale.Item, &sale.Listing, &sale.Domain, &sale.Seller,
			&sale.Buyer, &sale.Currency, &sale.Price, &sale.Fee, &sale.OccurredAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan sale: %w", err)
		}
		result = append(result, &sale)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sales: %w", err)
	}
	return result, nil
}

// exists checks if a sale with the given ID exists.
func (s *SaleStore) exists(ctx context.Context, saleID string) (bool, error) {
	query := `SELECT count(*) FROM sales WHERE sale_id = ?`

	var count uint64
	if err := s.conn.QueryRow(ctx, query, saleID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}
