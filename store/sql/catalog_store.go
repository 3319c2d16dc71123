package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-fulfillment/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

type CatalogStore struct {
	db   *bun.DB
	repo repository.Repository[*productRecord]
}

func NewCatalogStore(db *bun.DB) (*CatalogStore, error) {
	repo, err := newRepository[*productRecord, productRecord](db, "product")
	if err != nil {
		return nil, err
	}
	return &CatalogStore{db: db, repo: repo}, nil
}

func (s *CatalogStore) GetProduct(ctx context.Context, productID string) (core.Product, error) {
	if s == nil || s.repo == nil {
		return core.Product{}, fmt.Errorf("sqlstore: catalog store is not configured")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return core.Product{}, fmt.Errorf("%w: empty id", core.ErrProductNotFound)
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("id", "=", productID),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.Product{}, err
	}
	if len(records) == 0 {
		return core.Product{}, fmt.Errorf("%w: %s", core.ErrProductNotFound, productID)
	}
	return productToDomain(records[0]), nil
}

func (s *CatalogStore) ListPublished(ctx context.Context) ([]core.Product, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: catalog store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.published = ?", true)
		}),
		repository.OrderBy("title ASC"),
	)
	if err != nil {
		return nil, err
	}
	products := make([]core.Product, 0, len(records))
	for _, record := range records {
		products = append(products, productToDomain(record))
	}
	return products, nil
}

// SaveProduct inserts or replaces a catalog entry.
func (s *CatalogStore) SaveProduct(ctx context.Context, product core.Product) (core.Product, error) {
	if s == nil || s.db == nil {
		return core.Product{}, fmt.Errorf("sqlstore: catalog store is not configured")
	}
	if strings.TrimSpace(product.ID) == "" {
		return core.Product{}, fmt.Errorf("sqlstore: product id is required")
	}
	if product.Stock != nil && *product.Stock < 0 {
		return core.Product{}, fmt.Errorf("sqlstore: product stock cannot be negative")
	}
	record := newProductRecord(product, time.Now().UTC())
	if _, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (id) DO UPDATE").
		Set("product_type = EXCLUDED.product_type").
		Set("title = EXCLUDED.title").
		Set("unit_price_cents = EXCLUDED.unit_price_cents").
		Set("currency = EXCLUDED.currency").
		Set("stock = EXCLUDED.stock").
		Set("published = EXCLUDED.published").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx); err != nil {
		return core.Product{}, err
	}
	return productToDomain(record), nil
}

type stockTx struct {
	tx bun.Tx
}

// Reserve decrements tracked stock. Products with NULL stock are unlimited.
func (s stockTx) Reserve(ctx context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("sqlstore: reserve quantity must be positive")
	}
	productID = strings.TrimSpace(productID)
	result, err := s.tx.NewUpdate().
		Model((*productRecord)(nil)).
		Set("stock = stock - ?", quantity).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", productID).
		Where("stock IS NOT NULL").
		Where("stock >= ?", quantity).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := result.RowsAffected(); affected > 0 {
		return nil
	}

	record := &productRecord{}
	if err := s.tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", productID).
		Limit(1).
		Scan(ctx); err != nil {
		if isNoRows(err) {
			return fmt.Errorf("%w: %s", core.ErrProductNotFound, productID)
		}
		return err
	}
	if record.Stock == nil {
		return nil
	}
	return fmt.Errorf("%w: %s has %d, requested %d", core.ErrInsufficientStock, productID, *record.Stock, quantity)
}

func (s stockTx) Release(ctx context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		return nil
	}
	_, err := s.tx.NewUpdate().
		Model((*productRecord)(nil)).
		Set("stock = stock + ?", quantity).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", strings.TrimSpace(productID)).
		Where("stock IS NOT NULL").
		Exec(ctx)
	return err
}

var _ core.CatalogReader = (*CatalogStore)(nil)
var _ core.StockStore = stockTx{}
