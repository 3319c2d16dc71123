package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goliatone/go-fulfillment/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const productCacheKeyPrefix = "go-fulfillment::product::v1"

type productSaver interface {
	SaveProduct(ctx context.Context, product core.Product) (core.Product, error)
}

// CachedCatalogStore serves checkout product lookups from a read-through
// cache. Stock shown here may lag; reservations always hit the database.
type CachedCatalogStore struct {
	base  core.CatalogReader
	cache repositorycache.CacheService
}

func NewCachedCatalogStore(base core.CatalogReader, cacheService repositorycache.CacheService) (*CachedCatalogStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base catalog reader is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: catalog cache service is required")
	}
	return &CachedCatalogStore{base: base, cache: cacheService}, nil
}

func ProductCacheKey(productID string) (string, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return "", fmt.Errorf("sqlstore: product id is required")
	}
	return productCacheKeyPrefix + "::" + url.PathEscape(productID), nil
}

func (s *CachedCatalogStore) GetProduct(ctx context.Context, productID string) (core.Product, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Product{}, fmt.Errorf("sqlstore: cached catalog store is not configured")
	}
	cacheKey, err := ProductCacheKey(productID)
	if err != nil {
		return core.Product{}, err
	}
	product, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) (core.Product, error) {
		return s.base.GetProduct(ctx, strings.TrimSpace(productID))
	})
	if err != nil {
		return core.Product{}, err
	}
	return cloneProduct(product), nil
}

// SaveProduct writes through to the base store and drops the cached entry.
func (s *CachedCatalogStore) SaveProduct(ctx context.Context, product core.Product) (core.Product, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.Product{}, fmt.Errorf("sqlstore: cached catalog store is not configured")
	}
	saver, ok := s.base.(productSaver)
	if !ok {
		return core.Product{}, fmt.Errorf("sqlstore: base catalog reader %T cannot save products", s.base)
	}
	saved, err := saver.SaveProduct(ctx, product)
	if err != nil {
		return core.Product{}, err
	}
	if err := s.Invalidate(ctx, saved.ID); err != nil {
		return core.Product{}, err
	}
	return saved, nil
}

func (s *CachedCatalogStore) Invalidate(ctx context.Context, productID string) error {
	cacheKey, err := ProductCacheKey(productID)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

func cloneProduct(product core.Product) core.Product {
	if product.Stock != nil {
		stock := *product.Stock
		product.Stock = &stock
	}
	return product
}

var _ core.CatalogReader = (*CachedCatalogStore)(nil)
