package cache

import (
	"context"
	"time"

	"klinikpos/backend/internal/domain"
)

// ActiveCatalogKey holds the list of non-deleted products.
const ActiveCatalogKey = "catalog:active"

// ProductCache is a read-through view of the catalog. The store stays the
// source of truth; any write to products must Invalidate.
type ProductCache interface {
	GetProducts(ctx context.Context, key string) ([]domain.Product, bool, error)
	SetProducts(ctx context.Context, key string, products []domain.Product, ttl time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
}

type NoopProductCache struct{}

func (NoopProductCache) GetProducts(_ context.Context, _ string) ([]domain.Product, bool, error) {
	return nil, false, nil
}

func (NoopProductCache) SetProducts(_ context.Context, _ string, _ []domain.Product, _ time.Duration) error {
	return nil
}

func (NoopProductCache) Invalidate(_ context.Context, _ ...string) error {
	return nil
}
