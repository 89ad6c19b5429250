package cache

import (
	"context"
	"testing"
	"time"

	"klinikpos/backend/internal/domain"
)

func TestNoopProductCacheAlwaysMisses(t *testing.T) {
	ctx := context.Background()
	var c ProductCache = NoopProductCache{}

	if err := c.SetProducts(ctx, ActiveCatalogKey, []domain.Product{{ID: "p1"}}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok, err := c.GetProducts(ctx, ActiveCatalogKey); ok || err != nil {
		t.Fatalf("noop cache must miss, got ok=%v err=%v", ok, err)
	}
	if err := c.Invalidate(ctx, ActiveCatalogKey); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
}
