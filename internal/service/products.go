package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"klinikpos/backend/internal/cache"
	"klinikpos/backend/internal/domain"
	"klinikpos/backend/internal/inventory"
	"klinikpos/backend/internal/store"
	"klinikpos/backend/internal/xid"
)

// ListProducts serves the active catalog through the read-through cache.
// Listings that include deleted products always hit the store.
func (s *Service) ListProducts(ctx context.Context, includeDeleted bool) ([]domain.Product, error) {
	if includeDeleted {
		return s.repo.ListProducts(ctx, true)
	}

	cached, ok, err := s.cache.GetProducts(ctx, cache.ActiveCatalogKey)
	if err != nil {
		s.log.Warn("catalog cache read failed", zap.Error(err))
	}
	if ok {
		return cached, nil
	}

	products, err := s.repo.ListProducts(ctx, false)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetProducts(ctx, cache.ActiveCatalogKey, products, s.cacheTTL); err != nil {
		s.log.Warn("catalog cache write failed", zap.Error(err))
	}
	return products, nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, strings.TrimSpace(id))
	if errors.Is(err, store.ErrNotFound) {
		return domain.Product{}, fmt.Errorf("%w: %s", domain.ErrProductNotFound, id)
	}
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

// CreateProduct adds a product and, with initial stock, its first batch in
// the same commit.
func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	wb := &store.WriteBatch{}
	product, err := s.stageProduct(wb, req, s.now())
	if err != nil {
		return domain.Product{}, err
	}
	if err := s.repo.Commit(ctx, wb); err != nil {
		return domain.Product{}, &domain.CommitFailedError{Op: "create_product", Err: err}
	}

	s.invalidateCatalog(ctx)
	s.logAudit(ctx, "product_create", "product", product.ID, fmt.Sprintf("name=%s,kind=%s,stock=%d", product.Name, product.Kind, req.InitialStock))
	return s.GetProduct(ctx, product.ID)
}

// ImportProducts creates every product in the request in one commit, or
// none of them.
func (s *Service) ImportProducts(ctx context.Context, req domain.ProductImportRequest) (domain.ProductImportResponse, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.ProductImportResponse{}, err
	}
	if len(req.Products) == 0 {
		return domain.ProductImportResponse{}, fmt.Errorf("%w: nothing to import", store.ErrInvalidTransaction)
	}

	now := s.now()
	wb := &store.WriteBatch{}
	ids := make([]string, 0, len(req.Products))
	for i, row := range req.Products {
		product, err := s.stageProduct(wb, row, now)
		if err != nil {
			return domain.ProductImportResponse{}, fmt.Errorf("row %d: %w", i+1, err)
		}
		ids = append(ids, product.ID)
	}
	if wb.Size() > store.MaxBatchWrites {
		return domain.ProductImportResponse{}, fmt.Errorf("%w: %d writes", store.ErrBatchTooLarge, wb.Size())
	}
	if err := s.repo.Commit(ctx, wb); err != nil {
		return domain.ProductImportResponse{}, &domain.CommitFailedError{Op: "import_products", Err: err}
	}

	s.invalidateCatalog(ctx)
	s.logAudit(ctx, "product_import", "product", "", fmt.Sprintf("count=%d", len(ids)))

	byID, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return domain.ProductImportResponse{}, err
	}
	resp := domain.ProductImportResponse{Products: make([]domain.Product, 0, len(ids))}
	for _, id := range ids {
		resp.Products = append(resp.Products, byID[id])
	}
	return resp, nil
}

func (s *Service) stageProduct(wb *store.WriteBatch, req domain.ProductCreateRequest, now time.Time) (domain.Product, error) {
	name := strings.TrimSpace(req.Name)
	kind := req.Kind
	if kind == "" {
		kind = domain.ProductKindGoods
	}
	if name == "" || (kind != domain.ProductKindGoods && kind != domain.ProductKindMedicine) {
		return domain.Product{}, store.ErrInvalidTransaction
	}
	if req.BuyPrice.IsNegative() || req.SellPrice.IsNegative() || req.InitialStock < 0 {
		return domain.Product{}, store.ErrInvalidTransaction
	}

	prefix := "prd"
	if kind == domain.ProductKindMedicine {
		prefix = "med"
	}
	product := domain.Product{
		ID:        xid.New(prefix),
		Name:      name,
		Kind:      kind,
		Category:  strings.TrimSpace(req.Category),
		BuyPrice:  req.BuyPrice,
		SellPrice: req.SellPrice,
		CreatedAt: now,
		UpdatedAt: now,
	}
	wb.Products = append(wb.Products, product)

	if req.InitialStock > 0 {
		if _, err := s.engine.Receive(wb, inventory.ReceiveInput{
			ProductID: product.ID,
			Qty:       req.InitialStock,
			BuyPrice:  req.BuyPrice,
			Note:      defaultString(req.Note, "initial stock"),
			At:        now,
		}); err != nil {
			return domain.Product{}, err
		}
	}
	return product, nil
}

// UpdateProduct edits catalog fields. Stock is never written here.
func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	existing, err := s.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	if existing.IsDeleted {
		return domain.Product{}, fmt.Errorf("%w: %s", domain.ErrProductNotFound, existing.ID)
	}

	updated := existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrInvalidTransaction
		}
		updated.Name = name
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
	}
	if req.BuyPrice != nil {
		if req.BuyPrice.IsNegative() {
			return domain.Product{}, store.ErrInvalidTransaction
		}
		updated.BuyPrice = *req.BuyPrice
	}
	if req.SellPrice != nil {
		if req.SellPrice.IsNegative() {
			return domain.Product{}, store.ErrInvalidTransaction
		}
		updated.SellPrice = *req.SellPrice
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.invalidateCatalog(ctx)
	s.logAudit(ctx, "product_update", "product", saved.ID, fmt.Sprintf("sell=%s,buy=%s", saved.SellPrice, saved.BuyPrice))
	return *saved, nil
}

// DeleteProduct hides a product from the active catalog. The row stays so
// past transactions keep resolving.
func (s *Service) DeleteProduct(ctx context.Context, id string) (domain.Product, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	existing, err := s.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	if existing.IsDeleted {
		return existing, nil
	}
	existing.IsDeleted = true

	saved, err := s.repo.UpdateProduct(ctx, existing)
	if err != nil {
		return domain.Product{}, err
	}

	s.invalidateCatalog(ctx)
	s.logAudit(ctx, "product_delete", "product", saved.ID, saved.Name)
	return *saved, nil
}
