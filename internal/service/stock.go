package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"klinikpos/backend/internal/domain"
	"klinikpos/backend/internal/inventory"
	"klinikpos/backend/internal/store"
)

func (s *Service) ReceiveStock(ctx context.Context, productID string, req domain.StockReceiveRequest) (domain.StockReceiveResponse, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.StockReceiveResponse{}, err
	}
	product, err := s.activeProduct(ctx, productID)
	if err != nil {
		return domain.StockReceiveResponse{}, err
	}

	wb := &store.WriteBatch{}
	batch, err := s.engine.Receive(wb, inventory.ReceiveInput{
		ProductID: product.ID,
		Qty:       req.Qty,
		BuyPrice:  req.BuyPrice,
		Note:      defaultString(req.Note, "stock in"),
		At:        s.now(),
	})
	if err != nil {
		return domain.StockReceiveResponse{}, err
	}
	if err := s.repo.Commit(ctx, wb); err != nil {
		return domain.StockReceiveResponse{}, &domain.CommitFailedError{Op: "receive_stock", Err: err}
	}

	s.invalidateCatalog(ctx)
	s.logAudit(ctx, "stock_receive", "product", product.ID, fmt.Sprintf("qty=%d,buy=%s,batch=%s", req.Qty, req.BuyPrice, batch.ID))

	updated, err := s.GetProduct(ctx, product.ID)
	if err != nil {
		return domain.StockReceiveResponse{}, err
	}
	return domain.StockReceiveResponse{Product: updated, Batch: batch}, nil
}

// ReduceStock takes stock out for reasons other than a sale (damage,
// expiry, internal use). It is costed FIFO like a sale.
func (s *Service) ReduceStock(ctx context.Context, productID string, req domain.StockReduceRequest) (domain.StockReduceResponse, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.StockReduceResponse{}, err
	}
	if req.Qty <= 0 {
		return domain.StockReduceResponse{}, domain.ErrInvalidQuantity
	}
	product, err := s.activeProduct(ctx, productID)
	if err != nil {
		return domain.StockReduceResponse{}, err
	}
	if product.Stock < req.Qty {
		return domain.StockReduceResponse{}, &domain.InsufficientStockError{
			ProductID:   product.ID,
			ProductName: product.Name,
			Available:   product.Stock,
			Requested:   req.Qty,
		}
	}

	wb := &store.WriteBatch{}
	plan, err := s.engine.Consume(ctx, wb, inventory.ConsumeInput{
		Product: product,
		Qty:     req.Qty,
		Type:    domain.MovementOut,
		Note:    defaultString(req.Note, "stock out"),
		At:      s.now(),
	})
	if err != nil {
		return domain.StockReduceResponse{}, err
	}
	if err := s.repo.Commit(ctx, wb); err != nil {
		return domain.StockReduceResponse{}, commitFailure("reduce_stock", err)
	}

	s.invalidateCatalog(ctx)
	s.logAudit(ctx, "stock_reduce", "product", product.ID, fmt.Sprintf("qty=%d,cost=%s", req.Qty, plan.TotalCost))
	s.log.Info("stock reduced",
		zap.String("product_id", product.ID),
		zap.Int("qty", req.Qty),
		zap.String("total_cost", plan.TotalCost.String()),
	)

	updated, err := s.GetProduct(ctx, product.ID)
	if err != nil {
		return domain.StockReduceResponse{}, err
	}
	return domain.StockReduceResponse{Product: updated, TotalCost: plan.TotalCost, UnitCost: plan.AverageUnitCost}, nil
}

// AdjustStock applies a signed correction without touching batches.
func (s *Service) AdjustStock(ctx context.Context, productID string, req domain.StockAdjustRequest) (domain.Product, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}
	note := strings.TrimSpace(req.Note)
	if note == "" {
		return domain.Product{}, fmt.Errorf("%w: adjustment note required", store.ErrInvalidTransaction)
	}
	product, err := s.activeProduct(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	if product.Stock+req.Delta < 0 {
		return domain.Product{}, &domain.InsufficientStockError{
			ProductID:   product.ID,
			ProductName: product.Name,
			Available:   product.Stock,
			Requested:   -req.Delta,
		}
	}

	wb := &store.WriteBatch{}
	if err := s.engine.Adjust(wb, product.ID, req.Delta, note, s.now()); err != nil {
		return domain.Product{}, err
	}
	if err := s.repo.Commit(ctx, wb); err != nil {
		return domain.Product{}, commitFailure("adjust_stock", err)
	}

	s.invalidateCatalog(ctx)
	s.logAudit(ctx, "stock_adjust", "product", product.ID, fmt.Sprintf("delta=%d,note=%s", req.Delta, note))
	return s.GetProduct(ctx, product.ID)
}

func (s *Service) ListBatches(ctx context.Context, productID string, openOnly bool) ([]domain.Batch, error) {
	product, err := s.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListBatches(ctx, product.ID, openOnly)
}

func (s *Service) ListMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	product, err := s.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListMovements(ctx, product.ID, limit)
}

func (s *Service) activeProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	if product.IsDeleted {
		return domain.Product{}, fmt.Errorf("%w: %s", domain.ErrProductNotFound, product.ID)
	}
	return product, nil
}
