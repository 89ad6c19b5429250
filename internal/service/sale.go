package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"klinikpos/backend/internal/commission"
	"klinikpos/backend/internal/domain"
	"klinikpos/backend/internal/inventory"
	"klinikpos/backend/internal/store"
	"klinikpos/backend/internal/xid"
)

// Sale costs every tracked line FIFO and commits the transaction, batch
// deductions, movements, stock decrements and customer updates as one
// write batch. Nothing is applied when any step fails.
func (s *Service) Sale(ctx context.Context, req domain.SaleRequest) (domain.SaleResponse, error) {
	req.PaymentMethod = normalizePaymentMethod(req.PaymentMethod)
	if !isSupportedPaymentMethod(req.PaymentMethod) {
		return domain.SaleResponse{}, fmt.Errorf("%w: payment method %q", store.ErrInvalidTransaction, req.PaymentMethod)
	}
	req.IdempotencyKey = defaultString(req.IdempotencyKey, xid.New("idem"))
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	if len(req.Items) == 0 {
		return domain.SaleResponse{}, fmt.Errorf("%w: no items", store.ErrInvalidTransaction)
	}

	if existing, err := s.replayed(ctx, req.IdempotencyKey, domain.TxTypeSale); err != nil {
		return domain.SaleResponse{}, err
	} else if existing != nil {
		return domain.SaleResponse{Transaction: *existing, Duplicate: true}, nil
	}

	lines := make([]domain.Line, 0, len(req.Items))
	for _, item := range req.Items {
		line, err := domain.ParseLine(item)
		if err != nil {
			return domain.SaleResponse{}, err
		}
		lines = append(lines, line)
	}

	products, err := s.loadSaleProducts(ctx, lines)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	var customer *domain.Customer
	if req.CustomerID != "" {
		customer, err = s.repo.GetCustomer(ctx, req.CustomerID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.SaleResponse{}, fmt.Errorf("%w: %s", domain.ErrCustomerNotFound, req.CustomerID)
		}
		if err != nil {
			return domain.SaleResponse{}, err
		}
	}
	if req.PaymentMethod == domain.PaymentDebt && customer == nil {
		return domain.SaleResponse{}, fmt.Errorf("%w: debt sale requires a customer", store.ErrInvalidTransaction)
	}

	now := s.now()
	actor := actorOrSystem(ctx)
	txID := xid.New("tx")
	wb := &store.WriteBatch{}

	items := make([]domain.TransactionItem, 0, len(lines))
	total := decimal.Zero
	for _, line := range lines {
		item := domain.ItemFromLine(line)

		if svcLine, ok := line.(domain.ServiceLine); ok && svcLine.Stay != nil {
			item.CommissionDetails = commission.AllocateStay(*svcLine.Stay)
			item.Fee = commission.Total(item.CommissionDetails)
		}

		if productID, qty, tracked := inventory.Tracked(line); tracked {
			product := products[productID]
			if item.Name == "" {
				item.Name = product.Name
			}
			if item.Price.IsZero() {
				item.Price = product.SellPrice
			}
			plan, err := s.engine.Consume(ctx, wb, inventory.ConsumeInput{
				Product: product,
				Qty:     qty,
				Type:    domain.MovementSale,
				RefID:   txID,
				Note:    "sale " + txID,
				At:      now,
			})
			if err != nil {
				return domain.SaleResponse{}, err
			}
			item.BuyPrice = plan.AverageUnitCost
			item.TotalCost = plan.TotalCost
		}

		total = total.Add(item.Subtotal())
		items = append(items, item)
	}

	tx := domain.Transaction{
		ID:             txID,
		Type:           domain.TxTypeSale,
		IdempotencyKey: req.IdempotencyKey,
		CustomerID:     req.CustomerID,
		Items:          items,
		Total:          total,
		PaymentMethod:  req.PaymentMethod,
		Status:         domain.TxStatusPaid,
		Note:           strings.TrimSpace(req.Note),
		CreatedBy:      actor.Username,
		CreatedAt:      now,
	}

	if customer != nil {
		tx.PointsEarned = int(total.Div(s.pointValue).Floor().IntPart())
		delta := store.CustomerDelta{
			CustomerID:     customer.ID,
			TotalSpent:     total,
			LoyaltyPoints:  tx.PointsEarned,
			LifetimePoints: tx.PointsEarned,
		}
		if tx.PaymentMethod == domain.PaymentDebt {
			delta.Debt = total
		}
		wb.AddCustomerDelta(delta)
		if tx.PointsEarned > 0 {
			wb.PointAdjustments = append(wb.PointAdjustments, domain.PointAdjustment{
				ID:         xid.New("pts"),
				CustomerID: customer.ID,
				Delta:      tx.PointsEarned,
				Reason:     "earn",
				RefID:      tx.ID,
				Actor:      actor.Username,
				CreatedAt:  now,
			})
		}
	}
	wb.Transaction = &tx

	if err := s.repo.Commit(ctx, wb); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			existing, findErr := s.replayed(ctx, req.IdempotencyKey, domain.TxTypeSale)
			if findErr != nil {
				return domain.SaleResponse{}, findErr
			}
			if existing != nil {
				return domain.SaleResponse{Transaction: *existing, Duplicate: true}, nil
			}
		}
		if errors.Is(err, store.ErrInsufficientStock) {
			// Another writer took the stock after the check above.
			if _, recheck := s.loadSaleProducts(ctx, lines); errors.Is(recheck, domain.ErrInsufficientStock) {
				return domain.SaleResponse{}, recheck
			}
		}
		return domain.SaleResponse{}, commitFailure("sale", err)
	}

	s.invalidateCatalog(ctx)
	s.logAudit(ctx, "sale", "transaction", tx.ID, fmt.Sprintf("total=%s,payment=%s,items=%d,points=%d", tx.Total, tx.PaymentMethod, len(tx.Items), tx.PointsEarned))
	s.log.Info("sale committed",
		zap.String("transaction_id", tx.ID),
		zap.String("total", tx.Total.String()),
		zap.String("payment_method", tx.PaymentMethod),
		zap.Int("items", len(tx.Items)),
	)

	return domain.SaleResponse{Transaction: tx}, nil
}

// loadSaleProducts fetches the products behind tracked lines and enforces
// the hard stock check, aggregated per product, before anything is staged.
func (s *Service) loadSaleProducts(ctx context.Context, lines []domain.Line) (map[string]domain.Product, error) {
	requested := make(map[string]int, len(lines))
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		productID, qty, tracked := inventory.Tracked(line)
		if !tracked {
			continue
		}
		if _, seen := requested[productID]; !seen {
			ids = append(ids, productID)
		}
		requested[productID] += qty
	}
	if len(ids) == 0 {
		return map[string]domain.Product{}, nil
	}

	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	for _, line := range lines {
		productID, _, tracked := inventory.Tracked(line)
		if !tracked {
			continue
		}
		product, ok := products[productID]
		if !ok || product.IsDeleted {
			return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, productID)
		}
		if !lineMatchesKind(line, product.Kind) {
			return nil, fmt.Errorf("%w: %s is a %s", domain.ErrInvalidLine, productID, product.Kind)
		}
	}

	for _, id := range ids {
		product := products[id]
		if product.Stock < requested[id] {
			return nil, &domain.InsufficientStockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Available:   product.Stock,
				Requested:   requested[id],
			}
		}
	}
	return products, nil
}

func lineMatchesKind(line domain.Line, kind domain.ProductKind) bool {
	switch line.(type) {
	case domain.ProductLine:
		return kind == domain.ProductKindGoods
	case domain.MedicineLine:
		return kind == domain.ProductKindMedicine
	default:
		return false
	}
}
