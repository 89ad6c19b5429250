package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"klinikpos/backend/internal/domain"
	"klinikpos/backend/internal/store"
	"klinikpos/backend/internal/xid"
)

var ErrNegativeCost = errors.New("buy price must not be negative")

type BatchReader interface {
	ListBatches(ctx context.Context, productID string, openOnly bool) ([]domain.Batch, error)
}

// Engine stages batch, movement and stock writes into a store.WriteBatch.
// It never commits; the caller owns the commit.
type Engine struct {
	batches  BatchReader
	costing  CostingPolicy
	reversal ReversalPolicy
}

func NewEngine(batches BatchReader, costing CostingPolicy, reversal ReversalPolicy) *Engine {
	if costing == "" {
		costing = FallbackToCurrentBuyPrice
	}
	if reversal == "" {
		reversal = RestockWithoutBatch
	}
	return &Engine{batches: batches, costing: costing, reversal: reversal}
}

func (e *Engine) CostingPolicy() CostingPolicy {
	return e.costing
}

func (e *Engine) ReversalPolicy() ReversalPolicy {
	return e.reversal
}

type ConsumeInput struct {
	Product domain.Product
	Qty     int
	Type    domain.MovementType
	RefID   string
	Note    string
	At      time.Time
}

// Consume costs qty units of a product FIFO and stages one update per
// touched batch, one movement of -qty and a guarded stock decrement.
// Batches already touched earlier in wb are read at their staged quantity.
func (e *Engine) Consume(ctx context.Context, wb *store.WriteBatch, in ConsumeInput) (Plan, error) {
	if in.Qty <= 0 {
		return Plan{}, domain.ErrInvalidQuantity
	}
	if in.Type != domain.MovementSale && in.Type != domain.MovementOut {
		return Plan{}, fmt.Errorf("consume: unsupported movement type %q", in.Type)
	}

	batches, err := e.batches.ListBatches(ctx, in.Product.ID, true)
	if err != nil {
		return Plan{}, fmt.Errorf("list batches %s: %w", in.Product.ID, err)
	}
	for i := range batches {
		if staged, ok := wb.StagedBatchQty(batches[i].ID); ok {
			batches[i].CurrentQty = staged
		}
	}

	fallback := in.Product.BuyPrice
	if staged, ok := wb.StagedBuyPrice(in.Product.ID); ok {
		fallback = staged
	}

	plan, err := PlanFIFO(batches, in.Qty, fallback, e.costing)
	if err != nil {
		var stockErr *domain.InsufficientStockError
		if errors.As(err, &stockErr) {
			stockErr.ProductID = in.Product.ID
			stockErr.ProductName = in.Product.Name
		}
		return Plan{}, err
	}

	for _, deduction := range plan.Deductions {
		wb.UpdateBatch(store.BatchUpdate{
			BatchID:     deduction.BatchID,
			ProductID:   in.Product.ID,
			ExpectedQty: deduction.Before,
			NewQty:      deduction.After(),
		})
	}
	wb.Movements = append(wb.Movements, domain.StockMovement{
		ID:        xid.New("mov"),
		ProductID: in.Product.ID,
		Type:      in.Type,
		Qty:       -in.Qty,
		Date:      in.At,
		Note:      in.Note,
		RefID:     in.RefID,
	})
	wb.AddStock(in.Product.ID, -in.Qty, true)

	return plan, nil
}

type ReceiveInput struct {
	ProductID string
	Qty       int
	BuyPrice  decimal.Decimal
	Note      string
	At        time.Time
}

// Receive opens a new batch, stages an "in" movement referencing it, raises
// stock and makes the receipt cost the product's current buy price.
func (e *Engine) Receive(wb *store.WriteBatch, in ReceiveInput) (domain.Batch, error) {
	if in.Qty <= 0 {
		return domain.Batch{}, domain.ErrInvalidQuantity
	}
	if in.BuyPrice.IsNegative() {
		return domain.Batch{}, ErrNegativeCost
	}

	batch := domain.Batch{
		ID:         xid.New("batch"),
		ProductID:  in.ProductID,
		InitialQty: in.Qty,
		CurrentQty: in.Qty,
		BuyPrice:   in.BuyPrice,
		Date:       in.At,
		Note:       in.Note,
	}
	wb.Batches = append(wb.Batches, batch)
	wb.Movements = append(wb.Movements, domain.StockMovement{
		ID:        xid.New("mov"),
		ProductID: in.ProductID,
		Type:      domain.MovementIn,
		Qty:       in.Qty,
		Date:      in.At,
		Note:      in.Note,
		RefID:     batch.ID,
	})
	wb.AddStock(in.ProductID, in.Qty, false)
	wb.SetBuyPrice(in.ProductID, in.BuyPrice)

	return batch, nil
}

type ReverseInput struct {
	ProductID string
	Qty       int
	UnitCost  decimal.Decimal
	RefID     string
	Note      string
	At        time.Time
}

// Reverse puts qty units back on hand for a voided or refunded sale. The
// consumed batches are not restored.
func (e *Engine) Reverse(wb *store.WriteBatch, in ReverseInput) error {
	if in.Qty <= 0 {
		return domain.ErrInvalidQuantity
	}

	wb.AddStock(in.ProductID, in.Qty, false)
	wb.Movements = append(wb.Movements, domain.StockMovement{
		ID:        xid.New("mov"),
		ProductID: in.ProductID,
		Type:      domain.MovementIn,
		Qty:       in.Qty,
		Date:      in.At,
		Note:      in.Note,
		RefID:     in.RefID,
	})

	switch e.reversal {
	case RestockAsSyntheticBatch:
		wb.Batches = append(wb.Batches, domain.Batch{
			ID:         xid.New("batch"),
			ProductID:  in.ProductID,
			InitialQty: in.Qty,
			CurrentQty: in.Qty,
			BuyPrice:   in.UnitCost,
			Date:       in.At,
			Note:       "restock " + in.RefID,
		})
	case RestockWithoutBatch:
	}
	return nil
}

// Adjust stages a manual correction. Batches are untouched and stock may
// not end below zero.
func (e *Engine) Adjust(wb *store.WriteBatch, productID string, delta int, note string, at time.Time) error {
	if delta == 0 {
		return domain.ErrInvalidQuantity
	}
	wb.Movements = append(wb.Movements, domain.StockMovement{
		ID:        xid.New("mov"),
		ProductID: productID,
		Type:      domain.MovementAdjustment,
		Qty:       delta,
		Date:      at,
		Note:      note,
	})
	wb.AddStock(productID, delta, true)
	return nil
}

// Tracked reports the product and quantity a line moves. Service lines
// carry no stock.
func Tracked(line domain.Line) (productID string, qty int, ok bool) {
	switch l := line.(type) {
	case domain.ProductLine:
		return l.ID, l.Qty, true
	case domain.MedicineLine:
		return l.ID, l.Qty, true
	case domain.ServiceLine:
		return "", 0, false
	default:
		panic(fmt.Sprintf("inventory: unhandled line type %T", line))
	}
}
