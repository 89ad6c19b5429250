package inventory

import (
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"klinikpos/backend/internal/domain"
)

// CostingPolicy decides how quantity beyond the open batches is costed.
type CostingPolicy string

const (
	// FallbackToCurrentBuyPrice costs any shortfall at the product's current
	// buy price. Stock on hand, not batch quantity, is what blocks a sale.
	FallbackToCurrentBuyPrice CostingPolicy = "fallback_to_current_buy_price"
	// RejectShortfall refuses to consume more than the open batches hold.
	RejectShortfall CostingPolicy = "reject_shortfall"
)

// ReversalPolicy decides what a void or refund does to the batch ledger.
type ReversalPolicy string

const (
	// RestockWithoutBatch increments stock and leaves consumed batches as they are.
	RestockWithoutBatch ReversalPolicy = "restock_without_batch"
	// RestockAsSyntheticBatch also opens a new batch at the sale's averaged cost.
	RestockAsSyntheticBatch ReversalPolicy = "restock_as_synthetic_batch"
)

func ParseCostingPolicy(raw string) (CostingPolicy, error) {
	switch CostingPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FallbackToCurrentBuyPrice:
		return FallbackToCurrentBuyPrice, nil
	case RejectShortfall:
		return RejectShortfall, nil
	default:
		return "", fmt.Errorf("unknown costing policy %q", raw)
	}
}

func ParseReversalPolicy(raw string) (ReversalPolicy, error) {
	switch ReversalPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", RestockWithoutBatch:
		return RestockWithoutBatch, nil
	case RestockAsSyntheticBatch:
		return RestockAsSyntheticBatch, nil
	default:
		return "", fmt.Errorf("unknown reversal policy %q", raw)
	}
}

// Deduction is the quantity taken from one batch.
type Deduction struct {
	BatchID  string
	Before   int
	Qty      int
	UnitCost decimal.Decimal
}

func (d Deduction) After() int {
	return d.Before - d.Qty
}

// Plan is the costed outcome of consuming Requested units.
type Plan struct {
	Requested       int
	Deductions      []Deduction
	Shortfall       int
	ShortfallCost   decimal.Decimal
	TotalCost       decimal.Decimal
	AverageUnitCost decimal.Decimal
}

// PlanFIFO walks the batches oldest first and takes min(batch, remaining)
// from each until the request is covered. Whatever is left is costed
// according to policy at fallbackUnitCost.
func PlanFIFO(batches []domain.Batch, qty int, fallbackUnitCost decimal.Decimal, policy CostingPolicy) (Plan, error) {
	if qty <= 0 {
		return Plan{}, domain.ErrInvalidQuantity
	}

	sorted := slices.Clone(batches)
	slices.SortStableFunc(sorted, compareBatchFIFO)

	plan := Plan{
		Requested:     qty,
		Deductions:    make([]Deduction, 0, len(sorted)),
		ShortfallCost: decimal.Zero,
		TotalCost:     decimal.Zero,
	}
	remaining := qty
	for _, batch := range sorted {
		if remaining == 0 {
			break
		}
		if batch.CurrentQty < 1 {
			continue
		}

		used := min(remaining, batch.CurrentQty)
		plan.Deductions = append(plan.Deductions, Deduction{
			BatchID:  batch.ID,
			Before:   batch.CurrentQty,
			Qty:      used,
			UnitCost: batch.BuyPrice,
		})
		plan.TotalCost = plan.TotalCost.Add(batch.BuyPrice.Mul(decimal.NewFromInt(int64(used))))
		remaining -= used
	}

	if remaining > 0 {
		switch policy {
		case RejectShortfall:
			return Plan{}, &domain.InsufficientStockError{Available: qty - remaining, Requested: qty}
		default:
			plan.Shortfall = remaining
			plan.ShortfallCost = fallbackUnitCost.Mul(decimal.NewFromInt(int64(remaining)))
			plan.TotalCost = plan.TotalCost.Add(plan.ShortfallCost)
		}
	}

	plan.AverageUnitCost = plan.TotalCost.Div(decimal.NewFromInt(int64(qty)))
	return plan, nil
}

func compareBatchFIFO(a domain.Batch, b domain.Batch) int {
	if c := a.Date.Compare(b.Date); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}
