package inventory

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klinikpos/backend/internal/domain"
)

func batch(id string, day int, qty int, cost int64) domain.Batch {
	return domain.Batch{
		ID:         id,
		ProductID:  "p1",
		InitialQty: qty,
		CurrentQty: qty,
		BuyPrice:   decimal.NewFromInt(cost),
		Date:       time.Date(2024, 1, day, 9, 0, 0, 0, time.UTC),
	}
}

func TestPlanFIFO(t *testing.T) {
	tests := []struct {
		name          string
		batches       []domain.Batch
		qty           int
		fallback      int64
		wantTotal     decimal.Decimal
		wantShortfall int
		wantDeducted  map[string]int
	}{
		{
			name:         "spans two batches oldest first",
			batches:      []domain.Batch{batch("b2", 2, 5, 20), batch("b1", 1, 5, 10)},
			qty:          7,
			fallback:     99,
			wantTotal:    decimal.NewFromInt(90),
			wantDeducted: map[string]int{"b1": 5, "b2": 2},
		},
		{
			name:         "single batch partially consumed",
			batches:      []domain.Batch{batch("b1", 1, 10, 12)},
			qty:          4,
			fallback:     99,
			wantTotal:    decimal.NewFromInt(48),
			wantDeducted: map[string]int{"b1": 4},
		},
		{
			name:          "shortfall costed at buy price",
			batches:       []domain.Batch{batch("b1", 1, 2, 10)},
			qty:           5,
			fallback:      30,
			wantTotal:     decimal.NewFromInt(2*10 + 3*30),
			wantShortfall: 3,
			wantDeducted:  map[string]int{"b1": 2},
		},
		{
			name:          "no batches at all",
			batches:       nil,
			qty:           3,
			fallback:      25,
			wantTotal:     decimal.NewFromInt(75),
			wantShortfall: 3,
			wantDeducted:  map[string]int{},
		},
		{
			name: "empty batches skipped",
			batches: []domain.Batch{
				{ID: "b0", CurrentQty: 0, InitialQty: 5, BuyPrice: decimal.NewFromInt(1), Date: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)},
				batch("b1", 1, 5, 10),
			},
			qty:          2,
			fallback:     99,
			wantTotal:    decimal.NewFromInt(20),
			wantDeducted: map[string]int{"b1": 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := PlanFIFO(tt.batches, tt.qty, decimal.NewFromInt(tt.fallback), FallbackToCurrentBuyPrice)
			require.NoError(t, err)

			assert.True(t, plan.TotalCost.Equal(tt.wantTotal), "total %s want %s", plan.TotalCost, tt.wantTotal)
			assert.Equal(t, tt.wantShortfall, plan.Shortfall)
			assert.True(t, plan.AverageUnitCost.Equal(tt.wantTotal.Div(decimal.NewFromInt(int64(tt.qty)))))

			deducted := map[string]int{}
			for _, d := range plan.Deductions {
				deducted[d.BatchID] = d.Qty
			}
			assert.Equal(t, tt.wantDeducted, deducted)
		})
	}
}

func TestPlanFIFONeverUsesFallbackWhenBatchesSuffice(t *testing.T) {
	batches := []domain.Batch{batch("b1", 1, 5, 10), batch("b2", 2, 5, 20)}

	a, err := PlanFIFO(batches, 10, decimal.NewFromInt(1), FallbackToCurrentBuyPrice)
	require.NoError(t, err)
	b, err := PlanFIFO(batches, 10, decimal.NewFromInt(1000), FallbackToCurrentBuyPrice)
	require.NoError(t, err)

	assert.True(t, a.TotalCost.Equal(b.TotalCost))
	assert.True(t, a.ShortfallCost.IsZero())
	assert.Zero(t, a.Shortfall)
}

func TestPlanFIFOTiesBreakOnID(t *testing.T) {
	sameDay := []domain.Batch{batch("b-z", 1, 1, 50), batch("b-a", 1, 1, 10)}

	plan, err := PlanFIFO(sameDay, 1, decimal.Zero, FallbackToCurrentBuyPrice)
	require.NoError(t, err)
	require.Len(t, plan.Deductions, 1)
	assert.Equal(t, "b-a", plan.Deductions[0].BatchID)
}

func TestPlanFIFORejectShortfall(t *testing.T) {
	_, err := PlanFIFO([]domain.Batch{batch("b1", 1, 2, 10)}, 3, decimal.NewFromInt(10), RejectShortfall)

	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 2, stockErr.Available)
	assert.Equal(t, 3, stockErr.Requested)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
}

func TestPlanFIFORejectsNonPositiveQuantity(t *testing.T) {
	for _, qty := range []int{0, -1} {
		_, err := PlanFIFO(nil, qty, decimal.Zero, FallbackToCurrentBuyPrice)
		assert.ErrorIs(t, err, domain.ErrInvalidQuantity)
	}
}

func TestPlanFIFODoesNotMutateInput(t *testing.T) {
	batches := []domain.Batch{batch("b2", 2, 5, 20), batch("b1", 1, 5, 10)}

	_, err := PlanFIFO(batches, 6, decimal.Zero, FallbackToCurrentBuyPrice)
	require.NoError(t, err)

	assert.Equal(t, "b2", batches[0].ID)
	assert.Equal(t, 5, batches[0].CurrentQty)
	assert.Equal(t, 5, batches[1].CurrentQty)
}

func TestParsePolicies(t *testing.T) {
	costing, err := ParseCostingPolicy("")
	require.NoError(t, err)
	assert.Equal(t, FallbackToCurrentBuyPrice, costing)

	costing, err = ParseCostingPolicy("REJECT_SHORTFALL")
	require.NoError(t, err)
	assert.Equal(t, RejectShortfall, costing)

	_, err = ParseCostingPolicy("lifo")
	assert.Error(t, err)

	reversal, err := ParseReversalPolicy("restock_as_synthetic_batch")
	require.NoError(t, err)
	assert.Equal(t, RestockAsSyntheticBatch, reversal)

	_, err = ParseReversalPolicy("restore_batches")
	assert.Error(t, err)
}
