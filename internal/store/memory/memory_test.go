package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"klinikpos/backend/internal/domain"
	"klinikpos/backend/internal/store"
)

func seedProduct(t *testing.T, s *Store) {
	t.Helper()
	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	err := s.Commit(context.Background(), &store.WriteBatch{
		Products: []domain.Product{{ID: "p1", Name: "Vitamin Paste", Kind: domain.ProductKindGoods, BuyPrice: decimal.NewFromInt(10)}},
		Batches: []domain.Batch{
			{ID: "b1", ProductID: "p1", InitialQty: 5, CurrentQty: 5, BuyPrice: decimal.NewFromInt(10), Date: at},
		},
		Movements:   []domain.StockMovement{{ID: "m1", ProductID: "p1", Type: domain.MovementIn, Qty: 5, Date: at, RefID: "b1"}},
		StockDeltas: []store.StockDelta{{ProductID: "p1", Delta: 5}},
	})
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}
}

func TestCommitIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedProduct(t, s)

	wb := &store.WriteBatch{}
	wb.UpdateBatch(store.BatchUpdate{BatchID: "b1", ProductID: "p1", ExpectedQty: 4, NewQty: 2})
	wb.AddStock("p1", -2, true)
	wb.Movements = append(wb.Movements, domain.StockMovement{ID: "m2", ProductID: "p1", Type: domain.MovementSale, Qty: -2})
	wb.Transaction = &domain.Transaction{ID: "tx-1", IdempotencyKey: "idem-1", Status: domain.TxStatusPaid}

	err := s.Commit(ctx, wb)
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict for stale batch qty, got %v", err)
	}

	product, _ := s.GetProduct(ctx, "p1")
	if product.Stock != 5 {
		t.Fatalf("stock must be untouched, got %d", product.Stock)
	}
	movements, _ := s.ListMovements(ctx, "p1", 0)
	if len(movements) != 1 {
		t.Fatalf("movement must not be appended, got %d", len(movements))
	}
	if _, err := s.FindTransactionByID(ctx, "tx-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("transaction must not exist, got %v", err)
	}
}

func TestCommitGuardedStock(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedProduct(t, s)

	wb := &store.WriteBatch{}
	wb.AddStock("p1", -6, true)
	if err := s.Commit(ctx, wb); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	wb = &store.WriteBatch{}
	wb.AddStock("p1", -5, true)
	if err := s.Commit(ctx, wb); err != nil {
		t.Fatalf("draining to zero should succeed: %v", err)
	}
}

func TestCommitRejectsDuplicateIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	s := New()

	first := &store.WriteBatch{Transaction: &domain.Transaction{ID: "tx-1", IdempotencyKey: "k", Status: domain.TxStatusPaid}}
	if err := s.Commit(ctx, first); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	second := &store.WriteBatch{Transaction: &domain.Transaction{ID: "tx-2", IdempotencyKey: "k", Status: domain.TxStatusPaid}}
	if err := s.Commit(ctx, second); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	tx, err := s.FindTransactionByIdempotency(ctx, "k")
	if err != nil || tx.ID != "tx-1" {
		t.Fatalf("expected tx-1 by key, got %v %v", tx, err)
	}
}

func TestTransactionStayIsNotShared(t *testing.T) {
	ctx := context.Background()
	s := New()

	stay := &domain.Stay{
		CheckIn:      time.Date(2024, 6, 7, 0, 0, 0, 0, time.UTC),
		CheckOut:     time.Date(2024, 6, 9, 0, 0, 0, 0, time.UTC),
		FeePerNight:  decimal.NewFromInt(20000),
		WeekendStaff: map[string]string{"2024-06-08": "stf-ani"},
	}
	tx := &domain.Transaction{
		ID:             "tx-stay",
		IdempotencyKey: "idem-stay",
		Status:         domain.TxStatusPaid,
		Items:          []domain.TransactionItem{{ID: "svc-hotel", Qty: 1, Stay: stay}},
	}
	if err := s.Commit(ctx, &store.WriteBatch{Transaction: tx}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	stay.WeekendStaff["2024-06-08"] = "stf-caller"

	got, err := s.FindTransactionByID(ctx, "tx-stay")
	if err != nil {
		t.Fatalf("find transaction: %v", err)
	}
	got.Items[0].Stay.WeekendStaff["2024-06-08"] = "stf-reader"
	got.Items[0].Stay.FeePerNight = decimal.NewFromInt(1)

	again, _ := s.FindTransactionByID(ctx, "tx-stay")
	if staff := again.Items[0].Stay.WeekendStaff["2024-06-08"]; staff != "stf-ani" {
		t.Fatalf("expected stored weekend staff stf-ani, got %s", staff)
	}
	if !again.Items[0].Stay.FeePerNight.Equal(decimal.NewFromInt(20000)) {
		t.Fatalf("expected stored fee 20000, got %s", again.Items[0].Stay.FeePerNight)
	}
}

func TestCommitStatusChangeIsConditional(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.Commit(ctx, &store.WriteBatch{Transaction: &domain.Transaction{ID: "tx-1", IdempotencyKey: "k", Status: domain.TxStatusPaid}}); err != nil {
		t.Fatalf("seed tx: %v", err)
	}

	change := func() *store.WriteBatch {
		return &store.WriteBatch{StatusChange: &store.StatusChange{
			TransactionID: "tx-1",
			From:          domain.TxStatusPaid,
			To:            domain.TxStatusVoid,
			Reason:        "wrong item",
			Actor:         "manager",
			At:            time.Now().UTC(),
		}}
	}
	if err := s.Commit(ctx, change()); err != nil {
		t.Fatalf("first void: %v", err)
	}
	if err := s.Commit(ctx, change()); !errors.Is(err, store.ErrStatusMismatch) {
		t.Fatalf("expected ErrStatusMismatch, got %v", err)
	}

	tx, _ := s.FindTransactionByID(ctx, "tx-1")
	if tx.Status != domain.TxStatusVoid || tx.FinalizedAt == nil || tx.FinalizeReason != "wrong item" {
		t.Fatalf("unexpected finalized tx: %+v", tx)
	}
}

func TestCommitCustomerDeltaClamps(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, err := s.CreateCustomer(ctx, domain.Customer{ID: "c1", Name: "Rani"}); err != nil {
		t.Fatalf("create customer: %v", err)
	}

	wb := &store.WriteBatch{}
	wb.AddCustomerDelta(store.CustomerDelta{CustomerID: "c1", TotalSpent: decimal.NewFromInt(100), LoyaltyPoints: 3, LifetimePoints: 3})
	if err := s.Commit(ctx, wb); err != nil {
		t.Fatalf("earn: %v", err)
	}

	wb = &store.WriteBatch{}
	wb.AddCustomerDelta(store.CustomerDelta{CustomerID: "c1", TotalSpent: decimal.NewFromInt(-150), Debt: decimal.NewFromInt(-1), LoyaltyPoints: -5, LifetimePoints: -5})
	if err := s.Commit(ctx, wb); err != nil {
		t.Fatalf("reverse: %v", err)
	}

	customer, _ := s.GetCustomer(ctx, "c1")
	if !customer.TotalSpent.IsZero() || !customer.Debt.IsZero() || customer.LoyaltyPoints != 0 {
		t.Fatalf("expected clamped balances, got %+v", customer)
	}
	if customer.TotalLifetimePoints != 3 {
		t.Fatalf("lifetime points must never decrease, got %d", customer.TotalLifetimePoints)
	}
}

func TestCommitRejectsUnknownCustomer(t *testing.T) {
	wb := &store.WriteBatch{}
	wb.AddCustomerDelta(store.CustomerDelta{CustomerID: "ghost", TotalSpent: decimal.NewFromInt(1)})
	if err := New().Commit(context.Background(), wb); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCommitRejectsOversizedBatch(t *testing.T) {
	s := New()
	seedProduct(t, s)

	wb := &store.WriteBatch{}
	for i := 0; i <= store.MaxBatchWrites; i++ {
		wb.Movements = append(wb.Movements, domain.StockMovement{ProductID: "p1"})
	}
	if err := s.Commit(context.Background(), wb); !errors.Is(err, store.ErrBatchTooLarge) {
		t.Fatalf("expected ErrBatchTooLarge, got %v", err)
	}
}

func TestListBatchesOpenOnlyOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedProduct(t, s)

	older := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	err := s.Commit(ctx, &store.WriteBatch{Batches: []domain.Batch{
		{ID: "b0", ProductID: "p1", InitialQty: 2, CurrentQty: 0, BuyPrice: decimal.NewFromInt(8), Date: older},
		{ID: "b-old", ProductID: "p1", InitialQty: 2, CurrentQty: 2, BuyPrice: decimal.NewFromInt(9), Date: older},
	}})
	if err != nil {
		t.Fatalf("add batches: %v", err)
	}

	open, _ := s.ListBatches(ctx, "p1", true)
	if len(open) != 2 || open[0].ID != "b-old" || open[1].ID != "b1" {
		t.Fatalf("unexpected open batches: %+v", open)
	}
	all, _ := s.ListBatches(ctx, "p1", false)
	if len(all) != 3 || all[0].ID != "b-old" || all[1].ID != "b0" {
		t.Fatalf("unexpected batches: %+v", all)
	}
}

func TestUpdateProductLeavesStockAlone(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedProduct(t, s)

	updated, err := s.UpdateProduct(ctx, domain.Product{ID: "p1", Name: "Vitamin Paste XL", Stock: 999, SellPrice: decimal.NewFromInt(30)})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Stock != 5 || updated.Name != "Vitamin Paste XL" {
		t.Fatalf("unexpected product: %+v", updated)
	}
}

func TestSeededStockMatchesMovements(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	products, _ := s.ListProducts(ctx, false)
	if len(products) == 0 {
		t.Fatalf("expected seeded products")
	}
	for _, product := range products {
		movements, _ := s.ListMovements(ctx, product.ID, 0)
		sum := 0
		for _, m := range movements {
			sum += m.Qty
		}
		if sum != product.Stock {
			t.Fatalf("%s: stock %d != movements %d", product.ID, product.Stock, sum)
		}
	}
}

func TestUserLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	if err := s.CreateUser(ctx, domain.UserAccount{Username: " Kasir01 ", Password: "hash"}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := s.CreateUser(ctx, domain.UserAccount{Username: "kasir01", Password: "hash"}); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	users, _ := s.ListUsers(ctx)
	if len(users) != 1 || users[0].Username != "kasir01" || users[0].Role != "cashier" {
		t.Fatalf("unexpected users: %+v", users)
	}
	if err := s.UpdateUserPassword(ctx, "nobody", "x"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
