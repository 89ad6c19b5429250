package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"klinikpos/backend/internal/domain"
	"klinikpos/backend/internal/service"
	"klinikpos/backend/internal/store"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	if os.Getenv("KLINIKPOS_INTEGRATION") != "1" {
		t.Skip("set KLINIKPOS_INTEGRATION=1 to run postgres integration tests")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("klinikpos_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, Migrate(s.DB(), zap.NewNop()))
	return s
}

func stockMatchesMovements(t *testing.T, s *Store, productID string) int {
	t.Helper()
	ctx := context.Background()
	product, err := s.GetProduct(ctx, productID)
	require.NoError(t, err)
	movements, err := s.ListMovements(ctx, productID, 0)
	require.NoError(t, err)
	sum := 0
	for _, m := range movements {
		sum += m.Qty
	}
	require.Equal(t, sum, product.Stock, "stock must equal the movement sum")
	return product.Stock
}

func TestPostgresSaleVoidRoundTrip(t *testing.T) {
	s := newIntegrationStore(t)
	svc := service.New(s, service.Options{})
	ctx := service.WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})

	product, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{
		Name:         "Amoxicillin 500mg",
		Kind:         domain.ProductKindMedicine,
		BuyPrice:     decimal.NewFromInt(10),
		SellPrice:    decimal.NewFromInt(50),
		InitialStock: 5,
	})
	require.NoError(t, err)
	_, err = svc.ReceiveStock(ctx, product.ID, domain.StockReceiveRequest{Qty: 5, BuyPrice: decimal.NewFromInt(20)})
	require.NoError(t, err)

	customer, err := svc.CreateCustomer(ctx, domain.CustomerCreateRequest{Name: "Budi"})
	require.NoError(t, err)

	sale, err := svc.Sale(ctx, domain.SaleRequest{
		CustomerID: customer.ID,
		Items:      []domain.LineRequest{{Kind: domain.LineMedicine, ID: product.ID, Qty: 7, Price: decimal.NewFromInt(20000)}},
	})
	require.NoError(t, err)
	assert.True(t, sale.Transaction.Items[0].TotalCost.Equal(decimal.NewFromInt(90)))
	assert.Equal(t, 3, stockMatchesMovements(t, s, product.ID))

	loaded, err := s.FindTransactionByID(ctx, sale.Transaction.ID)
	require.NoError(t, err)
	assert.True(t, loaded.Items[0].BuyPrice.Equal(sale.Transaction.Items[0].BuyPrice))

	_, err = svc.Void(ctx, domain.FinalizeRequest{TransactionID: sale.Transaction.ID, Reason: "wrong item"})
	require.NoError(t, err)
	assert.Equal(t, 10, stockMatchesMovements(t, s, product.ID))

	_, err = svc.Refund(ctx, domain.FinalizeRequest{TransactionID: sale.Transaction.ID})
	require.ErrorIs(t, err, domain.ErrAlreadyFinalized)

	restored, err := svc.GetCustomer(ctx, customer.ID)
	require.NoError(t, err)
	assert.True(t, restored.TotalSpent.IsZero())
	assert.Zero(t, restored.LoyaltyPoints)
	assert.Equal(t, 14, restored.TotalLifetimePoints)
}

func TestPostgresCommitIsAllOrNothing(t *testing.T) {
	s := newIntegrationStore(t)
	svc := service.New(s, service.Options{})
	ctx := service.WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})

	product, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{
		Name: "Cat Litter 10L", SellPrice: decimal.NewFromInt(75000), BuyPrice: decimal.NewFromInt(52000), InitialStock: 2,
	})
	require.NoError(t, err)
	batches, err := s.ListBatches(ctx, product.ID, true)
	require.NoError(t, err)
	require.Len(t, batches, 1)

	wb := &store.WriteBatch{}
	wb.UpdateBatch(store.BatchUpdate{BatchID: batches[0].ID, ProductID: product.ID, ExpectedQty: 2, NewQty: 0})
	wb.AddStock(product.ID, -2, true)
	wb.Movements = append(wb.Movements, domain.StockMovement{ID: "mov-stale", ProductID: product.ID, Type: domain.MovementOut, Qty: -2, Date: time.Now().UTC()})
	wb.UpdateBatch(store.BatchUpdate{BatchID: "batch-does-not-exist", ProductID: product.ID, ExpectedQty: 1, NewQty: 0})

	err = s.Commit(ctx, wb)
	require.Error(t, err)
	require.True(t, errors.Is(err, store.ErrConflict))
	assert.Equal(t, 2, stockMatchesMovements(t, s, product.ID))

	after, err := s.ListBatches(ctx, product.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 2, after[0].CurrentQty)
}

func TestPostgresDuplicateIdempotencyKey(t *testing.T) {
	s := newIntegrationStore(t)
	svc := service.New(s, service.Options{})
	ctx := context.Background()

	req := domain.SaleRequest{
		IdempotencyKey: "idem-pg",
		Items:          []domain.LineRequest{{Kind: domain.LineService, ID: "svc-exam", Qty: 1, Price: decimal.NewFromInt(50000)}},
	}
	first, err := svc.Sale(ctx, req)
	require.NoError(t, err)
	second, err := svc.Sale(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)
}
