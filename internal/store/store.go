package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"klinikpos/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("concurrent modification")
	ErrStatusMismatch     = errors.New("transaction status changed")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrDuplicate          = errors.New("duplicate idempotency key")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrBatchTooLarge      = errors.New("write batch too large")
)

// MaxBatchWrites bounds the number of documents one Commit may touch.
const MaxBatchWrites = 500

type Repository interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	ListProducts(ctx context.Context, includeDeleted bool) ([]domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	// ListBatches returns batches oldest first.
	ListBatches(ctx context.Context, productID string, openOnly bool) ([]domain.Batch, error)
	// ListMovements returns movements oldest first. limit < 1 means all.
	ListMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error)

	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	ListPointAdjustments(ctx context.Context, customerID string, limit int) ([]domain.PointAdjustment, error)

	FindTransactionByID(ctx context.Context, id string) (*domain.Transaction, error)
	FindTransactionByIdempotency(ctx context.Context, key string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, from time.Time, to time.Time) ([]domain.Transaction, error)

	// Commit applies every write in the batch or none of them.
	Commit(ctx context.Context, wb *WriteBatch) error

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// BatchUpdate is a compare-and-swap on Batch.CurrentQty.
type BatchUpdate struct {
	BatchID     string
	ProductID   string
	ExpectedQty int
	NewQty      int
}

// StockDelta moves Product.Stock. Guarded deltas fail the commit with
// ErrInsufficientStock when the result would be negative.
type StockDelta struct {
	ProductID string
	Delta     int
	Guarded   bool
}

type BuyPriceUpdate struct {
	ProductID string
	BuyPrice  decimal.Decimal
}

// StatusChange is conditional: the commit fails with ErrStatusMismatch
// unless the stored status equals From.
type StatusChange struct {
	TransactionID string
	From          domain.TransactionStatus
	To            domain.TransactionStatus
	Reason        string
	Actor         string
	At            time.Time
}

// CustomerDelta is applied additively. TotalSpent, Debt and LoyaltyPoints
// clamp at zero.
type CustomerDelta struct {
	CustomerID     string
	TotalSpent     decimal.Decimal
	Debt           decimal.Decimal
	LoyaltyPoints  int
	LifetimePoints int
}

// WriteBatch collects the documents of one logical operation.
type WriteBatch struct {
	Products         []domain.Product
	Batches          []domain.Batch
	BatchUpdates     []BatchUpdate
	Movements        []domain.StockMovement
	StockDeltas      []StockDelta
	BuyPrices        []BuyPriceUpdate
	Transaction      *domain.Transaction
	StatusChange     *StatusChange
	CustomerDeltas   []CustomerDelta
	PointAdjustments []domain.PointAdjustment
}

// StagedBatchQty reports the quantity a batch will hold after this batch
// commits, when an earlier write already touched it.
func (wb *WriteBatch) StagedBatchQty(batchID string) (int, bool) {
	for _, update := range wb.BatchUpdates {
		if update.BatchID == batchID {
			return update.NewQty, true
		}
	}
	return 0, false
}

// UpdateBatch stages a batch CAS. A second update of the same batch keeps
// the first expected quantity.
func (wb *WriteBatch) UpdateBatch(update BatchUpdate) {
	for i := range wb.BatchUpdates {
		if wb.BatchUpdates[i].BatchID == update.BatchID {
			wb.BatchUpdates[i].NewQty = update.NewQty
			return
		}
	}
	wb.BatchUpdates = append(wb.BatchUpdates, update)
}

// AddStock merges deltas per product. The merged delta is guarded if any
// contribution was.
func (wb *WriteBatch) AddStock(productID string, delta int, guarded bool) {
	for i := range wb.StockDeltas {
		if wb.StockDeltas[i].ProductID == productID {
			wb.StockDeltas[i].Delta += delta
			wb.StockDeltas[i].Guarded = wb.StockDeltas[i].Guarded || guarded
			return
		}
	}
	wb.StockDeltas = append(wb.StockDeltas, StockDelta{ProductID: productID, Delta: delta, Guarded: guarded})
}

func (wb *WriteBatch) SetBuyPrice(productID string, price decimal.Decimal) {
	for i := range wb.BuyPrices {
		if wb.BuyPrices[i].ProductID == productID {
			wb.BuyPrices[i].BuyPrice = price
			return
		}
	}
	wb.BuyPrices = append(wb.BuyPrices, BuyPriceUpdate{ProductID: productID, BuyPrice: price})
}

// StagedBuyPrice returns a buy price staged earlier in this batch.
func (wb *WriteBatch) StagedBuyPrice(productID string) (decimal.Decimal, bool) {
	for _, update := range wb.BuyPrices {
		if update.ProductID == productID {
			return update.BuyPrice, true
		}
	}
	return decimal.Zero, false
}

func (wb *WriteBatch) AddCustomerDelta(delta CustomerDelta) {
	for i := range wb.CustomerDeltas {
		existing := &wb.CustomerDeltas[i]
		if existing.CustomerID == delta.CustomerID {
			existing.TotalSpent = existing.TotalSpent.Add(delta.TotalSpent)
			existing.Debt = existing.Debt.Add(delta.Debt)
			existing.LoyaltyPoints += delta.LoyaltyPoints
			existing.LifetimePoints += delta.LifetimePoints
			return
		}
	}
	wb.CustomerDeltas = append(wb.CustomerDeltas, delta)
}

// Size counts the documents the batch writes.
func (wb *WriteBatch) Size() int {
	size := len(wb.Products) + len(wb.Batches) + len(wb.BatchUpdates) + len(wb.Movements) +
		len(wb.CustomerDeltas) + len(wb.PointAdjustments)
	// Stock deltas and buy price updates land on product documents.
	touched := make(map[string]struct{}, len(wb.StockDeltas)+len(wb.BuyPrices))
	for _, delta := range wb.StockDeltas {
		touched[delta.ProductID] = struct{}{}
	}
	for _, update := range wb.BuyPrices {
		touched[update.ProductID] = struct{}{}
	}
	size += len(touched)
	if wb.Transaction != nil {
		size++
	}
	if wb.StatusChange != nil {
		size++
	}
	return size
}

func (wb *WriteBatch) Empty() bool {
	return wb.Size() == 0
}
