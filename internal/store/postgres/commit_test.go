package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klinikpos/backend/internal/domain"
	"klinikpos/backend/internal/store"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func saleBatch() *store.WriteBatch {
	at := time.Date(2024, 6, 7, 10, 0, 0, 0, time.UTC)
	wb := &store.WriteBatch{}
	wb.UpdateBatch(store.BatchUpdate{BatchID: "batch-1", ProductID: "med-1", ExpectedQty: 5, NewQty: 3})
	wb.AddStock("med-1", -2, true)
	wb.Movements = append(wb.Movements, domain.StockMovement{
		ID: "mov-1", ProductID: "med-1", Type: domain.MovementSale, Qty: -2, Date: at, RefID: "tx-1",
	})
	wb.Transaction = &domain.Transaction{
		ID:             "tx-1",
		Type:           domain.TxTypeSale,
		IdempotencyKey: "idem-1",
		Items: []domain.TransactionItem{{
			Kind: domain.LineMedicine, ID: "med-1", Qty: 2, Price: decimal.NewFromInt(6000),
		}},
		Total:         decimal.NewFromInt(12000),
		PaymentMethod: domain.PaymentCash,
		Status:        domain.TxStatusPaid,
		CreatedAt:     at,
	}
	return wb
}

func TestCommitAppliesWritesInOneTransaction(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE batches\s+SET current_qty = \$3\s+WHERE id = \$1 AND current_qty = \$2`).
		WithArgs("batch-1", 5, 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE products\s+SET stock = stock \+ \$2.*AND stock \+ \$2 >= 0`).
		WithArgs("med-1", -2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO stock_movements`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO transactions`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.Commit(context.Background(), saleBatch()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitRollsBackWhenBatchCASLoses(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE batches`).
		WithArgs("batch-1", 5, 3).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.Commit(context.Background(), saleBatch())
	require.ErrorIs(t, err, store.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitRefusesNegativeStock(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE batches`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE products`).
		WithArgs("med-1", -2).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.Commit(context.Background(), saleBatch())
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitMapsDuplicateIdempotencyKey(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE batches`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE products`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO stock_movements`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO transactions`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "transactions_idempotency_key_key"})
	mock.ExpectRollback()

	err := s.Commit(context.Background(), saleBatch())
	require.ErrorIs(t, err, store.ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitMapsSerializationFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE batches`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE products`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO stock_movements`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO transactions`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(&pgconn.PgError{Code: "40001", Message: "could not serialize access"})

	err := s.Commit(context.Background(), saleBatch())
	require.ErrorIs(t, err, store.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitStatusChangeIsConditional(t *testing.T) {
	s, mock := newMockStore(t)
	wb := &store.WriteBatch{
		StatusChange: &store.StatusChange{
			TransactionID: "tx-1",
			From:          domain.TxStatusPaid,
			To:            domain.TxStatusVoid,
			Reason:        "double click",
			Actor:         "admin",
			At:            time.Date(2024, 6, 7, 11, 0, 0, 0, time.UTC),
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE transactions\s+SET status = \$3.*WHERE id = \$1 AND status = \$2`).
		WithArgs("tx-1", "paid", "void", "double click", "admin", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.Commit(context.Background(), wb)
	require.ErrorIs(t, err, store.ErrStatusMismatch)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitClampsCustomerDeltasInSQL(t *testing.T) {
	s, mock := newMockStore(t)
	wb := &store.WriteBatch{}
	wb.AddCustomerDelta(store.CustomerDelta{CustomerID: "cus-1", TotalSpent: decimal.NewFromInt(-12000), LoyaltyPoints: -1})

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE customers\s+SET total_spent = GREATEST\(total_spent \+ \$2, 0\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := s.Commit(context.Background(), wb)
	require.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitRejectsOversizedBatchWithoutTouchingTheDatabase(t *testing.T) {
	s, mock := newMockStore(t)
	wb := &store.WriteBatch{}
	for i := 0; i <= store.MaxBatchWrites; i++ {
		wb.Movements = append(wb.Movements, domain.StockMovement{ID: "m", ProductID: "p", Qty: 1})
	}

	require.ErrorIs(t, s.Commit(context.Background(), wb), store.ErrBatchTooLarge)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProductNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .* FROM products\s+WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "kind", "category", "stock", "buy_price", "sell_price", "is_deleted", "created_at", "updated_at"}))

	_, err := s.GetProduct(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindTransactionDecodesItems(t *testing.T) {
	s, mock := newMockStore(t)
	at := time.Date(2024, 6, 7, 10, 0, 0, 0, time.UTC)
	items, err := json.Marshal([]domain.TransactionItem{{
		Kind: domain.LineMedicine, ID: "med-1", Qty: 2, Price: decimal.NewFromInt(6000), BuyPrice: decimal.NewFromInt(2500),
	}})
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{
		"id", "type", "idempotency_key", "customer_id", "items", "total", "payment_method", "status",
		"points_earned", "note", "created_by", "created_at", "finalize_reason", "finalized_by", "finalized_at",
	}).AddRow("tx-1", "sale", "idem-1", "", items, "12000", "cash", "void", 1, "", "kasir", at, "wrong item", "admin", at)
	mock.ExpectQuery(`FROM transactions\s+WHERE id = \$1`).WithArgs("tx-1").WillReturnRows(rows)

	tx, err := s.FindTransactionByID(context.Background(), "tx-1")
	require.NoError(t, err)
	require.Len(t, tx.Items, 1)
	assert.True(t, tx.Items[0].BuyPrice.Equal(decimal.NewFromInt(2500)))
	assert.True(t, tx.Total.Equal(decimal.NewFromInt(12000)))
	assert.Equal(t, domain.TxStatusVoid, tx.Status)
	assert.Equal(t, "wrong item", tx.FinalizeReason)
	require.NotNil(t, tx.FinalizedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}
