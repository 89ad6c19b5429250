package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"klinikpos/backend/internal/store"
)

// Commit applies a write batch inside one serializable transaction. Every
// conditional write (batch CAS, guarded stock, expected status) checks its
// affected row count and aborts the whole transaction when it lost.
func (s *Store) Commit(ctx context.Context, wb *store.WriteBatch) error {
	if wb == nil || wb.Empty() {
		return nil
	}
	if wb.Size() > store.MaxBatchWrites {
		return store.ErrBatchTooLarge
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	if err := applyWriteBatch(ctx, pgTx, wb); err != nil {
		return mapCommitError(err)
	}
	if err := pgTx.Commit(); err != nil {
		return mapCommitError(err)
	}
	return nil
}

func applyWriteBatch(ctx context.Context, tx *sql.Tx, wb *store.WriteBatch) error {
	for _, p := range wb.Products {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO products (id, name, kind, category, stock, buy_price, sell_price, is_deleted, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
		`, p.ID, p.Name, p.Kind, p.Category, p.Stock, p.BuyPrice, p.SellPrice, p.IsDeleted, p.CreatedAt); err != nil {
			return fmt.Errorf("insert product %s: %w", p.ID, err)
		}
	}

	for _, b := range wb.Batches {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO batches (id, product_id, initial_qty, current_qty, buy_price, received_at, note)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, b.ID, b.ProductID, b.InitialQty, b.CurrentQty, b.BuyPrice, b.Date, b.Note); err != nil {
			return fmt.Errorf("insert batch %s: %w", b.ID, err)
		}
	}

	for _, u := range wb.BatchUpdates {
		res, err := tx.ExecContext(ctx, `
			UPDATE batches
			SET current_qty = $3
			WHERE id = $1 AND current_qty = $2
		`, u.BatchID, u.ExpectedQty, u.NewQty)
		if err != nil {
			return fmt.Errorf("update batch %s: %w", u.BatchID, err)
		}
		if err := expectOneRow(res, fmt.Errorf("%w: batch %s", store.ErrConflict, u.BatchID)); err != nil {
			return err
		}
	}

	for _, d := range wb.StockDeltas {
		query := `
			UPDATE products
			SET stock = stock + $2, updated_at = now()
			WHERE id = $1`
		lost := fmt.Errorf("%w: product %s", store.ErrNotFound, d.ProductID)
		if d.Guarded {
			query += ` AND stock + $2 >= 0`
			lost = fmt.Errorf("%w: product %s", store.ErrInsufficientStock, d.ProductID)
		}
		res, err := tx.ExecContext(ctx, query, d.ProductID, d.Delta)
		if err != nil {
			return fmt.Errorf("move stock %s: %w", d.ProductID, err)
		}
		if err := expectOneRow(res, lost); err != nil {
			return err
		}
	}

	for _, u := range wb.BuyPrices {
		res, err := tx.ExecContext(ctx, `
			UPDATE products
			SET buy_price = $2, updated_at = now()
			WHERE id = $1
		`, u.ProductID, u.BuyPrice)
		if err != nil {
			return fmt.Errorf("set buy price %s: %w", u.ProductID, err)
		}
		if err := expectOneRow(res, fmt.Errorf("%w: product %s", store.ErrNotFound, u.ProductID)); err != nil {
			return err
		}
	}

	for _, m := range wb.Movements {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO stock_movements (id, product_id, type, qty, moved_at, note, ref_id)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, m.ID, m.ProductID, m.Type, m.Qty, m.Date, m.Note, m.RefID); err != nil {
			return fmt.Errorf("insert movement %s: %w", m.ID, err)
		}
	}

	if t := wb.Transaction; t != nil {
		if t.ID == "" || t.IdempotencyKey == "" {
			return store.ErrInvalidTransaction
		}
		items, err := json.Marshal(t.Items)
		if err != nil {
			return fmt.Errorf("encode items: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO transactions (
				id, type, idempotency_key, customer_id, items, total, payment_method,
				status, points_earned, note, created_by, created_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		`, t.ID, t.Type, t.IdempotencyKey, nullIfEmpty(t.CustomerID), string(items), t.Total, t.PaymentMethod,
			t.Status, t.PointsEarned, t.Note, t.CreatedBy, t.CreatedAt); err != nil {
			return fmt.Errorf("insert transaction %s: %w", t.ID, err)
		}
	}

	if c := wb.StatusChange; c != nil {
		res, err := tx.ExecContext(ctx, `
			UPDATE transactions
			SET status = $3, finalize_reason = $4, finalized_by = $5, finalized_at = $6
			WHERE id = $1 AND status = $2
		`, c.TransactionID, c.From, c.To, c.Reason, c.Actor, c.At)
		if err != nil {
			return fmt.Errorf("finalize transaction %s: %w", c.TransactionID, err)
		}
		if err := expectOneRow(res, fmt.Errorf("%w: transaction %s is no longer %s", store.ErrStatusMismatch, c.TransactionID, c.From)); err != nil {
			return err
		}
	}

	for _, d := range wb.CustomerDeltas {
		res, err := tx.ExecContext(ctx, `
			UPDATE customers
			SET total_spent = GREATEST(total_spent + $2, 0),
				debt = GREATEST(debt + $3, 0),
				loyalty_points = GREATEST(loyalty_points + $4, 0),
				lifetime_points = lifetime_points + GREATEST($5, 0),
				updated_at = now()
			WHERE id = $1
		`, d.CustomerID, d.TotalSpent, d.Debt, d.LoyaltyPoints, d.LifetimePoints)
		if err != nil {
			return fmt.Errorf("update customer %s: %w", d.CustomerID, err)
		}
		if err := expectOneRow(res, fmt.Errorf("%w: customer %s", store.ErrNotFound, d.CustomerID)); err != nil {
			return err
		}
	}

	for _, a := range wb.PointAdjustments {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO point_adjustments (id, customer_id, delta, reason, ref_id, actor, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, a.ID, a.CustomerID, a.Delta, a.Reason, a.RefID, a.Actor, a.CreatedAt); err != nil {
			return fmt.Errorf("insert point adjustment %s: %w", a.ID, err)
		}
	}
	return nil
}

func expectOneRow(res sql.Result, lost error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return lost
	}
	return nil
}
