package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"klinikpos/backend/internal/domain"
	"klinikpos/backend/internal/inventory"
	"klinikpos/backend/internal/lock"
	"klinikpos/backend/internal/store"
	"klinikpos/backend/internal/xid"
)

func (s *Service) Void(ctx context.Context, req domain.FinalizeRequest) (domain.FinalizeResponse, error) {
	return s.finalize(ctx, req, domain.TxStatusVoid)
}

func (s *Service) Refund(ctx context.Context, req domain.FinalizeRequest) (domain.FinalizeResponse, error) {
	return s.finalize(ctx, req, domain.TxStatusRefunded)
}

// finalize moves a paid sale to a terminal status and reverses its stock
// and customer effects in one commit. The status write is conditional on
// the transaction still being paid, so a second void or refund fails with
// ErrAlreadyFinalized even when it races the first.
func (s *Service) finalize(ctx context.Context, req domain.FinalizeRequest, to domain.TransactionStatus) (domain.FinalizeResponse, error) {
	op := finalizeOp(to)
	id := strings.TrimSpace(req.TransactionID)
	if id == "" {
		return domain.FinalizeResponse{}, store.ErrInvalidTransaction
	}
	reason := defaultString(req.Reason, "unspecified")

	held, err := s.locker.Obtain(ctx, "tx-finalize:"+id, s.lockTTL)
	if errors.Is(err, lock.ErrNotObtained) {
		return domain.FinalizeResponse{}, fmt.Errorf("%w: transaction %s is being finalized", store.ErrConflict, id)
	}
	if err != nil {
		return domain.FinalizeResponse{}, fmt.Errorf("obtain finalize lock: %w", err)
	}
	defer func() {
		if err := held.Release(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn("finalize lock release failed", zap.String("transaction_id", id), zap.Error(err))
		}
	}()

	tx, err := s.repo.FindTransactionByID(ctx, id)
	if err != nil {
		return domain.FinalizeResponse{}, err
	}
	if tx.Type == domain.TxTypeDebtPayment {
		return domain.FinalizeResponse{}, fmt.Errorf("%w: debt payments cannot be %s", store.ErrInvalidTransaction, to)
	}
	if tx.Status != domain.TxStatusPaid {
		return domain.FinalizeResponse{}, fmt.Errorf("%w: transaction %s is %s", domain.ErrAlreadyFinalized, tx.ID, tx.Status)
	}

	var customer *domain.Customer
	if tx.CustomerID != "" {
		customer, err = s.repo.GetCustomer(ctx, tx.CustomerID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.FinalizeResponse{}, fmt.Errorf("%w: %s", domain.ErrCustomerNotFound, tx.CustomerID)
		}
		if err != nil {
			return domain.FinalizeResponse{}, err
		}
	}

	now := s.now()
	actor := actorOrSystem(ctx)
	wb, err := s.stageReversal(tx, customer, to, actor, now)
	if err != nil {
		return domain.FinalizeResponse{}, err
	}
	wb.StatusChange = &store.StatusChange{
		TransactionID: tx.ID,
		From:          domain.TxStatusPaid,
		To:            to,
		Reason:        reason,
		Actor:         actor.Username,
		At:            now,
	}

	if err := s.repo.Commit(ctx, wb); err != nil {
		if errors.Is(err, store.ErrStatusMismatch) {
			return domain.FinalizeResponse{}, fmt.Errorf("%w: %v", domain.ErrAlreadyFinalized, err)
		}
		return domain.FinalizeResponse{}, &domain.CommitFailedError{Op: op, Err: err}
	}

	s.invalidateCatalog(ctx)
	s.logAudit(ctx, op+"_transaction", "transaction", tx.ID, reason)
	s.log.Info("transaction finalized",
		zap.String("transaction_id", tx.ID),
		zap.String("status", string(to)),
		zap.String("actor", actor.Username),
	)

	return domain.FinalizeResponse{
		TransactionID: tx.ID,
		Status:        to,
		FinalizedAt:   now.Format(time.RFC3339),
	}, nil
}

// stageReversal restocks every tracked item and takes back what the sale
// gave the customer. The points reversal is capped at the current balance
// and the recorded adjustment carries what was taken. Lifetime points are
// never reduced.
func (s *Service) stageReversal(tx *domain.Transaction, customer *domain.Customer, to domain.TransactionStatus, actor domain.Actor, now time.Time) (*store.WriteBatch, error) {
	wb := &store.WriteBatch{}
	for _, item := range tx.Items {
		line, err := item.Line()
		if err != nil {
			return nil, err
		}
		productID, qty, tracked := inventory.Tracked(line)
		if !tracked {
			continue
		}
		if err := s.engine.Reverse(wb, inventory.ReverseInput{
			ProductID: productID,
			Qty:       qty,
			UnitCost:  item.BuyPrice,
			RefID:     tx.ID,
			Note:      finalizeOp(to) + " " + tx.ID,
			At:        now,
		}); err != nil {
			return nil, err
		}
	}

	if customer == nil {
		return wb, nil
	}
	taken := min(tx.PointsEarned, customer.LoyaltyPoints)
	delta := store.CustomerDelta{
		CustomerID:    customer.ID,
		TotalSpent:    tx.Total.Neg(),
		LoyaltyPoints: -taken,
	}
	if tx.PaymentMethod == domain.PaymentDebt {
		delta.Debt = tx.Total.Neg()
	}
	wb.AddCustomerDelta(delta)
	if taken > 0 {
		wb.PointAdjustments = append(wb.PointAdjustments, domain.PointAdjustment{
			ID:         xid.New("pts"),
			CustomerID: customer.ID,
			Delta:      -taken,
			Reason:     finalizeOp(to),
			RefID:      tx.ID,
			Actor:      actor.Username,
			CreatedAt:  now,
		})
	}
	return wb, nil
}

func finalizeOp(to domain.TransactionStatus) string {
	if to == domain.TxStatusRefunded {
		return "refund"
	}
	return "void"
}
