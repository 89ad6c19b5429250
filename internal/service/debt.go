package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"klinikpos/backend/internal/domain"
	"klinikpos/backend/internal/store"
	"klinikpos/backend/internal/xid"
)

// PayDebt records a debt_payment transaction and lowers the customer's
// debt. The payment may not exceed the outstanding debt.
func (s *Service) PayDebt(ctx context.Context, customerID string, req domain.DebtPaymentRequest) (domain.DebtPaymentResponse, error) {
	customerID = strings.TrimSpace(customerID)
	req.PaymentMethod = normalizePaymentMethod(req.PaymentMethod)
	if req.PaymentMethod == domain.PaymentDebt || !isSupportedPaymentMethod(req.PaymentMethod) {
		return domain.DebtPaymentResponse{}, fmt.Errorf("%w: payment method %q", store.ErrInvalidTransaction, req.PaymentMethod)
	}
	if !req.Amount.IsPositive() {
		return domain.DebtPaymentResponse{}, fmt.Errorf("%w: amount must be positive", store.ErrInvalidTransaction)
	}
	req.IdempotencyKey = defaultString(req.IdempotencyKey, xid.New("idem"))

	if existing, err := s.replayed(ctx, req.IdempotencyKey, domain.TxTypeDebtPayment); err != nil {
		return domain.DebtPaymentResponse{}, err
	} else if existing != nil {
		return s.debtResponse(ctx, *existing, true)
	}

	customer, err := s.repo.GetCustomer(ctx, customerID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.DebtPaymentResponse{}, fmt.Errorf("%w: %s", domain.ErrCustomerNotFound, customerID)
	}
	if err != nil {
		return domain.DebtPaymentResponse{}, err
	}
	if req.Amount.GreaterThan(customer.Debt) {
		return domain.DebtPaymentResponse{}, fmt.Errorf("%w: amount %s exceeds debt %s", store.ErrInvalidTransaction, req.Amount, customer.Debt)
	}

	now := s.now()
	actor := actorOrSystem(ctx)
	tx := domain.Transaction{
		ID:             xid.New("tx"),
		Type:           domain.TxTypeDebtPayment,
		IdempotencyKey: req.IdempotencyKey,
		CustomerID:     customer.ID,
		Items:          []domain.TransactionItem{},
		Total:          req.Amount,
		PaymentMethod:  req.PaymentMethod,
		Status:         domain.TxStatusPaid,
		CreatedBy:      actor.Username,
		CreatedAt:      now,
	}
	wb := &store.WriteBatch{Transaction: &tx}
	wb.AddCustomerDelta(store.CustomerDelta{CustomerID: customer.ID, Debt: req.Amount.Neg()})

	if err := s.repo.Commit(ctx, wb); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			existing, findErr := s.replayed(ctx, req.IdempotencyKey, domain.TxTypeDebtPayment)
			if findErr != nil {
				return domain.DebtPaymentResponse{}, findErr
			}
			if existing != nil {
				return s.debtResponse(ctx, *existing, true)
			}
		}
		return domain.DebtPaymentResponse{}, &domain.CommitFailedError{Op: "debt_payment", Err: err}
	}

	s.logAudit(ctx, "debt_payment", "customer", customer.ID, fmt.Sprintf("amount=%s,payment=%s,tx=%s", req.Amount, req.PaymentMethod, tx.ID))
	s.log.Info("debt payment committed",
		zap.String("transaction_id", tx.ID),
		zap.String("customer_id", customer.ID),
		zap.String("amount", req.Amount.String()),
	)
	return s.debtResponse(ctx, tx, false)
}

func (s *Service) debtResponse(ctx context.Context, tx domain.Transaction, duplicate bool) (domain.DebtPaymentResponse, error) {
	customer, err := s.repo.GetCustomer(ctx, tx.CustomerID)
	if err != nil {
		return domain.DebtPaymentResponse{}, err
	}
	return domain.DebtPaymentResponse{Transaction: tx, Customer: *customer, Duplicate: duplicate}, nil
}
