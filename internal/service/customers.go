package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"klinikpos/backend/internal/commission"
	"klinikpos/backend/internal/domain"
	"klinikpos/backend/internal/store"
	"klinikpos/backend/internal/xid"
)

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Customer{}, fmt.Errorf("%w: customer name required", store.ErrInvalidTransaction)
	}
	now := s.now()
	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		ID:        xid.New("cus"),
		Name:      name,
		Phone:     strings.TrimSpace(req.Phone),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return domain.Customer{}, err
	}
	s.logAudit(ctx, "customer_create", "customer", created.ID, created.Name)
	return *created, nil
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	customer, err := s.repo.GetCustomer(ctx, strings.TrimSpace(id))
	if errors.Is(err, store.ErrNotFound) {
		return domain.Customer{}, fmt.Errorf("%w: %s", domain.ErrCustomerNotFound, id)
	}
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

// AdjustPoints applies a manual loyalty correction. A deduction larger than
// the balance is clamped so the balance ends at zero, and the recorded
// adjustment carries the delta actually applied.
func (s *Service) AdjustPoints(ctx context.Context, customerID string, req domain.PointAdjustRequest) (domain.Customer, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.Customer{}, err
	}
	reason := strings.TrimSpace(req.Reason)
	if req.Delta == 0 || reason == "" {
		return domain.Customer{}, fmt.Errorf("%w: delta and reason required", store.ErrInvalidTransaction)
	}

	customer, err := s.GetCustomer(ctx, customerID)
	if err != nil {
		return domain.Customer{}, err
	}

	applied := req.Delta
	if customer.LoyaltyPoints+applied < 0 {
		applied = -customer.LoyaltyPoints
	}
	if applied == 0 {
		return customer, nil
	}

	delta := store.CustomerDelta{CustomerID: customer.ID, LoyaltyPoints: applied}
	if applied > 0 {
		delta.LifetimePoints = applied
	}
	wb := &store.WriteBatch{}
	wb.AddCustomerDelta(delta)
	wb.PointAdjustments = append(wb.PointAdjustments, domain.PointAdjustment{
		ID:         xid.New("pts"),
		CustomerID: customer.ID,
		Delta:      applied,
		Reason:     reason,
		Actor:      actor.Username,
		CreatedAt:  s.now(),
	})
	if err := s.repo.Commit(ctx, wb); err != nil {
		return domain.Customer{}, &domain.CommitFailedError{Op: "adjust_points", Err: err}
	}

	s.logAudit(ctx, "points_adjust", "customer", customer.ID, fmt.Sprintf("requested=%d,applied=%d,reason=%s", req.Delta, applied, reason))
	return s.GetCustomer(ctx, customer.ID)
}

func (s *Service) ListPointAdjustments(ctx context.Context, customerID string, limit int) ([]domain.PointAdjustment, error) {
	customer, err := s.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListPointAdjustments(ctx, customer.ID, limit)
}

// PreviewCommission runs the stay allocator without touching the store.
func (s *Service) PreviewCommission(req domain.CommissionPreviewRequest) (domain.CommissionPreviewResponse, error) {
	stay, err := domain.ParseStay(req.Stay)
	if err != nil {
		return domain.CommissionPreviewResponse{}, err
	}
	allocations := commission.AllocateStay(stay)
	return domain.CommissionPreviewResponse{
		Nights:      len(commission.Nights(stay.CheckIn, stay.CheckOut)),
		Allocations: allocations,
		Total:       commission.Total(allocations),
	}, nil
}
