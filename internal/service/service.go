package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"klinikpos/backend/internal/cache"
	"klinikpos/backend/internal/domain"
	"klinikpos/backend/internal/inventory"
	"klinikpos/backend/internal/lock"
	"klinikpos/backend/internal/store"
	"klinikpos/backend/internal/xid"
)

var ErrForbidden = errors.New("admin role required")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	Cache           cache.ProductCache
	CatalogCacheTTL time.Duration
	Locker          lock.Locker
	FinalizeLockTTL time.Duration
	Logger          *zap.Logger
	// PointValue is the spend that earns one loyalty point.
	PointValue     decimal.Decimal
	CostingPolicy  inventory.CostingPolicy
	ReversalPolicy inventory.ReversalPolicy
	Now            func() time.Time
}

type Service struct {
	repo       store.Repository
	engine     *inventory.Engine
	cache      cache.ProductCache
	cacheTTL   time.Duration
	locker     lock.Locker
	lockTTL    time.Duration
	log        *zap.Logger
	pointValue decimal.Decimal
	now        func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	if opts.Cache == nil {
		opts.Cache = cache.NoopProductCache{}
	}
	if opts.CatalogCacheTTL <= 0 {
		opts.CatalogCacheTTL = time.Minute
	}
	if opts.Locker == nil {
		opts.Locker = lock.NewLocalLocker()
	}
	if opts.FinalizeLockTTL <= 0 {
		opts.FinalizeLockTTL = 15 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if !opts.PointValue.IsPositive() {
		opts.PointValue = decimal.NewFromInt(10000)
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Service{
		repo:       repo,
		engine:     inventory.NewEngine(repo, opts.CostingPolicy, opts.ReversalPolicy),
		cache:      opts.Cache,
		cacheTTL:   opts.CatalogCacheTTL,
		locker:     opts.Locker,
		lockTTL:    opts.FinalizeLockTTL,
		log:        opts.Logger.Named("service"),
		pointValue: opts.PointValue,
		now:        opts.Now,
	}
}

func (s *Service) GetTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Transaction{}, store.ErrInvalidTransaction
	}
	tx, err := s.repo.FindTransactionByID(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	return *tx, nil
}

func (s *Service) ListTransactions(ctx context.Context, date string) ([]domain.Transaction, error) {
	from, err := s.parseDay(date)
	if err != nil {
		return nil, err
	}
	return s.repo.ListTransactions(ctx, from, from.Add(24*time.Hour))
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	from, err := s.parseDay(date)
	if err != nil {
		return nil, err
	}
	return s.repo.ListAuditLogs(ctx, from, from.Add(24*time.Hour), limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor := actorOrSystem(ctx)
	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.log.Warn("audit log write failed",
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err),
		)
	}
}

func (s *Service) invalidateCatalog(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, cache.ActiveCatalogKey); err != nil {
		s.log.Warn("catalog cache invalidation failed", zap.Error(err))
	}
}

// parseDay returns UTC midnight of date, or of today when date is empty.
func (s *Service) parseDay(date string) (time.Time, error) {
	date = strings.TrimSpace(date)
	if date == "" {
		now := s.now().UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	parsed, err := time.Parse(domain.DateLayout, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", store.ErrInvalidTransaction, date)
	}
	return parsed.UTC(), nil
}

// replayed returns the transaction already stored under key, or nil when
// the key is unused. A key that belongs to another kind of transaction is
// refused with ErrDuplicate.
func (s *Service) replayed(ctx context.Context, key string, kind domain.TransactionType) (*domain.Transaction, error) {
	existing, err := s.repo.FindTransactionByIdempotency(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if existing.Type != kind {
		return nil, fmt.Errorf("%w: idempotency key %s belongs to a %s", store.ErrDuplicate, key, existing.Type)
	}
	return existing, nil
}

// commitFailure wraps a failed commit. A guarded stock decrement refused
// by the store still reads as ErrInsufficientStock to callers.
func commitFailure(op string, err error) error {
	failed := &domain.CommitFailedError{Op: op, Err: err}
	if errors.Is(err, store.ErrInsufficientStock) {
		return fmt.Errorf("%w: %w", domain.ErrInsufficientStock, failed)
	}
	return failed
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Actor{}, ErrForbidden
	}
	return actor, nil
}

func actorOrSystem(ctx context.Context) domain.Actor {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{Username: "system", Role: "system"}
	}
	return actor
}

func isSupportedPaymentMethod(method string) bool {
	switch method {
	case domain.PaymentCash, domain.PaymentTransfer, domain.PaymentQRIS, domain.PaymentCard, domain.PaymentDebt:
		return true
	default:
		return false
	}
}

func normalizePaymentMethod(method string) string {
	method = strings.ToLower(strings.TrimSpace(method))
	if method == "" {
		return domain.PaymentCash
	}
	return method
}

func defaultString(value string, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	return value
}
