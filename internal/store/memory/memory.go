package memory

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"klinikpos/backend/internal/domain"
	"klinikpos/backend/internal/store"
	"klinikpos/backend/internal/xid"
)

type Store struct {
	mu                 sync.RWMutex
	products           map[string]domain.Product
	batches            map[string][]domain.Batch
	movements          map[string][]domain.StockMovement
	customers          map[string]domain.Customer
	pointAdjustments   map[string][]domain.PointAdjustment
	transactionsByID   map[string]*domain.Transaction
	transactionsByIdem map[string]string
	auditLogs          []domain.AuditLog
	usersByUsername    map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		products:           make(map[string]domain.Product),
		batches:            make(map[string][]domain.Batch),
		movements:          make(map[string][]domain.StockMovement),
		customers:          make(map[string]domain.Customer),
		pointAdjustments:   make(map[string][]domain.PointAdjustment),
		transactionsByID:   make(map[string]*domain.Transaction),
		transactionsByIdem: make(map[string]string),
		usersByUsername:    make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD;
// the dev defaults are only used when those are unset.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			panic(fmt.Sprintf("memory: hash seed password for %s: %v", u.username, err))
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

// DefaultSeedCredentials reports whether NewSeeded falls back to the dev passwords.
func DefaultSeedCredentials() bool {
	return os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == ""
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with demo users and a small clinic catalog. Every
// seeded unit of stock comes with its receipt batch and "in" movement.
func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()

	receivedAt := time.Now().UTC().Add(-72 * time.Hour)
	seeds := []struct {
		id       string
		name     string
		kind     domain.ProductKind
		category string
		buy      int64
		sell     int64
		qty      int
	}{
		{"prd-dryfood-2kg", "Dry Food Adult 2kg", domain.ProductKindGoods, "food", 185000, 240000, 12},
		{"prd-wetfood-85g", "Wet Food Pouch 85g", domain.ProductKindGoods, "food", 9000, 14000, 60},
		{"prd-litter-10l", "Cat Litter 10L", domain.ProductKindGoods, "supplies", 52000, 75000, 20},
		{"prd-shampoo-250", "Anti-Flea Shampoo 250ml", domain.ProductKindGoods, "grooming", 38000, 55000, 15},
		{"med-amoxi-500", "Amoxicillin 500mg", domain.ProductKindMedicine, "antibiotic", 2500, 6000, 200},
		{"med-meloxi-15", "Meloxicam 1.5mg/ml 10ml", domain.ProductKindMedicine, "analgesic", 45000, 80000, 10},
		{"med-deworm", "Dewormer Tablet", domain.ProductKindMedicine, "antiparasitic", 7000, 15000, 80},
	}
	for _, seed := range seeds {
		buy := decimal.NewFromInt(seed.buy)
		s.products[seed.id] = domain.Product{
			ID:        seed.id,
			Name:      seed.name,
			Kind:      seed.kind,
			Category:  seed.category,
			Stock:     seed.qty,
			BuyPrice:  buy,
			SellPrice: decimal.NewFromInt(seed.sell),
			CreatedAt: receivedAt,
			UpdatedAt: receivedAt,
		}
		batchID := xid.New("batch")
		s.batches[seed.id] = []domain.Batch{{
			ID:         batchID,
			ProductID:  seed.id,
			InitialQty: seed.qty,
			CurrentQty: seed.qty,
			BuyPrice:   buy,
			Date:       receivedAt,
			Note:       "opening stock",
		}}
		s.movements[seed.id] = []domain.StockMovement{{
			ID:        xid.New("mov"),
			ProductID: seed.id,
			Type:      domain.MovementIn,
			Qty:       seed.qty,
			Date:      receivedAt,
			Note:      "opening stock",
			RefID:     batchID,
		}}
	}

	s.customers["cus-walkin-demo"] = domain.Customer{
		ID:         "cus-walkin-demo",
		Name:       "Demo Customer",
		TotalSpent: decimal.Zero,
		Debt:       decimal.Zero,
		CreatedAt:  receivedAt,
		UpdatedAt:  receivedAt,
	}
	return s
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if product, ok := s.products[id]; ok {
			result[id] = product
		}
	}
	return result, nil
}

func (s *Store) ListProducts(_ context.Context, includeDeleted bool) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, product := range s.products {
		if product.IsDeleted && !includeDeleted {
			continue
		}
		products = append(products, product)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if c := cmpString(a.Category, b.Category); c != 0 {
			return c
		}
		if c := cmpString(a.Name, b.Name); c != 0 {
			return c
		}
		return cmpString(a.ID, b.ID)
	})
	return products, nil
}

// UpdateProduct writes catalog fields only. Stock is owned by Commit.
func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if strings.TrimSpace(product.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}

	existing.Name = product.Name
	existing.Category = product.Category
	existing.SellPrice = product.SellPrice
	existing.BuyPrice = product.BuyPrice
	existing.IsDeleted = product.IsDeleted
	existing.UpdatedAt = time.Now().UTC()
	s.products[product.ID] = existing

	return &existing, nil
}

func (s *Store) ListBatches(_ context.Context, productID string, openOnly bool) ([]domain.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.products[productID]; !ok {
		return nil, store.ErrNotFound
	}
	batches := make([]domain.Batch, 0, len(s.batches[productID]))
	for _, batch := range s.batches[productID] {
		if openOnly && batch.CurrentQty < 1 {
			continue
		}
		batches = append(batches, batch)
	}
	slices.SortFunc(batches, compareBatchFIFO)
	return batches, nil
}

// ListMovements returns the latest limit movements, oldest first.
func (s *Store) ListMovements(_ context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.products[productID]; !ok {
		return nil, store.ErrNotFound
	}
	all := s.movements[productID]
	start := 0
	if limit > 0 && len(all) > limit {
		start = len(all) - limit
	}
	movements := make([]domain.StockMovement, len(all)-start)
	copy(movements, all[start:])
	return movements, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	if _, exists := s.customers[customer.ID]; exists {
		return nil, store.ErrDuplicate
	}
	now := time.Now().UTC()
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = now
	}
	customer.UpdatedAt = now
	s.customers[customer.ID] = customer
	return &customer, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &customer, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customers))
	for _, customer := range s.customers {
		customers = append(customers, customer)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		if c := cmpString(a.Name, b.Name); c != 0 {
			return c
		}
		return cmpString(a.ID, b.ID)
	})
	return customers, nil
}

// ListPointAdjustments returns the newest adjustments first.
func (s *Store) ListPointAdjustments(_ context.Context, customerID string, limit int) ([]domain.PointAdjustment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.customers[customerID]; !ok {
		return nil, store.ErrNotFound
	}
	all := s.pointAdjustments[customerID]
	result := make([]domain.PointAdjustment, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		result = append(result, all[i])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) FindTransactionByID(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactionsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTransaction(tx), nil
}

func (s *Store) FindTransactionByIdempotency(_ context.Context, key string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.transactionsByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTransaction(s.transactionsByID[id]), nil
}

func (s *Store) ListTransactions(_ context.Context, from time.Time, to time.Time) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Transaction, 0, 64)
	for _, tx := range s.transactionsByID {
		if tx.CreatedAt.Before(from) || !tx.CreatedAt.Before(to) {
			continue
		}
		result = append(result, *cloneTransaction(tx))
	}
	slices.SortFunc(result, func(a, b domain.Transaction) int {
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return 1
		}
		return cmpString(a.ID, b.ID)
	})
	return result, nil
}

// Commit validates every write against the current state and only then
// applies them, all under one lock.
func (s *Store) Commit(_ context.Context, wb *store.WriteBatch) error {
	if wb == nil || wb.Empty() {
		return nil
	}
	if wb.Size() > store.MaxBatchWrites {
		return store.ErrBatchTooLarge
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validate(wb); err != nil {
		return err
	}
	s.apply(wb)
	return nil
}

func (s *Store) validate(wb *store.WriteBatch) error {
	newProducts := make(map[string]domain.Product, len(wb.Products))
	for _, product := range wb.Products {
		if product.ID == "" || strings.TrimSpace(product.Name) == "" {
			return store.ErrInvalidTransaction
		}
		if _, exists := s.products[product.ID]; exists {
			return fmt.Errorf("%w: product %s", store.ErrDuplicate, product.ID)
		}
		newProducts[product.ID] = product
	}
	productExists := func(id string) bool {
		if _, ok := s.products[id]; ok {
			return true
		}
		_, ok := newProducts[id]
		return ok
	}

	for _, batch := range wb.Batches {
		if !productExists(batch.ProductID) {
			return fmt.Errorf("%w: product %s", store.ErrNotFound, batch.ProductID)
		}
		if batch.InitialQty < 1 || batch.CurrentQty < 0 || batch.CurrentQty > batch.InitialQty {
			return store.ErrInvalidTransaction
		}
	}

	for _, update := range wb.BatchUpdates {
		current, ok := s.findBatch(update.ProductID, update.BatchID)
		if !ok {
			return fmt.Errorf("%w: batch %s", store.ErrNotFound, update.BatchID)
		}
		if current.CurrentQty != update.ExpectedQty {
			return fmt.Errorf("%w: batch %s", store.ErrConflict, update.BatchID)
		}
		if update.NewQty < 0 || update.NewQty > current.InitialQty {
			return store.ErrInvalidTransaction
		}
	}

	for _, delta := range wb.StockDeltas {
		if !productExists(delta.ProductID) {
			return fmt.Errorf("%w: product %s", store.ErrNotFound, delta.ProductID)
		}
		current, ok := s.products[delta.ProductID]
		if !ok {
			current = newProducts[delta.ProductID]
		}
		if delta.Guarded && current.Stock+delta.Delta < 0 {
			return fmt.Errorf("%w: product %s", store.ErrInsufficientStock, delta.ProductID)
		}
	}

	for _, update := range wb.BuyPrices {
		if !productExists(update.ProductID) {
			return fmt.Errorf("%w: product %s", store.ErrNotFound, update.ProductID)
		}
	}
	for _, movement := range wb.Movements {
		if !productExists(movement.ProductID) {
			return fmt.Errorf("%w: product %s", store.ErrNotFound, movement.ProductID)
		}
	}

	if tx := wb.Transaction; tx != nil {
		if tx.ID == "" || tx.IdempotencyKey == "" {
			return store.ErrInvalidTransaction
		}
		if _, exists := s.transactionsByID[tx.ID]; exists {
			return fmt.Errorf("%w: transaction %s", store.ErrDuplicate, tx.ID)
		}
		if _, exists := s.transactionsByIdem[tx.IdempotencyKey]; exists {
			return store.ErrDuplicate
		}
	}

	if change := wb.StatusChange; change != nil {
		tx, ok := s.transactionsByID[change.TransactionID]
		if !ok {
			return fmt.Errorf("%w: transaction %s", store.ErrNotFound, change.TransactionID)
		}
		if tx.Status != change.From {
			return fmt.Errorf("%w: transaction %s is %s", store.ErrStatusMismatch, tx.ID, tx.Status)
		}
	}

	for _, delta := range wb.CustomerDeltas {
		if _, ok := s.customers[delta.CustomerID]; !ok {
			return fmt.Errorf("%w: customer %s", store.ErrNotFound, delta.CustomerID)
		}
	}
	for _, adjustment := range wb.PointAdjustments {
		if _, ok := s.customers[adjustment.CustomerID]; !ok {
			return fmt.Errorf("%w: customer %s", store.ErrNotFound, adjustment.CustomerID)
		}
	}
	return nil
}

func (s *Store) apply(wb *store.WriteBatch) {
	now := time.Now().UTC()

	for _, product := range wb.Products {
		if product.CreatedAt.IsZero() {
			product.CreatedAt = now
		}
		product.UpdatedAt = now
		s.products[product.ID] = product
	}
	for _, batch := range wb.Batches {
		s.batches[batch.ProductID] = append(s.batches[batch.ProductID], batch)
	}
	for _, update := range wb.BatchUpdates {
		batches := s.batches[update.ProductID]
		for i := range batches {
			if batches[i].ID == update.BatchID {
				batches[i].CurrentQty = update.NewQty
				break
			}
		}
	}
	for _, delta := range wb.StockDeltas {
		product := s.products[delta.ProductID]
		product.Stock += delta.Delta
		product.UpdatedAt = now
		s.products[delta.ProductID] = product
	}
	for _, update := range wb.BuyPrices {
		product := s.products[update.ProductID]
		product.BuyPrice = update.BuyPrice
		product.UpdatedAt = now
		s.products[update.ProductID] = product
	}
	for _, movement := range wb.Movements {
		s.movements[movement.ProductID] = append(s.movements[movement.ProductID], movement)
	}

	if wb.Transaction != nil {
		txCopy := cloneTransaction(wb.Transaction)
		s.transactionsByID[txCopy.ID] = txCopy
		s.transactionsByIdem[txCopy.IdempotencyKey] = txCopy.ID
	}
	if change := wb.StatusChange; change != nil {
		tx := s.transactionsByID[change.TransactionID]
		at := change.At
		tx.Status = change.To
		tx.FinalizeReason = change.Reason
		tx.FinalizedBy = change.Actor
		tx.FinalizedAt = &at
	}

	for _, delta := range wb.CustomerDeltas {
		customer := s.customers[delta.CustomerID]
		customer.TotalSpent = clampDecimal(customer.TotalSpent.Add(delta.TotalSpent))
		customer.Debt = clampDecimal(customer.Debt.Add(delta.Debt))
		customer.LoyaltyPoints = max(customer.LoyaltyPoints+delta.LoyaltyPoints, 0)
		if delta.LifetimePoints > 0 {
			customer.TotalLifetimePoints += delta.LifetimePoints
		}
		customer.UpdatedAt = now
		s.customers[delta.CustomerID] = customer
	}
	for _, adjustment := range wb.PointAdjustments {
		s.pointAdjustments[adjustment.CustomerID] = append(s.pointAdjustments[adjustment.CustomerID], adjustment)
	}
}

func (s *Store) findBatch(productID string, batchID string) (domain.Batch, bool) {
	for _, batch := range s.batches[productID] {
		if batch.ID == batchID {
			return batch, true
		}
	}
	return domain.Batch{}, false
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	result := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrDuplicate
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func clampDecimal(value decimal.Decimal) decimal.Decimal {
	if value.IsNegative() {
		return decimal.Zero
	}
	return value
}

// compareBatchFIFO orders by receipt date, then id for same-instant receipts.
func compareBatchFIFO(a domain.Batch, b domain.Batch) int {
	if a.Date.Before(b.Date) {
		return -1
	}
	if a.Date.After(b.Date) {
		return 1
	}
	return cmpString(a.ID, b.ID)
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneTransaction(src *domain.Transaction) *domain.Transaction {
	if src == nil {
		return nil
	}
	dup := *src
	dupItems := make([]domain.TransactionItem, len(src.Items))
	for i, item := range src.Items {
		if item.CommissionDetails != nil {
			details := make([]domain.CommissionAllocation, len(item.CommissionDetails))
			copy(details, item.CommissionDetails)
			item.CommissionDetails = details
		}
		if item.Stay != nil {
			stay := *item.Stay
			stay.WeekendStaff = maps.Clone(item.Stay.WeekendStaff)
			item.Stay = &stay
		}
		dupItems[i] = item
	}
	dup.Items = dupItems
	if src.FinalizedAt != nil {
		at := *src.FinalizedAt
		dup.FinalizedAt = &at
	}
	return &dup
}
