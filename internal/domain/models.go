package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ProductKind string

const (
	ProductKindGoods    ProductKind = "product"
	ProductKindMedicine ProductKind = "medicine"
)

// Product.Stock is a denormalized counter. Only the costing engine, stock
// receipts and manual adjustments move it.
type Product struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Kind      ProductKind     `json:"kind"`
	Category  string          `json:"category"`
	Stock     int             `json:"stock"`
	BuyPrice  decimal.Decimal `json:"buy_price"`
	SellPrice decimal.Decimal `json:"sell_price"`
	IsDeleted bool            `json:"is_deleted"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type ProductCreateRequest struct {
	Name         string          `json:"name" validate:"required,max=160"`
	Kind         ProductKind     `json:"kind" validate:"omitempty,oneof=product medicine"`
	Category     string          `json:"category" validate:"max=80"`
	BuyPrice     decimal.Decimal `json:"buy_price"`
	SellPrice    decimal.Decimal `json:"sell_price"`
	InitialStock int             `json:"initial_stock" validate:"gte=0"`
	Note         string          `json:"note"`
}

type ProductUpdateRequest struct {
	Name      *string          `json:"name,omitempty"`
	Category  *string          `json:"category,omitempty"`
	BuyPrice  *decimal.Decimal `json:"buy_price,omitempty"`
	SellPrice *decimal.Decimal `json:"sell_price,omitempty"`
}

type ProductImportRequest struct {
	Products []ProductCreateRequest `json:"products" validate:"required,min=1,dive"`
}

type ProductImportResponse struct {
	Products []Product `json:"products"`
}

// Batch is one stock receipt with its cost frozen at receipt time. Batches are
// never deleted; a consumed batch keeps CurrentQty == 0.
type Batch struct {
	ID         string          `json:"id"`
	ProductID  string          `json:"product_id"`
	InitialQty int             `json:"initial_qty"`
	CurrentQty int             `json:"current_qty"`
	BuyPrice   decimal.Decimal `json:"buy_price"`
	Date       time.Time       `json:"date"`
	Note       string          `json:"note"`
}

type MovementType string

const (
	MovementIn         MovementType = "in"
	MovementOut        MovementType = "out"
	MovementSale       MovementType = "sale"
	MovementAdjustment MovementType = "adjustment"
)

// StockMovement is append-only. Qty is signed: positive for increases.
type StockMovement struct {
	ID        string       `json:"id"`
	ProductID string       `json:"product_id"`
	Type      MovementType `json:"type"`
	Qty       int          `json:"qty"`
	Date      time.Time    `json:"date"`
	Note      string       `json:"note"`
	RefID     string       `json:"ref_id"`
}

type StockReceiveRequest struct {
	Qty      int             `json:"qty" validate:"gt=0"`
	BuyPrice decimal.Decimal `json:"buy_price"`
	Note     string          `json:"note"`
}

type StockReduceRequest struct {
	Qty  int    `json:"qty" validate:"gt=0"`
	Note string `json:"note"`
}

type StockAdjustRequest struct {
	Delta int    `json:"delta" validate:"required"`
	Note  string `json:"note" validate:"required"`
}

type StockReceiveResponse struct {
	Product Product `json:"product"`
	Batch   Batch   `json:"batch"`
}

type StockReduceResponse struct {
	Product   Product         `json:"product"`
	TotalCost decimal.Decimal `json:"total_cost"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
}

type TransactionType string

const (
	TxTypeSale        TransactionType = "sale"
	TxTypeDebtPayment TransactionType = "debt_payment"
)

type TransactionStatus string

const (
	TxStatusPaid     TransactionStatus = "paid"
	TxStatusVoid     TransactionStatus = "void"
	TxStatusRefunded TransactionStatus = "refunded"
)

const (
	PaymentCash     = "cash"
	PaymentTransfer = "transfer"
	PaymentQRIS     = "qris"
	PaymentCard     = "card"
	PaymentDebt     = "debt"
)

type CommissionRole string

const (
	CommissionWeekdayShared CommissionRole = "weekday_shared"
	CommissionWeekendDuty   CommissionRole = "weekend_duty"
)

// CommissionAllocation is generated once at checkout and stored on the item.
type CommissionAllocation struct {
	Date    string          `json:"date"`
	StaffID string          `json:"staff_id"`
	Fee     decimal.Decimal `json:"fee"`
	Role    CommissionRole  `json:"role"`
}

type TransactionItem struct {
	Kind              LineKind               `json:"kind"`
	ID                string                 `json:"id"`
	Name              string                 `json:"name"`
	Qty               int                    `json:"qty"`
	Price             decimal.Decimal        `json:"price"`
	Discount          decimal.Decimal        `json:"discount"`
	BuyPrice          decimal.Decimal        `json:"buy_price"`
	TotalCost         decimal.Decimal        `json:"total_cost"`
	StaffID           string                 `json:"staff_id,omitempty"`
	Fee               decimal.Decimal        `json:"fee"`
	FeeParamedic      decimal.Decimal        `json:"fee_paramedic"`
	Stay              *Stay                  `json:"stay,omitempty"`
	CommissionDetails []CommissionAllocation `json:"commission_details,omitempty"`
}

// Subtotal is price*qty minus the line discount.
func (i TransactionItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Qty))).Sub(i.Discount)
}

type Transaction struct {
	ID             string            `json:"id"`
	Type           TransactionType   `json:"type"`
	IdempotencyKey string            `json:"idempotency_key"`
	CustomerID     string            `json:"customer_id,omitempty"`
	Items          []TransactionItem `json:"items"`
	Total          decimal.Decimal   `json:"total"`
	PaymentMethod  string            `json:"payment_method"`
	Status         TransactionStatus `json:"status"`
	PointsEarned   int               `json:"points_earned"`
	Note           string            `json:"note,omitempty"`
	CreatedBy      string            `json:"created_by"`
	CreatedAt      time.Time         `json:"created_at"`
	FinalizeReason string            `json:"finalize_reason,omitempty"`
	FinalizedBy    string            `json:"finalized_by,omitempty"`
	FinalizedAt    *time.Time        `json:"finalized_at,omitempty"`
}

type SaleRequest struct {
	IdempotencyKey string        `json:"idempotency_key"`
	CustomerID     string        `json:"customer_id"`
	PaymentMethod  string        `json:"payment_method" validate:"omitempty,oneof=cash transfer qris card debt"`
	Note           string        `json:"note"`
	Items          []LineRequest `json:"items" validate:"required,min=1,dive"`
}

type SaleResponse struct {
	Transaction Transaction `json:"transaction"`
	Duplicate   bool        `json:"duplicate"`
}

type FinalizeRequest struct {
	TransactionID string `json:"-"`
	Reason        string `json:"reason"`
	ManagerPIN    string `json:"manager_pin"`
}

type FinalizeResponse struct {
	TransactionID string            `json:"transaction_id"`
	Status        TransactionStatus `json:"status"`
	FinalizedAt   string            `json:"finalized_at"`
}

type Customer struct {
	ID                  string          `json:"id"`
	Name                string          `json:"name"`
	Phone               string          `json:"phone,omitempty"`
	TotalSpent          decimal.Decimal `json:"total_spent"`
	Debt                decimal.Decimal `json:"debt"`
	LoyaltyPoints       int             `json:"loyalty_points"`
	TotalLifetimePoints int             `json:"total_lifetime_points"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

type CustomerCreateRequest struct {
	Name  string `json:"name" validate:"required,max=160"`
	Phone string `json:"phone" validate:"max=32"`
}

type PointAdjustment struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	Delta      int       `json:"delta"`
	Reason     string    `json:"reason"`
	RefID      string    `json:"ref_id,omitempty"`
	Actor      string    `json:"actor"`
	CreatedAt  time.Time `json:"created_at"`
}

type PointAdjustRequest struct {
	Delta  int    `json:"delta" validate:"required"`
	Reason string `json:"reason" validate:"required"`
}

type DebtPaymentRequest struct {
	IdempotencyKey string          `json:"idempotency_key"`
	Amount         decimal.Decimal `json:"amount"`
	PaymentMethod  string          `json:"payment_method" validate:"omitempty,oneof=cash transfer qris card"`
}

type DebtPaymentResponse struct {
	Transaction Transaction `json:"transaction"`
	Customer    Customer    `json:"customer"`
	Duplicate   bool        `json:"duplicate"`
}

type CommissionPreviewRequest struct {
	Stay StayRequest `json:"stay"`
}

type CommissionPreviewResponse struct {
	Nights      int                    `json:"nights"`
	Allocations []CommissionAllocation `json:"allocations"`
	Total       decimal.Decimal        `json:"total"`
}

type StaffCommission struct {
	StaffID string          `json:"staff_id"`
	Total   decimal.Decimal `json:"total"`
}

type DailyReport struct {
	Date              string                     `json:"date"`
	Sales             int                        `json:"sales"`
	GrossSales        decimal.Decimal            `json:"gross_sales"`
	CostOfGoods       decimal.Decimal            `json:"cost_of_goods"`
	GrossMargin       decimal.Decimal            `json:"gross_margin"`
	Voids             int                        `json:"voids"`
	VoidedAmount      decimal.Decimal            `json:"voided_amount"`
	Refunds           int                        `json:"refunds"`
	RefundedAmount    decimal.Decimal            `json:"refunded_amount"`
	DebtPayments      decimal.Decimal            `json:"debt_payments"`
	DebtSales         decimal.Decimal            `json:"debt_sales"`
	PaymentBreakdown  map[string]decimal.Decimal `json:"payment_breakdown"`
	StaffCommissions  []StaffCommission          `json:"staff_commissions"`
	PointsEarned      int                        `json:"points_earned"`
	TransactionsCount int                        `json:"transactions_count"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type Actor struct {
	Username string
	Role     string
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type CashierCreateRequest struct {
	Username string `json:"username" validate:"required,min=4,max=64"`
	Password string `json:"password" validate:"required,min=6"`
}

type PasswordResetRequest struct {
	Password string `json:"password" validate:"required,min=6"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
