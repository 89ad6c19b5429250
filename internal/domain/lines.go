package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type LineKind string

const (
	LineService  LineKind = "service"
	LineProduct  LineKind = "product"
	LineMedicine LineKind = "medicine"
)

const DateLayout = "2006-01-02"

type WeekdayRoster struct {
	Staff1 string `json:"staff1"`
	Staff2 string `json:"staff2"`
}

type StayRequest struct {
	CheckIn      string            `json:"check_in" validate:"required"`
	CheckOut     string            `json:"check_out" validate:"required"`
	FeePerNight  decimal.Decimal   `json:"fee_per_night"`
	WeekdayStaff WeekdayRoster     `json:"weekday_staff"`
	WeekendStaff map[string]string `json:"weekend_staff"`
}

// Stay describes a multi-night booking. WeekendStaff is keyed by
// night date in DateLayout.
type Stay struct {
	CheckIn      time.Time         `json:"check_in"`
	CheckOut     time.Time         `json:"check_out"`
	FeePerNight  decimal.Decimal   `json:"fee_per_night"`
	WeekdayStaff WeekdayRoster     `json:"weekday_staff"`
	WeekendStaff map[string]string `json:"weekend_staff,omitempty"`
}

type LineRequest struct {
	Kind         LineKind        `json:"kind" validate:"required,oneof=service product medicine"`
	ID           string          `json:"id" validate:"required"`
	Name         string          `json:"name"`
	Qty          int             `json:"qty"`
	Price        decimal.Decimal `json:"price"`
	Discount     decimal.Decimal `json:"discount"`
	StaffID      string          `json:"staff_id"`
	Fee          decimal.Decimal `json:"fee"`
	FeeParamedic decimal.Decimal `json:"fee_paramedic"`
	Stay         *StayRequest    `json:"stay,omitempty"`
}

// Line is a checkout line. The set of implementations is closed:
// ServiceLine, ProductLine and MedicineLine.
type Line interface {
	Base() LineBase
	isLine()
}

type LineBase struct {
	ID           string
	Name         string
	Qty          int
	Price        decimal.Decimal
	Discount     decimal.Decimal
	StaffID      string
	Fee          decimal.Decimal
	FeeParamedic decimal.Decimal
}

func (b LineBase) Base() LineBase { return b }

// ServiceLine carries no stock. Stay is set for hotel bookings.
type ServiceLine struct {
	LineBase
	Stay *Stay
}

type ProductLine struct {
	LineBase
}

type MedicineLine struct {
	LineBase
}

func (ServiceLine) isLine()  {}
func (ProductLine) isLine()  {}
func (MedicineLine) isLine() {}

func ParseLine(req LineRequest) (Line, error) {
	if req.Qty <= 0 {
		return nil, fmt.Errorf("%w: line %s", ErrInvalidQuantity, req.ID)
	}
	base := LineBase{
		ID:           strings.TrimSpace(req.ID),
		Name:         strings.TrimSpace(req.Name),
		Qty:          req.Qty,
		Price:        req.Price,
		Discount:     req.Discount,
		StaffID:      strings.TrimSpace(req.StaffID),
		Fee:          req.Fee,
		FeeParamedic: req.FeeParamedic,
	}
	if base.ID == "" {
		return nil, fmt.Errorf("%w: line id required", ErrInvalidLine)
	}
	if base.Price.IsNegative() || base.Discount.IsNegative() || base.Fee.IsNegative() || base.FeeParamedic.IsNegative() {
		return nil, fmt.Errorf("%w: negative amount on line %s", ErrInvalidLine, base.ID)
	}
	if base.Discount.GreaterThan(base.Price.Mul(decimal.NewFromInt(int64(base.Qty)))) {
		return nil, fmt.Errorf("%w: discount exceeds line amount on %s", ErrInvalidLine, base.ID)
	}

	switch req.Kind {
	case LineService:
		line := ServiceLine{LineBase: base}
		if req.Stay != nil {
			stay, err := ParseStay(*req.Stay)
			if err != nil {
				return nil, err
			}
			line.Stay = &stay
		}
		return line, nil
	case LineProduct, LineMedicine:
		if req.Stay != nil {
			return nil, fmt.Errorf("%w: stay on %s line %s", ErrInvalidLine, req.Kind, base.ID)
		}
		if req.Kind == LineProduct {
			return ProductLine{LineBase: base}, nil
		}
		return MedicineLine{LineBase: base}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidLine, req.Kind)
	}
}

func ParseStay(req StayRequest) (Stay, error) {
	checkIn, err := time.Parse(DateLayout, strings.TrimSpace(req.CheckIn))
	if err != nil {
		return Stay{}, fmt.Errorf("%w: check_in: %v", ErrInvalidStay, err)
	}
	checkOut, err := time.Parse(DateLayout, strings.TrimSpace(req.CheckOut))
	if err != nil {
		return Stay{}, fmt.Errorf("%w: check_out: %v", ErrInvalidStay, err)
	}
	if !checkOut.After(checkIn) {
		return Stay{}, fmt.Errorf("%w: check_out must be after check_in", ErrInvalidStay)
	}
	if req.FeePerNight.IsNegative() {
		return Stay{}, fmt.Errorf("%w: negative fee per night", ErrInvalidStay)
	}

	weekend := make(map[string]string, len(req.WeekendStaff))
	for date, staffID := range req.WeekendStaff {
		weekend[strings.TrimSpace(date)] = strings.TrimSpace(staffID)
	}

	return Stay{
		CheckIn:     checkIn,
		CheckOut:    checkOut,
		FeePerNight: req.FeePerNight,
		WeekdayStaff: WeekdayRoster{
			Staff1: strings.TrimSpace(req.WeekdayStaff.Staff1),
			Staff2: strings.TrimSpace(req.WeekdayStaff.Staff2),
		},
		WeekendStaff: weekend,
	}, nil
}

// ItemFromLine builds the persisted item for a line. Cost and commission
// fields are filled in later by the transaction engine.
func ItemFromLine(line Line) TransactionItem {
	base := line.Base()
	item := TransactionItem{
		ID:           base.ID,
		Name:         base.Name,
		Qty:          base.Qty,
		Price:        base.Price,
		Discount:     base.Discount,
		StaffID:      base.StaffID,
		Fee:          base.Fee,
		FeeParamedic: base.FeeParamedic,
	}
	switch l := line.(type) {
	case ServiceLine:
		item.Kind = LineService
		item.Stay = l.Stay
	case ProductLine:
		item.Kind = LineProduct
	case MedicineLine:
		item.Kind = LineMedicine
	}
	return item
}

// Line restores the tagged line of a persisted item.
func (i TransactionItem) Line() (Line, error) {
	base := LineBase{
		ID:           i.ID,
		Name:         i.Name,
		Qty:          i.Qty,
		Price:        i.Price,
		Discount:     i.Discount,
		StaffID:      i.StaffID,
		Fee:          i.Fee,
		FeeParamedic: i.FeeParamedic,
	}
	switch i.Kind {
	case LineService:
		return ServiceLine{LineBase: base, Stay: i.Stay}, nil
	case LineProduct:
		return ProductLine{LineBase: base}, nil
	case LineMedicine:
		return MedicineLine{LineBase: base}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidLine, i.Kind)
	}
}
