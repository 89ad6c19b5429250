package commission

import (
	"time"

	"github.com/shopspring/decimal"

	"klinikpos/backend/internal/domain"
)

var two = decimal.NewFromInt(2)

// Nights lists the nights of a stay: every calendar day from checkIn up to,
// but not including, checkOut.
func Nights(checkIn time.Time, checkOut time.Time) []time.Time {
	start := day(checkIn)
	end := day(checkOut)
	if !end.After(start) {
		return nil
	}
	nights := make([]time.Time, 0, int(end.Sub(start).Hours()/24))
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		nights = append(nights, d)
	}
	return nights
}

func DateKey(t time.Time) string {
	return t.Format(domain.DateLayout)
}

func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// Allocate splits feePerNight across the staff on duty each night.
//
// Weekend nights pay the full fee to the staff listed for that date, and
// nothing when no one is listed. Weekday nights pay half the fee to each
// filled roster slot; an empty slot's half is not paid to anyone.
// Allocate is pure: identical input always yields identical output.
func Allocate(nights []time.Time, weekday domain.WeekdayRoster, weekend map[string]string, feePerNight decimal.Decimal) []domain.CommissionAllocation {
	allocations := make([]domain.CommissionAllocation, 0, len(nights)*2)
	half := feePerNight.Div(two)

	for _, night := range nights {
		key := DateKey(night)
		if IsWeekend(night) {
			if staffID := weekend[key]; staffID != "" {
				allocations = append(allocations, domain.CommissionAllocation{
					Date:    key,
					StaffID: staffID,
					Fee:     feePerNight,
					Role:    domain.CommissionWeekendDuty,
				})
			}
			continue
		}

		for _, staffID := range []string{weekday.Staff1, weekday.Staff2} {
			if staffID == "" {
				continue
			}
			allocations = append(allocations, domain.CommissionAllocation{
				Date:    key,
				StaffID: staffID,
				Fee:     half,
				Role:    domain.CommissionWeekdayShared,
			})
		}
	}
	return allocations
}

// AllocateStay expands a stay into nights and allocates it.
func AllocateStay(stay domain.Stay) []domain.CommissionAllocation {
	return Allocate(Nights(stay.CheckIn, stay.CheckOut), stay.WeekdayStaff, stay.WeekendStaff, stay.FeePerNight)
}

func Total(allocations []domain.CommissionAllocation) decimal.Decimal {
	total := decimal.Zero
	for _, a := range allocations {
		total = total.Add(a.Fee)
	}
	return total
}

func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
