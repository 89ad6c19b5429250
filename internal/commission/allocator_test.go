package commission

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klinikpos/backend/internal/domain"
)

// 2024-06-07 is a Friday.
var (
	friday   = time.Date(2024, 6, 7, 0, 0, 0, 0, time.UTC)
	saturday = friday.AddDate(0, 0, 1)
	sunday   = friday.AddDate(0, 0, 2)
	monday   = friday.AddDate(0, 0, 3)
)

func fee(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestAllocate(t *testing.T) {
	roster := domain.WeekdayRoster{Staff1: "A", Staff2: "B"}

	tests := []struct {
		name    string
		nights  []time.Time
		roster  domain.WeekdayRoster
		weekend map[string]string
		want    []domain.CommissionAllocation
	}{
		{
			name:    "friday shared, saturday duty",
			nights:  []time.Time{friday, saturday},
			roster:  roster,
			weekend: map[string]string{"2024-06-08": "C"},
			want: []domain.CommissionAllocation{
				{Date: "2024-06-07", StaffID: "A", Fee: fee(2500), Role: domain.CommissionWeekdayShared},
				{Date: "2024-06-07", StaffID: "B", Fee: fee(2500), Role: domain.CommissionWeekdayShared},
				{Date: "2024-06-08", StaffID: "C", Fee: fee(5000), Role: domain.CommissionWeekendDuty},
			},
		},
		{
			name:    "unassigned saturday produces no record",
			nights:  []time.Time{friday, saturday},
			roster:  roster,
			weekend: map[string]string{},
			want: []domain.CommissionAllocation{
				{Date: "2024-06-07", StaffID: "A", Fee: fee(2500), Role: domain.CommissionWeekdayShared},
				{Date: "2024-06-07", StaffID: "B", Fee: fee(2500), Role: domain.CommissionWeekdayShared},
			},
		},
		{
			name:    "half roster is not redistributed",
			nights:  []time.Time{monday},
			roster:  domain.WeekdayRoster{Staff1: "A"},
			weekend: nil,
			want: []domain.CommissionAllocation{
				{Date: "2024-06-10", StaffID: "A", Fee: fee(2500), Role: domain.CommissionWeekdayShared},
			},
		},
		{
			name:    "only second slot filled",
			nights:  []time.Time{monday},
			roster:  domain.WeekdayRoster{Staff2: "B"},
			weekend: nil,
			want: []domain.CommissionAllocation{
				{Date: "2024-06-10", StaffID: "B", Fee: fee(2500), Role: domain.CommissionWeekdayShared},
			},
		},
		{
			name:    "empty roster and weekend",
			nights:  []time.Time{friday, saturday, sunday},
			roster:  domain.WeekdayRoster{},
			weekend: nil,
			want:    []domain.CommissionAllocation{},
		},
		{
			name:    "sunday uses its own date key",
			nights:  []time.Time{saturday, sunday},
			roster:  roster,
			weekend: map[string]string{"2024-06-09": "D"},
			want: []domain.CommissionAllocation{
				{Date: "2024-06-09", StaffID: "D", Fee: fee(5000), Role: domain.CommissionWeekendDuty},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Allocate(tt.nights, tt.roster, tt.weekend, fee(5000))
			require.Len(t, got, len(tt.want))
			for i := range tt.want {
				assert.Equal(t, tt.want[i].Date, got[i].Date)
				assert.Equal(t, tt.want[i].StaffID, got[i].StaffID)
				assert.Equal(t, tt.want[i].Role, got[i].Role)
				assert.True(t, tt.want[i].Fee.Equal(got[i].Fee), "fee %s want %s", got[i].Fee, tt.want[i].Fee)
			}
		})
	}
}

func TestAllocateIsIdempotent(t *testing.T) {
	nights := Nights(friday, monday.AddDate(0, 0, 1))
	roster := domain.WeekdayRoster{Staff1: "A", Staff2: "B"}
	weekend := map[string]string{"2024-06-08": "C", "2024-06-09": "C"}

	first := Allocate(nights, roster, weekend, fee(7500))
	second := Allocate(nights, roster, weekend, fee(7500))
	assert.Equal(t, first, second)
}

func TestAllocateOddFeeSplitsExactly(t *testing.T) {
	got := Allocate([]time.Time{monday}, domain.WeekdayRoster{Staff1: "A", Staff2: "B"}, nil, fee(5001))
	require.Len(t, got, 2)
	assert.True(t, got[0].Fee.Equal(decimal.RequireFromString("2500.5")))
	assert.True(t, Total(got).Equal(fee(5001)))
}

func TestNights(t *testing.T) {
	nights := Nights(friday, monday)
	require.Len(t, nights, 3)
	assert.Equal(t, "2024-06-07", DateKey(nights[0]))
	assert.Equal(t, "2024-06-09", DateKey(nights[2]))

	assert.Empty(t, Nights(monday, friday))
	assert.Empty(t, Nights(friday, friday))

	// Time of day is ignored.
	late := friday.Add(22 * time.Hour)
	assert.Len(t, Nights(late, saturday.Add(time.Hour)), 1)
}

func TestAllocateStay(t *testing.T) {
	stay := domain.Stay{
		CheckIn:      friday,
		CheckOut:     sunday,
		FeePerNight:  fee(5000),
		WeekdayStaff: domain.WeekdayRoster{Staff1: "A", Staff2: "B"},
		WeekendStaff: map[string]string{"2024-06-08": "C"},
	}
	got := AllocateStay(stay)
	require.Len(t, got, 3)
	assert.True(t, Total(got).Equal(fee(10000)))
}
