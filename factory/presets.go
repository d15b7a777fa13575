/*
presets.go - Pre-built leave type configurations

PURPOSE:
  Ready-to-use leave types for common HR patterns. DefaultCatalog bundles
  them; each function can also be used on its own and customized.

AVAILABLE PRESETS:
  AnnualLeave:    Monthly accrual, capped carry-forward, half days allowed
  SickLeave:      Yearly allowance, no notice, certificate required
  MaternityLeave: Granted on demand, female employees only
  PaternityLeave: Lump sum, male employees only
  MissionLeave:   Business travel, not deducted from any balance
  UnpaidLeave:    Not deducted, requires tenure

EXAMPLE:
  spec := factory.AnnualLeave("annual", decimal.NewFromInt(24), decimal.NewFromInt(5))
  spec.Policy.MinNoticeDays = 14
  catalog := factory.Catalog{LeaveTypes: []factory.LeaveTypeSpec{spec}}

SEE ALSO:
  - catalog.go: YAML loading and seeding
*/
package factory

import (
	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/leave"
)

// DefaultCatalog returns the built-in leave types.
func DefaultCatalog() Catalog {
	return Catalog{LeaveTypes: []LeaveTypeSpec{
		AnnualLeave("annual", decimal.NewFromInt(18), decimal.NewFromInt(5)),
		SickLeave("sick", decimal.NewFromInt(10)),
		MaternityLeave("maternity"),
		PaternityLeave("paternity", decimal.NewFromInt(3)),
		MissionLeave("mission"),
		UnpaidLeave("unpaid"),
	}}
}

// AnnualLeave accrues yearlyDays/12 per whole month and carries at most
// maxCarry days into the next year.
func AnnualLeave(id string, yearlyDays, maxCarry decimal.Decimal) LeaveTypeSpec {
	return LeaveTypeSpec{
		ID:           id,
		Name:         "Annual Leave",
		Category:     string(leave.CategoryAnnual),
		Paid:         true,
		Deductible:   true,
		AllowHalfDay: true,
		Policy: PolicySpec{
			AccrualMethod:       string(leave.AccrualMonthly),
			MonthlyRate:         yearlyDays.Div(decimal.NewFromInt(12)),
			YearlyRate:          yearlyDays,
			CarryForwardAllowed: true,
			MaxCarryForward:     &maxCarry,
			RoundingRule:        string(leave.RoundNearest),
			MinNoticeDays:       7,
			MaxConsecutiveDays:  15,
			Eligibility: EligibilitySpec{
				MinTenureMonths: 3,
				ContractTypes:   []string{string(leave.ContractPermanent), string(leave.ContractFixedTerm)},
			},
		},
	}
}

// SickLeave front-loads yearlyDays on the first accrual of each year.
// Sick leave can be requested retroactively.
func SickLeave(id string, yearlyDays decimal.Decimal) LeaveTypeSpec {
	return LeaveTypeSpec{
		ID:                 id,
		Name:               "Sick Leave",
		Category:           string(leave.CategorySick),
		Paid:               true,
		Deductible:         true,
		RequiresAttachment: true,
		AllowHalfDay:       true,
		Policy: PolicySpec{
			AccrualMethod: string(leave.AccrualYearly),
			YearlyRate:    yearlyDays,
			RoundingRule:  string(leave.RoundNone),
		},
	}
}

// MaternityLeave has no passive accrual: HR grants the entitlement once the
// leave is confirmed.
func MaternityLeave(id string) LeaveTypeSpec {
	return LeaveTypeSpec{
		ID:                 id,
		Name:               "Maternity Leave",
		Category:           string(leave.CategoryMaternity),
		Paid:               true,
		Deductible:         true,
		RequiresAttachment: true,
		Gender:             string(leave.GenderFemale),
		Policy: PolicySpec{
			AccrualMethod: string(leave.AccrualOnDemand),
			RoundingRule:  string(leave.RoundNone),
			MinNoticeDays: 30,
		},
	}
}

func PaternityLeave(id string, days decimal.Decimal) LeaveTypeSpec {
	return LeaveTypeSpec{
		ID:         id,
		Name:       "Paternity Leave",
		Category:   string(leave.CategoryPaternity),
		Paid:       true,
		Deductible: true,
		Gender:     string(leave.GenderMale),
		Policy: PolicySpec{
			AccrualMethod: string(leave.AccrualLumpSum),
			YearlyRate:    days,
			RoundingRule:  string(leave.RoundNone),
		},
	}
}

// MissionLeave covers business travel. It goes through approval but never
// touches a balance.
func MissionLeave(id string) LeaveTypeSpec {
	return LeaveTypeSpec{
		ID:       id,
		Name:     "Mission",
		Category: string(leave.CategoryMission),
		Paid:     true,
		Policy: PolicySpec{
			AccrualMethod: string(leave.AccrualOnDemand),
			RoundingRule:  string(leave.RoundNone),
			MinNoticeDays: 2,
		},
	}
}

func UnpaidLeave(id string) LeaveTypeSpec {
	return LeaveTypeSpec{
		ID:       id,
		Name:     "Unpaid Leave",
		Category: string(leave.CategoryUnpaid),
		Policy: PolicySpec{
			AccrualMethod:      string(leave.AccrualNone),
			RoundingRule:       string(leave.RoundNone),
			MinNoticeDays:      14,
			MaxConsecutiveDays: 30,
			Eligibility:        EligibilitySpec{MinTenureMonths: 6},
		},
	}
}
