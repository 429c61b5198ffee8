package ledger

import (
	"math"

	"github.com/mcclellann/microloan/pkg/models"
	"github.com/shopspring/decimal"
)

// Monthly loans use a fixed 30-day month for their duration. Due dates use real
// calendar months (see NextDueDate).
var daysPerInstallment = map[models.Frequency]int{
	models.FrequencyDaily:   1,
	models.FrequencyWeekly:  7,
	models.FrequencyMonthly: 30,
}

// ValidateTerms checks the invariants every loan must satisfy before a schedule exists.
func ValidateTerms(terms models.LoanTerms) error {
	if terms.PrincipalAmount.IsNegative() {
		return invalidTerms("principal amount %s is negative", terms.PrincipalAmount)
	}
	if terms.InterestAmount.IsNegative() {
		return invalidTerms("interest amount %s is negative", terms.InterestAmount)
	}
	if !terms.Total().IsPositive() {
		return invalidTerms("total amount %s must be positive", terms.Total())
	}
	if !terms.InstallmentAmount.IsPositive() {
		return invalidTerms("installment amount %s must be positive", terms.InstallmentAmount)
	}
	if !terms.RepaymentFrequency.Valid() {
		return invalidTerms("unrecognized repayment frequency %q", terms.RepaymentFrequency)
	}
	if !terms.StartDate.IsValid() {
		return invalidTerms("start date %s is not a calendar date", terms.StartDate)
	}
	return nil
}

// ComputeSchedule derives the installment count, duration and end date of a loan.
func ComputeSchedule(terms models.LoanTerms) (models.Schedule, error) {
	if err := ValidateTerms(terms); err != nil {
		return models.Schedule{}, err
	}

	installments := ceilDiv(terms.Total(), terms.InstallmentAmount)
	if installments.GreaterThan(maxScheduleCount) {
		return models.Schedule{}, invalidTerms("%s installments exceed the limit of %s", installments, maxScheduleCount)
	}

	duration := installments.Mul(decimal.NewFromInt(int64(daysPerInstallment[terms.RepaymentFrequency])))
	if duration.GreaterThan(maxScheduleCount) {
		return models.Schedule{}, invalidTerms("duration of %s days exceeds the limit of %s", duration, maxScheduleCount)
	}

	days := int(duration.IntPart())
	return models.Schedule{
		NumberOfInstallments: int(installments.IntPart()),
		DurationDays:         days,
		EndDate:              terms.StartDate.AddDays(days),
	}, nil
}

// maxScheduleCount bounds installment counts and durations so they fit an int on every platform.
var maxScheduleCount = decimal.NewFromInt(math.MaxInt32)

// floorDiv returns floor(a / b) for a >= 0, b > 0 without rounding the quotient,
// saturating at maxScheduleCount.
func floorDiv(a, b decimal.Decimal) int {
	q, _ := a.QuoRem(b, 0)
	if q.GreaterThan(maxScheduleCount) {
		return math.MaxInt32
	}
	return int(q.IntPart())
}

// ceilDiv returns ceil(a / b) for a >= 0, b > 0.
func ceilDiv(a, b decimal.Decimal) decimal.Decimal {
	q, r := a.QuoRem(b, 0)
	if r.IsPositive() {
		q = q.Add(decimal.NewFromInt(1))
	}
	return q
}
