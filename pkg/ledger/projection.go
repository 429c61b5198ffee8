package ledger

import (
	"cloud.google.com/go/civil"
	"github.com/mcclellann/microloan/pkg/models"
	"github.com/shopspring/decimal"
)

// Project computes the state of a loan as of asOf from its terms, schedule and
// full payment history. It returns either a complete projection or an error.
func Project(schedule models.Schedule, terms models.LoanTerms, payments []*models.Payment, asOf civil.Date) (models.Projection, error) {
	if !terms.InstallmentAmount.IsPositive() {
		return models.Projection{}, invalidTerms("installment amount %s must be positive", terms.InstallmentAmount)
	}
	if !terms.RepaymentFrequency.Valid() {
		return models.Projection{}, invalidTerms("unrecognized repayment frequency %q", terms.RepaymentFrequency)
	}

	totalPaid := decimal.Zero
	var last *civil.Date
	for _, p := range payments {
		totalPaid = totalPaid.Add(p.PaidAmount)
		if last == nil || p.PaymentDate.After(*last) {
			d := p.PaymentDate
			last = &d
		}
	}

	remaining := terms.Total().Sub(totalPaid)

	installmentsPaid := floorDiv(totalPaid, terms.InstallmentAmount)
	installmentsRemaining := schedule.NumberOfInstallments - installmentsPaid
	if installmentsRemaining < 0 {
		installmentsRemaining = 0
	}

	// Before any payment the first installment is due on the start date.
	nextDue := terms.StartDate
	if last != nil {
		var err error
		nextDue, err = NextDueDate(terms.RepaymentFrequency, *last)
		if err != nil {
			return models.Projection{}, err
		}
	}

	overdue := asOf.After(nextDue)
	overdueDays := 0
	if overdue {
		overdueDays = asOf.DaysSince(nextDue)
	}

	status := models.LoanStatusActive
	if !remaining.IsPositive() {
		status = models.LoanStatusCompleted
	}

	return models.Projection{
		TotalPaid:             totalPaid,
		RemainingAmount:       remaining,
		InstallmentsPaid:      installmentsPaid,
		InstallmentsRemaining: installmentsRemaining,
		LastPaymentDate:       last,
		NextDueDate:           nextDue,
		IsOverdue:             overdue,
		OverdueDays:           overdueDays,
		Status:                status,
	}, nil
}
