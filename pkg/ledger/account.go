package ledger

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/mcclellann/microloan/pkg/models"
)

// LoanAccount pairs a loan with its payment ledger. It holds no derived state:
// every summary is projected from the loan terms and payments it was built with.
type LoanAccount struct {
	Loan     *models.Loan
	Payments []*models.Payment
}

// NewLoan validates terms, computes the schedule and assigns identity.
func NewLoan(customerID uuid.UUID, terms models.LoanTerms, notes string, now time.Time) (*models.Loan, error) {
	schedule, err := ComputeSchedule(terms)
	if err != nil {
		return nil, err
	}

	return &models.Loan{
		ID:          uuid.New(),
		CustomerID:  customerID,
		LoanTerms:   terms,
		TotalAmount: terms.Total(),
		Schedule:    schedule,
		Notes:       notes,
		CreatedAt:   now,
	}, nil
}

// Summarize projects the account as of asOf.
func (a LoanAccount) Summarize(asOf civil.Date) (models.Projection, error) {
	return Project(a.Loan.Schedule, a.Loan.LoanTerms, a.Payments, asOf)
}
