package models

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Customer struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Phone      string    `json:"phone"`
	Address    string    `json:"address"`
	IDProofURL string    `json:"id_proof_url"`
	CreatedAt  time.Time `json:"created_at"`
}

// Frequency is the repayment cadence of a loan.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// Valid reports whether f is one of the supported cadences.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return true
	}
	return false
}

// LoanStatus is always derived from the payment ledger, never stored.
type LoanStatus string

const (
	LoanStatusActive    LoanStatus = "active"
	LoanStatusCompleted LoanStatus = "completed"
)

// LoanTerms are fixed when the loan is issued.
type LoanTerms struct {
	PrincipalAmount    decimal.Decimal `json:"principal_amount"`
	InterestAmount     decimal.Decimal `json:"interest_amount"`
	InstallmentAmount  decimal.Decimal `json:"installment_amount"` // Caller-supplied, not derived
	RepaymentFrequency Frequency       `json:"repayment_frequency"`
	StartDate          civil.Date      `json:"start_date"`
}

// Total is principal plus the flat interest charged at issue.
func (t LoanTerms) Total() decimal.Decimal {
	return t.PrincipalAmount.Add(t.InterestAmount)
}

// Schedule is derived from LoanTerms once, at creation.
type Schedule struct {
	NumberOfInstallments int        `json:"number_of_installments"`
	DurationDays         int        `json:"loan_duration_days"`
	EndDate              civil.Date `json:"end_date"`
}

type Loan struct {
	ID         uuid.UUID `json:"id"`
	CustomerID uuid.UUID `json:"customer_id"`
	LoanTerms
	TotalAmount decimal.Decimal `json:"total_amount"`
	Schedule
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Payment is an append-only ledger fact.
type Payment struct {
	ID          uuid.UUID       `json:"id"`
	LoanID      uuid.UUID       `json:"loan_id"`
	PaidAmount  decimal.Decimal `json:"paid_amount"`
	PaymentDate civil.Date      `json:"payment_date"`
	Notes       string          `json:"notes,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Projection is the point-in-time view of a loan. It is recomputed on every read.
type Projection struct {
	TotalPaid             decimal.Decimal `json:"total_paid"`
	RemainingAmount       decimal.Decimal `json:"remaining_amount"`
	InstallmentsPaid      int             `json:"installments_paid"`
	InstallmentsRemaining int             `json:"installments_remaining"`
	LastPaymentDate       *civil.Date     `json:"last_payment_date"`
	NextDueDate           civil.Date      `json:"next_due_date"`
	IsOverdue             bool            `json:"is_overdue"`
	OverdueDays           int             `json:"overdue_days"`
	Status                LoanStatus      `json:"status"`
}

type LoanSummary struct {
	LoanID      uuid.UUID       `json:"loan_id"`
	AsOf        civil.Date      `json:"as_of"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Projection
}

// LedgerEntry is one loan in a customer's ledger: terms, projection and payment history.
type LedgerEntry struct {
	Loan       *Loan      `json:"loan"`
	Projection Projection `json:"projection"`
	Payments   []*Payment `json:"payments"`
}

type CustomerLedger struct {
	CustomerID    uuid.UUID     `json:"customer_id"`
	CustomerName  string        `json:"customer_name"`
	CustomerPhone string        `json:"customer_phone"`
	AsOf          civil.Date    `json:"as_of"`
	Ledger        []LedgerEntry `json:"ledger"`
}

type Dashboard struct {
	AsOf            civil.Date      `json:"as_of"`
	TotalCustomers  int             `json:"total_customers"`
	TotalLoans      int             `json:"total_loans"`
	ActiveLoans     int             `json:"active_loans"`
	TotalIssued     decimal.Decimal `json:"total_issued"`
	TotalCollected  decimal.Decimal `json:"total_collected"`
	PendingAmount   decimal.Decimal `json:"pending_amount"`
	DueToday        int             `json:"due_today"`
	OverdueLoans    int             `json:"overdue_loans"`
	TodayCollection decimal.Decimal `json:"today_collection"`
}

type Collection struct {
	PaymentID         uuid.UUID       `json:"payment_id"`
	CustomerName      string          `json:"customer_name"`
	CustomerPhone     string          `json:"customer_phone"`
	LoanID            uuid.UUID       `json:"loan_id"`
	InstallmentAmount decimal.Decimal `json:"installment_amount"`
	PaidAmount        decimal.Decimal `json:"paid_amount"`
	PaymentDate       civil.Date      `json:"payment_date"`
	Notes             string          `json:"notes,omitempty"`
}

type CollectionReport struct {
	Date             civil.Date   `json:"date"`
	TotalCollections int          `json:"total_collections"`
	Payments         []Collection `json:"payments"`
}
