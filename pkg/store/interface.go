package store

import (
	"context"
	"errors"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/mcclellann/microloan/pkg/models"
)

var (
	ErrCustomerNotFound = errors.New("customer not found")
	ErrLoanNotFound     = errors.New("loan not found")
)

// Storage defines the interface for database operations related to customers, loans and payments.
// Payments are append-only: there is no update or delete for a single payment.
type Storage interface {
	CreateCustomer(ctx context.Context, customer *models.Customer) error
	GetCustomer(ctx context.Context, id uuid.UUID) (*models.Customer, error)
	ListCustomers(ctx context.Context, offset, limit int) ([]*models.Customer, error)
	UpdateCustomer(ctx context.Context, customer *models.Customer) error
	DeleteCustomer(ctx context.Context, id uuid.UUID) error
	CountCustomers(ctx context.Context) (int, error)

	CreateLoan(ctx context.Context, loan *models.Loan) error
	GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	// ListLoans returns loans newest first. A limit <= 0 returns every loan from offset on.
	ListLoans(ctx context.Context, offset, limit int) ([]*models.Loan, error)
	ListLoansByCustomer(ctx context.Context, customerID uuid.UUID) ([]*models.Loan, error)

	// AppendPayment inserts a payment atomically; it fails with ErrLoanNotFound
	// if the loan does not exist.
	AppendPayment(ctx context.Context, payment *models.Payment) error
	// ListPaymentsByLoan returns payments ordered by payment date, then insertion order.
	ListPaymentsByLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Payment, error)
	ListPaymentsByDate(ctx context.Context, date civil.Date) ([]*models.Payment, error)

	Close() error
}
