package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/mcclellann/microloan/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedCustomer(t *testing.T, s Storage, name string) *models.Customer {
	t.Helper()
	c := &models.Customer{
		ID:        uuid.New(),
		Name:      name,
		Phone:     "9876543210",
		Address:   "12 Market Road",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.CreateCustomer(context.Background(), c))
	return c
}

func seedLoan(t *testing.T, s Storage, customerID uuid.UUID, createdAt time.Time) *models.Loan {
	t.Helper()
	loan := &models.Loan{
		ID:         uuid.New(),
		CustomerID: customerID,
		LoanTerms: models.LoanTerms{
			PrincipalAmount:    decimal.RequireFromString("1000"),
			InterestAmount:     decimal.RequireFromString("200"),
			InstallmentAmount:  decimal.RequireFromString("100"),
			RepaymentFrequency: models.FrequencyDaily,
			StartDate:          civil.Date{Year: 2024, Month: time.January, Day: 1},
		},
		TotalAmount: decimal.RequireFromString("1200"),
		Schedule: models.Schedule{
			NumberOfInstallments: 12,
			DurationDays:         12,
			EndDate:              civil.Date{Year: 2024, Month: time.January, Day: 13},
		},
		CreatedAt: createdAt,
	}
	require.NoError(t, s.CreateLoan(context.Background(), loan))
	return loan
}

func TestSQLiteStore_CustomerCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	c := seedCustomer(t, s, "Asha")

	fetched, err := s.GetCustomer(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Asha", fetched.Name)
	assert.Equal(t, "12 Market Road", fetched.Address)

	fetched.Name = "Asha K"
	require.NoError(t, s.UpdateCustomer(ctx, fetched))

	fetched, err = s.GetCustomer(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Asha K", fetched.Name)

	seedCustomer(t, s, "Ravi")

	n, err := s.CountCustomers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	page, err := s.ListCustomers(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "Ravi", page[0].Name)

	_, err = s.GetCustomer(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrCustomerNotFound)

	err = s.UpdateCustomer(ctx, &models.Customer{ID: uuid.New(), Name: "ghost"})
	assert.ErrorIs(t, err, ErrCustomerNotFound)
}

func TestSQLiteStore_CreateAndGetLoan(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	c := seedCustomer(t, s, "Asha")
	loan := seedLoan(t, s, c.ID, time.Now().UTC())

	fetched, err := s.GetLoan(ctx, loan.ID)
	require.NoError(t, err)

	assert.Equal(t, loan.CustomerID, fetched.CustomerID)
	assert.True(t, fetched.PrincipalAmount.Equal(loan.PrincipalAmount), "principal %s", fetched.PrincipalAmount)
	assert.True(t, fetched.TotalAmount.Equal(loan.TotalAmount), "total %s", fetched.TotalAmount)
	assert.Equal(t, models.FrequencyDaily, fetched.RepaymentFrequency)
	assert.Equal(t, loan.StartDate, fetched.StartDate)
	assert.Equal(t, loan.EndDate, fetched.EndDate)
	assert.Equal(t, 12, fetched.NumberOfInstallments)

	_, err = s.GetLoan(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrLoanNotFound)
}

func TestSQLiteStore_CreateLoanUnknownCustomer(t *testing.T) {
	s := newTestSQLiteStore(t)

	loan := &models.Loan{ID: uuid.New(), CustomerID: uuid.New(), CreatedAt: time.Now()}
	err := s.CreateLoan(context.Background(), loan)
	assert.ErrorIs(t, err, ErrCustomerNotFound)
}

func TestSQLiteStore_ListLoansNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	c := seedCustomer(t, s, "Asha")
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	older := seedLoan(t, s, c.ID, base)
	newer := seedLoan(t, s, c.ID, base.Add(time.Hour))

	loans, err := s.ListLoans(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, loans, 2)
	assert.Equal(t, newer.ID, loans[0].ID)
	assert.Equal(t, older.ID, loans[1].ID)

	byCustomer, err := s.ListLoansByCustomer(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, byCustomer, 2)
	assert.Equal(t, older.ID, byCustomer[0].ID)
}

func TestSQLiteStore_PaymentLedger(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	c := seedCustomer(t, s, "Asha")
	loan := seedLoan(t, s, c.ID, time.Now().UTC())

	jan2 := civil.Date{Year: 2024, Month: time.January, Day: 2}
	jan1 := civil.Date{Year: 2024, Month: time.January, Day: 1}

	// Inserted out of date order; two payments share Jan 2.
	inserts := []struct {
		amount string
		date   civil.Date
		notes  string
	}{
		{"40", jan2, "first on jan 2"},
		{"50", jan1, "jan 1"},
		{"10", jan2, "second on jan 2"},
	}
	for _, in := range inserts {
		err := s.AppendPayment(ctx, &models.Payment{
			ID:          uuid.New(),
			LoanID:      loan.ID,
			PaidAmount:  decimal.RequireFromString(in.amount),
			PaymentDate: in.date,
			Notes:       in.notes,
			CreatedAt:   time.Now().UTC(),
		})
		require.NoError(t, err)
	}

	payments, err := s.ListPaymentsByLoan(ctx, loan.ID)
	require.NoError(t, err)
	require.Len(t, payments, 3)
	assert.Equal(t, "jan 1", payments[0].Notes)
	assert.Equal(t, "first on jan 2", payments[1].Notes)
	assert.Equal(t, "second on jan 2", payments[2].Notes)
	assert.True(t, payments[1].PaidAmount.Equal(decimal.RequireFromString("40")))

	onJan2, err := s.ListPaymentsByDate(ctx, jan2)
	require.NoError(t, err)
	assert.Len(t, onJan2, 2)
}

func TestSQLiteStore_AppendPaymentUnknownLoan(t *testing.T) {
	s := newTestSQLiteStore(t)

	err := s.AppendPayment(context.Background(), &models.Payment{
		ID:          uuid.New(),
		LoanID:      uuid.New(),
		PaidAmount:  decimal.NewFromInt(10),
		PaymentDate: civil.Date{Year: 2024, Month: time.January, Day: 1},
		CreatedAt:   time.Now(),
	})
	assert.ErrorIs(t, err, ErrLoanNotFound)
}

func TestSQLiteStore_DeleteCustomerCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	c := seedCustomer(t, s, "Asha")
	loan := seedLoan(t, s, c.ID, time.Now().UTC())
	require.NoError(t, s.AppendPayment(ctx, &models.Payment{
		ID:          uuid.New(),
		LoanID:      loan.ID,
		PaidAmount:  decimal.NewFromInt(100),
		PaymentDate: civil.Date{Year: 2024, Month: time.January, Day: 1},
		CreatedAt:   time.Now(),
	}))

	require.NoError(t, s.DeleteCustomer(ctx, c.ID))

	_, err := s.GetLoan(ctx, loan.ID)
	assert.ErrorIs(t, err, ErrLoanNotFound)

	payments, err := s.ListPaymentsByLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Empty(t, payments)

	assert.ErrorIs(t, s.DeleteCustomer(ctx, c.ID), ErrCustomerNotFound)
}

func TestSQLiteStore_DeleteCustomerRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := newSQLiteStoreWithDB(db)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM payments").WithArgs(id.String()).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM loans").WithArgs(id.String()).WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err = s.DeleteCustomer(context.Background(), id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "associated loans")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_QueryErrorsAreWrapped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := newSQLiteStoreWithDB(db)
	loanID := uuid.New()
	boom := errors.New("database is locked")

	mock.ExpectQuery("SELECT (.+) FROM loans WHERE id = ?").WithArgs(loanID.String()).WillReturnError(boom)
	_, err = s.GetLoan(context.Background(), loanID)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrLoanNotFound)

	mock.ExpectQuery("SELECT (.+) FROM payments WHERE loan_id = ?").WithArgs(loanID.String()).WillReturnError(boom)
	_, err = s.ListPaymentsByLoan(context.Background(), loanID)
	assert.ErrorIs(t, err, boom)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStore_ScanRejectsMalformedDate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := newSQLiteStoreWithDB(db)
	loanID := uuid.New()

	rows := sqlmock.NewRows([]string{"id", "loan_id", "paid_amount", "payment_date", "notes", "created_at"}).
		AddRow(uuid.NewString(), loanID.String(), "100", "not-a-date", "", time.Now())
	mock.ExpectQuery("FROM payments").WillReturnRows(rows)

	_, err = s.ListPaymentsByLoan(context.Background(), loanID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid payment date")
}
