package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mcclellann/microloan/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URI")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URI not set")
	}

	s, err := NewPostgresStore(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = s.pool.Exec(context.Background(), `TRUNCATE customers CASCADE`)
		s.Close()
	})
	return s
}

func TestPostgresStore_LedgerRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestPostgresStore(t)

	c := seedCustomer(t, s, "Asha")
	loan := seedLoan(t, s, c.ID, time.Now().UTC())

	fetched, err := s.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, loan.StartDate, fetched.StartDate)
	assert.True(t, fetched.TotalAmount.Equal(loan.TotalAmount))

	day := civil.Date{Year: 2024, Month: time.January, Day: 2}
	for _, amt := range []string{"40", "60"} {
		require.NoError(t, s.AppendPayment(ctx, &models.Payment{
			ID:          uuid.New(),
			LoanID:      loan.ID,
			PaidAmount:  decimal.RequireFromString(amt),
			PaymentDate: day,
			CreatedAt:   time.Now().UTC(),
		}))
	}

	payments, err := s.ListPaymentsByLoan(ctx, loan.ID)
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.True(t, payments[0].PaidAmount.Equal(decimal.RequireFromString("40")))
	assert.Equal(t, day, payments[1].PaymentDate)

	err = s.AppendPayment(ctx, &models.Payment{
		ID:          uuid.New(),
		LoanID:      uuid.New(),
		PaidAmount:  decimal.NewFromInt(1),
		PaymentDate: day,
		CreatedAt:   time.Now().UTC(),
	})
	assert.ErrorIs(t, err, ErrLoanNotFound)

	require.NoError(t, s.DeleteCustomer(ctx, c.ID))
	_, err = s.GetLoan(ctx, loan.ID)
	assert.ErrorIs(t, err, ErrLoanNotFound)
}

func TestWithRetry(t *testing.T) {
	tests := []struct {
		name      string
		errs      []error
		wantCalls int
		wantErr   bool
	}{
		{
			name:      "success first try",
			errs:      []error{nil},
			wantCalls: 1,
		},
		{
			name:      "serialization failure then success",
			errs:      []error{&pgconn.PgError{Code: pgerrcode.SerializationFailure}, nil},
			wantCalls: 2,
		},
		{
			name:      "foreign key violation is not retried",
			errs:      []error{&pgconn.PgError{Code: pgerrcode.ForeignKeyViolation}},
			wantCalls: 1,
			wantErr:   true,
		},
		{
			name:      "connection reset is not retried",
			errs:      []error{errors.New("write tcp 10.0.0.2:5432: connection reset by peer"), nil},
			wantCalls: 1,
			wantErr:   true,
		},
		{
			name:      "broken pipe is not retried",
			errs:      []error{errors.New("write: broken pipe"), nil},
			wantCalls: 1,
			wantErr:   true,
		},
		{
			name:      "plain error is not retried",
			errs:      []error{errors.New("boom")},
			wantCalls: 1,
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := withRetry(context.Background(), func() error {
				e := tt.errs[calls]
				calls++
				return e
			})
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWithRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := withRetry(ctx, func() error {
		calls++
		return &pgconn.PgError{Code: pgerrcode.DeadlockDetected}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestPgLimit(t *testing.T) {
	assert.Nil(t, pgLimit(0))
	assert.Nil(t, pgLimit(-3))
	require.NotNil(t, pgLimit(25))
	assert.Equal(t, 25, *pgLimit(25))
}
