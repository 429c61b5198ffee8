package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/mcclellann/microloan/pkg/models"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore keeps customers, loans and payments in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and applies the embedded migrations.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{pool: pool}

	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

var retryDelays = []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 1 * time.Second}

// withRetry reruns fn on serialization failures and deadlocks only. A dropped
// connection may follow a committed INSERT, so it is returned as is.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i <= len(retryDelays); i++ {
		err = fn()
		if err == nil || !isRetryable(err) || i == len(retryDelays) {
			return err
		}

		timer := time.NewTimer(retryDelays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	return false
}

func isPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateCustomer(ctx context.Context, c *models.Customer) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO customers (id, name, phone, address, id_proof_url, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.Name, c.Phone, c.Address, c.IDProofURL, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create customer: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCustomer(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	var c models.Customer
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, phone, address, id_proof_url, created_at FROM customers WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.Phone, &c.Address, &c.IDProofURL, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCustomerNotFound
		}
		return nil, fmt.Errorf("get customer: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) ListCustomers(ctx context.Context, offset, limit int) ([]*models.Customer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, phone, address, id_proof_url, created_at
		 FROM customers
		 ORDER BY created_at, id
		 LIMIT $1 OFFSET $2`,
		pgLimit(limit), offset,
	)
	if err != nil {
		return nil, fmt.Errorf("select customers: %w", err)
	}
	defer rows.Close()

	var res []*models.Customer
	for rows.Next() {
		var c models.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.Address, &c.IDProofURL, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		res = append(res, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

func (s *PostgresStore) UpdateCustomer(ctx context.Context, c *models.Customer) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE customers SET name = $2, phone = $3, address = $4, id_proof_url = $5 WHERE id = $1`,
		c.ID, c.Name, c.Phone, c.Address, c.IDProofURL,
	)
	if err != nil {
		return fmt.Errorf("update customer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCustomerNotFound
	}
	return nil
}

// DeleteCustomer relies on ON DELETE CASCADE for loans and payments.
func (s *PostgresStore) DeleteCustomer(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM customers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete customer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCustomerNotFound
	}
	return nil
}

func (s *PostgresStore) CountCustomers(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM customers`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count customers: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) CreateLoan(ctx context.Context, loan *models.Loan) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO loans (id, customer_id, principal_amount, interest_amount, total_amount, installment_amount,
		                    number_of_installments, loan_duration_days, repayment_frequency, start_date, end_date, notes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		loan.ID, loan.CustomerID, loan.PrincipalAmount, loan.InterestAmount, loan.TotalAmount, loan.InstallmentAmount,
		loan.NumberOfInstallments, loan.DurationDays, string(loan.RepaymentFrequency),
		loan.StartDate.In(time.UTC), loan.EndDate.In(time.UTC), loan.Notes, loan.CreatedAt,
	)
	if err != nil {
		if isPgCode(err, pgerrcode.ForeignKeyViolation) {
			return ErrCustomerNotFound
		}
		return fmt.Errorf("create loan: %w", err)
	}
	return nil
}

const pgLoanColumns = `id, customer_id, principal_amount, interest_amount, total_amount, installment_amount,
	number_of_installments, loan_duration_days, repayment_frequency, start_date, end_date, notes, created_at`

func scanPgLoan(row pgx.Row) (*models.Loan, error) {
	var (
		loan       models.Loan
		frequency  string
		start, end time.Time
	)
	err := row.Scan(&loan.ID, &loan.CustomerID, &loan.PrincipalAmount, &loan.InterestAmount, &loan.TotalAmount, &loan.InstallmentAmount,
		&loan.NumberOfInstallments, &loan.DurationDays, &frequency, &start, &end, &loan.Notes, &loan.CreatedAt)
	if err != nil {
		return nil, err
	}
	loan.RepaymentFrequency = models.Frequency(frequency)
	loan.StartDate = civil.DateOf(start)
	loan.EndDate = civil.DateOf(end)
	return &loan, nil
}

func (s *PostgresStore) queryLoans(ctx context.Context, query string, args ...any) ([]*models.Loan, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*models.Loan
	for rows.Next() {
		loan, err := scanPgLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan loan: %w", err)
		}
		res = append(res, loan)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

func (s *PostgresStore) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	loan, err := scanPgLoan(s.pool.QueryRow(ctx, `SELECT `+pgLoanColumns+` FROM loans WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLoanNotFound
		}
		return nil, fmt.Errorf("get loan: %w", err)
	}
	return loan, nil
}

func (s *PostgresStore) ListLoans(ctx context.Context, offset, limit int) ([]*models.Loan, error) {
	loans, err := s.queryLoans(ctx,
		`SELECT `+pgLoanColumns+` FROM loans ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`,
		pgLimit(limit), offset,
	)
	if err != nil {
		return nil, fmt.Errorf("select loans: %w", err)
	}
	return loans, nil
}

func (s *PostgresStore) ListLoansByCustomer(ctx context.Context, customerID uuid.UUID) ([]*models.Loan, error) {
	loans, err := s.queryLoans(ctx,
		`SELECT `+pgLoanColumns+` FROM loans WHERE customer_id = $1 ORDER BY created_at, id`,
		customerID,
	)
	if err != nil {
		return nil, fmt.Errorf("select customer loans: %w", err)
	}
	return loans, nil
}

// AppendPayment is a single INSERT; the loan foreign key makes it fail for unknown loans.
func (s *PostgresStore) AppendPayment(ctx context.Context, p *models.Payment) error {
	err := withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO payments (id, loan_id, paid_amount, payment_date, notes, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
			p.ID, p.LoanID, p.PaidAmount, p.PaymentDate.In(time.UTC), p.Notes, p.CreatedAt,
		)
		return err
	})
	if err != nil {
		if isPgCode(err, pgerrcode.ForeignKeyViolation) {
			return ErrLoanNotFound
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (s *PostgresStore) queryPayments(ctx context.Context, query string, args ...any) ([]*models.Payment, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*models.Payment
	for rows.Next() {
		var (
			p    models.Payment
			date time.Time
		)
		if err := rows.Scan(&p.ID, &p.LoanID, &p.PaidAmount, &date, &p.Notes, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		p.PaymentDate = civil.DateOf(date)
		res = append(res, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

func (s *PostgresStore) ListPaymentsByLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Payment, error) {
	payments, err := s.queryPayments(ctx,
		`SELECT id, loan_id, paid_amount, payment_date, notes, created_at
		 FROM payments
		 WHERE loan_id = $1
		 ORDER BY payment_date, seq`,
		loanID,
	)
	if err != nil {
		return nil, fmt.Errorf("select loan payments: %w", err)
	}
	return payments, nil
}

func (s *PostgresStore) ListPaymentsByDate(ctx context.Context, date civil.Date) ([]*models.Payment, error) {
	payments, err := s.queryPayments(ctx,
		`SELECT id, loan_id, paid_amount, payment_date, notes, created_at
		 FROM payments
		 WHERE payment_date = $1
		 ORDER BY seq`,
		date.In(time.UTC),
	)
	if err != nil {
		return nil, fmt.Errorf("select payments by date: %w", err)
	}
	return payments, nil
}

// pgLimit maps "no limit" onto LIMIT NULL.
func pgLimit(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}

var _ Storage = (*PostgresStore)(nil)
