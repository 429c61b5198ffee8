package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/mcclellann/microloan/pkg/models"
)

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore and initializes the database.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", withPragmas(dataSourceName))
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	return s, nil
}

// newSQLiteStoreWithDB wraps an already opened handle without touching the schema.
func newSQLiteStoreWithDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// withPragmas enables foreign keys, WAL and a busy timeout on every pooled
// connection. A PRAGMA issued through db.Exec only reaches one of them.
func withPragmas(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
}

// initSchema creates the database tables if they don't already exist.
// We use TEXT for decimal fields in SQLite to ensure no precision is lost,
// and TEXT (YYYY-MM-DD) for calendar dates.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT NOT NULL,
		address TEXT NOT NULL DEFAULT '',
		id_proof_url TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		principal_amount TEXT NOT NULL,
		interest_amount TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		installment_amount TEXT NOT NULL,
		number_of_installments INTEGER NOT NULL,
		loan_duration_days INTEGER NOT NULL,
		repayment_frequency TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		FOREIGN KEY(customer_id) REFERENCES customers(id)
	);
	CREATE INDEX IF NOT EXISTS loans_customer_id ON loans(customer_id);
	CREATE TABLE IF NOT EXISTS payments (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		loan_id TEXT NOT NULL,
		paid_amount TEXT NOT NULL,
		payment_date TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE INDEX IF NOT EXISTS payments_loan_id ON payments(loan_id, payment_date);
	CREATE INDEX IF NOT EXISTS payments_payment_date ON payments(payment_date);
	`
	_, err := s.db.Exec(schema)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

// CreateCustomer inserts a new customer into the database.
func (s *SQLiteStore) CreateCustomer(ctx context.Context, c *models.Customer) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO customers (id, name, phone, address, id_proof_url, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID.String(), c.Name, c.Phone, c.Address, c.IDProofURL, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create customer: %w", err)
	}
	return nil
}

const customerColumns = `id, name, phone, address, id_proof_url, created_at`

func scanCustomer(row rowScanner) (*models.Customer, error) {
	var c models.Customer
	var idStr string
	if err := row.Scan(&idStr, &c.Name, &c.Phone, &c.Address, &c.IDProofURL, &c.CreatedAt); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid customer id %q: %w", idStr, err)
	}
	c.ID = id
	return &c, nil
}

// GetCustomer retrieves a customer by its ID.
func (s *SQLiteStore) GetCustomer(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = ?`, id.String())
	c, err := scanCustomer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCustomerNotFound
		}
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return c, nil
}

// ListCustomers retrieves a page of customers in creation order.
func (s *SQLiteStore) ListCustomers(ctx context.Context, offset, limit int) ([]*models.Customer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+customerColumns+` FROM customers ORDER BY created_at ASC, rowid ASC LIMIT ? OFFSET ?`,
		sqliteLimit(limit), offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	defer rows.Close()

	var customers []*models.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan customer row: %w", err)
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return customers, nil
}

// UpdateCustomer updates an existing customer in the database.
func (s *SQLiteStore) UpdateCustomer(ctx context.Context, c *models.Customer) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE customers SET name = ?, phone = ?, address = ?, id_proof_url = ? WHERE id = ?`,
		c.Name, c.Phone, c.Address, c.IDProofURL, c.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update customer: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrCustomerNotFound
	}
	return nil
}

// DeleteCustomer removes a customer with its loans and their payments within a transaction.
func (s *SQLiteStore) DeleteCustomer(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `DELETE FROM payments WHERE loan_id IN (SELECT id FROM loans WHERE customer_id = ?)`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete associated payments: %w", err)
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM loans WHERE customer_id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete associated loans: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM customers WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete customer: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrCustomerNotFound
	}

	return tx.Commit()
}

// CountCustomers returns the number of customers.
func (s *SQLiteStore) CountCustomers(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM customers`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count customers: %w", err)
	}
	return n, nil
}

// CreateLoan inserts a new loan into the database.
func (s *SQLiteStore) CreateLoan(ctx context.Context, loan *models.Loan) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO loans (id, customer_id, principal_amount, interest_amount, total_amount, installment_amount, number_of_installments, loan_duration_days, repayment_frequency, start_date, end_date, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		loan.ID.String(), loan.CustomerID.String(), loan.PrincipalAmount, loan.InterestAmount, loan.TotalAmount, loan.InstallmentAmount,
		loan.NumberOfInstallments, loan.DurationDays, string(loan.RepaymentFrequency), loan.StartDate.String(), loan.EndDate.String(), loan.Notes, loan.CreatedAt,
	)
	if err != nil {
		if isForeignKeyError(err) {
			return ErrCustomerNotFound
		}
		return fmt.Errorf("failed to create loan: %w", err)
	}
	return nil
}

const loanColumns = `id, customer_id, principal_amount, interest_amount, total_amount, installment_amount, number_of_installments, loan_duration_days, repayment_frequency, start_date, end_date, notes, created_at`

func scanLoan(row rowScanner) (*models.Loan, error) {
	var loan models.Loan
	var idStr, customerIDStr, frequency, start, end string
	err := row.Scan(&idStr, &customerIDStr, &loan.PrincipalAmount, &loan.InterestAmount, &loan.TotalAmount, &loan.InstallmentAmount,
		&loan.NumberOfInstallments, &loan.DurationDays, &frequency, &start, &end, &loan.Notes, &loan.CreatedAt)
	if err != nil {
		return nil, err
	}

	if loan.ID, err = uuid.Parse(idStr); err != nil {
		return nil, fmt.Errorf("invalid loan id %q: %w", idStr, err)
	}
	if loan.CustomerID, err = uuid.Parse(customerIDStr); err != nil {
		return nil, fmt.Errorf("invalid customer id %q: %w", customerIDStr, err)
	}
	if loan.StartDate, err = civil.ParseDate(start); err != nil {
		return nil, fmt.Errorf("invalid start date %q: %w", start, err)
	}
	if loan.EndDate, err = civil.ParseDate(end); err != nil {
		return nil, fmt.Errorf("invalid end date %q: %w", end, err)
	}
	loan.RepaymentFrequency = models.Frequency(frequency)
	return &loan, nil
}

func (s *SQLiteStore) queryLoans(ctx context.Context, query string, args ...any) ([]*models.Loan, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}
	return loans, nil
}

// GetLoan retrieves a loan by its ID.
func (s *SQLiteStore) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = ?`, id.String())
	loan, err := scanLoan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLoanNotFound
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return loan, nil
}

// ListLoans retrieves loans, newest first.
func (s *SQLiteStore) ListLoans(ctx context.Context, offset, limit int) ([]*models.Loan, error) {
	loans, err := s.queryLoans(ctx,
		`SELECT `+loanColumns+` FROM loans ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		sqliteLimit(limit), offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	return loans, nil
}

// ListLoansByCustomer retrieves every loan owned by a customer, oldest first.
func (s *SQLiteStore) ListLoansByCustomer(ctx context.Context, customerID uuid.UUID) ([]*models.Loan, error) {
	loans, err := s.queryLoans(ctx,
		`SELECT `+loanColumns+` FROM loans WHERE customer_id = ? ORDER BY created_at ASC, rowid ASC`,
		customerID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get loans for customer %s: %w", customerID, err)
	}
	return loans, nil
}

// AppendPayment inserts a new payment. The foreign key rejects unknown loans.
func (s *SQLiteStore) AppendPayment(ctx context.Context, p *models.Payment) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO payments (id, loan_id, paid_amount, payment_date, notes, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.LoanID.String(), p.PaidAmount, p.PaymentDate.String(), p.Notes, p.CreatedAt,
	)
	if err != nil {
		if isForeignKeyError(err) {
			return ErrLoanNotFound
		}
		return fmt.Errorf("failed to append payment: %w", err)
	}
	return nil
}

const paymentColumns = `id, loan_id, paid_amount, payment_date, notes, created_at`

func (s *SQLiteStore) queryPayments(ctx context.Context, query string, args ...any) ([]*models.Payment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		var p models.Payment
		var idStr, loanIDStr, date string
		if err := rows.Scan(&idStr, &loanIDStr, &p.PaidAmount, &date, &p.Notes, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment row: %w", err)
		}
		if p.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("invalid payment id %q: %w", idStr, err)
		}
		if p.LoanID, err = uuid.Parse(loanIDStr); err != nil {
			return nil, fmt.Errorf("invalid loan id %q: %w", loanIDStr, err)
		}
		if p.PaymentDate, err = civil.ParseDate(date); err != nil {
			return nil, fmt.Errorf("invalid payment date %q: %w", date, err)
		}
		payments = append(payments, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for payments: %w", err)
	}
	return payments, nil
}

// ListPaymentsByLoan retrieves the payment ledger of a loan.
func (s *SQLiteStore) ListPaymentsByLoan(ctx context.Context, loanID uuid.UUID) ([]*models.Payment, error) {
	payments, err := s.queryPayments(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE loan_id = ? ORDER BY payment_date ASC, seq ASC`,
		loanID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get payments for loan %s: %w", loanID, err)
	}
	return payments, nil
}

// ListPaymentsByDate retrieves every payment made on date, in insertion order.
func (s *SQLiteStore) ListPaymentsByDate(ctx context.Context, date civil.Date) ([]*models.Payment, error) {
	payments, err := s.queryPayments(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE payment_date = ? ORDER BY seq ASC`,
		date.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get payments on %s: %w", date, err)
	}
	return payments, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isForeignKeyError(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
}

// sqliteLimit maps "no limit" onto SQLite's LIMIT -1.
func sqliteLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

var _ Storage = (*SQLiteStore)(nil)

