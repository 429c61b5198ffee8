package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/mcclellann/microloan/pkg/models"
	"github.com/mcclellann/microloan/pkg/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 500
)

// SummaryCache holds computed loan summaries. It is never authoritative.
// Invalidate advances a per-loan generation, and Put only stores a summary
// whose generation is still current.
type SummaryCache interface {
	Get(ctx context.Context, loanID uuid.UUID, asOf civil.Date) (*models.LoanSummary, bool, error)
	Generation(ctx context.Context, loanID uuid.UUID) (int64, error)
	Put(ctx context.Context, summary *models.LoanSummary, gen int64) (bool, error)
	Invalidate(ctx context.Context, loanID uuid.UUID) error
}

// Ledger handles the business logic for customers, loans and payments.
// Every derived figure is recomputed from stored loans and payments.
type Ledger struct {
	storage store.Storage
	clock   Clock
	cache   SummaryCache
	logger  *zap.Logger
}

type Option func(*Ledger)

// WithSummaryCache enables summary caching.
func WithSummaryCache(c SummaryCache) Option {
	return func(l *Ledger) { l.cache = c }
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, clock Clock, logger *zap.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		storage: s,
		clock:   clock,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Today is the default as-of date.
func (l *Ledger) Today() civil.Date {
	return l.clock.Today()
}

// NormalizePage applies the default and maximum page size.
func NormalizePage(skip, limit int) (int, int) {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return skip, limit
}

// CustomerUpdate carries the fields of a partial customer update; nil fields are left unchanged.
type CustomerUpdate struct {
	Name       *string
	Phone      *string
	Address    *string
	IDProofURL *string
}

func (l *Ledger) CreateCustomer(ctx context.Context, name, phone, address, idProofURL string) (*models.Customer, error) {
	c := &models.Customer{
		ID:         uuid.New(),
		Name:       name,
		Phone:      phone,
		Address:    address,
		IDProofURL: idProofURL,
		CreatedAt:  l.clock.Now(),
	}
	if err := l.storage.CreateCustomer(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to store customer: %w", err)
	}
	return c, nil
}

func (l *Ledger) GetCustomer(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	return l.storage.GetCustomer(ctx, id)
}

func (l *Ledger) ListCustomers(ctx context.Context, skip, limit int) ([]*models.Customer, error) {
	skip, limit = NormalizePage(skip, limit)
	return l.storage.ListCustomers(ctx, skip, limit)
}

func (l *Ledger) UpdateCustomer(ctx context.Context, id uuid.UUID, u CustomerUpdate) (*models.Customer, error) {
	c, err := l.storage.GetCustomer(ctx, id)
	if err != nil {
		return nil, err
	}

	if u.Name != nil {
		c.Name = *u.Name
	}
	if u.Phone != nil {
		c.Phone = *u.Phone
	}
	if u.Address != nil {
		c.Address = *u.Address
	}
	if u.IDProofURL != nil {
		c.IDProofURL = *u.IDProofURL
	}

	if err := l.storage.UpdateCustomer(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// DeleteCustomer removes the customer, its loans and their payments.
func (l *Ledger) DeleteCustomer(ctx context.Context, id uuid.UUID) error {
	loans, err := l.storage.ListLoansByCustomer(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to list customer loans: %w", err)
	}

	if err := l.storage.DeleteCustomer(ctx, id); err != nil {
		return err
	}

	for _, loan := range loans {
		l.invalidate(ctx, loan.ID)
	}
	return nil
}

// CreateLoan issues a loan to an existing customer.
func (l *Ledger) CreateLoan(ctx context.Context, customerID uuid.UUID, terms models.LoanTerms, notes string) (*models.Loan, error) {
	if _, err := l.storage.GetCustomer(ctx, customerID); err != nil {
		return nil, err
	}

	loan, err := NewLoan(customerID, terms, notes, l.clock.Now())
	if err != nil {
		return nil, err
	}

	if err := l.storage.CreateLoan(ctx, loan); err != nil {
		if errors.Is(err, store.ErrCustomerNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to store loan: %w", err)
	}

	l.logger.Info("loan issued",
		zap.String("loanID", loan.ID.String()),
		zap.String("customerID", customerID.String()),
		zap.String("total", loan.TotalAmount.String()),
		zap.Int("installments", loan.NumberOfInstallments),
	)
	return loan, nil
}

// GetLoan retrieves a loan by its ID.
func (l *Ledger) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	return l.storage.GetLoan(ctx, id)
}

// ListLoans retrieves a page of loans, newest first.
func (l *Ledger) ListLoans(ctx context.Context, skip, limit int) ([]*models.Loan, error) {
	skip, limit = NormalizePage(skip, limit)
	return l.storage.ListLoans(ctx, skip, limit)
}

// RecordPayment appends a payment to a loan's ledger. Nothing else is written:
// balances and status are derived on read.
func (l *Ledger) RecordPayment(ctx context.Context, loanID uuid.UUID, amount decimal.Decimal, date civil.Date, notes string) (*models.Payment, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount %s must be positive", ErrInvalidPayment, amount)
	}
	if !date.IsValid() {
		return nil, fmt.Errorf("%w: payment date is required", ErrInvalidPayment)
	}

	// A stale summary must not outlive the append, so a failed drop aborts it.
	if l.cache != nil {
		if err := l.cache.Invalidate(ctx, loanID); err != nil {
			return nil, fmt.Errorf("failed to invalidate summary cache: %w", err)
		}
	}

	p := &models.Payment{
		ID:          uuid.New(),
		LoanID:      loanID,
		PaidAmount:  amount,
		PaymentDate: date,
		Notes:       notes,
		CreatedAt:   l.clock.Now(),
	}
	if err := l.storage.AppendPayment(ctx, p); err != nil {
		if errors.Is(err, store.ErrLoanNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to store payment: %w", err)
	}

	// Fences off readers that loaded the ledger before the append.
	l.invalidate(ctx, loanID)

	l.logger.Info("payment recorded",
		zap.String("loanID", loanID.String()),
		zap.String("amount", amount.String()),
		zap.String("date", date.String()),
	)
	return p, nil
}

func (l *Ledger) invalidate(ctx context.Context, loanID uuid.UUID) {
	if l.cache == nil {
		return
	}
	if err := l.cache.Invalidate(ctx, loanID); err != nil {
		l.logger.Warn("summary cache invalidation failed", zap.String("loanID", loanID.String()), zap.Error(err))
	}
}

// ListPayments returns the payment ledger of a loan.
func (l *Ledger) ListPayments(ctx context.Context, loanID uuid.UUID) ([]*models.Payment, error) {
	if _, err := l.storage.GetLoan(ctx, loanID); err != nil {
		return nil, err
	}
	return l.storage.ListPaymentsByLoan(ctx, loanID)
}

func (l *Ledger) account(ctx context.Context, loan *models.Loan) (LoanAccount, error) {
	payments, err := l.storage.ListPaymentsByLoan(ctx, loan.ID)
	if err != nil {
		return LoanAccount{}, fmt.Errorf("failed to load payments for loan %s: %w", loan.ID, err)
	}
	return LoanAccount{Loan: loan, Payments: payments}, nil
}

func summaryOf(loan *models.Loan, p models.Projection, asOf civil.Date) *models.LoanSummary {
	return &models.LoanSummary{
		LoanID:      loan.ID,
		AsOf:        asOf,
		TotalAmount: loan.TotalAmount,
		Projection:  p,
	}
}

// LoanSummary projects one loan as of asOf, using the cache when one is configured.
// The cache generation is read before the ledger so a summary computed from
// payments that were appended to meanwhile is not stored.
func (l *Ledger) LoanSummary(ctx context.Context, loanID uuid.UUID, asOf civil.Date) (*models.LoanSummary, error) {
	var (
		gen       int64
		cacheable bool
	)
	if l.cache != nil {
		s, ok, err := l.cache.Get(ctx, loanID, asOf)
		if err != nil {
			l.logger.Warn("summary cache read failed", zap.String("loanID", loanID.String()), zap.Error(err))
		} else if ok {
			return s, nil
		}

		gen, err = l.cache.Generation(ctx, loanID)
		if err != nil {
			l.logger.Warn("summary cache generation read failed", zap.String("loanID", loanID.String()), zap.Error(err))
		} else {
			cacheable = true
		}
	}

	loan, err := l.storage.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}

	acct, err := l.account(ctx, loan)
	if err != nil {
		return nil, err
	}

	p, err := acct.Summarize(asOf)
	if err != nil {
		return nil, err
	}

	s := summaryOf(loan, p, asOf)
	if cacheable {
		stored, err := l.cache.Put(ctx, s, gen)
		switch {
		case err != nil:
			l.logger.Warn("summary cache write failed", zap.String("loanID", loanID.String()), zap.Error(err))
		case !stored:
			l.logger.Debug("summary cache write skipped, ledger changed", zap.String("loanID", loanID.String()))
		}
	}
	return s, nil
}

// CustomerLoans summarizes every loan of a customer as of asOf.
func (l *Ledger) CustomerLoans(ctx context.Context, customerID uuid.UUID, asOf civil.Date) ([]*models.LoanSummary, error) {
	if _, err := l.storage.GetCustomer(ctx, customerID); err != nil {
		return nil, err
	}

	loans, err := l.storage.ListLoansByCustomer(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list customer loans: %w", err)
	}

	res := make([]*models.LoanSummary, 0, len(loans))
	for _, loan := range loans {
		acct, err := l.account(ctx, loan)
		if err != nil {
			return nil, err
		}
		p, err := acct.Summarize(asOf)
		if err != nil {
			return nil, err
		}
		res = append(res, summaryOf(loan, p, asOf))
	}
	return res, nil
}

// CustomerLedger returns each loan of a customer with its projection and payment history.
func (l *Ledger) CustomerLedger(ctx context.Context, customerID uuid.UUID, asOf civil.Date) (*models.CustomerLedger, error) {
	c, err := l.storage.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}

	loans, err := l.storage.ListLoansByCustomer(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list customer loans: %w", err)
	}

	res := &models.CustomerLedger{
		CustomerID:    c.ID,
		CustomerName:  c.Name,
		CustomerPhone: c.Phone,
		AsOf:          asOf,
		Ledger:        make([]models.LedgerEntry, 0, len(loans)),
	}
	for _, loan := range loans {
		acct, err := l.account(ctx, loan)
		if err != nil {
			return nil, err
		}
		p, err := acct.Summarize(asOf)
		if err != nil {
			return nil, err
		}
		payments := acct.Payments
		if payments == nil {
			payments = []*models.Payment{}
		}
		res.Ledger = append(res.Ledger, models.LedgerEntry{Loan: loan, Projection: p, Payments: payments})
	}
	return res, nil
}

// OverdueLoan is an active loan whose next installment is past due.
type OverdueLoan struct {
	LoanID      uuid.UUID
	CustomerID  uuid.UUID
	NextDueDate civil.Date
	OverdueDays int
	Remaining   decimal.Decimal
}

// portfolio projects every loan as of asOf.
func (l *Ledger) portfolio(ctx context.Context, asOf civil.Date) ([]*models.Loan, []models.Projection, error) {
	loans, err := l.storage.ListLoans(ctx, 0, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list loans: %w", err)
	}

	projections := make([]models.Projection, len(loans))
	for i, loan := range loans {
		acct, err := l.account(ctx, loan)
		if err != nil {
			return nil, nil, err
		}
		if projections[i], err = acct.Summarize(asOf); err != nil {
			return nil, nil, fmt.Errorf("loan %s: %w", loan.ID, err)
		}
	}
	return loans, projections, nil
}

// Dashboard aggregates the whole portfolio as of asOf.
func (l *Ledger) Dashboard(ctx context.Context, asOf civil.Date) (*models.Dashboard, error) {
	customers, err := l.storage.CountCustomers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count customers: %w", err)
	}

	loans, projections, err := l.portfolio(ctx, asOf)
	if err != nil {
		return nil, err
	}

	d := &models.Dashboard{
		AsOf:            asOf,
		TotalCustomers:  customers,
		TotalLoans:      len(loans),
		TotalIssued:     decimal.Zero,
		TotalCollected:  decimal.Zero,
		TodayCollection: decimal.Zero,
	}

	for i, loan := range loans {
		p := projections[i]
		d.TotalIssued = d.TotalIssued.Add(loan.TotalAmount)
		d.TotalCollected = d.TotalCollected.Add(p.TotalPaid)

		if p.Status != models.LoanStatusActive {
			continue
		}
		d.ActiveLoans++
		if p.NextDueDate == asOf {
			d.DueToday++
		}
		if p.IsOverdue {
			d.OverdueLoans++
		}
	}
	d.PendingAmount = d.TotalIssued.Sub(d.TotalCollected)

	today, err := l.storage.ListPaymentsByDate(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments on %s: %w", asOf, err)
	}
	for _, p := range today {
		d.TodayCollection = d.TodayCollection.Add(p.PaidAmount)
	}

	return d, nil
}

// TodayCollection lists the payments dated date with their customer and loan.
func (l *Ledger) TodayCollection(ctx context.Context, date civil.Date) (*models.CollectionReport, error) {
	payments, err := l.storage.ListPaymentsByDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments on %s: %w", date, err)
	}

	loans := make(map[uuid.UUID]*models.Loan)
	customers := make(map[uuid.UUID]*models.Customer)

	report := &models.CollectionReport{
		Date:     date,
		Payments: make([]models.Collection, 0, len(payments)),
	}
	for _, p := range payments {
		loan, ok := loans[p.LoanID]
		if !ok {
			if loan, err = l.storage.GetLoan(ctx, p.LoanID); err != nil {
				return nil, fmt.Errorf("failed to load loan %s: %w", p.LoanID, err)
			}
			loans[p.LoanID] = loan
		}

		c, ok := customers[loan.CustomerID]
		if !ok {
			if c, err = l.storage.GetCustomer(ctx, loan.CustomerID); err != nil {
				return nil, fmt.Errorf("failed to load customer %s: %w", loan.CustomerID, err)
			}
			customers[loan.CustomerID] = c
		}

		report.Payments = append(report.Payments, models.Collection{
			PaymentID:         p.ID,
			CustomerName:      c.Name,
			CustomerPhone:     c.Phone,
			LoanID:            loan.ID,
			InstallmentAmount: loan.InstallmentAmount,
			PaidAmount:        p.PaidAmount,
			PaymentDate:       p.PaymentDate,
			Notes:             p.Notes,
		})
	}
	report.TotalCollections = len(report.Payments)
	return report, nil
}

// OverdueLoans returns the active loans that are past due as of asOf.
func (l *Ledger) OverdueLoans(ctx context.Context, asOf civil.Date) ([]OverdueLoan, error) {
	loans, projections, err := l.portfolio(ctx, asOf)
	if err != nil {
		return nil, err
	}

	var res []OverdueLoan
	for i, loan := range loans {
		p := projections[i]
		if p.Status != models.LoanStatusActive || !p.IsOverdue {
			continue
		}
		res = append(res, OverdueLoan{
			LoanID:      loan.ID,
			CustomerID:  loan.CustomerID,
			NextDueDate: p.NextDueDate,
			OverdueDays: p.OverdueDays,
			Remaining:   p.RemainingAmount,
		})
	}
	return res, nil
}

// RunOverdueSweep logs every overdue loan as of today. It writes nothing.
func (l *Ledger) RunOverdueSweep(ctx context.Context) (int, error) {
	asOf := l.clock.Today()
	overdue, err := l.OverdueLoans(ctx, asOf)
	if err != nil {
		return 0, err
	}

	for _, o := range overdue {
		l.logger.Info("loan overdue",
			zap.String("loanID", o.LoanID.String()),
			zap.String("customerID", o.CustomerID.String()),
			zap.String("nextDue", o.NextDueDate.String()),
			zap.Int("overdueDays", o.OverdueDays),
			zap.String("remaining", o.Remaining.String()),
		)
	}
	l.logger.Info("overdue sweep complete", zap.String("asOf", asOf.String()), zap.Int("overdue", len(overdue)))
	return len(overdue), nil
}

// StartOverdueSweep runs the sweep every interval until ctx is done.
func (l *Ledger) StartOverdueSweep(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := l.RunOverdueSweep(ctx); err != nil && ctx.Err() == nil {
				l.logger.Error("overdue sweep failed", zap.Error(err))
			}
		}
	}
}
