package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/microloan/pkg/ledger"
	"github.com/mcclellann/microloan/pkg/models"
	"github.com/mcclellann/microloan/pkg/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Server holds the ledger instance.
type Server struct {
	ledger    *ledger.Ledger
	validator *ValidationHelper
	logger    *zap.Logger
}

func NewServer(l *ledger.Ledger, logger *zap.Logger) *Server {
	return &Server{
		ledger:    l,
		validator: NewValidationHelper(),
		logger:    logger,
	}
}

// Router registers every route behind the request logger.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(requestLogger(s.logger))

	router.HandleFunc("/customers", s.listCustomersHandler).Methods("GET")
	router.HandleFunc("/customers", s.createCustomerHandler).Methods("POST")
	router.HandleFunc("/customers/{id}", s.getCustomerHandler).Methods("GET")
	router.HandleFunc("/customers/{id}", s.updateCustomerHandler).Methods("PUT")
	router.HandleFunc("/customers/{id}", s.deleteCustomerHandler).Methods("DELETE")
	router.HandleFunc("/customers/{id}/loans", s.customerLoansHandler).Methods("GET")
	router.HandleFunc("/customers/{id}/ledger", s.customerLedgerHandler).Methods("GET")

	router.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	router.HandleFunc("/loans", s.createLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/summary", s.loanSummaryHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/payments", s.listPaymentsHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/payments", s.recordPaymentHandler).Methods("POST")

	router.HandleFunc("/dashboard", s.dashboardHandler).Methods("GET")
	router.HandleFunc("/dashboard/today-collection", s.todayCollectionHandler).Methods("GET")

	return router
}

// handleError maps ledger and store errors onto HTTP statuses.
func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrCustomerNotFound):
		sendErrorResponse(w, "Customer not found", http.StatusNotFound, nil)
	case errors.Is(err, store.ErrLoanNotFound):
		sendErrorResponse(w, "Loan not found", http.StatusNotFound, nil)
	case errors.Is(err, ledger.ErrInvalidLoanTerms), errors.Is(err, ledger.ErrInvalidPayment):
		sendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	default:
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		sendErrorResponse(w, "Internal server error", http.StatusInternalServerError, nil)
	}
}

func pathID(w http.ResponseWriter, r *http.Request, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		sendErrorResponse(w, "Invalid "+what+" ID", http.StatusBadRequest, nil)
		return uuid.Nil, false
	}
	return id, true
}

// asOfParam reads ?as_of=YYYY-MM-DD, defaulting to today.
func (s *Server) asOfParam(w http.ResponseWriter, r *http.Request) (civil.Date, bool) {
	raw := r.URL.Query().Get("as_of")
	if raw == "" {
		return s.ledger.Today(), true
	}
	d, err := civil.ParseDate(raw)
	if err != nil {
		sendErrorResponse(w, "as_of must be a YYYY-MM-DD date", http.StatusBadRequest, nil)
		return civil.Date{}, false
	}
	return d, true
}

func pageParams(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	q := r.URL.Query()
	skip, limit := 0, 0
	var err error
	if v := q.Get("skip"); v != "" {
		if skip, err = strconv.Atoi(v); err != nil || skip < 0 {
			sendErrorResponse(w, "skip must be a non-negative integer", http.StatusBadRequest, nil)
			return 0, 0, false
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 1 {
			sendErrorResponse(w, "limit must be a positive integer", http.StatusBadRequest, nil)
			return 0, 0, false
		}
	}
	return skip, limit, true
}

func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		sendErrorResponse(w, "Invalid request body: "+err.Error(), http.StatusBadRequest, nil)
		return false
	}
	if err := s.validator.ValidateStruct(req); err != nil {
		sendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}

type createCustomerRequest struct {
	Name       string `json:"name" validate:"required,max=100"`
	Phone      string `json:"phone" validate:"required,max=20"`
	Address    string `json:"address" validate:"max=255"`
	IDProofURL string `json:"id_proof_url" validate:"omitempty,url"`
}

type updateCustomerRequest struct {
	Name       *string `json:"name" validate:"omitempty,min=1,max=100"`
	Phone      *string `json:"phone" validate:"omitempty,min=1,max=20"`
	Address    *string `json:"address" validate:"omitempty,max=255"`
	IDProofURL *string `json:"id_proof_url" validate:"omitempty,url"`
}

func (s *Server) createCustomerHandler(w http.ResponseWriter, r *http.Request) {
	var req createCustomerRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	c, err := s.ledger.CreateCustomer(r.Context(), req.Name, req.Phone, req.Address, req.IDProofURL)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) listCustomersHandler(w http.ResponseWriter, r *http.Request) {
	skip, limit, ok := pageParams(w, r)
	if !ok {
		return
	}

	customers, err := s.ledger.ListCustomers(r.Context(), skip, limit)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	if customers == nil {
		customers = []*models.Customer{}
	}
	writeJSON(w, http.StatusOK, customers)
}

func (s *Server) getCustomerHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "customer")
	if !ok {
		return
	}

	c, err := s.ledger.GetCustomer(r.Context(), id)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) updateCustomerHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "customer")
	if !ok {
		return
	}

	var req updateCustomerRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	c, err := s.ledger.UpdateCustomer(r.Context(), id, ledger.CustomerUpdate{
		Name:       req.Name,
		Phone:      req.Phone,
		Address:    req.Address,
		IDProofURL: req.IDProofURL,
	})
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) deleteCustomerHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "customer")
	if !ok {
		return
	}

	if err := s.ledger.DeleteCustomer(r.Context(), id); err != nil {
		s.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) customerLoansHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "customer")
	if !ok {
		return
	}
	asOf, ok := s.asOfParam(w, r)
	if !ok {
		return
	}

	loans, err := s.ledger.CustomerLoans(r.Context(), id, asOf)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

func (s *Server) customerLedgerHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "customer")
	if !ok {
		return
	}
	asOf, ok := s.asOfParam(w, r)
	if !ok {
		return
	}

	l, err := s.ledger.CustomerLedger(r.Context(), id, asOf)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

type createLoanRequest struct {
	CustomerID         string          `json:"customer_id" validate:"required,uuid"`
	PrincipalAmount    decimal.Decimal `json:"principal_amount"`
	InterestAmount     decimal.Decimal `json:"interest_amount"`
	InstallmentAmount  decimal.Decimal `json:"installment_amount"`
	RepaymentFrequency string          `json:"repayment_frequency" validate:"required,oneof=daily weekly monthly"`
	StartDate          civil.Date      `json:"start_date"`
	Notes              string          `json:"notes" validate:"max=500"`
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req createLoanRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	customerID, err := uuid.Parse(req.CustomerID)
	if err != nil {
		sendErrorResponse(w, "Invalid customer ID", http.StatusBadRequest, nil)
		return
	}

	loan, err := s.ledger.CreateLoan(r.Context(), customerID, models.LoanTerms{
		PrincipalAmount:    req.PrincipalAmount,
		InterestAmount:     req.InterestAmount,
		InstallmentAmount:  req.InstallmentAmount,
		RepaymentFrequency: models.Frequency(req.RepaymentFrequency),
		StartDate:          req.StartDate,
	}, req.Notes)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, loan)
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	skip, limit, ok := pageParams(w, r)
	if !ok {
		return
	}

	loans, err := s.ledger.ListLoans(r.Context(), skip, limit)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	if loans == nil {
		loans = []*models.Loan{}
	}
	writeJSON(w, http.StatusOK, loans)
}

type loanResponse struct {
	*models.Loan
	Summary *models.LoanSummary `json:"summary"`
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "loan")
	if !ok {
		return
	}

	loan, err := s.ledger.GetLoan(r.Context(), id)
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	summary, err := s.ledger.LoanSummary(r.Context(), id, s.ledger.Today())
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loanResponse{Loan: loan, Summary: summary})
}

func (s *Server) loanSummaryHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "loan")
	if !ok {
		return
	}
	asOf, ok := s.asOfParam(w, r)
	if !ok {
		return
	}

	summary, err := s.ledger.LoanSummary(r.Context(), id, asOf)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type paymentRequest struct {
	PaidAmount  decimal.Decimal `json:"paid_amount"`
	PaymentDate civil.Date      `json:"payment_date"`
	Notes       string          `json:"notes" validate:"max=500"`
}

func (s *Server) recordPaymentHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathID(w, r, "loan")
	if !ok {
		return
	}

	var req paymentRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	p, err := s.ledger.RecordPayment(r.Context(), loanID, req.PaidAmount, req.PaymentDate, req.Notes)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) listPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := pathID(w, r, "loan")
	if !ok {
		return
	}

	payments, err := s.ledger.ListPayments(r.Context(), loanID)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	if payments == nil {
		payments = []*models.Payment{}
	}
	writeJSON(w, http.StatusOK, payments)
}

func (s *Server) dashboardHandler(w http.ResponseWriter, r *http.Request) {
	asOf, ok := s.asOfParam(w, r)
	if !ok {
		return
	}

	d, err := s.ledger.Dashboard(r.Context(), asOf)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) todayCollectionHandler(w http.ResponseWriter, r *http.Request) {
	asOf, ok := s.asOfParam(w, r)
	if !ok {
		return
	}

	report, err := s.ledger.TodayCollection(r.Context(), asOf)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
