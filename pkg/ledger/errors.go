package ledger

import (
	"errors"
	"fmt"
)

// ErrInvalidLoanTerms matches every InvalidLoanTermsError via errors.Is.
var ErrInvalidLoanTerms = errors.New("invalid loan terms")

// InvalidLoanTermsError is returned when terms cannot produce a schedule or projection.
type InvalidLoanTermsError struct {
	Reason string
}

func (e *InvalidLoanTermsError) Error() string {
	return fmt.Sprintf("invalid loan terms: %s", e.Reason)
}

func (e *InvalidLoanTermsError) Is(target error) bool {
	return target == ErrInvalidLoanTerms
}

func invalidTerms(format string, args ...any) error {
	return &InvalidLoanTermsError{Reason: fmt.Sprintf(format, args...)}
}

// ErrInvalidPayment is returned for payments with a non-positive amount or no date.
var ErrInvalidPayment = errors.New("invalid payment")
