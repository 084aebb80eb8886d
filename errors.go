package eventing

import (
	"errors"
	"fmt"
)

// Error represents an eventing library error with categorization.
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error (if any)
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error carrying the same code.
// This lets errors.Is(err, ErrLeaseTaken) match an error built with
// NewErrorWithCause(ErrCodeLeaseTaken, ...).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Error codes for eventing operations.
const (
	// ErrCodeNoData indicates no data was found.
	ErrCodeNoData = "NO_DATA"

	// ErrCodeValidation indicates validation failed.
	ErrCodeValidation = "VALIDATION_ERROR"

	// ErrCodeConfiguration indicates invalid configuration.
	ErrCodeConfiguration = "CONFIGURATION_ERROR"

	// ErrCodeDatabase indicates a storage operation failed.
	ErrCodeDatabase = "DATABASE_ERROR"

	// ErrCodeTransaction indicates commit/rollback without a running transaction.
	ErrCodeTransaction = "TRANSACTION_ERROR"

	// ErrCodeRolledBack indicates a commit on a transaction group that was already rolled back.
	ErrCodeRolledBack = "TRANSACTION_ROLLED_BACK"

	// ErrCodeLeaseTaken indicates another consumer currently holds a live lease.
	ErrCodeLeaseTaken = "LEASE_TAKEN"

	// ErrCodeLeaseExpired indicates the event vanished or was re-leased while completing.
	ErrCodeLeaseExpired = "LEASE_EXPIRED"

	// ErrCodeConsistency indicates an unexpected affected-row count.
	ErrCodeConsistency = "CONSISTENCY_ERROR"

	// ErrCodeRetryExhausted indicates the transient-error retry budget was used up.
	ErrCodeRetryExhausted = "RETRY_EXHAUSTED"
)

// Common errors.
var (
	// ErrNoData is returned when a query returns no results.
	// This is not necessarily an error condition in all cases.
	ErrNoData = &Error{
		Code:    ErrCodeNoData,
		Message: "no data found",
	}

	// ErrInvalidConfiguration is returned when a service is misconfigured.
	ErrInvalidConfiguration = &Error{
		Code:    ErrCodeConfiguration,
		Message: "invalid configuration",
	}

	// ErrNoTransaction is returned by Commit/Rollback without a running transaction.
	ErrNoTransaction = &Error{
		Code:    ErrCodeTransaction,
		Message: "no running transaction",
	}

	// ErrTxRolledBack is returned by Commit once any participant rolled back.
	ErrTxRolledBack = &Error{
		Code:    ErrCodeRolledBack,
		Message: "transaction has already been rolled back",
	}

	// ErrLeaseTaken is returned when completing an event whose lease now
	// belongs to another consumer.
	ErrLeaseTaken = &Error{
		Code:    ErrCodeLeaseTaken,
		Message: "subscription event expired and has been leased again",
	}

	// ErrLeaseExpired is returned when the event was deleted or re-leased
	// between fetching and completing it.
	ErrLeaseExpired = &Error{
		Code:    ErrCodeLeaseExpired,
		Message: "subscription event expired while completing",
	}

	// ErrInconsistent is returned on unexpected affected-row counts.
	ErrInconsistent = &Error{
		Code:    ErrCodeConsistency,
		Message: "internal consistency violation",
	}

	// ErrRetryExhausted is returned when transient storage errors persist
	// past the retry budget.
	ErrRetryExhausted = &Error{
		Code:    ErrCodeRetryExhausted,
		Message: "retry budget exhausted",
	}
)

// NewError creates a new Error with the given code and message.
func NewError(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// NewErrorWithCause creates a new Error wrapping an underlying error.
func NewErrorWithCause(code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     cause,
	}
}

// IsNoData checks if an error is ErrNoData.
func IsNoData(err error) bool {
	return hasCode(err, ErrCodeNoData)
}

// IsLeaseLost reports whether err means another consumer handled or now owns
// the event. Callers usually treat this as benign.
func IsLeaseLost(err error) bool {
	return hasCode(err, ErrCodeLeaseTaken) || hasCode(err, ErrCodeLeaseExpired)
}

// IsRetryExhausted reports whether err is ErrRetryExhausted.
func IsRetryExhausted(err error) bool {
	return hasCode(err, ErrCodeRetryExhausted)
}

func hasCode(err error, code string) bool {
	var eventingErr *Error
	if errors.As(err, &eventingErr) {
		return eventingErr.Code == code
	}
	return false
}

func isDatabaseError(err error) bool {
	return hasCode(err, ErrCodeDatabase)
}
