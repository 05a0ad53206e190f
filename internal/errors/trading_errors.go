package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCategory represents different types of errors that can occur
type ErrorCategory string

const (
	// Synchronous caller errors, never retried
	ErrorCategoryValidation    ErrorCategory = "VALIDATION"
	ErrorCategoryRiskRejection ErrorCategory = "RISK_REJECTION"

	// Venue errors
	ErrorCategoryExchangeUnavailable ErrorCategory = "EXCHANGE_UNAVAILABLE"
	ErrorCategoryExchangeRejected    ErrorCategory = "EXCHANGE_REJECTED"

	// Non-fatal inconsistencies that must be surfaced but never rolled back
	ErrorCategoryReconciliation ErrorCategory = "RECONCILIATION"
)

// TradingError represents a categorized error with component context.
// Category is the machine-readable kind; Reason is the human-readable
// explanation surfaced to callers alongside terminal order states.
type TradingError struct {
	Category   ErrorCategory
	Component  string
	Operation  string
	Reason     string
	Underlying error
	Retryable  bool
}

// Error implements the error interface
func (e *TradingError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Category, e.Component, e.Operation, e.Reason, e.Underlying)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Category, e.Component, e.Operation, e.Reason)
}

// Unwrap returns the underlying error for error unwrapping
func (e *TradingError) Unwrap() error {
	return e.Underlying
}

// IsRetryable returns whether this error can be retried
func (e *TradingError) IsRetryable() bool {
	return e.Retryable
}

// New creates a new categorized trading error
func New(category ErrorCategory, component, operation, reason string) *TradingError {
	return &TradingError{
		Category:  category,
		Component: component,
		Operation: operation,
		Reason:    reason,
		Retryable: isRetryableCategory(category),
	}
}

// Wrap wraps an existing error with trading error context
func Wrap(err error, category ErrorCategory, component, operation, reason string) *TradingError {
	if err == nil {
		return nil
	}
	return &TradingError{
		Category:   category,
		Component:  component,
		Operation:  operation,
		Reason:     reason,
		Underlying: err,
		Retryable:  isRetryableCategory(category),
	}
}

// isRetryableCategory determines if an error category is generally retryable
func isRetryableCategory(category ErrorCategory) bool {
	switch category {
	case ErrorCategoryExchangeUnavailable:
		return true
	default:
		return false
	}
}

// CategoryOf extracts the category from an error chain, or "" if the chain
// contains no TradingError.
func CategoryOf(err error) ErrorCategory {
	var te *TradingError
	if errors.As(err, &te) {
		return te.Category
	}
	return ""
}

// IsValidation reports whether err is a validation error
func IsValidation(err error) bool {
	return CategoryOf(err) == ErrorCategoryValidation
}

// IsExchangeUnavailable reports whether err is a transient venue failure
func IsExchangeUnavailable(err error) bool {
	return CategoryOf(err) == ErrorCategoryExchangeUnavailable
}

// ClassifyVenueError sorts a raw adapter error into unavailable vs rejected.
// Timeouts and transport failures are retryable; anything the venue actively
// refused (balance, permissions, malformed order) is terminal.
func ClassifyVenueError(err error, component, operation string) *TradingError {
	if err == nil {
		return nil
	}
	var te *TradingError
	if errors.As(err, &te) {
		return te
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "context deadline exceeded"),
		strings.Contains(msg, "connection"),
		strings.Contains(msg, "dial"),
		strings.Contains(msg, "temporarily"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "rate limit"):
		return Wrap(err, ErrorCategoryExchangeUnavailable, component, operation, "venue unreachable")
	case strings.Contains(msg, "insufficient"),
		strings.Contains(msg, "rejected"),
		strings.Contains(msg, "invalid"),
		strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "forbidden"),
		strings.Contains(msg, "minimum"),
		strings.Contains(msg, "maximum"):
		return Wrap(err, ErrorCategoryExchangeRejected, component, operation, "venue rejected order")
	default:
		// Unknown venue failures are treated as transient so a bounded retry
		// gets a chance before the order fails.
		return Wrap(err, ErrorCategoryExchangeUnavailable, component, operation, "venue call failed")
	}
}
