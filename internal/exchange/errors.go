package exchange

import "fmt"

// ExchangeError represents an error from a venue or from venue configuration
type ExchangeError struct {
	Code        string
	Message     string
	Details     string
	IsRetryable bool
	Cause       error
}

// Error implements the error interface
func (e *ExchangeError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying classified error, if any.
func (e *ExchangeError) Unwrap() error {
	return e.Cause
}

// Stable error codes used across the registry and adapters.
const (
	CodeDuplicateRegistration   = "DUPLICATE_REGISTRATION"
	CodeUnknownExchange         = "UNKNOWN_EXCHANGE"
	CodeUnsupportedExchangeType = "UNSUPPORTED_EXCHANGE"
	CodeMissingParameter        = "MISSING_PARAMETER"
	CodeInvalidSide             = "INVALID_SIDE"
	CodeInvalidQuantity         = "INVALID_QUANTITY"
	CodeExchangeUnavailable     = "EXCHANGE_UNAVAILABLE"
	CodeExchangeRejected        = "EXCHANGE_REJECTED"
	CodeNoQuotes                = "NO_QUOTES"
)

// NewDuplicateRegistrationError reports a registration id collision
func NewDuplicateRegistrationError(id string) *ExchangeError {
	return &ExchangeError{
		Code:        CodeDuplicateRegistration,
		Message:     fmt.Sprintf("exchange '%s' is already registered", id),
		IsRetryable: false,
	}
}

// NewUnknownExchangeError reports an operation against an unregistered id
func NewUnknownExchangeError(id string) *ExchangeError {
	return &ExchangeError{
		Code:        CodeUnknownExchange,
		Message:     fmt.Sprintf("exchange '%s' is not registered", id),
		IsRetryable: false,
	}
}

// NewMissingParameterError reports a required order field that is absent
func NewMissingParameterError(name string) *ExchangeError {
	return &ExchangeError{
		Code:        CodeMissingParameter,
		Message:     fmt.Sprintf("missing required parameter: %s", name),
		IsRetryable: false,
	}
}

// NewInvalidSideError reports a side outside {buy, sell}
func NewInvalidSideError(side string) *ExchangeError {
	return &ExchangeError{
		Code:        CodeInvalidSide,
		Message:     fmt.Sprintf("invalid order side '%s'", side),
		Details:     "side must be one of: buy, sell",
		IsRetryable: false,
	}
}
