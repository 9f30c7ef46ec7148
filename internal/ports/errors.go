package ports

import (
	"context"
	"errors"
)

// Standard application-level errors.
// Adapters wrap underlying infrastructure errors with these so callers can classify them.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Exchange Specific Errors
	ErrExchangeUnavailable  = errors.New("exchange API is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the exchange")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("exchange authentication failed (check API keys)")
	ErrInsufficientFunds    = errors.New("insufficient funds for operation")
	ErrInvalidSymbol        = errors.New("invalid or unsupported symbol")
	ErrOrderNotFound        = errors.New("order not found on the exchange")
	ErrOrderPlacementFailed = errors.New("order rejected by the exchange")
	ErrOrderCancelFailed    = errors.New("failed to cancel order")

	// Trading pipeline errors
	ErrDataUnavailable  = errors.New("no fresh or cached market data available")
	ErrValidationFailed = errors.New("risk validation failed")
	ErrCircuitOpen      = errors.New("execution circuit breaker is open")
	ErrRetriesExhausted = errors.New("retries exhausted")

	// Storage errors
	ErrStorage        = errors.New("position store failure")
	ErrDuplicateEntry = errors.New("database record already exists")
)

// ErrorClass groups errors by how the trading path must react to them.
type ErrorClass int

const (
	ClassUnknown ErrorClass = iota
	ClassTransport
	ClassRateLimit
	ClassBusiness
	ClassStorage
	ClassValidation
	ClassCircuitOpen
	ClassDataUnavailable
	ClassCanceled
)

// String returns the string representation of the ErrorClass.
func (c ErrorClass) String() string {
	switch c {
	case ClassTransport:
		return "transport"
	case ClassRateLimit:
		return "rate_limit"
	case ClassBusiness:
		return "business"
	case ClassStorage:
		return "storage"
	case ClassValidation:
		return "validation"
	case ClassCircuitOpen:
		return "circuit_open"
	case ClassDataUnavailable:
		return "data_unavailable"
	case ClassCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Retryable reports whether errors of this class may be retried locally.
func (c ErrorClass) Retryable() bool {
	return c == ClassTransport || c == ClassRateLimit
}

// Fatal reports whether errors of this class must raise an alert when they end a cycle.
func (c ErrorClass) Fatal() bool {
	switch c {
	case ClassBusiness, ClassStorage, ClassCircuitOpen, ClassUnknown:
		return true
	default:
		return false
	}
}

// Classify maps an error onto the taxonomy. Order matters: an error wrapping both a
// storage failure and a transport cause is a storage error.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassUnknown
	case errors.Is(err, ErrStorage):
		return ClassStorage
	case errors.Is(err, ErrCircuitOpen):
		return ClassCircuitOpen
	case errors.Is(err, ErrValidationFailed):
		return ClassValidation
	case errors.Is(err, ErrDataUnavailable):
		return ClassDataUnavailable
	case errors.Is(err, ErrRateLimited):
		return ClassRateLimit
	case errors.Is(err, ErrTimeout),
		errors.Is(err, ErrConnectionFailed),
		errors.Is(err, ErrExchangeUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return ClassTransport
	case errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrInvalidSymbol),
		errors.Is(err, ErrOrderPlacementFailed),
		errors.Is(err, ErrOrderCancelFailed),
		errors.Is(err, ErrOrderNotFound),
		errors.Is(err, ErrAuthenticationFailed):
		return ClassBusiness
	case errors.Is(err, ErrContextCanceled), errors.Is(err, context.Canceled):
		return ClassCanceled
	default:
		return ClassUnknown
	}
}
