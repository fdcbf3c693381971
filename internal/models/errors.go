package models

import "errors"

// Pricing and validation errors are returned synchronously to the caller;
// the user must correct input, no retry applies.
var (
	ErrInvalidAmount     = errors.New("amount must be greater than zero")
	ErrUnknownCurrency   = errors.New("unknown or inactive currency")
	ErrSameCurrency      = errors.New("from and to currency must differ")
	ErrRateUnavailable   = errors.New("no rate available for currency pair")
	ErrBelowMinimumTrade = errors.New("amount below minimum trade floor")
	ErrLimitExceeded     = errors.New("trading limit exceeded")
	// ErrJustificationRequired rejects a privileged quote issued without the
	// mandatory free-text justification for the override rate.
	ErrJustificationRequired = errors.New("justification is required")
)

// Lifecycle errors. A mutation of a non-pending quote is always rejected,
// never silently ignored, so callers can tell "already handled" from "failed".
var (
	ErrAlreadyFinal    = errors.New("quote is no longer pending")
	ErrAlreadyAccepted = errors.New("quote already accepted")
	ErrQuoteExpired    = errors.New("quote validity window has passed")
)

// Materialization errors.
var (
	ErrDestinationRequired = errors.New("settlement destination is required")
	ErrDestinationMismatch = errors.New("settlement destination does not match trade")
)

var (
	ErrNotFound     = errors.New("resource not found")
	ErrUnauthorized = errors.New("not authorized")
	// ErrUnavailable marks transient collaborator failures; callers may retry
	// with backoff, the core itself never retries financial operations.
	ErrUnavailable = errors.New("dependency unavailable")
)
