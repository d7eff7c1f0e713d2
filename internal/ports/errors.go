package ports

import (
	"context"
	"errors"
	"fmt"
)

// Standard application-level errors. Adapters wrap underlying
// infrastructure errors with these so callers can classify them without
// knowing the broker SDK.
var (
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Gateway errors
	ErrGatewayUnavailable   = errors.New("broker terminal is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the broker terminal")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("broker authentication failed")
	ErrInsufficientFunds    = errors.New("insufficient funds for operation")
	ErrOrderRejected        = errors.New("order rejected by broker")

	// Database errors
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")
)

// OrderRejectedError is a broker-declared rejection of an order
// submission. It is terminal for the attempt: the executor never retries
// it except for the single unsupported-fill-mode case.
type OrderRejectedError struct {
	Code   int    // broker return code
	Reason string // broker's reason string
}

func (e *OrderRejectedError) Error() string {
	return fmt.Sprintf("order rejected (code %d): %s", e.Code, e.Reason)
}

func (e *OrderRejectedError) Unwrap() error { return ErrOrderRejected }

// UnsupportedFillMode reports whether the rejection is the one retryable
// case: the requested fill mode is not accepted by the broker.
func (e *OrderRejectedError) UnsupportedFillMode() bool {
	return e.Code == CodeUnsupportedFillMode
}

// Broker return codes surfaced in rejections.
const (
	CodeUnsupportedFillMode = 10030
	CodeInvalidStops        = 10016
	CodeNoMoney             = 10019
)

// IsTransient reports whether an error should be treated as
// retryable-next-cycle rather than fatal: timeouts, disconnects and
// terminal unavailability. Order rejections are never transient.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrGatewayUnavailable) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, context.DeadlineExceeded)
}
