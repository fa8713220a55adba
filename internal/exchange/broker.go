package exchange

import (
	"context"
	"errors"
	"fmt"
)

// Broker is the narrow interface the execution engine and reconciler consume.
type Broker interface {
	Name() string

	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)

	GetPositions(ctx context.Context) ([]BrokerPosition, error)

	GetInstruments(ctx context.Context, exchange string) ([]Instrument, error)

	Health(ctx context.Context) error
}

// Failure codes reported by broker adapters. The transient set is what the
// retry policy keys off.
const (
	CodeTimeout            = "TIMEOUT"
	CodeRateLimited        = "RATE_LIMITED"
	CodeUnavailable        = "UNAVAILABLE"
	CodeInvalidSymbol      = "INVALID_SYMBOL"
	CodeInsufficientMargin = "INSUFFICIENT_MARGIN"
	CodeRejected           = "REJECTED"
)

// OrderError is the typed failure returned by broker adapters so that the
// execution engine can decide whether a retry is worthwhile.
type OrderError struct {
	Code      string
	Message   string
	Transient bool
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("broker order error [%s]: %s", e.Code, e.Message)
}

func NewOrderError(code, message string) *OrderError {
	transient := false
	switch code {
	case CodeTimeout, CodeRateLimited, CodeUnavailable:
		transient = true
	}
	return &OrderError{Code: code, Message: message, Transient: transient}
}

// IsTransient reports whether err represents a failure that a bounded retry
// may recover from (timeouts, rate limits, broker unavailability).
func IsTransient(err error) bool {
	var oe *OrderError
	if errors.As(err, &oe) {
		return oe.Transient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}
