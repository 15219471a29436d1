package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound            = errors.New("entity not found")
	ErrAlreadyExists       = errors.New("entity already exists")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrInvalidExecContext  = errors.New("invalid exec context")
	ErrOperationFailed     = errors.New("operation failed")
	ErrReadDatabaseRow     = errors.New("failed to read database row")
	ErrConcurrentUpdate    = errors.New("payment was modified concurrently")
	ErrLocked              = errors.New("resource is locked by another operation")
	ErrInvalidAmount       = errors.New("amount must be a finite, non-negative number of minor units")
	ErrInvalidSignature    = errors.New("webhook signature verification failed")
	ErrGatewayUnavailable  = errors.New("payment gateway unavailable")
	ErrPaymentLinkExpired  = errors.New("payment link expired")
	ErrNotificationSkipped = errors.New("notification already sent")

	// ErrEventNotReady is returned for a gateway event that belongs to one of
	// our payments whose row is not visible yet. The event is not recorded so
	// the gateway redelivers it.
	ErrEventNotReady = errors.New("event references a payment that is not stored yet")

	// ErrReconciliationConflict marks an inbound gateway state that would move a
	// payment backwards in finality. It is logged and dropped, never returned to
	// the gateway's retry sender.
	ErrReconciliationConflict = errors.New("reconciliation conflict: transition would regress payment status")
)

// ValidationError is returned before any gateway call when an amount or a state
// precondition is not met.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidArgument }

// Safe, user-visible gateway failure codes. Gateway-internal detail never
// leaves GatewayError.Cause.
const (
	GatewayCodeCardDeclined    = "card_declined"
	GatewayCodeRequiresAction  = "requires_action"
	GatewayCodeProcessingError = "processing_error"
)

// GatewayError wraps a processor failure (network, 4xx, 5xx). The payment is
// left in its prior state so the caller may retry the whole operation.
type GatewayError struct {
	Op    string
	Code  string
	Cause error
}

func NewGatewayError(op, code string, cause error) *GatewayError {
	if code == "" {
		code = GatewayCodeProcessingError
	}
	return &GatewayError{Op: op, Code: code, Cause: cause}
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s failed: %s", e.Op, e.Code)
}

func (e *GatewayError) Unwrap() error { return e.Cause }

// NotificationError reports a failed receipt send. It never rolls back a
// payment status write.
type NotificationError struct {
	PaymentID string
	Cause     error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("receipt notification for payment %s failed: %v", e.PaymentID, e.Cause)
}

func (e *NotificationError) Unwrap() error { return e.Cause }
