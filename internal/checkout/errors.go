package checkout

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyCart is returned by BeginCheckout for a cart without items.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrIllegalState is returned when an operation is not allowed in the current step.
	ErrIllegalState = errors.New("illegal checkout state")
	// ErrAmountMismatch is returned when LaunchPayment is asked to charge something other than the draft total.
	ErrAmountMismatch = errors.New("amount does not match order total")
)

// BackendError wraps a failed order backend call.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// GatewayInitError is returned when the payment widget could not be opened.
// The draft stays DRAFT_CREATED and LaunchPayment may be retried.
type GatewayInitError struct {
	Err error
}

func (e *GatewayInitError) Error() string {
	return fmt.Sprintf("payment gateway init: %v", e.Err)
}

func (e *GatewayInitError) Unwrap() error { return e.Err }

// GatewayOutcomeError describes a payment that failed or was dismissed. It is
// delivered in an Outcome, not returned from an operation.
type GatewayOutcomeError struct {
	Code        string
	Description string
	Cancelled   bool
}

func (e *GatewayOutcomeError) Error() string {
	if e.Cancelled {
		return fmt.Sprintf("payment cancelled: %s", e.Description)
	}
	return fmt.Sprintf("payment failed: %s (%s)", e.Description, e.Code)
}
