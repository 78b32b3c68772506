// Package payment models the hosted payment widget the buyer pays through.
// The widget collects the payment instrument out of process and reports back
// through exactly one of three callbacks.
package payment

import (
	"context"
	"errors"
)

var (
	// ErrWidgetUnavailable is returned by Open when the widget cannot be constructed.
	ErrWidgetUnavailable = errors.New("payment widget unavailable")
	// ErrUnknownSession is returned for callbacks that match no open widget.
	ErrUnknownSession = errors.New("unknown payment session")
	// ErrBadSignature is returned when a success payload fails signature verification.
	ErrBadSignature = errors.New("payment signature mismatch")
)

// Prefill pre-populates the buyer's details in the widget.
type Prefill struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Contact string `json:"contact,omitempty"`
}

// Theme styles the widget.
type Theme struct {
	Color string `json:"color,omitempty"`
}

// SuccessResponse is the payload of the widget's success handler.
type SuccessResponse struct {
	PaymentID string `json:"razorpay_payment_id"`
	OrderID   string `json:"razorpay_order_id"`
	Signature string `json:"razorpay_signature"`
}

// FailureResponse is the payload of the widget's payment.failed event.
type FailureResponse struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Source      string `json:"source,omitempty"`
	Step        string `json:"step,omitempty"`
	Reason      string `json:"reason,omitempty"`
	OrderID     string `json:"order_id,omitempty"`
	PaymentID   string `json:"payment_id,omitempty"`
}

// Options is the client-facing widget configuration.
type Options struct {
	Key         string  `json:"key"`
	Amount      int64   `json:"amount"` // minor currency units
	Currency    string  `json:"currency"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	OrderID     string  `json:"order_id"`
	Prefill     Prefill `json:"prefill"`
	Theme       Theme   `json:"theme"`
}

// WidgetConfig is Options plus the three continuations. At most one of them
// is invoked per Open.
type WidgetConfig struct {
	Options

	Handler   func(ctx context.Context, resp SuccessResponse)
	OnFailure func(ctx context.Context, resp FailureResponse)
	OnDismiss func(ctx context.Context)
}

// Gateway opens a payment widget. Open does not wait for the buyer; the
// outcome arrives through the config's callbacks.
type Gateway interface {
	Open(ctx context.Context, cfg WidgetConfig) error
}

// OrderCreator creates a gateway-side order for an amount and returns its id.
// A production integration supplies one so payment signatures can be
// verified against a server-issued order id.
type OrderCreator interface {
	CreateOrder(ctx context.Context, amount int64, currency, receipt string) (string, error)
}
