package checkout

import (
	"context"
	"time"
)

// Event types published on the checkout queue.
const (
	EventCheckoutStarted    = "checkout.started"
	EventOrderPaid          = "order.paid"
	EventOrderFailed        = "order.failed"
	EventOrderCancelled     = "order.cancelled"
	EventReconcileRequested = "reconcile.requested"
)

// Event is the queue message for checkout lifecycle changes. A
// reconcile.requested event carries everything needed to replay finalisation.
type Event struct {
	Type             string    `json:"type"`
	OrderID          string    `json:"order_id"`
	UserID           string    `json:"user_id,omitempty"`
	Amount           int64     `json:"amount,omitempty"`
	Currency         string    `json:"currency,omitempty"`
	GatewayOrderID   string    `json:"gateway_order_id,omitempty"`
	GatewayPaymentID string    `json:"gateway_payment_id,omitempty"`
	GatewaySignature string    `json:"gateway_signature,omitempty"`
	Reason           string    `json:"reason,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// Notifier publishes checkout events.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Counter records checkout metrics.
type Counter interface {
	Count(ctx context.Context, name string, dims map[string]string)
}

// Sender sends a JSON message with string attributes, e.g. *aws.Publisher.
type Sender interface {
	SendJSON(ctx context.Context, v any, attributes map[string]string) error
}

// QueueNotifier publishes events through a Sender.
type QueueNotifier struct {
	sender Sender
}

// NewQueueNotifier returns a Notifier over sender.
func NewQueueNotifier(sender Sender) *QueueNotifier {
	return &QueueNotifier{sender: sender}
}

func (n *QueueNotifier) Notify(ctx context.Context, ev Event) error {
	return n.sender.SendJSON(ctx, ev, map[string]string{
		"event_type": ev.Type,
		"order_id":   ev.OrderID,
	})
}
