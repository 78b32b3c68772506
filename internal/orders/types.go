package orders

import "time"

// Order statuses as persisted on the order header.
const (
	StatusPending   = "pending"
	StatusPaid      = "paid"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// OrderItem is one line item of an order: a product, the variant picked in the
// cart, the quantity and the unit price in minor currency units.
type OrderItem struct {
	ID        string    `dynamodbav:"id" json:"id"` // PK
	ProductID string    `dynamodbav:"product_id" json:"product_id"`
	Variant   string    `dynamodbav:"variant,omitempty" json:"variant,omitempty"`
	Quantity  int       `dynamodbav:"quantity" json:"quantity"`
	UnitPrice int64     `dynamodbav:"unit_price" json:"unit_price"`
	CreatedAt time.Time `dynamodbav:"created_at" json:"created_at"`
}

// ShippingInfo is the buyer's postal and contact record for one checkout attempt.
type ShippingInfo struct {
	ID         string    `dynamodbav:"id" json:"id"` // PK
	FullName   string    `dynamodbav:"full_name" json:"full_name"`
	Address    string    `dynamodbav:"address" json:"address"`
	City       string    `dynamodbav:"city" json:"city"`
	State      string    `dynamodbav:"state" json:"state"`
	PostalCode string    `dynamodbav:"postal_code" json:"postal_code"`
	Phone      string    `dynamodbav:"phone" json:"phone"`
	Email      string    `dynamodbav:"email" json:"email"`
	UserID     string    `dynamodbav:"user_id" json:"user_id"`
	CreatedAt  time.Time `dynamodbav:"created_at" json:"created_at"`
}

// Order is the order header. It is created as a pending draft before the
// payment widget opens and finalised by reconciliation.
type Order struct {
	ID                 string    `dynamodbav:"id" json:"id"` // PK
	UserID             string    `dynamodbav:"user_id" json:"user_id"`
	Status             string    `dynamodbav:"status" json:"status"` // pending | paid | failed | cancelled
	OrderItemIDs       []string  `dynamodbav:"order_item_ids" json:"order_item_ids"`
	ShippingInfoID     string    `dynamodbav:"shipping_info_id" json:"shipping_info_id"`
	Total              int64     `dynamodbav:"total" json:"total"`
	Currency           string    `dynamodbav:"currency,omitempty" json:"currency,omitempty"`
	GatewayOrderID     string    `dynamodbav:"gateway_order_id" json:"gateway_order_id"`
	GatewayPaymentID   string    `dynamodbav:"gateway_payment_id" json:"gateway_payment_id"`
	GatewaySignature   string    `dynamodbav:"gateway_signature" json:"gateway_signature"`
	FailureCode        string    `dynamodbav:"failure_code,omitempty" json:"failure_code,omitempty"`
	FailureReason      string    `dynamodbav:"failure_reason,omitempty" json:"failure_reason,omitempty"`
	CancellationReason string    `dynamodbav:"cancellation_reason,omitempty" json:"cancellation_reason,omitempty"`
	Attempts           int       `dynamodbav:"attempts,omitempty" json:"attempts,omitempty"` // out-of-band reconcile attempts
	CreatedAt          time.Time `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt          time.Time `dynamodbav:"updated_at" json:"updated_at"`
}

// OrderUpdate is a partial update of an order header. Nil fields are left
// untouched. A non-empty ExpectedStatus makes the write conditional on the
// current status.
type OrderUpdate struct {
	Status             *string
	ExpectedStatus     string
	GatewayOrderID     *string
	GatewayPaymentID   *string
	GatewaySignature   *string
	FailureCode        *string
	FailureReason      *string
	CancellationReason *string
}

// Payment is the audit record of a captured payment. Its ID is the gateway
// payment id, so a replayed success can never create a second record.
type Payment struct {
	ID               string    `dynamodbav:"id" json:"id"` // PK, gateway payment id
	OrderID          string    `dynamodbav:"order_id" json:"order_id"`
	Amount           int64     `dynamodbav:"amount" json:"amount"`
	Currency         string    `dynamodbav:"currency" json:"currency"`
	GatewayOrderID   string    `dynamodbav:"gateway_order_id" json:"gateway_order_id"`
	GatewayPaymentID string    `dynamodbav:"gateway_payment_id" json:"gateway_payment_id"`
	GatewaySignature string    `dynamodbav:"gateway_signature" json:"gateway_signature"`
	CreatedAt        time.Time `dynamodbav:"created_at" json:"created_at"`
}

// Tables names the DynamoDB tables backing the order store.
type Tables struct {
	Orders     string
	OrderItems string
	Shipping   string
	Payments   string
	// UserIndex is the GSI on Orders keyed by user_id.
	UserIndex string
}

// Str returns a pointer to s, for building an OrderUpdate.
func Str(s string) *string { return &s }
