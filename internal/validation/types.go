package validation

// ShippingInput is the buyer's shipping form. Phone and postal code may carry
// separators; only their digits are counted and kept.
type ShippingInput struct {
	FullName   string `json:"full_name" validate:"notblank"`
	Address    string `json:"address" validate:"notblank"`
	City       string `json:"city" validate:"notblank"`
	State      string `json:"state" validate:"notblank"`
	PostalCode string `json:"postal_code" validate:"digits=6"`
	Phone      string `json:"phone" validate:"digits=10"`
	Email      string `json:"email" validate:"required,email"`
}

// CartItemRequest is the payload for PUT /cart/items. Quantity 0 removes the line.
type CartItemRequest struct {
	ProductID string `json:"product_id" validate:"notblank"`
	Name      string `json:"name"`
	Variant   string `json:"variant"`
	UnitPrice int64  `json:"unit_price" validate:"gt=0,lte=10000000000"` // minor currency units
	Quantity  int    `json:"quantity" validate:"min=0,max=99"`
}

// BuyerContact optionally overrides the payment widget prefill.
type BuyerContact struct {
	Name  string `json:"name"`
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone" validate:"omitempty,digits=10"`
}
