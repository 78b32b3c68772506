package checkout

// Step is a checkout session's position in the order lifecycle.
type Step string

const (
	StepCart            Step = "CART"
	StepShippingEntered Step = "SHIPPING_ENTERED"
	StepDraftCreated    Step = "DRAFT_CREATED"
	StepAwaitingPayment Step = "AWAITING_PAYMENT"
	StepPaid            Step = "PAID"
	StepCancelled       Step = "CANCELLED"
	StepFailed          Step = "FAILED"
)

// IsTerminal reports whether s ends a checkout attempt.
func (s Step) IsTerminal() bool {
	return s == StepPaid || s == StepCancelled || s == StepFailed
}

func (s Step) String() string {
	return string(s)
}

// canBegin reports whether a new checkout may start from s. Re-entering
// shipping from DRAFT_CREATED creates new records and orphans the old draft.
func (s Step) canBegin() bool {
	return s == StepCart || s == StepDraftCreated || s == StepPaid
}
