// Package checkout drives a buyer from a confirmed cart to a finalised order:
// it writes the draft order, opens the payment widget and reconciles the
// widget's outcome back onto the order.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/cart"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/idempotency"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/orders"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/payment"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/state"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/validation"
)

// Backend is the order backend. Implemented by *orders.Store.
type Backend interface {
	CreateOrderItem(ctx context.Context, item orders.OrderItem) (string, error)
	CreateShippingInfo(ctx context.Context, info orders.ShippingInfo) (string, error)
	CreateOrderDetail(ctx context.Context, order orders.Order) (string, error)
	UpdateOrderDetail(ctx context.Context, id string, upd orders.OrderUpdate) (string, error)
	CreatePaymentDetail(ctx context.Context, p orders.Payment) (string, error)
	GetOrderByID(ctx context.Context, id string) (*orders.Order, error)
	GetUserOrders(ctx context.Context, userID string) ([]orders.Order, error)
}

// Options configures the widget and pricing.
type Options struct {
	GatewayKey     string
	Currency       string
	StoreName      string
	Description    string
	ThemeColor     string
	DeliveryCharge int64         // minor units, added once per order
	PaymentTimeout time.Duration // 0 waits for the widget forever
}

// Deps are the collaborators of an Orchestrator. Backend, Gateway, State and
// Ledger are required.
type Deps struct {
	Backend      Backend
	Gateway      payment.Gateway
	OrderCreator payment.OrderCreator // optional; a local reference is used without one
	State        state.Repository
	Ledger       Ledger
	Notifier     Notifier // optional
	Metrics      Counter  // optional
	Validator    *validatorv10.Validate
	Now          func() time.Time
	Options      Options
}

// Outcome is the terminal result of one payment launch.
type Outcome struct {
	Step    Step                 `json:"step" dynamodbav:"step"` // PAID, CANCELLED or FAILED
	OrderID string               `json:"order_id" dynamodbav:"order_id"`
	Order   *orders.Order        `json:"order,omitempty" dynamodbav:"order,omitempty"`
	Payment *orders.Payment      `json:"payment,omitempty" dynamodbav:"payment,omitempty"`
	Err     *GatewayOutcomeError `json:"-" dynamodbav:"-"`
	Message string               `json:"message" dynamodbav:"message"`
}

// Status is what the UI layer renders: step indicator and error banner.
type Status struct {
	Step        Step          `json:"step"`
	LastError   string        `json:"last_error,omitempty"`
	ActiveOrder *orders.Order `json:"active_order,omitempty"`
	OrderRef    string        `json:"order_ref,omitempty"`
	LastOutcome *Outcome      `json:"last_outcome,omitempty"`
}

type launch struct {
	orderID   string
	orderRef  string
	amount    int64
	openedAt  time.Time
	timer     *time.Timer
	done      chan struct{}
	outcome   Outcome
	settled   bool
	signalled bool // done closed
	timedOut  bool
	paidWith  string // gateway payment id that settled this launch
}

// Orchestrator is one buyer's checkout session. Operations are serialised;
// the payment widget is opened outside the lock so a gateway that reports
// synchronously cannot deadlock. Every transition is saved to the state
// repository and reloaded before acting, see Refresh.
type Orchestrator struct {
	userID     string
	backend    Backend
	gateway    payment.Gateway
	creator    payment.OrderCreator
	carts      *cart.Store
	repo       state.Repository
	ledger     Ledger
	notifier   Notifier
	metrics    Counter
	validator  *validatorv10.Validate
	reconciler *Reconciler
	now        func() time.Time
	opts       Options

	mu          sync.Mutex
	version     int64 // of the last record saved or loaded
	step        Step
	lastErr     string
	draft       *orders.Order
	buyer       payment.Prefill
	launch      *launch // awaiting payment
	prev        *launch // most recent settled launch
	lastOutcome *Outcome
}

// New returns an Orchestrator for userID in step CART.
func New(userID string, d Deps) *Orchestrator {
	if d.Validator == nil {
		d.Validator = validation.New()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Options.Currency == "" {
		d.Options.Currency = "INR"
	}
	return &Orchestrator{
		userID:     userID,
		backend:    d.Backend,
		gateway:    d.Gateway,
		creator:    d.OrderCreator,
		carts:      cart.NewStore(d.State),
		repo:       d.State,
		ledger:     d.Ledger,
		notifier:   d.Notifier,
		metrics:    d.Metrics,
		validator:  d.Validator,
		reconciler: NewReconciler(d.Backend, d.Ledger),
		now:        d.Now,
		opts:       d.Options,
		step:       StepCart,
	}
}

// UserID returns the buyer this session belongs to.
func (o *Orchestrator) UserID() string { return o.userID }

// Step returns the current step.
func (o *Orchestrator) Step() Step {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.step
}

// LastError returns the user-facing message of the last failure, if any.
func (o *Orchestrator) LastError() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// ActiveOrder returns a copy of the session's active order, or nil.
func (o *Orchestrator) ActiveOrder() *orders.Order {
	o.mu.Lock()
	defer o.mu.Unlock()
	return copyOrder(o.draft)
}

// Buyer returns the widget prefill captured from the shipping form.
func (o *Orchestrator) Buyer() payment.Prefill {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buyer
}

// Status returns a snapshot for rendering.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := Status{Step: o.step, LastError: o.lastErr, ActiveOrder: copyOrder(o.draft)}
	if o.launch != nil {
		st.OrderRef = o.launch.orderRef
	}
	if o.lastOutcome != nil {
		out := *o.lastOutcome
		st.LastOutcome = &out
	}
	return st
}

// BeginCheckout validates the shipping form and persists the draft order:
// one line item per cart line in cart order, one shipping record, and one
// pending order header. It returns the order id.
//
// Line items and shipping records written before a failure are left in
// place; no compensating deletes are issued.
func (o *Orchestrator) BeginCheckout(ctx context.Context, snap cart.Snapshot, in validation.ShippingInput) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.refreshLocked(ctx)

	if !o.step.canBegin() {
		return "", fmt.Errorf("%w: cannot begin checkout in %s", ErrIllegalState, o.step)
	}
	if snap.Len() == 0 {
		o.lastErr = "Your cart is empty."
		o.saveLocked(ctx)
		return "", ErrEmptyCart
	}
	if err := validation.ValidateShipping(o.validator, in); err != nil {
		o.lastErr = err.Error()
		o.saveLocked(ctx)
		return "", err
	}
	total, err := priceSnapshot(snap, o.opts.DeliveryCharge)
	if err != nil {
		o.lastErr = err.Error()
		o.saveLocked(ctx)
		return "", err
	}
	in = validation.NormalizeShipping(in)
	snap = snap.Clone()

	o.step = StepShippingEntered
	o.draft = nil
	o.launch = nil

	itemIDs := make([]string, 0, snap.Len())
	for _, it := range snap.Items {
		id, err := o.backend.CreateOrderItem(ctx, orders.OrderItem{
			ProductID: it.ProductID,
			Variant:   it.Variant,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
		if err != nil {
			return "", o.backendFailureLocked(ctx, "createOrderItem", err)
		}
		itemIDs = append(itemIDs, id)
	}

	shipID, err := o.backend.CreateShippingInfo(ctx, orders.ShippingInfo{
		FullName:   in.FullName,
		Address:    in.Address,
		City:       in.City,
		State:      in.State,
		PostalCode: in.PostalCode,
		Phone:      in.Phone,
		Email:      in.Email,
		UserID:     o.userID,
	})
	if err != nil {
		return "", o.backendFailureLocked(ctx, "createShippingInfo", err)
	}

	draft := orders.Order{
		UserID:         o.userID,
		Status:         orders.StatusPending,
		OrderItemIDs:   itemIDs,
		ShippingInfoID: shipID,
		Total:          total,
		Currency:       o.opts.Currency,
	}
	id, err := o.backend.CreateOrderDetail(ctx, draft)
	if err != nil {
		return "", o.backendFailureLocked(ctx, "createOrderDetail", err)
	}
	draft.ID = id
	now := o.now()
	draft.CreatedAt, draft.UpdatedAt = now, now

	o.draft = &draft
	o.buyer = payment.Prefill{Name: in.FullName, Email: in.Email, Contact: in.Phone}
	o.step = StepDraftCreated
	o.lastErr = ""
	o.saveLocked(ctx)

	log.Printf("[checkout] draft created user=%s order=%s items=%d total=%d", o.userID, id, len(itemIDs), draft.Total)
	o.count(ctx, "CheckoutStarted")
	o.notify(ctx, Event{Type: EventCheckoutStarted, OrderID: id, UserID: o.userID, Amount: draft.Total, Currency: draft.Currency})
	return id, nil
}

// priceSnapshot checks every cart line and returns the order total.
func priceSnapshot(snap cart.Snapshot, delivery int64) (int64, error) {
	for i, it := range snap.Items {
		switch {
		case it.Quantity <= 0:
			return 0, &validation.ValidationError{Field: fmt.Sprintf("items[%d].quantity", i), Tag: "gt", Message: "must be greater than 0"}
		case it.UnitPrice <= 0:
			return 0, &validation.ValidationError{Field: fmt.Sprintf("items[%d].unit_price", i), Tag: "gt", Message: "must be greater than 0"}
		}
	}
	total, err := snap.Total(delivery)
	if err != nil {
		return 0, &validation.ValidationError{Field: "total", Tag: "overflow", Message: "is too large"}
	}
	if total <= 0 {
		return 0, &validation.ValidationError{Field: "total", Tag: "gt", Message: "must be greater than 0"}
	}
	return total, nil
}

func (o *Orchestrator) backendFailureLocked(ctx context.Context, op string, err error) error {
	be := &BackendError{Op: op, Err: err}
	o.step = StepCart
	o.draft = nil
	o.lastErr = "Checkout failed: " + err.Error()
	o.saveLocked(ctx)
	log.Printf("[checkout] begin failed user=%s op=%s: %v", o.userID, op, err)
	o.count(ctx, "CheckoutBackendError")
	return be
}

// LaunchPayment opens the payment widget for the active draft. It returns as
// soon as the widget is open; the result arrives through the widget's
// callbacks and can be awaited with Await.
//
// If the widget cannot be opened a *GatewayInitError is returned and the
// session stays in DRAFT_CREATED, so the call may be retried without
// creating another draft.
func (o *Orchestrator) LaunchPayment(ctx context.Context, orderID string, amount int64, buyer payment.Prefill) error {
	o.mu.Lock()
	o.refreshLocked(ctx)
	if o.step != StepDraftCreated || o.draft == nil || o.draft.ID != orderID {
		step := o.step
		o.mu.Unlock()
		return fmt.Errorf("%w: cannot launch payment for %s in %s", ErrIllegalState, orderID, step)
	}
	if amount != o.draft.Total {
		total := o.draft.Total
		o.mu.Unlock()
		return fmt.Errorf("%w: %d != %d", ErrAmountMismatch, amount, total)
	}
	draft := *o.draft
	o.mu.Unlock()

	ref, err := o.orderRef(ctx, draft)
	if err != nil {
		return o.initFailure(ctx, nil, err)
	}
	// the ref on the order lets support and the worker match gateway
	// payloads to the draft
	if _, err := o.backend.UpdateOrderDetail(ctx, draft.ID, orders.OrderUpdate{
		GatewayOrderID: orders.Str(ref),
		ExpectedStatus: orders.StatusPending,
	}); err != nil {
		o.mu.Lock()
		o.lastErr = "Could not open payment: " + err.Error()
		o.saveLocked(ctx)
		o.mu.Unlock()
		log.Printf("[checkout] record order ref user=%s order=%s: %v", o.userID, draft.ID, err)
		return &BackendError{Op: "updateOrderDetail", Err: err}
	}

	l := &launch{orderID: draft.ID, orderRef: ref, amount: amount, openedAt: o.now(), done: make(chan struct{})}
	cfg := payment.WidgetConfig{
		Options: payment.Options{
			Key:         o.opts.GatewayKey,
			Amount:      amount,
			Currency:    draft.Currency,
			Name:        o.opts.StoreName,
			Description: o.opts.Description,
			OrderID:     ref,
			Prefill:     buyer,
			Theme:       payment.Theme{Color: o.opts.ThemeColor},
		},
		Handler: func(ctx context.Context, resp payment.SuccessResponse) {
			if err := o.succeed(ctx, l, resp); err != nil {
				log.Printf("[checkout] success callback order=%s: %v", l.orderID, err)
			}
		},
		OnFailure: func(ctx context.Context, resp payment.FailureResponse) {
			if err := o.fail(ctx, l, resp); err != nil {
				log.Printf("[checkout] failure callback order=%s: %v", l.orderID, err)
			}
		},
		OnDismiss: func(ctx context.Context) {
			if err := o.dismiss(ctx, l, "user_dismissed"); err != nil {
				log.Printf("[checkout] dismiss callback order=%s: %v", l.orderID, err)
			}
		},
	}

	o.mu.Lock()
	if o.step != StepDraftCreated || o.draft == nil || o.draft.ID != draft.ID {
		o.mu.Unlock()
		return fmt.Errorf("%w: session changed during launch", ErrIllegalState)
	}
	o.draft.GatewayOrderID = ref
	o.launch = l
	o.step = StepAwaitingPayment
	o.lastErr = ""
	o.saveLocked(ctx)
	o.mu.Unlock()

	if err := o.gateway.Open(ctx, cfg); err != nil {
		return o.initFailure(ctx, l, err)
	}

	o.mu.Lock()
	if o.launch == l {
		o.armLocked(l)
	}
	o.mu.Unlock()

	log.Printf("[checkout] awaiting payment user=%s order=%s ref=%s amount=%d", o.userID, draft.ID, ref, amount)
	return nil
}

func (o *Orchestrator) initFailure(ctx context.Context, l *launch, err error) error {
	o.mu.Lock()
	if l == nil || (o.launch == l && !l.settled) {
		o.launch = nil
		o.step = StepDraftCreated
	}
	o.lastErr = "Could not open payment: " + err.Error()
	o.saveLocked(ctx)
	o.mu.Unlock()
	log.Printf("[checkout] gateway init failed user=%s: %v", o.userID, err)
	o.count(ctx, "GatewayInitError")
	return &GatewayInitError{Err: err}
}

// orderRef obtains the gateway order reference for a draft. Without an
// OrderCreator it is a local token tying the widget session to the draft; it
// is not a gateway-issued order id.
func (o *Orchestrator) orderRef(ctx context.Context, draft orders.Order) (string, error) {
	if o.creator != nil {
		return o.creator.CreateOrder(ctx, draft.Total, draft.Currency, draft.ID)
	}
	return fmt.Sprintf("order_%d_%s", o.now().UnixMilli(), draft.ID), nil
}

// OnPaymentSuccess reconciles a success payload. resp.OrderID selects the
// launch; it may name the most recent launch even after that launch timed
// out, so a late payment is still recorded. An empty OrderID means the
// launch awaiting payment.
func (o *Orchestrator) OnPaymentSuccess(ctx context.Context, resp payment.SuccessResponse) error {
	l, err := o.launchFor(ctx, resp.OrderID, true)
	if err != nil {
		return err
	}
	return o.succeed(ctx, l, resp)
}

// OnPaymentFailure records a gateway failure for the launch awaiting payment
// under resp.OrderID.
func (o *Orchestrator) OnPaymentFailure(ctx context.Context, resp payment.FailureResponse) error {
	l, err := o.launchFor(ctx, resp.OrderID, false)
	if err != nil {
		return err
	}
	return o.fail(ctx, l, resp)
}

// OnPaymentDismiss records that the buyer closed the widget opened under
// orderRef.
func (o *Orchestrator) OnPaymentDismiss(ctx context.Context, orderRef string) error {
	l, err := o.launchFor(ctx, orderRef, false)
	if err != nil {
		return err
	}
	return o.dismiss(ctx, l, "user_dismissed")
}

// launchFor finds the launch opened under ref after loading the persisted
// session. settled admits the most recent settled launch as well.
func (o *Orchestrator) launchFor(ctx context.Context, ref string, settled bool) (*launch, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.refreshLocked(ctx)
	switch {
	case ref == "" && o.launch != nil:
		return o.launch, nil
	case ref == "":
		return nil, fmt.Errorf("%w: no payment in progress", ErrIllegalState)
	case o.launch != nil && o.launch.orderRef == ref:
		return o.launch, nil
	case settled && o.prev != nil && o.prev.orderRef == ref:
		return o.prev, nil
	}
	return nil, fmt.Errorf("%w: %s", payment.ErrUnknownSession, ref)
}

func (o *Orchestrator) succeed(ctx context.Context, l *launch, resp payment.SuccessResponse) error {
	if l == nil {
		return fmt.Errorf("%w: no payment in progress", ErrIllegalState)
	}
	if resp.PaymentID == "" {
		return errors.New("success payload without payment id")
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.refreshLocked(ctx)

	late := false
	switch {
	case l.paidWith == resp.PaymentID:
		log.Printf("[checkout] duplicate success order=%s payment=%s ignored", l.orderID, resp.PaymentID)
		return nil
	case l.settled && l.timedOut && l.paidWith == "":
		// the buyer paid after we gave up waiting; the money is captured, so
		// the order is finalised anyway
		late = true
	case l.settled:
		return fmt.Errorf("%w: launch for %s already settled as %s", ErrIllegalState, l.orderID, l.outcome.Step)
	case o.launch != l || o.step != StepAwaitingPayment:
		return fmt.Errorf("%w: no payment awaited for %s", ErrIllegalState, l.orderID)
	}

	currency := o.opts.Currency
	if o.draft != nil && o.draft.ID == l.orderID && o.draft.Currency != "" {
		currency = o.draft.Currency
	}
	rec := &orders.Payment{
		ID:               resp.PaymentID,
		OrderID:          l.orderID,
		Amount:           l.amount,
		Currency:         currency,
		GatewayOrderID:   resp.OrderID,
		GatewayPaymentID: resp.PaymentID,
		GatewaySignature: resp.Signature,
	}

	key := PaymentKey(resp.PaymentID)
	claimed, err := o.ledger.Claim(ctx, key, l.orderID)
	if err != nil {
		// the payment record is keyed by payment id, so proceeding is still safe
		log.Printf("[checkout] ledger claim order=%s payment=%s: %v", l.orderID, resp.PaymentID, err)
		claimed = true
	}
	if !claimed {
		entry, gerr := o.ledger.Get(ctx, key)
		if gerr == nil && entry != nil && entry.Status != idempotency.StatusFailed {
			// another delivery of this payment owns the reconcile; the
			// session only has to catch up
			log.Printf("[checkout] payment=%s already %s, settling order=%s", resp.PaymentID, entry.Status, l.orderID)
			o.markPaidLocked(l, resp.PaymentID)
			o.paidLocked(ctx, l, resp, late, rec, o.refetchLocked(ctx, l, resp))
			return nil
		}
	}

	o.markPaidLocked(l, resp.PaymentID)

	final, rerr := o.reconciler.Finalize(ctx, l.orderID, l.amount, currency, resp)
	if rerr != nil {
		log.Printf("[checkout] reconcile deferred order=%s payment=%s: %v", l.orderID, resp.PaymentID, rerr)
		if ferr := o.ledger.Fail(ctx, key, rerr.Error()); ferr != nil {
			log.Printf("[checkout] ledger fail order=%s: %v", l.orderID, ferr)
		}
		o.count(ctx, "ReconcileDeferred")
		o.notify(ctx, Event{
			Type:             EventReconcileRequested,
			OrderID:          l.orderID,
			UserID:           o.userID,
			Amount:           l.amount,
			Currency:         currency,
			GatewayOrderID:   resp.OrderID,
			GatewayPaymentID: resp.PaymentID,
			GatewaySignature: resp.Signature,
			Reason:           rerr.Error(),
		})
	} else if cerr := o.ledger.Complete(ctx, key, resultJSON(l.orderID, orders.StatusPaid)); cerr != nil {
		log.Printf("[checkout] ledger complete order=%s: %v", l.orderID, cerr)
	}
	if final != nil {
		rec = final
	}

	order := o.paidFallback(l, resp)
	if rerr == nil {
		order = o.refetchLocked(ctx, l, resp)
	}
	o.paidLocked(ctx, l, resp, late, rec, order)

	o.count(ctx, "PaymentSucceeded")
	o.notify(ctx, Event{
		Type:             EventOrderPaid,
		OrderID:          l.orderID,
		UserID:           o.userID,
		Amount:           l.amount,
		Currency:         currency,
		GatewayOrderID:   resp.OrderID,
		GatewayPaymentID: resp.PaymentID,
	})
	return nil
}

func (o *Orchestrator) markPaidLocked(l *launch, paymentID string) {
	l.settled = true
	l.paidWith = paymentID
	if l.timer != nil {
		l.timer.Stop()
	}
}

// paidLocked moves the session to PAID. A late success only takes over the
// session if the buyer has not started another checkout meanwhile.
func (o *Orchestrator) paidLocked(ctx context.Context, l *launch, resp payment.SuccessResponse, late bool, rec *orders.Payment, order *orders.Order) {
	out := Outcome{Step: StepPaid, OrderID: l.orderID, Order: order, Payment: rec, Message: "Payment successful. Your order has been placed."}
	if !late || o.step == StepCart {
		if err := o.carts.Clear(ctx, o.userID); err != nil {
			log.Printf("[checkout] clear cart user=%s: %v", o.userID, err)
		}
		o.step = StepPaid
		o.draft = copyOrder(order)
		o.lastErr = ""
		if o.launch == l {
			o.launch = nil
		}
	}
	o.settleLocked(l, out)
	o.saveLocked(ctx)
	log.Printf("[checkout] paid user=%s order=%s payment=%s late=%t", o.userID, l.orderID, resp.PaymentID, late)
}

// refetchLocked reads the finalised order, falling back to the draft marked
// paid when the backend cannot be reached.
func (o *Orchestrator) refetchLocked(ctx context.Context, l *launch, resp payment.SuccessResponse) *orders.Order {
	order, err := o.backend.GetOrderByID(ctx, l.orderID)
	if err != nil {
		log.Printf("[checkout] refetch order=%s failed, using draft: %v", l.orderID, err)
		return o.paidFallback(l, resp)
	}
	return order
}

func (o *Orchestrator) paidFallback(l *launch, resp payment.SuccessResponse) *orders.Order {
	var order orders.Order
	if o.draft != nil && o.draft.ID == l.orderID {
		order = *o.draft
	} else {
		order = orders.Order{ID: l.orderID, UserID: o.userID, Total: l.amount}
	}
	order.Status = orders.StatusPaid
	order.GatewayOrderID = resp.OrderID
	order.GatewayPaymentID = resp.PaymentID
	order.GatewaySignature = resp.Signature
	return &order
}

func (o *Orchestrator) fail(ctx context.Context, l *launch, resp payment.FailureResponse) error {
	if l == nil {
		return fmt.Errorf("%w: no payment in progress", ErrIllegalState)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.refreshLocked(ctx)
	if l.settled || o.launch != l || o.step != StepAwaitingPayment {
		return fmt.Errorf("%w: no payment awaited for %s", ErrIllegalState, l.orderID)
	}

	upd := orders.OrderUpdate{
		Status:         orders.Str(orders.StatusFailed),
		ExpectedStatus: orders.StatusPending,
		FailureCode:    orders.Str(resp.Code),
		FailureReason:  orders.Str(resp.Description),
	}
	if resp.PaymentID != "" {
		upd.GatewayPaymentID = orders.Str(resp.PaymentID)
	}
	o.bestEffortUpdateLocked(ctx, l.orderID, upd)

	gerr := &GatewayOutcomeError{Code: resp.Code, Description: resp.Description}
	msg := fmt.Sprintf("Payment failed: %s. Please start a new checkout.", resp.Description)
	o.returnToCartLocked(l, Outcome{Step: StepFailed, OrderID: l.orderID, Err: gerr, Message: msg})
	o.saveLocked(ctx)

	log.Printf("[checkout] payment failed user=%s order=%s code=%s", o.userID, l.orderID, resp.Code)
	o.count(ctx, "PaymentFailed")
	o.notify(ctx, Event{Type: EventOrderFailed, OrderID: l.orderID, UserID: o.userID, Reason: resp.Code + ": " + resp.Description})
	return nil
}

func (o *Orchestrator) dismiss(ctx context.Context, l *launch, reason string) error {
	if l == nil {
		return fmt.Errorf("%w: no payment in progress", ErrIllegalState)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.refreshLocked(ctx)
	return o.dismissLocked(ctx, l, reason)
}

func (o *Orchestrator) dismissLocked(ctx context.Context, l *launch, reason string) error {
	if l.settled || o.launch != l || o.step != StepAwaitingPayment {
		return fmt.Errorf("%w: no payment awaited for %s", ErrIllegalState, l.orderID)
	}

	o.bestEffortUpdateLocked(ctx, l.orderID, orders.OrderUpdate{
		Status:             orders.Str(orders.StatusCancelled),
		ExpectedStatus:     orders.StatusPending,
		CancellationReason: orders.Str(reason),
	})

	msg := "Payment cancelled. You can try again."
	if reason == "timeout" {
		l.timedOut = true
		msg = "Payment timed out. You can try again."
	}
	gerr := &GatewayOutcomeError{Code: reason, Description: reason, Cancelled: true}
	o.returnToCartLocked(l, Outcome{Step: StepCancelled, OrderID: l.orderID, Err: gerr, Message: msg})
	o.saveLocked(ctx)

	log.Printf("[checkout] payment cancelled user=%s order=%s reason=%s", o.userID, l.orderID, reason)
	o.count(ctx, "PaymentCancelled")
	o.notify(ctx, Event{Type: EventOrderCancelled, OrderID: l.orderID, UserID: o.userID, Reason: reason})
	return nil
}

// expire ends an unanswered launch as a cancellation with reason timeout.
func (o *Orchestrator) expire(l *launch) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	o.mu.Lock()
	defer o.mu.Unlock()
	// another instance may have settled it already
	o.refreshLocked(ctx)
	if l.settled || o.launch != l {
		return
	}
	if err := o.dismissLocked(ctx, l, "timeout"); err != nil {
		log.Printf("[checkout] expire order=%s: %v", l.orderID, err)
	}
}

// bestEffortUpdateLocked writes a failure/cancellation marker. Errors are
// logged only: the buyer is returned to the cart regardless.
func (o *Orchestrator) bestEffortUpdateLocked(ctx context.Context, orderID string, upd orders.OrderUpdate) {
	if _, err := o.backend.UpdateOrderDetail(ctx, orderID, upd); err != nil {
		log.Printf("[checkout] mark order=%s %s failed: %v", orderID, *upd.Status, err)
	}
}

func (o *Orchestrator) returnToCartLocked(l *launch, out Outcome) {
	o.step = StepCart
	o.draft = nil
	o.launch = nil
	o.lastErr = out.Message
	o.settleLocked(l, out)
}

func (o *Orchestrator) settleLocked(l *launch, out Outcome) {
	o.lastOutcome = &out
	if o.launch != l {
		o.prev = l
	}
	o.signalLocked(l, out)
}

// signalLocked marks l settled and wakes its waiters once.
func (o *Orchestrator) signalLocked(l *launch, out Outcome) {
	l.settled = true
	if l.timer != nil {
		l.timer.Stop()
	}
	if l.signalled {
		return
	}
	l.signalled = true
	l.outcome = out
	close(l.done)
}

// Await blocks until the current launch settles or ctx is done. With no
// launch in progress it returns the last outcome, or ErrIllegalState if
// there is none.
func (o *Orchestrator) Await(ctx context.Context) (Outcome, error) {
	o.mu.Lock()
	l := o.launch
	last := o.lastOutcome
	o.mu.Unlock()

	if l == nil {
		if last != nil {
			return *last, nil
		}
		return Outcome{}, fmt.Errorf("%w: no payment launched", ErrIllegalState)
	}
	select {
	case <-l.done:
		o.mu.Lock()
		defer o.mu.Unlock()
		return l.outcome, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

func (o *Orchestrator) count(ctx context.Context, name string) {
	if o.metrics == nil {
		return
	}
	o.metrics.Count(ctx, name, map[string]string{"currency": o.opts.Currency})
}

func (o *Orchestrator) notify(ctx context.Context, ev Event) {
	if o.notifier == nil {
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = o.now().UTC()
	}
	if err := o.notifier.Notify(ctx, ev); err != nil {
		log.Printf("[checkout] publish %s order=%s: %v", ev.Type, ev.OrderID, err)
	}
}

func copyOrder(o *orders.Order) *orders.Order {
	if o == nil {
		return nil
	}
	cp := *o
	cp.OrderItemIDs = append([]string(nil), o.OrderItemIDs...)
	return &cp
}
