package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/idempotency"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/orders"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/payment"
)

// Ledger deduplicates payment success callbacks by gateway payment id.
// Implemented by *idempotency.Store and *idempotency.Memory.
type Ledger interface {
	Claim(ctx context.Context, key, orderID string) (bool, error)
	Get(ctx context.Context, key string) (*idempotency.Record, error)
	Complete(ctx context.Context, key, result string) error
	Fail(ctx context.Context, key, note string) error
}

// PaymentKey is the ledger key of a gateway payment id.
func PaymentKey(paymentID string) string {
	return "payment:" + paymentID
}

// Reconciler writes a payment success back onto its order: the payment
// record first, then the order header to paid. Both writes are idempotent,
// so a reconciliation can be replayed until it sticks.
type Reconciler struct {
	backend Backend
	ledger  Ledger
}

// NewReconciler returns a Reconciler.
func NewReconciler(backend Backend, ledger Ledger) *Reconciler {
	return &Reconciler{backend: backend, ledger: ledger}
}

// Finalize records the payment and marks the order paid. Writing the
// payment record first means an order is never paid without one.
func (r *Reconciler) Finalize(ctx context.Context, orderID string, amount int64, currency string, resp payment.SuccessResponse) (*orders.Payment, error) {
	p := orders.Payment{
		OrderID:          orderID,
		Amount:           amount,
		Currency:         currency,
		GatewayOrderID:   resp.OrderID,
		GatewayPaymentID: resp.PaymentID,
		GatewaySignature: resp.Signature,
	}
	id, err := r.backend.CreatePaymentDetail(ctx, p)
	switch {
	case errors.Is(err, orders.ErrDuplicatePayment):
		id = resp.PaymentID
	case err != nil:
		return nil, &BackendError{Op: "createPaymentDetail", Err: err}
	}
	p.ID = id

	_, err = r.backend.UpdateOrderDetail(ctx, orderID, orders.OrderUpdate{
		Status:           orders.Str(orders.StatusPaid),
		GatewayOrderID:   orders.Str(resp.OrderID),
		GatewayPaymentID: orders.Str(resp.PaymentID),
		GatewaySignature: orders.Str(resp.Signature),
	})
	if err != nil {
		return &p, &BackendError{Op: "updateOrderDetail", Err: err}
	}
	return &p, nil
}

// Replay finalises a reconcile.requested event. It is a no-op when the
// ledger already records the payment as done.
func (r *Reconciler) Replay(ctx context.Context, ev Event) error {
	if ev.Type != EventReconcileRequested {
		return fmt.Errorf("replay: unexpected event type %q", ev.Type)
	}
	if ev.GatewayPaymentID == "" || ev.OrderID == "" {
		return errors.New("replay: event missing order or payment id")
	}
	key := PaymentKey(ev.GatewayPaymentID)

	rec, err := r.ledger.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("replay: read ledger: %w", err)
	}
	if rec != nil && rec.Status == idempotency.StatusDone {
		log.Printf("[reconcile] already done order=%s payment=%s", ev.OrderID, ev.GatewayPaymentID)
		return nil
	}
	if rec == nil {
		if _, err := r.ledger.Claim(ctx, key, ev.OrderID); err != nil {
			return fmt.Errorf("replay: claim ledger: %w", err)
		}
	}

	_, err = r.Finalize(ctx, ev.OrderID, ev.Amount, ev.Currency, payment.SuccessResponse{
		PaymentID: ev.GatewayPaymentID,
		OrderID:   ev.GatewayOrderID,
		Signature: ev.GatewaySignature,
	})
	if err != nil {
		if ferr := r.ledger.Fail(ctx, key, err.Error()); ferr != nil {
			log.Printf("[reconcile] ledger fail order=%s: %v", ev.OrderID, ferr)
		}
		return fmt.Errorf("replay: %w", err)
	}
	if err := r.ledger.Complete(ctx, key, resultJSON(ev.OrderID, orders.StatusPaid)); err != nil {
		return fmt.Errorf("replay: complete ledger: %w", err)
	}
	log.Printf("[reconcile] finalised order=%s payment=%s", ev.OrderID, ev.GatewayPaymentID)
	return nil
}

func resultJSON(orderID, status string) string {
	b, _ := json.Marshal(map[string]string{"order_id": orderID, "status": status})
	return string(b)
}
