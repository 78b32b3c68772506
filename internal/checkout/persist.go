package checkout

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/orders"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/payment"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/state"
)

// sessionRecord is a checkout session as stored in the state repository.
// Every instance serving the buyer loads it before acting, so begin, launch
// and the widget callbacks may each land on a different instance.
type sessionRecord struct {
	Version     int64                `json:"version" dynamodbav:"version"`
	Step        Step                 `json:"step" dynamodbav:"step"`
	LastError   string               `json:"last_error,omitempty" dynamodbav:"last_error,omitempty"`
	Draft       *orders.Order        `json:"draft,omitempty" dynamodbav:"draft,omitempty"`
	Buyer       payment.Prefill      `json:"buyer" dynamodbav:"buyer"`
	Launch      *launchRecord        `json:"launch,omitempty" dynamodbav:"launch,omitempty"`
	LastOutcome *Outcome             `json:"last_outcome,omitempty" dynamodbav:"last_outcome,omitempty"`
	OutcomeErr  *GatewayOutcomeError `json:"outcome_err,omitempty" dynamodbav:"outcome_err,omitempty"`
}

// launchRecord is the most recent payment launch, active or settled.
type launchRecord struct {
	OrderID  string    `json:"order_id" dynamodbav:"order_id"`
	OrderRef string    `json:"order_ref" dynamodbav:"order_ref"`
	Amount   int64     `json:"amount" dynamodbav:"amount"`
	OpenedAt time.Time `json:"opened_at" dynamodbav:"opened_at"`
	Settled  bool      `json:"settled,omitempty" dynamodbav:"settled,omitempty"`
	TimedOut bool      `json:"timed_out,omitempty" dynamodbav:"timed_out,omitempty"`
	PaidWith string    `json:"paid_with,omitempty" dynamodbav:"paid_with,omitempty"`
}

func sessionKey(userID string) string {
	return state.Key(state.KeyCheckout, userID)
}

// Refresh loads the persisted session if another instance has moved it on
// since this one last saw it.
func (o *Orchestrator) Refresh(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.refreshLocked(ctx)
}

func (o *Orchestrator) refreshLocked(ctx context.Context) {
	if o.repo == nil {
		return
	}
	var rec sessionRecord
	err := o.repo.Get(ctx, sessionKey(o.userID), &rec)
	if errors.Is(err, state.ErrNotFound) {
		return
	}
	if err != nil {
		log.Printf("[checkout] load session user=%s: %v", o.userID, err)
		return
	}
	if rec.Version <= o.version {
		return
	}
	o.applyLocked(rec)
}

// saveLocked persists the session. A failed write is logged; this instance
// keeps serving the buyer from memory.
func (o *Orchestrator) saveLocked(ctx context.Context) {
	if o.repo == nil {
		return
	}
	o.version++
	if err := o.repo.Set(ctx, sessionKey(o.userID), o.recordLocked()); err != nil {
		log.Printf("[checkout] save session user=%s version=%d: %v", o.userID, o.version, err)
	}
}

func (o *Orchestrator) recordLocked() sessionRecord {
	rec := sessionRecord{
		Version:   o.version,
		Step:      o.step,
		LastError: o.lastErr,
		Draft:     copyOrder(o.draft),
		Buyer:     o.buyer,
	}
	l := o.launch
	if l == nil {
		l = o.prev
	}
	if l != nil {
		rec.Launch = &launchRecord{
			OrderID:  l.orderID,
			OrderRef: l.orderRef,
			Amount:   l.amount,
			OpenedAt: l.openedAt,
			Settled:  l.settled,
			TimedOut: l.timedOut,
			PaidWith: l.paidWith,
		}
	}
	if o.lastOutcome != nil {
		out := *o.lastOutcome
		rec.OutcomeErr = out.Err
		rec.LastOutcome = &out
	}
	return rec
}

// applyLocked replaces the in-memory session with rec. A launch this
// instance already tracks keeps its timer and waiters when rec still names it.
func (o *Orchestrator) applyLocked(rec sessionRecord) {
	o.version = rec.Version
	o.step = rec.Step
	o.lastErr = rec.LastError
	o.draft = rec.Draft
	o.buyer = rec.Buyer
	o.lastOutcome = nil
	if rec.LastOutcome != nil {
		out := *rec.LastOutcome
		out.Err = rec.OutcomeErr
		o.lastOutcome = &out
	}

	cur := o.launch
	if cur == nil {
		cur = o.prev
	}
	var l *launch
	if lr := rec.Launch; lr != nil {
		l = cur
		if l == nil || l.orderRef != lr.OrderRef {
			l = &launch{
				orderID:  lr.OrderID,
				orderRef: lr.OrderRef,
				amount:   lr.Amount,
				openedAt: lr.OpenedAt,
				done:     make(chan struct{}),
			}
		}
		l.timedOut = lr.TimedOut
		l.paidWith = lr.PaidWith
		if lr.Settled && !l.settled {
			out := Outcome{Step: o.step, OrderID: l.orderID}
			if o.lastOutcome != nil && o.lastOutcome.OrderID == l.orderID {
				out = *o.lastOutcome
			}
			o.signalLocked(l, out)
		}
	}
	if cur != nil && cur != l && !cur.settled {
		o.signalLocked(cur, Outcome{
			Step:    StepCancelled,
			OrderID: cur.orderID,
			Message: "Payment superseded by a newer checkout.",
		})
	}

	o.launch, o.prev = nil, l
	if l != nil && !l.settled && o.step == StepAwaitingPayment {
		o.launch, o.prev = l, nil
		o.armLocked(l)
	}
}

// armLocked starts the payment timeout of l, counting from when the widget
// was opened, which may have been on another instance.
func (o *Orchestrator) armLocked(l *launch) {
	if o.opts.PaymentTimeout <= 0 || l.timer != nil || l.settled {
		return
	}
	wait := o.opts.PaymentTimeout - o.now().Sub(l.openedAt)
	if wait < 0 {
		wait = 0
	}
	l.timer = time.AfterFunc(wait, func() { o.expire(l) })
}
