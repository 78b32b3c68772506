package payment

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// openSessionTTL bounds how long an unreported session is kept. A session
// settled through another instance is never reported here.
const openSessionTTL = 24 * time.Hour

type openSession struct {
	cfg    WidgetConfig
	opened time.Time
}

// HostedWidget is a Gateway for a widget rendered by the storefront client.
// Open registers the session and its callbacks under the gateway order id;
// the client fetches the Options, runs the widget, and reports the outcome
// back through Succeed, Fail or Dismiss. The first report consumes the
// session, so callbacks are mutually exclusive.
type HostedWidget struct {
	mu       sync.Mutex
	sessions map[string]openSession
	secret   string
	nowFunc  func() time.Time
}

// NewHostedWidget returns a widget registry. A non-empty secret enables
// signature verification of success payloads.
func NewHostedWidget(secret string) *HostedWidget {
	return &HostedWidget{sessions: map[string]openSession{}, secret: secret, nowFunc: time.Now}
}

// Open implements Gateway.
func (w *HostedWidget) Open(ctx context.Context, cfg WidgetConfig) error {
	switch {
	case cfg.Key == "":
		return fmt.Errorf("%w: gateway key not configured", ErrWidgetUnavailable)
	case cfg.OrderID == "":
		return fmt.Errorf("%w: missing order reference", ErrWidgetUnavailable)
	case cfg.Amount <= 0:
		return fmt.Errorf("%w: amount must be positive", ErrWidgetUnavailable)
	case cfg.Handler == nil || cfg.OnFailure == nil || cfg.OnDismiss == nil:
		return fmt.Errorf("%w: callbacks not set", ErrWidgetUnavailable)
	}
	w.mu.Lock()
	now := w.nowFunc()
	for ref, sess := range w.sessions {
		if now.Sub(sess.opened) > openSessionTTL {
			delete(w.sessions, ref)
		}
	}
	w.sessions[cfg.OrderID] = openSession{cfg: cfg, opened: now}
	w.mu.Unlock()
	log.Printf("[payment] widget opened order_ref=%s amount=%d currency=%s", cfg.OrderID, cfg.Amount, cfg.Currency)
	return nil
}

// Options returns the client-facing configuration of an open session.
func (w *HostedWidget) Options(orderRef string) (Options, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	sess, ok := w.sessions[orderRef]
	if !ok {
		return Options{}, ErrUnknownSession
	}
	return sess.cfg.Options, nil
}

func (w *HostedWidget) take(orderRef string) (WidgetConfig, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	sess, ok := w.sessions[orderRef]
	if ok {
		delete(w.sessions, orderRef)
	}
	return sess.cfg, ok
}

// Succeed delivers a success payload. The signature is checked before the
// session is consumed, so a forged payload cannot close it. ErrUnknownSession
// means the session was not opened here or was already reported; it is only
// returned for a payload whose signature checks out.
func (w *HostedWidget) Succeed(ctx context.Context, resp SuccessResponse) error {
	if w.secret != "" && !VerifySignature(w.secret, resp) {
		return ErrBadSignature
	}
	cfg, ok := w.take(resp.OrderID)
	if !ok {
		return ErrUnknownSession
	}
	cfg.Handler(ctx, resp)
	return nil
}

// Fail delivers a payment.failed payload for orderRef.
func (w *HostedWidget) Fail(ctx context.Context, orderRef string, resp FailureResponse) error {
	cfg, ok := w.take(orderRef)
	if !ok {
		return ErrUnknownSession
	}
	cfg.OnFailure(ctx, resp)
	return nil
}

// Dismiss reports that the buyer closed the widget without paying.
func (w *HostedWidget) Dismiss(ctx context.Context, orderRef string) error {
	cfg, ok := w.take(orderRef)
	if !ok {
		return ErrUnknownSession
	}
	cfg.OnDismiss(ctx)
	return nil
}
