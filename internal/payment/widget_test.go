package payment

import (
	"context"
	"errors"
	"testing"
	"time"
)

type calls struct {
	success []SuccessResponse
	failure []FailureResponse
	dismiss int
}

func (c *calls) config(ref string) WidgetConfig {
	return WidgetConfig{
		Options: Options{Key: "rzp_test", Amount: 2050, Currency: "INR", OrderID: ref},
		Handler: func(ctx context.Context, r SuccessResponse) {
			c.success = append(c.success, r)
		},
		OnFailure: func(ctx context.Context, r FailureResponse) {
			c.failure = append(c.failure, r)
		},
		OnDismiss: func(ctx context.Context) {
			c.dismiss++
		},
	}
}

func TestHostedWidget_OpenValidates(t *testing.T) {
	w := NewHostedWidget("")
	c := &calls{}
	cfg := c.config("order_1")
	cfg.Key = ""
	if err := w.Open(context.Background(), cfg); !errors.Is(err, ErrWidgetUnavailable) {
		t.Fatalf("expected ErrWidgetUnavailable, got %v", err)
	}
	cfg = c.config("order_1")
	cfg.OnDismiss = nil
	if err := w.Open(context.Background(), cfg); !errors.Is(err, ErrWidgetUnavailable) {
		t.Fatalf("expected ErrWidgetUnavailable for missing callback, got %v", err)
	}
}

func TestHostedWidget_AtMostOneCallback(t *testing.T) {
	w := NewHostedWidget("")
	c := &calls{}
	ctx := context.Background()
	if err := w.Open(ctx, c.config("order_1")); err != nil {
		t.Fatalf("Open: %v", err)
	}
	opts, err := w.Options("order_1")
	if err != nil || opts.Amount != 2050 || opts.Key != "rzp_test" {
		t.Fatalf("Options: %+v %v", opts, err)
	}

	if err := w.Succeed(ctx, SuccessResponse{PaymentID: "pay_1", OrderID: "order_1", Signature: "sig_1"}); err != nil {
		t.Fatalf("Succeed: %v", err)
	}
	if err := w.Succeed(ctx, SuccessResponse{PaymentID: "pay_1", OrderID: "order_1"}); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("second success should be rejected, got %v", err)
	}
	if err := w.Dismiss(ctx, "order_1"); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("dismiss after success should be rejected, got %v", err)
	}
	if len(c.success) != 1 || c.dismiss != 0 || len(c.failure) != 0 {
		t.Fatalf("unexpected callbacks: %+v", c)
	}
}

func TestHostedWidget_FailAndDismiss(t *testing.T) {
	w := NewHostedWidget("")
	c := &calls{}
	ctx := context.Background()
	_ = w.Open(ctx, c.config("order_1"))
	_ = w.Open(ctx, c.config("order_2"))

	if err := w.Fail(ctx, "order_1", FailureResponse{Code: "BAD_REQUEST_ERROR", Description: "card declined"}); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if err := w.Dismiss(ctx, "order_2"); err != nil {
		t.Fatalf("Dismiss: %v", err)
	}
	if len(c.failure) != 1 || c.failure[0].Code != "BAD_REQUEST_ERROR" || c.dismiss != 1 {
		t.Fatalf("unexpected callbacks: %+v", c)
	}

	if _, err := w.Options("order_1"); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("failed session still open: %v", err)
	}
}

func TestHostedWidget_Signature(t *testing.T) {
	w := NewHostedWidget("secret")
	c := &calls{}
	ctx := context.Background()
	_ = w.Open(ctx, c.config("order_1"))

	forged := SuccessResponse{PaymentID: "pay_1", OrderID: "order_1", Signature: "nope"}
	if err := w.Succeed(ctx, forged); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
	if _, err := w.Options("order_1"); err != nil {
		t.Fatalf("forged payload must not consume the session: %v", err)
	}

	good := SuccessResponse{PaymentID: "pay_1", OrderID: "order_1", Signature: Sign("secret", "order_1", "pay_1")}
	if err := w.Succeed(ctx, good); err != nil {
		t.Fatalf("Succeed: %v", err)
	}
	if len(c.success) != 1 {
		t.Fatalf("expected one success, got %d", len(c.success))
	}
}

func TestVerifySignature(t *testing.T) {
	resp := SuccessResponse{OrderID: "order_1", PaymentID: "pay_1"}
	resp.Signature = Sign("k", resp.OrderID, resp.PaymentID)
	if !VerifySignature("k", resp) {
		t.Fatal("valid signature rejected")
	}
	if VerifySignature("other", resp) {
		t.Fatal("signature under another secret accepted")
	}
}

func TestHostedWidget_PrunesStaleSessions(t *testing.T) {
	w := NewHostedWidget("")
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	w.nowFunc = func() time.Time { return now }
	c := &calls{}
	ctx := context.Background()

	if err := w.Open(ctx, c.config("order_old")); err != nil {
		t.Fatalf("Open: %v", err)
	}
	now = now.Add(25 * time.Hour)
	if err := w.Open(ctx, c.config("order_new")); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := w.Options("order_old"); !errors.Is(err, ErrUnknownSession) {
		t.Fatalf("stale session kept: %v", err)
	}
	if _, err := w.Options("order_new"); err != nil {
		t.Fatalf("fresh session dropped: %v", err)
	}
}
