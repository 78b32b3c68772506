package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/aws"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/aws/awstest"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/cart"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/checkout"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/config"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/handlers"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/idempotency"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/orders"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/payment"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/state"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/validation"
)

const testSecret = "rzp_test_secret"

func testConfig() config.Config {
	return config.Config{
		Currency:         "INR",
		DeliveryCharge:   50,
		StoreName:        "Shop",
		GatewayKeyID:     "rzp_test_key",
		GatewayKeySecret: testSecret,
		MetricsNamespace: "Checkout",
	}
}

// tablesConfig names every table, as a deployed instance would.
func tablesConfig() config.Config {
	cfg := testConfig()
	cfg.OrdersTable = "orders"
	cfg.OrderItemsTable = "order_items"
	cfg.ShippingTable = "shipping"
	cfg.PaymentsTable = "payments"
	cfg.IdempotencyTable = "idem"
	cfg.StateTable = "state"
	return cfg
}

func mustNew(t *testing.T, cfg config.Config, clients *aws.AWSClients) *App {
	t.Helper()
	a, err := New(cfg, clients)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestNew_RequiresDynamo(t *testing.T) {
	if _, err := New(testConfig(), nil); err == nil {
		t.Fatal("expected error without clients")
	}
	if _, err := New(testConfig(), &aws.AWSClients{}); err == nil {
		t.Fatal("expected error without a DynamoDB client")
	}
}

func TestNew_LocalFallbacks(t *testing.T) {
	a := mustNew(t, testConfig(), &aws.AWSClients{DynamoDB: awstest.NewDynamo()})
	if _, ok := a.Ledger.(*idempotency.Memory); !ok {
		t.Fatalf("ledger: %T", a.Ledger)
	}
	if _, ok := a.State.(*state.Memory); !ok {
		t.Fatalf("state: %T", a.State)
	}
}

func TestNew_PublishesThroughAWS(t *testing.T) {
	cfg := tablesConfig()
	cfg.QueueURL = "https://sqs.local/queue"

	dynamo := awstest.NewDynamo()
	queue := &awstest.SQS{}
	cw := &awstest.CloudWatch{}
	a := mustNew(t, cfg, &aws.AWSClients{DynamoDB: dynamo, SQS: queue, CloudWatch: cw})

	if _, ok := a.Ledger.(*idempotency.Store); !ok {
		t.Fatalf("ledger: %T", a.Ledger)
	}
	if _, ok := a.State.(*state.DynamoRepository); !ok {
		t.Fatalf("state: %T", a.State)
	}

	ctx := context.Background()
	if _, err := a.Carts.Put(ctx, "u1", cart.Item{ProductID: "A", UnitPrice: 1000, Quantity: 2}); err != nil {
		t.Fatalf("put cart: %v", err)
	}
	snap, err := a.Carts.Snapshot(ctx, "u1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	id, err := a.Sessions.For(ctx, "u1").BeginCheckout(ctx, snap, validation.ShippingInput{
		FullName:   "Asha Rao",
		Address:    "12 MG Road",
		City:       "Bengaluru",
		State:      "KA",
		PostalCode: "560001",
		Phone:      "9876543210",
		Email:      "asha@example.com",
	})
	if err != nil {
		t.Fatalf("BeginCheckout: %v", err)
	}
	if dynamo.Len("orders") != 1 {
		t.Fatalf("order not written to orders table")
	}
	if len(queue.Sent) != 1 || len(cw.Puts) == 0 {
		t.Fatalf("event/metric not published: sent=%d puts=%d", len(queue.Sent), len(cw.Puts))
	}
	if !strings.Contains(queue.Bodies()[0], id) {
		t.Fatalf("event body %q does not name order %s", queue.Bodies()[0], id)
	}
}

type instance struct {
	app    *App
	router *gin.Engine
}

func newInstance(t *testing.T, dynamo *awstest.Dynamo) *instance {
	t.Helper()
	gin.SetMode(gin.TestMode)
	a := mustNew(t, tablesConfig(), &aws.AWSClients{DynamoDB: dynamo})
	r := gin.New()
	handlers.RegisterRoutes(r, a.HandlerConfig())
	return &instance{app: a, router: r}
}

func (in *instance) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(handlers.UserHeader, "u1")
	w := httptest.NewRecorder()
	in.router.ServeHTTP(w, req)
	return w
}

func TestCheckoutAcrossInstances(t *testing.T) {
	// every request may land on a different instance; they share only DynamoDB
	dynamo := awstest.NewDynamo()
	first := newInstance(t, dynamo)
	second := newInstance(t, dynamo)

	w := first.do(t, http.MethodPut, "/cart/items", map[string]any{"product_id": "A", "unit_price": 1000, "quantity": 2})
	if w.Code != http.StatusOK {
		t.Fatalf("put cart: %d %s", w.Code, w.Body.String())
	}
	w = first.do(t, http.MethodPost, "/checkout", map[string]string{
		"full_name":   "Asha Rao",
		"address":     "12 MG Road",
		"city":        "Bengaluru",
		"state":       "KA",
		"postal_code": "560001",
		"phone":       "9876543210",
		"email":       "asha@example.com",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("begin: %d %s", w.Code, w.Body.String())
	}
	var begun struct {
		OrderID string `json:"order_id"`
		Total   int64  `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &begun); err != nil {
		t.Fatal(err)
	}

	w = second.do(t, http.MethodPost, "/checkout/"+begun.OrderID+"/payment", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("launch on second instance: %d %s", w.Code, w.Body.String())
	}
	var launched struct {
		Options payment.Options `json:"options"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &launched); err != nil {
		t.Fatal(err)
	}
	ref := launched.Options.OrderID
	if launched.Options.Amount != begun.Total || launched.Options.Prefill.Email != "asha@example.com" {
		t.Fatalf("widget options: %+v", launched.Options)
	}
	o, err := first.app.Orders.GetOrderByID(context.Background(), begun.OrderID)
	if err != nil || o.GatewayOrderID != ref {
		t.Fatalf("order ref not recorded on draft: %+v err=%v", o, err)
	}

	// the first instance never opened this widget
	forged := payment.SuccessResponse{PaymentID: "pay_1", OrderID: ref, Signature: "forged"}
	if w = first.do(t, http.MethodPost, "/payments/callback/success", forged); w.Code != http.StatusUnauthorized {
		t.Fatalf("forged success: want 401, got %d", w.Code)
	}
	good := payment.SuccessResponse{PaymentID: "pay_1", OrderID: ref, Signature: payment.Sign(testSecret, ref, "pay_1")}
	w = first.do(t, http.MethodPost, "/payments/callback/success", good)
	if w.Code != http.StatusOK {
		t.Fatalf("success on first instance: %d %s", w.Code, w.Body.String())
	}
	var st checkout.Status
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.Step != checkout.StepPaid {
		t.Fatalf("step: %s", st.Step)
	}

	o, err = second.app.Orders.GetOrderByID(context.Background(), begun.OrderID)
	if err != nil || o.Status != orders.StatusPaid || o.GatewayPaymentID != "pay_1" {
		t.Fatalf("order not paid: %+v err=%v", o, err)
	}
	if _, err := second.app.Orders.GetPayment(context.Background(), "pay_1"); err != nil {
		t.Fatalf("payment record: %v", err)
	}

	// the widget's own report reaches the second instance afterwards
	w = second.do(t, http.MethodPost, "/payments/callback/success", good)
	if w.Code != http.StatusOK {
		t.Fatalf("redelivery on second instance: %d %s", w.Code, w.Body.String())
	}
	if dynamo.Len("payments") != 1 {
		t.Fatalf("want one payment record, got %d", dynamo.Len("payments"))
	}

	w = second.do(t, http.MethodGet, "/checkout/status", nil)
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.Step != checkout.StepPaid {
		t.Fatalf("second instance status: %s", st.Step)
	}
	w = second.do(t, http.MethodGet, "/cart", nil)
	if !strings.Contains(w.Body.String(), `"items":[]`) {
		t.Fatalf("cart not cleared: %s", w.Body.String())
	}
}
