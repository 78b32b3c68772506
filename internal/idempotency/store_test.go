package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/aws/awstest"
)

func TestClaim_Get_Complete_Fail(t *testing.T) {
	mock := awstest.NewDynamo().DefineTable("dedup-table", "dedup_key")
	s := NewStore(mock, "dedup-table", 48*time.Hour)

	ctx := context.Background()
	key := "payment:pay_1"
	orderID := "order-123"

	created, err := s.Claim(ctx, key, orderID)
	if err != nil {
		t.Fatalf("Claim error: %v", err)
	}
	if !created {
		t.Fatalf("expected created=true")
	}

	// second claim loses
	created2, err := s.Claim(ctx, key, orderID)
	if err != nil {
		t.Fatalf("second Claim error: %v", err)
	}
	if created2 {
		t.Fatalf("expected created=false on duplicate claim")
	}

	rec, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if rec == nil {
		t.Fatalf("expected record, got nil")
	}
	if rec.Status != StatusInProgress {
		t.Fatalf("expected IN_PROGRESS, got %s", rec.Status)
	}
	if rec.OrderID != orderID {
		t.Fatalf("order id mismatch")
	}
	if rec.ExpiresAt <= time.Now().Unix() {
		t.Fatalf("expires_at should be in the future, got %d", rec.ExpiresAt)
	}

	if err := s.Complete(ctx, key, `{"order_id":"order-123"}`); err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	item := mock.Get("dedup-table", key)
	if st, ok := item["status"].(*types.AttributeValueMemberS); !ok || st.Value != StatusDone {
		t.Fatalf("status not updated to DONE, got %+v", item["status"])
	}
	if r, ok := item["result"].(*types.AttributeValueMemberS); !ok || r.Value != `{"order_id":"order-123"}` {
		t.Fatalf("result not set correctly: %+v", item["result"])
	}

	if err := s.Fail(ctx, key, "reconcile-failed"); err != nil {
		t.Fatalf("Fail error: %v", err)
	}
	rec, _ = s.Get(ctx, key)
	if rec.Status != StatusFailed || rec.Note != "reconcile-failed" {
		t.Fatalf("unexpected record after Fail: %+v", rec)
	}
}

func TestGet_Missing(t *testing.T) {
	s := NewStore(awstest.NewDynamo().DefineTable("t", "dedup_key"), "t", time.Hour)
	rec, err := s.Get(context.Background(), "nope")
	if err != nil || rec != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", rec, err)
	}
}

func TestClaim_BackendError(t *testing.T) {
	mock := awstest.NewDynamo().DefineTable("t", "dedup_key")
	boom := errors.New("boom")
	mock.FailNext("PutItem", "t", boom)
	s := NewStore(mock, "t", time.Hour)
	if _, err := s.Claim(context.Background(), "k", "o"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
}

func TestRecordMarshalRoundTrip(t *testing.T) {
	rec := Record{
		Key:       "k1",
		Status:    StatusInProgress,
		OrderID:   "o1",
		CreatedAt: time.Now().Round(time.Second),
		UpdatedAt: time.Now().Round(time.Second),
		ExpiresAt: time.Now().Add(24 * time.Hour).Unix(),
	}
	m, err := attributevalue.MarshalMap(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, ok := m["dedup_key"]; !ok {
		t.Fatalf("partition key attribute missing: %v", m)
	}
	var out Record
	if err := attributevalue.UnmarshalMap(m, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Key != rec.Key {
		t.Fatalf("unmarshal mismatch")
	}
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if ok, _ := m.Claim(ctx, "k", "o"); !ok {
		t.Fatal("first claim should win")
	}
	if ok, _ := m.Claim(ctx, "k", "o"); ok {
		t.Fatal("second claim should lose")
	}
	if err := m.Complete(ctx, "k", "r"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	rec, _ := m.Get(ctx, "k")
	if rec.Status != StatusDone || rec.Result != "r" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if err := m.Fail(ctx, "missing", "x"); err == nil {
		t.Fatal("expected error for unknown key")
	}
}
