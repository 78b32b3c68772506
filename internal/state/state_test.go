package state

import (
	"context"
	"errors"
	"testing"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/aws/awstest"
)

type payload struct {
	Items []string `json:"items" dynamodbav:"items"`
	Count int      `json:"count" dynamodbav:"count"`
}

func exerciseRepository(t *testing.T, repo Repository) {
	t.Helper()
	ctx := context.Background()
	key := Key(KeyCart, "u1")
	if key != "cart:u1" {
		t.Fatalf("unexpected key %q", key)
	}

	var got payload
	if err := repo.Get(ctx, key, &got); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	want := payload{Items: []string{"a", "b"}, Count: 2}
	if err := repo.Set(ctx, key, want); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := repo.Get(ctx, key, &got); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Count != 2 || len(got.Items) != 2 || got.Items[1] != "b" {
		t.Fatalf("unexpected value %+v", got)
	}

	if err := repo.Clear(ctx, key); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := repo.Get(ctx, key, &got); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after Clear, got %v", err)
	}
}

func TestMemoryRepository(t *testing.T) {
	exerciseRepository(t, NewMemory())
}

func TestDynamoRepository(t *testing.T) {
	mock := awstest.NewDynamo().DefineTable("state", "state_key")
	exerciseRepository(t, NewDynamoRepository(mock, "state"))
}

func TestMemoryRepository_ValuesAreCopied(t *testing.T) {
	repo := NewMemory()
	ctx := context.Background()
	v := payload{Items: []string{"a"}}
	_ = repo.Set(ctx, "k", v)
	v.Items[0] = "mutated"

	var got payload
	_ = repo.Get(ctx, "k", &got)
	if got.Items[0] != "a" {
		t.Fatalf("stored value aliased caller slice: %+v", got)
	}
}
