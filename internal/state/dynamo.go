package state

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/aws"
)

// DynamoRepository stores each key as one item {state_key, value, updated_at}.
type DynamoRepository struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewDynamoRepository returns a Repository over tableName.
func NewDynamoRepository(client aws.DynamoDBAPI, tableName string) *DynamoRepository {
	return &DynamoRepository{client: client, tableName: tableName, nowFunc: time.Now}
}

func (r *DynamoRepository) key(k string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"state_key": &types.AttributeValueMemberS{Value: k},
	}
}

func (r *DynamoRepository) Get(ctx context.Context, key string, out any) error {
	res, err := r.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &r.tableName,
		Key:            r.key(key),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return fmt.Errorf("get state %s: %w", key, err)
	}
	v, ok := res.Item["value"]
	if !ok {
		return ErrNotFound
	}
	if err := attributevalue.Unmarshal(v, out); err != nil {
		return fmt.Errorf("unmarshal state %s: %w", key, err)
	}
	return nil
}

func (r *DynamoRepository) Set(ctx context.Context, key string, v any) error {
	av, err := attributevalue.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal state %s: %w", key, err)
	}
	item := r.key(key)
	item["value"] = av
	item["updated_at"] = &types.AttributeValueMemberS{Value: r.nowFunc().UTC().Format(time.RFC3339)}
	if _, err := r.client.PutItem(ctx, &dyn.PutItemInput{TableName: &r.tableName, Item: item}); err != nil {
		return fmt.Errorf("put state %s: %w", key, err)
	}
	return nil
}

func (r *DynamoRepository) Clear(ctx context.Context, key string) error {
	if _, err := r.client.DeleteItem(ctx, &dyn.DeleteItemInput{TableName: &r.tableName, Key: r.key(key)}); err != nil {
		return fmt.Errorf("delete state %s: %w", key, err)
	}
	return nil
}

func awsBool(b bool) *bool { return &b }
