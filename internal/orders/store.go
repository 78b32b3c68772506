package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/aws"
)

var (
	// ErrNotFound is returned when an order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrStatusMismatch is returned when a conditional update finds a different status.
	ErrStatusMismatch = errors.New("status mismatch/conditional failed")
	// ErrDuplicatePayment is returned when a payment record for the gateway payment id already exists.
	ErrDuplicatePayment = errors.New("payment record already exists")
)

// Store is the order backend: line items, shipping records, order headers
// and payment records, one DynamoDB table each.
type Store struct {
	client  aws.DynamoDBAPI
	tables  Tables
	newID   func() string
	nowFunc func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tables Tables) *Store {
	if tables.UserIndex == "" {
		tables.UserIndex = "user_id-index"
	}
	return &Store{
		client:  client,
		tables:  tables,
		newID:   uuid.NewString,
		nowFunc: time.Now,
	}
}

func (s *Store) put(ctx context.Context, table string, v any) error {
	item, err := attributevalue.MarshalMap(v)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &table,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(id)"),
	})
	if err != nil {
		return fmt.Errorf("put item into %s: %w", table, err)
	}
	return nil
}

// CreateOrderItem persists one line item and returns its id.
func (s *Store) CreateOrderItem(ctx context.Context, item OrderItem) (string, error) {
	item.ID = s.newID()
	item.CreatedAt = s.nowFunc()
	if err := s.put(ctx, s.tables.OrderItems, item); err != nil {
		return "", fmt.Errorf("create order item: %w", err)
	}
	return item.ID, nil
}

// CreateShippingInfo persists a shipping record and returns its id.
func (s *Store) CreateShippingInfo(ctx context.Context, info ShippingInfo) (string, error) {
	info.ID = s.newID()
	info.CreatedAt = s.nowFunc()
	if err := s.put(ctx, s.tables.Shipping, info); err != nil {
		return "", fmt.Errorf("create shipping info: %w", err)
	}
	return info.ID, nil
}

// CreateOrderDetail persists an order header and returns its id.
func (s *Store) CreateOrderDetail(ctx context.Context, order Order) (string, error) {
	now := s.nowFunc()
	order.ID = s.newID()
	order.CreatedAt = now
	order.UpdatedAt = now
	if order.OrderItemIDs == nil {
		order.OrderItemIDs = []string{}
	}
	if err := s.put(ctx, s.tables.Orders, order); err != nil {
		return "", fmt.Errorf("create order detail: %w", err)
	}
	return order.ID, nil
}

// UpdateOrderDetail applies a partial update to an existing order.
// Returns ErrNotFound if the order does not exist and ErrStatusMismatch if
// upd.ExpectedStatus is set and does not match.
func (s *Store) UpdateOrderDetail(ctx context.Context, id string, upd OrderUpdate) (string, error) {
	names := map[string]string{"#ua": "updated_at"}
	values := map[string]types.AttributeValue{
		":ua": &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339Nano)},
	}
	expr := "SET #ua = :ua"
	set := func(attr string, v *string) {
		if v == nil {
			return
		}
		n := strconv.Itoa(len(names))
		names["#f"+n] = attr
		values[":v"+n] = &types.AttributeValueMemberS{Value: *v}
		expr += ", #f" + n + " = :v" + n
	}
	set("status", upd.Status)
	set("gateway_order_id", upd.GatewayOrderID)
	set("gateway_payment_id", upd.GatewayPaymentID)
	set("gateway_signature", upd.GatewaySignature)
	set("failure_code", upd.FailureCode)
	set("failure_reason", upd.FailureReason)
	set("cancellation_reason", upd.CancellationReason)

	cond := "attribute_exists(id)"
	if upd.ExpectedStatus != "" {
		names["#s"] = "status"
		values[":expected"] = &types.AttributeValueMemberS{Value: upd.ExpectedStatus}
		cond += " AND #s = :expected"
	}

	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tables.Orders,
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		UpdateExpression:          &expr,
		ConditionExpression:       &cond,
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			if upd.ExpectedStatus == "" {
				return "", ErrNotFound
			}
			// distinguish a missing order from a status conflict
			if _, gerr := s.GetOrderByID(ctx, id); errors.Is(gerr, ErrNotFound) {
				return "", ErrNotFound
			}
			return "", ErrStatusMismatch
		}
		return "", fmt.Errorf("update order detail: %w", err)
	}
	return id, nil
}

// CreatePaymentDetail persists a payment record keyed by the gateway payment
// id. The write is a transaction that also checks the order exists, so a
// payment record can never exist without its order. Returns
// ErrDuplicatePayment if the record already exists and ErrNotFound if the
// order does not.
func (s *Store) CreatePaymentDetail(ctx context.Context, p Payment) (string, error) {
	if p.GatewayPaymentID == "" {
		return "", errors.New("create payment detail: gateway payment id required")
	}
	p.ID = p.GatewayPaymentID
	p.CreatedAt = s.nowFunc()
	item, err := attributevalue.MarshalMap(p)
	if err != nil {
		return "", fmt.Errorf("marshal payment: %w", err)
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				ConditionCheck: &types.ConditionCheck{
					TableName: &s.tables.Orders,
					Key: map[string]types.AttributeValue{
						"id": &types.AttributeValueMemberS{Value: p.OrderID},
					},
					ConditionExpression: awsString("attribute_exists(id)"),
				},
			},
			{
				Put: &types.Put{
					TableName:           &s.tables.Payments,
					Item:                item,
					ConditionExpression: awsString("attribute_not_exists(id)"),
				},
			},
		},
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			reasons := tce.CancellationReasons
			if len(reasons) > 0 && reasonFailed(reasons[0]) {
				return "", ErrNotFound
			}
			if len(reasons) > 1 && reasonFailed(reasons[1]) {
				return "", ErrDuplicatePayment
			}
			return "", fmt.Errorf("transaction canceled: %w", err)
		}
		return "", fmt.Errorf("create payment detail: %w", err)
	}
	return p.ID, nil
}

func reasonFailed(r types.CancellationReason) bool {
	return r.Code != nil && *r.Code == "ConditionalCheckFailed"
}

// GetPayment fetches a payment record by gateway payment id.
func (s *Store) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	var p Payment
	if err := s.get(ctx, s.tables.Payments, paymentID, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetOrderByID fetches an order header. Returns ErrNotFound if absent.
func (s *Store) GetOrderByID(ctx context.Context, id string) (*Order, error) {
	var o Order
	if err := s.get(ctx, s.tables.Orders, id, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) get(ctx context.Context, table, id string, out any) error {
	res, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &table,
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return fmt.Errorf("get item: %w", err)
	}
	if len(res.Item) == 0 {
		return ErrNotFound
	}
	if err := attributevalue.UnmarshalMap(res.Item, out); err != nil {
		return fmt.Errorf("unmarshal item: %w", err)
	}
	return nil
}

// GetUserOrders lists a user's orders, newest first, through the user index.
func (s *Store) GetUserOrders(ctx context.Context, userID string) ([]Order, error) {
	var (
		out   []Order
		start map[string]types.AttributeValue
	)
	for {
		res, err := s.client.Query(ctx, &dyn.QueryInput{
			TableName:              &s.tables.Orders,
			IndexName:              &s.tables.UserIndex,
			KeyConditionExpression: awsString("user_id = :uid"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":uid": &types.AttributeValueMemberS{Value: userID},
			},
			ScanIndexForward:  awsBool(false),
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("query user orders: %w", err)
		}
		var page []Order
		if err := attributevalue.UnmarshalListOfMaps(res.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal orders: %w", err)
		}
		out = append(out, page...)
		if len(res.LastEvaluatedKey) == 0 {
			return out, nil
		}
		start = res.LastEvaluatedKey
	}
}

// IncrementAttempts increases the reconcile attempts counter by 1.
func (s *Store) IncrementAttempts(ctx context.Context, orderID string) error {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName: &s.tables.Orders,
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression:    awsString("SET attempts = if_not_exists(attempts, :zero) + :inc, updated_at = :ua"),
		ConditionExpression: awsString("attribute_exists(id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero": &types.AttributeValueMemberN{Value: "0"},
			":inc":  &types.AttributeValueMemberN{Value: "1"},
			":ua":   &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339Nano)},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	}
	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrNotFound
		}
		return fmt.Errorf("increment attempts: %w", err)
	}
	return nil
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
