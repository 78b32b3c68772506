// Package awstest provides in-memory stand-ins for the AWS clients used by
// the service, for unit tests. They understand only the expression shapes the
// stores in this module emit.
package awstest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Item is a stored DynamoDB item.
type Item = map[string]types.AttributeValue

// Dynamo is an in-memory DynamoDB: table -> partition key value -> item.
type Dynamo struct {
	mu     sync.Mutex
	Tables map[string]map[string]Item
	keys   map[string]string
	// Calls counts invocations per operation name ("PutItem", "Query", ...).
	Calls map[string]int
	// Fail makes the next matching call return the error. Keys are
	// "<Operation>" or "<Operation>:<table>".
	Fail map[string]error
}

// NewDynamo returns an empty fake.
func NewDynamo() *Dynamo {
	return &Dynamo{
		Tables: map[string]map[string]Item{},
		keys:   map[string]string{},
		Calls:  map[string]int{},
		Fail:   map[string]error{},
	}
}

// DefineTable registers the partition key attribute of a table.
func (d *Dynamo) DefineTable(name, keyAttr string) *Dynamo {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys[name] = keyAttr
	d.ensureTable(name)
	return d
}

// FailNext arranges for the next call of op (optionally scoped to a table) to fail.
func (d *Dynamo) FailNext(op, table string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := op
	if table != "" {
		key = op + ":" + table
	}
	d.Fail[key] = err
}

// Get returns a stored item, or nil.
func (d *Dynamo) Get(table, pk string) Item {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Tables[table][pk]
}

// Len returns the number of items in a table.
func (d *Dynamo) Len(table string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Tables[table])
}

func (d *Dynamo) ensureTable(tbl string) {
	if _, ok := d.Tables[tbl]; !ok {
		d.Tables[tbl] = map[string]Item{}
	}
}

func (d *Dynamo) hit(op, table string) error {
	d.Calls[op]++
	for _, k := range []string{op + ":" + table, op} {
		if err, ok := d.Fail[k]; ok {
			delete(d.Fail, k)
			return err
		}
	}
	return nil
}

func (d *Dynamo) keyOf(table string, item Item) (string, error) {
	names := []string{"id", "dedup_key", "state_key"}
	if k, ok := d.keys[table]; ok {
		names = []string{k}
	}
	for _, n := range names {
		if v, ok := item[n].(*types.AttributeValueMemberS); ok {
			return v.Value, nil
		}
	}
	return "", errors.New("no primary key attribute")
}

func (d *Dynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	table := *params.TableName
	if err := d.hit("PutItem", table); err != nil {
		return nil, err
	}
	d.ensureTable(table)
	pk, err := d.keyOf(table, params.Item)
	if err != nil {
		return nil, err
	}
	existing := d.Tables[table][pk]
	if !condition(params.ConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues, existing) {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("conditional check failed")}
	}
	d.Tables[table][pk] = copyItem(params.Item)
	return &dyn.PutItemOutput{}, nil
}

func (d *Dynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	table := *params.TableName
	if err := d.hit("GetItem", table); err != nil {
		return nil, err
	}
	d.ensureTable(table)
	pk, err := d.keyOf(table, params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := d.Tables[table][pk]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(item)}, nil
}

func (d *Dynamo) DeleteItem(ctx context.Context, params *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	table := *params.TableName
	if err := d.hit("DeleteItem", table); err != nil {
		return nil, err
	}
	d.ensureTable(table)
	pk, err := d.keyOf(table, params.Key)
	if err != nil {
		return nil, err
	}
	delete(d.Tables[table], pk)
	return &dyn.DeleteItemOutput{}, nil
}

func (d *Dynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	table := *params.TableName
	if err := d.hit("UpdateItem", table); err != nil {
		return nil, err
	}
	d.ensureTable(table)
	item, err := d.update(table, params.Key, params.UpdateExpression, params.ConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	return &dyn.UpdateItemOutput{Attributes: copyItem(item)}, nil
}

func (d *Dynamo) update(table string, key Item, updateExpr, condExpr *string, names map[string]string, values map[string]types.AttributeValue) (Item, error) {
	pk, err := d.keyOf(table, key)
	if err != nil {
		return nil, err
	}
	existing := d.Tables[table][pk]
	if !condition(condExpr, names, values, existing) {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("conditional check failed")}
	}
	item := copyItem(existing)
	if item == nil {
		item = copyItem(key)
	}
	if updateExpr != nil {
		if err := applySet(item, *updateExpr, names, values); err != nil {
			return nil, err
		}
	}
	d.Tables[table][pk] = item
	return item, nil
}

func (d *Dynamo) Query(ctx context.Context, params *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	table := *params.TableName
	if err := d.hit("Query", table); err != nil {
		return nil, err
	}
	d.ensureTable(table)
	if params.KeyConditionExpression == nil {
		return nil, errors.New("missing key condition")
	}
	var out []Item
	for _, item := range d.Tables[table] {
		if condition(params.KeyConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues, item) {
			out = append(out, copyItem(item))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return sortKey(out[i]) < sortKey(out[j])
	})
	if params.ScanIndexForward != nil && !*params.ScanIndexForward {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return &dyn.QueryOutput{Items: out, Count: int32(len(out))}, nil
}

func (d *Dynamo) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.hit("TransactWriteItems", ""); err != nil {
		return nil, err
	}
	// first pass: every condition must hold
	reasons := make([]types.CancellationReason, len(params.TransactItems))
	failed := false
	for i, it := range params.TransactItems {
		var (
			table  string
			key    Item
			cond   *string
			names  map[string]string
			values map[string]types.AttributeValue
		)
		switch {
		case it.Put != nil:
			table, key, cond, names, values = *it.Put.TableName, it.Put.Item, it.Put.ConditionExpression, it.Put.ExpressionAttributeNames, it.Put.ExpressionAttributeValues
		case it.ConditionCheck != nil:
			table, key, cond, names, values = *it.ConditionCheck.TableName, it.ConditionCheck.Key, it.ConditionCheck.ConditionExpression, it.ConditionCheck.ExpressionAttributeNames, it.ConditionCheck.ExpressionAttributeValues
		case it.Update != nil:
			table, key, cond, names, values = *it.Update.TableName, it.Update.Key, it.Update.ConditionExpression, it.Update.ExpressionAttributeNames, it.Update.ExpressionAttributeValues
		default:
			return nil, errors.New("unsupported transact item")
		}
		d.ensureTable(table)
		pk, err := d.keyOf(table, key)
		if err != nil {
			return nil, err
		}
		reasons[i] = types.CancellationReason{Code: strPtr("None")}
		if !condition(cond, names, values, d.Tables[table][pk]) {
			reasons[i] = types.CancellationReason{Code: strPtr("ConditionalCheckFailed")}
			failed = true
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             strPtr("transaction cancelled"),
			CancellationReasons: reasons,
		}
	}
	// second pass: apply writes
	for _, it := range params.TransactItems {
		switch {
		case it.Put != nil:
			table := *it.Put.TableName
			pk, _ := d.keyOf(table, it.Put.Item)
			d.Tables[table][pk] = copyItem(it.Put.Item)
		case it.Update != nil:
			if _, err := d.update(*it.Update.TableName, it.Update.Key, it.Update.UpdateExpression, nil, it.Update.ExpressionAttributeNames, it.Update.ExpressionAttributeValues); err != nil {
				return nil, err
			}
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

// condition evaluates the subset of condition expressions used in this
// module: attribute_exists(a), attribute_not_exists(a), a = :v, a <> :v,
// joined with AND.
func condition(expr *string, names map[string]string, values map[string]types.AttributeValue, item Item) bool {
	if expr == nil || strings.TrimSpace(*expr) == "" {
		return true
	}
	for _, clause := range strings.Split(*expr, " AND ") {
		clause = strings.TrimSpace(clause)
		switch {
		case strings.HasPrefix(clause, "attribute_not_exists(") && strings.HasSuffix(clause, ")"):
			attr := resolve(names, clause[len("attribute_not_exists("):len(clause)-1])
			if item != nil {
				if _, ok := item[attr]; ok {
					return false
				}
			}
		case strings.HasPrefix(clause, "attribute_exists(") && strings.HasSuffix(clause, ")"):
			attr := resolve(names, clause[len("attribute_exists("):len(clause)-1])
			if item == nil {
				return false
			}
			if _, ok := item[attr]; !ok {
				return false
			}
		case strings.Contains(clause, " <> "):
			parts := strings.SplitN(clause, " <> ", 2)
			if item != nil && avEqual(item[resolve(names, parts[0])], values[strings.TrimSpace(parts[1])]) {
				return false
			}
		case strings.Contains(clause, " = "):
			parts := strings.SplitN(clause, " = ", 2)
			if item == nil || !avEqual(item[resolve(names, parts[0])], values[strings.TrimSpace(parts[1])]) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// applySet applies "SET a = :v, #b = :w, c = if_not_exists(c, :zero) + :inc".
func applySet(item Item, expr string, names map[string]string, values map[string]types.AttributeValue) error {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "SET ") {
		return fmt.Errorf("unsupported update expression %q", expr)
	}
	for _, assign := range splitTopLevel(expr[len("SET "):]) {
		parts := strings.SplitN(assign, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("bad assignment %q", assign)
		}
		attr := resolve(names, parts[0])
		rhs := strings.TrimSpace(parts[1])
		if strings.HasPrefix(rhs, "if_not_exists(") {
			// if_not_exists(x, :zero) + :inc
			closeIdx := strings.Index(rhs, ")")
			inner := strings.Split(rhs[len("if_not_exists("):closeIdx], ",")
			base := numberOf(values[strings.TrimSpace(inner[1])])
			if cur, ok := item[attr]; ok {
				base = numberOf(cur)
			}
			inc := int64(0)
			if plus := strings.Index(rhs, "+"); plus > 0 {
				inc = numberOf(values[strings.TrimSpace(rhs[plus+1:])])
			}
			item[attr] = &types.AttributeValueMemberN{Value: strconv.FormatInt(base+inc, 10)}
			continue
		}
		v, ok := values[rhs]
		if !ok {
			return fmt.Errorf("missing value %s", rhs)
		}
		item[attr] = v
	}
	return nil
}

func splitTopLevel(s string) []string {
	var out []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	return append(out, strings.TrimSpace(s[start:]))
}

func resolve(names map[string]string, token string) string {
	token = strings.TrimSpace(token)
	if strings.HasPrefix(token, "#") {
		if n, ok := names[token]; ok {
			return n
		}
	}
	return token
}

func avEqual(a, b types.AttributeValue) bool {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		return ok && av.Value == bv.Value
	case nil:
		return b == nil
	}
	return reflect.DeepEqual(a, b)
}

func numberOf(v types.AttributeValue) int64 {
	if n, ok := v.(*types.AttributeValueMemberN); ok {
		i, _ := strconv.ParseInt(n.Value, 10, 64)
		return i
	}
	return 0
}

func sortKey(item Item) string {
	var k string
	if v, ok := item["created_at"].(*types.AttributeValueMemberS); ok {
		k = v.Value
	}
	if v, ok := item["id"].(*types.AttributeValueMemberS); ok {
		k += "|" + v.Value
	}
	return k
}

func copyItem(item Item) Item {
	if item == nil {
		return nil
	}
	out := make(Item, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func strPtr(s string) *string { return &s }
