package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/orders"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/payment"
)

// fakeBackend is an in-memory order backend with per-operation call counts
// and one-shot error injection.
type fakeBackend struct {
	mu       sync.Mutex
	n        int
	items    map[string]orders.OrderItem
	itemSeq  []string
	shipping map[string]orders.ShippingInfo
	orders   map[string]orders.Order
	payments map[string]orders.Payment
	calls    map[string]int
	failNext map[string]error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		items:    map[string]orders.OrderItem{},
		shipping: map[string]orders.ShippingInfo{},
		orders:   map[string]orders.Order{},
		payments: map[string]orders.Payment{},
		calls:    map[string]int{},
		failNext: map[string]error{},
	}
}

func (b *fakeBackend) fail(op string, err error) {
	b.mu.Lock()
	b.failNext[op] = err
	b.mu.Unlock()
}

func (b *fakeBackend) count(op string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[op]
}

func (b *fakeBackend) total() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for op, c := range b.calls {
		if op != "GetOrderByID" && op != "GetUserOrders" {
			n += c
		}
	}
	return n
}

func (b *fakeBackend) enter(op string) error {
	b.calls[op]++
	if err, ok := b.failNext[op]; ok {
		delete(b.failNext, op)
		return err
	}
	return nil
}

func (b *fakeBackend) nextID(prefix string) string {
	b.n++
	return fmt.Sprintf("%s-%d", prefix, b.n)
}

func (b *fakeBackend) CreateOrderItem(ctx context.Context, item orders.OrderItem) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("CreateOrderItem"); err != nil {
		return "", err
	}
	item.ID = b.nextID("item")
	b.items[item.ID] = item
	b.itemSeq = append(b.itemSeq, item.ProductID)
	return item.ID, nil
}

func (b *fakeBackend) CreateShippingInfo(ctx context.Context, info orders.ShippingInfo) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("CreateShippingInfo"); err != nil {
		return "", err
	}
	info.ID = b.nextID("ship")
	b.shipping[info.ID] = info
	return info.ID, nil
}

func (b *fakeBackend) CreateOrderDetail(ctx context.Context, o orders.Order) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("CreateOrderDetail"); err != nil {
		return "", err
	}
	o.ID = b.nextID("order")
	b.orders[o.ID] = o
	return o.ID, nil
}

func (b *fakeBackend) UpdateOrderDetail(ctx context.Context, id string, upd orders.OrderUpdate) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("UpdateOrderDetail"); err != nil {
		return "", err
	}
	o, ok := b.orders[id]
	if !ok {
		return "", orders.ErrNotFound
	}
	if upd.ExpectedStatus != "" && o.Status != upd.ExpectedStatus {
		return "", orders.ErrStatusMismatch
	}
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&o.Status, upd.Status)
	set(&o.GatewayOrderID, upd.GatewayOrderID)
	set(&o.GatewayPaymentID, upd.GatewayPaymentID)
	set(&o.GatewaySignature, upd.GatewaySignature)
	set(&o.FailureCode, upd.FailureCode)
	set(&o.FailureReason, upd.FailureReason)
	set(&o.CancellationReason, upd.CancellationReason)
	b.orders[id] = o
	return id, nil
}

func (b *fakeBackend) CreatePaymentDetail(ctx context.Context, p orders.Payment) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("CreatePaymentDetail"); err != nil {
		return "", err
	}
	if _, ok := b.orders[p.OrderID]; !ok {
		return "", orders.ErrNotFound
	}
	if _, ok := b.payments[p.GatewayPaymentID]; ok {
		return "", orders.ErrDuplicatePayment
	}
	p.ID = p.GatewayPaymentID
	b.payments[p.ID] = p
	return p.ID, nil
}

func (b *fakeBackend) GetOrderByID(ctx context.Context, id string) (*orders.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("GetOrderByID"); err != nil {
		return nil, err
	}
	o, ok := b.orders[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return &o, nil
}

func (b *fakeBackend) GetUserOrders(ctx context.Context, userID string) ([]orders.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.enter("GetUserOrders"); err != nil {
		return nil, err
	}
	var out []orders.Order
	for _, o := range b.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (b *fakeBackend) order(id string) orders.Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.orders[id]
}

func (b *fakeBackend) paymentCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.payments)
}

// fakeGateway records the widget configs it was asked to open.
type fakeGateway struct {
	mu      sync.Mutex
	opened  []payment.WidgetConfig
	failNow error
}

func (g *fakeGateway) Open(ctx context.Context, cfg payment.WidgetConfig) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failNow != nil {
		err := g.failNow
		g.failNow = nil
		return err
	}
	g.opened = append(g.opened, cfg)
	return nil
}

func (g *fakeGateway) last() payment.WidgetConfig {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.opened[len(g.opened)-1]
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) Notify(ctx context.Context, ev Event) error {
	n.mu.Lock()
	n.events = append(n.events, ev)
	n.mu.Unlock()
	return nil
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, ev := range n.events {
		out = append(out, ev.Type)
	}
	return out
}

func (n *recordingNotifier) find(typ string) (Event, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ev := range n.events {
		if ev.Type == typ {
			return ev, true
		}
	}
	return Event{}, false
}

type recordingCounter struct {
	mu    sync.Mutex
	names []string
}

func (c *recordingCounter) Count(ctx context.Context, name string, dims map[string]string) {
	c.mu.Lock()
	c.names = append(c.names, name)
	c.mu.Unlock()
}

func (c *recordingCounter) has(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.names {
		if n == name {
			return true
		}
	}
	return false
}

var errBackendDown = errors.New("backend unavailable")
