// Package cart keeps a buyer's cart in a state.Repository and captures the
// immutable snapshot handed to checkout.
package cart

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/state"
)

// Item is one cart line. UnitPrice is in minor currency units.
type Item struct {
	ProductID string `json:"product_id" dynamodbav:"product_id"`
	Name      string `json:"name,omitempty" dynamodbav:"name,omitempty"`
	Variant   string `json:"variant,omitempty" dynamodbav:"variant,omitempty"`
	UnitPrice int64  `json:"unit_price" dynamodbav:"unit_price"`
	Quantity  int    `json:"quantity" dynamodbav:"quantity"`
}

// ErrOverflow is returned when a cart amount does not fit in int64.
var ErrOverflow = errors.New("cart: amount overflows")

// Snapshot is the cart as captured when checkout begins. Items keep cart order.
type Snapshot struct {
	UserID     string    `json:"user_id"`
	Items      []Item    `json:"items"`
	CapturedAt time.Time `json:"captured_at"`
}

// Len returns the number of lines.
func (s Snapshot) Len() int { return len(s.Items) }

// Subtotal returns Σ unit price × quantity, or ErrOverflow.
func (s Snapshot) Subtotal() (int64, error) {
	return s.Total(0)
}

// Total returns the subtotal plus extra, e.g. a delivery charge.
func (s Snapshot) Total(extra int64) (int64, error) {
	sum := extra
	for _, it := range s.Items {
		line, ok := mul64(it.UnitPrice, int64(it.Quantity))
		if !ok {
			return 0, fmt.Errorf("%w: %s x %d", ErrOverflow, it.ProductID, it.Quantity)
		}
		if sum, ok = add64(sum, line); !ok {
			return 0, ErrOverflow
		}
	}
	return sum, nil
}

func mul64(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		return 0, false
	}
	c := a * b
	if c/b != a {
		return 0, false
	}
	return c, true
}

func add64(a, b int64) (int64, bool) {
	c := a + b
	if (b > 0 && c < a) || (b < 0 && c > a) {
		return 0, false
	}
	return c, true
}

// Clone returns a deep copy, so later cart edits cannot reach a snapshot
// already handed to checkout.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Items = append([]Item(nil), s.Items...)
	return out
}

type stored struct {
	Items []Item `json:"items" dynamodbav:"items"`
}

// Store reads and writes carts through a state.Repository.
type Store struct {
	repo    state.Repository
	nowFunc func() time.Time
}

// NewStore returns a cart Store over repo.
func NewStore(repo state.Repository) *Store {
	return &Store{repo: repo, nowFunc: time.Now}
}

func (s *Store) load(ctx context.Context, userID string) ([]Item, error) {
	var st stored
	err := s.repo.Get(ctx, state.Key(state.KeyCart, userID), &st)
	if errors.Is(err, state.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	return st.Items, nil
}

func (s *Store) save(ctx context.Context, userID string, items []Item) error {
	if err := s.repo.Set(ctx, state.Key(state.KeyCart, userID), stored{Items: items}); err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	return nil
}

// Snapshot captures the user's current cart.
func (s *Store) Snapshot(ctx context.Context, userID string) (Snapshot, error) {
	items, err := s.load(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{UserID: userID, Items: items, CapturedAt: s.nowFunc()}, nil
}

// Put sets the quantity of a line, adding it if the product/variant is new.
// A quantity of zero or less removes the line.
func (s *Store) Put(ctx context.Context, userID string, it Item) (Snapshot, error) {
	items, err := s.load(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	idx := -1
	for i := range items {
		if items[i].ProductID == it.ProductID && items[i].Variant == it.Variant {
			idx = i
			break
		}
	}
	switch {
	case it.Quantity <= 0 && idx >= 0:
		items = append(items[:idx], items[idx+1:]...)
	case it.Quantity <= 0:
	case idx >= 0:
		items[idx] = it
	default:
		items = append(items, it)
	}
	if err := s.save(ctx, userID, items); err != nil {
		return Snapshot{}, err
	}
	return Snapshot{UserID: userID, Items: items, CapturedAt: s.nowFunc()}, nil
}

// Remove deletes every line of productID regardless of variant.
func (s *Store) Remove(ctx context.Context, userID, productID string) (Snapshot, error) {
	items, err := s.load(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	kept := items[:0]
	for _, it := range items {
		if it.ProductID != productID {
			kept = append(kept, it)
		}
	}
	if err := s.save(ctx, userID, kept); err != nil {
		return Snapshot{}, err
	}
	return Snapshot{UserID: userID, Items: kept, CapturedAt: s.nowFunc()}, nil
}

// Clear empties the user's cart.
func (s *Store) Clear(ctx context.Context, userID string) error {
	if err := s.repo.Clear(ctx, state.Key(state.KeyCart, userID)); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}
