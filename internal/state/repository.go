// Package state holds per-buyer client state (cart contents, wishlist,
// session identity) behind a small key-value Repository.
package state

import (
	"context"
	"errors"
)

// Fixed keys under which buyer state is persisted. The user id is appended,
// see Key.
const (
	KeyCart     = "cart"
	KeyWishlist = "wishlist"
	KeySession  = "session"
	KeyCheckout = "checkout"
)

// ErrNotFound is returned by Get when nothing is stored under the key.
var ErrNotFound = errors.New("state: key not found")

// Repository stores JSON-compatible values by key.
type Repository interface {
	// Get decodes the value stored under key into out.
	Get(ctx context.Context, key string, out any) error
	Set(ctx context.Context, key string, v any) error
	Clear(ctx context.Context, key string) error
}

// Key builds the storage key of kind for a user, e.g. "cart:u1".
func Key(kind, userID string) string {
	return kind + ":" + userID
}

// Session is the authenticated identity of a buyer.
type Session struct {
	UserID string `json:"user_id" dynamodbav:"user_id"`
	Token  string `json:"token" dynamodbav:"token"`
	Name   string `json:"name,omitempty" dynamodbav:"name,omitempty"`
	Email  string `json:"email,omitempty" dynamodbav:"email,omitempty"`
	Phone  string `json:"phone,omitempty" dynamodbav:"phone,omitempty"`
}
