package idempotency

import "time"

// Status values for ledger entries
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// Record is one entry of the dedup ledger. Keys are namespaced by the caller,
// e.g. "payment:<gateway payment id>" or "checkout:<Idempotency-Key header>".
type Record struct {
	Key       string    `dynamodbav:"dedup_key"` // PK
	Status    string    `dynamodbav:"status"`
	OrderID   string    `dynamodbav:"order_id,omitempty"`
	Result    string    `dynamodbav:"result,omitempty"` // small JSON result replayed for duplicates
	Note      string    `dynamodbav:"note,omitempty"`
	CreatedAt time.Time `dynamodbav:"created_at"`
	UpdatedAt time.Time `dynamodbav:"updated_at"`
	ExpiresAt int64     `dynamodbav:"expires_at"` // TTL epoch seconds
}
