package shared

import (
	"context"
	"time"
)

// IdempotencyRecord is the stored outcome of a mutating request
type IdempotencyRecord struct {
	// Fingerprint identifies the request body the outcome belongs to
	Fingerprint string `json:"fingerprint"`
	// Payload is the serialized outcome, replayed verbatim
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// IdempotencyStore keeps outcomes of mutating requests keyed by idempotency key
type IdempotencyStore interface {
	// Get returns the stored record, or nil when the key is unknown or expired
	Get(ctx context.Context, key string) (*IdempotencyRecord, error)

	// Store saves a record unless one already exists for the key.
	// Returns true if the record was newly stored.
	Store(ctx context.Context, key string, record *IdempotencyRecord, ttl time.Duration) (bool, error)

	// Close closes the store and releases resources
	Close() error
}
