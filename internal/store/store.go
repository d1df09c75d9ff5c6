// Package store provides the expiring key/value store that holds persisted
// document snapshots. Rooms are volatile: a snapshot survives only for its
// TTL past the last flush, after which the store may evict it.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key doesn't exist in the store, or its
// entry has expired.
var ErrNotFound = errors.New("key not found")

// Store is the key/TTL contract consumed by the room registry. All
// implementations must be safe for concurrent use.
type Store interface {
	// Get retrieves a value by key. Returns ErrNotFound if the key does
	// not exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// SetWithExpiry stores a value with a sliding TTL, overwriting any
	// existing value and resetting its expiry.
	SetWithExpiry(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// Key derives the store key for a room's document.
func Key(roomID string) string {
	return "report:" + roomID
}
