package cache

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("cache: store closed")

// Store is a key/value cache with per-key expiry.
type Store interface {
	// Get returns the value for key. The bool is false when the key is
	// absent or expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key. A ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// CompareAndDelete removes key only if it currently holds expected,
	// reporting whether it did.
	CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}
