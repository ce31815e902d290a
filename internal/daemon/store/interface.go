// internal/daemon/store/interface.go
package store

import (
	"context"
)

// KV is the durable key/value store the ledger lives in.
type KV interface {
	// GetItem returns the value for key and whether it exists.
	GetItem(ctx context.Context, key string) (string, bool, error)

	// SetItem stores value under key.
	SetItem(ctx context.Context, key, value string) error

	// RemoveItem deletes key. Removing a missing key is not an error.
	RemoveItem(ctx context.Context, key string) error

	// Close releases the store.
	Close() error
}

// Swapper is implemented by stores that can atomically replace a value.
type Swapper interface {
	// CompareAndSwap sets key to next only if its current value equals
	// *prev, or if prev is nil and the key is absent.
	CompareAndSwap(ctx context.Context, key string, prev *string, next string) (bool, error)
}
