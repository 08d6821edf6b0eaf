// Package storage provides the backend abstraction used by the session key-value store.
package storage

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by a Driver when the key has no entry.
	ErrNotFound = errors.New("entry not found")
	// ErrUnavailable indicates the backend cannot be used: disabled, closed,
	// not yet initialized, or unreachable.
	ErrUnavailable = errors.New("storage unavailable")
	// ErrQuotaExceeded is returned when a write would exceed the backend capacity.
	// It matches ErrUnavailable under errors.Is.
	ErrQuotaExceeded = fmt.Errorf("quota exceeded: %w", ErrUnavailable)
	// ErrCorrupted indicates an entry exists but cannot be decoded.
	ErrCorrupted = errors.New("entry corrupted")
)

// Driver is a raw byte store for a single backend.
// Implementations must be safe for concurrent use.
type Driver interface {
	// Get returns the bytes stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put creates or overwrites the entry for key.
	Put(ctx context.Context, key string, data []byte) error
	// Delete removes the entry for key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Clear removes every entry held by the driver.
	Clear(ctx context.Context) error
	// Close releases the underlying resources. Later calls fail with ErrUnavailable.
	Close() error
}

// Unavailable wraps err so that it matches ErrUnavailable.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
