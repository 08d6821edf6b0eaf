// Package memory provides the volatile storage backend: a thread-safe
// in-memory Driver whose contents live only as long as the process.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/jmcleod/sessionkeeper/storage"
)

var errClosed = errors.New("memory driver closed")

// Driver is a thread-safe in-memory implementation of storage.Driver.
type Driver struct {
	mu     sync.RWMutex
	data   map[string][]byte
	quota  int
	used   int
	closed bool
}

var _ storage.Driver = (*Driver)(nil)

// Option configures a Driver.
type Option func(*Driver)

// WithQuota limits the total number of bytes (keys plus values) the driver
// will hold. Writes beyond it fail with storage.ErrQuotaExceeded.
// A quota of 0 means unlimited.
func WithQuota(bytes int) Option {
	return func(d *Driver) {
		d.quota = bytes
	}
}

// NewDriver creates a new empty in-memory Driver.
func NewDriver(opts ...Option) *Driver {
	d := &Driver{data: make(map[string][]byte)}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func entrySize(key string, data []byte) int {
	return len(key) + len(data)
}

func (d *Driver) Get(_ context.Context, key string) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, storage.Unavailable("memory get", errClosed)
	}
	data, ok := d.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (d *Driver) Put(_ context.Context, key string, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return storage.Unavailable("memory put", errClosed)
	}
	used := d.used + entrySize(key, data)
	if old, ok := d.data[key]; ok {
		used -= entrySize(key, old)
	}
	if d.quota > 0 && used > d.quota {
		return storage.ErrQuotaExceeded
	}
	d.data[key] = append([]byte(nil), data...)
	d.used = used
	return nil
}

func (d *Driver) Delete(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return storage.Unavailable("memory delete", errClosed)
	}
	if old, ok := d.data[key]; ok {
		d.used -= entrySize(key, old)
		delete(d.data, key)
	}
	return nil
}

func (d *Driver) Clear(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return storage.Unavailable("memory clear", errClosed)
	}
	d.data = make(map[string][]byte)
	d.used = 0
	return nil
}

// Len returns the number of stored entries.
func (d *Driver) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.data)
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.data = nil
	d.used = 0
	return nil
}
