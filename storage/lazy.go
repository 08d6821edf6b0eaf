package storage

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"
)

var errLazyClosed = errors.New("driver closed")

// OpenFunc opens a Driver. It is called at most once per successful open.
type OpenFunc func(ctx context.Context) (Driver, error)

// Lazy is a Driver that opens its underlying driver on first use.
// Concurrent first accessors share a single open attempt. A failed attempt
// is not remembered: the next accessor tries again.
type Lazy struct {
	open  OpenFunc
	group singleflight.Group

	mu     sync.Mutex
	driver Driver
	closed bool
}

var _ Driver = (*Lazy)(nil)

// NewLazy returns a Lazy driver that calls open on first access.
func NewLazy(open OpenFunc) *Lazy {
	return &Lazy{open: open}
}

// Ready reports whether the underlying driver has been opened.
func (l *Lazy) Ready() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.driver != nil
}

// Init opens the underlying driver if it is not open yet.
func (l *Lazy) Init(ctx context.Context) error {
	_, err := l.acquire(ctx)
	return err
}

func (l *Lazy) current() (Driver, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, Unavailable("lazy driver", errLazyClosed)
	}
	return l.driver, nil
}

func (l *Lazy) acquire(ctx context.Context) (Driver, error) {
	d, err := l.current()
	if err != nil || d != nil {
		return d, err
	}
	v, err, _ := l.group.Do("open", func() (any, error) {
		if d, err := l.current(); err != nil || d != nil {
			return d, err
		}
		// The open is shared by every waiting accessor, so one caller
		// giving up must not fail the others.
		d, err := l.open(context.WithoutCancel(ctx))
		if err != nil {
			return nil, Unavailable("opening driver", err)
		}
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.closed {
			_ = d.Close()
			return nil, Unavailable("lazy driver", errLazyClosed)
		}
		l.driver = d
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Driver), nil
}

func (l *Lazy) Get(ctx context.Context, key string) ([]byte, error) {
	d, err := l.acquire(ctx)
	if err != nil {
		return nil, err
	}
	return d.Get(ctx, key)
}

func (l *Lazy) Put(ctx context.Context, key string, data []byte) error {
	d, err := l.acquire(ctx)
	if err != nil {
		return err
	}
	return d.Put(ctx, key, data)
}

func (l *Lazy) Delete(ctx context.Context, key string) error {
	d, err := l.acquire(ctx)
	if err != nil {
		return err
	}
	return d.Delete(ctx, key)
}

func (l *Lazy) Clear(ctx context.Context) error {
	d, err := l.acquire(ctx)
	if err != nil {
		return err
	}
	return d.Clear(ctx)
}

// Close closes the underlying driver if it was opened.
func (l *Lazy) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.driver == nil {
		return nil
	}
	err := l.driver.Close()
	l.driver = nil
	return err
}
