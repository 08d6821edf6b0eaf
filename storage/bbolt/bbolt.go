// Package bbolt provides a BBolt-backed storage driver. It serves the
// persistent backend and is the default durable backend.
package bbolt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
	bolterrors "go.etcd.io/bbolt/errors"

	"github.com/jmcleod/sessionkeeper/storage"
)

// DefaultOpenTimeout bounds how long opening waits for the file lock held
// by another process.
const DefaultOpenTimeout = 2 * time.Second

// Driver implements storage.Driver with one bucket of a BBolt database.
type Driver struct {
	db     *bbolt.DB
	bucket []byte
	owned  bool
}

var _ storage.Driver = (*Driver)(nil)

// NewDriver returns a Driver that keeps its entries in the namespace bucket
// of db, creating the bucket if needed. The caller keeps ownership of db.
func NewDriver(db *bbolt.DB, namespace string) (*Driver, error) {
	if namespace == "" {
		return nil, errors.New("bbolt driver: namespace must not be empty")
	}
	d := &Driver{db: db, bucket: []byte(namespace)}
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(d.bucket)
		return err
	})
	if err != nil {
		return nil, d.wrap("creating bucket", err)
	}
	return d, nil
}

// NewDriverFromFile opens a BBolt database at path and returns a Driver
// that closes it on Close.
func NewDriverFromFile(path, namespace string, options *bbolt.Options) (*Driver, error) {
	if options == nil {
		options = &bbolt.Options{Timeout: DefaultOpenTimeout}
	}
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, storage.Unavailable("opening bbolt db", err)
	}
	d, err := NewDriver(db, namespace)
	if err != nil {
		db.Close()
		return nil, err
	}
	d.owned = true
	return d, nil
}

// Opener returns a storage.OpenFunc for use with storage.NewLazy.
func Opener(path, namespace string, options *bbolt.Options) storage.OpenFunc {
	return func(context.Context) (storage.Driver, error) {
		return NewDriverFromFile(path, namespace, options)
	}
}

func (d *Driver) wrap(op string, err error) error {
	if errors.Is(err, bolterrors.ErrDatabaseNotOpen) || errors.Is(err, bolterrors.ErrDatabaseReadOnly) {
		return storage.Unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (d *Driver) Get(_ context.Context, key string) ([]byte, error) {
	var data []byte
	err := d.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(d.bucket)
		if b == nil {
			return storage.ErrNotFound
		}
		v := b.Get([]byte(key))
		if v == nil {
			return storage.ErrNotFound
		}
		// Values are only valid for the life of the transaction.
		data = append([]byte(nil), v...)
		return nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, d.wrap("bbolt get", err)
	}
	return data, nil
}

func (d *Driver) Put(_ context.Context, key string, data []byte) error {
	err := d.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(d.bucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), data)
	})
	if err != nil {
		return d.wrap("bbolt put", err)
	}
	return nil
}

func (d *Driver) Delete(_ context.Context, key string) error {
	err := d.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(d.bucket)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
	if err != nil {
		return d.wrap("bbolt delete", err)
	}
	return nil
}

func (d *Driver) Clear(_ context.Context) error {
	err := d.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(d.bucket) != nil {
			if err := tx.DeleteBucket(d.bucket); err != nil {
				return err
			}
		}
		_, err := tx.CreateBucket(d.bucket)
		return err
	})
	if err != nil {
		return d.wrap("bbolt clear", err)
	}
	return nil
}

// Keys returns every key in the driver's bucket.
func (d *Driver) Keys() ([]string, error) {
	var keys []string
	err := d.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(d.bucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, d.wrap("bbolt keys", err)
	}
	return keys, nil
}

// Close closes the database if the driver opened it.
func (d *Driver) Close() error {
	if !d.owned {
		return nil
	}
	return d.db.Close()
}
