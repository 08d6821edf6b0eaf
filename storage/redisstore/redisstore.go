// Package redisstore provides a redis-backed storage driver, usable as the
// persistent backend when several processes on one host share a session.
package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/jmcleod/sessionkeeper/storage"
)

const scanBatch = 100

// Driver implements storage.Driver on a redis client. Keys are stored as
// <prefix>:<namespace>:<key>.
type Driver struct {
	rdb    *redis.Client
	prefix string
	owned  bool
}

var _ storage.Driver = (*Driver)(nil)

// NewDriver returns a Driver using rdb. The caller keeps ownership of rdb.
func NewDriver(rdb *redis.Client, prefix, namespace string) *Driver {
	return &Driver{rdb: rdb, prefix: prefix + ":" + namespace + ":"}
}

// NewDriverFromAddr connects to the redis server at addr and verifies the
// connection. The returned Driver closes the client on Close.
func NewDriverFromAddr(ctx context.Context, addr, prefix, namespace string) (*Driver, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, storage.Unavailable("connecting to redis", err)
	}
	d := NewDriver(rdb, prefix, namespace)
	d.owned = true
	return d, nil
}

func (d *Driver) key(k string) string {
	return d.prefix + k
}

func (d *Driver) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := d.rdb.Get(ctx, d.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, storage.Unavailable("redis get", err)
	}
	return data, nil
}

func (d *Driver) Put(ctx context.Context, key string, data []byte) error {
	// Expiry is decided by the envelope at read time, so redis keeps the
	// entry without its own TTL.
	if err := d.rdb.Set(ctx, d.key(key), data, 0).Err(); err != nil {
		return storage.Unavailable("redis set", err)
	}
	return nil
}

func (d *Driver) Delete(ctx context.Context, key string) error {
	if err := d.rdb.Del(ctx, d.key(key)).Err(); err != nil {
		return storage.Unavailable("redis del", err)
	}
	return nil
}

func (d *Driver) Clear(ctx context.Context) error {
	iter := d.rdb.Scan(ctx, 0, d.prefix+"*", scanBatch).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := d.rdb.Del(ctx, batch...).Err(); err != nil {
				return storage.Unavailable("redis clear", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return storage.Unavailable("redis scan", err)
	}
	if len(batch) > 0 {
		if err := d.rdb.Del(ctx, batch...).Err(); err != nil {
			return storage.Unavailable("redis clear", err)
		}
	}
	return nil
}

// Close closes the client if the driver created it.
func (d *Driver) Close() error {
	if !d.owned {
		return nil
	}
	if err := d.rdb.Close(); err != nil {
		return fmt.Errorf("closing redis client: %w", err)
	}
	return nil
}
