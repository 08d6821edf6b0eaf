// Package postgres implements a storage.Driver backed by PostgreSQL. It is
// an alternative durable backend: transactional, shared and large.
//
// Entries of every driver live in one kv_entries table keyed by
// (namespace, key), mirroring the bucket-per-namespace layout of the BBolt
// driver.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmcleod/sessionkeeper/storage"
)

// Driver implements storage.Driver on a pgx connection pool.
type Driver struct {
	pool      *pgxpool.Pool
	namespace string
	owned     bool
}

var _ storage.Driver = (*Driver)(nil)

// NewDriver returns a Driver using pool. The caller keeps ownership of pool
// and is responsible for EnsureSchema.
func NewDriver(pool *pgxpool.Pool, namespace string) *Driver {
	return &Driver{pool: pool, namespace: namespace}
}

// NewDriverFromDSN creates a connection pool from dsn, ensures the schema
// exists, and returns a Driver that closes the pool on Close.
func NewDriverFromDSN(ctx context.Context, dsn, namespace string) (*Driver, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, storage.Unavailable("connecting to postgres", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, storage.Unavailable("connecting to postgres", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	d := NewDriver(pool, namespace)
	d.owned = true
	return d, nil
}

// Opener returns a storage.OpenFunc for use with storage.NewLazy.
func Opener(dsn, namespace string) storage.OpenFunc {
	return func(ctx context.Context) (storage.Driver, error) {
		return NewDriverFromDSN(ctx, dsn, namespace)
	}
}

// wrap classifies err: server-side SQL errors are returned as is, anything
// else (network, closed pool) means the backend is unavailable.
func wrap(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return storage.Unavailable(op, err)
}

func (d *Driver) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := d.pool.QueryRow(ctx,
		`SELECT data FROM kv_entries WHERE namespace = $1 AND key = $2`,
		d.namespace, key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, wrap("postgres get", err)
	}
	return data, nil
}

func (d *Driver) Put(ctx context.Context, key string, data []byte) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO kv_entries (namespace, key, data, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (namespace, key)
		 DO UPDATE SET data = $3, updated_at = now()`,
		d.namespace, key, data)
	if err != nil {
		return wrap("postgres put", err)
	}
	return nil
}

func (d *Driver) Delete(ctx context.Context, key string) error {
	_, err := d.pool.Exec(ctx,
		`DELETE FROM kv_entries WHERE namespace = $1 AND key = $2`,
		d.namespace, key)
	if err != nil {
		return wrap("postgres delete", err)
	}
	return nil
}

func (d *Driver) Clear(ctx context.Context) error {
	err := pgx.BeginFunc(ctx, d.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `DELETE FROM kv_entries WHERE namespace = $1`, d.namespace)
		return err
	})
	if err != nil {
		return wrap("postgres clear", err)
	}
	return nil
}

// Count returns the number of entries in the driver's namespace.
func (d *Driver) Count(ctx context.Context) (int, error) {
	var n int
	err := d.pool.QueryRow(ctx,
		`SELECT count(*) FROM kv_entries WHERE namespace = $1`, d.namespace).Scan(&n)
	if err != nil {
		return 0, wrap("postgres count", err)
	}
	return n, nil
}

// Close closes the pool if the driver created it.
func (d *Driver) Close() error {
	if d.owned {
		d.pool.Close()
	}
	return nil
}
