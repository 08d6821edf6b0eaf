// Package kvs is a backend-agnostic key-value store with per-entry
// expiration. Each call names the backend it addresses; keys never alias
// across backends.
//
// Expiry is enforced lazily: Get compares the wall clock with the entry's
// write time and removes an expired entry before reporting it absent. There
// is no background sweep, so Get may write to the backend.
package kvs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	icrypto "github.com/jmcleod/sessionkeeper/internal/crypto"
	"github.com/jmcleod/sessionkeeper/storage"
)

// ErrNoSealer is returned by Set when encryption is requested on a store
// without a Sealer.
var ErrNoSealer = errors.New("encryption requested but no sealer configured")

// ErrInvalidTTL is returned by Set when WithTTL is given a non-positive duration.
var ErrInvalidTTL = errors.New("ttl must be positive")

// Store reads and writes TTL-aware entries across storage backends.
type Store struct {
	drivers map[storage.Backend]storage.Driver
	now     func() time.Time
	sealer  *Sealer
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source used for write stamps and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithSealer enables encrypted entries.
func WithSealer(sealer *Sealer) Option {
	return func(s *Store) {
		s.sealer = sealer
	}
}

// New returns a Store over the given drivers. A backend without a driver
// is unavailable.
func New(drivers map[storage.Backend]storage.Driver, opts ...Option) *Store {
	s := &Store{
		drivers: make(map[storage.Backend]storage.Driver, len(drivers)),
		now:     time.Now,
	}
	for b, d := range drivers {
		s.drivers[b] = d
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "kvs")
	return s
}

// SetOption configures a single Set call.
type SetOption func(*setOptions)

type setOptions struct {
	ttl     time.Duration
	hasTTL  bool
	encrypt bool
}

// WithTTL makes the entry absent once more than d has passed since the write.
// d must be positive.
func WithTTL(d time.Duration) SetOption {
	return func(o *setOptions) {
		o.ttl = d
		o.hasTTL = true
	}
}

// WithEncryption seals the value with the store's Sealer.
func WithEncryption() SetOption {
	return func(o *setOptions) {
		o.encrypt = true
	}
}

func (s *Store) driver(backend storage.Backend) (storage.Driver, error) {
	d, ok := s.drivers[backend]
	if !ok || d == nil {
		return nil, storage.Unavailable(backend.String(), errors.New("no driver configured"))
	}
	return d, nil
}

func aad(backend storage.Backend, key string) []byte {
	return icrypto.AADEntry(backend.String(), key, storage.EnvelopeVersion)
}

// Set encodes value and writes it under key in backend, replacing any
// previous entry there. Failures are always returned; an inaccessible
// backend yields an error matching storage.ErrUnavailable.
func (s *Store) Set(ctx context.Context, key string, value any, backend storage.Backend, opts ...SetOption) error {
	var o setOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.hasTTL && o.ttl <= 0 {
		return fmt.Errorf("set %s/%s: %w", backend, key, ErrInvalidTTL)
	}
	d, err := s.driver(backend)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s/%s: %w", backend, key, err)
	}

	env := storage.NewEnvelope(raw, s.now(), o.ttl)
	if o.encrypt {
		if s.sealer == nil {
			return ErrNoSealer
		}
		if err := s.sealer.seal(env, aad(backend, key)); err != nil {
			return fmt.Errorf("sealing %s/%s: %w", backend, key, err)
		}
	}
	data, err := storage.EncodeEnvelope(env)
	if err != nil {
		return fmt.Errorf("encoding %s/%s: %w", backend, key, err)
	}
	if err := d.Put(ctx, key, data); err != nil {
		return fmt.Errorf("set %s/%s: %w", backend, key, err)
	}
	return nil
}

// Get decodes the entry for key in backend into out and reports whether it
// was present. out may be nil to test presence only.
//
// Get is not a pure read: an expired entry is deleted before Get returns
// false, and so is an entry that can no longer be decoded. Neither case
// is an error. Errors are returned only when the backend is inaccessible.
func (s *Store) Get(ctx context.Context, key string, backend storage.Backend, out any) (bool, error) {
	d, err := s.driver(backend)
	if err != nil {
		return false, err
	}
	data, err := d.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s/%s: %w", backend, key, err)
	}

	env, err := storage.DecodeEnvelope(data)
	if err != nil {
		s.logger.Debug("discarding corrupted entry",
			slog.String("backend", backend.String()),
			slog.String("key", key),
			slog.String("error", err.Error()))
		s.evict(ctx, d, backend, key)
		return false, nil
	}
	if env.Expired(s.now()) {
		s.evict(ctx, d, backend, key)
		return false, nil
	}

	raw := env.Value
	if env.Sealed() {
		if s.sealer == nil {
			// Readable again once a sealer is configured, so keep it.
			s.logger.Debug("sealed entry without sealer",
				slog.String("backend", backend.String()),
				slog.String("key", key))
			return false, nil
		}
		raw, err = s.sealer.open(env, aad(backend, key))
		if err != nil && !errors.Is(err, storage.ErrCorrupted) {
			// The key is unusable, not the entry; keep it.
			s.logger.Warn("sealer cannot open entry",
				slog.String("backend", backend.String()),
				slog.String("key", key),
				slog.String("error", err.Error()))
			return false, nil
		}
		if err != nil {
			s.logger.Debug("discarding unopenable entry",
				slog.String("backend", backend.String()),
				slog.String("key", key),
				slog.String("error", err.Error()))
			s.evict(ctx, d, backend, key)
			return false, nil
		}
	}
	if out == nil {
		return true, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		s.logger.Debug("entry does not decode into requested type",
			slog.String("backend", backend.String()),
			slog.String("key", key),
			slog.String("error", err.Error()))
		return false, nil
	}
	return true, nil
}

func (s *Store) evict(ctx context.Context, d storage.Driver, backend storage.Backend, key string) {
	if err := d.Delete(ctx, key); err != nil {
		s.logger.Warn("evicting entry failed",
			slog.String("backend", backend.String()),
			slog.String("key", key),
			slog.String("error", err.Error()))
	}
}

// Lookup is a typed form of Store.Get.
func Lookup[T any](ctx context.Context, s *Store, key string, backend storage.Backend) (T, bool, error) {
	var v T
	ok, err := s.Get(ctx, key, backend, &v)
	if err != nil || !ok {
		var zero T
		return zero, false, err
	}
	return v, true, nil
}

// Remove deletes key from backend. Removing an absent key is not an error.
func (s *Store) Remove(ctx context.Context, key string, backend storage.Backend) error {
	d, err := s.driver(backend)
	if err != nil {
		return err
	}
	if err := d.Delete(ctx, key); err != nil {
		return fmt.Errorf("remove %s/%s: %w", backend, key, err)
	}
	return nil
}

// Clear removes every entry of backend. It is meant for full reset flows.
func (s *Store) Clear(ctx context.Context, backend storage.Backend) error {
	d, err := s.driver(backend)
	if err != nil {
		return err
	}
	if err := d.Clear(ctx); err != nil {
		return fmt.Errorf("clear %s: %w", backend, err)
	}
	return nil
}

// Close closes every driver once, even if it serves several backends.
func (s *Store) Close() error {
	seen := make(map[storage.Driver]bool, len(s.drivers))
	var errs []error
	for _, b := range storage.Backends {
		d, ok := s.drivers[b]
		if !ok || seen[d] {
			continue
		}
		seen[d] = true
		if err := d.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", b, err))
		}
	}
	return errors.Join(errs...)
}
