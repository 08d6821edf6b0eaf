package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jmcleod/sessionkeeper/authapi"
	"github.com/jmcleod/sessionkeeper/internal/config"
	"github.com/jmcleod/sessionkeeper/internal/util"
	"github.com/jmcleod/sessionkeeper/kvs"
	"github.com/jmcleod/sessionkeeper/pipeline"
	"github.com/jmcleod/sessionkeeper/prefs"
	"github.com/jmcleod/sessionkeeper/session"
	"github.com/jmcleod/sessionkeeper/storage"
	boltstore "github.com/jmcleod/sessionkeeper/storage/bbolt"
	"github.com/jmcleod/sessionkeeper/storage/memory"
	"github.com/jmcleod/sessionkeeper/storage/postgres"
	"github.com/jmcleod/sessionkeeper/storage/redisstore"
)

const (
	saltFile   = "salt"
	saltLength = 16
	redisKeyNS = "sessionkeeper"
)

// app is everything a command needs, built from the loaded config.
type app struct {
	store    *kvs.Store
	sealer   *kvs.Sealer
	auth     *authapi.Client
	session  *session.Manager
	http     *http.Client
	prefs    *prefs.Service
	drafts   *prefs.Drafts
	registry *prometheus.Registry
	logger   *slog.Logger
}

func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	if err := os.MkdirAll(cfg.Storage.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	volatile := memory.NewDriver(memory.WithQuota(cfg.Storage.VolatileQuota))
	drivers, err := openDrivers(ctx, cfg, volatile)
	if err != nil {
		return nil, err
	}

	a := &app{logger: logger, registry: prometheus.NewRegistry()}
	kvsOpts := []kvs.Option{kvs.WithLogger(logger)}
	sessOpts := []session.Option{
		session.WithLogger(logger),
		session.WithPolicy(session.Policy{
			RefreshWindow: cfg.Session.RefreshWindow,
			DefaultTTL:    cfg.Session.DefaultTTL,
		}),
	}
	if cfg.Encrypted() {
		salt, err := loadSalt(filepath.Join(cfg.Storage.Dir, saltFile))
		if err == nil {
			a.sealer, err = kvs.NewSealerFromPassphrase(cfg.Security.Passphrase, salt)
		}
		if err != nil {
			closeDrivers(drivers)
			return nil, fmt.Errorf("preparing encryption key: %w", err)
		}
		kvsOpts = append(kvsOpts, kvs.WithSealer(a.sealer))
		sessOpts = append(sessOpts, session.WithEncryptedEntries())
	}
	a.store = kvs.New(drivers, kvsOpts...)

	a.auth, err = authapi.New(cfg.API.BaseURL, authapi.WithTimeout(cfg.API.Timeout), authapi.WithLogger(logger))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.session = session.NewManager(a.store, a.auth, sessOpts...)
	a.session.RestoreFromStorage(ctx)

	a.http = pipeline.NewClient(nil, a.session,
		pipeline.WithLogger(logger),
		pipeline.WithRegisterer(a.registry),
	)
	a.http.Timeout = cfg.API.Timeout
	a.prefs = prefs.NewService(a.store, logger)
	a.drafts = prefs.NewDrafts(a.store, logger)
	return a, nil
}

func (a *app) Close() error {
	err := a.store.Close()
	if a.sealer != nil {
		a.sealer.Destroy()
	}
	return err
}

// ensureFresh refreshes a token inside the refresh window. A failure is
// left for the pipeline to handle on the next 401.
func (a *app) ensureFresh(ctx context.Context) {
	if !a.session.ShouldRefresh(ctx) {
		return
	}
	if _, err := a.session.Refresh(ctx); err != nil {
		a.logger.Warn("proactive refresh failed", "error", err)
	}
}

// openDrivers builds the persistent and durable drivers around volatile.
// On failure every driver opened so far, volatile included, is closed.
func openDrivers(ctx context.Context, cfg *config.Config, volatile storage.Driver) (map[storage.Backend]storage.Driver, error) {
	drivers := map[storage.Backend]storage.Driver{
		storage.Volatile: volatile,
	}

	switch cfg.Storage.Persistent {
	case config.DriverRedis:
		d, err := redisstore.NewDriverFromAddr(ctx, cfg.Storage.RedisAddr, redisKeyNS, storage.Persistent.String())
		if err != nil {
			closeDrivers(drivers)
			return nil, fmt.Errorf("failed to open persistent storage: %w", err)
		}
		drivers[storage.Persistent] = d
	default:
		d, err := boltstore.NewDriverFromFile(filepath.Join(cfg.Storage.Dir, "persistent.db"), storage.Persistent.String(), nil)
		if err != nil {
			closeDrivers(drivers)
			return nil, fmt.Errorf("failed to open persistent storage: %w", err)
		}
		drivers[storage.Persistent] = d
	}

	// The durable backend opens on first use.
	switch cfg.Storage.Durable {
	case config.DriverPostgres:
		drivers[storage.Durable] = storage.NewLazy(postgres.Opener(cfg.Storage.PostgresDSN, storage.Durable.String()))
	default:
		path := filepath.Join(cfg.Storage.Dir, "durable.db")
		drivers[storage.Durable] = storage.NewLazy(boltstore.Opener(path, storage.Durable.String(), nil))
	}
	return drivers, nil
}

func closeDrivers(drivers map[storage.Backend]storage.Driver) {
	for _, d := range drivers {
		d.Close()
	}
}

// loadSalt reads the key-derivation salt at path, creating it on first use.
func loadSalt(path string) ([]byte, error) {
	salt, err := os.ReadFile(path)
	if err == nil {
		if len(salt) < saltLength {
			return nil, fmt.Errorf("salt file %s is truncated", path)
		}
		return salt, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	salt, err = util.RandomBytes(saltLength)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, salt, 0o600); err != nil {
		return nil, fmt.Errorf("writing salt file: %w", err)
	}
	return salt, nil
}

// withApp opens the app for the duration of fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// userError logs err and returns the message a user should see.
func userError(err error) error {
	logger.Debug("command failed", "error", err)
	return errors.New(session.UserMessage(err))
}
