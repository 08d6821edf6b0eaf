package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmcleod/sessionkeeper/kvs"
	"github.com/jmcleod/sessionkeeper/storage"
)

// Manager owns the authenticated session. It is safe for concurrent use.
type Manager struct {
	store   *kvs.Store
	auth    Authenticator
	policy  Policy
	now     func() time.Time
	logger  *slog.Logger
	encrypt bool

	mu      sync.RWMutex
	current *Session
}

// Option configures a Manager.
type Option func(*Manager)

// WithPolicy overrides the freshness policy.
func WithPolicy(p Policy) Option {
	return func(m *Manager) {
		if p.RefreshWindow > 0 {
			m.policy.RefreshWindow = p.RefreshWindow
		}
		if p.DefaultTTL > 0 {
			m.policy.DefaultTTL = p.DefaultTTL
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithEncryptedEntries seals the token and profile at rest. The store
// must carry a kvs.Sealer.
func WithEncryptedEntries() Option {
	return func(m *Manager) { m.encrypt = true }
}

// NewManager returns a Manager storing its entries in store.
func NewManager(store *kvs.Store, auth Authenticator, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		auth:   auth,
		policy: DefaultPolicy(),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "session")
	return m
}

// Policy returns the freshness policy in effect.
func (m *Manager) Policy() Policy { return m.policy }

// Login authenticates creds and persists the resulting session.
func (m *Manager) Login(ctx context.Context, creds Credentials) (Session, error) {
	resp, err := m.auth.Login(ctx, creds)
	if err != nil {
		m.logger.Warn("login failed", "error", err)
		return Session{}, err
	}
	if resp.Token == "" {
		return Session{}, ErrEmptyToken
	}

	sess := Session{
		Token:     resp.Token,
		ExpiresAt: m.expiryFor(resp, m.now()),
		Profile:   resp.Profile(),
	}
	if err := m.persist(ctx, sess); err != nil {
		m.logger.Error("persisting session failed", "error", err)
		return Session{}, err
	}
	m.setCurrent(&sess)
	m.logger.Info("logged in", "user_id", sess.Profile.UserID, "expires_at", sess.ExpiresAt)
	return sess, nil
}

// Refresh exchanges the current token for a new one. The profile is kept.
// Refresh never logs out.
func (m *Manager) Refresh(ctx context.Context) (Session, error) {
	token, ok := m.Token(ctx)
	if !ok {
		return Session{}, fmt.Errorf("%w: %w", ErrRefreshFailed, ErrNoSession)
	}
	resp, err := m.auth.Refresh(ctx, token)
	if err != nil {
		m.logger.Warn("token refresh failed", "error", err)
		if errors.Is(err, ErrRefreshFailed) {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	if resp.Token == "" {
		return Session{}, fmt.Errorf("%w: %w", ErrRefreshFailed, ErrEmptyToken)
	}

	prevExpiry, _ := m.expiry(ctx)
	profile, _ := m.Profile(ctx)
	sess := Session{
		Token:     resp.Token,
		ExpiresAt: m.expiryFor(resp, m.now()),
		Profile:   profile,
	}
	if err := m.writeToken(ctx, sess); err != nil {
		// Put the previous token back; the profile is never touched here.
		prev := Session{Token: token, ExpiresAt: prevExpiry}
		if rbErr := m.writeToken(ctx, prev); rbErr != nil {
			m.logger.Warn("restoring previous token incomplete", "error", rbErr)
		}
		if !errors.Is(err, storage.ErrUnavailable) {
			err = storage.Unavailable("persist token", err)
		}
		return Session{}, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	m.setCurrent(&sess)
	m.logger.Info("token refreshed", "expires_at", sess.ExpiresAt)
	return sess, nil
}

// Logout removes every session entry. It is idempotent; only storage
// failures are reported.
func (m *Manager) Logout(ctx context.Context) error {
	m.setCurrent(nil)
	err := m.removeAll(ctx)
	if err != nil {
		m.logger.Warn("logout left entries behind", "error", err)
		return err
	}
	m.logger.Info("logged out")
	return nil
}

// RestoreFromStorage rebuilds the in-memory state from storage. Any
// missing entry or an expired token leaves the manager Anonymous.
func (m *Manager) RestoreFromStorage(ctx context.Context) (Session, bool) {
	token, ok := m.Token(ctx)
	if !ok {
		m.setCurrent(nil)
		return Session{}, false
	}
	expiresAt, ok := m.expiry(ctx)
	if !ok || !m.now().Before(expiresAt) {
		m.setCurrent(nil)
		return Session{}, false
	}
	profile, ok := m.Profile(ctx)
	if !ok {
		m.setCurrent(nil)
		return Session{}, false
	}
	sess := Session{Token: token, ExpiresAt: expiresAt, Profile: profile}
	m.setCurrent(&sess)
	m.logger.Debug("session restored", "user_id", profile.UserID)
	return sess, true
}

// Freshness classifies the stored token.
func (m *Manager) Freshness(ctx context.Context) Freshness {
	if _, ok := m.Token(ctx); !ok {
		return Absent
	}
	expiresAt, ok := m.expiry(ctx)
	if !ok {
		return Absent
	}
	return m.policy.Classify(expiresAt, m.now())
}

// IsAuthenticated reports whether a stored token has time left.
func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	return m.Freshness(ctx).Valid()
}

// ShouldRefresh reports whether the token is inside the refresh window.
func (m *Manager) ShouldRefresh(ctx context.Context) bool {
	return m.Freshness(ctx) == Expiring
}

// RefreshWarranted reports whether a 401 is worth a refresh attempt.
func (m *Manager) RefreshWarranted(ctx context.Context) bool {
	return m.Freshness(ctx).Valid()
}

// Token returns the stored bearer token.
func (m *Manager) Token(ctx context.Context) (string, bool) {
	token, ok, err := kvs.Lookup[string](ctx, m.store, KeyAuthToken, storage.Persistent)
	if err != nil {
		m.logger.Warn("reading token failed", "error", err)
		return "", false
	}
	return token, ok && token != ""
}

// Profile returns the stored user profile.
func (m *Manager) Profile(ctx context.Context) (Profile, bool) {
	p, ok, err := kvs.Lookup[Profile](ctx, m.store, KeyUserData, storage.Durable)
	if err != nil {
		m.logger.Warn("reading profile failed", "error", err)
		return Profile{}, false
	}
	return p, ok
}

// State returns the in-memory authentication signal. A session whose
// expiry has passed reads as Anonymous.
func (m *Manager) State() State {
	if _, ok := m.Current(); ok {
		return Active
	}
	return Anonymous
}

// Current returns the in-memory session if it has not expired.
func (m *Manager) Current() (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil || !m.now().Before(m.current.ExpiresAt) {
		return Session{}, false
	}
	return *m.current, true
}

func (m *Manager) setCurrent(s *Session) {
	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
}

func (m *Manager) expiry(ctx context.Context) (time.Time, bool) {
	ms, ok, err := kvs.Lookup[int64](ctx, m.store, KeyTokenExpiry, storage.Persistent)
	if err != nil {
		m.logger.Warn("reading token expiry failed", "error", err)
		return time.Time{}, false
	}
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// expiryFor prefers the backend's expiresIn, then the token's exp
// claim, then the policy default.
func (m *Manager) expiryFor(resp AuthResponse, now time.Time) time.Time {
	if resp.ExpiresIn > 0 {
		return now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	if exp, ok := tokenExpiry(resp.Token); ok {
		return exp
	}
	return now.Add(m.policy.DefaultTTL)
}

func (m *Manager) setOpts() []kvs.SetOption {
	if m.encrypt {
		return []kvs.SetOption{kvs.WithEncryption()}
	}
	return nil
}

// writeToken stores the token and its expiry. A zero ExpiresAt leaves
// the expiry entry as it is.
func (m *Manager) writeToken(ctx context.Context, sess Session) error {
	if err := m.store.Set(ctx, KeyAuthToken, sess.Token, storage.Persistent, m.setOpts()...); err != nil {
		return err
	}
	if sess.ExpiresAt.IsZero() {
		return nil
	}
	return m.store.Set(ctx, KeyTokenExpiry, sess.ExpiresAt.UnixMilli(), storage.Persistent)
}

// persist writes a full session. On failure every session entry is
// removed so no half-written session survives.
func (m *Manager) persist(ctx context.Context, sess Session) error {
	err := m.writeToken(ctx, sess)
	if err == nil {
		err = m.store.Set(ctx, KeyUserData, sess.Profile, storage.Durable, m.setOpts()...)
	}
	if err == nil {
		return nil
	}
	if rmErr := m.removeAll(ctx); rmErr != nil {
		m.logger.Warn("rollback after failed write incomplete", "error", rmErr)
	}
	m.setCurrent(nil)
	if !errors.Is(err, storage.ErrUnavailable) {
		err = storage.Unavailable("persist session", err)
	}
	return err
}

func (m *Manager) removeAll(ctx context.Context) error {
	return errors.Join(
		m.store.Remove(ctx, KeyAuthToken, storage.Persistent),
		m.store.Remove(ctx, KeyTokenExpiry, storage.Persistent),
		m.store.Remove(ctx, KeyUserData, storage.Durable),
	)
}
