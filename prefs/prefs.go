// Package prefs stores user preferences and form drafts. Both are
// non-critical: a backend that cannot be written is logged and ignored.
package prefs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmcleod/sessionkeeper/kvs"
	"github.com/jmcleod/sessionkeeper/storage"
)

// Common entry lifetimes.
const (
	OneHour  = time.Hour
	OneDay   = 24 * time.Hour
	OneWeek  = 7 * OneDay
	OneMonth = 30 * OneDay
)

// KeyPreferences is the storage key of the preferences entry.
const KeyPreferences = "user_preferences"

// Themes.
const (
	ThemeLight = "light"
	ThemeDark  = "dark"
)

// ErrInvalidTheme is returned by Set for a theme other than light or dark.
var ErrInvalidTheme = errors.New("theme must be light or dark")

// Preferences are the user's UI settings. Nil pointers and empty strings
// mean "not set".
type Preferences struct {
	Theme         string `json:"theme,omitempty"`
	Language      string `json:"language,omitempty"`
	Notifications *bool  `json:"notifications,omitempty"`
	AutoSave      *bool  `json:"autoSave,omitempty"`
}

// Defaults returns the preferences used when none are stored.
func Defaults() Preferences {
	on := true
	autoSave := true
	return Preferences{
		Theme:         ThemeLight,
		Language:      "pt-BR",
		Notifications: &on,
		AutoSave:      &autoSave,
	}
}

// Merge returns p with every field set in patch replaced.
func (p Preferences) Merge(patch Preferences) Preferences {
	if patch.Theme != "" {
		p.Theme = patch.Theme
	}
	if patch.Language != "" {
		p.Language = patch.Language
	}
	if patch.Notifications != nil {
		v := *patch.Notifications
		p.Notifications = &v
	}
	if patch.AutoSave != nil {
		v := *patch.AutoSave
		p.AutoSave = &v
	}
	return p
}

// Service reads and writes preferences in the persistent backend.
type Service struct {
	store  *kvs.Store
	logger *slog.Logger
}

// NewService returns a Service. A nil logger means slog.Default.
func NewService(store *kvs.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger.With("component", "prefs")}
}

// Get returns the stored preferences, or Defaults when there are none
// or the backend cannot be read.
func (s *Service) Get(ctx context.Context) Preferences {
	p, ok, err := kvs.Lookup[Preferences](ctx, s.store, KeyPreferences, storage.Persistent)
	if err != nil {
		s.logger.Warn("reading preferences failed", "error", err)
	}
	if !ok {
		return Defaults()
	}
	return p
}

// Set merges patch over the current preferences and stores the result.
func (s *Service) Set(ctx context.Context, patch Preferences) (Preferences, error) {
	if patch.Theme != "" && patch.Theme != ThemeLight && patch.Theme != ThemeDark {
		return Preferences{}, fmt.Errorf("%w: %q", ErrInvalidTheme, patch.Theme)
	}
	updated := s.Get(ctx).Merge(patch)
	return updated, s.write(ctx, updated)
}

// Reset stores Defaults.
func (s *Service) Reset(ctx context.Context) (Preferences, error) {
	d := Defaults()
	return d, s.write(ctx, d)
}

func (s *Service) write(ctx context.Context, p Preferences) error {
	return swallowUnavailable(s.logger, "writing preferences",
		s.store.Set(ctx, KeyPreferences, p, storage.Persistent))
}

func swallowUnavailable(logger *slog.Logger, msg string, err error) error {
	if errors.Is(err, storage.ErrUnavailable) {
		logger.Warn(msg+" skipped", "error", err)
		return nil
	}
	return err
}
