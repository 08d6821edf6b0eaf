package prefs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jmcleod/sessionkeeper/kvs"
	"github.com/jmcleod/sessionkeeper/storage"
)

// DraftTTL is how long a saved form draft lives.
const DraftTTL = OneDay

// ErrEmptyFormName is returned for a blank form name.
var ErrEmptyFormName = errors.New("form name is empty")

// DraftKey returns the storage key of the draft for form.
func DraftKey(form string) string { return "form_draft_" + form }

// Drafts keeps unsaved form input in the persistent backend for a day.
type Drafts struct {
	store  *kvs.Store
	ttl    time.Duration
	logger *slog.Logger
}

// NewDrafts returns a Drafts. A nil logger means slog.Default.
func NewDrafts(store *kvs.Store, logger *slog.Logger) *Drafts {
	if logger == nil {
		logger = slog.Default()
	}
	return &Drafts{store: store, ttl: DraftTTL, logger: logger.With("component", "drafts")}
}

// Save stores data as the draft of form, replacing any previous draft.
func (d *Drafts) Save(ctx context.Context, form string, data any) error {
	if form == "" {
		return ErrEmptyFormName
	}
	err := d.store.Set(ctx, DraftKey(form), data, storage.Persistent, kvs.WithTTL(d.ttl))
	return swallowUnavailable(d.logger, "saving draft", err)
}

// Load decodes the draft of form into out and reports whether one exists.
func (d *Drafts) Load(ctx context.Context, form string, out any) (bool, error) {
	if form == "" {
		return false, ErrEmptyFormName
	}
	return d.store.Get(ctx, DraftKey(form), storage.Persistent, out)
}

// Has reports whether form has a live draft.
func (d *Drafts) Has(ctx context.Context, form string) bool {
	ok, err := d.Load(ctx, form, nil)
	if err != nil {
		d.logger.Warn("reading draft failed", "form", form, "error", err)
	}
	return ok
}

// Remove deletes the draft of form.
func (d *Drafts) Remove(ctx context.Context, form string) error {
	if form == "" {
		return ErrEmptyFormName
	}
	return swallowUnavailable(d.logger, "removing draft",
		d.store.Remove(ctx, DraftKey(form), storage.Persistent))
}
