package bbolt

import (
	"errors"
	"path/filepath"
	"sort"
	"testing"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/sessionkeeper/storage"
)

func newTestDB(t *testing.T) *bbolt.DB {
	t.Helper()
	db, err := bbolt.Open(filepath.Join(t.TempDir(), "session-test.db"), 0600, nil)
	if err != nil {
		t.Fatalf("could not open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBBoltDriver(t *testing.T) {
	ctx := t.Context()
	db := newTestDB(t)

	d, err := NewDriver(db, "persistent")
	if err != nil {
		t.Fatalf("NewDriver failed: %v", err)
	}

	t.Run("PutGet", func(t *testing.T) {
		if err := d.Put(ctx, "auth_token", []byte("tok")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		got, err := d.Get(ctx, "auth_token")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(got) != "tok" {
			t.Errorf("expected %q, got %q", "tok", got)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := d.Get(ctx, "nonexistent")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("NamespaceIsolation", func(t *testing.T) {
		other, err := NewDriver(db, "durable")
		if err != nil {
			t.Fatalf("NewDriver failed: %v", err)
		}
		if _, err := other.Get(ctx, "auth_token"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected key to be invisible from another namespace, got %v", err)
		}
		other.Put(ctx, "auth_token", []byte("other"))
		got, _ := d.Get(ctx, "auth_token")
		if string(got) != "tok" {
			t.Errorf("write in another namespace leaked: got %q", got)
		}
	})

	t.Run("DeleteIdempotent", func(t *testing.T) {
		if err := d.Delete(ctx, "auth_token"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if err := d.Delete(ctx, "auth_token"); err != nil {
			t.Fatalf("second Delete failed: %v", err)
		}
		if _, err := d.Get(ctx, "auth_token"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
	})

	t.Run("ClearAndKeys", func(t *testing.T) {
		d.Put(ctx, "a", []byte("1"))
		d.Put(ctx, "b", []byte("2"))
		keys, err := d.Keys()
		if err != nil {
			t.Fatalf("Keys failed: %v", err)
		}
		sort.Strings(keys)
		if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
			t.Errorf("unexpected keys %v", keys)
		}

		if err := d.Clear(ctx); err != nil {
			t.Fatalf("Clear failed: %v", err)
		}
		keys, _ = d.Keys()
		if len(keys) != 0 {
			t.Errorf("expected no keys after Clear, got %v", keys)
		}
		// The bucket is usable again after Clear.
		if err := d.Put(ctx, "c", []byte("3")); err != nil {
			t.Fatalf("Put after Clear failed: %v", err)
		}
	})

	t.Run("EmptyNamespace", func(t *testing.T) {
		if _, err := NewDriver(db, ""); err == nil {
			t.Error("expected error for empty namespace")
		}
	})
}

func TestBBoltDriverFromFile(t *testing.T) {
	ctx := t.Context()
	path := filepath.Join(t.TempDir(), "persistent.db")

	d, err := NewDriverFromFile(path, "persistent", nil)
	if err != nil {
		t.Fatalf("NewDriverFromFile failed: %v", err)
	}
	if err := d.Put(ctx, "token_expiry", []byte("42")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	t.Run("ClosedIsUnavailable", func(t *testing.T) {
		if _, err := d.Get(ctx, "token_expiry"); !errors.Is(err, storage.ErrUnavailable) {
			t.Errorf("expected ErrUnavailable after Close, got %v", err)
		}
		if err := d.Put(ctx, "k", []byte("v")); !errors.Is(err, storage.ErrUnavailable) {
			t.Errorf("expected ErrUnavailable after Close, got %v", err)
		}
	})

	t.Run("SurvivesReopen", func(t *testing.T) {
		open := Opener(path, "persistent", nil)
		reopened, err := open(ctx)
		if err != nil {
			t.Fatalf("reopen failed: %v", err)
		}
		defer reopened.Close()
		got, err := reopened.Get(ctx, "token_expiry")
		if err != nil {
			t.Fatalf("Get after reopen failed: %v", err)
		}
		if string(got) != "42" {
			t.Errorf("expected persisted value, got %q", got)
		}
	})
}
