package memory

import (
	"bytes"
	"errors"
	"testing"

	"github.com/jmcleod/sessionkeeper/storage"
)

func TestMemoryDriver(t *testing.T) {
	ctx := t.Context()
	d := NewDriver()

	t.Run("PutAndGet", func(t *testing.T) {
		if err := d.Put(ctx, "k1", []byte("value")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		got, err := d.Get(ctx, "k1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !bytes.Equal(got, []byte("value")) {
			t.Errorf("Get returned %q", got)
		}

		// Test isolation (copying)
		got[0] = 'X'
		got2, _ := d.Get(ctx, "k1")
		if got2[0] == 'X' {
			t.Error("memory driver should return copies of values")
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		_, err := d.Get(ctx, "nonexistent")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		d.Put(ctx, "k1", []byte("v2"))
		got, _ := d.Get(ctx, "k1")
		if string(got) != "v2" {
			t.Errorf("expected overwritten value, got %q", got)
		}
	})

	t.Run("DeleteIdempotent", func(t *testing.T) {
		if err := d.Delete(ctx, "k1"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if err := d.Delete(ctx, "k1"); err != nil {
			t.Fatalf("second Delete failed: %v", err)
		}
		if _, err := d.Get(ctx, "k1"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
	})

	t.Run("Clear", func(t *testing.T) {
		d.Put(ctx, "a", []byte("1"))
		d.Put(ctx, "b", []byte("2"))
		if err := d.Clear(ctx); err != nil {
			t.Fatalf("Clear failed: %v", err)
		}
		if d.Len() != 0 {
			t.Errorf("expected empty driver after Clear, got %d entries", d.Len())
		}
	})
}

func TestMemoryDriverQuota(t *testing.T) {
	ctx := t.Context()
	d := NewDriver(WithQuota(10))

	if err := d.Put(ctx, "k", []byte("12345")); err != nil {
		t.Fatalf("Put within quota failed: %v", err)
	}
	err := d.Put(ctx, "other", []byte("123456"))
	if !errors.Is(err, storage.ErrQuotaExceeded) || !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("expected quota error matching ErrUnavailable, got %v", err)
	}

	// Overwriting the same key reuses its space.
	if err := d.Put(ctx, "k", []byte("987654321")); err != nil {
		t.Fatalf("overwrite within quota failed: %v", err)
	}
	if err := d.Put(ctx, "k", []byte("0123456789")); !errors.Is(err, storage.ErrQuotaExceeded) {
		t.Fatalf("expected quota error, got %v", err)
	}
	got, _ := d.Get(ctx, "k")
	if string(got) != "987654321" {
		t.Errorf("failed write must leave old value intact, got %q", got)
	}

	d.Delete(ctx, "k")
	if err := d.Put(ctx, "other", []byte("123")); err != nil {
		t.Fatalf("Put after delete failed: %v", err)
	}
}

func TestMemoryDriverClosed(t *testing.T) {
	ctx := t.Context()
	d := NewDriver()
	d.Close()

	if _, err := d.Get(ctx, "k"); !errors.Is(err, storage.ErrUnavailable) {
		t.Errorf("Get after Close: expected ErrUnavailable, got %v", err)
	}
	if err := d.Put(ctx, "k", []byte("v")); !errors.Is(err, storage.ErrUnavailable) {
		t.Errorf("Put after Close: expected ErrUnavailable, got %v", err)
	}
	if err := d.Delete(ctx, "k"); !errors.Is(err, storage.ErrUnavailable) {
		t.Errorf("Delete after Close: expected ErrUnavailable, got %v", err)
	}
	if err := d.Clear(ctx); !errors.Is(err, storage.ErrUnavailable) {
		t.Errorf("Clear after Close: expected ErrUnavailable, got %v", err)
	}
}
