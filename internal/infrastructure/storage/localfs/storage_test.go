package localfs

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/kirillkom/bidscope/internal/core/domain"
)

func TestSaveOpenExists(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	exists, err := store.Exists(ctx, "versions/ab/abcdef")
	if err != nil || exists {
		t.Fatalf("expected missing object, got exists=%v err=%v", exists, err)
	}

	if err := store.Save(ctx, "versions/ab/abcdef", strings.NewReader("payload")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	exists, err = store.Exists(ctx, "versions/ab/abcdef")
	if err != nil || !exists {
		t.Fatalf("expected stored object, got exists=%v err=%v", exists, err)
	}

	rc, err := store.Open(ctx, "versions/ab/abcdef")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(raw) != "payload" {
		t.Fatalf("unexpected payload %q", raw)
	}
}

func TestOpenMissingIsNotFound(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, err = store.Open(context.Background(), "nope")
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRejectsEscapingKeys(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	err = store.Save(context.Background(), "../outside", strings.NewReader("x"))
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
