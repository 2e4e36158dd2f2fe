package groundwork

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestImportWatcherPicksUpDroppedFiles(t *testing.T) {
	store := newTestStore(t, StoreOptions{})
	dir := t.TempDir()

	watcher, err := NewImportWatcher(store, dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("new watcher failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = watcher.Run(ctx)
	}()

	payload := []byte(`{"id": "dropped-1", "name": "Dropped", "sections": {}}`)
	if err := os.WriteFile(filepath.Join(dir, "dropped.json"), payload, 0o644); err != nil {
		t.Fatalf("drop file failed: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		if _, err := store.Get("dropped-1"); err == nil {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("dropped file never imported")
		case <-time.After(50 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("watcher did not stop on cancel")
	}
}

func TestImportWatcherIgnoresNonJSONAndInvalidFiles(t *testing.T) {
	store := newTestStore(t, StoreOptions{})
	dir := t.TempDir()

	watcher, err := NewImportWatcher(store, dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("new watcher failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = watcher.Run(ctx) }()

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a doc"), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte(`{"name": "no id"}`), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "good.json"), []byte(`{"id": "ok-1", "sections": {}}`), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		if _, err := store.Get("ok-1"); err == nil {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("valid file never imported")
		case <-time.After(50 * time.Millisecond):
		}
	}
	if docs := store.List(); len(docs) != 1 {
		t.Fatalf("invalid files must be skipped, got %+v", docs)
	}
}

func TestNewImportWatcherRequiresDirectory(t *testing.T) {
	store := newTestStore(t, StoreOptions{})
	if _, err := NewImportWatcher(store, "   ", zerolog.Nop()); err == nil {
		t.Fatalf("expected empty directory to be rejected")
	}
}
