package groundwork

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type countingBackend struct {
	mu    sync.Mutex
	saves int
	last  *persistedState
}

func (b *countingBackend) Load() (*persistedState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last == nil {
		return nil, nil
	}
	return cloneState(b.last)
}

func (b *countingBackend) Save(state *persistedState) error {
	clone, err := cloneState(state)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.saves++
	b.last = clone
	b.mu.Unlock()
	return nil
}

func (b *countingBackend) saveCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saves
}

func newTestStore(t *testing.T, opts StoreOptions) *Store {
	t.Helper()
	opts.DisableFlusher = true
	store, err := NewStore(opts)
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestCreateMakesDocumentActiveAndListable(t *testing.T) {
	store := newTestStore(t, StoreOptions{})

	doc := store.Create("My App", "a planning doc")
	if doc.ID == "" {
		t.Fatalf("expected a generated ID")
	}
	if store.ActiveDocumentID() != doc.ID {
		t.Fatalf("expected new document to become active")
	}

	docs := store.List()
	if len(docs) != 1 || docs[0].ID != doc.ID {
		t.Fatalf("expected the created document in List, got %+v", docs)
	}
	if docs[0].UpdatedAt.IsZero() || !docs[0].UpdatedAt.Equal(docs[0].CreatedAt) {
		t.Fatalf("expected matching created/updated timestamps, got %+v", docs[0])
	}
}

func TestListOrdersByMostRecentlyUpdated(t *testing.T) {
	store := newTestStore(t, StoreOptions{})

	first := store.Create("first", "")
	second := store.Create("second", "")

	name := "first, edited"
	store.Update(first.ID, DocumentPatch{Name: &name})

	docs := store.List()
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	if docs[0].ID != first.ID {
		t.Fatalf("expected most recently updated document first, got %s", docs[0].ID)
	}
	if docs[1].ID != second.ID {
		t.Fatalf("expected %s second, got %s", second.ID, docs[1].ID)
	}
}

func TestUpdateStampsFreshTimestampAndRecomputesProgress(t *testing.T) {
	store := newTestStore(t, StoreOptions{})
	doc := store.Create("p", "")

	sections := emptySections()
	sections.Problem.Statement = "users lose track of plans"
	sections.Features = []Feature{{ID: "f1", Name: "sync"}}
	store.Update(doc.ID, DocumentPatch{Sections: &sections})

	got, err := store.Get(doc.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !got.UpdatedAt.After(doc.UpdatedAt) && !got.UpdatedAt.Equal(doc.UpdatedAt) {
		t.Fatalf("expected UpdatedAt to advance, got %s -> %s", doc.UpdatedAt, got.UpdatedAt)
	}
	// problem (15) + features (20) of the weighted total
	if got.Progress != 35 {
		t.Fatalf("expected progress 35, got %d", got.Progress)
	}
}

func TestUpdateUnknownIDIsSilentNoOp(t *testing.T) {
	store := newTestStore(t, StoreOptions{})
	name := "ghost"
	store.Update("no-such-id", DocumentPatch{Name: &name})
	if docs := store.List(); len(docs) != 0 {
		t.Fatalf("expected store to stay empty, got %+v", docs)
	}
}

func TestDeleteRecordsTombstoneAndClearsActive(t *testing.T) {
	store := newTestStore(t, StoreOptions{})
	doc := store.Create("doomed", "")

	store.Delete(doc.ID)

	if _, err := store.Get(doc.ID); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if store.ActiveDocumentID() != "" {
		t.Fatalf("expected active document cleared")
	}
	tombstones := store.Tombstones()
	if len(tombstones) != 1 || tombstones[0] != doc.ID {
		t.Fatalf("expected tombstone for %s, got %v", doc.ID, tombstones)
	}
}

func TestDeletedDocumentDoesNotResurrectThroughReconcile(t *testing.T) {
	store := newTestStore(t, StoreOptions{})
	doc := store.Create("doomed", "")
	staleRemoteCopy := doc.Clone()
	staleRemoteCopy.UpdatedAt = time.Now().UTC().Add(time.Hour)

	store.Delete(doc.ID)
	merged := store.Reconcile([]Document{staleRemoteCopy})

	for _, m := range merged {
		if m.ID == doc.ID {
			t.Fatalf("deleted document reappeared in reconcile output")
		}
	}
	if _, err := store.Get(doc.ID); err != ErrNotFound {
		t.Fatalf("deleted document resurrected in store: %v", err)
	}
}

func TestDuplicateSharesNoMutableState(t *testing.T) {
	store := newTestStore(t, StoreOptions{})
	src := store.Create("original", "")
	sections := emptySections()
	sections.Personas = []Persona{{ID: "u1", Name: "Ana", PainPoints: []string{"slow"}, Goals: []string{}}}
	store.Update(src.ID, DocumentPatch{Sections: &sections})

	dup, err := store.Duplicate(src.ID)
	if err != nil {
		t.Fatalf("duplicate failed: %v", err)
	}
	if dup.ID == src.ID {
		t.Fatalf("expected a new ID for the duplicate")
	}
	if dup.Name != "original (Copy)" {
		t.Fatalf("unexpected duplicate name %q", dup.Name)
	}

	// Editing the source must not leak into the copy.
	edited := emptySections()
	edited.Personas = []Persona{{ID: "u1", Name: "renamed", PainPoints: []string{}, Goals: []string{}}}
	store.Update(src.ID, DocumentPatch{Sections: &edited})

	dupAfter, err := store.Get(dup.ID)
	if err != nil {
		t.Fatalf("get duplicate failed: %v", err)
	}
	if dupAfter.Sections.Personas[0].Name != "Ana" {
		t.Fatalf("duplicate shares state with source: %+v", dupAfter.Sections.Personas)
	}
}

func TestDuplicateUnknownIDFails(t *testing.T) {
	store := newTestStore(t, StoreOptions{})
	if _, err := store.Duplicate("missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetActiveDocumentRejectsUnknownID(t *testing.T) {
	store := newTestStore(t, StoreOptions{})
	if err := store.SetActiveDocument("missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.SetActiveDocument(""); err != nil {
		t.Fatalf("clearing the active document should always work: %v", err)
	}
}

func TestRehydrateBackfillsOldSnapshots(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.json")
	// A snapshot from an older schema: no preferences, a document missing
	// every optional collection, and a stored progress value that is wrong.
	raw := `{
		"documents": [
			{"id": "legacy-1", "name": "Legacy", "progress": 93,
			 "sections": {"problem": {"statement": "old but real"}},
			 "createdAt": "2023-01-01T00:00:00Z", "updatedAt": "2023-01-02T00:00:00Z"}
		],
		"activeDocumentId": "legacy-1",
		"tombstoneIds": null
	}`
	if err := os.WriteFile(statePath, []byte(raw), 0o644); err != nil {
		t.Fatalf("seed snapshot failed: %v", err)
	}

	store := newTestStore(t, StoreOptions{StateFile: statePath})

	doc, err := store.Get("legacy-1")
	if err != nil {
		t.Fatalf("expected legacy document to load: %v", err)
	}
	if doc.DisabledSections == nil || doc.Sections.Personas == nil || doc.Sections.Stack.Other == nil {
		t.Fatalf("expected nil collections backfilled, got %+v", doc)
	}
	if doc.Progress != 15 {
		t.Fatalf("expected derived progress recomputed to 15, got %d", doc.Progress)
	}
	if store.ActiveDocumentID() != "legacy-1" {
		t.Fatalf("expected active document restored")
	}
	if prefs := store.Preferences(); prefs.Theme != "system" {
		t.Fatalf("expected default preferences backfilled, got %+v", prefs)
	}
}

func TestRehydrateDropsTombstonedDocuments(t *testing.T) {
	backend := &countingBackend{}
	seed := newTestStore(t, StoreOptions{StateBackend: backend})
	doc := seed.Create("gone", "")
	seed.Delete(doc.ID)
	kept := seed.Create("kept", "")
	if err := seed.Flush(); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	// Simulate a snapshot where a deleted document is still listed.
	backend.mu.Lock()
	backend.last.Documents = append(backend.last.Documents, doc)
	backend.mu.Unlock()

	store := newTestStore(t, StoreOptions{StateBackend: backend})
	if _, err := store.Get(doc.ID); err != ErrNotFound {
		t.Fatalf("tombstoned document survived rehydrate: %v", err)
	}
	if _, err := store.Get(kept.ID); err != nil {
		t.Fatalf("expected kept document to load: %v", err)
	}
}

func TestFlusherCoalescesBurstsIntoFewWrites(t *testing.T) {
	backend := &countingBackend{}
	store, err := NewStore(StoreOptions{
		StateBackend:   backend,
		DebounceWindow: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	defer store.Close()

	doc := store.Create("busy", "")
	for i := 0; i < 25; i++ {
		name := "edit"
		store.Update(doc.ID, DocumentPatch{Name: &name})
	}
	time.Sleep(250 * time.Millisecond)

	if saves := backend.saveCount(); saves == 0 || saves > 2 {
		t.Fatalf("expected the burst to coalesce into 1-2 writes, got %d", saves)
	}
}

func TestCloseWritesFinalSnapshot(t *testing.T) {
	backend := &countingBackend{}
	store, err := NewStore(StoreOptions{StateBackend: backend, DisableFlusher: true})
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	doc := store.Create("durable", "")
	if err := store.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	snapshot, err := backend.Load()
	if err != nil || snapshot == nil {
		t.Fatalf("expected a snapshot after close, got %v / %v", snapshot, err)
	}
	if len(snapshot.Documents) != 1 || snapshot.Documents[0].ID != doc.ID {
		t.Fatalf("snapshot missing document: %+v", snapshot)
	}
}
