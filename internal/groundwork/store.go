package groundwork

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/groundworkhq/groundwork/internal/session"
)

const defaultDebounceWindow = 300 * time.Millisecond

// StoreOptions configures a Store. The zero value yields an in-memory store
// with no remote and no durable state, which is what most tests want.
type StoreOptions struct {
	// StateFile is a convenience for StateBackend: when set and StateBackend
	// is nil, a JSONFileStateBackend at this path is used.
	StateFile    string
	StateBackend StateBackend

	// Remote receives best-effort delete propagation. Sync cycles are driven
	// by the Syncer, not the Store.
	Remote RemoteTransport

	// Sessions supplies the current sign-in state for delete propagation.
	Sessions session.Provider

	// DebounceWindow bounds durable write frequency: at most one snapshot
	// write per window of sustained editing.
	DebounceWindow time.Duration

	// DisableFlusher turns off the background flush goroutine. Mutations
	// still mark state dirty; callers flush explicitly via Flush.
	DisableFlusher bool

	Logger zerolog.Logger
}

// Store owns the local document set, the user's preferences, and the
// tombstone ledger. All mutation goes through it; the Syncer reads and
// replaces the document set through Reconcile. Durable writes are coalesced
// so keystroke-frequency edits do not each hit disk.
type Store struct {
	mu         sync.RWMutex
	documents  map[string]Document
	tombstones map[string]struct{}
	prefs      Preferences
	activeID   string

	backend  StateBackend
	remote   RemoteTransport
	sessions session.Provider
	debounce time.Duration
	logger   zerolog.Logger

	dirty     chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewStore builds a Store and rehydrates it from the configured backend.
// A missing snapshot starts the store empty; a corrupt one is an error so
// user data is never silently discarded.
func NewStore(opts StoreOptions) (*Store, error) {
	backend := opts.StateBackend
	if backend == nil && opts.StateFile != "" {
		backend = NewJSONFileStateBackend(opts.StateFile)
	}
	debounce := opts.DebounceWindow
	if debounce <= 0 {
		debounce = defaultDebounceWindow
	}
	remote := opts.Remote
	if remote == nil {
		remote = UnconfiguredRemote{}
	}

	s := &Store{
		documents:  map[string]Document{},
		tombstones: map[string]struct{}{},
		prefs:      defaultPreferences(),
		backend:    backend,
		remote:     remote,
		sessions:   opts.Sessions,
		debounce:   debounce,
		logger:     opts.Logger,
		dirty:      make(chan struct{}, 1),
		closed:     make(chan struct{}),
	}
	if err := s.rehydrate(); err != nil {
		return nil, fmt.Errorf("load persisted state: %w", err)
	}
	if !opts.DisableFlusher {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.flushLoop()
		}()
	}
	return s, nil
}

func (s *Store) rehydrate() error {
	if s.backend == nil {
		return nil
	}
	snapshot, err := s.backend.Load()
	if err != nil {
		return err
	}
	if snapshot == nil {
		return nil
	}
	for i := range snapshot.Documents {
		doc := ensureDefaults(snapshot.Documents[i])
		s.documents[doc.ID] = doc
	}
	for _, id := range snapshot.TombstoneIDs {
		if id == "" {
			continue
		}
		s.tombstones[id] = struct{}{}
		delete(s.documents, id)
	}
	s.prefs = snapshot.Preferences
	if s.prefs.Theme == "" {
		s.prefs = defaultPreferences()
	}
	if _, ok := s.documents[snapshot.ActiveDocumentID]; ok {
		s.activeID = snapshot.ActiveDocumentID
	}
	s.logger.Debug().
		Int("documents", len(s.documents)).
		Int("tombstones", len(s.tombstones)).
		Msg("store rehydrated")
	return nil
}

// Create allocates a new blank document and makes it active.
func (s *Store) Create(name, description string) Document {
	doc := NewDocument(name, description)

	s.mu.Lock()
	s.documents[doc.ID] = doc
	s.activeID = doc.ID
	s.markDirtyLocked()
	s.mu.Unlock()

	s.logger.Info().Str("id", doc.ID).Str("name", doc.Name).Msg("document created")
	return doc.Clone()
}

// DocumentPatch describes a partial update. Nil fields leave the current
// value untouched; a non-nil Sections replaces the payload wholesale, which
// matches the whole-document conflict granularity used everywhere else.
type DocumentPatch struct {
	Name             *string         `json:"name,omitempty"`
	Description      *string         `json:"description,omitempty"`
	Icon             *string         `json:"icon,omitempty"`
	Color            *string         `json:"color,omitempty"`
	Archived         *bool           `json:"archived,omitempty"`
	Favorite         *bool           `json:"favorite,omitempty"`
	DisabledSections *[]string       `json:"disabledSections,omitempty"`
	Sections         *Sections       `json:"sections,omitempty"`
	Canvas           json.RawMessage `json:"canvas,omitempty"`
}

// Update applies patch to the document with id and stamps a fresh UpdatedAt.
// An unknown id is a silent no-op: async callers (AI callbacks, debounced
// form saves) may hold a reference to a document deleted underneath them,
// and applying their edit would resurrect it.
func (s *Store) Update(id string, patch DocumentPatch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return
	}
	if patch.Name != nil {
		doc.Name = *patch.Name
	}
	if patch.Description != nil {
		doc.Description = *patch.Description
	}
	if patch.Icon != nil {
		doc.Icon = *patch.Icon
	}
	if patch.Color != nil {
		doc.Color = *patch.Color
	}
	if patch.Archived != nil {
		doc.Archived = *patch.Archived
	}
	if patch.Favorite != nil {
		doc.Favorite = *patch.Favorite
	}
	if patch.DisabledSections != nil {
		doc.DisabledSections = append([]string(nil), (*patch.DisabledSections)...)
	}
	if patch.Sections != nil {
		clone := patch.Sections.Clone()
		doc.Sections = clone
		doc.Progress = CalculateProgress(clone)
	}
	if patch.Canvas != nil {
		doc.Canvas = append(json.RawMessage(nil), patch.Canvas...)
	}
	doc.UpdatedAt = time.Now().UTC()
	s.documents[id] = doc
	s.markDirtyLocked()
}

// Delete removes the document, records a tombstone, and fires a best-effort
// remote delete when signed in. The tombstone is the durable truth: if the
// remote delete fails the next full push excludes the document anyway.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	_, existed := s.documents[id]
	delete(s.documents, id)
	s.tombstones[id] = struct{}{}
	if s.activeID == id {
		s.activeID = ""
	}
	s.markDirtyLocked()
	s.mu.Unlock()

	if !existed {
		return
	}
	s.logger.Info().Str("id", id).Msg("document deleted")

	if s.sessions == nil {
		return
	}
	sess := s.sessions.Current()
	if !sess.SignedIn || sess.UserID == "" {
		return
	}
	ownerID := sess.UserID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.remote.Remove(ctx, id, ownerID); err != nil {
			s.logger.Warn().Err(err).Str("id", id).Msg("remote delete failed, tombstone will exclude it on next push")
		}
	}()
}

// Duplicate deep-copies a document under a new ID and fresh timestamps. The
// copy shares no mutable substructure with the source.
func (s *Store) Duplicate(id string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.documents[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	dup := src.Clone()
	dup.ID = uuid.NewString()
	dup.Name = src.Name + " (Copy)"
	dup.Favorite = false
	now := time.Now().UTC()
	dup.CreatedAt = now
	dup.UpdatedAt = now
	s.documents[dup.ID] = dup
	s.markDirtyLocked()
	return dup.Clone(), nil
}

// Get returns a copy of the document with id.
func (s *Store) Get(id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc.Clone(), nil
}

// List returns all documents, most recently updated first.
func (s *Store) List() []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]Document, 0, len(s.documents))
	for _, doc := range s.documents {
		docs = append(docs, doc.Clone())
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].UpdatedAt.Equal(docs[j].UpdatedAt) {
			return docs[i].ID < docs[j].ID
		}
		return docs[i].UpdatedAt.After(docs[j].UpdatedAt)
	})
	return docs
}

// Preferences returns the current user preferences.
func (s *Store) Preferences() Preferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs
}

// SetPreferences replaces the user preferences.
func (s *Store) SetPreferences(prefs Preferences) {
	s.mu.Lock()
	s.prefs = prefs
	s.markDirtyLocked()
	s.mu.Unlock()
}

// ActiveDocumentID returns the ID of the currently open document, or "".
func (s *Store) ActiveDocumentID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// SetActiveDocument records which document is open. An empty id clears the
// selection; an unknown id is rejected.
func (s *Store) SetActiveDocument(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" {
		if _, ok := s.documents[id]; !ok {
			return ErrNotFound
		}
	}
	s.activeID = id
	s.markDirtyLocked()
	return nil
}

// Tombstones returns the deleted-document IDs in sorted order.
func (s *Store) Tombstones() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.tombstones))
	for id := range s.tombstones {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Reconcile merges the pulled remote set into the local set under the store
// lock, so local edits that landed during the pull are part of the result.
// It replaces the document set with the merge output and returns a copy of
// it for the caller to push.
func (s *Store) Reconcile(remote []Document) []Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	local := make([]Document, 0, len(s.documents))
	for _, doc := range s.documents {
		local = append(local, doc)
	}
	merged := Merge(local, remote, s.tombstones)

	s.documents = make(map[string]Document, len(merged))
	for i := range merged {
		doc := ensureDefaults(merged[i])
		s.documents[doc.ID] = doc
	}
	if _, ok := s.documents[s.activeID]; !ok {
		s.activeID = ""
	}
	s.markDirtyLocked()

	out := make([]Document, 0, len(merged))
	for _, doc := range merged {
		out = append(out, doc.Clone())
	}
	return out
}

// insert adds or replaces a document wholesale. Used by import. Any
// tombstone for the ID is cleared so a re-imported document stays alive
// through the next merge.
func (s *Store) insert(doc Document) {
	s.mu.Lock()
	s.documents[doc.ID] = doc
	delete(s.tombstones, doc.ID)
	s.activeID = doc.ID
	s.markDirtyLocked()
	s.mu.Unlock()
}

func (s *Store) markDirtyLocked() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

func (s *Store) flushLoop() {
	for {
		select {
		case <-s.closed:
			return
		case <-s.dirty:
		}
		timer := time.NewTimer(s.debounce)
		select {
		case <-s.closed:
			timer.Stop()
			return
		case <-timer.C:
		}
		if err := s.Flush(); err != nil {
			s.logger.Error().Err(err).Msg("state flush failed")
		}
	}
}

// Flush writes the current snapshot to the backend immediately.
func (s *Store) Flush() error {
	if s.backend == nil {
		return nil
	}
	s.mu.RLock()
	snapshot := s.snapshotLocked()
	s.mu.RUnlock()
	return s.backend.Save(snapshot)
}

func (s *Store) snapshotLocked() *persistedState {
	docs := make([]Document, 0, len(s.documents))
	for _, doc := range s.documents {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	ids := make([]string, 0, len(s.tombstones))
	for id := range s.tombstones {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return &persistedState{
		Preferences:      s.prefs,
		Documents:        docs,
		ActiveDocumentID: s.activeID,
		TombstoneIDs:     ids,
	}
}

// Close stops the flusher, writes a final snapshot, and releases the backend.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		s.wg.Wait()
		err = s.Flush()
		if closer, ok := s.backend.(stateBackendCloser); ok && closer != nil {
			_ = closer.Close()
		}
	})
	return err
}
