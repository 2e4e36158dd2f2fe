// Package httpapi exposes the planning engine over HTTP for the desktop
// shell and for scripting. It is a thin translation layer: all semantics
// live in the groundwork package.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/groundworkhq/groundwork/internal/groundwork"
	"github.com/groundworkhq/groundwork/internal/session"
)

type ServerConfig struct {
	MaxBodyBytes int64
	Logger       zerolog.Logger
}

type Server struct {
	store    *groundwork.Store
	syncer   *groundwork.Syncer
	sessions *session.StaticProvider
	cfg      ServerConfig
}

func NewServer(store *groundwork.Store, syncer *groundwork.Syncer, sessions *session.StaticProvider, cfg ServerConfig) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return &Server{
		store:    store,
		syncer:   syncer,
		sessions: sessions,
		cfg:      cfg,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	parts := strings.Split(strings.TrimPrefix(strings.TrimSuffix(r.URL.Path, "/"), "/"), "/")
	if len(parts) < 2 || parts[0] != "v1" {
		writeError(w, http.StatusNotFound, "not_found", "route not found")
		return
	}

	switch {
	case len(parts) == 2 && parts[1] == "documents" && r.Method == http.MethodGet:
		s.handleListDocuments(w, r)
	case len(parts) == 2 && parts[1] == "documents" && r.Method == http.MethodPost:
		s.handleCreateDocument(w, r)
	case len(parts) == 3 && parts[1] == "documents" && r.Method == http.MethodGet:
		s.handleGetDocument(w, r, parts[2])
	case len(parts) == 3 && parts[1] == "documents" && r.Method == http.MethodPatch:
		s.handleUpdateDocument(w, r, parts[2])
	case len(parts) == 3 && parts[1] == "documents" && r.Method == http.MethodDelete:
		s.handleDeleteDocument(w, r, parts[2])
	case len(parts) == 4 && parts[1] == "documents" && parts[3] == "duplicate" && r.Method == http.MethodPost:
		s.handleDuplicateDocument(w, r, parts[2])
	case len(parts) == 4 && parts[1] == "documents" && parts[3] == "export" && r.Method == http.MethodGet:
		s.handleExportDocument(w, r, parts[2])
	case len(parts) == 2 && parts[1] == "import" && r.Method == http.MethodPost:
		s.handleImport(w, r)
	case len(parts) == 2 && parts[1] == "templates" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, groundwork.Templates())
	case len(parts) == 2 && parts[1] == "preferences" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, s.store.Preferences())
	case len(parts) == 2 && parts[1] == "preferences" && r.Method == http.MethodPut:
		s.handleSetPreferences(w, r)
	case len(parts) == 2 && parts[1] == "active-document" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"activeDocumentId": s.store.ActiveDocumentID()})
	case len(parts) == 2 && parts[1] == "active-document" && r.Method == http.MethodPut:
		s.handleSetActiveDocument(w, r)
	case len(parts) == 2 && parts[1] == "sync" && r.Method == http.MethodPost:
		s.handleTriggerSync(w, r)
	case len(parts) == 3 && parts[1] == "sync" && parts[2] == "status" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, s.syncer.Status())
	case len(parts) == 4 && parts[1] == "sync" && parts[2] == "status" && parts[3] == "ws" && r.Method == http.MethodGet:
		s.handleSyncStatusWS(w, r)
	case len(parts) == 2 && parts[1] == "session" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, s.sessions.Current())
	case len(parts) == 3 && parts[1] == "session" && parts[2] == "signin" && r.Method == http.MethodPost:
		s.handleSignIn(w, r)
	case len(parts) == 3 && parts[1] == "session" && parts[2] == "signout" && r.Method == http.MethodPost:
		s.sessions.SignOut()
		writeJSON(w, http.StatusOK, s.sessions.Current())
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	}
}

func (s *Server) handleListDocuments(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.store.List())
}

func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		TemplateID  string `json:"templateId"`
	}
	if !s.decodeJSONBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "name is required")
		return
	}
	if req.TemplateID != "" && req.TemplateID != "blank" {
		doc, err := s.store.CreateFromTemplate(req.TemplateID, req.Name, req.Description)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, doc)
		return
	}
	writeJSON(w, http.StatusCreated, s.store.Create(req.Name, req.Description))
}

func (s *Server) handleGetDocument(w http.ResponseWriter, _ *http.Request, id string) {
	doc, err := s.store.Get(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleUpdateDocument(w http.ResponseWriter, r *http.Request, id string) {
	var patch groundwork.DocumentPatch
	if !s.decodeJSONBody(w, r, &patch) {
		return
	}
	// Unknown IDs no-op on purpose; the response mirrors what is stored, so
	// callers racing a delete get 404 rather than a phantom document.
	s.store.Update(id, patch)
	doc, err := s.store.Get(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, _ *http.Request, id string) {
	s.store.Delete(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDuplicateDocument(w http.ResponseWriter, _ *http.Request, id string) {
	doc, err := s.store.Duplicate(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleExportDocument(w http.ResponseWriter, _ *http.Request, id string) {
	data, err := s.store.ExportJSON(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+id+`.json"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return
	}
	doc, err := s.store.Import(body)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleSetPreferences(w http.ResponseWriter, r *http.Request) {
	var prefs groundwork.Preferences
	if !s.decodeJSONBody(w, r, &prefs) {
		return
	}
	s.store.SetPreferences(prefs)
	writeJSON(w, http.StatusOK, s.store.Preferences())
}

func (s *Server) handleSetActiveDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ActiveDocumentID string `json:"activeDocumentId"`
	}
	if !s.decodeJSONBody(w, r, &req) {
		return
	}
	if err := s.store.SetActiveDocument(req.ActiveDocumentID); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"activeDocumentId": s.store.ActiveDocumentID()})
}

func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Current()
	if !sess.SignedIn || sess.UserID == "" {
		writeError(w, http.StatusUnauthorized, "not_signed_in", "sign in before syncing")
		return
	}
	if err := s.syncer.Sync(r.Context(), sess.UserID); err != nil {
		if errors.Is(err, groundwork.ErrSyncInProgress) {
			writeJSON(w, http.StatusAccepted, s.syncer.Status())
			return
		}
		// The cycle ran and failed; the status carries the error string.
		writeJSON(w, http.StatusBadGateway, s.syncer.Status())
		return
	}
	writeJSON(w, http.StatusOK, s.syncer.Status())
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if !s.decodeJSONBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "userId is required")
		return
	}
	s.sessions.SignIn(req.UserID)
	writeJSON(w, http.StatusOK, s.sessions.Current())
}

// handleSyncStatusWS streams sync status changes over a WebSocket. The
// current status is sent immediately so clients never render an unknown
// state while waiting for the first cycle.
func (s *Server) handleSyncStatusWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.cfg.Logger.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	updates, cancel := s.syncer.Subscribe()
	defer cancel()

	ctx := r.Context()
	if err := wsjson.Write(ctx, conn, s.syncer.Status()); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case status := <-updates:
			if err := wsjson.Write(ctx, conn, status); err != nil {
				return
			}
		}
	}
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body")
		return nil, false
	}
	return body, true
}

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON")
		return false
	}
	return true
}

func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, groundwork.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, groundwork.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, groundwork.ErrRemoteUnavailable):
		writeError(w, http.StatusServiceUnavailable, "remote_unavailable", err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":    code,
		"message": message,
	})
}
