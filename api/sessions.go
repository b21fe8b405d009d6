package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/marginalia-app/marginalia/internal/conversation"
)

// defaultSessionLimit caps a session listing.
const defaultSessionLimit = 20

// SessionDirectory is the slice of conversation.Store the session
// endpoints need.
type SessionDirectory interface {
	SessionsForReader(ctx context.Context, readerID string, limit int) ([]*conversation.Session, error)
	CloseSession(ctx context.Context, sessionID uuid.UUID) error
}

// SessionHandler serves session listing and closing.
type SessionHandler struct {
	store  SessionDirectory
	logger *slog.Logger
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(store SessionDirectory, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{store: store, logger: logger}
}

// RegisterRoutes registers session routes on the given mux.
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sessions", h.list)
	mux.HandleFunc("POST /api/sessions/{id}/close", h.close)
}

// SessionResponse is one session in a listing.
type SessionResponse struct {
	ID                string    `json:"id"`
	BookID            string    `json:"book_id"`
	Mode              string    `json:"mode"`
	Lens              string    `json:"lens"`
	Tier              string    `json:"tier"`
	Active            bool      `json:"active"`
	LastInteractionAt time.Time `json:"last_interaction_at"`
}

func (h *SessionHandler) list(w http.ResponseWriter, r *http.Request) {
	readerID := r.URL.Query().Get("reader_id")
	if readerID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "reader_id is required")
		return
	}

	limit := defaultSessionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	sessions, err := h.store.SessionsForReader(r.Context(), readerID, limit)
	if err != nil {
		h.logger.Error("session listing failed", "reader_id", readerID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not list sessions")
		return
	}

	out := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionResponse{
			ID:                s.ID.String(),
			BookID:            s.BookID,
			Mode:              string(s.Mode),
			Lens:              string(s.Lens),
			Tier:              string(s.Tier),
			Active:            s.Active,
			LastInteractionAt: s.LastInteractionAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (h *SessionHandler) close(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "session id must be a UUID")
		return
	}

	if err := h.store.CloseSession(r.Context(), sessionID); err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		h.logger.Error("session close failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not close session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}
