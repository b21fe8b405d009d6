package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/marginalia-app/marginalia/internal/companion"
	"github.com/marginalia-app/marginalia/internal/conversation"
)

// ResponseGenerator is the slice of the companion the API needs.
type ResponseGenerator interface {
	GenerateResponse(ctx context.Context, q companion.Query) (*companion.Result, error)
	RecordFeedback(ctx context.Context, messageID uuid.UUID, label conversation.FeedbackLabel) error
}

// AskHandler serves question and feedback endpoints.
type AskHandler struct {
	companion ResponseGenerator
	logger    *slog.Logger
}

// NewAskHandler creates an ask handler.
func NewAskHandler(c ResponseGenerator, logger *slog.Logger) *AskHandler {
	return &AskHandler{companion: c, logger: logger}
}

// RegisterRoutes registers ask routes on the given mux.
func (h *AskHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/ask", h.ask)
	mux.HandleFunc("POST /api/feedback", h.feedback)
}

// AskRequest is the question payload.
type AskRequest struct {
	ReaderID     string `json:"reader_id"`
	BookID       string `json:"book_id"`
	Query        string `json:"query"`
	SectionIndex *int   `json:"section_index,omitempty"`
	Mode         string `json:"mode"`
	Lens         string `json:"lens"`
	Tier         string `json:"tier"`
	Kind         string `json:"kind,omitempty"`
}

// AskResponse is the answer payload.
type AskResponse struct {
	Response  string                    `json:"response"`
	SessionID string                    `json:"session_id"`
	MessageID string                    `json:"message_id,omitempty"`
	Degraded  bool                      `json:"degraded,omitempty"`
	Memory    *companion.MemorySnapshot `json:"memory,omitempty"`
}

func (h *AskHandler) ask(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if req.ReaderID == "" || req.BookID == "" || req.Query == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "reader_id, book_id, and query are required")
		return
	}
	tier := conversation.Tier(req.Tier)
	if !tier.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_request", "tier must be free, plus, or pro")
		return
	}

	result, err := h.companion.GenerateResponse(r.Context(), companion.Query{
		ReaderID:     req.ReaderID,
		BookID:       req.BookID,
		Text:         req.Query,
		SectionIndex: req.SectionIndex,
		Mode:         conversation.Mode(req.Mode),
		Lens:         conversation.Lens(req.Lens),
		Tier:         tier,
		Kind:         req.Kind,
	})
	if err != nil {
		h.logger.Error("ask failed", "reader_id", req.ReaderID, "error", err)
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	resp := AskResponse{
		Response: result.Response,
		Degraded: result.Degraded,
		Memory:   result.Memory,
	}
	if result.SessionID != uuid.Nil {
		resp.SessionID = result.SessionID.String()
	}
	if result.MessageID != uuid.Nil {
		resp.MessageID = result.MessageID.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

// FeedbackRequest attaches a label to an assistant message.
type FeedbackRequest struct {
	MessageID string `json:"message_id"`
	Label     string `json:"label"`
}

func (h *AskHandler) feedback(w http.ResponseWriter, r *http.Request) {
	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	messageID, err := uuid.Parse(req.MessageID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "message_id must be a UUID")
		return
	}
	label := conversation.FeedbackLabel(req.Label)
	if !label.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_request", "label must be helpful, too_long, too_short, or off_topic")
		return
	}

	if err := h.companion.RecordFeedback(r.Context(), messageID, label); err != nil {
		h.logger.Warn("feedback failed", "message_id", messageID, "error", err)
		writeError(w, http.StatusNotFound, "not_found", "message not found or not an answer")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}
