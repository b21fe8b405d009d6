// Package companion is the entry point of the question-answering
// pipeline: it resolves the session, retrieves grounding context,
// composes the prompt, calls the model, persists the exchange, and
// adapts the learning profile. Callers get a response even when
// downstream pieces fail; failures degrade, they never propagate.
package companion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/marginalia-app/marginalia/internal/conversation"
	"github.com/marginalia-app/marginalia/internal/llm"
	"github.com/marginalia-app/marginalia/internal/profile"
	"github.com/marginalia-app/marginalia/internal/prompt"
	"github.com/marginalia-app/marginalia/internal/retrieval"
)

// DefaultCompletionTimeout bounds one model call including retries.
const DefaultCompletionTimeout = 60 * time.Second

// fallbackResponse is the last resort when even the minimal completion
// fails. Returning it keeps the contract: callers always get text.
const fallbackResponse = "I'm having trouble reaching the book right now. Please try your question again in a moment."

// sessionStore is the slice of conversation.Store the orchestrator uses.
type sessionStore interface {
	GetOrCreateActiveSession(ctx context.Context, readerID, bookID string, mode conversation.Mode, lens conversation.Lens, tier conversation.Tier) (*conversation.Session, error)
	Session(ctx context.Context, sessionID uuid.UUID) (*conversation.Session, error)
	AppendMessage(ctx context.Context, p conversation.AppendMessageParams) (*conversation.Message, error)
	History(ctx context.Context, sessionID uuid.UUID, limit int, includeSystem bool) ([]*conversation.Message, error)
	MessageCount(ctx context.Context, sessionID uuid.UUID) (int, error)
	Message(ctx context.Context, messageID uuid.UUID) (*conversation.Message, error)
	PrecedingReaderMessage(ctx context.Context, sessionID uuid.UUID, beforeSeq int) (*conversation.Message, error)
	AttachFeedback(ctx context.Context, messageID uuid.UUID, label conversation.FeedbackLabel) error
	UpsertContextEntry(ctx context.Context, sessionID uuid.UUID, ctype conversation.ContextType, payload map[string]any, confidence float32) error
	ContextEntries(ctx context.Context, sessionID uuid.UUID) ([]*conversation.ContextEntry, error)
}

// profileStore is the slice of profile.Store the orchestrator uses.
type profileStore interface {
	Get(ctx context.Context, readerID string) (*profile.Profile, error)
	RecordQuery(ctx context.Context, readerID, query string) (*profile.Profile, error)
	RecordFeedback(ctx context.Context, readerID, query string, label conversation.FeedbackLabel) (*profile.Profile, error)
}

// contextRetriever gathers grounding passages; it degrades internally
// and never fails.
type contextRetriever interface {
	Retrieve(ctx context.Context, query string, rag conversation.RAGContext) []retrieval.Passage
}

// completer issues one model call.
type completer interface {
	Complete(ctx context.Context, req llm.Request) (string, error)
}

// Config carries the orchestrator's knobs.
type Config struct {
	// Models maps each tier to its completion model.
	Models map[conversation.Tier]string

	// HistoryWindow is how many raw turns the prompt replays.
	HistoryWindow int

	// CompletionTimeout bounds the model call. Zero means the default.
	CompletionTimeout time.Duration
}

// Companion orchestrates one question-answer exchange end to end.
type Companion struct {
	sessions  sessionStore
	profiles  profileStore
	retriever contextRetriever
	completer completer
	composer  *prompt.Composer
	cfg       Config
	logger    *slog.Logger
}

// New creates a Companion.
func New(sessions sessionStore, profiles profileStore, retriever contextRetriever, completer completer, cfg Config, logger *slog.Logger) (*Companion, error) {
	if sessions == nil || profiles == nil || retriever == nil || completer == nil {
		return nil, fmt.Errorf("sessions, profiles, retriever, and completer are required")
	}
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("at least one tier model is required")
	}
	if cfg.CompletionTimeout <= 0 {
		cfg.CompletionTimeout = DefaultCompletionTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Companion{
		sessions:  sessions,
		profiles:  profiles,
		retriever: retriever,
		completer: completer,
		composer:  &prompt.Composer{HistoryWindow: cfg.HistoryWindow},
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Query is one reader question with its reading context.
type Query struct {
	ReaderID     string
	BookID       string
	Text         string
	SectionIndex *int
	Mode         conversation.Mode
	Lens         conversation.Lens
	Tier         conversation.Tier
	Kind         string // defaults to chat
}

// Result is the outcome of one exchange. Degraded marks responses
// produced by the fallback path: real text, but without conversation
// memory or personalization.
type Result struct {
	Response  string
	SessionID uuid.UUID
	MessageID uuid.UUID
	Memory    *MemorySnapshot
	Degraded  bool
}

// GenerateResponse answers one reader question. The reader's message is
// durably persisted before the model call, and the assistant's after
// it, so a crash mid-request leaves an append-only log with no orphan
// replies. Failures after retrieval fall back to a memory-free
// response instead of surfacing an error.
func (c *Companion) GenerateResponse(ctx context.Context, q Query) (*Result, error) {
	if q.ReaderID == "" || q.BookID == "" || q.Text == "" {
		return nil, fmt.Errorf("readerID, bookID, and query text are required")
	}
	if !q.Tier.Valid() {
		return nil, fmt.Errorf("invalid tier %q", q.Tier)
	}
	if q.Kind == "" {
		q.Kind = conversation.KindChat
	}

	rag := conversation.RAGContext{
		ReaderID:     q.ReaderID,
		BookID:       q.BookID,
		SectionIndex: q.SectionIndex,
		Mode:         q.Mode,
		Lens:         q.Lens,
		Tier:         q.Tier,
	}

	sess, err := c.sessions.GetOrCreateActiveSession(ctx, q.ReaderID, q.BookID, q.Mode, q.Lens, q.Tier)
	if err != nil {
		c.logger.Error("session resolution failed, degrading", "reader_id", q.ReaderID, "error", err)
		return c.fallback(ctx, q, rag, uuid.Nil, nil), nil
	}
	rag.SessionID = sess.ID

	p, err := c.profiles.Get(ctx, q.ReaderID)
	if err != nil {
		// Personalization is best-effort; neutral defaults still
		// produce a good prompt.
		c.logger.Warn("profile read failed, using defaults", "reader_id", q.ReaderID, "error", err)
		p = &profile.Profile{
			ReaderID:             q.ReaderID,
			ResponseStyle:        profile.StyleBalanced,
			ComplexityPreference: profile.ComplexityModerate,
		}
	}

	passages := c.retriever.Retrieve(ctx, q.Text, rag)

	if _, err := c.sessions.AppendMessage(ctx, conversation.AppendMessageParams{
		SessionID:    sess.ID,
		Role:         conversation.RoleReader,
		Content:      q.Text,
		SectionIndex: q.SectionIndex,
		Kind:         q.Kind,
	}); err != nil {
		c.logger.Error("persisting reader message failed, degrading", "session_id", sess.ID, "error", err)
		return c.fallback(ctx, q, rag, sess.ID, passages), nil
	}

	history, err := c.sessions.History(ctx, sess.ID, c.historyWindow()*2, false)
	if err != nil {
		c.logger.Warn("history load failed, composing without it", "session_id", sess.ID, "error", err)
		history = nil
	}
	// The freshly appended reader message is the final user turn, not
	// history.
	if n := len(history); n > 0 && history[n-1].Role == conversation.RoleReader && history[n-1].Content == q.Text {
		history = history[:n-1]
	}

	messageCount, err := c.sessions.MessageCount(ctx, sess.ID)
	if err != nil {
		messageCount = len(history)
	}

	composed, err := c.composer.Compose(prompt.Input{
		Query:        q.Text,
		RAG:          rag,
		Passages:     passages,
		Profile:      p,
		History:      history,
		MessageCount: messageCount,
	})
	if err != nil {
		c.logger.Error("prompt composition failed, degrading", "session_id", sess.ID, "error", err)
		return c.fallback(ctx, q, rag, sess.ID, passages), nil
	}

	completionCtx, cancel := context.WithTimeout(ctx, c.cfg.CompletionTimeout)
	response, err := c.completer.Complete(completionCtx, llm.Request{
		Model:           c.modelFor(q.Tier),
		Messages:        composed.Messages,
		MaxOutputTokens: composed.MaxOutputTokens,
	})
	cancel()
	if err != nil {
		c.logger.Error("completion failed, degrading", "session_id", sess.ID, "error", err)
		return c.fallback(ctx, q, rag, sess.ID, passages), nil
	}

	confidence := retrieval.MeanSimilarity(passages)
	assistant, err := c.sessions.AppendMessage(ctx, conversation.AppendMessageParams{
		SessionID:  sess.ID,
		Role:       conversation.RoleAssistant,
		Content:    response,
		Confidence: &confidence,
	})
	messageID := uuid.Nil
	degraded := false
	if err != nil {
		// The reader already has a real answer; losing the log entry
		// degrades the result but must not discard the response.
		c.logger.Error("persisting assistant message failed", "session_id", sess.ID, "error", err)
		degraded = true
	} else {
		messageID = assistant.ID
	}

	c.updateMemory(ctx, sess.ID, q, p, confidence)

	updated, err := c.profiles.RecordQuery(ctx, q.ReaderID, q.Text)
	if err != nil {
		c.logger.Warn("profile update failed", "reader_id", q.ReaderID, "error", err)
	} else {
		p = updated
	}

	return &Result{
		Response:  response,
		SessionID: sess.ID,
		MessageID: messageID,
		Memory:    c.memorySnapshot(ctx, sess.ID, p),
		Degraded:  degraded,
	}, nil
}

// fallback produces a minimal, memory-free response: passages plus the
// query, no history, no personalization. Even a failed completion here
// still yields text. Passages gathered by the primary path are reused;
// retrieval runs only when none were gathered, so a struggling system
// is not hit with a second embedding call.
func (c *Companion) fallback(ctx context.Context, q Query, rag conversation.RAGContext, sessionID uuid.UUID, passages []retrieval.Passage) *Result {
	if len(passages) == 0 {
		passages = c.retriever.Retrieve(ctx, q.Text, rag)
	}

	neutral := &profile.Profile{
		ReaderID:             q.ReaderID,
		ResponseStyle:        profile.StyleBalanced,
		ComplexityPreference: profile.ComplexityModerate,
	}
	composed, err := c.composer.Compose(prompt.Input{
		Query:    q.Text,
		RAG:      rag,
		Passages: passages,
		Profile:  neutral,
	})
	if err != nil {
		return &Result{Response: fallbackResponse, SessionID: sessionID, Degraded: true}
	}

	completionCtx, cancel := context.WithTimeout(ctx, c.cfg.CompletionTimeout)
	defer cancel()

	response, err := c.completer.Complete(completionCtx, llm.Request{
		Model:           c.modelFor(q.Tier),
		Messages:        composed.Messages,
		MaxOutputTokens: composed.MaxOutputTokens,
	})
	if err != nil {
		c.logger.Error("fallback completion failed", "reader_id", q.ReaderID, "error", err)
		return &Result{Response: fallbackResponse, SessionID: sessionID, Degraded: true}
	}

	return &Result{Response: response, SessionID: sessionID, Degraded: true}
}

func (c *Companion) historyWindow() int {
	if c.cfg.HistoryWindow > 0 {
		return c.cfg.HistoryWindow
	}
	return prompt.DefaultHistoryWindow
}

// modelFor is the tier-to-model lookup. Unknown tiers get the free
// model rather than failing the request.
func (c *Companion) modelFor(tier conversation.Tier) string {
	if model, ok := c.cfg.Models[tier]; ok {
		return model
	}
	return c.cfg.Models[conversation.TierFree]
}
