package conversation

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound indicates the requested session or message does not exist.
var ErrNotFound = errors.New("not found")

// Mode is how a book is being read.
type Mode string

// Reading modes.
const (
	ModeFiction    Mode = "fiction"
	ModeNonfiction Mode = "nonfiction"
)

// Lens is the interpretive angle applied to a book.
type Lens string

// Interpretive lenses.
const (
	LensLiterary  Lens = "literary"
	LensKnowledge Lens = "knowledge"
)

// Tier is the reader's subscription tier.
type Tier string

// Subscription tiers.
const (
	TierFree Tier = "free"
	TierPlus Tier = "plus"
	TierPro  Tier = "pro"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t == TierFree || t == TierPlus || t == TierPro
}

// Message roles.
const (
	RoleReader    = "reader"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message kinds.
const (
	KindChat        = "chat"
	KindQuickAction = "quick-action"
	KindFeedback    = "feedback"
	KindSystem      = "system"
)

// FeedbackLabel is an explicit reader judgment attached to an assistant
// message after the fact.
type FeedbackLabel string

// Feedback labels.
const (
	FeedbackHelpful  FeedbackLabel = "helpful"
	FeedbackTooLong  FeedbackLabel = "too_long"
	FeedbackTooShort FeedbackLabel = "too_short"
	FeedbackOffTopic FeedbackLabel = "off_topic"
)

// Valid reports whether l is a known feedback label.
func (l FeedbackLabel) Valid() bool {
	switch l {
	case FeedbackHelpful, FeedbackTooLong, FeedbackTooShort, FeedbackOffTopic:
		return true
	}
	return false
}

// ContextType classifies a synthesized context entry.
type ContextType string

// Context entry types. At most one entry per (session, type) exists.
const (
	ContextTopics      ContextType = "topics_discussed"
	ContextPreferences ContextType = "reader_preferences"
	ContextProgress    ContextType = "reading_progress"
	ContextInsights    ContextType = "learning_insights"
)

// Session is one ongoing dialogue thread for a (reader, book) pair.
// At most one active session exists per pair; closed sessions are kept
// for history and never hard-deleted.
type Session struct {
	ID                uuid.UUID
	ReaderID          string
	BookID            string
	Mode              Mode
	Lens              Lens
	Tier              Tier
	Active            bool
	LastInteractionAt time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Message is one turn in a session. Messages are append-only and ordered
// by sequence number; feedback may be attached later but content never
// changes.
type Message struct {
	ID             uuid.UUID
	SessionID      uuid.UUID
	Role           string
	Content        string
	SectionIndex   *int
	Kind           string
	Feedback       FeedbackLabel // empty when none attached
	Confidence     *float32
	Metadata       map[string]any
	SequenceNumber int
	CreatedAt      time.Time
}

// ContextEntry is a typed synthesized fact about a session, upserted
// last-writer-wins on (session, type).
type ContextEntry struct {
	SessionID  uuid.UUID
	Type       ContextType
	Payload    map[string]any
	Confidence float32
	UpdatedAt  time.Time
}

// RAGContext carries per-request retrieval parameters through the
// pipeline. It is ephemeral and never persisted.
type RAGContext struct {
	ReaderID     string
	BookID       string
	SectionIndex *int // current section, when the reader position is known
	Mode         Mode
	Lens         Lens
	Tier         Tier
	SessionID    uuid.UUID // filled in once the session is resolved
}
