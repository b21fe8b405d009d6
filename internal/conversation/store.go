package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is the subset of pgx satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// sessionCols is the standard SELECT column list for scanning sessions.
const sessionCols = `id, reader_id, book_id, reading_mode, lens, tier,
	active, last_interaction_at, created_at, updated_at`

// messageCols is the standard SELECT column list for scanning messages.
const messageCols = `id, session_id, role, content, section_index, kind,
	COALESCE(feedback, ''), confidence, metadata, sequence_number, created_at`

// Store manages sessions, messages, and context entries in PostgreSQL.
//
// Store is safe for concurrent use by multiple goroutines. The single
// shared mutable resource — the active-session row per (reader, book) —
// is only ever touched through an atomic upsert backed by a partial
// unique index, so concurrent get-or-create calls cannot produce
// duplicates.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a conversation Store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

const upsertActiveSessionSQL = `INSERT INTO reading_sessions
		(reader_id, book_id, reading_mode, lens, tier, active)
	VALUES ($1, $2, $3, $4, $5, true)
	ON CONFLICT (reader_id, book_id) WHERE active
	DO UPDATE SET
		reading_mode        = EXCLUDED.reading_mode,
		lens                = EXCLUDED.lens,
		tier                = EXCLUDED.tier,
		last_interaction_at = now(),
		updated_at          = now()
	RETURNING ` + sessionCols

// GetOrCreateActiveSession returns the active session for (reader, book),
// creating it when absent. Mode, lens, and tier are always refreshed from
// the request and the interaction timestamp is bumped.
//
// The operation is a single atomic upsert: under concurrent calls for the
// same pair, the partial unique index guarantees one row wins and every
// caller observes the same session.
func (s *Store) GetOrCreateActiveSession(ctx context.Context, readerID, bookID string, mode Mode, lens Lens, tier Tier) (*Session, error) {
	if readerID == "" || bookID == "" {
		return nil, fmt.Errorf("readerID and bookID are required")
	}
	if !tier.Valid() {
		return nil, fmt.Errorf("invalid tier %q", tier)
	}

	sess, err := scanSession(s.pool.QueryRow(ctx, upsertActiveSessionSQL,
		readerID, bookID, mode, lens, tier))
	if err != nil {
		return nil, fmt.Errorf("upserting active session for %s/%s: %w", readerID, bookID, err)
	}

	s.logger.Debug("resolved active session",
		"session_id", sess.ID, "reader_id", readerID, "book_id", bookID, "tier", tier)
	return sess, nil
}

// Session retrieves a session by ID, or ErrNotFound.
func (s *Store) Session(ctx context.Context, sessionID uuid.UUID) (*Session, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx,
		`SELECT `+sessionCols+` FROM reading_sessions WHERE id = $1`, sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting session %s: %w", sessionID, err)
	}
	return sess, nil
}

// SessionsForReader lists a reader's sessions, most recently used first.
func (s *Store) SessionsForReader(ctx context.Context, readerID string, limit int) ([]*Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionCols+` FROM reading_sessions
		 WHERE reader_id = $1 ORDER BY last_interaction_at DESC LIMIT $2`,
		readerID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sessions for %s: %w", readerID, err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// CloseSession soft-closes a session by clearing its active flag.
// Sessions are never hard-deleted; a later interaction for the same
// (reader, book) starts a fresh thread.
func (s *Store) CloseSession(ctx context.Context, sessionID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE reading_sessions SET active = false, updated_at = now() WHERE id = $1`,
		sessionID)
	if err != nil {
		return fmt.Errorf("closing session %s: %w", sessionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

// AppendMessageParams carries the fields of a new message.
type AppendMessageParams struct {
	SessionID    uuid.UUID
	Role         string
	Content      string
	SectionIndex *int
	Kind         string
	Confidence   *float32
	Metadata     map[string]any
}

const insertMessageSQL = `INSERT INTO session_messages
		(session_id, role, content, section_index, kind, confidence, metadata, sequence_number)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	RETURNING ` + messageCols

// AppendMessage appends one message to a session, assigning the next
// sequence number. The session row is locked for the duration of the
// transaction so concurrent appends cannot collide on sequence numbers.
func (s *Store) AppendMessage(ctx context.Context, p AppendMessageParams) (*Message, error) {
	if p.Kind == "" {
		p.Kind = KindChat
	}
	metadataJSON, err := json.Marshal(orEmptyMap(p.Metadata))
	if err != nil {
		return nil, fmt.Errorf("marshaling message metadata: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", rbErr)
		}
	}()

	// Lock the session row; serializes sequence-number assignment.
	var locked uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT id FROM reading_sessions WHERE id = $1 FOR UPDATE`, p.SessionID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", p.SessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("locking session %s: %w", p.SessionID, err)
	}

	var nextSeq int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) + 1 FROM session_messages WHERE session_id = $1`,
		p.SessionID).Scan(&nextSeq); err != nil {
		return nil, fmt.Errorf("computing sequence number: %w", err)
	}

	msg, err := scanMessage(tx.QueryRow(ctx, insertMessageSQL,
		p.SessionID, p.Role, p.Content, p.SectionIndex, p.Kind, p.Confidence, metadataJSON, nextSeq))
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE reading_sessions SET last_interaction_at = now(), updated_at = now() WHERE id = $1`,
		p.SessionID); err != nil {
		return nil, fmt.Errorf("bumping session timestamp: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing message append: %w", err)
	}

	s.logger.Debug("appended message",
		"session_id", p.SessionID, "role", p.Role, "seq", msg.SequenceNumber, "kind", p.Kind)
	return msg, nil
}

// History returns the most recent limit messages of a session in
// oldest-first order. System messages are excluded unless includeSystem
// is set.
func (s *Store) History(ctx context.Context, sessionID uuid.UUID, limit int, includeSystem bool) ([]*Message, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + messageCols + ` FROM session_messages
		WHERE session_id = $1`
	if !includeSystem {
		query += ` AND role <> 'system'`
	}
	query += ` ORDER BY sequence_number DESC LIMIT $2`

	rows, err := s.pool.Query(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("loading history for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading history rows: %w", err)
	}

	// Fetched newest-first to apply the limit; callers want oldest-first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// MessageCount returns the number of non-system messages in a session.
func (s *Store) MessageCount(ctx context.Context, sessionID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM session_messages WHERE session_id = $1 AND role <> 'system'`,
		sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting messages for %s: %w", sessionID, err)
	}
	return count, nil
}

// Message retrieves a single message by ID, or ErrNotFound.
func (s *Store) Message(ctx context.Context, messageID uuid.UUID) (*Message, error) {
	msg, err := scanMessage(s.pool.QueryRow(ctx,
		`SELECT `+messageCols+` FROM session_messages WHERE id = $1`, messageID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting message %s: %w", messageID, err)
	}
	return msg, nil
}

// PrecedingReaderMessage returns the reader message closest before the
// given sequence number, or ErrNotFound. Used to recover the query that
// prompted an assistant message when feedback arrives.
func (s *Store) PrecedingReaderMessage(ctx context.Context, sessionID uuid.UUID, beforeSeq int) (*Message, error) {
	msg, err := scanMessage(s.pool.QueryRow(ctx,
		`SELECT `+messageCols+` FROM session_messages
		 WHERE session_id = $1 AND sequence_number < $2 AND role = 'reader'
		 ORDER BY sequence_number DESC LIMIT 1`,
		sessionID, beforeSeq))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("no reader message before seq %d: %w", beforeSeq, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("finding preceding reader message: %w", err)
	}
	return msg, nil
}

// AttachFeedback sets the feedback label on a message. Content is
// immutable; only the feedback column changes. The operation is
// idempotent — re-attaching the same label is a no-op.
func (s *Store) AttachFeedback(ctx context.Context, messageID uuid.UUID, label FeedbackLabel) error {
	if !label.Valid() {
		return fmt.Errorf("invalid feedback label %q", label)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE session_messages SET feedback = $2 WHERE id = $1`, messageID, label)
	if err != nil {
		return fmt.Errorf("attaching feedback to %s: %w", messageID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	return nil
}

const upsertContextEntrySQL = `INSERT INTO session_context
		(session_id, context_type, payload, confidence, updated_at)
	VALUES ($1, $2, $3, $4, now())
	ON CONFLICT (session_id, context_type)
	DO UPDATE SET
		payload    = EXCLUDED.payload,
		confidence = EXCLUDED.confidence,
		updated_at = now()`

// UpsertContextEntry replaces the single entry for (session, type).
// Last writer wins; any merging happens in the layers above before the
// call.
func (s *Store) UpsertContextEntry(ctx context.Context, sessionID uuid.UUID, ctype ContextType, payload map[string]any, confidence float32) error {
	payloadJSON, err := json.Marshal(orEmptyMap(payload))
	if err != nil {
		return fmt.Errorf("marshaling context payload: %w", err)
	}

	if _, err := s.pool.Exec(ctx, upsertContextEntrySQL,
		sessionID, ctype, payloadJSON, confidence); err != nil {
		return fmt.Errorf("upserting context entry %s/%s: %w", sessionID, ctype, err)
	}

	s.logger.Debug("upserted context entry", "session_id", sessionID, "type", ctype)
	return nil
}

// ContextEntries returns all context entries for a session.
func (s *Store) ContextEntries(ctx context.Context, sessionID uuid.UUID) ([]*ContextEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT session_id, context_type, payload, confidence, updated_at
		 FROM session_context WHERE session_id = $1 ORDER BY context_type`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading context entries for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var entries []*ContextEntry
	for rows.Next() {
		var e ContextEntry
		var payloadJSON []byte
		if err := rows.Scan(&e.SessionID, &e.Type, &payloadJSON, &e.Confidence, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning context entry: %w", err)
		}
		if err := json.Unmarshal(payloadJSON, &e.Payload); err != nil {
			s.logger.Warn("malformed context payload, skipping",
				"session_id", e.SessionID, "type", e.Type, "error", err)
			continue
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// scanner abstracts pgx.Row / pgx.Rows for the scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	var sess Session
	err := row.Scan(&sess.ID, &sess.ReaderID, &sess.BookID, &sess.Mode, &sess.Lens,
		&sess.Tier, &sess.Active, &sess.LastInteractionAt, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func scanMessage(row scanner) (*Message, error) {
	var msg Message
	var metadataJSON []byte
	err := row.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &msg.SectionIndex,
		&msg.Kind, &msg.Feedback, &msg.Confidence, &metadataJSON, &msg.SequenceNumber, &msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &msg.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling message metadata: %w", err)
		}
	}
	return &msg, nil
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
