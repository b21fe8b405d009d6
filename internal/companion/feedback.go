package companion

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/marginalia-app/marginalia/internal/conversation"
)

// RecordFeedback attaches a reader judgment to an assistant message and
// folds it into the learning profile. The attach is the critical write;
// profile adaptation is best-effort and a failure there is logged and
// swallowed.
func (c *Companion) RecordFeedback(ctx context.Context, messageID uuid.UUID, label conversation.FeedbackLabel) error {
	if !label.Valid() {
		return fmt.Errorf("invalid feedback label %q", label)
	}

	msg, err := c.sessions.Message(ctx, messageID)
	if err != nil {
		return fmt.Errorf("loading message for feedback: %w", err)
	}
	if msg.Role != conversation.RoleAssistant {
		return fmt.Errorf("feedback targets assistant messages, got role %q", msg.Role)
	}

	if err := c.sessions.AttachFeedback(ctx, messageID, label); err != nil {
		return fmt.Errorf("attaching feedback: %w", err)
	}

	// Complexity adaptation needs the question that prompted the judged
	// answer.
	query := ""
	if reader, err := c.sessions.PrecedingReaderMessage(ctx, msg.SessionID, msg.SequenceNumber); err == nil {
		query = reader.Content
	} else {
		c.logger.Debug("no preceding reader message for feedback",
			"message_id", messageID, "error", err)
	}

	sess, err := c.sessions.Session(ctx, msg.SessionID)
	if err != nil {
		c.logger.Warn("session lookup for feedback failed, skipping profile update",
			"session_id", msg.SessionID, "error", err)
		return nil
	}

	if _, err := c.profiles.RecordFeedback(ctx, sess.ReaderID, query, label); err != nil {
		c.logger.Warn("profile feedback update failed",
			"reader_id", sess.ReaderID, "label", label, "error", err)
	}
	return nil
}
