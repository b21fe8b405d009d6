package companion

import (
	"context"
	"regexp"

	"github.com/google/uuid"

	"github.com/marginalia-app/marginalia/internal/conversation"
	"github.com/marginalia-app/marginalia/internal/profile"
)

// progressPattern matches chapter/section language in a query, with an
// optional number. "chapter 12", "section 3", "the last chapter" all
// count as progress signals.
var progressPattern = regexp.MustCompile(`(?i)\b(chapter|section|part|page)\b(?:\s+(\d+))?`)

// MemorySnapshot is the synthesized conversation memory returned with
// each result: what the companion currently believes about the session
// and the reader.
type MemorySnapshot struct {
	Topics        []string
	Progress      map[string]any
	ResponseStyle profile.ResponseStyle
	Complexity    profile.Complexity
	TotalQueries  int
}

// updateMemory refreshes the session's context entries after an
// exchange. All writes are best-effort: a failed upsert is logged and
// swallowed, never surfaced.
func (c *Companion) updateMemory(ctx context.Context, sessionID uuid.UUID, q Query, p *profile.Profile, confidence float32) {
	topics := profile.ExtractTopics(q.Text)
	if len(topics) > 0 {
		merged := profile.MergeAffinities(p.TopicAffinities, topics)
		names := make([]any, 0, len(merged))
		for _, a := range merged {
			names = append(names, a.Topic)
		}
		if err := c.sessions.UpsertContextEntry(ctx, sessionID, conversation.ContextTopics,
			map[string]any{"topics": names}, confidence); err != nil {
			c.logger.Warn("topics context update failed", "session_id", sessionID, "error", err)
		}
	}

	if payload := progressPayload(q); payload != nil {
		if err := c.sessions.UpsertContextEntry(ctx, sessionID, conversation.ContextProgress,
			payload, 1.0); err != nil {
			c.logger.Warn("progress context update failed", "session_id", sessionID, "error", err)
		}
	}
}

// progressPayload extracts a reading-progress payload from the query,
// or nil when the query has no chapter/section language. The section
// index from the reading context wins over anything parsed from text.
func progressPayload(q Query) map[string]any {
	match := progressPattern.FindStringSubmatch(q.Text)
	if match == nil {
		return nil
	}

	payload := map[string]any{"mentioned_unit": match[1]}
	if match[2] != "" {
		payload["mentioned_number"] = match[2]
	}
	if q.SectionIndex != nil {
		payload["section_index"] = *q.SectionIndex
	}
	return payload
}

// memorySnapshot assembles the Result's memory view from the stored
// context entries and the profile. A failed read yields a profile-only
// snapshot rather than an error.
func (c *Companion) memorySnapshot(ctx context.Context, sessionID uuid.UUID, p *profile.Profile) *MemorySnapshot {
	snap := &MemorySnapshot{
		Topics:        p.Topics(),
		ResponseStyle: p.ResponseStyle,
		Complexity:    p.ComplexityPreference,
		TotalQueries:  p.TotalQueries,
	}

	entries, err := c.sessions.ContextEntries(ctx, sessionID)
	if err != nil {
		c.logger.Warn("context entries read failed", "session_id", sessionID, "error", err)
		return snap
	}
	for _, e := range entries {
		switch e.Type {
		case conversation.ContextTopics:
			if raw, ok := e.Payload["topics"].([]any); ok {
				topics := make([]string, 0, len(raw))
				for _, t := range raw {
					if s, ok := t.(string); ok {
						topics = append(topics, s)
					}
				}
				if len(topics) > 0 {
					snap.Topics = topics
				}
			}
		case conversation.ContextProgress:
			snap.Progress = e.Payload
		}
	}
	return snap
}
