// Package prompt turns a query, its retrieved passages, the learning
// profile, and recent history into an ordered model message sequence
// with an output token budget.
package prompt

import (
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"

	"github.com/marginalia-app/marginalia/internal/conversation"
	"github.com/marginalia-app/marginalia/internal/profile"
	"github.com/marginalia-app/marginalia/internal/retrieval"
)

const (
	// DefaultHistoryWindow is how many raw turns are replayed verbatim.
	DefaultHistoryWindow = 6

	// summaryThreshold is the prior-turn count at which a synthesized
	// summary message joins the prompt instead of replaying everything.
	summaryThreshold = 4

	// summaryQuestionLimit and summaryTruncateLen bound the summary.
	summaryQuestionLimit = 3
	summaryTruncateLen   = 120
)

// Input carries everything composition needs for one request.
type Input struct {
	Query        string
	RAG          conversation.RAGContext
	Passages     []retrieval.Passage
	Profile      *profile.Profile
	History      []*conversation.Message // oldest first, system excluded
	MessageCount int
}

// Prompt is the composed request: messages in model order plus the
// completion token limit.
type Prompt struct {
	Messages        []*ai.Message
	MaxOutputTokens int
}

// Composer assembles prompts. The zero history window falls back to the
// default.
type Composer struct {
	HistoryWindow int
}

// Compose builds the full message sequence: persona, grounding
// passages, an optional history summary, recent raw turns, and finally
// the query itself.
func (c *Composer) Compose(in Input) (*Prompt, error) {
	if in.Query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if in.Profile == nil {
		return nil, fmt.Errorf("profile is required")
	}

	window := c.HistoryWindow
	if window <= 0 {
		window = DefaultHistoryWindow
	}

	messages := []*ai.Message{
		ai.NewSystemMessage(ai.NewTextPart(personaMessage(in.RAG, in.Profile, in.MessageCount))),
		ai.NewSystemMessage(ai.NewTextPart(passagesMessage(in.Passages))),
	}

	if len(in.History) >= summaryThreshold {
		messages = append(messages, ai.NewSystemMessage(ai.NewTextPart(summaryMessage(in.History, in.Profile))))
	}

	recent := in.History
	if len(recent) > window {
		recent = recent[len(recent)-window:]
	}
	for _, msg := range recent {
		switch msg.Role {
		case conversation.RoleReader:
			messages = append(messages, ai.NewUserMessage(ai.NewTextPart(msg.Content)))
		case conversation.RoleAssistant:
			messages = append(messages, ai.NewModelMessage(ai.NewTextPart(msg.Content)))
		}
	}

	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(in.Query)))

	return &Prompt{
		Messages:        messages,
		MaxOutputTokens: OutputTokenBudget(in.RAG.Tier, profile.ClassifyComplexity(in.Query), in.Profile.ResponseStyle),
	}, nil
}

// passagesMessage lists the grounding passages verbatim, labeled by
// section. An empty retrieval is a normal path, not an error: the
// message says so and asks the reader for a passage.
func passagesMessage(passages []retrieval.Passage) string {
	if len(passages) == 0 {
		return "No specific passages from the book are available for this question. Answer from the conversation so far, say plainly that you cannot quote the text here, and invite the reader to paste the passage they are asking about."
	}

	var b strings.Builder
	b.WriteString("Relevant passages from the book:\n\n")

	hasCurrent := false
	for _, p := range passages {
		if p.Source == retrieval.SourceCurrentSection {
			hasCurrent = true
			fmt.Fprintf(&b, "[Section %d - the reader's current section]\n%s\n\n", p.SectionIndex, p.Content)
		} else {
			fmt.Fprintf(&b, "[Section %d]\n%s\n\n", p.SectionIndex, p.Content)
		}
	}

	if hasCurrent {
		b.WriteString("For questions about what is happening now, the reader's current section takes priority over the others.")
	}
	return strings.TrimRight(b.String(), "\n")
}

// summaryMessage condenses a long-running conversation: the most recent
// reader questions, truncated, plus the profile's recorded topics. It
// keeps context bounded instead of replaying the full history.
func summaryMessage(history []*conversation.Message, p *profile.Profile) string {
	var questions []string
	for i := len(history) - 1; i >= 0 && len(questions) < summaryQuestionLimit; i-- {
		if history[i].Role != conversation.RoleReader {
			continue
		}
		questions = append(questions, truncate(history[i].Content, summaryTruncateLen))
	}
	// Collected newest-first; present oldest-first.
	for i, j := 0, len(questions)-1; i < j; i, j = i+1, j-1 {
		questions[i], questions[j] = questions[j], questions[i]
	}

	var b strings.Builder
	b.WriteString("Earlier in this conversation the reader asked:\n")
	for _, q := range questions {
		fmt.Fprintf(&b, "- %s\n", q)
	}
	if topics := p.Topics(); len(topics) > 0 {
		fmt.Fprintf(&b, "Recurring topics: %s", strings.Join(topics, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
