package prompt

import (
	"fmt"
	"strings"
	"testing"

	"github.com/firebase/genkit/go/ai"

	"github.com/marginalia-app/marginalia/internal/conversation"
	"github.com/marginalia-app/marginalia/internal/profile"
	"github.com/marginalia-app/marginalia/internal/retrieval"
)

func testProfile() *profile.Profile {
	return &profile.Profile{
		ReaderID:             "reader-1",
		ResponseStyle:        profile.StyleBalanced,
		ComplexityPreference: profile.ComplexityModerate,
		TopicAffinities: []profile.TopicAffinity{
			{Topic: "theme", Count: 3},
			{Topic: "character", Count: 2},
		},
	}
}

func testRAG() conversation.RAGContext {
	return conversation.RAGContext{
		ReaderID: "reader-1",
		BookID:   "book-1",
		Mode:     conversation.ModeFiction,
		Lens:     conversation.LensLiterary,
		Tier:     conversation.TierPlus,
	}
}

func messageText(m *ai.Message) string {
	var b strings.Builder
	for _, part := range m.Content {
		b.WriteString(part.Text)
	}
	return b.String()
}

func historyTurns(n int) []*conversation.Message {
	var msgs []*conversation.Message
	for i := 0; i < n; i++ {
		role := conversation.RoleReader
		content := fmt.Sprintf("question %d", i/2+1)
		if i%2 == 1 {
			role = conversation.RoleAssistant
			content = fmt.Sprintf("answer %d", i/2+1)
		}
		msgs = append(msgs, &conversation.Message{Role: role, Content: content, SequenceNumber: i + 1})
	}
	return msgs
}

func TestCompose_MessageOrder(t *testing.T) {
	c := &Composer{}
	p, err := c.Compose(Input{
		Query:   "what is the green light?",
		RAG:     testRAG(),
		Profile: testProfile(),
		Passages: []retrieval.Passage{
			{Source: retrieval.SourceCurrentSection, SectionIndex: 5, Content: "current text"},
			{Source: retrieval.SourceRelated, SectionIndex: 9, Content: "related text", Similarity: 0.8},
		},
		History:      historyTurns(2),
		MessageCount: 2,
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}

	// persona, passages, 2 raw turns, query. No summary below 4 turns.
	if len(p.Messages) != 5 {
		t.Fatalf("got %d messages, want 5", len(p.Messages))
	}
	if p.Messages[0].Role != ai.RoleSystem || p.Messages[1].Role != ai.RoleSystem {
		t.Error("first two messages must be system messages")
	}
	if p.Messages[2].Role != ai.RoleUser || p.Messages[3].Role != ai.RoleModel {
		t.Error("history turns must map reader to user and assistant to model")
	}
	last := p.Messages[len(p.Messages)-1]
	if last.Role != ai.RoleUser || messageText(last) != "what is the green light?" {
		t.Errorf("final message = %q (%s), want the query as a user turn", messageText(last), last.Role)
	}
}

func TestCompose_PersonaContent(t *testing.T) {
	c := &Composer{}
	p, err := c.Compose(Input{
		Query:        "why?",
		RAG:          testRAG(),
		Profile:      testProfile(),
		MessageCount: 15,
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}

	persona := messageText(p.Messages[0])
	for _, want := range []string{
		"character, craft", // fiction x literary
		"richer detail",    // plus tier
		"balanced",         // style preference
		"moderate",         // complexity preference
		"theme, character", // topic affinities in rank order
		"medium",           // engagement tier for 15 messages
	} {
		if !strings.Contains(persona, want) {
			t.Errorf("persona missing %q:\n%s", want, persona)
		}
	}
}

func TestCompose_PassagesAndPriority(t *testing.T) {
	c := &Composer{}
	p, err := c.Compose(Input{
		Query:   "what is happening now?",
		RAG:     testRAG(),
		Profile: testProfile(),
		Passages: []retrieval.Passage{
			{Source: retrieval.SourceCurrentSection, SectionIndex: 3, Content: "the storm breaks"},
			{Source: retrieval.SourceRelated, SectionIndex: 11, Content: "earlier foreshadowing"},
		},
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}

	passages := messageText(p.Messages[1])
	if !strings.Contains(passages, "[Section 3 - the reader's current section]") {
		t.Errorf("current section not labeled:\n%s", passages)
	}
	if !strings.Contains(passages, "[Section 11]") {
		t.Errorf("related section not labeled:\n%s", passages)
	}
	if !strings.Contains(passages, "takes priority") {
		t.Errorf("current-section priority instruction missing:\n%s", passages)
	}
}

func TestCompose_EmptyPassagesIsNormal(t *testing.T) {
	c := &Composer{}
	p, err := c.Compose(Input{
		Query:   "thoughts on the ending?",
		RAG:     testRAG(),
		Profile: testProfile(),
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}

	passages := messageText(p.Messages[1])
	if !strings.Contains(passages, "No specific passages") {
		t.Errorf("empty-passages message missing:\n%s", passages)
	}
	if !strings.Contains(passages, "paste the passage") {
		t.Errorf("reader prompt for a passage missing:\n%s", passages)
	}
}

func TestCompose_SummaryAppearsAtFourTurns(t *testing.T) {
	c := &Composer{}

	short, err := c.Compose(Input{
		Query: "q", RAG: testRAG(), Profile: testProfile(), History: historyTurns(3),
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	for _, m := range short.Messages {
		if strings.Contains(messageText(m), "Earlier in this conversation") {
			t.Error("summary must not appear below the turn threshold")
		}
	}

	long, err := c.Compose(Input{
		Query: "q", RAG: testRAG(), Profile: testProfile(), History: historyTurns(10),
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	summary := messageText(long.Messages[2])
	if !strings.Contains(summary, "Earlier in this conversation") {
		t.Fatalf("summary missing at 10 turns:\n%s", summary)
	}
	// Last 3 reader questions, oldest first.
	for _, q := range []string{"question 3", "question 4", "question 5"} {
		if !strings.Contains(summary, q) {
			t.Errorf("summary missing %q:\n%s", q, summary)
		}
	}
	if strings.Contains(summary, "question 2") {
		t.Errorf("summary includes more than the last 3 questions:\n%s", summary)
	}
	if !strings.Contains(summary, "Recurring topics: theme, character") {
		t.Errorf("summary missing recorded topics:\n%s", summary)
	}
}

func TestCompose_HistoryWindowTruncates(t *testing.T) {
	c := &Composer{HistoryWindow: 4}
	p, err := c.Compose(Input{
		Query: "q", RAG: testRAG(), Profile: testProfile(), History: historyTurns(10),
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}

	// persona + passages + summary + 4 raw turns + query.
	if len(p.Messages) != 8 {
		t.Fatalf("got %d messages, want 8", len(p.Messages))
	}
	// The oldest replayed turn is question 4 (turns 7-10 survive).
	first := messageText(p.Messages[3])
	if first != "question 4" {
		t.Errorf("oldest raw turn = %q, want %q", first, "question 4")
	}
}

func TestCompose_LongQuestionTruncatedInSummary(t *testing.T) {
	history := historyTurns(8)
	long := strings.Repeat("x", 200)
	history[6].Content = long // a reader turn

	c := &Composer{}
	p, err := c.Compose(Input{
		Query: "q", RAG: testRAG(), Profile: testProfile(), History: history,
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}

	summary := messageText(p.Messages[2])
	if strings.Contains(summary, long) {
		t.Error("summary contains the untruncated question")
	}
	if !strings.Contains(summary, strings.Repeat("x", 120)+"...") {
		t.Errorf("summary missing the truncated question:\n%s", summary)
	}
}

func TestCompose_Validation(t *testing.T) {
	c := &Composer{}
	if _, err := c.Compose(Input{RAG: testRAG(), Profile: testProfile()}); err == nil {
		t.Error("empty query must fail")
	}
	if _, err := c.Compose(Input{Query: "q", RAG: testRAG()}); err == nil {
		t.Error("nil profile must fail")
	}
}
