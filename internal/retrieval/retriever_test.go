package retrieval

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/marginalia-app/marginalia/internal/book"
	"github.com/marginalia-app/marginalia/internal/conversation"
	"github.com/marginalia-app/marginalia/internal/knowledge"
	"github.com/marginalia-app/marginalia/internal/testutil"
)

// fakeChunks serves chunks from a map keyed by index.
type fakeChunks struct {
	chunks map[int]string
	err    error
	probes []int
}

func (f *fakeChunks) Chunk(ctx context.Context, bookID string, index int) (*book.Chunk, error) {
	f.probes = append(f.probes, index)
	if f.err != nil {
		return nil, f.err
	}
	content, ok := f.chunks[index]
	if !ok {
		return nil, fmt.Errorf("book %s index %d: %w", bookID, index, book.ErrChunkNotFound)
	}
	return &book.Chunk{BookID: bookID, Index: index, Content: content}, nil
}

// fakeSearcher returns canned similarity results.
type fakeSearcher struct {
	results  []knowledge.Result
	err      error
	lastTopK int
}

func (f *fakeSearcher) Search(ctx context.Context, query, bookID string, opts ...knowledge.SearchOption) ([]knowledge.Result, error) {
	f.lastTopK = knowledge.ResolveTopK(opts)
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func result(index int, content string, sim float32) knowledge.Result {
	return knowledge.Result{
		Passage: knowledge.Passage{
			ID:      fmt.Sprintf("chunk-%d", index),
			BookID:  "book-1",
			Index:   index,
			Content: content,
		},
		Similarity: sim,
	}
}

func ragWithSection(index int) conversation.RAGContext {
	return conversation.RAGContext{
		ReaderID:     "reader-1",
		BookID:       "book-1",
		SectionIndex: &index,
	}
}

func TestRetrieve_CurrentSectionFirstThenRelated(t *testing.T) {
	chunks := &fakeChunks{chunks: map[int]string{7: "current section text"}}
	searcher := &fakeSearcher{results: []knowledge.Result{
		result(2, "related A", 0.9),
		result(12, "related B", 0.8),
	}}
	r, err := NewRetriever(chunks, searcher, testutil.NewLogger())
	if err != nil {
		t.Fatalf("NewRetriever: %v", err)
	}

	passages := r.Retrieve(context.Background(), "why?", ragWithSection(7))
	if len(passages) != 3 {
		t.Fatalf("got %d passages, want 3", len(passages))
	}
	if passages[0].Source != SourceCurrentSection || passages[0].SectionIndex != 7 {
		t.Errorf("first passage = %+v, want current section 7", passages[0])
	}
	if passages[1].Source != SourceRelated || passages[2].Source != SourceRelated {
		t.Errorf("trailing passages must be related, got %+v", passages[1:])
	}
	// One budget slot went to the current section.
	if searcher.lastTopK != 3 {
		t.Errorf("search topK = %d, want 3 when current section found", searcher.lastTopK)
	}
}

func TestRetrieve_FullBudgetWithoutCurrentSection(t *testing.T) {
	chunks := &fakeChunks{chunks: map[int]string{}}
	searcher := &fakeSearcher{}
	r, _ := NewRetriever(chunks, searcher, testutil.NewLogger())

	r.Retrieve(context.Background(), "why?", conversation.RAGContext{ReaderID: "reader-1", BookID: "book-1"})
	if searcher.lastTopK != 4 {
		t.Errorf("search topK = %d, want full budget 4 without current section", searcher.lastTopK)
	}
	if len(chunks.probes) != 0 {
		t.Errorf("no section index given, but chunk store was probed at %v", chunks.probes)
	}
}

func TestRetrieve_NeighborProbesOnMiss(t *testing.T) {
	// Section 5 is missing; 4 exists. Probe order is 5, 4, 6.
	chunks := &fakeChunks{chunks: map[int]string{4: "drifted section"}}
	searcher := &fakeSearcher{}
	r, _ := NewRetriever(chunks, searcher, testutil.NewLogger())

	passages := r.Retrieve(context.Background(), "why?", ragWithSection(5))
	if len(passages) != 1 || passages[0].SectionIndex != 4 {
		t.Fatalf("got %+v, want the drifted section at index 4", passages)
	}
	wantProbes := []int{5, 4}
	if len(chunks.probes) != len(wantProbes) || chunks.probes[0] != 5 || chunks.probes[1] != 4 {
		t.Errorf("probes = %v, want %v", chunks.probes, wantProbes)
	}
}

func TestRetrieve_DeduplicatesCurrentSection(t *testing.T) {
	chunks := &fakeChunks{chunks: map[int]string{3: "current"}}
	searcher := &fakeSearcher{results: []knowledge.Result{
		result(3, "current again", 0.95),
		result(8, "genuinely related", 0.7),
	}}
	r, _ := NewRetriever(chunks, searcher, testutil.NewLogger())

	passages := r.Retrieve(context.Background(), "why?", ragWithSection(3))
	if len(passages) != 2 {
		t.Fatalf("got %d passages, want 2 after dedup", len(passages))
	}
	for _, p := range passages[1:] {
		if p.SectionIndex == 3 {
			t.Errorf("current section duplicated in related passages: %+v", p)
		}
	}
}

func TestRetrieve_DegradesOnSearchFailure(t *testing.T) {
	chunks := &fakeChunks{chunks: map[int]string{1: "only the current section"}}
	searcher := &fakeSearcher{err: errors.New("embedding service down")}
	r, _ := NewRetriever(chunks, searcher, testutil.NewLogger())

	passages := r.Retrieve(context.Background(), "why?", ragWithSection(1))
	if len(passages) != 1 || passages[0].Source != SourceCurrentSection {
		t.Fatalf("got %+v, want just the current section on search failure", passages)
	}

	// Total failure still returns, with nothing.
	empty := r.Retrieve(context.Background(), "why?", conversation.RAGContext{BookID: "book-1"})
	if len(empty) != 0 {
		t.Errorf("got %+v, want empty result on total failure", empty)
	}
}

func TestRetrieve_ChunkStoreErrorContinues(t *testing.T) {
	chunks := &fakeChunks{err: errors.New("connection refused")}
	searcher := &fakeSearcher{results: []knowledge.Result{result(9, "related", 0.6)}}
	r, _ := NewRetriever(chunks, searcher, testutil.NewLogger())

	passages := r.Retrieve(context.Background(), "why?", ragWithSection(2))
	if len(passages) != 1 || passages[0].Source != SourceRelated {
		t.Fatalf("got %+v, want related passages despite chunk store failure", passages)
	}
	// Hard errors do not trigger neighbor probes.
	if len(chunks.probes) != 1 {
		t.Errorf("probes = %v, want a single aborted probe", chunks.probes)
	}
}

func TestMeanSimilarity(t *testing.T) {
	passages := []Passage{
		{Source: SourceCurrentSection, Similarity: 0},
		{Source: SourceRelated, Similarity: 0.8},
		{Source: SourceRelated, Similarity: 0.6},
	}
	if got := MeanSimilarity(passages); got < 0.699 || got > 0.701 {
		t.Errorf("MeanSimilarity = %v, want 0.7", got)
	}
	if got := MeanSimilarity(nil); got != 0 {
		t.Errorf("MeanSimilarity(nil) = %v, want 0", got)
	}
}
