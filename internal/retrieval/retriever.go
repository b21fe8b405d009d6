// Package retrieval assembles grounded context for a query: the literal
// text of the reader's current section plus the nearest passages by
// vector similarity, scoped to the book.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/marginalia-app/marginalia/internal/book"
	"github.com/marginalia-app/marginalia/internal/conversation"
	"github.com/marginalia-app/marginalia/internal/knowledge"
)

// passageCeiling is the total passage budget per request. Similarity
// search asks for one fewer slot when the current section was found, so
// the budget holds either way.
const passageCeiling = 4

// Source tags where a passage came from.
type Source string

// Passage provenance.
const (
	SourceCurrentSection Source = "current-section"
	SourceRelated        Source = "related"
)

// Passage is one piece of grounding context, ordered current-section
// first.
type Passage struct {
	Source       Source
	SectionIndex int
	Content      string
	Similarity   float32 // zero for the current section
}

// chunkFetcher is the piece of book.Chunks the retriever needs.
type chunkFetcher interface {
	Chunk(ctx context.Context, bookID string, index int) (*book.Chunk, error)
}

// similaritySearcher is the piece of knowledge.Store the retriever needs.
type similaritySearcher interface {
	Search(ctx context.Context, query, bookID string, opts ...knowledge.SearchOption) ([]knowledge.Result, error)
}

// Retriever gathers passages for a query. Retrieval is read-only and
// never fails the request: on embedding or search errors it returns
// whatever was gathered so far.
type Retriever struct {
	chunks   chunkFetcher
	searcher similaritySearcher
	logger   *slog.Logger
}

// NewRetriever creates a Retriever.
func NewRetriever(chunks chunkFetcher, searcher similaritySearcher, logger *slog.Logger) (*Retriever, error) {
	if chunks == nil {
		return nil, fmt.Errorf("chunks is required")
	}
	if searcher == nil {
		return nil, fmt.Errorf("searcher is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{chunks: chunks, searcher: searcher, logger: logger}, nil
}

// Retrieve returns the ordered passages for a query: the current
// section first when found, then related passages by similarity with
// the current section filtered out. A degraded result (fewer passages,
// possibly none) is returned instead of an error whenever a dependency
// fails.
func (r *Retriever) Retrieve(ctx context.Context, query string, rag conversation.RAGContext) []Passage {
	var passages []Passage

	currentIndex := -1
	if rag.SectionIndex != nil {
		if chunk := r.currentSection(ctx, rag.BookID, *rag.SectionIndex); chunk != nil {
			currentIndex = chunk.Index
			passages = append(passages, Passage{
				Source:       SourceCurrentSection,
				SectionIndex: chunk.Index,
				Content:      chunk.Content,
			})
		}
	}

	topK := passageCeiling
	if len(passages) > 0 {
		topK--
	}

	opts := []knowledge.SearchOption{knowledge.WithTopK(topK)}
	if rag.ReaderID != "" {
		opts = append(opts, knowledge.WithReader(rag.ReaderID))
	}
	results, err := r.searcher.Search(ctx, query, rag.BookID, opts...)
	if err != nil {
		r.logger.Warn("similarity search unavailable, continuing with reduced context",
			"book_id", rag.BookID, "error", err)
		return passages
	}

	for _, res := range results {
		if res.Passage.Index == currentIndex {
			continue
		}
		passages = append(passages, Passage{
			Source:       SourceRelated,
			SectionIndex: res.Passage.Index,
			Content:      res.Passage.Content,
			Similarity:   res.Similarity,
		})
	}

	r.logger.Debug("retrieved context",
		"book_id", rag.BookID, "passages", len(passages), "current_section", currentIndex >= 0)
	return passages
}

// currentSection fetches the chunk at index, probing index-1 and
// index+1 on a miss. Upstream section indexing drifts by one in some
// ingests; the neighbor probes tolerate that.
func (r *Retriever) currentSection(ctx context.Context, bookID string, index int) *book.Chunk {
	for _, probe := range []int{index, index - 1, index + 1} {
		if probe < 0 {
			continue
		}
		chunk, err := r.chunks.Chunk(ctx, bookID, probe)
		if err == nil {
			return chunk
		}
		if !errors.Is(err, book.ErrChunkNotFound) {
			r.logger.Warn("chunk fetch failed, continuing without current section",
				"book_id", bookID, "index", probe, "error", err)
			return nil
		}
	}

	r.logger.Debug("current section not found after neighbor probes",
		"book_id", bookID, "index", index)
	return nil
}

// MeanSimilarity is the confidence proxy stored with assistant
// messages: the mean similarity of related passages, zero when none.
func MeanSimilarity(passages []Passage) float32 {
	var sum float32
	var n int
	for _, p := range passages {
		if p.Source != SourceRelated {
			continue
		}
		sum += p.Similarity
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float32(n)
}
