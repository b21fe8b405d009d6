// Package knowledge provides vector similarity search over ingested book
// chunks, backed by PostgreSQL + pgvector.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
	"google.golang.org/genai"
)

// querier is the subset of pgx satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store performs scoped nearest-neighbor search over book chunks.
// Scope filtering is mandatory: a query never returns passages from a
// different book.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db       querier
	embedder ai.Embedder
	logger   *slog.Logger
}

// NewStore creates a Store. The embedder generates query vectors; chunk
// vectors are written by the ingestion pipeline.
func NewStore(db querier, embedder ai.Embedder, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, embedder: embedder, logger: logger}, nil
}

// embed generates a query vector truncated to VectorDimension.
func (s *Store) embed(ctx context.Context, text string) (pgvector.Vector, error) {
	dim := VectorDimension
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input:   []*ai.Document{ai.DocumentFromText(text, nil)},
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		return pgvector.Vector{}, fmt.Errorf("embedding text: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return pgvector.Vector{}, fmt.Errorf("empty embedding response")
	}
	return pgvector.NewVector(resp.Embeddings[0].Embedding), nil
}

const searchBookSQL = `SELECT id, book_id, chunk_index, content,
		1 - (embedding <=> $1) AS similarity
	FROM book_chunks
	WHERE book_id = $2 AND embedding IS NOT NULL AND reader_id IS NULL
	ORDER BY embedding <=> $1
	LIMIT $3`

const searchBookReaderSQL = `SELECT id, book_id, chunk_index, content,
		1 - (embedding <=> $1) AS similarity
	FROM book_chunks
	WHERE book_id = $2 AND embedding IS NOT NULL
	  AND (reader_id IS NULL OR reader_id = $3)
	ORDER BY embedding <=> $1
	LIMIT $4`

// Search embeds query and returns the nearest chunks of bookID, most similar
// first.
//
// Example:
//
//	results, err := store.Search(ctx, "why does Ahab hunt the whale", bookID,
//	    knowledge.WithTopK(3), knowledge.WithReader(readerID))
func (s *Store) Search(ctx context.Context, query, bookID string, opts ...SearchOption) ([]Result, error) {
	if bookID == "" {
		return nil, fmt.Errorf("bookID is required")
	}

	cfg := buildSearchConfig(opts)

	queryCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	vec, err := s.embed(queryCtx, query)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("embedding generation timeout: %w", err)
		}
		return nil, err
	}

	var rows pgx.Rows
	if cfg.readerID != "" {
		rows, err = s.db.Query(queryCtx, searchBookReaderSQL, vec, bookID, cfg.readerID, cfg.topK)
	} else {
		rows, err = s.db.Query(queryCtx, searchBookSQL, vec, bookID, cfg.topK)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("search query timeout: %w", err)
		}
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.Passage.ID, &r.Passage.BookID, &r.Passage.Index,
			&r.Passage.Content, &r.Similarity); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading search rows: %w", err)
	}

	s.logger.Debug("vector search completed",
		"book_id", bookID, "top_k", cfg.topK, "results", len(results))
	return results, nil
}
