// Package book provides read access to ingested book content.
//
// Chunk rows are written by the ingestion pipeline, which lives outside this
// service; this package only reads them.
package book

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrChunkNotFound indicates no chunk exists at the requested index.
var ErrChunkNotFound = errors.New("chunk not found")

// querier is the subset of pgx satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Chunk is one contiguous span of book text, addressed by (book, index).
type Chunk struct {
	BookID  string
	Index   int
	Content string
}

// Chunks fetches literal book text by section index.
//
// Chunks is safe for concurrent use by multiple goroutines.
type Chunks struct {
	db     querier
	logger *slog.Logger
}

// NewChunks creates a chunk accessor backed by db (a pool or transaction).
func NewChunks(db querier, logger *slog.Logger) (*Chunks, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chunks{db: db, logger: logger}, nil
}

const chunkByIndexSQL = `SELECT book_id, chunk_index, content
	FROM book_chunks
	WHERE book_id = $1 AND chunk_index = $2`

// Chunk returns the chunk at (bookID, index), or ErrChunkNotFound.
func (c *Chunks) Chunk(ctx context.Context, bookID string, index int) (*Chunk, error) {
	if bookID == "" {
		return nil, fmt.Errorf("bookID is required")
	}

	var chunk Chunk
	err := c.db.QueryRow(ctx, chunkByIndexSQL, bookID, index).
		Scan(&chunk.BookID, &chunk.Index, &chunk.Content)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("book %s index %d: %w", bookID, index, ErrChunkNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching chunk %s/%d: %w", bookID, index, err)
	}

	c.logger.Debug("fetched chunk", "book_id", bookID, "index", index, "length", len(chunk.Content))
	return &chunk, nil
}

const chunkCountSQL = `SELECT COUNT(*) FROM book_chunks WHERE book_id = $1`

// Count returns the number of ingested chunks for a book. Used by the CLI
// to report whether a book is ready for questions.
func (c *Chunks) Count(ctx context.Context, bookID string) (int, error) {
	var count int
	if err := c.db.QueryRow(ctx, chunkCountSQL, bookID).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting chunks for %s: %w", bookID, err)
	}
	return count, nil
}
