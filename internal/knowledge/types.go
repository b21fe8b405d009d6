package knowledge

import "time"

// VectorDimension is the embedding width stored in book_chunks.embedding.
// gemini-embedding-001 is truncated to this via OutputDimensionality;
// it must match the vector(768) column in the schema.
const VectorDimension int32 = 768

// DefaultSearchTimeout bounds one Search call end to end, embedding
// included. Override per call with WithTimeout.
const DefaultSearchTimeout = 10 * time.Second

// Passage is one retrievable span of book text with its address.
type Passage struct {
	ID      string
	BookID  string
	Index   int
	Content string
}

// Result is a search hit with its cosine similarity score (0-1).
type Result struct {
	Passage    Passage
	Similarity float32
}

// SearchOption configures Search via the functional options pattern.
type SearchOption func(*searchConfig)

type searchConfig struct {
	topK     int
	readerID string
	timeout  time.Duration
}

// WithTopK sets the maximum number of results. Default is 4.
func WithTopK(k int) SearchOption {
	return func(c *searchConfig) {
		if k > 0 {
			c.topK = k
		}
	}
}

// WithReader additionally matches chunks personalized to a reader
// (annotations, highlights ingested per reader). Shared chunks always match.
func WithReader(readerID string) SearchOption {
	return func(c *searchConfig) {
		c.readerID = readerID
	}
}

// WithTimeout overrides the default search timeout.
func WithTimeout(d time.Duration) SearchOption {
	return func(c *searchConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// ResolveTopK reports the top-K a set of options resolves to. Exported
// so consumers' test doubles can assert budget arithmetic without
// re-implementing option resolution.
func ResolveTopK(opts []SearchOption) int {
	return buildSearchConfig(opts).topK
}

func buildSearchConfig(opts []SearchOption) *searchConfig {
	cfg := &searchConfig{
		topK:    4,
		timeout: DefaultSearchTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
