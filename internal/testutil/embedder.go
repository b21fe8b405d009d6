package testutil

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
)

// FakeEmbedder is a deterministic ai.Embedder for tests. Each input
// document maps to a stable unit vector derived from its text, so equal
// texts always embed identically and distinct texts rarely collide.
type FakeEmbedder struct {
	Dimension int   // defaults to 768
	Err       error // returned verbatim when set
	Calls     int
}

// Name implements ai.Embedder.
func (f *FakeEmbedder) Name() string { return "fake-embedder" }

// Register implements ai.Embedder. No-op.
func (f *FakeEmbedder) Register(api.Registry) {}

// Embed implements ai.Embedder.
func (f *FakeEmbedder) Embed(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error) {
	f.Calls++
	if f.Err != nil {
		return nil, f.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dim := f.Dimension
	if dim <= 0 {
		dim = 768
	}

	resp := &ai.EmbedResponse{}
	for _, doc := range req.Input {
		var text string
		if len(doc.Content) > 0 {
			text = doc.Content[0].Text
		}
		resp.Embeddings = append(resp.Embeddings, &ai.Embedding{
			Embedding: stableVector(text, dim),
		})
	}
	return resp, nil
}

// stableVector hashes text into a pseudo-random unit vector.
func stableVector(text string, dim int) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, dim)
	var norm float64
	for i := range vec {
		// xorshift64 keeps the sequence deterministic per seed.
		seed ^= seed << 13
		seed ^= seed >> 7
		seed ^= seed << 17
		v := float64(int64(seed)) / float64(math.MaxInt64)
		vec[i] = float32(v)
		norm += v * v
	}

	norm = math.Sqrt(norm)
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
