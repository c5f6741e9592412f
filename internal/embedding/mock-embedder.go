package embedding

import (
	"context"
	"strings"
	"unicode"

	"github.com/hyperjump/kiku/pkg/utils"
)

// MockEmbedder is a deterministic bag-of-words embedder. Every lowercased word is
// hashed into a bucket, so texts sharing vocabulary end up close in cosine space.
// Used by tests and the offline demo.
type MockEmbedder struct {
	dimensions int

	// EmbedBatchFunc, when set, replaces EmbedBatch. Tests use it to inject failures.
	EmbedBatchFunc func(ctx context.Context, texts []string) ([][]float32, error)
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed returns a deterministic unit vector for text.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	emb := make([]float32, e.dimensions)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		emb[HashString(w)%e.dimensions]++
	}
	if len(words) == 0 {
		emb[0] = 1
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if e.EmbedBatchFunc != nil {
		return e.EmbedBatchFunc(ctx, texts)
	}
	return embedEach(ctx, texts, e.Embed)
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}
