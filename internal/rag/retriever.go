package rag

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/schema"

	"github.com/hyperjump/kiku/internal/embedding"
	"github.com/hyperjump/kiku/internal/models"
	"github.com/hyperjump/kiku/internal/vector"
)

// Document metadata keys set by Retriever.
const (
	MetaChunkID = "chunk_id"
	MetaPage    = "page"
	MetaIndex   = "index"
)

// Retriever returns the k chunks of one document closest to a query.
type Retriever struct {
	index    vector.Index
	embedder embedding.Embedder
	chunks   map[string]models.Chunk
	k        int
}

var _ schema.Retriever = (*Retriever)(nil)

// NewRetriever binds an index over chunks to the embedder that produced its vectors.
func NewRetriever(index vector.Index, embedder embedding.Embedder, chunks []models.Chunk, k int) *Retriever {
	byID := make(map[string]models.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}
	return &Retriever{index: index, embedder: embedder, chunks: byID, k: k}
}

// GetRelevantDocuments embeds query and returns up to k chunks by descending similarity.
func (r *Retriever) GetRelevantDocuments(ctx context.Context, query string) ([]schema.Document, error) {
	q, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := r.index.Search(ctx, q, r.k)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	docs := make([]schema.Document, 0, len(hits))
	for _, hit := range hits {
		c, ok := r.chunks[hit.ID]
		if !ok {
			continue
		}
		docs = append(docs, schema.Document{
			PageContent: c.Content,
			Metadata: map[string]any{
				MetaChunkID: c.ID,
				MetaPage:    c.Page,
				MetaIndex:   c.Index,
			},
			Score: float32(hit.Score),
		})
	}
	return docs, nil
}
