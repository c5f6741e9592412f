// Package vector provides the similarity index behind a session's retriever.
package vector

import "context"

// Index stores chunk vectors and answers top-k similarity queries.
type Index interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]Result, error)
	Size() int
	Close() error
}

// Result is a single search hit. ID is the chunk ID.
type Result struct {
	ID    string
	Score float64 // inner product; cosine similarity for normalized vectors
}
