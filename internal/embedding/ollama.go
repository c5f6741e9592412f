package embedding

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
)

// OllamaEmbedder embeds text through an Ollama server's embedding endpoint.
type OllamaEmbedder struct {
	embedder   embeddings.Embedder
	dimensions atomic.Int64
}

// NewOllamaEmbedder connects to serverURL and uses model for embeddings. dimensions is
// the expected size; it is corrected from the first response.
func NewOllamaEmbedder(serverURL, model string, dimensions, batchSize int) (*OllamaEmbedder, error) {
	client, err := ollama.New(ollama.WithServerURL(serverURL), ollama.WithModel(model))
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama client: %w", err)
	}
	return newOllamaEmbedder(client, dimensions, batchSize)
}

func newOllamaEmbedder(client embeddings.EmbedderClient, dimensions, batchSize int) (*OllamaEmbedder, error) {
	opts := []embeddings.Option{embeddings.WithStripNewLines(false)}
	if batchSize > 0 {
		opts = append(opts, embeddings.WithBatchSize(batchSize))
	}
	emb, err := embeddings.NewEmbedder(client, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	e := &OllamaEmbedder{embedder: emb}
	e.dimensions.Store(int64(dimensions))
	return e, nil
}

// Embed returns the embedding for a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	e.observe(v)
	return v, nil
}

// EmbedBatch sends texts to the server in batches.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vs, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama embed batch: %w", err)
	}
	if len(vs) != len(texts) {
		return nil, fmt.Errorf("ollama embed batch: got %d vectors for %d texts", len(vs), len(texts))
	}
	if len(vs) > 0 {
		e.observe(vs[0])
	}
	return vs, nil
}

func (e *OllamaEmbedder) observe(v []float32) {
	if len(v) > 0 {
		e.dimensions.Store(int64(len(v)))
	}
}

// Dimensions returns the embedding dimension reported by the last response,
// or the configured value before any call.
func (e *OllamaEmbedder) Dimensions() int {
	return int(e.dimensions.Load())
}

// Close is a no-op; the HTTP client holds no resources.
func (e *OllamaEmbedder) Close() error {
	return nil
}
