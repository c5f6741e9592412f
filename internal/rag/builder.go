package rag

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/hyperjump/kiku/internal/embedding"
	"github.com/hyperjump/kiku/internal/models"
	"github.com/hyperjump/kiku/internal/vector"
)

// ErrNoChunks is returned by Build when there is nothing to index.
var ErrNoChunks = errors.New("no chunks to index")

// BuilderOptions configures a Builder.
type BuilderOptions struct {
	Embedder    embedding.Embedder
	Model       llms.Model
	TopK        int
	Temperature float64
	// Workers bounds concurrent embedding batches across all builds.
	Workers   int
	BatchSize int
	Logger    *zap.Logger
}

// Builder turns chunked documents into pipelines. Embedding batches from every
// concurrent Build share one worker pool.
type Builder struct {
	embedder    embedding.Embedder
	model       llms.Model
	topK        int
	temperature float64
	batchSize   int
	pool        *ants.Pool
	logger      *zap.Logger
}

// NewBuilder creates a builder and its embedding worker pool. Call Close to release the pool.
func NewBuilder(opts BuilderOptions) (*Builder, error) {
	if opts.Embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if opts.Model == nil {
		return nil, errors.New("model is required")
	}
	if opts.TopK <= 0 {
		opts.TopK = 4
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	pool, err := ants.NewPool(opts.Workers)
	if err != nil {
		return nil, fmt.Errorf("create embedding pool: %w", err)
	}
	return &Builder{
		embedder:    opts.Embedder,
		model:       opts.Model,
		topK:        opts.TopK,
		temperature: opts.Temperature,
		batchSize:   opts.BatchSize,
		pool:        pool,
		logger:      opts.Logger,
	}, nil
}

// TopK returns the retrieval depth given to every pipeline.
func (b *Builder) TopK() int {
	return b.topK
}

// Build embeds chunks, indexes them and binds the index to the answer chain.
func (b *Builder) Build(ctx context.Context, chunks []models.Chunk) (*Pipeline, error) {
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}
	vectors, err := b.embed(ctx, chunks)
	if err != nil {
		return nil, err
	}

	index, err := vector.NewMemoryIndex(len(vectors[0]))
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	if err := index.Add(ctx, ids, vectors); err != nil {
		return nil, fmt.Errorf("index chunks: %w", err)
	}

	retriever := NewRetriever(index, b.embedder, chunks, b.topK)
	return newPipeline(b.model, retriever, b.topK, len(chunks), b.temperature), nil
}

// embed runs one pool task per batch. The first failure cancels the remaining batches.
func (b *Builder) embed(ctx context.Context, chunks []models.Chunk) ([][]float32, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	vectors := make([][]float32, len(chunks))
	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for start := 0; start < len(chunks); start += b.batchSize {
		end := min(start+b.batchSize, len(chunks))
		texts := make([]string, end-start)
		for i := range texts {
			texts[i] = chunks[start+i].Content
		}
		wg.Add(1)
		err := b.pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			vs, err := b.embedder.EmbedBatch(ctx, texts)
			if err != nil {
				fail(fmt.Errorf("embed chunks %d-%d: %w", start, end-1, err))
				return
			}
			if len(vs) != len(texts) {
				fail(fmt.Errorf("embed chunks %d-%d: got %d vectors", start, end-1, len(vs)))
				return
			}
			copy(vectors[start:end], vs)
		})
		if err != nil {
			wg.Done()
			fail(fmt.Errorf("submit embedding batch: %w", err))
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	// A cancellation from the caller leaves holes in vectors.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.logger.Debug("embedded chunks", zap.Int("chunks", len(chunks)), zap.Int("batch_size", b.batchSize))
	return vectors, nil
}

// Close releases the embedding pool.
func (b *Builder) Close() {
	b.pool.Release()
}
