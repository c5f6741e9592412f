// Package rag builds and runs per-document retrieval pipelines: a vector index
// over one document's chunks bound to an answer-generating chain.
package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/chains"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"

	"github.com/hyperjump/kiku/internal/models"
)

// Answer is a generated answer with the chunks it was generated from.
type Answer struct {
	Text    string
	Sources []models.Source
}

// Pipeline answers questions about one document. It is immutable after Build and
// safe for concurrent use.
type Pipeline struct {
	chain       chains.RetrievalQA
	topK        int
	chunkCount  int
	temperature float64
}

func newPipeline(model llms.Model, retriever schema.Retriever, topK, chunkCount int, temperature float64) *Pipeline {
	qa := chains.NewRetrievalQA(
		chains.NewStuffDocuments(chains.NewLLMChain(model, answerPrompt())),
		retriever,
	)
	qa.ReturnSourceDocuments = true
	return &Pipeline{chain: qa, topK: topK, chunkCount: chunkCount, temperature: temperature}
}

// TopK returns the number of chunks retrieved per question.
func (p *Pipeline) TopK() int {
	return p.topK
}

// ChunkCount returns the number of chunks in the index.
func (p *Pipeline) ChunkCount() int {
	return p.chunkCount
}

// Ask retrieves the top-k chunks for question and generates an answer from them.
func (p *Pipeline) Ask(ctx context.Context, question string) (*Answer, error) {
	out, err := chains.Call(ctx, p.chain, map[string]any{"query": question},
		chains.WithTemperature(p.temperature))
	if err != nil {
		return nil, err
	}
	text, ok := out["text"].(string)
	if !ok {
		return nil, fmt.Errorf("chain returned %T for text", out["text"])
	}
	docs, _ := out["source_documents"].([]schema.Document)
	sources := make([]models.Source, 0, len(docs))
	for _, d := range docs {
		s := models.Source{Score: float64(d.Score), Content: d.PageContent}
		s.ChunkID, _ = d.Metadata[MetaChunkID].(string)
		s.Page, _ = d.Metadata[MetaPage].(int)
		sources = append(sources, s)
	}
	return &Answer{Text: strings.TrimSpace(text), Sources: sources}, nil
}
