// Package ingest turns uploaded PDFs into registered sessions.
package ingest

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/hyperjump/kiku/internal/extract"
	"github.com/hyperjump/kiku/internal/models"
)

// Chunker splits page text into overlapping, character-bounded chunks using
// recursive separators (paragraph, line, word, character).
type Chunker struct {
	splitter textsplitter.RecursiveCharacter
}

// NewChunker creates a chunker with the given size and overlap, in characters.
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	return &Chunker{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
			textsplitter.WithSeparators([]string{"\n\n", "\n", " ", ""}),
		),
	}
}

// Chunk splits every page and numbers the chunks in document order. Chunk IDs are
// "<sessionID>_<index>", so the same input always yields the same chunks.
// Chunks never span pages.
func (c *Chunker) Chunk(sessionID string, pages []extract.Page) ([]models.Chunk, error) {
	chunks := make([]models.Chunk, 0)
	for _, page := range pages {
		text := Preprocess(page.Text)
		if text == "" {
			continue
		}
		parts, err := c.splitter.SplitText(text)
		if err != nil {
			return nil, fmt.Errorf("split page %d: %w", page.Number, err)
		}
		from := 0
		for _, part := range parts {
			if strings.TrimSpace(part) == "" {
				continue
			}
			offset := -1
			if i := strings.Index(text[from:], part); i >= 0 {
				offset = from + i
				from = offset + 1
			}
			index := len(chunks)
			chunks = append(chunks, models.Chunk{
				ID:        fmt.Sprintf("%s_%d", sessionID, index),
				SessionID: sessionID,
				Content:   part,
				Index:     index,
				Page:      page.Number,
				Offset:    offset,
			})
		}
	}
	return chunks, nil
}
