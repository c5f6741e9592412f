// Package models defines core data structures for chunks, sessions, and API payloads.
package models

// Chunk is a contiguous text span of an uploaded document.
type Chunk struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
	// Index is the chunk's position in document order.
	Index int `json:"index"`
	// Page is the 1-based source page.
	Page int `json:"page"`
	// Offset is the byte offset of Content within its page text, or -1 when unknown.
	Offset int `json:"offset"`
}
