package models

import "time"

// SessionInfo describes a registered session for API responses.
type SessionInfo struct {
	SessionID   string    `json:"session_id"`
	Filename    string    `json:"filename"`
	Chunks      int       `json:"chunks"`
	TopK        int       `json:"top_k"`
	ContentHash string    `json:"content_hash"`
	CreatedAt   time.Time `json:"created_at"`
}

// SessionEventType is the kind of registry change recorded in the ledger.
type SessionEventType string

const (
	SessionCreated  SessionEventType = "created"
	SessionReplaced SessionEventType = "replaced"
)

// SessionEvent is one ledger row: a session id was (re)registered.
type SessionEvent struct {
	ID          int64            `json:"id"`
	SessionID   string           `json:"session_id"`
	Event       SessionEventType `json:"event"`
	Filename    string           `json:"filename"`
	ChunkCount  int              `json:"chunk_count"`
	ContentHash string           `json:"content_hash"`
	CreatedAt   time.Time        `json:"created_at"`
}
