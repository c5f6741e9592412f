package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// UploadResponse is returned after a document is ingested.
type UploadResponse struct {
	Message       string `json:"message"`
	SessionID     string `json:"session_id"`
	ChunksCreated int    `json:"chunks_created"`
	// Replaced is true when an existing session with the same id was overwritten.
	Replaced bool `json:"replaced"`
}

// AskRequest is a question against one session.
type AskRequest struct {
	Question       string `json:"question" validate:"required"`
	SessionID      string `json:"session_id" validate:"required"`
	IncludeSources bool   `json:"include_sources,omitempty"`
}

// Validate trims the fields and checks that both are present.
func (r *AskRequest) Validate() error {
	r.Question = strings.TrimSpace(r.Question)
	r.SessionID = strings.TrimSpace(r.SessionID)
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%s is required", jsonFieldName(verrs[0].Field()))
		}
		return err
	}
	return nil
}

func jsonFieldName(field string) string {
	switch field {
	case "Question":
		return "question"
	case "SessionID":
		return "session_id"
	default:
		return strings.ToLower(field)
	}
}

// Source is a retrieved chunk that conditioned an answer.
type Source struct {
	ChunkID string  `json:"chunk_id"`
	Page    int     `json:"page"`
	Score   float64 `json:"score"`
	Content string  `json:"content"`
}

// AskResponse is the answer to an AskRequest.
type AskResponse struct {
	Answer      string   `json:"answer"`
	SourceCount int      `json:"source_count"`
	Sources     []Source `json:"sources,omitempty"`
}

// SessionsResponse lists the registered session ids.
type SessionsResponse struct {
	Sessions []string `json:"sessions"`
}

// HistoryResponse is the ledger history of one session id.
type HistoryResponse struct {
	SessionID string          `json:"session_id"`
	Events    []*SessionEvent `json:"events"`
}

// StatusResponse reports service state and the effective configuration.
type StatusResponse struct {
	Sessions       int          `json:"sessions"`
	LedgerEvents   int64        `json:"ledger_events"`
	DiskUsageBytes int64        `json:"disk_usage_bytes"`
	Config         StatusConfig `json:"config"`
}

type StatusConfig struct {
	ChunkSize           int    `json:"chunk_size"`
	ChunkOverlap        int    `json:"chunk_overlap"`
	TopK                int    `json:"top_k"`
	SessionIDs          string `json:"session_ids"`
	LLMProvider         string `json:"llm_provider"`
	LLMModel            string `json:"llm_model"`
	EmbeddingProvider   string `json:"embedding_provider"`
	EmbeddingDimensions int    `json:"embedding_dimensions"`
	DatabasePath        string `json:"database_path,omitempty"`
	InboxDirectory      string `json:"inbox_directory,omitempty"`
}
