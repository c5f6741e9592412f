// Package cli provides the HTTP client and output formatting for the kiku command.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/kiku/internal/models"
	"github.com/hyperjump/kiku/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, OutputJSON:
		return OutputFormat(s), nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

// sourcePreviewLen bounds each source excerpt in text output.
const sourcePreviewLen = 200

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteAnswer writes an answer and, when present, its sources.
func WriteAnswer(w io.Writer, resp *models.AskResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	fmt.Fprintf(w, "%s\n", strings.TrimSpace(resp.Answer))
	fmt.Fprintf(w, "\n(%d source chunk(s) retrieved)\n", resp.SourceCount)
	for i, src := range resp.Sources {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "[%d] %s | page %d | score %.4f\n", i+1, src.ChunkID, src.Page, src.Score)
		fmt.Fprintf(w, "%s\n", utils.Truncate(src.Content, sourcePreviewLen))
	}
	return nil
}

// WriteUpload writes the result of an upload.
func WriteUpload(w io.Writer, resp *models.UploadResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	verb := "created"
	if resp.Replaced {
		verb = "replaced"
	}
	fmt.Fprintf(w, "%s\n", resp.Message)
	fmt.Fprintf(w, "session_id:      %s (%s)\n", resp.SessionID, verb)
	fmt.Fprintf(w, "chunks_created:  %d\n", resp.ChunksCreated)
	return nil
}

// WriteSessions writes session ids, one per line.
func WriteSessions(w io.Writer, ids []string, format OutputFormat) error {
	if format == OutputJSON {
		if ids == nil {
			ids = []string{}
		}
		return writeJSON(w, models.SessionsResponse{Sessions: ids})
	}
	if len(ids) == 0 {
		fmt.Fprintln(w, "No sessions. Upload a PDF first.")
		return nil
	}
	for _, id := range ids {
		fmt.Fprintln(w, id)
	}
	return nil
}

// WriteStatus writes server status.
func WriteStatus(w io.Writer, st *models.StatusResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	fmt.Fprintf(w, "sessions:           %d   # registered sessions (in memory)\n", st.Sessions)
	fmt.Fprintf(w, "ledger_events:      %d   # recorded registrations\n", st.LedgerEvents)
	fmt.Fprintf(w, "disk_usage_bytes:   %d   # session ledger on disk\n", st.DiskUsageBytes)
	c := st.Config
	fmt.Fprintln(w)
	fmt.Fprintln(w, "# configuration")
	fmt.Fprintf(w, "chunk_size:         %d\n", c.ChunkSize)
	fmt.Fprintf(w, "chunk_overlap:      %d\n", c.ChunkOverlap)
	fmt.Fprintf(w, "top_k:              %d\n", c.TopK)
	fmt.Fprintf(w, "session_ids:        %s\n", c.SessionIDs)
	fmt.Fprintf(w, "llm:                %s (%s)\n", c.LLMProvider, c.LLMModel)
	fmt.Fprintf(w, "embedding:          %s (%d dims)\n", c.EmbeddingProvider, c.EmbeddingDimensions)
	if c.DatabasePath != "" {
		fmt.Fprintf(w, "database_path:      %s\n", c.DatabasePath)
	}
	if c.InboxDirectory != "" {
		fmt.Fprintf(w, "inbox_directory:    %s\n", c.InboxDirectory)
	}
	return nil
}
