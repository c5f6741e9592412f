package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/kiku/internal/models"
)

func newFakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"file is required"}`))
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		if !bytes.HasPrefix(data, []byte("%PDF-")) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"File is not a valid PDF"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(models.UploadResponse{
			Message:       "PDF processed successfully",
			SessionID:     strings.TrimSuffix(hdr.Filename, ".pdf"),
			ChunksCreated: 2,
		})
	})
	mux.HandleFunc("/ask", func(w http.ResponseWriter, r *http.Request) {
		var req models.AskRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.SessionID != "lease" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"Session not found. Upload a PDF first."}`))
			return
		}
		_ = json.NewEncoder(w).Encode(models.AskResponse{Answer: "On the first day.", SourceCount: 3})
	})
	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"sessions":["a","lease"]}`))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Upload(t *testing.T) {
	srv := newFakeServer(t)
	c := NewClient(srv.URL + "/")
	dir := t.TempDir()

	path := filepath.Join(dir, "lease.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4\nbody"), 0600); err != nil {
		t.Fatal(err)
	}
	resp, err := c.Upload(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if resp.SessionID != "lease" || resp.ChunksCreated != 2 {
		t.Errorf("upload: %+v", resp)
	}

	bad := filepath.Join(dir, "bad.pdf")
	if err := os.WriteFile(bad, []byte("nope"), 0600); err != nil {
		t.Fatal(err)
	}
	_, err = c.Upload(context.Background(), bad)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest || apiErr.Message != "File is not a valid PDF" {
		t.Errorf("expected 400 APIError, got %v", err)
	}

	if _, err := c.Upload(context.Background(), filepath.Join(dir, "missing.pdf")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestClient_AskSessionsStatus(t *testing.T) {
	srv := newFakeServer(t)
	c := NewClient(srv.URL)
	ctx := context.Background()

	ans, err := c.Ask(ctx, &models.AskRequest{Question: "When is rent due?", SessionID: "lease"})
	if err != nil {
		t.Fatal(err)
	}
	if ans.Answer != "On the first day." || ans.SourceCount != 3 {
		t.Errorf("ask: %+v", ans)
	}

	_, err = c.Ask(ctx, &models.AskRequest{Question: "q", SessionID: "other"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}

	ids, err := c.Sessions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[1] != "lease" {
		t.Errorf("sessions: %v", ids)
	}

	_, err = c.Status(ctx)
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusInternalServerError || apiErr.Message != "boom" {
		t.Errorf("expected plain-text 500, got %v", err)
	}
}

func TestParseOutputFormat(t *testing.T) {
	for _, s := range []string{"text", "json"} {
		if _, err := ParseOutputFormat(s); err != nil {
			t.Errorf("ParseOutputFormat(%q): %v", s, err)
		}
	}
	if _, err := ParseOutputFormat("yaml"); err == nil {
		t.Error("expected error for yaml")
	}
}

func TestWriteAnswer(t *testing.T) {
	resp := &models.AskResponse{
		Answer:      "  Rent is due on the first day.  ",
		SourceCount: 1,
		Sources:     []models.Source{{ChunkID: "lease_0", Page: 1, Score: 0.91234, Content: strings.Repeat("x", 300)}},
	}
	var buf bytes.Buffer
	if err := WriteAnswer(&buf, resp, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Rent is due on the first day.\n", "1 source chunk(s)", "lease_0 | page 1 | score 0.9123", strings.Repeat("x", 200) + "..."} {
		if !strings.Contains(out, want) {
			t.Errorf("text output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := WriteAnswer(&buf, resp, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded models.AskResponse
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if decoded.SourceCount != 1 || len(decoded.Sources) != 1 {
		t.Errorf("decoded: %+v", decoded)
	}
}

func TestWriteUpload(t *testing.T) {
	var buf bytes.Buffer
	_ = WriteUpload(&buf, &models.UploadResponse{Message: "PDF processed successfully", SessionID: "doc", ChunksCreated: 4, Replaced: true}, OutputText)
	out := buf.String()
	if !strings.Contains(out, "doc (replaced)") || !strings.Contains(out, "chunks_created:  4") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestWriteSessions(t *testing.T) {
	var buf bytes.Buffer
	_ = WriteSessions(&buf, nil, OutputText)
	if !strings.Contains(buf.String(), "No sessions") {
		t.Errorf("empty text: %q", buf.String())
	}
	buf.Reset()
	_ = WriteSessions(&buf, nil, OutputJSON)
	if strings.TrimSpace(buf.String()) != "{\n  \"sessions\": []\n}" {
		t.Errorf("empty json: %q", buf.String())
	}
	buf.Reset()
	_ = WriteSessions(&buf, []string{"a", "b"}, OutputText)
	if buf.String() != "a\nb\n" {
		t.Errorf("list: %q", buf.String())
	}
}

func TestWriteStatus(t *testing.T) {
	st := &models.StatusResponse{
		Sessions:       2,
		LedgerEvents:   5,
		DiskUsageBytes: 4096,
		Config: models.StatusConfig{
			ChunkSize: 500, ChunkOverlap: 50, TopK: 4, SessionIDs: "filename",
			LLMProvider: "ollama", LLMModel: "llama3.2:3b",
			EmbeddingProvider: "onnx", EmbeddingDimensions: 384,
		},
	}
	var buf bytes.Buffer
	_ = WriteStatus(&buf, st, OutputText)
	out := buf.String()
	for _, want := range []string{"sessions:           2", "llm:                ollama (llama3.2:3b)", "embedding:          onnx (384 dims)"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "inbox_directory") {
		t.Error("empty inbox should be omitted")
	}
}
