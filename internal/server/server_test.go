package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kiku/internal/apperr"
	"github.com/hyperjump/kiku/internal/config"
	"github.com/hyperjump/kiku/internal/embedding"
	"github.com/hyperjump/kiku/internal/ingest"
	"github.com/hyperjump/kiku/internal/llm"
	"github.com/hyperjump/kiku/internal/metrics"
	"github.com/hyperjump/kiku/internal/models"
	"github.com/hyperjump/kiku/internal/qa"
	"github.com/hyperjump/kiku/internal/rag"
	"github.com/hyperjump/kiku/internal/session"
	"github.com/hyperjump/kiku/internal/storage"
	"github.com/hyperjump/kiku/test/fixtures"
)

type testEnv struct {
	handler  http.Handler
	registry *session.Registry
	cfg      *config.Config
}

func newTestEnv(t *testing.T, withLedger bool, mutate func(*config.Config)) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Ingest.TempDir = dir
	cfg.Storage.DatabasePath = filepath.Join(dir, "sessions.db")
	cfg.Embedding.Provider = config.EmbeddingMock
	cfg.LLM.Provider = config.LLMMock
	if mutate != nil {
		mutate(cfg)
	}

	builder, err := rag.NewBuilder(rag.BuilderOptions{
		Embedder: embedding.NewMockEmbedder(128),
		Model:    llm.NewMock(),
		TopK:     cfg.LLM.TopK,
		Workers:  2,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(builder.Close)

	var ledger storage.Ledger
	ingestOpts := []ingest.Option{ingest.WithLogger(zap.NewNop())}
	if withLedger {
		l, err := storage.NewSQLiteLedger(cfg.Storage.DatabasePath)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { l.Close() })
		ledger = l
		ingestOpts = append(ingestOpts, ingest.WithLedger(l))
	}

	m := metrics.New()
	ingestOpts = append(ingestOpts, ingest.WithMetrics(m))
	registry := session.NewRegistry()
	srv := NewServer(Options{
		Config:   cfg,
		Uploader: ingest.NewIngester(cfg.Ingest, builder, registry, ingestOpts...),
		Asker:    qa.NewEngine(registry, cfg.LLM.Timeout, m, nil),
		Registry: registry,
		Ledger:   ledger,
		Metrics:  m,
		Logger:   zap.NewNop(),
	})
	return &testEnv{handler: srv.Handler(), registry: registry, cfg: cfg}
}

func (e *testEnv) do(r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, r)
	return w
}

func uploadRequest(t *testing.T, field, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("note", "ignored"); err != nil {
		t.Fatal(err)
	}
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	r := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r
}

func askRequest(body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/ask", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, w)["error"]
}

func TestRootAndHealth(t *testing.T) {
	env := newTestEnv(t, false, nil)

	w := env.do(httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /: got %d", w.Code)
	}
	if got := decode[map[string]string](t, w)["message"]; got != "RAG API is running" {
		t.Errorf("message: got %q", got)
	}

	w = env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health: got %d", w.Code)
	}
	if got := decode[map[string]string](t, w)["status"]; got != "healthy" {
		t.Errorf("status: got %q", got)
	}
	if w.Header().Get("Content-Type") != "application/json" {
		t.Errorf("content type: %q", w.Header().Get("Content-Type"))
	}
}

func TestUploadThenAsk(t *testing.T) {
	env := newTestEnv(t, false, nil)

	w := env.do(uploadRequest(t, "file", "lease.pdf", fixtures.BuildPDF(fixtures.LeasePages...)))
	if w.Code != http.StatusOK {
		t.Fatalf("upload: got %d: %s", w.Code, w.Body.String())
	}
	up := decode[models.UploadResponse](t, w)
	if up.Message != "PDF processed successfully" || up.SessionID != "lease" || up.ChunksCreated < 1 || up.Replaced {
		t.Errorf("upload response: %+v", up)
	}

	w = env.do(askRequest(`{"question":"When is rent due?","session_id":"lease"}`))
	if w.Code != http.StatusOK {
		t.Fatalf("ask: got %d: %s", w.Code, w.Body.String())
	}
	ans := decode[models.AskResponse](t, w)
	if ans.Answer == "" {
		t.Error("answer should not be empty")
	}
	if ans.SourceCount < 1 || ans.SourceCount > env.cfg.LLM.TopK {
		t.Errorf("source_count: got %d", ans.SourceCount)
	}
	if len(ans.Sources) != 0 {
		t.Errorf("sources must be omitted unless requested: %v", ans.Sources)
	}

	w = env.do(askRequest(`{"question":"How much is the deposit?","session_id":"lease","include_sources":true}`))
	ans = decode[models.AskResponse](t, w)
	if len(ans.Sources) != ans.SourceCount {
		t.Errorf("sources: got %d, source_count %d", len(ans.Sources), ans.SourceCount)
	}
	for _, src := range ans.Sources {
		if !strings.HasPrefix(src.ChunkID, "lease_") || src.Page < 1 {
			t.Errorf("source: %+v", src)
		}
	}
}

func TestUpload_reuploadReplaces(t *testing.T) {
	env := newTestEnv(t, false, nil)
	env.do(uploadRequest(t, "file", "doc.pdf", fixtures.BuildPDF("first version")))
	w := env.do(uploadRequest(t, "file", "doc.pdf", fixtures.BuildPDF("second version")))
	if w.Code != http.StatusOK {
		t.Fatalf("got %d: %s", w.Code, w.Body.String())
	}
	if up := decode[models.UploadResponse](t, w); !up.Replaced {
		t.Error("second upload should report replaced")
	}
	if env.registry.Len() != 1 {
		t.Errorf("sessions: got %d", env.registry.Len())
	}
}

func TestUpload_rejections(t *testing.T) {
	tests := []struct {
		name     string
		field    string
		filename string
		content  []byte
		want     int
		message  string
	}{
		{"not a pdf extension", "file", "notes.txt", []byte("hello"), http.StatusBadRequest, "Only PDF files are supported"},
		{"pdf extension but not pdf", "file", "fake.pdf", []byte("hello world"), http.StatusBadRequest, "File is not a valid PDF"},
		{"missing file field", "document", "doc.pdf", fixtures.BuildPDF("x"), http.StatusBadRequest, "file is required"},
		{"no text", "file", "blank.pdf", fixtures.BuildPDF(""), http.StatusUnprocessableEntity, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, false, nil)
			w := env.do(uploadRequest(t, tt.field, tt.filename, tt.content))
			if w.Code != tt.want {
				t.Fatalf("got %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
			if msg := errorMessage(t, w); !strings.Contains(msg, tt.message) {
				t.Errorf("error: got %q, want %q", msg, tt.message)
			}
			if env.registry.Len() != 0 {
				t.Error("nothing should be registered")
			}
		})
	}
}

func TestUpload_tooLarge(t *testing.T) {
	env := newTestEnv(t, false, func(c *config.Config) { c.Ingest.MaxUploadBytes = 64 })
	w := env.do(uploadRequest(t, "file", "big.pdf", fixtures.BuildPDF(fixtures.LeasePages...)))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("got %d: %s", w.Code, w.Body.String())
	}
	if msg := errorMessage(t, w); !strings.Contains(msg, "upload limit") {
		t.Errorf("error: %q", msg)
	}
}

func TestUpload_notMultipart(t *testing.T) {
	env := newTestEnv(t, false, nil)
	r := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("%PDF-1.4"))
	r.Header.Set("Content-Type", "application/pdf")
	if w := env.do(r); w.Code != http.StatusBadRequest {
		t.Errorf("got %d", w.Code)
	}
}

func TestAsk_errors(t *testing.T) {
	env := newTestEnv(t, false, nil)
	tests := []struct {
		name    string
		body    string
		want    int
		message string
	}{
		{"unknown session", `{"question":"Anything?","session_id":"missing"}`, http.StatusNotFound, "Session not found. Upload a PDF first."},
		{"malformed json", `{"question":`, http.StatusBadRequest, "invalid request body"},
		{"missing question", `{"session_id":"doc"}`, http.StatusBadRequest, "question is required"},
		{"blank session", `{"question":"Why?","session_id":"   "}`, http.StatusBadRequest, "session_id is required"},
		{"oversized body", `{"session_id":"doc","question":"` + strings.Repeat("why ", maxAskBodyBytes/4) + `"}`, http.StatusBadRequest, "request body too large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(askRequest(tt.body))
			if w.Code != tt.want {
				t.Fatalf("got %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
			if msg := errorMessage(t, w); msg != tt.message {
				t.Errorf("error: got %q, want %q", msg, tt.message)
			}
		})
	}
}

type stubAsker struct{ err error }

func (s stubAsker) Ask(context.Context, *models.AskRequest) (*models.AskResponse, error) {
	return nil, s.err
}

func TestAsk_upstreamFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"generation", apperr.Generation("failed to generate answer", errors.New("connection refused")), http.StatusBadGateway},
		{"deadline", apperr.Generation("failed to generate answer", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(Options{Asker: stubAsker{err: tt.err}, Registry: session.NewRegistry()})
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, askRequest(`{"question":"q","session_id":"s"}`))
			if w.Code != tt.want {
				t.Errorf("got %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestSessions(t *testing.T) {
	env := newTestEnv(t, false, nil)

	w := env.do(httptest.NewRequest(http.MethodGet, "/sessions", nil))
	if got := w.Body.String(); strings.TrimSpace(got) != `{"sessions":[]}` {
		t.Errorf("empty list: got %s", got)
	}

	for _, name := range []string{"beta.pdf", "alpha.pdf"} {
		if w := env.do(uploadRequest(t, "file", name, fixtures.BuildPDF("content of "+name))); w.Code != http.StatusOK {
			t.Fatalf("upload %s: %d", name, w.Code)
		}
	}
	list := decode[models.SessionsResponse](t, env.do(httptest.NewRequest(http.MethodGet, "/sessions", nil)))
	if fmt.Sprint(list.Sessions) != "[alpha beta]" {
		t.Errorf("sessions: got %v", list.Sessions)
	}

	w = env.do(httptest.NewRequest(http.MethodGet, "/sessions/alpha", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("get session: %d", w.Code)
	}
	info := decode[models.SessionInfo](t, w)
	if info.SessionID != "alpha" || info.Filename != "alpha.pdf" || info.Chunks != 1 || info.TopK != 4 || len(info.ContentHash) != 64 {
		t.Errorf("info: %+v", info)
	}

	if w := env.do(httptest.NewRequest(http.MethodGet, "/sessions/gamma", nil)); w.Code != http.StatusNotFound {
		t.Errorf("unknown session: got %d", w.Code)
	}
}

func TestSessionHistory(t *testing.T) {
	env := newTestEnv(t, true, nil)
	env.do(uploadRequest(t, "file", "doc.pdf", fixtures.BuildPDF("v1")))
	env.do(uploadRequest(t, "file", "doc.pdf", fixtures.BuildPDF("v2")))

	w := env.do(httptest.NewRequest(http.MethodGet, "/sessions/doc/history", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("got %d: %s", w.Code, w.Body.String())
	}
	h := decode[models.HistoryResponse](t, w)
	if len(h.Events) != 2 || h.Events[0].Event != models.SessionCreated || h.Events[1].Event != models.SessionReplaced {
		t.Errorf("history: %+v", h.Events)
	}

	if w := env.do(httptest.NewRequest(http.MethodGet, "/sessions/none/history", nil)); w.Code != http.StatusNotFound {
		t.Errorf("unknown history: got %d", w.Code)
	}
}

func TestSessionHistory_ledgerDisabled(t *testing.T) {
	env := newTestEnv(t, false, nil)
	if w := env.do(httptest.NewRequest(http.MethodGet, "/sessions/doc/history", nil)); w.Code != http.StatusNotImplemented {
		t.Errorf("got %d, want 501", w.Code)
	}
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t, true, nil)
	env.do(uploadRequest(t, "file", "doc.pdf", fixtures.BuildPDF("some text")))

	w := env.do(httptest.NewRequest(http.MethodGet, "/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("got %d", w.Code)
	}
	st := decode[models.StatusResponse](t, w)
	if st.Sessions != 1 || st.LedgerEvents != 1 {
		t.Errorf("status: %+v", st)
	}
	if st.DiskUsageBytes <= 0 {
		t.Errorf("disk usage should be positive: %d", st.DiskUsageBytes)
	}
	if st.Config.ChunkSize != 500 || st.Config.ChunkOverlap != 50 || st.Config.LLMProvider != config.LLMMock {
		t.Errorf("config: %+v", st.Config)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, false, nil)
	env.do(uploadRequest(t, "file", "doc.pdf", fixtures.BuildPDF("some text")))
	env.do(askRequest(`{"question":"What?","session_id":"nope"}`))

	w := env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("got %d", w.Code)
	}
	body, _ := io.ReadAll(w.Body)
	for _, want := range []string{
		`kiku_uploads_total{result="ok"} 1`,
		`kiku_asks_total{result="not_found"} 1`,
		`kiku_sessions 1`,
	} {
		if !bytes.Contains(body, []byte(want)) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, false, func(c *config.Config) { c.Server.AllowedOrigins = []string{"http://localhost:3000"} })
	r := httptest.NewRequest(http.MethodOptions, "/ask", nil)
	r.Header.Set("Origin", "http://localhost:3000")
	r.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := env.do(r)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("allow origin: got %q", got)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperr.Validation("bad"), http.StatusBadRequest},
		{apperr.ErrSessionNotFound, http.StatusNotFound},
		{apperr.Ingestion("extract", errors.New("x")), http.StatusUnprocessableEntity},
		{apperr.Ingestion("build", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{apperr.Generation("llm", errors.New("x")), http.StatusBadGateway},
		{fmt.Errorf("wrapped: %w", apperr.Validation("bad")), http.StatusBadRequest},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestStop_cancelsInFlightUploadAndRemovesTempFile(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Ingest.TempDir = dir
	cfg.Server.RequestTimeout = 0

	emb := embedding.NewMockEmbedder(128)
	reached := make(chan struct{})
	var once sync.Once
	emb.EmbedBatchFunc = func(ctx context.Context, _ []string) ([][]float32, error) {
		once.Do(func() { close(reached) })
		<-ctx.Done()
		return nil, ctx.Err()
	}
	builder, err := rag.NewBuilder(rag.BuilderOptions{Embedder: emb, Model: llm.NewMock(), TopK: 4, Workers: 2})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(builder.Close)

	registry := session.NewRegistry()
	m := metrics.New()
	srv := NewServer(Options{
		Config:   cfg,
		Uploader: ingest.NewIngester(cfg.Ingest, builder, registry, ingest.WithLogger(zap.NewNop())),
		Asker:    qa.NewEngine(registry, cfg.LLM.Timeout, m, nil),
		Registry: registry,
		Metrics:  m,
		Logger:   zap.NewNop(),
	})

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	served := make(chan error, 1)
	go func() { served <- srv.Serve(l) }()

	r := uploadRequest(t, "file", "lease.pdf", fixtures.BuildPDF(fixtures.LeasePages...))
	req, err := http.NewRequest(http.MethodPost, "http://"+l.Addr().String()+"/upload", r.Body)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", r.Header.Get("Content-Type"))
	go func() {
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
		}
	}()

	select {
	case <-reached:
	case <-time.After(5 * time.Second):
		t.Fatal("upload never reached the embedding stage")
	}
	if matches, _ := filepath.Glob(filepath.Join(dir, ingest.TempPattern)); len(matches) != 1 {
		t.Fatalf("spooled files during upload: got %v", matches)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if err := srv.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stop: got %v, want deadline exceeded", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("temp dir after Stop: got %d entries, want 0", len(entries))
	}
	if registry.Len() != 0 {
		t.Errorf("cancelled upload registered %d sessions", registry.Len())
	}
	if err := <-served; !errors.Is(err, http.ErrServerClosed) {
		t.Errorf("Serve: got %v, want ErrServerClosed", err)
	}
}

func TestStop_beforeServe(t *testing.T) {
	srv := NewServer(Options{Metrics: metrics.New(), Logger: zap.NewNop()})
	if err := srv.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
