package ingest

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kiku/internal/apperr"
	"github.com/hyperjump/kiku/internal/config"
	"github.com/hyperjump/kiku/internal/extract"
	"github.com/hyperjump/kiku/internal/metrics"
	"github.com/hyperjump/kiku/internal/models"
	"github.com/hyperjump/kiku/internal/rag"
	"github.com/hyperjump/kiku/internal/session"
	"github.com/hyperjump/kiku/internal/sessionid"
	"github.com/hyperjump/kiku/internal/storage"
)

// SuccessMessage is the message of every successful upload response.
const SuccessMessage = "PDF processed successfully"

// TempPattern names the spool files uploads are written to while they are processed.
const TempPattern = "kiku-upload-*.pdf"

// PageExtractor returns the text of each page of the PDF at path.
type PageExtractor interface {
	Extract(path string) ([]extract.Page, error)
}

// PipelineBuilder builds a retrieval pipeline over chunks.
type PipelineBuilder interface {
	Build(ctx context.Context, chunks []models.Chunk) (*rag.Pipeline, error)
}

// Ingester validates uploads, builds their pipelines and registers them as sessions.
type Ingester struct {
	cfg       config.IngestConfig
	extractor PageExtractor
	chunker   *Chunker
	builder   PipelineBuilder
	registry  *session.Registry
	ledger    storage.Ledger   // optional
	metrics   *metrics.Metrics // optional
	logger    *zap.Logger
}

// Option configures an Ingester.
type Option func(*Ingester)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(in *Ingester) { in.logger = l }
}

// WithLedger records every registration in l.
func WithLedger(l storage.Ledger) Option {
	return func(in *Ingester) { in.ledger = l }
}

// WithMetrics records upload outcomes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(in *Ingester) { in.metrics = m }
}

// WithExtractor replaces the PDF extractor.
func WithExtractor(e PageExtractor) Option {
	return func(in *Ingester) { in.extractor = e }
}

// NewIngester creates an ingester that registers sessions in registry.
func NewIngester(cfg config.IngestConfig, builder PipelineBuilder, registry *session.Registry, opts ...Option) *Ingester {
	in := &Ingester{
		cfg:       cfg,
		extractor: extract.NewExtractor(),
		chunker:   NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		builder:   builder,
		registry:  registry,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Ingest processes one uploaded PDF: validate, spool to a temp file, extract,
// chunk, build the pipeline, then register it. Nothing is registered unless every
// step succeeds and ctx is still live. Re-uploading an id replaces its session.
func (in *Ingester) Ingest(ctx context.Context, filename string, r io.Reader) (resp *models.UploadResponse, err error) {
	start := time.Now()
	defer func() {
		switch {
		case err == nil && resp.Replaced:
			in.metrics.ObserveUpload(metrics.ResultReplaced, resp.ChunksCreated, time.Since(start))
		case err == nil:
			in.metrics.ObserveUpload(metrics.ResultOK, resp.ChunksCreated, time.Since(start))
		case apperr.IsValidation(err):
			in.metrics.ObserveUpload(metrics.ResultInvalid, 0, 0)
		default:
			in.metrics.ObserveUpload(metrics.ResultError, 0, 0)
		}
	}()

	if in.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, in.cfg.Timeout)
		defer cancel()
	}

	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return nil, apperr.Validation("Only PDF files are supported")
	}
	if _, err := sessionid.FromFilename(filename); err != nil {
		return nil, apperr.Validation("Filename is required")
	}

	br := bufio.NewReader(r)
	header, _ := br.Peek(len("%PDF-"))
	if !extract.IsPDF(header) {
		return nil, apperr.Validation("File is not a valid PDF")
	}

	tmpPath, hash, err := in.spool(br)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rmErr := os.Remove(tmpPath); rmErr != nil && !os.IsNotExist(rmErr) {
			in.logger.Warn("failed to remove temp file", zap.String("path", tmpPath), zap.Error(rmErr))
		}
	}()

	id, err := sessionid.Derive(in.cfg.SessionIDs, filename, hash)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}
	logger := in.logger.With(zap.String("session_id", id), zap.String("filename", filename))

	pages, err := in.extractor.Extract(tmpPath)
	if err != nil {
		return nil, apperr.Ingestion("failed to extract text from PDF", err)
	}
	chunks, err := in.chunker.Chunk(id, pages)
	if err != nil {
		return nil, apperr.Ingestion("failed to chunk document", err)
	}
	if len(chunks) == 0 {
		return nil, apperr.Ingestion("no extractable text found in PDF", nil)
	}
	logger.Debug("document chunked", zap.Int("pages", len(pages)), zap.Int("chunks", len(chunks)))

	pipeline, err := in.builder.Build(ctx, chunks)
	if err != nil {
		return nil, apperr.Ingestion("failed to build retrieval pipeline", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, apperr.Ingestion("upload canceled before registration", err)
	}

	sess := &session.Session{
		ID:          id,
		Filename:    filepath.Base(filename),
		Pipeline:    pipeline,
		ChunkCount:  len(chunks),
		ContentHash: hash,
		CreatedAt:   time.Now().UTC(),
	}
	prev := in.registry.Register(sess)
	in.metrics.SetSessions(in.registry.Len())

	event := models.SessionCreated
	if prev != nil {
		event = models.SessionReplaced
		logger.Info("session replaced",
			zap.String("previous_hash", prev.ContentHash), zap.String("content_hash", hash))
	}
	logger.Info("document ingested", zap.Int("chunks", len(chunks)), zap.Duration("took", time.Since(start)))
	in.record(ctx, sess, event)

	return &models.UploadResponse{
		Message:       SuccessMessage,
		SessionID:     id,
		ChunksCreated: len(chunks),
		Replaced:      prev != nil,
	}, nil
}

// IngestFile ingests the PDF at path under its base name.
func (in *Ingester) IngestFile(ctx context.Context, path string) (*models.UploadResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return in.Ingest(ctx, filepath.Base(path), f)
}

// spool copies r into a temp file and returns its path and sha256.
func (in *Ingester) spool(r io.Reader) (string, string, error) {
	tmp, err := os.CreateTemp(in.cfg.TempDir, TempPattern)
	if err != nil {
		return "", "", fmt.Errorf("create temp file: %w", err)
	}
	h := sha256.New()
	_, copyErr := io.Copy(io.MultiWriter(tmp, h), r)
	closeErr := tmp.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = os.Remove(tmp.Name())
		var tooLarge *http.MaxBytesError
		if errors.As(copyErr, &tooLarge) {
			return "", "", apperr.Validation(fmt.Sprintf("File exceeds the %d byte upload limit", tooLarge.Limit))
		}
		return "", "", apperr.Ingestion("failed to read upload", copyErr)
	}
	return tmp.Name(), hex.EncodeToString(h.Sum(nil)), nil
}

// SweepTempFiles removes spool files left in dir by a process that died
// mid-upload. An empty dir means the system temp directory.
func SweepTempFiles(dir string, logger *zap.Logger) (int, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	matches, err := filepath.Glob(filepath.Join(dir, TempPattern))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, path := range matches {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn("failed to remove stale temp file", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		logger.Info("removed stale upload temp files", zap.String("dir", dir), zap.Int("count", removed))
	}
	return removed, nil
}

// record writes the registration to the ledger. Failures are logged, never returned.
func (in *Ingester) record(ctx context.Context, s *session.Session, event models.SessionEventType) {
	if in.ledger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err := in.ledger.RecordRegistration(ctx, &models.SessionEvent{
		SessionID:   s.ID,
		Event:       event,
		Filename:    s.Filename,
		ChunkCount:  s.ChunkCount,
		ContentHash: s.ContentHash,
		CreatedAt:   s.CreatedAt,
	})
	if err != nil {
		in.logger.Warn("failed to record session event", zap.String("session_id", s.ID), zap.Error(err))
	}
}
