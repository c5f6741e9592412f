package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/kiku/internal/apperr"
	"github.com/hyperjump/kiku/internal/models"
	"github.com/hyperjump/kiku/internal/storage"
)

// uploadFormField is the multipart field carrying the PDF.
const uploadFormField = "file"

// multipartOverhead is allowed on top of the file limit for boundaries and headers.
const multipartOverhead = 1 << 20

// maxAskBodyBytes caps the JSON body of an ask request.
const maxAskBodyBytes = 1 << 20

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"message": "RAG API is running"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.Ingest.MaxUploadBytes
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	}
	mr, err := r.MultipartReader()
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "expected multipart/form-data with a file field")
		return
	}
	part, err := nextFilePart(mr)
	if err != nil {
		s.handleError(w, err)
		return
	}
	defer part.Close()

	var body io.Reader = part
	if limit > 0 {
		body = http.MaxBytesReader(w, part, limit)
	}
	s.logger.Debug("upload request", zap.String("filename", part.FileName()))
	resp, err := s.uploader.Ingest(r.Context(), part.FileName(), body)
	if err != nil {
		s.handleError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// nextFilePart advances mr to the upload field.
func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, apperr.Validation("file is required")
		}
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, apperr.Validation("request body too large")
			}
			return nil, apperr.Validation("malformed multipart body")
		}
		if part.FormName() == uploadFormField {
			return part, nil
		}
		part.Close()
	}
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAskBodyBytes)
	var req models.AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusBadRequest, "request body too large")
			return
		}
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("ask request", zap.String("session_id", req.SessionID), zap.Int("question_len", len(req.Question)))
	resp, err := s.asker.Ask(r.Context(), &req)
	if err != nil {
		s.handleError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ids := s.registry.List()
	if ids == nil {
		ids = []string{}
	}
	s.respondJSON(w, http.StatusOK, models.SessionsResponse{Sessions: ids})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Lookup(chi.URLParam(r, "id"))
	if err != nil {
		s.handleError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, sess.Info())
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		s.respondError(w, http.StatusNotImplemented, "session ledger not enabled")
		return
	}
	id := chi.URLParam(r, "id")
	events, err := s.ledger.History(r.Context(), id)
	if err != nil {
		s.logger.Error("history failed", zap.String("session_id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(events) == 0 {
		s.respondError(w, http.StatusNotFound, "no history for session "+id)
		return
	}
	s.respondJSON(w, http.StatusOK, models.HistoryResponse{SessionID: id, Events: events})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg
	resp := models.StatusResponse{
		Sessions: s.registry.Len(),
		Config: models.StatusConfig{
			ChunkSize:           cfg.Ingest.ChunkSize,
			ChunkOverlap:        cfg.Ingest.ChunkOverlap,
			TopK:                cfg.LLM.TopK,
			SessionIDs:          cfg.Ingest.SessionIDs,
			LLMProvider:         cfg.LLM.Provider,
			LLMModel:            cfg.LLM.Model,
			EmbeddingProvider:   cfg.Embedding.Provider,
			EmbeddingDimensions: cfg.Embedding.Dimensions,
			InboxDirectory:      cfg.Inbox.Directory,
		},
	}
	if s.ledger != nil {
		n, err := s.ledger.CountEvents(r.Context())
		if err != nil {
			s.logger.Error("status: count events failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp.LedgerEvents = n
		resp.Config.DatabasePath = cfg.Storage.DatabasePath
		if bytes, err := storage.DiskUsageBytes(storage.LedgerFiles(cfg.Storage.DatabasePath)...); err == nil {
			resp.DiskUsageBytes = bytes
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// handleError maps an error kind to its HTTP status.
func (s *Server) handleError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func statusFor(err error) int {
	if apperr.IsTimeout(err) {
		return http.StatusGatewayTimeout
	}
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindIngestion:
		return http.StatusUnprocessableEntity
	case apperr.KindGeneration:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
