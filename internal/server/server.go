// Package server provides the HTTP API for Kiku.
package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hyperjump/kiku/internal/config"
	"github.com/hyperjump/kiku/internal/metrics"
	"github.com/hyperjump/kiku/internal/models"
	"github.com/hyperjump/kiku/internal/session"
	"github.com/hyperjump/kiku/internal/storage"
	"github.com/hyperjump/kiku/pkg/utils"
)

// Uploader ingests an uploaded PDF. *ingest.Ingester satisfies it.
type Uploader interface {
	Ingest(ctx context.Context, filename string, r io.Reader) (*models.UploadResponse, error)
}

// Asker answers a question against a session. *qa.Engine satisfies it.
type Asker interface {
	Ask(ctx context.Context, req *models.AskRequest) (*models.AskResponse, error)
}

// Options are the dependencies of a Server. Ledger and Metrics may be nil.
type Options struct {
	Config   *config.Config
	Uploader Uploader
	Asker    Asker
	Registry *session.Registry
	Ledger   storage.Ledger
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// Server is the HTTP server for the Kiku API.
type Server struct {
	cfg      *config.Config
	uploader Uploader
	asker    Asker
	registry *session.Registry
	ledger   storage.Ledger
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu     sync.Mutex
	server *http.Server

	// baseCtx parents every request context. Stop cancels it once the grace period runs out.
	baseCtx    context.Context
	cancelBase context.CancelFunc
	inflight   sync.WaitGroup
	drain      time.Duration
}

// defaultDrain bounds how long Stop waits for cancelled handlers to return.
const defaultDrain = 30 * time.Second

// NewServer creates a server with the given dependencies.
func NewServer(opts Options) *Server {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Server{
		baseCtx:    baseCtx,
		cancelBase: cancel,
		drain:      defaultDrain,
		cfg:        cfg,
		uploader:   opts.Uploader,
		asker:      opts.Asker,
		registry:   opts.Registry,
		ledger:     opts.Ledger,
		metrics:    opts.Metrics,
		logger:     utils.Named(opts.Logger, "server"),
	}
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.track)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger))
	if s.cfg.Server.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Post("/upload", s.handleUpload)
	r.Post("/ask", s.handleAsk)
	r.Get("/sessions", s.handleListSessions)
	r.Get("/sessions/{id}", s.handleGetSession)
	r.Get("/sessions/{id}/history", s.handleSessionHistory)
	r.Get("/status", s.handleStatus)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	return r
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
}

// Start listens on the configured address and blocks until the server stops.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Serve accepts connections on l and blocks until the server stops.
func (s *Server) Serve(l net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.baseCtx },
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()
	s.logger.Info("Starting server", zap.String("addr", l.Addr().String()))
	return srv.Serve(l)
}

// Stop gracefully shuts down the server. When ctx expires before the in-flight
// requests finish, their contexts are cancelled and Stop waits for the handlers
// to return.
func (s *Server) Stop(ctx context.Context) error {
	defer s.cancelBase()
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	if err == nil {
		return nil
	}
	s.logger.Warn("grace period expired, cancelling in-flight requests", zap.Error(err))
	s.cancelBase()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.drain):
		s.logger.Error("handlers still running after drain timeout", zap.Duration("drain", s.drain))
	}
	return err
}

// track counts running handlers for Stop.
func (s *Server) track(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.inflight.Add(1)
		defer s.inflight.Done()
		next.ServeHTTP(w, r)
	})
}
