// Package qa answers questions against registered sessions.
package qa

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kiku/internal/apperr"
	"github.com/hyperjump/kiku/internal/metrics"
	"github.com/hyperjump/kiku/internal/models"
	"github.com/hyperjump/kiku/internal/session"
	"github.com/hyperjump/kiku/pkg/utils"
)

// Engine routes questions to the pipeline of the named session.
type Engine struct {
	registry *session.Registry
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewEngine creates an engine. timeout bounds each answer; zero means no bound.
// m and logger may be nil.
func NewEngine(registry *session.Registry, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Engine {
	return &Engine{
		registry: registry,
		timeout:  timeout,
		metrics:  m,
		logger:   utils.Named(logger, "qa"),
	}
}

// Ask validates req, looks up its session and generates an answer from the
// session's top-k chunks. SourceCount is the number of chunks retrieved.
func (e *Engine) Ask(ctx context.Context, req *models.AskRequest) (resp *models.AskResponse, err error) {
	start := time.Now()
	defer func() {
		switch {
		case err == nil:
			e.metrics.ObserveAsk(metrics.ResultOK, time.Since(start))
		case apperr.IsValidation(err):
			e.metrics.ObserveAsk(metrics.ResultInvalid, 0)
		case apperr.IsNotFound(err):
			e.metrics.ObserveAsk(metrics.ResultNotFound, 0)
		default:
			e.metrics.ObserveAsk(metrics.ResultError, 0)
		}
	}()

	if err := req.Validate(); err != nil {
		return nil, apperr.Validation(err.Error())
	}
	sess, err := e.registry.Lookup(req.SessionID)
	if err != nil {
		return nil, err
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	answer, err := sess.Pipeline.Ask(ctx, req.Question)
	if err != nil {
		e.logger.Warn("answer generation failed", zap.String("session_id", sess.ID), zap.Error(err))
		return nil, apperr.Generation("failed to generate answer", err)
	}

	e.logger.Debug("question answered",
		zap.String("session_id", sess.ID),
		zap.Int("sources", len(answer.Sources)),
		zap.Duration("took", time.Since(start)))

	resp = &models.AskResponse{
		Answer:      answer.Text,
		SourceCount: len(answer.Sources),
	}
	if req.IncludeSources {
		resp.Sources = answer.Sources
	}
	return resp, nil
}
