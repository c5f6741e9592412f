package embedding

import (
	"go.uber.org/zap"

	"github.com/hyperjump/kiku/internal/config"
)

// New builds the embedder selected by cfg.Provider. An ONNX embedder that cannot load
// (no CGO, missing runtime or model) falls back to the mock embedder with a warning.
func New(cfg config.EmbeddingConfig, batchSize int, logger *zap.Logger) (Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Provider {
	case config.EmbeddingMock:
		return NewMockEmbedder(cfg.Dimensions), nil
	case config.EmbeddingOllama:
		e, err := NewOllamaEmbedder(cfg.OllamaURL, cfg.OllamaModel, cfg.Dimensions, batchSize)
		if err != nil {
			return nil, err
		}
		logger.Info("using ollama embedder", zap.String("url", cfg.OllamaURL), zap.String("model", cfg.OllamaModel))
		return e, nil
	default:
		e, err := NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens, cfg.CacheSize)
		if err != nil {
			logger.Warn("ONNX embedder unavailable, using mock embedder",
				zap.String("model_path", cfg.ModelPath), zap.Error(err))
			return NewMockEmbedder(cfg.Dimensions), nil
		}
		logger.Info("using ONNX embedder", zap.String("model_path", cfg.ModelPath), zap.Int("dimensions", cfg.Dimensions))
		return e, nil
	}
}
