// Package llm constructs the language model that writes answers from retrieved context.
package llm

import (
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/hyperjump/kiku/internal/config"
)

// New returns the model selected by cfg.Provider.
func New(cfg config.LLMConfig) (llms.Model, error) {
	switch cfg.Provider {
	case config.LLMMock:
		return NewMock(), nil
	case config.LLMOllama, "":
		model, err := ollama.New(ollama.WithServerURL(cfg.ServerURL), ollama.WithModel(cfg.Model))
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
		return model, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
