package config

import "time"

const defaultTemperature = 0.2

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 10 * time.Minute
	}
	if cfg.Server.AllowedOrigins == nil {
		cfg.Server.AllowedOrigins = []string{"*"}
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/kiku/data/sessions.db"
	}
	if cfg.Ingest.ChunkSize == 0 {
		cfg.Ingest.ChunkSize = 500
	}
	if cfg.Ingest.ChunkOverlap == 0 {
		cfg.Ingest.ChunkOverlap = 50
	}
	if cfg.Ingest.MaxUploadBytes == 0 {
		cfg.Ingest.MaxUploadBytes = 32 << 20
	}
	if cfg.Ingest.Timeout == 0 {
		cfg.Ingest.Timeout = 5 * time.Minute
	}
	if cfg.Ingest.SessionIDs == "" {
		cfg.Ingest.SessionIDs = SessionIDFilename
	}
	if cfg.Ingest.EmbedWorkers == 0 {
		cfg.Ingest.EmbedWorkers = 4
	}
	if cfg.Ingest.EmbedBatchSize == 0 {
		cfg.Ingest.EmbedBatchSize = 32
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = EmbeddingONNX
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/kiku/data/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.OllamaURL == "" {
		cfg.Embedding.OllamaURL = "http://localhost:11434"
	}
	if cfg.Embedding.OllamaModel == "" {
		cfg.Embedding.OllamaModel = "all-minilm"
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = LLMOllama
	}
	if cfg.LLM.ServerURL == "" {
		cfg.LLM.ServerURL = "http://localhost:11434"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "llama3.2:3b"
	}
	if cfg.LLM.TopK == 0 {
		cfg.LLM.TopK = 4
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 2 * time.Minute
	}
	if cfg.Inbox.Debounce == 0 {
		cfg.Inbox.Debounce = 400 * time.Millisecond
	}
}
