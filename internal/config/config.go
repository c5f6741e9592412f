// Package config provides configuration loading and structs for the kiku server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Inbox     InboxConfig     `yaml:"inbox"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// StorageConfig holds the session ledger location. An empty path after defaults
// cannot happen; the ledger is skipped only when it fails to open.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// Session id strategies for IngestConfig.SessionIDs.
const (
	SessionIDFilename = "filename"
	SessionIDContent  = "content"
	SessionIDUUID     = "uuid"
)

// IngestConfig holds upload and chunking settings.
type IngestConfig struct {
	ChunkSize      int           `yaml:"chunk_size"`
	ChunkOverlap   int           `yaml:"chunk_overlap"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	TempDir        string        `yaml:"temp_dir"`
	Timeout        time.Duration `yaml:"timeout"`
	SessionIDs     string        `yaml:"session_ids"`
	EmbedWorkers   int           `yaml:"embed_workers"`
	EmbedBatchSize int           `yaml:"embed_batch_size"`
}

// Embedding providers.
const (
	EmbeddingONNX   = "onnx"
	EmbeddingOllama = "ollama"
	EmbeddingMock   = "mock"
)

// EmbeddingConfig holds embedder settings.
type EmbeddingConfig struct {
	Provider    string `yaml:"provider"`
	ModelPath   string `yaml:"model_path"`
	Dimensions  int    `yaml:"dimensions"`
	MaxTokens   int    `yaml:"max_tokens"`
	CacheSize   int    `yaml:"cache_size"`
	OllamaURL   string `yaml:"ollama_url"`
	OllamaModel string `yaml:"ollama_model"`
}

// LLM providers.
const (
	LLMOllama = "ollama"
	LLMMock   = "mock"
)

// LLMConfig holds answer generator settings.
type LLMConfig struct {
	Provider    string        `yaml:"provider"`
	ServerURL   string        `yaml:"server_url"`
	Model       string        `yaml:"model"`
	Temperature *float64      `yaml:"temperature"`
	TopK        int           `yaml:"top_k"`
	Timeout     time.Duration `yaml:"timeout"`
}

// TemperatureOrDefault returns the sampling temperature; defaults to 0.2 when unset.
func (l *LLMConfig) TemperatureOrDefault() float64 {
	if l.Temperature != nil {
		return *l.Temperature
	}
	return defaultTemperature
}

// InboxConfig holds the watched upload directory. Empty Directory disables the inbox.
type InboxConfig struct {
	Directory string        `yaml:"directory"`
	Debounce  time.Duration `yaml:"debounce"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	if cfg.Ingest.TempDir != "" {
		cfg.Ingest.TempDir = expandPath(cfg.Ingest.TempDir, configDir)
	}
	if cfg.Inbox.Directory != "" {
		cfg.Inbox.Directory = expandPath(cfg.Inbox.Directory, configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config with every default applied, used when no config file exists.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return &cfg
}

// Validate rejects settings that would make ingestion or retrieval misbehave.
func (c *Config) Validate() error {
	if c.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("invalid config: chunk_size (%d) must be positive", c.Ingest.ChunkSize)
	}
	if c.Ingest.ChunkOverlap < 0 {
		return fmt.Errorf("invalid config: chunk_overlap (%d) must not be negative", c.Ingest.ChunkOverlap)
	}
	if c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("invalid config: chunk_overlap (%d) must be smaller than chunk_size (%d)",
			c.Ingest.ChunkOverlap, c.Ingest.ChunkSize)
	}
	switch c.Ingest.SessionIDs {
	case SessionIDFilename, SessionIDContent, SessionIDUUID:
	default:
		return fmt.Errorf("invalid config: unknown session_ids strategy %q", c.Ingest.SessionIDs)
	}
	switch c.Embedding.Provider {
	case EmbeddingONNX, EmbeddingOllama, EmbeddingMock:
	default:
		return fmt.Errorf("invalid config: unknown embedding provider %q", c.Embedding.Provider)
	}
	switch c.LLM.Provider {
	case LLMOllama, LLMMock:
	default:
		return fmt.Errorf("invalid config: unknown llm provider %q", c.LLM.Provider)
	}
	return nil
}

// ApplyEnv overrides config values from KIKU_* environment variables.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("KIKU_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("KIKU_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("KIKU_DEBUG"); v != "" {
		if debug, err := strconv.ParseBool(v); err == nil {
			cfg.Debug = debug
		}
	}
	if v := os.Getenv("KIKU_LLM_URL"); v != "" {
		cfg.LLM.ServerURL = v
		cfg.Embedding.OllamaURL = v
	}
	if v := os.Getenv("KIKU_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("KIKU_EMBEDDING_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("KIKU_INBOX_DIR"); v != "" {
		cfg.Inbox.Directory = v
	}
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
