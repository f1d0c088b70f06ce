// Package config provides configuration loading and structs for the EDA services.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Relay     RelayConfig     `yaml:"relay"`
	Storage   StorageConfig   `yaml:"storage"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Chat      ChatConfig      `yaml:"chat"`
}

// ServerConfig holds HTTP settings for the engine server.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// RelayConfig holds HTTP settings for the gateway-facing relay and the
// engine endpoint it forwards to.
type RelayConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	EngineURL string `yaml:"engine_url"`
}

// StorageConfig holds paths for the document database and the vector index file.
type StorageConfig struct {
	DatabasePath    string `yaml:"database_path"`
	VectorIndexPath string `yaml:"vector_index_path"`
	SessionDBPath   string `yaml:"session_db_path"`
}

// LLMConfig holds settings for the generation capability.
type LLMConfig struct {
	BaseURL        string  `yaml:"base_url"`
	APIKeyEnv      string  `yaml:"api_key_env"`
	Model          string  `yaml:"model"`
	Temperature    float64 `yaml:"temperature"`
	TopP           float64 `yaml:"top_p"`
	MaxTokens      int     `yaml:"max_tokens"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// Timeout returns the generation request timeout.
func (c *LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// EmbeddingConfig holds settings for the embedding capability.
type EmbeddingConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKeyEnv      string `yaml:"api_key_env"`
	Model          string `yaml:"model"`
	Dimensions     int    `yaml:"dimensions"`
	CacheSize      int    `yaml:"cache_size"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the embedding request timeout.
func (c *EmbeddingConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// IngestConfig holds chunking and batching settings for the ingestion pipeline.
type IngestConfig struct {
	ChunkSize    int  `yaml:"chunk_size"`
	ChunkOverlap int  `yaml:"chunk_overlap"`
	BatchSize    int  `yaml:"batch_size"`
	AppendOnly   bool `yaml:"append_only"`
}

// ChatConfig holds retrieval and session settings for the conversation engine.
type ChatConfig struct {
	TopK              int    `yaml:"top_k"`
	SessionBackend    string `yaml:"session_backend"`
	SessionTTLMinutes int    `yaml:"session_ttl_minutes"`
	MaxHistoryTurns   int    `yaml:"max_history_turns"`
}

// SessionTTL returns the idle lifetime after which a session is evicted.
// Zero disables eviction.
func (c *ChatConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
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
	cfg.Storage.VectorIndexPath = expandPath(cfg.Storage.VectorIndexPath, configDir)
	if cfg.Storage.SessionDBPath != "" {
		cfg.Storage.SessionDBPath = expandPath(cfg.Storage.SessionDBPath, configDir)
	}

	return &cfg, nil
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
