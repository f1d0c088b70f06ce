package config

// Session store backends.
const (
	SessionBackendMemory = "memory"
	SessionBackendSQLite = "sqlite"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5002
	}
	if cfg.Relay.Host == "" {
		cfg.Relay.Host = "localhost"
	}
	if cfg.Relay.Port == 0 {
		cfg.Relay.Port = 5001
	}
	if cfg.Relay.EngineURL == "" {
		cfg.Relay.EngineURL = "http://localhost:5002"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/eda/data/db/documents.db"
	}
	if cfg.Storage.VectorIndexPath == "" {
		cfg.Storage.VectorIndexPath = "/usr/local/var/eda/data/indices/vectors.idx"
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
	}
	if cfg.LLM.APIKeyEnv == "" {
		cfg.LLM.APIKeyEnv = "GOOGLE_API_KEY"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gemini-1.5-flash"
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.1
	}
	if cfg.LLM.TopP == 0 {
		cfg.LLM.TopP = 0.5
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 1000
	}
	if cfg.LLM.TimeoutSeconds == 0 {
		cfg.LLM.TimeoutSeconds = 60
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = cfg.LLM.BaseURL
	}
	if cfg.Embedding.APIKeyEnv == "" {
		cfg.Embedding.APIKeyEnv = cfg.LLM.APIKeyEnv
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-004"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 768
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.TimeoutSeconds == 0 {
		cfg.Embedding.TimeoutSeconds = 30
	}
	if cfg.Ingest.ChunkSize == 0 {
		cfg.Ingest.ChunkSize = 10000
	}
	if cfg.Ingest.ChunkOverlap == 0 {
		cfg.Ingest.ChunkOverlap = 1000
	}
	if cfg.Ingest.BatchSize == 0 {
		cfg.Ingest.BatchSize = 1000
	}
	if cfg.Chat.TopK == 0 {
		cfg.Chat.TopK = 10
	}
	if cfg.Chat.SessionBackend == "" {
		cfg.Chat.SessionBackend = SessionBackendMemory
	}
	if cfg.Chat.SessionTTLMinutes == 0 {
		cfg.Chat.SessionTTLMinutes = 60
	}
	if cfg.Chat.MaxHistoryTurns == 0 {
		cfg.Chat.MaxHistoryTurns = 20
	}
}
