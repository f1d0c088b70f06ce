// Package main is the EDA CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/edanesia/eda/internal/config"
	"github.com/edanesia/eda/internal/embedding"
	"github.com/edanesia/eda/internal/engine"
	"github.com/edanesia/eda/internal/ingest"
	"github.com/edanesia/eda/internal/llm"
	"github.com/edanesia/eda/internal/relay"
	"github.com/edanesia/eda/internal/server"
	"github.com/edanesia/eda/internal/session"
	"github.com/edanesia/eda/internal/storage"
	"github.com/edanesia/eda/internal/vector"
	"github.com/edanesia/eda/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/eda/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used instead. Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	// Local development keys live in .env; absence is fine.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "relay":
		runRelay()
	case "ingest":
		runIngest()
	case "ask":
		runAsk()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("eda version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// Components holds the wired dependencies of the conversation engine.
type Components struct {
	Storage     storage.Storage
	Embedder    embedding.Embedder
	VectorIndex *vector.Index
	Sessions    session.Store
	Generator   llm.Generator
	Engine      *engine.Engine
}

// Close releases all held resources.
func (c *Components) Close() {
	if c.Sessions != nil {
		_ = c.Sessions.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.VectorIndex != nil {
		_ = c.VectorIndex.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func newEmbedder(cfg *config.Config, logger *zap.Logger) embedding.Embedder {
	client, err := embedding.NewClient(embedding.ClientConfig{
		BaseURL:    cfg.Embedding.BaseURL,
		APIKey:     os.Getenv(cfg.Embedding.APIKeyEnv),
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		CacheSize:  cfg.Embedding.CacheSize,
		Timeout:    cfg.Embedding.Timeout(),
	})
	if err != nil {
		logger.Warn("embedding client unavailable, using deterministic fallback", zap.Error(err))
		return embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	}
	return client
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	embedder := newEmbedder(cfg, logger)

	index, err := vector.Open(cfg.Storage.VectorIndexPath, cfg.Embedding.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector index: %w", err)
	}
	logger.Info("vector index opened",
		zap.String("path", cfg.Storage.VectorIndexPath),
		zap.Int("size", index.Size()))

	var sessions session.Store
	switch cfg.Chat.SessionBackend {
	case config.SessionBackendSQLite:
		sessions, err = session.NewSQLiteStore(cfg.Storage.SessionDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize session store: %w", err)
		}
	default:
		sessions = session.NewMemoryStore(cfg.Chat.SessionTTL())
	}

	generator, err := llm.NewClient(llm.ClientConfig{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      os.Getenv(cfg.LLM.APIKeyEnv),
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		TopP:        cfg.LLM.TopP,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize generation client (is %s set?): %w", cfg.LLM.APIKeyEnv, err)
	}

	eng := engine.New(store, embedder, index, sessions, generator, engine.Options{
		TopK:            cfg.Chat.TopK,
		MaxHistoryTurns: cfg.Chat.MaxHistoryTurns,
		GenerateTimeout: cfg.LLM.Timeout(),
	}, logger)

	return &Components{
		Storage:     store,
		Embedder:    embedder,
		VectorIndex: index,
		Sessions:    sessions,
		Generator:   generator,
		Engine:      eng,
	}, nil
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode))

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	srv := server.NewServer(components.Engine, components.Storage, components.VectorIndex, cfg, logger)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	if err := components.VectorIndex.Save(cfg.Storage.VectorIndexPath); err != nil {
		logger.Warn("vector index save failed",
			zap.String("path", cfg.Storage.VectorIndexPath), zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runRelay() {
	fs := flag.NewFlagSet("relay", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug || *debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded", zap.String("config_path", resolvedConfigPath))

	rl := relay.New(&cfg.Relay, logger)
	go func() {
		if err := rl.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Relay failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = rl.Stop(ctx)
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	appendOnly := fs.Bool("append-only", false, "keep previously ingested documents from the same sources")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: eda ingest [flags] <file-or-dir> [...]")
		os.Exit(1)
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug || *debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer store.Close()

	embedder := newEmbedder(cfg, logger)
	defer embedder.Close()

	index, err := vector.Open(cfg.Storage.VectorIndexPath, cfg.Embedding.Dimensions)
	if err != nil {
		logger.Fatal("Failed to open vector index", zap.Error(err))
	}

	pipeline := ingest.NewPipeline(store, embedder, index, cfg.Storage.VectorIndexPath, ingest.Options{
		ChunkSize:    cfg.Ingest.ChunkSize,
		ChunkOverlap: cfg.Ingest.ChunkOverlap,
		BatchSize:    cfg.Ingest.BatchSize,
		AppendOnly:   cfg.Ingest.AppendOnly || *appendOnly,
	}, logger)

	report, err := pipeline.Run(context.Background(), fs.Args())
	if err != nil {
		logger.Fatal("Ingestion failed", zap.Error(err))
	}
	fmt.Printf("Ingested %d documents (%d chunks, %d indexed, %d failed) in %s\n",
		report.Documents, report.Chunks, report.Indexed, report.Failed, report.Duration.Round(time.Millisecond))
	for _, warning := range report.Warnings {
		fmt.Printf("  warning: %s\n", warning)
	}
	if report.Failed > 0 {
		os.Exit(1)
	}
}

func runAsk() {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:5002", `server URL (empty = answer directly without a running server)`)
	sessionID := fs.String("session", "", "session id (empty = one-off session)")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: eda ask [flags] <question>")
		os.Exit(1)
	}
	question := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if question == "" {
		fmt.Println("Usage: eda ask [flags] <question>")
		os.Exit(1)
	}

	if *serverURL != "" {
		answer, notelp, err := askViaHTTP(*serverURL, question, *sessionID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Ask failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(answer)
		if *sessionID == "" {
			fmt.Printf("(session: %s)\n", notelp)
		}
		return
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	id := *sessionID
	if id == "" {
		id = fmt.Sprintf("cli-%d", time.Now().UnixNano())
	}
	answer, err := components.Engine.Ask(context.Background(), question, id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ask failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(answer)
}

func askViaHTTP(serverURL, question, sessionID string) (answer, notelp string, err error) {
	payload, err := json.Marshal(map[string]string{
		"response_text": question,
		"notelp":        sessionID,
	})
	if err != nil {
		return "", "", err
	}
	client := &http.Client{Timeout: 90 * time.Second}
	resp, err := client.Post(strings.TrimRight(serverURL, "/")+"/process_text",
		"application/json", bytes.NewReader(payload))
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", err
	}
	var parsed struct {
		Status        string `json:"status"`
		ProcessedText string `json:"processed_text"`
		Notelp        string `json:"notelp"`
		Message       string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", "", fmt.Errorf("invalid server response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("server returned %d: %s", resp.StatusCode, parsed.Message)
	}
	return parsed.ProcessedText, parsed.Notelp, nil
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (for direct mode)")
	serverURL := fs.String("server", "http://localhost:5002", `server URL (empty = read storage directly)`)
	_ = fs.Parse(os.Args[2:])

	if *serverURL != "" {
		client := &http.Client{Timeout: 10 * time.Second}
		resp, err := client.Get(strings.TrimRight(*serverURL, "/") + "/status")
		if err == nil {
			defer resp.Body.Close()
			body, readErr := io.ReadAll(resp.Body)
			if readErr == nil && resp.StatusCode == http.StatusOK {
				fmt.Println(string(bytes.TrimSpace(body)))
				return
			}
		}
		// Fall through to direct storage access when the server is not running.
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		fmt.Printf("Failed to open storage: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	index, err := vector.Open(cfg.Storage.VectorIndexPath, cfg.Embedding.Dimensions)
	if err != nil {
		fmt.Printf("Failed to open vector index: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	docCount, err := store.CountDocuments(ctx)
	if err != nil {
		fmt.Printf("Failed to count documents: %v\n", err)
		os.Exit(1)
	}
	chunkCount, err := store.CountChunks(ctx)
	if err != nil {
		fmt.Printf("Failed to count chunks: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("documents: %d\nchunks: %d\nvector index size: %d\n", docCount, chunkCount, index.Size())
}

func printUsage() {
	fmt.Println(`eda - statistics assistant for BPS Provinsi Sumatera Utara data

Usage:
  eda server [flags]               Start the engine HTTP server
  eda relay [flags]                Start the gateway relay server
  eda ingest [flags] <path> [...]  Ingest tabular or document files
  eda ask [flags] <question>       Ask a one-off question
  eda status [flags]               Show storage and index status
  eda version                      Show version
  eda help                         Show this help

Server / Relay Flags:
  --config string    Config file path (default: /usr/local/etc/eda/config.yaml)
  --debug            Enable debug logging

Ingest Flags:
  --config string    Config file path
  --append-only      Keep previously ingested documents from the same sources
  --debug            Enable debug logging

Ask Flags:
  --config string    Config file path (for direct mode)
  --server string    Server URL (default: http://localhost:5002). Use --server "" to answer directly.
  --session string   Session id for follow-up questions

Status Flags:
  --config string    Config file path (for direct mode)
  --server string    Server URL (default: http://localhost:5002). Use --server "" to read storage directly.

Examples:
  eda server
  eda relay
  eda ingest data/
  eda ingest --append-only "Jumlah Penduduk.csv"
  eda ask "Berapa jumlah penduduk Kota Medan tahun 2020?"
  eda ask --session 62811111111 "Bagaimana dengan tahun 2021?"
  eda status`)
}
