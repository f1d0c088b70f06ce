// Package server provides the engine-side HTTP API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/edanesia/eda/internal/config"
	"github.com/edanesia/eda/internal/storage"
	"github.com/edanesia/eda/internal/vector"
)

// Asker answers a question within a session. Satisfied by *engine.Engine.
type Asker interface {
	Ask(ctx context.Context, question, sessionID string) (string, error)
}

// Server is the HTTP server answering gateway requests.
type Server struct {
	engine  Asker
	storage storage.Storage
	index   *vector.Index
	config  *config.Config
	logger  *zap.Logger
	server  *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	engine Asker,
	store storage.Storage,
	index *vector.Index,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		engine:  engine,
		storage: store,
		index:   index,
		config:  cfg,
		logger:  logger,
	}
}

// Router returns the configured HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(90 * time.Second))

	r.Post("/process_text", s.handleProcessText)
	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
