// Package relay bridges the messaging gateway to the engine HTTP API.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/edanesia/eda/internal/config"
)

// Relay accepts gateway messages and forwards them to the engine,
// translating between the gateway and engine envelopes.
type Relay struct {
	engineURL string
	client    *http.Client
	config    *config.RelayConfig
	logger    *zap.Logger
	server    *http.Server
}

// New creates a Relay forwarding to the engine at cfg.EngineURL.
func New(cfg *config.RelayConfig, logger *zap.Logger) *Relay {
	return &Relay{
		engineURL: strings.TrimRight(cfg.EngineURL, "/"),
		client:    &http.Client{Timeout: 90 * time.Second},
		config:    cfg,
		logger:    logger,
	}
}

// Router returns the configured HTTP routes.
func (rl *Relay) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	r.Post("/get_response", rl.handleGetResponse)
	r.Get("/health", rl.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (rl *Relay) Start() error {
	addr := fmt.Sprintf("%s:%d", rl.config.Host, rl.config.Port)
	rl.server = &http.Server{
		Addr:    addr,
		Handler: rl.Router(),
	}
	rl.logger.Info("Starting relay", zap.String("addr", addr), zap.String("engine_url", rl.engineURL))
	return rl.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (rl *Relay) Stop(ctx context.Context) error {
	if rl.server != nil {
		return rl.server.Shutdown(ctx)
	}
	return nil
}

type getResponseRequest struct {
	ResponseText string `json:"response_text"`
	ID           string `json:"id"`
}

type engineRequest struct {
	ResponseText string `json:"response_text"`
	Notelp       string `json:"notelp"`
}

type engineResponse struct {
	Status        string `json:"status"`
	ProcessedText string `json:"processed_text"`
	Message       string `json:"message"`
}

// handleGetResponse forwards one gateway message to the engine. The
// gateway's id becomes the engine's notelp session key. Downstream
// failures surface as 502, never as a success envelope.
func (rl *Relay) handleGetResponse(w http.ResponseWriter, r *http.Request) {
	var req getResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rl.respondError(w, http.StatusBadRequest, "No response text or session_id provided")
		return
	}
	text := strings.TrimSpace(req.ResponseText)
	id := strings.TrimSpace(req.ID)
	if text == "" || id == "" {
		rl.respondError(w, http.StatusBadRequest, "No response text or session_id provided")
		return
	}

	payload, err := json.Marshal(engineRequest{ResponseText: text, Notelp: id})
	if err != nil {
		rl.respondError(w, http.StatusInternalServerError, "Failed to build request")
		return
	}
	httpReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost,
		rl.engineURL+"/process_text", bytes.NewReader(payload))
	if err != nil {
		rl.respondError(w, http.StatusInternalServerError, "Failed to build request")
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := rl.client.Do(httpReq)
	if err != nil {
		rl.logger.Error("engine unreachable", zap.Error(err))
		rl.respondError(w, http.StatusBadGateway, "Failed to reach processing service")
		return
	}
	defer resp.Body.Close()

	var engResp engineResponse
	if err := json.NewDecoder(resp.Body).Decode(&engResp); err != nil {
		rl.logger.Error("invalid engine response", zap.Error(err))
		rl.respondError(w, http.StatusBadGateway, "Invalid response from processing service")
		return
	}
	if resp.StatusCode != http.StatusOK {
		message := engResp.Message
		if message == "" {
			message = fmt.Sprintf("processing service returned status %d", resp.StatusCode)
		}
		rl.logger.Error("engine request failed",
			zap.Int("status", resp.StatusCode), zap.String("message", message))
		rl.respondError(w, http.StatusBadGateway, message)
		return
	}

	rl.respondJSON(w, http.StatusOK, map[string]string{
		"status":        "success",
		"response_text": engResp.ProcessedText,
	})
}

func (rl *Relay) handleHealth(w http.ResponseWriter, r *http.Request) {
	rl.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rl *Relay) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		rl.logger.Error("write response failed", zap.Error(err))
	}
}

func (rl *Relay) respondError(w http.ResponseWriter, status int, message string) {
	rl.respondJSON(w, status, map[string]string{"status": "error", "message": message})
}
