package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type processTextRequest struct {
	ResponseText string `json:"response_text"`
	Notelp       string `json:"notelp"`
}

type processTextResponse struct {
	Status        string `json:"status"`
	ProcessedText string `json:"processed_text"`
	Notelp        string `json:"notelp"`
}

// handleProcessText answers one user message. notelp identifies the
// conversation; when absent a fresh id is generated and returned so the
// caller can continue the session.
func (s *Server) handleProcessText(w http.ResponseWriter, r *http.Request) {
	var req processTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "No response text provided")
		return
	}
	text := strings.TrimSpace(req.ResponseText)
	if text == "" {
		s.respondError(w, http.StatusBadRequest, "No response text provided")
		return
	}
	notelp := strings.TrimSpace(req.Notelp)
	if notelp == "" {
		notelp = uuid.NewString()
	}

	s.logger.Debug("process_text request", zap.String("notelp", notelp))
	answer, err := s.engine.Ask(r.Context(), text, notelp)
	if err != nil {
		s.logger.Error("ask failed", zap.String("notelp", notelp), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "Failed to process text")
		return
	}
	s.respondJSON(w, http.StatusOK, processTextResponse{
		Status:        "success",
		ProcessedText: answer,
		Notelp:        notelp,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docCount, err := s.storage.CountDocuments(ctx)
	if err != nil {
		s.logger.Error("status: count documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	chunkCount, err := s.storage.CountChunks(ctx)
	if err != nil {
		s.logger.Error("status: count chunks failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]interface{}{
		"documents":         docCount,
		"chunks":            chunkCount,
		"vector_index_size": s.index.Size(),
		"config": map[string]interface{}{
			"embedding_dimensions": s.index.Dimensions(),
			"top_k":                s.config.Chat.TopK,
			"session_backend":      s.config.Chat.SessionBackend,
			"database_path":        s.config.Storage.DatabasePath,
			"vector_index_path":    s.config.Storage.VectorIndexPath,
		},
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write response failed", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"status": "error", "message": message})
}
