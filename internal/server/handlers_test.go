package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/edanesia/eda/internal/config"
	"github.com/edanesia/eda/internal/storage"
	"github.com/edanesia/eda/internal/vector"
)

// stubAsker records calls and returns a scripted answer.
type stubAsker struct {
	answer    string
	err       error
	questions []string
	sessions  []string
}

func (a *stubAsker) Ask(ctx context.Context, question, sessionID string) (string, error) {
	a.questions = append(a.questions, question)
	a.sessions = append(a.sessions, sessionID)
	if a.err != nil {
		return "", a.err
	}
	return a.answer, nil
}

func newTestServer(t *testing.T, asker Asker) *Server {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "eda.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStorage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	index, err := vector.Open(filepath.Join(dir, "index.bin"), 16)
	if err != nil {
		t.Fatalf("vector.Open: %v", err)
	}
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return NewServer(asker, store, index, cfg, zap.NewNop())
}

func postJSON(t *testing.T, handler http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Unmarshal response: %v", err)
	}
	return body
}

func TestProcessText_success(t *testing.T) {
	asker := &stubAsker{answer: "Jumlah penduduk Kota Medan 2435252 jiwa."}
	s := newTestServer(t, asker)

	w := postJSON(t, s.Router(), "/process_text", map[string]string{
		"response_text": "Berapa jumlah penduduk Kota Medan?",
		"notelp":        "62811111111",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["status"] != "success" {
		t.Errorf("status = %v", body["status"])
	}
	if body["processed_text"] != asker.answer {
		t.Errorf("processed_text = %v", body["processed_text"])
	}
	if body["notelp"] != "62811111111" {
		t.Errorf("notelp = %v", body["notelp"])
	}
	if len(asker.sessions) != 1 || asker.sessions[0] != "62811111111" {
		t.Errorf("asker sessions = %v", asker.sessions)
	}
}

func TestProcessText_missingText(t *testing.T) {
	s := newTestServer(t, &stubAsker{answer: "unused"})

	w := postJSON(t, s.Router(), "/process_text", map[string]string{"notelp": "62811111111"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["status"] != "error" {
		t.Errorf("status = %v", body["status"])
	}
	if body["message"] != "No response text provided" {
		t.Errorf("message = %v", body["message"])
	}
}

func TestProcessText_invalidJSON(t *testing.T) {
	s := newTestServer(t, &stubAsker{})
	req := httptest.NewRequest(http.MethodPost, "/process_text", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d", w.Code)
	}
}

// A request without notelp bootstraps a session: the generated id is
// returned and can be reused on the next request.
func TestProcessText_generatesNotelp(t *testing.T) {
	asker := &stubAsker{answer: "jawaban"}
	s := newTestServer(t, asker)

	w := postJSON(t, s.Router(), "/process_text", map[string]string{"response_text": "Halo"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeBody(t, w)
	generated, _ := body["notelp"].(string)
	if generated == "" {
		t.Fatal("expected generated notelp")
	}
	if asker.sessions[0] != generated {
		t.Errorf("session id %q does not match returned notelp %q", asker.sessions[0], generated)
	}

	w = postJSON(t, s.Router(), "/process_text", map[string]string{
		"response_text": "Pertanyaan kedua",
		"notelp":        generated,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if asker.sessions[1] != generated {
		t.Errorf("second request used session %q, want %q", asker.sessions[1], generated)
	}
}

func TestProcessText_engineFailure(t *testing.T) {
	s := newTestServer(t, &stubAsker{err: errors.New("retrieval: no indexed data")})

	w := postJSON(t, s.Router(), "/process_text", map[string]string{"response_text": "Berapa inflasi?"})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["message"] != "Failed to process text" {
		t.Errorf("message = %v", body["message"])
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &stubAsker{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if decodeBody(t, w)["status"] != "ok" {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestStatus(t *testing.T) {
	s := newTestServer(t, &stubAsker{})
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["documents"] != float64(0) {
		t.Errorf("documents = %v", body["documents"])
	}
	if body["vector_index_size"] != float64(0) {
		t.Errorf("vector_index_size = %v", body["vector_index_size"])
	}
}
