// Package integration exercises the full chain: ingestion, retrieval,
// generation, the engine HTTP surface, and the gateway relay.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

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
)

const dims = 32

func TestIntegration_AskOverIngestedCSV(t *testing.T) {
	dir := t.TempDir()

	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "eda.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	embedder := embedding.NewMockEmbedder(dims)
	defer embedder.Close()

	indexPath := filepath.Join(dir, "index.bin")
	index, err := vector.Open(indexPath, dims)
	if err != nil {
		t.Fatal(err)
	}

	csvPath := filepath.Join(dir, "Jumlah Penduduk.csv")
	csvContent := "vervar,tahun,datacontent\nKota Medan,2020,2435252\nKota Binjai,2020,291842\nKota Pematangsiantar,2020,268254\n"
	if err := os.WriteFile(csvPath, []byte(csvContent), 0o644); err != nil {
		t.Fatal(err)
	}

	logger := zap.NewNop()
	pipeline := ingest.NewPipeline(store, embedder, index, indexPath, ingest.Options{}, logger)
	report, err := pipeline.Run(context.Background(), []string{csvPath})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if report.Documents != 3 || report.Indexed != 3 {
		t.Fatalf("report = %+v", report)
	}

	sessions := session.NewMemoryStore(time.Hour)
	defer sessions.Close()

	gen := &llm.MockGenerator{Replies: []string{"Jumlah penduduk Kota Medan pada 2020 adalah 2435252 jiwa."}}
	eng := engine.New(store, embedder, index, sessions, gen, engine.Options{TopK: 3}, logger)

	answer, err := eng.Ask(context.Background(), "Berapa jumlah penduduk Kota Medan tahun 2020?", "628111")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !strings.Contains(answer, "2435252") {
		t.Errorf("answer = %q", answer)
	}
	if !strings.Contains(gen.Prompts[0], "Jumlah Penduduk, 2020, Kota Medan, 2435252.") {
		t.Error("retrieved context missing from prompt")
	}

	turns, err := eng.History(context.Background(), "628111")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(turns) != 2 {
		t.Errorf("expected 2 turns, got %d", len(turns))
	}

	// The same question through the HTTP surfaces: relay -> engine server.
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	srv := server.NewServer(eng, store, index, cfg, logger)
	engineHTTP := httptest.NewServer(srv.Router())
	defer engineHTTP.Close()

	rl := relay.New(&config.RelayConfig{EngineURL: engineHTTP.URL}, logger)
	payload, _ := json.Marshal(map[string]string{
		"response_text": "Berapa jumlah penduduk Kota Medan tahun 2020?",
		"id":            "628222",
	})
	req := httptest.NewRequest(http.MethodPost, "/get_response", bytes.NewReader(payload))
	w := httptest.NewRecorder()
	rl.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("relay status = %d, body %s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode relay response: %v", err)
	}
	if resp["status"] != "success" {
		t.Errorf("relay status = %q", resp["status"])
	}
	if !strings.Contains(resp["response_text"], "2435252") {
		t.Errorf("relay response_text = %q", resp["response_text"])
	}
}

func TestIntegration_IndexSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "eda.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	embedder := embedding.NewMockEmbedder(dims)
	defer embedder.Close()

	indexPath := filepath.Join(dir, "index.bin")
	index, err := vector.Open(indexPath, dims)
	if err != nil {
		t.Fatal(err)
	}

	csvPath := filepath.Join(dir, "Inflasi.csv")
	if err := os.WriteFile(csvPath, []byte("vervar,tahun,datacontent\nSumatera Utara,2020,1.96\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	logger := zap.NewNop()
	pipeline := ingest.NewPipeline(store, embedder, index, indexPath, ingest.Options{}, logger)
	if _, err := pipeline.Run(context.Background(), []string{csvPath}); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	// Reopen the persisted index as a fresh process would and answer from it.
	reopened, err := vector.Open(indexPath, dims)
	if err != nil {
		t.Fatalf("reopen index: %v", err)
	}
	if reopened.Size() != 1 {
		t.Fatalf("reopened size = %d", reopened.Size())
	}

	sessions := session.NewMemoryStore(time.Hour)
	defer sessions.Close()
	gen := &llm.MockGenerator{Replies: []string{"Inflasi Sumatera Utara 2020 sebesar 1.96 persen."}}
	eng := engine.New(store, embedder, reopened, sessions, gen, engine.Options{TopK: 1}, logger)

	answer, err := eng.Ask(context.Background(), "Berapa inflasi Sumatera Utara 2020?", "s1")
	if err != nil {
		t.Fatalf("Ask after restart: %v", err)
	}
	if !strings.Contains(answer, "1.96") {
		t.Errorf("answer = %q", answer)
	}
	if !strings.Contains(gen.Prompts[0], "Inflasi, 2020, Sumatera Utara, 1.96.") {
		t.Error("reopened index did not retrieve the ingested row")
	}
}
