package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/edanesia/eda/internal/embedding"
	"github.com/edanesia/eda/internal/llm"
	"github.com/edanesia/eda/internal/models"
	"github.com/edanesia/eda/internal/session"
	"github.com/edanesia/eda/internal/storage"
	"github.com/edanesia/eda/internal/vector"
)

const testDims = 16

type harness struct {
	engine    *Engine
	store     storage.Storage
	index     *vector.Index
	sessions  session.Store
	generator *llm.MockGenerator
	embedder  *embedding.MockEmbedder
}

func newHarness(t *testing.T, gen *llm.MockGenerator) *harness {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "eda.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStorage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	index, err := vector.Open(filepath.Join(dir, "index.bin"), testDims)
	if err != nil {
		t.Fatalf("vector.Open: %v", err)
	}
	sessions := session.NewMemoryStore(time.Hour)
	t.Cleanup(func() { sessions.Close() })

	embedder := embedding.NewMockEmbedder(testDims)
	eng := New(store, embedder, index, sessions, gen, Options{TopK: 5}, zap.NewNop())
	return &harness{engine: eng, store: store, index: index, sessions: sessions, generator: gen, embedder: embedder}
}

// seed indexes the given sentences as single-chunk documents.
func (h *harness) seed(t *testing.T, sentences ...string) {
	t.Helper()
	ctx := context.Background()
	for i, text := range sentences {
		doc := &models.Document{
			ID:       "doc-" + string(rune('a'+i)),
			Content:  text,
			Metadata: map[string]string{models.MetaSource: "test"},
		}
		if err := h.store.CreateDocument(ctx, doc); err != nil {
			t.Fatalf("CreateDocument: %v", err)
		}
		chunk := &models.Chunk{ID: "chunk-" + string(rune('a'+i)), DocumentID: doc.ID, Content: text}
		if err := h.store.BatchCreateChunks(ctx, []*models.Chunk{chunk}); err != nil {
			t.Fatalf("BatchCreateChunks: %v", err)
		}
		vec, err := h.embedder.Embed(ctx, text)
		if err != nil {
			t.Fatalf("Embed: %v", err)
		}
		if err := h.index.Add(ctx, []string{chunk.ID}, [][]float32{vec}); err != nil {
			t.Fatalf("index.Add: %v", err)
		}
	}
}

func TestAsk_answersFromIndexedData(t *testing.T) {
	gen := &llm.MockGenerator{Replies: []string{"Jumlah penduduk Kota Medan pada 2020 adalah 2435252 jiwa."}}
	h := newHarness(t, gen)
	h.seed(t, "Jumlah Penduduk, 2020, Kota Medan, 2435252.")

	answer, err := h.engine.Ask(context.Background(), "Berapa jumlah penduduk Kota Medan tahun 2020?", "sess-1")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if answer != "Jumlah penduduk Kota Medan pada 2020 adalah 2435252 jiwa." {
		t.Errorf("answer = %q", answer)
	}
	if len(gen.Prompts) != 1 {
		t.Fatalf("expected 1 generation, got %d", len(gen.Prompts))
	}
	if !strings.Contains(gen.Prompts[0], "Jumlah Penduduk, 2020, Kota Medan, 2435252.") {
		t.Error("prompt does not contain the retrieved row")
	}
	if !strings.Contains(gen.Prompts[0], "Berapa jumlah penduduk Kota Medan tahun 2020?") {
		t.Error("prompt does not contain the question")
	}

	turns, err := h.engine.History(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].Role != models.RoleUser || turns[1].Role != models.RoleAssistant {
		t.Errorf("turn roles = %s, %s", turns[0].Role, turns[1].Role)
	}
	if turns[1].Text != answer {
		t.Errorf("assistant turn = %q", turns[1].Text)
	}
}

func TestAsk_priorTurnsReachThePrompt(t *testing.T) {
	gen := &llm.MockGenerator{Replies: []string{"first answer", "second answer"}}
	h := newHarness(t, gen)
	h.seed(t, "Inflasi, 2020, Sumatera Utara, 1.96.")

	ctx := context.Background()
	if _, err := h.engine.Ask(ctx, "Berapa inflasi 2020?", "sess-1"); err != nil {
		t.Fatalf("first Ask: %v", err)
	}
	if _, err := h.engine.Ask(ctx, "Bagaimana dengan tahun sebelumnya?", "sess-1"); err != nil {
		t.Fatalf("second Ask: %v", err)
	}
	if len(gen.Prompts) != 2 {
		t.Fatalf("expected 2 prompts, got %d", len(gen.Prompts))
	}
	if !strings.Contains(gen.Prompts[1], "Pengguna: Berapa inflasi 2020?") {
		t.Error("second prompt missing prior user turn")
	}
	if !strings.Contains(gen.Prompts[1], "EDA: first answer") {
		t.Error("second prompt missing prior assistant turn")
	}

	turns, err := h.engine.History(ctx, "sess-1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(turns) != 4 {
		t.Errorf("expected 4 turns, got %d", len(turns))
	}
}

func TestAsk_rateLimitedReturnsCannedReply(t *testing.T) {
	gen := &llm.MockGenerator{Errs: []error{llm.ErrRateLimited}}
	h := newHarness(t, gen)
	h.seed(t, "Inflasi, 2020, Sumatera Utara, 1.96.")

	answer, err := h.engine.Ask(context.Background(), "Berapa inflasi?", "sess-1")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if answer != MsgBusy {
		t.Errorf("answer = %q, want %q", answer, MsgBusy)
	}
	turns, _ := h.engine.History(context.Background(), "sess-1")
	if len(turns) != 0 {
		t.Errorf("degraded request recorded %d turns", len(turns))
	}
}

func TestAsk_unavailableReturnsCannedReply(t *testing.T) {
	gen := &llm.MockGenerator{Errs: []error{llm.ErrUnavailable}}
	h := newHarness(t, gen)
	h.seed(t, "Inflasi, 2020, Sumatera Utara, 1.96.")

	answer, err := h.engine.Ask(context.Background(), "Berapa inflasi?", "sess-1")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if answer != MsgUnavailable {
		t.Errorf("answer = %q, want %q", answer, MsgUnavailable)
	}
	turns, _ := h.engine.History(context.Background(), "sess-1")
	if len(turns) != 0 {
		t.Errorf("degraded request recorded %d turns", len(turns))
	}
}

func TestAsk_generationFailureIsTyped(t *testing.T) {
	gen := &llm.MockGenerator{Errs: []error{errors.New("boom")}}
	h := newHarness(t, gen)
	h.seed(t, "Inflasi, 2020, Sumatera Utara, 1.96.")

	_, err := h.engine.Ask(context.Background(), "Berapa inflasi?", "sess-1")
	var engErr *Error
	if !errors.As(err, &engErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if engErr.Kind != KindGeneration {
		t.Errorf("kind = %s", engErr.Kind)
	}
	turns, _ := h.engine.History(context.Background(), "sess-1")
	if len(turns) != 0 {
		t.Errorf("failed request recorded %d turns", len(turns))
	}
}

func TestAsk_emptyIndexIsRetrievalError(t *testing.T) {
	gen := &llm.MockGenerator{Replies: []string{"should not be called"}}
	h := newHarness(t, gen)

	_, err := h.engine.Ask(context.Background(), "Berapa inflasi?", "sess-1")
	var engErr *Error
	if !errors.As(err, &engErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if engErr.Kind != KindRetrieval {
		t.Errorf("kind = %s", engErr.Kind)
	}
	if len(gen.Prompts) != 0 {
		t.Error("generator should not be called with empty index")
	}
}

func TestAsk_emptyQuestionRejected(t *testing.T) {
	h := newHarness(t, &llm.MockGenerator{})
	if _, err := h.engine.Ask(context.Background(), "   ", "sess-1"); err == nil {
		t.Error("expected error for empty question")
	}
}

func TestAsk_stripsNonASCII(t *testing.T) {
	gen := &llm.MockGenerator{Replies: []string{"Halo! \U0001F600 Jumlah penduduk 2435252 jiwa — naik."}}
	h := newHarness(t, gen)
	h.seed(t, "Jumlah Penduduk, 2020, Kota Medan, 2435252.")

	answer, err := h.engine.Ask(context.Background(), "Berapa jumlah penduduk?", "sess-1")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	for _, r := range answer {
		if r > 127 {
			t.Fatalf("answer contains non-ASCII rune %q: %q", r, answer)
		}
	}
	if !strings.Contains(answer, "2435252") {
		t.Errorf("answer lost content: %q", answer)
	}
}

func TestAsk_sessionsAreIsolated(t *testing.T) {
	gen := &llm.MockGenerator{Replies: []string{"jawaban"}}
	h := newHarness(t, gen)
	h.seed(t, "Inflasi, 2020, Sumatera Utara, 1.96.")

	ctx := context.Background()
	if _, err := h.engine.Ask(ctx, "Pertanyaan pertama?", "sess-a"); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	turns, err := h.engine.History(ctx, "sess-b")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("sess-b has %d turns", len(turns))
	}
}
