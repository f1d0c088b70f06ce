// Package engine runs the retrieval-augmented conversation pipeline.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/edanesia/eda/internal/embedding"
	"github.com/edanesia/eda/internal/llm"
	"github.com/edanesia/eda/internal/models"
	"github.com/edanesia/eda/internal/session"
	"github.com/edanesia/eda/internal/storage"
	"github.com/edanesia/eda/internal/vector"
	"github.com/edanesia/eda/pkg/utils"
)

// Canned replies substituted when the generation capability degrades.
// They are returned as successful answers; conversation bookkeeping is skipped.
const (
	MsgBusy        = "Maaf, layanan saat ini sedang sibuk. Silakan coba lagi nanti."
	MsgUnavailable = "Layanan saat ini tidak tersedia. Silakan coba lagi nanti."
)

// Options tunes the conversation pipeline. Zero values fall back to defaults.
type Options struct {
	TopK            int
	MaxHistoryTurns int
	GenerateTimeout time.Duration
}

// Engine answers user questions against the ingested corpus, keeping
// per-session conversation history.
type Engine struct {
	store     storage.Storage
	embedder  embedding.Embedder
	index     *vector.Index
	sessions  session.Store
	generator llm.Generator
	locks     *session.KeyedMutex
	opts      Options
	logger    *zap.Logger
}

// New creates an Engine with the given dependencies.
func New(
	store storage.Storage,
	embedder embedding.Embedder,
	index *vector.Index,
	sessions session.Store,
	generator llm.Generator,
	opts Options,
	logger *zap.Logger,
) *Engine {
	if opts.TopK <= 0 {
		opts.TopK = 10
	}
	if opts.MaxHistoryTurns <= 0 {
		opts.MaxHistoryTurns = 20
	}
	if opts.GenerateTimeout <= 0 {
		opts.GenerateTimeout = 60 * time.Second
	}
	return &Engine{
		store:     store,
		embedder:  embedder,
		index:     index,
		sessions:  sessions,
		generator: generator,
		locks:     session.NewKeyedMutex(),
		opts:      opts,
		logger:    logger,
	}
}

// Ask answers question within the conversation identified by sessionID.
// Concurrent calls for the same session are serialized so history order
// matches lock-acquisition order. On success the user and assistant turns
// are appended to the session. When the generation capability is rate
// limited or unreachable, a canned localized reply is returned as the
// answer and no turns are recorded.
func (e *Engine) Ask(ctx context.Context, question, sessionID string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", &Error{Kind: KindInternal, Err: errors.New("empty question")}
	}

	e.locks.Lock(sessionID)
	defer e.locks.Unlock(sessionID)

	start := time.Now()
	if _, err := e.sessions.GetOrCreate(ctx, sessionID); err != nil {
		return "", &Error{Kind: KindInternal, Err: fmt.Errorf("resolve session: %w", err)}
	}
	history, err := e.sessions.History(ctx, sessionID)
	if err != nil {
		return "", &Error{Kind: KindInternal, Err: fmt.Errorf("load history: %w", err)}
	}
	if len(history) > e.opts.MaxHistoryTurns {
		history = history[len(history)-e.opts.MaxHistoryTurns:]
	}

	contexts, err := e.retrieve(ctx, question)
	if err != nil {
		return "", &Error{Kind: KindRetrieval, Err: err}
	}

	prompt := buildPrompt(contexts, history, question)

	genCtx, cancel := context.WithTimeout(ctx, e.opts.GenerateTimeout)
	defer cancel()
	answer, err := e.generator.Generate(genCtx, prompt)
	if err != nil {
		switch {
		case errors.Is(err, llm.ErrRateLimited):
			e.logger.Warn("generation rate limited", zap.String("session", sessionID))
			return MsgBusy, nil
		case errors.Is(err, llm.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
			e.logger.Warn("generation unavailable", zap.String("session", sessionID), zap.Error(err))
			return MsgUnavailable, nil
		default:
			return "", &Error{Kind: KindGeneration, Err: err}
		}
	}

	answer = strings.TrimSpace(utils.StripNonASCII(answer))
	if answer == "" {
		return "", &Error{Kind: KindGeneration, Err: errors.New("empty completion")}
	}

	now := time.Now()
	err = e.sessions.Append(ctx, sessionID,
		models.Turn{Role: models.RoleUser, Text: question, At: now},
		models.Turn{Role: models.RoleAssistant, Text: answer, At: now},
	)
	if err != nil {
		// The answer was produced; losing bookkeeping should not fail the request.
		e.logger.Warn("record turns failed", zap.String("session", sessionID), zap.Error(err))
	}

	e.logger.Info("question answered",
		zap.String("session", sessionID),
		zap.Int("context_chunks", len(contexts)),
		zap.Duration("duration", time.Since(start)))
	return answer, nil
}

// retrieve embeds the question and resolves the top-k nearest chunks to
// their stored text, preserving ranking order.
func (e *Engine) retrieve(ctx context.Context, question string) ([]string, error) {
	qvec, err := e.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	results, err := e.index.Search(ctx, qvec, e.opts.TopK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if len(results) == 0 {
		return nil, errors.New("no indexed data")
	}
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	chunks, err := e.store.GetChunksByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve chunks: %w", err)
	}
	contexts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		contexts = append(contexts, c.Content)
	}
	return contexts, nil
}

// History returns the recorded turns for sessionID.
func (e *Engine) History(ctx context.Context, sessionID string) ([]models.Turn, error) {
	return e.sessions.History(ctx, sessionID)
}
