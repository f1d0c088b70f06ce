package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edanesia/eda/internal/models"
	"github.com/edanesia/eda/internal/storage"
	"github.com/edanesia/eda/internal/vector"
)

// Embedder is the subset of embedding capability the pipeline needs.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Options tunes an ingestion run. Zero values fall back to defaults.
type Options struct {
	ChunkSize    int
	ChunkOverlap int
	BatchSize    int
	// AppendOnly skips the replacement of previously ingested documents
	// with the same source.
	AppendOnly bool
}

// Report summarizes one ingestion run.
type Report struct {
	Documents int
	Chunks    int
	Indexed   int
	Failed    int
	Warnings  []string
	Duration  time.Duration
}

// Pipeline ingests source files: rows and extracted text become documents,
// documents become chunks, chunks are embedded and upserted into the
// vector index with their text persisted in storage.
type Pipeline struct {
	store      storage.Storage
	embedder   Embedder
	index      *vector.Index
	indexPath  string
	extractor  *Extractor
	chunker    *Chunker
	batchSize  int
	appendOnly bool
	logger     *zap.Logger
}

// NewPipeline returns a Pipeline writing to store and index. The index is
// saved to indexPath at the end of every run.
func NewPipeline(store storage.Storage, embedder Embedder, index *vector.Index, indexPath string, opts Options, logger *zap.Logger) *Pipeline {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	return &Pipeline{
		store:      store,
		embedder:   embedder,
		index:      index,
		indexPath:  indexPath,
		extractor:  NewExtractor(),
		chunker:    NewChunker(opts.ChunkSize, opts.ChunkOverlap),
		batchSize:  opts.BatchSize,
		appendOnly: opts.AppendOnly,
		logger:     logger,
	}
}

// Run ingests every supported file under the given paths (files or
// directories, directories are walked recursively). A file that cannot be
// read or parsed is reported as a warning and skipped; the run continues.
// Failing to persist the updated index is an error.
func (p *Pipeline) Run(ctx context.Context, paths []string) (*Report, error) {
	start := time.Now()
	report := &Report{}

	files, err := collectFiles(paths)
	if err != nil {
		return nil, err
	}
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := p.ingestFile(ctx, file, report); err != nil {
			report.Failed++
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %v", file, err))
			p.logger.Warn("skipping file", zap.String("path", file), zap.Error(err))
		}
	}

	if err := p.index.Save(p.indexPath); err != nil {
		return nil, fmt.Errorf("save index: %w", err)
	}
	report.Duration = time.Since(start)
	p.logger.Info("ingestion complete",
		zap.Int("documents", report.Documents),
		zap.Int("chunks", report.Chunks),
		zap.Int("indexed", report.Indexed),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.Duration))
	return report, nil
}

func (p *Pipeline) ingestFile(ctx context.Context, path string, report *Report) error {
	source := sourceName(path)
	if !p.appendOnly {
		if err := p.removeBySource(ctx, source); err != nil {
			return fmt.Errorf("replace source %s: %w", source, err)
		}
	}
	if IsTabular(path) {
		return p.ingestTabular(ctx, path, source, report)
	}
	return p.ingestDocument(ctx, path, source, report)
}

// ingestTabular turns every row into its own document with a single chunk.
// Rows are atomic: they are embedded whole and never split.
func (p *Pipeline) ingestTabular(ctx context.Context, path, source string, report *Report) error {
	rows, err := ReadTabular(path)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		report.Warnings = append(report.Warnings, fmt.Sprintf("%s: no data rows", path))
		return nil
	}

	var chunks []*models.Chunk
	now := time.Now()
	for _, row := range rows {
		doc := &models.Document{
			ID:        uuid.NewString(),
			Content:   row.Sentence(),
			Metadata:  map[string]string{models.MetaSource: source},
			CreatedAt: now,
		}
		if err := p.store.CreateDocument(ctx, doc); err != nil {
			return fmt.Errorf("create document: %w", err)
		}
		report.Documents++
		chunks = append(chunks, &models.Chunk{
			ID:         uuid.NewString(),
			DocumentID: doc.ID,
			Content:    doc.Content,
			ChunkIndex: 0,
			CreatedAt:  now,
		})
	}
	return p.indexChunks(ctx, chunks, report)
}

func (p *Pipeline) ingestDocument(ctx context.Context, path, source string, report *Report) error {
	text, err := p.extractor.Extract(path)
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		report.Warnings = append(report.Warnings, fmt.Sprintf("%s: no extractable text", path))
		return nil
	}

	now := time.Now()
	doc := &models.Document{
		ID:        uuid.NewString(),
		Content:   text,
		Metadata:  map[string]string{models.MetaSource: source},
		CreatedAt: now,
	}
	if err := p.store.CreateDocument(ctx, doc); err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	report.Documents++

	pieces := p.chunker.Split(text)
	chunks := make([]*models.Chunk, 0, len(pieces))
	for i, piece := range pieces {
		chunks = append(chunks, &models.Chunk{
			ID:         uuid.NewString(),
			DocumentID: doc.ID,
			Content:    piece,
			ChunkIndex: i,
			CreatedAt:  now,
		})
	}
	return p.indexChunks(ctx, chunks, report)
}

// indexChunks embeds and upserts chunks in batches. A failing batch is
// recorded as a warning and skipped so one bad batch does not abort the file.
func (p *Pipeline) indexChunks(ctx context.Context, chunks []*models.Chunk, report *Report) error {
	for start := 0; start < len(chunks); start += p.batchSize {
		end := start + p.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}
		vectors, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			report.Failed += len(batch)
			report.Warnings = append(report.Warnings, fmt.Sprintf("embed batch: %v", err))
			p.logger.Warn("embed batch failed", zap.Int("size", len(batch)), zap.Error(err))
			continue
		}
		if err := p.store.BatchCreateChunks(ctx, batch); err != nil {
			return fmt.Errorf("persist chunks: %w", err)
		}
		ids := make([]string, len(batch))
		for i, c := range batch {
			ids[i] = c.ID
		}
		if err := p.index.Add(ctx, ids, vectors); err != nil {
			return fmt.Errorf("index chunks: %w", err)
		}
		report.Chunks += len(batch)
		report.Indexed += len(batch)
	}
	return nil
}

// removeBySource deletes all documents previously ingested from source,
// including their chunks and index entries.
func (p *Pipeline) removeBySource(ctx context.Context, source string) error {
	docIDs, err := p.store.FindDocumentIDsBySource(ctx, source)
	if err != nil {
		return err
	}
	for _, docID := range docIDs {
		chunks, err := p.store.GetChunksByDocumentID(ctx, docID)
		if err != nil {
			return err
		}
		chunkIDs := make([]string, len(chunks))
		for i, c := range chunks {
			chunkIDs[i] = c.ID
		}
		if err := p.index.Remove(ctx, chunkIDs); err != nil {
			return err
		}
		if err := p.store.DeleteChunksByDocumentID(ctx, docID); err != nil {
			return err
		}
		if err := p.store.DeleteDocument(ctx, docID); err != nil {
			return err
		}
	}
	return nil
}

func collectFiles(paths []string) ([]string, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
				return nil
			}
			files = append(files, p)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", path, err)
		}
	}
	return files, nil
}
