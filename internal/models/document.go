// Package models defines core data structures for documents, chunks, and conversation turns.
package models

import "time"

// Document is one normalized text unit produced by ingestion: a single tabular
// row or the combined text of one or more extracted files. Immutable once created.
type Document struct {
	ID        string            `json:"id" db:"id"`
	Content   string            `json:"content" db:"content"`
	Metadata  map[string]string `json:"metadata" db:"metadata"`
	CreatedAt time.Time         `json:"created_at" db:"created_at"`
}

// MetaSource is the metadata key holding the logical source name of a document
// (file name without extension for tabular rows, file path for extracted text).
const MetaSource = "source"

// Chunk is a bounded-length slice of a document's content, the unit that is
// embedded and indexed. It retains the parent document's metadata through DocumentID.
type Chunk struct {
	ID         string    `json:"id" db:"id"`
	DocumentID string    `json:"document_id" db:"document_id"`
	Content    string    `json:"content" db:"content"`
	ChunkIndex int       `json:"chunk_index" db:"chunk_index"`
	Embedding  []float32 `json:"-" db:"-"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
