// Package storage defines the persistence interface for documents and chunks.
package storage

import (
	"context"

	"github.com/edanesia/eda/internal/models"
)

// Storage persists documents and their chunks. It is the durable id-to-chunk
// mapping half of the index bundle; the vector half lives in internal/vector.
type Storage interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	DeleteDocument(ctx context.Context, id string) error
	FindDocumentIDsBySource(ctx context.Context, source string) ([]string, error)

	BatchCreateChunks(ctx context.Context, chunks []*models.Chunk) error
	GetChunk(ctx context.Context, id string) (*models.Chunk, error)
	GetChunksByIDs(ctx context.Context, ids []string) ([]*models.Chunk, error)
	GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.Chunk, error)
	DeleteChunksByDocumentID(ctx context.Context, docID string) error

	CountDocuments(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)

	Close() error
}
