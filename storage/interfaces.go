package storage

import (
	"context"
	"time"

	"github.com/poiesic/ragqa/core"
)

// DocumentRepository persists document registry records.
// Implementations must be thread-safe and support concurrent access.
type DocumentRepository interface {
	// PutDocument inserts or replaces the record for doc.ID.
	PutDocument(ctx context.Context, doc *core.Document) error

	// GetDocument retrieves a single record by ID.
	// Returns ErrNotFound if the record doesn't exist.
	GetDocument(ctx context.Context, id core.DocumentID) (*core.Document, error)

	// DeleteDocument removes a record by ID.
	// Returns ErrNotFound if the record doesn't exist.
	DeleteDocument(ctx context.Context, id core.DocumentID) error

	// ListDocuments returns every stored record in key order.
	ListDocuments(ctx context.Context) ([]*core.Document, error)

	// Close releases resources held by the repository.
	Close() error
}

// IndexSnapshot is the durable image of a vector index.
type IndexSnapshot struct {
	Dimension int
	NextID    core.EntryID // Next id the index will assign
	Entries   []core.IndexEntry
}

// SnapshotHeader describes the live snapshot generation.
// Entries of other generations are garbage.
type SnapshotHeader struct {
	Generation uint64
	Dimension  int
	NextID     uint64
	Count      int
	SavedAt    time.Time
}

// IndexRepository persists vector index snapshots.
type IndexRepository interface {
	// SaveSnapshot durably replaces the current snapshot.
	// A failed save leaves the previous snapshot loadable.
	SaveSnapshot(ctx context.Context, snapshot *IndexSnapshot) error

	// LoadSnapshot returns the last saved snapshot.
	// Returns ErrNotFound if no snapshot was ever saved and
	// ErrCorruptSnapshot if the stored data is inconsistent.
	LoadSnapshot(ctx context.Context) (*IndexSnapshot, error)

	// Close releases resources held by the repository.
	Close() error
}
