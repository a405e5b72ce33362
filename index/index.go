// Package index implements the in-process vector index shared by ingestion
// and querying.
//
// Entries are scored by inner product, so callers are expected to add and
// query with unit-length vectors. Mutations take a write lock for their whole
// duration; searches share a read lock and therefore always observe either
// all or none of a document's entries.
package index

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/poiesic/ragqa/core"
	"github.com/poiesic/ragqa/storage"
)

// Input is one chunk to be added to the index.
type Input struct {
	ChunkIndex int
	Text       string
	Start      int
	End        int
	Vector     []float32
}

// Hit is a scored search result.
type Hit struct {
	ID    core.EntryID
	Score float32
	Meta  core.ChunkMeta
}

// Index is a flat inner-product vector index with durable snapshots.
type Index struct {
	mu        sync.RWMutex
	dimension int
	entries   []core.IndexEntry // ascending by ID
	nextID    core.EntryID
	loaded    bool

	persistMu sync.Mutex
	repo      storage.IndexRepository
	logger    *slog.Logger
}

// Option configures an Index.
type Option func(*Index) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(ix *Index) error {
		if logger == nil {
			logger = slog.Default()
		}
		ix.logger = logger.With("component", "index")
		return nil
	}
}

// New creates an empty index backed by repo.
// A dimension of 0 is fixed by the first add or by the loaded snapshot.
func New(dimension int, repo storage.IndexRepository, opts ...Option) (*Index, error) {
	if repo == nil {
		return nil, ErrRepositoryRequired
	}
	if dimension < 0 {
		return nil, core.NewConfigurationError("embedding_dimension", "must not be negative, got %d", dimension)
	}

	ix := &Index{
		dimension: dimension,
		repo:      repo,
		logger:    slog.Default().With("component", "index"),
	}
	for _, opt := range opts {
		if err := opt(ix); err != nil {
			return nil, err
		}
	}
	return ix, nil
}

// Add stores entries for a document and returns their assigned ids in input order.
// Either every entry is stored or none is.
func (ix *Index) Add(docID core.DocumentID, filename string, inputs []Input) ([]core.EntryID, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	dim := ix.dimension
	if dim == 0 {
		dim = len(inputs[0].Vector)
		if dim == 0 {
			return nil, &core.DimensionError{Expected: 1, Actual: 0}
		}
	}
	for _, in := range inputs {
		if len(in.Vector) != dim {
			return nil, &core.DimensionError{Expected: dim, Actual: len(in.Vector)}
		}
	}
	ix.dimension = dim

	ids := make([]core.EntryID, len(inputs))
	for i, in := range inputs {
		id := ix.nextID
		ix.nextID++
		ids[i] = id
		ix.entries = append(ix.entries, core.IndexEntry{
			ID:     id,
			Vector: slices.Clone(in.Vector),
			Meta: core.ChunkMeta{
				DocumentID: docID,
				Filename:   filename,
				ChunkIndex: in.ChunkIndex,
				Text:       in.Text,
				Start:      in.Start,
				End:        in.End,
			},
		})
	}

	ix.logger.Debug("added entries", "document", docID, "count", len(ids), "total", len(ix.entries))
	return ids, nil
}

// Search returns up to k entries ordered by descending score, ties broken
// by ascending id. When allowed is non-nil only entries of those documents
// are considered. Returns core.ErrIndexEmpty if the index holds no entries.
func (ix *Index) Search(vector []float32, k int, allowed map[core.DocumentID]struct{}) ([]Hit, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if len(ix.entries) == 0 {
		return nil, core.ErrIndexEmpty
	}
	if len(vector) != ix.dimension {
		return nil, &core.DimensionError{Expected: ix.dimension, Actual: len(vector)}
	}
	if k <= 0 {
		return []Hit{}, nil
	}

	hits := make([]Hit, 0, min(k, len(ix.entries)))
	for i := range ix.entries {
		e := &ix.entries[i]
		if allowed != nil {
			if _, ok := allowed[e.Meta.DocumentID]; !ok {
				continue
			}
		}
		hits = append(hits, Hit{ID: e.ID, Score: dotProduct(vector, e.Vector), Meta: e.Meta})
	}

	slices.SortFunc(hits, compareHits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func compareHits(a, b Hit) int {
	if a.Score > b.Score {
		return -1
	}
	if a.Score < b.Score {
		return 1
	}
	return cmp.Compare(a.ID, b.ID)
}

// Delete removes every entry of a document and returns how many were removed.
// Deleting an absent document is a no-op.
func (ix *Index) Delete(docID core.DocumentID) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	before := len(ix.entries)
	ix.entries = slices.DeleteFunc(ix.entries, func(e core.IndexEntry) bool {
		return e.Meta.DocumentID == docID
	})
	removed := before - len(ix.entries)
	if removed > 0 {
		ix.logger.Debug("deleted entries", "document", docID, "count", removed)
	}
	return removed
}

// Len returns the number of stored entries.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Dimension returns the vector dimension, or 0 if not yet fixed.
func (ix *Index) Dimension() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.dimension
}

// Loaded reports whether Load has completed successfully.
func (ix *Index) Loaded() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.loaded
}

// CountFor returns the number of entries stored for a document.
func (ix *Index) CountFor(docID core.DocumentID) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	n := 0
	for i := range ix.entries {
		if ix.entries[i].Meta.DocumentID == docID {
			n++
		}
	}
	return n
}

// Counts returns the number of entries per document.
func (ix *Index) Counts() map[core.DocumentID]int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	counts := make(map[core.DocumentID]int)
	for i := range ix.entries {
		counts[ix.entries[i].Meta.DocumentID]++
	}
	return counts
}

// DocumentIDs returns the distinct documents with stored entries, sorted.
func (ix *Index) DocumentIDs() []core.DocumentID {
	counts := ix.Counts()
	ids := make([]core.DocumentID, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Persist writes a snapshot of the current contents.
// Concurrent calls are serialized so a later state is never overwritten by an earlier one.
func (ix *Index) Persist(ctx context.Context) error {
	ix.persistMu.Lock()
	defer ix.persistMu.Unlock()

	ix.mu.RLock()
	snapshot := &storage.IndexSnapshot{
		Dimension: ix.dimension,
		NextID:    ix.nextID,
		Entries:   slices.Clone(ix.entries),
	}
	ix.mu.RUnlock()

	if err := ix.repo.SaveSnapshot(ctx, snapshot); err != nil {
		return fmt.Errorf("persisting index: %w", err)
	}
	return nil
}

// Load replaces the index contents with the last persisted snapshot.
// A missing snapshot yields an empty index. A corrupt snapshot, or one whose
// dimension disagrees with a configured dimension, is an error.
func (ix *Index) Load(ctx context.Context) error {
	snapshot, err := ix.repo.LoadSnapshot(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			ix.mu.Lock()
			ix.entries = nil
			ix.loaded = true
			ix.mu.Unlock()
			ix.logger.Info("no index snapshot found, starting empty")
			return nil
		}
		return fmt.Errorf("loading index: %w", err)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.dimension != 0 && snapshot.Dimension != 0 && ix.dimension != snapshot.Dimension {
		return fmt.Errorf("loading index: %w", &core.DimensionError{Expected: ix.dimension, Actual: snapshot.Dimension})
	}
	for i := 1; i < len(snapshot.Entries); i++ {
		if snapshot.Entries[i].ID <= snapshot.Entries[i-1].ID {
			return fmt.Errorf("loading index: %w: entries out of order", storage.ErrCorruptSnapshot)
		}
	}

	if snapshot.Dimension != 0 {
		ix.dimension = snapshot.Dimension
	}
	ix.entries = snapshot.Entries
	ix.nextID = max(ix.nextID, snapshot.NextID)
	ix.loaded = true

	ix.logger.Info("loaded index snapshot", "entries", len(ix.entries), "dimension", ix.dimension)
	return nil
}

// dotProduct calculates the dot product of two equal-length vectors.
func dotProduct(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
