package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/ragqa/core"
	"github.com/poiesic/ragqa/storage"
)

// IndexRepository implements storage.IndexRepository for BadgerDB.
//
// Each save writes its entries under a fresh generation prefix, then swaps
// the header to point at it in a single transaction, then drops older
// generations. A crash before the header swap leaves the previous snapshot
// intact.
type IndexRepository struct {
	backend *Backend
	mu      sync.Mutex
	logger  *slog.Logger
}

var _ storage.IndexRepository = (*IndexRepository)(nil)

// NewIndexRepository creates a new IndexRepository.
func NewIndexRepository(backend *Backend) (*IndexRepository, error) {
	if backend == nil || backend.IsClosed() {
		return nil, storage.ErrStorageClosed
	}
	return &IndexRepository{
		backend: backend,
		logger:  slog.Default().With("component", "index-snapshots"),
	}, nil
}

// Close releases resources. IndexRepository has no resources to release.
func (r *IndexRepository) Close() error {
	return nil
}

// SaveSnapshot durably replaces the current snapshot.
func (r *IndexRepository) SaveSnapshot(ctx context.Context, snapshot *storage.IndexSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.readHeader()
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	generation := uint64(1)
	if current != nil {
		generation = current.Generation + 1
	}

	// Clear leftovers of an interrupted save of the same generation
	if err := r.backend.DropPrefix(makeIndexGenerationPrefix(generation)); err != nil {
		return fmt.Errorf("clearing snapshot generation %d: %w", generation, err)
	}

	wb := r.backend.NewWriteBatch()
	defer wb.Cancel()
	for i := range snapshot.Entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		entry := &snapshot.Entries[i]
		if err := wb.Set(makeIndexEntryKey(generation, entry.ID), storage.MarshalIndexEntry(entry)); err != nil {
			return fmt.Errorf("writing snapshot entry %d: %w", entry.ID, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flushing snapshot generation %d: %w", generation, err)
	}

	header := &storage.SnapshotHeader{
		Generation: generation,
		Dimension:  snapshot.Dimension,
		NextID:     uint64(snapshot.NextID),
		Count:      len(snapshot.Entries),
		SavedAt:    time.Now().UTC(),
	}
	err = r.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set([]byte(indexHeaderKey), storage.MarshalSnapshotHeader(header)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return fmt.Errorf("switching to snapshot generation %d: %w", generation, err)
	}

	// The new snapshot is live; stale generations are garbage from here on.
	stale, err := r.staleGenerations(generation)
	if err != nil {
		r.logger.Warn("error listing stale snapshot generations", "err", err)
		return nil
	}
	for _, g := range stale {
		if err := r.backend.DropPrefix(makeIndexGenerationPrefix(g)); err != nil {
			r.logger.Warn("error dropping stale snapshot generation", "generation", g, "err", err)
		}
	}
	r.logger.Debug("saved index snapshot", "generation", generation, "entries", header.Count)
	return nil
}

// LoadSnapshot returns the live snapshot.
func (r *IndexRepository) LoadSnapshot(ctx context.Context) (*storage.IndexSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	header, err := r.readHeader()
	if err != nil {
		return nil, err
	}

	snapshot := &storage.IndexSnapshot{
		Dimension: header.Dimension,
		NextID:    core.EntryID(header.NextID),
		Entries:   make([]core.IndexEntry, 0, header.Count),
	}

	err = r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeIndexGenerationPrefix(header.Generation)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := iter.Item()
			_, keyID, ok := parseIndexEntryKey(item.Key())
			if !ok {
				return fmt.Errorf("%w: malformed entry key %x", storage.ErrCorruptSnapshot, item.Key())
			}
			err := item.Value(func(val []byte) error {
				entry, err := storage.UnmarshalIndexEntry(val)
				if err != nil {
					return fmt.Errorf("%w: entry %d: %w", storage.ErrCorruptSnapshot, keyID, err)
				}
				if entry.ID != keyID {
					return fmt.Errorf("%w: entry key %d holds id %d", storage.ErrCorruptSnapshot, keyID, entry.ID)
				}
				if uint64(entry.ID) >= header.NextID {
					return fmt.Errorf("%w: entry id %d not below next id %d", storage.ErrCorruptSnapshot, entry.ID, header.NextID)
				}
				if header.Dimension > 0 && len(entry.Vector) != header.Dimension {
					return fmt.Errorf("%w: entry %d has dimension %d, header says %d",
						storage.ErrCorruptSnapshot, entry.ID, len(entry.Vector), header.Dimension)
				}
				snapshot.Entries = append(snapshot.Entries, *entry)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	if len(snapshot.Entries) != header.Count {
		return nil, fmt.Errorf("%w: header expects %d entries, found %d",
			storage.ErrCorruptSnapshot, header.Count, len(snapshot.Entries))
	}
	return snapshot, nil
}

// readHeader reads the live snapshot header.
func (r *IndexRepository) readHeader() (*storage.SnapshotHeader, error) {
	var header *storage.SnapshotHeader
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get([]byte(indexHeaderKey))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storage.ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			h, err := storage.UnmarshalSnapshotHeader(val)
			if err != nil {
				return fmt.Errorf("%w: %w", storage.ErrCorruptSnapshot, err)
			}
			header = h
			return nil
		})
	}, false)
	if err != nil {
		return nil, err
	}
	return header, nil
}

// staleGenerations lists stored entry generations other than live.
func (r *IndexRepository) staleGenerations(live uint64) ([]uint64, error) {
	var stale []uint64
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(indexEntryPrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); {
			generation, _, ok := parseIndexEntryKey(iter.Item().Key())
			if !ok {
				iter.Next()
				continue
			}
			if generation != live {
				stale = append(stale, generation)
			}
			// Skip the rest of this generation
			iter.Seek(makeIndexGenerationPrefix(generation + 1))
		}
		return nil
	}, false)
	return stale, err
}
