// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package registry tracks the processing lifecycle of uploaded documents.
//
// Documents move Pending → Processing → Completed or Failed. Completed and
// Failed are terminal; only Reset leaves them, returning the document to
// Pending for re-ingestion. Every transition is written through to the
// document repository before it becomes visible to readers.
package registry

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/poiesic/ragqa/core"
	"github.com/poiesic/ragqa/storage"
)

// Registry is the authoritative, durable view of document lifecycle state.
type Registry struct {
	mu     sync.RWMutex
	docs   map[core.DocumentID]*core.Document
	repo   storage.DocumentRepository
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger.With("component", "registry")
		return nil
	}
}

// WithClock sets the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) error {
		if now == nil {
			return errors.New("clock cannot be nil")
		}
		r.now = now
		return nil
	}
}

// New creates an empty registry backed by repo. Call Load to restore
// previously persisted documents.
func New(repo storage.DocumentRepository, opts ...Option) (*Registry, error) {
	if repo == nil {
		return nil, ErrRepositoryRequired
	}

	r := &Registry{
		docs:   make(map[core.DocumentID]*core.Document),
		repo:   repo,
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		logger: slog.Default().With("component", "registry"),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Load replaces the in-memory view with the persisted records.
func (r *Registry) Load(ctx context.Context) error {
	records, err := r.repo.ListDocuments(ctx)
	if err != nil {
		return fmt.Errorf("loading registry: %w", err)
	}

	docs := make(map[core.DocumentID]*core.Document, len(records))
	for _, doc := range records {
		docs[doc.ID] = doc
	}

	r.mu.Lock()
	r.docs = docs
	r.mu.Unlock()

	r.logger.Info("loaded registry", "documents", len(docs))
	return nil
}

// Create registers a new document in the Pending state.
// ID and Filename must be set; State, ChunkCount, ErrorDetail and timestamps are overwritten.
func (r *Registry) Create(ctx context.Context, doc core.Document) (core.Document, error) {
	now := r.now()
	doc.State = core.StatePending
	doc.ChunkCount = 0
	doc.ErrorDetail = ""
	doc.CreatedAt = now
	doc.UpdatedAt = now
	doc.ProcessedAt = time.Time{}

	if err := core.ValidateDocument(&doc); err != nil {
		return core.Document{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.docs[doc.ID]; exists {
		return core.Document{}, fmt.Errorf("%w: %s", ErrDocumentExists, doc.ID)
	}
	if err := r.repo.PutDocument(ctx, &doc); err != nil {
		return core.Document{}, fmt.Errorf("creating document %s: %w", doc.ID, err)
	}

	stored := doc
	r.docs[doc.ID] = &stored
	r.logger.Debug("document created", "id", doc.ID, "filename", doc.Filename)
	return doc, nil
}

// Begin moves a document from Pending to Processing.
func (r *Registry) Begin(ctx context.Context, id core.DocumentID) (core.Document, error) {
	return r.transition(ctx, id, core.StateProcessing, func(doc *core.Document) {}, core.StatePending)
}

// Complete moves a document from Processing to Completed with its chunk count.
func (r *Registry) Complete(ctx context.Context, id core.DocumentID, chunkCount int) (core.Document, error) {
	if chunkCount <= 0 {
		return core.Document{}, fmt.Errorf("completing document %s: chunk count must be positive, got %d", id, chunkCount)
	}
	return r.transition(ctx, id, core.StateCompleted, func(doc *core.Document) {
		doc.ChunkCount = chunkCount
		doc.ProcessedAt = doc.UpdatedAt
	}, core.StateProcessing)
}

// Fail moves a document from Pending or Processing to Failed.
func (r *Registry) Fail(ctx context.Context, id core.DocumentID, detail string) (core.Document, error) {
	if detail == "" {
		detail = "unknown error"
	}
	return r.transition(ctx, id, core.StateFailed, func(doc *core.Document) {
		doc.ChunkCount = 0
		doc.ErrorDetail = detail
		doc.ProcessedAt = doc.UpdatedAt
	}, core.StatePending, core.StateProcessing)
}

// Reset returns a terminal document to Pending so it can be ingested again.
func (r *Registry) Reset(ctx context.Context, id core.DocumentID) (core.Document, error) {
	return r.transition(ctx, id, core.StatePending, func(doc *core.Document) {
		doc.ChunkCount = 0
		doc.ErrorDetail = ""
		doc.ProcessedAt = time.Time{}
	}, core.StateCompleted, core.StateFailed)
}

// transition applies mutate to a copy of the document, persists it and only
// then publishes it. The document must currently be in one of from.
func (r *Registry) transition(ctx context.Context, id core.DocumentID, to core.DocumentState, mutate func(*core.Document), from ...core.DocumentState) (core.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.docs[id]
	if !ok {
		return core.Document{}, fmt.Errorf("%w: %s", core.ErrNotFound, id)
	}
	if !slices.Contains(from, current.State) {
		return core.Document{}, fmt.Errorf("%w: %s cannot move from %s to %s",
			core.ErrInvalidTransition, id, current.State, to)
	}

	next := *current
	next.State = to
	next.UpdatedAt = r.now()
	mutate(&next)

	if err := r.repo.PutDocument(ctx, &next); err != nil {
		return core.Document{}, fmt.Errorf("persisting %s transition for %s: %w", to, id, err)
	}

	r.docs[id] = &next
	r.logger.Debug("document transitioned", "id", id, "from", current.State, "to", to)
	return next, nil
}

// Get returns a copy of the document.
func (r *Registry) Get(id core.DocumentID) (core.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc, ok := r.docs[id]
	if !ok {
		return core.Document{}, fmt.Errorf("%w: %s", core.ErrNotFound, id)
	}
	return *doc, nil
}

// List returns a snapshot of all documents, newest first.
func (r *Registry) List() []core.Document {
	r.mu.RLock()
	docs := make([]core.Document, 0, len(r.docs))
	for _, doc := range r.docs {
		docs = append(docs, *doc)
	}
	r.mu.RUnlock()

	slices.SortFunc(docs, func(a, b core.Document) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return docs
}

// Completed returns the set of documents currently in the Completed state.
func (r *Registry) Completed() map[core.DocumentID]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := make(map[core.DocumentID]struct{})
	for id, doc := range r.docs {
		if doc.State == core.StateCompleted {
			set[id] = struct{}{}
		}
	}
	return set
}

// Delete removes a document record. Unknown ids return core.ErrNotFound.
func (r *Registry) Delete(ctx context.Context, id core.DocumentID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.docs[id]; !ok {
		return fmt.Errorf("%w: %s", core.ErrNotFound, id)
	}
	if err := r.repo.DeleteDocument(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}

	delete(r.docs, id)
	r.logger.Debug("document deleted", "id", id)
	return nil
}

// Count returns the number of registered documents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.docs)
}

// CountByState returns the number of documents in each state.
func (r *Registry) CountByState() map[core.DocumentState]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[core.DocumentState]int)
	for _, doc := range r.docs {
		counts[doc.State]++
	}
	return counts
}
