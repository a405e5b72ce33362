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


// Package ragqa is a document question-answering engine.
//
// Uploaded documents are parsed, chunked, embedded and indexed in the
// background. Questions are answered from the most similar chunks of
// completed documents, with the chunks cited as sources. Registry records
// and index snapshots are kept in badger under the configured data directory
// and reconciled against each other at startup.
package ragqa

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/poiesic/ragqa/ai"
	"github.com/poiesic/ragqa/ai/openai"
	"github.com/poiesic/ragqa/chunker"
	"github.com/poiesic/ragqa/config"
	"github.com/poiesic/ragqa/core"
	"github.com/poiesic/ragqa/index"
	"github.com/poiesic/ragqa/ingestion"
	"github.com/poiesic/ragqa/parser"
	"github.com/poiesic/ragqa/query"
	"github.com/poiesic/ragqa/registry"
	"github.com/poiesic/ragqa/storage"
	"github.com/poiesic/ragqa/storage/badger"
)

// Version is reported by Health.
const Version = "0.1.0"

// Engine owns every component and is the only entry point callers need.
type Engine struct {
	cfg          config.Config
	backend      *badger.Backend
	docRepo      storage.DocumentRepository
	indexRepo    storage.IndexRepository
	provider     ai.AIProvider
	registry     *registry.Registry
	index        *index.Index
	parsers      *parser.Registry
	pipeline     *ingestion.Pipeline
	orchestrator *query.Orchestrator
	logger       *slog.Logger
	closeOnce    sync.Once
	closeErr     error
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	provider ai.AIProvider
	parsers  *parser.Registry
	monitor  query.Monitor
	logger   *slog.Logger
}

// WithProvider replaces the OpenAI-compatible provider built from the configuration.
// The engine takes ownership and closes it.
func WithProvider(provider ai.AIProvider) Option {
	return func(o *engineOptions) {
		o.provider = provider
	}
}

// WithParsers replaces the default parser registry.
func WithParsers(parsers *parser.Registry) Option {
	return func(o *engineOptions) {
		o.parsers = parsers
	}
}

// WithMonitor observes every question answered.
func WithMonitor(monitor query.Monitor) Option {
	return func(o *engineOptions) {
		o.monitor = monitor
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// Open validates cfg, restores persisted state from cfg.DataDir, reconciles
// the registry with the index and starts the ingestion pipeline.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (*Engine, error) {
	options := &engineOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if options.parsers == nil {
		options.parsers = parser.Default()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	chunks, err := chunker.New(cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.UploadDir(), 0o755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}

	e := &Engine{
		cfg:     cfg,
		parsers: options.parsers,
		logger:  options.logger.With("component", "engine"),
	}
	// cleanup releases whatever has been opened so far
	cleanup := func() {
		if e.pipeline != nil {
			e.pipeline.Close()
		}
		if e.provider != nil {
			e.provider.Close()
		}
		if e.indexRepo != nil {
			e.indexRepo.Close()
		}
		if e.docRepo != nil {
			e.docRepo.Close()
		}
		if e.backend != nil {
			e.backend.Close()
		}
	}

	if e.backend, err = badger.OpenBackend(cfg.DatabaseDir(), false); err != nil {
		return nil, err
	}
	if e.docRepo, err = badger.NewDocumentRepository(e.backend); err != nil {
		cleanup()
		return nil, err
	}
	if e.indexRepo, err = badger.NewIndexRepository(e.backend); err != nil {
		cleanup()
		return nil, err
	}

	e.provider = options.provider
	if e.provider == nil {
		if e.provider, err = openai.NewProvider(cfg.AIConfig()); err != nil {
			cleanup()
			return nil, err
		}
	}

	if e.registry, err = registry.New(e.docRepo, registry.WithLogger(options.logger)); err != nil {
		cleanup()
		return nil, err
	}
	if err := e.registry.Load(ctx); err != nil {
		cleanup()
		return nil, err
	}
	if e.index, err = index.New(cfg.Provider.EmbeddingDimension, e.indexRepo, index.WithLogger(options.logger)); err != nil {
		cleanup()
		return nil, err
	}
	if err := e.index.Load(ctx); err != nil {
		cleanup()
		return nil, err
	}

	report, err := reconcile(ctx, e.registry, e.index)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("reconciling registry with index: %w", err)
	}
	if report.changed() {
		e.logger.Warn("reconciled interrupted state",
			"interrupted", report.interrupted,
			"mismatched", report.mismatched,
			"orphaned", report.orphaned,
			"stale_entries", report.staleEntries)
	}

	retry := cfg.RetryPolicy()
	if e.pipeline, err = ingestion.NewPipeline(e.registry, e.index, e.parsers, chunks, e.provider.Embedder(),
		ingestion.WithPoolSize(cfg.Ingestion.Workers),
		ingestion.WithBatchSize(cfg.Ingestion.EmbeddingBatchSize),
		ingestion.WithConcurrentBatches(cfg.Ingestion.ConcurrentBatches),
		ingestion.WithRetryPolicy(retry),
		ingestion.WithLogger(options.logger),
	); err != nil {
		cleanup()
		return nil, err
	}

	if e.orchestrator, err = query.New(e.index, e.registry, e.provider,
		query.WithTopK(cfg.Retrieval.DefaultTopK, cfg.Retrieval.MaxTopK),
		query.WithThreshold(cfg.Retrieval.SimilarityThreshold),
		query.WithQuestionLength(cfg.Retrieval.MinQuestionLength, cfg.Retrieval.MaxQuestionLength),
		query.WithRetryPolicy(retry),
		query.WithMonitor(options.monitor),
		query.WithLogger(options.logger),
	); err != nil {
		cleanup()
		return nil, err
	}

	e.logger.Info("engine ready",
		"data_dir", cfg.DataDir,
		"documents", e.registry.Count(),
		"indexed_chunks", e.index.Len())
	return e, nil
}

// Upload registers a document and queues it for ingestion. The returned
// document is Pending; ingestion outcomes are visible through GetStatus.
func (e *Engine) Upload(ctx context.Context, filename string, data []byte) (core.Document, error) {
	filename = filepath.Base(filename)
	ext := parser.Extension(filename)
	if !e.cfg.AllowsExtension(ext) || !e.parsers.Supports(filename) {
		return core.Document{}, fmt.Errorf("%w: %q", core.ErrUnsupportedFileType, ext)
	}
	if len(data) == 0 {
		return core.Document{}, core.ErrEmptyFile
	}
	if int64(len(data)) > e.cfg.Upload.MaxFileSizeBytes {
		return core.Document{}, fmt.Errorf("%w: %d bytes exceeds the %d byte limit",
			core.ErrFileTooLarge, len(data), e.cfg.Upload.MaxFileSizeBytes)
	}

	id := core.NewDocumentID()
	path := e.uploadPath(id, ext)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return core.Document{}, fmt.Errorf("storing upload: %w", err)
	}

	doc, err := e.registry.Create(ctx, core.Document{
		ID:        id,
		Filename:  filename,
		SizeBytes: int64(len(data)),
		Checksum:  core.Checksum(data),
	})
	if err != nil {
		os.Remove(path)
		return core.Document{}, err
	}

	if err := e.pipeline.Submit(ingestion.Job{DocumentID: id, Filename: filename, Data: data}); err != nil {
		e.failDocument(ctx, id, err)
		return core.Document{}, err
	}

	e.logger.Info("document uploaded", "id", id, "filename", filename, "bytes", len(data))
	return doc, nil
}

// failDocument records cause against a Pending document.
func (e *Engine) failDocument(ctx context.Context, id core.DocumentID, cause error) {
	if _, err := e.registry.Fail(ctx, id, cause.Error()); err != nil {
		e.logger.Error("error recording document failure", "id", id, "err", err)
	}
}

// GetStatus returns the current registry record for id.
func (e *Engine) GetStatus(id core.DocumentID) (core.Document, error) {
	return e.registry.Get(id)
}

// ListDocuments returns every document, newest first.
func (e *Engine) ListDocuments() []core.Document {
	return e.registry.List()
}

// DeleteDocument removes a document's index entries, registry record and stored upload.
func (e *Engine) DeleteDocument(ctx context.Context, id core.DocumentID) error {
	unlock := e.pipeline.Lock(id)
	defer unlock()

	doc, err := e.registry.Get(id)
	if err != nil {
		return err
	}

	if err := e.registry.Delete(ctx, id); err != nil {
		return err
	}
	// Entries left in a stale snapshot are orphans and are dropped at the next startup.
	if removed := e.index.Delete(id); removed > 0 {
		if err := e.index.Persist(ctx); err != nil {
			e.logger.Warn("error persisting index after delete", "id", id, "err", err)
		}
	}
	if err := os.Remove(e.uploadPath(id, parser.Extension(doc.Filename))); err != nil && !errors.Is(err, fs.ErrNotExist) {
		e.logger.Warn("error removing stored upload", "id", id, "err", err)
	}

	e.logger.Info("document deleted", "id", id)
	return nil
}

// Reingest runs ingestion again for a Completed or Failed document from its
// stored upload. Other states fail with core.ErrInvalidTransition.
func (e *Engine) Reingest(ctx context.Context, id core.DocumentID) (core.Document, error) {
	unlock := e.pipeline.Lock(id)
	defer unlock()

	doc, err := e.registry.Get(id)
	if err != nil {
		return core.Document{}, err
	}
	if !doc.State.IsTerminal() {
		return core.Document{}, fmt.Errorf("%w: %s is %s", core.ErrInvalidTransition, id, doc.State)
	}

	data, err := os.ReadFile(e.uploadPath(id, parser.Extension(doc.Filename)))
	if err != nil {
		return core.Document{}, fmt.Errorf("reading stored upload: %w", err)
	}

	if doc, err = e.registry.Reset(ctx, id); err != nil {
		return core.Document{}, err
	}
	if removed := e.index.Delete(id); removed > 0 {
		if err := e.index.Persist(ctx); err != nil {
			err = fmt.Errorf("persisting index: %w", err)
			e.failDocument(ctx, id, err)
			return core.Document{}, err
		}
	}
	if err := e.pipeline.Submit(ingestion.Job{DocumentID: id, Filename: doc.Filename, Data: data}); err != nil {
		e.failDocument(ctx, id, err)
		return core.Document{}, err
	}

	e.logger.Info("document queued for re-ingestion", "id", id)
	return doc, nil
}

// AskRequest is a question with optional retrieval constraints.
type AskRequest struct {
	Question string

	// TopK is the number of chunks to retrieve. Zero uses the configured default.
	TopK int

	// DocumentIDs restricts retrieval to these documents when non-empty.
	DocumentIDs []core.DocumentID
}

// Ask answers a question from completed documents.
func (e *Engine) Ask(ctx context.Context, req AskRequest) (*core.QueryResult, error) {
	return e.orchestrator.Ask(ctx, query.Request{
		Question:    req.Question,
		TopK:        req.TopK,
		DocumentIDs: req.DocumentIDs,
	})
}

// Health summarizes engine state.
type Health struct {
	Status        string
	Version       string
	IndexLoaded   bool
	DocumentCount int
	IndexedChunks int
	Dimension     int
}

// Health reports "healthy" once the index snapshot has been loaded and
// "degraded" otherwise.
func (e *Engine) Health() Health {
	status := "healthy"
	if !e.index.Loaded() {
		status = "degraded"
	}
	return Health{
		Status:        status,
		Version:       Version,
		IndexLoaded:   e.index.Loaded(),
		DocumentCount: e.registry.Count(),
		IndexedChunks: e.index.Len(),
		Dimension:     e.index.Dimension(),
	}
}

// Wait blocks until queued documents have finished ingesting or ctx is done.
func (e *Engine) Wait(ctx context.Context) error {
	return e.pipeline.Wait(ctx)
}

// Close drains the pipeline and releases every resource. It is safe to call more than once.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		if err := e.pipeline.Close(); err != nil {
			e.logger.Error("error closing ingestion pipeline", "err", err)
		}
		if err := e.provider.Close(); err != nil {
			e.logger.Error("error closing AI provider", "err", err)
		}
		if err := e.indexRepo.Close(); err != nil {
			e.logger.Error("error closing index repository", "err", err)
			e.closeErr = err
		}
		if err := e.docRepo.Close(); err != nil {
			e.logger.Error("error closing document repository", "err", err)
			e.closeErr = err
		}
		if err := e.backend.Close(); err != nil {
			e.logger.Error("error closing backend storage", "err", err)
			e.closeErr = err
		}
	})
	return e.closeErr
}

func (e *Engine) uploadPath(id core.DocumentID, ext string) string {
	return filepath.Join(e.cfg.UploadDir(), id.String()+ext)
}
