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


package ingestion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/poiesic/ragqa/core"
	"github.com/poiesic/ragqa/index"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// run executes one unit of work for job while holding the document's lock.
func (p *Pipeline) run(job Job) {
	unlock := p.locks.lock(job.DocumentID)
	defer unlock()

	ctx, span := p.tracer.Start(context.Background(), "ingestion.process",
		trace.WithAttributes(
			attribute.String("document.id", job.DocumentID.String()),
			attribute.String("document.filename", job.Filename),
			attribute.Int("document.bytes", len(job.Data)),
		))
	defer span.End()

	logger := p.logger.With("id", job.DocumentID, "filename", job.Filename)

	started, err := p.begin(ctx, job.DocumentID)
	if err != nil && !started {
		if errors.Is(err, core.ErrNotFound) {
			logger.Info("document removed before processing, skipping")
			return
		}
		logger.Error("error starting document", "err", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}

	var chunkCount int
	indexed := true
	if err == nil {
		chunkCount, indexed, err = p.process(ctx, job)
	}
	if err == nil {
		if err = p.finish(job.DocumentID, chunkCount, nil); err == nil {
			span.SetAttributes(attribute.Int("document.chunks", chunkCount))
			logger.Info("document processed", "chunks", chunkCount)
			return
		}
		err = fmt.Errorf("committing completion: %w", err)
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	logger.Error("error processing document", "err", err)

	if indexed {
		p.rollback(ctx, job.DocumentID)
	}
	if commitErr := p.finish(job.DocumentID, 0, err); commitErr != nil {
		logger.Error("error recording failure", "err", commitErr)
	}
}

// begin moves the document to Processing. A document left terminal by an
// earlier run is reset first. Stale index entries are dropped only after the
// registry no longer reports the document Completed. started reports whether
// the registry changed, in which case an error must still be recorded.
func (p *Pipeline) begin(ctx context.Context, id core.DocumentID) (started bool, err error) {
	doc, err := p.registry.Get(id)
	if err != nil {
		return false, err
	}

	if doc.State.IsTerminal() {
		if _, err := p.registry.Reset(ctx, id); err != nil {
			return false, err
		}
		started = true
	}
	if _, err := p.registry.Begin(ctx, id); err != nil {
		return started, err
	}

	if removed := p.index.Delete(id); removed > 0 {
		if err := p.index.Persist(ctx); err != nil {
			return true, fmt.Errorf("persisting index before re-ingest: %w", err)
		}
	}
	return true, nil
}

// process parses, chunks, embeds and indexes one document. indexed reports
// whether the index may hold entries for the document and needs a rollback
// on failure.
func (p *Pipeline) process(ctx context.Context, job Job) (chunkCount int, indexed bool, err error) {
	text, err := p.parsers.Parse(ctx, job.Filename, job.Data)
	if err != nil {
		return 0, false, err
	}
	if strings.TrimSpace(text) == "" {
		return 0, false, &core.ParseError{Filename: job.Filename, Err: ErrNoExtractableText}
	}

	chunks := p.chunker.Split(text)
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := p.embedChunks(ctx, texts)
	if err != nil {
		return 0, true, err
	}

	inputs := make([]index.Input, len(chunks))
	for i, c := range chunks {
		inputs[i] = index.Input{
			ChunkIndex: c.Index,
			Text:       c.Text,
			Start:      c.Start,
			End:        c.End,
			Vector:     vectors[i],
		}
	}

	if _, err := p.index.Add(job.DocumentID, job.Filename, inputs); err != nil {
		return 0, true, fmt.Errorf("indexing chunks: %w", err)
	}
	if err := p.index.Persist(ctx); err != nil {
		return 0, true, fmt.Errorf("persisting index: %w", err)
	}
	return len(chunks), true, nil
}

// rollback removes every index entry of id and persists the result.
func (p *Pipeline) rollback(ctx context.Context, id core.DocumentID) {
	removed := p.index.Delete(id)
	if err := p.index.Persist(ctx); err != nil {
		p.logger.Error("error persisting index after rollback", "id", id, "err", err)
		return
	}
	p.logger.Debug("rolled back index entries", "id", id, "removed", removed)
}
