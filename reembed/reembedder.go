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


package reembed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/ragqa/core"
)

// Target is the engine surface the reembedder drives.
type Target interface {
	ListDocuments() []core.Document
	Reingest(ctx context.Context, id core.DocumentID) (core.Document, error)
	GetStatus(id core.DocumentID) (core.Document, error)
	Wait(ctx context.Context) error
}

// Config holds configuration for a reembed run.
type Config struct {
	// BatchSize is the number of documents resubmitted before waiting
	BatchSize int

	// ReportInterval is how often to report progress (number of documents)
	ReportInterval int

	// IncludeFailed also retries documents whose last ingestion failed
	IncludeFailed bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      DefaultBatchSize,
		ReportInterval: 1,
	}
}

// Summary describes a finished run.
type Summary struct {
	Total     int
	Completed int
	Failed    int
	Elapsed   time.Duration
}

// Reembedder re-ingests every finished document of a Target.
type Reembedder struct {
	target   Target
	config   *Config
	progress io.Writer
	logger   *slog.Logger
}

// NewReembedder creates a new reembedder.
// progress: where to write progress output (typically os.Stderr)
func NewReembedder(target Target, config *Config, progress io.Writer) (*Reembedder, error) {
	if target == nil {
		return nil, ErrTargetRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if progress == nil {
		progress = io.Discard
	}

	return &Reembedder{
		target:   target,
		config:   config,
		progress: progress,
		logger:   slog.Default().With("component", "reembed"),
	}, nil
}

// Run re-ingests each eligible document and waits for all of them to finish.
// A document that fails to ingest is counted, not returned as an error.
func (r *Reembedder) Run(ctx context.Context) (Summary, error) {
	docs := eligible(r.target.ListDocuments(), r.config.IncludeFailed)
	summary := Summary{Total: len(docs)}
	if len(docs) == 0 {
		fmt.Fprintf(r.progress, "No documents to reembed (0 documents)\n")
		return summary, nil
	}

	fmt.Fprintf(r.progress, "Starting reembedding of %d documents (batch size: %d)\n",
		len(docs), r.config.BatchSize)

	tracker := NewProgressTracker(r.progress, len(docs), r.config.ReportInterval)
	tracker.Start()

	for batch := range batches(ctx, docs, r.config.BatchSize) {
		submitted := make([]core.DocumentID, 0, len(batch))
		for _, doc := range batch {
			if _, err := r.target.Reingest(ctx, doc.ID); err != nil {
				r.logger.Warn("error resubmitting document", "id", doc.ID, "err", err)
				tracker.Record(false)
				continue
			}
			submitted = append(submitted, doc.ID)
		}

		if err := r.target.Wait(ctx); err != nil {
			summarize(&summary, tracker)
			return summary, fmt.Errorf("waiting for batch: %w", err)
		}

		for _, id := range submitted {
			doc, err := r.target.GetStatus(id)
			tracker.Record(err == nil && doc.State == core.StateCompleted)
		}
	}
	if err := ctx.Err(); err != nil {
		summarize(&summary, tracker)
		return summary, err
	}

	tracker.Finish()
	summarize(&summary, tracker)

	fmt.Fprintf(r.progress, "Reembedding complete. Processed %d documents in %v (%d failed)\n",
		summary.Completed+summary.Failed, summary.Elapsed.Round(time.Second), summary.Failed)
	return summary, nil
}

// summarize copies the outcomes recorded so far into summary.
func summarize(summary *Summary, tracker *ProgressTracker) {
	done, failed := tracker.Counts()
	summary.Completed = done - failed
	summary.Failed = failed
	summary.Elapsed = tracker.Elapsed()
}
