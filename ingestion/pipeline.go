package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/ragqa/ai"
	"github.com/poiesic/ragqa/chunker"
	"github.com/poiesic/ragqa/core"
	"github.com/poiesic/ragqa/index"
	"github.com/poiesic/ragqa/parser"
	"github.com/poiesic/ragqa/registry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/poiesic/ragqa/ingestion"

// Job is one document to ingest.
type Job struct {
	DocumentID core.DocumentID
	Filename   string
	Data       []byte
}

// outcome is a terminal result waiting to be committed to the registry.
type outcome struct {
	id         core.DocumentID
	chunkCount int
	err        error
	ack        chan error
}

// Pipeline orchestrates background ingestion of uploaded documents.
type Pipeline struct {
	registry *registry.Registry
	index    *index.Index
	parsers  *parser.Registry
	chunker  *chunker.Chunker
	embedder ai.Embedder

	pool              *ants.Pool
	locks             *keyedMutex
	results           chan outcome
	committerDone     chan struct{}
	batchSize         int
	concurrentBatches int
	retry             ai.RetryPolicy
	tracer            trace.Tracer
	logger            *slog.Logger

	mu      sync.Mutex // guards closed, pending and idle
	closed  bool
	pending int
	idle    chan struct{} // closed whenever pending is zero
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the number of documents processed concurrently.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		if p.pool != nil {
			p.pool.Release()
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		p.pool = pool
		return nil
	}
}

// WithBatchSize sets how many chunks are sent per embedding request.
// Default is 32.
func WithBatchSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			return fmt.Errorf("batch size must be positive, got %d", size)
		}
		p.batchSize = size
		return nil
	}
}

// WithConcurrentBatches bounds the embedding requests in flight per document.
// Default is 2.
func WithConcurrentBatches(n int) Option {
	return func(p *Pipeline) error {
		if n < 1 {
			return fmt.Errorf("concurrent batches must be positive, got %d", n)
		}
		p.concurrentBatches = n
		return nil
	}
}

// WithRetryPolicy sets the policy applied to each embedding batch.
func WithRetryPolicy(policy ai.RetryPolicy) Option {
	return func(p *Pipeline) error {
		if policy.MaxAttempts < 1 {
			return ai.ErrInvalidMaxAttempts
		}
		p.retry = policy
		return nil
	}
}

// WithTracer overrides the tracer used for per-document spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(p *Pipeline) error {
		if tracer != nil {
			p.tracer = tracer
		}
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger.With("component", "ingestion")
		return nil
	}
}

// NewPipeline creates a pipeline and starts its committer.
func NewPipeline(
	reg *registry.Registry,
	idx *index.Index,
	parsers *parser.Registry,
	chunks *chunker.Chunker,
	embedder ai.Embedder,
	opts ...Option,
) (*Pipeline, error) {
	if reg == nil {
		return nil, ErrRegistryRequired
	}
	if idx == nil {
		return nil, ErrIndexRequired
	}
	if parsers == nil {
		return nil, ErrParserRequired
	}
	if chunks == nil {
		return nil, ErrChunkerRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	p := &Pipeline{
		registry:          reg,
		index:             idx,
		parsers:           parsers,
		chunker:           chunks,
		embedder:          embedder,
		locks:             newKeyedMutex(),
		results:           make(chan outcome),
		committerDone:     make(chan struct{}),
		batchSize:         32,
		concurrentBatches: 2,
		retry:             ai.DefaultRetryPolicy(),
		tracer:            otel.Tracer(tracerName),
		logger:            slog.Default().With("component", "ingestion"),
		idle:              make(chan struct{}),
	}
	close(p.idle)

	for _, opt := range opts {
		if err := opt(p); err != nil {
			p.release()
			return nil, err
		}
	}

	if p.pool == nil {
		if err := WithPoolSize(runtime.NumCPU() / 2)(p); err != nil {
			return nil, err
		}
	}

	go p.commit()
	return p, nil
}

// Submit queues a document for ingestion and returns immediately.
// The document must already be registered. Submitting an id whose previous
// run reached a terminal state re-ingests it from scratch.
func (p *Pipeline) Submit(job Job) error {
	if err := p.acquire(); err != nil {
		return err
	}

	go func() {
		if err := p.pool.Submit(func() {
			defer p.done()
			p.run(job)
		}); err != nil {
			p.done()
			p.logger.Error("error scheduling document", "id", job.DocumentID, "err", err)
		}
	}()

	p.logger.Debug("document queued", "id", job.DocumentID, "filename", job.Filename)
	return nil
}

// acquire counts one more in-flight document, opening a new idle channel
// when the pipeline leaves the idle state.
func (p *Pipeline) acquire() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPipelineClosed
	}
	if p.pending == 0 {
		p.idle = make(chan struct{})
	}
	p.pending++
	return nil
}

// done releases one in-flight document.
func (p *Pipeline) done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending--
	if p.pending == 0 {
		close(p.idle)
	}
}

// idleCh returns the channel closed when the current batch of in-flight
// documents has drained.
func (p *Pipeline) idleCh() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idle
}

// Lock serializes the caller with any pipeline run for id.
// The returned function releases the lock.
func (p *Pipeline) Lock(id core.DocumentID) func() {
	return p.locks.lock(id)
}

// Wait blocks until every submitted document has reached a terminal state
// or ctx is done.
func (p *Pipeline) Wait(ctx context.Context) error {
	select {
	case <-p.idleCh():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work, waits for in-flight documents and releases
// the worker pool. It is safe to call more than once.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.mu.Unlock()

	<-idle
	close(p.results)
	<-p.committerDone
	p.release()
	return nil
}

func (p *Pipeline) release() {
	if p.pool != nil {
		p.pool.Release()
	}
}

// commit is the only writer of terminal registry transitions.
func (p *Pipeline) commit() {
	defer close(p.committerDone)
	ctx := context.Background()

	for o := range p.results {
		var err error
		if o.err != nil {
			_, err = p.registry.Fail(ctx, o.id, o.err.Error())
		} else {
			_, err = p.registry.Complete(ctx, o.id, o.chunkCount)
		}
		o.ack <- err
	}
}

// finish hands a terminal outcome to the committer and waits for it to be applied.
func (p *Pipeline) finish(id core.DocumentID, chunkCount int, cause error) error {
	ack := make(chan error, 1)
	p.results <- outcome{id: id, chunkCount: chunkCount, err: cause, ack: ack}
	return <-ack
}
