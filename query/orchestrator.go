package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/poiesic/ragqa/ai"
	"github.com/poiesic/ragqa/core"
	"github.com/poiesic/ragqa/index"
	"github.com/poiesic/ragqa/registry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/poiesic/ragqa/query"

// Request is a question with optional retrieval constraints.
type Request struct {
	Question string

	// TopK is the number of chunks to retrieve. Zero uses the configured default.
	TopK int

	// DocumentIDs restricts retrieval to these documents when non-empty.
	DocumentIDs []core.DocumentID
}

// Orchestrator answers questions against the index.
type Orchestrator struct {
	index     *index.Index
	registry  *registry.Registry
	embedder  ai.Embedder
	generator ai.Generator

	defaultTopK int
	maxTopK     int
	threshold   float32
	minQuestion int
	maxQuestion int
	retry       ai.RetryPolicy
	recorder    *Recorder
	monitor     Monitor
	tracer      trace.Tracer
	logger      *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator) error

// WithTopK sets the default and maximum number of chunks retrieved.
// Defaults are 5 and 20.
func WithTopK(defaultTopK, maxTopK int) Option {
	return func(o *Orchestrator) error {
		if maxTopK < 1 || defaultTopK < 1 || defaultTopK > maxTopK {
			return core.NewConfigurationError("top_k", "default %d must be in [1, %d]", defaultTopK, maxTopK)
		}
		o.defaultTopK = defaultTopK
		o.maxTopK = maxTopK
		return nil
	}
}

// WithThreshold sets the inclusive minimum similarity for a chunk to be used.
// Default is 0.3.
func WithThreshold(threshold float32) Option {
	return func(o *Orchestrator) error {
		o.threshold = threshold
		return nil
	}
}

// WithQuestionLength sets the accepted question length in runes.
// Zero disables a bound. Default is no bounds beyond non-blank.
func WithQuestionLength(minLen, maxLen int) Option {
	return func(o *Orchestrator) error {
		o.minQuestion = minLen
		o.maxQuestion = maxLen
		return nil
	}
}

// WithRetryPolicy sets the policy applied to provider calls.
func WithRetryPolicy(policy ai.RetryPolicy) Option {
	return func(o *Orchestrator) error {
		if policy.MaxAttempts < 1 {
			return ai.ErrInvalidMaxAttempts
		}
		o.retry = policy
		return nil
	}
}

// WithClock sets the time source for metrics.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) error {
		o.recorder = NewRecorder(now)
		return nil
	}
}

// WithMonitor installs hooks observing each stage.
func WithMonitor(monitor Monitor) Option {
	return func(o *Orchestrator) error {
		if monitor == nil {
			monitor = &noopMonitor{}
		}
		o.monitor = monitor
		return nil
	}
}

// WithTracer overrides the tracer used for Ask spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) error {
		if tracer != nil {
			o.tracer = tracer
		}
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) error {
		if logger == nil {
			logger = slog.Default()
		}
		o.logger = logger.With("component", "query")
		return nil
	}
}

// New creates an orchestrator using the provider's embedder and generator.
func New(idx *index.Index, reg *registry.Registry, provider ai.AIProvider, opts ...Option) (*Orchestrator, error) {
	if idx == nil {
		return nil, ErrIndexRequired
	}
	if reg == nil {
		return nil, ErrRegistryRequired
	}
	if provider == nil {
		return nil, ErrAIProviderRequired
	}

	o := &Orchestrator{
		index:       idx,
		registry:    reg,
		embedder:    provider.Embedder(),
		generator:   provider.Generator(),
		defaultTopK: 5,
		maxTopK:     20,
		threshold:   0.3,
		retry:       ai.DefaultRetryPolicy(),
		recorder:    NewRecorder(nil),
		monitor:     &noopMonitor{},
		tracer:      otel.Tracer(tracerName),
		logger:      slog.Default().With("component", "query"),
	}

	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

type answer struct {
	result *core.QueryResult
	err    error
}

// Ask answers req.Question from completed documents.
//
// If ctx is done before the answer is ready, Ask returns ctx.Err() and the
// answer is discarded; provider calls already in flight run to completion.
func (o *Orchestrator) Ask(ctx context.Context, req Request) (*core.QueryResult, error) {
	if err := core.ValidateQuestion(req.Question, o.minQuestion, o.maxQuestion); err != nil {
		return nil, err
	}
	topK, err := o.resolveTopK(req.TopK)
	if err != nil {
		return nil, err
	}
	if o.index.Len() == 0 {
		return nil, core.ErrIndexEmpty
	}
	allowed, err := o.allowedDocuments(req.DocumentIDs)
	if err != nil {
		return nil, err
	}

	done := make(chan answer, 1)
	go func() {
		result, err := o.answer(context.WithoutCancel(ctx), req.Question, topK, allowed)
		done <- answer{result: result, err: err}
	}()

	select {
	case a := <-done:
		return a.result, a.err
	case <-ctx.Done():
		o.logger.Debug("caller gone, discarding answer", "err", ctx.Err())
		return nil, ctx.Err()
	}
}

func (o *Orchestrator) resolveTopK(topK int) (int, error) {
	switch {
	case topK == 0:
		return o.defaultTopK, nil
	case topK < 0 || topK > o.maxTopK:
		return 0, fmt.Errorf("%w: must be between 1 and %d, got %d", core.ErrInvalidTopK, o.maxTopK, topK)
	default:
		return topK, nil
	}
}

// allowedDocuments intersects the completed documents with filter.
// Unknown ids in filter are an error; known but incomplete ids contribute nothing.
func (o *Orchestrator) allowedDocuments(filter []core.DocumentID) (map[core.DocumentID]struct{}, error) {
	completed := o.registry.Completed()
	if len(filter) == 0 {
		return completed, nil
	}

	allowed := make(map[core.DocumentID]struct{}, len(filter))
	for _, id := range filter {
		if _, err := o.registry.Get(id); err != nil {
			return nil, err
		}
		if _, ok := completed[id]; ok {
			allowed[id] = struct{}{}
		}
	}
	return allowed, nil
}

func (o *Orchestrator) answer(ctx context.Context, question string, topK int, allowed map[core.DocumentID]struct{}) (result *core.QueryResult, err error) {
	ctx, span := o.tracer.Start(ctx, "query.ask", trace.WithAttributes(
		attribute.Int("query.top_k", topK),
		attribute.Int("query.allowed_documents", len(allowed)),
		attribute.Int("query.question_length", utf8.RuneCountInString(question)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Int("query.chunks_retrieved", result.Metrics.ChunksRetrieved))
		}
		span.End()
	}()

	o.monitor.Start(question, topK)
	m := o.recorder.Begin()

	var vector []float32
	err = m.Time(StageEmbedding, func() error {
		return ai.Retry(ctx, o.retry, func(ctx context.Context) error {
			v, err := o.embedder.EmbedText(ctx, question)
			if err != nil {
				return err
			}
			vector = ai.NormalizeVector(v)
			return nil
		})
	})
	if err != nil {
		o.logger.Error("error embedding question", "err", err)
		return nil, fmt.Errorf("embedding question: %w", err)
	}

	var hits []index.Hit
	err = m.Time(StageRetrieval, func() error {
		var err error
		hits, err = o.index.Search(vector, topK, allowed)
		return err
	})
	if err != nil {
		if errors.Is(err, core.ErrIndexEmpty) {
			return nil, err
		}
		o.logger.Error("error searching index", "err", err)
		return nil, fmt.Errorf("searching index: %w", err)
	}
	o.monitor.AfterRetrieval(hits)

	kept := aboveThreshold(hits, o.threshold)
	o.monitor.AfterThreshold(kept)

	if len(kept) == 0 {
		o.logger.Debug("no chunk cleared the threshold", "retrieved", len(hits), "threshold", o.threshold)
		result = &core.QueryResult{
			Answer:  core.NoRelevantAnswer,
			Sources: []core.Source{},
			Metrics: m.Finish(nil),
		}
		o.monitor.Finish(result)
		return result, nil
	}

	passages := formatContext(kept)
	var text string
	err = m.Time(StageGeneration, func() error {
		return ai.Retry(ctx, o.retry, func(ctx context.Context) error {
			var err error
			text, err = o.generator.Generate(ctx, question, passages)
			return err
		})
	})
	if err != nil {
		o.logger.Error("error generating answer", "err", err)
		return nil, fmt.Errorf("generating answer: %w", err)
	}
	o.monitor.AfterGeneration(text)

	scores := make([]float32, len(kept))
	for i, hit := range kept {
		scores[i] = hit.Score
	}
	result = &core.QueryResult{
		Answer:  text,
		Sources: toSources(kept),
		Metrics: m.Finish(scores),
	}
	o.monitor.Finish(result)

	o.logger.Info("question answered", "chunks", len(kept), "total_latency", result.Metrics.TotalLatency)
	return result, nil
}
