package query

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/ragqa/ai"
	"github.com/poiesic/ragqa/ai/mock"
	"github.com/poiesic/ragqa/core"
	"github.com/poiesic/ragqa/index"
	"github.com/poiesic/ragqa/registry"
	"github.com/poiesic/ragqa/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type testEnv struct {
	registry  *registry.Registry
	index     *index.Index
	embedder  *mock.MockEmbedder
	generator *mock.MockGenerator
	provider  *mock.MockProvider
}

// setupEnv builds an empty index whose question vector is fixed to question.
func setupEnv(t *testing.T, question []float32) *testEnv {
	t.Helper()
	docRepo, indexRepo, backend, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	reg, err := registry.New(docRepo)
	require.NoError(t, err)
	idx, err := index.New(0, indexRepo)
	require.NoError(t, err)

	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		return append([]float32(nil), question...), nil
	}
	generator := mock.NewMockGenerator()

	return &testEnv{
		registry:  reg,
		index:     idx,
		embedder:  embedder,
		generator: generator,
		provider:  mock.NewMockProviderWithServices(embedder, generator),
	}
}

func (e *testEnv) orchestrator(t *testing.T, opts ...Option) *Orchestrator {
	t.Helper()
	defaults := []Option{
		WithRetryPolicy(ai.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}),
	}
	o, err := New(e.index, e.registry, e.provider, append(defaults, opts...)...)
	require.NoError(t, err)
	return o
}

// addDocument registers a document, indexes one chunk per vector and, when
// complete is set, marks it Completed.
func (e *testEnv) addDocument(t *testing.T, filename string, complete bool, vectors ...[]float32) core.DocumentID {
	t.Helper()
	ctx := context.Background()
	doc, err := e.registry.Create(ctx, core.Document{ID: core.NewDocumentID(), Filename: filename})
	require.NoError(t, err)
	_, err = e.registry.Begin(ctx, doc.ID)
	require.NoError(t, err)

	inputs := make([]index.Input, len(vectors))
	for i, v := range vectors {
		inputs[i] = index.Input{ChunkIndex: i, Text: filename + " chunk", Vector: v}
	}
	_, err = e.index.Add(doc.ID, filename, inputs)
	require.NoError(t, err)

	if complete {
		_, err = e.registry.Complete(ctx, doc.ID, len(vectors))
		require.NoError(t, err)
	}
	return doc.ID
}

type recordingMonitor struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingMonitor) add(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingMonitor) Start(_ string, _ int)        { r.add("start") }
func (r *recordingMonitor) AfterRetrieval(_ []index.Hit) { r.add("retrieval") }
func (r *recordingMonitor) AfterThreshold(_ []index.Hit) { r.add("threshold") }
func (r *recordingMonitor) AfterGeneration(_ string)     { r.add("generation") }
func (r *recordingMonitor) Finish(_ *core.QueryResult)   { r.add("finish") }

// attributeTracer keeps the start attributes of every span.
type attributeTracer struct {
	trace.Tracer
	mu    sync.Mutex
	attrs map[attribute.Key]attribute.Value
}

func newAttributeTracer() *attributeTracer {
	return &attributeTracer{
		Tracer: noop.NewTracerProvider().Tracer("test"),
		attrs:  make(map[attribute.Key]attribute.Value),
	}
}

func (a *attributeTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	cfg := trace.NewSpanStartConfig(opts...)
	a.mu.Lock()
	for _, kv := range cfg.Attributes() {
		a.attrs[kv.Key] = kv.Value
	}
	a.mu.Unlock()
	return a.Tracer.Start(ctx, name, opts...)
}

type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func TestNew(t *testing.T) {
	env := setupEnv(t, []float32{1, 0})

	t.Run("valid configuration", func(t *testing.T) {
		o, err := New(env.index, env.registry, env.provider, WithLogger(slog.Default()))
		require.NoError(t, err)
		assert.NotNil(t, o)
	})

	t.Run("with nil logger falls back to default", func(t *testing.T) {
		_, err := New(env.index, env.registry, env.provider, WithLogger(nil))
		require.NoError(t, err)
	})

	t.Run("nil index", func(t *testing.T) {
		_, err := New(nil, env.registry, env.provider)
		assert.Equal(t, ErrIndexRequired, err)
	})

	t.Run("nil registry", func(t *testing.T) {
		_, err := New(env.index, nil, env.provider)
		assert.Equal(t, ErrRegistryRequired, err)
	})

	t.Run("nil provider", func(t *testing.T) {
		_, err := New(env.index, env.registry, nil)
		assert.Equal(t, ErrAIProviderRequired, err)
	})

	t.Run("default top_k above max", func(t *testing.T) {
		_, err := New(env.index, env.registry, env.provider, WithTopK(10, 5))
		assert.ErrorIs(t, err, core.ErrConfiguration)
	})
}

func TestAsk_IndexEmpty(t *testing.T) {
	env := setupEnv(t, []float32{1, 0})
	o := env.orchestrator(t)

	_, err := o.Ask(context.Background(), Request{Question: "what is in here?"})
	assert.ErrorIs(t, err, core.ErrIndexEmpty)
	assert.Zero(t, env.embedder.CallCount())
}

func TestAsk_Validation(t *testing.T) {
	env := setupEnv(t, []float32{1, 0})
	env.addDocument(t, "a.txt", true, []float32{1, 0})
	o := env.orchestrator(t, WithQuestionLength(5, 50))
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"blank question", Request{Question: "   "}, core.ErrEmptyQuestion},
		{"too short", Request{Question: "why"}, core.ErrInvalidQuestion},
		{"negative top_k", Request{Question: "what happened?", TopK: -1}, core.ErrInvalidTopK},
		{"top_k above max", Request{Question: "what happened?", TopK: 21}, core.ErrInvalidTopK},
		{"unknown filter id", Request{Question: "what happened?", DocumentIDs: []core.DocumentID{core.NewDocumentID()}}, core.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Ask(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Zero(t, env.generator.CallCount())
}

func TestAsk_AnswersFromRelevantChunks(t *testing.T) {
	env := setupEnv(t, []float32{1, 0})
	a := env.addDocument(t, "a.txt", true, []float32{1, 0})
	env.addDocument(t, "b.txt", true, []float32{0, 1})
	o := env.orchestrator(t)

	result, err := o.Ask(context.Background(), Request{Question: "tell me about a"})
	require.NoError(t, err)

	assert.True(t, result.Relevant())
	assert.Equal(t, `Answer to "tell me about a" from 1 sources.`, result.Answer)
	require.Len(t, result.Sources, 1)
	assert.Equal(t, a, result.Sources[0].DocumentID)
	assert.Equal(t, "a.txt", result.Sources[0].Filename)
	assert.InDelta(t, 1.0, result.Sources[0].Score, 1e-6)
	assert.Equal(t, "[Source 1: a.txt, chunk 1]\na.txt chunk", env.generator.LastPassages())
	assert.Equal(t, 1, result.Metrics.ChunksRetrieved)
}

func TestAsk_ContextOrderMatchesSources(t *testing.T) {
	env := setupEnv(t, []float32{1, 0})
	env.addDocument(t, "low.txt", true, []float32{0.6, 0.8})
	env.addDocument(t, "high.txt", true, []float32{1, 0}, []float32{0.8, 0.6})
	o := env.orchestrator(t)

	result, err := o.Ask(context.Background(), Request{Question: "order please"})
	require.NoError(t, err)

	require.Len(t, result.Sources, 3)
	assert.Equal(t, "high.txt", result.Sources[0].Filename)
	assert.Equal(t, 0, result.Sources[0].ChunkIndex)
	assert.Equal(t, "high.txt", result.Sources[1].Filename)
	assert.Equal(t, 1, result.Sources[1].ChunkIndex)
	assert.Equal(t, "low.txt", result.Sources[2].Filename)

	want := "[Source 1: high.txt, chunk 1]\nhigh.txt chunk\n\n" +
		"[Source 2: high.txt, chunk 2]\nhigh.txt chunk\n\n" +
		"[Source 3: low.txt, chunk 1]\nlow.txt chunk"
	assert.Equal(t, want, env.generator.LastPassages())
}

func TestAsk_DocumentFilterIsolation(t *testing.T) {
	env := setupEnv(t, []float32{1, 0})
	env.addDocument(t, "a.txt", true, []float32{1, 0})
	b := env.addDocument(t, "b.txt", true, []float32{0.6, 0.8})
	o := env.orchestrator(t)

	result, err := o.Ask(context.Background(), Request{Question: "only from b", TopK: 1, DocumentIDs: []core.DocumentID{b}})
	require.NoError(t, err)

	require.Len(t, result.Sources, 1)
	assert.Equal(t, b, result.Sources[0].DocumentID, "a filtered-out document cannot displace an allowed one")
}

func TestAsk_IncompleteDocumentsAreNotRetrievable(t *testing.T) {
	env := setupEnv(t, []float32{1, 0})
	env.addDocument(t, "done.txt", true, []float32{0, 1})
	processing := env.addDocument(t, "busy.txt", false, []float32{1, 0})
	o := env.orchestrator(t, WithThreshold(-1))
	ctx := context.Background()

	result, err := o.Ask(ctx, Request{Question: "anything at all"})
	require.NoError(t, err)
	for _, s := range result.Sources {
		assert.NotEqual(t, processing, s.DocumentID)
	}

	result, err = o.Ask(ctx, Request{Question: "anything at all", DocumentIDs: []core.DocumentID{processing}})
	require.NoError(t, err)
	assert.Equal(t, core.NoRelevantAnswer, result.Answer)
	assert.Empty(t, result.Sources)
}

func TestAsk_ThresholdMiss(t *testing.T) {
	env := setupEnv(t, []float32{-1, 0})
	env.addDocument(t, "a.txt", true, []float32{1, 0})
	env.addDocument(t, "b.txt", true, []float32{0, 1})
	o := env.orchestrator(t)

	result, err := o.Ask(context.Background(), Request{Question: "unrelated question"})
	require.NoError(t, err)

	assert.Equal(t, core.NoRelevantAnswer, result.Answer)
	assert.False(t, result.Relevant())
	assert.NotNil(t, result.Sources)
	assert.Empty(t, result.Sources)
	assert.Zero(t, result.Metrics.ChunksRetrieved)
	assert.Nil(t, result.Metrics.AvgSimilarity)
	assert.Nil(t, result.Metrics.MaxSimilarity)
	assert.Nil(t, result.Metrics.MinSimilarity)
	assert.Zero(t, env.generator.CallCount(), "the generator is not called on a miss")
}

func TestAsk_ThresholdIsInclusive(t *testing.T) {
	env := setupEnv(t, []float32{1, 0})
	env.addDocument(t, "a.txt", true, []float32{1, 0})
	o := env.orchestrator(t, WithThreshold(1))

	result, err := o.Ask(context.Background(), Request{Question: "exact match"})
	require.NoError(t, err)
	assert.Len(t, result.Sources, 1)
}

func TestAsk_Metrics(t *testing.T) {
	env := setupEnv(t, []float32{1, 0})
	env.addDocument(t, "a.txt", true, []float32{1, 0}, []float32{0.6, 0.8})
	clock := &stepClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), step: 10 * time.Millisecond}
	o := env.orchestrator(t, WithClock(clock.Now), WithThreshold(0.5))

	result, err := o.Ask(context.Background(), Request{Question: "how fast is this"})
	require.NoError(t, err)

	m := result.Metrics
	assert.Equal(t, 10*time.Millisecond, m.EmbeddingLatency)
	assert.Equal(t, 10*time.Millisecond, m.RetrievalLatency)
	assert.Equal(t, 10*time.Millisecond, m.GenerationLatency)
	assert.Equal(t, 30*time.Millisecond, m.TotalLatency)
	assert.Equal(t, 2, m.ChunksRetrieved)
	require.NotNil(t, m.AvgSimilarity)
	assert.InDelta(t, 0.8, *m.AvgSimilarity, 1e-6)
	assert.InDelta(t, 1.0, *m.MaxSimilarity, 1e-6)
	assert.InDelta(t, 0.6, *m.MinSimilarity, 1e-6)
	assert.False(t, m.Timestamp.IsZero())
}

func TestAsk_ConcurrentDeterminism(t *testing.T) {
	env := setupEnv(t, []float32{1, 0})
	env.addDocument(t, "a.txt", true, []float32{1, 0}, []float32{0.8, 0.6})
	env.addDocument(t, "b.txt", true, []float32{0.8, 0.6}, []float32{0.6, 0.8})
	o := env.orchestrator(t)

	baseline, err := o.Ask(context.Background(), Request{Question: "same every time"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]*core.QueryResult, 20)
	errs := make([]error, 20)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = o.Ask(context.Background(), Request{Question: "same every time"})
		}(i)
	}
	wg.Wait()

	for i, r := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, baseline.Answer, r.Answer)
		assert.Equal(t, baseline.Sources, r.Sources)
	}
}

func TestAsk_CallerGoneDiscardsResult(t *testing.T) {
	env := setupEnv(t, []float32{1, 0})
	env.addDocument(t, "a.txt", true, []float32{1, 0})

	release := make(chan struct{})
	finished := make(chan struct{})
	env.generator.GenerateFunc = func(ctx context.Context, question, passages string) (string, error) {
		defer close(finished)
		<-release
		return "late answer", ctx.Err()
	}
	o := env.orchestrator(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	result, err := o.Ask(ctx, Request{Question: "slow question"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, result)

	close(release)
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("in-flight generation did not complete")
	}
	assert.Equal(t, 1, env.generator.CallCount(), "in-flight call is not cancelled or retried")
}

func TestAsk_RetriesTransientFailures(t *testing.T) {
	env := setupEnv(t, []float32{1, 0})
	env.addDocument(t, "a.txt", true, []float32{1, 0})
	calls := 0
	env.generator.GenerateFunc = func(ctx context.Context, question, passages string) (string, error) {
		calls++
		if calls == 1 {
			return "", &core.ExternalServiceError{Service: "generation", Op: "generate", Transient: true, Err: errors.New("status code: 503")}
		}
		return "recovered", nil
	}
	o := env.orchestrator(t)

	result, err := o.Ask(context.Background(), Request{Question: "try again"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", result.Answer)
	assert.Equal(t, 2, calls)
}

func TestAsk_PermanentFailurePropagates(t *testing.T) {
	env := setupEnv(t, []float32{1, 0})
	env.addDocument(t, "a.txt", true, []float32{1, 0})
	env.embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		return nil, &core.ExternalServiceError{Service: "embedding", Op: "embed", Err: errors.New("status code: 401")}
	}
	o := env.orchestrator(t)

	_, err := o.Ask(context.Background(), Request{Question: "who am i"})
	assert.ErrorIs(t, err, core.ErrExternalService)
	assert.Equal(t, 1, env.embedder.CallCount())
}

func TestAsk_MonitorSeesEveryStage(t *testing.T) {
	env := setupEnv(t, []float32{1, 0})
	env.addDocument(t, "a.txt", true, []float32{1, 0})
	monitor := &recordingMonitor{}
	o := env.orchestrator(t, WithMonitor(monitor))

	_, err := o.Ask(context.Background(), Request{Question: "watch this"})
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "retrieval", "threshold", "generation", "finish"}, monitor.events)
}

func TestAsk_SpanCountsQuestionInRunes(t *testing.T) {
	env := setupEnv(t, []float32{1, 0})
	env.addDocument(t, "a.txt", true, []float32{1, 0})
	tracer := newAttributeTracer()
	o := env.orchestrator(t, WithTracer(tracer))

	question := "¿Qué es la luz?"
	_, err := o.Ask(context.Background(), Request{Question: question})
	require.NoError(t, err)

	tracer.mu.Lock()
	defer tracer.mu.Unlock()
	assert.Equal(t, int64(15), tracer.attrs["query.question_length"].AsInt64())
	assert.Equal(t, int64(5), tracer.attrs["query.top_k"].AsInt64())
}
