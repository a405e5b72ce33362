package ingestion

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/ragqa/ai"
	"github.com/poiesic/ragqa/ai/mock"
	"github.com/poiesic/ragqa/chunker"
	"github.com/poiesic/ragqa/core"
	"github.com/poiesic/ragqa/index"
	"github.com/poiesic/ragqa/parser"
	"github.com/poiesic/ragqa/registry"
	"github.com/poiesic/ragqa/storage"
	"github.com/poiesic/ragqa/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	pipeline  *Pipeline
	registry  *registry.Registry
	index     *index.Index
	indexRepo storage.IndexRepository
	snapshots *flakyIndexRepository
	embedder  *mock.MockEmbedder
}

// flakyIndexRepository fails snapshot saves while failSave is set.
type flakyIndexRepository struct {
	storage.IndexRepository
	failSave atomic.Bool
}

func (f *flakyIndexRepository) SaveSnapshot(ctx context.Context, snapshot *storage.IndexSnapshot) error {
	if f.failSave.Load() {
		return errors.New("disk full")
	}
	return f.IndexRepository.SaveSnapshot(ctx, snapshot)
}

func setupPipeline(t *testing.T, dimension int, opts ...Option) *testEnv {
	t.Helper()
	docRepo, indexRepo, backend, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	reg, err := registry.New(docRepo)
	require.NoError(t, err)
	snapshots := &flakyIndexRepository{IndexRepository: indexRepo}
	idx, err := index.New(dimension, snapshots)
	require.NoError(t, err)
	chunks, err := chunker.New(512, 50)
	require.NoError(t, err)
	embedder := mock.NewMockEmbedder()
	embedder.Dimension = 16

	defaults := []Option{
		WithPoolSize(2),
		WithBatchSize(2),
		WithRetryPolicy(ai.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Timeout: time.Second}),
	}
	p, err := NewPipeline(reg, idx, parser.Default(), chunks, embedder, append(defaults, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	return &testEnv{pipeline: p, registry: reg, index: idx, indexRepo: indexRepo, snapshots: snapshots, embedder: embedder}
}

func (e *testEnv) ingest(t *testing.T, filename, content string) core.Document {
	t.Helper()
	doc, err := e.registry.Create(context.Background(), core.Document{
		ID:       core.NewDocumentID(),
		Filename: filename,
	})
	require.NoError(t, err)
	require.NoError(t, e.pipeline.Submit(Job{DocumentID: doc.ID, Filename: filename, Data: []byte(content)}))
	e.wait(t)

	got, err := e.registry.Get(doc.ID)
	require.NoError(t, err)
	return got
}

func (e *testEnv) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, e.pipeline.Wait(ctx))
}

func TestNewPipeline_RequiresCollaborators(t *testing.T) {
	docRepo, indexRepo, backend, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	defer backend.Close()

	reg, _ := registry.New(docRepo)
	idx, _ := index.New(0, indexRepo)
	chunks, _ := chunker.New(10, 2)
	embedder := mock.NewMockEmbedder()
	parsers := parser.Default()

	tests := []struct {
		name string
		make func() (*Pipeline, error)
		want error
	}{
		{"registry", func() (*Pipeline, error) { return NewPipeline(nil, idx, parsers, chunks, embedder) }, ErrRegistryRequired},
		{"index", func() (*Pipeline, error) { return NewPipeline(reg, nil, parsers, chunks, embedder) }, ErrIndexRequired},
		{"parser", func() (*Pipeline, error) { return NewPipeline(reg, idx, nil, chunks, embedder) }, ErrParserRequired},
		{"chunker", func() (*Pipeline, error) { return NewPipeline(reg, idx, parsers, nil, embedder) }, ErrChunkerRequired},
		{"embedder", func() (*Pipeline, error) { return NewPipeline(reg, idx, parsers, chunks, nil) }, ErrEmbedderRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.make()
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err = NewPipeline(reg, idx, parsers, chunks, embedder, WithBatchSize(0))
	assert.Error(t, err)
}

func TestIngest_CompletesWithMatchingCount(t *testing.T) {
	env := setupPipeline(t, 0)

	doc := env.ingest(t, "notes.txt", strings.Repeat("x", 1000))

	assert.Equal(t, core.StateCompleted, doc.State)
	assert.Equal(t, 3, doc.ChunkCount)
	assert.Equal(t, doc.ChunkCount, env.index.CountFor(doc.ID))
	assert.Equal(t, 16, env.index.Dimension())
	// 3 chunks in batches of 2
	assert.Equal(t, 2, env.embedder.CallCount())
}

func TestIngest_IndexIsPersisted(t *testing.T) {
	env := setupPipeline(t, 0)
	doc := env.ingest(t, "notes.md", "# Title\n\nSome body text.")
	require.Equal(t, core.StateCompleted, doc.State)

	restored, err := index.New(0, env.indexRepo)
	require.NoError(t, err)
	require.NoError(t, restored.Load(context.Background()))
	assert.Equal(t, 1, restored.CountFor(doc.ID))
}

func TestIngest_EmbeddingFailureRollsBack(t *testing.T) {
	env := setupPipeline(t, 0)
	var calls atomic.Int32
	env.embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		if calls.Add(1) > 1 {
			return nil, &core.ExternalServiceError{Service: "embedding", Op: "embed", Err: errors.New("status code: 400")}
		}
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = mock.GenerateDeterministicVector(text, 16)
		}
		return out, nil
	}

	doc := env.ingest(t, "long.txt", strings.Repeat("y", 3000))

	assert.Equal(t, core.StateFailed, doc.State)
	assert.Zero(t, doc.ChunkCount)
	assert.Contains(t, doc.ErrorDetail, "external service")
	assert.Zero(t, env.index.CountFor(doc.ID))
	assert.Zero(t, env.index.Len())
}

func TestIngest_DimensionMismatchRollsBack(t *testing.T) {
	env := setupPipeline(t, 8)

	doc := env.ingest(t, "a.txt", "some text that will not fit the index")

	assert.Equal(t, core.StateFailed, doc.State)
	assert.Contains(t, doc.ErrorDetail, "dimension")
	assert.Zero(t, env.index.Len())
}

func TestIngest_TransientFailureIsRetried(t *testing.T) {
	env := setupPipeline(t, 0)
	var calls atomic.Int32
	env.embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		if calls.Add(1) == 1 {
			return nil, &core.ExternalServiceError{Service: "embedding", Op: "embed", Transient: true, Err: errors.New("status code: 503")}
		}
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = mock.GenerateDeterministicVector(text, 16)
		}
		return out, nil
	}

	doc := env.ingest(t, "a.txt", "short document")

	assert.Equal(t, core.StateCompleted, doc.State)
	assert.Equal(t, int32(2), calls.Load())
}

func TestIngest_ParseFailures(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		content  string
		detail   string
	}{
		{"whitespace only", "blank.txt", "   \n\t  ", "no extractable text"},
		{"empty html", "empty.html", "<html><script>var x;</script></html>", "no extractable text"},
		{"unsupported", "sheet.xlsx", "binary", "unsupported file type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupPipeline(t, 0)
			doc := env.ingest(t, tt.filename, tt.content)

			assert.Equal(t, core.StateFailed, doc.State)
			assert.Contains(t, doc.ErrorDetail, tt.detail)
			assert.Zero(t, env.embedder.CallCount(), "parse failures never reach the embedder")
			assert.Zero(t, env.index.Len())
		})
	}
}

func TestIngest_ResubmitSupersedes(t *testing.T) {
	env := setupPipeline(t, 0)
	doc := env.ingest(t, "a.txt", strings.Repeat("z", 1000))
	require.Equal(t, 3, doc.ChunkCount)

	require.NoError(t, env.pipeline.Submit(Job{DocumentID: doc.ID, Filename: "a.txt", Data: []byte("now much shorter")}))
	env.wait(t)

	got, err := env.registry.Get(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateCompleted, got.State)
	assert.Equal(t, 1, got.ChunkCount)
	assert.Equal(t, 1, env.index.CountFor(doc.ID))
	assert.Equal(t, doc.CreatedAt, got.CreatedAt)
}

func TestIngest_ResubmitWithFailingSnapshotIsRecorded(t *testing.T) {
	env := setupPipeline(t, 0)
	doc := env.ingest(t, "a.txt", strings.Repeat("z", 1000))
	require.Equal(t, 3, doc.ChunkCount)

	env.snapshots.failSave.Store(true)
	require.NoError(t, env.pipeline.Submit(Job{DocumentID: doc.ID, Filename: "a.txt", Data: []byte(strings.Repeat("z", 1000))}))
	env.wait(t)

	got, err := env.registry.Get(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StateFailed, got.State)
	assert.Zero(t, got.ChunkCount)
	assert.Contains(t, got.ErrorDetail, "disk full")
	assert.Zero(t, env.index.CountFor(doc.ID))
	_, completed := env.registry.Completed()[doc.ID]
	assert.False(t, completed)
}

func TestIngest_FirstRunWithFailingSnapshotIsRecorded(t *testing.T) {
	env := setupPipeline(t, 0)
	env.snapshots.failSave.Store(true)

	doc := env.ingest(t, "a.txt", "a short document")
	assert.Equal(t, core.StateFailed, doc.State)
	assert.Zero(t, env.index.CountFor(doc.ID))
}

func TestWaitDuringConcurrentSubmits(t *testing.T) {
	env := setupPipeline(t, 0, WithPoolSize(4))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stop := make(chan struct{})
	var waiters sync.WaitGroup
	for i := 0; i < 4; i++ {
		waiters.Add(1)
		go func() {
			defer waiters.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				assert.NoError(t, env.pipeline.Wait(ctx))
			}
		}()
	}

	ids := make([]core.DocumentID, 200)
	for i := range ids {
		doc, err := env.registry.Create(context.Background(), core.Document{ID: core.NewDocumentID(), Filename: "doc.txt"})
		require.NoError(t, err)
		ids[i] = doc.ID
		require.NoError(t, env.pipeline.Submit(Job{DocumentID: doc.ID, Filename: "doc.txt", Data: []byte("some words")}))
	}
	close(stop)
	waiters.Wait()
	env.wait(t)

	for _, id := range ids {
		doc, err := env.registry.Get(id)
		require.NoError(t, err)
		assert.Equal(t, core.StateCompleted, doc.State)
	}
}

func TestWait_ReturnsWhenContextDone(t *testing.T) {
	env := setupPipeline(t, 0)
	release := make(chan struct{})
	env.embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		<-release
		return nil, errors.New("released")
	}
	doc, err := env.registry.Create(context.Background(), core.Document{ID: core.NewDocumentID(), Filename: "a.txt"})
	require.NoError(t, err)
	require.NoError(t, env.pipeline.Submit(Job{DocumentID: doc.ID, Filename: "a.txt", Data: []byte("text")}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, env.pipeline.Wait(ctx), context.DeadlineExceeded)

	close(release)
	env.wait(t)
}

func TestIngest_UnknownDocumentIsSkipped(t *testing.T) {
	env := setupPipeline(t, 0)

	require.NoError(t, env.pipeline.Submit(Job{DocumentID: core.NewDocumentID(), Filename: "a.txt", Data: []byte("text")}))
	env.wait(t)

	assert.Zero(t, env.index.Len())
	assert.Zero(t, env.embedder.CallCount())
}

func TestIngest_ManyDocumentsConcurrently(t *testing.T) {
	env := setupPipeline(t, 0, WithPoolSize(4))
	ctx := context.Background()

	ids := make([]core.DocumentID, 10)
	for i := range ids {
		doc, err := env.registry.Create(ctx, core.Document{ID: core.NewDocumentID(), Filename: "doc.txt"})
		require.NoError(t, err)
		ids[i] = doc.ID
		require.NoError(t, env.pipeline.Submit(Job{
			DocumentID: doc.ID,
			Filename:   "doc.txt",
			Data:       []byte(strings.Repeat("w", 100*(i+1))),
		}))
	}
	env.wait(t)

	total := 0
	for _, id := range ids {
		doc, err := env.registry.Get(id)
		require.NoError(t, err)
		assert.Equal(t, core.StateCompleted, doc.State)
		assert.Equal(t, doc.ChunkCount, env.index.CountFor(id))
		total += doc.ChunkCount
	}
	assert.Equal(t, total, env.index.Len())
}

func TestSubmitAfterClose(t *testing.T) {
	env := setupPipeline(t, 0)
	require.NoError(t, env.pipeline.Close())
	require.NoError(t, env.pipeline.Close())

	err := env.pipeline.Submit(Job{DocumentID: core.NewDocumentID(), Filename: "a.txt"})
	assert.ErrorIs(t, err, ErrPipelineClosed)
}

func TestLockSerializesDocument(t *testing.T) {
	env := setupPipeline(t, 0)
	id := core.NewDocumentID()

	var mu sync.Mutex
	active, maxActive := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := env.pipeline.Lock(id)
			defer unlock()
			mu.Lock()
			active++
			maxActive = max(maxActive, active)
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive)
	assert.Zero(t, env.pipeline.locks.size(), "released locks are forgotten")
}
