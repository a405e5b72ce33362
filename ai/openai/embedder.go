package openai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/ragqa/ai"
	"github.com/poiesic/ragqa/core"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// Embedder implements ai.Embedder using OpenAI-compatible embedding APIs.
type Embedder struct {
	embedder embeddings.Embedder
	limiter  *limiter
	logger   *slog.Logger
}

var _ ai.Embedder = (*Embedder)(nil)

// newEmbedder is an internal constructor that returns the concrete type.
// config must already be validated.
func newEmbedder(config *ai.Config, lim *limiter) (*Embedder, error) {
	client, err := openai.New(
		openai.WithBaseURL(config.EmbeddingHost),
		openai.WithToken(config.APIKey),
		openai.WithEmbeddingModel(config.EmbeddingModel),
	)
	if err != nil {
		return nil, err
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, err
	}

	return &Embedder{
		embedder: embedder,
		limiter:  lim,
		logger:   slog.Default().With("component", "openai-embedder"),
	}, nil
}

// NewEmbedder creates a new embedder using the provided configuration.
//
// Returns ai.Embedder interface to enforce abstraction.
func NewEmbedder(config *ai.Config) (ai.Embedder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return newEmbedder(config, newLimiter(config.RequestsPerSecond, config.Burst))
}

// EmbedText generates a vector embedding for a single text string.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	e.logger.Debug("generating embedding for single text", "length", len(text))

	vectors, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedTexts generates vector embeddings for multiple text strings in a batch.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	e.logger.Debug("generating embeddings for texts", "count", len(texts))

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, classify("embedding", "wait", err)
	}

	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		if isThrottled(err) {
			e.limiter.recordThrottle()
		}
		e.logger.Error("failed to generate embeddings", "count", len(texts), "err", err)
		return nil, classify("embedding", "embed", err)
	}

	if len(vectors) != len(texts) {
		return nil, &core.ExternalServiceError{
			Service: "embedding",
			Op:      "embed",
			Err:     fmt.Errorf("%w: got %d for %d", errCountMismatch, len(vectors), len(texts)),
		}
	}
	return vectors, nil
}
