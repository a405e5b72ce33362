package openai

import (
	"context"
	"log/slog"
	"strings"

	"github.com/poiesic/ragqa/ai"
	"github.com/poiesic/ragqa/core"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// Generator implements ai.Generator using OpenAI-compatible chat APIs.
type Generator struct {
	client      llms.Model
	temperature float64
	maxTokens   int
	limiter     *limiter
	logger      *slog.Logger
}

var _ ai.Generator = (*Generator)(nil)

// newGenerator is an internal constructor that returns the concrete type.
// config must already be validated.
func newGenerator(config *ai.Config, lim *limiter) (*Generator, error) {
	client, err := openai.New(
		openai.WithBaseURL(config.GenerationHost),
		openai.WithToken(config.APIKey),
		openai.WithModel(config.GenerationModel),
	)
	if err != nil {
		return nil, err
	}

	return &Generator{
		client:      client,
		temperature: config.Temperature,
		maxTokens:   config.MaxTokens,
		limiter:     lim,
		logger:      slog.Default().With("component", "openai-generator"),
	}, nil
}

// NewGenerator creates a new answer generator using the provided configuration.
//
// Returns ai.Generator interface to enforce abstraction.
func NewGenerator(config *ai.Config) (ai.Generator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return newGenerator(config, newLimiter(config.RequestsPerSecond, config.Burst))
}

// Generate answers question from the supplied passages.
func (g *Generator) Generate(ctx context.Context, question, passages string) (string, error) {
	content := []llms.MessageContent{
		{
			Role: llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{
				llms.TextPart(systemPrompt),
			},
		},
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.TextPart(buildUserPrompt(question, passages)),
			},
		},
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return "", classify("generation", "wait", err)
	}

	response, err := g.client.GenerateContent(ctx, content,
		llms.WithTemperature(g.temperature),
		llms.WithMaxTokens(g.maxTokens),
	)
	if err != nil {
		if isThrottled(err) {
			g.limiter.recordThrottle()
		}
		g.logger.Error("failed to generate content", "err", err)
		return "", classify("generation", "generate", err)
	}

	if len(response.Choices) < 1 {
		return "", &core.ExternalServiceError{Service: "generation", Op: "generate", Err: errNoChoices}
	}

	answer := strings.TrimSpace(response.Choices[0].Content)
	if answer == "" {
		return "", &core.ExternalServiceError{Service: "generation", Op: "generate", Err: errEmptyAnswer}
	}

	g.logger.Debug("generated answer", "length", len(answer))
	return answer, nil
}
