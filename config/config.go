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


// Package config loads the engine configuration.
//
// A Config is built once at startup: defaults, then an optional YAML or TOML
// file, then RAGQA_* environment variables (optionally seeded from a .env
// file). The result is validated and passed by value to constructors.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/poiesic/ragqa/ai"
	"github.com/poiesic/ragqa/core"
	"gopkg.in/yaml.v3"
)

// ChunkingConfig controls how extracted text is split.
type ChunkingConfig struct {
	Size    int `yaml:"size" toml:"size"`
	Overlap int `yaml:"overlap" toml:"overlap"`
}

// RetrievalConfig controls question validation and context selection.
type RetrievalConfig struct {
	DefaultTopK         int     `yaml:"default_top_k" toml:"default_top_k"`
	MaxTopK             int     `yaml:"max_top_k" toml:"max_top_k"`
	SimilarityThreshold float32 `yaml:"similarity_threshold" toml:"similarity_threshold"`
	MinQuestionLength   int     `yaml:"min_question_length" toml:"min_question_length"`
	MaxQuestionLength   int     `yaml:"max_question_length" toml:"max_question_length"`
}

// ProviderConfig selects the embedding and generation services.
type ProviderConfig struct {
	EmbeddingHost      string  `yaml:"embedding_host" toml:"embedding_host"`
	GenerationHost     string  `yaml:"generation_host" toml:"generation_host"`
	EmbeddingModel     string  `yaml:"embedding_model" toml:"embedding_model"`
	GenerationModel    string  `yaml:"generation_model" toml:"generation_model"`
	APIKey             string  `yaml:"api_key" toml:"api_key"`
	EmbeddingDimension int     `yaml:"embedding_dimension" toml:"embedding_dimension"`
	Temperature        float64 `yaml:"temperature" toml:"temperature"`
	MaxTokens          int     `yaml:"max_tokens" toml:"max_tokens"`
	RequestsPerSecond  float64 `yaml:"requests_per_second" toml:"requests_per_second"`
	Burst              int     `yaml:"burst" toml:"burst"`
	TimeoutSecs        int     `yaml:"timeout_secs" toml:"timeout_secs"`
	MaxAttempts        int     `yaml:"max_attempts" toml:"max_attempts"`
	RetryBaseDelayMS   int     `yaml:"retry_base_delay_ms" toml:"retry_base_delay_ms"`
}

// IngestionConfig sizes the background pipeline.
type IngestionConfig struct {
	Workers            int `yaml:"workers" toml:"workers"`
	EmbeddingBatchSize int `yaml:"embedding_batch_size" toml:"embedding_batch_size"`
	ConcurrentBatches  int `yaml:"concurrent_batches" toml:"concurrent_batches"`
}

// UploadConfig bounds accepted uploads.
type UploadConfig struct {
	MaxFileSizeBytes  int64    `yaml:"max_file_size_bytes" toml:"max_file_size_bytes"`
	AllowedExtensions []string `yaml:"allowed_extensions" toml:"allowed_extensions"`
}

// Config is the complete engine configuration.
type Config struct {
	DataDir   string          `yaml:"data_dir" toml:"data_dir"`
	Chunking  ChunkingConfig  `yaml:"chunking" toml:"chunking"`
	Retrieval RetrievalConfig `yaml:"retrieval" toml:"retrieval"`
	Provider  ProviderConfig  `yaml:"provider" toml:"provider"`
	Ingestion IngestionConfig `yaml:"ingestion" toml:"ingestion"`
	Upload    UploadConfig    `yaml:"upload" toml:"upload"`
}

// Default returns the built-in configuration.
func Default() Config {
	providerDefaults := ai.DefaultConfig()
	retryDefaults := ai.DefaultRetryPolicy()
	return Config{
		DataDir: "data",
		Chunking: ChunkingConfig{
			Size:    512,
			Overlap: 50,
		},
		Retrieval: RetrievalConfig{
			DefaultTopK:         5,
			MaxTopK:             20,
			SimilarityThreshold: 0.3,
			MinQuestionLength:   5,
			MaxQuestionLength:   500,
		},
		Provider: ProviderConfig{
			EmbeddingHost:     providerDefaults.EmbeddingHost,
			GenerationHost:    providerDefaults.GenerationHost,
			EmbeddingModel:    providerDefaults.EmbeddingModel,
			GenerationModel:   providerDefaults.GenerationModel,
			APIKey:            providerDefaults.APIKey,
			Temperature:       providerDefaults.Temperature,
			MaxTokens:         providerDefaults.MaxTokens,
			RequestsPerSecond: providerDefaults.RequestsPerSecond,
			Burst:             providerDefaults.Burst,
			TimeoutSecs:       int(retryDefaults.Timeout / time.Second),
			MaxAttempts:       retryDefaults.MaxAttempts,
			RetryBaseDelayMS:  int(retryDefaults.BaseDelay / time.Millisecond),
		},
		Ingestion: IngestionConfig{
			Workers:            4,
			EmbeddingBatchSize: 32,
			ConcurrentBatches:  2,
		},
		Upload: UploadConfig{
			MaxFileSizeBytes:  10 << 20,
			AllowedExtensions: []string{".pdf", ".txt", ".md", ".html"},
		},
	}
}

// Load reads a configuration file over the defaults. The decoder is chosen
// by extension: .yaml/.yml or .toml. An empty path or a missing file yields
// the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("reading config: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	default:
		return Config{}, core.NewConfigurationError("config_file", "unsupported format %q (use .yaml, .yml or .toml)", ext)
	}
	if err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every field and returns the first problem as a *core.ConfigurationError.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return core.NewConfigurationError("data_dir", "is required")
	}
	if c.Chunking.Size <= 0 {
		return core.NewConfigurationError("chunk_size", "must be positive, got %d", c.Chunking.Size)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return core.NewConfigurationError("chunk_overlap", "must be in [0, %d), got %d", c.Chunking.Size, c.Chunking.Overlap)
	}
	if c.Retrieval.MaxTopK <= 0 {
		return core.NewConfigurationError("max_top_k", "must be positive, got %d", c.Retrieval.MaxTopK)
	}
	if c.Retrieval.DefaultTopK <= 0 || c.Retrieval.DefaultTopK > c.Retrieval.MaxTopK {
		return core.NewConfigurationError("default_top_k", "must be in [1, %d], got %d", c.Retrieval.MaxTopK, c.Retrieval.DefaultTopK)
	}
	if c.Retrieval.SimilarityThreshold < -1 || c.Retrieval.SimilarityThreshold > 1 {
		return core.NewConfigurationError("similarity_threshold", "must be in [-1, 1], got %g", c.Retrieval.SimilarityThreshold)
	}
	if c.Retrieval.MinQuestionLength < 0 || c.Retrieval.MaxQuestionLength < 0 ||
		(c.Retrieval.MaxQuestionLength > 0 && c.Retrieval.MinQuestionLength > c.Retrieval.MaxQuestionLength) {
		return core.NewConfigurationError("question_length", "invalid bounds [%d, %d]", c.Retrieval.MinQuestionLength, c.Retrieval.MaxQuestionLength)
	}
	if c.Provider.EmbeddingDimension < 0 {
		return core.NewConfigurationError("embedding_dimension", "must not be negative, got %d", c.Provider.EmbeddingDimension)
	}
	if c.Provider.TimeoutSecs <= 0 {
		return core.NewConfigurationError("timeout_secs", "must be positive, got %d", c.Provider.TimeoutSecs)
	}
	if c.Provider.MaxAttempts <= 0 {
		return core.NewConfigurationError("max_attempts", "must be positive, got %d", c.Provider.MaxAttempts)
	}
	if c.Provider.RetryBaseDelayMS < 0 {
		return core.NewConfigurationError("retry_base_delay_ms", "must not be negative, got %d", c.Provider.RetryBaseDelayMS)
	}
	if err := c.AIConfig().Validate(); err != nil {
		return err
	}
	if c.Ingestion.Workers <= 0 {
		return core.NewConfigurationError("workers", "must be positive, got %d", c.Ingestion.Workers)
	}
	if c.Ingestion.EmbeddingBatchSize <= 0 {
		return core.NewConfigurationError("embedding_batch_size", "must be positive, got %d", c.Ingestion.EmbeddingBatchSize)
	}
	if c.Ingestion.ConcurrentBatches <= 0 {
		return core.NewConfigurationError("concurrent_batches", "must be positive, got %d", c.Ingestion.ConcurrentBatches)
	}
	if c.Upload.MaxFileSizeBytes <= 0 {
		return core.NewConfigurationError("max_file_size_bytes", "must be positive, got %d", c.Upload.MaxFileSizeBytes)
	}
	if len(c.Upload.AllowedExtensions) == 0 {
		return core.NewConfigurationError("allowed_extensions", "must not be empty")
	}
	for _, ext := range c.Upload.AllowedExtensions {
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
			return core.NewConfigurationError("allowed_extensions", "%q must start with a dot", ext)
		}
	}
	return nil
}

// AIConfig returns the provider settings in the form the ai packages expect.
func (c *Config) AIConfig() *ai.Config {
	return ai.NewConfig(
		ai.WithEmbeddingHost(c.Provider.EmbeddingHost),
		ai.WithGenerationHost(c.Provider.GenerationHost),
		ai.WithEmbeddingModel(c.Provider.EmbeddingModel),
		ai.WithGenerationModel(c.Provider.GenerationModel),
		ai.WithAPIKey(c.Provider.APIKey),
		ai.WithTemperature(c.Provider.Temperature),
		ai.WithMaxTokens(c.Provider.MaxTokens),
		ai.WithRateLimit(c.Provider.RequestsPerSecond, c.Provider.Burst),
	)
}

// RetryPolicy returns the policy for external calls.
func (c *Config) RetryPolicy() ai.RetryPolicy {
	return ai.RetryPolicy{
		MaxAttempts: c.Provider.MaxAttempts,
		BaseDelay:   time.Duration(c.Provider.RetryBaseDelayMS) * time.Millisecond,
		Timeout:     time.Duration(c.Provider.TimeoutSecs) * time.Second,
	}
}

// DatabaseDir is where the badger database lives.
func (c *Config) DatabaseDir() string {
	return filepath.Join(c.DataDir, "db")
}

// UploadDir is where raw uploads are kept for re-ingestion.
func (c *Config) UploadDir() string {
	return filepath.Join(c.DataDir, "uploads")
}

// AllowsExtension reports whether ext (with leading dot) may be uploaded.
func (c *Config) AllowsExtension(ext string) bool {
	ext = strings.ToLower(ext)
	for _, allowed := range c.Upload.AllowedExtensions {
		if strings.ToLower(allowed) == ext {
			return true
		}
	}
	return false
}
