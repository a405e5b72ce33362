package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/poiesic/ragqa/core"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "RAGQA_"

type envBinding struct {
	name  string
	apply func(c *Config, value string) error
}

var envBindings = []envBinding{
	{"DATA_DIR", setString(func(c *Config) *string { return &c.DataDir })},
	{"CHUNK_SIZE", setInt(func(c *Config) *int { return &c.Chunking.Size })},
	{"CHUNK_OVERLAP", setInt(func(c *Config) *int { return &c.Chunking.Overlap })},
	{"TOP_K", setInt(func(c *Config) *int { return &c.Retrieval.DefaultTopK })},
	{"MAX_TOP_K", setInt(func(c *Config) *int { return &c.Retrieval.MaxTopK })},
	{"SIMILARITY_THRESHOLD", func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return err
		}
		c.Retrieval.SimilarityThreshold = float32(f)
		return nil
	}},
	{"HOST", func(c *Config, v string) error {
		c.Provider.EmbeddingHost = v
		c.Provider.GenerationHost = v
		return nil
	}},
	{"EMBEDDING_HOST", setString(func(c *Config) *string { return &c.Provider.EmbeddingHost })},
	{"GENERATION_HOST", setString(func(c *Config) *string { return &c.Provider.GenerationHost })},
	{"EMBEDDING_MODEL", setString(func(c *Config) *string { return &c.Provider.EmbeddingModel })},
	{"GENERATION_MODEL", setString(func(c *Config) *string { return &c.Provider.GenerationModel })},
	{"API_KEY", setString(func(c *Config) *string { return &c.Provider.APIKey })},
	{"EMBEDDING_DIMENSION", setInt(func(c *Config) *int { return &c.Provider.EmbeddingDimension })},
	{"TEMPERATURE", setFloat(func(c *Config) *float64 { return &c.Provider.Temperature })},
	{"MAX_TOKENS", setInt(func(c *Config) *int { return &c.Provider.MaxTokens })},
	{"REQUESTS_PER_SECOND", setFloat(func(c *Config) *float64 { return &c.Provider.RequestsPerSecond })},
	{"BURST", setInt(func(c *Config) *int { return &c.Provider.Burst })},
	{"TIMEOUT_SECS", setInt(func(c *Config) *int { return &c.Provider.TimeoutSecs })},
	{"MAX_ATTEMPTS", setInt(func(c *Config) *int { return &c.Provider.MaxAttempts })},
	{"RETRY_BASE_DELAY_MS", setInt(func(c *Config) *int { return &c.Provider.RetryBaseDelayMS })},
	{"WORKERS", setInt(func(c *Config) *int { return &c.Ingestion.Workers })},
	{"EMBEDDING_BATCH_SIZE", setInt(func(c *Config) *int { return &c.Ingestion.EmbeddingBatchSize })},
	{"MAX_FILE_SIZE", func(c *Config, v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		c.Upload.MaxFileSizeBytes = n
		return nil
	}},
	{"ALLOWED_EXTENSIONS", func(c *Config, v string) error {
		var exts []string
		for _, ext := range strings.Split(v, ",") {
			if ext = strings.TrimSpace(ext); ext != "" {
				exts = append(exts, strings.ToLower(ext))
			}
		}
		c.Upload.AllowedExtensions = exts
		return nil
	}},
}

func setString(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func setInt(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func setFloat(field func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*field(c) = f
		return nil
	}
}

// LoadEnv loads the given .env files into the process environment.
// Missing files are ignored; variables already set are never overwritten.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overlays RAGQA_* variables found by lookup onto c.
// Pass os.LookupEnv for the process environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	for _, b := range envBindings {
		key := EnvPrefix + b.name
		value, ok := lookup(key)
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		if err := b.apply(c, strings.TrimSpace(value)); err != nil {
			return core.NewConfigurationError(strings.ToLower(b.name), "invalid %s=%q: %v", key, value, err)
		}
	}
	return nil
}

// FromEnvironment is the usual startup path: defaults, then the file at
// path (if any), then the process environment, then validation.
func FromEnvironment(path string) (Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
