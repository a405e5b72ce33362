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


package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/poiesic/ragqa"
	"github.com/poiesic/ragqa/config"
	"github.com/poiesic/ragqa/reembed"
	"github.com/urfave/cli/v2"
)

// engineOptions are appended to every ragqa.Open call. Tests use it to swap the provider.
var engineOptions []ragqa.Option

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "ragqa",
		Usage:   "Ask questions about your documents",
		Version: ragqa.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML or TOML configuration file",
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Aliases: []string{"d"},
				Usage:   "Directory holding the database and uploads (overrides configuration)",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "upload",
				Usage:     "Upload documents and ingest them",
				ArgsUsage: "FILE...",
				Action:    uploadCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "no-wait",
						Usage: "Return as soon as the documents are queued",
					},
				},
			},
			{
				Name:      "status",
				Usage:     "Show the processing status of a document",
				ArgsUsage: "ID",
				Action:    statusCommand,
			},
			{
				Name:   "list",
				Usage:  "List uploaded documents, newest first",
				Action: listCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "state",
						Usage: "Only show documents in this state (pending, processing, completed, failed)",
					},
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete a document and its indexed chunks",
				ArgsUsage: "ID",
				Action:    deleteCommand,
			},
			{
				Name:      "reingest",
				Usage:     "Ingest a finished document again from its stored upload",
				ArgsUsage: "ID",
				Action:    reingestCommand,
			},
			{
				Name:   "reembed",
				Usage:  "Re-ingest every finished document with the configured embedding model",
				Action: reembedCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of documents to resubmit before waiting",
						Value: reembed.DefaultBatchSize,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N documents",
						Value: 1,
					},
					&cli.BoolFlag{
						Name:  "include-failed",
						Usage: "Also retry documents whose ingestion failed",
					},
				},
			},
			{
				Name:      "ask",
				Usage:     "Ask a question about the completed documents",
				ArgsUsage: "QUESTION",
				Action:    askCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "top-k",
						Aliases: []string{"k"},
						Usage:   "Number of chunks to retrieve (0 uses the configured default)",
					},
					&cli.StringSliceFlag{
						Name:  "doc",
						Usage: "Restrict retrieval to this document id (repeatable)",
					},
					&cli.BoolFlag{
						Name:    "verbose",
						Aliases: []string{"v"},
						Usage:   "Show sources and timing metrics",
					},
					&cli.BoolFlag{
						Name:  "render",
						Usage: "Render the answer as markdown",
					},
				},
			},
			{
				Name:   "health",
				Usage:  "Report engine health",
				Action: healthCommand,
			},
		},
	}
}

// loadConfig builds the configuration from the --config file, .env and RAGQA_* variables.
func loadConfig(c *cli.Context) (config.Config, error) {
	if err := config.LoadEnv(); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.FromEnvironment(c.String("config"))
	if err != nil {
		return config.Config{}, err
	}
	if dir := c.String("data-dir"); dir != "" {
		cfg.DataDir = dir
	}
	return cfg, nil
}

// withEngine opens the engine for the duration of fn.
func withEngine(c *cli.Context, fn func(ctx context.Context, e *ragqa.Engine, cfg config.Config) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx := c.Context
	if ctx == nil {
		ctx = context.Background()
	}
	e, err := ragqa.Open(ctx, cfg, engineOptions...)
	if err != nil {
		return fmt.Errorf("failed to open engine: %w", err)
	}
	defer func() {
		if err := e.Close(); err != nil {
			slog.Error("error closing engine", "err", err)
		}
	}()

	return fn(ctx, e, cfg)
}

func setupLogger(c *cli.Context) error {
	// Get log level from flag and normalize to lowercase
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
